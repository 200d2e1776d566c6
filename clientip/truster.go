// Package clientip determines which address a request really came from.
//
// Resolution is always two-step: the direct TCP peer is checked against the
// configured trusted proxy networks first, and only a trusted peer gets its
// forwarded-for header consulted. A peer outside those networks is the client
// as far as this package is concerned, whatever headers it sends.
//
// Example:
//
//	truster := clientip.NewTruster([]netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")})
//	resolver := clientip.NewResolver(truster, clientip.DefaultForwardedForHeader)
//	id := resolver.Resolve(r)
//	if !clientip.NewAllowlist(allowed).IsAllowed(id.IP) {
//		// 403
//	}
package clientip

import (
	"net/http"
	"net/netip"
	"strings"
)

// DefaultTrustedProxies is used when no trusted proxy networks are configured:
// only loopback peers may supply forwarded headers.
var DefaultTrustedProxies = []netip.Prefix{
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("::1/128"),
}

// Truster decides whether the direct peer of a connection is a proxy whose
// forwarded headers may be believed. It is immutable and safe for concurrent use.
type Truster struct {
	prefixes []netip.Prefix
}

// NewTruster returns a Truster for the given networks. Prefixes are masked and
// IPv4-mapped IPv6 prefixes are converted to their IPv4 form.
func NewTruster(prefixes []netip.Prefix) *Truster {
	return &Truster{prefixes: normalizePrefixes(prefixes)}
}

// IsTrustedProxy reports whether remote lies inside any trusted network.
// An invalid address is never trusted.
func (t *Truster) IsTrustedProxy(remote netip.Addr) bool {
	if t == nil || !remote.IsValid() {
		return false
	}
	remote = normalizeAddr(remote)
	for _, p := range t.prefixes {
		if p.Contains(remote) {
			return true
		}
	}
	return false
}

// Prefixes returns a copy of the trusted networks.
func (t *Truster) Prefixes() []netip.Prefix {
	if t == nil {
		return nil
	}
	return append([]netip.Prefix(nil), t.prefixes...)
}

// PeerAddr parses the physical peer address from r.RemoteAddr. It accepts
// "host:port", "[v6]:port" and bare hosts, and returns the zero Addr when
// nothing parses.
func PeerAddr(r *http.Request) netip.Addr {
	if r == nil {
		return netip.Addr{}
	}
	return parseHost(r.RemoteAddr)
}

// parseHost parses an address that may carry a port or IPv6 brackets.
func parseHost(s string) netip.Addr {
	s = strings.TrimSpace(s)
	if s == "" {
		return netip.Addr{}
	}
	if ap, err := netip.ParseAddrPort(s); err == nil {
		return normalizeAddr(ap.Addr())
	}
	s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
	if a, err := netip.ParseAddr(s); err == nil {
		return normalizeAddr(a)
	}
	return netip.Addr{}
}

func normalizeAddr(a netip.Addr) netip.Addr {
	return a.Unmap().WithZone("")
}

func normalizePrefixes(in []netip.Prefix) []netip.Prefix {
	out := make([]netip.Prefix, 0, len(in))
	for _, p := range in {
		if !p.IsValid() {
			continue
		}
		if addr := p.Addr(); addr.Is4In6() && p.Bits() >= 96 {
			p = netip.PrefixFrom(addr.Unmap(), p.Bits()-96)
		}
		out = append(out, p.Masked())
	}
	return out
}
