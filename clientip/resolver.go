package clientip

import (
	"context"
	"net/http"
	"net/netip"
	"strings"
)

// DefaultForwardedForHeader carries the forwarded-for chain "client, proxy1, proxy2".
const DefaultForwardedForHeader = "X-Forwarded-For"

// Source records where a resolved address came from.
type Source int

const (
	// SourceDirectConnection means the address is the physical TCP peer.
	SourceDirectConnection Source = iota
	// SourceForwardedHeader means the address was taken from the forwarded-for chain.
	SourceForwardedHeader
)

func (s Source) String() string {
	switch s {
	case SourceForwardedHeader:
		return "forwarded_header"
	default:
		return "direct_connection"
	}
}

// Identity is the resolved origin of a single request.
//
// Trusted is true only when the direct peer was a trusted proxy, i.e. when the
// forwarded header was eligible to be read. IP is the zero Addr when the peer
// address itself could not be parsed.
type Identity struct {
	IP      netip.Addr
	Source  Source
	Trusted bool
}

// String returns the textual address, or "" for an unresolved identity.
func (id Identity) String() string {
	if !id.IP.IsValid() {
		return ""
	}
	return id.IP.String()
}

// Resolver extracts the client address of a request. It is immutable and
// safe for concurrent use.
type Resolver struct {
	truster *Truster
	header  string
}

// NewResolver returns a Resolver reading the given forwarded-for header.
// An empty header name selects DefaultForwardedForHeader.
func NewResolver(truster *Truster, header string) *Resolver {
	if header == "" {
		header = DefaultForwardedForHeader
	}
	return &Resolver{truster: truster, header: header}
}

// Header returns the forwarded-for header name this resolver reads.
func (res *Resolver) Header() string { return res.header }

// Resolve returns the client identity for r.
//
// The peer is checked against the truster before any header is looked at.
// For a trusted peer the left-most entry of the forwarded-for chain wins;
// repeated headers are treated as one comma-joined list. Blank or unparsable
// entries fall back to the peer address.
func (res *Resolver) Resolve(r *http.Request) Identity {
	peer := PeerAddr(r)
	if !res.truster.IsTrustedProxy(peer) {
		return Identity{IP: peer, Source: SourceDirectConnection}
	}
	if ip, ok := res.forwardedFor(r); ok {
		return Identity{IP: ip, Source: SourceForwardedHeader, Trusted: true}
	}
	return Identity{IP: peer, Source: SourceDirectConnection, Trusted: true}
}

func (res *Resolver) forwardedFor(r *http.Request) (netip.Addr, bool) {
	values := r.Header.Values(res.header)
	if len(values) == 0 {
		return netip.Addr{}, false
	}
	first, _, _ := strings.Cut(strings.Join(values, ","), ",")
	ip := parseHost(first)
	return ip, ip.IsValid()
}

type identityKey struct{}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the identity stored by WithIdentity, if any.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}
