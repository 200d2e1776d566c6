package clientip

import "net/netip"

// Allowlist is an ordered set of permitted client networks. An empty
// Allowlist permits every address.
type Allowlist struct {
	prefixes []netip.Prefix
}

// NewAllowlist returns an Allowlist for the given networks.
func NewAllowlist(prefixes []netip.Prefix) *Allowlist {
	return &Allowlist{prefixes: normalizePrefixes(prefixes)}
}

// IsAllowed reports whether ip falls inside a configured network. The first
// match wins. With no networks configured every address, including the zero
// Addr, is allowed; otherwise an invalid address is rejected.
func (a *Allowlist) IsAllowed(ip netip.Addr) bool {
	if a == nil || len(a.prefixes) == 0 {
		return true
	}
	if !ip.IsValid() {
		return false
	}
	ip = normalizeAddr(ip)
	for _, p := range a.prefixes {
		if p.Contains(ip) {
			return true
		}
	}
	return false
}

// Len returns the number of configured networks.
func (a *Allowlist) Len() int {
	if a == nil {
		return 0
	}
	return len(a.prefixes)
}
