package guard

import (
	"fmt"
	"net/netip"
	"strings"
)

// IPAllowlist checks client IPs against CIDR ranges using address
// arithmetic, never string prefixes.
type IPAllowlist struct {
	prefixes []netip.Prefix
}

// NewIPAllowlist parses the CIDR ranges. Bare addresses are treated as
// single-address ranges.
func NewIPAllowlist(cidrs []string) (*IPAllowlist, error) {
	prefixes := make([]netip.Prefix, 0, len(cidrs))
	for _, cidr := range cidrs {
		cidr = strings.TrimSpace(cidr)
		if cidr == "" {
			continue
		}

		if !strings.Contains(cidr, "/") {
			addr, err := netip.ParseAddr(cidr)
			if err != nil {
				return nil, fmt.Errorf("invalid allowlist address %q: %w", cidr, err)
			}
			prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}

		prefix, err := netip.ParsePrefix(cidr)
		if err != nil {
			return nil, fmt.Errorf("invalid allowlist range %q: %w", cidr, err)
		}
		prefixes = append(prefixes, prefix.Masked())
	}

	return &IPAllowlist{prefixes: prefixes}, nil
}

// Empty reports whether the allowlist has no ranges.
func (a *IPAllowlist) Empty() bool {
	return a == nil || len(a.prefixes) == 0
}

// Contains reports whether the IP falls inside any configured range.
// Unparseable IPs are rejected.
func (a *IPAllowlist) Contains(ip string) bool {
	if a.Empty() {
		return true
	}

	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return false
	}
	addr = addr.Unmap()

	for _, prefix := range a.prefixes {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// UserAgentAllowlist checks user agents against allowed substrings.
type UserAgentAllowlist struct {
	patterns []string
}

// NewUserAgentAllowlist creates a user agent allowlist.
func NewUserAgentAllowlist(patterns []string) *UserAgentAllowlist {
	kept := make([]string, 0, len(patterns))
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p != "" {
			kept = append(kept, strings.ToLower(p))
		}
	}
	return &UserAgentAllowlist{patterns: kept}
}

// Empty reports whether the allowlist has no patterns.
func (a *UserAgentAllowlist) Empty() bool {
	return a == nil || len(a.patterns) == 0
}

// Matches reports whether the user agent contains any allowed substring.
func (a *UserAgentAllowlist) Matches(userAgent string) bool {
	if a.Empty() {
		return true
	}

	ua := strings.ToLower(userAgent)
	for _, p := range a.patterns {
		if strings.Contains(ua, p) {
			return true
		}
	}
	return false
}
