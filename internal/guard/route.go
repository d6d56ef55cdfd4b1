// Package guard orchestrates the per-request protection pipeline: rate
// limiting, allowlists, CSRF, session validation, lockout, and RBAC.
package guard

import (
	"fmt"
	"sort"
	"strings"

	"github.com/routeguard/routeguard/internal/authz"
)

// RouteConfig is the protection configuration of a route.
type RouteConfig struct {
	// Path is the route path. A trailing "/*" marks a wildcard prefix.
	Path string `yaml:"path"`

	// SecurityLevel is the minimum level required to access the route.
	SecurityLevel authz.Level `yaml:"securityLevel"`

	// RateLimitCategory selects the rate limiter. Empty disables rate
	// limiting for the route.
	RateLimitCategory string `yaml:"rateLimitCategory"`

	// CSRFRequired enables CSRF validation for state-changing methods.
	CSRFRequired bool `yaml:"csrfRequired"`

	// AllowedIPs restricts the route to the given CIDR ranges.
	AllowedIPs []string `yaml:"allowedIPs"`

	// AllowedUserAgents restricts the route to user agents containing one
	// of the given substrings.
	AllowedUserAgents []string `yaml:"allowedUserAgents"`

	// CustomValidator is an optional CEL expression evaluated last.
	CustomValidator string `yaml:"customValidator"`
}

// DefaultAPIPrefix marks paths that default to authenticated when no route
// matches.
const DefaultAPIPrefix = "/api/"

// wildcardSuffix marks a wildcard prefix route.
const wildcardSuffix = "/*"

// Route is a compiled route with its allowlists parsed.
type Route struct {
	Config *RouteConfig

	prefix     string
	wildcard   bool
	ips        *IPAllowlist
	userAgents *UserAgentAllowlist
}

// AllowsIP reports whether the client IP passes the route allowlist.
func (r *Route) AllowsIP(ip string) bool {
	return r.ips.Contains(ip)
}

// AllowsUserAgent reports whether the user agent passes the route allowlist.
func (r *Route) AllowsUserAgent(userAgent string) bool {
	return r.userAgents.Matches(userAgent)
}

// Matcher resolves the protection configuration of a request path.
type Matcher struct {
	exact     map[string]*Route
	wildcards []*Route

	apiPrefix     string
	defaultAPI    *Route
	defaultPublic *Route
}

// MatcherOption is a functional option for the matcher.
type MatcherOption func(*Matcher)

// WithAPIPrefix overrides the prefix that defaults to authenticated.
func WithAPIPrefix(prefix string) MatcherOption {
	return func(m *Matcher) {
		m.apiPrefix = prefix
	}
}

// NewMatcher compiles the route table. Wildcard routes are ordered by
// descending prefix length so the longest prefix wins. Allowlists are
// parsed here so a bad CIDR fails at configuration load, not per request.
func NewMatcher(routes []RouteConfig, opts ...MatcherOption) (*Matcher, error) {
	m := &Matcher{
		exact:     make(map[string]*Route),
		apiPrefix: DefaultAPIPrefix,
		defaultAPI: &Route{
			Config: &RouteConfig{SecurityLevel: authz.LevelAuthenticated},
		},
		defaultPublic: &Route{
			Config: &RouteConfig{SecurityLevel: authz.LevelPublic},
		},
	}

	for _, opt := range opts {
		opt(m)
	}

	for i := range routes {
		config := routes[i]
		if config.Path == "" {
			return nil, fmt.Errorf("route %d: empty path", i)
		}
		if !strings.HasPrefix(config.Path, "/") {
			return nil, fmt.Errorf("route %q: path must start with /", config.Path)
		}

		ips, err := NewIPAllowlist(config.AllowedIPs)
		if err != nil {
			return nil, fmt.Errorf("route %q: %w", config.Path, err)
		}

		route := &Route{
			Config:     &config,
			ips:        ips,
			userAgents: NewUserAgentAllowlist(config.AllowedUserAgents),
		}

		if strings.HasSuffix(config.Path, wildcardSuffix) {
			route.wildcard = true
			route.prefix = strings.TrimSuffix(config.Path, "*")
			m.wildcards = append(m.wildcards, route)
			continue
		}

		if _, dup := m.exact[config.Path]; dup {
			return nil, fmt.Errorf("route %q: duplicate path", config.Path)
		}
		m.exact[config.Path] = route
	}

	sort.SliceStable(m.wildcards, func(i, j int) bool {
		return len(m.wildcards[i].prefix) > len(m.wildcards[j].prefix)
	})

	return m, nil
}

// Resolve returns the route for a path. Exact matches win over wildcard
// prefixes; among wildcards the longest prefix wins. Unmatched paths under
// the API prefix default to authenticated, everything else to public.
func (m *Matcher) Resolve(path string) *Route {
	if route, ok := m.exact[path]; ok {
		return route
	}

	for _, route := range m.wildcards {
		if strings.HasPrefix(path, route.prefix) {
			return route
		}
	}

	if strings.HasPrefix(path, m.apiPrefix) {
		return m.defaultAPI
	}
	return m.defaultPublic
}
