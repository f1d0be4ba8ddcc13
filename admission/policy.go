// Package admission classifies, rate-limits, and filters inbound requests
// before they reach a protected resource. It is purely in-memory on the hot
// path; the only shared mutable state is the counter store.
package admission

import (
	"net"
	"net/http"
	"strings"
	"time"
)

// Policy is a fixed-window rate limit: at most Requests per Window.
type Policy struct {
	Requests int
	Window   time.Duration
}

// Route classes in priority order; the longest matching prefix wins.
const (
	ClassMint     = "mint"
	ClassMetadata = "metadata"
	ClassAPI      = "api"
	ClassDefault  = "default"
)

// DefaultPolicies are the per-class limits, fixed at startup.
var DefaultPolicies = map[string]Policy{
	ClassMint:     {Requests: 10, Window: time.Minute},
	ClassMetadata: {Requests: 200, Window: time.Minute},
	ClassAPI:      {Requests: 60, Window: time.Minute},
	ClassDefault:  {Requests: 30, Window: time.Minute},
}

// botPatterns flag automated clients by User-Agent substring, matched
// case-insensitively.
var botPatterns = []string{
	"bot",
	"crawl",
	"spider",
	"scrape",
	"curl",
	"wget",
	"python-requests",
	"postman",
}

// bypassPrefixes are static asset and health-check paths that skip
// classification entirely.
var bypassPrefixes = []string{
	"/_next",
	"/favicon",
	"/static",
	"/health",
}

// userAgentPrefixLen bounds how much of the User-Agent feeds the identity key.
const userAgentPrefixLen = 50

// Identity is the rate-limiting key for a caller: IP plus a User-Agent
// prefix. It is a fairness heuristic, not a security boundary — both parts
// are spoofable via headers.
type Identity struct {
	IP              string
	UserAgentPrefix string
}

// Key returns the composite identity key.
func (id Identity) Key() string {
	return id.IP + ":" + id.UserAgentPrefix
}

// Classifier derives a client identity, a rate policy, and a bot flag from
// a request's route and headers.
type Classifier struct {
	policies           map[string]Policy
	trustXForwardedFor bool
}

// NewClassifier creates a classifier with the default policy table.
func NewClassifier(trustXForwardedFor bool) *Classifier {
	return &Classifier{
		policies:           DefaultPolicies,
		trustXForwardedFor: trustXForwardedFor,
	}
}

// Bypass reports whether the path skips admission entirely.
func Bypass(path string) bool {
	for _, prefix := range bypassPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// Classify resolves the identity, policy, and bot flag for a request.
func (c *Classifier) Classify(r *http.Request) (Identity, Policy, bool) {
	identity := Identity{
		IP:              c.clientIP(r),
		UserAgentPrefix: truncate(r.UserAgent(), userAgentPrefixLen),
	}
	policy := c.policies[routeClass(r.URL.Path)]
	return identity, policy, isBot(r.UserAgent())
}

// routeClass selects the policy class by longest matching prefix:
// /api/mint > /api/metadata > /api > default.
func routeClass(path string) string {
	switch {
	case strings.HasPrefix(path, "/api/mint"):
		return ClassMint
	case strings.HasPrefix(path, "/api/metadata"):
		return ClassMetadata
	case strings.HasPrefix(path, "/api"):
		return ClassAPI
	default:
		return ClassDefault
	}
}

func isBot(userAgent string) bool {
	ua := strings.ToLower(userAgent)
	for _, pattern := range botPatterns {
		if strings.Contains(ua, pattern) {
			return true
		}
	}
	return false
}

// clientIP takes the first hop of X-Forwarded-For when the deployment
// trusts its proxy, falling back to RemoteAddr.
func (c *Classifier) clientIP(r *http.Request) string {
	if c.trustXForwardedFor {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first := strings.TrimSpace(strings.Split(xff, ",")[0])
			if first != "" {
				return first
			}
		}
	}

	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
