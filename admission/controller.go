package admission

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// maxBodyBytes is the Content-Length ceiling for admitted requests (1 MiB).
const maxBodyBytes = 1 << 20

// State is the terminal state of the admission decision machine.
type State int

const (
	StateAdmitted State = iota
	StateStaticBypass
	StateBotBlocked
	StateRateLimited
	StateSizeRejected
)

// Reason codes for denied admissions, usable in logs and response bodies.
const (
	ReasonBot             = "BOT"
	ReasonRateLimited     = "RATE_LIMITED"
	ReasonPayloadTooLarge = "PAYLOAD_TOO_LARGE"
)

// Decision is the outcome of Admit for one request. Produced fresh per
// request and never persisted.
type Decision struct {
	State     State
	Allowed   bool
	Reason    string
	Limit     int
	Remaining int
	ResetAt   time.Time
	// RetryAfter is advisory backoff for rate-limited denials, always >= 1s.
	RetryAfter time.Duration
}

// securityHeaders is the fixed header set attached to admitted responses.
var securityHeaders = map[string]string{
	"X-Frame-Options":        "DENY",
	"X-Content-Type-Options": "nosniff",
	"Referrer-Policy":        "strict-origin-when-cross-origin",
	"Permissions-Policy":     "camera=(), microphone=(), geolocation=()",
	"Content-Security-Policy": "default-src 'self'; " +
		"script-src 'self' 'unsafe-inline' https://cdn.jsdelivr.net; " +
		"style-src 'self' 'unsafe-inline' https://fonts.googleapis.com; " +
		"font-src 'self' https://fonts.gstatic.com; " +
		"img-src 'self' data: https:; " +
		"connect-src 'self' https://*.base.org https://x402.org",
}

// Controller orchestrates classification, bot filtering, and rate limiting
// ahead of the protected resource. It never performs I/O on the admission
// path and adds only headers, never a rewritten body.
type Controller struct {
	classifier *Classifier
	store      CounterStore
	logger     *zap.Logger
	now        func() time.Time
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithStore injects the counter store (defaults to an in-memory store).
func WithStore(store CounterStore) ControllerOption {
	return func(c *Controller) { c.store = store }
}

// WithLogger sets the logger used for denial events.
func WithLogger(logger *zap.Logger) ControllerOption {
	return func(c *Controller) { c.logger = logger }
}

// WithTrustedProxy trusts the first X-Forwarded-For hop for client identity.
func WithTrustedProxy() ControllerOption {
	return func(c *Controller) { c.classifier = NewClassifier(true) }
}

// NewController creates an admission controller.
func NewController(opts ...ControllerOption) *Controller {
	c := &Controller{
		classifier: NewClassifier(false),
		store:      NewMemoryStore(),
		logger:     zap.NewNop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Admit runs the decision machine:
// RECEIVED -> STATIC_BYPASS | BOT_BLOCKED | RATE_LIMITED | SIZE_REJECTED | ADMITTED.
// Denials are terminal for the request; the caller backs off per RetryAfter.
func (c *Controller) Admit(r *http.Request) Decision {
	path := r.URL.Path

	if Bypass(path) {
		return Decision{State: StateStaticBypass, Allowed: true}
	}

	identity, policy, bot := c.classifier.Classify(r)

	if bot && isProtectedAPIPath(path) {
		c.logger.Debug("blocked bot",
			zap.String("path", path),
			zap.String("user_agent", truncate(r.UserAgent(), userAgentPrefixLen)))
		return Decision{State: StateBotBlocked, Reason: ReasonBot}
	}

	now := c.now()
	bucket := now.UnixMilli() / policy.Window.Milliseconds()
	bucketEnd := time.UnixMilli((bucket + 1) * policy.Window.Milliseconds())
	key := fmt.Sprintf("%s:%s:%d", identity.Key(), routeClass(path), bucket)

	count, resetAt, err := c.store.Increment(r.Context(), key, bucketEnd.Sub(now))
	if err != nil {
		// A broken store must not take the resource down; admit without
		// rate-limit headers and let the store recover.
		c.logger.Warn("counter store unavailable", zap.Error(err))
		return Decision{State: StateAdmitted, Allowed: true, Limit: policy.Requests}
	}

	if count > policy.Requests {
		retryAfter := resetAt.Sub(now)
		if retryAfter < time.Second {
			retryAfter = time.Second
		}
		c.logger.Debug("rate limited",
			zap.String("identity", identity.Key()),
			zap.Int("count", count),
			zap.Int("limit", policy.Requests))
		return Decision{
			State:      StateRateLimited,
			Reason:     ReasonRateLimited,
			Limit:      policy.Requests,
			Remaining:  0,
			ResetAt:    resetAt,
			RetryAfter: retryAfter,
		}
	}

	if r.ContentLength > maxBodyBytes {
		return Decision{State: StateSizeRejected, Reason: ReasonPayloadTooLarge}
	}

	return Decision{
		State:     StateAdmitted,
		Allowed:   true,
		Limit:     policy.Requests,
		Remaining: policy.Requests - count,
		ResetAt:   resetAt,
	}
}

// isProtectedAPIPath reports whether the bot filter applies: API routes
// except public metadata.
func isProtectedAPIPath(path string) bool {
	return routeClass(path) == ClassAPI || routeClass(path) == ClassMint
}

// Middleware wraps a handler with admission control for net/http servers.
func (c *Controller) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dec := c.Admit(r)

		switch dec.State {
		case StateStaticBypass:
			next.ServeHTTP(w, r)
			return
		case StateBotBlocked:
			writeDenial(w, http.StatusForbidden, dec)
			return
		case StateRateLimited:
			writeRateHeaders(w, dec)
			w.Header().Set("Retry-After", strconv.Itoa(ceilSeconds(dec.RetryAfter)))
			writeDenial(w, http.StatusTooManyRequests, dec)
			return
		case StateSizeRejected:
			writeDenial(w, http.StatusRequestEntityTooLarge, dec)
			return
		}

		writeRateHeaders(w, dec)
		for name, value := range securityHeaders {
			w.Header().Set(name, value)
		}
		w.Header().Set("X-Request-Id", uuid.NewString())
		next.ServeHTTP(w, r)
	})
}

func writeRateHeaders(w http.ResponseWriter, dec Decision) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(dec.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(dec.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(dec.ResetAt.UnixMilli(), 10))
}

func writeDenial(w http.ResponseWriter, status int, dec Decision) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"error":%q,"reason":%q}`, http.StatusText(status), dec.Reason)
}

func ceilSeconds(d time.Duration) int {
	secs := int(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	if secs < 1 {
		secs = 1
	}
	return secs
}
