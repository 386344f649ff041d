package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"strconv"
	"time"

	"hrportal/internal/ratelimit/metrics"
	"hrportal/internal/ratelimit/models"
	"hrportal/pkg/platform/audit"
	"hrportal/pkg/platform/circuit"
	"hrportal/pkg/platform/httputil"
	"hrportal/pkg/requestcontext"
)

// Limiter spends one request from a key's budget.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.Result, error)
}

// DefaultLimits apply to classes without an explicit WithLimit.
var DefaultLimits = map[models.EndpointClass]models.Limit{
	models.ClassVerificationToken: {RequestsPerWindow: 30, Window: time.Minute},
	models.ClassLogin:             {RequestsPerWindow: 10, Window: time.Minute},
}

type Middleware struct {
	primary  Limiter
	fallback Limiter
	breaker  *circuit.Breaker
	limits   map[models.EndpointClass]models.Limit
	auditor  audit.Store
	metrics  *metrics.Metrics
	logger   *slog.Logger
	disabled bool
}

type Option func(*Middleware)

// WithDisabled disables rate limiting entirely (for testing/demo mode).
func WithDisabled(disabled bool) Option {
	return func(m *Middleware) {
		m.disabled = disabled
	}
}

func WithLimit(class models.EndpointClass, limit models.Limit) Option {
	return func(m *Middleware) {
		if limit.RequestsPerWindow > 0 && limit.Window > 0 {
			m.limits[class] = limit
		}
	}
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(m *Middleware) {
		m.breaker = b
	}
}

// WithAuditor records every rejected request as a security event.
func WithAuditor(a audit.Store) Option {
	return func(m *Middleware) {
		m.auditor = a
	}
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Middleware) {
		m.metrics = mt
	}
}

// New builds the middleware. primary may be nil, in which case every check
// runs on fallback.
func New(primary, fallback Limiter, logger *slog.Logger, opts ...Option) *Middleware {
	m := &Middleware{
		primary:  primary,
		fallback: fallback,
		breaker:  circuit.New("ratelimit-redis"),
		limits:   make(map[models.EndpointClass]models.Limit, len(DefaultLimits)),
		logger:   logger,
	}
	for class, limit := range DefaultLimits {
		m.limits[class] = limit
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.disabled {
		logger.Info("rate limiting disabled")
	}
	return m
}

// RateLimit limits requests per client IP for the given class.
func (m *Middleware) RateLimit(class models.EndpointClass) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m.disabled {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			ip := requestcontext.ClientIP(ctx)
			result, degraded, err := m.check(ctx, models.NewIPKey(class, ip), m.limits[class])
			if err != nil {
				m.logger.Error("failed to check IP rate limit", "error", err, "class", class, "ip_prefix", anonymizeIP(ip))
				next.ServeHTTP(w, r)
				return
			}

			addRateLimitHeaders(w, result)
			if degraded {
				w.Header().Set("X-RateLimit-Status", "degraded")
			}

			if !result.Allowed {
				m.metrics.IncCheck(string(class), "denied")
				m.logger.Warn("rate limit exceeded", "class", class, "ip_prefix", anonymizeIP(ip), "request_id", requestcontext.RequestID(ctx))
				m.auditRejection(ctx, class, ip, result)
				writeRateLimitExceeded(w, result)
				return
			}

			m.metrics.IncCheck(string(class), "allowed")
			next.ServeHTTP(w, r)
		})
	}
}

// check consults the primary store. Below the breaker threshold a primary
// failure fails open; once the breaker opens the in-memory fallback decides
// until enough primary probes succeed again.
func (m *Middleware) check(ctx context.Context, key string, limit models.Limit) (*models.Result, bool, error) {
	if m.primary == nil {
		res, err := m.fallback.Allow(ctx, key, limit.RequestsPerWindow, limit.Window)
		return res, false, err
	}

	res, err := m.primary.Allow(ctx, key, limit.RequestsPerWindow, limit.Window)
	if err != nil {
		m.metrics.IncStoreError()
		useFallback, change := m.breaker.RecordFailure()
		if change.Opened {
			m.logger.Warn("rate limit store unavailable, using in-memory fallback", "breaker", m.breaker.Name(), "error", err)
			m.metrics.SetDegraded(true)
		}
		if !useFallback || m.fallback == nil {
			return nil, false, fmt.Errorf("primary rate limit store: %w", err)
		}
		res, err = m.fallback.Allow(ctx, key, limit.RequestsPerWindow, limit.Window)
		return res, true, err
	}

	usePrimary, change := m.breaker.RecordSuccess()
	if change.Closed {
		m.logger.Info("rate limit store recovered", "breaker", m.breaker.Name())
		m.metrics.SetDegraded(false)
	}
	if !usePrimary && m.fallback != nil {
		res, err = m.fallback.Allow(ctx, key, limit.RequestsPerWindow, limit.Window)
		return res, true, err
	}
	return res, false, nil
}

func (m *Middleware) auditRejection(ctx context.Context, class models.EndpointClass, ip string, result *models.Result) {
	if m.auditor == nil {
		return
	}
	err := m.auditor.Append(ctx, audit.Event{
		Timestamp: requestcontext.Now(ctx),
		Subject:   "client_ip:" + anonymizeIP(ip),
		Action:    string(audit.EventRateLimitExceeded),
		RequestID: requestcontext.RequestID(ctx),
		Details: map[string]any{
			"class":       string(class),
			"limit":       result.Limit,
			"retry_after": result.RetryAfter,
		},
	})
	if err != nil {
		m.logger.Warn("failed to audit rate limit rejection", "error", err)
	}
}

func addRateLimitHeaders(w http.ResponseWriter, result *models.Result) {
	if result == nil {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}

func writeRateLimitExceeded(w http.ResponseWriter, result *models.Result) {
	w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
	httputil.WriteJSON(w, http.StatusTooManyRequests, &models.RateLimitExceededResponse{
		Error:      "rate_limit_exceeded",
		Message:    "Too many requests from this IP address. Please try again later.",
		RetryAfter: result.RetryAfter,
	})
}

// anonymizeIP truncates an address to its /24 (IPv4) or /48 (IPv6) prefix.
func anonymizeIP(ip string) string {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return "unknown"
	}
	bits := 48
	if addr.Is4() {
		bits = 24
	}
	prefix, err := addr.Prefix(bits)
	if err != nil {
		return "unknown"
	}
	return prefix.String()
}
