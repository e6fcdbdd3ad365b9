package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"examboard/internal/ratelimit"
	"examboard/pkg/platform/audit"
	"examboard/pkg/platform/httputil"
	"examboard/pkg/requestcontext"
)

type Limiter interface {
	Check(ctx context.Context, key string) (*ratelimit.Result, error)
}

type SecurityPublisher interface {
	Emit(ctx context.Context, event audit.SecurityEvent)
}

type Middleware struct {
	limiter  Limiter
	logger   *slog.Logger
	security SecurityPublisher
	disabled bool
}

type Option func(*Middleware)

// WithDisabled turns rate limiting off, for local demos.
func WithDisabled(disabled bool) Option {
	return func(m *Middleware) { m.disabled = disabled }
}

func WithSecurityPublisher(p SecurityPublisher) Option {
	return func(m *Middleware) { m.security = p }
}

func New(limiter Limiter, logger *slog.Logger, opts ...Option) *Middleware {
	m := &Middleware{limiter: limiter, logger: logger}
	for _, opt := range opts {
		opt(m)
	}
	if m.disabled {
		logger.Info("rate limiting disabled")
	}
	return m
}

// PerIP limits requests per client IP within scope. A limiter error lets the
// request through.
func (m *Middleware) PerIP(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m.disabled {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			ip := requestcontext.ClientIP(ctx)

			result, err := m.limiter.Check(ctx, ratelimit.Key(scope, ip))
			if err != nil {
				m.logger.ErrorContext(ctx, "rate limit check failed",
					"request_id", requestcontext.RequestID(ctx),
					"error", err,
				)
				next.ServeHTTP(w, r)
				return
			}

			addHeaders(w, result)
			if !result.Allowed {
				m.reject(ctx, w, scope, result)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m *Middleware) reject(ctx context.Context, w http.ResponseWriter, scope string, result *ratelimit.Result) {
	if m.security != nil {
		m.security.Emit(ctx, audit.SecurityEvent{
			Timestamp: requestcontext.Now(ctx),
			Subject:   scope,
			Action:    audit.EventRateLimitExceeded,
			Reason:    "per-ip budget exhausted",
			IP:        requestcontext.ClientIP(ctx),
			RequestID: requestcontext.RequestID(ctx),
			Severity:  audit.SeverityWarning,
		})
	}
	w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
	httputil.WriteJSON(w, http.StatusTooManyRequests, map[string]any{
		"error":       "rate_limit_exceeded",
		"message":     "Too many requests. Please try again later.",
		"retry_after": result.RetryAfter,
	})
}

func addHeaders(w http.ResponseWriter, result *ratelimit.Result) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
	if result.Degraded {
		w.Header().Set("X-RateLimit-Status", "degraded")
	}
}
