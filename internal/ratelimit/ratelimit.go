// Package ratelimit throttles the public verification surface per client IP.
//
// Counting uses a fixed window held in Redis so every server instance shares
// one budget. When Redis fails repeatedly a circuit breaker moves checks to an
// in-process window until Redis recovers.
package ratelimit

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"examboard/pkg/platform/circuit"
)

// Result is the outcome of one check.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter int // seconds, only set when not allowed
	Degraded   bool
}

// Store counts hits for a key within a fixed window.
type Store interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*Result, error)
}

// Key builds a bucket key. Delimiters in segments are escaped so a crafted
// identifier cannot address another bucket.
func Key(scope string, segments ...string) string {
	parts := make([]string, 0, len(segments)+1)
	parts = append(parts, "rl", scope)
	for _, s := range segments {
		parts = append(parts, strings.ReplaceAll(s, ":", "_"))
	}
	return strings.Join(parts, ":")
}

// Limiter checks a fixed budget against a primary store, falling back to a
// local store while the primary is unhealthy.
type Limiter struct {
	primary  Store
	fallback Store
	breaker  *circuit.Breaker
	limit    int
	window   time.Duration
	metrics  *Metrics
	logger   *slog.Logger
}

type Option func(*Limiter)

func WithFallback(s Store) Option {
	return func(l *Limiter) { l.fallback = s }
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(l *Limiter) { l.breaker = b }
}

func WithMetrics(m *Metrics) Option {
	return func(l *Limiter) { l.metrics = m }
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) { l.logger = logger }
}

// New returns a limiter admitting limit hits per window. A nil primary makes
// the fallback authoritative.
func New(primary Store, limit int, window time.Duration, opts ...Option) *Limiter {
	l := &Limiter{
		primary: primary,
		limit:   limit,
		window:  window,
		breaker: circuit.New("ratelimit", circuit.WithFailureThreshold(5), circuit.WithSuccessThreshold(3)),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.fallback == nil {
		l.fallback = NewMemoryStore()
	}
	return l
}

// Check counts one hit against key.
func (l *Limiter) Check(ctx context.Context, key string) (*Result, error) {
	if l.primary == nil {
		return l.check(ctx, l.fallback, key, false)
	}
	if !l.breaker.Allow(time.Now()) {
		return l.check(ctx, l.fallback, key, true)
	}

	res, err := l.primary.Allow(ctx, key, l.limit, l.window)
	if err != nil {
		_, change := l.breaker.RecordFailure()
		if change.Opened {
			l.metrics.SetDegraded(true)
			l.logger.WarnContext(ctx, "rate limit store unavailable, using local fallback", "error", err)
		}
		return l.check(ctx, l.fallback, key, true)
	}
	if _, change := l.breaker.RecordSuccess(); change.Closed {
		l.metrics.SetDegraded(false)
		l.logger.InfoContext(ctx, "rate limit store recovered")
	}
	l.metrics.Observe(res.Allowed)
	return res, nil
}

func (l *Limiter) check(ctx context.Context, s Store, key string, degraded bool) (*Result, error) {
	res, err := s.Allow(ctx, key, l.limit, l.window)
	if err != nil {
		return nil, err
	}
	res.Degraded = degraded
	l.metrics.Observe(res.Allowed)
	return res, nil
}
