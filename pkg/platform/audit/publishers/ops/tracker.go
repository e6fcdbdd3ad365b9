// Package ops tracks routine operational events with sampling. Tracking is
// best effort: when the audit store keeps failing the breaker opens and events
// are dropped instead of slowing the caller.
package ops

import (
	"context"
	"log/slog"
	"time"

	audit "examboard/pkg/platform/audit"
	"examboard/pkg/platform/circuit"
	"examboard/pkg/requestcontext"
)

type Tracker struct {
	store   audit.Store
	sampler *Sampler
	breaker *circuit.Breaker
	metrics *Metrics
	logger  *slog.Logger
}

type Option func(*Tracker)

func WithSampler(s *Sampler) Option {
	return func(t *Tracker) { t.sampler = s }
}

func WithMetrics(m *Metrics) Option {
	return func(t *Tracker) { t.metrics = m }
}

func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) { t.logger = logger }
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(t *Tracker) { t.breaker = b }
}

func New(store audit.Store, opts ...Option) *Tracker {
	t := &Tracker{
		store:   store,
		sampler: NewSampler(1.0),
		breaker: circuit.New("audit-ops", circuit.WithFailureThreshold(5), circuit.WithCooldown(30*time.Second)),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Track records event if sampled and the store is healthy.
func (t *Tracker) Track(ctx context.Context, event audit.OpsEvent) {
	if !t.sampler.Keep(event.Action) {
		t.metrics.IncSampled()
		return
	}
	if !t.breaker.Allow(time.Now()) {
		t.metrics.IncCircuitBreakerDropped()
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}

	if err := t.store.Append(ctx, event.ToEvent()); err != nil {
		t.metrics.IncPersistFailures()
		if _, change := t.breaker.RecordFailure(); change.Opened {
			t.metrics.SetCircuitBreakerState(true)
			t.logger.WarnContext(ctx, "ops audit breaker opened", "error", err)
		}
		return
	}
	if _, change := t.breaker.RecordSuccess(); change.Closed {
		t.metrics.SetCircuitBreakerState(false)
	}
	t.metrics.IncTracked()
}
