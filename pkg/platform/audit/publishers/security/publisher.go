// Package security publishes abuse signals from the public surface.
//
// Emit never blocks the request: events go into a bounded ring buffer that a
// background loop drains into the audit store. Under sustained load the oldest
// events are dropped.
package security

import (
	"context"
	"log/slog"
	"sync"
	"time"

	audit "examboard/pkg/platform/audit"
	"examboard/pkg/requestcontext"
)

type Publisher struct {
	store         audit.Store
	buffer        *RingBuffer
	logger        *slog.Logger
	flushInterval time.Duration
	batchSize     int

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

type Option func(*Publisher)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) { p.logger = logger }
}

func WithBufferSize(n int) Option {
	return func(p *Publisher) { p.buffer = NewRingBuffer(n) }
}

func WithFlushInterval(d time.Duration) Option {
	return func(p *Publisher) {
		if d > 0 {
			p.flushInterval = d
		}
	}
}

// New creates a publisher and starts its drain loop. Call Close to flush.
func New(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{
		store:         store,
		buffer:        NewRingBuffer(1000),
		logger:        slog.Default(),
		flushInterval: time.Second,
		batchSize:     100,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	go p.loop()
	return p
}

// Emit enqueues event; it never fails the caller.
func (p *Publisher) Emit(ctx context.Context, event audit.SecurityEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}
	if event.Severity == "" {
		event.Severity = audit.SeverityWarning
	}
	p.buffer.Enqueue(event)
}

func (p *Publisher) loop() {
	defer close(p.done)
	ticker := time.NewTicker(p.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.flush()
		case <-p.stop:
			p.flush()
			return
		}
	}
}

func (p *Publisher) flush() {
	ctx := context.Background()
	for {
		batch := p.buffer.DequeueBatch(p.batchSize)
		if len(batch) == 0 {
			return
		}
		for _, event := range batch {
			if err := p.store.Append(ctx, event.ToEvent()); err != nil {
				p.logger.Warn("security audit append failed",
					"action", event.Action,
					"error", err,
				)
			}
		}
	}
}

// Dropped reports events lost to buffer overflow.
func (p *Publisher) Dropped() int64 { return p.buffer.Dropped() }

// Close drains the buffer and stops the loop.
func (p *Publisher) Close() error {
	p.once.Do(func() { close(p.stop) })
	<-p.done
	return nil
}
