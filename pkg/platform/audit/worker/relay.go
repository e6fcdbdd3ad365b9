// Package worker relays audit outbox rows to the event stream.
package worker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Producer publishes one record synchronously.
type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// Relay moves unpublished outbox rows to Kafka. Several relays may run
// against the same table; rows are claimed with SKIP LOCKED.
type Relay struct {
	db          *sql.DB
	producer    Producer
	topicPrefix string
	batchSize   int
	interval    time.Duration
	logger      *slog.Logger
}

type Option func(*Relay)

func WithBatchSize(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

func WithInterval(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.interval = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) { r.logger = logger }
}

func NewRelay(db *sql.DB, producer Producer, topicPrefix string, opts ...Option) *Relay {
	r := &Relay{
		db:          db,
		producer:    producer,
		topicPrefix: topicPrefix,
		batchSize:   100,
		interval:    2 * time.Second,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Topic returns the topic an outbox category is published to.
func (r *Relay) Topic(category string) string {
	return r.topicPrefix + "." + category
}

// Run relays until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := r.RelayOnce(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				r.logger.WarnContext(ctx, "outbox relay pass failed", "error", err, "relayed", n)
				continue
			}
			if n > 0 {
				r.logger.DebugContext(ctx, "outbox relayed", "count", n)
			}
		}
	}
}

type outboxRow struct {
	id          string
	category    string
	aggregateID string
	payload     []byte
}

// RelayOnce publishes one batch and returns how many rows were marked
// published. Rows published before a producer failure stay marked.
func (r *Relay) RelayOnce(ctx context.Context) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin relay tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, aggregate_type, aggregate_id, payload
		FROM outbox
		WHERE published_at IS NULL
		ORDER BY created_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("claim outbox rows: %w", err)
	}
	var batch []outboxRow
	for rows.Next() {
		var row outboxRow
		if err := rows.Scan(&row.id, &row.category, &row.aggregateID, &row.payload); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan outbox row: %w", err)
		}
		batch = append(batch, row)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate outbox rows: %w", err)
	}

	published := 0
	var publishErr error
	for _, row := range batch {
		if err := r.producer.Publish(ctx, r.Topic(row.category), []byte(row.aggregateID), row.payload); err != nil {
			publishErr = fmt.Errorf("publish outbox row %s: %w", row.id, err)
			break
		}
		if _, err := tx.ExecContext(ctx, `UPDATE outbox SET published_at = now() WHERE id = $1`, row.id); err != nil {
			return 0, fmt.Errorf("mark outbox row published: %w", err)
		}
		published++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit relay tx: %w", err)
	}
	return published, publishErr
}
