// Package kafka wraps a franz-go client for the board's two producers: the
// audit outbox relay and the notification stream.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"examboard/internal/platform/config"
)

// Client publishes records. It satisfies the outbox relay's Producer and the
// notifier's AsyncProducer.
type Client struct {
	kc     *kgo.Client
	logger *slog.Logger
}

// NewClient connects to the configured brokers and verifies reachability.
func NewClient(ctx context.Context, cfg config.Kafka, logger *slog.Logger) (*Client, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}
	kc, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(cfg.ClientID),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerBatchCompression(kgo.SnappyCompression(), kgo.NoCompression()),
		kgo.AllowAutoTopicCreation(),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka: create client: %w", err)
	}
	if err := kc.Ping(ctx); err != nil {
		kc.Close()
		return nil, fmt.Errorf("kafka: ping brokers: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{kc: kc, logger: logger}, nil
}

// Publish produces one record and waits for the broker acknowledgement.
func (c *Client) Publish(ctx context.Context, topic string, key, value []byte) error {
	rec := &kgo.Record{Topic: topic, Key: key, Value: value}
	if err := c.kc.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("kafka: publish to %s: %w", topic, err)
	}
	return nil
}

// PublishAsync produces one record without waiting. Delivery failures are
// logged, never returned.
func (c *Client) PublishAsync(ctx context.Context, topic string, key, value []byte) {
	rec := &kgo.Record{Topic: topic, Key: key, Value: value}
	c.kc.Produce(context.WithoutCancel(ctx), rec, func(r *kgo.Record, err error) {
		if err != nil {
			c.logger.Error("kafka async publish failed",
				"topic", r.Topic,
				"error", err,
			)
		}
	})
}

// Flush waits for buffered async records.
func (c *Client) Flush(ctx context.Context) error {
	return c.kc.Flush(ctx)
}

func (c *Client) Ping(ctx context.Context) error {
	return c.kc.Ping(ctx)
}

func (c *Client) Close() {
	c.kc.Close()
}

// EnsureTopics creates any missing topics. Existing topics are left as they are.
func (c *Client) EnsureTopics(ctx context.Context, partitions int32, replicationFactor int16, topics ...string) error {
	adm := kadm.NewClient(c.kc)
	resp, err := adm.CreateTopics(ctx, partitions, replicationFactor, nil, topics...)
	if err != nil {
		return fmt.Errorf("kafka: create topics: %w", err)
	}
	var errs []error
	for _, r := range resp.Sorted() {
		if r.Err == nil || errors.Is(r.Err, kerr.TopicAlreadyExists) {
			continue
		}
		errs = append(errs, fmt.Errorf("topic %s: %w", r.Topic, r.Err))
	}
	return errors.Join(errs...)
}

// BoardTopics lists every topic the service produces to.
func BoardTopics(cfg config.Kafka, auditCategories ...string) []string {
	topics := make([]string, 0, len(auditCategories)+1)
	for _, category := range auditCategories {
		topics = append(topics, cfg.AuditTopicPrefix+"."+category)
	}
	if cfg.NotificationTopic != "" {
		topics = append(topics, cfg.NotificationTopic)
	}
	return topics
}
