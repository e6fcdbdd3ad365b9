// Package notification tells schools about payment and issuance milestones.
//
// Delivery is best effort: a notification is sent after the change it
// describes has committed, and a failure to send never undoes that change.
package notification

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	id "examboard/pkg/domain"
)

type Kind string

const (
	KindPaymentConfirmed  Kind = "payment_confirmed"
	KindSlipRejected      Kind = "slip_rejected"
	KindCredentialsIssued Kind = "credentials_issued"
	KindCredentialRevoked Kind = "credential_revoked"
)

// Notification is addressed to a school's registered contact.
type Notification struct {
	Kind       Kind              `json:"kind"`
	Recipient  string            `json:"recipient"`
	SchoolID   id.SchoolID       `json:"school_id"`
	Subject    string            `json:"subject"`
	Data       map[string]string `json:"data,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// Notifier delivers notifications without reporting failure to the caller.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// LoggingNotifier writes notifications to the log. Used when no broker is
// configured.
type LoggingNotifier struct {
	logger *slog.Logger
}

func NewLoggingNotifier(logger *slog.Logger) *LoggingNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingNotifier{logger: logger}
}

func (l *LoggingNotifier) Notify(ctx context.Context, n Notification) {
	l.logger.InfoContext(ctx, "notification",
		"kind", n.Kind,
		"school_id", n.SchoolID.String(),
		"recipient", n.Recipient,
		"subject", n.Subject,
	)
}

// AsyncProducer hands a record to the broker without waiting for the ack.
type AsyncProducer interface {
	PublishAsync(ctx context.Context, topic string, key, value []byte)
}

// KafkaNotifier publishes notifications as JSON, keyed by school so a school's
// notifications stay ordered.
type KafkaNotifier struct {
	producer AsyncProducer
	topic    string
	logger   *slog.Logger
}

func NewKafkaNotifier(producer AsyncProducer, topic string, logger *slog.Logger) *KafkaNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaNotifier{producer: producer, topic: topic, logger: logger}
}

func (k *KafkaNotifier) Notify(ctx context.Context, n Notification) {
	if n.OccurredAt.IsZero() {
		n.OccurredAt = time.Now().UTC()
	}
	value, err := json.Marshal(n)
	if err != nil {
		k.logger.ErrorContext(ctx, "failed to encode notification", "kind", n.Kind, "error", err)
		return
	}
	k.producer.PublishAsync(ctx, k.topic, []byte(n.SchoolID.String()), value)
}

// Nop discards notifications.
type Nop struct{}

func (Nop) Notify(context.Context, Notification) {}
