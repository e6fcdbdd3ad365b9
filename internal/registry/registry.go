// Package registry guarantees global uniqueness of issued identifiers.
//
// Every identifier the board hands out (index numbers, document numbers and
// verification tokens) is reserved here first. Reserve is atomic against all
// concurrent callers: the storage constraint decides who wins, never a
// pre-loaded set of seen values.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	dErrors "examboard/pkg/domain-errors"
	"examboard/pkg/platform/sentinel"
)

// Namespace partitions identifier values; uniqueness holds per namespace.
type Namespace string

const (
	NamespaceIndexNumber       Namespace = "index_number"
	NamespaceCertificate       Namespace = "certificate"
	NamespaceTranscript        Namespace = "transcript"
	NamespaceVerificationToken Namespace = "verification_token"
)

func (n Namespace) Valid() bool {
	switch n {
	case NamespaceIndexNumber, NamespaceCertificate, NamespaceTranscript, NamespaceVerificationToken:
		return true
	}
	return false
}

// Outcome is the result of a reservation attempt.
type Outcome int

const (
	Assigned Outcome = iota + 1
	Collision
)

func (o Outcome) String() string {
	switch o {
	case Assigned:
		return "assigned"
	case Collision:
		return "collision"
	default:
		return "unknown"
	}
}

// Store persists reservations. Reserve returns Collision when value is taken in
// namespace and sentinel.ErrAlreadyUsed when owner already holds a value there.
type Store interface {
	IsUsed(ctx context.Context, ns Namespace, value string) (bool, error)
	Reserve(ctx context.Context, ns Namespace, value string, owner uuid.UUID) (Outcome, error)
	Release(ctx context.Context, ns Namespace, value string, owner uuid.UUID) error
	ValueOf(ctx context.Context, ns Namespace, owner uuid.UUID) (string, error)
}

// Draw produces a candidate value.
type Draw func() (string, error)

const DefaultMaxAttempts = 50

type Registry struct {
	store       Store
	maxAttempts int
	metrics     *Metrics
	logger      *slog.Logger
}

type Option func(*Registry)

func WithMaxAttempts(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.maxAttempts = n
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

func New(store Store, opts ...Option) *Registry {
	r := &Registry{
		store:       store,
		maxAttempts: DefaultMaxAttempts,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) IsUsed(ctx context.Context, ns Namespace, value string) (bool, error) {
	used, err := r.store.IsUsed(ctx, ns, value)
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "check identifier")
	}
	return used, nil
}

// Reserve attempts a single reservation.
func (r *Registry) Reserve(ctx context.Context, ns Namespace, value string, owner uuid.UUID) (Outcome, error) {
	if !ns.Valid() {
		return 0, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("unknown namespace %q", ns))
	}
	if value == "" || owner == uuid.Nil {
		return 0, dErrors.New(dErrors.CodeValidation, "value and owner are required")
	}
	outcome, err := r.store.Reserve(ctx, ns, value, owner)
	if err != nil {
		if errors.Is(err, sentinel.ErrAlreadyUsed) {
			return 0, dErrors.Wrap(err, dErrors.CodeConflict, fmt.Sprintf("owner already holds a %s", ns))
		}
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "reserve identifier")
	}
	return outcome, nil
}

// Claim draws candidates until one is reserved for owner or the attempt budget
// runs out, which fails with CodeCollisionExhausted.
func (r *Registry) Claim(ctx context.Context, ns Namespace, owner uuid.UUID, draw Draw) (string, error) {
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		value, err := draw()
		if err != nil {
			return "", dErrors.Wrap(err, dErrors.CodeInternal, "draw identifier")
		}
		outcome, err := r.Reserve(ctx, ns, value, owner)
		if err != nil {
			return "", err
		}
		if outcome == Assigned {
			r.metrics.ObserveAttempts(ns, attempt)
			return value, nil
		}
		r.metrics.IncCollision(ns)
		r.logger.DebugContext(ctx, "identifier collision",
			"namespace", ns,
			"attempt", attempt,
		)
	}

	r.metrics.IncExhausted(ns)
	r.logger.WarnContext(ctx, "identifier space exhausted",
		"namespace", ns,
		"max_attempts", r.maxAttempts,
	)
	return "", dErrors.New(dErrors.CodeCollisionExhausted,
		fmt.Sprintf("no free %s after %d attempts", ns, r.maxAttempts))
}

// Release frees a reservation held by owner. Only explicit administrative
// paths call this; failed issuance is undone by its transaction.
func (r *Registry) Release(ctx context.Context, ns Namespace, value string, owner uuid.UUID) error {
	if err := r.store.Release(ctx, ns, value, owner); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.Wrap(err, dErrors.CodeNotFound, "reservation not found")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "release identifier")
	}
	return nil
}

// ValueOf returns the value owner holds in ns.
func (r *Registry) ValueOf(ctx context.Context, ns Namespace, owner uuid.UUID) (string, error) {
	value, err := r.store.ValueOf(ctx, ns, owner)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return "", dErrors.Wrap(err, dErrors.CodeNotFound, "no reservation for owner")
		}
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "lookup identifier")
	}
	return value, nil
}
