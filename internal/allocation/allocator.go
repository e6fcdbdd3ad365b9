// Package allocation binds globally unique 6-digit index numbers to approved
// students of paid cohorts.
package allocation

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"examboard/internal/registry"
	"examboard/internal/student/models"
	"examboard/pkg/batch"
	id "examboard/pkg/domain"
	dErrors "examboard/pkg/domain-errors"
	"examboard/pkg/platform/audit"
	"examboard/pkg/platform/sentinel"
	txcontext "examboard/pkg/platform/tx"
	"examboard/pkg/requestcontext"
)

type StudentStore interface {
	FindForUpdate(ctx context.Context, studentID id.StudentID) (*models.Student, error)
	AssignIndexNumber(ctx context.Context, studentID id.StudentID, n models.IndexNumber) error
}

type PaymentGate interface {
	IsCohortPaid(ctx context.Context, schoolID id.SchoolID, examYearID id.ExamYearID) (bool, error)
}

type Registry interface {
	Claim(ctx context.Context, ns registry.Namespace, owner uuid.UUID, draw registry.Draw) (string, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.ComplianceEvent) error
}

// SkipAlreadyNumbered is the skip reason for students that already hold a number.
const SkipAlreadyNumbered = "already has an index number"

type Allocator struct {
	students StudentStore
	gate     PaymentGate
	registry Registry
	tx       txcontext.Runner
	auditor  AuditPublisher
	metrics  *Metrics
	tracer   trace.Tracer
	logger   *slog.Logger
	entropy  io.Reader
}

type Option func(*Allocator)

func WithLogger(logger *slog.Logger) Option {
	return func(a *Allocator) { a.logger = logger }
}

func WithAuditPublisher(p AuditPublisher) Option {
	return func(a *Allocator) { a.auditor = p }
}

func WithMetrics(m *Metrics) Option {
	return func(a *Allocator) { a.metrics = m }
}

func WithTracer(t trace.Tracer) Option {
	return func(a *Allocator) { a.tracer = t }
}

// WithEntropy replaces crypto/rand as the draw source.
func WithEntropy(r io.Reader) Option {
	return func(a *Allocator) { a.entropy = r }
}

func New(students StudentStore, gate PaymentGate, reg Registry, tx txcontext.Runner, opts ...Option) *Allocator {
	a := &Allocator{
		students: students,
		gate:     gate,
		registry: reg,
		tx:       tx,
		tracer:   otel.Tracer("examboard/allocation"),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// AllocateOne binds a fresh index number to one student in one unit of work.
// A student that already has a number yields that number together with a
// batch.Skip error. Ineligible students fail with CodeValidation; an
// exhausted draw fails with CodeCollisionExhausted.
func (a *Allocator) AllocateOne(ctx context.Context, studentID id.StudentID) (models.IndexNumber, error) {
	ctx, span := a.tracer.Start(ctx, "allocation.AllocateOne",
		trace.WithAttributes(attribute.String("student_id", studentID.String())))
	defer span.End()

	var number models.IndexNumber
	err := a.tx.RunInTx(ctx, func(ctx context.Context) error {
		st, err := a.students.FindForUpdate(ctx, studentID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeNotFound, "student not found")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load student")
		}
		if st.HasIndexNumber() {
			number = *st.IndexNumber
			return batch.Skip(SkipAlreadyNumbered)
		}
		if !st.IsApproved() {
			return dErrors.New(dErrors.CodeValidation, "student is not approved")
		}
		paid, err := a.gate.IsCohortPaid(ctx, st.SchoolID, st.ExamYearID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to check cohort payment")
		}
		if !paid {
			return dErrors.New(dErrors.CodeValidation, "cohort invoice is not paid")
		}

		value, err := a.registry.Claim(ctx, registry.NamespaceIndexNumber, uuid.UUID(studentID), a.draw)
		if err != nil {
			return err
		}
		number = models.IndexNumber(value)

		if err := a.students.AssignIndexNumber(ctx, studentID, number); err != nil {
			if errors.Is(err, sentinel.ErrInvalidState) {
				return dErrors.New(dErrors.CodeConflict, "student changed concurrently")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to bind index number")
		}
		if a.auditor != nil {
			if err := a.auditor.Emit(ctx, audit.ComplianceEvent{
				Subject:  studentID.String(),
				Action:   audit.EventIndexNumberAllocated,
				Decision: "assigned",
			}); err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record audit event")
			}
		}
		return nil
	})

	if reason, skipped := batch.IsSkip(err); skipped {
		a.metrics.IncOutcome("skipped")
		span.SetAttributes(attribute.String("outcome", reason))
		return number, err
	}
	if err != nil {
		a.metrics.IncOutcome(string(dErrors.CodeOf(err)))
		span.RecordError(err)
		span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
		return "", err
	}

	a.metrics.IncOutcome("allocated")
	a.logger.InfoContext(ctx, "index number allocated",
		"event", audit.EventIndexNumberAllocated,
		"log_type", "audit",
		"student_id", studentID,
		"request_id", requestcontext.RequestID(ctx),
	)
	return number, nil
}

// Allocate numbers each student independently; one student's failure never
// stops the rest.
func (a *Allocator) Allocate(ctx context.Context, studentIDs []id.StudentID) batch.Report {
	ctx, span := a.tracer.Start(ctx, "allocation.Allocate",
		trace.WithAttributes(attribute.Int("students", len(studentIDs))))
	defer span.End()

	report := batch.Fold(ctx, studentIDs, func(ctx context.Context, studentID id.StudentID) error {
		_, err := a.AllocateOne(ctx, studentID)
		return err
	})
	span.SetAttributes(
		attribute.Int("succeeded", len(report.Succeeded)),
		attribute.Int("skipped", len(report.Skipped)),
		attribute.Int("failed", len(report.Failed)),
	)
	return report
}

func (a *Allocator) draw() (string, error) {
	n, err := models.DrawIndexNumber(a.entropy)
	return n.String(), err
}
