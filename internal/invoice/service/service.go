// Package service runs the invoice payment state machine. Every transition is
// a Can/Apply pair on the model followed by a guarded store write, so a
// concurrent writer turns into a conflict instead of a silent overwrite.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"examboard/internal/directory"
	"examboard/internal/invoice/metrics"
	"examboard/internal/invoice/models"
	"examboard/internal/invoice/store"
	"examboard/internal/notification"
	id "examboard/pkg/domain"
	dErrors "examboard/pkg/domain-errors"
	"examboard/pkg/platform/audit"
	"examboard/pkg/platform/sentinel"
	txcontext "examboard/pkg/platform/tx"
	"examboard/pkg/requestcontext"
)

// StudentCounter counts billable students of a cohort.
type StudentCounter interface {
	CountBillable(ctx context.Context, schoolID id.SchoolID, examYearID id.ExamYearID) (int, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.ComplianceEvent) error
}

type Schools interface {
	School(ctx context.Context, schoolID id.SchoolID) (*directory.School, error)
}

const (
	DefaultFeePerStudent int64 = 10000
	DefaultCurrency            = "UGX"
	maxReasonLength            = 500
)

type Service struct {
	invoices      store.Store
	students      StudentCounter
	tx            txcontext.Runner
	auditor       AuditPublisher
	metrics       *metrics.Metrics
	schools       Schools
	notifier      notification.Notifier
	logger        *slog.Logger
	feePerStudent int64
	currency      string
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithAuditPublisher(p AuditPublisher) Option {
	return func(s *Service) { s.auditor = p }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithNotifier tells the school when its slip is rejected.
func WithNotifier(n notification.Notifier, schools Schools) Option {
	return func(s *Service) {
		s.notifier = n
		s.schools = schools
	}
}

// WithFee sets the per-student fee in minor units.
func WithFee(feePerStudent int64, currency string) Option {
	return func(s *Service) {
		if feePerStudent > 0 {
			s.feePerStudent = feePerStudent
		}
		if currency != "" {
			s.currency = currency
		}
	}
}

func New(invoices store.Store, students StudentCounter, tx txcontext.Runner, opts ...Option) *Service {
	s := &Service{
		invoices:      invoices,
		students:      students,
		tx:            tx,
		notifier:      notification.Nop{},
		logger:        slog.Default(),
		feePerStudent: DefaultFeePerStudent,
		currency:      DefaultCurrency,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Get(ctx context.Context, invoiceID id.InvoiceID) (*models.Invoice, error) {
	inv, err := s.invoices.FindByID(ctx, invoiceID)
	if err != nil {
		return nil, translate(err, "failed to load invoice")
	}
	return inv, nil
}

// Generate creates the cohort's invoice, or recomputes it from the current
// student count while it is still pending.
func (s *Service) Generate(ctx context.Context, schoolID id.SchoolID, examYearID id.ExamYearID) (*models.Invoice, error) {
	var result *models.Invoice
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		count, err := s.students.CountBillable(ctx, schoolID, examYearID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to count students")
		}

		existing, err := s.invoices.FindByCohort(ctx, schoolID, examYearID)
		switch {
		case err == nil:
			result, err = s.recompute(ctx, existing, count)
			return err
		case !errors.Is(err, sentinel.ErrNotFound):
			return translate(err, "failed to load invoice")
		}

		inv, err := models.NewInvoice(id.InvoiceID(uuid.New()), schoolID, examYearID, count, s.feePerStudent, s.currency, requestcontext.Now(ctx))
		if err != nil {
			return dErrors.New(dErrors.CodeValidation, err.Error())
		}
		if err := s.invoices.Create(ctx, inv); err != nil {
			if errors.Is(err, sentinel.ErrAlreadyUsed) {
				return dErrors.New(dErrors.CodeConflict, "invoice for this cohort was created concurrently")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create invoice")
		}
		if err := s.emit(ctx, audit.EventInvoiceGenerated, inv, fmt.Sprintf("%d students", count)); err != nil {
			return err
		}
		result = inv
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.IncTransition("generate")
	return result, nil
}

// Recompute regenerates totals from the latest student count; pending only.
func (s *Service) Recompute(ctx context.Context, invoiceID id.InvoiceID) (*models.Invoice, error) {
	var result *models.Invoice
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		inv, err := s.invoices.FindByID(ctx, invoiceID)
		if err != nil {
			return translate(err, "failed to load invoice")
		}
		count, err := s.students.CountBillable(ctx, inv.SchoolID, inv.ExamYearID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to count students")
		}
		result, err = s.recompute(ctx, inv, count)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) recompute(ctx context.Context, inv *models.Invoice, count int) (*models.Invoice, error) {
	const transition = "recompute"
	if err := inv.CanRecompute(); err != nil {
		s.metrics.IncConflict(transition)
		return nil, asConflict(err)
	}
	expected, version := inv.Status, inv.Version
	inv.ApplyRecompute(count, s.feePerStudent, requestcontext.Now(ctx))
	if err := s.write(ctx, transition, inv, expected, version); err != nil {
		return nil, err
	}
	if err := s.emit(ctx, audit.EventInvoiceRecomputed, inv, fmt.Sprintf("%d students", count)); err != nil {
		return nil, err
	}
	s.metrics.IncTransition(transition)
	return inv, nil
}

// AttachSlip moves a pending invoice to processing, or replaces the slip of a
// processing one.
func (s *Service) AttachSlip(ctx context.Context, invoiceID id.InvoiceID, ev models.SlipEvidence) (*models.Invoice, error) {
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	return s.transition(ctx, invoiceID, "attach_slip", func(inv *models.Invoice) error {
		if err := inv.CanAttachSlip(); err != nil {
			return err
		}
		inv.ApplyAttachSlip(ev, requestcontext.Now(ctx))
		return nil
	}, audit.EventSlipAttached, ev.BankSlipReference)
}

// RejectSlip sends a processing invoice back to pending.
func (s *Service) RejectSlip(ctx context.Context, invoiceID id.InvoiceID, reason string) (*models.Invoice, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "rejection reason is required")
	}
	if len(reason) > maxReasonLength {
		return nil, dErrors.New(dErrors.CodeValidation, "rejection reason is too long")
	}
	inv, err := s.transition(ctx, invoiceID, "reject_slip", func(inv *models.Invoice) error {
		if err := inv.CanRejectSlip(); err != nil {
			return err
		}
		inv.ApplyRejectSlip(reason, requestcontext.Now(ctx))
		return nil
	}, audit.EventSlipRejected, reason)
	if err != nil {
		return nil, err
	}
	s.notifyRejected(ctx, inv)
	return inv, nil
}

func (s *Service) notifyRejected(ctx context.Context, inv *models.Invoice) {
	if s.schools == nil {
		return
	}
	school, err := s.schools.School(ctx, inv.SchoolID)
	if err != nil {
		s.logger.WarnContext(ctx, "school lookup for notification failed",
			"school_id", inv.SchoolID,
			"error", err,
		)
		return
	}
	s.notifier.Notify(context.WithoutCancel(ctx), notification.Notification{
		Kind:      notification.KindSlipRejected,
		Recipient: school.Email,
		SchoolID:  school.ID,
		Subject:   "Payment slip rejected for " + school.Name,
		Data: map[string]string{
			"invoice_id": inv.ID.String(),
			"reason":     inv.SlipRejection,
		},
		OccurredAt: requestcontext.Now(ctx),
	})
}

// ConfirmPayment moves processing to paid. Pending and paid invoices are
// rejected, so a repeated confirmation never credits twice.
func (s *Service) ConfirmPayment(ctx context.Context, invoiceID id.InvoiceID, c models.Confirmation) (*models.Invoice, error) {
	if c.ConfirmedBy.IsNil() {
		c.ConfirmedBy = requestcontext.UserID(ctx)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	inv, err := s.transition(ctx, invoiceID, "confirm", func(inv *models.Invoice) error {
		if err := inv.CanConfirm(); err != nil {
			return err
		}
		inv.ApplyConfirm(c, requestcontext.Now(ctx))
		return nil
	}, audit.EventPaymentConfirmed, fmt.Sprintf("paid %d", c.PaidAmount))
	if err != nil {
		return nil, err
	}
	if *inv.PaidAmount != inv.TotalAmount {
		s.logger.WarnContext(ctx, "paid amount differs from invoice total",
			"invoice_id", inv.ID,
			"paid_amount", *inv.PaidAmount,
			"total_amount", inv.TotalAmount,
		)
	}
	return inv, nil
}

// IsCohortPaid is the payment gate for approval and index allocation.
func (s *Service) IsCohortPaid(ctx context.Context, schoolID id.SchoolID, examYearID id.ExamYearID) (bool, error) {
	inv, err := s.invoices.FindByCohort(ctx, schoolID, examYearID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return false, nil
		}
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load invoice")
	}
	return inv.IsPaid(), nil
}

func (s *Service) transition(
	ctx context.Context,
	invoiceID id.InvoiceID,
	name string,
	apply func(inv *models.Invoice) error,
	event audit.AuditEvent,
	reason string,
) (*models.Invoice, error) {
	var result *models.Invoice
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		inv, err := s.invoices.FindByID(ctx, invoiceID)
		if err != nil {
			return translate(err, "failed to load invoice")
		}
		expected, version := inv.Status, inv.Version
		if err := apply(inv); err != nil {
			s.metrics.IncConflict(name)
			return asConflict(err)
		}
		if err := s.write(ctx, name, inv, expected, version); err != nil {
			return err
		}
		if err := s.emit(ctx, event, inv, reason); err != nil {
			return err
		}
		result = inv
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncTransition(name)
	s.logger.InfoContext(ctx, "invoice transitioned",
		"event", event,
		"log_type", "audit",
		"invoice_id", invoiceID,
		"status", result.Status,
		"request_id", requestcontext.RequestID(ctx),
	)
	return result, nil
}

func (s *Service) write(ctx context.Context, name string, inv *models.Invoice, expected models.Status, version int) error {
	if err := s.invoices.Update(ctx, inv, expected, version); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			s.metrics.IncConflict(name)
			return dErrors.New(dErrors.CodeConflict, "invoice changed concurrently; re-read and retry")
		}
		return translate(err, "failed to update invoice")
	}
	return nil
}

func (s *Service) emit(ctx context.Context, action audit.AuditEvent, inv *models.Invoice, reason string) error {
	if s.auditor == nil {
		return nil
	}
	err := s.auditor.Emit(ctx, audit.ComplianceEvent{
		Subject:  inv.ID.String(),
		Action:   action,
		Decision: inv.Status.String(),
		Reason:   reason,
	})
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record audit event")
	}
	return nil
}

func asConflict(err error) error {
	var de *dErrors.Error
	if errors.As(err, &de) && de.Code == dErrors.CodeInvariantViolation {
		return dErrors.New(dErrors.CodeConflict, de.Message)
	}
	return err
}

func translate(err error, msg string) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "invoice not found")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.New(dErrors.CodeConflict, "invoice changed concurrently; re-read and retry")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, msg)
	}
}
