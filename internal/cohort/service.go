// Package cohort drives the payment-triggered approval of a school's students
// for one exam year.
package cohort

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"examboard/internal/allocation"
	"examboard/internal/directory"
	invoicemodels "examboard/internal/invoice/models"
	"examboard/internal/notification"
	"examboard/internal/student/models"
	"examboard/pkg/batch"
	id "examboard/pkg/domain"
	dErrors "examboard/pkg/domain-errors"
	"examboard/pkg/platform/audit"
	"examboard/pkg/platform/sentinel"
	txcontext "examboard/pkg/platform/tx"
	"examboard/pkg/requestcontext"
)

// Skip reasons reported for students bulk approval leaves alone.
const (
	SkipRejected        = "student is rejected"
	SkipAlreadyNumbered = allocation.SkipAlreadyNumbered
)

type Invoices interface {
	Get(ctx context.Context, invoiceID id.InvoiceID) (*invoicemodels.Invoice, error)
	ConfirmPayment(ctx context.Context, invoiceID id.InvoiceID, c invoicemodels.Confirmation) (*invoicemodels.Invoice, error)
}

type Students interface {
	ListByCohort(ctx context.Context, cohort models.Cohort) ([]*models.Student, error)
	FindForUpdate(ctx context.Context, studentID id.StudentID) (*models.Student, error)
}

type Approver interface {
	ApproveForCredentialing(ctx context.Context, studentID id.StudentID) (*models.Student, error)
}

type Allocator interface {
	AllocateOne(ctx context.Context, studentID id.StudentID) (models.IndexNumber, error)
}

type Schools interface {
	School(ctx context.Context, schoolID id.SchoolID) (*directory.School, error)
}

type OpsTracker interface {
	Track(ctx context.Context, event audit.OpsEvent)
}

// Service approves and numbers a paid cohort.
type Service struct {
	invoices  Invoices
	students  Students
	approver  Approver
	allocator Allocator
	tx        txcontext.Runner
	schools   Schools
	notifier  notification.Notifier
	tracker   OpsTracker
	logger    *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithNotifier tells the school once a confirmation has been processed.
// Notifications need WithSchools to find the recipient.
func WithNotifier(n notification.Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func WithSchools(schools Schools) Option {
	return func(s *Service) { s.schools = schools }
}

func WithOpsTracker(t OpsTracker) Option {
	return func(s *Service) { s.tracker = t }
}

func New(invoices Invoices, students Students, approver Approver, allocator Allocator, tx txcontext.Runner, opts ...Option) *Service {
	s := &Service{
		invoices:  invoices,
		students:  students,
		approver:  approver,
		allocator: allocator,
		tx:        tx,
		notifier:  notification.Nop{},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// BulkApprove approves and numbers every eligible student of the invoice's
// cohort. Each student is handled in its own unit of work: a pending student is
// approved and numbered together or not at all. Re-running it over a processed
// cohort changes nothing.
func (s *Service) BulkApprove(ctx context.Context, invoiceID id.InvoiceID) (batch.Report, error) {
	inv, err := s.invoices.Get(ctx, invoiceID)
	if err != nil {
		return batch.Report{}, err
	}
	if inv.Status != invoicemodels.StatusPaid {
		return batch.Report{}, dErrors.New(dErrors.CodeValidation, "cohort invoice is not paid")
	}
	return s.approveCohort(ctx, inv)
}

// ConfirmAndApprove confirms payment and then bulk approves the cohort. The
// confirmation stands even when individual students fail; the school is
// notified afterwards.
func (s *Service) ConfirmAndApprove(ctx context.Context, invoiceID id.InvoiceID, c invoicemodels.Confirmation) (*invoicemodels.Invoice, batch.Report, error) {
	inv, err := s.invoices.ConfirmPayment(ctx, invoiceID, c)
	if err != nil {
		return nil, batch.Report{}, err
	}
	report, err := s.approveCohort(ctx, inv)
	if err != nil {
		return inv, report, err
	}
	s.notify(ctx, inv, report)
	return inv, report, nil
}

func (s *Service) approveCohort(ctx context.Context, inv *invoicemodels.Invoice) (batch.Report, error) {
	cohort := models.Cohort{SchoolID: inv.SchoolID, ExamYearID: inv.ExamYearID}
	students, err := s.students.ListByCohort(ctx, cohort)
	if err != nil {
		return batch.Report{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list cohort")
	}
	ids := make([]id.StudentID, 0, len(students))
	for _, st := range students {
		ids = append(ids, st.ID)
	}

	report := batch.Fold(ctx, ids, s.approveOne)

	s.logger.InfoContext(ctx, "cohort bulk approval finished",
		"event", audit.EventCohortBulkApproved,
		"invoice_id", inv.ID,
		"succeeded", len(report.Succeeded),
		"skipped", len(report.Skipped),
		"failed", len(report.Failed),
		"request_id", requestcontext.RequestID(ctx),
	)
	if s.tracker != nil {
		s.tracker.Track(ctx, audit.OpsEvent{
			Subject:   inv.ID.String(),
			Action:    audit.EventCohortBulkApproved,
			Decision:  strconv.Itoa(len(report.Succeeded)) + "/" + strconv.Itoa(report.Total()),
			RequestID: requestcontext.RequestID(ctx),
		})
	}
	return report, nil
}

func (s *Service) approveOne(ctx context.Context, studentID id.StudentID) error {
	return s.tx.RunInTx(ctx, func(ctx context.Context) error {
		st, err := s.students.FindForUpdate(ctx, studentID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeNotFound, "student not found")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load student")
		}
		switch st.Status {
		case models.StatusRejected:
			return batch.Skip(SkipRejected)
		case models.StatusApproved:
			if st.HasIndexNumber() {
				return batch.Skip(SkipAlreadyNumbered)
			}
		case models.StatusPending:
			if _, err := s.approver.ApproveForCredentialing(ctx, studentID); err != nil {
				return err
			}
		}
		_, err = s.allocator.AllocateOne(ctx, studentID)
		return err
	})
}

func (s *Service) notify(ctx context.Context, inv *invoicemodels.Invoice, report batch.Report) {
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
		Kind:      notification.KindPaymentConfirmed,
		Recipient: school.Email,
		SchoolID:  school.ID,
		Subject:   "Payment confirmed for " + school.Name,
		Data: map[string]string{
			"invoice_id": inv.ID.String(),
			"approved":   strconv.Itoa(len(report.Succeeded)),
			"skipped":    strconv.Itoa(len(report.Skipped)),
			"failed":     strconv.Itoa(len(report.Failed)),
		},
		OccurredAt: requestcontext.Now(ctx),
	})
}
