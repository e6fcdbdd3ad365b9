package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"examboard/internal/student/models"
	"examboard/internal/student/store"
	id "examboard/pkg/domain"
	dErrors "examboard/pkg/domain-errors"
	"examboard/pkg/platform/audit"
	"examboard/pkg/platform/sentinel"
	txcontext "examboard/pkg/platform/tx"
	"examboard/pkg/requestcontext"
)

// PaymentGate reports whether a cohort's invoice has been paid.
type PaymentGate interface {
	IsCohortPaid(ctx context.Context, schoolID id.SchoolID, examYearID id.ExamYearID) (bool, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.ComplianceEvent) error
}

const maxReasonLength = 500

// Service runs the student approval state machine.
type Service struct {
	students store.Store
	gate     PaymentGate
	tx       txcontext.Runner
	auditor  AuditPublisher
	logger   *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithAuditPublisher(p AuditPublisher) Option {
	return func(s *Service) { s.auditor = p }
}

func New(students store.Store, gate PaymentGate, tx txcontext.Runner, opts ...Option) *Service {
	s := &Service{
		students: students,
		gate:     gate,
		tx:       tx,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Get(ctx context.Context, studentID id.StudentID) (*models.Student, error) {
	st, err := s.students.FindByID(ctx, studentID)
	if err != nil {
		return nil, translate(err, "failed to load student")
	}
	return st, nil
}

// ListCohort returns every student of a cohort in registration order.
func (s *Service) ListCohort(ctx context.Context, cohort models.Cohort) ([]*models.Student, error) {
	students, err := s.students.ListByCohort(ctx, cohort)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list cohort")
	}
	return students, nil
}

// Approve is the administrative correction path: it approves a pending student
// without consulting the payment gate.
func (s *Service) Approve(ctx context.Context, studentID id.StudentID) (*models.Student, error) {
	var approved *models.Student
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		st, err := s.lock(ctx, studentID)
		if err != nil {
			return err
		}
		approved, err = s.approveLocked(ctx, st, "administrative correction")
		return err
	})
	if err != nil {
		return nil, err
	}
	return approved, nil
}

// ApproveForCredentialing approves a pending student only once the cohort's
// invoice is paid. Callers that also allocate an index number run both inside
// one unit of work.
func (s *Service) ApproveForCredentialing(ctx context.Context, studentID id.StudentID) (*models.Student, error) {
	var approved *models.Student
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		st, err := s.lock(ctx, studentID)
		if err != nil {
			return err
		}
		paid, err := s.gate.IsCohortPaid(ctx, st.SchoolID, st.ExamYearID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to check cohort payment")
		}
		if !paid {
			return dErrors.New(dErrors.CodeValidation, "cohort invoice is not paid")
		}
		approved, err = s.approveLocked(ctx, st, "cohort payment confirmed")
		return err
	})
	if err != nil {
		return nil, err
	}
	return approved, nil
}

func (s *Service) Reject(ctx context.Context, studentID id.StudentID, reason string) (*models.Student, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "rejection reason is required")
	}
	if len(reason) > maxReasonLength {
		return nil, dErrors.New(dErrors.CodeValidation, "rejection reason is too long")
	}

	var rejected *models.Student
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		st, err := s.lock(ctx, studentID)
		if err != nil {
			return err
		}
		if err := st.CanReject(); err != nil {
			return asConflict(err)
		}
		st.ApplyRejection(reason, requestcontext.Now(ctx))
		if err := s.students.Transition(ctx, st, models.StatusPending); err != nil {
			return translate(err, "failed to reject student")
		}
		if err := s.emit(ctx, audit.EventStudentRejected, st.ID, "denied", reason); err != nil {
			return err
		}
		rejected = st
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "student rejected",
		"event", audit.EventStudentRejected,
		"log_type", "audit",
		"student_id", studentID,
		"request_id", requestcontext.RequestID(ctx),
	)
	return rejected, nil
}

func (s *Service) lock(ctx context.Context, studentID id.StudentID) (*models.Student, error) {
	st, err := s.students.FindForUpdate(ctx, studentID)
	if err != nil {
		return nil, translate(err, "failed to load student")
	}
	return st, nil
}

func (s *Service) approveLocked(ctx context.Context, st *models.Student, reason string) (*models.Student, error) {
	if err := st.CanApprove(); err != nil {
		return nil, asConflict(err)
	}
	st.ApplyApproval(requestcontext.Now(ctx))
	if err := s.students.Transition(ctx, st, models.StatusPending); err != nil {
		return nil, translate(err, "failed to approve student")
	}
	if err := s.emit(ctx, audit.EventStudentApproved, st.ID, "granted", reason); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "student approved",
		"event", audit.EventStudentApproved,
		"log_type", "audit",
		"student_id", st.ID,
		"reason", reason,
		"request_id", requestcontext.RequestID(ctx),
	)
	return st, nil
}

func (s *Service) emit(ctx context.Context, action audit.AuditEvent, studentID id.StudentID, decision, reason string) error {
	if s.auditor == nil {
		return nil
	}
	err := s.auditor.Emit(ctx, audit.ComplianceEvent{
		Subject:  studentID.String(),
		Action:   action,
		Decision: decision,
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
		return dErrors.New(dErrors.CodeNotFound, "student not found")
	case errors.Is(err, sentinel.ErrInvalidState):
		return dErrors.New(dErrors.CodeConflict, "student changed concurrently")
	case errors.Is(err, sentinel.ErrAlreadyUsed):
		return dErrors.New(dErrors.CodeConflict, "student already exists")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, msg)
	}
}

// BillableCounter counts the cohort's students that are not rejected; the
// invoice bills exactly these.
type BillableCounter struct {
	students store.Store
}

func NewBillableCounter(students store.Store) *BillableCounter {
	return &BillableCounter{students: students}
}

func (c *BillableCounter) CountBillable(ctx context.Context, schoolID id.SchoolID, examYearID id.ExamYearID) (int, error) {
	cohort := models.Cohort{SchoolID: schoolID, ExamYearID: examYearID}
	n, err := c.students.CountByCohort(ctx, cohort, models.StatusPending, models.StatusApproved)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to count cohort")
	}
	return n, nil
}
