package cohort

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"examboard/internal/allocation"
	"examboard/internal/directory"
	invoicemodels "examboard/internal/invoice/models"
	invoiceservice "examboard/internal/invoice/service"
	invoicestore "examboard/internal/invoice/store"
	"examboard/internal/notification"
	notificationmocks "examboard/internal/notification/mocks"
	"examboard/internal/registry"
	registrystore "examboard/internal/registry/store"
	"examboard/internal/student/models"
	studentservice "examboard/internal/student/service"
	studentstore "examboard/internal/student/store"
	id "examboard/pkg/domain"
	dErrors "examboard/pkg/domain-errors"
	"examboard/pkg/platform/audit"
	"examboard/pkg/platform/audit/publishers/compliance"
	"examboard/pkg/platform/audit/publishers/ops"
	auditmemory "examboard/pkg/platform/audit/store/memory"
	txcontext "examboard/pkg/platform/tx"
	"examboard/pkg/requestcontext"
	"examboard/pkg/testutil"
)

type CohortSuite struct {
	suite.Suite
	students  *studentstore.InMemoryStore
	invoices  *invoicestore.InMemoryStore
	reserved  *registrystore.InMemoryStore
	audit     *auditmemory.InMemoryStore
	schools   *directory.InMemoryStore
	runner    *txcontext.MemoryRunner
	invoice   *invoiceservice.Service
	approver  *studentservice.Service
	allocator *allocation.Allocator
	school    directory.School
	cohort    models.Cohort
	ctx       context.Context
}

func TestCohortSuite(t *testing.T) {
	suite.Run(t, new(CohortSuite))
}

func (s *CohortSuite) SetupTest() {
	s.ctx = requestcontext.WithUserID(context.Background(), id.UserID(uuid.New()))
	s.students = studentstore.NewInMemory()
	s.invoices = invoicestore.NewInMemory()
	s.reserved = registrystore.NewInMemory()
	s.audit = auditmemory.NewInMemoryStore()
	s.runner = txcontext.NewMemoryRunner()

	s.schools = directory.NewInMemory()
	s.school = directory.School{ID: id.SchoolID(uuid.New()), Name: "Kibuli Islamic School", Email: "bursar@kibuli.example"}
	s.schools.PutSchool(s.school)
	s.cohort = models.Cohort{SchoolID: s.school.ID, ExamYearID: id.ExamYearID(uuid.New())}

	publisher := compliance.New(s.audit)
	s.invoice = invoiceservice.New(s.invoices, studentservice.NewBillableCounter(s.students), s.runner,
		invoiceservice.WithAuditPublisher(publisher))
	s.approver = studentservice.New(s.students, s.invoice, s.runner,
		studentservice.WithAuditPublisher(publisher))
	s.allocator = allocation.New(s.students, s.invoice, registry.New(s.reserved), s.runner,
		allocation.WithAuditPublisher(publisher))
}

func (s *CohortSuite) service(opts ...Option) *Service {
	return New(s.invoice, s.students, s.approver, s.allocator, s.runner, opts...)
}

func (s *CohortSuite) seed(n int, status models.Status) []id.StudentID {
	ids := make([]id.StudentID, n)
	for i := range ids {
		st, err := models.NewStudent(id.StudentID(uuid.New()), s.cohort, "Aisha", "Nakato", 7, time.Now())
		s.Require().NoError(err)
		st.Status = status
		s.Require().NoError(s.students.Create(s.ctx, st))
		ids[i] = st.ID
	}
	return ids
}

// processingInvoice bills the seeded cohort and attaches a slip.
func (s *CohortSuite) processingInvoice() *invoicemodels.Invoice {
	inv, err := s.invoice.Generate(s.ctx, s.cohort.SchoolID, s.cohort.ExamYearID)
	s.Require().NoError(err)
	inv, err = s.invoice.AttachSlip(s.ctx, inv.ID, invoicemodels.SlipEvidence{
		PaymentMethod:     "bank_transfer",
		BankSlipReference: "DFCU-7781",
	})
	s.Require().NoError(err)
	return inv
}

func (s *CohortSuite) confirmation(inv *invoicemodels.Invoice) invoicemodels.Confirmation {
	return invoicemodels.Confirmation{PaidAmount: inv.TotalAmount, PaymentDate: time.Now()}
}

func (s *CohortSuite) TestConfirmAndApprove_FiftyPendingStudents() {
	ids := s.seed(50, models.StatusPending)
	inv := s.processingInvoice()
	svc := s.service()

	paid, report, err := svc.ConfirmAndApprove(s.ctx, inv.ID, s.confirmation(inv))
	s.Require().NoError(err)
	s.Equal(invoicemodels.StatusPaid, paid.Status)
	s.Len(report.Succeeded, 50)
	s.Empty(report.Failed)

	seen := make(map[models.IndexNumber]bool)
	for _, studentID := range ids {
		st, err := s.students.FindByID(s.ctx, studentID)
		s.Require().NoError(err)
		s.Equal(models.StatusApproved, st.Status)
		s.Require().NotNil(st.IndexNumber)
		s.False(seen[*st.IndexNumber], "duplicate index number %s", *st.IndexNumber)
		seen[*st.IndexNumber] = true
	}

	testutil.When(s.T(), "bulk approval is re-run", func(t *testing.T) {
		again, err := svc.BulkApprove(s.ctx, inv.ID)
		s.Require().NoError(err)
		s.Empty(again.Succeeded, "no new allocations")
		s.Empty(again.Failed)
		s.Require().Len(again.Skipped, 50)
		for _, entry := range again.Skipped {
			s.Equal(SkipAlreadyNumbered, entry.Reason)
		}
		s.Equal(50, s.reserved.Count(registry.NamespaceIndexNumber))
	})
}

func (s *CohortSuite) TestBulkApprove_RequiresPaidInvoice() {
	s.seed(3, models.StatusPending)
	inv := s.processingInvoice()

	_, err := s.service().BulkApprove(s.ctx, inv.ID)
	s.True(dErrors.Is(err, dErrors.CodeValidation))

	students, err := s.students.ListByCohort(s.ctx, s.cohort)
	s.Require().NoError(err)
	for _, st := range students {
		s.Equal(models.StatusPending, st.Status)
	}
}

func (s *CohortSuite) TestBulkApprove_MixedCohort() {
	pending := s.seed(2, models.StatusPending)
	rejected := s.seed(1, models.StatusRejected)
	approved := s.seed(1, models.StatusApproved)
	inv := s.processingInvoice()
	_, err := s.invoice.ConfirmPayment(s.ctx, inv.ID, s.confirmation(inv))
	s.Require().NoError(err)

	report, err := s.service().BulkApprove(s.ctx, inv.ID)
	s.Require().NoError(err)

	s.ElementsMatch([]string{pending[0].String(), pending[1].String(), approved[0].String()}, report.Succeeded)
	s.Require().Len(report.Skipped, 1)
	s.Equal(rejected[0].String(), report.Skipped[0].ID)
	s.Equal(SkipRejected, report.Skipped[0].Reason)

	st, err := s.students.FindByID(s.ctx, rejected[0])
	s.Require().NoError(err)
	s.Nil(st.IndexNumber)
}

func (s *CohortSuite) TestBulkApprove_FailedAllocationKeepsStudentPending() {
	// every draw from an all-zero source is 100000, so only one student can be numbered
	s.allocator = allocation.New(s.students, s.invoice,
		registry.New(s.reserved, registry.WithMaxAttempts(2)), s.runner,
		allocation.WithEntropy(bytes.NewReader(make([]byte, 1<<12))))
	ids := s.seed(2, models.StatusPending)
	inv := s.processingInvoice()
	_, err := s.invoice.ConfirmPayment(s.ctx, inv.ID, s.confirmation(inv))
	s.Require().NoError(err)

	report, err := s.service().BulkApprove(s.ctx, inv.ID)
	s.Require().NoError(err)
	s.Len(report.Succeeded, 1)
	s.Require().Len(report.Failed, 1)
	s.Equal(dErrors.CodeCollisionExhausted, report.Failed[0].Code)

	failed, err := id.ParseStudentID(report.Failed[0].ID)
	s.Require().NoError(err)
	s.Contains(ids, failed)
	st, err := s.students.FindByID(s.ctx, failed)
	s.Require().NoError(err)
	s.Equal(models.StatusPending, st.Status, "approval rolled back with the allocation")
	s.Nil(st.IndexNumber)
	s.Empty(mustEvents(s, failed.String()), "no audit trail for the rolled back student")
}

func (s *CohortSuite) TestConfirmAndApprove_NotifiesSchool() {
	s.seed(2, models.StatusPending)
	inv := s.processingInvoice()

	ctrl := gomock.NewController(s.T())
	notifier := notificationmocks.NewMockNotifier(ctrl)
	notifier.EXPECT().
		Notify(gomock.Any(), gomock.Any()).
		Do(func(_ context.Context, n notification.Notification) {
			s.Equal(notification.KindPaymentConfirmed, n.Kind)
			s.Equal(s.school.Email, n.Recipient)
			s.Equal("2", n.Data["approved"])
		})

	_, _, err := s.service(WithNotifier(notifier), WithSchools(directory.New(s.schools))).
		ConfirmAndApprove(s.ctx, inv.ID, s.confirmation(inv))
	s.Require().NoError(err)
}

func (s *CohortSuite) TestConfirmAndApprove_PendingInvoiceIsConflict() {
	s.seed(1, models.StatusPending)
	inv, err := s.invoice.Generate(s.ctx, s.cohort.SchoolID, s.cohort.ExamYearID)
	s.Require().NoError(err)

	ctrl := gomock.NewController(s.T())
	notifier := notificationmocks.NewMockNotifier(ctrl)
	notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).Times(0)

	_, _, err = s.service(WithNotifier(notifier), WithSchools(directory.New(s.schools))).
		ConfirmAndApprove(s.ctx, inv.ID, s.confirmation(inv))
	s.True(dErrors.Is(err, dErrors.CodeConflict))
}

func (s *CohortSuite) TestBulkApprove_TracksOutcome() {
	s.seed(2, models.StatusPending)
	inv := s.processingInvoice()
	_, err := s.invoice.ConfirmPayment(s.ctx, inv.ID, s.confirmation(inv))
	s.Require().NoError(err)

	_, err = s.service(WithOpsTracker(ops.New(s.audit))).BulkApprove(s.ctx, inv.ID)
	s.Require().NoError(err)

	events := s.audit.ListByAction(s.ctx, audit.EventCohortBulkApproved)
	s.Require().Len(events, 1)
	s.Equal("2/2", events[0].Decision)
}

func mustEvents(s *CohortSuite, subject string) []audit.Event {
	events, err := s.audit.ListBySubject(s.ctx, subject)
	s.Require().NoError(err)
	return events
}
