package allocation

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"examboard/internal/registry"
	registrystore "examboard/internal/registry/store"
	"examboard/internal/student/models"
	studentstore "examboard/internal/student/store"
	"examboard/pkg/batch"
	id "examboard/pkg/domain"
	dErrors "examboard/pkg/domain-errors"
	"examboard/pkg/platform/audit"
	"examboard/pkg/platform/audit/publishers/compliance"
	auditmemory "examboard/pkg/platform/audit/store/memory"
	txcontext "examboard/pkg/platform/tx"
)

type gate struct {
	mu   sync.Mutex
	paid map[models.Cohort]bool
}

func (g *gate) IsCohortPaid(_ context.Context, schoolID id.SchoolID, examYearID id.ExamYearID) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.paid[models.Cohort{SchoolID: schoolID, ExamYearID: examYearID}], nil
}

type AllocatorSuite struct {
	suite.Suite
	students  *studentstore.InMemoryStore
	reserved  *registrystore.InMemoryStore
	audit     *auditmemory.InMemoryStore
	runner    *txcontext.MemoryRunner
	gate      *gate
	metrics   *Metrics
	allocator *Allocator
	cohort    models.Cohort
	ctx       context.Context
}

func TestAllocatorSuite(t *testing.T) {
	suite.Run(t, new(AllocatorSuite))
}

func (s *AllocatorSuite) SetupTest() {
	s.ctx = context.Background()
	s.students = studentstore.NewInMemory()
	s.reserved = registrystore.NewInMemory()
	s.audit = auditmemory.NewInMemoryStore()
	s.runner = txcontext.NewMemoryRunner()
	s.cohort = models.Cohort{SchoolID: id.SchoolID(uuid.New()), ExamYearID: id.ExamYearID(uuid.New())}
	s.gate = &gate{paid: map[models.Cohort]bool{s.cohort: true}}
	s.metrics = NewMetrics(prometheus.NewRegistry())
	s.allocator = s.newAllocator(registry.New(s.reserved))
}

func (s *AllocatorSuite) newAllocator(reg *registry.Registry, opts ...Option) *Allocator {
	opts = append([]Option{
		WithAuditPublisher(compliance.New(s.audit)),
		WithMetrics(s.metrics),
	}, opts...)
	return New(s.students, s.gate, reg, s.runner, opts...)
}

func (s *AllocatorSuite) seed(cohort models.Cohort, status models.Status) id.StudentID {
	st, err := models.NewStudent(id.StudentID(uuid.New()), cohort, "Hassan", "Ssali", 7, time.Now())
	s.Require().NoError(err)
	st.Status = status
	s.Require().NoError(s.students.Create(s.ctx, st))
	return st.ID
}

func (s *AllocatorSuite) TestAllocateOne_BindsNumber() {
	studentID := s.seed(s.cohort, models.StatusApproved)

	n, err := s.allocator.AllocateOne(s.ctx, studentID)
	s.Require().NoError(err)
	_, err = models.ParseIndexNumber(n.String())
	s.NoError(err)

	st, err := s.students.FindByID(s.ctx, studentID)
	s.Require().NoError(err)
	s.Equal(n, *st.IndexNumber)
	s.Equal(models.StatusApproved, st.Status, "allocation does not change status")
	s.Len(s.audit.ListByAction(s.ctx, audit.EventIndexNumberAllocated), 1)
}

func (s *AllocatorSuite) TestAllocateOne_PaymentGate() {
	unpaid := models.Cohort{SchoolID: id.SchoolID(uuid.New()), ExamYearID: s.cohort.ExamYearID}
	studentID := s.seed(unpaid, models.StatusApproved)

	_, err := s.allocator.AllocateOne(s.ctx, studentID)
	s.True(dErrors.Is(err, dErrors.CodeValidation))

	st, err := s.students.FindByID(s.ctx, studentID)
	s.Require().NoError(err)
	s.Nil(st.IndexNumber)
	s.Zero(s.reserved.Count(registry.NamespaceIndexNumber))
}

func (s *AllocatorSuite) TestAllocateOne_RequiresApproval() {
	for _, status := range []models.Status{models.StatusPending, models.StatusRejected} {
		_, err := s.allocator.AllocateOne(s.ctx, s.seed(s.cohort, status))
		s.True(dErrors.Is(err, dErrors.CodeValidation), string(status))
	}
}

func (s *AllocatorSuite) TestAllocateOne_AlreadyNumberedIsSkipped() {
	studentID := s.seed(s.cohort, models.StatusApproved)
	first, err := s.allocator.AllocateOne(s.ctx, studentID)
	s.Require().NoError(err)

	again, err := s.allocator.AllocateOne(s.ctx, studentID)
	reason, skipped := batch.IsSkip(err)
	s.True(skipped)
	s.Equal(SkipAlreadyNumbered, reason)
	s.Equal(first, again, "number is immutable")
	s.Equal(1, s.reserved.Count(registry.NamespaceIndexNumber))
}

func (s *AllocatorSuite) TestAllocate_ExhaustionFailsOnlyThatStudent() {
	// an all-zero entropy source always draws 100000
	zeros := bytes.NewReader(make([]byte, 1<<12))
	allocator := s.newAllocator(registry.New(s.reserved, registry.WithMaxAttempts(3)), WithEntropy(zeros))

	first := s.seed(s.cohort, models.StatusApproved)
	second := s.seed(s.cohort, models.StatusApproved)
	numbered := s.seed(s.cohort, models.StatusApproved)
	_, err := s.allocator.AllocateOne(s.ctx, numbered)
	s.Require().NoError(err)

	report := allocator.Allocate(s.ctx, []id.StudentID{first, second, numbered})

	s.Equal([]string{first.String()}, report.Succeeded)
	s.Require().Len(report.Failed, 1)
	s.Equal(second.String(), report.Failed[0].ID)
	s.Equal(dErrors.CodeCollisionExhausted, report.Failed[0].Code)
	s.Require().Len(report.Skipped, 1)
	s.Equal(numbered.String(), report.Skipped[0].ID)

	st, err := s.students.FindByID(s.ctx, second)
	s.Require().NoError(err)
	s.Nil(st.IndexNumber)
	s.Equal(float64(1), testutil.ToFloat64(s.metrics.Outcomes.WithLabelValues(string(dErrors.CodeCollisionExhausted))))
}

func (s *AllocatorSuite) TestAllocate_ConcurrentOverlappingBatches() {
	ids := make([]id.StudentID, 50)
	for i := range ids {
		ids[i] = s.seed(s.cohort, models.StatusApproved)
	}

	var wg sync.WaitGroup
	for _, part := range [][]id.StudentID{ids[:30], ids[20:], ids} {
		wg.Add(1)
		go func(part []id.StudentID) {
			defer wg.Done()
			report := s.allocator.Allocate(s.ctx, part)
			s.Empty(report.Failed)
		}(part)
	}
	wg.Wait()

	seen := make(map[models.IndexNumber]id.StudentID)
	for _, studentID := range ids {
		st, err := s.students.FindByID(s.ctx, studentID)
		s.Require().NoError(err)
		s.Require().NotNil(st.IndexNumber)
		other, dup := seen[*st.IndexNumber]
		s.False(dup, "%s shared by %s and %s", *st.IndexNumber, other, studentID)
		seen[*st.IndexNumber] = studentID
	}
	s.Equal(50, s.reserved.Count(registry.NamespaceIndexNumber))
}

func (s *AllocatorSuite) TestAllocateOne_AuditFailureLeavesNoReservation() {
	failing := New(s.students, s.gate, registry.New(s.reserved), s.runner,
		WithAuditPublisher(compliance.New(brokenAudit{})))
	studentID := s.seed(s.cohort, models.StatusApproved)

	_, err := failing.AllocateOne(s.ctx, studentID)
	s.Require().Error(err)
	s.Zero(s.reserved.Count(registry.NamespaceIndexNumber))

	st, err := s.students.FindByID(s.ctx, studentID)
	s.Require().NoError(err)
	s.Nil(st.IndexNumber)
}

type brokenAudit struct{}

func (brokenAudit) Append(context.Context, audit.Event) error { return assertErr }
func (brokenAudit) ListBySubject(context.Context, string) ([]audit.Event, error) {
	return nil, nil
}

var assertErr = dErrors.New(dErrors.CodeUnavailable, "outbox unavailable")
