//go:build integration

package service_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"examboard/internal/credential/models"
	"examboard/internal/credential/service"
	"examboard/internal/credential/store"
	"examboard/internal/directory"
	"examboard/internal/platform/postgres"
	"examboard/internal/registry"
	registrystore "examboard/internal/registry/store"
	"examboard/internal/rendering"
	"examboard/internal/results"
	studentmodels "examboard/internal/student/models"
	studentstore "examboard/internal/student/store"
	id "examboard/pkg/domain"
	dErrors "examboard/pkg/domain-errors"
	"examboard/pkg/platform/audit/publishers/compliance"
	auditpostgres "examboard/pkg/platform/audit/store/postgres"
	"examboard/pkg/requestcontext"
	"examboard/pkg/testutil/containers"
)

type failingRenderer struct{}

func (failingRenderer) Render(context.Context, rendering.Payload) (rendering.Reference, error) {
	return "", fmt.Errorf("%w: upstream unavailable", rendering.ErrRendering)
}

type CredentialPostgresSuite struct {
	suite.Suite
	postgres    *containers.PostgresContainer
	credentials *store.PostgresStore
	students    *studentstore.PostgresStore
	results     *results.Service
	year        directory.ExamYear
	school      directory.School
	ctx         context.Context
}

func TestCredentialPostgresSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(CredentialPostgresSuite))
}

func (s *CredentialPostgresSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.credentials = store.NewPostgres(s.postgres.DB)
	s.students = studentstore.NewPostgres(s.postgres.DB)
	s.results = results.NewService(results.NewPostgres(s.postgres.DB), nil)
}

func (s *CredentialPostgresSuite) SetupTest() {
	s.ctx = requestcontext.WithUserID(context.Background(), id.UserID(uuid.New()))
	s.Require().NoError(s.postgres.TruncateTables(s.ctx,
		"outbox", "credentials", "results", "identifier_registry", "students", "exam_years", "schools"))

	dir := directory.NewPostgres(s.postgres.DB)
	s.school = directory.School{ID: id.SchoolID(uuid.New()), Name: "Mengo Senior School", Email: "exams@mengo.example"}
	s.year = directory.ExamYear{ID: id.ExamYearID(uuid.New()), Year: 2026, Label: "2026 Final"}
	s.Require().NoError(dir.CreateSchool(s.ctx, s.school))
	s.Require().NoError(dir.CreateExamYear(s.ctx, s.year))
}

func (s *CredentialPostgresSuite) service(renderer rendering.Renderer) *service.Service {
	db := s.postgres.DB
	return service.New(s.credentials, s.students, s.results, directory.New(directory.NewPostgres(db)),
		registry.New(registrystore.NewPostgres(db)), renderer, postgres.NewTxRunner(db, 10*time.Second),
		service.WithAuditPublisher(compliance.New(auditpostgres.New(db))))
}

func (s *CredentialPostgresSuite) approvedStudent(number string) id.StudentID {
	st, err := studentmodels.NewStudent(id.StudentID(uuid.New()),
		studentmodels.Cohort{SchoolID: s.school.ID, ExamYearID: s.year.ID}, "Grace", "Achieng", 12, time.Now())
	s.Require().NoError(err)
	st.Status = studentmodels.StatusApproved
	n := studentmodels.IndexNumber(number)
	st.IndexNumber = &n
	s.Require().NoError(s.students.Create(s.ctx, st))

	_, err = s.results.Record(s.ctx, results.RecordRequest{
		StudentID: st.ID, ExamYearID: s.year.ID, SubjectCode: "MTH", SubjectName: "Mathematics", Score: 82, MaxScore: 100,
	})
	s.Require().NoError(err)
	_, err = s.results.Publish(s.ctx, s.year.ID, []id.StudentID{st.ID})
	s.Require().NoError(err)
	return st.ID
}

func (s *CredentialPostgresSuite) count(table string) int {
	var n int
	s.Require().NoError(s.postgres.DB.QueryRowContext(s.ctx, "SELECT count(*) FROM "+table).Scan(&n))
	return n
}

func (s *CredentialPostgresSuite) TestIssueRevokeAndLookup() {
	studentID := s.approvedStudent("300001")
	svc := s.service(rendering.LocalRenderer{})

	c, err := svc.Issue(s.ctx, service.IssueRequest{StudentID: studentID, ExamYearID: s.year.ID, Kind: models.KindCertificate})
	s.Require().NoError(err)

	found, err := s.credentials.FindByToken(s.ctx, c.VerificationToken)
	s.Require().NoError(err)
	s.Equal(c.ID, found.ID)
	s.Equal(c.DocumentNumber, found.DocumentNumber)
	s.Equal("Very Good", found.Grade.Label)
	s.InDelta(82.0, found.Percentage, 0.001)
	s.Equal(2, s.count("identifier_registry"))

	replacement, err := svc.Reissue(s.ctx, c.ID, "wrong photo")
	s.Require().NoError(err)

	old, err := s.credentials.FindByToken(s.ctx, c.VerificationToken)
	s.Require().NoError(err)
	s.True(old.IsRevoked())
	s.Require().NotNil(old.SupersededBy)
	s.Equal(replacement.ID, *old.SupersededBy)

	n, err := svc.RecordPrint(s.ctx, replacement.ID)
	s.Require().NoError(err)
	s.Equal(1, n)
	_, err = svc.RecordPrint(s.ctx, c.ID)
	s.True(dErrors.Is(err, dErrors.CodeConflict))
}

func (s *CredentialPostgresSuite) TestRenderFailureRollsBack() {
	studentID := s.approvedStudent("300002")

	_, err := s.service(failingRenderer{}).Issue(s.ctx, service.IssueRequest{
		StudentID: studentID, ExamYearID: s.year.ID, Kind: models.KindTranscript,
	})
	s.True(dErrors.Is(err, dErrors.CodeRenderingFailed))

	s.Equal(0, s.count("credentials"))
	s.Equal(0, s.count("identifier_registry"))
	s.Equal(0, s.count("outbox"))
}
