// Package service issues, reissues and revokes certificates and transcripts.
//
// Issuance is one unit of work: the document number and verification token are
// reserved, the document is rendered and the credential row is written
// together. A rendering failure rolls back every reservation.
package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"examboard/internal/credential/models"
	"examboard/internal/credential/store"
	"examboard/internal/directory"
	"examboard/internal/grading"
	"examboard/internal/notification"
	"examboard/internal/registry"
	"examboard/internal/rendering"
	"examboard/internal/results"
	studentmodels "examboard/internal/student/models"
	"examboard/pkg/batch"
	id "examboard/pkg/domain"
	dErrors "examboard/pkg/domain-errors"
	"examboard/pkg/platform/audit"
	"examboard/pkg/platform/sentinel"
	txcontext "examboard/pkg/platform/tx"
	"examboard/pkg/requestcontext"
)

type Students interface {
	FindByID(ctx context.Context, studentID id.StudentID) (*studentmodels.Student, error)
	ListByCohort(ctx context.Context, cohort studentmodels.Cohort) ([]*studentmodels.Student, error)
}

type Results interface {
	Published(ctx context.Context, studentID id.StudentID, examYearID id.ExamYearID) ([]results.Result, error)
}

type Directory interface {
	School(ctx context.Context, schoolID id.SchoolID) (*directory.School, error)
	ExamYear(ctx context.Context, examYearID id.ExamYearID) (*directory.ExamYear, error)
}

type Registry interface {
	Claim(ctx context.Context, ns registry.Namespace, owner uuid.UUID, draw registry.Draw) (string, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.ComplianceEvent) error
}

// CacheInvalidator drops cached verification answers for a token.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, token models.Token) error
}

// Skip reasons reported by the batch operations.
const (
	SkipAlreadyIssued = "credential already issued"
	SkipNotApproved   = "student is not approved"
)

type Service struct {
	store     store.Store
	students  Students
	results   Results
	directory Directory
	registry  Registry
	renderer  rendering.Renderer
	tx        txcontext.Runner

	auditor   AuditPublisher
	cache     CacheInvalidator
	notifier  notification.Notifier
	metrics   *Metrics
	tracer    trace.Tracer
	logger    *slog.Logger
	entropy   io.Reader
	validity  time.Duration
	verifyURL string
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithAuditPublisher(p AuditPublisher) Option {
	return func(s *Service) { s.auditor = p }
}

func WithCacheInvalidator(c CacheInvalidator) Option {
	return func(s *Service) { s.cache = c }
}

func WithNotifier(n notification.Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

// WithEntropy replaces crypto/rand for document numbers and tokens.
func WithEntropy(r io.Reader) Option {
	return func(s *Service) { s.entropy = r }
}

// WithValidity makes new credentials expire after d. Zero means no expiry.
func WithValidity(d time.Duration) Option {
	return func(s *Service) { s.validity = d }
}

// WithVerifyBaseURL sets the public verification address printed on documents.
func WithVerifyBaseURL(u string) Option {
	return func(s *Service) { s.verifyURL = strings.TrimRight(u, "/") }
}

func New(
	credentials store.Store,
	students Students,
	res Results,
	dir Directory,
	reg Registry,
	renderer rendering.Renderer,
	tx txcontext.Runner,
	opts ...Option,
) *Service {
	s := &Service{
		store:     credentials,
		students:  students,
		results:   res,
		directory: dir,
		registry:  reg,
		renderer:  renderer,
		tx:        tx,
		notifier:  notification.Nop{},
		tracer:    otel.Tracer("examboard/credential"),
		logger:    slog.Default(),
		verifyURL: "/verify",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IssueRequest names the credential to issue.
type IssueRequest struct {
	StudentID  id.StudentID
	ExamYearID id.ExamYearID
	Kind       models.Kind
}

func (r IssueRequest) Validate() error {
	if r.StudentID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "student id is required")
	}
	if r.ExamYearID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "exam year id is required")
	}
	if !r.Kind.IsValid() {
		return dErrors.New(dErrors.CodeValidation, "kind must be certificate or transcript")
	}
	return nil
}

// Issue returns the student's live credential of the requested kind, issuing
// one if none exists. An existing credential is returned unchanged.
func (s *Service) Issue(ctx context.Context, req IssueRequest) (*models.Credential, error) {
	c, _, err := s.issue(ctx, req)
	return c, err
}

// issue reports whether a new credential was created.
func (s *Service) issue(ctx context.Context, req IssueRequest) (*models.Credential, bool, error) {
	if err := req.Validate(); err != nil {
		return nil, false, err
	}
	ctx, span := s.tracer.Start(ctx, "credential.Issue", trace.WithAttributes(
		attribute.String("student_id", req.StudentID.String()),
		attribute.String("kind", req.Kind.String()),
	))
	defer span.End()

	var (
		issued  *models.Credential
		created bool
	)
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		existing, err := s.store.FindLive(ctx, req.StudentID, req.ExamYearID, req.Kind)
		if err == nil {
			issued = existing
			return nil
		}
		if !errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up credential")
		}
		issued, err = s.issueLocked(ctx, req, id.CredentialID(uuid.New()), audit.EventCredentialIssued)
		created = err == nil
		return err
	})
	if errors.Is(err, sentinel.ErrAlreadyUsed) {
		// a concurrent request issued the same credential first
		existing, findErr := s.store.FindLive(ctx, req.StudentID, req.ExamYearID, req.Kind)
		if findErr == nil {
			return existing, false, nil
		}
		err = dErrors.New(dErrors.CodeConflict, "credential issued concurrently")
	}
	if err != nil {
		s.metrics.IncIssued(req.Kind, string(dErrors.CodeOf(err)))
		span.RecordError(err)
		span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
		return nil, false, err
	}
	if !created {
		s.metrics.IncIssued(req.Kind, "existing")
		return issued, false, nil
	}

	s.metrics.IncIssued(req.Kind, "issued")
	s.logger.InfoContext(ctx, "credential issued",
		"event", audit.EventCredentialIssued,
		"log_type", "audit",
		"credential_id", issued.ID,
		"student_id", issued.StudentID,
		"kind", issued.Kind,
		"document_number", issued.DocumentNumber,
		"token_fingerprint", issued.VerificationToken.Fingerprint(),
		"request_id", requestcontext.RequestID(ctx),
	)
	return issued, true, nil
}

// issueLocked builds, renders and stores a new credential inside the caller's
// unit of work.
func (s *Service) issueLocked(ctx context.Context, req IssueRequest, credID id.CredentialID, action audit.AuditEvent) (*models.Credential, error) {
	st, err := s.students.FindByID(ctx, req.StudentID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "student not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load student")
	}
	if !st.IsApproved() {
		return nil, dErrors.New(dErrors.CodeValidation, SkipNotApproved)
	}
	if !st.HasIndexNumber() {
		return nil, dErrors.New(dErrors.CodeValidation, "student has no index number")
	}
	if st.ExamYearID != req.ExamYearID {
		return nil, dErrors.New(dErrors.CodeValidation, "student is not registered for this exam year")
	}

	published, err := s.results.Published(ctx, req.StudentID, req.ExamYearID)
	if err != nil {
		return nil, err
	}
	if len(published) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "no published result")
	}
	pct, err := grading.Percentage(results.Marks(published))
	if err != nil {
		return nil, err
	}
	grade, err := grading.ForPercentage(pct)
	if err != nil {
		return nil, err
	}
	if req.Kind == models.KindCertificate && !grade.Classification.Passed() {
		return nil, dErrors.New(dErrors.CodeValidation, "certificate refused for failing grade")
	}

	year, err := s.directory.ExamYear(ctx, req.ExamYearID)
	if err != nil {
		return nil, err
	}
	school, err := s.directory.School(ctx, st.SchoolID)
	if err != nil {
		return nil, err
	}

	number, err := s.registry.Claim(ctx, documentNamespace(req.Kind), uuid.UUID(credID), func() (string, error) {
		n, err := models.DrawDocumentNumber(s.entropy, req.Kind, year.Year)
		return n.String(), err
	})
	if err != nil {
		return nil, err
	}
	token, err := s.registry.Claim(ctx, registry.NamespaceVerificationToken, uuid.UUID(credID), func() (string, error) {
		t, err := models.NewToken(s.entropy)
		return t.Raw(), err
	})
	if err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	c := &models.Credential{
		ID:                credID,
		Kind:              req.Kind,
		StudentID:         st.ID,
		ExamYearID:        req.ExamYearID,
		ExamYear:          year.Year,
		DocumentNumber:    models.DocumentNumber(number),
		VerificationToken: models.Token(token),
		Percentage:        pct,
		Grade:             grade,
		ResultsDigest:     results.Digest(published),
		IssuedAt:          now,
	}
	if s.validity > 0 {
		expires := now.Add(s.validity)
		c.ExpiresAt = &expires
	}

	ref, err := s.renderer.Render(ctx, s.payload(c, st, school, published))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeRenderingFailed, "document rendering failed")
	}
	c.PDFReference = ref.String()

	if err := s.store.Create(ctx, c); err != nil {
		if errors.Is(err, sentinel.ErrAlreadyUsed) {
			return nil, err
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store credential")
	}
	if err := s.emit(ctx, action, c.ID, c.DocumentNumber.String(), ""); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) payload(c *models.Credential, st *studentmodels.Student, school *directory.School, published []results.Result) rendering.Payload {
	p := rendering.Payload{
		Kind:             c.Kind.String(),
		DocumentNumber:   c.DocumentNumber.String(),
		VerifyURL:        s.verifyURL + "/" + c.VerificationToken.Raw() + "?kind=" + c.Kind.String(),
		StudentName:      st.FullName(),
		StudentNameAr:    st.NameArabic,
		IndexNumber:      st.IndexNumber.String(),
		SchoolName:       school.Name,
		ExamYear:         c.ExamYear,
		GradeLevel:       st.Grade,
		Percentage:       c.Percentage,
		GradeLabel:       c.Grade.Label,
		GradeLabelArabic: c.Grade.LabelArabic,
		IssuedAt:         c.IssuedAt,
	}
	if c.Kind == models.KindTranscript {
		for _, r := range published {
			p.Subjects = append(p.Subjects, rendering.SubjectLine{
				Code:     r.SubjectCode,
				Name:     r.SubjectName,
				Score:    r.Score,
				MaxScore: r.MaxScore,
			})
		}
	}
	return p
}

// IssueBatch issues one kind of credential for each listed student. Students
// that already hold one are reported as skipped.
func (s *Service) IssueBatch(ctx context.Context, kind models.Kind, studentIDs []id.StudentID, examYearID id.ExamYearID) batch.Report {
	return batch.Fold(ctx, studentIDs, func(ctx context.Context, studentID id.StudentID) error {
		_, created, err := s.issue(ctx, IssueRequest{StudentID: studentID, ExamYearID: examYearID, Kind: kind})
		if err != nil {
			return err
		}
		if !created {
			return batch.Skip(SkipAlreadyIssued)
		}
		return nil
	})
}

// IssueForSchool issues for every approved student of a school's cohort and
// tells the school how it went.
func (s *Service) IssueForSchool(ctx context.Context, kind models.Kind, schoolID id.SchoolID, examYearID id.ExamYearID) (batch.Report, error) {
	if !kind.IsValid() {
		return batch.Report{}, dErrors.New(dErrors.CodeValidation, "kind must be certificate or transcript")
	}
	school, err := s.directory.School(ctx, schoolID)
	if err != nil {
		return batch.Report{}, err
	}
	cohort, err := s.students.ListByCohort(ctx, studentmodels.Cohort{SchoolID: schoolID, ExamYearID: examYearID})
	if err != nil {
		return batch.Report{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list cohort")
	}

	var approved []id.StudentID
	var skipped []batch.Entry
	for _, st := range cohort {
		if st.IsApproved() {
			approved = append(approved, st.ID)
			continue
		}
		skipped = append(skipped, batch.Entry{ID: st.ID.String(), Reason: SkipNotApproved})
	}
	report := s.IssueBatch(ctx, kind, approved, examYearID)
	report.Skipped = append(report.Skipped, skipped...)

	s.notifier.Notify(context.WithoutCancel(ctx), notification.Notification{
		Kind:      notification.KindCredentialsIssued,
		Recipient: school.Email,
		SchoolID:  school.ID,
		Subject:   strings.ToUpper(kind.String()[:1]) + kind.String()[1:] + "s issued for " + school.Name,
		Data: map[string]string{
			"kind":      kind.String(),
			"issued":    strconv.Itoa(len(report.Succeeded)),
			"skipped":   strconv.Itoa(len(report.Skipped)),
			"failed":    strconv.Itoa(len(report.Failed)),
			"exam_year": examYearID.String(),
		},
		OccurredAt: requestcontext.Now(ctx),
	})
	return report, nil
}

// Reissue revokes a credential and issues its replacement from the currently
// published results. The replacement has a new number and token.
func (s *Service) Reissue(ctx context.Context, credentialID id.CredentialID, reason string) (*models.Credential, error) {
	reason, err := requireReason(reason)
	if err != nil {
		return nil, err
	}

	var old, replacement *models.Credential
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		old, err = s.lock(ctx, credentialID)
		if err != nil {
			return err
		}
		if err := old.CanRevoke(); err != nil {
			return asConflict(err)
		}
		newID := id.CredentialID(uuid.New())
		old.ApplyRevoke(reason, requestcontext.Now(ctx), &newID)
		if err := s.store.Revoke(ctx, old); err != nil {
			return translate(err, "failed to revoke credential")
		}
		replacement, err = s.issueLocked(ctx, IssueRequest{
			StudentID:  old.StudentID,
			ExamYearID: old.ExamYearID,
			Kind:       old.Kind,
		}, newID, audit.EventCredentialReissued)
		if errors.Is(err, sentinel.ErrAlreadyUsed) {
			return dErrors.New(dErrors.CodeConflict, "credential changed concurrently")
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, old.VerificationToken)
	s.metrics.IncIssued(replacement.Kind, "reissued")
	s.logger.InfoContext(ctx, "credential reissued",
		"event", audit.EventCredentialReissued,
		"log_type", "audit",
		"credential_id", replacement.ID,
		"supersedes", old.ID,
		"request_id", requestcontext.RequestID(ctx),
	)
	return replacement, nil
}

// Revoke withdraws a credential. Its token keeps resolving, as revoked.
func (s *Service) Revoke(ctx context.Context, credentialID id.CredentialID, reason string) (*models.Credential, error) {
	reason, err := requireReason(reason)
	if err != nil {
		return nil, err
	}

	var revoked *models.Credential
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		c, err := s.lock(ctx, credentialID)
		if err != nil {
			return err
		}
		if err := c.CanRevoke(); err != nil {
			return asConflict(err)
		}
		c.ApplyRevoke(reason, requestcontext.Now(ctx), nil)
		if err := s.store.Revoke(ctx, c); err != nil {
			return translate(err, "failed to revoke credential")
		}
		if err := s.emit(ctx, audit.EventCredentialRevoked, c.ID, "revoked", reason); err != nil {
			return err
		}
		revoked = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, revoked.VerificationToken)
	s.logger.InfoContext(ctx, "credential revoked",
		"event", audit.EventCredentialRevoked,
		"log_type", "audit",
		"credential_id", revoked.ID,
		"request_id", requestcontext.RequestID(ctx),
	)
	s.notifyRevoked(ctx, revoked)
	return revoked, nil
}

// RecordPrint counts a physical print of a live credential.
func (s *Service) RecordPrint(ctx context.Context, credentialID id.CredentialID) (int, error) {
	var count int
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		c, err := s.lock(ctx, credentialID)
		if err != nil {
			return err
		}
		if err := c.CanPrint(); err != nil {
			return asConflict(err)
		}
		count, err = s.store.IncrementPrint(ctx, credentialID)
		if err != nil {
			return translate(err, "failed to record print")
		}
		return s.emit(ctx, audit.EventCredentialPrinted, credentialID, strconv.Itoa(count), "")
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// CheckStale reports whether the published results a credential was computed
// from have changed since issuance.
func (s *Service) CheckStale(ctx context.Context, credentialID id.CredentialID) (bool, error) {
	c, err := s.store.FindByID(ctx, credentialID)
	if err != nil {
		return false, translate(err, "failed to load credential")
	}
	published, err := s.results.Published(ctx, c.StudentID, c.ExamYearID)
	if err != nil {
		return false, err
	}
	return results.Digest(published) != c.ResultsDigest, nil
}

func (s *Service) Get(ctx context.Context, credentialID id.CredentialID) (*models.Credential, error) {
	c, err := s.store.FindByID(ctx, credentialID)
	if err != nil {
		return nil, translate(err, "failed to load credential")
	}
	return c, nil
}

func (s *Service) lock(ctx context.Context, credentialID id.CredentialID) (*models.Credential, error) {
	c, err := s.store.FindForUpdate(ctx, credentialID)
	if err != nil {
		return nil, translate(err, "failed to load credential")
	}
	return c, nil
}

func (s *Service) emit(ctx context.Context, action audit.AuditEvent, credentialID id.CredentialID, decision, reason string) error {
	if s.auditor == nil {
		return nil
	}
	err := s.auditor.Emit(ctx, audit.ComplianceEvent{
		Subject:  credentialID.String(),
		Action:   action,
		Decision: decision,
		Reason:   reason,
	})
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record audit event")
	}
	return nil
}

func (s *Service) invalidate(ctx context.Context, token models.Token) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, token); err != nil {
		s.logger.WarnContext(ctx, "verification cache invalidation failed",
			"token_fingerprint", token.Fingerprint(),
			"error", err,
		)
	}
}

func (s *Service) notifyRevoked(ctx context.Context, c *models.Credential) {
	st, err := s.students.FindByID(ctx, c.StudentID)
	if err != nil {
		return
	}
	school, err := s.directory.School(ctx, st.SchoolID)
	if err != nil {
		return
	}
	s.notifier.Notify(context.WithoutCancel(ctx), notification.Notification{
		Kind:      notification.KindCredentialRevoked,
		Recipient: school.Email,
		SchoolID:  school.ID,
		Subject:   "Credential " + c.DocumentNumber.String() + " revoked",
		Data: map[string]string{
			"document_number": c.DocumentNumber.String(),
			"reason":          c.RevokeReason,
		},
		OccurredAt: requestcontext.Now(ctx),
	})
}

func documentNamespace(kind models.Kind) registry.Namespace {
	if kind == models.KindTranscript {
		return registry.NamespaceTranscript
	}
	return registry.NamespaceCertificate
}

const maxReasonLength = 500

func requireReason(reason string) (string, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return "", dErrors.New(dErrors.CodeValidation, "reason is required")
	}
	if len(reason) > maxReasonLength {
		return "", dErrors.New(dErrors.CodeValidation, "reason is too long")
	}
	return reason, nil
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
		return dErrors.New(dErrors.CodeNotFound, "credential not found")
	case errors.Is(err, sentinel.ErrInvalidState):
		return dErrors.New(dErrors.CodeConflict, "credential is revoked")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, msg)
	}
}
