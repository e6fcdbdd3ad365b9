// Package verification answers public "is this document genuine" queries.
//
// A query carries only the verification token printed on the document. The
// answer reveals a minimal summary and never says whether a token was
// malformed or merely unknown.
package verification

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"examboard/internal/credential/models"
	studentmodels "examboard/internal/student/models"
	id "examboard/pkg/domain"
	dErrors "examboard/pkg/domain-errors"
	"examboard/pkg/platform/audit"
	"examboard/pkg/platform/sentinel"
	"examboard/pkg/requestcontext"
)

// Status is the public standing of a queried token.
type Status string

const (
	StatusValid    Status = "valid"
	StatusRevoked  Status = "revoked"
	StatusExpired  Status = "expired"
	StatusNotFound Status = "not_found"
)

// Summary is everything the public may learn about a valid credential.
type Summary struct {
	DocumentNumber string    `json:"document_number"`
	Kind           string    `json:"kind"`
	HolderName     string    `json:"holder_name"`
	GradeLevel     int       `json:"grade_level"`
	ExamYear       int       `json:"exam_year"`
	Classification string    `json:"classification"`
	IssuedOn       time.Time `json:"issued_on"`
}

type Result struct {
	Valid   bool     `json:"valid"`
	Status  Status   `json:"status"`
	Summary *Summary `json:"summary,omitempty"`
}

var notFound = Result{Valid: false, Status: StatusNotFound}

type Credentials interface {
	FindByToken(ctx context.Context, token models.Token) (*models.Credential, error)
}

type Students interface {
	FindByID(ctx context.Context, studentID id.StudentID) (*studentmodels.Student, error)
}

type SecurityPublisher interface {
	Emit(ctx context.Context, event audit.SecurityEvent)
}

type OpsTracker interface {
	Track(ctx context.Context, event audit.OpsEvent)
}

type Service struct {
	credentials Credentials
	students    Students
	cache       Cache
	security    SecurityPublisher
	tracker     OpsTracker
	metrics     *Metrics
	logger      *slog.Logger
}

type Option func(*Service)

func WithCache(c Cache) Option {
	return func(s *Service) { s.cache = c }
}

func WithSecurityPublisher(p SecurityPublisher) Option {
	return func(s *Service) { s.security = p }
}

func WithOpsTracker(t OpsTracker) Option {
	return func(s *Service) { s.tracker = t }
}

func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func New(credentials Credentials, students Students, opts ...Option) *Service {
	s := &Service{
		credentials: credentials,
		students:    students,
		cache:       NopCache{},
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

const maxTokenLength = 128

// decoyToken is looked up in place of malformed tokens. Its result is discarded.
var decoyToken = models.Token(base64.RawURLEncoding.EncodeToString(make([]byte, 32)))

// Verify looks up a token. kindHint, when set, must match the credential's
// kind; a mismatch reads as not found.
func (s *Service) Verify(ctx context.Context, rawToken, kindHint string) (Result, error) {
	var hint models.Kind
	if strings.TrimSpace(kindHint) != "" {
		k, err := models.ParseKind(kindHint)
		if err != nil {
			return Result{}, dErrors.New(dErrors.CodeBadRequest, "kind must be certificate or transcript")
		}
		hint = k
	}

	rawToken = strings.TrimSpace(rawToken)
	if len(rawToken) > maxTokenLength || !utf8.ValidString(rawToken) {
		rawToken = ""
	}
	token := models.Token(rawToken)
	if !token.WellFormed() {
		// walk the same cache path an unknown token takes so the two cannot be
		// told apart by response time
		_, _ = s.lookup(ctx, decoyToken)
		s.missed(ctx, token, "malformed token")
		return notFound, nil
	}

	entry, err := s.lookup(ctx, token)
	if err != nil {
		return Result{}, err
	}
	if !entry.Found || (hint != "" && entry.Kind != hint.String()) {
		s.missed(ctx, token, "unknown token")
		return notFound, nil
	}

	status := entry.statusAt(requestcontext.Now(ctx))
	s.metrics.IncVerification(string(status))
	s.track(ctx, token, status)
	if status != StatusValid {
		return Result{Valid: false, Status: status}, nil
	}
	summary := entry.Summary
	return Result{Valid: true, Status: StatusValid, Summary: &summary}, nil
}

// lookup reads through the cache. Cache failures degrade to the store.
func (s *Service) lookup(ctx context.Context, token models.Token) (*Entry, error) {
	fingerprint := token.Fingerprint()
	entry, ok, err := s.cache.Get(ctx, fingerprint)
	if err != nil {
		s.logger.WarnContext(ctx, "verification cache read failed",
			"token_fingerprint", fingerprint,
			"error", err,
		)
	}
	if ok {
		s.metrics.IncCache(true)
		return entry, nil
	}
	s.metrics.IncCache(false)

	entry, err = s.load(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, fingerprint, entry); err != nil {
		s.logger.WarnContext(ctx, "verification cache write failed",
			"token_fingerprint", fingerprint,
			"error", err,
		)
	}
	return entry, nil
}

func (s *Service) load(ctx context.Context, token models.Token) (*Entry, error) {
	c, err := s.credentials.FindByToken(ctx, token)
	if errors.Is(err, sentinel.ErrNotFound) {
		return &Entry{Found: false}, nil
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up token")
	}
	st, err := s.students.FindByID(ctx, c.StudentID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load credential holder")
	}
	return &Entry{
		Found:     true,
		Kind:      c.Kind.String(),
		RevokedAt: c.RevokedAt,
		ExpiresAt: c.ExpiresAt,
		Summary: Summary{
			DocumentNumber: c.DocumentNumber.String(),
			Kind:           c.Kind.String(),
			HolderName:     MaskName(st.FirstName, st.LastName),
			GradeLevel:     st.Grade,
			ExamYear:       c.ExamYear,
			Classification: string(c.Grade.Classification),
			IssuedOn:       c.IssuedAt.UTC().Truncate(24 * time.Hour),
		},
	}, nil
}

func (s *Service) missed(ctx context.Context, token models.Token, reason string) {
	s.metrics.IncVerification(string(StatusNotFound))
	if s.security == nil {
		return
	}
	subject := "token:malformed"
	if token.WellFormed() {
		subject = token.String()
	}
	s.security.Emit(ctx, audit.SecurityEvent{
		Timestamp: requestcontext.Now(ctx),
		Subject:   subject,
		Action:    audit.EventVerificationMissed,
		Reason:    reason,
		IP:        requestcontext.ClientIP(ctx),
		Client:    ClientDescriptor(requestcontext.UserAgent(ctx)),
		RequestID: requestcontext.RequestID(ctx),
		Severity:  audit.SeverityInfo,
	})
}

func (s *Service) track(ctx context.Context, token models.Token, status Status) {
	if s.tracker == nil {
		return
	}
	s.tracker.Track(ctx, audit.OpsEvent{
		Timestamp: requestcontext.Now(ctx),
		Subject:   token.String(),
		Action:    audit.EventCredentialVerified,
		Decision:  string(status),
		Client:    ClientDescriptor(requestcontext.UserAgent(ctx)),
		RequestID: requestcontext.RequestID(ctx),
	})
}

// MaskName keeps the first name and the initial of the last name.
func MaskName(first, last string) string {
	first = strings.TrimSpace(first)
	last = strings.TrimSpace(last)
	if last == "" {
		return first
	}
	initial, _ := utf8.DecodeRuneInString(last)
	return strings.TrimSpace(first + " " + string(initial) + ".")
}
