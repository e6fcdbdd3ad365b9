// Package results holds subject results and their publication. Credentials are
// computed from published results only.
package results

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"

	"examboard/internal/grading"
	id "examboard/pkg/domain"
	dErrors "examboard/pkg/domain-errors"
	"examboard/pkg/requestcontext"
)

type Status string

const (
	StatusDraft     Status = "draft"
	StatusPublished Status = "published"
)

// Result is one student's score in one subject of one exam year.
type Result struct {
	ID          id.ResultID
	StudentID   id.StudentID
	ExamYearID  id.ExamYearID
	SubjectCode string
	SubjectName string
	Score       float64
	MaxScore    float64
	Status      Status
	PublishedAt *time.Time
}

func (r Result) Mark() grading.Mark {
	return grading.Mark{Score: r.Score, MaxScore: r.MaxScore}
}

// Digest fingerprints a set of results so a credential can later tell whether
// the results it was computed from have changed. Order does not matter.
func Digest(results []Result) string {
	lines := make([]string, 0, len(results))
	for _, r := range results {
		lines = append(lines, strings.Join([]string{
			r.SubjectCode,
			strconv.FormatFloat(r.Score, 'f', 2, 64),
			strconv.FormatFloat(r.MaxScore, 'f', 2, 64),
		}, "|"))
	}
	slices.Sort(lines)
	sum := blake2b.Sum256([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(sum[:])
}

// Marks converts results to grading input.
func Marks(results []Result) []grading.Mark {
	marks := make([]grading.Mark, len(results))
	for i, r := range results {
		marks[i] = r.Mark()
	}
	return marks
}

// Store persists results.
type Store interface {
	// Upsert writes a result keyed by (student, exam year, subject). An
	// existing row keeps its ID and publication state.
	Upsert(ctx context.Context, r *Result) error
	// List returns a student's results for an exam year, optionally filtered by
	// status, ordered by subject code.
	List(ctx context.Context, studentID id.StudentID, examYearID id.ExamYearID, statuses ...Status) ([]Result, error)
	// Publish marks the draft results of the given students as published and
	// returns how many rows changed.
	Publish(ctx context.Context, examYearID id.ExamYearID, studentIDs []id.StudentID, at time.Time) (int, error)
}

// Service records and publishes results.
type Service struct {
	store  Store
	logger *slog.Logger
}

func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger}
}

// RecordRequest is one subject score.
type RecordRequest struct {
	StudentID   id.StudentID
	ExamYearID  id.ExamYearID
	SubjectCode string
	SubjectName string
	Score       float64
	MaxScore    float64
}

func (r RecordRequest) Validate() error {
	if r.StudentID.IsNil() || r.ExamYearID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "student and exam year are required")
	}
	if strings.TrimSpace(r.SubjectCode) == "" {
		return dErrors.New(dErrors.CodeValidation, "subject code is required")
	}
	if r.MaxScore <= 0 || r.Score < 0 || r.Score > r.MaxScore {
		return dErrors.New(dErrors.CodeValidation, "score out of range")
	}
	return nil
}

// Record stores a score. Correcting an already published result keeps it
// published, which makes credentials computed from it stale.
func (s *Service) Record(ctx context.Context, req RecordRequest) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	r := &Result{
		StudentID:   req.StudentID,
		ExamYearID:  req.ExamYearID,
		SubjectCode: strings.ToUpper(strings.TrimSpace(req.SubjectCode)),
		SubjectName: strings.TrimSpace(req.SubjectName),
		Score:       req.Score,
		MaxScore:    req.MaxScore,
		Status:      StatusDraft,
	}
	if err := s.store.Upsert(ctx, r); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record result")
	}
	return r, nil
}

// Publish publishes the draft results of the given students.
func (s *Service) Publish(ctx context.Context, examYearID id.ExamYearID, studentIDs []id.StudentID) (int, error) {
	if len(studentIDs) == 0 {
		return 0, nil
	}
	n, err := s.store.Publish(ctx, examYearID, studentIDs, requestcontext.Now(ctx))
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to publish results")
	}
	s.logger.InfoContext(ctx, "results published",
		"exam_year_id", examYearID,
		"students", len(studentIDs),
		"results", n,
		"request_id", requestcontext.RequestID(ctx),
	)
	return n, nil
}

// Published returns a student's published results for an exam year.
func (s *Service) Published(ctx context.Context, studentID id.StudentID, examYearID id.ExamYearID) ([]Result, error) {
	rs, err := s.store.List(ctx, studentID, examYearID, StatusPublished)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, fmt.Sprintf("failed to load results for %s", studentID))
	}
	return rs, nil
}
