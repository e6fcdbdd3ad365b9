package results

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	id "examboard/pkg/domain"
	txcontext "examboard/pkg/platform/tx"
)

type resultKey struct {
	student id.StudentID
	year    id.ExamYearID
	subject string
}

type InMemoryStore struct {
	mu      sync.RWMutex
	results map[resultKey]Result
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{results: make(map[resultKey]Result)}
}

func (s *InMemoryStore) Upsert(ctx context.Context, r *Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := resultKey{r.StudentID, r.ExamYearID, r.SubjectCode}
	s.undoOnRollback(ctx, key)
	if existing, ok := s.results[key]; ok {
		r.ID = existing.ID
		r.Status = existing.Status
		r.PublishedAt = existing.PublishedAt
	} else if r.ID.IsNil() {
		r.ID = id.ResultID(uuid.New())
	}
	s.results[key] = *r
	return nil
}

func (s *InMemoryStore) List(_ context.Context, studentID id.StudentID, examYearID id.ExamYearID, statuses ...Status) ([]Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Result, 0)
	for key, r := range s.results {
		if key.student != studentID || key.year != examYearID {
			continue
		}
		if len(statuses) > 0 && !slices.Contains(statuses, r.Status) {
			continue
		}
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b Result) int { return cmp.Compare(a.SubjectCode, b.SubjectCode) })
	return out, nil
}

func (s *InMemoryStore) Publish(ctx context.Context, examYearID id.ExamYearID, studentIDs []id.StudentID, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key, r := range s.results {
		if key.year != examYearID || r.Status != StatusDraft || !slices.Contains(studentIDs, key.student) {
			continue
		}
		s.undoOnRollback(ctx, key)
		r.Status = StatusPublished
		published := at
		r.PublishedAt = &published
		s.results[key] = r
		n++
	}
	return n, nil
}

// undoOnRollback puts key back to its current state if the unit of work in
// ctx fails. Callers hold s.mu.
func (s *InMemoryStore) undoOnRollback(ctx context.Context, key resultKey) {
	prev, existed := s.results[key]
	txcontext.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if existed {
			s.results[key] = prev
		} else {
			delete(s.results, key)
		}
	})
}
