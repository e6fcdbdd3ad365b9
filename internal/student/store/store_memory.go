package store

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"examboard/internal/student/models"
	id "examboard/pkg/domain"
	"examboard/pkg/platform/sentinel"
	txcontext "examboard/pkg/platform/tx"
)

type InMemoryStore struct {
	mu       sync.RWMutex
	students map[id.StudentID]models.Student
	numbers  map[models.IndexNumber]id.StudentID
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		students: make(map[id.StudentID]models.Student),
		numbers:  make(map[models.IndexNumber]id.StudentID),
	}
}

func (s *InMemoryStore) Create(ctx context.Context, st *models.Student) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.students[st.ID]; exists {
		return sentinel.ErrAlreadyUsed
	}
	if st.IndexNumber != nil {
		if _, taken := s.numbers[*st.IndexNumber]; taken {
			return sentinel.ErrAlreadyUsed
		}
		s.numbers[*st.IndexNumber] = st.ID
	}
	s.students[st.ID] = clone(st)
	s.undoOnRollback(ctx, st.ID, nil)
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, studentID id.StudentID) (*models.Student, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.students[studentID]
	if !ok {
		return nil, fmt.Errorf("student %s: %w", studentID, sentinel.ErrNotFound)
	}
	out := clone(&st)
	return &out, nil
}

// FindForUpdate is FindByID; callers serialize through the memory tx runner.
func (s *InMemoryStore) FindForUpdate(ctx context.Context, studentID id.StudentID) (*models.Student, error) {
	return s.FindByID(ctx, studentID)
}

func (s *InMemoryStore) ListByCohort(_ context.Context, cohort models.Cohort) ([]*models.Student, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Student, 0)
	for _, st := range s.students {
		if st.SchoolID == cohort.SchoolID && st.ExamYearID == cohort.ExamYearID {
			c := clone(&st)
			out = append(out, &c)
		}
	}
	slices.SortFunc(out, func(a, b *models.Student) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return compareIDs(a.ID, b.ID)
	})
	return out, nil
}

func (s *InMemoryStore) CountByCohort(_ context.Context, cohort models.Cohort, statuses ...models.Status) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, st := range s.students {
		if st.SchoolID != cohort.SchoolID || st.ExamYearID != cohort.ExamYearID {
			continue
		}
		if len(statuses) > 0 && !slices.Contains(statuses, st.Status) {
			continue
		}
		n++
	}
	return n, nil
}

func (s *InMemoryStore) Transition(ctx context.Context, st *models.Student, from models.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.students[st.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if current.Status != from {
		return sentinel.ErrInvalidState
	}
	s.undoOnRollback(ctx, st.ID, &current)
	current.Status = st.Status
	current.ApprovedAt = st.ApprovedAt
	current.RejectedAt = st.RejectedAt
	current.RejectionReason = st.RejectionReason
	current.UpdatedAt = st.UpdatedAt
	s.students[st.ID] = current
	return nil
}

func (s *InMemoryStore) AssignIndexNumber(ctx context.Context, studentID id.StudentID, n models.IndexNumber) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.students[studentID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if current.IndexNumber != nil || current.Status != models.StatusApproved {
		return sentinel.ErrInvalidState
	}
	if _, taken := s.numbers[n]; taken {
		return sentinel.ErrAlreadyUsed
	}
	s.undoOnRollback(ctx, studentID, &current)
	current.IndexNumber = &n
	current.UpdatedAt = time.Now()
	s.students[studentID] = current
	s.numbers[n] = studentID
	return nil
}

// undoOnRollback restores studentID to prev, or removes it when prev is nil,
// if the unit of work in ctx fails. Callers hold s.mu.
func (s *InMemoryStore) undoOnRollback(ctx context.Context, studentID id.StudentID, prev *models.Student) {
	var saved *models.Student
	if prev != nil {
		c := clone(prev)
		saved = &c
	}
	txcontext.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if current, ok := s.students[studentID]; ok && current.IndexNumber != nil {
			delete(s.numbers, *current.IndexNumber)
		}
		if saved == nil {
			delete(s.students, studentID)
			return
		}
		s.students[studentID] = *saved
		if saved.IndexNumber != nil {
			s.numbers[*saved.IndexNumber] = studentID
		}
	})
}

func clone(st *models.Student) models.Student {
	c := *st
	if st.IndexNumber != nil {
		n := *st.IndexNumber
		c.IndexNumber = &n
	}
	return c
}

func compareIDs(a, b id.StudentID) int {
	return slices.Compare(a[:], b[:])
}
