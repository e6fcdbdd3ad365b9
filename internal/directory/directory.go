// Package directory is the read side for schools and exam years. Both are
// reference data maintained outside the board's issuance flow.
package directory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	id "examboard/pkg/domain"
	dErrors "examboard/pkg/domain-errors"
	"examboard/pkg/platform/sentinel"
)

type School struct {
	ID    id.SchoolID
	Name  string
	Email string
}

type ExamYear struct {
	ID    id.ExamYearID
	Year  int
	Label string
}

// Store reads reference data.
type Store interface {
	FindSchool(ctx context.Context, schoolID id.SchoolID) (*School, error)
	FindExamYear(ctx context.Context, examYearID id.ExamYearID) (*ExamYear, error)
}

// Directory translates store facts into domain errors.
type Directory struct {
	store Store
}

func New(store Store) *Directory {
	return &Directory{store: store}
}

func (d *Directory) School(ctx context.Context, schoolID id.SchoolID) (*School, error) {
	s, err := d.store.FindSchool(ctx, schoolID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "school not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load school")
	}
	return s, nil
}

func (d *Directory) ExamYear(ctx context.Context, examYearID id.ExamYearID) (*ExamYear, error) {
	y, err := d.store.FindExamYear(ctx, examYearID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "exam year not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load exam year")
	}
	return y, nil
}

// InMemoryStore serves reference data seeded at construction or via Put*.
type InMemoryStore struct {
	mu        sync.RWMutex
	schools   map[id.SchoolID]School
	examYears map[id.ExamYearID]ExamYear
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		schools:   make(map[id.SchoolID]School),
		examYears: make(map[id.ExamYearID]ExamYear),
	}
}

func (s *InMemoryStore) PutSchool(school School) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schools[school.ID] = school
}

func (s *InMemoryStore) PutExamYear(year ExamYear) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.examYears[year.ID] = year
}

func (s *InMemoryStore) FindSchool(_ context.Context, schoolID id.SchoolID) (*School, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	school, ok := s.schools[schoolID]
	if !ok {
		return nil, fmt.Errorf("school %s: %w", schoolID, sentinel.ErrNotFound)
	}
	return &school, nil
}

func (s *InMemoryStore) FindExamYear(_ context.Context, examYearID id.ExamYearID) (*ExamYear, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	year, ok := s.examYears[examYearID]
	if !ok {
		return nil, fmt.Errorf("exam year %s: %w", examYearID, sentinel.ErrNotFound)
	}
	return &year, nil
}
