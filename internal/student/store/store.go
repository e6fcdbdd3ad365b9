// Package store persists students. Stores report storage facts with sentinel
// errors; the student service decides what they mean.
package store

import (
	"context"

	"examboard/internal/student/models"
	id "examboard/pkg/domain"
)

// Store is implemented by InMemoryStore and PostgresStore.
type Store interface {
	Create(ctx context.Context, s *models.Student) error
	FindByID(ctx context.Context, studentID id.StudentID) (*models.Student, error)
	// FindForUpdate locks the row for the rest of the surrounding transaction.
	FindForUpdate(ctx context.Context, studentID id.StudentID) (*models.Student, error)
	ListByCohort(ctx context.Context, cohort models.Cohort) ([]*models.Student, error)
	CountByCohort(ctx context.Context, cohort models.Cohort, statuses ...models.Status) (int, error)
	// Transition writes s's status fields if the stored status is still from.
	Transition(ctx context.Context, s *models.Student, from models.Status) error
	// AssignIndexNumber binds n to an approved student that has none.
	AssignIndexNumber(ctx context.Context, studentID id.StudentID, n models.IndexNumber) error
}
