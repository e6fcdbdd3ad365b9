package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	id "examboard/pkg/domain"
	"examboard/pkg/platform/sentinel"
	txcontext "examboard/pkg/platform/tx"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) FindSchool(ctx context.Context, schoolID id.SchoolID) (*School, error) {
	var school School
	err := txcontext.Executor(ctx, s.db).QueryRowContext(ctx,
		`SELECT id, name, email FROM schools WHERE id = $1`, schoolID,
	).Scan(&school.ID, &school.Name, &school.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find school: %w", err)
	}
	return &school, nil
}

func (s *PostgresStore) FindExamYear(ctx context.Context, examYearID id.ExamYearID) (*ExamYear, error) {
	var year ExamYear
	err := txcontext.Executor(ctx, s.db).QueryRowContext(ctx,
		`SELECT id, year, label FROM exam_years WHERE id = $1`, examYearID,
	).Scan(&year.ID, &year.Year, &year.Label)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find exam year: %w", err)
	}
	return &year, nil
}

// CreateSchool and CreateExamYear seed reference rows for operators and tests.
func (s *PostgresStore) CreateSchool(ctx context.Context, school School) error {
	_, err := txcontext.Executor(ctx, s.db).ExecContext(ctx,
		`INSERT INTO schools (id, name, email) VALUES ($1, $2, $3)`,
		school.ID, school.Name, school.Email,
	)
	if err != nil {
		return fmt.Errorf("create school: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateExamYear(ctx context.Context, year ExamYear) error {
	_, err := txcontext.Executor(ctx, s.db).ExecContext(ctx,
		`INSERT INTO exam_years (id, year, label) VALUES ($1, $2, $3)`,
		year.ID, year.Year, year.Label,
	)
	if err != nil {
		return fmt.Errorf("create exam year: %w", err)
	}
	return nil
}
