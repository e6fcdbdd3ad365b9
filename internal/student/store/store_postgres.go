package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"examboard/internal/platform/postgres"
	"examboard/internal/student/models"
	id "examboard/pkg/domain"
	"examboard/pkg/platform/sentinel"
	txcontext "examboard/pkg/platform/tx"
)

const studentColumns = `id, school_id, exam_year_id, first_name, last_name, name_arabic, email, phone,
	grade, status, index_number, approved_at, rejected_at, rejection_reason, created_at, updated_at`

type PostgresStore struct {
	db *sql.DB
	sb sq.StatementBuilderType
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{
		db: db,
		sb: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

func (s *PostgresStore) Create(ctx context.Context, st *models.Student) error {
	query := `
		INSERT INTO students (` + studentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`
	_, err := txcontext.Executor(ctx, s.db).ExecContext(ctx, query,
		st.ID, st.SchoolID, st.ExamYearID, st.FirstName, st.LastName, st.NameArabic,
		st.Email, st.Phone, st.Grade, string(st.Status), indexNumberArg(st.IndexNumber),
		st.ApprovedAt, st.RejectedAt, st.RejectionReason, st.CreatedAt, st.UpdatedAt,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return fmt.Errorf("create student: %w", sentinel.ErrAlreadyUsed)
		}
		return fmt.Errorf("create student: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, studentID id.StudentID) (*models.Student, error) {
	return s.findOne(ctx, `SELECT `+studentColumns+` FROM students WHERE id = $1`, studentID)
}

func (s *PostgresStore) FindForUpdate(ctx context.Context, studentID id.StudentID) (*models.Student, error) {
	return s.findOne(ctx, `SELECT `+studentColumns+` FROM students WHERE id = $1 FOR UPDATE`, studentID)
}

func (s *PostgresStore) findOne(ctx context.Context, query string, studentID id.StudentID) (*models.Student, error) {
	st, err := scanStudent(txcontext.Executor(ctx, s.db).QueryRowContext(ctx, query, studentID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find student: %w", err)
	}
	return st, nil
}

func (s *PostgresStore) ListByCohort(ctx context.Context, cohort models.Cohort) ([]*models.Student, error) {
	query, args, err := s.sb.Select(studentColumns).
		From("students").
		Where(sq.Eq{"school_id": cohort.SchoolID.String(), "exam_year_id": cohort.ExamYearID.String()}).
		OrderBy("created_at", "id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build cohort query: %w", err)
	}
	rows, err := txcontext.Executor(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list cohort: %w", err)
	}
	defer rows.Close()

	out := make([]*models.Student, 0)
	for rows.Next() {
		st, err := scanStudent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan student: %w", err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cohort: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) CountByCohort(ctx context.Context, cohort models.Cohort, statuses ...models.Status) (int, error) {
	builder := s.sb.Select("COUNT(*)").
		From("students").
		Where(sq.Eq{"school_id": cohort.SchoolID.String(), "exam_year_id": cohort.ExamYearID.String()})
	if len(statuses) > 0 {
		values := make([]string, len(statuses))
		for i, st := range statuses {
			values[i] = string(st)
		}
		builder = builder.Where(sq.Eq{"status": values})
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count query: %w", err)
	}
	var n int
	if err := txcontext.Executor(ctx, s.db).QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count cohort: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) Transition(ctx context.Context, st *models.Student, from models.Status) error {
	query := `
		UPDATE students
		SET status = $2, approved_at = $3, rejected_at = $4, rejection_reason = $5, updated_at = $6
		WHERE id = $1 AND status = $7
	`
	res, err := txcontext.Executor(ctx, s.db).ExecContext(ctx, query,
		st.ID, string(st.Status), st.ApprovedAt, st.RejectedAt, st.RejectionReason, st.UpdatedAt, string(from),
	)
	if err != nil {
		return fmt.Errorf("transition student: %w", err)
	}
	return expectOneRow(res, "transition student")
}

func (s *PostgresStore) AssignIndexNumber(ctx context.Context, studentID id.StudentID, n models.IndexNumber) error {
	query := `
		UPDATE students
		SET index_number = $2, updated_at = now()
		WHERE id = $1 AND index_number IS NULL AND status = 'approved'
	`
	res, err := txcontext.Executor(ctx, s.db).ExecContext(ctx, query, studentID, string(n))
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return fmt.Errorf("assign index number: %w", sentinel.ErrAlreadyUsed)
		}
		return fmt.Errorf("assign index number: %w", err)
	}
	return expectOneRow(res, "assign index number")
}

func expectOneRow(res sql.Result, op string) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if rows == 0 {
		return sentinel.ErrInvalidState
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanStudent(row scanner) (*models.Student, error) {
	var (
		st     models.Student
		status string
		number sql.NullString
	)
	err := row.Scan(
		&st.ID, &st.SchoolID, &st.ExamYearID, &st.FirstName, &st.LastName, &st.NameArabic,
		&st.Email, &st.Phone, &st.Grade, &status, &number,
		&st.ApprovedAt, &st.RejectedAt, &st.RejectionReason, &st.CreatedAt, &st.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	st.Status = models.Status(status)
	if number.Valid {
		n := models.IndexNumber(number.String)
		st.IndexNumber = &n
	}
	return &st, nil
}

func indexNumberArg(n *models.IndexNumber) any {
	if n == nil {
		return nil
	}
	return string(*n)
}
