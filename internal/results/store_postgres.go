package results

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/lib/pq"

	id "examboard/pkg/domain"
	txcontext "examboard/pkg/platform/tx"
)

const resultColumns = "id, student_id, exam_year_id, subject_code, subject_name, score, max_score, status, published_at"

type PostgresStore struct {
	db *sql.DB
	sb sq.StatementBuilderType
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, sb: sq.StatementBuilder.PlaceholderFormat(sq.Dollar)}
}

func (s *PostgresStore) Upsert(ctx context.Context, r *Result) error {
	if r.ID.IsNil() {
		r.ID = id.ResultID(uuid.New())
	}
	query := `
		INSERT INTO results (id, student_id, exam_year_id, subject_code, subject_name, score, max_score, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (student_id, exam_year_id, subject_code)
		DO UPDATE SET subject_name = EXCLUDED.subject_name, score = EXCLUDED.score, max_score = EXCLUDED.max_score
		RETURNING id, status, published_at
	`
	var status string
	err := txcontext.Executor(ctx, s.db).QueryRowContext(ctx, query,
		r.ID, r.StudentID, r.ExamYearID, r.SubjectCode, r.SubjectName, r.Score, r.MaxScore, string(r.Status),
	).Scan(&r.ID, &status, &r.PublishedAt)
	if err != nil {
		return fmt.Errorf("upsert result: %w", err)
	}
	r.Status = Status(status)
	return nil
}

func (s *PostgresStore) List(ctx context.Context, studentID id.StudentID, examYearID id.ExamYearID, statuses ...Status) ([]Result, error) {
	builder := s.sb.Select(resultColumns).
		From("results").
		Where(sq.Eq{"student_id": studentID.String(), "exam_year_id": examYearID.String()}).
		OrderBy("subject_code")
	if len(statuses) > 0 {
		values := make([]string, len(statuses))
		for i, st := range statuses {
			values[i] = string(st)
		}
		builder = builder.Where(sq.Eq{"status": values})
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build results query: %w", err)
	}
	rows, err := txcontext.Executor(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	out := make([]Result, 0)
	for rows.Next() {
		var (
			r      Result
			status string
		)
		if err := rows.Scan(&r.ID, &r.StudentID, &r.ExamYearID, &r.SubjectCode, &r.SubjectName,
			&r.Score, &r.MaxScore, &status, &r.PublishedAt); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		r.Status = Status(status)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate results: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Publish(ctx context.Context, examYearID id.ExamYearID, studentIDs []id.StudentID, at time.Time) (int, error) {
	ids := make([]string, len(studentIDs))
	for i, sid := range studentIDs {
		ids[i] = sid.String()
	}
	res, err := txcontext.Executor(ctx, s.db).ExecContext(ctx, `
		UPDATE results
		SET status = 'published', published_at = $3
		WHERE exam_year_id = $1 AND student_id = ANY($2::uuid[]) AND status = 'draft'
	`, examYearID, pq.Array(ids), at)
	if err != nil {
		return 0, fmt.Errorf("publish results: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("publish results rows affected: %w", err)
	}
	return int(n), nil
}
