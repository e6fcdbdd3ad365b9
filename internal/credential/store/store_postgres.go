package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"examboard/internal/credential/models"
	"examboard/internal/grading"
	"examboard/internal/platform/postgres"
	id "examboard/pkg/domain"
	"examboard/pkg/platform/sentinel"
	txcontext "examboard/pkg/platform/tx"
)

const credentialColumns = `id, kind, student_id, exam_year_id, exam_year, document_number, verification_token,
	percentage, grade_label, grade_label_arabic, classification, results_digest, pdf_reference, print_count,
	issued_at, expires_at, revoked_at, revoke_reason, superseded_by`

type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, c *models.Credential) error {
	query := `
		INSERT INTO credentials (` + credentialColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`
	_, err := txcontext.Executor(ctx, s.db).ExecContext(ctx, query,
		c.ID, string(c.Kind), c.StudentID, c.ExamYearID, c.ExamYear,
		c.DocumentNumber.String(), c.VerificationToken.Raw(),
		c.Percentage, c.Grade.Label, c.Grade.LabelArabic, string(c.Grade.Classification),
		c.ResultsDigest, c.PDFReference, c.PrintCount,
		c.IssuedAt, c.ExpiresAt, c.RevokedAt, c.RevokeReason, supersededArg(c.SupersededBy),
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return fmt.Errorf("create credential (%s): %w", postgres.ConstraintName(err), sentinel.ErrAlreadyUsed)
		}
		return fmt.Errorf("create credential: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, credentialID id.CredentialID) (*models.Credential, error) {
	return s.findOne(ctx, `SELECT `+credentialColumns+` FROM credentials WHERE id = $1`, credentialID)
}

func (s *PostgresStore) FindForUpdate(ctx context.Context, credentialID id.CredentialID) (*models.Credential, error) {
	return s.findOne(ctx, `SELECT `+credentialColumns+` FROM credentials WHERE id = $1 FOR UPDATE`, credentialID)
}

func (s *PostgresStore) FindLive(ctx context.Context, studentID id.StudentID, examYearID id.ExamYearID, kind models.Kind) (*models.Credential, error) {
	return s.findOne(ctx, `
		SELECT `+credentialColumns+` FROM credentials
		WHERE student_id = $1 AND exam_year_id = $2 AND kind = $3 AND revoked_at IS NULL
	`, studentID, examYearID, string(kind))
}

func (s *PostgresStore) FindByToken(ctx context.Context, token models.Token) (*models.Credential, error) {
	return s.findOne(ctx, `SELECT `+credentialColumns+` FROM credentials WHERE verification_token = $1`, token.Raw())
}

func (s *PostgresStore) findOne(ctx context.Context, query string, args ...any) (*models.Credential, error) {
	c, err := scanCredential(txcontext.Executor(ctx, s.db).QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find credential: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) Revoke(ctx context.Context, c *models.Credential) error {
	res, err := txcontext.Executor(ctx, s.db).ExecContext(ctx, `
		UPDATE credentials
		SET revoked_at = $2, revoke_reason = $3, superseded_by = $4
		WHERE id = $1 AND revoked_at IS NULL
	`, c.ID, c.RevokedAt, c.RevokeReason, supersededArg(c.SupersededBy))
	if err != nil {
		return fmt.Errorf("revoke credential: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoke credential rows affected: %w", err)
	}
	if rows == 0 {
		return sentinel.ErrInvalidState
	}
	return nil
}

func (s *PostgresStore) IncrementPrint(ctx context.Context, credentialID id.CredentialID) (int, error) {
	var count int
	err := txcontext.Executor(ctx, s.db).QueryRowContext(ctx, `
		UPDATE credentials
		SET print_count = print_count + 1
		WHERE id = $1 AND revoked_at IS NULL
		RETURNING print_count
	`, credentialID).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, sentinel.ErrInvalidState
	}
	if err != nil {
		return 0, fmt.Errorf("increment print count: %w", err)
	}
	return count, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCredential(row scanner) (*models.Credential, error) {
	var (
		c              models.Credential
		kind           string
		number         string
		token          string
		classification string
		superseded     *id.CredentialID
	)
	err := row.Scan(
		&c.ID, &kind, &c.StudentID, &c.ExamYearID, &c.ExamYear, &number, &token,
		&c.Percentage, &c.Grade.Label, &c.Grade.LabelArabic, &classification, &c.ResultsDigest,
		&c.PDFReference, &c.PrintCount, &c.IssuedAt, &c.ExpiresAt, &c.RevokedAt, &c.RevokeReason, &superseded,
	)
	if err != nil {
		return nil, err
	}
	c.Kind = models.Kind(kind)
	c.DocumentNumber = models.DocumentNumber(number)
	c.VerificationToken = models.Token(token)
	c.Grade.Classification = grading.Classification(classification)
	c.SupersededBy = superseded
	return &c, nil
}

func supersededArg(credID *id.CredentialID) any {
	if credID == nil {
		return nil
	}
	return credID.String()
}
