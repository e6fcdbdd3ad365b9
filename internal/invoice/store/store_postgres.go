package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"examboard/internal/invoice/models"
	"examboard/internal/platform/postgres"
	id "examboard/pkg/domain"
	"examboard/pkg/platform/sentinel"
	txcontext "examboard/pkg/platform/tx"
)

const invoiceColumns = `id, school_id, exam_year_id, total_students, fee_per_student, total_amount, currency,
	status, payment_method, bank_slip_reference, slip_submitted_at, slip_rejection,
	paid_amount, payment_date, confirmed_by, confirmed_at, version, created_at, updated_at`

type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, inv *models.Invoice) error {
	query := `
		INSERT INTO invoices (` + invoiceColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`
	_, err := txcontext.Executor(ctx, s.db).ExecContext(ctx, query,
		inv.ID, inv.SchoolID, inv.ExamYearID, inv.TotalStudents, inv.FeePerStudent, inv.TotalAmount, inv.Currency,
		string(inv.Status), inv.PaymentMethod, inv.BankSlipReference, inv.SlipSubmittedAt, inv.SlipRejection,
		inv.PaidAmount, inv.PaymentDate, inv.ConfirmedBy, inv.ConfirmedAt, inv.Version, inv.CreatedAt, inv.UpdatedAt,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return fmt.Errorf("create invoice: %w", sentinel.ErrAlreadyUsed)
		}
		return fmt.Errorf("create invoice: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, invoiceID id.InvoiceID) (*models.Invoice, error) {
	return s.findOne(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, invoiceID)
}

func (s *PostgresStore) FindByCohort(ctx context.Context, schoolID id.SchoolID, examYearID id.ExamYearID) (*models.Invoice, error) {
	return s.findOne(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE school_id = $1 AND exam_year_id = $2`,
		schoolID, examYearID)
}

func (s *PostgresStore) findOne(ctx context.Context, query string, args ...any) (*models.Invoice, error) {
	inv, err := scanInvoice(txcontext.Executor(ctx, s.db).QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find invoice: %w", err)
	}
	return inv, nil
}

func (s *PostgresStore) Update(ctx context.Context, inv *models.Invoice, expected models.Status, version int) error {
	query := `
		UPDATE invoices SET
			total_students = $2, fee_per_student = $3, total_amount = $4, status = $5,
			payment_method = $6, bank_slip_reference = $7, slip_submitted_at = $8, slip_rejection = $9,
			paid_amount = $10, payment_date = $11, confirmed_by = $12, confirmed_at = $13,
			updated_at = $14, version = version + 1
		WHERE id = $1 AND status = $15 AND version = $16
		RETURNING version
	`
	var next int
	err := txcontext.Executor(ctx, s.db).QueryRowContext(ctx, query,
		inv.ID, inv.TotalStudents, inv.FeePerStudent, inv.TotalAmount, string(inv.Status),
		inv.PaymentMethod, inv.BankSlipReference, inv.SlipSubmittedAt, inv.SlipRejection,
		inv.PaidAmount, inv.PaymentDate, inv.ConfirmedBy, inv.ConfirmedAt,
		inv.UpdatedAt, string(expected), version,
	).Scan(&next)
	if errors.Is(err, sql.ErrNoRows) {
		return sentinel.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("update invoice: %w", err)
	}
	inv.Version = next
	return nil
}

func scanInvoice(row *sql.Row) (*models.Invoice, error) {
	var (
		inv    models.Invoice
		status string
	)
	err := row.Scan(
		&inv.ID, &inv.SchoolID, &inv.ExamYearID, &inv.TotalStudents, &inv.FeePerStudent, &inv.TotalAmount, &inv.Currency,
		&status, &inv.PaymentMethod, &inv.BankSlipReference, &inv.SlipSubmittedAt, &inv.SlipRejection,
		&inv.PaidAmount, &inv.PaymentDate, &inv.ConfirmedBy, &inv.ConfirmedAt, &inv.Version, &inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	inv.Status = models.Status(status)
	return &inv, nil
}
