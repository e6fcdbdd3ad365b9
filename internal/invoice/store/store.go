// Package store persists cohort invoices with optimistic versioning.
package store

import (
	"context"

	"examboard/internal/invoice/models"
	id "examboard/pkg/domain"
)

type Store interface {
	// Create fails with sentinel.ErrAlreadyUsed when the cohort already has an invoice.
	Create(ctx context.Context, inv *models.Invoice) error
	FindByID(ctx context.Context, invoiceID id.InvoiceID) (*models.Invoice, error)
	FindByCohort(ctx context.Context, schoolID id.SchoolID, examYearID id.ExamYearID) (*models.Invoice, error)
	// Update writes inv only if the stored row still has the expected status and
	// version, bumping the version. A lost race is sentinel.ErrConflict.
	Update(ctx context.Context, inv *models.Invoice, expected models.Status, version int) error
}
