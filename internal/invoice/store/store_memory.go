package store

import (
	"context"
	"sync"

	"examboard/internal/invoice/models"
	id "examboard/pkg/domain"
	"examboard/pkg/platform/sentinel"
	txcontext "examboard/pkg/platform/tx"
)

type cohortKey struct {
	school id.SchoolID
	year   id.ExamYearID
}

type InMemoryStore struct {
	mu       sync.RWMutex
	invoices map[id.InvoiceID]models.Invoice
	byCohort map[cohortKey]id.InvoiceID
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		invoices: make(map[id.InvoiceID]models.Invoice),
		byCohort: make(map[cohortKey]id.InvoiceID),
	}
}

func (s *InMemoryStore) Create(ctx context.Context, inv *models.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := cohortKey{inv.SchoolID, inv.ExamYearID}
	if _, exists := s.byCohort[key]; exists {
		return sentinel.ErrAlreadyUsed
	}
	s.invoices[inv.ID] = *inv
	s.byCohort[key] = inv.ID
	invoiceID := inv.ID
	txcontext.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.invoices, invoiceID)
		if s.byCohort[key] == invoiceID {
			delete(s.byCohort, key)
		}
	})
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, invoiceID id.InvoiceID) (*models.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inv, ok := s.invoices[invoiceID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &inv, nil
}

func (s *InMemoryStore) FindByCohort(_ context.Context, schoolID id.SchoolID, examYearID id.ExamYearID) (*models.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	invoiceID, ok := s.byCohort[cohortKey{schoolID, examYearID}]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	inv := s.invoices[invoiceID]
	return &inv, nil
}

func (s *InMemoryStore) Update(ctx context.Context, inv *models.Invoice, expected models.Status, version int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.invoices[inv.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if current.Status != expected || current.Version != version {
		return sentinel.ErrConflict
	}
	next := *inv
	next.Version = version + 1
	s.invoices[inv.ID] = next
	txcontext.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.invoices[current.ID].Version == next.Version {
			s.invoices[current.ID] = current
		}
	})
	inv.Version = next.Version
	return nil
}
