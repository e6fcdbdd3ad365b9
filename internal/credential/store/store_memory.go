package store

import (
	"context"
	"fmt"
	"sync"

	"examboard/internal/credential/models"
	id "examboard/pkg/domain"
	"examboard/pkg/platform/sentinel"
	txcontext "examboard/pkg/platform/tx"
)

type liveKey struct {
	student id.StudentID
	year    id.ExamYearID
	kind    models.Kind
}

type InMemoryStore struct {
	mu          sync.RWMutex
	credentials map[id.CredentialID]models.Credential
	live        map[liveKey]id.CredentialID
	numbers     map[models.DocumentNumber]id.CredentialID
	tokens      map[models.Token]id.CredentialID
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		credentials: make(map[id.CredentialID]models.Credential),
		live:        make(map[liveKey]id.CredentialID),
		numbers:     make(map[models.DocumentNumber]id.CredentialID),
		tokens:      make(map[models.Token]id.CredentialID),
	}
}

func keyOf(c *models.Credential) liveKey {
	return liveKey{c.StudentID, c.ExamYearID, c.Kind}
}

func (s *InMemoryStore) Create(ctx context.Context, c *models.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.credentials[c.ID]; exists {
		return sentinel.ErrAlreadyUsed
	}
	if _, taken := s.numbers[c.DocumentNumber]; taken {
		return sentinel.ErrAlreadyUsed
	}
	if _, taken := s.tokens[c.VerificationToken]; taken {
		return sentinel.ErrAlreadyUsed
	}
	if !c.IsRevoked() {
		if _, taken := s.live[keyOf(c)]; taken {
			return sentinel.ErrAlreadyUsed
		}
		s.live[keyOf(c)] = c.ID
	}
	s.numbers[c.DocumentNumber] = c.ID
	s.tokens[c.VerificationToken] = c.ID
	s.credentials[c.ID] = *c
	created := *c
	txcontext.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.credentials, created.ID)
		delete(s.numbers, created.DocumentNumber)
		delete(s.tokens, created.VerificationToken)
		if s.live[keyOf(&created)] == created.ID {
			delete(s.live, keyOf(&created))
		}
	})
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, credentialID id.CredentialID) (*models.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.get(credentialID)
}

func (s *InMemoryStore) FindForUpdate(ctx context.Context, credentialID id.CredentialID) (*models.Credential, error) {
	return s.FindByID(ctx, credentialID)
}

func (s *InMemoryStore) FindLive(_ context.Context, studentID id.StudentID, examYearID id.ExamYearID, kind models.Kind) (*models.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	credID, ok := s.live[liveKey{studentID, examYearID, kind}]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return s.get(credID)
}

func (s *InMemoryStore) FindByToken(_ context.Context, token models.Token) (*models.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	credID, ok := s.tokens[token]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return s.get(credID)
}

func (s *InMemoryStore) Revoke(ctx context.Context, c *models.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.credentials[c.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if stored.IsRevoked() {
		return sentinel.ErrInvalidState
	}
	s.undoOnRollback(ctx, stored)
	stored.RevokedAt = c.RevokedAt
	stored.RevokeReason = c.RevokeReason
	stored.SupersededBy = c.SupersededBy
	s.credentials[c.ID] = stored
	delete(s.live, keyOf(&stored))
	return nil
}

func (s *InMemoryStore) IncrementPrint(ctx context.Context, credentialID id.CredentialID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.credentials[credentialID]
	if !ok {
		return 0, sentinel.ErrNotFound
	}
	if c.IsRevoked() {
		return 0, sentinel.ErrInvalidState
	}
	s.undoOnRollback(ctx, c)
	c.PrintCount++
	s.credentials[credentialID] = c
	return c.PrintCount, nil
}

// Count returns the number of stored credentials, revoked ones included.
func (s *InMemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.credentials)
}

func (s *InMemoryStore) get(credentialID id.CredentialID) (*models.Credential, error) {
	c, ok := s.credentials[credentialID]
	if !ok {
		return nil, fmt.Errorf("credential %s: %w", credentialID, sentinel.ErrNotFound)
	}
	return &c, nil
}

// undoOnRollback puts prev back, live marker included, if the unit of work in
// ctx fails. Callers hold s.mu.
func (s *InMemoryStore) undoOnRollback(ctx context.Context, prev models.Credential) {
	txcontext.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.credentials[prev.ID] = prev
		if !prev.IsRevoked() {
			if _, taken := s.live[keyOf(&prev)]; !taken {
				s.live[keyOf(&prev)] = prev.ID
			}
		}
	})
}
