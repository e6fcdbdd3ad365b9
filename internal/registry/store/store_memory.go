package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"examboard/internal/registry"
	"examboard/pkg/platform/sentinel"
	txcontext "examboard/pkg/platform/tx"
)

type key struct {
	ns    registry.Namespace
	value string
}

type ownerKey struct {
	ns    registry.Namespace
	owner uuid.UUID
}

type reservation struct {
	owner      uuid.UUID
	reservedAt time.Time
}

// InMemoryStore keeps reservations in maps guarded by one mutex, so the check
// and the insert in Reserve happen as a single step.
type InMemoryStore struct {
	mu      sync.Mutex
	values  map[key]reservation
	byOwner map[ownerKey]string
	now     func() time.Time
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		values:  make(map[key]reservation),
		byOwner: make(map[ownerKey]string),
		now:     time.Now,
	}
}

func (s *InMemoryStore) IsUsed(_ context.Context, ns registry.Namespace, value string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.values[key{ns, value}]
	return ok, nil
}

func (s *InMemoryStore) Reserve(ctx context.Context, ns registry.Namespace, value string, owner uuid.UUID) (registry.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.values[key{ns, value}]; taken {
		return registry.Collision, nil
	}
	if _, holds := s.byOwner[ownerKey{ns, owner}]; holds {
		return 0, sentinel.ErrAlreadyUsed
	}
	s.values[key{ns, value}] = reservation{owner: owner, reservedAt: s.now()}
	s.byOwner[ownerKey{ns, owner}] = value
	txcontext.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if r, ok := s.values[key{ns, value}]; ok && r.owner == owner {
			delete(s.values, key{ns, value})
			delete(s.byOwner, ownerKey{ns, owner})
		}
	})
	return registry.Assigned, nil
}

func (s *InMemoryStore) Release(ctx context.Context, ns registry.Namespace, value string, owner uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.values[key{ns, value}]
	if !ok || r.owner != owner {
		return sentinel.ErrNotFound
	}
	delete(s.values, key{ns, value})
	delete(s.byOwner, ownerKey{ns, owner})
	txcontext.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, taken := s.values[key{ns, value}]; !taken {
			s.values[key{ns, value}] = r
			s.byOwner[ownerKey{ns, owner}] = value
		}
	})
	return nil
}

func (s *InMemoryStore) ValueOf(_ context.Context, ns registry.Namespace, owner uuid.UUID) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	value, ok := s.byOwner[ownerKey{ns, owner}]
	if !ok {
		return "", sentinel.ErrNotFound
	}
	return value, nil
}

// Count returns the number of reservations held in ns.
func (s *InMemoryStore) Count(ns registry.Namespace) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k := range s.values {
		if k.ns == ns {
			n++
		}
	}
	return n
}
