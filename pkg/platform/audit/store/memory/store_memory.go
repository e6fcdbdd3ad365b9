package memory

import (
	"context"
	"slices"
	"sync"

	audit "examboard/pkg/platform/audit"
	txcontext "examboard/pkg/platform/tx"
)

// InMemoryStore keeps audit events per subject. It takes part in in-memory
// units of work so compliance events vanish with a rolled-back change.
type InMemoryStore struct {
	mu         sync.RWMutex
	events     map[string][]audit.Event
	generation int
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{events: make(map[string][]audit.Event)}
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = make(map[string][]audit.Event)
	s.generation++
}

func (s *InMemoryStore) Append(ctx context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if event.Category == "" {
		event.Category = audit.AuditEvent(event.Action).Category()
	}
	s.events[event.Subject] = append(s.events[event.Subject], event)
	generation, at := s.generation, len(s.events[event.Subject])-1
	txcontext.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		// events only grow between clears, so at still names this event
		if s.generation == generation && at < len(s.events[event.Subject]) {
			s.events[event.Subject] = slices.Delete(s.events[event.Subject], at, at+1)
		}
	})
	return nil
}

func (s *InMemoryStore) ListBySubject(_ context.Context, subject string) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]audit.Event{}, s.events[subject]...), nil
}

// ListByAction returns every event with the given action across subjects.
func (s *InMemoryStore) ListByAction(_ context.Context, action audit.AuditEvent) []audit.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []audit.Event
	for _, events := range s.events {
		for _, e := range events {
			if e.Action == string(action) {
				out = append(out, e)
			}
		}
	}
	return out
}
