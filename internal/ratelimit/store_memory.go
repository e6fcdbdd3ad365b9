package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"
)

// MemoryStore is a per-process fixed window. It backs tests and single
// instance deployments and stands in for Redis while Redis is down.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

type window struct {
	count   int
	resetAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[string]*window), now: time.Now}
}

func (s *MemoryStore) Allow(_ context.Context, key string, limit int, d time.Duration) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	w := s.windows[key]
	if w == nil || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(d)}
		s.windows[key] = w
		s.sweep(now)
	}
	w.count++
	return result(w.count, limit, w.resetAt, now), nil
}

// sweep drops expired windows. Called with s.mu held.
func (s *MemoryStore) sweep(now time.Time) {
	for k, w := range s.windows {
		if !now.Before(w.resetAt) {
			delete(s.windows, k)
		}
	}
}

func result(count, limit int, resetAt, now time.Time) *Result {
	res := &Result{
		Allowed:   count <= limit,
		Limit:     limit,
		Remaining: max(limit-count, 0),
		ResetAt:   resetAt,
	}
	if !res.Allowed {
		res.RetryAfter = int(math.Ceil(resetAt.Sub(now).Seconds()))
	}
	return res
}
