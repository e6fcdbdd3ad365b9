package verification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"examboard/internal/credential/models"
)

// Entry is a cached lookup. Status is derived when read so expiry is honoured
// even for cached entries.
type Entry struct {
	Found     bool       `json:"found"`
	Kind      string     `json:"kind,omitempty"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Summary   Summary    `json:"summary"`
}

func (e *Entry) statusAt(now time.Time) Status {
	switch {
	case !e.Found:
		return StatusNotFound
	case e.RevokedAt != nil:
		return StatusRevoked
	case e.ExpiresAt != nil && !now.Before(*e.ExpiresAt):
		return StatusExpired
	default:
		return StatusValid
	}
}

// Cache holds lookups keyed by token fingerprint, never by the token itself.
type Cache interface {
	Get(ctx context.Context, fingerprint string) (*Entry, bool, error)
	Set(ctx context.Context, fingerprint string, entry *Entry) error
	Invalidate(ctx context.Context, token models.Token) error
}

type NopCache struct{}

func (NopCache) Get(context.Context, string) (*Entry, bool, error) { return nil, false, nil }
func (NopCache) Set(context.Context, string, *Entry) error         { return nil }
func (NopCache) Invalidate(context.Context, models.Token) error    { return nil }

const keyPrefix = "verify:"

type RedisCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedisCache(client redis.UniversalClient, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, fingerprint string) (*Entry, bool, error) {
	raw, err := c.client.Get(ctx, keyPrefix+fingerprint).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, false, fmt.Errorf("decode cached verification: %w", err)
	}
	return &e, true, nil
}

func (c *RedisCache) Set(ctx context.Context, fingerprint string, entry *Entry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, keyPrefix+fingerprint, raw, c.ttl).Err()
}

func (c *RedisCache) Invalidate(ctx context.Context, token models.Token) error {
	return c.client.Del(ctx, keyPrefix+token.Fingerprint()).Err()
}

// MemoryCache is an in-process cache with the same expiry semantics.
type MemoryCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	entry     Entry
	expiresAt time.Time
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{ttl: ttl, entries: make(map[string]memoryEntry), now: time.Now}
}

func (c *MemoryCache) Get(_ context.Context, fingerprint string) (*Entry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[fingerprint]
	if !ok {
		return nil, false, nil
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.entries, fingerprint)
		return nil, false, nil
	}
	entry := e.entry
	return &entry, true, nil
}

func (c *MemoryCache) Set(_ context.Context, fingerprint string, entry *Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[fingerprint] = memoryEntry{entry: *entry, expiresAt: c.now().Add(c.ttl)}
	return nil
}

func (c *MemoryCache) Invalidate(_ context.Context, token models.Token) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, token.Fingerprint())
	return nil
}
