package ops

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	audit "examboard/pkg/platform/audit"
	"examboard/pkg/platform/audit/store/memory"
	"examboard/pkg/platform/circuit"
)

type flakyStore struct {
	calls atomic.Int32
}

func (s *flakyStore) Append(context.Context, audit.Event) error {
	s.calls.Add(1)
	return errors.New("unavailable")
}

func (s *flakyStore) ListBySubject(context.Context, string) ([]audit.Event, error) { return nil, nil }

func TestTracker_RecordsSampledEvents(t *testing.T) {
	store := memory.NewInMemoryStore()
	tracker := New(store)

	tracker.Track(context.Background(), audit.OpsEvent{Subject: "CERT-2025-00000001", Action: audit.EventCredentialVerified})

	events, _ := store.ListBySubject(context.Background(), "CERT-2025-00000001")
	assert.Len(t, events, 1)
}

func TestTracker_ZeroRateDropsEverything(t *testing.T) {
	store := memory.NewInMemoryStore()
	tracker := New(store, WithSampler(NewSampler(0)))

	tracker.Track(context.Background(), audit.OpsEvent{Subject: "x", Action: audit.EventCredentialVerified})

	events, _ := store.ListBySubject(context.Background(), "x")
	assert.Empty(t, events)
}

func TestTracker_AlwaysKeepsExemptActions(t *testing.T) {
	store := memory.NewInMemoryStore()
	tracker := New(store, WithSampler(NewSampler(0, Always(audit.EventCohortBulkApproved))))

	tracker.Track(context.Background(), audit.OpsEvent{Subject: "inv-1", Action: audit.EventCohortBulkApproved})
	tracker.Track(context.Background(), audit.OpsEvent{Subject: "inv-1", Action: audit.EventCredentialVerified})

	events, _ := store.ListBySubject(context.Background(), "inv-1")
	assert.Len(t, events, 1)
	assert.Equal(t, string(audit.EventCohortBulkApproved), events[0].Action)
}

func TestSampler_ClampsAndDraws(t *testing.T) {
	s := NewSampler(0.25)
	s.draw = func() float64 { return 0.2 }
	assert.True(t, s.Keep(audit.EventCredentialVerified))
	s.draw = func() float64 { return 0.3 }
	assert.False(t, s.Keep(audit.EventCredentialVerified))

	assert.Equal(t, 1.0, NewSampler(7).rate)
	assert.Equal(t, 0.0, NewSampler(-1).rate)
}

func TestTracker_BreakerStopsHammeringFailingStore(t *testing.T) {
	store := &flakyStore{}
	tracker := New(store, WithBreaker(circuit.New("t", circuit.WithFailureThreshold(2), circuit.WithCooldown(time.Hour))))

	for range 10 {
		tracker.Track(context.Background(), audit.OpsEvent{Subject: "x", Action: audit.EventCredentialVerified})
	}
	assert.Equal(t, int32(2), store.calls.Load())
}
