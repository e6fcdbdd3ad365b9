package compliance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "examboard/pkg/domain"
	audit "examboard/pkg/platform/audit"
	"examboard/pkg/platform/audit/store/memory"
	"examboard/pkg/requestcontext"
)

type failingStore struct{}

func (failingStore) Append(context.Context, audit.Event) error { return errors.New("outbox down") }
func (failingStore) ListBySubject(context.Context, string) ([]audit.Event, error) {
	return nil, nil
}

func TestEmit_FillsRequestScopedFields(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := New(store, WithMetrics(NewMetrics(prometheus.NewRegistry())))

	actor := id.UserID(uuid.New())
	now := time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithUserID(context.Background(), actor)
	ctx = requestcontext.WithTime(ctx, now)
	ctx = requestcontext.WithRequestID(ctx, "req-42")

	err := pub.Emit(ctx, audit.ComplianceEvent{Subject: "cred-1", Action: audit.EventCredentialIssued})
	require.NoError(t, err)

	events, err := store.ListBySubject(ctx, "cred-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, actor, events[0].ActorID)
	assert.Equal(t, now, events[0].Timestamp)
	assert.Equal(t, "req-42", events[0].RequestID)
	assert.Equal(t, audit.CategoryCompliance, events[0].Category)
}

func TestEmit_FailClosed(t *testing.T) {
	pub := New(failingStore{})
	err := pub.Emit(context.Background(), audit.ComplianceEvent{Subject: "inv-1", Action: audit.EventPaymentConfirmed})
	require.Error(t, err)
}

func TestEmit_RequiresSubjectAndAction(t *testing.T) {
	pub := New(memory.NewInMemoryStore())
	require.Error(t, pub.Emit(context.Background(), audit.ComplianceEvent{Action: audit.EventStudentApproved}))
	require.Error(t, pub.Emit(context.Background(), audit.ComplianceEvent{Subject: "s"}))
}
