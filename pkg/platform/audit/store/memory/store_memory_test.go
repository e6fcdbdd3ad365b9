package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "examboard/pkg/platform/audit"
	txcontext "examboard/pkg/platform/tx"
)

func TestInMemoryStore_RollbackDropsOnlyUnitEvents(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	runner := txcontext.NewMemoryRunner()

	err := runner.RunInTx(ctx, func(txCtx context.Context) error {
		require.NoError(t, s.Append(txCtx, audit.Event{Subject: "inv-1", Action: string(audit.EventPaymentConfirmed)}))
		// a security event written by the async worker lands mid-unit
		require.NoError(t, s.Append(ctx, audit.Event{Subject: "inv-1", Action: string(audit.EventPaymentConfirmed), RequestID: "worker"}))
		require.NoError(t, s.Append(txCtx, audit.Event{Subject: "inv-1", Action: string(audit.EventPaymentConfirmed)}))
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	events, err := s.ListBySubject(ctx, "inv-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "worker", events[0].RequestID)
}
