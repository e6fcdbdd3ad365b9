package store

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"examboard/internal/registry"
	txcontext "examboard/pkg/platform/tx"
)

func TestInMemoryStore_RollbackRestoresReservations(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	runner := txcontext.NewMemoryRunner()

	err := runner.RunInTx(ctx, func(ctx context.Context) error {
		outcome, err := s.Reserve(ctx, registry.NamespaceCertificate, "CERT-2025-00000001", uuid.New())
		require.NoError(t, err)
		require.Equal(t, registry.Assigned, outcome)
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	used, err := s.IsUsed(ctx, registry.NamespaceCertificate, "CERT-2025-00000001")
	require.NoError(t, err)
	assert.False(t, used)
	assert.Zero(t, s.Count(registry.NamespaceCertificate))
}

func TestInMemoryStore_ReleaseOutsideFailedUnitSticks(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	runner := txcontext.NewMemoryRunner()
	owner := uuid.New()
	_, err := s.Reserve(ctx, registry.NamespaceVerificationToken, "tok-1", owner)
	require.NoError(t, err)

	err = runner.RunInTx(ctx, func(txCtx context.Context) error {
		_, err := s.Reserve(txCtx, registry.NamespaceCertificate, "CERT-2025-00000002", uuid.New())
		require.NoError(t, err)
		// an operator release lands while the unit is still open
		require.NoError(t, s.Release(ctx, registry.NamespaceVerificationToken, "tok-1", owner))
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	used, err := s.IsUsed(ctx, registry.NamespaceVerificationToken, "tok-1")
	require.NoError(t, err)
	assert.False(t, used, "the release is not undone by the unrelated rollback")
	assert.Zero(t, s.Count(registry.NamespaceCertificate))
}

func TestInMemoryStore_RollbackRestoresReleasedValue(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	runner := txcontext.NewMemoryRunner()
	owner := uuid.New()
	_, err := s.Reserve(ctx, registry.NamespaceCertificate, "CERT-2025-00000003", owner)
	require.NoError(t, err)

	err = runner.RunInTx(ctx, func(ctx context.Context) error {
		require.NoError(t, s.Release(ctx, registry.NamespaceCertificate, "CERT-2025-00000003", owner))
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	value, err := s.ValueOf(ctx, registry.NamespaceCertificate, owner)
	require.NoError(t, err)
	assert.Equal(t, "CERT-2025-00000003", value)
}
