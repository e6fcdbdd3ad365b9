package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"examboard/internal/credential/models"
	id "examboard/pkg/domain"
	"examboard/pkg/platform/sentinel"
	txcontext "examboard/pkg/platform/tx"
)

func newCredential(t *testing.T, student id.StudentID, year id.ExamYearID) *models.Credential {
	t.Helper()
	number, err := models.DrawDocumentNumber(nil, models.KindCertificate, 2026)
	require.NoError(t, err)
	token, err := models.NewToken(nil)
	require.NoError(t, err)
	return &models.Credential{
		ID:                id.CredentialID(uuid.New()),
		Kind:              models.KindCertificate,
		StudentID:         student,
		ExamYearID:        year,
		ExamYear:          2026,
		DocumentNumber:    number,
		VerificationToken: token,
		IssuedAt:          time.Now(),
	}
}

func TestInMemoryStore_OneLivePerKind(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	student, year := id.StudentID(uuid.New()), id.ExamYearID(uuid.New())

	first := newCredential(t, student, year)
	require.NoError(t, s.Create(ctx, first))
	assert.ErrorIs(t, s.Create(ctx, newCredential(t, student, year)), sentinel.ErrAlreadyUsed)

	now := time.Now()
	first.ApplyRevoke("reissued", now, nil)
	require.NoError(t, s.Revoke(ctx, first))
	assert.ErrorIs(t, s.Revoke(ctx, first), sentinel.ErrInvalidState)

	_, err := s.FindLive(ctx, student, year, models.KindCertificate)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
	require.NoError(t, s.Create(ctx, newCredential(t, student, year)), "revoked credential frees the slot")
}

func TestInMemoryStore_PrintCount(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	c := newCredential(t, id.StudentID(uuid.New()), id.ExamYearID(uuid.New()))
	require.NoError(t, s.Create(ctx, c))

	for want := 1; want <= 3; want++ {
		n, err := s.IncrementPrint(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}

	found, err := s.FindByToken(ctx, c.VerificationToken)
	require.NoError(t, err)
	assert.Equal(t, 3, found.PrintCount)
}

func TestInMemoryStore_RollbackUndoesUnitWritesOnly(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	runner := txcontext.NewMemoryRunner()
	reprinted := newCredential(t, id.StudentID(uuid.New()), id.ExamYearID(uuid.New()))
	other := newCredential(t, id.StudentID(uuid.New()), id.ExamYearID(uuid.New()))
	require.NoError(t, s.Create(ctx, reprinted))
	require.NoError(t, s.Create(ctx, other))

	err := runner.RunInTx(ctx, func(txCtx context.Context) error {
		c := newCredential(t, id.StudentID(uuid.New()), id.ExamYearID(uuid.New()))
		require.NoError(t, s.Create(txCtx, c))
		_, err := s.IncrementPrint(txCtx, reprinted.ID)
		require.NoError(t, err)
		// a print made outside the unit is not part of it
		_, err = s.IncrementPrint(ctx, other.ID)
		require.NoError(t, err)
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	assert.Equal(t, 2, s.Count())
	found, err := s.FindByID(ctx, reprinted.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, found.PrintCount)
	found, err = s.FindByID(ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, found.PrintCount)
	_, err = s.FindByToken(ctx, reprinted.VerificationToken)
	assert.NoError(t, err)
}
