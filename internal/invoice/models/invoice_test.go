package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "examboard/pkg/domain"
)

func newInvoice(t *testing.T) *Invoice {
	t.Helper()
	inv, err := NewInvoice(id.InvoiceID(uuid.New()), id.SchoolID(uuid.New()), id.ExamYearID(uuid.New()), 50, 10000, "UGX", time.Now())
	require.NoError(t, err)
	return inv
}

func confirmation() Confirmation {
	return Confirmation{PaidAmount: 500000, PaymentDate: time.Now(), ConfirmedBy: id.UserID(uuid.New())}
}

func TestNewInvoice(t *testing.T) {
	inv := newInvoice(t)
	assert.Equal(t, int64(500000), inv.TotalAmount)
	assert.Equal(t, StatusPending, inv.Status)
	assert.Equal(t, 1, inv.Version)

	_, err := NewInvoice(id.InvoiceID(uuid.New()), id.SchoolID(uuid.New()), id.ExamYearID(uuid.New()), 1, 0, "UGX", time.Now())
	assert.Error(t, err)
}

func TestInvoiceTransitions(t *testing.T) {
	now := time.Now()
	slip := SlipEvidence{PaymentMethod: "bank", BankSlipReference: "SLIP-1"}

	t.Run("pending cannot be confirmed directly", func(t *testing.T) {
		inv := newInvoice(t)
		assert.Error(t, inv.CanConfirm())
	})

	t.Run("pending to processing to paid", func(t *testing.T) {
		inv := newInvoice(t)
		require.NoError(t, inv.CanAttachSlip())
		inv.ApplyAttachSlip(slip, now)
		assert.Equal(t, StatusProcessing, inv.Status)

		require.NoError(t, inv.CanConfirm())
		inv.ApplyConfirm(confirmation(), now)
		assert.True(t, inv.IsPaid())
		assert.NotNil(t, inv.ConfirmedAt)
	})

	t.Run("processing accepts a replacement slip", func(t *testing.T) {
		inv := newInvoice(t)
		inv.ApplyAttachSlip(slip, now)
		require.NoError(t, inv.CanAttachSlip())
		inv.ApplyAttachSlip(SlipEvidence{PaymentMethod: "bank", BankSlipReference: "SLIP-2"}, now)
		assert.Equal(t, "SLIP-2", inv.BankSlipReference)
	})

	t.Run("paid is frozen", func(t *testing.T) {
		inv := newInvoice(t)
		inv.ApplyAttachSlip(slip, now)
		inv.ApplyConfirm(confirmation(), now)
		assert.Error(t, inv.CanAttachSlip())
		assert.Error(t, inv.CanConfirm())
		assert.Error(t, inv.CanRecompute())
		assert.Error(t, inv.CanRejectSlip())
	})

	t.Run("recompute only while pending", func(t *testing.T) {
		inv := newInvoice(t)
		require.NoError(t, inv.CanRecompute())
		inv.ApplyRecompute(60, 10000, now)
		assert.Equal(t, int64(600000), inv.TotalAmount)

		inv.ApplyAttachSlip(slip, now)
		assert.Error(t, inv.CanRecompute())
	})

	t.Run("slip rejection returns to pending", func(t *testing.T) {
		inv := newInvoice(t)
		assert.Error(t, inv.CanRejectSlip())
		inv.ApplyAttachSlip(slip, now)
		require.NoError(t, inv.CanRejectSlip())
		inv.ApplyRejectSlip("illegible", now)
		assert.Equal(t, StatusPending, inv.Status)
		assert.Empty(t, inv.BankSlipReference)
		assert.NoError(t, inv.CanRecompute())
	})
}

func TestConfirmationValidate(t *testing.T) {
	assert.NoError(t, confirmation().Validate())
	assert.Error(t, Confirmation{PaymentDate: time.Now(), ConfirmedBy: id.UserID(uuid.New())}.Validate())
	assert.Error(t, Confirmation{PaidAmount: 1, ConfirmedBy: id.UserID(uuid.New())}.Validate())
	assert.Error(t, Confirmation{PaidAmount: 1, PaymentDate: time.Now()}.Validate())
}
