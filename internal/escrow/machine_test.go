package escrow

import (
	"testing"
	"time"

	"ton-escrow-ledger-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var machineNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func machineEscrow(status models.EscrowStatus) models.Escrow {
	return models.Escrow{
		TransactionId: "tx-1",
		ListingId:     "listing-1",
		BuyerId:       "buyer",
		SellerId:      "seller",
		AmountNano:    10_000_000_000,
		Status:        status,
		TimeoutAt:     machineNow.Add(time.Hour),
		Version:       1,
	}
}

func TestApply_Rejections(t *testing.T) {
	confirmed := machineEscrow(models.EscrowPaymentConfirmed)

	tests := []struct {
		name    string
		escrow  models.Escrow
		event   Event
		now     time.Time
		wantErr error
	}{
		{"payment on confirmed", confirmed, Event{Kind: EventConfirmPayment, PaymentHash: "0xabc"}, machineNow, ErrInvalidStateTransition},
		{"payment on completed", machineEscrow(models.EscrowCompleted), Event{Kind: EventConfirmPayment, PaymentHash: "0xabc"}, machineNow, ErrInvalidStateTransition},
		{"payment without hash", machineEscrow(models.EscrowPendingPayment), Event{Kind: EventConfirmPayment}, machineNow, ErrMissingPaymentHash},
		{"transfer before payment", machineEscrow(models.EscrowPendingPayment), Event{Kind: EventConfirmTransfer, ConfirmerId: "buyer", Role: RoleBuyer}, machineNow, ErrInvalidStateTransition},
		{"transfer after refund", machineEscrow(models.EscrowRefunded), Event{Kind: EventConfirmTransfer, ConfirmerId: "seller", Role: RoleSeller}, machineNow, ErrInvalidStateTransition},
		{"seller claims buyer role", confirmed, Event{Kind: EventConfirmTransfer, ConfirmerId: "seller", Role: RoleBuyer}, machineNow, ErrRoleMismatch},
		{"stranger as seller", confirmed, Event{Kind: EventConfirmTransfer, ConfirmerId: "mallory", Role: RoleSeller}, machineNow, ErrRoleMismatch},
		{"unknown role", confirmed, Event{Kind: EventConfirmTransfer, ConfirmerId: "buyer", Role: "arbiter"}, machineNow, ErrRoleMismatch},
		{"timeout before deadline", confirmed, Event{Kind: EventTimeout}, machineNow, ErrNotEligibleForRefund},
		{"timeout at deadline", confirmed, Event{Kind: EventTimeout}, confirmed.TimeoutAt, ErrNotEligibleForRefund},
		{"timeout on completed", machineEscrow(models.EscrowCompleted), Event{Kind: EventTimeout}, machineNow.Add(48 * time.Hour), ErrNotEligibleForRefund},
		{"timeout on refunded", machineEscrow(models.EscrowRefunded), Event{Kind: EventTimeout}, machineNow.Add(48 * time.Hour), ErrNotEligibleForRefund},
		{"unknown event", confirmed, Event{Kind: "cancel"}, machineNow, ErrInvalidStateTransition},
		{"unknown status", machineEscrow("disputed"), Event{Kind: EventTimeout}, machineNow.Add(48 * time.Hour), ErrInvalidStateTransition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Apply(tt.escrow, tt.event, tt.now)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestApply_ConfirmPayment(t *testing.T) {
	d, err := Apply(machineEscrow(models.EscrowPendingPayment), Event{Kind: EventConfirmPayment, PaymentHash: "0xabc"}, machineNow)
	require.NoError(t, err)

	assert.True(t, d.Changed)
	assert.True(t, d.Transitioned)
	assert.Equal(t, models.EscrowPaymentConfirmed, d.Escrow.Status)
	assert.Equal(t, "0xabc", d.Escrow.PaymentHash)
	require.NotNil(t, d.Escrow.PaymentConfirmedAt)
	assert.Equal(t, machineNow, *d.Escrow.PaymentConfirmedAt)
	assert.Nil(t, d.Credit)
	assert.Equal(t, "payment_confirmed", d.AuditEvent)
}

func TestApply_DualConfirmation(t *testing.T) {
	e := machineEscrow(models.EscrowPaymentConfirmed)

	first, err := Apply(e, Event{Kind: EventConfirmTransfer, ConfirmerId: "seller", Role: RoleSeller}, machineNow)
	require.NoError(t, err)
	assert.True(t, first.Changed)
	assert.False(t, first.Transitioned)
	assert.False(t, first.MarkListingSold)
	assert.Nil(t, first.Credit)
	assert.Equal(t, models.EscrowPaymentConfirmed, first.Escrow.Status)
	assert.True(t, first.Escrow.SellerConfirmed)
	assert.Equal(t, "seller_confirmed", first.AuditEvent)

	second, err := Apply(first.Escrow, Event{Kind: EventConfirmTransfer, ConfirmerId: "buyer", Role: RoleBuyer}, machineNow)
	require.NoError(t, err)
	assert.True(t, second.Transitioned)
	assert.True(t, second.MarkListingSold)
	assert.Equal(t, models.EscrowCompleted, second.Escrow.Status)
	require.NotNil(t, second.Escrow.CompletedAt)
	require.NotNil(t, second.Credit)
	assert.Equal(t, "seller", second.Credit.UserId)
	assert.Equal(t, int64(10_000_000_000), second.Credit.AmountNano)
	assert.Equal(t, models.EntryEscrowRelease, second.Credit.EntryType)
	assert.Equal(t, "escrow_completed", second.AuditEvent)
}

func TestApply_RepeatedConfirmationIsNoOp(t *testing.T) {
	e := machineEscrow(models.EscrowPaymentConfirmed)
	e.BuyerConfirmed = true

	d, err := Apply(e, Event{Kind: EventConfirmTransfer, ConfirmerId: "buyer", Role: RoleBuyer}, machineNow)
	require.NoError(t, err)
	assert.False(t, d.Changed)
	assert.False(t, d.Transitioned)
	assert.Equal(t, e, d.Escrow)
}

func TestApply_Timeout(t *testing.T) {
	late := machineNow.Add(2 * time.Hour)

	t.Run("pending payment refunds nothing", func(t *testing.T) {
		d, err := Apply(machineEscrow(models.EscrowPendingPayment), Event{Kind: EventTimeout}, late)
		require.NoError(t, err)
		assert.Equal(t, models.EscrowRefunded, d.Escrow.Status)
		assert.Nil(t, d.Credit)
		assert.False(t, d.MarkListingSold)
	})

	t.Run("confirmed payment refunds buyer", func(t *testing.T) {
		e := machineEscrow(models.EscrowPaymentConfirmed)
		e.SellerConfirmed = true

		d, err := Apply(e, Event{Kind: EventTimeout}, late)
		require.NoError(t, err)
		assert.Equal(t, models.EscrowRefunded, d.Escrow.Status)
		require.NotNil(t, d.Escrow.RefundedAt)
		assert.Equal(t, late, *d.Escrow.RefundedAt)
		require.NotNil(t, d.Credit)
		assert.Equal(t, "buyer", d.Credit.UserId)
		assert.Equal(t, models.EntryEscrowRefund, d.Credit.EntryType)
		assert.Equal(t, "escrow_refunded", d.AuditEvent)
	})
}

func TestApply_DoesNotMutateInput(t *testing.T) {
	e := machineEscrow(models.EscrowPaymentConfirmed)
	_, err := Apply(e, Event{Kind: EventConfirmTransfer, ConfirmerId: "buyer", Role: RoleBuyer}, machineNow)
	require.NoError(t, err)

	assert.False(t, e.BuyerConfirmed)
	assert.Nil(t, e.BuyerConfirmedAt)
}
