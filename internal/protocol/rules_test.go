package protocol

import (
	"math/big"
	"testing"

	"intent-backend/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestFeeAndNetAmount(t *testing.T) {
	tests := []struct {
		name    string
		amount  int64
		feeBps  int64
		wantFee int64
		wantNet int64
	}{
		{"one million at 10bps", 1_000_000, 10, 1_000, 999_000},
		{"rounds down", 999, 10, 0, 999},
		{"exactly one unit of fee", 1_000, 10, 1, 999},
		{"small amount", 1, 10, 0, 1},
		{"higher fee", 1_000_000, 100, 10_000, 990_000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			amount := big.NewInt(tt.amount)
			assert.Equal(t, tt.wantFee, Fee(amount, tt.feeBps).Int64())
			assert.Equal(t, tt.wantNet, NetAmount(amount, tt.feeBps).Int64())
			// Fee and net always recompose the gross amount.
			sum := new(big.Int).Add(Fee(amount, tt.feeBps), NetAmount(amount, tt.feeBps))
			assert.Equal(t, tt.amount, sum.Int64())
		})
	}
}

func TestValidateDeadline(t *testing.T) {
	assert.ErrorIs(t, ValidateDeadline(0, 100), ErrDeadlineZero)
	assert.ErrorIs(t, ValidateDeadline(99, 100), ErrDeadlineNotFuture)
	assert.ErrorIs(t, ValidateDeadline(100, 100), ErrDeadlineNotFuture)
	assert.NoError(t, ValidateDeadline(101, 100))
}

func TestCompensationWindowBoundaries(t *testing.T) {
	const deadline = 1000

	// Deposit-side cancel is strict: closed at the deadline itself.
	assert.False(t, CancelWindowOpen(deadline, deadline-1))
	assert.False(t, CancelWindowOpen(deadline, deadline))
	assert.True(t, CancelWindowOpen(deadline, deadline+1))

	// Withdraw-side refund is inclusive: open at the deadline itself.
	assert.False(t, RefundWindowOpen(deadline, deadline-1))
	assert.True(t, RefundWindowOpen(deadline, deadline))
	assert.True(t, RefundWindowOpen(deadline, deadline+1))
}

func TestCanTransition(t *testing.T) {
	legal := [][2]models.IntentStatus{
		{models.IntentStatusPendingDeposit, models.IntentStatusConfirmed},
		{models.IntentStatusPendingDeposit, models.IntentStatusCancelled},
		{models.IntentStatusConfirmed, models.IntentStatusPendingWithdraw},
		{models.IntentStatusPendingWithdraw, models.IntentStatusWithdrawn},
		{models.IntentStatusPendingWithdraw, models.IntentStatusConfirmed},
	}
	for _, edge := range legal {
		assert.True(t, CanTransition(edge[0], edge[1]), "%s -> %s must be legal", edge[0], edge[1])
	}

	illegal := [][2]models.IntentStatus{
		{models.IntentStatusPendingDeposit, models.IntentStatusWithdrawn},
		{models.IntentStatusPendingDeposit, models.IntentStatusPendingWithdraw},
		{models.IntentStatusConfirmed, models.IntentStatusCancelled},
		{models.IntentStatusConfirmed, models.IntentStatusPendingDeposit},
		{models.IntentStatusCancelled, models.IntentStatusPendingDeposit},
		{models.IntentStatusCancelled, models.IntentStatusConfirmed},
		{models.IntentStatusWithdrawn, models.IntentStatusConfirmed},
		{models.IntentStatusWithdrawn, models.IntentStatusPendingWithdraw},
	}
	for _, edge := range illegal {
		assert.False(t, CanTransition(edge[0], edge[1]), "%s -> %s must be illegal", edge[0], edge[1])
	}
}

func TestTerminalStatuses(t *testing.T) {
	assert.True(t, models.IntentStatusCancelled.Terminal())
	assert.True(t, models.IntentStatusWithdrawn.Terminal())
	assert.False(t, models.IntentStatusPendingDeposit.Terminal())
	assert.False(t, models.IntentStatusConfirmed.Terminal())
	assert.False(t, models.IntentStatusPendingWithdraw.Terminal())
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(ErrNotYetDelivered))
	assert.False(t, Retryable(ErrWrongStatus))
	assert.False(t, Retryable(ErrMessageReplay))
	assert.False(t, Retryable(nil))
}
