// Package protocol holds the intent state machine rules: fee math, deadline
// policy and the legal transition table. Services apply these rules; the
// repositories make each transition atomic.
package protocol

import (
	"math/big"

	"intent-backend/internal/models"
)

// DefaultFeeBps is the protocol fee in basis points (10 bps = 0.1%).
const DefaultFeeBps = 10

var bpsDenominator = big.NewInt(10000)

// Fee computes amount * feeBps / 10000, rounded down.
func Fee(amount *big.Int, feeBps int64) *big.Int {
	fee := new(big.Int).Mul(amount, big.NewInt(feeBps))
	return fee.Div(fee, bpsDenominator)
}

// NetAmount computes the amount actually reserved on the origin domain:
// amount - fee.
func NetAmount(amount *big.Int, feeBps int64) *big.Int {
	return new(big.Int).Sub(amount, Fee(amount, feeBps))
}

// ValidateDeadline enforces the creation-time deadline rules: zero is a
// sentinel for "no deadline" and is rejected, and the deadline must be
// strictly after now.
func ValidateDeadline(deadline, now uint64) error {
	if deadline == 0 {
		return ErrDeadlineZero
	}
	if deadline <= now {
		return ErrDeadlineNotFuture
	}
	return nil
}

// CancelWindowOpen reports whether the deposit-side compensation window is
// open. Strict: cancel at now == deadline is rejected.
func CancelWindowOpen(deadline, now uint64) bool {
	return now > deadline
}

// RefundWindowOpen reports whether the withdraw-side compensation window is
// open. Inclusive: refund at now == deadline is allowed. The asymmetry with
// CancelWindowOpen is deliberate and boundary-tested.
func RefundWindowOpen(deadline, now uint64) bool {
	return now >= deadline
}

// legalTransitions is the full transition table of the intent state machine.
var legalTransitions = map[models.IntentStatus][]models.IntentStatus{
	models.IntentStatusPendingDeposit:  {models.IntentStatusConfirmed, models.IntentStatusCancelled},
	models.IntentStatusConfirmed:       {models.IntentStatusPendingWithdraw},
	models.IntentStatusPendingWithdraw: {models.IntentStatusWithdrawn, models.IntentStatusConfirmed},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to models.IntentStatus) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
