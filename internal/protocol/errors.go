package protocol

import "errors"

// Stable error kinds for the intent state machine. Callers and tests match
// these with errors.Is; handlers map them onto HTTP status codes. Validation,
// state and authorization errors are permanent; ErrNotYetDelivered is the one
// retryable kind.
var (
	// Validation errors - rejected synchronously, no state mutated
	ErrDeadlineZero        = errors.New("deadline must be nonzero")
	ErrDeadlineNotFuture   = errors.New("deadline must be strictly in the future")
	ErrZeroAmount          = errors.New("amount must be nonzero")
	ErrNetAmountMismatch   = errors.New("presented net amount does not match reserved net amount")
	ErrAmountExceedsShares = errors.New("withdraw amount exceeds receipt shares")
	ErrZeroTime            = errors.New("current time of zero rejected")

	// State machine violations
	ErrIntentExists       = errors.New("intent already exists")
	ErrIntentNotFound     = errors.New("intent not found")
	ErrWrongStatus        = errors.New("intent is not in the required status")
	ErrAlreadyConsumed    = errors.New("intent already consumed")
	ErrDeadlineNotReached = errors.New("deadline has not passed yet")
	ErrReceiptNotFound    = errors.New("position receipt not found")
	ErrReceiptNotActive   = errors.New("position receipt is not active")
	ErrReceiptNullified   = errors.New("position receipt already nullified")
	ErrStaleConfirmation  = errors.New("confirmation does not match the current withdraw leg")

	// Authorization failures
	ErrNotOwner       = errors.New("caller is not the intent owner")
	ErrSecretMismatch = errors.New("secret does not match stored commitment")
	ErrRelayerIsOwner = errors.New("relayer must be a different principal than the owner")

	// Transport
	ErrNotYetDelivered = errors.New("message not yet delivered") // retryable
	ErrWitnessInvalid  = errors.New("membership witness verification failed")
	ErrMessageReplay   = errors.New("message already processed")
	ErrUnknownRoot     = errors.New("witness root is not a committed batch root")
)

// Retryable reports whether the caller should retry later rather than treat
// the failure as permanent.
func Retryable(err error) bool {
	return errors.Is(err, ErrNotYetDelivered)
}
