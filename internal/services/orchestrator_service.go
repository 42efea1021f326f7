package services

import (
	"context"
	"fmt"
	"log"
	"math/big"

	"intent-backend/internal/clock"
	"intent-backend/internal/hashing"
	"intent-backend/internal/metrics"
	"intent-backend/internal/models"
	"intent-backend/internal/protocol"
	"intent-backend/internal/repository"
	"intent-backend/internal/transport"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
)

// StatusPusher receives intent status updates for interested subscribers.
// Implemented by the WebSocket push service; nil disables pushes.
type StatusPusher interface {
	PushIntentUpdate(intent *models.Intent, reason string)
}

// OrchestratorService drives intents through the deposit and withdraw
// protocols: derives ids, records state, emits cross-domain messages, applies
// settlement confirmations and runs the compensation paths. All transitions
// go through the repository's atomic compare-then-update gate, so a
// confirmation racing a compensation can never both succeed.
type OrchestratorService struct {
	intents    repository.IntentRepository
	receipts   repository.ReceiptRepository
	processed  repository.ProcessedMessageRepository
	batchRoots repository.BatchRootRepository
	transport  transport.Transport
	clk        clock.Clock

	feeBps         int64
	settlementAddr common.Address // settlement-domain executor
	push           StatusPusher
}

// NewOrchestratorService creates a new OrchestratorService instance
func NewOrchestratorService(
	intents repository.IntentRepository,
	receipts repository.ReceiptRepository,
	processed repository.ProcessedMessageRepository,
	batchRoots repository.BatchRootRepository,
	tp transport.Transport,
	clk clock.Clock,
	feeBps int64,
	settlementAddr common.Address,
	push StatusPusher,
) *OrchestratorService {
	if feeBps <= 0 {
		feeBps = protocol.DefaultFeeBps
	}
	return &OrchestratorService{
		intents:        intents,
		receipts:       receipts,
		processed:      processed,
		batchRoots:     batchRoots,
		transport:      tp,
		clk:            clk,
		feeBps:         feeBps,
		settlementAddr: settlementAddr,
		push:           push,
	}
}

// DepositRequest carries the creation-time parameters of a deposit intent.
type DepositRequest struct {
	Caller           common.Address
	AssetID          common.Hash
	Amount           *big.Int
	OriginalDecimals uint8
	Deadline         uint64
	SecretHash       common.Hash
}

// DepositResult reports the derived identifiers of a created deposit intent.
type DepositResult struct {
	IntentID  common.Hash
	OwnerHash common.Hash
	NetAmount *big.Int
	MessageID common.Hash
}

// RequestDeposit creates a deposit intent and emits the outbound message to
// the settlement domain. The message carries the owner hash, never the raw
// caller identity.
func (s *OrchestratorService) RequestDeposit(ctx context.Context, req DepositRequest) (*DepositResult, error) {
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		metrics.IntentRejections.WithLabelValues("deposit", "validation").Inc()
		return nil, protocol.ErrZeroAmount
	}
	if err := protocol.ValidateDeadline(req.Deadline, s.clk.NowUnix()); err != nil {
		metrics.IntentRejections.WithLabelValues("deposit", "validation").Inc()
		return nil, err
	}

	salt := hashing.DeriveSalt(req.Caller, req.SecretHash)
	intentID := hashing.DeriveIntentID(req.Caller, req.AssetID, req.Amount, req.OriginalDecimals, req.Deadline, salt)
	ownerHash := hashing.DeriveOwnerHash(req.Caller, intentID)
	netAmount := protocol.NetAmount(req.Amount, s.feeBps)

	intent := &models.Intent{
		IntentID:         intentID.Hex(),
		Owner:            req.Caller.Hex(),
		OwnerHash:        ownerHash.Hex(),
		AssetID:          req.AssetID.Hex(),
		Amount:           req.Amount.String(),
		NetAmount:        netAmount.String(),
		OriginalDecimals: req.OriginalDecimals,
		Deadline:         req.Deadline,
		SecretHash:       req.SecretHash.Hex(),
		Status:           models.IntentStatusPendingDeposit,
	}
	if err := s.intents.Create(ctx, intent); err != nil {
		metrics.IntentRejections.WithLabelValues("deposit", "state").Inc()
		return nil, err
	}

	content, err := transport.EncodePayload(transport.DepositRequestPayload{
		Kind:             transport.PayloadDepositRequest,
		IntentID:         intentID.Hex(),
		OwnerHash:        ownerHash.Hex(),
		AssetID:          req.AssetID.Hex(),
		NetAmount:        netAmount.String(),
		Deadline:         req.Deadline,
		OriginalDecimals: req.OriginalDecimals,
	})
	if err != nil {
		return nil, err
	}
	msgID, err := s.transport.Send(ctx, transport.DomainSettlement, s.settlementAddr, content)
	if err != nil {
		return nil, fmt.Errorf("failed to emit deposit message: %w", err)
	}

	metrics.IntentsCreated.WithLabelValues("deposit").Inc()
	log.Printf("📤 Deposit intent created: %s (net=%s, deadline=%d)", intentID.Hex(), netAmount.String(), req.Deadline)
	s.pushUpdate(intent, "deposit_requested")

	return &DepositResult{
		IntentID:  intentID,
		OwnerHash: ownerHash,
		NetAmount: netAmount,
		MessageID: msgID,
	}, nil
}

// ApplyConfirmation consumes a settlement-domain confirmation message. The
// witness must verify against a committed batch root, the message body must
// not have been processed before, and the intent must be in the pending state
// of the confirmed leg. Any re-delivery fails, it never silently no-ops.
func (s *OrchestratorService) ApplyConfirmation(ctx context.Context, content []byte, witness *transport.Witness) (*models.Intent, error) {
	if witness == nil {
		return nil, protocol.ErrWitnessInvalid
	}
	if err := witness.Verify(content); err != nil {
		metrics.IntentRejections.WithLabelValues("confirm", "witness").Inc()
		return nil, err
	}
	known, err := s.batchRoots.Exists(ctx, witness.Root.Hex())
	if err != nil {
		return nil, err
	}
	if !known {
		metrics.IntentRejections.WithLabelValues("confirm", "witness").Inc()
		return nil, protocol.ErrUnknownRoot
	}

	payload, err := transport.DecodeConfirmation(content)
	if err != nil {
		return nil, err
	}

	intent, err := s.intents.GetByID(ctx, payload.IntentID)
	if err != nil {
		return nil, err
	}
	// Privacy property: the relayer submitting the settlement step must be a
	// different principal than the owner.
	if payload.Relayer != "" && common.HexToAddress(payload.Relayer) == common.HexToAddress(intent.Owner) {
		metrics.IntentRejections.WithLabelValues("confirm", "auth").Inc()
		return nil, protocol.ErrRelayerIsOwner
	}

	bodyHash := common.BytesToHash(crypto.Keccak256(content))
	if err := s.processed.MarkProcessed(ctx, bodyHash.Hex(), "inbound"); err != nil {
		metrics.TransportReplaysRejected.Inc()
		metrics.IntentRejections.WithLabelValues("confirm", "replay").Inc()
		return nil, err
	}

	switch payload.Operation {
	case "deposit":
		return s.confirmDeposit(ctx, intent, payload.Amount)
	case "withdraw":
		return s.confirmWithdraw(ctx, intent, payload)
	default:
		return nil, fmt.Errorf("unknown confirmation operation %q", payload.Operation)
	}
}

func (s *OrchestratorService) confirmDeposit(ctx context.Context, intent *models.Intent, shares string) (*models.Intent, error) {
	updated, err := s.intents.Transition(ctx, intent.IntentID, repository.TransitionParams{
		From:               models.IntentStatusPendingDeposit,
		To:                 models.IntentStatusConfirmed,
		RequireNotConsumed: true,
		SetConsumed:        true,
		Reason:             "settlement_confirmed",
		Updates:            map[string]interface{}{"shares": shares},
		CreateReceipt: &models.PositionReceipt{
			ID:       uuid.New().String(),
			Owner:    intent.Owner,
			IntentID: intent.IntentID,
			Nonce:    intent.IntentID,
			AssetID:  intent.AssetID,
			Shares:   shares,
			Status:   models.ReceiptStatusActive,
		},
	})
	if err != nil {
		metrics.IntentRejections.WithLabelValues("confirm", "state").Inc()
		return nil, err
	}

	metrics.IntentTransitions.WithLabelValues(string(models.IntentStatusConfirmed), "settlement_confirmed").Inc()
	log.Printf("✅ Deposit confirmed: %s (shares=%s)", intent.IntentID, shares)
	updated.Status = models.IntentStatusConfirmed
	updated.Shares = shares
	s.pushUpdate(updated, "deposit_confirmed")
	return updated, nil
}

func (s *OrchestratorService) confirmWithdraw(ctx context.Context, intent *models.Intent, payload *transport.ConfirmationPayload) (*models.Intent, error) {
	// A confirmation settles exactly the leg that requested it. A stale one,
	// emitted for a leg that was since refunded and reopened, must not
	// finalize the current leg even though the status matches.
	if payload.Leg != intent.WithdrawLeg {
		metrics.IntentRejections.WithLabelValues("confirm", "state").Inc()
		return nil, protocol.ErrStaleConfirmation
	}

	// The pending receipt is consumed; the secret-authenticated claim on the
	// origin domain releases the funds to the owner.
	receipt, err := s.receipts.GetLiveByIntentID(ctx, intent.Owner, intent.IntentID)
	if err != nil {
		return nil, err
	}

	updated, err := s.intents.Transition(ctx, intent.IntentID, repository.TransitionParams{
		From:               models.IntentStatusPendingWithdraw,
		To:                 models.IntentStatusWithdrawn,
		RequireNotConsumed: true,
		SetConsumed:        true,
		Reason:             "withdraw_settled",
		NullifyReceiptID:   receipt.ID,
	})
	if err != nil {
		metrics.IntentRejections.WithLabelValues("confirm", "state").Inc()
		return nil, err
	}

	metrics.IntentTransitions.WithLabelValues(string(models.IntentStatusWithdrawn), "withdraw_settled").Inc()
	log.Printf("✅ Withdraw settled: %s (amount=%s, leg=%d)", intent.IntentID, payload.Amount, payload.Leg)
	updated.Status = models.IntentStatusWithdrawn
	s.pushUpdate(updated, "withdraw_settled")
	return updated, nil
}

// CancelDeposit runs the deposit-side compensation path. Owner-only (secret
// check), only while the intent is PendingDeposit, and only strictly after
// the deadline. The caller must re-present the exact reserved net amount.
func (s *OrchestratorService) CancelDeposit(ctx context.Context, caller common.Address, secret common.Hash, intentID common.Hash, netAmount *big.Int) (*big.Int, error) {
	intent, err := s.intents.GetByID(ctx, intentID.Hex())
	if err != nil {
		return nil, err
	}
	if common.HexToAddress(intent.Owner) != caller {
		metrics.IntentRejections.WithLabelValues("cancel", "auth").Inc()
		return nil, protocol.ErrNotOwner
	}
	if !hashing.VerifySecret(secret, common.HexToHash(intent.SecretHash)) {
		metrics.IntentRejections.WithLabelValues("cancel", "auth").Inc()
		return nil, protocol.ErrSecretMismatch
	}
	if !protocol.CancelWindowOpen(intent.Deadline, s.clk.NowUnix()) {
		metrics.IntentRejections.WithLabelValues("cancel", "validation").Inc()
		return nil, protocol.ErrDeadlineNotReached
	}
	if netAmount == nil || netAmount.String() != intent.NetAmount {
		metrics.IntentRejections.WithLabelValues("cancel", "validation").Inc()
		return nil, protocol.ErrNetAmountMismatch
	}

	updated, err := s.intents.Transition(ctx, intentID.Hex(), repository.TransitionParams{
		From:               models.IntentStatusPendingDeposit,
		To:                 models.IntentStatusCancelled,
		RequireNotConsumed: true,
		SetConsumed:        true,
		Reason:             "deadline_cancel",
	})
	if err != nil {
		metrics.IntentRejections.WithLabelValues("cancel", "state").Inc()
		return nil, err
	}

	metrics.IntentTransitions.WithLabelValues(string(models.IntentStatusCancelled), "deadline_cancel").Inc()
	log.Printf("↩️ Deposit cancelled: %s (net=%s returned)", intentID.Hex(), intent.NetAmount)
	updated.Status = models.IntentStatusCancelled
	s.pushUpdate(updated, "deposit_cancelled")
	return netAmount, nil
}

// WithdrawRequest carries the parameters of a withdraw leg.
type WithdrawRequest struct {
	Caller     common.Address
	Nonce      common.Hash // nonce of the Active position receipt
	Amount     *big.Int
	Deadline   uint64
	SecretHash common.Hash
}

// WithdrawResult reports the withdraw leg identifiers.
type WithdrawResult struct {
	IntentID  common.Hash
	OwnerHash common.Hash
	MessageID common.Hash
}

// RequestWithdraw opens the withdraw leg: validates against the Active
// receipt, replaces it with a PendingWithdraw receipt and emits the outbound
// message. All validation happens before any message is sent.
func (s *OrchestratorService) RequestWithdraw(ctx context.Context, req WithdrawRequest) (*WithdrawResult, error) {
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		metrics.IntentRejections.WithLabelValues("withdraw", "validation").Inc()
		return nil, protocol.ErrZeroAmount
	}
	if err := protocol.ValidateDeadline(req.Deadline, s.clk.NowUnix()); err != nil {
		metrics.IntentRejections.WithLabelValues("withdraw", "validation").Inc()
		return nil, err
	}

	receipt, err := s.receipts.GetLiveByNonce(ctx, req.Caller.Hex(), req.Nonce.Hex())
	if err != nil {
		metrics.IntentRejections.WithLabelValues("withdraw", "state").Inc()
		return nil, err
	}
	if receipt.Status != models.ReceiptStatusActive {
		metrics.IntentRejections.WithLabelValues("withdraw", "state").Inc()
		return nil, protocol.ErrReceiptNotActive
	}
	shares, ok := new(big.Int).SetString(receipt.Shares, 10)
	if !ok {
		return nil, fmt.Errorf("corrupt receipt shares %q", receipt.Shares)
	}
	if req.Amount.Cmp(shares) > 0 {
		metrics.IntentRejections.WithLabelValues("withdraw", "validation").Inc()
		return nil, protocol.ErrAmountExceedsShares
	}

	intent, err := s.intents.GetByID(ctx, receipt.IntentID)
	if err != nil {
		return nil, err
	}

	// Opening the withdraw leg re-arms the consumed guard for its own
	// finalization (confirm or refund) and numbers the leg, so only the
	// confirmation echoing this number can settle it.
	leg := intent.WithdrawLeg + 1
	updated, err := s.intents.Transition(ctx, intent.IntentID, repository.TransitionParams{
		From:          models.IntentStatusConfirmed,
		To:            models.IntentStatusPendingWithdraw,
		ResetConsumed: true,
		Reason:        "withdraw_requested",
		Updates: map[string]interface{}{
			"withdraw_amount":      req.Amount.String(),
			"withdraw_deadline":    req.Deadline,
			"withdraw_secret_hash": req.SecretHash.Hex(),
			"withdraw_leg":         leg,
		},
		NullifyReceiptID: receipt.ID,
		CreateReceipt: &models.PositionReceipt{
			ID:       uuid.New().String(),
			Owner:    receipt.Owner,
			IntentID: receipt.IntentID,
			Nonce:    receipt.Nonce,
			AssetID:  receipt.AssetID,
			Shares:   receipt.Shares,
			MarketID: receipt.MarketID,
			Status:   models.ReceiptStatusPendingWithdraw,
		},
	})
	if err != nil {
		metrics.IntentRejections.WithLabelValues("withdraw", "state").Inc()
		return nil, err
	}

	content, err := transport.EncodePayload(transport.WithdrawRequestPayload{
		Kind:      transport.PayloadWithdrawRequest,
		IntentID:  intent.IntentID,
		OwnerHash: intent.OwnerHash,
		Amount:    req.Amount.String(),
		Deadline:  req.Deadline,
		Leg:       leg,
	})
	if err != nil {
		return nil, err
	}
	msgID, err := s.transport.Send(ctx, transport.DomainSettlement, s.settlementAddr, content)
	if err != nil {
		return nil, fmt.Errorf("failed to emit withdraw message: %w", err)
	}

	metrics.IntentsCreated.WithLabelValues("withdraw").Inc()
	metrics.IntentTransitions.WithLabelValues(string(models.IntentStatusPendingWithdraw), "withdraw_requested").Inc()
	log.Printf("📤 Withdraw requested: %s (amount=%s, deadline=%d)", intent.IntentID, req.Amount.String(), req.Deadline)
	updated.Status = models.IntentStatusPendingWithdraw
	s.pushUpdate(updated, "withdraw_requested")

	return &WithdrawResult{
		IntentID:  common.HexToHash(intent.IntentID),
		OwnerHash: common.HexToHash(intent.OwnerHash),
		MessageID: msgID,
	}, nil
}

// ClaimRefund runs the withdraw-side compensation path. Owner-only, only
// while PendingWithdraw, inclusive deadline bound (currentTime >= deadline).
// currentTime of zero is rejected outright. The pending receipt is replaced
// by a fresh Active receipt with a re-derived, unlinkable nonce.
func (s *OrchestratorService) ClaimRefund(ctx context.Context, caller common.Address, secret common.Hash, intentID common.Hash, currentTime uint64) (*models.PositionReceipt, error) {
	if currentTime == 0 {
		metrics.IntentRejections.WithLabelValues("refund", "validation").Inc()
		return nil, protocol.ErrZeroTime
	}

	intent, err := s.intents.GetByID(ctx, intentID.Hex())
	if err != nil {
		return nil, err
	}
	if common.HexToAddress(intent.Owner) != caller {
		metrics.IntentRejections.WithLabelValues("refund", "auth").Inc()
		return nil, protocol.ErrNotOwner
	}
	if !hashing.VerifySecret(secret, common.HexToHash(intent.WithdrawSecretHash)) {
		metrics.IntentRejections.WithLabelValues("refund", "auth").Inc()
		return nil, protocol.ErrSecretMismatch
	}
	if !protocol.RefundWindowOpen(intent.WithdrawDeadline, currentTime) {
		metrics.IntentRejections.WithLabelValues("refund", "validation").Inc()
		return nil, protocol.ErrDeadlineNotReached
	}

	oldReceipt, err := s.receipts.GetLiveByIntentID(ctx, intent.Owner, intent.IntentID)
	if err != nil {
		return nil, err
	}

	newNonce := hashing.DeriveRefundNonce(common.HexToHash(oldReceipt.Nonce), caller)
	fresh := &models.PositionReceipt{
		ID:       uuid.New().String(),
		Owner:    oldReceipt.Owner,
		IntentID: oldReceipt.IntentID,
		Nonce:    newNonce.Hex(),
		AssetID:  oldReceipt.AssetID,
		Shares:   oldReceipt.Shares,
		MarketID: oldReceipt.MarketID,
		Status:   models.ReceiptStatusActive,
	}
	if _, err := s.intents.Transition(ctx, intentID.Hex(), repository.TransitionParams{
		From:               models.IntentStatusPendingWithdraw,
		To:                 models.IntentStatusConfirmed,
		RequireNotConsumed: true,
		SetConsumed:        true,
		Reason:             "deadline_refund",
		NullifyReceiptID:   oldReceipt.ID,
		CreateReceipt:      fresh,
	}); err != nil {
		metrics.IntentRejections.WithLabelValues("refund", "state").Inc()
		return nil, err
	}

	metrics.IntentTransitions.WithLabelValues(string(models.IntentStatusConfirmed), "deadline_refund").Inc()
	log.Printf("↩️ Withdraw refunded: %s (new nonce=%s)", intentID.Hex(), newNonce.Hex())
	refreshed, err := s.intents.GetByID(ctx, intentID.Hex())
	if err == nil {
		s.pushUpdate(refreshed, "withdraw_refunded")
	}
	return fresh, nil
}

// AwaitConfirmation waits for the settlement confirmation of an intent and
// applies it: polls the transport's committed batch log for the expected
// confirmation content, bounded by ctx. Deadline expiry of ctx surfaces as
// the retryable ErrNotYetDelivered.
func (s *OrchestratorService) AwaitConfirmation(ctx context.Context, content []byte, fromBatch uint64) (*models.Intent, error) {
	witness, err := s.transport.ComputeMembershipWitness(ctx, fromBatch, content)
	if err != nil {
		return nil, err
	}
	return s.ApplyConfirmation(ctx, content, witness)
}

// GetIntent returns an intent together with its transition history.
func (s *OrchestratorService) GetIntent(ctx context.Context, intentID string) (*models.Intent, []*models.IntentTransition, error) {
	intent, err := s.intents.GetByID(ctx, intentID)
	if err != nil {
		return nil, nil, err
	}
	transitions, err := s.intents.ListTransitions(ctx, intentID)
	if err != nil {
		return nil, nil, err
	}
	return intent, transitions, nil
}

// ListIntents pages through all intents.
func (s *OrchestratorService) ListIntents(ctx context.Context, page, pageSize int) ([]*models.Intent, int64, error) {
	return s.intents.List(ctx, page, pageSize)
}

// ListReceipts returns the caller's receipts.
func (s *OrchestratorService) ListReceipts(ctx context.Context, owner string, includeNullified bool) ([]*models.PositionReceipt, error) {
	return s.receipts.ListByOwner(ctx, owner, includeNullified)
}

func (s *OrchestratorService) pushUpdate(intent *models.Intent, reason string) {
	if s.push != nil {
		s.push.PushIntentUpdate(intent, reason)
	}
}
