package services

import (
	"context"
	"math/big"
	"testing"
	"time"

	"intent-backend/internal/clock"
	"intent-backend/internal/hashing"
	"intent-backend/internal/models"
	"intent-backend/internal/protocol"
	"intent-backend/internal/repository"
	"intent-backend/internal/transport"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	owner      = common.HexToAddress("0x1111111111111111111111111111111111111111")
	relayer    = common.HexToAddress("0x5555555555555555555555555555555555555555")
	settlement = common.HexToAddress("0x9999999999999999999999999999999999999999")
	assetUSDC  = common.HexToHash("0x00000000000000000000000000000000000000000000000000000000000000aa")

	depositSecret  = common.HexToHash("0x0101010101010101010101010101010101010101010101010101010101010101")
	withdrawSecret = common.HexToHash("0x0202020202020202020202020202020202020202020202020202020202020202")
)

const t0 = uint64(1_700_000_000)

type fixture struct {
	clk        *clock.ManualClock
	tp         *transport.LocalTransport
	intents    repository.IntentRepository
	receipts   repository.ReceiptRepository
	batchRoots repository.BatchRootRepository
	svc        *OrchestratorService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := clock.NewManualClock(time.Unix(int64(t0), 0))
	batchRoots := repository.NewMemoryBatchRootRepository()
	tp := transport.NewLocalTransport(batchRoots, time.Millisecond)
	receipts := repository.NewMemoryReceiptRepository()
	intents := repository.NewMemoryIntentRepository(receipts)
	svc := NewOrchestratorService(
		intents,
		receipts,
		repository.NewMemoryProcessedMessageRepository(),
		batchRoots,
		tp,
		clk,
		protocol.DefaultFeeBps,
		settlement,
		nil,
	)
	return &fixture{clk: clk, tp: tp, intents: intents, receipts: receipts, batchRoots: batchRoots, svc: svc}
}

func (f *fixture) deposit(t *testing.T, amount int64, deadline uint64) *DepositResult {
	t.Helper()
	result, err := f.svc.RequestDeposit(context.Background(), DepositRequest{
		Caller:           owner,
		AssetID:          assetUSDC,
		Amount:           big.NewInt(amount),
		OriginalDecimals: 6,
		Deadline:         deadline,
		SecretHash:       hashing.ComputeSecretHash(depositSecret),
	})
	require.NoError(t, err)
	return result
}

// confirm routes a settlement confirmation through the transport: deliver the
// body, seal the batch, wait for the witness and apply.
func (f *fixture) confirm(t *testing.T, payload transport.ConfirmationPayload) (*models.Intent, error) {
	t.Helper()
	content, err := transport.EncodePayload(payload)
	require.NoError(t, err)
	require.NoError(t, f.tp.Deliver(content))
	_, sealed, err := f.tp.SealBatch(context.Background())
	require.NoError(t, err)
	require.True(t, sealed)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return f.svc.AwaitConfirmation(ctx, content, 0)
}

func (f *fixture) confirmDeposit(t *testing.T, intentID common.Hash, shares string) *models.Intent {
	t.Helper()
	intent, err := f.confirm(t, transport.ConfirmationPayload{
		Kind:      transport.PayloadConfirmation,
		Operation: "deposit",
		IntentID:  intentID.Hex(),
		Amount:    shares,
		Relayer:   relayer.Hex(),
	})
	require.NoError(t, err)
	return intent
}

func TestDepositFlow(t *testing.T) {
	f := newFixture(t)
	deadline := t0 + 3600

	result := f.deposit(t, 1_000_000, deadline)
	assert.Equal(t, "999000", result.NetAmount.String(), "10 bps fee on 1,000,000")
	assert.NotEqual(t, common.Hash{}, result.MessageID)

	// The id is recomputable by an independent verifier.
	salt := hashing.DeriveSalt(owner, hashing.ComputeSecretHash(depositSecret))
	wantID := hashing.DeriveIntentID(owner, assetUSDC, big.NewInt(1_000_000), 6, deadline, salt)
	assert.Equal(t, wantID, result.IntentID)
	assert.Equal(t, hashing.DeriveOwnerHash(owner, wantID), result.OwnerHash)

	intent, _, err := f.svc.GetIntent(context.Background(), result.IntentID.Hex())
	require.NoError(t, err)
	assert.Equal(t, models.IntentStatusPendingDeposit, intent.Status)
	assert.False(t, intent.Consumed)

	updated := f.confirmDeposit(t, result.IntentID, result.NetAmount.String())
	assert.Equal(t, models.IntentStatusConfirmed, updated.Status)
	assert.Equal(t, "999000", updated.Shares)

	// The confirmation mints an Active receipt whose nonce starts as the
	// intent id.
	receipt, err := f.receipts.GetLiveByNonce(context.Background(), owner.Hex(), result.IntentID.Hex())
	require.NoError(t, err)
	assert.Equal(t, models.ReceiptStatusActive, receipt.Status)
	assert.Equal(t, "999000", receipt.Shares)
}

func TestDepositRejectsBadParameters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.RequestDeposit(ctx, DepositRequest{Caller: owner, AssetID: assetUSDC, Amount: big.NewInt(0), Deadline: t0 + 60, SecretHash: hashing.ComputeSecretHash(depositSecret)})
	assert.ErrorIs(t, err, protocol.ErrZeroAmount)

	_, err = f.svc.RequestDeposit(ctx, DepositRequest{Caller: owner, AssetID: assetUSDC, Amount: big.NewInt(100), Deadline: 0, SecretHash: hashing.ComputeSecretHash(depositSecret)})
	assert.ErrorIs(t, err, protocol.ErrDeadlineZero)

	_, err = f.svc.RequestDeposit(ctx, DepositRequest{Caller: owner, AssetID: assetUSDC, Amount: big.NewInt(100), Deadline: t0, SecretHash: hashing.ComputeSecretHash(depositSecret)})
	assert.ErrorIs(t, err, protocol.ErrDeadlineNotFuture)
}

func TestDepositCreationIsNotIdempotent(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, 1_000_000, t0+3600)

	// Identical parameters derive the identical id; the second create is
	// rejected rather than silently absorbed.
	_, err := f.svc.RequestDeposit(context.Background(), DepositRequest{
		Caller:           owner,
		AssetID:          assetUSDC,
		Amount:           big.NewInt(1_000_000),
		OriginalDecimals: 6,
		Deadline:         t0 + 3600,
		SecretHash:       hashing.ComputeSecretHash(depositSecret),
	})
	assert.ErrorIs(t, err, protocol.ErrIntentExists)
}

func TestConfirmationReplayRejected(t *testing.T) {
	f := newFixture(t)
	result := f.deposit(t, 1_000_000, t0+3600)

	content, err := transport.EncodePayload(transport.ConfirmationPayload{
		Kind:      transport.PayloadConfirmation,
		Operation: "deposit",
		IntentID:  result.IntentID.Hex(),
		Amount:    "999000",
		Relayer:   relayer.Hex(),
	})
	require.NoError(t, err)
	require.NoError(t, f.tp.Deliver(content))
	_, _, err = f.tp.SealBatch(context.Background())
	require.NoError(t, err)

	ctx := context.Background()
	_, err = f.svc.AwaitConfirmation(ctx, content, 0)
	require.NoError(t, err)

	// At-least-once delivery: the same body arriving again must fail loudly,
	// not double-apply.
	_, err = f.svc.AwaitConfirmation(ctx, content, 0)
	assert.ErrorIs(t, err, protocol.ErrMessageReplay)

	intent, _, err := f.svc.GetIntent(ctx, result.IntentID.Hex())
	require.NoError(t, err)
	assert.Equal(t, models.IntentStatusConfirmed, intent.Status)
}

func TestConfirmationRejectsOwnerAsRelayer(t *testing.T) {
	f := newFixture(t)
	result := f.deposit(t, 1_000_000, t0+3600)

	_, err := f.confirm(t, transport.ConfirmationPayload{
		Kind:      transport.PayloadConfirmation,
		Operation: "deposit",
		IntentID:  result.IntentID.Hex(),
		Amount:    "999000",
		Relayer:   owner.Hex(),
	})
	assert.ErrorIs(t, err, protocol.ErrRelayerIsOwner)
}

func TestConfirmationRejectsUnknownRoot(t *testing.T) {
	f := newFixture(t)
	result := f.deposit(t, 1_000_000, t0+3600)

	content, err := transport.EncodePayload(transport.ConfirmationPayload{
		Kind:      transport.PayloadConfirmation,
		Operation: "deposit",
		IntentID:  result.IntentID.Hex(),
		Amount:    "999000",
		Relayer:   relayer.Hex(),
	})
	require.NoError(t, err)

	// A witness sealed on a foreign transport verifies arithmetically but its
	// root was never committed here.
	foreign := transport.NewLocalTransport(nil, time.Millisecond)
	require.NoError(t, foreign.Deliver(content))
	_, _, err = foreign.SealBatch(context.Background())
	require.NoError(t, err)
	witness, err := foreign.ComputeMembershipWitness(context.Background(), 0, content)
	require.NoError(t, err)
	require.NoError(t, witness.Verify(content))

	_, err = f.svc.ApplyConfirmation(context.Background(), content, witness)
	assert.ErrorIs(t, err, protocol.ErrUnknownRoot)

	_, err = f.svc.ApplyConfirmation(context.Background(), content, nil)
	assert.ErrorIs(t, err, protocol.ErrWitnessInvalid)
}

func TestCancelDepositBoundary(t *testing.T) {
	f := newFixture(t)
	deadline := t0 + 60
	result := f.deposit(t, 1_000_000, deadline)
	ctx := context.Background()
	net := big.NewInt(999_000)

	// Exactly at the deadline the cancel window is still closed.
	f.clk.Advance(60 * time.Second)
	_, err := f.svc.CancelDeposit(ctx, owner, depositSecret, result.IntentID, net)
	assert.ErrorIs(t, err, protocol.ErrDeadlineNotReached)

	f.clk.Advance(1 * time.Second)

	_, err = f.svc.CancelDeposit(ctx, relayer, depositSecret, result.IntentID, net)
	assert.ErrorIs(t, err, protocol.ErrNotOwner)

	_, err = f.svc.CancelDeposit(ctx, owner, withdrawSecret, result.IntentID, net)
	assert.ErrorIs(t, err, protocol.ErrSecretMismatch)

	_, err = f.svc.CancelDeposit(ctx, owner, depositSecret, result.IntentID, big.NewInt(999_001))
	assert.ErrorIs(t, err, protocol.ErrNetAmountMismatch)

	returned, err := f.svc.CancelDeposit(ctx, owner, depositSecret, result.IntentID, net)
	require.NoError(t, err)
	assert.Equal(t, "999000", returned.String())

	intent, _, err := f.svc.GetIntent(ctx, result.IntentID.Hex())
	require.NoError(t, err)
	assert.Equal(t, models.IntentStatusCancelled, intent.Status)
	assert.True(t, intent.Consumed)

	// Cancelling twice reports the consumed intent, not a generic state error.
	_, err = f.svc.CancelDeposit(ctx, owner, depositSecret, result.IntentID, net)
	assert.ErrorIs(t, err, protocol.ErrAlreadyConsumed)
}

func TestCancelAfterConfirmationRejected(t *testing.T) {
	f := newFixture(t)
	deadline := t0 + 60
	result := f.deposit(t, 1_000_000, deadline)
	f.confirmDeposit(t, result.IntentID, "999000")

	// The deposit settled first; the compensation path lost the race for good.
	f.clk.Advance(120 * time.Second)
	_, err := f.svc.CancelDeposit(context.Background(), owner, depositSecret, result.IntentID, big.NewInt(999_000))
	assert.ErrorIs(t, err, protocol.ErrAlreadyConsumed)
}

func TestConfirmationAfterCancelRejected(t *testing.T) {
	f := newFixture(t)
	deadline := t0 + 60
	result := f.deposit(t, 1_000_000, deadline)

	f.clk.Advance(61 * time.Second)
	_, err := f.svc.CancelDeposit(context.Background(), owner, depositSecret, result.IntentID, big.NewInt(999_000))
	require.NoError(t, err)

	// A late confirmation must not resurrect the cancelled intent.
	_, err = f.confirm(t, transport.ConfirmationPayload{
		Kind:      transport.PayloadConfirmation,
		Operation: "deposit",
		IntentID:  result.IntentID.Hex(),
		Amount:    "999000",
		Relayer:   relayer.Hex(),
	})
	assert.ErrorIs(t, err, protocol.ErrAlreadyConsumed)

	intent, _, err := f.svc.GetIntent(context.Background(), result.IntentID.Hex())
	require.NoError(t, err)
	assert.Equal(t, models.IntentStatusCancelled, intent.Status)
}

func TestWithdrawValidatesBeforeSending(t *testing.T) {
	f := newFixture(t)
	result := f.deposit(t, 1_000_000, t0+3600)
	f.confirmDeposit(t, result.IntentID, "999000")
	ctx := context.Background()
	sentBefore := f.tp.SentMessages()

	_, err := f.svc.RequestWithdraw(ctx, WithdrawRequest{
		Caller:     owner,
		Nonce:      result.IntentID,
		Amount:     big.NewInt(999_001),
		Deadline:   t0 + 7200,
		SecretHash: hashing.ComputeSecretHash(withdrawSecret),
	})
	assert.ErrorIs(t, err, protocol.ErrAmountExceedsShares)

	_, err = f.svc.RequestWithdraw(ctx, WithdrawRequest{
		Caller:     relayer,
		Nonce:      result.IntentID,
		Amount:     big.NewInt(100),
		Deadline:   t0 + 7200,
		SecretHash: hashing.ComputeSecretHash(withdrawSecret),
	})
	assert.ErrorIs(t, err, protocol.ErrReceiptNotFound, "receipts are scoped per owner")

	// Nothing was emitted, including into the open batch, and the position is
	// untouched.
	assert.Equal(t, sentBefore, f.tp.SentMessages())
	intent, _, err := f.svc.GetIntent(ctx, result.IntentID.Hex())
	require.NoError(t, err)
	assert.Equal(t, models.IntentStatusConfirmed, intent.Status)
	receipt, err := f.receipts.GetLiveByNonce(ctx, owner.Hex(), result.IntentID.Hex())
	require.NoError(t, err)
	assert.Equal(t, models.ReceiptStatusActive, receipt.Status)
}

func TestWithdrawFlow(t *testing.T) {
	f := newFixture(t)
	result := f.deposit(t, 1_000_000, t0+3600)
	f.confirmDeposit(t, result.IntentID, "999000")
	ctx := context.Background()

	wres, err := f.svc.RequestWithdraw(ctx, WithdrawRequest{
		Caller:     owner,
		Nonce:      result.IntentID,
		Amount:     big.NewInt(999_000),
		Deadline:   t0 + 7200,
		SecretHash: hashing.ComputeSecretHash(withdrawSecret),
	})
	require.NoError(t, err)
	assert.Equal(t, result.IntentID, wres.IntentID)

	intent, _, err := f.svc.GetIntent(ctx, result.IntentID.Hex())
	require.NoError(t, err)
	assert.Equal(t, models.IntentStatusPendingWithdraw, intent.Status)
	assert.False(t, intent.Consumed, "opening the withdraw leg re-arms the guard")
	assert.Equal(t, "999000", intent.WithdrawAmount)
	assert.Equal(t, t0+7200, intent.WithdrawDeadline)

	// The Active receipt was swapped for a PendingWithdraw one with the same
	// nonce; a second withdraw against it is rejected.
	receipt, err := f.receipts.GetLiveByNonce(ctx, owner.Hex(), result.IntentID.Hex())
	require.NoError(t, err)
	assert.Equal(t, models.ReceiptStatusPendingWithdraw, receipt.Status)

	_, err = f.svc.RequestWithdraw(ctx, WithdrawRequest{
		Caller:     owner,
		Nonce:      result.IntentID,
		Amount:     big.NewInt(1),
		Deadline:   t0 + 9000,
		SecretHash: hashing.ComputeSecretHash(withdrawSecret),
	})
	assert.ErrorIs(t, err, protocol.ErrReceiptNotActive)

	// Settlement confirms the withdraw, echoing the leg it settles.
	updated, err := f.confirm(t, transport.ConfirmationPayload{
		Kind:      transport.PayloadConfirmation,
		Operation: "withdraw",
		IntentID:  result.IntentID.Hex(),
		Amount:    "999000",
		Leg:       1,
		Relayer:   relayer.Hex(),
	})
	require.NoError(t, err)
	assert.Equal(t, models.IntentStatusWithdrawn, updated.Status)

	// The position is fully closed: no live receipts remain.
	live, err := f.svc.ListReceipts(ctx, owner.Hex(), false)
	require.NoError(t, err)
	assert.Empty(t, live)
}

func TestRefundFlow(t *testing.T) {
	f := newFixture(t)
	result := f.deposit(t, 1_000_000, t0+3600)
	f.confirmDeposit(t, result.IntentID, "999000")
	ctx := context.Background()
	withdrawDeadline := t0 + 7200

	_, err := f.svc.RequestWithdraw(ctx, WithdrawRequest{
		Caller:     owner,
		Nonce:      result.IntentID,
		Amount:     big.NewInt(500_000),
		Deadline:   withdrawDeadline,
		SecretHash: hashing.ComputeSecretHash(withdrawSecret),
	})
	require.NoError(t, err)

	_, err = f.svc.ClaimRefund(ctx, owner, withdrawSecret, result.IntentID, 0)
	assert.ErrorIs(t, err, protocol.ErrZeroTime)

	_, err = f.svc.ClaimRefund(ctx, owner, withdrawSecret, result.IntentID, withdrawDeadline-1)
	assert.ErrorIs(t, err, protocol.ErrDeadlineNotReached)

	_, err = f.svc.ClaimRefund(ctx, relayer, withdrawSecret, result.IntentID, withdrawDeadline)
	assert.ErrorIs(t, err, protocol.ErrNotOwner)

	_, err = f.svc.ClaimRefund(ctx, owner, depositSecret, result.IntentID, withdrawDeadline)
	assert.ErrorIs(t, err, protocol.ErrSecretMismatch, "refund opens the withdraw-leg commitment, not the deposit one")

	// The refund window is inclusive: exactly at the deadline works.
	fresh, err := f.svc.ClaimRefund(ctx, owner, withdrawSecret, result.IntentID, withdrawDeadline)
	require.NoError(t, err)

	wantNonce := hashing.DeriveRefundNonce(result.IntentID, owner)
	assert.Equal(t, wantNonce.Hex(), fresh.Nonce, "refund re-derives the nonce")
	assert.NotEqual(t, result.IntentID.Hex(), fresh.Nonce)
	assert.Equal(t, models.ReceiptStatusActive, fresh.Status)
	assert.Equal(t, "999000", fresh.Shares, "the full position comes back")

	intent, _, err := f.svc.GetIntent(ctx, result.IntentID.Hex())
	require.NoError(t, err)
	assert.Equal(t, models.IntentStatusConfirmed, intent.Status)

	// Refunding twice fails: the leg was finalized.
	_, err = f.svc.ClaimRefund(ctx, owner, withdrawSecret, result.IntentID, withdrawDeadline+10)
	assert.ErrorIs(t, err, protocol.ErrAlreadyConsumed)

	// A late withdraw confirmation for the abandoned leg is likewise dead.
	_, err = f.confirm(t, transport.ConfirmationPayload{
		Kind:      transport.PayloadConfirmation,
		Operation: "withdraw",
		IntentID:  result.IntentID.Hex(),
		Amount:    "500000",
		Leg:       1,
		Relayer:   relayer.Hex(),
	})
	assert.ErrorIs(t, err, protocol.ErrAlreadyConsumed)

	// The position remains usable: a new withdraw leg opens against the
	// refreshed nonce.
	_, err = f.svc.RequestWithdraw(ctx, WithdrawRequest{
		Caller:     owner,
		Nonce:      wantNonce,
		Amount:     big.NewInt(999_000),
		Deadline:   t0 + 9000,
		SecretHash: hashing.ComputeSecretHash(withdrawSecret),
	})
	require.NoError(t, err)
}

func TestStaleWithdrawConfirmationCannotSettleLaterLeg(t *testing.T) {
	f := newFixture(t)
	result := f.deposit(t, 1_000_000, t0+3600)
	f.confirmDeposit(t, result.IntentID, "999000")
	ctx := context.Background()
	deadline := t0 + 7200

	// First withdraw leg, then abandon it via refund.
	_, err := f.svc.RequestWithdraw(ctx, WithdrawRequest{
		Caller:     owner,
		Nonce:      result.IntentID,
		Amount:     big.NewInt(500_000),
		Deadline:   deadline,
		SecretHash: hashing.ComputeSecretHash(withdrawSecret),
	})
	require.NoError(t, err)
	fresh, err := f.svc.ClaimRefund(ctx, owner, withdrawSecret, result.IntentID, deadline)
	require.NoError(t, err)

	// Second leg against the refreshed nonce, for a different amount.
	_, err = f.svc.RequestWithdraw(ctx, WithdrawRequest{
		Caller:     owner,
		Nonce:      common.HexToHash(fresh.Nonce),
		Amount:     big.NewInt(999_000),
		Deadline:   t0 + 9000,
		SecretHash: hashing.ComputeSecretHash(withdrawSecret),
	})
	require.NoError(t, err)

	// The first leg's confirmation was in flight the whole time. The status
	// matches and the guard was re-armed, but the leg number does not: it must
	// not settle the second leg.
	_, err = f.confirm(t, transport.ConfirmationPayload{
		Kind:      transport.PayloadConfirmation,
		Operation: "withdraw",
		IntentID:  result.IntentID.Hex(),
		Amount:    "500000",
		Leg:       1,
		Relayer:   relayer.Hex(),
	})
	assert.ErrorIs(t, err, protocol.ErrStaleConfirmation)

	intent, _, err := f.svc.GetIntent(ctx, result.IntentID.Hex())
	require.NoError(t, err)
	assert.Equal(t, models.IntentStatusPendingWithdraw, intent.Status)
	assert.False(t, intent.Consumed)
	assert.Equal(t, "999000", intent.WithdrawAmount)
	assert.Equal(t, uint64(2), intent.WithdrawLeg)
	receipt, err := f.receipts.GetLiveByNonce(ctx, owner.Hex(), fresh.Nonce)
	require.NoError(t, err)
	assert.Equal(t, models.ReceiptStatusPendingWithdraw, receipt.Status, "the pending receipt survives the stale confirmation")

	// The confirmation for the current leg still settles it.
	updated, err := f.confirm(t, transport.ConfirmationPayload{
		Kind:      transport.PayloadConfirmation,
		Operation: "withdraw",
		IntentID:  result.IntentID.Hex(),
		Amount:    "999000",
		Leg:       2,
		Relayer:   relayer.Hex(),
	})
	require.NoError(t, err)
	assert.Equal(t, models.IntentStatusWithdrawn, updated.Status)
}

func TestTransitionHistoryIsRecorded(t *testing.T) {
	f := newFixture(t)
	result := f.deposit(t, 1_000_000, t0+3600)
	f.confirmDeposit(t, result.IntentID, "999000")

	_, transitions, err := f.svc.GetIntent(context.Background(), result.IntentID.Hex())
	require.NoError(t, err)
	require.Len(t, transitions, 2)
	assert.Equal(t, "created", transitions[0].Reason)
	assert.Equal(t, "settlement_confirmed", transitions[1].Reason)
	assert.Equal(t, models.IntentStatusConfirmed, transitions[1].ToStatus)
}
