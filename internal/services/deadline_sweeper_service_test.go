package services

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"intent-backend/internal/hashing"
	"intent-backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPusher struct {
	mu      sync.Mutex
	reasons map[string][]string
}

func (p *recordingPusher) PushIntentUpdate(intent *models.Intent, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.reasons == nil {
		p.reasons = make(map[string][]string)
	}
	p.reasons[intent.IntentID] = append(p.reasons[intent.IntentID], reason)
}

func (p *recordingPusher) reasonsFor(intentID string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.reasons[intentID]...)
}

func TestSweepFindsExpiredDeposits(t *testing.T) {
	f := newFixture(t)
	pusher := &recordingPusher{}
	sweeper := NewDeadlineSweeperService(f.intents, f.clk, pusher, time.Hour)

	result := f.deposit(t, 1_000_000, t0+60)

	assert.Empty(t, sweeper.Sweep(), "nothing expired yet")

	// Deposit deadline is strict: at the deadline the intent is still live.
	f.clk.Advance(60 * time.Second)
	assert.Empty(t, sweeper.Sweep())

	f.clk.Advance(1 * time.Second)
	expired := sweeper.Sweep()
	require.Len(t, expired, 1)
	assert.Equal(t, result.IntentID.Hex(), expired[0].IntentID)
	assert.Equal(t, []string{"cancel_eligible"}, pusher.reasonsFor(result.IntentID.Hex()))

	// The sweeper keeps reporting but only announces once.
	expired = sweeper.Sweep()
	require.Len(t, expired, 1)
	assert.Equal(t, []string{"cancel_eligible"}, pusher.reasonsFor(result.IntentID.Hex()))
}

func TestSweepFindsExpiredWithdraws(t *testing.T) {
	f := newFixture(t)
	pusher := &recordingPusher{}
	sweeper := NewDeadlineSweeperService(f.intents, f.clk, pusher, time.Hour)

	result := f.deposit(t, 1_000_000, t0+3600)
	f.confirmDeposit(t, result.IntentID, "999000")
	assert.Empty(t, sweeper.Sweep(), "confirmed intents have no pending deadline")

	withdrawDeadline := t0 + 120
	_, err := f.svc.RequestWithdraw(context.Background(), WithdrawRequest{
		Caller:     owner,
		Nonce:      result.IntentID,
		Amount:     big.NewInt(100),
		Deadline:   withdrawDeadline,
		SecretHash: hashing.ComputeSecretHash(withdrawSecret),
	})
	require.NoError(t, err)

	// Withdraw deadline is inclusive: eligible exactly at the deadline.
	f.clk.Advance(120 * time.Second)
	expired := sweeper.Sweep()
	require.Len(t, expired, 1)
	assert.Equal(t, models.IntentStatusPendingWithdraw, expired[0].Status)
	assert.Equal(t, []string{"refund_eligible"}, pusher.reasonsFor(result.IntentID.Hex()))
}
