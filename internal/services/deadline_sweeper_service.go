package services

import (
	"context"
	"log"
	"time"

	"intent-backend/internal/clock"
	"intent-backend/internal/metrics"
	"intent-backend/internal/models"
	"intent-backend/internal/repository"
)

// DeadlineSweeperService periodically scans for pending intents whose
// deadline has lapsed. It never compensates on its own - cancel and refund
// require the owner's secret - it only surfaces eligibility: the gauge for
// operators, the push channel for owners. Deadline expiry is an alternative
// completion, not an error.
type DeadlineSweeperService struct {
	intents repository.IntentRepository
	clk     clock.Clock
	push    StatusPusher

	running       bool
	stopCh        chan struct{}
	checkInterval time.Duration

	notified map[string]bool // intent ids already announced
}

// NewDeadlineSweeperService creates a new DeadlineSweeperService
func NewDeadlineSweeperService(intents repository.IntentRepository, clk clock.Clock, push StatusPusher, checkInterval time.Duration) *DeadlineSweeperService {
	if checkInterval <= 0 {
		checkInterval = 30 * time.Second
	}
	return &DeadlineSweeperService{
		intents:       intents,
		clk:           clk,
		push:          push,
		stopCh:        make(chan struct{}),
		checkInterval: checkInterval,
		notified:      make(map[string]bool),
	}
}

// Start begins the sweep loop
func (s *DeadlineSweeperService) Start() {
	if s.running {
		return
	}
	s.running = true

	log.Printf("🚀 Starting DeadlineSweeperService (check interval: %v)", s.checkInterval)

	go s.sweepLoop()
}

// Stop gracefully stops the sweep loop
func (s *DeadlineSweeperService) Stop() {
	if !s.running {
		return
	}
	s.running = false
	close(s.stopCh)
	log.Printf("🛑 DeadlineSweeperService stopped")
}

func (s *DeadlineSweeperService) sweepLoop() {
	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	// Run initial sweep on startup
	s.Sweep()

	for {
		select {
		case <-ticker.C:
			s.Sweep()
		case <-s.stopCh:
			return
		}
	}
}

// Sweep runs one pass and returns the expired pending intents it found.
// Also invoked directly by the admin force-sweep endpoint.
func (s *DeadlineSweeperService) Sweep() []*models.Intent {
	ctx := context.Background()
	now := s.clk.NowUnix()

	expired, err := s.intents.ListExpiredPending(ctx, now)
	if err != nil {
		log.Printf("❌ [Sweeper] Failed to query expired pending intents: %v", err)
		return nil
	}

	metrics.ExpiredPendingIntents.Set(float64(len(expired)))
	if len(expired) == 0 {
		return nil
	}

	for _, intent := range expired {
		if s.notified[intent.IntentID] {
			continue
		}
		s.notified[intent.IntentID] = true

		reason := "cancel_eligible"
		if intent.Status == models.IntentStatusPendingWithdraw {
			reason = "refund_eligible"
		}
		log.Printf("⚠️ [Sweeper] Intent %s deadline lapsed (status=%s)", intent.IntentID, intent.Status)
		if s.push != nil {
			s.push.PushIntentUpdate(intent, reason)
		}
	}
	return expired
}
