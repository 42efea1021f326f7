package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"intent-backend/internal/models"
	"intent-backend/internal/protocol"
)

// In-memory implementations backing tests and the `driver: memory` local
// mode. They honor the same atomicity contract as the gorm implementations:
// every Transition is a single compare-then-update step under the store lock.

// MemoryIntentRepository implements IntentRepository in memory. The receipt
// store is wired in so transitions can apply their receipt mutations in the
// same atomic step, mirroring the gorm transaction; nil is fine for callers
// that never pass receipt operations.
type MemoryIntentRepository struct {
	mu          sync.Mutex
	intents     map[string]*models.Intent
	transitions []*models.IntentTransition
	receipts    *MemoryReceiptRepository
}

// NewMemoryIntentRepository creates an empty MemoryIntentRepository.
func NewMemoryIntentRepository(receipts *MemoryReceiptRepository) *MemoryIntentRepository {
	return &MemoryIntentRepository{intents: make(map[string]*models.Intent), receipts: receipts}
}

func cloneIntent(in *models.Intent) *models.Intent {
	out := *in
	return &out
}

func (r *MemoryIntentRepository) Create(ctx context.Context, intent *models.Intent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.intents[intent.IntentID]; ok {
		return protocol.ErrIntentExists
	}
	now := time.Now()
	intent.CreatedAt = now
	intent.UpdatedAt = now
	r.intents[intent.IntentID] = cloneIntent(intent)
	r.transitions = append(r.transitions, &models.IntentTransition{
		ID:        uint64(len(r.transitions) + 1),
		IntentID:  intent.IntentID,
		ToStatus:  intent.Status,
		Reason:    "created",
		CreatedAt: now,
	})
	return nil
}

func (r *MemoryIntentRepository) GetByID(ctx context.Context, intentID string) (*models.Intent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	intent, ok := r.intents[intentID]
	if !ok {
		return nil, protocol.ErrIntentNotFound
	}
	return cloneIntent(intent), nil
}

func (r *MemoryIntentRepository) Transition(ctx context.Context, intentID string, params TransitionParams) (*models.Intent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	intent, ok := r.intents[intentID]
	if !ok {
		return nil, protocol.ErrIntentNotFound
	}
	if err := checkTransition(intent, params); err != nil {
		return nil, err
	}

	// Receipt operations first: they can fail, the intent mutation below
	// cannot, so a receipt failure leaves the intent untouched.
	if params.NullifyReceiptID != "" || params.CreateReceipt != nil {
		if r.receipts == nil {
			return nil, fmt.Errorf("memory intent repository: no receipt store attached")
		}
		if err := r.receipts.applyTransitionOps(params.NullifyReceiptID, params.CreateReceipt); err != nil {
			return nil, err
		}
	}

	intent.Status = params.To
	if params.SetConsumed {
		intent.Consumed = true
	}
	if params.ResetConsumed {
		intent.Consumed = false
	}
	for k, v := range params.Updates {
		applyIntentColumn(intent, k, v)
	}
	intent.UpdatedAt = time.Now()

	r.transitions = append(r.transitions, &models.IntentTransition{
		ID:         uint64(len(r.transitions) + 1),
		IntentID:   intentID,
		FromStatus: params.From,
		ToStatus:   params.To,
		Reason:     params.Reason,
		CreatedAt:  time.Now(),
	})
	return cloneIntent(intent), nil
}

// applyIntentColumn maps the gorm column-update keys used by the services
// onto struct fields.
func applyIntentColumn(intent *models.Intent, column string, value interface{}) {
	switch column {
	case "shares":
		intent.Shares, _ = value.(string)
	case "withdraw_amount":
		intent.WithdrawAmount, _ = value.(string)
	case "withdraw_deadline":
		intent.WithdrawDeadline, _ = value.(uint64)
	case "withdraw_secret_hash":
		intent.WithdrawSecretHash, _ = value.(string)
	case "withdraw_leg":
		intent.WithdrawLeg, _ = value.(uint64)
	default:
		panic(fmt.Sprintf("memory intent repository: unknown column %q", column))
	}
}

func (r *MemoryIntentRepository) List(ctx context.Context, page, pageSize int) ([]*models.Intent, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := make([]*models.Intent, 0, len(r.intents))
	for _, intent := range r.intents {
		all = append(all, cloneIntent(intent))
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := int64(len(all))
	start := (page - 1) * pageSize
	if start >= len(all) {
		return []*models.Intent{}, total, nil
	}
	end := start + pageSize
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], total, nil
}

func (r *MemoryIntentRepository) ListByOwner(ctx context.Context, owner string) ([]*models.Intent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Intent
	for _, intent := range r.intents {
		if intent.Owner == owner {
			out = append(out, cloneIntent(intent))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryIntentRepository) ListExpiredPending(ctx context.Context, now uint64) ([]*models.Intent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Intent
	for _, intent := range r.intents {
		switch {
		case intent.Status == models.IntentStatusPendingDeposit && intent.Deadline < now:
			out = append(out, cloneIntent(intent))
		case intent.Status == models.IntentStatusPendingWithdraw && intent.WithdrawDeadline <= now:
			out = append(out, cloneIntent(intent))
		}
	}
	return out, nil
}

func (r *MemoryIntentRepository) ListTransitions(ctx context.Context, intentID string) ([]*models.IntentTransition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.IntentTransition
	for _, t := range r.transitions {
		if t.IntentID == intentID {
			copied := *t
			out = append(out, &copied)
		}
	}
	return out, nil
}

// MemoryReceiptRepository implements ReceiptRepository in memory.
type MemoryReceiptRepository struct {
	mu       sync.Mutex
	receipts map[string]*models.PositionReceipt // arena keyed by opaque id
	byOwner  map[string][]string                // owner -> receipt ids
}

// NewMemoryReceiptRepository creates an empty MemoryReceiptRepository.
func NewMemoryReceiptRepository() *MemoryReceiptRepository {
	return &MemoryReceiptRepository{
		receipts: make(map[string]*models.PositionReceipt),
		byOwner:  make(map[string][]string),
	}
}

func cloneReceipt(in *models.PositionReceipt) *models.PositionReceipt {
	out := *in
	if in.NullifiedAt != nil {
		t := *in.NullifiedAt
		out.NullifiedAt = &t
	}
	return &out
}

func (r *MemoryReceiptRepository) Create(ctx context.Context, receipt *models.PositionReceipt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	receipt.CreatedAt = now
	receipt.UpdatedAt = now
	r.receipts[receipt.ID] = cloneReceipt(receipt)
	r.byOwner[receipt.Owner] = append(r.byOwner[receipt.Owner], receipt.ID)
	return nil
}

func (r *MemoryReceiptRepository) GetLiveByNonce(ctx context.Context, owner, nonce string) (*models.PositionReceipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.byOwner[owner] {
		receipt := r.receipts[id]
		if receipt.Nonce == nonce && !receipt.Nullified {
			return cloneReceipt(receipt), nil
		}
	}
	return nil, protocol.ErrReceiptNotFound
}

func (r *MemoryReceiptRepository) GetLiveByIntentID(ctx context.Context, owner, intentID string) (*models.PositionReceipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.byOwner[owner] {
		receipt := r.receipts[id]
		if receipt.IntentID == intentID && !receipt.Nullified {
			return cloneReceipt(receipt), nil
		}
	}
	return nil, protocol.ErrReceiptNotFound
}

func (r *MemoryReceiptRepository) Nullify(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	receipt, ok := r.receipts[id]
	if !ok {
		return protocol.ErrReceiptNotFound
	}
	if receipt.Nullified {
		return protocol.ErrReceiptNullified
	}
	now := time.Now()
	receipt.Nullified = true
	receipt.NullifiedAt = &now
	receipt.UpdatedAt = now
	return nil
}

// applyTransitionOps validates and applies an intent transition's receipt
// mutations under one lock acquisition: nothing is mutated if the nullify
// precondition fails.
func (r *MemoryReceiptRepository) applyTransitionOps(nullifyID string, create *models.PositionReceipt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var victim *models.PositionReceipt
	if nullifyID != "" {
		receipt, ok := r.receipts[nullifyID]
		if !ok {
			return protocol.ErrReceiptNotFound
		}
		if receipt.Nullified {
			return protocol.ErrReceiptNullified
		}
		victim = receipt
	}
	now := time.Now()
	if victim != nil {
		victim.Nullified = true
		victim.NullifiedAt = &now
		victim.UpdatedAt = now
	}
	if create != nil {
		create.CreatedAt = now
		create.UpdatedAt = now
		r.receipts[create.ID] = cloneReceipt(create)
		r.byOwner[create.Owner] = append(r.byOwner[create.Owner], create.ID)
	}
	return nil
}

func (r *MemoryReceiptRepository) ListByOwner(ctx context.Context, owner string, includeNullified bool) ([]*models.PositionReceipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.PositionReceipt
	for _, id := range r.byOwner[owner] {
		receipt := r.receipts[id]
		if !includeNullified && receipt.Nullified {
			continue
		}
		out = append(out, cloneReceipt(receipt))
	}
	return out, nil
}

// MemoryProcessedMessageRepository implements ProcessedMessageRepository in memory.
type MemoryProcessedMessageRepository struct {
	mu        sync.Mutex
	processed map[string]string
}

// NewMemoryProcessedMessageRepository creates an empty MemoryProcessedMessageRepository.
func NewMemoryProcessedMessageRepository() *MemoryProcessedMessageRepository {
	return &MemoryProcessedMessageRepository{processed: make(map[string]string)}
}

func (r *MemoryProcessedMessageRepository) MarkProcessed(ctx context.Context, messageHash, direction string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.processed[messageHash]; ok {
		return protocol.ErrMessageReplay
	}
	r.processed[messageHash] = direction
	return nil
}

func (r *MemoryProcessedMessageRepository) IsProcessed(ctx context.Context, messageHash string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.processed[messageHash]
	return ok, nil
}

// MemoryBatchRootRepository implements BatchRootRepository in memory.
type MemoryBatchRootRepository struct {
	mu    sync.Mutex
	roots []*models.BatchRoot
	known map[string]bool
}

// NewMemoryBatchRootRepository creates an empty MemoryBatchRootRepository.
func NewMemoryBatchRootRepository() *MemoryBatchRootRepository {
	return &MemoryBatchRootRepository{known: make(map[string]bool)}
}

func (r *MemoryBatchRootRepository) Record(ctx context.Context, root, previousRoot string, batchIndex uint64, leafCount int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.roots {
		rec.IsRecentRoot = false
	}
	r.roots = append(r.roots, &models.BatchRoot{
		ID:           fmt.Sprintf("br_%s_%d", root, time.Now().UnixNano()),
		Root:         root,
		PreviousRoot: previousRoot,
		BatchIndex:   batchIndex,
		LeafCount:    leafCount,
		IsRecentRoot: true,
		CreatedAt:    time.Now(),
	})
	r.known[root] = true
	return nil
}

func (r *MemoryBatchRootRepository) Exists(ctx context.Context, root string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.known[root], nil
}

func (r *MemoryBatchRootRepository) Latest(ctx context.Context) (*models.BatchRoot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.roots) == 0 {
		return nil, nil
	}
	latest := *r.roots[len(r.roots)-1]
	return &latest, nil
}
