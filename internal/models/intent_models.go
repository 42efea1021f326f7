// Intent lifecycle database models - map the cross-domain coordination records
package models

import (
	"time"
)

// IntentStatus intent lifecycle status enum
type IntentStatus string

const (
	IntentStatusPendingDeposit  IntentStatus = "pending_deposit"  // deposit requested, waiting for settlement confirmation
	IntentStatusConfirmed       IntentStatus = "confirmed"        // settlement confirmed, position active
	IntentStatusPendingWithdraw IntentStatus = "pending_withdraw" // withdraw requested, waiting for settlement confirmation
	IntentStatusCancelled       IntentStatus = "cancelled"        // deposit compensated after deadline (terminal)
	IntentStatusWithdrawn       IntentStatus = "withdrawn"        // withdraw settled and claimed (terminal)
)

// Terminal reports whether the status permits no further transitions.
func (s IntentStatus) Terminal() bool {
	return s == IntentStatusCancelled || s == IntentStatusWithdrawn
}

// Intent is the authoritative record of one cross-domain deposit/withdraw
// position. Economic parameters fixed at creation never change; the withdraw
// leg carries its own amount/deadline/commitment in the withdraw_* columns.
type Intent struct {
	IntentID  string `json:"intent_id" gorm:"primaryKey;size:66"` // derived, 0x + 64 hex chars
	Owner     string `json:"owner" gorm:"index;size:66;not null"` // origin-domain identity, never leaves this store
	OwnerHash string `json:"owner_hash" gorm:"index;size:66;not null"`

	AssetID          string `json:"asset_id" gorm:"size:66;not null"`
	Amount           string `json:"amount" gorm:"not null"`     // uint256, gross
	NetAmount        string `json:"net_amount" gorm:"not null"` // uint256, amount - fee
	OriginalDecimals uint8  `json:"original_decimals" gorm:"not null"`
	Deadline         uint64 `json:"deadline" gorm:"not null"`
	SecretHash       string `json:"secret_hash" gorm:"size:66;not null"`

	Status   IntentStatus `json:"status" gorm:"index;size:32;not null"`
	Consumed bool         `json:"consumed" gorm:"not null;default:false"`

	// Set by the settlement confirmation
	Shares string `json:"shares" gorm:"default:''"`

	// Withdraw leg parameters (set by RequestWithdraw, cleared semantics: zero until then)
	WithdrawAmount     string `json:"withdraw_amount" gorm:"default:''"`
	WithdrawDeadline   uint64 `json:"withdraw_deadline" gorm:"default:0"`
	WithdrawSecretHash string `json:"withdraw_secret_hash" gorm:"size:66;default:''"`
	WithdrawLeg        uint64 `json:"withdraw_leg" gorm:"default:0"` // incremented per RequestWithdraw, echoed in confirmations

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ReceiptStatus position receipt status enum
type ReceiptStatus string

const (
	ReceiptStatusActive          ReceiptStatus = "active"
	ReceiptStatusPendingWithdraw ReceiptStatus = "pending_withdraw"
)

// PositionReceipt is the owner-held private record of an active position.
// Receipts are never mutated in place: every transition nullifies the old row
// (tombstone, not deletion) and inserts a replacement, which is also how the
// refund path gets a fresh unlinkable nonce.
type PositionReceipt struct {
	ID       string        `json:"id" gorm:"primaryKey;size:64"` // UUID
	Owner    string        `json:"owner" gorm:"index;size:66;not null"`
	IntentID string        `json:"intent_id" gorm:"index;size:66;not null"`
	Nonce    string        `json:"nonce" gorm:"index;size:66;not null"` // = intentId, re-derived on refund
	AssetID  string        `json:"asset_id" gorm:"size:66;not null"`
	Shares   string        `json:"shares" gorm:"not null"`
	MarketID string        `json:"market_id" gorm:"size:66;default:''"`
	Status   ReceiptStatus `json:"status" gorm:"index;size:32;not null"`

	Nullified   bool       `json:"nullified" gorm:"index;not null;default:false"`
	NullifiedAt *time.Time `json:"nullified_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IntentTransition append-only audit row, one per state machine transition
type IntentTransition struct {
	ID         uint64       `json:"id" gorm:"primaryKey;autoIncrement"`
	IntentID   string       `json:"intent_id" gorm:"index;size:66;not null"`
	FromStatus IntentStatus `json:"from_status" gorm:"size:32;not null"`
	ToStatus   IntentStatus `json:"to_status" gorm:"size:32;not null"`
	Reason     string       `json:"reason" gorm:"size:64;not null"` // e.g. "settlement_confirmed", "deadline_cancel"
	CreatedAt  time.Time    `json:"created_at"`
}

// ProcessedMessage replay-protection row, keyed by message content hash
type ProcessedMessage struct {
	MessageHash string    `json:"message_hash" gorm:"primaryKey;size:66"`
	Direction   string    `json:"direction" gorm:"size:16;not null"` // inbound | outbound
	ProcessedAt time.Time `json:"processed_at" gorm:"not null"`
}

// BatchRoot committed message batch root, linked to its predecessor so the
// root history forms a chain that witnesses can be checked against
type BatchRoot struct {
	ID           string    `json:"id" gorm:"primaryKey;size:96"`
	Root         string    `json:"root" gorm:"uniqueIndex;size:66;not null"`
	PreviousRoot string    `json:"previous_root" gorm:"size:66;default:''"`
	BatchIndex   uint64    `json:"batch_index" gorm:"index;not null"`
	LeafCount    int       `json:"leaf_count" gorm:"not null"`
	IsRecentRoot bool      `json:"is_recent_root" gorm:"index;not null;default:false"`
	CreatedAt    time.Time `json:"created_at"`
}
