// Package transport abstracts asynchronous cross-domain message delivery:
// replay-protected message identities, the committed batch log, and
// membership-proof retrieval. Delivery is at-least-once; consumers dedupe via
// the processed-message set and the intent consumed flag.
package transport

import (
	"context"
	"encoding/json"
	"fmt"

	"intent-backend/internal/hashing"
	"intent-backend/internal/merkle"
	"intent-backend/internal/protocol"

	"github.com/ethereum/go-ethereum/common"
)

// Domain identifiers for the three execution domains.
const (
	DomainOrigin     uint32 = 1
	DomainSettlement uint32 = 2
	DomainTarget     uint32 = 3
)

// Message is an opaque content-addressed unit of cross-domain transport.
type Message struct {
	SenderDomainID   uint32         `json:"sender_domain_id"`
	RecipientAddress common.Address `json:"recipient_address"`
	Content          []byte         `json:"content"`
	Sequence         uint64         `json:"sequence"`
}

// ID returns the content hash identifying the message; it is the key for
// replay protection and membership-proof lookup.
func (m Message) ID() common.Hash {
	return hashing.DeriveMessageID(m.SenderDomainID, m.RecipientAddress, m.Sequence, m.Content)
}

// Witness proves a message body was included in a committed batch.
type Witness struct {
	Root       common.Hash   `json:"root"`
	BatchIndex uint64        `json:"batch_index"`
	LeafIndex  int           `json:"leaf_index"`
	Siblings   []common.Hash `json:"siblings"`
}

// Verify recomputes the root from (content, leafIndex, siblings) and compares
// it to the witness root. Returns ErrWitnessInvalid on any mismatch.
func (w *Witness) Verify(content []byte) error {
	if !merkle.VerifyPath(content, w.LeafIndex, w.Siblings, w.Root) {
		return protocol.ErrWitnessInvalid
	}
	return nil
}

// Transport is what the orchestrator depends on for cross-domain delivery.
type Transport interface {
	// Send emits a message toward the recipient domain and returns its id.
	Send(ctx context.Context, recipientDomain uint32, recipient common.Address, content []byte) (common.Hash, error)

	// ComputeMembershipWitness polls the committed batch log from fromBatch
	// until the content is found or ctx expires. On timeout it returns
	// ErrNotYetDelivered (retryable).
	ComputeMembershipWitness(ctx context.Context, fromBatch uint64, content []byte) (*Witness, error)
}

// Wire payloads. The concrete bridge encoding is out of scope; JSON keeps the
// payloads inspectable in the local and NATS transports.

// PayloadKind discriminates confirmation payloads.
type PayloadKind string

const (
	PayloadDepositRequest  PayloadKind = "deposit_request"
	PayloadWithdrawRequest PayloadKind = "withdraw_request"
	PayloadConfirmation    PayloadKind = "confirmation"
)

// DepositRequestPayload is the outbound deposit message. It carries the owner
// hash, never the raw owner identity.
type DepositRequestPayload struct {
	Kind             PayloadKind `json:"kind"`
	IntentID         string      `json:"intent_id"`
	OwnerHash        string      `json:"owner_hash"`
	AssetID          string      `json:"asset_id"`
	NetAmount        string      `json:"net_amount"`
	Deadline         uint64      `json:"deadline"`
	OriginalDecimals uint8       `json:"original_decimals"`
}

// WithdrawRequestPayload is the outbound withdraw message. Leg numbers each
// withdraw attempt of the intent; the settlement side echoes it back so a
// confirmation settles exactly the leg that requested it.
type WithdrawRequestPayload struct {
	Kind      PayloadKind `json:"kind"`
	IntentID  string      `json:"intent_id"`
	OwnerHash string      `json:"owner_hash"`
	Amount    string      `json:"amount"`
	Deadline  uint64      `json:"deadline"`
	Leg       uint64      `json:"leg"`
}

// ConfirmationPayload is the inbound settlement confirmation. Withdraw
// confirmations must echo the leg from the request they settle; a confirmation
// carrying a superseded leg is rejected as stale.
type ConfirmationPayload struct {
	Kind       PayloadKind `json:"kind"`
	Operation  string      `json:"operation"` // "deposit" | "withdraw"
	IntentID   string      `json:"intent_id"`
	Amount     string      `json:"amount"`        // shares for deposit, released amount for withdraw
	Leg        uint64      `json:"leg,omitempty"` // withdraw confirmations only
	StatusCode int         `json:"status_code"`
	Relayer    string      `json:"relayer"` // submitting principal; must never be the owner
}

// EncodePayload serializes any payload struct to message content.
func EncodePayload(payload interface{}) ([]byte, error) {
	content, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	return content, nil
}

// DecodeConfirmation parses inbound confirmation content.
func DecodeConfirmation(content []byte) (*ConfirmationPayload, error) {
	var payload ConfirmationPayload
	if err := json.Unmarshal(content, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode confirmation: %w", err)
	}
	if payload.Kind != PayloadConfirmation {
		return nil, fmt.Errorf("unexpected payload kind %q", payload.Kind)
	}
	return &payload, nil
}
