package transport

import (
	"context"
	"sync"
	"time"

	"intent-backend/internal/merkle"
	"intent-backend/internal/protocol"
	"intent-backend/internal/repository"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// LocalTransport is the in-process transport used by tests and `transport:
// local` mode. It never touches a network but keeps the behaviors correctness
// depends on: content-addressed message ids, a processed-hash set that
// rejects re-delivery of an identical body, and a committed batch log that
// witnesses are computed against.
type LocalTransport struct {
	mu        sync.Mutex
	sequences map[uint32]uint64
	processed map[common.Hash]bool // processedMessageHashes
	sent      uint64

	log       *merkle.BatchLog
	batchRepo repository.BatchRootRepository // optional root-chain recording

	pollInterval time.Duration
}

// NewLocalTransport creates a LocalTransport. batchRepo may be nil.
func NewLocalTransport(batchRepo repository.BatchRootRepository, pollInterval time.Duration) *LocalTransport {
	if pollInterval <= 0 {
		pollInterval = 10 * time.Millisecond
	}
	return &LocalTransport{
		sequences:    make(map[uint32]uint64),
		processed:    make(map[common.Hash]bool),
		log:          merkle.NewBatchLog(),
		batchRepo:    batchRepo,
		pollInterval: pollInterval,
	}
}

// Send assigns the next sequence for the recipient domain and queues the
// message body into the open batch.
func (t *LocalTransport) Send(ctx context.Context, recipientDomain uint32, recipient common.Address, content []byte) (common.Hash, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	seq := t.sequences[recipientDomain]
	t.sequences[recipientDomain] = seq + 1

	msg := Message{
		SenderDomainID:   DomainOrigin,
		RecipientAddress: recipient,
		Content:          content,
		Sequence:         seq,
	}
	t.log.Append(content)
	t.sent++
	return msg.ID(), nil
}

// Deliver simulates the settlement domain handing back a message body.
// Re-delivery of an identical body is rejected, the way a real bridge's
// replay protection would.
func (t *LocalTransport) Deliver(content []byte) error {
	bodyHash := common.BytesToHash(crypto.Keccak256(content))

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.processed[bodyHash] {
		return protocol.ErrMessageReplay
	}
	t.processed[bodyHash] = true
	t.log.Append(content)
	return nil
}

// SealBatch commits the open batch and records its root in the root chain.
// Returns false when there was nothing to seal.
func (t *LocalTransport) SealBatch(ctx context.Context) (common.Hash, bool, error) {
	t.mu.Lock()
	batch, ok := t.log.Seal()
	t.mu.Unlock()
	if !ok {
		return common.Hash{}, false, nil
	}
	if t.batchRepo != nil {
		previous := ""
		if latest, err := t.batchRepo.Latest(ctx); err == nil && latest != nil {
			previous = latest.Root
		}
		if err := t.batchRepo.Record(ctx, batch.Root.Hex(), previous, batch.Index, len(batch.Leaves)); err != nil {
			return common.Hash{}, false, err
		}
	}
	return batch.Root, true, nil
}

// ComputeMembershipWitness polls the sealed batches for the content, bounded
// by the context deadline. The wait is cancellable; on timeout the caller
// gets ErrNotYetDelivered and decides whether to retry.
func (t *LocalTransport) ComputeMembershipWitness(ctx context.Context, fromBatch uint64, content []byte) (*Witness, error) {
	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	for {
		if w, ok := t.tryWitness(fromBatch, content); ok {
			return w, nil
		}
		select {
		case <-ctx.Done():
			return nil, protocol.ErrNotYetDelivered
		case <-ticker.C:
		}
	}
}

func (t *LocalTransport) tryWitness(fromBatch uint64, content []byte) (*Witness, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	batch, leafIndex, found := t.log.FindLeaf(content, fromBatch)
	if !found {
		return nil, false
	}
	siblings, err := merkle.BuildSiblingPath(batch.Leaves, leafIndex)
	if err != nil {
		return nil, false
	}
	return &Witness{
		Root:       batch.Root,
		BatchIndex: batch.Index,
		LeafIndex:  leafIndex,
		Siblings:   siblings,
	}, true
}

// SealedBatches returns the number of committed batches.
func (t *LocalTransport) SealedBatches() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.log.SealedCount()
}

// SentMessages returns the number of messages accepted by Send, including
// those still waiting in the open batch.
func (t *LocalTransport) SentMessages() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sent
}
