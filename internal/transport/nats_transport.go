package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"intent-backend/internal/merkle"
	"intent-backend/internal/metrics"
	"intent-backend/internal/protocol"
	"intent-backend/internal/repository"

	"github.com/ethereum/go-ethereum/common"
	"github.com/nats-io/nats.go"
)

// Subject layout for the cross-domain message bus.
const (
	subjectOutboundFmt   = "intents.%d.outbound" // per recipient domain
	SubjectConfirmations = "intents.settlement.confirmed"
	SubjectBatchesSealed = "intents.batches.sealed"
)

// BatchSealedEvent mirrors one committed batch of the settlement-side log.
type BatchSealedEvent struct {
	BatchIndex uint64   `json:"batch_index"`
	Root       string   `json:"root"`
	Leaves     []string `json:"leaves"` // leaf hashes, in order
}

// NATSTransport is the production transport adapter. Outbound intent messages
// are published per recipient domain; sealed-batch events keep a local mirror
// of the committed batch log that membership witnesses are served from.
type NATSTransport struct {
	conn *nats.Conn

	mu        sync.Mutex
	sequences map[uint32]uint64
	batches   []merkle.Batch

	batchRepo    repository.BatchRootRepository
	pollInterval time.Duration
}

// NewNATSTransport connects to the NATS server and subscribes to the sealed
// batch feed. batchRepo may be nil.
func NewNATSTransport(url string, timeout time.Duration, batchRepo repository.BatchRootRepository, pollInterval time.Duration) (*NATSTransport, error) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}

	conn, err := nats.Connect(url,
		nats.Timeout(timeout),
		nats.ReconnectWait(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Printf("NATS disconnected: %v", err)
			metrics.TransportConnectionStatus.Set(0)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("NATS reconnected")
			metrics.TransportConnectionStatus.Set(1)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	metrics.TransportConnectionStatus.Set(1)

	t := &NATSTransport{
		conn:         conn,
		sequences:    make(map[uint32]uint64),
		batchRepo:    batchRepo,
		pollInterval: pollInterval,
	}

	if _, err := conn.Subscribe(SubjectBatchesSealed, t.handleBatchSealed); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", SubjectBatchesSealed, err)
	}

	log.Printf("✅ NATS transport connected: %s", url)
	return t, nil
}

// Send publishes the message envelope to the recipient domain's subject.
func (t *NATSTransport) Send(ctx context.Context, recipientDomain uint32, recipient common.Address, content []byte) (common.Hash, error) {
	t.mu.Lock()
	seq := t.sequences[recipientDomain]
	t.sequences[recipientDomain] = seq + 1
	t.mu.Unlock()

	msg := Message{
		SenderDomainID:   DomainOrigin,
		RecipientAddress: recipient,
		Content:          content,
		Sequence:         seq,
	}
	envelope, err := json.Marshal(msg)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to encode message envelope: %w", err)
	}

	subject := fmt.Sprintf(subjectOutboundFmt, recipientDomain)
	if err := t.conn.Publish(subject, envelope); err != nil {
		return common.Hash{}, fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	metrics.TransportMessagesPublished.WithLabelValues(subject).Inc()
	return msg.ID(), nil
}

// SubscribeConfirmations registers a handler for inbound settlement
// confirmations. Delivery is at-least-once; the handler must dedupe.
func (t *NATSTransport) SubscribeConfirmations(handler func(content []byte)) error {
	_, err := t.conn.Subscribe(SubjectConfirmations, func(m *nats.Msg) {
		metrics.TransportMessagesReceived.WithLabelValues(SubjectConfirmations).Inc()
		handler(m.Data)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", SubjectConfirmations, err)
	}
	return nil
}

func (t *NATSTransport) handleBatchSealed(m *nats.Msg) {
	var event BatchSealedEvent
	if err := json.Unmarshal(m.Data, &event); err != nil {
		log.Printf("⚠️ Dropping malformed batch sealed event: %v", err)
		return
	}
	leaves := make([]common.Hash, len(event.Leaves))
	for i, leaf := range event.Leaves {
		leaves[i] = common.HexToHash(leaf)
	}
	root := common.HexToHash(event.Root)
	// A batch whose leaves do not recompute its claimed root is not mirrored.
	if merkle.ComputeRoot(leaves) != root {
		log.Printf("⚠️ Rejecting batch %d: leaves do not match root %s", event.BatchIndex, event.Root)
		return
	}

	t.mu.Lock()
	previous := ""
	if len(t.batches) > 0 {
		previous = t.batches[len(t.batches)-1].Root.Hex()
	}
	t.batches = append(t.batches, merkle.Batch{Index: event.BatchIndex, Root: root, Leaves: leaves})
	t.mu.Unlock()

	if t.batchRepo != nil {
		if err := t.batchRepo.Record(context.Background(), event.Root, previous, event.BatchIndex, len(leaves)); err != nil {
			log.Printf("⚠️ Failed to record batch root %s: %v", event.Root, err)
		}
	}
	metrics.TransportBatchesSealed.Inc()
}

// ComputeMembershipWitness polls the mirrored batch log for the content,
// bounded by the context deadline.
func (t *NATSTransport) ComputeMembershipWitness(ctx context.Context, fromBatch uint64, content []byte) (*Witness, error) {
	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	target := merkle.LeafHash(content)
	for {
		metrics.WitnessPollsTotal.Inc()
		if w, ok := t.tryWitness(fromBatch, target); ok {
			return w, nil
		}
		select {
		case <-ctx.Done():
			metrics.WitnessPollTimeouts.Inc()
			return nil, protocol.ErrNotYetDelivered
		case <-ticker.C:
		}
	}
}

func (t *NATSTransport) tryWitness(fromBatch uint64, target common.Hash) (*Witness, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, batch := range t.batches {
		if batch.Index < fromBatch {
			continue
		}
		for li, leaf := range batch.Leaves {
			if leaf != target {
				continue
			}
			siblings, err := merkle.BuildSiblingPath(batch.Leaves, li)
			if err != nil {
				return nil, false
			}
			return &Witness{Root: batch.Root, BatchIndex: batch.Index, LeafIndex: li, Siblings: siblings}, true
		}
	}
	return nil, false
}

// Close drains the connection.
func (t *NATSTransport) Close() {
	if t.conn != nil {
		t.conn.Close()
		metrics.TransportConnectionStatus.Set(0)
	}
}
