// Package merkle implements the append-only committed batch log used by the
// message transport. Messages are hashed into a batch; sealing a batch commits
// a Merkle root; a membership witness proves a message was included in a
// sealed batch by recomputing the root from the leaf and its sibling path.
package merkle

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Node prefixes keep leaf hashes and interior node hashes in separate domains.
var (
	leafPrefix = []byte{0x00}
	nodePrefix = []byte{0x01}
)

// LeafHash hashes message content into a tree leaf.
func LeafHash(content []byte) common.Hash {
	return common.BytesToHash(crypto.Keccak256(leafPrefix, content))
}

func hashPair(left, right common.Hash) common.Hash {
	return common.BytesToHash(crypto.Keccak256(nodePrefix, left.Bytes(), right.Bytes()))
}

// ComputeRoot folds the leaves pairwise up to the root. An odd node at any
// level is paired with itself.
func ComputeRoot(leaves []common.Hash) common.Hash {
	if len(leaves) == 0 {
		return common.Hash{}
	}
	level := make([]common.Hash, len(leaves))
	copy(level, leaves)
	for len(level) > 1 {
		next := make([]common.Hash, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, hashPair(level[i], level[i+1]))
			} else {
				next = append(next, hashPair(level[i], level[i]))
			}
		}
		level = next
	}
	return level[0]
}

// BuildSiblingPath returns the ordered sibling hashes from the leaf at index
// up to the root.
func BuildSiblingPath(leaves []common.Hash, index int) ([]common.Hash, error) {
	if index < 0 || index >= len(leaves) {
		return nil, fmt.Errorf("leaf index %d out of range (0..%d)", index, len(leaves)-1)
	}
	var path []common.Hash
	level := make([]common.Hash, len(leaves))
	copy(level, leaves)
	pos := index
	for len(level) > 1 {
		sibling := pos ^ 1
		if sibling >= len(level) {
			sibling = pos // odd node pairs with itself
		}
		path = append(path, level[sibling])

		next := make([]common.Hash, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, hashPair(level[i], level[i+1]))
			} else {
				next = append(next, hashPair(level[i], level[i]))
			}
		}
		level = next
		pos /= 2
	}
	return path, nil
}

// VerifyPath recomputes the root from (content, leafIndex, siblings) and
// compares it to the expected root. Any mismatch means the message is not
// considered delivered.
func VerifyPath(content []byte, leafIndex int, siblings []common.Hash, expectedRoot common.Hash) bool {
	if leafIndex < 0 {
		return false
	}
	node := LeafHash(content)
	pos := leafIndex
	for _, sibling := range siblings {
		if pos%2 == 0 {
			node = hashPair(node, sibling)
		} else {
			node = hashPair(sibling, node)
		}
		pos /= 2
	}
	return node == expectedRoot
}

// Batch is one sealed commitment of the log.
type Batch struct {
	Index  uint64
	Root   common.Hash
	Leaves []common.Hash
}

// BatchLog is the in-memory committed batch log. Appends go into an open
// batch; Seal commits the open batch and starts a new one. Sealed batches are
// never modified.
type BatchLog struct {
	mu     sync.RWMutex
	open   []common.Hash
	sealed []Batch
}

// NewBatchLog creates an empty BatchLog.
func NewBatchLog() *BatchLog {
	return &BatchLog{}
}

// Append adds a leaf for the given content to the open batch and returns its
// future leaf index.
func (l *BatchLog) Append(content []byte) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.open = append(l.open, LeafHash(content))
	return len(l.open) - 1
}

// Seal commits the open batch. Sealing an empty batch is a no-op and returns
// false.
func (l *BatchLog) Seal() (Batch, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.open) == 0 {
		return Batch{}, false
	}
	leaves := make([]common.Hash, len(l.open))
	copy(leaves, l.open)
	batch := Batch{
		Index:  uint64(len(l.sealed)),
		Root:   ComputeRoot(leaves),
		Leaves: leaves,
	}
	l.sealed = append(l.sealed, batch)
	l.open = nil
	return batch, true
}

// SealedCount returns the number of committed batches.
func (l *BatchLog) SealedCount() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return uint64(len(l.sealed))
}

// BatchAt returns the sealed batch at the given index.
func (l *BatchLog) BatchAt(index uint64) (Batch, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if index >= uint64(len(l.sealed)) {
		return Batch{}, false
	}
	return l.sealed[index], true
}

// FindLeaf scans sealed batches starting at fromBatch for the leaf of the
// given content. Returns the batch and leaf index on success.
func (l *BatchLog) FindLeaf(content []byte, fromBatch uint64) (Batch, int, bool) {
	target := LeafHash(content)
	l.mu.RLock()
	defer l.mu.RUnlock()
	for bi := fromBatch; bi < uint64(len(l.sealed)); bi++ {
		for li, leaf := range l.sealed[bi].Leaves {
			if leaf == target {
				return l.sealed[bi], li, true
			}
		}
	}
	return Batch{}, 0, false
}
