// Package hashing implements the one-way derivations of the intent protocol:
// intent ids, owner hashes, salts and the secret commitment. Every derivation
// is keccak256 over a fixed-width concatenation with a distinct domain tag, so
// no two derivations can collide even on identical inputs.
package hashing

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Domain separation tags. One per derivation, never reused.
const (
	tagIntentSalt  = "intent/v1/salt"
	tagIntentID    = "intent/v1/id"
	tagOwnerHash   = "intent/v1/owner-hash"
	tagSecretHash  = "intent/v1/secret-hash"
	tagRefundNonce = "intent/v1/refund-nonce"
	tagMessageID   = "intent/v1/message-id"
)

// addressWord left-pads a 20-byte address into a 32-byte word.
func addressWord(addr common.Address) []byte {
	word := make([]byte, 32)
	copy(word[12:], addr.Bytes())
	return word
}

// amountWord encodes a uint256 amount as 32 big-endian bytes.
func amountWord(amount *big.Int) []byte {
	word := make([]byte, 32)
	amount.FillBytes(word) // Big-endian encoding (U256)
	return word
}

// u64Word encodes a uint64 as 32 big-endian bytes.
func u64Word(v uint64) []byte {
	word := make([]byte, 32)
	word[24] = byte(v >> 56)
	word[25] = byte(v >> 48)
	word[26] = byte(v >> 40)
	word[27] = byte(v >> 32)
	word[28] = byte(v >> 24)
	word[29] = byte(v >> 16)
	word[30] = byte(v >> 8)
	word[31] = byte(v)
	return word
}

// tagged hashes tag || parts with keccak256.
func tagged(tag string, parts ...[]byte) common.Hash {
	data := make([]byte, 0, len(tag)+32*len(parts))
	data = append(data, []byte(tag)...)
	for _, p := range parts {
		data = append(data, p...)
	}
	return common.BytesToHash(crypto.Keccak256(data))
}

// DeriveSalt computes salt = H(caller, secretHash).
func DeriveSalt(caller common.Address, secretHash common.Hash) common.Hash {
	return tagged(tagIntentSalt, addressWord(caller), secretHash.Bytes())
}

// DeriveIntentID computes the intent identifier from the caller and the
// creation-time economic parameters. Deterministic: any independent verifier
// recomputes the exact same value from the same inputs.
func DeriveIntentID(caller common.Address, assetID common.Hash, amount *big.Int, originalDecimals uint8, deadline uint64, salt common.Hash) common.Hash {
	return tagged(tagIntentID,
		addressWord(caller),
		assetID.Bytes(),
		amountWord(amount),
		u64Word(uint64(originalDecimals)),
		u64Word(deadline),
		salt.Bytes(),
	)
}

// DeriveOwnerHash computes ownerHash = H(caller, intentId). Because the
// intent id is part of the preimage, two intents of the same owner carry
// unlinkable owner hashes.
func DeriveOwnerHash(caller common.Address, intentID common.Hash) common.Hash {
	return tagged(tagOwnerHash, addressWord(caller), intentID.Bytes())
}

// DeriveRefundNonce computes the replacement receipt nonce H(oldNonce, owner)
// issued by the refund path.
func DeriveRefundNonce(oldNonce common.Hash, owner common.Address) common.Hash {
	return tagged(tagRefundNonce, oldNonce.Bytes(), addressWord(owner))
}

// DeriveMessageID computes the content-addressed identity of a cross-domain
// message: H(senderDomain, recipient, sequence, content).
func DeriveMessageID(senderDomainID uint32, recipient common.Address, sequence uint64, content []byte) common.Hash {
	return tagged(tagMessageID,
		u64Word(uint64(senderDomainID)),
		addressWord(recipient),
		u64Word(sequence),
		crypto.Keccak256(content),
	)
}

// ComputeSecretHash computes the commitment for a secret. One-way: only
// equality against a presented preimage is ever checked.
func ComputeSecretHash(secret common.Hash) common.Hash {
	return tagged(tagSecretHash, secret.Bytes())
}

// VerifySecret reports whether the presented secret opens the commitment.
// Fails closed on any mismatch.
func VerifySecret(secret common.Hash, commitment common.Hash) bool {
	return ComputeSecretHash(secret) == commitment
}

// GenerateSecret draws a fresh uniformly random secret. A secret is never
// reused across two intents.
func GenerateSecret() (common.Hash, error) {
	var secret common.Hash
	if _, err := rand.Read(secret[:]); err != nil {
		return common.Hash{}, fmt.Errorf("failed to generate secret: %w", err)
	}
	return secret, nil
}
