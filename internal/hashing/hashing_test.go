package hashing

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testCaller = common.HexToAddress("0x1111111111111111111111111111111111111111")
	testAsset  = common.HexToHash("0x00000000000000000000000000000000000000000000000000000000000000aa")
)

func TestDeriveSaltDeterministic(t *testing.T) {
	secretHash := ComputeSecretHash(common.HexToHash("0x01"))

	a := DeriveSalt(testCaller, secretHash)
	b := DeriveSalt(testCaller, secretHash)
	assert.Equal(t, a, b, "same inputs must derive the same salt")
	assert.NotEqual(t, common.Hash{}, a)

	other := DeriveSalt(common.HexToAddress("0x2222222222222222222222222222222222222222"), secretHash)
	assert.NotEqual(t, a, other, "different callers must derive different salts")
}

func TestDeriveIntentIDSensitivity(t *testing.T) {
	salt := DeriveSalt(testCaller, ComputeSecretHash(common.HexToHash("0x01")))
	amount := big.NewInt(1_000_000)

	base := DeriveIntentID(testCaller, testAsset, amount, 6, 1000, salt)
	require.NotEqual(t, common.Hash{}, base)

	variants := []common.Hash{
		DeriveIntentID(common.HexToAddress("0x33"), testAsset, amount, 6, 1000, salt),
		DeriveIntentID(testCaller, common.HexToHash("0xbb"), amount, 6, 1000, salt),
		DeriveIntentID(testCaller, testAsset, big.NewInt(1_000_001), 6, 1000, salt),
		DeriveIntentID(testCaller, testAsset, amount, 18, 1000, salt),
		DeriveIntentID(testCaller, testAsset, amount, 6, 1001, salt),
		DeriveIntentID(testCaller, testAsset, amount, 6, 1000, common.HexToHash("0xcc")),
	}
	for i, v := range variants {
		assert.NotEqual(t, base, v, "variant %d must change the intent id", i)
	}

	again := DeriveIntentID(testCaller, testAsset, amount, 6, 1000, salt)
	assert.Equal(t, base, again)
}

func TestDerivationsAreDomainSeparated(t *testing.T) {
	// Same 32-byte inputs through different derivations must never collide.
	h := common.HexToHash("0x0102030405060708010203040506070801020304050607080102030405060708")

	ownerHash := DeriveOwnerHash(testCaller, h)
	salt := DeriveSalt(testCaller, h)
	refundNonce := DeriveRefundNonce(h, testCaller)
	secretHash := ComputeSecretHash(h)

	all := []common.Hash{ownerHash, salt, refundNonce, secretHash}
	for i := range all {
		for j := i + 1; j < len(all); j++ {
			assert.NotEqual(t, all[i], all[j], "derivations %d and %d collided", i, j)
		}
	}
}

func TestDeriveRefundNonceChainsUnlinkably(t *testing.T) {
	old := common.HexToHash("0xaa")
	next := DeriveRefundNonce(old, testCaller)
	assert.NotEqual(t, old, next)

	// A second refund derives yet another nonce.
	third := DeriveRefundNonce(next, testCaller)
	assert.NotEqual(t, next, third)
	assert.NotEqual(t, old, third)
}

func TestSecretCommitment(t *testing.T) {
	secret, err := GenerateSecret()
	require.NoError(t, err)
	require.NotEqual(t, common.Hash{}, secret)

	commitment := ComputeSecretHash(secret)
	assert.NotEqual(t, secret, commitment, "commitment must not leak the secret")
	assert.True(t, VerifySecret(secret, commitment))
	assert.False(t, VerifySecret(common.HexToHash("0xdead"), commitment))
	assert.False(t, VerifySecret(secret, common.Hash{}))

	other, err := GenerateSecret()
	require.NoError(t, err)
	assert.NotEqual(t, secret, other, "two generated secrets must differ")
}

func TestDeriveMessageID(t *testing.T) {
	content := []byte(`{"kind":"deposit_request"}`)
	recipient := common.HexToAddress("0x4444444444444444444444444444444444444444")

	a := DeriveMessageID(1, recipient, 0, content)
	b := DeriveMessageID(1, recipient, 0, content)
	assert.Equal(t, a, b)

	assert.NotEqual(t, a, DeriveMessageID(2, recipient, 0, content))
	assert.NotEqual(t, a, DeriveMessageID(1, recipient, 1, content))
	assert.NotEqual(t, a, DeriveMessageID(1, recipient, 0, []byte("other")))
}
