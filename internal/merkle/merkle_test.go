package merkle

import (
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func leavesOf(n int) ([][]byte, []common.Hash) {
	contents := make([][]byte, n)
	leaves := make([]common.Hash, n)
	for i := 0; i < n; i++ {
		contents[i] = []byte(fmt.Sprintf("message-%d", i))
		leaves[i] = LeafHash(contents[i])
	}
	return contents, leaves
}

func TestComputeRoot(t *testing.T) {
	assert.Equal(t, common.Hash{}, ComputeRoot(nil))

	_, one := leavesOf(1)
	rootOne := ComputeRoot(one)
	assert.NotEqual(t, common.Hash{}, rootOne)
	assert.NotEqual(t, one[0], rootOne, "single leaf still hashes up through a node")

	_, four := leavesOf(4)
	assert.NotEqual(t, ComputeRoot(four[:3]), ComputeRoot(four), "adding a leaf changes the root")
}

func TestSiblingPathVerifiesForEveryLeaf(t *testing.T) {
	for _, n := range []int{1, 2, 3, 5, 8} {
		contents, leaves := leavesOf(n)
		root := ComputeRoot(leaves)
		for i := 0; i < n; i++ {
			path, err := BuildSiblingPath(leaves, i)
			require.NoError(t, err, "n=%d i=%d", n, i)
			assert.True(t, VerifyPath(contents[i], i, path, root), "n=%d i=%d must verify", n, i)
		}
	}
}

func TestVerifyPathRejectsTampering(t *testing.T) {
	contents, leaves := leavesOf(5)
	root := ComputeRoot(leaves)
	path, err := BuildSiblingPath(leaves, 2)
	require.NoError(t, err)

	assert.False(t, VerifyPath([]byte("forged"), 2, path, root), "tampered content")
	assert.False(t, VerifyPath(contents[2], 3, path, root), "wrong index")
	assert.False(t, VerifyPath(contents[2], 2, path, common.HexToHash("0xbad")), "wrong root")
	assert.False(t, VerifyPath(contents[2], -1, path, root), "negative index")

	if len(path) > 0 {
		mutated := make([]common.Hash, len(path))
		copy(mutated, path)
		mutated[0] = common.HexToHash("0xdead")
		assert.False(t, VerifyPath(contents[2], 2, mutated, root), "tampered sibling")
	}
}

func TestBuildSiblingPathBounds(t *testing.T) {
	_, leaves := leavesOf(3)
	_, err := BuildSiblingPath(leaves, 3)
	assert.Error(t, err)
	_, err = BuildSiblingPath(leaves, -1)
	assert.Error(t, err)
}

func TestBatchLogSealAndFind(t *testing.T) {
	log := NewBatchLog()

	_, sealed := log.Seal()
	assert.False(t, sealed, "sealing an empty batch is a no-op")

	assert.Equal(t, 0, log.Append([]byte("a")))
	assert.Equal(t, 1, log.Append([]byte("b")))

	batch, sealed := log.Seal()
	require.True(t, sealed)
	assert.Equal(t, uint64(0), batch.Index)
	assert.Len(t, batch.Leaves, 2)
	assert.Equal(t, uint64(1), log.SealedCount())

	// New appends land in a fresh batch.
	log.Append([]byte("c"))
	second, sealed := log.Seal()
	require.True(t, sealed)
	assert.Equal(t, uint64(1), second.Index)

	found, li, ok := log.FindLeaf([]byte("b"), 0)
	require.True(t, ok)
	assert.Equal(t, uint64(0), found.Index)
	assert.Equal(t, 1, li)

	// fromBatch skips earlier batches.
	_, _, ok = log.FindLeaf([]byte("b"), 1)
	assert.False(t, ok)

	_, _, ok = log.FindLeaf([]byte("never-sent"), 0)
	assert.False(t, ok)

	got, ok := log.BatchAt(1)
	require.True(t, ok)
	assert.Equal(t, second.Root, got.Root)
	_, ok = log.BatchAt(2)
	assert.False(t, ok)
}
