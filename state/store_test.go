package state

import (
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wasmledger/wavm/types"
)

var (
	contractA = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	contractB = common.HexToAddress("0x00000000000000000000000000000000000000bb")
)

func TestPutGetCommit(t *testing.T) {
	store := NewMemoryStore()
	branch, err := store.Open(common.Hash{})
	require.NoError(t, err)

	branch.Put(contractA, []byte("counter"), []byte{0x2a})
	got, err := branch.Get(contractA, []byte("counter"))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x2a}, got)

	root, err := branch.Commit()
	require.NoError(t, err)
	assert.NotEqual(t, common.Hash{}, root)

	reopened, err := store.Open(root)
	require.NoError(t, err)
	got, err = reopened.Get(contractA, []byte("counter"))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x2a}, got)

	missing, err := reopened.Get(contractB, []byte("counter"))
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRootDependsOnContentNotHistory(t *testing.T) {
	keys := make([][]byte, 16)
	for i := range keys {
		keys[i] = []byte(fmt.Sprintf("key-%d", i))
	}

	forward := NewMemoryStore()
	b1, err := forward.Open(common.Hash{})
	require.NoError(t, err)
	for i, k := range keys {
		b1.Put(contractA, k, []byte{byte(i)})
	}
	root1, err := b1.Commit()
	require.NoError(t, err)

	// Same content, reversed insertion order, plus an extra record that
	// is deleted again before the final commit.
	backward := NewMemoryStore()
	b2, err := backward.Open(common.Hash{})
	require.NoError(t, err)
	b2.Put(contractB, []byte("transient"), []byte("x"))
	for i := len(keys) - 1; i >= 0; i-- {
		b2.Put(contractA, keys[i], []byte{byte(i)})
	}
	mid, err := b2.Commit()
	require.NoError(t, err)
	b3, err := backward.Open(mid)
	require.NoError(t, err)
	b3.Delete(contractB, []byte("transient"))
	root2, err := b3.Commit()
	require.NoError(t, err)

	assert.Equal(t, root1, root2)
}

func TestDeleteRestoresPriorRoot(t *testing.T) {
	store := NewMemoryStore()
	branch, err := store.Open(common.Hash{})
	require.NoError(t, err)
	branch.Put(contractA, []byte("a"), []byte("1"))
	branch.Put(contractA, []byte("b"), []byte("2"))
	base, err := branch.Commit()
	require.NoError(t, err)

	next, err := store.Open(base)
	require.NoError(t, err)
	next.Put(contractA, []byte("c"), []byte("3"))
	grown, err := next.Commit()
	require.NoError(t, err)
	assert.NotEqual(t, base, grown)

	last, err := store.Open(grown)
	require.NoError(t, err)
	last.Delete(contractA, []byte("c"))
	shrunk, err := last.Commit()
	require.NoError(t, err)
	assert.Equal(t, base, shrunk)
}

func TestEmptyValueDistinctFromAbsent(t *testing.T) {
	store := NewMemoryStore()
	branch, err := store.Open(common.Hash{})
	require.NoError(t, err)
	branch.Put(contractA, []byte("flag"), []byte{})
	root, err := branch.Commit()
	require.NoError(t, err)

	reopened, err := store.Open(root)
	require.NoError(t, err)
	got, err := reopened.Get(contractA, []byte("flag"))
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Len(t, got, 0)
}

func TestUnknownRootRejected(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.Open(common.HexToHash("0xdeadbeef"))
	require.Error(t, err)
	var serr *types.StoreError
	assert.ErrorAs(t, err, &serr)
}

func TestChildCommitAndRollback(t *testing.T) {
	store := NewMemoryStore()
	branch, err := store.Open(common.Hash{})
	require.NoError(t, err)
	branch.Put(contractA, []byte("x"), []byte("parent"))

	child := branch.Child()
	got, err := child.Get(contractA, []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, []byte("parent"), got, "child sees parent overlay")

	child.Put(contractA, []byte("x"), []byte("child"))
	child.Put(contractB, []byte("y"), []byte("1"))
	_, err = child.Commit()
	require.NoError(t, err)

	got, err = branch.Get(contractA, []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, []byte("child"), got)

	discarded := branch.Child()
	discarded.Put(contractA, []byte("x"), []byte("dropped"))
	discarded.Rollback()
	got, err = branch.Get(contractA, []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, []byte("child"), got)

	root, err := branch.Commit()
	require.NoError(t, err)
	reopened, err := store.Open(root)
	require.NoError(t, err)
	got, err = reopened.Get(contractB, []byte("y"))
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), got)
}

func TestRollbackKeepsBranchUsable(t *testing.T) {
	store := NewMemoryStore()
	branch, err := store.Open(common.Hash{})
	require.NoError(t, err)
	branch.Put(contractA, []byte("k"), []byte("v"))
	branch.Rollback()

	got, err := branch.Get(contractA, []byte("k"))
	require.NoError(t, err)
	assert.Nil(t, got)

	branch.Put(contractA, []byte("k"), []byte("v2"))
	root, err := branch.Commit()
	require.NoError(t, err)
	reopened, err := store.Open(root)
	require.NoError(t, err)
	got, err = reopened.Get(contractA, []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)
}

func TestBalanceZeroIsCanonical(t *testing.T) {
	store := NewMemoryStore()
	branch, err := store.Open(common.Hash{})
	require.NoError(t, err)
	branch.Put(contractA, []byte("k"), []byte("v"))
	base, err := branch.Commit()
	require.NoError(t, err)

	funded, err := store.Open(base)
	require.NoError(t, err)
	funded.SetBalance(contractB, uint256.NewInt(100))
	mid, err := funded.Commit()
	require.NoError(t, err)
	assert.NotEqual(t, base, mid)

	drained, err := store.Open(mid)
	require.NoError(t, err)
	drained.SetBalance(contractB, uint256.NewInt(0))
	final, err := drained.Commit()
	require.NoError(t, err)
	assert.Equal(t, base, final, "drained account hashes like an absent one")

	view, err := store.Open(final)
	require.NoError(t, err)
	bal, err := view.Balance(contractB)
	require.NoError(t, err)
	assert.True(t, bal.IsZero())
}

func TestCodeRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	branch, err := store.Open(common.Hash{})
	require.NoError(t, err)
	code := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
	branch.SetCode(contractA, code)
	root, err := branch.Commit()
	require.NoError(t, err)

	reopened, err := store.Open(root)
	require.NoError(t, err)
	got, err := reopened.Code(contractA)
	require.NoError(t, err)
	assert.Equal(t, code, got)
	none, err := reopened.Code(contractB)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestRetainedRootsSurviveReopen(t *testing.T) {
	db := NewMemoryStore().db
	store := NewStore(db)
	branch, err := store.Open(common.Hash{})
	require.NoError(t, err)
	branch.Put(contractA, []byte("k"), []byte("v"))
	root, err := branch.Commit()
	require.NoError(t, err)

	// A fresh store over the same database recognises the root.
	fresh := NewStore(db)
	reopened, err := fresh.Open(root)
	require.NoError(t, err)
	got, err := reopened.Get(contractA, []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)
}

func TestTouchedTracksContracts(t *testing.T) {
	store := NewMemoryStore()
	branch, err := store.Open(common.Hash{})
	require.NoError(t, err)
	branch.Put(contractA, []byte("k"), []byte("v"))
	_, err = branch.Get(contractB, []byte("k"))
	require.NoError(t, err)

	touched := branch.Touched()
	assert.Len(t, touched, 2)
	assert.Contains(t, touched, contractA)
	assert.Contains(t, touched, contractB)
}
