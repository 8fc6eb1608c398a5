package state

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/wasmledger/wavm/types"
)

type write struct {
	value []byte
	del   bool
}

// Branch is a mutable view over a committed root. Writes stay in an
// overlay until Commit; Rollback is simply dropping the branch. Child
// branches stack overlays on top of their parent, which is how nested
// contract calls get transactional semantics: a child commit folds its
// overlay into the parent without touching the database, and only the
// top branch commit produces a new root.
//
// A branch is not safe for concurrent use. Independent branches of the
// same store are.
type Branch struct {
	store   *Store
	root    common.Hash
	parent  *Branch
	writes  map[string]write
	touched map[types.Address]struct{}
}

// Get returns the value under a contract's storage key, or nil when the
// key is unset.
func (b *Branch) Get(contract types.Address, key []byte) ([]byte, error) {
	return b.read(recordKey(prefixStorage, contract, key), contract)
}

// Put sets a contract storage key. An empty value is a real value,
// distinct from an unset key.
func (b *Branch) Put(contract types.Address, key, value []byte) {
	b.touch(contract)
	b.writes[string(recordKey(prefixStorage, contract, key))] = write{value: common.CopyBytes(value)}
}

// Delete unsets a contract storage key.
func (b *Branch) Delete(contract types.Address, key []byte) {
	b.touch(contract)
	b.writes[string(recordKey(prefixStorage, contract, key))] = write{del: true}
}

// Balance returns the contract's balance, zero for absent accounts.
func (b *Branch) Balance(contract types.Address) (*uint256.Int, error) {
	raw, err := b.read(recordKey(prefixBalance, contract, nil), contract)
	if err != nil {
		return nil, err
	}
	return new(uint256.Int).SetBytes(raw), nil
}

// SetBalance writes the contract's balance. A zero balance is erased so
// that an account drained to zero and an account never funded hash to
// the same state.
func (b *Branch) SetBalance(contract types.Address, balance *uint256.Int) {
	b.touch(contract)
	k := string(recordKey(prefixBalance, contract, nil))
	if balance.IsZero() {
		b.writes[k] = write{del: true}
		return
	}
	b.writes[k] = write{value: balance.Bytes()}
}

// Code returns the deployed bytecode for a contract address, nil when
// nothing is deployed there.
func (b *Branch) Code(contract types.Address) ([]byte, error) {
	return b.read(recordKey(prefixCode, contract, nil), contract)
}

// SetCode records deployed bytecode under the contract address.
func (b *Branch) SetCode(contract types.Address, code []byte) {
	b.touch(contract)
	b.writes[string(recordKey(prefixCode, contract, nil))] = write{value: common.CopyBytes(code)}
}

// Child opens a nested branch whose reads see this branch's overlay.
func (b *Branch) Child() *Branch {
	return &Branch{
		store:   b.store,
		root:    b.root,
		parent:  b,
		writes:  make(map[string]write),
		touched: make(map[types.Address]struct{}),
	}
}

// Commit folds a child overlay into its parent, or, on the top branch,
// flushes the overlay into the trie and retains the resulting root. The
// flush is atomic: nodes are written before the root marker, and a root
// that was never marked is never openable, so a half-finished commit
// leaves the previous state intact.
func (b *Branch) Commit() (common.Hash, error) {
	if b.parent != nil {
		for k, w := range b.writes {
			b.parent.writes[k] = w
		}
		for a := range b.touched {
			b.parent.touched[a] = struct{}{}
		}
		return b.root, nil
	}
	view := newTrieView(b.store)
	root := b.root
	var err error
	for k, w := range b.writes {
		path := recordPath([]byte(k))
		if w.del {
			root, err = view.remove(root, path, 0)
		} else {
			root, err = view.insert(root, path, w.value, 0)
		}
		if err != nil {
			return common.Hash{}, err
		}
	}
	if err := view.flush(); err != nil {
		return common.Hash{}, &types.StoreError{Msg: err.Error()}
	}
	if err := b.store.retain(root); err != nil {
		return common.Hash{}, err
	}
	b.store.logger.Debug("state committed", "root", root, "writes", len(b.writes))
	b.writes = make(map[string]write)
	b.root = root
	return root, nil
}

// Rollback discards the overlay. The branch stays usable at its
// original root.
func (b *Branch) Rollback() {
	b.writes = make(map[string]write)
	b.touched = make(map[types.Address]struct{})
}

// Root returns the committed root this branch was opened at.
func (b *Branch) Root() common.Hash {
	return b.root
}

// Touched lists the contract addresses this branch (including folded-in
// children) has read or written, for conflict detection between
// concurrently prepared branches.
func (b *Branch) Touched() []types.Address {
	out := make([]types.Address, 0, len(b.touched))
	for a := range b.touched {
		out = append(out, a)
	}
	return out
}

func (b *Branch) touch(contract types.Address) {
	b.touched[contract] = struct{}{}
}

func (b *Branch) read(raw []byte, contract types.Address) ([]byte, error) {
	b.touch(contract)
	k := string(raw)
	for v := b; v != nil; v = v.parent {
		if w, ok := v.writes[k]; ok {
			if w.del {
				return nil, nil
			}
			return common.CopyBytes(w.value), nil
		}
	}
	return b.store.lookup(b.root, recordPath(raw))
}
