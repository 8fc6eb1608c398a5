package state

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// The persisted state is a binary merkle trie keyed by the 256-bit
// Keccak path of each record. Every node is immutable and stored under
// the Keccak hash of its own encoding, so a root hash identifies a
// whole state version and unmodified subtrees are shared between
// versions for free. An all-zero hash is the empty subtree.
const (
	tagBranch = 0x00
	tagLeaf   = 0x01
)

type branchNode struct {
	Left  common.Hash
	Right common.Hash
}

type leafNode struct {
	Path  common.Hash
	Value []byte
}

func encodeBranch(left, right common.Hash) []byte {
	enc, err := rlp.EncodeToBytes(&branchNode{Left: left, Right: right})
	if err != nil {
		panic(err) // static struct, cannot fail
	}
	return append([]byte{tagBranch}, enc...)
}

func encodeLeaf(path common.Hash, value []byte) []byte {
	enc, err := rlp.EncodeToBytes(&leafNode{Path: path, Value: value})
	if err != nil {
		panic(err)
	}
	return append([]byte{tagLeaf}, enc...)
}

func decodeBranch(data []byte) (*branchNode, error) {
	n := new(branchNode)
	if err := rlp.DecodeBytes(data[1:], n); err != nil {
		return nil, err
	}
	return n, nil
}

func decodeLeaf(data []byte) (*leafNode, error) {
	n := new(leafNode)
	if err := rlp.DecodeBytes(data[1:], n); err != nil {
		return nil, err
	}
	return n, nil
}

func bitAt(path common.Hash, depth int) byte {
	return (path[depth/8] >> (7 - uint(depth)%8)) & 1
}

// trieView accumulates the nodes created while flushing a branch. New
// nodes become visible to the backing database only when the flush
// completes and the new root is retained, which keeps commits atomic:
// a failed flush leaves no reachable state behind.
type trieView struct {
	store *Store
	dirty map[common.Hash][]byte
}

func newTrieView(s *Store) *trieView {
	return &trieView{store: s, dirty: make(map[common.Hash][]byte)}
}

func (v *trieView) read(h common.Hash) ([]byte, error) {
	if enc, ok := v.dirty[h]; ok {
		return enc, nil
	}
	return v.store.readNode(h)
}

func (v *trieView) write(enc []byte) common.Hash {
	h := crypto.Keccak256Hash(enc)
	v.dirty[h] = enc
	return h
}

func (v *trieView) flush() error {
	for h, enc := range v.dirty {
		if err := v.store.db.Put(h[:], enc); err != nil {
			return err
		}
	}
	return nil
}

func (v *trieView) isLeaf(h common.Hash) (bool, error) {
	enc, err := v.read(h)
	if err != nil {
		return false, err
	}
	return enc[0] == tagLeaf, nil
}

func (v *trieView) insert(root, path common.Hash, value []byte, depth int) (common.Hash, error) {
	if root == (common.Hash{}) {
		return v.write(encodeLeaf(path, value)), nil
	}
	enc, err := v.read(root)
	if err != nil {
		return common.Hash{}, err
	}
	switch enc[0] {
	case tagLeaf:
		leaf, err := decodeLeaf(enc)
		if err != nil {
			return common.Hash{}, err
		}
		if leaf.Path == path {
			return v.write(encodeLeaf(path, value)), nil
		}
		return v.split(leaf, path, value, depth)
	case tagBranch:
		branch, err := decodeBranch(enc)
		if err != nil {
			return common.Hash{}, err
		}
		if bitAt(path, depth) == 0 {
			left, err := v.insert(branch.Left, path, value, depth+1)
			if err != nil {
				return common.Hash{}, err
			}
			return v.write(encodeBranch(left, branch.Right)), nil
		}
		right, err := v.insert(branch.Right, path, value, depth+1)
		if err != nil {
			return common.Hash{}, err
		}
		return v.write(encodeBranch(branch.Left, right)), nil
	}
	return common.Hash{}, fmt.Errorf("bad node tag %d", enc[0])
}

// split pushes an existing leaf and a new record down until their paths
// diverge, creating one branch per shared bit.
func (v *trieView) split(old *leafNode, path common.Hash, value []byte, depth int) (common.Hash, error) {
	oldBit, newBit := bitAt(old.Path, depth), bitAt(path, depth)
	if oldBit != newBit {
		oldHash := v.write(encodeLeaf(old.Path, old.Value))
		newHash := v.write(encodeLeaf(path, value))
		if newBit == 0 {
			return v.write(encodeBranch(newHash, oldHash)), nil
		}
		return v.write(encodeBranch(oldHash, newHash)), nil
	}
	child, err := v.split(old, path, value, depth+1)
	if err != nil {
		return common.Hash{}, err
	}
	if newBit == 0 {
		return v.write(encodeBranch(child, common.Hash{})), nil
	}
	return v.write(encodeBranch(common.Hash{}, child)), nil
}

func (v *trieView) remove(root, path common.Hash, depth int) (common.Hash, error) {
	if root == (common.Hash{}) {
		return root, nil
	}
	enc, err := v.read(root)
	if err != nil {
		return common.Hash{}, err
	}
	switch enc[0] {
	case tagLeaf:
		leaf, err := decodeLeaf(enc)
		if err != nil {
			return common.Hash{}, err
		}
		if leaf.Path == path {
			return common.Hash{}, nil
		}
		return root, nil
	case tagBranch:
		branch, err := decodeBranch(enc)
		if err != nil {
			return common.Hash{}, err
		}
		left, right := branch.Left, branch.Right
		if bitAt(path, depth) == 0 {
			left, err = v.remove(left, path, depth+1)
		} else {
			right, err = v.remove(right, path, depth+1)
		}
		if err != nil {
			return common.Hash{}, err
		}
		return v.collapse(left, right)
	}
	return common.Hash{}, fmt.Errorf("bad node tag %d", enc[0])
}

// collapse keeps the trie shape canonical after a removal: a branch
// whose only occupant is a leaf is replaced by that leaf, so a given
// key set always hashes to the same root no matter how it was reached.
func (v *trieView) collapse(left, right common.Hash) (common.Hash, error) {
	empty := common.Hash{}
	switch {
	case left == empty && right == empty:
		return empty, nil
	case left == empty:
		leaf, err := v.isLeaf(right)
		if err != nil {
			return empty, err
		}
		if leaf {
			return right, nil
		}
	case right == empty:
		leaf, err := v.isLeaf(left)
		if err != nil {
			return empty, err
		}
		if leaf {
			return left, nil
		}
	}
	return v.write(encodeBranch(left, right)), nil
}

// lookup walks a committed trie. Cost is proportional to the depth of
// the path, not the size of the store.
func (s *Store) lookup(root, path common.Hash) ([]byte, error) {
	h := root
	for depth := 0; ; depth++ {
		if h == (common.Hash{}) {
			return nil, nil
		}
		enc, err := s.readNode(h)
		if err != nil {
			return nil, err
		}
		switch enc[0] {
		case tagLeaf:
			leaf, err := decodeLeaf(enc)
			if err != nil {
				return nil, err
			}
			if leaf.Path == path {
				return common.CopyBytes(leaf.Value), nil
			}
			return nil, nil
		case tagBranch:
			branch, err := decodeBranch(enc)
			if err != nil {
				return nil, err
			}
			if bitAt(path, depth) == 0 {
				h = branch.Left
			} else {
				h = branch.Right
			}
		default:
			return nil, fmt.Errorf("bad node tag %d", enc[0])
		}
	}
}
