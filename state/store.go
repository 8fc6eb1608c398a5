package state

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"

	"github.com/wasmledger/wavm/types"
)

// Database is the key/value backend the store persists trie nodes and
// root markers into. Both the in-memory database from go-ethereum's
// rawdb and the leveldb wrapper in this package satisfy it.
type Database interface {
	Has(key []byte) (bool, error)
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Delete(key []byte) error
	Close() error
}

// Root markers live next to the trie nodes under a distinct prefix.
// Node keys are exactly 32 bytes so the two key spaces cannot collide.
var rootMarkerPrefix = []byte("r")

// Store owns the node database and the set of retained roots. Only
// roots produced by a commit (plus the empty root) may be opened; a
// root nobody committed is rejected instead of silently resolving to
// an empty or partial state.
type Store struct {
	db     Database
	mu     sync.RWMutex
	roots  map[common.Hash]struct{}
	logger log.Logger
}

// NewStore wraps an existing database. Roots retained by earlier runs
// against the same database remain openable.
func NewStore(db Database) *Store {
	return &Store{
		db:     db,
		roots:  map[common.Hash]struct{}{{}: {}},
		logger: log.New("module", "state"),
	}
}

// NewMemoryStore is the ephemeral store used by tests and one-shot
// tooling.
func NewMemoryStore() *Store {
	return NewStore(rawdb.NewMemoryDatabase())
}

// Open returns a fresh branch rooted at the given committed state.
func (s *Store) Open(root common.Hash) (*Branch, error) {
	if !s.Retained(root) {
		return nil, types.ErrUnknownRoot(root)
	}
	return &Branch{
		store:   s,
		root:    root,
		writes:  make(map[string]write),
		touched: make(map[types.Address]struct{}),
	}, nil
}

// Retained reports whether root was produced by a commit against this
// store's database.
func (s *Store) Retained(root common.Hash) bool {
	s.mu.RLock()
	_, ok := s.roots[root]
	s.mu.RUnlock()
	if ok {
		return true
	}
	has, err := s.db.Has(append(rootMarkerPrefix, root[:]...))
	if err != nil || !has {
		return false
	}
	s.mu.Lock()
	s.roots[root] = struct{}{}
	s.mu.Unlock()
	return true
}

func (s *Store) retain(root common.Hash) error {
	if err := s.db.Put(append(rootMarkerPrefix, root[:]...), []byte{1}); err != nil {
		return &types.StoreError{Msg: err.Error()}
	}
	s.mu.Lock()
	s.roots[root] = struct{}{}
	s.mu.Unlock()
	return nil
}

func (s *Store) readNode(h common.Hash) ([]byte, error) {
	enc, err := s.db.Get(h[:])
	if err != nil {
		return nil, &types.StoreError{Msg: "missing trie node " + h.Hex()}
	}
	return enc, nil
}

// Close releases the backing database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record namespaces within a single trie. The path of a record is the
// Keccak hash of prefix, contract address and raw key, which spreads
// records uniformly and keeps the namespaces disjoint.
const (
	prefixStorage = 0x00
	prefixBalance = 0x01
	prefixCode    = 0x02
)

func recordKey(prefix byte, contract types.Address, key []byte) []byte {
	k := make([]byte, 0, 1+len(contract)+len(key))
	k = append(k, prefix)
	k = append(k, contract[:]...)
	return append(k, key...)
}

func recordPath(raw []byte) common.Hash {
	return crypto.Keccak256Hash(raw)
}
