package types

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Address identifies a contract account. Contract addresses are derived
// from the metered bytecode, so the same code always lands at the same
// address.
type Address = common.Address

// Checksum is the content address of a piece of bytecode and the key
// under which compiled modules are cached.
type Checksum common.Hash

func ChecksumOf(code []byte) Checksum {
	return Checksum(crypto.Keccak256Hash(code))
}

func (c Checksum) Hash() common.Hash { return common.Hash(c) }

// AddressOfCode derives the contract address for a piece of metered
// bytecode from its checksum.
func AddressOfCode(code []byte) Address {
	return common.BytesToAddress(crypto.Keccak256(code)[12:])
}

// Event is emitted by a contract through the emit_event host function.
// Events are recorded on the receipt and are not part of the state root.
type Event struct {
	Emitter Address
	Topic   []byte
	Payload []byte
}

// Receipt is the result of a successful top-level invocation. Touched
// lists the contract accounts the call tree read or wrote, which lets a
// scheduler detect conflicts between invocations prepared in parallel.
type Receipt struct {
	ReturnData []byte
	GasUsed    uint64
	Root       common.Hash
	Events     []Event
	Touched    []Address
}

func Uint64ToBytes(n uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, n)
	return b
}

func BytesToUint64(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}
