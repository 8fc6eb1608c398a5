package vm

import (
	"github.com/wasmledger/wavm/types"
)

// Module is bytecode that passed validation and carries gas
// instrumentation. Only module code is ever deployed or executed; raw
// bytecode does not enter the state store.
type Module struct {
	Code     []byte
	Checksum types.Checksum
}

// Address is the deployment address, derived from the instrumented
// code. Identical source bytecode always lands at the same address.
func (m *Module) Address() types.Address {
	return types.AddressOfCode(m.Code)
}
