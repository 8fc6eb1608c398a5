package params

// Host call costs. The values follow the ewasm interface cost schedule;
// they are consensus policy and must not change between nodes.
const (
	GasCostBase        = 2
	GasCostVeryLow     = 3
	GasCostCopy        = 3
	GasCostBalance     = 400
	GasCostSLoad       = 200
	GasCostSSet        = 20000
	GasCostSReset      = 5000
	GasCostSDelete     = 5000
	GasCostCall        = 700
	GasCostCallValue   = 9000
	GasCostLog         = 375
	GasCostLogData     = 8
	GasCostLogTopic    = 375
	GasCostVerify      = 3000
	GasCostBlockData   = 2
	GasCostDebug       = 2
	GasCostGrowMemory  = 8192
	GasCostNewAccount  = 25000
)

// Wasm opcode classes used to build the instrumentation cost table.
const (
	wasmOpCostDefault = 1
	wasmOpCostMul     = 3
	wasmOpCostDiv     = 5
	wasmOpCostMemory  = 3
	wasmOpCostCall    = 90
)

// GasTable is the per-opcode schedule the instrumenter compiles into a
// module. Identical tables produce identical metered bytecode, which in
// turn produces identical gas consumption for identical traces.
type GasTable struct {
	wasm [256]uint64
}

// WasmOpCost returns the charge for a single wasm instruction.
func (t *GasTable) WasmOpCost(op byte) uint64 {
	return t.wasm[op]
}

// DefaultGasTable returns the schedule used by the reference ledger.
func DefaultGasTable() *GasTable {
	t := new(GasTable)
	// MVP opcode space: control 0x00-0x11, parametric/variable 0x1a-0x24,
	// memory 0x28-0x40, const 0x41-0x44, numeric 0x45-0xbf.
	for op := 0x00; op <= 0xbf; op++ {
		t.wasm[op] = wasmOpCostDefault
	}
	for op := 0x28; op <= 0x3e; op++ { // loads and stores
		t.wasm[op] = wasmOpCostMemory
	}
	t.wasm[0x3f] = GasCostBase        // current_memory
	t.wasm[0x40] = GasCostGrowMemory  // grow_memory
	t.wasm[0x10] = wasmOpCostCall     // call
	t.wasm[0x11] = wasmOpCostCall + 10 // call_indirect
	t.wasm[0x6c] = wasmOpCostMul      // i32.mul
	t.wasm[0x7e] = wasmOpCostMul      // i64.mul
	for _, op := range []byte{0x6d, 0x6e, 0x6f, 0x70} { // i32 div/rem
		t.wasm[op] = wasmOpCostDiv
	}
	for _, op := range []byte{0x7f, 0x80, 0x81, 0x82} { // i64 div/rem
		t.wasm[op] = wasmOpCostDiv
	}
	return t
}

// ToWordSize returns the ceiled word count of a byte length, used for
// size-proportional host call costs.
func ToWordSize(size uint64) uint64 {
	if size > (^uint64(0))-31 {
		return (^uint64(0))/32 + 1
	}
	return (size + 31) / 32
}
