package vm

import (
	"strings"

	"github.com/go-interpreter/wagon/disasm"
	"github.com/go-interpreter/wagon/wasm"
	ops "github.com/go-interpreter/wagon/wasm/operators"

	"github.com/wasmledger/wavm/params"
	"github.com/wasmledger/wavm/types"
)

// Instrumentation splits every function body into straight-line
// segments and prefixes each segment with a single use_gas call for the
// segment's total cost. A segment ends at any instruction that can
// redirect control or leave the function, so gas is always charged
// before the instructions it pays for can run.
var segmentBoundary = map[byte]bool{
	0x00: true, // unreachable
	0x02: true, // block
	0x03: true, // loop
	0x04: true, // if
	0x05: true, // else
	0x0b: true, // end
	0x0c: true, // br
	0x0d: true, // br_if
	0x0e: true, // br_table
	0x0f: true, // return
	0x10: true, // call
	0x11: true, // call_indirect
}

func meter(m *wasm.Module, gasIndex uint32, table *params.GasTable) error {
	if m.Code == nil {
		return nil
	}
	opI64Const, err := ops.New(0x42)
	if err != nil {
		return err
	}
	opCall, err := ops.New(0x10)
	if err != nil {
		return err
	}
	for i := range m.Code.Bodies {
		instrs, err := disasm.Disassemble(m.Code.Bodies[i].Code)
		if err != nil {
			return &types.ValidationError{Kind: types.ValidationMalformed, Msg: err.Error()}
		}
		out := make([]disasm.Instr, 0, len(instrs)*2)
		segment := make([]disasm.Instr, 0, 16)
		var cost uint64
		flush := func() {
			if cost > 0 {
				out = append(out,
					disasm.Instr{Op: opI64Const, Immediates: []interface{}{int64(cost)}},
					disasm.Instr{Op: opCall, Immediates: []interface{}{gasIndex}},
				)
			}
			out = append(out, segment...)
			segment = segment[:0]
			cost = 0
		}
		for _, instr := range instrs {
			if strings.Contains(instr.Op.Name, "f32") || strings.Contains(instr.Op.Name, "f64") {
				return &types.ValidationError{
					Kind: types.ValidationDisallowedInstruction,
					Msg:  "floating point instruction " + instr.Op.Name,
				}
			}
			segment = append(segment, instr)
			cost += table.WasmOpCost(instr.Op.Code)
			if segmentBoundary[instr.Op.Code] {
				flush()
			}
		}
		flush()
		code, err := disasm.Assemble(out)
		if err != nil {
			return &types.ValidationError{Kind: types.ValidationMalformed, Msg: err.Error()}
		}
		m.Code.Bodies[i].Code = code
	}
	return nil
}
