package vm

import (
	"bytes"
	"fmt"

	"github.com/go-interpreter/wagon/validate"
	"github.com/go-interpreter/wagon/wasm"

	"github.com/wasmledger/wavm/params"
	"github.com/wasmledger/wavm/types"
)

// magic number for wasm is "\0asm"
var wasmIdent = []byte("\x00\x61\x73\x6d")

func IsWASM(code []byte) bool {
	return len(code) >= 4 && bytes.Equal(code[:4], wasmIdent)
}

// Compile validates raw bytecode and produces the instrumented module
// that gets deployed. The pipeline is deterministic: the same input and
// config always yield byte-identical output, which is what makes code
// content-addressable.
//
// Rejected modules never execute and never charge gas.
func Compile(code []byte, cfg *params.Config) (*Module, error) {
	if len(code) > cfg.MaxCodeSize {
		return nil, &types.ValidationError{
			Kind: types.ValidationTooLarge,
			Msg:  fmt.Sprintf("code size %d exceeds limit %d", len(code), cfg.MaxCodeSize),
		}
	}
	if !IsWASM(code) {
		return nil, &types.ValidationError{Kind: types.ValidationMalformed, Msg: "missing wasm preamble"}
	}
	m, err := wasm.DecodeModule(bytes.NewReader(code))
	if err != nil {
		return nil, &types.ValidationError{Kind: types.ValidationMalformed, Msg: err.Error()}
	}

	gasIndex, err := checkImports(m)
	if err != nil {
		return nil, err
	}
	if err := checkNoFloatTypes(m); err != nil {
		return nil, err
	}
	if m.Start != nil {
		return nil, &types.ValidationError{
			Kind: types.ValidationDisallowedInstruction,
			Msg:  "start section is not allowed",
		}
	}
	if err := clampMemory(m, cfg.MaxMemoryPages); err != nil {
		return nil, err
	}

	if err := meter(m, gasIndex, cfg.GasTable); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := wasm.EncodeModule(&buf, m); err != nil {
		return nil, &types.ValidationError{Kind: types.ValidationMalformed, Msg: err.Error()}
	}
	metered := buf.Bytes()

	// The instrumented module must still be well formed. Re-decoding and
	// verifying catches instrumentation bugs before anything reaches the
	// store.
	final, err := wasm.DecodeModule(bytes.NewReader(metered))
	if err != nil {
		return nil, &types.ValidationError{Kind: types.ValidationMalformed, Msg: err.Error()}
	}
	if err := validate.VerifyModule(final); err != nil {
		return nil, &types.ValidationError{Kind: types.ValidationMalformed, Msg: err.Error()}
	}

	return &Module{Code: metered, Checksum: types.ChecksumOf(metered)}, nil
}

// checkImports restricts imports to known host functions with matching
// signatures and returns the function index of use_gas, which the
// instrumenter targets. A module that never imports use_gas cannot be
// charged and is rejected.
func checkImports(m *wasm.Module) (uint32, error) {
	gasIndex := int64(-1)
	if m.Import == nil {
		return 0, &types.ValidationError{
			Kind: types.ValidationDisallowedImport,
			Msg:  "module does not import use_gas",
		}
	}
	funcIndex := uint32(0)
	for _, entry := range m.Import.Entries {
		if entry.ModuleName != hostModuleName {
			return 0, &types.ValidationError{
				Kind: types.ValidationDisallowedImport,
				Msg:  fmt.Sprintf("import from unknown module %q", entry.ModuleName),
			}
		}
		imp, ok := entry.Type.(wasm.FuncImport)
		if !ok {
			return 0, &types.ValidationError{
				Kind: types.ValidationDisallowedImport,
				Msg:  fmt.Sprintf("non-function import %q", entry.FieldName),
			}
		}
		sigIndex, ok := hostFunctionSig[entry.FieldName]
		if !ok {
			return 0, &types.ValidationError{
				Kind: types.ValidationDisallowedImport,
				Msg:  fmt.Sprintf("unknown host function %q", entry.FieldName),
			}
		}
		if m.Types == nil || int(imp.Type) >= len(m.Types.Entries) {
			return 0, &types.ValidationError{Kind: types.ValidationMalformed, Msg: "import type out of range"}
		}
		if !sigEqual(&m.Types.Entries[imp.Type], &hostTypes.Entries[sigIndex]) {
			return 0, &types.ValidationError{
				Kind: types.ValidationDisallowedImport,
				Msg:  fmt.Sprintf("signature mismatch for host function %q", entry.FieldName),
			}
		}
		if entry.FieldName == "use_gas" {
			gasIndex = int64(funcIndex)
		}
		funcIndex++
	}
	if gasIndex < 0 {
		return 0, &types.ValidationError{
			Kind: types.ValidationDisallowedImport,
			Msg:  "module does not import use_gas",
		}
	}
	return uint32(gasIndex), nil
}

// checkNoFloatTypes rejects floating point value types in signatures,
// locals and globals. Float instructions are caught separately by the
// instrumenter.
func checkNoFloatTypes(m *wasm.Module) error {
	reject := func(where string) error {
		return &types.ValidationError{
			Kind: types.ValidationDisallowedInstruction,
			Msg:  "floating point type in " + where,
		}
	}
	isFloat := func(t wasm.ValueType) bool {
		return t == wasm.ValueTypeF32 || t == wasm.ValueTypeF64
	}
	if m.Types != nil {
		for _, sig := range m.Types.Entries {
			for _, t := range sig.ParamTypes {
				if isFloat(t) {
					return reject("function signature")
				}
			}
			for _, t := range sig.ReturnTypes {
				if isFloat(t) {
					return reject("function signature")
				}
			}
		}
	}
	if m.Global != nil {
		for _, g := range m.Global.Globals {
			if isFloat(g.Type.Type) {
				return reject("global")
			}
		}
	}
	if m.Code != nil {
		for _, body := range m.Code.Bodies {
			for _, local := range body.Locals {
				if isFloat(local.Type) {
					return reject("local")
				}
			}
		}
	}
	return nil
}

// clampMemory bounds the linear memory a contract may claim. Declared
// maxima above the cap, or absent maxima, are rewritten to the cap so
// the executed module cannot grow past it.
func clampMemory(m *wasm.Module, maxPages uint32) error {
	if m.Memory == nil {
		return nil
	}
	for i := range m.Memory.Entries {
		limits := &m.Memory.Entries[i].Limits
		if limits.Initial > maxPages {
			return &types.ValidationError{
				Kind: types.ValidationTooLarge,
				Msg:  fmt.Sprintf("initial memory %d pages exceeds limit %d", limits.Initial, maxPages),
			}
		}
		if limits.Flags&0x1 == 0 || limits.Maximum > maxPages {
			limits.Flags |= 0x1
			limits.Maximum = maxPages
		}
	}
	return nil
}
