package vm

import (
	"fmt"
	"reflect"

	"github.com/go-interpreter/wagon/wasm"
)

// Contracts link against a single host module named "env". The function
// list below fixes the index space of the synthesized module; order is
// part of the interface and must not change.
const hostModuleName = "env"

var hostFunctionList = []string{
	"use_gas",
	"storage_get",
	"storage_put",
	"storage_delete",
	"ccall",
	"call_data_size",
	"call_data_copy",
	"return_data_size",
	"return_data_copy",
	"finish",
	"revert",
	"caller",
	"self_address",
	"call_value",
	"balance",
	"block_height",
	"emit_event",
	"verify",
	"debug",
}

const (
	sigGas = iota
	sigStorageGet
	sigFourPtr
	sigTwoPtr
	sigCall
	sigSize
	sigCopy
	sigOnePtr
	sigHeight
	sigVerify
)

var hostTypes = &wasm.SectionTypes{
	Entries: []wasm.FunctionSig{
		{Form: 0x60, ParamTypes: []wasm.ValueType{wasm.ValueTypeI64}},
		{Form: 0x60,
			ParamTypes:  []wasm.ValueType{wasm.ValueTypeI32, wasm.ValueTypeI32, wasm.ValueTypeI32, wasm.ValueTypeI32},
			ReturnTypes: []wasm.ValueType{wasm.ValueTypeI32}},
		{Form: 0x60,
			ParamTypes: []wasm.ValueType{wasm.ValueTypeI32, wasm.ValueTypeI32, wasm.ValueTypeI32, wasm.ValueTypeI32}},
		{Form: 0x60,
			ParamTypes: []wasm.ValueType{wasm.ValueTypeI32, wasm.ValueTypeI32}},
		{Form: 0x60,
			ParamTypes: []wasm.ValueType{wasm.ValueTypeI64, wasm.ValueTypeI32, wasm.ValueTypeI32,
				wasm.ValueTypeI32, wasm.ValueTypeI32, wasm.ValueTypeI32, wasm.ValueTypeI32},
			ReturnTypes: []wasm.ValueType{wasm.ValueTypeI32}},
		{Form: 0x60, ReturnTypes: []wasm.ValueType{wasm.ValueTypeI32}},
		{Form: 0x60,
			ParamTypes: []wasm.ValueType{wasm.ValueTypeI32, wasm.ValueTypeI32, wasm.ValueTypeI32}},
		{Form: 0x60, ParamTypes: []wasm.ValueType{wasm.ValueTypeI32}},
		{Form: 0x60, ReturnTypes: []wasm.ValueType{wasm.ValueTypeI64}},
		{Form: 0x60,
			ParamTypes: []wasm.ValueType{wasm.ValueTypeI32, wasm.ValueTypeI32, wasm.ValueTypeI32,
				wasm.ValueTypeI32, wasm.ValueTypeI32},
			ReturnTypes: []wasm.ValueType{wasm.ValueTypeI32}},
	},
}

var hostFunctionSig = map[string]uint32{
	"use_gas":          sigGas,
	"storage_get":      sigStorageGet,
	"storage_put":      sigFourPtr,
	"storage_delete":   sigTwoPtr,
	"ccall":            sigCall,
	"call_data_size":   sigSize,
	"call_data_copy":   sigCopy,
	"return_data_size": sigSize,
	"return_data_copy": sigCopy,
	"finish":           sigTwoPtr,
	"revert":           sigTwoPtr,
	"caller":           sigOnePtr,
	"self_address":     sigOnePtr,
	"call_value":       sigOnePtr,
	"balance":          sigTwoPtr,
	"block_height":     sigHeight,
	"emit_event":       sigFourPtr,
	"verify":           sigVerify,
	"debug":            sigTwoPtr,
}

func hostFuncs(in *Interpreter) []wasm.Function {
	impl := map[string]interface{}{
		"use_gas":          in.useGas,
		"storage_get":      in.storageGet,
		"storage_put":      in.storagePut,
		"storage_delete":   in.storageDelete,
		"ccall":            in.ccall,
		"call_data_size":   in.callDataSize,
		"call_data_copy":   in.callDataCopy,
		"return_data_size": in.returnDataSize,
		"return_data_copy": in.returnDataCopy,
		"finish":           in.finish,
		"revert":           in.revert,
		"caller":           in.getCaller,
		"self_address":     in.selfAddress,
		"call_value":       in.callValue,
		"balance":          in.getBalance,
		"block_height":     in.blockHeight,
		"emit_event":       in.emitEvent,
		"verify":           in.verifySignature,
		"debug":            in.debug,
	}
	funcs := make([]wasm.Function, len(hostFunctionList))
	for idx, name := range hostFunctionList {
		funcs[idx] = wasm.Function{
			Sig:  &hostTypes.Entries[hostFunctionSig[name]],
			Host: reflect.ValueOf(impl[name]),
			Body: &wasm.FunctionBody{},
			Name: name,
		}
	}
	return funcs
}

// ModuleResolver matches host functions to native go functions.
func ModuleResolver(in *Interpreter, name string) (*wasm.Module, error) {
	if name != hostModuleName {
		return nil, fmt.Errorf("unknown module name: %s", name)
	}
	m := wasm.NewModule()
	m.Types = hostTypes
	m.FunctionIndexSpace = hostFuncs(in)

	entries := make(map[string]wasm.ExportEntry)
	for idx, name := range hostFunctionList {
		entries[name] = wasm.ExportEntry{
			FieldStr: name,
			Kind:     wasm.ExternalFunction,
			Index:    uint32(idx),
		}
	}
	m.Export = &wasm.SectionExports{
		Entries: entries,
	}
	return m, nil
}

func WrappedModuleResolver(in *Interpreter) wasm.ResolveFunc {
	return func(name string) (*wasm.Module, error) {
		return ModuleResolver(in, name)
	}
}

func sigEqual(a, b *wasm.FunctionSig) bool {
	if len(a.ParamTypes) != len(b.ParamTypes) || len(a.ReturnTypes) != len(b.ReturnTypes) {
		return false
	}
	for i, t := range a.ParamTypes {
		if t != b.ParamTypes[i] {
			return false
		}
	}
	for i, t := range a.ReturnTypes {
		if t != b.ReturnTypes[i] {
			return false
		}
	}
	return true
}
