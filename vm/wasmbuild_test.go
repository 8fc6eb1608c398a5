package vm

// Hand-rolled wasm emitter for tests. Building the binaries directly
// keeps the fixtures self-contained and byte-deterministic, with no
// toolchain involved.

const (
	tI32 = 0x7f
	tI64 = 0x7e
)

func uleb(v uint64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		out = append(out, b)
		if v == 0 {
			return out
		}
	}
}

func sleb(v int64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

func cat(chunks ...[]byte) []byte {
	var out []byte
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}

func wname(s string) []byte {
	return append(uleb(uint64(len(s))), s...)
}

type funcSig struct {
	params  []byte
	results []byte
}

type hostImport struct {
	field string
	sig   funcSig
}

type wasmFunc struct {
	sig    funcSig
	locals []byte // one local per listed value type
	body   []byte // instructions without the trailing end
	export string
}

type dataSeg struct {
	offset uint32
	bytes  []byte
}

func encodeSig(s funcSig) []byte {
	out := []byte{0x60}
	out = append(out, uleb(uint64(len(s.params)))...)
	out = append(out, s.params...)
	out = append(out, uleb(uint64(len(s.results)))...)
	out = append(out, s.results...)
	return out
}

func section(id byte, content []byte) []byte {
	out := []byte{id}
	out = append(out, uleb(uint64(len(content)))...)
	return append(out, content...)
}

// buildModule assembles a module with one linear memory, the given host
// imports (all from "env", indexed in order before internal functions)
// and internal functions.
func buildModule(imports []hostImport, funcs []wasmFunc, data []dataSeg) []byte {
	mod := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

	// type section: one entry per import, then one per function
	typeContent := uleb(uint64(len(imports) + len(funcs)))
	for _, imp := range imports {
		typeContent = append(typeContent, encodeSig(imp.sig)...)
	}
	for _, fn := range funcs {
		typeContent = append(typeContent, encodeSig(fn.sig)...)
	}
	mod = append(mod, section(0x01, typeContent)...)

	if len(imports) > 0 {
		impContent := uleb(uint64(len(imports)))
		for i, imp := range imports {
			impContent = append(impContent, wname("env")...)
			impContent = append(impContent, wname(imp.field)...)
			impContent = append(impContent, 0x00)
			impContent = append(impContent, uleb(uint64(i))...)
		}
		mod = append(mod, section(0x02, impContent)...)
	}

	funcContent := uleb(uint64(len(funcs)))
	for i := range funcs {
		funcContent = append(funcContent, uleb(uint64(len(imports)+i))...)
	}
	mod = append(mod, section(0x03, funcContent)...)

	// one memory, 1 page min, 4 max
	mod = append(mod, section(0x05, []byte{0x01, 0x01, 0x01, 0x04})...)

	var exports int
	for _, fn := range funcs {
		if fn.export != "" {
			exports++
		}
	}
	expContent := uleb(uint64(exports))
	for i, fn := range funcs {
		if fn.export == "" {
			continue
		}
		expContent = append(expContent, wname(fn.export)...)
		expContent = append(expContent, 0x00)
		expContent = append(expContent, uleb(uint64(len(imports)+i))...)
	}
	mod = append(mod, section(0x07, expContent)...)

	codeContent := uleb(uint64(len(funcs)))
	for _, fn := range funcs {
		body := uleb(uint64(len(fn.locals)))
		for _, t := range fn.locals {
			body = append(body, 0x01, t)
		}
		body = append(body, fn.body...)
		body = append(body, 0x0b)
		codeContent = append(codeContent, uleb(uint64(len(body)))...)
		codeContent = append(codeContent, body...)
	}
	mod = append(mod, section(0x0a, codeContent)...)

	if len(data) > 0 {
		dataContent := uleb(uint64(len(data)))
		for _, seg := range data {
			dataContent = append(dataContent, 0x00)
			dataContent = append(dataContent, 0x41)
			dataContent = append(dataContent, sleb(int64(seg.offset))...)
			dataContent = append(dataContent, 0x0b)
			dataContent = append(dataContent, uleb(uint64(len(seg.bytes)))...)
			dataContent = append(dataContent, seg.bytes...)
		}
		mod = append(mod, section(0x0b, dataContent)...)
	}
	return mod
}

// instruction helpers

func i32c(v int32) []byte { return append([]byte{0x41}, sleb(int64(v))...) }
func i64c(v int64) []byte { return append([]byte{0x42}, sleb(v)...) }

func callOp(idx uint32) []byte { return append([]byte{0x10}, uleb(uint64(idx))...) }

func getLocal(idx uint32) []byte { return append([]byte{0x20}, uleb(uint64(idx))...) }
func setLocal(idx uint32) []byte { return append([]byte{0x21}, uleb(uint64(idx))...) }

// trapIfNonzero consumes the i32 on top of the stack and traps when it
// is not zero.
func trapIfNonzero() []byte {
	return []byte{0x04, 0x40, 0x00, 0x0b} // if (empty) unreachable end
}

// trapIfZero consumes the i32 on top of the stack and traps when it is
// zero.
func trapIfZero() []byte {
	return []byte{0x45, 0x04, 0x40, 0x00, 0x0b} // i32.eqz if unreachable end
}

// canned host import signatures, matching the "env" module

var (
	sigUseGas    = funcSig{params: []byte{tI64}}
	sigPut       = funcSig{params: []byte{tI32, tI32, tI32, tI32}}
	sigGet       = funcSig{params: []byte{tI32, tI32, tI32, tI32}, results: []byte{tI32}}
	sigPtrLen    = funcSig{params: []byte{tI32, tI32}}
	sigPtr       = funcSig{params: []byte{tI32}}
	sigCCall     = funcSig{params: []byte{tI64, tI32, tI32, tI32, tI32, tI32, tI32}, results: []byte{tI32}}
	sigRetI32    = funcSig{results: []byte{tI32}}
	sigCopy3     = funcSig{params: []byte{tI32, tI32, tI32}}
	sigVerify5   = funcSig{params: []byte{tI32, tI32, tI32, tI32, tI32}, results: []byte{tI32}}
	sigVoid      = funcSig{}
	gasImport    = hostImport{field: "use_gas", sig: sigUseGas}
	putImport    = hostImport{field: "storage_put", sig: sigPut}
	getImport    = hostImport{field: "storage_get", sig: sigGet}
	finishImport = hostImport{field: "finish", sig: sigPtrLen}
	revertImport = hostImport{field: "revert", sig: sigPtrLen}
)
