package vm

import (
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/go-interpreter/wagon/exec"
	"github.com/holiman/uint256"
	"golang.org/x/crypto/ed25519"

	"github.com/wasmledger/wavm/params"
	"github.com/wasmledger/wavm/types"
)

// gasAccounting subtracts cost from the running frame and terminates
// the VM when the budget is exhausted. Host functions charge before
// they act, so an interrupted call never has side effects that were
// not paid for.
func (in *Interpreter) gasAccounting(p *exec.Process, cost uint64) bool {
	if in.frame.gas < cost {
		in.frame.gas = 0
		in.frame.terminationType = TerminateInvalid
		in.frame.failure = types.FailureOutOfGas
		in.frame.failMsg = "out of gas"
		p.Terminate()
		return false
	}
	in.frame.gas -= cost
	return true
}

// memFault terminates the frame on an out of bounds pointer from the
// contract. Faults burn the frame's remaining gas like any other trap.
func (in *Interpreter) memFault(p *exec.Process) {
	in.frame.terminationType = TerminateInvalid
	in.frame.failure = types.FailureMemoryFault
	in.frame.failMsg = "memory access out of bounds"
	p.Terminate()
}

func (in *Interpreter) inBounds(offset, size int32) bool {
	if offset < 0 || size < 0 {
		return false
	}
	return int64(offset)+int64(size) <= int64(len(in.vm.Memory()))
}

func (in *Interpreter) readSize(p *exec.Process, offset, size int32) []byte {
	buf := make([]byte, size)
	p.ReadAt(buf, int64(offset))
	return buf
}

func (in *Interpreter) useGas(p *exec.Process, amount int64) {
	in.gasAccounting(p, uint64(amount))
}

func (in *Interpreter) storageGet(p *exec.Process, keyPtr, keyLen, valPtr, valCap int32) int32 {
	if !in.gasAccounting(p, params.GasCostSLoad) {
		return -1
	}
	if !in.inBounds(keyPtr, keyLen) || !in.inBounds(valPtr, valCap) {
		in.memFault(p)
		return -1
	}
	key := in.readSize(p, keyPtr, keyLen)
	value, err := in.frame.branch.Get(in.frame.contract, key)
	if err != nil {
		in.storeFault(p, err)
		return -1
	}
	if value == nil {
		return -1
	}
	n := len(value)
	if int32(n) > valCap {
		n = int(valCap)
	}
	if !in.gasAccounting(p, params.GasCostCopy*params.ToWordSize(uint64(n))) {
		return -1
	}
	p.WriteAt(value[:n], int64(valPtr))
	return int32(len(value))
}

func (in *Interpreter) storagePut(p *exec.Process, keyPtr, keyLen, valPtr, valLen int32) {
	if !in.inBounds(keyPtr, keyLen) || !in.inBounds(valPtr, valLen) {
		in.memFault(p)
		return
	}
	key := in.readSize(p, keyPtr, keyLen)
	prev, err := in.frame.branch.Get(in.frame.contract, key)
	if err != nil {
		in.storeFault(p, err)
		return
	}
	cost := uint64(params.GasCostSReset)
	if prev == nil {
		cost = params.GasCostSSet
	}
	cost += params.GasCostCopy * params.ToWordSize(uint64(valLen))
	if !in.gasAccounting(p, cost) {
		return
	}
	in.frame.branch.Put(in.frame.contract, key, in.readSize(p, valPtr, valLen))
}

func (in *Interpreter) storageDelete(p *exec.Process, keyPtr, keyLen int32) {
	if !in.gasAccounting(p, params.GasCostSDelete) {
		return
	}
	if !in.inBounds(keyPtr, keyLen) {
		in.memFault(p)
		return
	}
	in.frame.branch.Delete(in.frame.contract, in.readSize(p, keyPtr, keyLen))
}

func (in *Interpreter) ccall(p *exec.Process, gas int64, addrPtr, entryPtr, entryLen, argPtr, argLen, valuePtr int32) int32 {
	cost := uint64(params.GasCostCall)
	if !in.inBounds(addrPtr, 20) || !in.inBounds(entryPtr, entryLen) ||
		!in.inBounds(argPtr, argLen) || !in.inBounds(valuePtr, 16) {
		in.memFault(p)
		return callStatusFailed
	}
	value := readValue(in.readSize(p, valuePtr, 16))
	if !value.IsZero() {
		cost += params.GasCostCallValue
	}
	if !in.gasAccounting(p, cost) {
		return callStatusFailed
	}
	var target types.Address
	copy(target[:], in.readSize(p, addrPtr, 20))
	entry := string(in.readSize(p, entryPtr, entryLen))
	input := in.readSize(p, argPtr, argLen)

	requested := in.frame.gas
	if gas >= 0 && uint64(gas) < requested {
		requested = uint64(gas)
	}
	return in.callContract(target, entry, input, value, requested)
}

func (in *Interpreter) callDataSize(p *exec.Process) int32 {
	in.gasAccounting(p, params.GasCostBase)
	return int32(len(in.frame.input))
}

func (in *Interpreter) callDataCopy(p *exec.Process, resultPtr, dataPtr, length int32) {
	if !in.gasAccounting(p, params.GasCostVeryLow+params.GasCostCopy*params.ToWordSize(uint64(length))) {
		return
	}
	if !in.inBounds(resultPtr, length) || dataPtr < 0 || length < 0 ||
		int(dataPtr)+int(length) > len(in.frame.input) {
		in.memFault(p)
		return
	}
	p.WriteAt(in.frame.input[dataPtr:dataPtr+length], int64(resultPtr))
}

func (in *Interpreter) returnDataSize(p *exec.Process) int32 {
	in.gasAccounting(p, params.GasCostBase)
	return int32(len(in.frame.lastCallReturn))
}

func (in *Interpreter) returnDataCopy(p *exec.Process, resultPtr, dataPtr, length int32) {
	if !in.gasAccounting(p, params.GasCostVeryLow+params.GasCostCopy*params.ToWordSize(uint64(length))) {
		return
	}
	if !in.inBounds(resultPtr, length) || dataPtr < 0 || length < 0 ||
		int(dataPtr)+int(length) > len(in.frame.lastCallReturn) {
		in.memFault(p)
		return
	}
	p.WriteAt(in.frame.lastCallReturn[dataPtr:dataPtr+length], int64(resultPtr))
}

func (in *Interpreter) finish(p *exec.Process, dataPtr, dataLen int32) {
	if !in.inBounds(dataPtr, dataLen) {
		in.memFault(p)
		return
	}
	in.frame.returnData = in.readSize(p, dataPtr, dataLen)
	in.frame.terminationType = TerminateFinish
	p.Terminate()
}

func (in *Interpreter) revert(p *exec.Process, dataPtr, dataLen int32) {
	if !in.inBounds(dataPtr, dataLen) {
		in.memFault(p)
		return
	}
	in.frame.returnData = in.readSize(p, dataPtr, dataLen)
	in.frame.terminationType = TerminateRevert
	p.Terminate()
}

func (in *Interpreter) getCaller(p *exec.Process, resultPtr int32) {
	if !in.gasAccounting(p, params.GasCostBase) {
		return
	}
	if !in.inBounds(resultPtr, 20) {
		in.memFault(p)
		return
	}
	caller := in.frame.caller
	p.WriteAt(caller[:], int64(resultPtr))
}

func (in *Interpreter) selfAddress(p *exec.Process, resultPtr int32) {
	if !in.gasAccounting(p, params.GasCostBase) {
		return
	}
	if !in.inBounds(resultPtr, 20) {
		in.memFault(p)
		return
	}
	contract := in.frame.contract
	p.WriteAt(contract[:], int64(resultPtr))
}

func (in *Interpreter) callValue(p *exec.Process, resultPtr int32) {
	if !in.gasAccounting(p, params.GasCostBase) {
		return
	}
	if !in.inBounds(resultPtr, 16) {
		in.memFault(p)
		return
	}
	p.WriteAt(writeValue(in.frame.value), int64(resultPtr))
}

func (in *Interpreter) getBalance(p *exec.Process, addrPtr, resultPtr int32) {
	if !in.gasAccounting(p, params.GasCostBalance) {
		return
	}
	if !in.inBounds(addrPtr, 20) || !in.inBounds(resultPtr, 16) {
		in.memFault(p)
		return
	}
	var addr types.Address
	copy(addr[:], in.readSize(p, addrPtr, 20))
	balance, err := in.frame.branch.Balance(addr)
	if err != nil {
		in.storeFault(p, err)
		return
	}
	p.WriteAt(writeValue(balance), int64(resultPtr))
}

func (in *Interpreter) blockHeight(p *exec.Process) int64 {
	in.gasAccounting(p, params.GasCostBlockData)
	return int64(in.engine.block.Height)
}

func (in *Interpreter) emitEvent(p *exec.Process, topicPtr, topicLen, dataPtr, dataLen int32) {
	cost := uint64(params.GasCostLog) + params.GasCostLogTopic +
		params.GasCostLogData*uint64(dataLen)
	if !in.gasAccounting(p, cost) {
		return
	}
	if !in.inBounds(topicPtr, topicLen) || !in.inBounds(dataPtr, dataLen) {
		in.memFault(p)
		return
	}
	in.frame.events = append(in.frame.events, types.Event{
		Emitter: in.frame.contract,
		Topic:   in.readSize(p, topicPtr, topicLen),
		Payload: in.readSize(p, dataPtr, dataLen),
	})
}

// Signature schemes accepted by verify.
const (
	schemeEd25519   int32 = 0
	schemeSecp256k1 int32 = 1
)

func (in *Interpreter) verifySignature(p *exec.Process, scheme, msgPtr, msgLen, sigPtr, keyPtr int32) int32 {
	if !in.gasAccounting(p, params.GasCostVerify) {
		return 0
	}
	switch scheme {
	case schemeEd25519:
		if !in.inBounds(msgPtr, msgLen) || !in.inBounds(sigPtr, 64) || !in.inBounds(keyPtr, 32) {
			in.memFault(p)
			return 0
		}
		msg := in.readSize(p, msgPtr, msgLen)
		sig := in.readSize(p, sigPtr, 64)
		key := in.readSize(p, keyPtr, 32)
		if ed25519.Verify(key, msg, sig) {
			return 1
		}
		return 0
	case schemeSecp256k1:
		// The message must be a 32 byte digest; r||s signature over it.
		if msgLen != 32 {
			return 0
		}
		if !in.inBounds(msgPtr, 32) || !in.inBounds(sigPtr, 64) || !in.inBounds(keyPtr, 33) {
			in.memFault(p)
			return 0
		}
		digest := in.readSize(p, msgPtr, 32)
		sig := in.readSize(p, sigPtr, 64)
		key := in.readSize(p, keyPtr, 33)
		if crypto.VerifySignature(key, digest, sig) {
			return 1
		}
		return 0
	}
	return 0
}

func (in *Interpreter) debug(p *exec.Process, dataPtr, dataLen int32) {
	if !in.gasAccounting(p, params.GasCostDebug) {
		return
	}
	if !in.inBounds(dataPtr, dataLen) {
		in.memFault(p)
		return
	}
	in.engine.logger.Debug("contract debug",
		"contract", in.frame.contract, "msg", string(in.readSize(p, dataPtr, dataLen)))
}

// storeFault aborts the frame on a persistence error. This is not the
// contract's fault, but the frame cannot continue against a broken
// store.
func (in *Interpreter) storeFault(p *exec.Process, err error) {
	in.frame.terminationType = TerminateInvalid
	in.frame.failure = types.FailureTrap
	in.frame.failMsg = err.Error()
	p.Terminate()
}

// Call values travel through contract memory as 16 byte little-endian
// integers; balances that do not fit saturate to 2^128-1 on the guest
// side.
func readValue(buf []byte) *uint256.Int {
	be := make([]byte, 16)
	for i := 0; i < 16; i++ {
		be[i] = buf[15-i]
	}
	return new(uint256.Int).SetBytes(be)
}

func writeValue(v *uint256.Int) []byte {
	out := make([]byte, 16)
	if v.BitLen() > 128 {
		for i := range out {
			out[i] = 0xff
		}
		return out
	}
	be := v.Bytes32()
	for i := 0; i < 16; i++ {
		out[i] = be[31-i]
	}
	return out
}
