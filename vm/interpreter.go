package vm

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-interpreter/wagon/exec"
	"github.com/go-interpreter/wagon/wasm"
	"github.com/holiman/uint256"

	"github.com/wasmledger/wavm/state"
	"github.com/wasmledger/wavm/types"
)

type terminationType int

const (
	TerminateFinish terminationType = iota
	TerminateRevert
	TerminateInvalid
)

// Frame is one activation of a contract. Every nested call gets its own
// frame and its own state branch; the interpreter swaps frames in and
// out around the wagon VM the same way it swaps the VM itself.
type Frame struct {
	contract types.Address
	caller   types.Address
	entry    string
	input    []byte
	value    *uint256.Int
	gas      uint64
	branch   *state.Branch
	events   []types.Event

	returnData     []byte
	lastCallReturn []byte

	terminationType terminationType
	failure         types.FailureKind
	failMsg         string
}

type callResult struct {
	termination terminationType
	returnData  []byte
	gasLeft     uint64
	events      []types.Event
	failure     types.FailureKind
	failMsg     string
}

// Interpreter drives wagon over instrumented modules. A single
// interpreter serves a whole call tree: nested calls save and restore
// the current frame and VM around the child run.
type Interpreter struct {
	engine *Engine
	frame  *Frame
	vm     *exec.VM
	depth  int

	modules map[common.Hash]*wasm.Module
}

func newInterpreter(engine *Engine) *Interpreter {
	return &Interpreter{
		engine:  engine,
		modules: make(map[common.Hash]*wasm.Module),
	}
}

// readModule decodes and links an instrumented module against the host
// module. Decoded modules are cached by checksum; instantiation state
// lives in the VM, not the module, so reuse across runs is safe.
func (in *Interpreter) readModule(code []byte) (*wasm.Module, error) {
	sum := types.ChecksumOf(code).Hash()
	if m, ok := in.modules[sum]; ok {
		return m, nil
	}
	m, err := wasm.ReadModule(bytes.NewReader(code), WrappedModuleResolver(in))
	if err != nil {
		return nil, err
	}
	in.modules[sum] = m
	return m, nil
}

// run executes one frame to completion and classifies the outcome. The
// caller owns the frame's branch: run never commits or rolls back.
func (in *Interpreter) run(frame *Frame, code []byte) *callResult {
	savedFrame, savedVM := in.frame, in.vm
	defer func() {
		in.frame, in.vm = savedFrame, savedVM
	}()
	in.frame = frame

	trap := func(kind types.FailureKind, msg string) *callResult {
		return &callResult{
			termination: TerminateInvalid,
			gasLeft:     frame.gas,
			failure:     kind,
			failMsg:     msg,
		}
	}

	module, err := in.readModule(code)
	if err != nil {
		return trap(types.FailureTrap, err.Error())
	}
	if module.Export == nil {
		return trap(types.FailureTrap, "module exports nothing")
	}
	export, ok := module.Export.Entries[frame.entry]
	if !ok || export.Kind != wasm.ExternalFunction {
		return trap(types.FailureTrap, fmt.Sprintf("no entry point %q", frame.entry))
	}
	entryIndex := int64(export.Index)
	sig := module.FunctionIndexSpace[entryIndex].Sig
	if len(sig.ParamTypes) != 0 || len(sig.ReturnTypes) != 0 {
		return trap(types.FailureTrap, fmt.Sprintf("entry point %q has a non-empty signature", frame.entry))
	}

	vm, err := exec.NewVM(module)
	if err != nil {
		return trap(types.FailureTrap, err.Error())
	}
	vm.RecoverPanic = true
	in.vm = vm

	_, err = vm.ExecCode(entryIndex)

	res := &callResult{
		termination: frame.terminationType,
		returnData:  frame.returnData,
		gasLeft:     frame.gas,
		events:      frame.events,
		failure:     frame.failure,
		failMsg:     frame.failMsg,
	}
	if err != nil && frame.terminationType == TerminateFinish {
		// The wagon VM trapped on its own, without a host function
		// terminating it first.
		res.termination = TerminateInvalid
		res.failure = classifyTrap(err)
		res.failMsg = err.Error()
	}
	if res.termination == TerminateInvalid && res.failMsg == "" {
		res.failMsg = "execution aborted"
	}
	return res
}

func classifyTrap(err error) types.FailureKind {
	msg := err.Error()
	if strings.Contains(msg, "out of bounds") || strings.Contains(msg, "out of range") {
		return types.FailureMemoryFault
	}
	return types.FailureTrap
}

// callContract runs a nested call from an executing contract. The
// status code is what the calling contract observes: 0 success,
// 1 failure, 2 revert. Failures are frame local, the caller keeps
// running and decides what to do with the status.
func (in *Interpreter) callContract(target types.Address, entry string, input []byte, value *uint256.Int, gasLimit uint64) int32 {
	parent := in.frame
	parent.lastCallReturn = nil

	if in.depth >= in.engine.cfg.MaxCallDepth {
		in.engine.logger.Debug("call depth limit reached",
			"contract", target, "entry", entry, "kind", types.FailureStackOverflow)
		return callStatusFailed
	}

	// The callee may spend at most 63/64 of what the caller has left;
	// the withheld slice guarantees the caller can still finish.
	available := parent.gas
	maxForward := available - available/64
	if gasLimit > maxForward {
		gasLimit = maxForward
	}
	parent.gas -= gasLimit

	child := parent.branch.Child()
	code, err := child.Code(target)
	if err != nil || code == nil {
		parent.gas += gasLimit
		return callStatusFailed
	}
	if !value.IsZero() {
		if err := transfer(child, parent.contract, target, value); err != nil {
			parent.gas += gasLimit
			return callStatusFailed
		}
	}

	frame := &Frame{
		contract: target,
		caller:   parent.contract,
		entry:    entry,
		input:    input,
		value:    value,
		gas:      gasLimit,
		branch:   child,
	}

	in.depth++
	res := in.run(frame, code)
	in.depth--

	switch res.termination {
	case TerminateFinish:
		if _, err := child.Commit(); err != nil {
			parent.gas += res.gasLeft
			return callStatusFailed
		}
		parent.events = append(parent.events, res.events...)
		parent.gas += res.gasLeft
		parent.lastCallReturn = res.returnData
		return callStatusOK
	case TerminateRevert:
		child.Rollback()
		parent.gas += res.gasLeft
		parent.lastCallReturn = res.returnData
		return callStatusReverted
	default:
		// Trap, out of gas, fault: the child's remaining gas is burned.
		child.Rollback()
		in.engine.logger.Debug("nested call failed",
			"contract", target, "entry", entry, "kind", res.failure, "err", res.failMsg)
		return callStatusFailed
	}
}

const (
	callStatusOK       int32 = 0
	callStatusFailed   int32 = 1
	callStatusReverted int32 = 2
)

// transfer moves value between account balances inside the given
// branch. It fails without side effects when the sender cannot cover
// the amount.
func transfer(branch *state.Branch, from, to types.Address, amount *uint256.Int) error {
	fromBal, err := branch.Balance(from)
	if err != nil {
		return err
	}
	if fromBal.Lt(amount) {
		return fmt.Errorf("insufficient balance: have %s, need %s", fromBal, amount)
	}
	toBal, err := branch.Balance(to)
	if err != nil {
		return err
	}
	branch.SetBalance(from, new(uint256.Int).Sub(fromBal, amount))
	branch.SetBalance(to, new(uint256.Int).Add(toBal, amount))
	return nil
}
