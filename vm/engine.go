package vm

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"

	"github.com/wasmledger/wavm/params"
	"github.com/wasmledger/wavm/state"
	"github.com/wasmledger/wavm/types"
)

// BlockContext is the block-level data exposed to contracts. Once an
// engine is constructed it must not be modified.
type BlockContext struct {
	Height uint64
	Time   uint64
}

// CallParams describes one top-level invocation against a committed
// state root.
type CallParams struct {
	Root     common.Hash
	Caller   types.Address
	Contract types.Address
	Entry    string
	Input    []byte
	Value    *uint256.Int
	GasLimit uint64
}

// Engine runs transactions against a state store. It is single
// threaded: one engine serves one call tree at a time. Run several
// engines over the same store for parallelism.
type Engine struct {
	store  *state.Store
	cfg    *params.Config
	block  BlockContext
	logger log.Logger
	in     *Interpreter
}

func NewEngine(store *state.Store, cfg *params.Config, block BlockContext) *Engine {
	if cfg == nil {
		cfg = params.DefaultConfig()
	}
	e := &Engine{
		store:  store,
		cfg:    cfg,
		block:  block,
		logger: log.New("module", "vm"),
	}
	e.in = newInterpreter(e)
	return e
}

func (e *Engine) Store() *state.Store { return e.store }

// Deploy validates and instruments raw bytecode, then records it in the
// state under its derived address. Deploying the same bytecode twice is
// a no-op that lands on the same address and root.
func (e *Engine) Deploy(root common.Hash, code []byte) (types.Address, common.Hash, error) {
	module, err := Compile(code, e.cfg)
	if err != nil {
		return types.Address{}, common.Hash{}, err
	}
	branch, err := e.store.Open(root)
	if err != nil {
		return types.Address{}, common.Hash{}, err
	}
	addr := module.Address()
	branch.SetCode(addr, module.Code)
	newRoot, err := branch.Commit()
	if err != nil {
		return types.Address{}, common.Hash{}, err
	}
	e.logger.Info("contract deployed", "address", addr, "codeSize", len(module.Code), "root", newRoot)
	return addr, newRoot, nil
}

// Execute runs a call tree to completion. On success the touched state
// is committed and the receipt carries the new root; on any failure the
// root passed in remains the latest committed state.
func (e *Engine) Execute(p CallParams) (*types.Receipt, error) {
	if p.Value == nil {
		p.Value = uint256.NewInt(0)
	}
	branch, err := e.store.Open(p.Root)
	if err != nil {
		return nil, &types.ExecutionFailure{Kind: types.FailureUnknownRoot, Msg: err.Error()}
	}
	code, err := branch.Code(p.Contract)
	if err != nil {
		return nil, &types.ExecutionFailure{Kind: types.FailureTrap, Msg: err.Error()}
	}
	if code == nil {
		return nil, &types.ExecutionFailure{
			Kind: types.FailureTrap,
			Msg:  "no contract at " + p.Contract.Hex(),
		}
	}
	if !p.Value.IsZero() {
		if err := transfer(branch, p.Caller, p.Contract, p.Value); err != nil {
			return nil, &types.ExecutionFailure{Kind: types.FailureTrap, Msg: err.Error()}
		}
	}

	frame := &Frame{
		contract: p.Contract,
		caller:   p.Caller,
		entry:    p.Entry,
		input:    p.Input,
		value:    p.Value,
		gas:      p.GasLimit,
		branch:   branch,
	}
	res := e.in.run(frame, code)

	switch res.termination {
	case TerminateFinish:
		newRoot, err := branch.Commit()
		if err != nil {
			return nil, &types.ExecutionFailure{
				Kind:    types.FailureTrap,
				Msg:     err.Error(),
				GasUsed: p.GasLimit - res.gasLeft,
			}
		}
		receipt := &types.Receipt{
			ReturnData: res.returnData,
			GasUsed:    p.GasLimit - res.gasLeft,
			Root:       newRoot,
			Events:     res.events,
			Touched:    branch.Touched(),
		}
		e.logger.Debug("execution finished",
			"contract", p.Contract, "entry", p.Entry, "gasUsed", receipt.GasUsed, "root", newRoot)
		return receipt, nil
	case TerminateRevert:
		// Leftover gas is refunded on revert, unlike a trap.
		return nil, &types.ExecutionFailure{
			Kind:    types.FailureTrap,
			Msg:     "execution reverted",
			GasUsed: p.GasLimit - res.gasLeft,
		}
	default:
		failure := &types.ExecutionFailure{
			Kind:    res.failure,
			Msg:     res.failMsg,
			GasUsed: p.GasLimit,
		}
		e.logger.Debug("execution failed",
			"contract", p.Contract, "entry", p.Entry, "kind", res.failure, "err", res.failMsg)
		return nil, failure
	}
}

func (e *Engine) Config() *params.Config { return e.cfg }

// Block returns the block context this engine exposes to contracts.
func (e *Engine) Block() BlockContext { return e.block }
