package exec

import (
	"runtime"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"

	"github.com/wasmledger/wavm/params"
	"github.com/wasmledger/wavm/state"
	"github.com/wasmledger/wavm/types"
	"github.com/wasmledger/wavm/vm"
)

// Invocation is one top-level call queued into a batch.
type Invocation struct {
	Caller   types.Address
	Contract types.Address
	Entry    string
	Input    []byte
	Value    *uint256.Int
	GasLimit uint64
}

// Result pairs an invocation with its outcome. Index refers to the
// position in the submitted batch.
type Result struct {
	Index   int
	Receipt *types.Receipt
	Err     error
}

// markCache assigns each invocation a level so that two invocations
// naming the same account never share a level. Invocations within one
// level are independent by construction and safe to run concurrently.
type markCache struct {
	marks    map[types.Address]int
	maxLevel int
}

func newMarkCache() *markCache {
	return &markCache{marks: make(map[types.Address]int)}
}

func (m *markCache) place(inv *Invocation) int {
	level := 0
	for _, addr := range []types.Address{inv.Caller, inv.Contract} {
		if next, ok := m.marks[addr]; ok && next > level {
			level = next
		}
	}
	m.marks[inv.Caller] = level + 1
	m.marks[inv.Contract] = level + 1
	if level > m.maxLevel {
		m.maxLevel = level
	}
	return level
}

// schedule splits a batch into levels by declared accounts. A nested
// call can still reach an account the scheduler did not see; the
// speculative pass catches those through the receipts' touched sets.
func schedule(batch []Invocation) [][]int {
	cache := newMarkCache()
	levels := make([][]int, 0, 4)
	for i := range batch {
		level := cache.place(&batch[i])
		for len(levels) <= level {
			levels = append(levels, nil)
		}
		levels[level] = append(levels[level], i)
	}
	return levels
}

type task struct {
	index int
	inv   *Invocation
	root  common.Hash
}

// workerPool fans tasks out over per-worker engines. Engines are not
// safe for concurrent use, so each worker owns one.
type workerPool struct {
	wg      sync.WaitGroup
	tasks   chan *task
	results chan *Result
}

func runWorkers(store *state.Store, cfg *params.Config, block vm.BlockContext, routines, queue int) *workerPool {
	p := &workerPool{
		tasks:   make(chan *task, queue),
		results: make(chan *Result, queue),
	}
	for i := 0; i < routines; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			engine := vm.NewEngine(store, cfg, block)
			for t := range p.tasks {
				receipt, err := engine.Execute(vm.CallParams{
					Root:     t.root,
					Caller:   t.inv.Caller,
					Contract: t.inv.Contract,
					Entry:    t.inv.Entry,
					Input:    t.inv.Input,
					Value:    t.inv.Value,
					GasLimit: t.inv.GasLimit,
				})
				p.results <- &Result{Index: t.index, Receipt: receipt, Err: err}
			}
		}()
	}
	return p
}

func (p *workerPool) wait() {
	close(p.tasks)
	p.wg.Wait()
	close(p.results)
}

// Pool executes batches of invocations. Each level of a batch is first
// run speculatively in parallel from the level's base root, which warms
// caches and reports conflicts; the authoritative pass then applies the
// level sequentially so the batch yields a single root chain. Execution
// is deterministic, so a conflict-free speculative run and the
// authoritative run agree.
type Pool struct {
	store   *state.Store
	cfg     *params.Config
	block   vm.BlockContext
	engine  *vm.Engine
	workers int
	logger  log.Logger
}

func NewPool(store *state.Store, cfg *params.Config, block vm.BlockContext) *Pool {
	if cfg == nil {
		cfg = params.DefaultConfig()
	}
	return &Pool{
		store:   store,
		cfg:     cfg,
		block:   block,
		engine:  vm.NewEngine(store, cfg, block),
		workers: runtime.NumCPU(),
		logger:  log.New("module", "exec"),
	}
}

// Run executes the batch and returns per-invocation results in batch
// order, plus the final root. Failed invocations do not advance the
// root; later invocations in the batch still run.
func (p *Pool) Run(root common.Hash, batch []Invocation) ([]*Result, common.Hash, error) {
	results := make([]*Result, len(batch))
	levels := schedule(batch)
	current := root

	for _, level := range levels {
		speculative := p.runSpeculative(current, batch, level)
		conflicts := touchedOverlap(speculative, level)
		if conflicts > 0 {
			p.logger.Debug("speculative conflicts in level", "level", len(level), "conflicts", conflicts)
		}
		for _, idx := range level {
			inv := &batch[idx]
			receipt, err := p.engine.Execute(vm.CallParams{
				Root:     current,
				Caller:   inv.Caller,
				Contract: inv.Contract,
				Entry:    inv.Entry,
				Input:    inv.Input,
				Value:    inv.Value,
				GasLimit: inv.GasLimit,
			})
			results[idx] = &Result{Index: idx, Receipt: receipt, Err: err}
			if err == nil {
				current = receipt.Root
			}
		}
	}
	return results, current, nil
}

func (p *Pool) runSpeculative(root common.Hash, batch []Invocation, level []int) map[int]*Result {
	pool := runWorkers(p.store, p.cfg, p.block, p.workers, len(level))
	for _, idx := range level {
		pool.tasks <- &task{index: idx, inv: &batch[idx], root: root}
	}
	pool.wait()
	out := make(map[int]*Result, len(level))
	for res := range pool.results {
		out[res.Index] = res
	}
	return out
}

// touchedOverlap counts invocations whose touched account set collides
// with an earlier invocation in the same level. The scheduler only sees
// declared accounts, so collisions here come from nested calls.
func touchedOverlap(results map[int]*Result, level []int) int {
	seen := make(map[types.Address]int)
	conflicts := 0
	for _, idx := range level {
		res := results[idx]
		if res == nil || res.Receipt == nil {
			continue
		}
		collided := false
		for _, addr := range res.Receipt.Touched {
			if prev, ok := seen[addr]; ok && prev != idx {
				collided = true
			} else {
				seen[addr] = idx
			}
		}
		if collided {
			conflicts++
		}
	}
	return conflicts
}
