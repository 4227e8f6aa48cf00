package work

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/axledger/axledger/blockchain"
	"github.com/axledger/axledger/blockchain/state"
	"github.com/axledger/axledger/blockchain/txpool"
	"github.com/axledger/axledger/blockchain/types"
	"github.com/axledger/axledger/consensus"
	"github.com/axledger/axledger/event"
	"github.com/axledger/axledger/log"
	"github.com/axledger/axledger/metrics"
	"github.com/axledger/axledger/params"
)

var logger = log.NewModuleLogger(log.ModuleMiner)

const (
	resultQueueSize = 10

	// chainHeadChanSize is the size of channel listening to ChainHeadEvent.
	chainHeadChanSize = 10
)

var (
	minedBlockCounter   = metrics.NewRegisteredCounter("miner/mined", nil)
	sealAbortedCounter  = metrics.NewRegisteredCounter("miner/aborted", nil)
	commitFailedCounter = metrics.NewRegisteredCounter("miner/commitfailed", nil)
	candidateTxsGauge   = metrics.NewRegisteredGauge("miner/candidatetxs", nil)
)

// Backend provides the chain and the transaction pool the miner pulls
// its candidate material from.
type Backend interface {
	BlockChain() *blockchain.BlockChain
	TxPool() *txpool.TxPool
}

// Agent can register themself with the worker
type Agent interface {
	Work() chan<- *Task
	SetReturnCh(chan<- *Result)
	Stop()
	Start()
}

// Task is the workers current environment and holds all of the current
// candidate block information.
type Task struct {
	state  *state.StateView // post-execution state of the candidate body
	header *types.Header
	txs    types.Transactions

	Block *types.Block // the assembled, not-yet-sealed block

	createdAt time.Time
}

func (env *Task) Transactions() types.Transactions { return env.txs }

type Result struct {
	Task  *Task
	Block *types.Block
}

// Status is the miner's externally visible state.
type Status struct {
	Mining     bool
	IntervalMs uint64
}

// Worker is the main object which assembles candidate blocks, hands
// them to its agents for sealing, and commits sealed blocks to the
// chain. One candidate is in flight at a time; a tip change replaces it
// and the agent aborts the stale seal.
type Worker struct {
	engine consensus.Engine

	mu sync.Mutex

	chainHeadCh  chan blockchain.ChainHeadEvent
	chainHeadSub event.Subscription

	agents map[Agent]struct{}
	recv   chan *Result

	backend Backend
	chain   *blockchain.BlockChain

	currentMu sync.Mutex
	current   *Task

	minedBlockFeed event.Feed

	// atomic status
	mining     int32
	intervalMs uint64

	quit chan struct{}
}

func New(backend Backend, engine consensus.Engine) *Worker {
	worker := &Worker{
		engine:  engine,
		backend: backend,
		chain:   backend.BlockChain(),
		recv:    make(chan *Result, resultQueueSize),
		agents:  make(map[Agent]struct{}),
	}
	worker.Register(NewCpuAgent(engine))
	return worker
}

// Register adds an agent to the worker's sealing pool.
func (self *Worker) Register(agent Agent) {
	self.mu.Lock()
	defer self.mu.Unlock()
	self.agents[agent] = struct{}{}
	agent.SetReturnCh(self.recv)
}

// Start begins mining. intervalMs > 0 inserts a pause of that length
// between a sealed block and the next candidate assembly; 0 means
// continuous.
func (self *Worker) Start(intervalMs uint64) {
	self.mu.Lock()
	defer self.mu.Unlock()

	if !atomic.CompareAndSwapInt32(&self.mining, 0, 1) {
		atomic.StoreUint64(&self.intervalMs, intervalMs)
		return
	}
	atomic.StoreUint64(&self.intervalMs, intervalMs)

	self.quit = make(chan struct{})
	self.chainHeadCh = make(chan blockchain.ChainHeadEvent, chainHeadChanSize)
	self.chainHeadSub = self.chain.SubscribeChainHeadEvent(self.chainHeadCh)

	for agent := range self.agents {
		agent.Start()
	}
	go self.update()
	go self.wait()
	self.commitNewWork()
}

// Stop halts mining cooperatively: agents observe the abort within one
// nonce batch and discard partial work.
func (self *Worker) Stop() {
	self.mu.Lock()
	defer self.mu.Unlock()

	if !atomic.CompareAndSwapInt32(&self.mining, 1, 0) {
		return
	}
	for agent := range self.agents {
		agent.Stop()
	}
	self.chainHeadSub.Unsubscribe()
	close(self.quit)
}

// Status reports whether the worker is mining and its configured
// assembly interval.
func (self *Worker) Status() Status {
	return Status{
		Mining:     atomic.LoadInt32(&self.mining) == 1,
		IntervalMs: atomic.LoadUint64(&self.intervalMs),
	}
}

// SubscribeNewMinedBlockEvent registers ch to receive every block this
// worker seals and the chain accepts, the signal the gossip layer
// announces on.
func (self *Worker) SubscribeNewMinedBlockEvent(ch chan<- blockchain.NewMinedBlockEvent) event.Subscription {
	return self.minedBlockFeed.Subscribe(ch)
}

// update re-assembles the candidate whenever the chain tip moves, so no
// agent mines atop a stale parent for longer than one nonce batch.
func (self *Worker) update() {
	for {
		select {
		case <-self.chainHeadCh:
			if interval := atomic.LoadUint64(&self.intervalMs); interval > 0 {
				select {
				case <-time.After(time.Duration(interval) * time.Millisecond):
				case <-self.quit:
					return
				}
			}
			// Coalesce a burst of head events into one re-assembly.
		drain:
			for {
				select {
				case <-self.chainHeadCh:
				default:
					break drain
				}
			}
			self.commitNewWork()

		case <-self.chainHeadSub.Err():
			return
		case <-self.quit:
			return
		}
	}
}

// wait commits sealed blocks. The resulting ChainHeadEvent re-enters
// update() and schedules the next candidate, after the configured
// interval.
func (self *Worker) wait() {
	for {
		select {
		case result := <-self.recv:
			if result == nil {
				sealAbortedCounter.Inc(1)
				continue
			}
			block := result.Block
			res, err := self.chain.InsertBlock(block)
			if err != nil || res != blockchain.Accepted {
				// The tip usually moved under us between the seal and
				// the insert; the head event already replaced the task.
				logger.Debug("Sealed block not accepted", "hash", block.Hash(), "result", res, "err", err)
				commitFailedCounter.Inc(1)
				continue
			}
			minedBlockCounter.Inc(1)
			logger.Info("Successfully sealed new block", "hash", block.Hash(), "txs", block.NumTx())
			self.minedBlockFeed.Send(blockchain.NewMinedBlockEvent{Block: block})

		case <-self.quit:
			return
		}
	}
}

// push sends a new work task to currently live work agents.
func (self *Worker) push(work *Task) {
	if atomic.LoadInt32(&self.mining) != 1 {
		return
	}
	for agent := range self.agents {
		if ch := agent.Work(); ch != nil {
			ch <- work
		}
	}
}

// commitNewWork assembles a candidate block on the current tip:
// snapshot (tip, post-state), drain the mempool, execute the selection
// into a scratch state to compute the roots, and hand the unsealed
// block to the agents.
func (self *Worker) commitNewWork() {
	self.currentMu.Lock()
	defer self.currentMu.Unlock()

	tstart := time.Now()
	parent, err := self.chain.TipBlock()
	if err != nil {
		logger.Error("Failed to read chain tip", "err", err)
		return
	}
	parentHeader := parent.Header()

	sv, err := self.chain.StateAt(parent.Hash())
	if err != nil {
		logger.Error("Failed to open state at tip", "hash", parent.Hash(), "err", err)
		return
	}

	pending, err := self.backend.TxPool().Take(params.MaxTxsPerBlock, sv)
	if err != nil {
		logger.Error("Failed to fetch pending transactions", "err", err)
		return
	}

	// Re-validate each pick against the snapshot; a failure drops the
	// transaction (and implicitly the rest of its sender's run, whose
	// nonces can no longer connect) without poisoning the candidate.
	var included types.Transactions
	for _, tx := range pending {
		if err := blockchain.ApplyTransaction(sv, tx); err != nil {
			logger.Trace("Dropping transaction from candidate", "hash", tx.Hash(), "err", err)
			continue
		}
		included = append(included, tx)
	}
	candidateTxsGauge.Update(int64(len(included)))

	tstamp := uint64(time.Now().UnixMilli())
	if tstamp <= parentHeader.TimestampMs {
		tstamp = parentHeader.TimestampMs + 1
	}

	header := &types.Header{
		ParentHash:  parent.Hash(),
		Difficulty:  self.chain.CalcDifficulty(parentHeader),
		TimestampMs: tstamp,
		MerkleRoot:  types.DeriveMerkleRoot(included),
		StateRoot:   sv.Root(),
	}

	work := &Task{
		state:     sv,
		header:    header,
		txs:       included,
		Block:     types.NewBlock(header, included),
		createdAt: tstart,
	}
	self.current = work

	logger.Debug("Commit new mining work", "parent", parent.Hash(), "txs", len(included), "elapsed", time.Since(tstart))
	self.push(work)
}
