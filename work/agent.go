package work

import (
	"sync"
	"sync/atomic"

	"github.com/axledger/axledger/blockchain/types"
	"github.com/axledger/axledger/consensus"
)

type CpuAgent struct {
	mu sync.Mutex

	workCh        chan *Task
	stop          chan struct{}
	quitCurrentOp chan struct{}
	returnCh      chan<- *Result

	engine consensus.Engine

	isMining int32 // isMining indicates whether the agent is currently mining
}

func NewCpuAgent(engine consensus.Engine) *CpuAgent {
	miner := &CpuAgent{
		engine: engine,
		stop:   make(chan struct{}, 1),
		workCh: make(chan *Task, 1),
	}
	return miner
}

func (self *CpuAgent) Work() chan<- *Task            { return self.workCh }
func (self *CpuAgent) SetReturnCh(ch chan<- *Result) { self.returnCh = ch }

func (self *CpuAgent) Stop() {
	if !atomic.CompareAndSwapInt32(&self.isMining, 1, 0) {
		return // agent already stopped
	}
	self.stop <- struct{}{}
done:
	// Empty work channel
	for {
		select {
		case <-self.workCh:
		default:
			break done
		}
	}
}

func (self *CpuAgent) Start() {
	if !atomic.CompareAndSwapInt32(&self.isMining, 0, 1) {
		return // agent already started
	}
	go self.update()
}

func (self *CpuAgent) update() {
out:
	for {
		select {
		case work := <-self.workCh:
			self.mu.Lock()
			if self.quitCurrentOp != nil {
				close(self.quitCurrentOp)
			}
			self.quitCurrentOp = make(chan struct{})
			go self.mine(work, self.quitCurrentOp)
			self.mu.Unlock()
		case <-self.stop:
			self.mu.Lock()
			if self.quitCurrentOp != nil {
				close(self.quitCurrentOp)
				self.quitCurrentOp = nil
			}
			self.mu.Unlock()
			break out
		}
	}
}

// mine runs the nonce search on work's header. The header is sealed in
// place on a copy so an aborted search never leaves a half-written
// nonce in the shared task.
func (self *CpuAgent) mine(work *Task, stop <-chan struct{}) {
	header := work.Block.Header()
	if self.engine.Seal(header, stop) {
		sealed := types.NewBlock(header, work.Block.Body())
		self.returnCh <- &Result{work, sealed}
	} else {
		self.returnCh <- nil
	}
}
