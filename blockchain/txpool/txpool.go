// Package txpool is the mempool: a bounded, deduplicated, nonce-ordered
// set of pending transactions that the miner drains and the gossip
// layer replicates.
package txpool

import (
	"math/big"
	"sort"
	"sync"

	"gopkg.in/fatih/set.v0"

	"github.com/axledger/axledger/blockchain"
	"github.com/axledger/axledger/blockchain/state"
	"github.com/axledger/axledger/blockchain/types"
	"github.com/axledger/axledger/common"
	"github.com/axledger/axledger/event"
	"github.com/axledger/axledger/log"
	"github.com/axledger/axledger/metrics"
)

var logger = log.NewModuleLogger(log.ModuleTxPool)

var (
	addedMeter    = metrics.NewRegisteredCounter("txpool/added", nil)
	rejectedMeter = metrics.NewRegisteredCounter("txpool/rejected", nil)
	evictedMeter  = metrics.NewRegisteredCounter("txpool/evicted", nil)
	pendingGauge  = metrics.NewRegisteredGauge("txpool/pending", nil)
)

// Capacity is the pool's bound on total entries.
const Capacity = 4096

// FutureNonceWindow is the per-sender span of nonces ahead of the
// account's current nonce that may be queued per sender.
const FutureNonceWindow = 16

// InsertResult classifies what Insert did with a transaction. Replaced
// is declared but never returned: replace-by-nonce is not supported
// (first seen wins), so a second transaction at an already-occupied
// (from, nonce) is always a Duplicate.
type InsertResult int

const (
	Added InsertResult = iota
	Duplicate
	Invalid
	Replaced
)

func (r InsertResult) String() string {
	switch r {
	case Added:
		return "Added"
	case Duplicate:
		return "Duplicate"
	case Invalid:
		return "Invalid"
	case Replaced:
		return "Replaced"
	default:
		return "Unknown"
	}
}

// entry pairs a pooled transaction with its arrival order, used to break
// eviction ties by oldest arrival.
type entry struct {
	tx      *types.Transaction
	arrival uint64
}

// TxPool indexes pending transactions by (from, nonce) and by tx ID.
// bySender groups entries for nonce-contiguity
// bookkeeping; byHash and known together give O(1) duplicate detection
// and removal by ID.
type TxPool struct {
	mu       sync.Mutex
	bySender map[common.Address]map[uint64]*entry
	byHash   map[common.Hash]*entry
	known    *set.Set
	nextSeq  uint64

	newTxsFeed event.Feed
}

// New returns an empty pool.
func New() *TxPool {
	return &TxPool{
		bySender: make(map[common.Address]map[uint64]*entry),
		byHash:   make(map[common.Hash]*entry),
		known:    set.New(),
	}
}

// Insert validates tx against sv and admits it: the signature must
// verify, the nonce must be at or above the account's current nonce
// (within the future-nonce window), and the balance must cover the
// declared cost.
func (p *TxPool) Insert(tx *types.Transaction, sv *state.StateView) (InsertResult, error) {
	id := tx.Hash()

	p.mu.Lock()
	if p.known.Has(id) {
		p.mu.Unlock()
		return Duplicate, nil
	}
	p.mu.Unlock()

	if err := tx.VerifySignature(); err != nil {
		rejectedMeter.Inc(1)
		return Invalid, err
	}

	acc, err := sv.GetAccount(tx.From)
	if err != nil {
		rejectedMeter.Inc(1)
		return Invalid, err
	}
	if tx.Nonce < acc.Nonce {
		rejectedMeter.Inc(1)
		return Invalid, blockchainErrorf("nonce %d is stale (account nonce %d)", tx.Nonce, acc.Nonce)
	}
	if tx.Nonce-acc.Nonce >= FutureNonceWindow {
		rejectedMeter.Inc(1)
		return Invalid, blockchainErrorf("nonce %d exceeds future window of %d past account nonce %d", tx.Nonce, FutureNonceWindow, acc.Nonce)
	}
	cost := tx.Cost(blockchain.FixedFee)
	if acc.Balance.Cmp(cost) < 0 {
		rejectedMeter.Inc(1)
		return Invalid, blockchainErrorf("balance %s does not cover cost %s", acc.Balance, cost)
	}

	p.mu.Lock()
	if bucket, ok := p.bySender[tx.From]; ok {
		if _, occupied := bucket[tx.Nonce]; occupied {
			p.mu.Unlock()
			return Duplicate, nil
		}
	}

	e := &entry{tx: tx, arrival: p.nextSeq}
	p.nextSeq++
	if p.bySender[tx.From] == nil {
		p.bySender[tx.From] = make(map[uint64]*entry)
	}
	p.bySender[tx.From][tx.Nonce] = e
	p.byHash[id] = e
	p.known.Add(id)
	overCapacity := len(p.byHash) > Capacity
	p.mu.Unlock()

	addedMeter.Inc(1)
	pendingGauge.Update(int64(p.Len()))
	p.newTxsFeed.Send(blockchain.NewTxsEvent{Txs: types.Transactions{tx}})

	if overCapacity {
		p.evictCheapest()
	}
	return Added, nil
}

// evictCheapest drops the single lowest-gas_price entry, breaking ties
// by oldest arrival, when the pool is at capacity.
func (p *TxPool) evictCheapest() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.byHash) <= Capacity {
		return
	}
	var worst *entry
	for _, e := range p.byHash {
		if worst == nil {
			worst = e
			continue
		}
		if e.tx.GasPrice < worst.tx.GasPrice {
			worst = e
		} else if e.tx.GasPrice == worst.tx.GasPrice && e.arrival < worst.arrival {
			worst = e
		}
	}
	if worst == nil {
		return
	}
	p.removeLocked(worst.tx.Hash())
	evictedMeter.Inc(1)
	logger.Debug("evicted lowest-gas-price tx over capacity", "hash", worst.tx.Hash(), "gasPrice", worst.tx.GasPrice)
}

// Remove drops txID from the pool,
// used when a transaction is included in a committed block.
func (p *TxPool) Remove(txID common.Hash) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removeLocked(txID)
}

func (p *TxPool) removeLocked(txID common.Hash) {
	e, ok := p.byHash[txID]
	if !ok {
		return
	}
	delete(p.byHash, txID)
	p.known.Remove(txID)
	if bucket, ok := p.bySender[e.tx.From]; ok {
		delete(bucket, e.tx.Nonce)
		if len(bucket) == 0 {
			delete(p.bySender, e.tx.From)
		}
	}
}

// EvictStale removes every pooled transaction whose nonce now lies below
// its sender's current account nonce in sv. This covers
// transactions made obsolete by a block the pool never saw land (e.g.
// included via a different, since-reorged-away chain or submitted
// directly to another node).
func (p *TxPool) EvictStale(sv *state.StateView) error {
	p.mu.Lock()
	senders := make([]common.Address, 0, len(p.bySender))
	for addr := range p.bySender {
		senders = append(senders, addr)
	}
	p.mu.Unlock()

	for _, addr := range senders {
		acc, err := sv.GetAccount(addr)
		if err != nil {
			return err
		}
		p.mu.Lock()
		bucket := p.bySender[addr]
		var stale []common.Hash
		for nonce, e := range bucket {
			if nonce < acc.Nonce {
				stale = append(stale, e.tx.Hash())
			}
		}
		for _, id := range stale {
			p.removeLocked(id)
		}
		p.mu.Unlock()
		evictedMeter.Inc(int64(len(stale)))
	}
	return nil
}

// Take selects up to n transactions for a candidate block: greedy by
// gas price, then by (sender, nonce ascending), never including two
// transactions from the same sender whose nonces are non-contiguous
// within the block. For each sender, only the
// contiguous run starting at the account's current nonce is eligible;
// any re-validation failure (balance exhausted by earlier picks in this
// same batch) stops that sender's run.
func (p *TxPool) Take(n int, sv *state.StateView) (types.Transactions, error) {
	p.mu.Lock()
	runs := make(map[common.Address][]*entry, len(p.bySender))
	for addr, bucket := range p.bySender {
		nonces := make([]uint64, 0, len(bucket))
		for nonce := range bucket {
			nonces = append(nonces, nonce)
		}
		sort.Slice(nonces, func(i, j int) bool { return nonces[i] < nonces[j] })
		run := make([]*entry, 0, len(nonces))
		for _, nonce := range nonces {
			run = append(run, bucket[nonce])
		}
		runs[addr] = run
	}
	p.mu.Unlock()

	type candidate struct {
		addr common.Address
		idx  int
	}
	heads := make([]candidate, 0, len(runs))
	for addr := range runs {
		heads = append(heads, candidate{addr: addr})
	}

	var selected types.Transactions
	spent := make(map[common.Address]*big.Int)
	nextExpected := make(map[common.Address]uint64)
	for addr := range runs {
		acc, err := sv.GetAccount(addr)
		if err != nil {
			return nil, err
		}
		nextExpected[addr] = acc.Nonce
		spent[addr] = new(big.Int)
	}

	for len(selected) < n {
		sort.Slice(heads, func(i, j int) bool {
			hi, hj := heads[i], heads[j]
			runI, runJ := runs[hi.addr], runs[hj.addr]
			if hi.idx >= len(runI) {
				return false
			}
			if hj.idx >= len(runJ) {
				return true
			}
			gi, gj := runI[hi.idx].tx.GasPrice, runJ[hj.idx].tx.GasPrice
			if gi != gj {
				return gi > gj
			}
			return string(hi.addr[:]) < string(hj.addr[:])
		})

		progressed := false
		for i := range heads {
			h := &heads[i]
			run := runs[h.addr]
			if h.idx >= len(run) {
				continue
			}
			e := run[h.idx]
			if e.tx.Nonce != nextExpected[h.addr] {
				h.idx = len(run) // break this sender's contiguous run
				continue
			}

			acc, err := sv.GetAccount(h.addr)
			if err != nil {
				return nil, err
			}
			cost := new(big.Int).Add(spent[h.addr], e.tx.Cost(blockchain.FixedFee))
			if acc.Balance.Cmp(cost) < 0 {
				h.idx = len(run)
				continue
			}

			selected = append(selected, e.tx)
			spent[h.addr] = cost
			nextExpected[h.addr]++
			h.idx++
			progressed = true
			break // re-rank the heads before the next pick
		}
		if !progressed {
			break
		}
	}
	return selected, nil
}

// Get returns the pooled transaction with the given ID, or nil. The
// gossip layer serves GetTransactions requests from here.
func (p *TxPool) Get(txID common.Hash) *types.Transaction {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.byHash[txID]; ok {
		return e.tx
	}
	return nil
}

// Len returns the number of pooled transactions.
func (p *TxPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.byHash)
}

// SubscribeNewTxsEvent registers ch to receive every successfully
// admitted transaction, the signal the P2P Worker gossips on.
func (p *TxPool) SubscribeNewTxsEvent(ch chan<- blockchain.NewTxsEvent) event.Subscription {
	return p.newTxsFeed.Subscribe(ch)
}

func blockchainErrorf(format string, args ...interface{}) error {
	return blockchain.NewError(blockchain.KindValidation, format, args...)
}
