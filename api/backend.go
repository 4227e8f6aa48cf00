// Package api is the control plane the wallet talks to: transaction
// submission, balance and chain queries, and mining control. It is a
// thin façade over the chain engine, the mempool, and the miner; every
// operation returns either a value or a kind-tagged error, never both.
package api

import (
	"math/big"

	"github.com/axledger/axledger/blockchain"
	"github.com/axledger/axledger/blockchain/txpool"
	"github.com/axledger/axledger/blockchain/types"
	"github.com/axledger/axledger/common"
	"github.com/axledger/axledger/log"
	"github.com/axledger/axledger/work"
)

var logger = log.NewModuleLogger(log.ModuleAPI)

// ChainInfo describes the canonical chain's head.
type ChainInfo struct {
	TipID           common.Hash
	Height          uint64
	TotalDifficulty *big.Int
}

// Backend exposes the node's control-plane operations.
type Backend struct {
	chain *blockchain.BlockChain
	pool  *txpool.TxPool
	miner *work.Worker
}

func NewBackend(chain *blockchain.BlockChain, pool *txpool.TxPool, miner *work.Worker) *Backend {
	return &Backend{chain: chain, pool: pool, miner: miner}
}

// SubmitTransaction validates tx against the current tip state and
// admits it to the mempool, returning its ID.
func (b *Backend) SubmitTransaction(tx *types.Transaction) (common.Hash, *blockchain.Error) {
	tip, _, _ := b.chain.Tip()
	sv, err := b.chain.StateAt(tip)
	if err != nil {
		return common.Hash{}, blockchain.NewError(blockchain.KindStorage, "open tip state: %v", err)
	}
	res, err := b.pool.Insert(tx, sv)
	if err != nil {
		if cerr, ok := err.(*blockchain.Error); ok {
			return common.Hash{}, cerr
		}
		return common.Hash{}, blockchain.NewError(blockchain.KindValidation, "%v", err)
	}
	if res != txpool.Added {
		return common.Hash{}, blockchain.NewError(blockchain.KindValidation, "transaction not admitted: %s", res)
	}
	logger.Debug("Transaction submitted", "hash", tx.Hash())
	return tx.Hash(), nil
}

// GetBalance returns the balance and next expected nonce of addr at the
// current tip.
func (b *Backend) GetBalance(addr common.Address) (*big.Int, uint64, *blockchain.Error) {
	tip, _, _ := b.chain.Tip()
	sv, err := b.chain.StateAt(tip)
	if err != nil {
		return nil, 0, blockchain.NewError(blockchain.KindStorage, "open tip state: %v", err)
	}
	acc, err := sv.GetAccount(addr)
	if err != nil {
		return nil, 0, blockchain.NewError(blockchain.KindStorage, "read account: %v", err)
	}
	return acc.Balance, acc.Nonce, nil
}

// ChainInfo returns the canonical tip's ID, height, and cumulative
// difficulty.
func (b *Backend) ChainInfo() (ChainInfo, *blockchain.Error) {
	tip, height, td := b.chain.Tip()
	return ChainInfo{TipID: tip, Height: height, TotalDifficulty: td}, nil
}

// MinerStart begins mining with the given assembly interval.
func (b *Backend) MinerStart(intervalMs uint64) *blockchain.Error {
	if b.miner == nil {
		return blockchain.NewError(blockchain.KindValidation, "node runs without a miner")
	}
	b.miner.Start(intervalMs)
	logger.Info("Miner started via control plane", "interval_ms", intervalMs)
	return nil
}

// MinerStop halts mining.
func (b *Backend) MinerStop() *blockchain.Error {
	if b.miner == nil {
		return blockchain.NewError(blockchain.KindValidation, "node runs without a miner")
	}
	b.miner.Stop()
	logger.Info("Miner stopped via control plane")
	return nil
}

// MinerStatus reports the miner's current state.
func (b *Backend) MinerStatus() (work.Status, *blockchain.Error) {
	if b.miner == nil {
		return work.Status{}, blockchain.NewError(blockchain.KindValidation, "node runs without a miner")
	}
	return b.miner.Status(), nil
}
