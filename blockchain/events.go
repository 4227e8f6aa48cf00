// Events connecting the chain engine, mempool, miner, and gossip
// layer, carried over event.Feed.
package blockchain

import "github.com/axledger/axledger/blockchain/types"

// ChainHeadEvent fires whenever InsertBlock moves the tip to a new
// block, the signal the miner subscribes to so it can abandon stale
// work promptly.
type ChainHeadEvent struct {
	Block *types.Block
}

// NewMinedBlockEvent fires after a sealed block has been committed by
// the chain engine; announcing on it therefore never advertises a
// block a peer could fail to fetch.
type NewMinedBlockEvent struct {
	Block *types.Block
}

// NewTxsEvent fires when the mempool admits new transactions, letting
// the gossip layer announce their hashes without importing the mempool
// package directly.
type NewTxsEvent struct {
	Txs types.Transactions
}
