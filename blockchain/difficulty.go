// The difficulty rule and PoW check themselves live in
// github.com/axledger/axledger/consensus, so the chain engine and the
// miner share one implementation instead of two drifting copies.
package blockchain

import (
	"math/big"

	"github.com/axledger/axledger/blockchain/types"
	"github.com/axledger/axledger/consensus"
)

// defaultEngine is the PoW engine every BlockChain validates and seals
// against.
var defaultEngine consensus.Engine = consensus.NewPoW()

// Engine returns the consensus engine the chain validates against, so
// the miner seals candidates with the exact rule InsertBlock enforces.
func (bc *BlockChain) Engine() consensus.Engine { return defaultEngine }

// CalcDifficulty returns the difficulty a block extending parent must
// carry. grandparent is nil at height 1.
func (bc *BlockChain) CalcDifficulty(parent *types.Header) *big.Int {
	var grandparent *types.Header
	bc.mu.RLock()
	if gp, ok := bc.index[parent.ParentHash]; ok {
		grandparent = gp.header
	}
	bc.mu.RUnlock()
	return defaultEngine.CalcDifficulty(parent, grandparent)
}

func difficultyRule(parent, grandparent *types.Header) *big.Int {
	return defaultEngine.CalcDifficulty(parent, grandparent)
}

func totalDifficultyIncrement(difficulty *big.Int) *big.Int {
	return defaultEngine.TotalDifficultyIncrement(difficulty)
}
