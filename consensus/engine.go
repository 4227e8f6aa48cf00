// Package consensus defines the consensus engine the chain engine and
// the miner both depend on: the difficulty rule, the seal check, and
// the nonce search, kept in one place so validation and mining cannot
// drift apart.
package consensus

import (
	"math/big"

	"github.com/axledger/axledger/blockchain/types"
)

// Engine is the consensus engine the Chain & State Engine validates
// headers against and the Miner seals headers with. Exactly one engine
// is wired into a running node (PoW, consensus/pow.go); the interface
// exists so the difficulty rule and seal check live in one place instead
// of being duplicated between validation and mining.
type Engine interface {
	// CalcDifficulty returns the difficulty a new block extending parent
	// must carry.
	CalcDifficulty(parent, grandparent *types.Header) *big.Int

	// VerifySeal checks header's proof of work:
	// hash(header) <= difficulty.
	VerifySeal(header *types.Header) error

	// Seal searches for a nonce satisfying header's difficulty, writing
	// it into header.Nonce in place. It returns false if abort is closed
	// before a satisfying nonce is found, discarding partial work.
	Seal(header *types.Header, abort <-chan struct{}) bool

	// TotalDifficultyIncrement is a block's contribution to cumulative
	// chain difficulty: MAX_HASH / difficulty.
	TotalDifficultyIncrement(difficulty *big.Int) *big.Int
}
