package consensus

import (
	"math/big"

	"github.com/axledger/axledger/blockchain/types"
	"github.com/axledger/axledger/common"
)

// TargetBlockIntervalMs is the windowed difficulty rule's target block
// time.
const TargetBlockIntervalMs = 1000

// ErrInvalidPoW is returned by VerifySeal when a header's hash exceeds
// its declared difficulty target.
var ErrInvalidPoW = poWError("header hash exceeds difficulty target")

type poWError string

func (e poWError) Error() string { return string(e) }

// maxHash is 2^256, used by TotalDifficultyIncrement.
var maxHash = new(big.Int).Lsh(big.NewInt(1), 256)

// maxTarget is the easiest representable target, 2^256 - 1: a difficulty
// target must fit in the 256-bit hash space.
var maxTarget = new(big.Int).Sub(maxHash, big.NewInt(1))

// PoW is the proof-of-work Engine: a windowed-ratio difficulty target
// and a sequential nonce search.
type PoW struct{}

// NewPoW returns the engine every axledger node runs; there is exactly
// one implementation in this build, but components depend on the
// consensus.Engine interface rather than *PoW directly so the difficulty
// rule and seal check aren't duplicated between the chain engine and the
// miner.
func NewPoW() *PoW { return &PoW{} }

// CalcDifficulty is the windowed ratio adjustment: the interval between parent
// and grandparent's timestamps is compared against TargetBlockIntervalMs
// and the parent's difficulty is scaled by the ratio, clamped to
// [1/4x, 4x] of the parent's difficulty so a single outlier interval
// can't swing the target too far in one step. A smaller resulting
// difficulty value means a HARDER target (difficulty is the upper bound
// a header hash must not exceed), so a slower-than-target
// interval divides the difficulty down and a faster-than-target interval
// multiplies it up. grandparent is nil at height 1, where the parent's
// own difficulty (genesis's) carries forward unchanged.
func (PoW) CalcDifficulty(parent, grandparent *types.Header) *big.Int {
	if grandparent == nil {
		return new(big.Int).Set(parent.Difficulty)
	}

	actualIntervalMs := int64(parent.TimestampMs) - int64(grandparent.TimestampMs)
	if actualIntervalMs <= 0 {
		actualIntervalMs = 1
	}

	next := new(big.Int).Mul(parent.Difficulty, big.NewInt(TargetBlockIntervalMs))
	next.Div(next, big.NewInt(actualIntervalMs))

	minDiff := new(big.Int).Rsh(parent.Difficulty, 2) // parent / 4
	maxDiff := new(big.Int).Lsh(parent.Difficulty, 2) // parent * 4
	if next.Cmp(minDiff) < 0 {
		next = minDiff
	}
	if next.Cmp(maxDiff) > 0 {
		next = maxDiff
	}
	if next.Cmp(maxTarget) > 0 {
		next = new(big.Int).Set(maxTarget)
	}
	return next
}

// VerifySeal checks hash(header) <= difficulty. difficulty is itself
// the 256-bit target, so the check is a direct comparison, not an
// inverted-difficulty-to-target conversion.
func (PoW) VerifySeal(header *types.Header) error {
	id := header.Hash()
	target := common.BytesToHash(header.Difficulty.FillBytes(make([]byte, common.HashLength)))
	if !id.LessOrEqual(target) {
		return ErrInvalidPoW
	}
	return nil
}

// Seal searches nonce in [0, 2^64) for one satisfying header's
// difficulty. It checks abort every 2^20 nonces so the miner reacts to
// a tip change within one nonce batch without paying a channel-select
// on every single hash attempt.
func (PoW) Seal(header *types.Header, abort <-chan struct{}) bool {
	const abortCheckMask = 1<<20 - 1
	target := common.BytesToHash(header.Difficulty.FillBytes(make([]byte, common.HashLength)))

	for nonce := uint64(0); ; nonce++ {
		if nonce&abortCheckMask == 0 {
			select {
			case <-abort:
				return false
			default:
			}
		}
		header.Nonce = nonce
		if header.Hash().LessOrEqual(target) {
			return true
		}
		if nonce == ^uint64(0) {
			return false
		}
	}
}

// TotalDifficultyIncrement is a block's contribution to its chain's
// cumulative difficulty: MAX_HASH / difficulty. A smaller difficulty target
// (harder to satisfy) contributes more weight to the chain's total
// difficulty, matching PoW's "more expected work, more weight" rule.
func (PoW) TotalDifficultyIncrement(difficulty *big.Int) *big.Int {
	if difficulty.Sign() == 0 {
		return new(big.Int)
	}
	return new(big.Int).Div(maxHash, difficulty)
}
