// Block validation is one ordered pipeline; the first failing step
// rejects the block.
package blockchain

import (
	"github.com/axledger/axledger/blockchain/state"
	"github.com/axledger/axledger/blockchain/types"
	"github.com/axledger/axledger/storage/database"
)

// validationContext carries the pieces a single insert_block call needs
// to run the seven-step pipeline: the candidate block, its already-known
// parent header, and the grandparent header (nil at height 1) used by
// the difficulty rule.
type validationContext struct {
	block       *types.Block
	parent      *types.Header
	grandparent *types.Header
	store       database.Database
}

// validateBlock runs the ordered seven-step pipeline and
// returns the post-execution StateView on success, so the caller
// (BlockChain.InsertBlock) can commit it without recomputing execution.
// Every step runs in order and the first failure aborts the remaining
// ones, matching "a failing transaction invalidates the whole block (no
// partial execution)" applied one level up to the whole validation run.
func validateBlock(ctx validationContext) (*state.StateView, error) {
	header := ctx.block.Header()

	// Step 1 is the caller's responsibility: it only calls validateBlock
	// once it has resolved ctx.parent, returning Orphan itself otherwise.

	// Step 2: timestamp strictly after parent's.
	if header.TimestampMs <= ctx.parent.TimestampMs {
		return nil, newError(KindValidation, "timestamp %d does not exceed parent timestamp %d", header.TimestampMs, ctx.parent.TimestampMs)
	}

	// Step 3: difficulty matches the difficulty rule.
	wantDifficulty := difficultyRule(ctx.parent, ctx.grandparent)
	if header.Difficulty.Cmp(wantDifficulty) != 0 {
		return nil, newError(KindValidation, "difficulty %s does not match expected %s", header.Difficulty, wantDifficulty)
	}

	// Step 4: PoW check, hash(header) <= difficulty.
	if err := checkPoW(header); err != nil {
		return nil, err
	}

	// Step 5: merkle_root matches the computed root over the body.
	wantRoot := types.DeriveMerkleRoot(ctx.block.Body())
	if header.MerkleRoot != wantRoot {
		return nil, newError(KindValidation, "merkle root %s does not match computed %s", header.MerkleRoot, wantRoot)
	}

	// Step 6: execute the body against state_at(parent). Executed on a
	// disposable StateView whose staged writes never reach storage
	// unless the caller commits them.
	sv := state.New(ctx.parent.StateRoot, ctx.store)
	if err := ApplyTransactions(sv, ctx.block.Body()); err != nil {
		return nil, err
	}

	// Step 7: post-execution state_root matches the header's state_root.
	if sv.Root() != header.StateRoot {
		return nil, newError(KindValidation, "state root %s does not match computed %s", header.StateRoot, sv.Root())
	}

	return sv, nil
}

// checkPoW verifies hash(header) <= difficulty through the consensus
// engine, so validation and sealing share one comparison.
func checkPoW(header *types.Header) error {
	if err := defaultEngine.VerifySeal(header); err != nil {
		return newError(KindValidation, "block %s: %v", header.Hash(), err)
	}
	return nil
}
