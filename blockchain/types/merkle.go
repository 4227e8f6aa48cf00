// The body commitment is a binary Merkle tree with last-leaf
// duplication on odd counts; there is exactly one strategy, so no
// pluggable indirection.
package types

import "github.com/axledger/axledger/common"
import "github.com/axledger/axledger/crypto"

// DeriveMerkleRoot computes the Merkle root over transaction IDs,
// duplicating the last leaf when the leaf count is odd. An empty body's root is the hash of zero leaves.
func DeriveMerkleRoot(txs Transactions) common.Hash {
	leaves := txs.Hashes()
	return merkleRoot(leaves)
}

func merkleRoot(leaves []common.Hash) common.Hash {
	if len(leaves) == 0 {
		return crypto.Hash256()
	}
	level := leaves
	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([]common.Hash, len(level)/2)
		for i := 0; i < len(next); i++ {
			left, right := level[2*i], level[2*i+1]
			next[i] = crypto.Hash256(left.Bytes(), right.Bytes())
		}
		level = next
	}
	return level[0]
}
