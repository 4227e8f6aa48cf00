package state

import (
	"math/big"

	"github.com/axledger/axledger/blockchain/types"
	"github.com/axledger/axledger/common"
	"github.com/axledger/axledger/storage/database"
)

// StateView is a read/write handle onto one state root: the state
// processor's working set while it executes a block's transactions, and
// the read-only view the mempool and API layer use to check balances
// and nonces against the chain tip. There is no journaling, refund
// counter, or log accumulation; plain value transfers need none of
// them.
type StateView struct {
	trie *Trie
	db   *trieDatabase
}

// New opens a StateView at root over the given trie node store.
func New(root common.Hash, store database.Database) *StateView {
	tdb := NewTrieDatabase(store)
	return &StateView{trie: NewTrie(root, tdb), db: tdb}
}

// GetAccount returns the account at addr (the zero-value account if
// unset).
func (s *StateView) GetAccount(addr common.Address) (*types.Account, error) {
	return s.trie.Get(addr)
}

// GetNonce and GetBalance are the convenience accessors the mempool's
// admission checks and the API layer use.
func (s *StateView) GetNonce(addr common.Address) (uint64, error) {
	acc, err := s.trie.Get(addr)
	if err != nil {
		return 0, err
	}
	return acc.Nonce, nil
}

func (s *StateView) GetBalance(addr common.Address) (*big.Int, error) {
	acc, err := s.trie.Get(addr)
	if err != nil {
		return nil, err
	}
	return acc.Balance, nil
}

// PutAccount writes acc at addr.
func (s *StateView) PutAccount(addr common.Address, acc *types.Account) error {
	_, err := s.trie.Set(addr, acc)
	return err
}

// Root returns the state root reflecting every PutAccount applied so
// far.
func (s *StateView) Root() common.Hash { return s.trie.Root() }

// Commit flushes all staged trie nodes into batch.
func (s *StateView) Commit(batch database.Batch) error {
	return s.db.Commit(batch)
}

// Copy opens an independent StateView at the same root, sharing the
// backing trieDatabase's persisted nodes but none of its pending writes
// (it gets its own trieDatabase so staged-but-uncommitted writes from
// one view never leak into another, e.g. the miner's speculative
// candidate vs. the chain's committed tip).
func (s *StateView) Copy(store database.Database) *StateView {
	return New(s.trie.Root(), store)
}
