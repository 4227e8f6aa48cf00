package state

import (
	"math/big"
	"testing"

	"github.com/axledger/axledger/blockchain/types"
	"github.com/axledger/axledger/common"
	"github.com/axledger/axledger/storage/database"
)

func newTestTrie() *Trie {
	return NewTrie(common.Hash{}, NewTrieDatabase(database.NewMemDatabase()))
}

func TestEmptyTrieRootIsHashOfEmpty(t *testing.T) {
	tr := newTestTrie()
	if tr.Root() != EmptyRoot {
		t.Fatalf("expected fresh trie root to equal EmptyRoot")
	}
}

func TestGetUnsetAddressReturnsEmptyAccount(t *testing.T) {
	tr := newTestTrie()
	addr := common.BytesToAddress([]byte{1, 2, 3})
	acc, err := tr.Get(addr)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if acc.Nonce != 0 || acc.Balance.Sign() != 0 {
		t.Fatalf("expected zero-value account, got %+v", acc)
	}
}

func TestSetThenGetRoundTrips(t *testing.T) {
	tr := newTestTrie()
	addr := common.BytesToAddress([]byte{0xAB, 0xCD})
	acc := &types.Account{Nonce: 7, Balance: big.NewInt(1000)}

	if _, err := tr.Set(addr, acc); err != nil {
		t.Fatalf("set: %v", err)
	}

	got, err := tr.Get(addr)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Equal(acc) {
		t.Fatalf("expected %+v, got %+v", acc, got)
	}
}

func TestTrieRootChangesOnUpdate(t *testing.T) {
	tr := newTestTrie()
	addr := common.BytesToAddress([]byte{1})

	r0 := tr.Root()
	if _, err := tr.Set(addr, &types.Account{Nonce: 1, Balance: big.NewInt(1)}); err != nil {
		t.Fatalf("set: %v", err)
	}
	r1 := tr.Root()
	if r0 == r1 {
		t.Fatalf("expected root to change after Set")
	}
}

func TestInsertionOrderIndependence(t *testing.T) {
	addrs := []common.Address{
		common.BytesToAddress([]byte{1}),
		common.BytesToAddress([]byte{2}),
		common.BytesToAddress([]byte{0xff}),
		common.BytesToAddress([]byte{0x7f, 0x01}),
	}
	accs := []*types.Account{
		{Nonce: 1, Balance: big.NewInt(10)},
		{Nonce: 2, Balance: big.NewInt(20)},
		{Nonce: 3, Balance: big.NewInt(30)},
		{Nonce: 4, Balance: big.NewInt(40)},
	}

	tr1 := newTestTrie()
	for i := range addrs {
		if _, err := tr1.Set(addrs[i], accs[i]); err != nil {
			t.Fatalf("set: %v", err)
		}
	}

	tr2 := newTestTrie()
	order := []int{3, 1, 0, 2}
	for _, i := range order {
		if _, err := tr2.Set(addrs[i], accs[i]); err != nil {
			t.Fatalf("set: %v", err)
		}
	}

	if tr1.Root() != tr2.Root() {
		t.Fatalf("expected insertion-order-independent root, got %s vs %s", tr1.Root(), tr2.Root())
	}
}

func TestSetOverwritesExistingAddress(t *testing.T) {
	tr := newTestTrie()
	addr := common.BytesToAddress([]byte{9})

	if _, err := tr.Set(addr, &types.Account{Nonce: 1, Balance: big.NewInt(5)}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, err := tr.Set(addr, &types.Account{Nonce: 2, Balance: big.NewInt(50)}); err != nil {
		t.Fatalf("set: %v", err)
	}

	got, err := tr.Get(addr)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Nonce != 2 || got.Balance.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("expected overwritten account, got %+v", got)
	}
}

func TestTwoAddressesDivergingAtFirstBit(t *testing.T) {
	tr := newTestTrie()
	// 0x00... and 0x80... diverge at bit 0.
	a1 := common.HexToAddress("0x0000000000000000000000000000000000000001")
	a2 := common.HexToAddress("0x8000000000000000000000000000000000000001")

	if _, err := tr.Set(a1, &types.Account{Nonce: 1, Balance: big.NewInt(1)}); err != nil {
		t.Fatalf("set a1: %v", err)
	}
	if _, err := tr.Set(a2, &types.Account{Nonce: 2, Balance: big.NewInt(2)}); err != nil {
		t.Fatalf("set a2: %v", err)
	}

	got1, err := tr.Get(a1)
	if err != nil {
		t.Fatalf("get a1: %v", err)
	}
	got2, err := tr.Get(a2)
	if err != nil {
		t.Fatalf("get a2: %v", err)
	}
	if got1.Nonce != 1 || got2.Nonce != 2 {
		t.Fatalf("expected distinct accounts preserved, got %+v / %+v", got1, got2)
	}
}

func TestCommitPersistsAcrossNewTrieDatabase(t *testing.T) {
	store := database.NewMemDatabase()
	tdb := NewTrieDatabase(store)
	tr := NewTrie(common.Hash{}, tdb)

	addr := common.BytesToAddress([]byte{3})
	root, err := tr.Set(addr, &types.Account{Nonce: 1, Balance: big.NewInt(42)})
	if err != nil {
		t.Fatalf("set: %v", err)
	}

	batch := store.NewBatch()
	if err := tdb.Commit(batch); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := batch.Write(); err != nil {
		t.Fatalf("write: %v", err)
	}

	reopened := NewTrie(root, NewTrieDatabase(store))
	got, err := reopened.Get(addr)
	if err != nil {
		t.Fatalf("get after reopen: %v", err)
	}
	if got.Nonce != 1 || got.Balance.Cmp(big.NewInt(42)) != 0 {
		t.Fatalf("expected persisted account, got %+v", got)
	}
}
