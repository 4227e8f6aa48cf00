package types

import (
	"math/big"
	"testing"

	"github.com/axledger/axledger/common"
	"github.com/axledger/axledger/ser/codec"
)

func newTestHeader() *Header {
	return &Header{
		ParentHash:  common.Hash{},
		Nonce:       0,
		Difficulty:  new(big.Int).Lsh(big.NewInt(1), 240),
		TimestampMs: 1,
		MerkleRoot:  common.Hash{},
		StateRoot:   common.Hash{},
	}
}

func TestBlockEncodeDecodeRoundTrip(t *testing.T) {
	h := newTestHeader()
	to := common.BytesToAddress([]byte{1})
	tx := NewTransaction(0, to, big.NewInt(5), 1, 21000, nil)
	block := NewBlock(h, Transactions{tx})

	bz, err := codec.Encode(block)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	var decoded Block
	if err := codec.Decode(bz, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Hash() != block.Hash() {
		t.Fatalf("hash mismatch after round trip")
	}
	if decoded.NumTx() != 1 {
		t.Fatalf("expected 1 tx, got %d", decoded.NumTx())
	}
}

func TestMerkleRootOddLeafDuplication(t *testing.T) {
	to := common.BytesToAddress([]byte{1})
	tx1 := NewTransaction(0, to, big.NewInt(1), 1, 21000, nil)
	tx2 := NewTransaction(1, to, big.NewInt(2), 1, 21000, nil)
	tx3 := NewTransaction(2, to, big.NewInt(3), 1, 21000, nil)

	rootOdd := DeriveMerkleRoot(Transactions{tx1, tx2, tx3})
	rootDup := DeriveMerkleRoot(Transactions{tx1, tx2, tx3, tx3})
	if rootOdd != rootDup {
		t.Fatalf("expected odd-count root to equal duplicated-last-leaf root")
	}
}

func TestMerkleRootDeterministicOrder(t *testing.T) {
	to := common.BytesToAddress([]byte{1})
	tx1 := NewTransaction(0, to, big.NewInt(1), 1, 21000, nil)
	tx2 := NewTransaction(1, to, big.NewInt(2), 1, 21000, nil)

	r1 := DeriveMerkleRoot(Transactions{tx1, tx2})
	r2 := DeriveMerkleRoot(Transactions{tx2, tx1})
	if r1 == r2 {
		t.Fatalf("expected different orderings to produce different roots")
	}
}

func TestHeaderHashChangesWithNonce(t *testing.T) {
	h1 := newTestHeader()
	h2 := h1.Copy()
	h2.Nonce = 1
	if h1.Hash() == h2.Hash() {
		t.Fatalf("expected distinct nonces to produce distinct header hashes")
	}
}
