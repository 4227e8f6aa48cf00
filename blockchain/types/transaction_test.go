package types

import (
	"math/big"
	"testing"

	"github.com/axledger/axledger/common"
	"github.com/axledger/axledger/crypto"
	"github.com/axledger/axledger/ser/codec"
)

func TestTransactionSignAndVerify(t *testing.T) {
	pub, priv, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	to := common.BytesToAddress([]byte{1, 2, 3})
	tx := NewTransaction(0, to, big.NewInt(100), 1, 21000, nil)
	if err := tx.Sign(pub, priv); err != nil {
		t.Fatalf("sign: %v", err)
	}

	if err := tx.VerifySignature(); err != nil {
		t.Fatalf("expected valid signature, got %v", err)
	}

	tx.Value = big.NewInt(101)
	if err := tx.VerifySignature(); err == nil {
		t.Fatalf("expected signature verification to fail after tampering")
	}
}

func TestTransactionEncodeDecodeRoundTrip(t *testing.T) {
	pub, priv, _ := crypto.GenerateKey()
	to := common.BytesToAddress([]byte{9})
	tx := NewTransaction(7, to, big.NewInt(42), 3, 21000, []byte("memo"))
	_ = tx.Sign(pub, priv)

	bz, err := codec.Encode(tx)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	var decoded Transaction
	if err := codec.Decode(bz, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Hash() != tx.Hash() {
		t.Fatalf("hash mismatch after round trip")
	}
	if decoded.Nonce != tx.Nonce || decoded.Value.Cmp(tx.Value) != 0 {
		t.Fatalf("field mismatch after round trip")
	}
}

func TestTransactionIDIncludesSignature(t *testing.T) {
	pub, priv, _ := crypto.GenerateKey()
	to := common.BytesToAddress([]byte{1})
	tx1 := NewTransaction(0, to, big.NewInt(1), 1, 21000, nil)
	tx2 := NewTransaction(0, to, big.NewInt(1), 1, 21000, nil)
	_ = tx1.Sign(pub, priv)
	tx2.From = tx1.From
	tx2.PubKey = tx1.PubKey
	copy(tx2.Signature[:], tx1.Signature[:])

	if tx1.Hash() != tx2.Hash() {
		t.Fatalf("expected identical signed txs to hash identically")
	}

	tx3 := NewTransaction(0, to, big.NewInt(1), 1, 21000, nil)
	tx3.From = tx1.From
	tx3.PubKey = tx1.PubKey
	copy(tx3.Signature[:], tx1.Signature[:])
	tx3.Signature[0] ^= 0xff
	if tx3.Hash() == tx1.Hash() {
		t.Fatalf("expected a different signature to change the transaction ID")
	}
}
