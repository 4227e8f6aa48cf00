package types

import (
	"math/big"

	"github.com/axledger/axledger/common"
	"github.com/axledger/axledger/crypto"
	"github.com/axledger/axledger/ser/codec"
)

// Header is the block header.
type Header struct {
	ParentHash  common.Hash
	Nonce       uint64
	Difficulty  *big.Int // a 256-bit target, smaller is harder
	TimestampMs uint64
	MerkleRoot  common.Hash
	StateRoot   common.Hash
}

func (h *Header) EncodeAXL(w *codec.Writer) {
	w.PutBytes(h.ParentHash.Bytes())
	w.PutUint64(h.Nonce)
	w.PutUint256(h.Difficulty)
	w.PutUint64(h.TimestampMs)
	w.PutBytes(h.MerkleRoot.Bytes())
	w.PutBytes(h.StateRoot.Bytes())
}

func (h *Header) DecodeAXL(r *codec.Reader) error {
	h.ParentHash = common.BytesToHash(r.GetBytes(common.HashLength))
	h.Nonce = r.GetUint64()
	h.Difficulty = r.GetUint256()
	h.TimestampMs = r.GetUint64()
	h.MerkleRoot = common.BytesToHash(r.GetBytes(common.HashLength))
	h.StateRoot = common.BytesToHash(r.GetBytes(common.HashLength))
	return r.Err()
}

// Hash is the block ID: the hash of the serialized header.
func (h *Header) Hash() common.Hash {
	w := codec.NewWriter()
	h.EncodeAXL(w)
	return crypto.Hash256(w.Bytes())
}

// Copy returns a deep-enough copy for the miner to mutate (Nonce,
// TimestampMs) without aliasing a header already handed to the chain.
func (h *Header) Copy() *Header {
	cp := *h
	cp.Difficulty = new(big.Int).Set(h.Difficulty)
	return &cp
}

// Block is a Header plus its Body, an ordered transaction list.
type Block struct {
	header *Header
	body   Transactions
}

// NewBlock builds a Block from a header and body. The header's
// MerkleRoot/StateRoot are expected to already be set by the caller
// (the miner or the chain engine's executor) before this constructor
// runs, since computing them requires state access this package does
// not have.
func NewBlock(header *Header, txs Transactions) *Block {
	b := &Block{header: header.Copy()}
	if len(txs) == 0 {
		b.body = Transactions{}
	} else {
		b.body = make(Transactions, len(txs))
		copy(b.body, txs)
	}
	return b
}

func (b *Block) Header() *Header         { return b.header.Copy() }
func (b *Block) Body() Transactions      { return b.body }
func (b *Block) Transactions() Transactions { return b.body }
func (b *Block) NumTx() int              { return len(b.body) }

func (b *Block) ParentHash() common.Hash  { return b.header.ParentHash }
func (b *Block) Nonce() uint64            { return b.header.Nonce }
func (b *Block) Difficulty() *big.Int     { return new(big.Int).Set(b.header.Difficulty) }
func (b *Block) TimestampMs() uint64      { return b.header.TimestampMs }
func (b *Block) MerkleRoot() common.Hash  { return b.header.MerkleRoot }
func (b *Block) Root() common.Hash        { return b.header.StateRoot }

// Hash is the block ID.
func (b *Block) Hash() common.Hash { return b.header.Hash() }

func (b *Block) EncodeAXL(w *codec.Writer) {
	b.header.EncodeAXL(w)
	w.PutUint64(uint64(len(b.body)))
	for _, tx := range b.body {
		bz, err := codec.Encode(tx)
		if err != nil {
			w.PutVarBytes(nil)
			continue
		}
		w.PutVarBytes(bz)
	}
}

func (b *Block) DecodeAXL(r *codec.Reader) error {
	h := &Header{}
	if err := h.DecodeAXL(r); err != nil {
		return err
	}
	n := r.GetUint64()
	if n > uint64(len(r.Remaining()))/4 {
		return codec.ErrTruncated
	}
	txs := make(Transactions, 0, n)
	for i := uint64(0); i < n; i++ {
		raw := r.GetVarBytes()
		tx := &Transaction{}
		if err := codec.Decode(raw, tx); err != nil {
			return err
		}
		txs = append(txs, tx)
	}
	if err := r.Err(); err != nil {
		return err
	}
	b.header = h
	b.body = txs
	return nil
}
