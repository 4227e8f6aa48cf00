package types

import (
	"errors"
	"math/big"
	"sync/atomic"

	"github.com/axledger/axledger/common"
	"github.com/axledger/axledger/crypto"
	"github.com/axledger/axledger/ser/codec"
)

var (
	ErrInvalidSignature  = errors.New("types: invalid transaction signature")
	ErrInvalidPubkeySize = errors.New("types: invalid public key size")
)

// Transaction is a signed value transfer with recorded gas fields and
// opaque data. Ed25519 carries
// no public-key recovery (unlike secp256k1), so PubKey rides
// along on the wire: From is the address derived from PubKey, and
// verification checks both that PubKey derives From and that Signature
// verifies under PubKey.
type Transaction struct {
	Nonce     uint64
	GasPrice  uint64
	GasLimit  uint64
	To        common.Address
	Value     *big.Int
	Data      []byte
	From      common.Address
	PubKey    [32]byte
	Signature [64]byte

	// cached, not part of the wire encoding
	hash atomic.Value
}

// NewTransaction builds an unsigned transaction; call Sign to populate
// From and Signature.
func NewTransaction(nonce uint64, to common.Address, value *big.Int, gasPrice, gasLimit uint64, data []byte) *Transaction {
	v := new(big.Int)
	if value != nil {
		v.Set(value)
	}
	return &Transaction{
		Nonce:    nonce,
		GasPrice: gasPrice,
		GasLimit: gasLimit,
		To:       to,
		Value:    v,
		Data:     data,
	}
}

// signingPayload is the canonical serialization of every field except
// Signature, From, and PubKey.
func (tx *Transaction) signingPayload() []byte {
	w := codec.NewWriter()
	w.PutUint64(tx.Nonce)
	w.PutUint64(tx.GasPrice)
	w.PutUint64(tx.GasLimit)
	w.PutBytes(tx.To.Bytes())
	w.PutUint128(tx.Value)
	w.PutVarBytes(tx.Data)
	return w.Bytes()
}

// Sign signs the transaction with priv and sets From from pub. Ed25519
// has no public-key recovery, so the signer attaches its own public key
// and the verifier checks it derives the claimed From address (see
// VerifySignature).
func (tx *Transaction) Sign(pub ed25519PublicKey, priv ed25519PrivateKey) error {
	if len(pub) != crypto.PublicKeyLength {
		return ErrInvalidPubkeySize
	}
	from, err := crypto.PubkeyToAddress(pub)
	if err != nil {
		return err
	}
	tx.From = from
	copy(tx.PubKey[:], pub)
	sig := crypto.Sign(priv, tx.signingPayload())
	copy(tx.Signature[:], sig)
	tx.hash = atomic.Value{}
	return nil
}

// VerifySignature checks that tx.PubKey derives tx.From and that
// Signature verifies under tx.PubKey against the signing payload.
func (tx *Transaction) VerifySignature() error {
	addr, err := crypto.PubkeyToAddress(tx.PubKey[:])
	if err != nil {
		return err
	}
	if addr != tx.From {
		return ErrInvalidSignature
	}
	if !crypto.Verify(tx.PubKey[:], tx.signingPayload(), tx.Signature[:]) {
		return ErrInvalidSignature
	}
	return nil
}

// Cost is the total debit applied to the sender: value + fixedFee.
// Fees are real and flat; gas price and limit are recorded but not
// metered.
func (tx *Transaction) Cost(fixedFee uint64) *big.Int {
	return new(big.Int).Add(tx.Value, new(big.Int).SetUint64(fixedFee))
}

// Hash is the transaction ID: the hash of the canonical serialization
// including the signature.
func (tx *Transaction) Hash() common.Hash {
	if h := tx.hash.Load(); h != nil {
		return h.(common.Hash)
	}
	w := codec.NewWriter()
	tx.EncodeAXL(w)
	h := crypto.Hash256(w.Bytes())
	tx.hash.Store(h)
	return h
}

func (tx *Transaction) EncodeAXL(w *codec.Writer) {
	w.PutUint64(tx.Nonce)
	w.PutUint64(tx.GasPrice)
	w.PutUint64(tx.GasLimit)
	w.PutBytes(tx.To.Bytes())
	w.PutUint128(tx.Value)
	w.PutVarBytes(tx.Data)
	w.PutBytes(tx.From.Bytes())
	w.PutBytes(tx.PubKey[:])
	w.PutBytes(tx.Signature[:])
}

func (tx *Transaction) DecodeAXL(r *codec.Reader) error {
	tx.Nonce = r.GetUint64()
	tx.GasPrice = r.GetUint64()
	tx.GasLimit = r.GetUint64()
	tx.To = common.BytesToAddress(r.GetBytes(common.AddressLength))
	tx.Value = r.GetUint128()
	tx.Data = r.GetVarBytes()
	tx.From = common.BytesToAddress(r.GetBytes(common.AddressLength))
	copy(tx.PubKey[:], r.GetBytes(32))
	copy(tx.Signature[:], r.GetBytes(64))
	tx.hash = atomic.Value{}
	return r.Err()
}

// Transactions is an ordered list, the body of a block.
type Transactions []*Transaction

// Hashes returns the transaction IDs in order, the Merkle-tree leaves.
func (txs Transactions) Hashes() []common.Hash {
	out := make([]common.Hash, len(txs))
	for i, tx := range txs {
		out[i] = tx.Hash()
	}
	return out
}

// ed25519PublicKey/PrivateKey are aliased locally so this file does not
// need to import crypto/ed25519 merely to name the parameter types of
// Sign; callers pass crypto/ed25519 values directly.
type ed25519PublicKey = []byte
type ed25519PrivateKey = []byte
