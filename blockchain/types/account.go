package types

import (
	"math/big"

	"github.com/axledger/axledger/ser/codec"
)

// Account is the per-address state entry: {nonce, balance}.
type Account struct {
	Nonce   uint64
	Balance *big.Int
}

// NewEmptyAccount returns the default account for an address never seen
// before: nonce 0, balance 0.
func NewEmptyAccount() *Account {
	return &Account{Balance: new(big.Int)}
}

// Copy returns a deep copy, since Account is mutated in place by the
// state processor but must not alias a cached/shared value.
func (a *Account) Copy() *Account {
	return &Account{Nonce: a.Nonce, Balance: new(big.Int).Set(a.Balance)}
}

func (a *Account) EncodeAXL(w *codec.Writer) {
	w.PutUint64(a.Nonce)
	w.PutUint128(a.Balance)
}

func (a *Account) DecodeAXL(r *codec.Reader) error {
	a.Nonce = r.GetUint64()
	a.Balance = r.GetUint128()
	return r.Err()
}

// Equal reports whether two accounts hold identical nonce/balance,
// used by state-trie determinism tests.
func (a *Account) Equal(other *Account) bool {
	if a == nil || other == nil {
		return a == other
	}
	return a.Nonce == other.Nonce && a.Balance.Cmp(other.Balance) == 0
}
