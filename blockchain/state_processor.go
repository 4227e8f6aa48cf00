// Transaction execution is plain value transfer: no gas pool, no VM,
// no contract creation.
package blockchain

import (
	"math/big"

	"github.com/axledger/axledger/blockchain/state"
	"github.com/axledger/axledger/blockchain/types"
)

// FixedFee is the flat fee deducted from the sender on every executed
// transaction, applied uniformly by validation, execution, and mempool
// admission; gas_price/gas_limit are recorded but not metered.
const FixedFee = 1

// ApplyTransaction executes one transaction against sv in place:
//   - verify signature and recover from,
//   - require nonce == account.nonce,
//   - require balance >= value + fixed_fee,
//   - debit sender by value + fixed_fee, credit recipient by value,
//   - increment sender's nonce,
//   - implicitly create the recipient with nonce 0 if it didn't exist:
//     an absent account reads back as the zero account and is written
//     back with its new balance.
//
// A failing check returns a *Error before any write: KindCrypto for a
// bad signature, KindValidation for a nonce or balance failure. A
// KindStorage error from the recipient read or write comes after the
// sender has already been debited in sv.
func ApplyTransaction(sv *state.StateView, tx *types.Transaction) error {
	if err := tx.VerifySignature(); err != nil {
		return newError(KindCrypto, "%v", err)
	}

	fromAcc, err := sv.GetAccount(tx.From)
	if err != nil {
		return newError(KindStorage, "read sender account: %v", err)
	}
	if tx.Nonce != fromAcc.Nonce {
		return newError(KindValidation, "nonce mismatch: tx has %d, account has %d", tx.Nonce, fromAcc.Nonce)
	}

	cost := tx.Cost(FixedFee)
	if fromAcc.Balance.Cmp(cost) < 0 {
		return newError(KindValidation, "insufficient balance: have %s, need %s", fromAcc.Balance, cost)
	}

	// Debit the sender by value+fee and bump its nonce; the fee itself
	// has no beneficiary (no coinbase/miner reward is modeled) and is
	// simply removed from circulation.
	fromAcc.Balance = new(big.Int).Sub(fromAcc.Balance, cost)
	fromAcc.Nonce++
	if err := sv.PutAccount(tx.From, fromAcc); err != nil {
		return newError(KindStorage, "debit sender: %v", err)
	}

	toAcc, err := sv.GetAccount(tx.To)
	if err != nil {
		return newError(KindStorage, "read recipient account: %v", err)
	}
	toAcc.Balance = new(big.Int).Add(toAcc.Balance, tx.Value)
	if err := sv.PutAccount(tx.To, toAcc); err != nil {
		return newError(KindStorage, "credit recipient: %v", err)
	}
	return nil
}

// ApplyTransactions executes txs in order against sv, aborting with no
// partial effect recorded by the caller if any transaction fails: the
// caller is expected to have opened sv as a fresh view (state.New or
// StateAt) so a failure can simply be discarded: a failing transaction
// invalidates the whole block, with no partial execution.
func ApplyTransactions(sv *state.StateView, txs types.Transactions) error {
	for i, tx := range txs {
		if err := ApplyTransaction(sv, tx); err != nil {
			return newError(KindValidation, "tx %d (%s): %v", i, tx.Hash(), err)
		}
	}
	return nil
}
