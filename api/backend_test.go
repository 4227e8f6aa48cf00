package api

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axledger/axledger/blockchain"
	"github.com/axledger/axledger/blockchain/txpool"
	"github.com/axledger/axledger/blockchain/types"
	"github.com/axledger/axledger/common"
	"github.com/axledger/axledger/consensus"
	"github.com/axledger/axledger/storage/database"
	"github.com/axledger/axledger/work"
)

type minerBackend struct {
	bc   *blockchain.BlockChain
	pool *txpool.TxPool
}

func (b *minerBackend) BlockChain() *blockchain.BlockChain { return b.bc }
func (b *minerBackend) TxPool() *txpool.TxPool             { return b.pool }

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	dbm := database.NewMemDBManager()
	bc, err := blockchain.NewBlockChain(dbm)
	require.NoError(t, err)
	pool := txpool.New()
	miner := work.New(&minerBackend{bc: bc, pool: pool}, consensus.NewPoW())
	return NewBackend(bc, pool, miner)
}

func TestGetBalanceGenesis(t *testing.T) {
	b := newTestBackend(t)

	balance, nonce, apiErr := b.GetBalance(blockchain.GenesisAddress)
	require.Nil(t, apiErr)
	assert.Equal(t, 0, balance.Cmp(blockchain.GenesisBalance))
	assert.Equal(t, uint64(0), nonce)

	// An untouched account reads as the zero account.
	balance, nonce, apiErr = b.GetBalance(common.BytesToAddress([]byte("nobody")))
	require.Nil(t, apiErr)
	assert.Equal(t, 0, balance.Sign())
	assert.Equal(t, uint64(0), nonce)
}

func TestChainInfo(t *testing.T) {
	b := newTestBackend(t)

	info, apiErr := b.ChainInfo()
	require.Nil(t, apiErr)
	assert.Equal(t, uint64(0), info.Height)
	assert.False(t, info.TipID.IsZero())
	assert.True(t, info.TotalDifficulty.Sign() > 0)
}

func TestSubmitTransaction(t *testing.T) {
	b := newTestBackend(t)

	to := common.BytesToAddress([]byte("api-recipient"))
	tx := types.NewTransaction(0, to, big.NewInt(10), 1, 21000, nil)
	require.NoError(t, tx.Sign(blockchain.GenesisPublicKey, blockchain.GenesisPrivateKey))

	hash, apiErr := b.SubmitTransaction(tx)
	require.Nil(t, apiErr)
	assert.Equal(t, tx.Hash(), hash)

	// Resubmission is rejected, not silently deduplicated.
	_, apiErr = b.SubmitTransaction(tx)
	require.NotNil(t, apiErr)
	assert.Equal(t, blockchain.KindValidation, apiErr.Kind)
}

func TestSubmitTransactionBadSignature(t *testing.T) {
	b := newTestBackend(t)

	to := common.BytesToAddress([]byte("api-recipient"))
	tx := types.NewTransaction(0, to, big.NewInt(10), 1, 21000, nil)
	// Unsigned: admission must fail.
	_, apiErr := b.SubmitTransaction(tx)
	require.NotNil(t, apiErr)
}

func TestMinerControl(t *testing.T) {
	b := newTestBackend(t)

	st, apiErr := b.MinerStatus()
	require.Nil(t, apiErr)
	assert.False(t, st.Mining)

	require.Nil(t, b.MinerStart(250))
	st, apiErr = b.MinerStatus()
	require.Nil(t, apiErr)
	assert.True(t, st.Mining)
	assert.Equal(t, uint64(250), st.IntervalMs)

	require.Nil(t, b.MinerStop())
	st, apiErr = b.MinerStatus()
	require.Nil(t, apiErr)
	assert.False(t, st.Mining)
}
