package work

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axledger/axledger/blockchain"
	"github.com/axledger/axledger/blockchain/txpool"
	"github.com/axledger/axledger/blockchain/types"
	"github.com/axledger/axledger/common"
	"github.com/axledger/axledger/consensus"
	"github.com/axledger/axledger/storage/database"
)

type testBackend struct {
	bc   *blockchain.BlockChain
	pool *txpool.TxPool
}

func (b *testBackend) BlockChain() *blockchain.BlockChain { return b.bc }
func (b *testBackend) TxPool() *txpool.TxPool             { return b.pool }

func newTestBackend(t *testing.T) *testBackend {
	t.Helper()
	dbm := database.NewMemDBManager()
	bc, err := blockchain.NewBlockChain(dbm)
	require.NoError(t, err)
	return &testBackend{bc: bc, pool: txpool.New()}
}

func waitForMined(t *testing.T, ch <-chan blockchain.NewMinedBlockEvent, timeout time.Duration) *types.Block {
	t.Helper()
	select {
	case ev := <-ch:
		return ev.Block
	case <-time.After(timeout):
		t.Fatal("no block mined within deadline")
		return nil
	}
}

func TestWorkerMinesEmptyBlock(t *testing.T) {
	backend := newTestBackend(t)
	worker := New(backend, consensus.NewPoW())

	minedCh := make(chan blockchain.NewMinedBlockEvent, 4)
	sub := worker.SubscribeNewMinedBlockEvent(minedCh)
	defer sub.Unsubscribe()

	worker.Start(0)
	defer worker.Stop()

	block := waitForMined(t, minedCh, 30*time.Second)
	assert.Equal(t, 0, block.NumTx())

	_, height, _ := backend.bc.Tip()
	assert.GreaterOrEqual(t, height, uint64(1))
}

func TestWorkerIncludesPendingTransactions(t *testing.T) {
	backend := newTestBackend(t)

	recipient := common.BytesToAddress([]byte("worker-test-recipient"))
	tx := types.NewTransaction(0, recipient, big.NewInt(250), 1, 21000, nil)
	require.NoError(t, tx.Sign(blockchain.GenesisPublicKey, blockchain.GenesisPrivateKey))

	sv, err := backend.bc.StateAt(mustTipHash(backend.bc))
	require.NoError(t, err)
	res, err := backend.pool.Insert(tx, sv)
	require.NoError(t, err)
	require.Equal(t, txpool.Added, res)

	worker := New(backend, consensus.NewPoW())
	minedCh := make(chan blockchain.NewMinedBlockEvent, 4)
	sub := worker.SubscribeNewMinedBlockEvent(minedCh)
	defer sub.Unsubscribe()

	worker.Start(0)
	defer worker.Stop()

	deadline := time.After(30 * time.Second)
	for {
		var block *types.Block
		select {
		case ev := <-minedCh:
			block = ev.Block
		case <-deadline:
			t.Fatal("transaction never included")
		}
		if block.NumTx() == 0 {
			continue
		}
		require.Equal(t, 1, block.NumTx())
		assert.Equal(t, tx.Hash(), block.Body()[0].Hash())

		sv, err := backend.bc.StateAt(mustTipHash(backend.bc))
		require.NoError(t, err)
		got, err := sv.GetBalance(recipient)
		require.NoError(t, err)
		assert.Equal(t, 0, got.Cmp(big.NewInt(250)))
		return
	}
}

func TestWorkerStatusAndStop(t *testing.T) {
	backend := newTestBackend(t)
	worker := New(backend, consensus.NewPoW())

	assert.False(t, worker.Status().Mining)

	worker.Start(500)
	st := worker.Status()
	assert.True(t, st.Mining)
	assert.Equal(t, uint64(500), st.IntervalMs)

	worker.Stop()
	assert.False(t, worker.Status().Mining)

	// Stop is idempotent.
	worker.Stop()
	assert.False(t, worker.Status().Mining)
}

func mustTipHash(bc *blockchain.BlockChain) common.Hash {
	hash, _, _ := bc.Tip()
	return hash
}
