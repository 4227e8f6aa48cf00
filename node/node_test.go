package node

import (
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axledger/axledger/blockchain"
	"github.com/axledger/axledger/blockchain/types"
	"github.com/axledger/axledger/common"
)

func newTestNode(t *testing.T, cfg Config) *Node {
	t.Helper()
	cfg.DataDir = "" // in-memory storage
	n, err := New(&cfg)
	require.NoError(t, err)
	require.NoError(t, n.Start())
	t.Cleanup(n.Stop)
	return n
}

func freePort(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s: %s", timeout, msg)
}

// A fresh node boots to the deterministic genesis with the pre-funded
// account intact.
func TestGenesisBoot(t *testing.T) {
	n := newTestNode(t, Config{NetworkID: 1})

	info, apiErr := n.API().ChainInfo()
	require.Nil(t, apiErr)
	assert.Equal(t, uint64(0), info.Height)

	balance, nonce, apiErr := n.API().GetBalance(blockchain.GenesisAddress)
	require.Nil(t, apiErr)
	assert.Equal(t, 0, balance.Cmp(blockchain.GenesisBalance))
	assert.Equal(t, uint64(0), nonce)

	// Genesis is deterministic across nodes.
	other := newTestNode(t, Config{NetworkID: 1})
	otherInfo, apiErr := other.API().ChainInfo()
	require.Nil(t, apiErr)
	assert.Equal(t, info.TipID, otherInfo.TipID)
}

// A transfer submitted through the control plane is mined into a block
// and the balances move, fee included.
func TestSimpleTransferEndToEnd(t *testing.T) {
	n := newTestNode(t, Config{NetworkID: 1, Mining: true})

	to := common.BytesToAddress([]byte("transfer-recipient"))
	tx := types.NewTransaction(0, to, big.NewInt(100), 1, 21000, nil)
	require.NoError(t, tx.Sign(blockchain.GenesisPublicKey, blockchain.GenesisPrivateKey))

	_, apiErr := n.API().SubmitTransaction(tx)
	require.Nil(t, apiErr)

	waitFor(t, 30*time.Second, func() bool {
		balance, _, err := n.API().GetBalance(to)
		return err == nil && balance.Sign() > 0
	}, "transfer mined")

	balance, _, apiErr := n.API().GetBalance(to)
	require.Nil(t, apiErr)
	assert.Equal(t, 0, balance.Cmp(big.NewInt(100)))

	godBalance, godNonce, apiErr := n.API().GetBalance(blockchain.GenesisAddress)
	require.Nil(t, apiErr)
	want := new(big.Int).Sub(blockchain.GenesisBalance, big.NewInt(100+blockchain.FixedFee))
	assert.Equal(t, 0, godBalance.Cmp(want))
	assert.Equal(t, uint64(1), godNonce)

	// A second spend of nonce 0 is now stale and rejected outright.
	double := types.NewTransaction(0, to, big.NewInt(5), 1, 21000, nil)
	require.NoError(t, double.Sign(blockchain.GenesisPublicKey, blockchain.GenesisPrivateKey))
	_, apiErr = n.API().SubmitTransaction(double)
	require.NotNil(t, apiErr)
	assert.Equal(t, blockchain.KindValidation, apiErr.Kind)
}

// A node that connects late catches up to its peer's chain and agrees
// on balances.
func TestTwoNodeCatchUp(t *testing.T) {
	addr := freePort(t)
	a := newTestNode(t, Config{NetworkID: 1, ListenAddr: addr, Mining: true})

	// Let A mine a few blocks on its own.
	waitFor(t, 60*time.Second, func() bool {
		info, err := a.API().ChainInfo()
		return err == nil && info.Height >= 3
	}, "A mined 3 blocks")
	a.Miner().Stop()

	b := newTestNode(t, Config{NetworkID: 1, StaticPeers: []string{addr}})

	waitFor(t, 60*time.Second, func() bool {
		ai, aerr := a.API().ChainInfo()
		bi, berr := b.API().ChainInfo()
		return aerr == nil && berr == nil && ai.TipID == bi.TipID
	}, "B caught up to A")
}
