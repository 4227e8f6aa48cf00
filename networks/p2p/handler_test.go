package p2p

import (
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axledger/axledger/blockchain"
	"github.com/axledger/axledger/blockchain/state"
	"github.com/axledger/axledger/blockchain/txpool"
	"github.com/axledger/axledger/blockchain/types"
	"github.com/axledger/axledger/common"
	"github.com/axledger/axledger/ser/codec"
	"github.com/axledger/axledger/storage/database"
)

type testNode struct {
	dbm  database.DBManager
	bc   *blockchain.BlockChain
	pool *txpool.TxPool
	pm   *ProtocolManager
}

func newTestNode(t *testing.T, cfg Config) *testNode {
	t.Helper()
	dbm := database.NewMemDBManager()
	bc, err := blockchain.NewBlockChain(dbm)
	require.NoError(t, err)
	pool := txpool.New()
	pm, err := NewProtocolManager(cfg, bc, pool, nil)
	require.NoError(t, err)
	require.NoError(t, pm.Start())
	t.Cleanup(pm.Stop)
	return &testNode{dbm: dbm, bc: bc, pool: pool, pm: pm}
}

// extendChain mines n sequential blocks on top of the node's tip.
func extendChain(t *testing.T, n *testNode, count int) {
	t.Helper()
	for i := 0; i < count; i++ {
		parent, err := n.bc.TipBlock()
		require.NoError(t, err)
		parentHeader := parent.Header()

		store := n.dbm.GetDatabase(database.StateNodesDB)
		sv := state.New(parentHeader.StateRoot, store)
		header := &types.Header{
			ParentHash:  parent.Hash(),
			Difficulty:  n.bc.CalcDifficulty(parentHeader),
			TimestampMs: parentHeader.TimestampMs + 1000,
			MerkleRoot:  types.DeriveMerkleRoot(nil),
			StateRoot:   sv.Root(),
		}
		target := common.BytesToHash(header.Difficulty.FillBytes(make([]byte, common.HashLength)))
		for nonce := uint64(0); ; nonce++ {
			header.Nonce = nonce
			if header.Hash().LessOrEqual(target) {
				break
			}
		}
		res, err := n.bc.InsertBlock(types.NewBlock(header, nil))
		require.NoError(t, err)
		require.Equal(t, blockchain.Accepted, res)
	}
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

func freePort(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func TestHandshakeAndPeerTable(t *testing.T) {
	addr := freePort(t)
	a := newTestNode(t, Config{NetworkID: 1, ListenAddr: addr})
	b := newTestNode(t, Config{NetworkID: 1, StaticPeers: []string{addr}})

	waitFor(t, 10*time.Second, func() bool {
		return a.pm.PeerCount() == 1 && b.pm.PeerCount() == 1
	}, "peers connected")

	peer := b.pm.peers.BestPeer()
	require.NotNil(t, peer)
	assert.Equal(t, a.pm.NodeID(), peer.ID())
	assert.Equal(t, int32(syncIdle), peer.SyncState())
}

func TestNetworkIDMismatchDisconnects(t *testing.T) {
	addr := freePort(t)
	a := newTestNode(t, Config{NetworkID: 1, ListenAddr: addr})
	b := newTestNode(t, Config{NetworkID: 2, StaticPeers: []string{addr}})

	time.Sleep(500 * time.Millisecond)
	assert.Equal(t, 0, a.pm.PeerCount())
	assert.Equal(t, 0, b.pm.PeerCount())
}

func TestTransactionGossip(t *testing.T) {
	addr := freePort(t)
	a := newTestNode(t, Config{NetworkID: 1, ListenAddr: addr})
	b := newTestNode(t, Config{NetworkID: 1, StaticPeers: []string{addr}})

	waitFor(t, 10*time.Second, func() bool {
		return a.pm.PeerCount() == 1 && b.pm.PeerCount() == 1
	}, "peers connected")

	to := common.BytesToAddress([]byte("gossip-recipient"))
	tx := types.NewTransaction(0, to, big.NewInt(77), 5, 21000, nil)
	require.NoError(t, tx.Sign(blockchain.GenesisPublicKey, blockchain.GenesisPrivateKey))

	tip, _, _ := a.bc.Tip()
	sv, err := a.bc.StateAt(tip)
	require.NoError(t, err)
	res, err := a.pool.Insert(tx, sv)
	require.NoError(t, err)
	require.Equal(t, txpool.Added, res)

	waitFor(t, 10*time.Second, func() bool {
		return b.pool.Get(tx.Hash()) != nil
	}, "transaction gossiped to B")
}

func TestSyncCatchUp(t *testing.T) {
	addr := freePort(t)
	a := newTestNode(t, Config{NetworkID: 1, ListenAddr: addr})
	extendChain(t, a, 5)

	b := newTestNode(t, Config{NetworkID: 1, StaticPeers: []string{addr}})

	aTip, aHeight, _ := a.bc.Tip()
	require.Equal(t, uint64(5), aHeight)

	waitFor(t, 30*time.Second, func() bool {
		bTip, _, _ := b.bc.Tip()
		return bTip == aTip
	}, "B caught up to A's tip")
}

func TestBlockAnnouncementPropagates(t *testing.T) {
	addr := freePort(t)
	a := newTestNode(t, Config{NetworkID: 1, ListenAddr: addr})
	b := newTestNode(t, Config{NetworkID: 1, StaticPeers: []string{addr}})

	waitFor(t, 10*time.Second, func() bool {
		return a.pm.PeerCount() == 1 && b.pm.PeerCount() == 1
	}, "peers connected")

	extendChain(t, a, 1)
	aTip, _, _ := a.bc.Tip()

	// The next heartbeat advertises A's heavier chain and B fetches it.
	waitFor(t, 30*time.Second, func() bool {
		bTip, _, _ := b.bc.Tip()
		return bTip == aTip
	}, "announced block reached B")
}

func TestAnnQueueDropsOldestOnOverflow(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	p := newPeer(server, false)
	// No broadcast loop is running, so the queue only fills.
	for i := 0; i < cap(p.queuedAnns)+16; i++ {
		ann := hashesData{common.BytesToHash([]byte{byte(i), byte(i >> 8)})}
		p.EnqueueAnn(NewBlockHashesMsg, &ann)
	}
	assert.Equal(t, cap(p.queuedAnns), len(p.queuedAnns))

	// The first 16 announcements were dropped, so the head is the 17th.
	oldest := <-p.queuedAnns
	var got hashesData
	require.NoError(t, codec.Decode(oldest.payload, &got))
	assert.Equal(t, common.BytesToHash([]byte{16, 0}), got[0])
	p.close()
}
