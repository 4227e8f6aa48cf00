// Package node assembles a full axledger node: storage, chain engine,
// mempool, miner, gossip worker, and the control-plane backend, with
// one Start/Stop life cycle over all of them.
package node

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/axledger/axledger/api"
	"github.com/axledger/axledger/blockchain"
	"github.com/axledger/axledger/blockchain/txpool"
	"github.com/axledger/axledger/consensus"
	"github.com/axledger/axledger/event"
	"github.com/axledger/axledger/log"
	"github.com/axledger/axledger/networks/p2p"
	"github.com/axledger/axledger/storage/database"
	"github.com/axledger/axledger/work"
)

var logger = log.NewModuleLogger(log.ModuleNode)

// Node owns every subsystem of a running daemon.
type Node struct {
	config *Config

	dbm   database.DBManager
	chain *blockchain.BlockChain
	pool  *txpool.TxPool
	miner *work.Worker
	pm    *p2p.ProtocolManager
	api   *api.Backend

	chainHeadCh  chan blockchain.ChainHeadEvent
	chainHeadSub event.Subscription

	quit chan struct{}
	wg   sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once
}

type minerBackend struct {
	bc   *blockchain.BlockChain
	pool *txpool.TxPool
}

func (b *minerBackend) BlockChain() *blockchain.BlockChain { return b.bc }
func (b *minerBackend) TxPool() *txpool.TxPool             { return b.pool }

// New builds a node from config: opens (or creates) the database,
// loads or synthesizes the chain, and wires mempool, miner, gossip,
// and the control plane together. Storage failures here are fatal to
// the caller; nothing is partially started.
func New(cfg *Config) (*Node, error) {
	var (
		dbm database.DBManager
		err error
	)
	if cfg.DataDir == "" {
		dbm = database.NewMemDBManager()
	} else {
		cacheMB, cerr := cfg.dbCacheBytes()
		if cerr != nil {
			return nil, cerr
		}
		dbm, err = database.NewDBManager(cfg.DataDir, cacheMB, cfg.DBHandles)
		if err != nil {
			return nil, errors.Wrapf(err, "open database in %s", cfg.DataDir)
		}
	}

	chain, err := blockchain.NewBlockChain(dbm)
	if err != nil {
		dbm.Close()
		return nil, errors.Wrap(err, "open blockchain")
	}

	pool := txpool.New()
	miner := work.New(&minerBackend{bc: chain, pool: pool}, consensus.NewPoW())

	pm, err := p2p.NewProtocolManager(p2p.Config{
		NetworkID:   cfg.NetworkID,
		ListenAddr:  cfg.ListenAddr,
		StaticPeers: cfg.StaticPeers,
		EnableNAT:   cfg.EnableNAT,
	}, chain, pool, miner)
	if err != nil {
		dbm.Close()
		return nil, errors.Wrap(err, "build p2p worker")
	}

	return &Node{
		config: cfg,
		dbm:    dbm,
		chain:  chain,
		pool:   pool,
		miner:  miner,
		pm:     pm,
		api:    api.NewBackend(chain, pool, miner),
		quit:   make(chan struct{}),
	}, nil
}

// API returns the control-plane backend the wallet layer consumes.
func (n *Node) API() *api.Backend { return n.api }

// BlockChain returns the node's chain engine.
func (n *Node) BlockChain() *blockchain.BlockChain { return n.chain }

// TxPool returns the node's mempool.
func (n *Node) TxPool() *txpool.TxPool { return n.pool }

// Miner returns the node's PoW worker.
func (n *Node) Miner() *work.Worker { return n.miner }

// ProtocolManager returns the node's gossip worker.
func (n *Node) ProtocolManager() *p2p.ProtocolManager { return n.pm }

// Start brings the gossip worker up, begins mempool maintenance, and
// starts the miner when configured to.
func (n *Node) Start() error {
	var startErr error
	n.startOnce.Do(func() {
		if err := n.pm.Start(); err != nil {
			startErr = err
			return
		}

		n.chainHeadCh = make(chan blockchain.ChainHeadEvent, 10)
		n.chainHeadSub = n.chain.SubscribeChainHeadEvent(n.chainHeadCh)
		n.wg.Add(1)
		go n.mempoolMaintenanceLoop()

		if n.config.Mining {
			n.miner.Start(n.config.MineIntervalMs)
		}
		tip, height, _ := n.chain.Tip()
		logger.Info("Node started", "tip", tip, "height", height, "network", n.config.NetworkID)
	})
	return startErr
}

// mempoolMaintenanceLoop evicts transactions made stale by each new
// head: anything included in a committed block, or whose nonce the
// winning chain has already passed.
func (n *Node) mempoolMaintenanceLoop() {
	defer n.wg.Done()
	for {
		select {
		case ev := <-n.chainHeadCh:
			for _, tx := range ev.Block.Body() {
				n.pool.Remove(tx.Hash())
			}
			sv, err := n.chain.StateAt(ev.Block.Hash())
			if err != nil {
				logger.Warn("Mempool maintenance skipped", "err", err)
				continue
			}
			if err := n.pool.EvictStale(sv); err != nil {
				logger.Warn("Stale transaction eviction failed", "err", err)
			}
		case <-n.chainHeadSub.Err():
			return
		case <-n.quit:
			return
		}
	}
}

// Stop shuts every subsystem down in dependency order: miner first (no
// new blocks), then gossip, then storage.
func (n *Node) Stop() {
	n.stopOnce.Do(func() {
		n.miner.Stop()
		n.pm.Stop()
		close(n.quit)
		if n.chainHeadSub != nil {
			n.chainHeadSub.Unsubscribe()
		}
		n.wg.Wait()
		n.dbm.Close()
		logger.Info("Node stopped")
	})
}
