package p2p

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-uuid"
	"github.com/pkg/errors"

	"github.com/axledger/axledger/blockchain"
	"github.com/axledger/axledger/blockchain/txpool"
	"github.com/axledger/axledger/blockchain/types"
	"github.com/axledger/axledger/common"
	"github.com/axledger/axledger/event"
	"github.com/axledger/axledger/log"
	"github.com/axledger/axledger/metrics"
	"github.com/axledger/axledger/params"
	"github.com/axledger/axledger/ser/codec"
)

var logger = log.NewModuleLogger(log.ModuleP2P)

var (
	peerGauge           = metrics.NewRegisteredGauge("p2p/peers", nil)
	inboundMsgMeter     = metrics.NewRegisteredMeter("p2p/in", nil)
	outboundConnCounter = metrics.NewRegisteredCounter("p2p/dials", nil)
	bannedPeerCounter   = metrics.NewRegisteredCounter("p2p/banned", nil)
	syncRoundCounter    = metrics.NewRegisteredCounter("p2p/syncrounds", nil)
)

const (
	// txChanSize is the size of channel listening to NewTxsEvent,
	// referenced from the size of the tx pool.
	txChanSize = 4096

	minedBlockChanSize = 10

	// maxInvalidBlocks is how many invalid blocks a peer may deliver
	// before it is banned.
	maxInvalidBlocks = 3
)

// Miner is the slice of the mining worker the gossip layer needs:
// sealed-and-committed block notifications.
type Miner interface {
	SubscribeNewMinedBlockEvent(ch chan<- blockchain.NewMinedBlockEvent) event.Subscription
}

// Config collects the dial/listen parameters of a ProtocolManager.
type Config struct {
	NetworkID   uint64
	ListenAddr  string   // empty disables the listening endpoint
	StaticPeers []string // outbound dial targets, host:port
	EnableNAT   bool
}

// ProtocolManager runs the gossip protocol: it owns the peer table,
// serves and requests blocks and transactions, and keeps this node's
// chain in sync with the best peer it can see.
type ProtocolManager struct {
	config Config
	nodeID string

	chain  *blockchain.BlockChain
	txpool *txpool.TxPool

	genesisHash common.Hash

	peers *peerSet

	bannedMu sync.Mutex
	banned   map[string]time.Time // remote IP -> ban expiry

	seenHashes common.Cache // recently handled announcement hashes

	// one block-fetch conversation at a time
	fetchMu     sync.Mutex
	fetchPeerID string
	fetchCh     chan blocksData
	syncing     int32

	txsCh        chan blockchain.NewTxsEvent
	txsSub       event.Subscription
	minedBlockCh chan blockchain.NewMinedBlockEvent
	minedSub     event.Subscription

	listener net.Listener

	quit chan struct{}
	wg   sync.WaitGroup
}

// NewProtocolManager wires a gossip worker over the given chain and
// mempool. miner may be nil on a non-mining node.
func NewProtocolManager(config Config, chain *blockchain.BlockChain, pool *txpool.TxPool, miner Miner) (*ProtocolManager, error) {
	nodeID, err := uuid.GenerateUUID()
	if err != nil {
		return nil, errors.Wrap(err, "generate node id")
	}
	// Sharded: this one cache is hit from every peer's read loop at once.
	seen, err := common.NewCache(common.LRUShardConfig{CacheSize: params.KnownHashCacheSize, NumShards: 8})
	if err != nil {
		return nil, err
	}

	pm := &ProtocolManager{
		config:      config,
		nodeID:      nodeID,
		chain:       chain,
		txpool:      pool,
		genesisHash: chain.LongestChain()[0],
		peers:       newPeerSet(),
		banned:      make(map[string]time.Time),
		seenHashes:  seen,
		quit:        make(chan struct{}),
	}

	pm.txsCh = make(chan blockchain.NewTxsEvent, txChanSize)
	pm.txsSub = pool.SubscribeNewTxsEvent(pm.txsCh)
	if miner != nil {
		pm.minedBlockCh = make(chan blockchain.NewMinedBlockEvent, minedBlockChanSize)
		pm.minedSub = miner.SubscribeNewMinedBlockEvent(pm.minedBlockCh)
	}
	return pm, nil
}

// NodeID returns this node's self-chosen gossip identifier.
func (pm *ProtocolManager) NodeID() string { return pm.nodeID }

// PeerCount returns the number of live, handshaken peers.
func (pm *ProtocolManager) PeerCount() int { return pm.peers.Len() }

// ListenAddr returns the bound listener address, or "" when not
// listening. Useful when the configured address had port 0.
func (pm *ProtocolManager) ListenAddr() string {
	if pm.listener == nil {
		return ""
	}
	return pm.listener.Addr().String()
}

// Start brings up the listener, the static dialers, and the gossip and
// sync loops.
func (pm *ProtocolManager) Start() error {
	if pm.config.ListenAddr != "" {
		ln, err := net.Listen("tcp", pm.config.ListenAddr)
		if err != nil {
			return errors.Wrapf(err, "listen on %s", pm.config.ListenAddr)
		}
		pm.listener = ln
		if pm.config.EnableNAT {
			if addr, ok := ln.Addr().(*net.TCPAddr); ok {
				pm.wg.Add(1)
				go func() {
					defer pm.wg.Done()
					mapPort(addr.Port, pm.quit)
				}()
			}
		}
		pm.wg.Add(1)
		go pm.acceptLoop()
	}

	for _, addr := range pm.config.StaticPeers {
		pm.wg.Add(1)
		go pm.dialLoop(addr)
	}

	pm.wg.Add(2)
	go pm.txBroadcastLoop()
	go pm.syncLoop()
	if pm.minedSub != nil {
		pm.wg.Add(1)
		go pm.minedBroadcastLoop()
	}
	logger.Info("P2P worker started", "id", pm.nodeID, "listen", pm.ListenAddr(), "static", len(pm.config.StaticPeers))
	return nil
}

// Stop disconnects all peers and waits for the worker goroutines.
func (pm *ProtocolManager) Stop() {
	close(pm.quit)
	if pm.listener != nil {
		pm.listener.Close()
	}
	pm.txsSub.Unsubscribe()
	if pm.minedSub != nil {
		pm.minedSub.Unsubscribe()
	}
	pm.peers.Close()
	pm.wg.Wait()
	logger.Info("P2P worker stopped")
}

func (pm *ProtocolManager) acceptLoop() {
	defer pm.wg.Done()
	for {
		conn, err := pm.listener.Accept()
		if err != nil {
			select {
			case <-pm.quit:
				return
			default:
			}
			logger.Debug("Accept failed", "err", err)
			continue
		}
		if pm.isBanned(conn.RemoteAddr()) {
			logger.Debug("Rejecting banned peer", "addr", conn.RemoteAddr())
			conn.Close()
			continue
		}
		pm.wg.Add(1)
		go func() {
			defer pm.wg.Done()
			pm.handle(conn, true)
		}()
	}
}

// dialLoop keeps one outbound connection alive to addr, reconnecting
// with exponential backoff after failures.
func (pm *ProtocolManager) dialLoop(addr string) {
	defer pm.wg.Done()
	backoff := params.DialBackoffMin
	for {
		select {
		case <-pm.quit:
			return
		default:
		}

		conn, err := net.DialTimeout("tcp", addr, params.HandshakeTimeout)
		if err != nil {
			logger.Debug("Dial failed", "addr", addr, "backoff", backoff, "err", err)
		} else {
			outboundConnCounter.Inc(1)
			backoff = params.DialBackoffMin
			pm.handle(conn, false)
			// Connection ended; back off a little before redialing so a
			// crashing remote doesn't busy-loop us.
		}

		select {
		case <-time.After(backoff):
		case <-pm.quit:
			return
		}
		if backoff *= 2; backoff > params.DialBackoffMax {
			backoff = params.DialBackoffMax
		}
	}
}

func (pm *ProtocolManager) isBanned(addr net.Addr) bool {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return false
	}
	pm.bannedMu.Lock()
	defer pm.bannedMu.Unlock()
	until, ok := pm.banned[host]
	if !ok {
		return false
	}
	if time.Now().After(until) {
		delete(pm.banned, host)
		return false
	}
	return true
}

func (pm *ProtocolManager) ban(p *Peer) {
	host, _, err := net.SplitHostPort(p.RemoteAddr().String())
	if err != nil {
		return
	}
	pm.bannedMu.Lock()
	pm.banned[host] = time.Now().Add(params.PeerBanDuration)
	pm.bannedMu.Unlock()
	bannedPeerCounter.Inc(1)
	logger.Warn("Peer banned", "id", p.ID(), "addr", host, "for", params.PeerBanDuration)
}

func (pm *ProtocolManager) selfStatus() *statusData {
	head, height, td := pm.chain.Tip()
	return &statusData{
		NodeID:    pm.nodeID,
		NetworkID: pm.config.NetworkID,
		Genesis:   pm.genesisHash,
		Head:      head,
		Height:    height,
		TD:        td,
	}
}

// handle drives one connection's life cycle: handshake, registration,
// read loop, teardown.
func (pm *ProtocolManager) handle(conn net.Conn, inbound bool) {
	p := newPeer(conn, inbound)
	defer p.close()

	if _, err := p.Handshake(pm.selfStatus()); err != nil {
		logger.Debug("Handshake failed", "addr", conn.RemoteAddr(), "err", err)
		return
	}
	if err := pm.peers.Register(p); err != nil {
		logger.Debug("Peer registration failed", "id", p.ID(), "err", err)
		return
	}
	peerGauge.Update(int64(pm.peers.Len()))
	logger.Info("Peer connected", "id", p.ID(), "addr", conn.RemoteAddr(), "inbound", inbound)

	defer func() {
		pm.peers.Unregister(p.ID())
		peerGauge.Update(int64(pm.peers.Len()))
		logger.Info("Peer disconnected", "id", p.ID())
	}()

	go p.broadcast()

	var invalidBlocks int
	for {
		kind, payload, err := p.readMsg()
		if err != nil {
			logger.Debug("Read failed", "id", p.ID(), "err", err)
			return
		}
		inboundMsgMeter.Mark(1)
		if err := pm.handleMsg(p, kind, payload, &invalidBlocks); err != nil {
			logger.Debug("Message handling failed, disconnecting", "id", p.ID(), "kind", kind, "err", err)
			return
		}
	}
}

// handleMsg dispatches one inbound frame. A returned error disconnects
// the peer.
func (pm *ProtocolManager) handleMsg(p *Peer, kind uint8, payload []byte, invalidBlocks *int) error {
	switch kind {
	case PingMsg:
		status := &statusData{}
		if err := codec.Decode(payload, status); err != nil {
			return errors.Wrapf(err, "%s", errCode(ErrDecode))
		}
		p.SetHead(status.Head, status.Height, status.TD)
		return p.EnqueueMsg(PongMsg, pm.selfStatus())

	case PongMsg:
		status := &statusData{}
		if err := codec.Decode(payload, status); err != nil {
			return errors.Wrapf(err, "%s", errCode(ErrDecode))
		}
		p.SetHead(status.Head, status.Height, status.TD)
		return nil

	case NewBlockHashesMsg:
		var anns hashesData
		if err := codec.Decode(payload, &anns); err != nil {
			return errors.Wrapf(err, "%s", errCode(ErrDecode))
		}
		var want hashesData
		for _, hash := range anns {
			p.AddToKnownBlocks(hash)
			if _, ok := pm.chain.GetBlock(hash); ok {
				continue
			}
			if pm.seenHashes.Contains(hash) {
				continue
			}
			pm.seenHashes.Add(hash, struct{}{})
			want = append(want, hash)
		}
		if len(want) == 0 {
			return nil
		}
		return p.EnqueueMsg(GetBlocksMsg, &want)

	case GetBlocksMsg:
		var req hashesData
		if err := codec.Decode(payload, &req); err != nil {
			return errors.Wrapf(err, "%s", errCode(ErrDecode))
		}
		if len(req) > params.SyncBatchSize {
			req = req[:params.SyncBatchSize]
		}
		var resp blocksData
		for _, hash := range req {
			if block, ok := pm.chain.GetBlock(hash); ok {
				resp = append(resp, block)
			}
		}
		return p.EnqueueMsg(BlocksMsg, &resp)

	case BlocksMsg:
		var blocks blocksData
		if err := codec.Decode(payload, &blocks); err != nil {
			return errors.Wrapf(err, "%s", errCode(ErrDecode))
		}
		if pm.deliverFetch(p, blocks) {
			return nil
		}
		return pm.importBlocks(p, blocks, invalidBlocks)

	case NewTxHashesMsg:
		var anns hashesData
		if err := codec.Decode(payload, &anns); err != nil {
			return errors.Wrapf(err, "%s", errCode(ErrDecode))
		}
		var want hashesData
		for _, hash := range anns {
			p.AddToKnownTxs(hash)
			if pm.txpool.Get(hash) != nil || pm.seenHashes.Contains(hash) {
				continue
			}
			pm.seenHashes.Add(hash, struct{}{})
			want = append(want, hash)
		}
		if len(want) == 0 {
			return nil
		}
		return p.EnqueueMsg(GetTxsMsg, &want)

	case GetTxsMsg:
		var req hashesData
		if err := codec.Decode(payload, &req); err != nil {
			return errors.Wrapf(err, "%s", errCode(ErrDecode))
		}
		var resp txsData
		for _, hash := range req {
			if tx := pm.txpool.Get(hash); tx != nil {
				resp = append(resp, tx)
			}
		}
		return p.EnqueueMsg(TxsMsg, &resp)

	case TxsMsg:
		var txs txsData
		if err := codec.Decode(payload, &txs); err != nil {
			return errors.Wrapf(err, "%s", errCode(ErrDecode))
		}
		tip, _, _ := pm.chain.Tip()
		sv, err := pm.chain.StateAt(tip)
		if err != nil {
			return errors.Wrap(err, "open tip state")
		}
		for _, tx := range txs {
			p.AddToKnownTxs(tx.Hash())
			if _, err := pm.txpool.Insert(tx, sv); err != nil {
				logger.Trace("Rejected gossiped transaction", "hash", tx.Hash(), "err", err)
			}
		}
		return nil

	case GetHeightMsg:
		head, height, td := pm.chain.Tip()
		return p.EnqueueMsg(HeightMsg, &heightData{Height: height, Head: head, TD: td})

	case HeightMsg:
		var h heightData
		if err := codec.Decode(payload, &h); err != nil {
			return errors.Wrapf(err, "%s", errCode(ErrDecode))
		}
		p.SetHead(h.Head, h.Height, h.TD)
		return nil

	default:
		return errors.Errorf("%s: %#x", errCode(ErrInvalidMsgCode), kind)
	}
}

// importBlocks inserts unsolicited blocks (replies to announcement
// fetches). Accepted blocks are relayed onward; an orphan kicks off a
// backward sync against the delivering peer; repeated invalid blocks
// ban it.
func (pm *ProtocolManager) importBlocks(p *Peer, blocks blocksData, invalidBlocks *int) error {
	for _, block := range blocks {
		hash := block.Hash()
		p.AddToKnownBlocks(hash)
		res, err := pm.chain.InsertBlock(block)
		switch res {
		case blockchain.Accepted:
			pm.BroadcastBlockHash(block)
		case blockchain.Orphan:
			pm.triggerSync(p)
		case blockchain.Invalid:
			logger.Debug("Peer sent invalid block", "id", p.ID(), "hash", hash, "err", err)
			*invalidBlocks++
			if *invalidBlocks >= maxInvalidBlocks {
				pm.ban(p)
				return errors.New("too many invalid blocks")
			}
		}
	}
	return nil
}

// BroadcastBlockHash announces a block hash to every peer not already
// known to have it.
func (pm *ProtocolManager) BroadcastBlockHash(block *types.Block) {
	hash := block.Hash()
	for _, p := range pm.peers.PeersWithoutBlock(hash) {
		p.AddToKnownBlocks(hash)
		ann := hashesData{hash}
		p.EnqueueAnn(NewBlockHashesMsg, &ann)
	}
}

// BroadcastTxHashes announces transaction hashes, skipping peers that
// already know each hash (including the peer the transaction arrived
// from).
func (pm *ProtocolManager) BroadcastTxHashes(txs types.Transactions) {
	for _, tx := range txs {
		hash := tx.Hash()
		for _, p := range pm.peers.PeersWithoutTx(hash) {
			p.AddToKnownTxs(hash)
			ann := hashesData{hash}
			p.EnqueueAnn(NewTxHashesMsg, &ann)
		}
	}
}

func (pm *ProtocolManager) txBroadcastLoop() {
	defer pm.wg.Done()
	for {
		select {
		case ev := <-pm.txsCh:
			pm.BroadcastTxHashes(ev.Txs)
		case <-pm.txsSub.Err():
			return
		case <-pm.quit:
			return
		}
	}
}

func (pm *ProtocolManager) minedBroadcastLoop() {
	defer pm.wg.Done()
	for {
		select {
		case ev := <-pm.minedBlockCh:
			pm.BroadcastBlockHash(ev.Block)
		case <-pm.minedSub.Err():
			return
		case <-pm.quit:
			return
		}
	}
}

// syncLoop heartbeats the peer table and starts a catch-up round
// whenever a peer advertises a heavier chain.
func (pm *ProtocolManager) syncLoop() {
	defer pm.wg.Done()
	ticker := time.NewTicker(params.HeartbeatInterval)
	defer ticker.Stop()

	// First probe shortly after startup rather than a full interval
	// later, so a freshly booted node catches up promptly.
	first := time.NewTimer(500 * time.Millisecond)
	defer first.Stop()

	for {
		select {
		case <-first.C:
			pm.heartbeat()
		case <-ticker.C:
			pm.heartbeat()
		case <-pm.quit:
			return
		}
	}
}

func (pm *ProtocolManager) heartbeat() {
	status := pm.selfStatus()
	for _, p := range pm.peers.All() {
		if err := p.EnqueueMsg(PingMsg, status); err != nil {
			continue
		}
	}

	best := pm.peers.BestPeer()
	if best == nil {
		return
	}
	_, _, localTD := pm.chain.Tip()
	if _, _, peerTD := best.Head(); peerTD.Cmp(localTD) > 0 {
		pm.triggerSync(best)
	}
}

// triggerSync starts one backward-walking catch-up round against p,
// unless one is already running.
func (pm *ProtocolManager) triggerSync(p *Peer) {
	if !atomic.CompareAndSwapInt32(&pm.syncing, 0, 1) {
		return
	}
	pm.wg.Add(1)
	go func() {
		defer pm.wg.Done()
		defer atomic.StoreInt32(&pm.syncing, 0)
		pm.syncWithPeer(p)
	}()
}

// syncWithPeer walks p's chain backward from its advertised tip,
// requesting blocks by hash until a locally known ancestor connects
// the batch; the orphan buffer then commits everything parent-first.
func (pm *ProtocolManager) syncWithPeer(p *Peer) {
	syncRoundCounter.Inc(1)

	p.setSyncState(syncRequestingHeight)
	if err := p.EnqueueMsg(GetHeightMsg, emptyData{}); err != nil {
		p.setSyncState(syncIdle)
		return
	}

	p.setSyncState(syncFetchingBlocks)
	defer p.setSyncState(syncIdle)

	cursor, _, _ := p.Head()
	for i := 0; i < params.SyncBatchSize; i++ {
		if cursor.IsZero() {
			return
		}
		if _, ok := pm.chain.GetBlock(cursor); ok {
			return
		}
		blocks, err := pm.requestBlocks(p, hashesData{cursor})
		if err != nil {
			logger.Debug("Sync round aborted", "id", p.ID(), "err", err)
			return
		}
		if len(blocks) == 0 {
			return
		}
		block := blocks[0]
		if block.Hash() != cursor {
			logger.Debug("Sync peer returned wrong block", "id", p.ID(), "want", cursor, "got", block.Hash())
			return
		}
		p.AddToKnownBlocks(cursor)
		if _, err := pm.chain.InsertBlock(block); err != nil {
			logger.Debug("Sync block rejected", "hash", cursor, "err", err)
			return
		}
		cursor = block.ParentHash()
	}
}

// requestBlocks sends one GetBlocks and waits for the matching Blocks
// reply, with the per-batch sync timeout.
func (pm *ProtocolManager) requestBlocks(p *Peer, hashes hashesData) (blocksData, error) {
	pm.fetchMu.Lock()
	if pm.fetchCh != nil {
		pm.fetchMu.Unlock()
		return nil, errors.New("fetch already in flight")
	}
	ch := make(chan blocksData, 1)
	pm.fetchCh = ch
	pm.fetchPeerID = p.ID()
	pm.fetchMu.Unlock()

	defer func() {
		pm.fetchMu.Lock()
		pm.fetchCh = nil
		pm.fetchPeerID = ""
		pm.fetchMu.Unlock()
	}()

	if err := p.EnqueueMsg(GetBlocksMsg, &hashes); err != nil {
		return nil, err
	}
	select {
	case blocks := <-ch:
		return blocks, nil
	case <-time.After(params.SyncBatchTimeout):
		return nil, blockchain.NewError(blockchain.KindTimeout, "sync batch timed out after %s", params.SyncBatchTimeout)
	case <-pm.quit:
		return nil, errors.New("shutting down")
	}
}

// deliverFetch routes a Blocks reply to a waiting sync round. Returns
// false when no fetch from this peer is pending, in which case the
// reply is an ordinary announcement response.
func (pm *ProtocolManager) deliverFetch(p *Peer, blocks blocksData) bool {
	pm.fetchMu.Lock()
	defer pm.fetchMu.Unlock()
	if pm.fetchCh == nil || pm.fetchPeerID != p.ID() {
		return false
	}
	select {
	case pm.fetchCh <- blocks:
	default:
	}
	return true
}
