package p2p

import (
	"math/big"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/axledger/axledger/common"
	"github.com/axledger/axledger/params"
	"github.com/axledger/axledger/ser/codec"
)

var (
	errClosed            = errors.New("peer set is closed")
	errAlreadyRegistered = errors.New("peer is already registered")
	errNotRegistered     = errors.New("peer is not registered")
)

// Sync states a peer moves through, tracked for introspection and to
// keep one sync conversation per peer at a time.
const (
	syncHandshaking int32 = iota
	syncIdle
	syncRequestingHeight
	syncFetchingBlocks
)

// outMsg is a frame waiting for its turn in a peer's write queue.
type outMsg struct {
	code    uint8
	payload []byte
}

// Peer wraps one connected remote node: its framed connection, its
// advertised chain position, and the bookkeeping that keeps gossip from
// echoing.
type Peer struct {
	id      string // remote node's self-chosen ID
	inbound bool

	conn net.Conn

	head     common.Hash
	td       *big.Int
	height   uint64
	lastSeen time.Time
	lock     sync.RWMutex

	knownTxsCache    common.Cache // hashes of txs known to be known by this peer
	knownBlocksCache common.Cache // hashes of blocks known to be known by this peer

	queuedMsgs chan outMsg // replies and requests; never dropped
	queuedAnns chan outMsg // announcements; oldest dropped on overflow
	term       chan struct{}
	termOnce   sync.Once

	syncState int32
}

func newPeer(conn net.Conn, inbound bool) *Peer {
	knownTxs, _ := common.NewCache(common.LRUConfig{CacheSize: params.KnownHashCacheSize})
	knownBlocks, _ := common.NewCache(common.LRUConfig{CacheSize: params.KnownHashCacheSize})
	return &Peer{
		inbound:          inbound,
		conn:             conn,
		td:               new(big.Int),
		knownTxsCache:    knownTxs,
		knownBlocksCache: knownBlocks,
		queuedMsgs:       make(chan outMsg, params.MaxQueuedMsgs),
		queuedAnns:       make(chan outMsg, params.MaxQueuedAnns),
		term:             make(chan struct{}),
		syncState:        syncHandshaking,
	}
}

// ID returns the remote node's self-chosen identifier (set during the
// handshake; empty before it).
func (p *Peer) ID() string { return p.id }

// RemoteAddr returns the remote endpoint of the connection.
func (p *Peer) RemoteAddr() net.Addr { return p.conn.RemoteAddr() }

// Head retrieves a copy of the peer's advertised chain position.
func (p *Peer) Head() (hash common.Hash, height uint64, td *big.Int) {
	p.lock.RLock()
	defer p.lock.RUnlock()
	copy(hash[:], p.head[:])
	return hash, p.height, new(big.Int).Set(p.td)
}

// SetHead updates the peer's advertised chain position and last-seen
// time.
func (p *Peer) SetHead(hash common.Hash, height uint64, td *big.Int) {
	p.lock.Lock()
	defer p.lock.Unlock()
	copy(p.head[:], hash[:])
	p.height = height
	p.td.Set(td)
	p.lastSeen = time.Now()
}

// LastSeen reports when the peer last advertised its status.
func (p *Peer) LastSeen() time.Time {
	p.lock.RLock()
	defer p.lock.RUnlock()
	return p.lastSeen
}

// SyncState returns the peer's sync machine state.
func (p *Peer) SyncState() int32 { return atomic.LoadInt32(&p.syncState) }

func (p *Peer) setSyncState(s int32) { atomic.StoreInt32(&p.syncState, s) }

// AddToKnownBlocks marks hash as known by the peer so it is never
// announced back.
func (p *Peer) AddToKnownBlocks(hash common.Hash) { p.knownBlocksCache.Add(hash, struct{}{}) }

// AddToKnownTxs marks a transaction hash as known by the peer.
func (p *Peer) AddToKnownTxs(hash common.Hash) { p.knownTxsCache.Add(hash, struct{}{}) }

// KnowsBlock returns whether the peer is known to have the block.
func (p *Peer) KnowsBlock(hash common.Hash) bool { return p.knownBlocksCache.Contains(hash) }

// KnowsTx returns whether the peer is known to have the transaction.
func (p *Peer) KnowsTx(hash common.Hash) bool { return p.knownTxsCache.Contains(hash) }

// sendFrame encodes and synchronously writes a frame with the given
// code, bypassing the queues. Only the handshake calls it, before the
// broadcast loop (which writes through writeFrame) has started.
func (p *Peer) sendFrame(code uint8, payload codec.Encoder) error {
	raw, err := codec.Encode(payload)
	if err != nil {
		return err
	}
	if len(raw) > params.MaxMessageSize {
		return errors.Errorf("p2p: outbound message of %d bytes exceeds limit", len(raw))
	}
	p.conn.SetWriteDeadline(time.Now().Add(30 * time.Second))
	return codec.WriteFrame(p.conn, code, raw)
}

// EnqueueMsg queues a reply or request for delivery. It blocks briefly
// if the queue is full rather than dropping: replies must never be
// discarded.
func (p *Peer) EnqueueMsg(code uint8, payload codec.Encoder) error {
	raw, err := codec.Encode(payload)
	if err != nil {
		return err
	}
	select {
	case p.queuedMsgs <- outMsg{code: code, payload: raw}:
		return nil
	case <-p.term:
		return errors.New("p2p: peer terminated")
	}
}

// EnqueueAnn queues an announcement. If the queue is full the oldest
// queued announcement is dropped to make room: a stale announcement is
// worthless, a reply is not.
func (p *Peer) EnqueueAnn(code uint8, payload codec.Encoder) {
	raw, err := codec.Encode(payload)
	if err != nil {
		return
	}
	msg := outMsg{code: code, payload: raw}
	for {
		select {
		case p.queuedAnns <- msg:
			return
		case <-p.term:
			return
		default:
		}
		select {
		case <-p.queuedAnns: // drop oldest
		default:
		}
	}
}

// broadcast is the peer's write loop, multiplexing the reply queue and
// the announcement queue into the connection. Replies win ties.
func (p *Peer) broadcast() {
	for {
		select {
		case msg := <-p.queuedMsgs:
			if err := p.writeFrame(msg); err != nil {
				p.close()
				return
			}
		case <-p.term:
			return
		default:
		}

		select {
		case msg := <-p.queuedMsgs:
			if err := p.writeFrame(msg); err != nil {
				p.close()
				return
			}
		case msg := <-p.queuedAnns:
			if err := p.writeFrame(msg); err != nil {
				p.close()
				return
			}
		case <-p.term:
			return
		}
	}
}

func (p *Peer) writeFrame(msg outMsg) error {
	p.conn.SetWriteDeadline(time.Now().Add(30 * time.Second))
	return codec.WriteFrame(p.conn, msg.code, msg.payload)
}

// readMsg reads one inbound frame, enforcing the version byte and the
// size limit.
func (p *Peer) readMsg() (uint8, []byte, error) {
	version, kind, payload, err := codec.ReadFrame(p.conn)
	if err != nil {
		return 0, nil, err
	}
	if version != codec.CurrentVersion {
		return 0, nil, errors.Errorf("%s: got %d", errCode(ErrProtocolVersionMismatch), version)
	}
	if len(payload) > params.MaxMessageSize {
		return 0, nil, errors.New(errCode(ErrMsgTooLarge).String())
	}
	if kind >= msgCodeCount {
		return 0, nil, errors.Errorf("%s: %#x", errCode(ErrInvalidMsgCode), kind)
	}
	return kind, payload, nil
}

// Handshake exchanges status Pings with the remote side and validates
// compatibility. Both sides write first and then read, so neither
// blocks the other.
func (p *Peer) Handshake(self *statusData) (*statusData, error) {
	p.conn.SetDeadline(time.Now().Add(params.HandshakeTimeout))
	defer p.conn.SetDeadline(time.Time{})

	errc := make(chan error, 1)
	go func() {
		errc <- p.sendFrame(PingMsg, self)
	}()

	kind, payload, err := p.readMsg()
	if err != nil {
		return nil, errors.Wrap(err, "status read")
	}
	if kind != PingMsg {
		return nil, errors.Errorf("%s: first message is %#x", errCode(ErrNoStatusMsg), kind)
	}
	status := &statusData{}
	if err := codec.Decode(payload, status); err != nil {
		return nil, errors.Wrapf(err, "%s", errCode(ErrDecode))
	}
	if err := <-errc; err != nil {
		return nil, errors.Wrap(err, "status write")
	}

	switch {
	case status.NetworkID != self.NetworkID:
		return nil, errors.Errorf("%s: %d != %d", errCode(ErrNetworkIdMismatch), status.NetworkID, self.NetworkID)
	case status.Genesis != self.Genesis:
		return nil, errors.Errorf("%s: %s != %s", errCode(ErrGenesisMismatch), status.Genesis, self.Genesis)
	case status.NodeID == self.NodeID:
		return nil, errors.New(errCode(ErrSelfConnect).String())
	}

	p.id = status.NodeID
	p.SetHead(status.Head, status.Height, status.TD)
	p.setSyncState(syncIdle)
	return status, nil
}

// close tears the connection down and stops the write loop. Safe to
// call more than once.
func (p *Peer) close() {
	p.termOnce.Do(func() {
		close(p.term)
		p.conn.Close()
	})
}

// peerSet is the collection of live, handshaken peers.
type peerSet struct {
	peers  map[string]*Peer
	lock   sync.RWMutex
	closed bool
}

func newPeerSet() *peerSet {
	return &peerSet{peers: make(map[string]*Peer)}
}

// Register injects a new peer into the set, or fails if the peer is
// already known or the set is shutting down.
func (ps *peerSet) Register(p *Peer) error {
	ps.lock.Lock()
	defer ps.lock.Unlock()
	if ps.closed {
		return errClosed
	}
	if _, ok := ps.peers[p.id]; ok {
		return errAlreadyRegistered
	}
	ps.peers[p.id] = p
	return nil
}

// Unregister removes a peer from the set.
func (ps *peerSet) Unregister(id string) error {
	ps.lock.Lock()
	defer ps.lock.Unlock()
	if _, ok := ps.peers[id]; !ok {
		return errNotRegistered
	}
	delete(ps.peers, id)
	return nil
}

// Peer retrieves the registered peer with the given ID.
func (ps *peerSet) Peer(id string) *Peer {
	ps.lock.RLock()
	defer ps.lock.RUnlock()
	return ps.peers[id]
}

// Len returns the number of registered peers.
func (ps *peerSet) Len() int {
	ps.lock.RLock()
	defer ps.lock.RUnlock()
	return len(ps.peers)
}

// All returns a snapshot of the registered peers.
func (ps *peerSet) All() []*Peer {
	ps.lock.RLock()
	defer ps.lock.RUnlock()
	out := make([]*Peer, 0, len(ps.peers))
	for _, p := range ps.peers {
		out = append(out, p)
	}
	return out
}

// PeersWithoutBlock returns peers not known to have the given block.
func (ps *peerSet) PeersWithoutBlock(hash common.Hash) []*Peer {
	ps.lock.RLock()
	defer ps.lock.RUnlock()
	out := make([]*Peer, 0, len(ps.peers))
	for _, p := range ps.peers {
		if !p.KnowsBlock(hash) {
			out = append(out, p)
		}
	}
	return out
}

// PeersWithoutTx returns peers not known to have the given transaction.
func (ps *peerSet) PeersWithoutTx(hash common.Hash) []*Peer {
	ps.lock.RLock()
	defer ps.lock.RUnlock()
	out := make([]*Peer, 0, len(ps.peers))
	for _, p := range ps.peers {
		if !p.KnowsTx(hash) {
			out = append(out, p)
		}
	}
	return out
}

// BestPeer returns the peer advertising the greatest total difficulty.
func (ps *peerSet) BestPeer() *Peer {
	ps.lock.RLock()
	defer ps.lock.RUnlock()
	var (
		best   *Peer
		bestTD *big.Int
	)
	for _, p := range ps.peers {
		if _, _, td := p.Head(); best == nil || td.Cmp(bestTD) > 0 {
			best, bestTD = p, td
		}
	}
	return best
}

// Close disconnects every peer and rejects further registrations.
func (ps *peerSet) Close() {
	ps.lock.Lock()
	defer ps.lock.Unlock()
	for _, p := range ps.peers {
		p.close()
	}
	ps.closed = true
}
