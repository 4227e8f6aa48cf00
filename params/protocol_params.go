package params

import "time"

const (
	// MaxTxsPerBlock caps how many transactions the miner drains from
	// the mempool into one candidate block.
	MaxTxsPerBlock = 256

	// MaxMessageSize is the hard per-frame byte limit on the wire.
	// Inbound frames exceeding it close the connection.
	MaxMessageSize = 8 * 1024 * 1024

	// KnownHashCacheSize bounds the per-peer recently-seen hash caches
	// used to suppress re-broadcast storms.
	KnownHashCacheSize = 4096

	// MaxQueuedAnns and MaxQueuedMsgs bound each peer's outbound
	// queues. Announcements are droppable on overflow; replies and
	// requests are not.
	MaxQueuedAnns = 256
	MaxQueuedMsgs = 256

	// SyncBatchSize is how many blocks a catching-up node requests per
	// round while walking a peer's chain backward.
	SyncBatchSize = 128

	// SyncBatchTimeout bounds one sync request round; on expiry the
	// sync round is abandoned, and the next heartbeat starts a new round
	// against whichever peer is best then.
	SyncBatchTimeout = 5 * time.Second

	// HandshakeTimeout bounds the initial status exchange.
	HandshakeTimeout = 5 * time.Second

	// PeerBanDuration is how long a peer stays banned after repeatedly
	// sending invalid blocks.
	PeerBanDuration = 1 * time.Minute

	// DialBackoffMin and DialBackoffMax bound the exponential reconnect
	// backoff for outbound peers.
	DialBackoffMin = 1 * time.Second
	DialBackoffMax = 1 * time.Minute

	// HeartbeatInterval paces the Ping/height probe each peer sends
	// while idle.
	HeartbeatInterval = 10 * time.Second
)
