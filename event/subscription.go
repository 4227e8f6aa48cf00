// Package event implements the pub-sub primitive the chain engine,
// mempool, and miner use to hand off NewMinedBlockEvent/ChainHeadEvent/
// NewTxsEvent without importing each other directly.
package event

import "sync"

// Subscription represents a stream of events. Unsubscribe cancels the
// sending of events and closes the Err channel.
type Subscription interface {
	Unsubscribe()
	Err() <-chan error
}

// funcSub implements Subscription around a single unsubscribe callback.
type funcSub struct {
	unsub func()
	err   chan error
	once  sync.Once
}

func NewSubscription(unsub func()) Subscription {
	return &funcSub{unsub: unsub, err: make(chan error, 1)}
}

func (s *funcSub) Unsubscribe() {
	s.once.Do(func() {
		if s.unsub != nil {
			s.unsub()
		}
		close(s.err)
	})
}

func (s *funcSub) Err() <-chan error { return s.err }

// Resubscribe is not implemented; the engine only uses static feeds with
// no reconnect semantics, so the upstream resubscribe-on-error pattern
// (used for RPC client subscriptions) has no home here.
