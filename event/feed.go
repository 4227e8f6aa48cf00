package event

import (
	"errors"
	"reflect"
	"sync"
)

var ErrTypeMismatch = errors.New("event: Send/Subscribe called with wrong value type")

// Feed implements one-to-many subscriptions where a value is delivered
// to every subscribed channel. The engine's feeds see at most a handful
// of subscribers set up once at startup, so a single coarse mutex held
// for the duration of Send gives the delivery guarantee (every live
// subscriber receives the value before Send returns) without lock-free
// bookkeeping. Zero-value Feed is ready to use; the element type is
// fixed by the first Send or Subscribe call.
type Feed struct {
	once sync.Once
	mu   sync.Mutex
	typ  reflect.Type
	subs []*feedSub
}

type feedSub struct {
	feed    *Feed
	channel reflect.Value
	errOnce sync.Once
	err     chan error
}

func (f *Feed) init(etype reflect.Type) { f.typ = etype }

// Subscribe adds a channel to the feed. The channel's element type must
// match the Feed's type, which is fixed by the first Send or Subscribe
// call.
func (f *Feed) Subscribe(channel interface{}) Subscription {
	chanval := reflect.ValueOf(channel)
	chantyp := chanval.Type()
	if chantyp.Kind() != reflect.Chan || chantyp.ChanDir()&reflect.SendDir == 0 {
		panic("event: Subscribe argument does not have sendable channel type")
	}
	etype := chantyp.Elem()

	f.mu.Lock()
	defer f.mu.Unlock()
	f.once.Do(func() { f.init(etype) })
	if f.typ != etype {
		panic("event: subscribe channel element type does not match feed type")
	}

	sub := &feedSub{channel: chanval, err: make(chan error, 1)}
	sub.feed = f
	f.subs = append(f.subs, sub)
	return sub
}

func (s *feedSub) Unsubscribe() {
	s.errOnce.Do(func() {
		s.feed.remove(s)
		close(s.err)
	})
}

func (s *feedSub) Err() <-chan error { return s.err }

func (f *Feed) remove(sub *feedSub) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, s := range f.subs {
		if s == sub {
			f.subs = append(f.subs[:i], f.subs[i+1:]...)
			return
		}
	}
}

// Send delivers value to every currently-subscribed channel, blocking
// until each has received it, and returns the number of subscribers it
// sent to. Send panics if value's type doesn't match the feed's fixed
// element type.
func (f *Feed) Send(value interface{}) int {
	rvalue := reflect.ValueOf(value)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.once.Do(func() { f.init(rvalue.Type()) })
	if f.typ != rvalue.Type() {
		panic(ErrTypeMismatch)
	}

	for _, s := range f.subs {
		s.channel.Send(rvalue)
	}
	return len(f.subs)
}
