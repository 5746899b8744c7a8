// Package broadcast provides a small hot multicast primitive: every
// subscription owns a buffered channel and observes each published
// value independently of the other subscribers.
package broadcast

import (
	"sync"
	"sync/atomic"
)

// Broadcaster fans published values out to all active subscriptions.
//
// Delivery is non-blocking: when a subscription's buffer is full the
// value is dropped for that subscription only, so one slow consumer
// never stalls nor starves the others. There is no replay, a
// subscription only observes values published after `Subscribe`
// returned.
type Broadcaster[T any] struct {
	lk     sync.RWMutex
	subs   map[*Subscription[T]]struct{}
	buffer int
	closed bool

	dropped atomic.Uint64
}

// New allocates a Broadcaster whose subscriptions buffer up to
// `buffer` pending values each.
func New[T any](buffer int) *Broadcaster[T] {
	if buffer <= 0 {
		buffer = 1
	}
	return &Broadcaster[T]{
		subs:   make(map[*Subscription[T]]struct{}),
		buffer: buffer,
	}
}

// Subscribe attaches a new subscription. Subscribing to a closed
// Broadcaster yields an already completed subscription.
func (b *Broadcaster[T]) Subscribe() *Subscription[T] {
	sub := &Subscription[T]{
		ch: make(chan T, b.buffer),
	}
	sub.owner = b

	b.lk.Lock()
	if b.closed {
		b.lk.Unlock()
		close(sub.ch)
		return sub
	}
	b.subs[sub] = struct{}{}
	b.lk.Unlock()
	return sub
}

// Publish delivers `val` to every active subscription and reports how
// many of them accepted it. Publishing on a closed Broadcaster is a
// no-op.
func (b *Broadcaster[T]) Publish(val T) int {
	b.lk.RLock()
	defer b.lk.RUnlock()
	if b.closed {
		return 0
	}

	delivered := 0
	for sub := range b.subs {
		select {
		case sub.ch <- val:
			delivered++
		default:
			b.dropped.Add(1)
		}
	}
	return delivered
}

// Dropped reports how many values have been discarded so far because
// a subscription's buffer was full.
func (b *Broadcaster[T]) Dropped() uint64 {
	return b.dropped.Load()
}

// Len reports how many subscriptions are active.
func (b *Broadcaster[T]) Len() int {
	b.lk.RLock()
	defer b.lk.RUnlock()
	return len(b.subs)
}

// Close completes every subscription channel. The first call wins,
// later calls are no-ops.
func (b *Broadcaster[T]) Close() {
	b.lk.Lock()
	defer b.lk.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		close(sub.ch)
		delete(b.subs, sub)
	}
}

// cancel detaches `sub`. Closing the channel is only safe under the
// write lock since `Publish` sends while holding the read lock.
func (b *Broadcaster[T]) cancel(sub *Subscription[T]) {
	b.lk.Lock()
	defer b.lk.Unlock()
	if _, active := b.subs[sub]; !active {
		return
	}
	delete(b.subs, sub)
	close(sub.ch)
}

// Subscription is one receiver attached to a Broadcaster.
type Subscription[T any] struct {
	owner *Broadcaster[T]
	ch    chan T
}

// Completed returns a subscription whose channel is already closed,
// for callers that must hand out a stream but have nothing to attach
// it to.
func Completed[T any]() *Subscription[T] {
	ch := make(chan T)
	close(ch)
	return &Subscription[T]{ch: ch}
}

// C is the receive channel. It is closed once the Broadcaster closes
// or the subscription is cancelled.
func (s *Subscription[T]) C() <-chan T {
	return s.ch
}

// Cancel detaches the subscription and closes its channel. It is safe
// to call multiple times and concurrently with `Publish`.
func (s *Subscription[T]) Cancel() {
	if s.owner == nil {
		return
	}
	s.owner.cancel(s)
}
