// Package live provides shared, lazily started streams over a task store.
// A Feed recomputes one query shape on every relevant commit and pushes the
// result to its subscribers; a State holds a current value for controllers.
package live

import (
	"context"
	"sync"
)

// Subscription delivers values from a Feed or State. Delivery conflates: a
// subscriber that falls behind only ever sees the newest pending value.
type Subscription[T any] struct {
	ch      chan T
	done    chan struct{}
	once    sync.Once
	release func()
}

// C returns the delivery channel. It is closed once the subscription ends.
func (s *Subscription[T]) C() <-chan T { return s.ch }

// Done is closed when the subscription ends.
func (s *Subscription[T]) Done() <-chan struct{} { return s.done }

// Close deregisters the subscription. Safe to call more than once.
func (s *Subscription[T]) Close() {
	s.once.Do(func() {
		close(s.done)
		s.release()
	})
}

// Next blocks until a value is delivered, the subscription ends or ctx is done.
func (s *Subscription[T]) Next(ctx context.Context) (T, bool) {
	var zero T
	select {
	case v, ok := <-s.ch:
		return v, ok
	case <-ctx.Done():
		return zero, false
	}
}

// broadcaster fans values out to subscribers. Callers hold their own lock
// around every method so pushes never race with close.
type broadcaster[T any] struct {
	next uint64
	subs map[uint64]*Subscription[T]
}

func (b *broadcaster[T]) add(release func(id uint64)) *Subscription[T] {
	if b.subs == nil {
		b.subs = make(map[uint64]*Subscription[T])
	}
	b.next++
	id := b.next
	sub := &Subscription[T]{ch: make(chan T, 1), done: make(chan struct{})}
	sub.release = func() { release(id) }
	b.subs[id] = sub
	return sub
}

// remove drops the subscriber, discards any undelivered value and closes its
// channel. It reports whether the id was still registered.
func (b *broadcaster[T]) remove(id uint64) bool {
	sub, ok := b.subs[id]
	if !ok {
		return false
	}
	delete(b.subs, id)
	select {
	case <-sub.ch:
	default:
	}
	close(sub.ch)
	return true
}

func (b *broadcaster[T]) len() int { return len(b.subs) }

func (b *broadcaster[T]) push(v T) {
	for _, sub := range b.subs {
		offer(sub.ch, v)
	}
}

// offer replaces any undelivered value with v without blocking.
func offer[T any](ch chan T, v T) {
	select {
	case ch <- v:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
	default:
	}
}

// closeWith ends sub when ctx is done.
func closeWith[T any](ctx context.Context, sub *Subscription[T]) {
	if ctx == nil || ctx.Done() == nil {
		return
	}
	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.done:
		}
	}()
}
