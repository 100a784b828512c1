package live

import (
	"context"
	"sync"
)

// State is a current-value holder that broadcasts every change. Subscribers
// receive the current value on subscribe.
type State[T any] struct {
	mu    sync.Mutex
	value T
	subs  broadcaster[T]
}

// NewState creates a State holding initial.
func NewState[T any](initial T) *State[T] {
	return &State[T]{value: initial}
}

// Value returns the current value.
func (s *State[T]) Value() T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

// Set replaces the current value and notifies subscribers.
func (s *State[T]) Set(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value = v
	s.subs.push(v)
}

// Update applies fn to the current value atomically and returns the result.
func (s *State[T]) Update(fn func(T) T) T {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value = fn(s.value)
	s.subs.push(s.value)
	return s.value
}

// Subscribe registers a subscriber that first receives the current value.
func (s *State[T]) Subscribe(ctx context.Context) *Subscription[T] {
	s.mu.Lock()
	sub := s.subs.add(s.release)
	offer(sub.ch, s.value)
	s.mu.Unlock()
	closeWith(ctx, sub)
	return sub
}

// Await blocks until the state satisfies pred and returns that value.
func (s *State[T]) Await(ctx context.Context, pred func(T) bool) (T, error) {
	sub := s.Subscribe(ctx)
	defer sub.Close()
	var zero T
	for {
		select {
		case v, ok := <-sub.C():
			if !ok {
				if err := ctx.Err(); err != nil {
					return zero, err
				}
				return zero, context.Canceled
			}
			if pred(v) {
				return v, nil
			}
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// Close ends every subscription.
func (s *State[T]) Close() {
	s.mu.Lock()
	subs := make([]*Subscription[T], 0, s.subs.len())
	for _, sub := range s.subs.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()
	for _, sub := range subs {
		sub.Close()
	}
}

func (s *State[T]) release(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs.remove(id)
}
