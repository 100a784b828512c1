package live

import (
	"context"
	"fmt"
	"sync"
	"time"

	"inventory/pkg/domain"
)

// DefaultIdleWindow is how long a feed keeps its upstream and cached value
// after the last subscriber leaves.
const DefaultIdleWindow = 5 * time.Second

// Source is the store surface a feed needs. domain.PersistentStore satisfies it.
type Source interface {
	View(ctx context.Context, fn func(domain.TransactionView) error) error
	OnCommit(fn func(domain.Commit)) (cancel func())
}

// Query computes a feed value from a committed view. Returning false emits
// nothing for that view.
type Query[T any] func(domain.TransactionView) (T, bool)

// FeedOption configures a Feed.
type FeedOption func(*feedConfig)

type feedConfig struct {
	idle    time.Duration
	affects func(domain.Commit) bool
	onIdle  func()
}

// WithIdleWindow sets the teardown debounce. Zero stops the upstream as soon
// as the last subscriber leaves; negative values are treated as zero.
func WithIdleWindow(d time.Duration) FeedOption {
	return func(c *feedConfig) {
		if d < 0 {
			d = 0
		}
		c.idle = d
	}
}

// WithAffects restricts recomputation to commits for which fn returns true.
func WithAffects(fn func(domain.Commit) bool) FeedOption {
	return func(c *feedConfig) { c.affects = fn }
}

func withOnIdle(fn func()) FeedOption {
	return func(c *feedConfig) { c.onIdle = fn }
}

// Feed is a shared stream for one query shape. The first subscriber registers
// a commit hook and runs the query; every relevant commit recomputes the
// value and pushes it to all subscribers, in commit order.
type Feed[T any] struct {
	src   Source
	query Query[T]
	cfg   feedConfig

	mu       sync.Mutex
	subs     broadcaster[T]
	unhook   func()
	gen      uint64
	value    T
	hasValue bool
	timer    *time.Timer
	starts   int
}

// NewFeed builds a feed over src. Nothing runs until the first Subscribe.
func NewFeed[T any](src Source, query Query[T], opts ...FeedOption) *Feed[T] {
	cfg := feedConfig{idle: DefaultIdleWindow}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Feed[T]{src: src, query: query, cfg: cfg}
}

// Subscribe registers a subscriber. If the feed already holds a value it is
// delivered immediately. The subscription ends on Close or when ctx is done.
func (f *Feed[T]) Subscribe(ctx context.Context) (*Subscription[T], error) {
	f.mu.Lock()
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
	if f.unhook == nil {
		if err := f.start(ctx); err != nil {
			f.mu.Unlock()
			return nil, err
		}
	}
	sub := f.subs.add(f.release)
	if f.hasValue {
		offer(sub.ch, f.value)
	}
	f.mu.Unlock()
	closeWith(ctx, sub)
	return sub, nil
}

// Active reports whether the feed currently holds an upstream registration.
func (f *Feed[T]) Active() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unhook != nil
}

// Subscribers returns the number of live subscriptions.
func (f *Feed[T]) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subs.len()
}

// Starts counts how many times the upstream was (re)started with a full query.
func (f *Feed[T]) Starts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts
}

// start must be called with f.mu held.
func (f *Feed[T]) start(ctx context.Context) error {
	f.gen++
	gen := f.gen
	f.unhook = f.src.OnCommit(func(c domain.Commit) { f.onCommit(gen, c) })
	var (
		value T
		ok    bool
	)
	if err := f.src.View(context.WithoutCancel(ctx), func(v domain.TransactionView) error {
		value, ok = f.query(v)
		return nil
	}); err != nil {
		f.unhook()
		f.unhook = nil
		return fmt.Errorf("initial query: %w", err)
	}
	f.starts++
	f.value, f.hasValue = value, ok
	return nil
}

func (f *Feed[T]) onCommit(gen uint64, c domain.Commit) {
	if f.cfg.affects != nil && !f.cfg.affects(c) {
		return
	}
	value, ok := f.query(c.View)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gen != gen || f.unhook == nil {
		return
	}
	if !ok {
		return
	}
	f.value, f.hasValue = value, true
	f.subs.push(value)
}

func (f *Feed[T]) release(id uint64) {
	f.mu.Lock()
	if !f.subs.remove(id) || f.subs.len() > 0 || f.unhook == nil {
		f.mu.Unlock()
		return
	}
	if f.cfg.idle == 0 {
		f.stopLocked()
		f.mu.Unlock()
		f.idled()
		return
	}
	gen := f.gen
	f.timer = time.AfterFunc(f.cfg.idle, func() { f.expire(gen) })
	f.mu.Unlock()
}

func (f *Feed[T]) expire(gen uint64) {
	f.mu.Lock()
	if f.gen != gen || f.subs.len() > 0 || f.unhook == nil {
		f.mu.Unlock()
		return
	}
	f.stopLocked()
	f.mu.Unlock()
	f.idled()
}

func (f *Feed[T]) stopLocked() {
	f.unhook()
	f.unhook = nil
	f.timer = nil
	var zero T
	f.value, f.hasValue = zero, false
}

func (f *Feed[T]) idled() {
	if f.cfg.onIdle != nil {
		f.cfg.onIdle()
	}
}
