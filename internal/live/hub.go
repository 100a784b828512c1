package live

import (
	"sync"
	"time"

	"inventory/pkg/domain"
)

// Optional carries a possibly absent value.
type Optional[T any] struct {
	Value   T
	Present bool
}

// Some wraps a present value.
func Some[T any](v T) Optional[T] { return Optional[T]{Value: v, Present: true} }

// None returns an absent value.
func None[T any]() Optional[T] { return Optional[T]{} }

// Get returns the value and whether it is present.
func (o Optional[T]) Get() (T, bool) { return o.Value, o.Present }

// Hub owns the task feeds of one store. By-id feeds are created on demand and
// forgotten once they go idle.
type Hub struct {
	src  Source
	idle time.Duration

	mu   sync.Mutex
	all  *Feed[[]domain.Task]
	byID map[int64]*Feed[Optional[domain.Task]]
}

// NewHub creates a hub whose feeds use the given idle window.
func NewHub(src Source, idle time.Duration) *Hub {
	if idle < 0 {
		idle = 0
	}
	return &Hub{src: src, idle: idle, byID: make(map[int64]*Feed[Optional[domain.Task]])}
}

// AllTasks returns the feed of every task ordered by id.
func (h *Hub) AllTasks() *Feed[[]domain.Task] {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.all == nil {
		h.all = NewFeed(h.src, func(v domain.TransactionView) ([]domain.Task, bool) {
			return v.ListTasks(), true
		}, WithIdleWindow(h.idle))
	}
	return h.all
}

// Task returns the feed of the task with the given id. It emits None while
// the task does not exist and re-emits only on commits touching that id.
func (h *Hub) Task(id int64) *Feed[Optional[domain.Task]] {
	h.mu.Lock()
	defer h.mu.Unlock()
	if feed, ok := h.byID[id]; ok {
		return feed
	}
	var feed *Feed[Optional[domain.Task]]
	feed = NewFeed(h.src,
		func(v domain.TransactionView) (Optional[domain.Task], bool) {
			if t, ok := v.FindTask(id); ok {
				return Some(t), true
			}
			return None[domain.Task](), true
		},
		WithIdleWindow(h.idle),
		WithAffects(func(c domain.Commit) bool { return c.Touches(id) }),
		withOnIdle(func() { h.forget(id, feed) }),
	)
	h.byID[id] = feed
	return feed
}

// forget drops an idle by-id feed. A feed that was resubscribed after going
// idle stays tracked so Task keeps returning it.
func (h *Hub) forget(id int64, feed *Feed[Optional[domain.Task]]) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.byID[id] == feed && !feed.Active() {
		delete(h.byID, id)
	}
}

// TrackedTasks returns the number of by-id feeds currently held.
func (h *Hub) TrackedTasks() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.byID)
}
