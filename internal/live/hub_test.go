package live

import (
	"context"
	"testing"
	"time"

	"inventory/internal/infra/persistence/memory"
	"inventory/pkg/domain"
)

func TestHubTaskFeedTracksOneID(t *testing.T) {
	store := memory.NewStore(nil)
	hub := NewHub(store, 0)
	feed := hub.Task(1)
	if hub.Task(1) != feed {
		t.Fatalf("expected cached feed per id")
	}
	sub, err := feed.Subscribe(context.Background())
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()
	if got := next(t, sub); got.Present {
		t.Fatalf("expected absent task, got %+v", got)
	}

	apples := create(t, store, domain.Task{ID: 1, Name: "Apples", Price: 10, Quantity: 20})
	if got, ok := next(t, sub).Get(); !ok || got != apples {
		t.Fatalf("expected %+v, got %+v", apples, got)
	}

	create(t, store, domain.Task{ID: 2, Name: "Bananas"})
	select {
	case v := <-sub.C():
		t.Fatalf("expected no emission for unrelated commit, got %+v", v)
	default:
	}

	mustRun(t, store, func(tx domain.Transaction) error { return tx.DeleteTask(1) })
	if got := next(t, sub); got.Present {
		t.Fatalf("expected absent after delete, got %+v", got)
	}
}

func TestHubForgetsIdleTaskFeeds(t *testing.T) {
	store := memory.NewStore(nil)
	hub := NewHub(store, 5*time.Millisecond)
	feed := hub.Task(7)
	sub, _ := feed.Subscribe(context.Background())
	if hub.TrackedTasks() != 1 {
		t.Fatalf("expected tracked feed")
	}
	sub.Close()
	eventually(t, func() bool { return hub.TrackedTasks() == 0 })
	if hub.Task(7) == feed {
		t.Fatalf("expected a fresh feed after idle teardown")
	}
}

func TestHubKeepsFeedResubscribedBeforeForget(t *testing.T) {
	store := memory.NewStore(nil)
	hub := NewHub(store, 0)
	feed := hub.Task(3)
	first, _ := feed.Subscribe(context.Background())
	first.Close()
	if hub.TrackedTasks() != 0 {
		t.Fatalf("expected idle feed forgotten")
	}

	// A holder of the old feed resubscribes before the idle callback runs.
	hub.mu.Lock()
	hub.byID[3] = feed
	hub.mu.Unlock()
	again, err := feed.Subscribe(context.Background())
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer again.Close()
	hub.forget(3, feed)
	if hub.Task(3) != feed {
		t.Fatalf("expected the active feed to stay tracked")
	}
	if hub.TrackedTasks() != 1 {
		t.Fatalf("expected one feed for the id, got %d", hub.TrackedTasks())
	}
}

func TestHubAllTasksShared(t *testing.T) {
	hub := NewHub(memory.NewStore(nil), -1)
	if hub.AllTasks() != hub.AllTasks() {
		t.Fatalf("expected one shared all-tasks feed")
	}
}

func TestOptional(t *testing.T) {
	if _, ok := None[int]().Get(); ok {
		t.Fatalf("expected absent")
	}
	if v, ok := Some(3).Get(); !ok || v != 3 {
		t.Fatalf("expected present 3, got %d %v", v, ok)
	}
}
