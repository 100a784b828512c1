package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"inventory/pkg/domain"
)

var (
	task1 = domain.Task{ID: 1, Name: "Apples", Price: 10.0, Quantity: 20}
	task2 = domain.Task{ID: 2, Name: "Bananas", Price: 15.0, Quantity: 97}
)

func openTemp(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", "inventory.db")
	store, err := NewStore(path, nil)
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, path
}

func run(t *testing.T, store *Store, fn func(domain.Transaction) error) {
	t.Helper()
	if _, err := store.RunInTransaction(context.Background(), fn); err != nil {
		t.Fatalf("transaction: %v", err)
	}
}

func insertTasks(t *testing.T, store *Store, tasks ...domain.Task) {
	t.Helper()
	run(t, store, func(tx domain.Transaction) error {
		for _, task := range tasks {
			if _, err := tx.CreateTask(task); err != nil {
				return err
			}
		}
		return nil
	})
}

func TestSQLiteStorePersistAndReload(t *testing.T) {
	store, path := openTemp(t)
	insertTasks(t, store, task1, task2)
	run(t, store, func(tx domain.Transaction) error {
		_, err := tx.UpdateTask(domain.Task{ID: 1, Name: "Apples", Price: 15.0, Quantity: 25})
		return err
	})
	run(t, store, func(tx domain.Transaction) error { return tx.DeleteTask(2) })
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reloaded, err := NewStore(path, nil)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	t.Cleanup(func() { _ = reloaded.Close() })
	all := reloaded.ListTasks()
	want := domain.Task{ID: 1, Name: "Apples", Price: 15.0, Quantity: 25}
	if len(all) != 1 || all[0] != want {
		t.Fatalf("expected [%+v], got %+v", want, all)
	}
}

func TestSQLiteStoreSequenceSurvivesReload(t *testing.T) {
	store, path := openTemp(t)
	var created domain.Task
	run(t, store, func(tx domain.Transaction) error {
		var err error
		if created, err = tx.CreateTask(domain.Task{Name: "temp", Priority: domain.PriorityLow}); err != nil {
			return err
		}
		return tx.DeleteTask(created.ID)
	})
	_ = store.Close()

	reloaded, err := NewStore(path, nil)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	t.Cleanup(func() { _ = reloaded.Close() })
	var next domain.Task
	createNext := func(tx domain.Transaction) error {
		var err error
		next, err = tx.CreateTask(domain.Task{Name: "next", Priority: domain.PriorityLow})
		return err
	}
	if _, err := reloaded.RunInTransaction(context.Background(), createNext); err != nil {
		t.Fatalf("create: %v", err)
	}
	if next.ID <= created.ID {
		t.Fatalf("expected id after %d, got %d", created.ID, next.ID)
	}
}

func TestSQLiteStoreRefreshSeesOtherConnections(t *testing.T) {
	writer, path := openTemp(t)
	watcher, err := NewStore(path, nil)
	if err != nil {
		t.Fatalf("open second store: %v", err)
	}
	t.Cleanup(func() { _ = watcher.Close() })
	var commits []domain.Commit
	watcher.OnCommit(func(c domain.Commit) { commits = append(commits, c) })
	ctx := context.Background()

	if changed, err := watcher.Refresh(ctx); err != nil || changed {
		t.Fatalf("expected nothing to refresh, got %v %v", changed, err)
	}
	insertTasks(t, writer, task1)
	changed, err := watcher.Refresh(ctx)
	if err != nil || !changed {
		t.Fatalf("expected refresh to pick up the other write, got %v %v", changed, err)
	}
	if got, ok := watcher.GetTask(1); !ok || got != task1 {
		t.Fatalf("expected %+v after refresh, got %+v", task1, got)
	}
	if len(commits) != 1 || !commits[0].Touches(1) || commits[0].Changes[0].Action != domain.ActionCreate {
		t.Fatalf("expected one create commit, got %+v", commits)
	}
	if changed, err := watcher.Refresh(ctx); err != nil || changed {
		t.Fatalf("expected second refresh to be a no-op, got %v %v", changed, err)
	}

	// Local writes are already visible and never come back as refreshes.
	insertTasks(t, watcher, task2)
	if changed, err := watcher.Refresh(ctx); err != nil || changed {
		t.Fatalf("expected own write not to refresh, got %v %v", changed, err)
	}
	run(t, writer, func(tx domain.Transaction) error { return tx.DeleteTask(1) })
	if changed, err := watcher.Refresh(ctx); err != nil || !changed {
		t.Fatalf("expected delete to refresh, got %v %v", changed, err)
	}
	if got := watcher.ListTasks(); len(got) != 1 || got[0] != task2 {
		t.Fatalf("expected only %+v, got %+v", task2, got)
	}
}

func TestSQLiteStoreWritesRowsBeforeHooks(t *testing.T) {
	store, _ := openTemp(t)
	var rowsAtCommit int
	store.OnCommit(func(domain.Commit) {
		if err := store.DB().QueryRow(`SELECT COUNT(*) FROM tasks`).Scan(&rowsAtCommit); err != nil {
			t.Errorf("count: %v", err)
		}
	})
	insertTasks(t, store, task1)
	if rowsAtCommit != 1 {
		t.Fatalf("expected row durable before hook, got %d rows", rowsAtCommit)
	}
}

func TestSQLiteStorePersistFailureKeepsStateHidden(t *testing.T) {
	store, _ := openTemp(t)
	if _, err := store.DB().Exec(`DROP TABLE tasks`); err != nil {
		t.Fatalf("drop: %v", err)
	}
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateTask(task1)
		return err
	})
	if err == nil {
		t.Fatalf("expected persist failure")
	}
	if len(store.ListTasks()) != 0 {
		t.Fatalf("expected failed write to stay invisible")
	}
}

func TestSQLiteStoreInMemoryPath(t *testing.T) {
	store, err := NewStore(MemoryPath, nil)
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	defer func() { _ = store.Close() }()
	insertTasks(t, store, task1)
	if got, ok := store.GetTask(1); !ok || got != task1 {
		t.Fatalf("expected %+v, got %+v", task1, got)
	}
	if store.Path() != MemoryPath {
		t.Fatalf("unexpected path %q", store.Path())
	}
	var nf domain.ErrNotFound
	_, err = store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.UpdateTask(domain.Task{ID: 9})
		return err
	})
	if !errors.As(err, &nf) {
		t.Fatalf("expected not found, got %v", err)
	}
}
