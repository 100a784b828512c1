package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"inventory/internal/infra/persistence/postgres/testutil"
	"inventory/pkg/domain"
)

func openFake(t *testing.T) (*Store, *testutil.FakeDB) {
	t.Helper()
	db, fake := testutil.New()
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	defer restore()
	store, err := NewStore("", nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store, fake
}

func TestNewStoreAppliesDDL(t *testing.T) {
	_, fake := openFake(t)
	var creates int
	for _, stmt := range fake.Statements() {
		if strings.Contains(strings.ToUpper(stmt), "CREATE TABLE") {
			creates++
		}
	}
	if creates != len(ddl) {
		t.Fatalf("expected %d DDL statements, got statements: %v", len(ddl), fake.Statements())
	}
}

func TestRunInTransactionPersistsRowsAndReloads(t *testing.T) {
	store, fake := openFake(t)
	ctx := context.Background()
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if _, err := tx.CreateTask(domain.Task{Name: "Apples", Priority: domain.PriorityHigh, Price: 10, Quantity: 20}); err != nil {
			return err
		}
		_, err := tx.CreateTask(domain.Task{Name: "Bananas", Priority: domain.PriorityLow})
		return err
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if _, err := tx.UpdateTask(domain.Task{ID: 1, Name: "Apples", Priority: domain.PriorityMedium, Price: 15, Quantity: 25}); err != nil {
			return err
		}
		return tx.DeleteTask(2)
	}); err != nil {
		t.Fatalf("update/delete: %v", err)
	}
	wantRow := testutil.TaskRow{ID: 1, Name: "Apples", Priority: "Medium", Price: 15, Quantity: 25}
	if rows := fake.Tasks(); len(rows) != 1 || rows[0] != wantRow {
		t.Fatalf("expected [%+v] persisted, got %+v", wantRow, rows)
	}
	if payload, ok := fake.State(sequenceBucket); !ok || !strings.Contains(string(payload), `"next_id":3`) {
		t.Fatalf("expected sequence row, got %q", payload)
	}

	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return fake.Open(), nil })
	defer restore()
	reloaded, err := NewStore("ignored", nil)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	want := domain.Task{ID: 1, Name: "Apples", Priority: domain.PriorityMedium, Price: 15, Quantity: 25}
	if all := reloaded.ListTasks(); len(all) != 1 || all[0] != want {
		t.Fatalf("expected [%+v], got %+v", want, all)
	}
	var next domain.Task
	if _, err := reloaded.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var err error
		next, err = tx.CreateTask(domain.Task{Name: "Cherries", Priority: domain.PriorityLow})
		return err
	}); err != nil {
		t.Fatalf("create after reload: %v", err)
	}
	if next.ID != 3 {
		t.Fatalf("expected deleted id 2 not to be reused, got %d", next.ID)
	}
}

func TestPersistFailureKeepsStateHidden(t *testing.T) {
	store, fake := openFake(t)
	fake.FailCommit = true
	var published bool
	store.OnCommit(func(domain.Commit) { published = true })
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateTask(domain.Task{Name: "Apples", Priority: domain.PriorityHigh})
		return err
	})
	if err == nil {
		t.Fatalf("expected commit failure")
	}
	if published || len(store.ListTasks()) != 0 {
		t.Fatalf("expected failed write to stay invisible")
	}
}

func TestNewStoreErrors(t *testing.T) {
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return nil, errors.New("dial") })
	if _, err := NewStore("", nil); err == nil {
		t.Fatalf("expected open error")
	}
	restore()

	db, fake := testutil.New()
	fake.FailPing = true
	restore = OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	defer restore()
	if _, err := NewStore("", nil); err == nil {
		t.Fatalf("expected ping failure")
	}
}

func TestLoadSnapshotRowsError(t *testing.T) {
	db, fake := testutil.New()
	fake.PutTask(testutil.TaskRow{ID: 1, Name: "Apples", Priority: "High", Price: 1, Quantity: 1})
	fake.CursorErr = errors.New("broken cursor")
	if _, err := loadSnapshot(context.Background(), db); err == nil {
		t.Fatalf("expected rows error")
	}
}
