// Package sqlite provides a SQLite-backed task store. The in-memory store
// remains the transactional source of truth; every transaction is written to
// the tasks table before it becomes visible.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"inventory/internal/infra/persistence/memory"
	"inventory/pkg/domain"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

const (
	// DefaultPath is used when no database path is configured.
	DefaultPath = "inventory.db"
	// MemoryPath opens a private in-memory database.
	MemoryPath = ":memory:"

	sequenceBucket = "task_sequence"
)

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	priority TEXT NOT NULL,
	price REAL NOT NULL DEFAULT 0,
	quantity INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS state (
	bucket TEXT PRIMARY KEY,
	payload BLOB NOT NULL
);`

// Store persists tasks to SQLite while reusing the in-memory implementation
// for transactions, reads and commit hooks.
type Store struct {
	*memory.Store
	db   *sql.DB
	path string

	// dataVersion is the last PRAGMA data_version seen; it only moves when
	// another connection commits. Guarded by the memory store's write lock
	// via Reconcile.
	dataVersion int64
}

type sequencePayload struct {
	NextID int64 `json:"next_id"`
}

// NewStore opens (creating if needed) the SQLite database at path and hydrates
// the in-memory store from it.
func NewStore(path string, engine *domain.RulesEngine) (*Store, error) {
	if path == "" {
		path = DefaultPath
	}
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite works best with a single writer, and :memory: databases are per connection.
	db.SetMaxOpenConns(1)
	if path != MemoryPath {
		if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("enable WAL mode: %w", err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	s := &Store{Store: memory.NewStore(engine), db: db, path: path}
	ctx := context.Background()
	version, err := s.readDataVersion(ctx)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	snapshot, err := s.readSnapshot(ctx)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.ImportState(snapshot)
	s.dataVersion = version
	s.SetPersister(s.persist)
	return s, nil
}

// Refresh picks up commits made by other connections to the same database
// file, such as another process. When the file changed since the last check
// the tasks are reloaded and the difference is delivered to commit hooks.
// Refresh reports whether any task changed.
func (s *Store) Refresh(ctx context.Context) (bool, error) {
	return s.Reconcile(func() (memory.Snapshot, bool, error) {
		version, err := s.readDataVersion(ctx)
		if err != nil || version == s.dataVersion {
			return memory.Snapshot{}, false, err
		}
		snapshot, err := s.readSnapshot(ctx)
		if err != nil {
			return memory.Snapshot{}, false, err
		}
		s.dataVersion = version
		return snapshot, true, nil
	})
}

func (s *Store) readDataVersion(ctx context.Context) (int64, error) {
	var version int64
	if err := s.db.QueryRowContext(ctx, `PRAGMA data_version`).Scan(&version); err != nil {
		return 0, fmt.Errorf("read data_version: %w", err)
	}
	return version, nil
}

func (s *Store) readSnapshot(ctx context.Context) (memory.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, priority, price, quantity FROM tasks ORDER BY id`)
	if err != nil {
		return memory.Snapshot{}, fmt.Errorf("select tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	snapshot := memory.Snapshot{Tasks: make(map[int64]domain.Task)}
	for rows.Next() {
		var (
			t        domain.Task
			priority string
		)
		if err := rows.Scan(&t.ID, &t.Name, &priority, &t.Price, &t.Quantity); err != nil {
			return memory.Snapshot{}, fmt.Errorf("scan task: %w", err)
		}
		t.Priority = domain.Priority(priority)
		snapshot.Tasks[t.ID] = t
	}
	if err := rows.Err(); err != nil {
		return memory.Snapshot{}, fmt.Errorf("iterate tasks: %w", err)
	}

	var payload []byte
	err = s.db.QueryRowContext(ctx, `SELECT payload FROM state WHERE bucket = ?`, sequenceBucket).Scan(&payload)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return memory.Snapshot{}, fmt.Errorf("select sequence: %w", err)
	default:
		var seq sequencePayload
		if err := json.Unmarshal(payload, &seq); err != nil {
			return memory.Snapshot{}, fmt.Errorf("decode sequence: %w", err)
		}
		snapshot.NextID = seq.NextID
	}
	return snapshot, nil
}

func (s *Store) persist(ctx context.Context, changes []domain.Change, nextID int64) (retErr error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	for _, change := range changes {
		switch change.Action {
		case domain.ActionCreate, domain.ActionUpdate:
			t := change.After
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO tasks(id, name, priority, price, quantity) VALUES(?, ?, ?, ?, ?)
				ON CONFLICT(id) DO UPDATE SET name=excluded.name, priority=excluded.priority, price=excluded.price, quantity=excluded.quantity`,
				t.ID, t.Name, string(t.Priority), t.Price, t.Quantity,
			); err != nil {
				return fmt.Errorf("upsert task %d: %w", t.ID, err)
			}
		case domain.ActionDelete:
			if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, change.TaskID()); err != nil {
				return fmt.Errorf("delete task %d: %w", change.TaskID(), err)
			}
		}
	}
	data, err := json.Marshal(sequencePayload{NextID: nextID})
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO state(bucket, payload) VALUES(?, ?) ON CONFLICT(bucket) DO UPDATE SET payload=excluded.payload`, sequenceBucket, data); err != nil {
		return fmt.Errorf("upsert sequence: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }
