// Package postgres provides a Postgres-backed task store that mirrors the
// in-memory semantics and writes every transaction to the tasks table before
// it becomes visible.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"inventory/internal/infra/persistence/memory"
	"inventory/pkg/domain"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

const (
	defaultDriver = "pgx"
	// Default DSN keeps parity with OpenPersistentStore defaults while allowing overrides via config.
	defaultDSN = "postgres://localhost/inventory?sslmode=disable"

	sequenceBucket = "task_sequence"
)

var ddl = []string{
	`CREATE TABLE IF NOT EXISTS tasks (
		id BIGINT PRIMARY KEY,
		name TEXT NOT NULL,
		priority TEXT NOT NULL,
		price DOUBLE PRECISION NOT NULL DEFAULT 0,
		quantity INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload JSONB NOT NULL
	)`,
}

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store persists tasks to Postgres while reusing the in-memory implementation
// for transactions, reads and commit hooks.
type Store struct {
	*memory.Store
	db *sql.DB
}

type sequencePayload struct {
	NextID int64 `json:"next_id"`
}

// NewStore opens a Postgres-backed store using the provided DSN (falls back to
// defaultDSN), ensures the schema exists and hydrates the in-memory store.
func NewStore(dsn string, engine *domain.RulesEngine) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := applyDDL(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	snapshot, err := loadSnapshot(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	mem := memory.NewStore(engine)
	mem.ImportState(snapshot)
	s := &Store{Store: mem, db: db}
	mem.SetPersister(s.persist)
	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

func applyDDL(ctx context.Context, db *sql.DB) error {
	for _, stmt := range ddl {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute ddl: %w", err)
		}
	}
	return nil
}

func loadSnapshot(ctx context.Context, db *sql.DB) (memory.Snapshot, error) {
	snapshot := memory.Snapshot{Tasks: make(map[int64]domain.Task)}

	rows, err := db.QueryContext(ctx, `SELECT id, name, priority, price, quantity FROM tasks ORDER BY id`)
	if err != nil {
		return memory.Snapshot{}, fmt.Errorf("select tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()
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

	stateRows, err := db.QueryContext(ctx, `SELECT bucket, payload FROM state`)
	if err != nil {
		return memory.Snapshot{}, fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = stateRows.Close() }()
	for stateRows.Next() {
		var bucket string
		var payload []byte
		if err := stateRows.Scan(&bucket, &payload); err != nil {
			return memory.Snapshot{}, fmt.Errorf("scan state: %w", err)
		}
		if bucket != sequenceBucket || len(payload) == 0 {
			continue
		}
		var seq sequencePayload
		if err := json.Unmarshal(payload, &seq); err != nil {
			return memory.Snapshot{}, fmt.Errorf("decode %s: %w", bucket, err)
		}
		snapshot.NextID = seq.NextID
	}
	if err := stateRows.Err(); err != nil {
		return memory.Snapshot{}, fmt.Errorf("iterate state: %w", err)
	}
	return snapshot, nil
}

func (s *Store) persist(ctx context.Context, changes []domain.Change, nextID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	for _, change := range changes {
		switch change.Action {
		case domain.ActionCreate, domain.ActionUpdate:
			t := change.After
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO tasks (id, name, priority, price, quantity) VALUES ($1, $2, $3, $4, $5)
				ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, priority = EXCLUDED.priority, price = EXCLUDED.price, quantity = EXCLUDED.quantity`,
				t.ID, t.Name, string(t.Priority), t.Price, t.Quantity,
			); err != nil {
				return fmt.Errorf("upsert task %d: %w", t.ID, err)
			}
		case domain.ActionDelete:
			if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1`, change.TaskID()); err != nil {
				return fmt.Errorf("delete task %d: %w", change.TaskID(), err)
			}
		}
	}
	data, err := json.Marshal(sequencePayload{NextID: nextID})
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO state (bucket, payload) VALUES ($1, $2) ON CONFLICT (bucket) DO UPDATE SET payload = EXCLUDED.payload`, sequenceBucket, data); err != nil {
		return fmt.Errorf("upsert %s: %w", sequenceBucket, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
