// Package testutil provides an in-memory database/sql driver that understands
// the handful of statements the postgres task store issues.
package testutil

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
)

var driverSeq atomic.Int64

// TaskRow is a row of the tasks table.
type TaskRow struct {
	ID       int64
	Name     string
	Priority string
	Price    float64
	Quantity int64
}

// FakeDB holds the committed contents of the tasks and state tables. Writes
// issued inside a transaction are staged and only applied by Commit.
type FakeDB struct {
	mu         sync.Mutex
	statements []string
	tasks      map[int64]TaskRow
	state      map[string][]byte
	staged     []func()
	inTx       bool

	// Failure switches.
	FailPing   bool
	FailBegin  bool
	FailCommit bool
	FailWrites bool
	CursorErr  error
}

// New returns an empty database and a sql.DB connected to it.
func New() (*sql.DB, *FakeDB) {
	fake := &FakeDB{tasks: make(map[int64]TaskRow), state: make(map[string][]byte)}
	return fake.Open(), fake
}

// Open returns a fresh sql.DB over the same contents, as a restarted process
// would see them.
func (f *FakeDB) Open() *sql.DB {
	name := fmt.Sprintf("fakepg-%d", driverSeq.Add(1))
	sql.Register(name, fakeDriver{db: f})
	db, err := sql.Open(name, "")
	if err != nil {
		panic(err)
	}
	return db
}

// Statements returns every statement executed so far.
func (f *FakeDB) Statements() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.statements)
}

// Tasks returns the committed task rows ordered by id.
func (f *FakeDB) Tasks() []TaskRow {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]TaskRow, 0, len(f.tasks))
	for _, id := range slices.Sorted(maps.Keys(f.tasks)) {
		out = append(out, f.tasks[id])
	}
	return out
}

// PutTask stores a committed row directly.
func (f *FakeDB) PutTask(row TaskRow) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks[row.ID] = row
}

// State returns the committed payload of a state bucket.
func (f *FakeDB) State(bucket string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.state[bucket]
	return p, ok
}

type fakeDriver struct{ db *FakeDB }

func (d fakeDriver) Open(string) (driver.Conn, error) { return &conn{db: d.db}, nil }

type conn struct{ db *FakeDB }

func (c *conn) Prepare(string) (driver.Stmt, error) {
	return nil, errors.New("fakepg: prepared statements are not supported")
}

func (c *conn) Close() error { return nil }

func (c *conn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *conn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	f := c.db
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailBegin {
		return nil, errors.New("fakepg: begin failed")
	}
	f.inTx = true
	f.staged = nil
	return tx{db: f}, nil
}

func (c *conn) Ping(context.Context) error {
	if c.db.FailPing {
		return errors.New("fakepg: connection refused")
	}
	return nil
}

func (c *conn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	f := c.db
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statements = append(f.statements, query)
	verb, table := classify(query)
	if verb == "CREATE" {
		return driver.RowsAffected(0), nil
	}
	if f.FailWrites {
		return nil, fmt.Errorf("fakepg: write to %s failed", table)
	}
	apply, err := f.mutation(verb, table, args)
	if err != nil {
		return nil, err
	}
	if f.inTx {
		f.staged = append(f.staged, apply)
	} else {
		apply()
	}
	return driver.RowsAffected(1), nil
}

// mutation must be called with f.mu held; the returned func also runs under it.
func (f *FakeDB) mutation(verb, table string, args []driver.NamedValue) (func(), error) {
	switch {
	case verb == "INSERT" && table == "tasks":
		if len(args) != 5 {
			return nil, fmt.Errorf("fakepg: tasks insert wants 5 args, got %d", len(args))
		}
		row := TaskRow{
			ID:       asInt64(args[0].Value),
			Name:     asString(args[1].Value),
			Priority: asString(args[2].Value),
			Price:    asFloat64(args[3].Value),
			Quantity: asInt64(args[4].Value),
		}
		return func() { f.tasks[row.ID] = row }, nil
	case verb == "INSERT" && table == "state":
		if len(args) != 2 {
			return nil, fmt.Errorf("fakepg: state insert wants 2 args, got %d", len(args))
		}
		bucket := asString(args[0].Value)
		payload := asBytes(args[1].Value)
		return func() { f.state[bucket] = payload }, nil
	case verb == "DELETE" && table == "tasks":
		if len(args) != 1 {
			return nil, fmt.Errorf("fakepg: tasks delete wants 1 arg, got %d", len(args))
		}
		id := asInt64(args[0].Value)
		return func() { delete(f.tasks, id) }, nil
	}
	return nil, fmt.Errorf("fakepg: unsupported %s on %q", verb, table)
}

func (c *conn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	f := c.db
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statements = append(f.statements, query)
	verb, table := classify(query)
	if verb != "SELECT" {
		return nil, fmt.Errorf("fakepg: unsupported query %q", query)
	}
	out := &rows{err: f.CursorErr}
	switch table {
	case "tasks":
		out.cols = []string{"id", "name", "priority", "price", "quantity"}
		for _, id := range slices.Sorted(maps.Keys(f.tasks)) {
			t := f.tasks[id]
			out.values = append(out.values, []driver.Value{t.ID, t.Name, t.Priority, t.Price, t.Quantity})
		}
	case "state":
		out.cols = []string{"bucket", "payload"}
		for _, bucket := range slices.Sorted(maps.Keys(f.state)) {
			out.values = append(out.values, []driver.Value{bucket, slices.Clone(f.state[bucket])})
		}
	default:
		return nil, fmt.Errorf("fakepg: unknown table %q", table)
	}
	return out, nil
}

type tx struct{ db *FakeDB }

func (t tx) Commit() error {
	f := t.db
	f.mu.Lock()
	defer f.mu.Unlock()
	staged := f.staged
	f.staged, f.inTx = nil, false
	if f.FailCommit {
		return errors.New("fakepg: commit failed")
	}
	for _, apply := range staged {
		apply()
	}
	return nil
}

func (t tx) Rollback() error {
	f := t.db
	f.mu.Lock()
	defer f.mu.Unlock()
	f.staged, f.inTx = nil, false
	return nil
}

type rows struct {
	cols   []string
	values [][]driver.Value
	next   int
	err    error
}

func (r *rows) Columns() []string { return r.cols }
func (r *rows) Close() error      { return nil }

func (r *rows) Next(dest []driver.Value) error {
	if r.next >= len(r.values) {
		if r.err != nil {
			return r.err
		}
		return io.EOF
	}
	copy(dest, r.values[r.next])
	r.next++
	return nil
}

// classify returns the leading verb and the table a statement targets.
func classify(query string) (verb, table string) {
	fields := strings.Fields(strings.ToLower(query))
	if len(fields) == 0 {
		return "", ""
	}
	verb = strings.ToUpper(fields[0])
	var marker string
	switch verb {
	case "INSERT":
		marker = "into"
	case "DELETE", "SELECT":
		marker = "from"
	case "CREATE":
		marker = "exists"
	}
	for i, field := range fields {
		if field == marker && i+1 < len(fields) {
			return verb, strings.TrimRight(fields[i+1], "(")
		}
	}
	return verb, ""
}

func asInt64(v driver.Value) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case float64:
		return int64(n)
	}
	return 0
}

func asFloat64(v driver.Value) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	}
	return 0
}

func asString(v driver.Value) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	}
	return fmt.Sprint(v)
}

func asBytes(v driver.Value) []byte {
	switch b := v.(type) {
	case []byte:
		return slices.Clone(b)
	case string:
		return []byte(b)
	}
	return nil
}
