// Package memory provides the in-memory transactional task store. It is the
// source of truth for every backend: the SQL stores embed it and persist each
// transaction before it becomes visible.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"inventory/pkg/domain"
)

// Compile-time contract assertion ensuring memory.Store adheres to the domain persistence interface.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Task aliases domain.Task for in-memory persistence operations.
	Task = domain.Task
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Commit aliases domain.Commit delivered to commit hooks.
	Commit = domain.Commit
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

// Persister durably writes the changes of a transaction before the store makes
// them visible. nextID is the id sequence value after the transaction.
type Persister func(ctx context.Context, changes []Change, nextID int64) error

type memoryState struct {
	tasks  map[int64]Task
	nextID int64
}

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	Tasks  map[int64]Task `json:"tasks"`
	NextID int64          `json:"next_id"`
}

func newMemoryState() memoryState {
	return memoryState{tasks: make(map[int64]Task), nextID: 1}
}

func (s memoryState) clone() memoryState {
	cloned := memoryState{tasks: make(map[int64]Task, len(s.tasks)), nextID: s.nextID}
	for k, v := range s.tasks {
		cloned.tasks[k] = v
	}
	return cloned
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	cloned := state.clone()
	return Snapshot{Tasks: cloned.tasks, NextID: cloned.nextID}
}

// memoryStateFromSnapshot never lets the sequence fall behind a live id, so a
// snapshot written by an older build cannot cause id reuse.
func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := newMemoryState()
	for k, v := range s.Tasks {
		v.ID = k
		state.tasks[k] = v
		if k >= state.nextID {
			state.nextID = k + 1
		}
	}
	if s.NextID > state.nextID {
		state.nextID = s.NextID
	}
	return state
}

// Store provides an in-memory transactional store for tasks.
type Store struct {
	// writeMu serializes transactions including their persistence and hook
	// delivery; mu guards state for readers.
	writeMu   sync.Mutex
	mu        sync.RWMutex
	state     memoryState
	engine    *RulesEngine
	persister Persister
	seq       uint64

	hooksMu sync.Mutex
	hookSeq uint64
	hooks   map[uint64]func(Commit)
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		state:  newMemoryState(),
		engine: engine,
		hooks:  make(map[uint64]func(Commit)),
	}
}

// SetPersister installs the durable write step run before each commit.
func (s *Store) SetPersister(p Persister) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.persister = p
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot. Commit
// hooks are not notified.
func (s *Store) ImportState(snapshot Snapshot) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(snapshot)
}

// Reconcile replaces the committed state with a snapshot written elsewhere,
// for example by another process sharing the same database. load runs while
// local transactions are held off; returning ok=false leaves the state alone.
// The difference is delivered to commit hooks as one commit and is not handed
// to the persister. Reconcile reports whether any task changed.
func (s *Store) Reconcile(load func() (snapshot Snapshot, ok bool, err error)) (bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	snapshot, ok, err := load()
	if err != nil || !ok {
		return false, err
	}
	next := memoryStateFromSnapshot(snapshot)

	s.mu.Lock()
	current := s.state
	if current.nextID > next.nextID {
		next.nextID = current.nextID
	}
	changes := diffStates(current, next)
	s.state = next
	if len(changes) == 0 {
		s.mu.Unlock()
		return false, nil
	}
	s.seq++
	commit := Commit{Seq: s.seq, Changes: changes, View: newTransactionView(&next)}
	s.mu.Unlock()

	s.publish(commit)
	return true, nil
}

// diffStates lists the changes turning from into to, ordered by task id.
func diffStates(from, to memoryState) []Change {
	ids := make([]int64, 0, len(from.tasks)+len(to.tasks))
	for id := range from.tasks {
		ids = append(ids, id)
	}
	for id := range to.tasks {
		if _, ok := from.tasks[id]; !ok {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var changes []Change
	for _, id := range ids {
		before, had := from.tasks[id]
		after, has := to.tasks[id]
		switch {
		case had && !has:
			changes = append(changes, Change{Entity: domain.EntityTask, Action: domain.ActionDelete, Before: &before})
		case !had && has:
			changes = append(changes, Change{Entity: domain.EntityTask, Action: domain.ActionCreate, After: &after})
		case before != after:
			changes = append(changes, Change{Entity: domain.EntityTask, Action: domain.ActionUpdate, Before: &before, After: &after})
		}
	}
	return changes
}

// RulesEngine exposes the currently configured engine.
func (s *Store) RulesEngine() *RulesEngine {
	return s.engine
}

// OnCommit registers fn to receive every commit, in commit order, before the
// committing RunInTransaction returns. fn must not start a transaction.
func (s *Store) OnCommit(fn func(Commit)) (cancel func()) {
	s.hooksMu.Lock()
	s.hookSeq++
	id := s.hookSeq
	s.hooks[id] = fn
	s.hooksMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.hooksMu.Lock()
			delete(s.hooks, id)
			s.hooksMu.Unlock()
		})
	}
}

func (s *Store) publish(commit Commit) {
	s.hooksMu.Lock()
	ids := make([]uint64, 0, len(s.hooks))
	for id := range s.hooks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	fns := make([]func(Commit), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.hooks[id])
	}
	s.hooksMu.Unlock()

	for _, fn := range fns {
		fn(commit)
	}
}

// transaction represents a mutation set applied to a private copy of the state.
type transaction struct {
	state   memoryState
	changes []Change
}

// transactionView exposes a read-only snapshot of a state.
type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) TransactionView {
	return transactionView{state: state}
}

// ListTasks returns all tasks ordered by id.
func (v transactionView) ListTasks() []Task {
	out := make([]Task, 0, len(v.state.tasks))
	for _, t := range v.state.tasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// FindTask retrieves a task by id from the snapshot.
func (v transactionView) FindTask(id int64) (Task, bool) {
	t, ok := v.state.tasks[id]
	return t, ok
}

// RunInTransaction executes fn within a transactional copy of the store state.
// On success the changes are evaluated by the rules engine, persisted, made
// visible and delivered to commit hooks, in that order.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	tx := &transaction{state: s.state.clone()}
	s.mu.RUnlock()

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		res, err := s.engine.Evaluate(ctx, newTransactionView(&tx.state), tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	if len(tx.changes) == 0 {
		return result, nil
	}

	if s.persister != nil {
		if err := s.persister(ctx, tx.changes, tx.state.nextID); err != nil {
			return result, fmt.Errorf("persist transaction: %w", err)
		}
	}

	s.mu.Lock()
	s.state = tx.state
	s.seq++
	commit := Commit{Seq: s.seq, Changes: tx.changes, View: newTransactionView(&tx.state)}
	s.mu.Unlock()

	s.publish(commit)
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	snapshot := s.state
	s.mu.RUnlock()
	// Committed states are never mutated in place, so the view needs no copy.
	return fn(newTransactionView(&snapshot))
}

// GetTask returns the committed task with the given id.
func (s *Store) GetTask(id int64) (Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.state.tasks[id]
	return t, ok
}

// ListTasks returns the committed tasks ordered by id.
func (s *Store) ListTasks() []Task {
	s.mu.RLock()
	snapshot := s.state
	s.mu.RUnlock()
	return newTransactionView(&snapshot).ListTasks()
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return newTransactionView(&tx.state)
}

// FindTask exposes task lookup within the transaction scope.
func (tx *transaction) FindTask(id int64) (Task, bool) {
	t, ok := tx.state.tasks[id]
	return t, ok
}

// CreateTask stores a new task, assigning the next sequence id when t.ID is 0.
// Ids are never reused: the sequence only moves forward.
func (tx *transaction) CreateTask(t Task) (Task, error) {
	switch {
	case t.ID < 0:
		return Task{}, fmt.Errorf("invalid task id %d", t.ID)
	case t.ID == 0:
		t.ID = tx.state.nextID
	default:
		if _, exists := tx.state.tasks[t.ID]; exists {
			return Task{}, domain.ErrAlreadyExists{Entity: domain.EntityTask, ID: t.ID}
		}
	}
	if t.ID >= tx.state.nextID {
		tx.state.nextID = t.ID + 1
	}
	tx.state.tasks[t.ID] = t
	after := t
	tx.recordChange(Change{Entity: domain.EntityTask, Action: domain.ActionCreate, After: &after})
	return t, nil
}

// UpdateTask replaces the full record stored under t.ID.
func (tx *transaction) UpdateTask(t Task) (Task, error) {
	current, ok := tx.state.tasks[t.ID]
	if !ok {
		return Task{}, domain.ErrNotFound{Entity: domain.EntityTask, ID: t.ID}
	}
	tx.state.tasks[t.ID] = t
	before, after := current, t
	tx.recordChange(Change{Entity: domain.EntityTask, Action: domain.ActionUpdate, Before: &before, After: &after})
	return t, nil
}

// DeleteTask removes a task. Deleting an absent id is a no-op.
func (tx *transaction) DeleteTask(id int64) error {
	current, ok := tx.state.tasks[id]
	if !ok {
		return nil
	}
	delete(tx.state.tasks, id)
	before := current
	tx.recordChange(Change{Entity: domain.EntityTask, Action: domain.ActionDelete, Before: &before})
	return nil
}
