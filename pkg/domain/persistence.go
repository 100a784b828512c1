package domain

import "context"

// Transaction exposes the task operations that a persistence implementation
// must support within an atomic scope.
type Transaction interface {
	Snapshot() TransactionView
	CreateTask(Task) (Task, error)
	UpdateTask(Task) (Task, error)
	DeleteTask(id int64) error
	FindTask(id int64) (Task, bool)
}

// TransactionView provides read-only access to snapshot data. ListTasks is
// ordered by id ascending.
type TransactionView interface {
	ListTasks() []Task
	FindTask(id int64) (Task, bool)
}

// PersistentStore is the abstraction over durable backends used by higher
// layers. OnCommit hooks run synchronously in commit order before
// RunInTransaction returns to its caller.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	GetTask(id int64) (Task, bool)
	ListTasks() []Task
	OnCommit(fn func(Commit)) (cancel func())
}
