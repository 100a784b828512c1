// Package core wires a task store to its live feeds and exposes the
// repository used by controllers, with logging, metrics, tracing and audit
// hooks around every write.
package core

import (
	"context"
	"time"

	"inventory/internal/live"
	"inventory/pkg/domain"
)

// TasksRepository is the storage-independent surface controllers depend on.
// Each method forwards to the underlying store or its feeds unchanged.
type TasksRepository interface {
	// AllTasksStream emits every task ordered by id, on subscribe and after
	// every commit.
	AllTasksStream(ctx context.Context) (*live.Subscription[[]domain.Task], error)
	// TaskStream emits the task with the given id, or an absent value, on
	// subscribe and after every commit touching that id.
	TaskStream(ctx context.Context, id int64) (*live.Subscription[live.Optional[domain.Task]], error)
	GetTask(ctx context.Context, id int64) (domain.Task, bool)
	ListTasks(ctx context.Context) []domain.Task
	InsertTask(ctx context.Context, task domain.Task) (domain.Task, domain.Result, error)
	UpdateTask(ctx context.Context, task domain.Task) (domain.Task, domain.Result, error)
	DeleteTask(ctx context.Context, task domain.Task) (domain.Result, error)
}

var _ TasksRepository = (*OfflineTasksRepository)(nil)

// Option configures an OfflineTasksRepository.
type Option func(*OfflineTasksRepository)

// WithLogger sets the structured logger.
func WithLogger(logger Logger) Option {
	return func(r *OfflineTasksRepository) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetricsRecorder sets the metrics recorder.
func WithMetricsRecorder(metrics MetricsRecorder) Option {
	return func(r *OfflineTasksRepository) {
		if metrics != nil {
			r.metrics = metrics
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(tracer Tracer) Option {
	return func(r *OfflineTasksRepository) {
		if tracer != nil {
			r.tracer = tracer
		}
	}
}

// WithAuditRecorder sets the audit recorder.
func WithAuditRecorder(audit AuditRecorder) Option {
	return func(r *OfflineTasksRepository) {
		if audit != nil {
			r.audit = audit
		}
	}
}

// WithClock sets the clock used for audit timestamps.
func WithClock(clock Clock) Option {
	return func(r *OfflineTasksRepository) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// WithIdleWindow sets how long feeds outlive their last subscriber.
func WithIdleWindow(d time.Duration) Option {
	return func(r *OfflineTasksRepository) { r.idle = d }
}

// OfflineTasksRepository implements TasksRepository over a local store.
type OfflineTasksRepository struct {
	store   PersistentStore
	hub     *live.Hub
	idle    time.Duration
	logger  Logger
	metrics MetricsRecorder
	tracer  Tracer
	audit   AuditRecorder
	clock   Clock
}

// NewOfflineTasksRepository builds a repository over store.
func NewOfflineTasksRepository(store PersistentStore, opts ...Option) *OfflineTasksRepository {
	r := &OfflineTasksRepository{
		store:   store,
		idle:    live.DefaultIdleWindow,
		logger:  noopLogger{},
		metrics: noopMetricsRecorder{},
		tracer:  noopTracer{},
		audit:   noopAuditRecorder{},
		clock:   ClockFunc(nil),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.hub = live.NewHub(store, r.idle)
	return r
}

// Store returns the underlying store.
func (r *OfflineTasksRepository) Store() PersistentStore { return r.store }

// Hub returns the feed hub backing the streams.
func (r *OfflineTasksRepository) Hub() *live.Hub { return r.hub }

// AllTasksStream implements TasksRepository.
func (r *OfflineTasksRepository) AllTasksStream(ctx context.Context) (*live.Subscription[[]domain.Task], error) {
	return r.hub.AllTasks().Subscribe(ctx)
}

// TaskStream implements TasksRepository.
func (r *OfflineTasksRepository) TaskStream(ctx context.Context, id int64) (*live.Subscription[live.Optional[domain.Task]], error) {
	return r.hub.Task(id).Subscribe(ctx)
}

// GetTask implements TasksRepository.
func (r *OfflineTasksRepository) GetTask(_ context.Context, id int64) (domain.Task, bool) {
	return r.store.GetTask(id)
}

// ListTasks implements TasksRepository.
func (r *OfflineTasksRepository) ListTasks(_ context.Context) []domain.Task {
	return r.store.ListTasks()
}

// InsertTask implements TasksRepository.
func (r *OfflineTasksRepository) InsertTask(ctx context.Context, task domain.Task) (domain.Task, domain.Result, error) {
	var created domain.Task
	res, err := r.run(ctx, opInsertTask, func() int64 { return created.ID }, func(tx domain.Transaction) error {
		var err error
		created, err = tx.CreateTask(task)
		return err
	})
	return created, res, err
}

// UpdateTask implements TasksRepository.
func (r *OfflineTasksRepository) UpdateTask(ctx context.Context, task domain.Task) (domain.Task, domain.Result, error) {
	var updated domain.Task
	res, err := r.run(ctx, opUpdateTask, func() int64 { return task.ID }, func(tx domain.Transaction) error {
		var err error
		updated, err = tx.UpdateTask(task)
		return err
	})
	return updated, res, err
}

// DeleteTask implements TasksRepository.
func (r *OfflineTasksRepository) DeleteTask(ctx context.Context, task domain.Task) (domain.Result, error) {
	return r.run(ctx, opDeleteTask, func() int64 { return task.ID }, func(tx domain.Transaction) error {
		return tx.DeleteTask(task.ID)
	})
}

func (r *OfflineTasksRepository) run(ctx context.Context, op string, id func() int64, fn func(domain.Transaction) error) (domain.Result, error) {
	ctx, span := r.tracer.Start(ctx, op)
	start := time.Now()
	res, err := r.store.RunInTransaction(ctx, fn)
	duration := time.Since(start)
	span.End(err)
	r.metrics.Observe(ctx, op, err == nil, duration)
	r.recordAudit(ctx, op, id(), duration, err)
	if err != nil {
		r.logger.Error("task write failed", "operation", op, "id", id(), "error", err)
		return res, err
	}
	for _, v := range res.Violations {
		r.logger.Warn("task rule warning", "operation", op, "id", id(), "rule", v.Rule, "message", v.Message)
	}
	r.logger.Debug("task write committed", "operation", op, "id", id(), "duration", duration)
	return res, nil
}

func (r *OfflineTasksRepository) recordAudit(ctx context.Context, op string, id int64, duration time.Duration, err error) {
	action, ok := actionForOperation(op)
	if !ok {
		return
	}
	entry := AuditEntry{
		Operation: op,
		Entity:    domain.EntityTask,
		Action:    action,
		EntityID:  id,
		Status:    AuditStatusSuccess,
		Duration:  duration,
		Timestamp: r.clock.Now(),
	}
	if err != nil {
		entry.Status = AuditStatusError
		entry.Error = err.Error()
	}
	r.audit.Record(ctx, entry)
}
