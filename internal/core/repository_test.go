package core

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"inventory/internal/config"
	"inventory/internal/infra/persistence/memory"
	"inventory/internal/live"
	"inventory/pkg/domain"
)

type metricsCall struct {
	op      string
	success bool
}

type captureMetricsRecorder struct {
	calls []metricsCall
}

func (c *captureMetricsRecorder) Observe(_ context.Context, op string, success bool, _ time.Duration) {
	c.calls = append(c.calls, metricsCall{op: op, success: success})
}

func (c *captureMetricsRecorder) has(op string, success bool) bool {
	for _, call := range c.calls {
		if call.op == op && call.success == success {
			return true
		}
	}
	return false
}

type captureAuditRecorder struct {
	entries []AuditEntry
}

func (c *captureAuditRecorder) Record(_ context.Context, entry AuditEntry) {
	c.entries = append(c.entries, entry)
}

type logCall struct {
	level string
	msg   string
}

type captureLogger struct {
	calls []logCall
}

func (c *captureLogger) Debug(msg string, _ ...any) { c.calls = append(c.calls, logCall{"debug", msg}) }
func (c *captureLogger) Info(msg string, _ ...any)  { c.calls = append(c.calls, logCall{"info", msg}) }
func (c *captureLogger) Warn(msg string, _ ...any)  { c.calls = append(c.calls, logCall{"warn", msg}) }
func (c *captureLogger) Error(msg string, _ ...any) { c.calls = append(c.calls, logCall{"error", msg}) }

func (c *captureLogger) has(level string) bool {
	for _, call := range c.calls {
		if call.level == level {
			return true
		}
	}
	return false
}

func nextValue[T any](t *testing.T, sub *live.Subscription[T]) T {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	v, ok := sub.Next(ctx)
	if !ok {
		t.Fatalf("no value delivered")
	}
	return v
}

func newRepo(t *testing.T, opts ...Option) *OfflineTasksRepository {
	t.Helper()
	return NewOfflineTasksRepository(memory.NewStore(nil), append([]Option{WithIdleWindow(0)}, opts...)...)
}

func TestRepositoryInsertThenRead(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	apples := domain.Task{ID: 1, Name: "Apples", Price: 10.0, Quantity: 20}
	if _, _, err := repo.InsertTask(ctx, apples); err != nil {
		t.Fatalf("insert: %v", err)
	}
	sub, err := repo.AllTasksStream(ctx)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer sub.Close()
	if got := nextValue(t, sub); len(got) != 1 || got[0] != apples {
		t.Fatalf("expected [%+v], got %+v", apples, got)
	}
}

func TestRepositoryMultiInsertOrdering(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	bananas := domain.Task{ID: 2, Name: "Bananas", Price: 15.0, Quantity: 97}
	apples := domain.Task{ID: 1, Name: "Apples", Price: 10.0, Quantity: 20}
	for _, task := range []domain.Task{bananas, apples} {
		if _, _, err := repo.InsertTask(ctx, task); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	got := repo.ListTasks(ctx)
	if len(got) != 2 || got[0] != apples || got[1] != bananas {
		t.Fatalf("expected [Apples Bananas], got %+v", got)
	}
}

func TestRepositoryTaskStreamAndGet(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	apples, _, err := repo.InsertTask(ctx, domain.Task{Name: "Apples", Price: 10.0, Quantity: 20})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	sub, err := repo.TaskStream(ctx, apples.ID)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer sub.Close()
	if got, ok := nextValue(t, sub).Get(); !ok || got != apples {
		t.Fatalf("expected %+v, got %+v", apples, got)
	}
	if got, ok := repo.GetTask(ctx, apples.ID); !ok || got != apples {
		t.Fatalf("expected %+v from GetTask", apples)
	}
}

func TestRepositoryUpdateReplacesFullRecord(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	if _, _, err := repo.InsertTask(ctx, domain.Task{ID: 1, Name: "Apples", Price: 10.0, Quantity: 20}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	sub, _ := repo.AllTasksStream(ctx)
	defer sub.Close()
	nextValue(t, sub)

	want := domain.Task{ID: 1, Name: "Apples", Price: 15.0, Quantity: 25}
	if _, _, err := repo.UpdateTask(ctx, want); err != nil {
		t.Fatalf("update: %v", err)
	}
	if got := nextValue(t, sub); len(got) != 1 || got[0] != want {
		t.Fatalf("expected [%+v], got %+v", want, got)
	}
}

func TestRepositoryDeleteAllAndIdempotentDelete(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	tasks := []domain.Task{{ID: 1, Name: "Apples"}, {ID: 2, Name: "Bananas"}}
	for _, task := range tasks {
		if _, _, err := repo.InsertTask(ctx, task); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	for _, task := range append(tasks, tasks[0], domain.Task{ID: 42}) {
		if _, err := repo.DeleteTask(ctx, task); err != nil {
			t.Fatalf("delete %d: %v", task.ID, err)
		}
	}
	sub, _ := repo.AllTasksStream(ctx)
	defer sub.Close()
	if got := nextValue(t, sub); len(got) != 0 {
		t.Fatalf("expected empty list, got %+v", got)
	}
}

func TestRepositoryObservability(t *testing.T) {
	ctx := context.Background()
	metrics := &captureMetricsRecorder{}
	audit := &captureAuditRecorder{}
	logger := &captureLogger{}
	tracer := NewJSONTracer(nil)
	fixed := time.Date(2024, 10, 1, 8, 30, 0, 0, time.UTC)
	repo := NewOfflineTasksRepository(memory.NewStore(NewDefaultRulesEngine()),
		WithMetricsRecorder(metrics),
		WithAuditRecorder(audit),
		WithLogger(logger),
		WithTracer(tracer),
		WithClock(ClockFunc(func() time.Time { return fixed })),
	)

	created, _, err := repo.InsertTask(ctx, domain.Task{Name: "Apples", Priority: domain.PriorityHigh})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, _, err := repo.UpdateTask(ctx, domain.Task{ID: 99, Name: "Ghost", Priority: domain.PriorityLow}); err == nil {
		t.Fatalf("expected update of missing id to fail")
	}
	if _, _, err := repo.InsertTask(ctx, domain.Task{Name: "Odd", Priority: "Urgent"}); err != nil {
		t.Fatalf("insert with unknown priority: %v", err)
	}

	if !metrics.has(opInsertTask, true) || !metrics.has(opUpdateTask, false) {
		t.Fatalf("unexpected metrics calls: %+v", metrics.calls)
	}
	if len(audit.entries) != 3 {
		t.Fatalf("expected 3 audit entries, got %d", len(audit.entries))
	}
	first := audit.entries[0]
	if first.Action != domain.ActionCreate || first.EntityID != created.ID || first.Status != AuditStatusSuccess || !first.Timestamp.Equal(fixed) {
		t.Fatalf("unexpected audit entry: %+v", first)
	}
	var nf domain.ErrNotFound
	if second := audit.entries[1]; second.Status != AuditStatusError || second.Error == "" {
		t.Fatalf("expected failed audit entry, got %+v", second)
	}
	if _, _, err := repo.UpdateTask(ctx, domain.Task{ID: 99}); !errors.As(err, &nf) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if !logger.has("error") || !logger.has("warn") || !logger.has("debug") {
		t.Fatalf("expected error, warn and debug logs, got %+v", logger.calls)
	}
	spans := tracer.Entries()
	if len(spans) < 3 || spans[1].Status != string(AuditStatusError) {
		t.Fatalf("unexpected spans: %+v", spans)
	}
}

func TestRepositoryRuleViolationBlocksBlankName(t *testing.T) {
	repo := NewOfflineTasksRepository(memory.NewStore(NewDefaultRulesEngine()), WithIdleWindow(0))
	_, res, err := repo.InsertTask(context.Background(), domain.Task{Name: "  ", Priority: domain.PriorityHigh})
	var violation domain.RuleViolationError
	if !errors.As(err, &violation) || !res.HasBlocking() {
		t.Fatalf("expected blocking rule violation, got %v", err)
	}
	if len(repo.ListTasks(context.Background())) != 0 {
		t.Fatalf("expected nothing stored")
	}
}

func TestOpenPersistentStore(t *testing.T) {
	store, err := OpenPersistentStore(config.Storage{Driver: "memory"})
	if err != nil {
		t.Fatalf("memory: %v", err)
	}
	if err := CloseStore(store); err != nil {
		t.Fatalf("close memory: %v", err)
	}
	if mem, ok := store.(*memory.Store); !ok || mem.RulesEngine() == nil {
		t.Fatalf("expected memory store with rules engine, got %T", store)
	}

	path := filepath.Join(t.TempDir(), "inventory.db")
	store, err = OpenPersistentStore(config.Storage{Driver: "sqlite", SQLitePath: path})
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	if _, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateTask(domain.Task{Name: "", Priority: domain.PriorityLow})
		return err
	}); err == nil {
		t.Fatalf("expected field rule on sqlite backend")
	}
	if err := CloseStore(store); err != nil {
		t.Fatalf("close sqlite: %v", err)
	}

	if _, err := OpenPersistentStore(config.Storage{Driver: "cassandra"}); err == nil {
		t.Fatalf("expected unknown driver error")
	}
}
