package core

import (
	"context"
	"time"

	"inventory/pkg/domain"
)

// Logger is the minimal structured logger used by the repository. *slog.Logger
// satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// MetricsRecorder observes repository operation outcomes.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

type noopMetricsRecorder struct{}

func (noopMetricsRecorder) Observe(context.Context, string, bool, time.Duration) {}

// TraceSpan ends a traced operation.
type TraceSpan interface {
	End(err error)
}

// Tracer starts spans around repository operations.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

type noopTracer struct{}

type noopSpan struct{}

func (noopTracer) Start(ctx context.Context, _ string) (context.Context, TraceSpan) {
	return ctx, noopSpan{}
}

func (noopSpan) End(error) {}

// AuditStatus captures whether an audited operation succeeded.
type AuditStatus string

const (
	// AuditStatusSuccess marks a committed write.
	AuditStatusSuccess AuditStatus = "success"
	// AuditStatusError marks a failed write.
	AuditStatusError AuditStatus = "error"
)

// AuditEntry records one write issued through the repository.
type AuditEntry struct {
	Operation string
	Entity    domain.EntityType
	Action    domain.Action
	EntityID  int64
	Status    AuditStatus
	Error     string
	Duration  time.Duration
	Timestamp time.Time
}

// AuditRecorder receives audit entries.
type AuditRecorder interface {
	Record(ctx context.Context, entry AuditEntry)
}

type noopAuditRecorder struct{}

func (noopAuditRecorder) Record(context.Context, AuditEntry) {}

// Clock supplies timestamps for audit entries.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock. A nil ClockFunc reports the current UTC time.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time {
	if f == nil {
		return time.Now().UTC()
	}
	return f()
}

// operation names reported to metrics, traces and audit entries.
const (
	opInsertTask = "insert_task"
	opUpdateTask = "update_task"
	opDeleteTask = "delete_task"
)

func actionForOperation(op string) (domain.Action, bool) {
	switch op {
	case opInsertTask:
		return domain.ActionCreate, true
	case opUpdateTask:
		return domain.ActionUpdate, true
	case opDeleteTask:
		return domain.ActionDelete, true
	default:
		return "", false
	}
}
