package core

import (
	"context"
	"encoding/json"
	"expvar"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

var expvarSeq atomic.Uint64

// ExpvarMetricsRecorder publishes per-operation duration totals (milliseconds)
// and success/error counters under one expvar name.
type ExpvarMetricsRecorder struct {
	name      string
	mu        sync.Mutex
	durations *expvar.Map
	results   *expvar.Map
}

// ExpvarMetricsSnapshot captures a read-only view of the recorded metrics.
type ExpvarMetricsSnapshot struct {
	DurationsMS map[string]float64          `json:"durations_ms_total"`
	Results     map[string]map[string]int64 `json:"results_total"`
	RecordedAt  time.Time                   `json:"recorded_at"`
}

// NewExpvarMetricsRecorder publishes a recorder under name, or under a
// generated unique name when name is empty.
func NewExpvarMetricsRecorder(name string) *ExpvarMetricsRecorder {
	if name == "" {
		name = fmt.Sprintf("inventory_repository_metrics_%d", expvarSeq.Add(1))
	}
	rec := &ExpvarMetricsRecorder{
		name:      name,
		durations: new(expvar.Map).Init(),
		results:   new(expvar.Map).Init(),
	}
	expvar.Publish(name, expvar.Func(func() any { return rec.Snapshot() }))
	return rec
}

// Name returns the expvar export name.
func (r *ExpvarMetricsRecorder) Name() string { return r.name }

// Observe implements MetricsRecorder.
func (r *ExpvarMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	status := string(AuditStatusError)
	if success {
		status = string(AuditStatusSuccess)
	}
	r.durations.AddFloat(operation, float64(duration)/float64(time.Millisecond))
	r.mu.Lock()
	counts, _ := r.results.Get(operation).(*expvar.Map)
	if counts == nil {
		counts = new(expvar.Map).Init()
		r.results.Set(operation, counts)
	}
	r.mu.Unlock()
	counts.Add(status, 1)
}

// Snapshot copies the aggregated metrics.
func (r *ExpvarMetricsRecorder) Snapshot() ExpvarMetricsSnapshot {
	snap := ExpvarMetricsSnapshot{
		DurationsMS: make(map[string]float64),
		Results:     make(map[string]map[string]int64),
		RecordedAt:  time.Now().UTC(),
	}
	r.durations.Do(func(kv expvar.KeyValue) {
		if f, ok := kv.Value.(*expvar.Float); ok {
			snap.DurationsMS[kv.Key] = f.Value()
		}
	})
	r.results.Do(func(kv expvar.KeyValue) {
		counts, ok := kv.Value.(*expvar.Map)
		if !ok {
			return
		}
		byStatus := make(map[string]int64)
		counts.Do(func(c expvar.KeyValue) {
			if n, ok := c.Value.(*expvar.Int); ok {
				byStatus[c.Key] = n.Value()
			}
		})
		snap.Results[kv.Key] = byStatus
	})
	return snap
}

// JSONTraceEntry is one finished span written by JSONTraceTracer.
type JSONTraceEntry struct {
	Operation  string    `json:"operation"`
	Status     string    `json:"status"`
	DurationMS float64   `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`
}

// JSONTraceTracer writes finished spans as JSON lines and keeps them for
// inspection. A nil writer only retains them.
type JSONTraceTracer struct {
	mu      sync.Mutex
	w       io.Writer
	entries []JSONTraceEntry
}

// NewJSONTracer returns a tracer writing to w.
func NewJSONTracer(w io.Writer) *JSONTraceTracer {
	return &JSONTraceTracer{w: w}
}

// Entries returns the spans recorded so far.
func (t *JSONTraceTracer) Entries() []JSONTraceEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]JSONTraceEntry(nil), t.entries...)
}

// Start implements Tracer.
func (t *JSONTraceTracer) Start(ctx context.Context, operation string) (context.Context, TraceSpan) {
	started := time.Now().UTC()
	return ctx, spanFunc(func(err error) {
		ended := time.Now().UTC()
		entry := JSONTraceEntry{
			Operation:  operation,
			Status:     string(AuditStatusSuccess),
			DurationMS: float64(ended.Sub(started)) / float64(time.Millisecond),
			StartedAt:  started,
			EndedAt:    ended,
		}
		if err != nil {
			entry.Status = string(AuditStatusError)
			entry.Error = err.Error()
		}
		t.record(entry)
	})
}

func (t *JSONTraceTracer) record(entry JSONTraceEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, entry)
	if t.w == nil {
		return
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return
	}
	_, _ = t.w.Write(append(line, '\n'))
}

type spanFunc func(error)

func (f spanFunc) End(err error) { f(err) }
