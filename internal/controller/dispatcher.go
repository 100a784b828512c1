// Package controller holds the list, details and entry view-state
// controllers and the background dispatcher they submit writes to.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"inventory/internal/core"
)

var (
	// ErrQueueFull is reported when a job is submitted to a saturated queue.
	ErrQueueFull = errors.New("dispatcher queue full")
	// ErrStopped is reported when a job is submitted after Stop.
	ErrStopped = errors.New("dispatcher stopped")
)

// JobStatus describes the lifecycle stage of a submitted write.
type JobStatus string

const (
	JobQueued  JobStatus = "queued"
	JobRunning JobStatus = "running"
)

// Job is a snapshot of a write that is queued or running. Finished jobs are
// reported through Done callbacks only.
type Job struct {
	ID        string
	Operation string
	Status    JobStatus
	QueuedAt  time.Time
	StartedAt time.Time
}

// Done receives the outcome of a submitted job. It runs on a worker
// goroutine, or on the submitting goroutine when the job is rejected.
type Done func(err error)

type dispatchTask struct {
	id   string
	op   string
	ctx  context.Context
	fn   func(context.Context) error
	done []Done
}

// Dispatcher runs fire-and-forget writes on a fixed pool of workers. Jobs run
// on a context detached from the submitter, so ending a controller scope
// never cancels a write that was already submitted.
type Dispatcher struct {
	logger core.Logger
	queue  chan dispatchTask

	// mu guards stopped and the queue close; jobsMu guards jobs and
	// inflight, and idle is signalled whenever inflight drops to zero.
	mu       sync.RWMutex
	stopped  bool
	jobsMu   sync.Mutex
	jobs     map[string]*Job
	inflight int
	idle     *sync.Cond
	wg       sync.WaitGroup
	workers  int
	started  sync.Once
}

// NewDispatcher constructs a dispatcher with the given worker count and queue
// capacity. Call Start before submitting.
func NewDispatcher(workers, queueSize int, logger core.Logger) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	if logger == nil {
		logger = nopLogger{}
	}
	d := &Dispatcher{
		logger:  logger,
		queue:   make(chan dispatchTask, queueSize),
		jobs:    make(map[string]*Job),
		workers: workers,
	}
	d.idle = sync.NewCond(&d.jobsMu)
	return d
}

// Start launches the workers. Calling it more than once has no effect.
func (d *Dispatcher) Start() {
	d.started.Do(func() {
		for i := 0; i < d.workers; i++ {
			d.wg.Add(1)
			go d.loop()
		}
	})
}

// Stop refuses new jobs, lets the workers drain the queue and waits for them
// until ctx is done.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.stopped {
		d.stopped = true
		close(d.queue)
	}
	d.mu.Unlock()
	d.Start()
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until no job is queued or running. It may be called while
// other goroutines keep submitting.
func (d *Dispatcher) Wait() {
	d.jobsMu.Lock()
	defer d.jobsMu.Unlock()
	for d.inflight > 0 {
		d.idle.Wait()
	}
}

// Submit queues fn under the operation name op and returns the job id. The
// job runs with a context that keeps ctx's values but not its cancellation.
// Rejected jobs are logged and reported to done before Submit returns.
func (d *Dispatcher) Submit(ctx context.Context, op string, fn func(context.Context) error, done ...Done) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	id := uuid.NewString()
	task := dispatchTask{id: id, op: op, ctx: context.WithoutCancel(ctx), fn: fn, done: done}

	d.mu.RLock()
	err := d.enqueue(task)
	d.mu.RUnlock()
	if err != nil {
		d.logger.Warn("write rejected", "operation", op, "job", id, "error", err)
		notify(done, err)
		return "", err
	}
	return id, nil
}

// enqueue must be called with d.mu read-locked.
func (d *Dispatcher) enqueue(task dispatchTask) error {
	if d.stopped {
		return ErrStopped
	}
	d.track(Job{ID: task.id, Operation: task.op, Status: JobQueued, QueuedAt: time.Now().UTC()})
	select {
	case d.queue <- task:
		return nil
	default:
		d.finish(task.id)
		return ErrQueueFull
	}
}

// Job returns a snapshot of a job that is queued or running.
func (d *Dispatcher) Job(id string) (Job, bool) {
	d.jobsMu.Lock()
	defer d.jobsMu.Unlock()
	job, ok := d.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// Pending returns the number of jobs that are queued or running.
func (d *Dispatcher) Pending() int {
	d.jobsMu.Lock()
	defer d.jobsMu.Unlock()
	return len(d.jobs)
}

func (d *Dispatcher) track(job Job) {
	d.jobsMu.Lock()
	d.jobs[job.ID] = &job
	d.inflight++
	d.jobsMu.Unlock()
}

func (d *Dispatcher) forget(id string) {
	d.jobsMu.Lock()
	delete(d.jobs, id)
	d.jobsMu.Unlock()
}

// finish releases a tracked job and wakes Wait callers once nothing is left.
func (d *Dispatcher) finish(id string) {
	d.jobsMu.Lock()
	defer d.jobsMu.Unlock()
	delete(d.jobs, id)
	d.inflight--
	if d.inflight == 0 {
		d.idle.Broadcast()
	}
}

func (d *Dispatcher) loop() {
	defer d.wg.Done()
	for task := range d.queue {
		d.process(task)
	}
}

func (d *Dispatcher) process(task dispatchTask) {
	defer d.finish(task.id)
	d.markRunning(task.id)
	err := d.run(task)
	d.forget(task.id)
	if err != nil {
		d.logger.Error("write failed", "operation", task.op, "job", task.id, "error", err)
	} else {
		d.logger.Debug("write completed", "operation", task.op, "job", task.id)
	}
	notify(task.done, err)
}

func (d *Dispatcher) run(task dispatchTask) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s panicked: %v", task.op, r)
		}
	}()
	return task.fn(task.ctx)
}

func (d *Dispatcher) markRunning(id string) {
	d.jobsMu.Lock()
	defer d.jobsMu.Unlock()
	if job, ok := d.jobs[id]; ok {
		job.Status = JobRunning
		job.StartedAt = time.Now().UTC()
	}
}

func notify(done []Done, err error) {
	for _, fn := range done {
		if fn != nil {
			fn(err)
		}
	}
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
