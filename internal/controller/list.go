package controller

import (
	"context"
	"fmt"
	"sync"

	"inventory/internal/core"
	"inventory/internal/live"
	"inventory/pkg/domain"
)

// ListState is the view state of the task list screen.
type ListState struct {
	Tasks []domain.Task
}

// DeriveListState maps a store snapshot onto the list view state. The store
// already orders tasks by id, so no sorting or filtering happens here.
func DeriveListState(tasks []domain.Task) ListState {
	out := make([]domain.Task, len(tasks))
	copy(out, tasks)
	return ListState{Tasks: out}
}

// scope is the cancellable subscription lifetime shared by controllers.
type scope struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newScope(parent context.Context) *scope {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	return &scope{ctx: ctx, cancel: cancel}
}

func (s *scope) goPump(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

func (s *scope) close() {
	s.cancel()
	s.wg.Wait()
}

// ListController drives the task list. Intents are submitted to the
// dispatcher and the state refreshes from the live stream only.
type ListController struct {
	repo     core.TasksRepository
	dispatch *Dispatcher
	state    *live.State[ListState]
	scope    *scope
}

// NewListController subscribes to every task. The subscription lives until
// Close or until parent is done.
func NewListController(parent context.Context, repo core.TasksRepository, dispatch *Dispatcher) (*ListController, error) {
	sc := newScope(parent)
	sub, err := repo.AllTasksStream(sc.ctx)
	if err != nil {
		sc.cancel()
		return nil, fmt.Errorf("subscribe tasks: %w", err)
	}
	c := &ListController{
		repo:     repo,
		dispatch: dispatch,
		state:    live.NewState(ListState{}),
		scope:    sc,
	}
	sc.goPump(func() {
		defer sub.Close()
		for tasks := range sub.C() {
			c.state.Set(DeriveListState(tasks))
		}
	})
	return c, nil
}

// State exposes the current list state and its updates.
func (c *ListController) State() *live.State[ListState] { return c.state }

// Delete removes task in the background.
func (c *ListController) Delete(task domain.Task, done ...Done) {
	_, _ = c.dispatch.Submit(c.scope.ctx, "delete_task", func(ctx context.Context) error {
		_, err := c.repo.DeleteTask(ctx, task)
		return err
	}, done...)
}

// Insert stores task in the background. Re-inserting a value returned by a
// prior Delete restores it under the same id.
func (c *ListController) Insert(task domain.Task, done ...Done) {
	_, _ = c.dispatch.Submit(c.scope.ctx, "insert_task", func(ctx context.Context) error {
		_, _, err := c.repo.InsertTask(ctx, task)
		return err
	}, done...)
}

// Close ends the subscription. Writes already submitted still complete.
func (c *ListController) Close() {
	c.scope.close()
	c.state.Close()
}
