package controller

import (
	"context"
	"fmt"

	"inventory/internal/core"
	"inventory/internal/live"
	"inventory/pkg/domain"
)

// DetailsStatus is the load stage of the details screen.
type DetailsStatus string

const (
	// DetailsLoading is the initial state; details hold defaults.
	DetailsLoading DetailsStatus = "loading"
	// DetailsLoaded means details reflect the latest stored task.
	DetailsLoaded DetailsStatus = "loaded"
)

// DetailsState is the view state of the task details screen.
type DetailsState struct {
	Status  DetailsStatus
	Details domain.TaskDetails
}

// DeriveDetailsState folds the latest stream value into prev. Absent values
// are dropped, so an id that does not exist yet keeps the screen loading and
// a deleted task keeps its last details.
func DeriveDetailsState(prev DetailsState, current live.Optional[domain.Task]) DetailsState {
	task, ok := current.Get()
	if !ok {
		return prev
	}
	return DetailsState{Status: DetailsLoaded, Details: task.Details()}
}

// DetailsController drives the details screen of one task id.
type DetailsController struct {
	id       int64
	repo     core.TasksRepository
	dispatch *Dispatcher
	state    *live.State[DetailsState]
	scope    *scope
}

// NewDetailsController subscribes to the task with the given id.
func NewDetailsController(parent context.Context, id int64, repo core.TasksRepository, dispatch *Dispatcher) (*DetailsController, error) {
	sc := newScope(parent)
	sub, err := repo.TaskStream(sc.ctx, id)
	if err != nil {
		sc.cancel()
		return nil, fmt.Errorf("subscribe task %d: %w", id, err)
	}
	c := &DetailsController{
		id:       id,
		repo:     repo,
		dispatch: dispatch,
		state:    live.NewState(DetailsState{Status: DetailsLoading}),
		scope:    sc,
	}
	sc.goPump(func() {
		defer sub.Close()
		for current := range sub.C() {
			c.state.Update(func(prev DetailsState) DetailsState {
				return DeriveDetailsState(prev, current)
			})
		}
	})
	return c, nil
}

// ID returns the task id this controller is bound to.
func (c *DetailsController) ID() int64 { return c.id }

// State exposes the current details state and its updates.
func (c *DetailsController) State() *live.State[DetailsState] { return c.state }

// DeleteTask removes the task in the background.
func (c *DetailsController) DeleteTask(done ...Done) {
	id := c.id
	_, _ = c.dispatch.Submit(c.scope.ctx, "delete_task", func(ctx context.Context) error {
		_, err := c.repo.DeleteTask(ctx, domain.Task{ID: id})
		return err
	}, done...)
}

// UpdateTask reads the committed task when the job runs, replaces name and
// priority and writes the full record back. Fields changed by a concurrent
// writer in between are overwritten.
func (c *DetailsController) UpdateTask(name, priority string, done ...Done) {
	id := c.id
	_, _ = c.dispatch.Submit(c.scope.ctx, "update_task", func(ctx context.Context) error {
		task, ok := c.repo.GetTask(ctx, id)
		if !ok {
			return domain.ErrNotFound{Entity: domain.EntityTask, ID: id}
		}
		task.Name = name
		task.Priority = domain.Priority(priority)
		_, _, err := c.repo.UpdateTask(ctx, task)
		return err
	}, done...)
}

// Close ends the subscription. Writes already submitted still complete.
func (c *DetailsController) Close() {
	c.scope.close()
	c.state.Close()
}
