package controller

import (
	"context"
	"sync"

	"inventory/internal/core"
	"inventory/internal/live"
	"inventory/pkg/domain"
)

// EntryState is the edit buffer of the entry screen plus its validity.
type EntryState struct {
	Details domain.TaskDetails
	Valid   bool
}

// DeriveEntryState recomputes validity for a buffer.
func DeriveEntryState(details domain.TaskDetails) EntryState {
	return EntryState{Details: details, Valid: details.Valid()}
}

// EntryController holds an unpersisted edit buffer.
type EntryController struct {
	repo     core.TasksRepository
	dispatch *Dispatcher
	state    *live.State[EntryState]
	mu       sync.Mutex
}

// NewEntryController starts with an empty, invalid buffer.
func NewEntryController(repo core.TasksRepository, dispatch *Dispatcher) *EntryController {
	return NewEntryControllerFor(repo, dispatch, domain.Task{})
}

// NewEntryControllerFor seeds the buffer from an existing task.
func NewEntryControllerFor(repo core.TasksRepository, dispatch *Dispatcher, task domain.Task) *EntryController {
	return &EntryController{
		repo:     repo,
		dispatch: dispatch,
		state:    live.NewState(DeriveEntryState(task.Details())),
	}
}

// State exposes the current buffer and its updates.
func (c *EntryController) State() *live.State[EntryState] { return c.state }

// UpdateUIState replaces the buffer and recomputes validity. No I/O.
func (c *EntryController) UpdateUIState(details domain.TaskDetails) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Set(DeriveEntryState(details))
}

// SaveItem inserts the buffer in the background when it is valid. An invalid
// buffer is refused silently: nothing is written and false is returned.
func (c *EntryController) SaveItem(done ...Done) bool {
	details, ok := c.validBuffer()
	if !ok {
		return false
	}
	task := details.ToTask()
	_, _ = c.dispatch.Submit(context.Background(), "insert_task", func(ctx context.Context) error {
		_, _, err := c.repo.InsertTask(ctx, task)
		return err
	}, done...)
	return true
}

// UpdateItem writes the buffer's name and priority onto the stored task with
// the buffer's id, keeping its other fields. Invalid buffers are refused like
// in SaveItem.
func (c *EntryController) UpdateItem(done ...Done) bool {
	details, ok := c.validBuffer()
	if !ok {
		return false
	}
	_, _ = c.dispatch.Submit(context.Background(), "update_task", func(ctx context.Context) error {
		task, found := c.repo.GetTask(ctx, details.ID)
		if !found {
			return domain.ErrNotFound{Entity: domain.EntityTask, ID: details.ID}
		}
		task.Name = details.Name
		task.Priority = domain.Priority(details.Priority)
		_, _, err := c.repo.UpdateTask(ctx, task)
		return err
	}, done...)
	return true
}

func (c *EntryController) validBuffer() (domain.TaskDetails, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	current := DeriveEntryState(c.state.Value().Details)
	return current.Details, current.Valid
}

// Close ends state subscriptions. Submitted writes still complete.
func (c *EntryController) Close() {
	c.state.Close()
}
