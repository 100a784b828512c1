// Package domain defines the persisted task entity, change records and the
// rule evaluation primitives shared by every store backend.
package domain

import (
	"fmt"
	"strings"
)

// EntityType identifies the type of record stored in the inventory.
type EntityType string

// EntityTask identifies a task record.
const EntityTask EntityType = "task"

// Priority ranks a task.
type Priority string

// Known task priorities.
const (
	PriorityHigh   Priority = "High"
	PriorityMedium Priority = "Medium"
	PriorityLow    Priority = "Low"
)

// Priorities lists the known priorities from highest to lowest.
func Priorities() []Priority {
	return []Priority{PriorityHigh, PriorityMedium, PriorityLow}
}

// ParsePriority resolves a priority name case-insensitively.
func ParsePriority(raw string) (Priority, error) {
	trimmed := strings.TrimSpace(raw)
	for _, p := range Priorities() {
		if strings.EqualFold(trimmed, string(p)) {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown priority %q", raw)
}

// Known reports whether p is one of the declared priorities.
func (p Priority) Known() bool {
	for _, known := range Priorities() {
		if p == known {
			return true
		}
	}
	return false
}

// Task is the persisted inventory record. ID 0 asks the store to assign one.
type Task struct {
	ID       int64    `json:"id"`
	Name     string   `json:"name"`
	Priority Priority `json:"priority"`
	Price    float64  `json:"price"`
	Quantity int      `json:"quantity"`
}

// Details projects the task onto the editable fields.
func (t Task) Details() TaskDetails {
	return TaskDetails{ID: t.ID, Name: t.Name, Priority: string(t.Priority)}
}

// TaskDetails is the edit buffer shape shared by the entry and details screens.
type TaskDetails struct {
	ID       int64  `json:"id"`
	Name     string `json:"name" validate:"notblank"`
	Priority string `json:"priority" validate:"notblank"`
}

// ToTask converts the buffer into a task. Price and quantity are not part of
// the buffer and stay zero.
func (d TaskDetails) ToTask() Task {
	return Task{ID: d.ID, Name: d.Name, Priority: Priority(d.Priority)}
}

// Change describes a mutation applied to a task during a transaction.
// Before is nil for creates and After is nil for deletes.
type Change struct {
	Entity EntityType
	Action Action
	Before *Task
	After  *Task
}

// TaskID returns the id of the task touched by the change.
func (c Change) TaskID() int64 {
	if c.After != nil {
		return c.After.ID
	}
	if c.Before != nil {
		return c.Before.ID
	}
	return 0
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate supported CRUD operations.
const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Commit is a committed transaction as seen by commit hooks. View is an
// immutable snapshot of the state produced by exactly this commit.
type Commit struct {
	Seq     uint64
	Changes []Change
	View    TransactionView
}

// Touches reports whether any change in the commit affects the task id.
func (c Commit) Touches(id int64) bool {
	for _, change := range c.Changes {
		if change.TaskID() == id {
			return true
		}
	}
	return false
}

// Severity captures rule outcomes.
type Severity string

const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn reports a problem but allows commit.
	SeverityWarn Severity = "warn"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID int64
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	var msgs []string
	for _, v := range e.Result.Violations {
		if v.Severity == SeverityBlock && v.Message != "" {
			msgs = append(msgs, v.Message)
		}
	}
	if len(msgs) == 0 {
		return "transaction blocked by rules"
	}
	return "transaction blocked by rules: " + strings.Join(msgs, "; ")
}

// ErrNotFound is returned when a task id does not exist.
type ErrNotFound struct {
	Entity EntityType
	ID     int64
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

// ErrAlreadyExists is returned when inserting a task id that is already live.
type ErrAlreadyExists struct {
	Entity EntityType
	ID     int64
}

func (e ErrAlreadyExists) Error() string {
	return fmt.Sprintf("%s %d already exists", e.Entity, e.ID)
}
