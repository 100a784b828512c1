package domain

import (
	"context"
	"fmt"
)

// RuleView provides read-only access to tasks for rule evaluation.
type RuleView interface {
	ListTasks() []Task
	FindTask(id int64) (Task, bool)
}

// Rule defines an evaluation executed within a transaction boundary.
type Rule interface {
	Name() string
	Evaluate(ctx context.Context, view RuleView, changes []Change) (Result, error)
}

// RulesEngine orchestrates rule evaluation.
type RulesEngine struct {
	rules []Rule
}

// NewRulesEngine constructs an engine instance.
func NewRulesEngine() *RulesEngine {
	return &RulesEngine{}
}

// Register appends a rule to the engine.
func (e *RulesEngine) Register(rule Rule) {
	e.rules = append(e.rules, rule)
}

// Evaluate executes all registered rules and aggregates their results.
func (e *RulesEngine) Evaluate(ctx context.Context, view RuleView, changes []Change) (Result, error) {
	var combined Result
	for _, rule := range e.rules {
		res, err := rule.Evaluate(ctx, view, changes)
		if err != nil {
			return Result{}, fmt.Errorf("rule %s: %w", rule.Name(), err)
		}
		combined.Merge(res)
	}
	return combined, nil
}

const taskFieldsRuleName = "task_fields"

type taskFieldsRule struct{}

// TaskFieldsRule blocks created or updated tasks whose name or priority is
// blank and warns when the priority is not one of the known levels.
func TaskFieldsRule() Rule {
	return taskFieldsRule{}
}

func (taskFieldsRule) Name() string { return taskFieldsRuleName }

func (taskFieldsRule) Evaluate(_ context.Context, _ RuleView, changes []Change) (Result, error) {
	var res Result
	for _, change := range changes {
		if change.Entity != EntityTask || change.After == nil {
			continue
		}
		task := *change.After
		if err := ValidateDetails(task.Details()); err != nil {
			res.Violations = append(res.Violations, Violation{
				Rule:     taskFieldsRuleName,
				Severity: SeverityBlock,
				Message:  err.Error(),
				Entity:   EntityTask,
				EntityID: task.ID,
			})
			continue
		}
		if !task.Priority.Known() {
			res.Violations = append(res.Violations, Violation{
				Rule:     taskFieldsRuleName,
				Severity: SeverityWarn,
				Message:  fmt.Sprintf("task %d has unknown priority %q", task.ID, task.Priority),
				Entity:   EntityTask,
				EntityID: task.ID,
			})
		}
	}
	return res, nil
}
