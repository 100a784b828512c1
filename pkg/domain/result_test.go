package domain

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestResultMergeAndBlocking(t *testing.T) {
	var result Result
	result.Merge(Result{Violations: []Violation{{Rule: "warn", Severity: SeverityWarn}}})
	if result.HasBlocking() {
		t.Fatalf("expected no blocking violations")
	}
	result.Merge(Result{Violations: []Violation{{Rule: "block", Severity: SeverityBlock, Message: "nope"}}})
	if !result.HasBlocking() {
		t.Fatalf("expected blocking violation")
	}
	err := RuleViolationError{Result: result}
	if !strings.Contains(err.Error(), "nope") {
		t.Fatalf("expected blocking message in error, got %q", err.Error())
	}
}

func TestResultMergeEmptyInput(t *testing.T) {
	original := Result{Violations: []Violation{{Rule: "existing", Severity: SeverityWarn}}}
	original.Merge(Result{})
	if len(original.Violations) != 1 || original.Violations[0].Rule != "existing" {
		t.Fatalf("expected original violations to remain, got %+v", original.Violations)
	}
}

func TestRuleViolationErrorWithoutMessages(t *testing.T) {
	err := RuleViolationError{}
	if err.Error() != "transaction blocked by rules" {
		t.Fatalf("unexpected error string %q", err.Error())
	}
}

func TestRulesEngineEvaluate(t *testing.T) {
	engine := NewRulesEngine()
	engine.Register(staticRule{"warn"})
	res, err := engine.Evaluate(context.Background(), emptyView{}, nil)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(res.Violations) != 1 {
		t.Fatalf("expected violation")
	}
}

func TestRulesEngineEvaluatePropagatesErrors(t *testing.T) {
	engine := NewRulesEngine()
	engine.Register(failingRule{})
	if _, err := engine.Evaluate(context.Background(), emptyView{}, nil); !errors.Is(err, errRuleFailed) {
		t.Fatalf("expected wrapped rule error, got %v", err)
	}
}

func TestTaskFieldsRule(t *testing.T) {
	rule := TaskFieldsRule()
	cases := []struct {
		name     string
		change   Change
		severity Severity
	}{
		{"valid create", Change{Entity: EntityTask, Action: ActionCreate, After: &Task{ID: 1, Name: "Apples", Priority: PriorityHigh}}, ""},
		{"blank name", Change{Entity: EntityTask, Action: ActionCreate, After: &Task{ID: 1, Name: "  ", Priority: PriorityHigh}}, SeverityBlock},
		{"blank priority", Change{Entity: EntityTask, Action: ActionUpdate, After: &Task{ID: 1, Name: "Apples"}}, SeverityBlock},
		{"unknown priority", Change{Entity: EntityTask, Action: ActionCreate, After: &Task{ID: 1, Name: "Apples", Priority: "Urgent"}}, SeverityWarn},
		{"delete ignored", Change{Entity: EntityTask, Action: ActionDelete, Before: &Task{ID: 1}}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := rule.Evaluate(context.Background(), emptyView{}, []Change{tc.change})
			if err != nil {
				t.Fatalf("evaluate: %v", err)
			}
			if tc.severity == "" {
				if len(res.Violations) != 0 {
					t.Fatalf("expected no violations, got %+v", res.Violations)
				}
				return
			}
			if len(res.Violations) != 1 || res.Violations[0].Severity != tc.severity {
				t.Fatalf("expected one %s violation, got %+v", tc.severity, res.Violations)
			}
		})
	}
}

var errRuleFailed = errors.New("rule failed")

type staticRule struct{ name string }

func (r staticRule) Name() string { return r.name }

func (r staticRule) Evaluate(ctx context.Context, view RuleView, changes []Change) (Result, error) {
	return Result{Violations: []Violation{{Rule: r.name, Severity: SeverityWarn}}}, nil
}

type failingRule struct{}

func (failingRule) Name() string { return "failing" }

func (failingRule) Evaluate(context.Context, RuleView, []Change) (Result, error) {
	return Result{}, errRuleFailed
}

type emptyView struct{}

func (emptyView) ListTasks() []Task           { return nil }
func (emptyView) FindTask(int64) (Task, bool) { return Task{}, false }
