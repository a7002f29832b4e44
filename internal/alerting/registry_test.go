package alerting

import (
	"testing"

	"github.com/calder-ops/vigil/internal/series"
)

func validRule() Rule {
	return Rule{
		Name:     "heap high",
		Category: "system",
		Severity: SeverityWarning,
		Enabled:  true,
		Condition: Condition{
			Metric:      "mem.heap_alloc_bytes",
			Operator:    OpGreaterEqual,
			Threshold:   1 << 30,
			Aggregation: series.AggMax,
		},
	}
}

func TestAddAssignsIDAndTimestamps(t *testing.T) {
	r := NewRegistry()

	rule, err := r.Add(validRule())
	if err != nil {
		t.Fatalf("Add error: %v", err)
	}
	if rule.ID == "" {
		t.Fatal("expected generated id")
	}
	if rule.CreatedAt.IsZero() || rule.UpdatedAt.IsZero() {
		t.Fatal("expected timestamps set")
	}
}

func TestAddRejectsInvalidRules(t *testing.T) {
	r := NewRegistry()

	cases := map[string]func(*Rule){
		"empty name":        func(rule *Rule) { rule.Name = "" },
		"empty metric":      func(rule *Rule) { rule.Condition.Metric = "" },
		"bad operator":      func(rule *Rule) { rule.Condition.Operator = "~" },
		"bad aggregation":   func(rule *Rule) { rule.Condition.Aggregation = "median" },
		"bad duration":      func(rule *Rule) { rule.Condition.Duration = "soon" },
		"bad window":        func(rule *Rule) { rule.Condition.EvaluationWindow = "wide" },
		"bad severity":      func(rule *Rule) { rule.Severity = "catastrophic" },
		"bad action":        func(rule *Rule) { rule.Actions = []Action{{Type: "page"}} },
		"webhook sans url":  func(rule *Rule) { rule.Actions = []Action{{Type: ActionWebhook}} },
		"script sans cmd":   func(rule *Rule) { rule.Actions = []Action{{Type: ActionScript}} },
		"negative delay":    func(rule *Rule) { rule.Actions = []Action{{Type: ActionNotification, DelaySeconds: -1}} },
	}
	for name, corrupt := range cases {
		rule := validRule()
		corrupt(&rule)
		if _, err := r.Add(rule); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestValidateDefaultsSeverity(t *testing.T) {
	rule := validRule()
	rule.Severity = ""
	if err := rule.Validate(); err != nil {
		t.Fatalf("Validate error: %v", err)
	}
	if rule.Severity != SeverityWarning {
		t.Fatalf("expected default warning severity, got %s", rule.Severity)
	}
}

func TestUpdatePreservesCreatedAt(t *testing.T) {
	r := NewRegistry()
	rule, err := r.Add(validRule())
	if err != nil {
		t.Fatalf("Add error: %v", err)
	}

	rule.Condition.Threshold = 42
	updated, err := r.Update(*rule)
	if err != nil {
		t.Fatalf("Update error: %v", err)
	}
	if !updated.CreatedAt.Equal(rule.CreatedAt) {
		t.Fatal("expected created_at preserved")
	}
	if updated.Condition.Threshold != 42 {
		t.Fatalf("expected updated threshold, got %v", updated.Condition.Threshold)
	}
}

func TestUpdateUnknownRuleFails(t *testing.T) {
	r := NewRegistry()
	rule := validRule()
	rule.ID = "missing"
	if _, err := r.Update(rule); err == nil {
		t.Fatal("expected error updating unknown rule")
	}
}

func TestRemove(t *testing.T) {
	r := NewRegistry()
	rule, _ := r.Add(validRule())

	if !r.Remove(rule.ID) {
		t.Fatal("expected remove to succeed")
	}
	if r.Remove(rule.ID) {
		t.Fatal("expected second remove to fail")
	}
}

func TestEnabledFiltersDisabledRules(t *testing.T) {
	r := NewRegistry()
	enabled := validRule()
	r.Add(enabled)

	disabled := validRule()
	disabled.Name = "disabled rule"
	disabled.Enabled = false
	r.Add(disabled)

	if got := len(r.Enabled()); got != 1 {
		t.Fatalf("expected 1 enabled rule, got %d", got)
	}
	if got := len(r.List()); got != 2 {
		t.Fatalf("expected 2 total rules, got %d", got)
	}
}
