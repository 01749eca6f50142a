package api

import (
	"strings"
	"testing"
)

func TestConditionEvaluate(t *testing.T) {
	ctx := map[string]any{
		"mode":       "full",
		"confidence": 0.9,
		"notes":      "",
		"flags":      []string{"x"},
		"count":      3,
	}

	tests := []struct {
		name    string
		cond    Condition
		want    bool
		wantErr bool
	}{
		{"zero value passes", Condition{}, true, false},
		{"always", Always(), true, false},
		{"never", Never(), false, false},

		{"not empty present", NotEmpty("mode"), true, false},
		{"not empty missing key", NotEmpty("absent"), false, false},
		{"not empty empty string", NotEmpty("notes"), false, false},
		{"not empty non-string", NotEmpty("flags"), true, false},

		{"equals match", Equals("mode", "full"), true, false},
		{"equals mismatch", Equals("mode", "lite"), false, false},
		{"equals missing key", Equals("absent", "x"), false, false},
		{"equals non-string value", Equals("count", "3"), true, false},

		{"expr true", ExprCondition(`confidence > 0.8`), true, false},
		{"expr false", ExprCondition(`mode == "lite"`), false, false},
		{"expr undefined variable", ExprCondition(`missing == "x"`), false, false},
		{"expr compile error", ExprCondition(`mode ==`), false, true},
		{"expr non-bool", ExprCondition(`confidence + 1`), false, true},

		{"unknown kind", Condition{Kind: ConditionKind(42)}, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.cond.Evaluate(ctx)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("evaluate: %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestConditionEvaluateNilContext(t *testing.T) {
	if ok, err := Always().Evaluate(nil); err != nil || !ok {
		t.Fatalf("always on nil context: %v %v", ok, err)
	}
	if ok, err := NotEmpty("k").Evaluate(nil); err != nil || ok {
		t.Fatalf("not-empty on nil context: %v %v", ok, err)
	}
	if ok, err := ExprCondition(`true`).Evaluate(nil); err != nil || !ok {
		t.Fatalf("expr on nil context: %v %v", ok, err)
	}
}

func TestExprConditionErrorNamesExpression(t *testing.T) {
	_, err := ExprCondition(`mode ==`).Evaluate(map[string]any{})
	if err == nil || !strings.Contains(err.Error(), "mode ==") {
		t.Fatalf("error should quote the expression, got %v", err)
	}
}

func TestWorkflowDefinitionGroups(t *testing.T) {
	def := WorkflowDefinition{Steps: []StepDefinition{
		{Name: "a"},
		{Name: "b", Group: 1},
		{Name: "c", Group: 1},
		{Name: "d"},
		{Name: "e", Group: 2},
		{Name: "f", Group: 3},
	}}

	groups := def.Groups()
	want := [][]int{{0}, {1, 2}, {3}, {4}, {5}}
	if len(groups) != len(want) {
		t.Fatalf("expected %d groups, got %d: %v", len(want), len(groups), groups)
	}
	for i := range want {
		if len(groups[i]) != len(want[i]) {
			t.Fatalf("group %d: expected %v, got %v", i, want[i], groups[i])
		}
		for j := range want[i] {
			if groups[i][j] != want[i][j] {
				t.Fatalf("group %d: expected %v, got %v", i, want[i], groups[i])
			}
		}
	}
}

func TestWorkflowDefinitionPhaseAt(t *testing.T) {
	def := WorkflowDefinition{Steps: []StepDefinition{
		{Name: "a", Phase: PhaseDiscovery},
		{Name: "b", Phase: PhaseBuild},
	}}

	if p := def.PhaseAt(0); p != PhaseDiscovery {
		t.Fatalf("expected discovery, got %v", p)
	}
	if p := def.PhaseAt(5); p != PhaseBuild {
		t.Fatalf("past the end should clamp to the last phase, got %v", p)
	}
	if p := def.PhaseAt(-1); p != PhaseDiscovery {
		t.Fatalf("negative index should clamp to the first phase, got %v", p)
	}
	if p := (WorkflowDefinition{}).PhaseAt(0); p != "" {
		t.Fatalf("empty definition has no phase, got %v", p)
	}
}

func TestStatusTerminal(t *testing.T) {
	terminal := []Status{StatusCompleted, StatusFailed, StatusCancelled}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Fatalf("%s should be terminal", s)
		}
	}
	for _, s := range []Status{StatusPending, StatusRunning, StatusPaused} {
		if s.Terminal() {
			t.Fatalf("%s should not be terminal", s)
		}
	}
}

func TestExecutionClone(t *testing.T) {
	orig := &WorkflowExecution{
		ID:          "e1",
		Steps:       []StepExecution{{Index: 0, ArtifactIDs: []string{"a"}}},
		Context:     map[string]any{"k": "v"},
		ArtifactIDs: []string{"a"},
	}

	c := orig.Clone()
	c.Steps[0].Status = StepFailed
	c.Steps[0].ArtifactIDs[0] = "changed"
	c.Context["k"] = "changed"
	c.ArtifactIDs[0] = "changed"

	if orig.Steps[0].Status == StepFailed {
		t.Fatal("clone shares step slice")
	}
	if orig.Steps[0].ArtifactIDs[0] != "a" {
		t.Fatal("clone shares step artifact slice")
	}
	if orig.Context["k"] != "v" {
		t.Fatal("clone shares context map")
	}
	if orig.ArtifactIDs[0] != "a" {
		t.Fatal("clone shares artifact slice")
	}

	if (*WorkflowExecution)(nil).Clone() != nil {
		t.Fatal("nil clone should be nil")
	}
}
