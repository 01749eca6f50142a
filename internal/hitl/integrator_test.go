package hitl

import (
	"strings"
	"testing"

	"github.com/petrijr/maestro/pkg/api"
)

func testDef() api.WorkflowDefinition {
	return api.WorkflowDefinition{
		ID: "wf",
		Steps: []api.StepDefinition{
			{Name: "analyze", AgentType: "analyst", Phase: api.PhaseDiscovery},
			{Name: "plan", AgentType: "planner", Phase: api.PhasePlan},
			{Name: "build", AgentType: "builder", Phase: api.PhaseBuild},
			{Name: "ship", AgentType: "launcher", Phase: api.PhaseLaunch},
		},
	}
}

func testExec() *api.WorkflowExecution {
	return &api.WorkflowExecution{
		ID:        "e1",
		ProjectID: "p1",
		Context:   map[string]any{},
	}
}

func TestCheckTriggersSafetyViolationAlwaysFires(t *testing.T) {
	// Even at the laxest level.
	i := New(Config{DefaultLevel: OversightLow})

	req := i.CheckTriggersAfterStep(testDef(), 0, testExec(), StepOutcome{SafetyViolation: true})
	if req == nil {
		t.Fatal("safety violation must always trigger review")
	}
	if req.Reason != "safety_violation" {
		t.Fatalf("expected safety_violation, got %s", req.Reason)
	}
}

func TestCheckTriggersLowConfidence(t *testing.T) {
	i := New(Config{DefaultLevel: OversightStandard})

	req := i.CheckTriggersAfterStep(testDef(), 1, testExec(), StepOutcome{Confidence: 0.3})
	if req == nil || req.Reason != "low_confidence" {
		t.Fatalf("confidence 0.3 under standard (min 0.4) must trigger, got %+v", req)
	}
	if req.StepIndex != 1 || req.AgentType != "planner" {
		t.Fatalf("request should identify the step, got %+v", req)
	}

	if r := i.CheckTriggersAfterStep(testDef(), 1, testExec(), StepOutcome{Confidence: 0.9}); r != nil {
		t.Fatalf("high confidence must not trigger, got %+v", r)
	}
	// Zero confidence means the worker reported nothing; not a trigger.
	if r := i.CheckTriggersAfterStep(testDef(), 1, testExec(), StepOutcome{}); r != nil {
		t.Fatalf("unreported confidence must not trigger, got %+v", r)
	}
}

func TestCheckTriggersBudgetThreshold(t *testing.T) {
	i := New(Config{DefaultLevel: OversightStandard})

	req := i.CheckTriggersAfterStep(testDef(), 0, testExec(), StepOutcome{Confidence: 0.9, BudgetUsedPct: 92})
	if req == nil || req.Reason != "budget_threshold" {
		t.Fatalf("budget 92%% under standard (max 90%%) must trigger, got %+v", req)
	}
}

func TestCheckTriggersConflictPerLevel(t *testing.T) {
	outcome := StepOutcome{Confidence: 0.9, ConflictDetected: true}

	low := New(Config{DefaultLevel: OversightLow})
	if r := low.CheckTriggersAfterStep(testDef(), 0, testExec(), outcome); r != nil {
		t.Fatalf("low oversight ignores conflicts, got %+v", r)
	}

	std := New(Config{DefaultLevel: OversightStandard})
	r := std.CheckTriggersAfterStep(testDef(), 0, testExec(), outcome)
	if r == nil || r.Reason != "conflict_detected" {
		t.Fatalf("standard oversight pauses on conflicts, got %+v", r)
	}
}

func TestCheckTriggersPhaseBoundary(t *testing.T) {
	outcome := StepOutcome{Confidence: 0.9}

	strict := New(Config{DefaultLevel: OversightStrict})
	r := strict.CheckTriggersAfterStep(testDef(), 0, testExec(), outcome)
	if r == nil || r.Reason != "phase_boundary" {
		t.Fatalf("strict oversight pauses at phase boundaries, got %+v", r)
	}

	// Step 3 is the last step: finishing the workflow is not a boundary.
	if r := strict.CheckTriggersAfterStep(testDef(), 3, testExec(), outcome); r != nil {
		t.Fatalf("workflow end must not trigger a phase pause, got %+v", r)
	}

	std := New(Config{DefaultLevel: OversightStandard})
	if r := std.CheckTriggersAfterStep(testDef(), 0, testExec(), outcome); r != nil {
		t.Fatalf("standard oversight ignores phase boundaries, got %+v", r)
	}
}

func TestCheckTriggersGovernorLimit(t *testing.T) {
	i := New(Config{DefaultLevel: OversightLow})
	r := i.CheckTriggersAfterStep(testDef(), 0, testExec(), StepOutcome{Confidence: 0.9, GovernorLimitReached: true})
	if r == nil || r.Reason != "action_limit_reached" {
		t.Fatalf("exhausting the action budget must trigger, got %+v", r)
	}
}

func TestCheckTriggersPriorityOrder(t *testing.T) {
	i := New(Config{DefaultLevel: OversightStrict})
	r := i.CheckTriggersAfterStep(testDef(), 0, testExec(), StepOutcome{
		SafetyViolation:  true,
		ConflictDetected: true,
		Confidence:       0.1,
		BudgetUsedPct:    99,
	})
	if r == nil || r.Reason != "safety_violation" {
		t.Fatalf("safety violation outranks everything, got %+v", r)
	}
}

func TestLevelForPerProject(t *testing.T) {
	i := New(Config{
		DefaultLevel: OversightLow,
		LevelFor: func(projectID string) OversightLevel {
			if projectID == "critical" {
				return OversightStrict
			}
			return ""
		},
	})

	outcome := StepOutcome{Confidence: 0.5, ConflictDetected: true}
	exec := testExec()
	if r := i.CheckTriggersAfterStep(testDef(), 0, exec, outcome); r != nil {
		t.Fatalf("default low level ignores conflicts, got %+v", r)
	}

	exec.ProjectID = "critical"
	if r := i.CheckTriggersAfterStep(testDef(), 0, exec, outcome); r == nil {
		t.Fatal("critical project at strict level must pause")
	}
}

func TestReconfigurationRequest(t *testing.T) {
	i := New(Config{})
	req := i.ReconfigurationRequest(testExec(), 2, "builder")

	if req.Reason != "governor_denied" {
		t.Fatalf("expected governor_denied, got %s", req.Reason)
	}
	if req.Context["requires_reconfiguration"] != true {
		t.Fatalf("request must flag reconfiguration, got %+v", req.Context)
	}
	if req.StepIndex != 2 || req.AgentType != "builder" {
		t.Fatalf("request should identify the denied step, got %+v", req)
	}
}

func TestApplyResponseApprove(t *testing.T) {
	i := New(Config{})
	exec := testExec()
	req := i.ReconfigurationRequest(exec, 0, "builder")

	outcome, err := i.ApplyResponse(exec, req, api.HitlApprove, nil)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if outcome != OutcomeResume {
		t.Fatalf("approve must resume, got %v", outcome)
	}
}

func TestApplyResponseReject(t *testing.T) {
	i := New(Config{})
	exec := testExec()
	req := i.newRequest(exec, 1, "builder", "low_confidence", "q?", nil)

	outcome, err := i.ApplyResponse(exec, req, api.HitlReject, map[string]any{"comment": "wrong direction"})
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if outcome != OutcomeFail {
		t.Fatalf("reject must fail the execution, got %v", outcome)
	}
	if !strings.Contains(exec.Error, req.ID) || !strings.Contains(exec.Error, "wrong direction") {
		t.Fatalf("rejection reason should carry request ID and comment, got %q", exec.Error)
	}
}

func TestApplyResponseAmendMergesContent(t *testing.T) {
	i := New(Config{})
	exec := testExec()
	req := i.newRequest(exec, 1, "builder", "low_confidence", "q?", nil)

	outcome, err := i.ApplyResponse(exec, req, api.HitlAmend, map[string]any{"directive": "use approach B"})
	if err != nil {
		t.Fatalf("amend: %v", err)
	}
	if outcome != OutcomeResume {
		t.Fatalf("amend must resume, got %v", outcome)
	}

	amendment, ok := exec.Context[api.AmendmentContextKey].(map[string]any)
	if !ok || amendment["directive"] != "use approach B" {
		t.Fatalf("amendment content missing from context: %+v", exec.Context)
	}

	// A second amendment merges rather than replaces.
	_, err = i.ApplyResponse(exec, req, api.HitlAmend, map[string]any{"budget": "tight"})
	if err != nil {
		t.Fatalf("second amend: %v", err)
	}
	amendment = exec.Context[api.AmendmentContextKey].(map[string]any)
	if amendment["directive"] != "use approach B" || amendment["budget"] != "tight" {
		t.Fatalf("amendments should accumulate, got %+v", amendment)
	}
}

func TestApplyResponseUnknownAction(t *testing.T) {
	i := New(Config{})
	exec := testExec()
	req := i.newRequest(exec, 0, "builder", "low_confidence", "q?", nil)

	if _, err := i.ApplyResponse(exec, req, api.HitlAction("escalate"), nil); err == nil {
		t.Fatal("unknown action must be rejected")
	}
}
