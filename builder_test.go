package maestro

import (
	"context"
	"testing"
	"time"
)

func TestWorkflowBuilder(t *testing.T) {
	wf := NewWorkflow("web-app", "Web app delivery").
		Step("analyze", "analyst",
			InPhase(PhaseDiscovery),
			WithOutputKey("analysis"),
			WithInstructions("inspect the repo")).
		Parallel(
			Step("frontend", "builder", InPhase(PhaseBuild)),
			Step("backend", "builder", InPhase(PhaseBuild)),
		).
		Parallel(
			Step("unit", "qa", InPhase(PhaseValidate)),
			Step("e2e", "qa", InPhase(PhaseValidate)),
		).
		Step("ship", "launcher",
			InPhase(PhaseLaunch),
			When(NotEmpty("analysis")))

	def := wf.Definition()
	if def.ID != "web-app" || def.Name != "Web app delivery" {
		t.Fatalf("unexpected header: %+v", def)
	}
	if len(def.Steps) != 6 {
		t.Fatalf("expected 6 steps, got %d", len(def.Steps))
	}

	if def.Steps[0].Group != 0 {
		t.Fatalf("sequential steps carry no group, got %d", def.Steps[0].Group)
	}
	if def.Steps[1].Group != def.Steps[2].Group || def.Steps[1].Group == 0 {
		t.Fatalf("parallel members must share a group: %d / %d", def.Steps[1].Group, def.Steps[2].Group)
	}
	if def.Steps[3].Group == def.Steps[1].Group {
		t.Fatal("separate Parallel calls must get distinct groups")
	}

	if def.Steps[0].OutputKey != "analysis" || def.Steps[0].Instructions != "inspect the repo" {
		t.Fatalf("step options not applied: %+v", def.Steps[0])
	}
	if def.Steps[5].Condition.Kind != NotEmpty("analysis").Kind {
		t.Fatalf("condition not applied: %+v", def.Steps[5])
	}

	groups := def.Groups()
	if len(groups) != 4 {
		t.Fatalf("expected 4 execution groups, got %v", groups)
	}
}

func TestStepPanicsOnBadInput(t *testing.T) {
	assertPanics := func(name string, fn func()) {
		defer func() {
			if recover() == nil {
				t.Fatalf("%s: expected panic", name)
			}
		}()
		fn()
	}

	assertPanics("empty name", func() { Step("", "analyst") })
	assertPanics("empty agent type", func() { Step("analyze", "") })
	assertPanics("empty parallel", func() { NewWorkflow("x", "x").Parallel() })
}

func TestRetryBuilder(t *testing.T) {
	cfg := Retry(4).WithExponentialBackoff(time.Second, 3.0, 20*time.Second).Config()
	if cfg.MaxRetries != 4 || cfg.BaseDelay != time.Second || cfg.Multiplier != 3.0 || cfg.MaxDelay != 20*time.Second {
		t.Fatalf("unexpected config: %+v", cfg)
	}

	cfg = Retry(2).WithConstantBackoff(5 * time.Second).Config()
	if cfg.BaseDelay != 5*time.Second || cfg.MaxDelay != 5*time.Second || cfg.Multiplier != 1.0 {
		t.Fatalf("constant backoff misconfigured: %+v", cfg)
	}

	cfg = Retry(-1).WithExponentialBackoff(time.Second, 0, 0).Config()
	if cfg.MaxRetries != 0 {
		t.Fatalf("negative retries should clamp to 0, got %d", cfg.MaxRetries)
	}
	if cfg.Multiplier != 2.0 {
		t.Fatalf("non-positive multiplier should default to 2.0, got %v", cfg.Multiplier)
	}
}

func TestInMemoryEngineEndToEnd(t *testing.T) {
	dispatcher := DispatcherFunc(func(ctx context.Context, agentType, instructions string, artifacts []Artifact) (DispatchResult, error) {
		return DispatchResult{Output: "done: " + agentType, Confidence: 0.95}, nil
	})

	eng, err := NewInMemoryEngine(dispatcher, WithGovernorDisabled())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	NewWorkflow("delivery", "Delivery").
		Step("analyze", "analyst", InPhase(PhaseDiscovery), WithOutputKey("analysis")).
		Step("build", "builder", InPhase(PhaseBuild)).
		MustRegister(eng)

	exec, err := Start(context.Background(), eng, "delivery", "p1", map[string]any{"goal": "ship"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if exec.Status != StatusCompleted {
		t.Fatalf("expected COMPLETED, got %v (%s)", exec.Status, exec.Error)
	}
	if exec.Context["analysis"] != "done: analyst" {
		t.Fatalf("output not merged: %+v", exec.Context)
	}

	snap, err := eng.GetStatus(context.Background(), exec.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if snap.CompletedSteps != 2 {
		t.Fatalf("expected 2 completed steps, got %+v", snap)
	}
}

func TestOptionsFromConfigFile(t *testing.T) {
	if _, err := OptionsFromConfigFile("testdata/does-not-exist.yaml"); err == nil {
		t.Fatal("missing config file must error")
	}
}
