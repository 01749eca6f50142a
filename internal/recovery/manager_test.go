package recovery

import (
	"context"
	"testing"

	"github.com/petrijr/maestro/pkg/api"
	"github.com/petrijr/maestro/pkg/events"
)

func TestInitiateRecoveryPersistsSession(t *testing.T) {
	store := NewMemoryStore()
	m := NewManager(store, nil, nil)

	sess, err := m.InitiateRecovery(context.Background(), "e1", 3, "builder", "operation timeout", map[string]any{"step_name": "build"})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if sess.Strategy != StrategyRetry {
		t.Fatalf("timeout should select RETRY, got %v", sess.Strategy)
	}
	if sess.Status != SessionActive {
		t.Fatalf("expected ACTIVE session, got %v", sess.Status)
	}
	if sess.TotalSteps != 3 || len(sess.Steps) != 3 {
		t.Fatalf("RETRY should expand to 3 steps, got %d", len(sess.Steps))
	}

	persisted, err := store.GetSession(sess.ID)
	if err != nil {
		t.Fatalf("session not persisted: %v", err)
	}
	if persisted.ExecutionID != "e1" || persisted.StepIndex != 3 {
		t.Fatalf("unexpected persisted session: %+v", persisted)
	}
}

func TestRunSessionCompletesStepsInOrder(t *testing.T) {
	store := NewMemoryStore()
	hub := events.NewHub()
	m := NewManager(store, hub, nil)

	ch, cancel := hub.Subscribe(events.Filter{Types: []string{events.TypeRecoveryStep, events.TypeRecoveryCompleted}})
	defer cancel()

	sess, err := m.InitiateRecovery(context.Background(), "e1", 0, "builder", "timeout", nil)
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if err := m.RunSession(context.Background(), "p1", sess); err != nil {
		t.Fatalf("run: %v", err)
	}

	if sess.Status != SessionCompleted {
		t.Fatalf("expected COMPLETED, got %v", sess.Status)
	}
	if sess.CurrentStep != sess.TotalSteps {
		t.Fatalf("expected current step %d, got %d", sess.TotalSteps, sess.CurrentStep)
	}
	if sess.CompletedAt.IsZero() {
		t.Fatal("expected CompletedAt to be set")
	}
	for i, s := range sess.Steps {
		if s.Status != api.StepCompleted {
			t.Fatalf("step %d: expected completed, got %v", i, s.Status)
		}
	}

	// One progress event per step plus the completion event.
	stepEvents, completed := 0, 0
	for i := 0; i < len(sess.Steps)+1; i++ {
		ev := <-ch
		switch ev.Type {
		case events.TypeRecoveryStep:
			stepEvents++
		case events.TypeRecoveryCompleted:
			completed++
		}
	}
	if stepEvents != len(sess.Steps) || completed != 1 {
		t.Fatalf("expected %d step events and 1 completion, got %d and %d", len(sess.Steps), stepEvents, completed)
	}
}

func TestRunSessionAnalyzeFailureResult(t *testing.T) {
	store := NewMemoryStore()
	m := NewManager(store, nil, nil)

	sess, _ := m.InitiateRecovery(context.Background(), "e1", 1, "qa", "timeout", map[string]any{"error": "boom"})
	if err := m.RunSession(context.Background(), "p1", sess); err != nil {
		t.Fatalf("run: %v", err)
	}

	summary, ok := sess.Steps[0].Result.(map[string]any)
	if !ok {
		t.Fatalf("analyze_failure should produce a summary map, got %T", sess.Steps[0].Result)
	}
	if summary["execution_id"] != "e1" || summary["reason"] != "timeout" {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}

type denyApprover struct{}

func (denyApprover) ApproveRecoveryStep(ctx context.Context, sess *Session, step *Step) (bool, error) {
	return false, nil
}

func TestRunSessionDeniedApprovalSkipsStep(t *testing.T) {
	store := NewMemoryStore()
	m := NewManager(store, nil, denyApprover{})

	// Emergency selects ROLLBACK, whose first step requires approval.
	sess, _ := m.InitiateRecovery(context.Background(), "e1", 0, "builder", "emergency shutdown", nil)
	if sess.Strategy != StrategyRollback {
		t.Fatalf("expected ROLLBACK, got %v", sess.Strategy)
	}
	if err := m.RunSession(context.Background(), "p1", sess); err != nil {
		t.Fatalf("run: %v", err)
	}

	if sess.Steps[0].Status != api.StepSkipped {
		t.Fatalf("denied step should be skipped, got %v", sess.Steps[0].Status)
	}
	if sess.Steps[1].Status != api.StepCompleted {
		t.Fatalf("remaining steps should still run, got %v", sess.Steps[1].Status)
	}
	if sess.Status != SessionCompleted {
		t.Fatalf("expected COMPLETED, got %v", sess.Status)
	}
}

func TestRunSessionCancelledContextFailsSession(t *testing.T) {
	store := NewMemoryStore()
	m := NewManager(store, nil, nil)

	sess, _ := m.InitiateRecovery(context.Background(), "e1", 0, "builder", "timeout", nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := m.RunSession(ctx, "p1", sess); err == nil {
		t.Fatal("expected error from cancelled context")
	}
	if sess.Status != SessionFailed {
		t.Fatalf("expected FAILED session, got %v", sess.Status)
	}
}
