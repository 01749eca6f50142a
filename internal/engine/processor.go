package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/petrijr/maestro/internal/hitl"
	"github.com/petrijr/maestro/internal/retry"
	"github.com/petrijr/maestro/pkg/api"
)

// stepResult is the outcome of one dispatched step. Results are produced by
// the processor (possibly on fan-out goroutines) and applied to the
// execution record serially by the manager, so the struct carries everything
// the manager needs without touching shared state.
type stepResult struct {
	Index     int
	OutputKey string
	TaskID    string

	Output         any
	ArtifactIDs    []string
	ContextUpdates map[string]any
	Outcome        hitl.StepOutcome

	Err      error
	Attempts int

	StartedAt   time.Time
	CompletedAt time.Time
}

// processor dispatches individual steps to the worker collaborator under
// the retry policy. It holds no execution state.
type processor struct {
	dispatcher api.Dispatcher
	artifacts  api.ArtifactStore
	retrier    *retry.Executor
	logger     *slog.Logger

	newID func() string
	now   func() time.Time
}

// shouldRun evaluates the step's precondition against the execution
// context. Evaluation errors fail closed: the step is skipped with a
// warning rather than run on a condition nobody understood.
func (p *processor) shouldRun(exec *api.WorkflowExecution, step api.StepDefinition, index int) bool {
	ok, err := step.Condition.Evaluate(exec.Context)
	if err != nil {
		p.logger.Warn("step condition failed to evaluate, skipping step",
			"execution_id", exec.ID,
			"step", step.Name,
			"step_index", index,
			"error", err,
		)
		return false
	}
	return ok
}

// executeStep dispatches one step and returns its result. The caller has
// already evaluated the condition and obtained a governor permit.
func (p *processor) executeStep(ctx context.Context, step api.StepDefinition, exec *api.WorkflowExecution, index int) stepResult {
	res := stepResult{
		Index:     index,
		OutputKey: step.OutputKey,
		TaskID:    p.newID(),
		StartedAt: p.now(),
	}

	artifacts := p.loadArtifacts(ctx, exec)

	r := p.retrier.Execute(ctx, func(ctx context.Context) (any, error) {
		dr, err := p.dispatcher.Dispatch(ctx, step.AgentType, step.Instructions, artifacts)
		if err != nil {
			return nil, err
		}
		return dr, nil
	})
	res.Attempts = r.Attempts
	res.CompletedAt = p.now()

	if !r.Success {
		res.Err = r.Err
		return res
	}

	dr := r.Value.(api.DispatchResult)
	res.Output = dr.Output
	res.ArtifactIDs = dr.ArtifactIDs
	res.ContextUpdates = dr.ContextUpdates
	res.Outcome = hitl.StepOutcome{
		Confidence:       dr.Confidence,
		ConflictDetected: dr.ConflictDetected,
		SafetyViolation:  dr.SafetyViolation,
		BudgetUsedPct:    dr.BudgetUsedPct,
	}
	return res
}

// loadArtifacts resolves the execution's accumulated artifacts for the
// dispatch. Artifact availability is best-effort context for the worker,
// so lookup failures degrade to an empty set with a warning.
func (p *processor) loadArtifacts(ctx context.Context, exec *api.WorkflowExecution) []api.Artifact {
	if p.artifacts == nil || len(exec.ArtifactIDs) == 0 {
		return nil
	}
	artifacts, err := p.artifacts.Artifacts(ctx, exec.ArtifactIDs)
	if err != nil {
		p.logger.Warn("artifact lookup failed, dispatching without artifacts",
			"execution_id", exec.ID,
			"error", err,
		)
		return nil
	}
	return artifacts
}
