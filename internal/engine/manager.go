// Package engine implements the durable workflow execution manager: it
// drives executions through their step groups, enforces the action
// governor, pauses for human review, and hands failures to the recovery
// manager.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/petrijr/maestro/internal/governor"
	"github.com/petrijr/maestro/internal/hitl"
	"github.com/petrijr/maestro/internal/persistence"
	"github.com/petrijr/maestro/internal/recovery"
	"github.com/petrijr/maestro/pkg/api"
	"github.com/petrijr/maestro/pkg/events"
)

type engineImpl struct {
	per       persistence.Persistence
	proc      *processor
	gov       governor.Store
	oversight *hitl.Integrator
	recovery  *recovery.Manager
	hub       *events.Hub
	observer  api.Observer
	registry  *registry

	newID func() string
	now   func() time.Time
}

var _ api.Engine = (*engineImpl)(nil)

func (e *engineImpl) RegisterWorkflow(def api.WorkflowDefinition) error {
	if def.ID == "" {
		return errors.New("workflow ID is required")
	}
	if len(def.Steps) == 0 {
		return fmt.Errorf("workflow %s has no steps", def.ID)
	}
	for i, s := range def.Steps {
		if s.Name == "" {
			return fmt.Errorf("workflow %s: step %d has no name", def.ID, i)
		}
		if s.AgentType == "" {
			return fmt.Errorf("workflow %s: step %d (%s) has no agent type", def.ID, i, s.Name)
		}
	}
	return e.per.Workflows.SaveWorkflow(def)
}

func (e *engineImpl) StartExecution(ctx context.Context, workflowID, projectID string, initialContext map[string]any) (*api.WorkflowExecution, error) {
	def, err := e.per.Workflows.GetWorkflow(workflowID)
	if err != nil {
		return nil, err
	}

	now := e.now()
	exec := &api.WorkflowExecution{
		ID:         e.newID(),
		WorkflowID: workflowID,
		ProjectID:  projectID,
		Status:     api.StatusPending,
		TotalSteps: len(def.Steps),
		Steps:      make([]api.StepExecution, len(def.Steps)),
		Context:    make(map[string]any, len(initialContext)),
		CreatedAt:  now,
	}
	for i, s := range def.Steps {
		exec.Steps[i] = api.StepExecution{Index: i, AgentType: s.AgentType, Status: api.StepPending}
	}
	for k, v := range initialContext {
		exec.Context[k] = v
	}
	if err := e.save(exec); err != nil {
		return nil, err
	}

	in, ok := e.registry.acquire(exec.ID)
	if !ok {
		return nil, fmt.Errorf("execution %s is already being driven", exec.ID)
	}
	defer e.registry.release(exec.ID)

	exec.Status = api.StatusRunning
	exec.StartedAt = e.now()
	if err := e.save(exec); err != nil {
		return nil, err
	}
	e.observer.OnExecutionStart(ctx, exec)
	e.publish(events.TypeExecutionStarted, exec, nil)

	if err := e.run(ctx, def, exec, in); err != nil {
		return exec.Clone(), err
	}
	return exec.Clone(), nil
}

// run drives the execution group by group until it reaches a terminal
// state or parks. It returns an error only when the engine itself cannot
// make progress (store failures); a FAILED execution is not a Go error.
func (e *engineImpl) run(ctx context.Context, def api.WorkflowDefinition, exec *api.WorkflowExecution, in *inflight) error {
	for _, group := range def.Groups() {
		// Already executed on an earlier run of this loop.
		if group[len(group)-1] < exec.CurrentStep {
			continue
		}

		if err := ctx.Err(); err != nil {
			return e.pause(ctx, exec, "context cancelled: "+err.Error())
		}
		if reason, ok := in.takeCancel(); ok {
			return e.finishCancelled(ctx, exec, reason)
		}
		if reason, ok := in.takePause(); ok {
			return e.pause(ctx, exec, reason)
		}

		stop, err := e.runGroup(ctx, def, exec, group)
		if err != nil {
			return err
		}
		if stop {
			return nil
		}
	}
	return e.finishCompleted(ctx, exec)
}

// runGroup executes one sequential step or one parallel fan-out. It
// returns stop=true when the execution parked or reached a terminal state
// and the loop must not continue.
func (e *engineImpl) runGroup(ctx context.Context, def api.WorkflowDefinition, exec *api.WorkflowExecution, group []int) (bool, error) {
	// Plan: evaluate preconditions, skipping what does not run. Context
	// writes happen only between groups, so reads here are race-free even
	// while a previous fan-out was in flight.
	var runnable []int
	for _, idx := range group {
		if exec.Steps[idx].Status.Terminal() {
			continue // finished before a pause; resume mid-group
		}
		if e.proc.shouldRun(exec, def.Steps[idx], idx) {
			runnable = append(runnable, idx)
			continue
		}
		exec.Steps[idx].Status = api.StepSkipped
		exec.Steps[idx].CompletedAt = e.now()
		e.observer.OnStepCompleted(ctx, exec, def.Steps[idx].Name, idx, nil, 0)
	}

	// One governor permit per dispatch, all acquired before any member
	// runs so a denial never leaves a fan-out half dispatched.
	limitReached := make(map[int]bool, len(runnable))
	for _, idx := range runnable {
		allowed, justReached, err := e.gov.CheckAndDecrement(ctx, exec.ProjectID)
		if err != nil {
			return true, e.finishFailed(ctx, exec, fmt.Errorf("governor check: %w", err))
		}
		if !allowed {
			req := e.oversight.ReconfigurationRequest(exec, idx, def.Steps[idx].AgentType)
			return true, e.parkForReview(ctx, exec, req)
		}
		limitReached[idx] = justReached
	}

	for _, idx := range runnable {
		exec.Steps[idx].Status = api.StepRunning
		exec.Steps[idx].StartedAt = e.now()
		e.observer.OnStepStart(ctx, exec, def.Steps[idx].Name, idx)
	}
	if err := e.save(exec); err != nil {
		return true, err
	}

	results := make(map[int]stepResult, len(runnable))
	switch {
	case len(runnable) == 1:
		idx := runnable[0]
		results[idx] = e.proc.executeStep(ctx, def.Steps[idx], exec, idx)
	case len(runnable) > 1:
		var mu sync.Mutex
		var wg sync.WaitGroup
		for _, idx := range runnable {
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				r := e.proc.executeStep(ctx, def.Steps[idx], exec, idx)
				mu.Lock()
				results[idx] = r
				mu.Unlock()
			}(idx)
		}
		wg.Wait()
	}

	// Apply results serially in step order; fan-out goroutines never
	// touch the execution record themselves.
	var failures []stepResult
	var successes []stepResult
	for _, idx := range group {
		r, ok := results[idx]
		if !ok {
			continue
		}
		se := &exec.Steps[idx]
		se.TaskID = r.TaskID
		se.CompletedAt = r.CompletedAt
		if r.Err != nil {
			se.Status = api.StepFailed
			se.Error = r.Err.Error()
			failures = append(failures, r)
		} else {
			se.Status = api.StepCompleted
			se.Result = r.Output
			se.ArtifactIDs = r.ArtifactIDs
			e.applyResultContext(exec, r)
			successes = append(successes, r)
		}
		e.observer.OnStepCompleted(ctx, exec, def.Steps[idx].Name, idx, r.Err, r.CompletedAt.Sub(r.StartedAt))
	}
	if err := e.save(exec); err != nil {
		return true, err
	}

	if len(failures) > 0 {
		stop, err := e.handleGroupFailure(ctx, def, exec, failures)
		if stop || err != nil {
			return stop, err
		}
	}

	last := group[len(group)-1]
	if exec.CurrentStep <= last {
		exec.CurrentStep = last + 1
	}
	if err := e.save(exec); err != nil {
		return true, err
	}

	// Human-oversight triggers, in step order; the first hit parks the
	// execution. Approving later resumes from the next group, so the
	// reviewed results stand.
	for _, r := range successes {
		out := r.Outcome
		out.GovernorLimitReached = limitReached[r.Index]
		if req := e.oversight.CheckTriggersAfterStep(def, r.Index, exec, out); req != nil {
			return true, e.parkForReview(ctx, exec, req)
		}
	}
	return false, nil
}

// handleGroupFailure opens a recovery session for the first failure of a
// group and applies the strategy's workflow-level consequence. The same
// consequence covers every failed member of the group.
func (e *engineImpl) handleGroupFailure(ctx context.Context, def api.WorkflowDefinition, exec *api.WorkflowExecution, failures []stepResult) (bool, error) {
	first := failures[0]
	step := def.Steps[first.Index]

	sess, err := e.recovery.InitiateRecovery(ctx, exec.ID, first.Index, step.AgentType, first.Err.Error(), map[string]any{
		"step_name": step.Name,
		"attempts":  first.Attempts,
		"error":     first.Err.Error(),
	})
	if err != nil {
		return true, e.finishFailed(ctx, exec, fmt.Errorf("initiate recovery: %w", err))
	}
	e.observer.OnRecoveryStarted(ctx, exec, sess.ID, string(sess.Strategy))
	e.publish(events.TypeRecoveryStarted, exec, map[string]any{
		"session_id": sess.ID,
		"strategy":   string(sess.Strategy),
		"step_index": first.Index,
	})

	if rerr := e.recovery.RunSession(ctx, exec.ProjectID, sess); rerr != nil {
		return true, e.finishFailed(ctx, exec, fmt.Errorf("recovery session %s: %w", sess.ID, rerr))
	}

	switch sess.Strategy {
	case recovery.StrategyContinue:
		for _, f := range failures {
			exec.Steps[f.Index].Status = api.StepSkipped
		}
		return false, e.save(exec)

	case recovery.StrategyRetry:
		for _, f := range failures {
			se := &exec.Steps[f.Index]
			se.Status = api.StepRunning
			se.Error = ""
			if err := e.save(exec); err != nil {
				return true, err
			}
			r := e.proc.executeStep(ctx, def.Steps[f.Index], exec, f.Index)
			se.TaskID = r.TaskID
			se.CompletedAt = r.CompletedAt
			if r.Err != nil {
				se.Status = api.StepFailed
				se.Error = r.Err.Error()
				e.observer.OnStepCompleted(ctx, exec, def.Steps[f.Index].Name, f.Index, r.Err, r.CompletedAt.Sub(r.StartedAt))
				return true, e.finishFailed(ctx, exec, fmt.Errorf(
					"step %d (%s) failed after recovery session %s: %w", f.Index, def.Steps[f.Index].Name, sess.ID, r.Err))
			}
			se.Status = api.StepCompleted
			se.Result = r.Output
			se.ArtifactIDs = r.ArtifactIDs
			e.applyResultContext(exec, r)
			e.observer.OnStepCompleted(ctx, exec, def.Steps[f.Index].Name, f.Index, nil, r.CompletedAt.Sub(r.StartedAt))
		}
		return false, e.save(exec)

	default: // ROLLBACK, ABORT
		return true, e.finishFailed(ctx, exec, fmt.Errorf(
			"step %d (%s) failed, recovery session %s resolved %s: %w",
			first.Index, step.Name, sess.ID, sess.Strategy, first.Err))
	}
}

func (e *engineImpl) PauseExecution(ctx context.Context, executionID, reason string) (bool, error) {
	exec, err := e.per.Executions.GetExecution(executionID)
	if err != nil {
		return false, err
	}
	if exec.Status != api.StatusRunning {
		return false, nil
	}
	if in, ok := e.registry.get(executionID); ok {
		in.requestPause(reason)
		return true, nil
	}
	// RUNNING but no live loop owns it: a stale row from a crashed
	// process. Park it directly.
	return true, e.pause(ctx, exec, reason)
}

func (e *engineImpl) ResumeExecution(ctx context.Context, executionID string) (bool, error) {
	exec, err := e.per.Executions.GetExecution(executionID)
	if err != nil {
		return false, err
	}
	if exec.Status != api.StatusPaused {
		return false, nil
	}
	if pendingRequest(exec) != nil {
		return false, fmt.Errorf("execution %s is awaiting human review; use SubmitHitlResponse", executionID)
	}

	def, err := e.per.Workflows.GetWorkflow(exec.WorkflowID)
	if err != nil {
		return false, err
	}
	in, ok := e.registry.acquire(executionID)
	if !ok {
		return false, fmt.Errorf("execution %s is already being driven", executionID)
	}
	defer e.registry.release(executionID)

	exec.Status = api.StatusRunning
	if err := e.save(exec); err != nil {
		return false, err
	}
	e.observer.OnExecutionResumed(ctx, exec)
	e.publish(events.TypeExecutionResumed, exec, nil)

	return true, e.run(ctx, def, exec, in)
}

func (e *engineImpl) CancelExecution(ctx context.Context, executionID, reason string) (bool, error) {
	exec, err := e.per.Executions.GetExecution(executionID)
	if err != nil {
		return false, err
	}
	switch exec.Status {
	case api.StatusRunning:
		if in, ok := e.registry.get(executionID); ok {
			// Takes effect at the next step boundary; in-flight work
			// finishes but its result is discarded.
			in.requestCancel(reason)
			return true, nil
		}
		return true, e.finishCancelled(ctx, exec, reason)
	case api.StatusPending, api.StatusPaused:
		return true, e.finishCancelled(ctx, exec, reason)
	default:
		return false, nil
	}
}

func (e *engineImpl) GetExecution(ctx context.Context, executionID string) (*api.WorkflowExecution, error) {
	return e.per.Executions.GetExecution(executionID)
}

func (e *engineImpl) ListExecutions(ctx context.Context, opts api.ExecutionListOptions) ([]*api.WorkflowExecution, error) {
	return e.per.Executions.ListExecutions(persistence.ExecutionFilter{
		WorkflowID: opts.WorkflowID,
		ProjectID:  opts.ProjectID,
		Status:     opts.Status,
	})
}

func (e *engineImpl) GetStatus(ctx context.Context, executionID string) (api.StatusSnapshot, error) {
	exec, err := e.per.Executions.GetExecution(executionID)
	if err != nil {
		return api.StatusSnapshot{}, err
	}

	snap := api.StatusSnapshot{
		ExecutionID: exec.ID,
		WorkflowID:  exec.WorkflowID,
		ProjectID:   exec.ProjectID,
		Status:      exec.Status,
		CurrentStep: exec.CurrentStep,
		TotalSteps:  exec.TotalSteps,
		StartedAt:   exec.StartedAt,
		CompletedAt: exec.CompletedAt,
		UpdatedAt:   exec.UpdatedAt,
		Error:       exec.Error,
	}
	for _, s := range exec.Steps {
		switch s.Status {
		case api.StepCompleted:
			snap.CompletedSteps++
		case api.StepFailed:
			snap.FailedSteps++
		case api.StepSkipped:
			snap.SkippedSteps++
		}
	}
	if def, derr := e.per.Workflows.GetWorkflow(exec.WorkflowID); derr == nil {
		snap.Phase = def.PhaseAt(exec.CurrentStep)
	}
	snap.Resumable = exec.Status == api.StatusPaused && pendingRequest(exec) == nil
	return snap, nil
}

func (e *engineImpl) PendingRequest(ctx context.Context, executionID string) (*api.HitlRequest, error) {
	exec, err := e.per.Executions.GetExecution(executionID)
	if err != nil {
		return nil, err
	}
	return pendingRequest(exec), nil
}

func (e *engineImpl) SubmitHitlResponse(ctx context.Context, executionID, requestID string, action api.HitlAction, content map[string]any) (*api.WorkflowExecution, error) {
	exec, err := e.per.Executions.GetExecution(executionID)
	if err != nil {
		return nil, err
	}
	if exec.Status != api.StatusPaused {
		return nil, fmt.Errorf("execution %s is %s, not awaiting review", executionID, exec.Status)
	}
	req := pendingRequest(exec)
	if req == nil {
		return nil, fmt.Errorf("execution %s has no pending review request", executionID)
	}
	if req.ID != requestID {
		return nil, fmt.Errorf("request %s is not the pending request for execution %s", requestID, executionID)
	}

	outcome, err := e.oversight.ApplyResponse(exec, req, action, content)
	if err != nil {
		return nil, err
	}
	delete(exec.Context, api.RequestContextKey)
	e.publish(events.TypeHitlResolved, exec, map[string]any{
		"request_id": req.ID,
		"action":     string(action),
	})

	if outcome == hitl.OutcomeFail {
		if err := e.finishFailed(ctx, exec, errors.New(exec.Error)); err != nil {
			return nil, err
		}
		return exec.Clone(), nil
	}

	// Approving an exhausted action budget grants a fresh round; updating
	// the limit to its current value resets Remaining.
	if action == api.HitlApprove && (req.Reason == "governor_denied" || req.Reason == "action_limit_reached") {
		if settings, gerr := e.gov.GetSettings(ctx, exec.ProjectID); gerr == nil {
			limit := settings.Limit
			_, _ = e.gov.UpdateSettings(ctx, exec.ProjectID, &limit, nil)
		}
	}

	def, err := e.per.Workflows.GetWorkflow(exec.WorkflowID)
	if err != nil {
		return nil, err
	}
	in, ok := e.registry.acquire(executionID)
	if !ok {
		return nil, fmt.Errorf("execution %s is already being driven", executionID)
	}
	defer e.registry.release(executionID)

	exec.Status = api.StatusRunning
	if err := e.save(exec); err != nil {
		return nil, err
	}
	e.observer.OnExecutionResumed(ctx, exec)
	e.publish(events.TypeExecutionResumed, exec, nil)

	if err := e.run(ctx, def, exec, in); err != nil {
		return exec.Clone(), err
	}
	return exec.Clone(), nil
}

func (e *engineImpl) RecoverInterrupted(ctx context.Context) (int, error) {
	execs, err := e.per.Executions.ListExecutions(persistence.ExecutionFilter{Status: api.StatusRunning})
	if err != nil {
		return 0, err
	}
	count := 0
	for _, exec := range execs {
		if _, live := e.registry.get(exec.ID); live {
			continue
		}
		if err := e.pause(ctx, exec, "process restart"); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func (e *engineImpl) Stats(ctx context.Context, projectID string) (map[api.Status]int, error) {
	return e.per.Executions.Stats(projectID)
}

// applyResultContext merges a successful step's output into the execution
// context and artifact list.
func (e *engineImpl) applyResultContext(exec *api.WorkflowExecution, r stepResult) {
	if exec.Context == nil {
		exec.Context = map[string]any{}
	}
	for k, v := range r.ContextUpdates {
		exec.Context[k] = v
	}
	if r.OutputKey != "" {
		exec.Context[r.OutputKey] = r.Output
	}
	exec.ArtifactIDs = append(exec.ArtifactIDs, r.ArtifactIDs...)
}

// parkForReview pauses the execution for a human decision. The request is
// stored in the execution context so it survives a process restart.
func (e *engineImpl) parkForReview(ctx context.Context, exec *api.WorkflowExecution, req *api.HitlRequest) error {
	if exec.Context == nil {
		exec.Context = map[string]any{}
	}
	exec.Context[api.RequestContextKey] = *req
	exec.Status = api.StatusPaused
	if err := e.save(exec); err != nil {
		return err
	}
	e.observer.OnExecutionPaused(ctx, exec, req.Reason)
	e.publish(events.TypeHitlRequested, exec, map[string]any{
		"request_id": req.ID,
		"reason":     req.Reason,
		"question":   req.Question,
		"step_index": req.StepIndex,
	})
	e.publish(events.TypeExecutionPaused, exec, map[string]any{"reason": req.Reason})
	return nil
}

func (e *engineImpl) pause(ctx context.Context, exec *api.WorkflowExecution, reason string) error {
	exec.Status = api.StatusPaused
	if err := e.save(exec); err != nil {
		return err
	}
	e.observer.OnExecutionPaused(ctx, exec, reason)
	e.publish(events.TypeExecutionPaused, exec, map[string]any{"reason": reason})
	return nil
}

func (e *engineImpl) finishCompleted(ctx context.Context, exec *api.WorkflowExecution) error {
	exec.Status = api.StatusCompleted
	exec.CompletedAt = e.now()
	if err := e.save(exec); err != nil {
		return err
	}
	e.observer.OnExecutionCompleted(ctx, exec)
	e.publish(events.TypeExecutionCompleted, exec, nil)
	return nil
}

// finishFailed records a terminal failure. The returned error reflects
// persistence problems only; the execution failure itself is carried in
// the record.
func (e *engineImpl) finishFailed(ctx context.Context, exec *api.WorkflowExecution, cause error) error {
	exec.Status = api.StatusFailed
	exec.Error = cause.Error()
	exec.CompletedAt = e.now()
	if err := e.save(exec); err != nil {
		return err
	}
	e.observer.OnExecutionFailed(ctx, exec, cause)
	e.publish(events.TypeExecutionFailed, exec, map[string]any{"error": cause.Error()})
	return nil
}

func (e *engineImpl) finishCancelled(ctx context.Context, exec *api.WorkflowExecution, reason string) error {
	exec.Status = api.StatusCancelled
	exec.Error = reason
	exec.CompletedAt = e.now()
	if err := e.save(exec); err != nil {
		return err
	}
	e.observer.OnExecutionCancelled(ctx, exec, reason)
	e.publish(events.TypeExecutionCancelled, exec, map[string]any{"reason": reason})
	return nil
}

func (e *engineImpl) save(exec *api.WorkflowExecution) error {
	exec.UpdatedAt = e.now()
	return e.per.Executions.SaveExecution(exec)
}

func (e *engineImpl) publish(eventType string, exec *api.WorkflowExecution, payload map[string]any) {
	if e.hub == nil {
		return
	}
	e.hub.Publish(events.Event{
		Type:        eventType,
		ProjectID:   exec.ProjectID,
		ExecutionID: exec.ID,
		Payload:     payload,
	})
}

// pendingRequest extracts the parked review request from the execution
// context, tolerating both the live and the gob-decoded representation.
func pendingRequest(exec *api.WorkflowExecution) *api.HitlRequest {
	if exec.Context == nil {
		return nil
	}
	switch r := exec.Context[api.RequestContextKey].(type) {
	case api.HitlRequest:
		return &r
	case *api.HitlRequest:
		return r
	}
	return nil
}
