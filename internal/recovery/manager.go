package recovery

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/petrijr/maestro/pkg/api"
	"github.com/petrijr/maestro/pkg/events"
)

// Approver decides whether a remediation step flagged RequiresApproval may
// run. A nil Approver auto-approves; engines wire this to their oversight
// policy.
type Approver interface {
	ApproveRecoveryStep(ctx context.Context, sess *Session, step *Step) (bool, error)
}

// Manager creates and runs recovery sessions.
type Manager struct {
	store    Store
	hub      *events.Hub
	approver Approver

	newID func() string
	now   func() time.Time
}

// NewManager creates a Manager. hub may be nil when nobody listens.
func NewManager(store Store, hub *events.Hub, approver Approver) *Manager {
	return &Manager{
		store:    store,
		hub:      hub,
		approver: approver,
		newID:    func() string { return uuid.NewString() },
		now:      time.Now,
	}
}

// InitiateRecovery selects a strategy for the failure, expands it into a
// session, and persists the session. The caller then drives the session
// with RunSession.
func (m *Manager) InitiateRecovery(ctx context.Context, executionID string, stepIndex int, agentType, reason string, failureContext map[string]any) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	strategy := SelectStrategy(reason)
	steps := expandStrategy(strategy, m.newID)

	sess := &Session{
		ID:          m.newID(),
		ExecutionID: executionID,
		StepIndex:   stepIndex,
		AgentType:   agentType,
		Reason:      reason,
		Context:     failureContext,
		Strategy:    strategy,
		Steps:       steps,
		CurrentStep: 0,
		TotalSteps:  len(steps),
		Status:      SessionActive,
		CreatedAt:   m.now(),
	}

	if err := m.store.SaveSession(sess); err != nil {
		return nil, fmt.Errorf("save recovery session: %w", err)
	}
	return sess, nil
}

// RunSession executes the session's remediation steps in order, persisting
// after each and broadcasting progress. It returns an error only when the
// session itself cannot make progress; the workflow-level consequence of
// the strategy (retry, skip, abort) is applied by the caller.
func (m *Manager) RunSession(ctx context.Context, projectID string, sess *Session) error {
	for i := range sess.Steps {
		if err := ctx.Err(); err != nil {
			return m.failSession(projectID, sess, err)
		}

		step := &sess.Steps[i]
		sess.CurrentStep = i

		if step.RequiresApproval && m.approver != nil {
			ok, err := m.approver.ApproveRecoveryStep(ctx, sess, step)
			if err != nil {
				return m.failSession(projectID, sess, err)
			}
			if !ok {
				step.Status = api.StepSkipped
				m.persistAndPublish(projectID, sess, step)
				continue
			}
		}

		step.Status = api.StepRunning
		_ = m.store.SaveSession(sess)

		result, err := func() (any, error) {
			stepCtx := ctx
			if step.Timeout > 0 {
				var cancel context.CancelFunc
				stepCtx, cancel = context.WithTimeout(ctx, step.Timeout)
				defer cancel()
			}
			return m.runStep(stepCtx, sess, step)
		}()
		if err != nil {
			step.Status = api.StepFailed
			step.Error = err.Error()
			m.persistAndPublish(projectID, sess, step)
			return m.failSession(projectID, sess, err)
		}

		step.Status = api.StepCompleted
		step.Result = result
		m.persistAndPublish(projectID, sess, step)
	}

	sess.CurrentStep = sess.TotalSteps
	sess.Status = SessionCompleted
	sess.CompletedAt = m.now()
	if err := m.store.SaveSession(sess); err != nil {
		return err
	}

	m.publish(events.TypeRecoveryCompleted, projectID, sess, nil)
	return nil
}

// runStep performs the bookkeeping for one remediation action. The actions
// that touch the failed workflow itself (retry, skip, abort) are applied by
// the execution manager after the session completes; here each action
// records what the session decided.
func (m *Manager) runStep(ctx context.Context, sess *Session, step *Step) (any, error) {
	switch step.Action {
	case ActionAnalyzeFailure:
		return map[string]any{
			"execution_id": sess.ExecutionID,
			"step_index":   sess.StepIndex,
			"agent_type":   sess.AgentType,
			"reason":       sess.Reason,
			"context_keys": contextKeys(sess.Context),
		}, nil
	case ActionRollbackState, ActionCleanupResources:
		// State and resource handling belong to external collaborators;
		// the session records the directive for them.
		return map[string]any{"directive": string(step.Action)}, nil
	case ActionRetryOperation, ActionVerifySuccess, ActionSkipFailedStep,
		ActionContinueWorkflow, ActionAbortWorkflow, ActionVerifyRollback:
		return map[string]any{"acknowledged": true}, nil
	case ActionNotifyCompletion, ActionNotifyAbort:
		m.publish(events.TypeRecoveryStep, "", sess, map[string]any{
			"notification": string(step.Action),
		})
		return map[string]any{"notified": true}, nil
	default:
		return nil, fmt.Errorf("unknown recovery action %q", step.Action)
	}
}

func (m *Manager) failSession(projectID string, sess *Session, cause error) error {
	sess.Status = SessionFailed
	sess.CompletedAt = m.now()
	_ = m.store.SaveSession(sess)
	m.publish(events.TypeRecoveryCompleted, projectID, sess, map[string]any{
		"error": cause.Error(),
	})
	return cause
}

func (m *Manager) persistAndPublish(projectID string, sess *Session, step *Step) {
	_ = m.store.SaveSession(sess)
	m.publish(events.TypeRecoveryStep, projectID, sess, map[string]any{
		"action": string(step.Action),
		"status": string(step.Status),
	})
}

func (m *Manager) publish(eventType, projectID string, sess *Session, extra map[string]any) {
	if m.hub == nil {
		return
	}
	payload := map[string]any{
		"session_id":   sess.ID,
		"strategy":     string(sess.Strategy),
		"current_step": sess.CurrentStep,
		"total_steps":  sess.TotalSteps,
		"status":       string(sess.Status),
	}
	for k, v := range extra {
		payload[k] = v
	}
	m.hub.Publish(events.Event{
		Type:        eventType,
		ProjectID:   projectID,
		ExecutionID: sess.ExecutionID,
		Payload:     payload,
	})
}

func contextKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}
