// Package recovery turns unrecoverable step failures into bounded
// remediation sessions: a deterministic strategy is selected from the
// failure reason and expanded into an ordered list of remediation steps.
package recovery

import (
	"errors"
	"strings"
	"time"

	"github.com/petrijr/maestro/pkg/api"
)

// Strategy is the remediation approach chosen for a failure.
type Strategy string

const (
	StrategyRollback Strategy = "ROLLBACK"
	StrategyRetry    Strategy = "RETRY"
	StrategyContinue Strategy = "CONTINUE"
	StrategyAbort    Strategy = "ABORT"
)

// SessionStatus is the lifecycle state of a recovery session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "ACTIVE"
	SessionCompleted SessionStatus = "COMPLETED"
	SessionFailed    SessionStatus = "FAILED"
)

// ActionType identifies one kind of remediation action.
type ActionType string

const (
	ActionRollbackState    ActionType = "rollback_state"
	ActionVerifyRollback   ActionType = "verify_rollback"
	ActionNotifyCompletion ActionType = "notify_completion"
	ActionAnalyzeFailure   ActionType = "analyze_failure"
	ActionRetryOperation   ActionType = "retry_operation"
	ActionVerifySuccess    ActionType = "verify_success"
	ActionSkipFailedStep   ActionType = "skip_failed_step"
	ActionContinueWorkflow ActionType = "continue_workflow"
	ActionCleanupResources ActionType = "cleanup_resources"
	ActionAbortWorkflow    ActionType = "abort_workflow"
	ActionNotifyAbort      ActionType = "notify_abort"
)

// Step is one remediation action within a session.
type Step struct {
	ID          string
	Description string
	Action      ActionType
	Params      map[string]any

	// RequiresApproval marks steps a human must sign off on before they
	// run; the manager's Approver is consulted for those.
	RequiresApproval bool

	Timeout time.Duration
	Status  api.StepStatus
	Result  any
	Error   string
}

// Session is a bounded remediation workflow triggered by a step failure.
// Completed sessions are retained for audit.
type Session struct {
	ID          string
	ExecutionID string
	StepIndex   int
	AgentType   string
	Reason      string
	Context     map[string]any

	Strategy    Strategy
	Steps       []Step
	CurrentStep int
	TotalSteps  int
	Status      SessionStatus

	CreatedAt   time.Time
	CompletedAt time.Time
}

// ErrSessionNotFound is returned when a recovery session is not found.
var ErrSessionNotFound = errors.New("recovery session not found")

// Store persists recovery sessions.
type Store interface {
	// SaveSession upserts a session keyed by ID.
	SaveSession(sess *Session) error
	GetSession(id string) (*Session, error)
	ListSessions(executionID string) ([]*Session, error)
}

// SelectStrategy maps a failure reason to a remediation strategy. The
// mapping is deterministic on the reason text; unmatched reasons default
// to RETRY.
func SelectStrategy(reason string) Strategy {
	r := strings.ToLower(reason)
	switch {
	case strings.Contains(r, "budget"):
		return StrategyAbort
	case strings.Contains(r, "timeout"):
		return StrategyRetry
	case strings.Contains(r, "emergency"):
		return StrategyRollback
	case strings.Contains(r, "validation"):
		return StrategyContinue
	default:
		return StrategyRetry
	}
}

// stepSpec is the template a strategy expands from.
type stepSpec struct {
	action           ActionType
	description      string
	requiresApproval bool
	timeout          time.Duration
}

var strategySteps = map[Strategy][]stepSpec{
	StrategyRollback: {
		{ActionRollbackState, "roll the project state back to the last good checkpoint", true, 5 * time.Minute},
		{ActionVerifyRollback, "verify the rolled-back state is consistent", false, 2 * time.Minute},
		{ActionNotifyCompletion, "notify observers that rollback finished", false, 30 * time.Second},
	},
	StrategyRetry: {
		{ActionAnalyzeFailure, "summarize the failure and its context", false, time.Minute},
		{ActionRetryOperation, "retry the failed operation", false, 5 * time.Minute},
		{ActionVerifySuccess, "verify the retried operation succeeded", false, time.Minute},
	},
	StrategyContinue: {
		{ActionSkipFailedStep, "record the failed step as skipped", false, 30 * time.Second},
		{ActionContinueWorkflow, "continue the workflow from the next step", false, 30 * time.Second},
	},
	StrategyAbort: {
		{ActionCleanupResources, "release resources held by the execution", false, 2 * time.Minute},
		{ActionAbortWorkflow, "abort the workflow execution", true, time.Minute},
		{ActionNotifyAbort, "notify observers that the workflow was aborted", false, 30 * time.Second},
	},
}

// expandStrategy produces the ordered remediation steps for a strategy.
func expandStrategy(strategy Strategy, newID func() string) []Step {
	specs := strategySteps[strategy]
	steps := make([]Step, len(specs))
	for i, spec := range specs {
		steps[i] = Step{
			ID:               newID(),
			Description:      spec.description,
			Action:           spec.action,
			Params:           map[string]any{},
			RequiresApproval: spec.requiresApproval,
			Timeout:          spec.timeout,
			Status:           api.StepPending,
		}
	}
	return steps
}
