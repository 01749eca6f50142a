// Package hitl decides when a workflow must pause for human review and
// applies human decisions to resume or terminate it.
package hitl

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/petrijr/maestro/pkg/api"
)

// OversightLevel controls how aggressively review triggers fire for a
// project.
type OversightLevel string

const (
	OversightLow      OversightLevel = "low"
	OversightStandard OversightLevel = "standard"
	OversightHigh     OversightLevel = "high"
	OversightStrict   OversightLevel = "strict"
)

// Thresholds are the trigger settings for one oversight level.
type Thresholds struct {
	// MinConfidence pauses when a step's reported confidence falls
	// below it. Zero disables the check.
	MinConfidence float64

	// MaxBudgetPct pauses when reported budget usage exceeds it.
	// Zero disables the check.
	MaxBudgetPct float64

	// PauseOnConflict pauses whenever a step flags a conflict.
	PauseOnConflict bool

	// PauseOnPhaseEnd pauses at every phase boundary.
	PauseOnPhaseEnd bool
}

// DefaultThresholds returns the stock per-level trigger settings.
func DefaultThresholds() map[OversightLevel]Thresholds {
	return map[OversightLevel]Thresholds{
		OversightLow:      {MaxBudgetPct: 95},
		OversightStandard: {MinConfidence: 0.4, MaxBudgetPct: 90, PauseOnConflict: true},
		OversightHigh:     {MinConfidence: 0.6, MaxBudgetPct: 80, PauseOnConflict: true, PauseOnPhaseEnd: true},
		OversightStrict:   {MinConfidence: 0.8, MaxBudgetPct: 70, PauseOnConflict: true, PauseOnPhaseEnd: true},
	}
}

// Config wires oversight policy into an Integrator.
type Config struct {
	// LevelFor maps a project to its oversight level. Nil means every
	// project uses DefaultLevel.
	LevelFor func(projectID string) OversightLevel

	// DefaultLevel applies when LevelFor is nil or returns "".
	DefaultLevel OversightLevel

	// Thresholds per level; nil uses DefaultThresholds.
	Thresholds map[OversightLevel]Thresholds
}

// StepOutcome carries the review-relevant signals from a completed step.
type StepOutcome struct {
	Confidence       float64
	ConflictDetected bool
	BudgetUsedPct    float64
	SafetyViolation  bool

	// GovernorLimitReached is set when this step consumed the last unit
	// of the project's autonomous action budget.
	GovernorLimitReached bool
}

// ResponseOutcome is what the engine should do after a human response.
type ResponseOutcome int

const (
	// OutcomeResume continues the execution from the paused step.
	OutcomeResume ResponseOutcome = iota

	// OutcomeFail terminates the execution as FAILED.
	OutcomeFail
)

// Integrator evaluates review triggers and applies human responses.
type Integrator struct {
	cfg   Config
	newID func() string
	now   func() time.Time
}

// New creates an Integrator. Zero-valued config fields get defaults:
// standard oversight, stock thresholds.
func New(cfg Config) *Integrator {
	if cfg.DefaultLevel == "" {
		cfg.DefaultLevel = OversightStandard
	}
	if cfg.Thresholds == nil {
		cfg.Thresholds = DefaultThresholds()
	}
	return &Integrator{
		cfg:   cfg,
		newID: func() string { return uuid.NewString() },
		now:   time.Now,
	}
}

func (i *Integrator) levelFor(projectID string) OversightLevel {
	if i.cfg.LevelFor != nil {
		if lvl := i.cfg.LevelFor(projectID); lvl != "" {
			return lvl
		}
	}
	return i.cfg.DefaultLevel
}

func (i *Integrator) thresholdsFor(projectID string) Thresholds {
	return i.cfg.Thresholds[i.levelFor(projectID)]
}

// CheckTriggersAfterStep inspects a completed step and returns a review
// request if the workflow must pause, or nil to continue. Safety
// violations always trigger regardless of oversight level.
func (i *Integrator) CheckTriggersAfterStep(def api.WorkflowDefinition, stepIndex int, exec *api.WorkflowExecution, outcome StepOutcome) *api.HitlRequest {
	th := i.thresholdsFor(exec.ProjectID)
	step := def.Steps[stepIndex]

	var reason, question string
	switch {
	case outcome.SafetyViolation:
		reason = "safety_violation"
		question = fmt.Sprintf("Step %d (%s) flagged a safety violation. How should the workflow proceed?", stepIndex, step.Name)
	case outcome.ConflictDetected && th.PauseOnConflict:
		reason = "conflict_detected"
		question = fmt.Sprintf("Step %d (%s) reported conflicting results. How should the workflow proceed?", stepIndex, step.Name)
	case th.MinConfidence > 0 && outcome.Confidence > 0 && outcome.Confidence < th.MinConfidence:
		reason = "low_confidence"
		question = fmt.Sprintf("Step %d (%s) finished with confidence %.2f, below the %.2f review threshold. Accept the result?", stepIndex, step.Name, outcome.Confidence, th.MinConfidence)
	case th.MaxBudgetPct > 0 && outcome.BudgetUsedPct > th.MaxBudgetPct:
		reason = "budget_threshold"
		question = fmt.Sprintf("Budget usage is at %.0f%%, above the %.0f%% review threshold. Continue?", outcome.BudgetUsedPct, th.MaxBudgetPct)
	case outcome.GovernorLimitReached:
		reason = "action_limit_reached"
		question = "The autonomous action budget is exhausted. Approve to grant another round of actions?"
	case th.PauseOnPhaseEnd && isPhaseEnd(def, stepIndex):
		reason = "phase_boundary"
		question = fmt.Sprintf("Phase %q is complete. Approve moving on to the next phase?", def.PhaseAt(stepIndex))
	default:
		return nil
	}

	return i.newRequest(exec, stepIndex, step.AgentType, reason, question, map[string]any{
		"confidence": outcome.Confidence,
		"budget_pct": outcome.BudgetUsedPct,
		"phase":      string(def.PhaseAt(stepIndex)),
	})
}

// ReconfigurationRequest builds the forced interaction used when the
// action governor denies a step: instead of executing, the workflow asks
// the human to re-authorize or reconfigure the budget.
func (i *Integrator) ReconfigurationRequest(exec *api.WorkflowExecution, stepIndex int, agentType string) *api.HitlRequest {
	question := fmt.Sprintf(
		"The action governor denied step %d for project %s: no autonomous actions remain. Raise the limit or approve to continue.",
		stepIndex, exec.ProjectID,
	)
	return i.newRequest(exec, stepIndex, agentType, "governor_denied", question, map[string]any{
		"requires_reconfiguration": true,
	})
}

func (i *Integrator) newRequest(exec *api.WorkflowExecution, stepIndex int, agentType, reason, question string, context map[string]any) *api.HitlRequest {
	return &api.HitlRequest{
		ID:          i.newID(),
		ExecutionID: exec.ID,
		ProjectID:   exec.ProjectID,
		StepIndex:   stepIndex,
		AgentType:   agentType,
		Question:    question,
		Options:     []string{string(api.HitlApprove), string(api.HitlReject), string(api.HitlAmend)},
		Context:     context,
		Reason:      reason,
		CreatedAt:   i.now(),
	}
}

// ApplyResponse mutates the execution according to a human decision and
// tells the engine whether to resume or fail. The engine owns the actual
// status transition and persistence.
func (i *Integrator) ApplyResponse(exec *api.WorkflowExecution, req *api.HitlRequest, action api.HitlAction, content map[string]any) (ResponseOutcome, error) {
	switch action {
	case api.HitlApprove:
		return OutcomeResume, nil

	case api.HitlReject:
		comment := ""
		if content != nil {
			if c, ok := content["comment"].(string); ok {
				comment = c
			}
		}
		msg := fmt.Sprintf("rejected by reviewer (request %s)", req.ID)
		if comment != "" {
			msg += ": " + comment
		}
		exec.Error = msg
		return OutcomeFail, nil

	case api.HitlAmend:
		if exec.Context == nil {
			exec.Context = map[string]any{}
		}
		existing, _ := exec.Context[api.AmendmentContextKey].(map[string]any)
		if existing == nil {
			existing = map[string]any{}
		}
		for k, v := range content {
			existing[k] = v
		}
		exec.Context[api.AmendmentContextKey] = existing
		return OutcomeResume, nil

	default:
		return OutcomeFail, fmt.Errorf("unknown hitl action %q", action)
	}
}

// isPhaseEnd reports whether the step is the last one of its phase.
func isPhaseEnd(def api.WorkflowDefinition, stepIndex int) bool {
	if stepIndex >= len(def.Steps)-1 {
		return false // workflow end is not a phase boundary pause
	}
	return def.Steps[stepIndex].Phase != def.Steps[stepIndex+1].Phase
}
