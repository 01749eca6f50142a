package api

import (
	"context"
	"encoding/gob"
	"time"
)

func init() {
	// Values stored in execution context maps and step results travel
	// through gob when a durable backend is used. Register the common
	// dynamic types up front; callers using custom result types must
	// register them the same way.
	gob.Register(map[string]any{})
	gob.Register([]any{})
	gob.Register([]string{})
	gob.Register(time.Time{})
	gob.Register(HitlRequest{})
}

// Status represents the lifecycle state of a workflow execution.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusPaused    Status = "PAUSED"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// Terminal reports whether the status is final. Terminal executions are
// never mutated again; late step results arriving for them are discarded.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// StepStatus represents the state of one step within an execution.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// Terminal reports whether a step status is final. Step transitions are
// monotonic: once terminal, a step never regresses.
func (s StepStatus) Terminal() bool {
	switch s {
	case StepCompleted, StepFailed, StepSkipped:
		return true
	}
	return false
}

// Phase names the delivery phase a step belongs to. The phase of an
// execution is derived from its current step.
type Phase string

const (
	PhaseDiscovery Phase = "discovery"
	PhasePlan      Phase = "plan"
	PhaseDesign    Phase = "design"
	PhaseBuild     Phase = "build"
	PhaseValidate  Phase = "validate"
	PhaseLaunch    Phase = "launch"
)

// StepExecution is the durable state of one step within an execution.
type StepExecution struct {
	Index       int
	AgentType   string
	Status      StepStatus
	StartedAt   time.Time
	CompletedAt time.Time
	Result      any
	ArtifactIDs []string
	Error       string

	// TaskID is the identifier of the dispatched unit of work, if this
	// step handed work to the external worker collaborator.
	TaskID string
}

// WorkflowExecution is one run of a workflow definition against a project.
// Executions are never deleted; terminal records are retained for audit.
type WorkflowExecution struct {
	ID         string
	WorkflowID string
	ProjectID  string
	Status     Status

	// CurrentStep is the index of the next step to run. It never
	// decreases and never exceeds TotalSteps.
	CurrentStep int
	TotalSteps  int

	Steps       []StepExecution
	Context     map[string]any
	ArtifactIDs []string
	Error       string

	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time
	UpdatedAt   time.Time
}

// Clone returns a deep copy of the execution. Step results and context
// values are copied by reference; everything structural is independent.
func (e *WorkflowExecution) Clone() *WorkflowExecution {
	if e == nil {
		return nil
	}
	out := *e
	out.Steps = make([]StepExecution, len(e.Steps))
	for i, s := range e.Steps {
		cs := s
		cs.ArtifactIDs = append([]string(nil), s.ArtifactIDs...)
		out.Steps[i] = cs
	}
	out.ArtifactIDs = append([]string(nil), e.ArtifactIDs...)
	if e.Context != nil {
		out.Context = make(map[string]any, len(e.Context))
		for k, v := range e.Context {
			out.Context[k] = v
		}
	}
	return &out
}

// StepDefinition describes one step of a workflow definition.
type StepDefinition struct {
	Name      string
	AgentType string
	Phase     Phase

	// Instructions is the opaque prompt/command handed to the worker
	// collaborator. How workers interpret it is out of scope here.
	Instructions string

	// OutputKey, if non-empty, is the context key under which the step's
	// output is merged into the execution context on success.
	OutputKey string

	// Condition gates the step. The zero value always passes.
	Condition Condition

	// Group marks parallel fan-out: consecutive steps sharing the same
	// non-zero Group value are dispatched concurrently and awaited
	// together before the execution advances.
	Group int
}

// WorkflowDefinition describes a workflow as an ordered sequence of steps.
type WorkflowDefinition struct {
	ID    string
	Name  string
	Steps []StepDefinition
}

// Groups returns the execution plan as ordered groups of step indices.
// Each group is either a single sequential step or a parallel fan-out.
func (d WorkflowDefinition) Groups() [][]int {
	var groups [][]int
	for i := 0; i < len(d.Steps); {
		g := d.Steps[i].Group
		if g == 0 {
			groups = append(groups, []int{i})
			i++
			continue
		}
		j := i
		var members []int
		for j < len(d.Steps) && d.Steps[j].Group == g {
			members = append(members, j)
			j++
		}
		groups = append(groups, members)
		i = j
	}
	return groups
}

// PhaseAt returns the phase of the step at the given index. Indices past
// the last step report the final step's phase.
func (d WorkflowDefinition) PhaseAt(index int) Phase {
	if len(d.Steps) == 0 {
		return ""
	}
	if index >= len(d.Steps) {
		index = len(d.Steps) - 1
	}
	if index < 0 {
		index = 0
	}
	return d.Steps[index].Phase
}

// StatusSnapshot is a read-only view of an execution's progress.
type StatusSnapshot struct {
	ExecutionID string
	WorkflowID  string
	ProjectID   string
	Status      Status
	Phase       Phase

	CurrentStep    int
	TotalSteps     int
	CompletedSteps int
	FailedSteps    int
	SkippedSteps   int

	StartedAt   time.Time
	CompletedAt time.Time
	UpdatedAt   time.Time

	// Resumable reports whether ResumeExecution would be accepted.
	Resumable bool
	Error     string
}

// ExecutionListOptions controls how executions are listed.
// Zero values mean "no filter" for that field.
type ExecutionListOptions struct {
	WorkflowID string
	ProjectID  string
	Status     Status
}

// Engine is the orchestration API exposed to collaborators.
type Engine interface {
	// RegisterWorkflow registers a definition by ID.
	RegisterWorkflow(def WorkflowDefinition) error

	// StartExecution creates a new execution and drives it until it
	// completes, fails, is cancelled, or parks for human review. The
	// returned execution reflects the state at return time.
	StartExecution(ctx context.Context, workflowID, projectID string, initialContext map[string]any) (*WorkflowExecution, error)

	// PauseExecution requests a pause. For a live execution the pause
	// takes effect at the next step boundary. Only valid from RUNNING.
	PauseExecution(ctx context.Context, executionID, reason string) (bool, error)

	// ResumeExecution continues a paused execution from its current step.
	// Only valid from PAUSED with no fatal error and no pending human
	// review request (use SubmitHitlResponse for those).
	ResumeExecution(ctx context.Context, executionID string) (bool, error)

	// CancelExecution terminally cancels an execution from RUNNING or
	// PAUSED. In-flight dispatched work is not interrupted; its result
	// is discarded when it arrives.
	CancelExecution(ctx context.Context, executionID, reason string) (bool, error)

	// GetExecution fetches an execution by ID.
	GetExecution(ctx context.Context, executionID string) (*WorkflowExecution, error)

	// ListExecutions returns executions matching the given options.
	ListExecutions(ctx context.Context, opts ExecutionListOptions) ([]*WorkflowExecution, error)

	// GetStatus returns a progress snapshot for an execution.
	GetStatus(ctx context.Context, executionID string) (StatusSnapshot, error)

	// PendingRequest returns the open human-review request for an
	// execution, if any.
	PendingRequest(ctx context.Context, executionID string) (*HitlRequest, error)

	// SubmitHitlResponse applies a human decision (approve/reject/amend)
	// to a paused execution and resumes or terminates it accordingly.
	SubmitHitlResponse(ctx context.Context, executionID, requestID string, action HitlAction, content map[string]any) (*WorkflowExecution, error)

	// RecoverInterrupted marks executions left RUNNING by a crashed
	// process as PAUSED so a human can resume them. It is typically
	// called once on process startup.
	RecoverInterrupted(ctx context.Context) (int, error)

	// Stats returns execution counts by status, optionally scoped to a
	// project.
	Stats(ctx context.Context, projectID string) (map[Status]int, error)
}
