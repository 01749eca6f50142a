// Package persistence serializes workflow executions and recovery sessions
// to durable storage so an execution can be recovered byte-for-byte after a
// process restart.
package persistence

import (
	"errors"
	"time"

	"github.com/petrijr/maestro/internal/recovery"
	"github.com/petrijr/maestro/pkg/api"
)

var (
	// ErrWorkflowNotFound is returned when a workflow definition is not found.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrExecutionNotFound is returned when a workflow execution is not found.
	ErrExecutionNotFound = errors.New("execution not found")
)

// WorkflowStore handles storage of workflow definitions.
type WorkflowStore interface {
	SaveWorkflow(def api.WorkflowDefinition) error
	GetWorkflow(id string) (api.WorkflowDefinition, error)
}

// ExecutionFilter is used to select executions from the store.
// Empty string / zero status mean "no filter" for that field.
type ExecutionFilter struct {
	WorkflowID string
	ProjectID  string
	Status     api.Status
}

// ExecutionStore handles storage of workflow executions.
//
// SaveExecution is an idempotent upsert keyed by execution ID, and the
// round trip through SaveExecution/GetExecution must lose no information:
// recovery after a restart depends on it.
type ExecutionStore interface {
	SaveExecution(exec *api.WorkflowExecution) error
	GetExecution(id string) (*api.WorkflowExecution, error)
	ListExecutions(filter ExecutionFilter) ([]*api.WorkflowExecution, error)

	// Stats returns execution counts by status. An empty projectID
	// counts across all projects.
	Stats(projectID string) (map[api.Status]int, error)
}

// Persistence bundles the store interfaces so the engine can depend on a
// single abstraction.
type Persistence struct {
	Workflows  WorkflowStore
	Executions ExecutionStore
	Sessions   recovery.Store
}

// timeToNanos flattens a timestamp for storage; the zero time maps to 0.
func timeToNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

// nanosToTime is the inverse of timeToNanos.
func nanosToTime(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
