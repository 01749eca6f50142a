package persistence

import (
	"sync"

	"github.com/petrijr/maestro/pkg/api"
)

// InMemoryStore is a simple, goroutine-safe implementation of
// WorkflowStore and ExecutionStore backed by maps. Executions are deep
// copied on the way in and out so callers never share mutable state with
// the store.
type InMemoryStore struct {
	mu         sync.RWMutex
	workflows  map[string]api.WorkflowDefinition
	executions map[string]*api.WorkflowExecution
}

// NewInMemoryStore creates a new InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		workflows:  make(map[string]api.WorkflowDefinition),
		executions: make(map[string]*api.WorkflowExecution),
	}
}

var _ WorkflowStore = (*InMemoryStore)(nil)
var _ ExecutionStore = (*InMemoryStore)(nil)

func (s *InMemoryStore) SaveWorkflow(def api.WorkflowDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.workflows[def.ID] = def
	return nil
}

func (s *InMemoryStore) GetWorkflow(id string) (api.WorkflowDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	def, ok := s.workflows[id]
	if !ok {
		return api.WorkflowDefinition{}, ErrWorkflowNotFound
	}
	return def, nil
}

func (s *InMemoryStore) SaveExecution(exec *api.WorkflowExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.executions[exec.ID] = exec.Clone()
	return nil
}

func (s *InMemoryStore) GetExecution(id string) (*api.WorkflowExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	exec, ok := s.executions[id]
	if !ok {
		return nil, ErrExecutionNotFound
	}
	return exec.Clone(), nil
}

func (s *InMemoryStore) ListExecutions(filter ExecutionFilter) ([]*api.WorkflowExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*api.WorkflowExecution
	for _, exec := range s.executions {
		if !matchExecution(filter, exec) {
			continue
		}
		out = append(out, exec.Clone())
	}
	return out, nil
}

func (s *InMemoryStore) Stats(projectID string) (map[api.Status]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := make(map[api.Status]int)
	for _, exec := range s.executions {
		if projectID != "" && exec.ProjectID != projectID {
			continue
		}
		stats[exec.Status]++
	}
	return stats, nil
}

func matchExecution(filter ExecutionFilter, exec *api.WorkflowExecution) bool {
	if filter.WorkflowID != "" && exec.WorkflowID != filter.WorkflowID {
		return false
	}
	if filter.ProjectID != "" && exec.ProjectID != filter.ProjectID {
		return false
	}
	if filter.Status != "" && exec.Status != filter.Status {
		return false
	}
	return true
}
