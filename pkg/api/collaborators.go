package api

import (
	"context"
	"sync"
)

// Artifact is a context artifact handed to workers alongside instructions.
type Artifact struct {
	ID   string
	Name string
	Kind string
	Data []byte
}

// DispatchResult is what a worker collaborator reports back for one
// dispatched unit of work.
type DispatchResult struct {
	Output      any
	ArtifactIDs []string

	// ContextUpdates are merged into the execution context on success,
	// in addition to the step's OutputKey entry.
	ContextUpdates map[string]any

	// Signals consumed by human-oversight trigger evaluation.
	Confidence       float64
	ConflictDetected bool
	SafetyViolation  bool
	BudgetUsedPct    float64
}

// Dispatcher hands a unit of work to the external worker-execution
// collaborator (the actual generative invocation). The orchestrator treats
// it as opaque: it only sequences, retries, and records outcomes.
type Dispatcher interface {
	Dispatch(ctx context.Context, agentType, instructions string, contextArtifacts []Artifact) (DispatchResult, error)
}

// DispatcherFunc adapts a function to the Dispatcher interface.
type DispatcherFunc func(ctx context.Context, agentType, instructions string, contextArtifacts []Artifact) (DispatchResult, error)

func (f DispatcherFunc) Dispatch(ctx context.Context, agentType, instructions string, contextArtifacts []Artifact) (DispatchResult, error) {
	return f(ctx, agentType, instructions, contextArtifacts)
}

// ArtifactStore resolves context artifacts by identifier.
type ArtifactStore interface {
	Artifacts(ctx context.Context, ids []string) ([]Artifact, error)
}

// MemoryArtifactStore is a goroutine-safe in-memory ArtifactStore. Unknown
// IDs are silently dropped from lookups; artifact availability is
// best-effort context, not a correctness requirement.
type MemoryArtifactStore struct {
	mu        sync.RWMutex
	artifacts map[string]Artifact
}

// NewMemoryArtifactStore creates an empty MemoryArtifactStore.
func NewMemoryArtifactStore() *MemoryArtifactStore {
	return &MemoryArtifactStore{artifacts: make(map[string]Artifact)}
}

var _ ArtifactStore = (*MemoryArtifactStore)(nil)

// Put stores or replaces an artifact.
func (s *MemoryArtifactStore) Put(a Artifact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifacts[a.ID] = a
}

func (s *MemoryArtifactStore) Artifacts(ctx context.Context, ids []string) ([]Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Artifact, 0, len(ids))
	for _, id := range ids {
		if a, ok := s.artifacts[id]; ok {
			out = append(out, a)
		}
	}
	return out, nil
}
