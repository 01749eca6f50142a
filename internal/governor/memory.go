package governor

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is a goroutine-safe in-process Store. All operations for all
// projects share one mutex; check-and-decrement is atomic by construction.
type MemoryStore struct {
	mu       sync.Mutex
	defaults Defaults
	projects map[string]*Settings
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a MemoryStore with the given defaults.
func NewMemoryStore(defaults Defaults) *MemoryStore {
	if defaults.Limit <= 0 {
		defaults.Limit = DefaultLimit
	}
	return &MemoryStore{
		defaults: defaults,
		projects: make(map[string]*Settings),
	}
}

// settingsLocked returns the project entry, creating it lazily.
// Callers must hold s.mu.
func (s *MemoryStore) settingsLocked(projectID string) *Settings {
	if st, ok := s.projects[projectID]; ok {
		return st
	}
	st := &Settings{
		Enabled:   s.defaults.Enabled,
		Limit:     s.defaults.Limit,
		Remaining: s.defaults.Limit,
	}
	s.projects[projectID] = st
	return st
}

func (s *MemoryStore) CheckAndDecrement(ctx context.Context, projectID string) (bool, bool, error) {
	if err := ctx.Err(); err != nil {
		return false, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.settingsLocked(projectID)
	if !st.Enabled {
		return true, false, nil
	}
	if st.Remaining <= 0 {
		return false, false, nil
	}
	st.Remaining--
	return true, st.Remaining == 0, nil
}

func (s *MemoryStore) GetSettings(ctx context.Context, projectID string) (Settings, error) {
	if err := ctx.Err(); err != nil {
		return Settings{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return *s.settingsLocked(projectID), nil
}

func (s *MemoryStore) UpdateSettings(ctx context.Context, projectID string, limit *int, enabled *bool) (Settings, error) {
	if err := ctx.Err(); err != nil {
		return Settings{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.settingsLocked(projectID)
	if limit != nil {
		if *limit < 0 {
			return Settings{}, fmt.Errorf("governor: limit must be >= 0, got %d", *limit)
		}
		st.Limit = *limit
		st.Remaining = *limit
	}
	if enabled != nil {
		st.Enabled = *enabled
	}
	return *st, nil
}
