package recovery

import "sync"

// MemoryStore is a goroutine-safe in-memory session Store.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*Session)}
}

func (s *MemoryStore) SaveSession(sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *sess
	cp.Steps = append([]Step(nil), sess.Steps...)
	s.sessions[sess.ID] = &cp
	return nil
}

func (s *MemoryStore) GetSession(id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	cp := *sess
	cp.Steps = append([]Step(nil), sess.Steps...)
	return &cp, nil
}

func (s *MemoryStore) ListSessions(executionID string) ([]*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Session
	for _, sess := range s.sessions {
		if executionID != "" && sess.ExecutionID != executionID {
			continue
		}
		cp := *sess
		cp.Steps = append([]Step(nil), sess.Steps...)
		out = append(out, &cp)
	}
	return out, nil
}
