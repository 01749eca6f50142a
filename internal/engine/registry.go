package engine

import "sync"

// inflight tracks the control flags of one live execution loop. Pause and
// cancel requests made through the API are recorded here and honored by the
// loop at the next step boundary.
type inflight struct {
	mu sync.Mutex

	pauseRequested bool
	pauseReason    string

	cancelRequested bool
	cancelReason    string
}

func (in *inflight) requestPause(reason string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.pauseRequested = true
	in.pauseReason = reason
}

func (in *inflight) requestCancel(reason string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.cancelRequested = true
	in.cancelReason = reason
}

// takePause consumes a pending pause request, if any.
func (in *inflight) takePause() (string, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if !in.pauseRequested {
		return "", false
	}
	in.pauseRequested = false
	return in.pauseReason, true
}

// takeCancel consumes a pending cancel request, if any.
func (in *inflight) takeCancel() (string, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if !in.cancelRequested {
		return "", false
	}
	in.cancelRequested = false
	return in.cancelReason, true
}

// registry tracks which executions have a live loop driving them. At most
// one goroutine may own an execution at a time; acquire fails for an ID
// that is already owned, which is what prevents a double resume.
type registry struct {
	mu   sync.Mutex
	live map[string]*inflight
}

func newRegistry() *registry {
	return &registry{live: make(map[string]*inflight)}
}

func (r *registry) acquire(id string) (*inflight, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.live[id]; ok {
		return nil, false
	}
	in := &inflight{}
	r.live[id] = in
	return in, true
}

func (r *registry) release(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.live, id)
}

func (r *registry) get(id string) (*inflight, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	in, ok := r.live[id]
	return in, ok
}
