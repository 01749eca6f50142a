// Package events provides a small in-process broadcast hub used to announce
// pause, resume, failure, and recovery progress to interested collaborators.
// Delivery is best-effort and never blocks the orchestration path.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the engine.
const (
	TypeExecutionStarted   = "execution.started"
	TypeExecutionPaused    = "execution.paused"
	TypeExecutionResumed   = "execution.resumed"
	TypeExecutionCompleted = "execution.completed"
	TypeExecutionFailed    = "execution.failed"
	TypeExecutionCancelled = "execution.cancelled"
	TypeHitlRequested      = "hitl.requested"
	TypeHitlResolved       = "hitl.resolved"
	TypeRecoveryStarted    = "recovery.started"
	TypeRecoveryStep       = "recovery.step"
	TypeRecoveryCompleted  = "recovery.completed"
)

// Event is one broadcast notification.
type Event struct {
	Type        string
	ProjectID   string
	ExecutionID string
	Payload     map[string]any
	At          time.Time
}

// Filter selects which events a subscriber receives. Zero values match
// everything.
type Filter struct {
	ProjectID   string
	ExecutionID string
	Types       []string
}

const defaultChannelBuffer = 64

type subscriber struct {
	ch     chan Event
	filter Filter
}

// Hub is an in-memory broadcast hub backed by buffered channels.
type Hub struct {
	mu   sync.RWMutex
	subs map[uint64]*subscriber
	seq  atomic.Uint64
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[uint64]*subscriber)}
}

// Publish sends an event to all matching subscribers.
// Non-blocking: if a subscriber's channel is full the event is dropped.
func (h *Hub) Publish(event Event) {
	if event.At.IsZero() {
		event.At = time.Now()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subs {
		if !matchFilter(sub.filter, event) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			// backpressure: drop event for slow subscriber
		}
	}
}

// Subscribe creates a new subscription for events matching the filter.
// It returns a receive-only channel and a cancel function that removes
// the subscription and must be called when done.
func (h *Hub) Subscribe(filter Filter) (<-chan Event, func()) {
	id := h.seq.Add(1)
	ch := make(chan Event, defaultChannelBuffer)

	h.mu.Lock()
	h.subs[id] = &subscriber{ch: ch, filter: filter}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
	}

	return ch, cancel
}

func matchFilter(f Filter, e Event) bool {
	if f.ProjectID != "" && f.ProjectID != e.ProjectID {
		return false
	}
	if f.ExecutionID != "" && f.ExecutionID != e.ExecutionID {
		return false
	}
	if len(f.Types) > 0 {
		found := false
		for _, t := range f.Types {
			if t == e.Type {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
