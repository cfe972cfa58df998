package expert

import (
	"sync"
	"time"
)

const historySize = 10

// CallOutcome represents one recorded handler call for health tracking.
type CallOutcome struct {
	Timestamp time.Time `json:"timestamp"`
	Success   bool      `json:"success"`
	ErrorKind string    `json:"error_kind,omitempty"`
}

// HandlerStatus represents a handler's recent health.
type HandlerStatus struct {
	Name    string        `json:"name"`
	Status  string        `json:"status"`
	History []CallOutcome `json:"history"`
}

// Tracker keeps a bounded outcome history per handler. A handler is "up"
// when its most recent call succeeded, "degraded" while recent calls are
// mixed, and "down" when the whole window failed.
type Tracker struct {
	mu       sync.RWMutex
	statuses map[string]*HandlerStatus
}

// NewTracker creates an empty health tracker.
func NewTracker() *Tracker {
	return &Tracker{statuses: make(map[string]*HandlerStatus)}
}

// Record appends one call outcome for the handler.
func (t *Tracker) Record(handler string, success bool, errorKind string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	status, ok := t.statuses[handler]
	if !ok {
		status = &HandlerStatus{Name: handler}
		t.statuses[handler] = status
	}

	status.History = append(status.History, CallOutcome{
		Timestamp: time.Now(),
		Success:   success,
		ErrorKind: errorKind,
	})
	if len(status.History) > historySize {
		status.History = status.History[1:]
	}
	status.Status = classify(status.History)
}

func classify(history []CallOutcome) string {
	failures := 0
	for _, o := range history {
		if !o.Success {
			failures++
		}
	}
	switch {
	case failures == 0:
		return "up"
	case failures == len(history):
		return "down"
	default:
		return "degraded"
	}
}

// Status returns a snapshot of all tracked handlers.
func (t *Tracker) Status() map[string]HandlerStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]HandlerStatus, len(t.statuses))
	for name, s := range t.statuses {
		copied := *s
		copied.History = append([]CallOutcome(nil), s.History...)
		out[name] = copied
	}
	return out
}

// HandlerStatus returns the health of one handler, if tracked.
func (t *Tracker) HandlerStatus(name string) (HandlerStatus, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s, ok := t.statuses[name]
	if !ok {
		return HandlerStatus{}, false
	}
	copied := *s
	copied.History = append([]CallOutcome(nil), s.History...)
	return copied, true
}
