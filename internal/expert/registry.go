package expert

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/verahub/vera-core/internal/metrics"
)

// Registry holds the set of expert handlers. Handlers are registered
// during startup and the registry is then frozen; the lookup path never
// takes a write lock after that.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	frozen   bool
	tracker  *Tracker
}

// NewRegistry creates an empty handler registry.
func NewRegistry(tracker *Tracker) *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
		tracker:  tracker,
	}
}

// Register adds a handler. It fails after Freeze or on a duplicate name.
func (r *Registry) Register(h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return fmt.Errorf("registry frozen, cannot register %q", h.Name())
	}
	if _, exists := r.handlers[h.Name()]; exists {
		return fmt.Errorf("handler %q already registered", h.Name())
	}
	r.handlers[h.Name()] = h
	return nil
}

// RegisterAll registers each handler in order, stopping on the first error.
func (r *Registry) RegisterAll(handlers ...Handler) error {
	for _, h := range handlers {
		if err := r.Register(h); err != nil {
			return err
		}
	}
	return nil
}

// Freeze marks the registry immutable. Further Register calls fail.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Names returns the registered handler names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Call dispatches to the named handler, recording duration metrics and
// health outcomes. An unknown handler is a failed Result, not a panic.
func (r *Registry) Call(ctx context.Context, name, scope string, args map[string]string) *Result {
	r.mu.RLock()
	h, ok := r.handlers[name]
	r.mu.RUnlock()

	if !ok {
		return failure(name, ErrKindUnknownHandler, fmt.Sprintf("no handler named %q", name), 0)
	}

	start := time.Now()
	result := h.Call(ctx, scope, args)
	took := time.Since(start)
	if result.Duration == 0 {
		result.Duration = took
	}

	metrics.ExpertCallDuration.WithLabelValues(name).Observe(took.Seconds())
	if r.tracker != nil {
		r.tracker.Record(name, result.Success, result.ErrorKind)
	}
	return result
}
