package intent

import (
	"fmt"
	"log/slog"
)

// DeterministicAction is a fast-path result: one expert handler call with
// extracted arguments, bypassing the router and orchestrator entirely.
type DeterministicAction struct {
	Handler string
	Args    map[string]string
}

// Registry holds the closed, ordered set of fast-path templates. Templates
// must be mutually exclusive; overlap is rejected at registration time so
// matching never has to break a tie.
type Registry struct {
	templates []*Template
	logger    *slog.Logger
}

// NewRegistry creates an empty template registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register parses and adds a template. It fails if the pattern is malformed
// or if any input could match both this template and an existing one.
func (r *Registry) Register(pattern, handler string) error {
	t, err := ParseTemplate(pattern, handler)
	if err != nil {
		return err
	}
	for _, existing := range r.templates {
		if t.Overlaps(existing) {
			return fmt.Errorf("template %q overlaps registered template %q", pattern, existing.Pattern)
		}
	}
	r.templates = append(r.templates, t)
	return nil
}

// ClassifyFast matches the utterance against registered templates in order.
// The first match wins; by construction at most one template can match. The
// result depends only on the utterance text, never on conversation state.
func (r *Registry) ClassifyFast(utterance string) *DeterministicAction {
	for _, t := range r.templates {
		if args := t.Match(utterance); args != nil {
			r.logger.Debug("fast path hit", "template", t.Pattern, "handler", t.Handler)
			return &DeterministicAction{Handler: t.Handler, Args: args}
		}
	}
	return nil
}

// Len returns the number of registered templates.
func (r *Registry) Len() int {
	return len(r.templates)
}

// RegisterDefaults installs the canonical template set. Overlapping
// historical variants of these patterns are deliberately not carried; one
// conflict-checked registry replaces them.
func (r *Registry) RegisterDefaults() error {
	defaults := []struct {
		pattern string
		handler string
	}{
		{"add {item} to {list} list", "list-write"},
		{"remember that {note}", "memory-write"},
		{"turn {state} the {device}", "device-control"},
	}
	for _, d := range defaults {
		if err := r.Register(d.pattern, d.handler); err != nil {
			return err
		}
	}
	return nil
}
