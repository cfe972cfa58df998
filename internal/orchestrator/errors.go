package orchestrator

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidGraph reports a structurally malformed task graph.
	ErrInvalidGraph = errors.New("invalid task graph")
	// ErrCycleFound reports a dependency cycle.
	ErrCycleFound = errors.New("cycle detected")
)

// GraphValidationError wraps deterministic graph validation failures. It
// is always returned before any task has been scheduled.
type GraphValidationError struct {
	Kind error
	Msg  string
}

func (e *GraphValidationError) Error() string {
	if e == nil {
		return ""
	}
	if e.Msg == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Msg)
}

func (e *GraphValidationError) Unwrap() error { return e.Kind }

func invalidf(format string, args ...any) error {
	return &GraphValidationError{Kind: ErrInvalidGraph, Msg: fmt.Sprintf(format, args...)}
}

func cycleError(path []string) error {
	msg := "cycle"
	if len(path) > 0 {
		msg = "cycle: " + strings.Join(path, " -> ")
	}
	return &GraphValidationError{Kind: ErrCycleFound, Msg: msg}
}
