package expert

import (
	"context"
	"time"
)

// Error kinds reported by expert handlers. Callers use these to decide
// whether a failure is retryable and how to phrase it to the user.
const (
	ErrKindHandlerError    = "handler-error"
	ErrKindTimeout         = "handler-timeout"
	ErrKindUnavailable     = "handler-unavailable"
	ErrKindUnknownHandler  = "unknown-handler"
	ErrKindInvalidArgument = "invalid-argument"
)

// Result represents the outcome of an expert handler call. A failed call
// still returns a Result so callers see the error kind and duration; the
// error return is reserved for infrastructure faults.
type Result struct {
	Handler   string
	Success   bool
	Payload   string
	ErrorKind string
	Duration  time.Duration
}

// Handler is the uniform contract every expert implements, whether it
// runs in-process or behind the message bus.
type Handler interface {
	// Name returns the handler's registry name.
	Name() string
	// Call executes the handler for the given scope with string args.
	Call(ctx context.Context, scope string, args map[string]string) *Result
}

// failure builds a failed Result for the given handler and error kind.
func failure(handler, kind, payload string, took time.Duration) *Result {
	return &Result{
		Handler:   handler,
		Success:   false,
		Payload:   payload,
		ErrorKind: kind,
		Duration:  took,
	}
}
