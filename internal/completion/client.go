package completion

import (
	"context"
	"errors"
)

// ErrUnavailable reports that the completion backend could not be reached.
// On the single-completion path this is fatal to the request; on the
// orchestrator path it degrades only the tasks that depend on it.
var ErrUnavailable = errors.New("completion backend unavailable")

// Request represents a completion request
type Request struct {
	Prompt      string
	Model       string
	Temperature float64
	MaxTokens   int
}

// Response represents a completion response
type Response struct {
	Content    string
	Model      string
	TokensUsed int
	Lane       string
}

// Client is the interface for completion providers. Implementations must
// honor context cancellation so per-call timeouts cancel the in-flight call.
type Client interface {
	Complete(ctx context.Context, req *Request) (*Response, error)
	Health(ctx context.Context) error
}
