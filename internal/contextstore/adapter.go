package contextstore

import (
	"context"
	"errors"
)

// ErrUnavailable reports that the backing store could not be reached. Callers
// on the single-completion path treat this as fatal to the request; the
// orchestrator path degrades only the tasks that depend on the store.
var ErrUnavailable = errors.New("context store unavailable")

// Adapter is the thin interface to the external fact/memory store.
//
// Version returns a per-scope counter that increases monotonically on every
// write to that scope. The summary cache embeds it in its fingerprints so a
// stale summary is never served.
type Adapter interface {
	Search(ctx context.Context, q Query) ([]Record, error)
	Put(ctx context.Context, rec Record) error
	Version(ctx context.Context, scope string) (uint64, error)
	Close() error
}
