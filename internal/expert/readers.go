package expert

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/verahub/vera-core/internal/contextstore"
)

// NewContextSearch creates the context-search expert: looks up records in
// the context store and returns them as formatted lines. Task graphs use
// it for read steps (calendar lookups, fact retrieval).
func NewContextSearch(store contextstore.Adapter) Handler {
	return &builtinHandler{
		name:  "context-search",
		store: store,
		run: func(ctx context.Context, h *builtinHandler, scope string, args map[string]string) *Result {
			query := args["query"]
			if query == "" {
				return missingArg(h.name, "query")
			}

			q := contextstore.Query{Scope: scope, Text: query, Limit: 10}
			if kind := args["kind"]; kind != "" {
				q.Kinds = []string{kind}
			}

			records, err := h.store.Search(ctx, q)
			if err != nil {
				kind := ErrKindHandlerError
				if errors.Is(err, contextstore.ErrUnavailable) {
					kind = ErrKindUnavailable
				}
				return failure(h.name, kind, fmt.Sprintf("store search failed: %v", err), 0)
			}

			if len(records) == 0 {
				return &Result{Handler: h.name, Success: true, Payload: "nothing found for " + query}
			}

			var b strings.Builder
			for i, rec := range records {
				if i > 0 {
					b.WriteByte('\n')
				}
				fmt.Fprintf(&b, "- [%s] %s: %s", rec.Kind, rec.Key, rec.Value)
			}
			return &Result{Handler: h.name, Success: true, Payload: b.String()}
		},
	}
}

// CompleteFunc is the completion call a completion-step expert wraps.
type CompleteFunc func(ctx context.Context, prompt string) (string, error)

// completionStep runs one generative step inside a task graph.
type completionStep struct {
	complete CompleteFunc
}

// NewCompletionStep creates the completion-step expert. Task graphs use
// it for steps that need generated text rather than a store operation.
func NewCompletionStep(complete CompleteFunc) Handler {
	return &completionStep{complete: complete}
}

func (h *completionStep) Name() string { return "completion-step" }

func (h *completionStep) Call(ctx context.Context, scope string, args map[string]string) *Result {
	start := time.Now()

	prompt := args["prompt"]
	if prompt == "" {
		prompt = args["query"]
	}
	if prompt == "" {
		return missingArg(h.Name(), "prompt")
	}

	text, err := h.complete(ctx, prompt)
	took := time.Since(start)
	if err != nil {
		kind := ErrKindHandlerError
		if ctx.Err() != nil {
			kind = ErrKindTimeout
		}
		return failure(h.Name(), kind, fmt.Sprintf("completion failed: %v", err), took)
	}

	return &Result{Handler: h.Name(), Success: true, Payload: text, Duration: took}
}
