package expert

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/verahub/vera-core/internal/contextstore"
)

// builtinHandler is the common shape of the in-process experts backed by
// the context store.
type builtinHandler struct {
	name  string
	store contextstore.Adapter
	run   func(ctx context.Context, h *builtinHandler, scope string, args map[string]string) *Result
}

func (h *builtinHandler) Name() string { return h.name }

func (h *builtinHandler) Call(ctx context.Context, scope string, args map[string]string) *Result {
	start := time.Now()
	result := h.run(ctx, h, scope, args)
	result.Duration = time.Since(start)
	return result
}

func (h *builtinHandler) put(ctx context.Context, rec contextstore.Record) *Result {
	if err := h.store.Put(ctx, rec); err != nil {
		kind := ErrKindHandlerError
		if errors.Is(err, contextstore.ErrUnavailable) {
			kind = ErrKindUnavailable
		}
		return failure(h.name, kind, fmt.Sprintf("store write failed: %v", err), 0)
	}
	return &Result{Handler: h.name, Success: true}
}

func missingArg(handler, arg string) *Result {
	return failure(handler, ErrKindInvalidArgument, fmt.Sprintf("missing argument %q", arg), 0)
}

// NewListWrite creates the list-write expert: appends an item to a named
// list in the context store.
func NewListWrite(store contextstore.Adapter) Handler {
	return &builtinHandler{
		name:  "list-write",
		store: store,
		run: func(ctx context.Context, h *builtinHandler, scope string, args map[string]string) *Result {
			item, list := args["item"], args["list"]
			if item == "" {
				return missingArg(h.name, "item")
			}
			if list == "" {
				return missingArg(h.name, "list")
			}
			result := h.put(ctx, contextstore.Record{
				Scope:     scope,
				Kind:      contextstore.KindListItem,
				Key:       list,
				Value:     item,
				Source:    "list-write",
				Relevance: 0.5,
				UpdatedAt: time.Now(),
			})
			if result.Success {
				result.Payload = fmt.Sprintf("added %q to the %s list", item, list)
			}
			return result
		},
	}
}

// NewMemoryWrite creates the memory-write expert: stores a free-form
// personal fact.
func NewMemoryWrite(store contextstore.Adapter) Handler {
	return &builtinHandler{
		name:  "memory-write",
		store: store,
		run: func(ctx context.Context, h *builtinHandler, scope string, args map[string]string) *Result {
			note := args["note"]
			if note == "" {
				return missingArg(h.name, "note")
			}
			result := h.put(ctx, contextstore.Record{
				Scope:     scope,
				Kind:      contextstore.KindPersonalFact,
				Key:       noteKey(note),
				Value:     note,
				Source:    "memory-write",
				Relevance: 0.8,
				UpdatedAt: time.Now(),
			})
			if result.Success {
				result.Payload = "noted"
			}
			return result
		},
	}
}

// noteKey derives a short stable key from the first words of a note.
func noteKey(note string) string {
	words := strings.Fields(strings.ToLower(note))
	if len(words) > 4 {
		words = words[:4]
	}
	return strings.Join(words, "-")
}

// NewCalendarWrite creates the calendar-write expert: records an event
// with a title and a time expression.
func NewCalendarWrite(store contextstore.Adapter) Handler {
	return &builtinHandler{
		name:  "calendar-write",
		store: store,
		run: func(ctx context.Context, h *builtinHandler, scope string, args map[string]string) *Result {
			title, when := args["title"], args["when"]
			if title == "" {
				return missingArg(h.name, "title")
			}
			value := title
			if when != "" {
				value = fmt.Sprintf("%s (%s)", title, when)
			}
			result := h.put(ctx, contextstore.Record{
				Scope:     scope,
				Kind:      contextstore.KindCalendarItem,
				Key:       noteKey(title),
				Value:     value,
				Source:    "calendar-write",
				Relevance: 0.6,
				UpdatedAt: time.Now(),
			})
			if result.Success {
				result.Payload = fmt.Sprintf("scheduled %q", value)
			}
			return result
		},
	}
}

// NewDeviceControl creates the device-control expert: records the desired
// state of a named device. Actual actuation happens downstream of the
// store; the core only records intent.
func NewDeviceControl(store contextstore.Adapter) Handler {
	return &builtinHandler{
		name:  "device-control",
		store: store,
		run: func(ctx context.Context, h *builtinHandler, scope string, args map[string]string) *Result {
			device, state := args["device"], args["state"]
			if device == "" {
				return missingArg(h.name, "device")
			}
			if state != "on" && state != "off" {
				return failure(h.name, ErrKindInvalidArgument,
					fmt.Sprintf("state must be on or off, got %q", state), 0)
			}
			result := h.put(ctx, contextstore.Record{
				Scope:     scope,
				Kind:      contextstore.KindDeviceState,
				Key:       device,
				Value:     state,
				Source:    "device-control",
				Relevance: 0.4,
				UpdatedAt: time.Now(),
			})
			if result.Success {
				result.Payload = fmt.Sprintf("turned %s the %s", state, device)
			}
			return result
		},
	}
}

// RegisterBuiltins registers all in-process experts on the registry.
func RegisterBuiltins(reg *Registry, store contextstore.Adapter) error {
	return reg.RegisterAll(
		NewListWrite(store),
		NewMemoryWrite(store),
		NewCalendarWrite(store),
		NewDeviceControl(store),
		NewContextSearch(store),
	)
}
