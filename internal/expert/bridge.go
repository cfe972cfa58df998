package expert

import (
	"context"
	"log/slog"
	"time"

	"github.com/verahub/vera-core/internal/messaging"
)

// Availability reports whether any live remote node serves a handler.
type Availability interface {
	HandlerAlive(handler string) bool
}

// RemoteHandler proxies calls to an expert running in another process,
// over Redis Streams. The reply router correlates results by call ID;
// replies arriving after the deadline are dropped there.
type RemoteHandler struct {
	name    string
	node    string
	client  *messaging.RedisClient
	router  *messaging.ReplyRouter
	dlq     *messaging.DeadLetterQueue
	avail   Availability
	timeout time.Duration
	logger  *slog.Logger
}

// NewRemoteHandler creates a remote expert proxy. node is this process's
// node name, used as the reply address.
func NewRemoteHandler(name, node string, client *messaging.RedisClient, router *messaging.ReplyRouter, dlq *messaging.DeadLetterQueue, timeout time.Duration, logger *slog.Logger) *RemoteHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RemoteHandler{
		name:    name,
		node:    node,
		client:  client,
		router:  router,
		dlq:     dlq,
		timeout: timeout,
		logger:  logger,
	}
}

// WithAvailability installs a liveness gate consulted before dispatch.
func (h *RemoteHandler) WithAvailability(avail Availability) *RemoteHandler {
	h.avail = avail
	return h
}

func (h *RemoteHandler) Name() string { return h.name }

// Call publishes the request on the handler's call stream and waits for
// the correlated reply, the context, or the handler timeout, whichever
// comes first.
func (h *RemoteHandler) Call(ctx context.Context, scope string, args map[string]string) *Result {
	start := time.Now()

	if h.avail != nil && !h.avail.HandlerAlive(h.name) {
		return failure(h.name, ErrKindUnavailable, "no live node serves this handler", time.Since(start))
	}

	callArgs := make(map[string]string, len(args)+1)
	for k, v := range args {
		callArgs[k] = v
	}
	callArgs["scope"] = scope

	call := messaging.NewCallMessage(h.node, h.name, callArgs, messaging.ReplyStream(h.node))
	values, err := call.ToRedisValues()
	if err != nil {
		return failure(h.name, ErrKindHandlerError, err.Error(), time.Since(start))
	}

	replies := h.router.Register(call.ID)

	if _, err := h.client.Publish(ctx, messaging.CallStream(h.name), values); err != nil {
		h.router.Unregister(call.ID)
		if h.dlq != nil {
			if dlqErr := h.dlq.Add(ctx, call, "publish failed: "+err.Error(), 1); dlqErr != nil {
				h.logger.Warn("dlq add failed", "call_id", call.ID, "error", dlqErr)
			}
		}
		return failure(h.name, ErrKindUnavailable, "publish failed: "+err.Error(), time.Since(start))
	}

	timer := time.NewTimer(h.timeout)
	defer timer.Stop()

	select {
	case result := <-replies:
		return &Result{
			Handler:   h.name,
			Success:   result.Success,
			Payload:   result.Payload,
			ErrorKind: result.ErrorKind,
			Duration:  time.Since(start),
		}
	case <-timer.C:
		h.router.Unregister(call.ID)
		h.logger.Warn("remote expert timed out", "handler", h.name, "call_id", call.ID, "timeout", h.timeout)
		return failure(h.name, ErrKindTimeout, "no reply within deadline", time.Since(start))
	case <-ctx.Done():
		h.router.Unregister(call.ID)
		return failure(h.name, ErrKindTimeout, ctx.Err().Error(), time.Since(start))
	}
}
