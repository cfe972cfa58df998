package messaging

import (
	"context"
	"log/slog"
	"sync"
)

// ReplyRouter consumes a node's reply stream and dispatches results to the
// caller waiting on the matching call ID. A reply whose call ID has no
// waiter is discarded: the caller timed out or was cancelled first.
type ReplyRouter struct {
	client *RedisClient
	node   string
	logger *slog.Logger

	mu      sync.Mutex
	waiters map[string]chan *ResultMessage
}

// NewReplyRouter creates a reply router for the given node name.
func NewReplyRouter(client *RedisClient, node string, logger *slog.Logger) *ReplyRouter {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReplyRouter{
		client:  client,
		node:    node,
		logger:  logger,
		waiters: make(map[string]chan *ResultMessage),
	}
}

// Start begins consuming the node's reply stream until ctx is cancelled.
func (r *ReplyRouter) Start(ctx context.Context) error {
	msgs, err := r.client.Subscribe(ctx, ReplyStream(r.node), "vera-replies", r.node)
	if err != nil {
		return err
	}

	go func() {
		for msg := range msgs {
			result, err := ResultFromRedisValues(msg.Values)
			if err != nil {
				r.logger.Warn("malformed reply dropped", "stream_id", msg.ID, "error", err)
				continue
			}
			r.dispatch(result)
		}
	}()

	return nil
}

// Register returns a channel that receives the result for callID. The
// channel is buffered so a late dispatch never blocks the read loop.
func (r *ReplyRouter) Register(callID string) <-chan *ResultMessage {
	ch := make(chan *ResultMessage, 1)
	r.mu.Lock()
	r.waiters[callID] = ch
	r.mu.Unlock()
	return ch
}

// Unregister removes the waiter for callID. Callers must unregister after
// a timeout so late replies are dropped instead of leaking channels.
func (r *ReplyRouter) Unregister(callID string) {
	r.mu.Lock()
	delete(r.waiters, callID)
	r.mu.Unlock()
}

func (r *ReplyRouter) dispatch(result *ResultMessage) {
	r.mu.Lock()
	ch, ok := r.waiters[result.CallID]
	if ok {
		delete(r.waiters, result.CallID)
	}
	r.mu.Unlock()

	if !ok {
		r.logger.Debug("late reply discarded", "call_id", result.CallID, "handler", result.Handler)
		return
	}
	ch <- result
}

// Pending returns the number of calls still waiting for a reply.
func (r *ReplyRouter) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.waiters)
}
