package messaging

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Heartbeat represents a liveness announcement from a remote handler node.
type Heartbeat struct {
	Node     string
	Handlers []string
	Seen     time.Time
}

// HeartbeatMonitor tracks which remote handler nodes are alive by
// consuming the shared heartbeat stream.
type HeartbeatMonitor struct {
	client  *RedisClient
	node    string
	logger  *slog.Logger
	staleMs int64

	mu    sync.RWMutex
	nodes map[string]*Heartbeat
}

// NewHeartbeatMonitor creates a monitor. stale is how long since the last
// heartbeat before a node is considered down.
func NewHeartbeatMonitor(client *RedisClient, node string, stale time.Duration, logger *slog.Logger) *HeartbeatMonitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &HeartbeatMonitor{
		client:  client,
		node:    node,
		logger:  logger,
		staleMs: stale.Milliseconds(),
		nodes:   make(map[string]*Heartbeat),
	}
}

// Start consumes the heartbeat stream and publishes this node's own
// heartbeat on the given interval until ctx is cancelled.
func (h *HeartbeatMonitor) Start(ctx context.Context, interval time.Duration, localHandlers []string) error {
	msgs, err := h.client.Subscribe(ctx, HeartbeatStream, "vera-heartbeats-"+h.node, h.node)
	if err != nil {
		return err
	}

	go func() {
		for msg := range msgs {
			h.observe(msg.Values)
		}
	}()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			h.announce(ctx, localHandlers)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	return nil
}

func (h *HeartbeatMonitor) announce(ctx context.Context, handlers []string) {
	values := map[string]interface{}{
		"node":    h.node,
		"created": time.Now().Format(time.RFC3339Nano),
	}
	if len(handlers) > 0 {
		values["handlers"] = strings.Join(handlers, ",")
	}
	if _, err := h.client.Publish(ctx, HeartbeatStream, values); err != nil {
		h.logger.Warn("heartbeat publish failed", "error", err)
	}
}

func (h *HeartbeatMonitor) observe(values map[string]interface{}) {
	node := stringValue(values, "node")
	if node == "" || node == h.node {
		return
	}
	hb := &Heartbeat{Node: node, Seen: time.Now()}
	if raw := stringValue(values, "handlers"); raw != "" {
		hb.Handlers = strings.Split(raw, ",")
	}
	h.mu.Lock()
	h.nodes[node] = hb
	h.mu.Unlock()
}

// Alive reports whether the node sent a heartbeat within the stale window.
func (h *HeartbeatMonitor) Alive(node string) bool {
	h.mu.RLock()
	hb, ok := h.nodes[node]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	return time.Since(hb.Seen).Milliseconds() <= h.staleMs
}

// HandlerAlive reports whether any node whose heartbeat is still fresh
// advertises the named handler.
func (h *HeartbeatMonitor) HandlerAlive(handler string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, hb := range h.nodes {
		if time.Since(hb.Seen).Milliseconds() > h.staleMs {
			continue
		}
		for _, name := range hb.Handlers {
			if name == handler {
				return true
			}
		}
	}
	return false
}

// Nodes returns a snapshot of all observed nodes.
func (h *HeartbeatMonitor) Nodes() []Heartbeat {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Heartbeat, 0, len(h.nodes))
	for _, hb := range h.nodes {
		out = append(out, *hb)
	}
	return out
}
