package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// DLQEntry represents a call that could not be delivered to its handler.
type DLQEntry struct {
	Call     *CallMessage
	Reason   string
	Attempts int
	Failed   time.Time
}

// DeadLetterQueue stores undeliverable expert calls on a dedicated stream
// for later inspection.
type DeadLetterQueue struct {
	client *RedisClient
	logger *slog.Logger
}

// NewDeadLetterQueue creates a DLQ backed by the shared Redis client.
func NewDeadLetterQueue(client *RedisClient, logger *slog.Logger) *DeadLetterQueue {
	if logger == nil {
		logger = slog.Default()
	}
	return &DeadLetterQueue{client: client, logger: logger}
}

// Add records an undeliverable call on the DLQ stream.
func (d *DeadLetterQueue) Add(ctx context.Context, call *CallMessage, reason string, attempts int) error {
	values, err := call.ToRedisValues()
	if err != nil {
		return fmt.Errorf("encode call: %w", err)
	}
	values["dlq_reason"] = reason
	values["dlq_attempts"] = fmt.Sprintf("%d", attempts)
	values["dlq_failed"] = time.Now().Format(time.RFC3339Nano)

	if _, err := d.client.Publish(ctx, DLQStream, values); err != nil {
		return fmt.Errorf("publish to dlq: %w", err)
	}

	d.logger.Warn("call moved to dead letter queue",
		"call_id", call.ID,
		"handler", call.Handler,
		"reason", reason,
		"attempts", attempts)
	return nil
}

// Entries reads up to count recent DLQ entries, newest first.
func (d *DeadLetterQueue) Entries(ctx context.Context, count int64) ([]DLQEntry, error) {
	msgs, err := d.client.RawClient().XRevRangeN(ctx, DLQStream, "+", "-", count).Result()
	if err != nil {
		return nil, fmt.Errorf("read dlq: %w", err)
	}

	entries := make([]DLQEntry, 0, len(msgs))
	for _, msg := range msgs {
		call, err := CallFromRedisValues(msg.Values)
		if err != nil {
			d.logger.Warn("malformed dlq entry skipped", "stream_id", msg.ID, "error", err)
			continue
		}
		entry := DLQEntry{Call: call, Reason: stringValue(msg.Values, "dlq_reason")}
		if raw := stringValue(msg.Values, "dlq_attempts"); raw != "" {
			fmt.Sscanf(raw, "%d", &entry.Attempts)
		}
		if raw := stringValue(msg.Values, "dlq_failed"); raw != "" {
			if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
				entry.Failed = t
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
