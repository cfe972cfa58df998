package messaging

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Stream name helpers. Remote expert handlers consume their own call
// stream and publish results to the caller node's reply stream.
const (
	callStreamPrefix  = "vera:experts:calls:"
	replyStreamPrefix = "vera:experts:replies:"
	HeartbeatStream   = "vera:heartbeats"
	DLQStream         = "vera:experts:dlq"
)

// CallStream returns the stream a remote handler consumes calls from.
func CallStream(handler string) string {
	return callStreamPrefix + handler
}

// ReplyStream returns the stream a node consumes replies on.
func ReplyStream(node string) string {
	return replyStreamPrefix + node
}

// CallMessage represents a request to a remote expert handler.
type CallMessage struct {
	ID      string            `json:"id"`
	From    string            `json:"from"`
	Handler string            `json:"handler"`
	Args    map[string]string `json:"args"`
	ReplyTo string            `json:"reply_to"`
	Created time.Time         `json:"created"`
}

// NewCallMessage creates a call message with a generated ID.
func NewCallMessage(from, handler string, args map[string]string, replyTo string) *CallMessage {
	return &CallMessage{
		ID:      uuid.New().String(),
		From:    from,
		Handler: handler,
		Args:    args,
		ReplyTo: replyTo,
		Created: time.Now(),
	}
}

// ToRedisValues converts the call to Redis Stream values
func (m *CallMessage) ToRedisValues() (map[string]interface{}, error) {
	args, err := json.Marshal(m.Args)
	if err != nil {
		return nil, fmt.Errorf("marshal args: %w", err)
	}
	return map[string]interface{}{
		"id":       m.ID,
		"from":     m.From,
		"handler":  m.Handler,
		"args":     string(args),
		"reply_to": m.ReplyTo,
		"created":  m.Created.Format(time.RFC3339Nano),
	}, nil
}

// CallFromRedisValues reconstructs a call from Redis Stream values
func CallFromRedisValues(values map[string]interface{}) (*CallMessage, error) {
	m := &CallMessage{
		ID:      stringValue(values, "id"),
		From:    stringValue(values, "from"),
		Handler: stringValue(values, "handler"),
		ReplyTo: stringValue(values, "reply_to"),
	}
	if m.ID == "" || m.Handler == "" {
		return nil, fmt.Errorf("call message missing id or handler")
	}
	if raw := stringValue(values, "args"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &m.Args); err != nil {
			return nil, fmt.Errorf("unmarshal args: %w", err)
		}
	}
	if raw := stringValue(values, "created"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("parse created: %w", err)
		}
		m.Created = t
	}
	return m, nil
}

// ResultMessage represents the outcome of a remote expert call.
type ResultMessage struct {
	CallID     string    `json:"call_id"`
	Handler    string    `json:"handler"`
	Success    bool      `json:"success"`
	Payload    string    `json:"payload"`
	ErrorKind  string    `json:"error_kind,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	Created    time.Time `json:"created"`
}

// ToRedisValues converts the result to Redis Stream values
func (m *ResultMessage) ToRedisValues() map[string]interface{} {
	return map[string]interface{}{
		"call_id":     m.CallID,
		"handler":     m.Handler,
		"success":     strconv.FormatBool(m.Success),
		"payload":     m.Payload,
		"error_kind":  m.ErrorKind,
		"duration_ms": strconv.FormatInt(m.DurationMs, 10),
		"created":     m.Created.Format(time.RFC3339Nano),
	}
}

// ResultFromRedisValues reconstructs a result from Redis Stream values
func ResultFromRedisValues(values map[string]interface{}) (*ResultMessage, error) {
	m := &ResultMessage{
		CallID:    stringValue(values, "call_id"),
		Handler:   stringValue(values, "handler"),
		Payload:   stringValue(values, "payload"),
		ErrorKind: stringValue(values, "error_kind"),
	}
	if m.CallID == "" {
		return nil, fmt.Errorf("result message missing call_id")
	}
	if raw := stringValue(values, "success"); raw != "" {
		ok, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("parse success: %w", err)
		}
		m.Success = ok
	}
	if raw := stringValue(values, "duration_ms"); raw != "" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse duration_ms: %w", err)
		}
		m.DurationMs = ms
	}
	if raw := stringValue(values, "created"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("parse created: %w", err)
		}
		m.Created = t
	}
	return m, nil
}

func stringValue(values map[string]interface{}, key string) string {
	if v, ok := values[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
