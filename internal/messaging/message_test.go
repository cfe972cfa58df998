package messaging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamNames(t *testing.T) {
	assert.Equal(t, "vera:experts:calls:list-write", CallStream("list-write"))
	assert.Equal(t, "vera:experts:replies:node-a", ReplyStream("node-a"))
}

func TestCallMessageRoundTrip(t *testing.T) {
	call := NewCallMessage("node-a", "list-write", map[string]string{
		"item": "milk",
		"list": "shopping",
	}, ReplyStream("node-a"))

	values, err := call.ToRedisValues()
	require.NoError(t, err)

	got, err := CallFromRedisValues(values)
	require.NoError(t, err)

	assert.Equal(t, call.ID, got.ID)
	assert.Equal(t, "node-a", got.From)
	assert.Equal(t, "list-write", got.Handler)
	assert.Equal(t, "milk", got.Args["item"])
	assert.Equal(t, "vera:experts:replies:node-a", got.ReplyTo)
	assert.WithinDuration(t, call.Created, got.Created, time.Millisecond)
}

func TestCallMessageMissingHandler(t *testing.T) {
	_, err := CallFromRedisValues(map[string]interface{}{"id": "x"})
	assert.Error(t, err)
}

func TestResultMessageRoundTrip(t *testing.T) {
	result := &ResultMessage{
		CallID:     "call-1",
		Handler:    "calendar-write",
		Success:    false,
		Payload:    "",
		ErrorKind:  "handler-error",
		DurationMs: 240,
		Created:    time.Now(),
	}

	got, err := ResultFromRedisValues(result.ToRedisValues())
	require.NoError(t, err)

	assert.Equal(t, "call-1", got.CallID)
	assert.False(t, got.Success)
	assert.Equal(t, "handler-error", got.ErrorKind)
	assert.Equal(t, int64(240), got.DurationMs)
}

func TestReplyRouterDispatch(t *testing.T) {
	r := NewReplyRouter(nil, "node-a", nil)

	ch := r.Register("call-1")
	r.dispatch(&ResultMessage{CallID: "call-1", Handler: "list-write", Success: true})

	select {
	case result := <-ch:
		assert.True(t, result.Success)
	default:
		t.Fatal("expected result on waiter channel")
	}
	assert.Equal(t, 0, r.Pending())
}

func TestReplyRouterLateReplyDiscarded(t *testing.T) {
	r := NewReplyRouter(nil, "node-a", nil)

	ch := r.Register("call-1")
	r.Unregister("call-1")

	// A reply after the caller gave up must not block or dispatch.
	r.dispatch(&ResultMessage{CallID: "call-1", Handler: "list-write", Success: true})

	select {
	case <-ch:
		t.Fatal("late reply should have been discarded")
	default:
	}
}

func TestHeartbeatHandlerAlive(t *testing.T) {
	m := NewHeartbeatMonitor(nil, "core-1", time.Minute, nil)

	m.observe(map[string]interface{}{
		"node":     "worker-1",
		"handlers": "music-control,weather",
		"created":  time.Now().Format(time.RFC3339Nano),
	})

	assert.True(t, m.HandlerAlive("music-control"))
	assert.True(t, m.HandlerAlive("weather"))
	assert.False(t, m.HandlerAlive("list-write"))
	assert.False(t, m.Alive("worker-2"))
	assert.True(t, m.Alive("worker-1"))
}

func TestHeartbeatStaleNodeNotAlive(t *testing.T) {
	m := NewHeartbeatMonitor(nil, "core-1", 0, nil)

	m.observe(map[string]interface{}{
		"node":     "worker-1",
		"handlers": "music-control",
	})
	time.Sleep(5 * time.Millisecond)

	assert.False(t, m.HandlerAlive("music-control"))
}
