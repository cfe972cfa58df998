package expert

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verahub/vera-core/internal/contextstore"
)

type fakeStore struct {
	records []contextstore.Record
	putErr  error
}

func (s *fakeStore) Search(ctx context.Context, q contextstore.Query) ([]contextstore.Record, error) {
	return nil, nil
}

func (s *fakeStore) Put(ctx context.Context, rec contextstore.Record) error {
	if s.putErr != nil {
		return s.putErr
	}
	s.records = append(s.records, rec)
	return nil
}

func (s *fakeStore) Version(ctx context.Context, scope string) (uint64, error) {
	return uint64(len(s.records)), nil
}

func (s *fakeStore) Close() error { return nil }

func TestListWrite(t *testing.T) {
	store := &fakeStore{}
	h := NewListWrite(store)

	result := h.Call(context.Background(), "user:alice", map[string]string{
		"item": "milk",
		"list": "shopping",
	})

	require.True(t, result.Success)
	require.Len(t, store.records, 1)
	assert.Equal(t, contextstore.KindListItem, store.records[0].Kind)
	assert.Equal(t, "shopping", store.records[0].Key)
	assert.Equal(t, "milk", store.records[0].Value)
	assert.Equal(t, "user:alice", store.records[0].Scope)
	assert.Contains(t, result.Payload, "milk")
}

func TestListWriteMissingArg(t *testing.T) {
	h := NewListWrite(&fakeStore{})

	result := h.Call(context.Background(), "user:alice", map[string]string{"list": "shopping"})

	assert.False(t, result.Success)
	assert.Equal(t, ErrKindInvalidArgument, result.ErrorKind)
}

func TestMemoryWrite(t *testing.T) {
	store := &fakeStore{}
	h := NewMemoryWrite(store)

	result := h.Call(context.Background(), "user:alice", map[string]string{
		"note": "my sister's birthday is in June",
	})

	require.True(t, result.Success)
	require.Len(t, store.records, 1)
	assert.Equal(t, contextstore.KindPersonalFact, store.records[0].Kind)
	assert.Equal(t, "my-sister's-birthday-is", store.records[0].Key)
}

func TestDeviceControlRejectsBadState(t *testing.T) {
	h := NewDeviceControl(&fakeStore{})

	result := h.Call(context.Background(), "user:alice", map[string]string{
		"device": "kitchen light",
		"state":  "sideways",
	})

	assert.False(t, result.Success)
	assert.Equal(t, ErrKindInvalidArgument, result.ErrorKind)
}

func TestBuiltinStoreUnavailable(t *testing.T) {
	store := &fakeStore{putErr: fmt.Errorf("search: %w", contextstore.ErrUnavailable)}
	h := NewListWrite(store)

	result := h.Call(context.Background(), "user:alice", map[string]string{
		"item": "milk",
		"list": "shopping",
	})

	assert.False(t, result.Success)
	assert.Equal(t, ErrKindUnavailable, result.ErrorKind)
}

func TestBuiltinStoreError(t *testing.T) {
	store := &fakeStore{putErr: errors.New("disk full")}
	h := NewMemoryWrite(store)

	result := h.Call(context.Background(), "user:alice", map[string]string{"note": "x"})

	assert.False(t, result.Success)
	assert.Equal(t, ErrKindHandlerError, result.ErrorKind)
}

func TestRegistryFreeze(t *testing.T) {
	reg := NewRegistry(nil)
	store := &fakeStore{}

	require.NoError(t, reg.Register(NewListWrite(store)))
	reg.Freeze()

	err := reg.Register(NewMemoryWrite(store))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "frozen")
}

func TestRegistryDuplicate(t *testing.T) {
	reg := NewRegistry(nil)
	store := &fakeStore{}

	require.NoError(t, reg.Register(NewListWrite(store)))
	assert.Error(t, reg.Register(NewListWrite(store)))
}

func TestRegistryUnknownHandler(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Freeze()

	result := reg.Call(context.Background(), "nope", "user:alice", nil)

	assert.False(t, result.Success)
	assert.Equal(t, ErrKindUnknownHandler, result.ErrorKind)
}

func TestRegistryTracksHealth(t *testing.T) {
	tracker := NewTracker()
	reg := NewRegistry(tracker)
	require.NoError(t, reg.RegisterAll(NewListWrite(&fakeStore{})))
	reg.Freeze()

	reg.Call(context.Background(), "list-write", "user:alice", map[string]string{
		"item": "milk", "list": "shopping",
	})
	reg.Call(context.Background(), "list-write", "user:alice", nil)

	status, ok := tracker.HandlerStatus("list-write")
	require.True(t, ok)
	assert.Equal(t, "degraded", status.Status)
	assert.Len(t, status.History, 2)
}

func TestTrackerBoundedHistory(t *testing.T) {
	tracker := NewTracker()
	for i := 0; i < 25; i++ {
		tracker.Record("x", false, ErrKindTimeout)
	}

	status, ok := tracker.HandlerStatus("x")
	require.True(t, ok)
	assert.Len(t, status.History, historySize)
	assert.Equal(t, "down", status.Status)
}

type deadNodes struct{}

func (deadNodes) HandlerAlive(string) bool { return false }

func TestRemoteHandlerUnavailableWhenNoLiveNode(t *testing.T) {
	h := NewRemoteHandler("music-control", "core-1", nil, nil, nil, time.Second, nil).
		WithAvailability(deadNodes{})

	result := h.Call(context.Background(), "user:alice", map[string]string{"action": "play"})
	require.False(t, result.Success)
	assert.Equal(t, ErrKindUnavailable, result.ErrorKind)
}
