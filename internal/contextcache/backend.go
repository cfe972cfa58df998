package contextcache

import (
	"context"
	"sync"
	"time"
)

// Backend is the keyed get/set/expire store behind the summary cache. No
// transactional semantics are required; single-flight coordination happens at
// the cache layer.
type Backend interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// MemoryBackend is an in-process Backend. Entries are replaced wholesale,
// never patched; Reap drops expired entries to bound memory.
type MemoryBackend struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	clock   func() time.Time
}

// NewMemoryBackend creates an in-process backend with an injected clock.
func NewMemoryBackend(clock func() time.Time) *MemoryBackend {
	if clock == nil {
		clock = time.Now
	}
	return &MemoryBackend{
		entries: make(map[string]memoryEntry),
		clock:   clock,
	}
}

// Get returns the value for key if present and not expired.
func (b *MemoryBackend) Get(ctx context.Context, key string) (string, bool, error) {
	b.mu.RLock()
	entry, ok := b.entries[key]
	b.mu.RUnlock()

	if !ok || b.clock().After(entry.expiresAt) {
		return "", false, nil
	}
	return entry.value, true, nil
}

// Set stores value under key with the given TTL.
func (b *MemoryBackend) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[key] = memoryEntry{
		value:     value,
		expiresAt: b.clock().Add(ttl),
	}
	return nil
}

// Delete removes key.
func (b *MemoryBackend) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, key)
	return nil
}

// Reap removes all expired entries and returns how many were dropped.
func (b *MemoryBackend) Reap() int {
	now := b.clock()
	b.mu.Lock()
	defer b.mu.Unlock()

	dropped := 0
	for key, entry := range b.entries {
		if now.After(entry.expiresAt) {
			delete(b.entries, key)
			dropped++
		}
	}
	return dropped
}

// Len returns the number of live plus expired entries currently held.
func (b *MemoryBackend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}
