package contextstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAdapter(t *testing.T) *SQLiteAdapter {
	t.Helper()
	a, err := NewSQLiteAdapter(filepath.Join(t.TempDir(), "vera.db"))
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestPutAndSearch(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	err := a.Put(ctx, Record{
		Scope: "alex", Kind: KindPersonalFact, Key: "name", Value: "Alex", Relevance: 0.9,
	})
	require.NoError(t, err)

	results, err := a.Search(ctx, Query{Scope: "alex", Text: "name"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Alex", results[0].Value)
	assert.Equal(t, KindPersonalFact, results[0].Kind)
}

func TestSearchKindFilter(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	require.NoError(t, a.Put(ctx, Record{Scope: "alex", Kind: KindPersonalFact, Key: "name", Value: "Alex"}))
	require.NoError(t, a.Put(ctx, Record{Scope: "alex", Kind: KindListItem, Key: "shopping", Value: "milk"}))

	results, err := a.Search(ctx, Query{Scope: "alex", Kinds: []string{KindListItem}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "milk", results[0].Value)
}

func TestSearchScopeIsolation(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	require.NoError(t, a.Put(ctx, Record{Scope: "alex", Kind: KindPersonalFact, Key: "name", Value: "Alex"}))

	results, err := a.Search(ctx, Query{Scope: "blake", Text: "name"})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestVersionAdvancesOnWrite(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	v0, err := a.Version(ctx, "alex")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), v0)

	require.NoError(t, a.Put(ctx, Record{Scope: "alex", Kind: KindListItem, Key: "shopping", Value: "milk"}))

	v1, err := a.Version(ctx, "alex")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), v1)

	// Writes to other scopes never touch this counter.
	require.NoError(t, a.Put(ctx, Record{Scope: "blake", Kind: KindListItem, Key: "shopping", Value: "eggs"}))

	v2, err := a.Version(ctx, "alex")
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
}

func TestPutUpsertsSameIdentity(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	require.NoError(t, a.Put(ctx, Record{Scope: "alex", Kind: KindPersonalFact, Key: "name", Value: "Alex", Relevance: 0.5}))
	require.NoError(t, a.Put(ctx, Record{Scope: "alex", Kind: KindPersonalFact, Key: "name", Value: "Alex", Relevance: 0.9}))

	results, err := a.Search(ctx, Query{Scope: "alex", Text: "Alex"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 0.9, results[0].Relevance)
}
