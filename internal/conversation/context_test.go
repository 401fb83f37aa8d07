// ABOUTME: Tests for the context merge engine
// ABOUTME: Covers shallow union semantics and lost-update safety under concurrency

package conversation

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/internal/store"
)

func newTestEngine(t *testing.T) (*ContextEngine, *store.SQLiteStore) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return NewContextEngine(st), st
}

func seedSession(t *testing.T, st *store.SQLiteStore, ownerID, sessionID string) {
	t.Helper()
	require.NoError(t, st.CreateSession(context.Background(), &store.Session{
		SessionID: sessionID,
		OwnerID:   ownerID,
		Status:    store.SessionStatusActive,
	}))
}

func TestMerge_ShallowUnion(t *testing.T) {
	engine, st := newTestEngine(t)
	seedSession(t, st, "alice", "s1")
	ctx := context.Background()

	merged, err := engine.Merge(ctx, "alice", "s1", map[string]any{"mood": "curious", "lang": "en"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"mood": "curious", "lang": "en"}, merged)

	// Incoming keys overwrite, untouched keys survive
	merged, err = engine.Merge(ctx, "alice", "s1", map[string]any{"mood": "tired"})
	require.NoError(t, err)
	assert.Equal(t, "tired", merged["mood"])
	assert.Equal(t, "en", merged["lang"])
}

func TestMerge_NestedValuesReplacedWhole(t *testing.T) {
	engine, st := newTestEngine(t)
	seedSession(t, st, "alice", "s1")
	ctx := context.Background()

	_, err := engine.Merge(ctx, "alice", "s1", map[string]any{
		"prefs": map[string]any{"theme": "dark", "size": "large"},
	})
	require.NoError(t, err)

	// The union is shallow: a nested map is swapped out, not deep-merged
	merged, err := engine.Merge(ctx, "alice", "s1", map[string]any{
		"prefs": map[string]any{"theme": "light"},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"theme": "light"}, merged["prefs"])
}

func TestMerge_UnknownSession(t *testing.T) {
	engine, _ := newTestEngine(t)

	_, err := engine.Merge(context.Background(), "alice", "missing", map[string]any{"k": "v"})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMerge_ForeignOwnerLooksMissing(t *testing.T) {
	engine, st := newTestEngine(t)
	seedSession(t, st, "alice", "s1")

	_, err := engine.Merge(context.Background(), "bob", "s1", map[string]any{"k": "v"})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMerge_EmptyPartialIsNoOp(t *testing.T) {
	engine, st := newTestEngine(t)
	seedSession(t, st, "alice", "s1")
	ctx := context.Background()

	_, err := engine.Merge(ctx, "alice", "s1", map[string]any{"k": "v"})
	require.NoError(t, err)

	merged, err := engine.Merge(ctx, "alice", "s1", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"k": "v"}, merged)
}

func TestGet_EmptyMapWhenUnset(t *testing.T) {
	engine, st := newTestEngine(t)
	seedSession(t, st, "alice", "s1")

	got, err := engine.Get(context.Background(), "alice", "s1")
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestClear(t *testing.T) {
	engine, st := newTestEngine(t)
	seedSession(t, st, "alice", "s1")
	ctx := context.Background()

	_, err := engine.Merge(ctx, "alice", "s1", map[string]any{"k": "v"})
	require.NoError(t, err)

	require.NoError(t, engine.Clear(ctx, "alice", "s1"))

	got, err := engine.Get(ctx, "alice", "s1")
	require.NoError(t, err)
	assert.Empty(t, got)

	assert.ErrorIs(t, engine.Clear(ctx, "alice", "missing"), store.ErrNotFound)
}

func TestMerge_ConcurrentDisjointKeysBothSurvive(t *testing.T) {
	engine, st := newTestEngine(t)
	seedSession(t, st, "alice", "s1")
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("key%d", i)
			_, errs[i] = engine.Merge(ctx, "alice", "s1", map[string]any{key: i})
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	got, err := engine.Get(ctx, "alice", "s1")
	require.NoError(t, err)
	assert.Len(t, got, n, "no merge lost to a concurrent read-modify-write")
	for i := 0; i < n; i++ {
		assert.Contains(t, got, fmt.Sprintf("key%d", i))
	}
}
