// ABOUTME: Context merge engine for per-session free-form JSON state
// ABOUTME: Serializes read-modify-write cycles so concurrent partial updates never clobber each other

package conversation

import (
	"context"
	"sync"
)

// ContextEngine applies partial updates to a session's context map.
//
// The stored context is an opaque blob to the rest of the system: the engine
// never interprets values, it only performs a shallow key-wise union (incoming
// keys overwrite, untouched keys survive). Because SQLite gives us no
// read-modify-write primitive for a JSON column, the whole cycle runs under a
// per-session advisory lock; merges on distinct sessions proceed in parallel.
type ContextEngine struct {
	store ConversationStore

	mu    sync.Mutex
	locks map[string]*sync.Mutex // session_id -> merge lock
}

// NewContextEngine creates a merge engine backed by the given store.
func NewContextEngine(store ConversationStore) *ContextEngine {
	return &ContextEngine{
		store: store,
		locks: make(map[string]*sync.Mutex),
	}
}

// sessionLock returns the advisory lock for a session, creating it on first use.
// Locks are never removed: sessions are soft-lifecycle only and the per-entry
// cost is one mutex.
func (e *ContextEngine) sessionLock(sessionID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()

	lock, ok := e.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[sessionID] = lock
	}
	return lock
}

// Merge applies a shallow key-wise union of partial onto the stored context
// and returns the resulting full map. Merges on the same session are mutually
// exclusive, so two concurrent merges of disjoint key sets both survive.
func (e *ContextEngine) Merge(ctx context.Context, ownerID, sessionID string, partial map[string]any) (map[string]any, error) {
	lock := e.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := e.store.GetSession(ctx, ownerID, sessionID)
	if err != nil {
		return nil, err
	}

	merged := make(map[string]any, len(session.Context)+len(partial))
	for k, v := range session.Context {
		merged[k] = v
	}
	for k, v := range partial {
		merged[k] = v
	}

	if err := e.store.SetContext(ctx, ownerID, sessionID, merged); err != nil {
		return nil, err
	}
	return merged, nil
}

// Get returns the stored context map, or an empty map if none is set.
// A context that fails to parse surfaces as store.ErrDataCorruption from the
// underlying lookup; it is never silently defaulted.
func (e *ContextEngine) Get(ctx context.Context, ownerID, sessionID string) (map[string]any, error) {
	session, err := e.store.GetSession(ctx, ownerID, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Context == nil {
		return map[string]any{}, nil
	}
	return session.Context, nil
}

// Clear drops the whole context map.
func (e *ContextEngine) Clear(ctx context.Context, ownerID, sessionID string) error {
	lock := e.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := e.store.GetSession(ctx, ownerID, sessionID); err != nil {
		return err
	}
	return e.store.SetContext(ctx, ownerID, sessionID, nil)
}
