package llm

import (
	"context"
	"sync"
)

// SessionManager manages multiple conversation histories isolated by session ID.
// All histories share one HistoryStore backend.
type SessionManager struct {
	histories map[string]*ChatHistory
	store     HistoryStore
	mu        sync.RWMutex
}

// NewSessionManager initializes a SessionManager with a persistence backend.
// store may be nil for ephemeral sessions.
func NewSessionManager(store HistoryStore) *SessionManager {
	return &SessionManager{
		histories: make(map[string]*ChatHistory),
		store:     store,
	}
}

// GetHistory retrieves an existing ChatHistory for a session or creates/loads a new one.
func (sm *SessionManager) GetHistory(ctx context.Context, sessionID string) (*ChatHistory, error) {
	sm.mu.RLock()
	h, ok := sm.histories[sessionID]
	sm.mu.RUnlock()

	if ok {
		return h, nil
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	// Double check under lock
	if h, ok = sm.histories[sessionID]; ok {
		return h, nil
	}

	h = NewChatHistory(sm.store, sessionID)
	if err := h.Load(ctx); err != nil {
		return nil, err
	}

	sm.histories[sessionID] = h
	return h, nil
}

// SaveSession persists a specific session's history through the store.
func (sm *SessionManager) SaveSession(ctx context.Context, sessionID string) error {
	sm.mu.RLock()
	h, ok := sm.histories[sessionID]
	sm.mu.RUnlock()

	if !ok {
		return nil
	}
	return h.Save(ctx)
}

// ListSessions returns all known session keys from the store, including
// sessions not currently loaded in memory.
func (sm *SessionManager) ListSessions(ctx context.Context) ([]string, error) {
	if sm.store == nil {
		sm.mu.RLock()
		defer sm.mu.RUnlock()
		keys := make([]string, 0, len(sm.histories))
		for k := range sm.histories {
			keys = append(keys, k)
		}
		return keys, nil
	}
	return sm.store.List(ctx)
}

// DropSession removes a session from memory and the store.
func (sm *SessionManager) DropSession(ctx context.Context, sessionID string) error {
	sm.mu.Lock()
	delete(sm.histories, sessionID)
	sm.mu.Unlock()

	if sm.store == nil {
		return nil
	}
	return sm.store.Delete(ctx, sessionID)
}

// Flush persists every loaded session. Called on shutdown.
func (sm *SessionManager) Flush(ctx context.Context) error {
	sm.mu.RLock()
	histories := make([]*ChatHistory, 0, len(sm.histories))
	for _, h := range sm.histories {
		histories = append(histories, h)
	}
	sm.mu.RUnlock()

	var firstErr error
	for _, h := range histories {
		if err := h.Save(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
