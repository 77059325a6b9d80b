package state

import (
	"context"
	"strings"
	"sync"
)

// MemoryStore keeps encoded checkpoints in process. Used for local runs
// without Upstash and in tests.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (m *MemoryStore) Load(_ context.Context, sessionID string) (*ConversationState, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, ErrInvalidSession
	}
	m.mu.RLock()
	raw, ok := m.data[sessionID]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrStateNotFound
	}
	return decodeState(raw)
}

func (m *MemoryStore) Save(_ context.Context, st *ConversationState) error {
	payload, err := encodeState(st)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.data[st.SessionID] = payload
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, sessionID string) error {
	m.mu.Lock()
	delete(m.data, sessionID)
	m.mu.Unlock()
	return nil
}
