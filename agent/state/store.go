package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrStateNotFound  = errors.New("conversation state not found")
	ErrNilState       = errors.New("conversation state is nil")
	ErrInvalidSession = errors.New("session id is empty")
)

// Store is the checkpoint contract: one ConversationState per session id.
// Implementations validate on load, so a corrupt checkpoint never reaches a
// turn.
type Store interface {
	Load(ctx context.Context, sessionID string) (*ConversationState, error)
	Save(ctx context.Context, st *ConversationState) error
	Delete(ctx context.Context, sessionID string) error
}

func encodeState(st *ConversationState) ([]byte, error) {
	if st == nil {
		return nil, ErrNilState
	}
	if strings.TrimSpace(st.SessionID) == "" {
		return nil, ErrInvalidSession
	}
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = time.Now()
	}
	st.UpdatedAt = st.UpdatedAt.UTC()

	payload, err := json.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("marshal conversation state %s: %w", st.SessionID, err)
	}
	return payload, nil
}

func decodeState(raw []byte) (*ConversationState, error) {
	var st ConversationState
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("unmarshal conversation state: %w", err)
	}
	if err := st.Validate(); err != nil {
		return nil, fmt.Errorf("checkpoint %s: %w", st.SessionID, err)
	}
	return &st, nil
}
