package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/fredie-agent/agent/contract"
)

// Recorder writes turn rows and the owning session row.
type Recorder struct {
	chats ChatStore
	now   func() time.Time
}

var _ contractx.Recorder = (*Recorder)(nil)

func NewRecorder(chats ChatStore) (*Recorder, error) {
	if chats == nil {
		return nil, errors.New("chat store is required")
	}
	return &Recorder{chats: chats, now: time.Now}, nil
}

func (r *Recorder) RecordTurn(ctx context.Context, rec contractx.TurnRecord) error {
	if strings.TrimSpace(rec.SessionID) == "" {
		return fmt.Errorf("%w: session id is required", ErrInvalidInput)
	}
	at := rec.At
	if at.IsZero() {
		at = r.now()
	}
	at = at.UTC()

	if err := r.chats.UpsertSession(ctx, &ChatSession{
		ID:        rec.SessionID,
		UserEmail: strings.TrimSpace(rec.IdentityKey),
		StartedAt: at,
	}); err != nil {
		return err
	}
	return r.chats.InsertMessage(ctx, &ChatMessage{
		SessionID: rec.SessionID,
		Role:      string(rec.Role),
		Content:   rec.Content,
		CreatedAt: at,
	})
}

// RecordTitle stores the display title on the session row.
func (r *Recorder) RecordTitle(ctx context.Context, sessionID, title string) error {
	if strings.TrimSpace(sessionID) == "" || strings.TrimSpace(title) == "" {
		return nil
	}
	return r.chats.UpsertSession(ctx, &ChatSession{
		ID:        sessionID,
		StartedAt: r.now().UTC(),
		Title:     title,
	})
}

// SessionMetadata returns the stored metadata, or zero metadata for a
// session that has no row yet.
func (r *Recorder) SessionMetadata(ctx context.Context, sessionID string) (contractx.SessionMetadata, error) {
	sess, err := r.chats.GetSession(ctx, sessionID)
	if errors.Is(err, ErrNotFound) {
		return contractx.SessionMetadata{}, nil
	}
	if err != nil {
		return contractx.SessionMetadata{}, err
	}
	return contractx.SessionMetadata{
		ChatType:  sess.Metadata.ChatType,
		ProjectID: sess.Metadata.ProjectID,
	}, nil
}
