package orchestratornode

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	contractx "github.com/tanpawarit/fredie-agent/agent/contract"
	statex "github.com/tanpawarit/fredie-agent/agent/state"
)

var (
	ErrInvalidMessage = errors.New("message is empty")
	ErrTurnCancelled  = errors.New("turn cancelled")
)

type GraphInput = contractx.TurnInput

type GraphOutput = contractx.TurnOutput

// GraphState is threaded through every node of one turn. Session is the
// working copy of the checkpoint; it is saved only when the turn completes.
type GraphState struct {
	SessionID    string
	Text         string
	IdentityHint string
	TimeZone     string
	Overrides    contractx.TurnOverrides
	Now          time.Time

	Session *statex.ConversationState
	// TurnStart indexes the first log entry appended by this turn.
	TurnStart int
	// Anonymous is set when identity is not required for this turn.
	Anonymous bool

	Handler   statex.HandlerID
	Reply     string
	Terminal  contractx.Terminal
	Cancelled bool
}

// Awaiting reports whether the gate suspended the turn.
func (s *GraphState) Awaiting() bool {
	return s.Terminal == contractx.TerminalAwaitUser
}

func ValidateRequest(in GraphInput, nowFn func() time.Time) (*GraphState, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil, ErrInvalidMessage
	}

	st := &GraphState{
		SessionID:    NormalizeSessionID(in.SessionID),
		Text:         text,
		IdentityHint: strings.TrimSpace(in.IdentityHint),
		TimeZone:     strings.TrimSpace(in.TimeZone),
		Now:          nowFn().UTC(),
		Terminal:     contractx.TerminalEnd,
	}
	if in.Overrides != nil {
		st.Overrides = *in.Overrides
	}
	return st, nil
}

// NormalizeSessionID keeps a UUID, maps any other non-empty id to a stable
// UUIDv5 and mints a new UUIDv4 for an empty one.
func NormalizeSessionID(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return uuid.NewString()
	}
	if id, err := uuid.Parse(raw); err == nil {
		return id.String()
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(raw)).String()
}
