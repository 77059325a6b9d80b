package state

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ConversationState is the checkpointed source-of-truth of one conversation.
// Every Store.Load decodes a fresh copy, so a turn mutates its own value and
// saves it only when the turn reaches END or AWAIT_USER; a cancelled turn
// drops it.
// - Routing: RoutingStack (append/pop only) + HandoffPending
// - Identification: Identity + AwaitingUserInfo + Draft
type ConversationState struct {
	SessionID string  `json:"session_id"`
	Messages  []Entry `json:"messages,omitempty"`

	// Identity
	Identity       Identity      `json:"identity"`
	ProfileSummary string        `json:"profile_summary,omitempty"`
	AwaitingInfo   AwaitingField `json:"awaiting_user_info,omitempty"`
	Draft          *ProfileDraft `json:"draft,omitempty"`

	Time TimeContext `json:"time_context"`

	// Routing
	RoutingStack   []HandlerID `json:"routing_stack,omitempty"` // LIFO: handoff/return
	HandoffPending bool        `json:"handoff_pending,omitempty"`

	Task *TaskContext `json:"task_context,omitempty"`

	AvatarStyle  string `json:"avatar_style,omitempty"`
	SessionTitle string `json:"session_title,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Role string

const (
	RoleUser       Role = "user"
	RoleHandler    Role = "handler"
	RoleCapability Role = "capability"
)

// SpeakerIdentification marks entries produced by the identification gate.
const SpeakerIdentification = "identification"

// Entry is one element of the append-only conversation log. A handler entry
// carrying Call is a capability request; it must be followed immediately by
// exactly one capability entry with the same RequestID.
type Entry struct {
	Role       Role            `json:"role"`
	Speaker    string          `json:"speaker,omitempty"`
	Content    string          `json:"content,omitempty"`
	Call       *CapabilityCall `json:"call,omitempty"`
	RequestID  string          `json:"request_id,omitempty"`
	Capability string          `json:"capability,omitempty"`
	Outcome    string          `json:"outcome,omitempty"`
	At         time.Time       `json:"at"`
}

type CapabilityCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

func (e Entry) IsRequest() bool {
	return e.Role == RoleHandler && e.Call != nil
}

type Identity struct {
	Verified bool   `json:"verified"`
	Key      string `json:"key,omitempty"` // email
	Name     string `json:"name,omitempty"`
}

type AwaitingField string

const (
	AwaitingNone      AwaitingField = ""
	AwaitingNameEmail AwaitingField = "name_email"
	AwaitingProfile   AwaitingField = "profile"
)

// ProfileDraft accumulates identity and registration fields across turns
// until the gate can check or register the user.
type ProfileDraft struct {
	Name      string   `json:"name,omitempty"`
	Email     string   `json:"email,omitempty"`
	Career    string   `json:"career,omitempty"`
	Semester  int      `json:"semester,omitempty"`
	Skills    []string `json:"skills,omitempty"`
	Goals     []string `json:"goals,omitempty"`
	Interests []string `json:"interests,omitempty"`
}

type TimeContext struct {
	Timezone string `json:"timezone,omitempty"`
	NowLocal string `json:"now_local,omitempty"`
	NowUTC   string `json:"now_utc,omitempty"`
	NowHuman string `json:"now_human,omitempty"`
}

const TaskModePractice = "practice"

type TaskContext struct {
	Mode       string `json:"mode,omitempty"`
	ProjectID  string `json:"project_id,omitempty"`
	TaskID     string `json:"task_id,omitempty"`
	StepNumber int    `json:"step_number,omitempty"`
	Completed  bool   `json:"completed,omitempty"`
}

func (t *TaskContext) IsPractice() bool {
	return t != nil && strings.EqualFold(strings.TrimSpace(t.Mode), TaskModePractice)
}

var (
	ErrInvalidHandler    = errors.New("invalid handler id")
	ErrUnmatchedRequest  = errors.New("capability request without matching result")
	ErrIdentityInvariant = errors.New("identity invariant violated")
	ErrEmptyStack        = errors.New("routing stack is empty")
)

func NewConversationState(sessionID string, now time.Time) *ConversationState {
	return &ConversationState{
		SessionID: sessionID,
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}
}

func (s *ConversationState) Touch(now time.Time) {
	s.UpdatedAt = now.UTC()
}

func (s *ConversationState) Append(entries ...Entry) {
	s.Messages = append(s.Messages, entries...)
}

/* ---------------------------- Routing stack ----------------------------- */

// PushHandler appends a handler to the routing stack.
func (s *ConversationState) PushHandler(h HandlerID) error {
	if !h.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidHandler, h)
	}
	s.RoutingStack = append(s.RoutingStack, h)
	return nil
}

// PopHandler removes the top handler and returns the new active one. Popping
// an empty stack is a no-op that yields DefaultHandler.
func (s *ConversationState) PopHandler() HandlerID {
	if len(s.RoutingStack) == 0 {
		return DefaultHandler
	}
	s.RoutingStack = s.RoutingStack[:len(s.RoutingStack)-1]
	return s.ActiveHandler()
}

// PeekHandler peeks at top of stack.
func (s *ConversationState) PeekHandler() (HandlerID, bool) {
	if s == nil || len(s.RoutingStack) == 0 {
		return "", false
	}
	return s.RoutingStack[len(s.RoutingStack)-1], true
}

// ActiveHandler is top() with DefaultHandler for an empty stack.
func (s *ConversationState) ActiveHandler() HandlerID {
	if top, ok := s.PeekHandler(); ok {
		return top
	}
	return DefaultHandler
}

func (s *ConversationState) ApplyStackOp(op StackOp) error {
	switch op.Kind {
	case StackPush:
		return s.PushHandler(op.Handler)
	case StackPop:
		s.PopHandler()
		return nil
	default:
		return nil
	}
}

/* ------------------------------ Identity -------------------------------- */

// MarkVerified resolves the identification gate.
func (s *ConversationState) MarkVerified(key, name, summary string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("%w: verified identity requires a key", ErrIdentityInvariant)
	}
	s.Identity = Identity{Verified: true, Key: key, Name: strings.TrimSpace(name)}
	s.AwaitingInfo = AwaitingNone
	s.Draft = nil
	if strings.TrimSpace(summary) != "" {
		s.ProfileSummary = summary
	}
	return nil
}

func (s *ConversationState) EnsureDraft() *ProfileDraft {
	if s.Draft == nil {
		s.Draft = &ProfileDraft{}
	}
	return s.Draft
}

/* ------------------------------ Messages -------------------------------- */

// LatestUserText returns the content of the most recent user entry.
func (s *ConversationState) LatestUserText() string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == RoleUser {
			return s.Messages[i].Content
		}
	}
	return ""
}

// FirstUserText returns the first user entry, used for session titles.
func (s *ConversationState) FirstUserText() string {
	for _, m := range s.Messages {
		if m.Role == RoleUser && strings.TrimSpace(m.Content) != "" {
			return m.Content
		}
	}
	return ""
}

// UserTexts returns user entries after index from (inclusive).
func (s *ConversationState) UserTexts(from int) []string {
	if from < 0 {
		from = 0
	}
	var out []string
	for i := from; i < len(s.Messages); i++ {
		if s.Messages[i].Role == RoleUser {
			out = append(out, s.Messages[i].Content)
		}
	}
	return out
}

// UnmatchedRequests lists capability requests that are not immediately
// followed by their result.
func (s *ConversationState) UnmatchedRequests() []string {
	var out []string
	for i, m := range s.Messages {
		if !m.IsRequest() {
			continue
		}
		if i+1 >= len(s.Messages) {
			out = append(out, m.Call.ID)
			continue
		}
		next := s.Messages[i+1]
		if next.Role != RoleCapability || next.RequestID != m.Call.ID {
			out = append(out, m.Call.ID)
		}
	}
	return out
}

/* ------------------------------ Validation ------------------------------ */

func (s *ConversationState) Validate() error {
	if strings.TrimSpace(s.SessionID) == "" {
		return ErrInvalidSession
	}
	if s.Identity.Verified && strings.TrimSpace(s.Identity.Key) == "" {
		return fmt.Errorf("%w: verified without key", ErrIdentityInvariant)
	}
	if s.Identity.Verified && s.AwaitingInfo != AwaitingNone {
		return fmt.Errorf("%w: verified while awaiting %s", ErrIdentityInvariant, s.AwaitingInfo)
	}
	if s.Identity.Verified && len(s.RoutingStack) == 0 {
		return fmt.Errorf("%w: verified conversation", ErrEmptyStack)
	}
	for _, h := range s.RoutingStack {
		if !h.Valid() {
			return fmt.Errorf("%w: stack has %q", ErrInvalidHandler, h)
		}
	}
	if ids := s.UnmatchedRequests(); len(ids) > 0 {
		return fmt.Errorf("%w: %s", ErrUnmatchedRequest, strings.Join(ids, ","))
	}
	return nil
}
