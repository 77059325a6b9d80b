package contract

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	statex "github.com/tanpawarit/fredie-agent/agent/state"
)

// HandlerRequest is the read-only view of a conversation a handler answers from.
type HandlerRequest struct {
	Handler        statex.HandlerID    `json:"handler"`
	SessionID      string              `json:"session_id"`
	Identity       statex.Identity     `json:"identity"`
	ProfileSummary string              `json:"profile_summary"`
	AvatarStyle    string              `json:"avatar_style"`
	Time           statex.TimeContext  `json:"time_context"`
	Task           *statex.TaskContext `json:"task_context,omitempty"`
	Messages       []statex.Entry      `json:"messages"`
}

// HandlerResponse carries exactly one of: a user-facing message, capability
// requests, or a route directive.
type HandlerResponse struct {
	Message            string              `json:"message,omitempty"`
	CapabilityRequests []CapabilityRequest `json:"capability_requests,omitempty"`
	Route              *RouteDirective     `json:"route,omitempty"`
}

func (r HandlerResponse) IsControl() bool {
	return r.Route != nil
}

type CapabilityRequest struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// RouteDirective asks the orchestrator to hand the conversation to Target,
// or to return to the previous handler when Back is set.
type RouteDirective struct {
	Target statex.HandlerID `json:"target,omitempty"`
	Back   bool             `json:"back,omitempty"`
}

func (d RouteDirective) StackOp() statex.StackOp {
	if d.Back {
		return statex.PopOp()
	}
	return statex.PushOp(d.Target)
}

/* ------------------------------ Capabilities ----------------------------- */

type ResultKind uint8

const (
	ResultFound ResultKind = iota
	ResultEmpty
	ResultError
)

func (k ResultKind) String() string {
	switch k {
	case ResultFound:
		return "found"
	case ResultEmpty:
		return "empty"
	default:
		return "error"
	}
}

// CapabilityResult is the typed outcome of one capability request.
type CapabilityResult struct {
	RequestID string     `json:"request_id"`
	Name      string     `json:"name"`
	Kind      ResultKind `json:"kind"`
	Text      string     `json:"text,omitempty"`
	Reason    string     `json:"reason,omitempty"`

	// Side effects the orchestrator applies to the conversation state.
	Task           *statex.TaskContext `json:"-"`
	ProfileChanged bool                `json:"-"`
}

func Found(text string) CapabilityResult {
	return CapabilityResult{Kind: ResultFound, Text: text}
}

func Empty(reason string) CapabilityResult {
	return CapabilityResult{Kind: ResultEmpty, Reason: reason}
}

func Failed(reason string) CapabilityResult {
	return CapabilityResult{Kind: ResultError, Reason: reason}
}

// Render is the text handed back to the model for this result.
func (r CapabilityResult) Render() string {
	switch r.Kind {
	case ResultFound:
		return r.Text
	case ResultEmpty:
		if r.Reason == "" {
			return "EMPTY"
		}
		return "EMPTY::" + r.Reason
	default:
		return "ERROR::" + r.Reason
	}
}

// Scope identifies who is executing capabilities and on whose behalf.
type Scope struct {
	Caller      string              `json:"caller"`
	SessionID   string              `json:"session_id"`
	IdentityKey string              `json:"identity_key,omitempty"`
	Timezone    string              `json:"timezone,omitempty"`
	Task        *statex.TaskContext `json:"task_context,omitempty"`
}

/* ------------------------------ Identification --------------------------- */

// StringList decodes either a JSON array or a single scalar; a scalar becomes
// a one-element list.
type StringList []string

func (l *StringList) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "" || raw == "null" {
		*l = nil
		return nil
	}
	if strings.HasPrefix(raw, "[") {
		var items []any
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}
		out := make([]string, 0, len(items))
		for _, it := range items {
			if s := scalarString(it); s != "" {
				out = append(out, s)
			}
		}
		*l = out
		return nil
	}
	var single any
	if err := json.Unmarshal(data, &single); err != nil {
		return err
	}
	*l = CoerceList(single)
	return nil
}

// CoerceList turns a scalar or list value into a clean list of strings.
func CoerceList(v any) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case []string:
		return trimAll(t)
	case StringList:
		return trimAll(t)
	case []any:
		out := make([]string, 0, len(t))
		for _, it := range t {
			if s := scalarString(it); s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		if s := scalarString(t); s != "" {
			return []string{s}
		}
		return nil
	}
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

// FlexInt accepts 5, 5.0 or "5".
type FlexInt int

func (n *FlexInt) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if raw == "" || raw == "null" {
		*n = 0
		return nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		*n = 0
		return nil
	}
	*n = FlexInt(int(f))
	return nil
}

type ExtractRequest struct {
	Awaiting statex.AwaitingField `json:"awaiting"`
	Texts    []string             `json:"texts"`
	Draft    statex.ProfileDraft  `json:"draft"`
}

// ExtractedProfile holds whatever identity and registration fields the user
// supplied so far. Empty fields mean "not provided".
type ExtractedProfile struct {
	Name      string     `json:"name,omitempty"`
	Email     string     `json:"email,omitempty"`
	Career    string     `json:"career,omitempty"`
	Semester  FlexInt    `json:"semester,omitempty"`
	Skills    StringList `json:"skills,omitempty"`
	Goals     StringList `json:"goals,omitempty"`
	Interests StringList `json:"interests,omitempty"`
}

/* ------------------------------ Classification --------------------------- */

type ClassifyRequest struct {
	LatestMessage  string           `json:"latest_message"`
	ProfileSummary string           `json:"profile_summary"`
	Current        statex.HandlerID `json:"current,omitempty"`
	History        []statex.Entry   `json:"history,omitempty"`
}

/* ------------------------------ Persistence ------------------------------ */

// TurnRecord is one persisted chat row.
type TurnRecord struct {
	SessionID   string      `json:"session_id"`
	Role        statex.Role `json:"role"`
	Content     string      `json:"content"`
	IdentityKey string      `json:"identity_key,omitempty"`
	At          time.Time   `json:"at"`
}

// SessionMetadata is the per-session configuration stored next to the chat.
type SessionMetadata struct {
	ChatType  string `json:"chat_type,omitempty"`
	ProjectID string `json:"project_id,omitempty"`
}

/* ------------------------------ Turn entry point ------------------------- */

// TurnOverrides are per-call knobs; unset fields fall back to config or
// session metadata.
type TurnOverrides struct {
	AvatarID        string `json:"avatar_id,omitempty"`
	WidgetMode      string `json:"widget_mode,omitempty"`
	Personality     string `json:"widget_personality,omitempty"`
	Notes           string `json:"widget_notes,omitempty"`
	RequireIdentity *bool  `json:"require_identity,omitempty"`
	ChatType        string `json:"chat_type,omitempty"`
	ProjectID       string `json:"project_id,omitempty"`
}

type TurnInput struct {
	SessionID    string         `json:"session_id"`
	Text         string         `json:"text"`
	IdentityHint string         `json:"identity_hint,omitempty"`
	TimeZone     string         `json:"time_zone,omitempty"`
	Overrides    *TurnOverrides `json:"overrides,omitempty"`
}

type Terminal string

const (
	TerminalEnd       Terminal = "END"
	TerminalAwaitUser Terminal = "AWAIT_USER"
)

type TurnOutput struct {
	Reply            string   `json:"reply"`
	SessionID        string   `json:"session_id"`
	IdentityVerified bool     `json:"identity_verified"`
	SessionTitle     string   `json:"session_title,omitempty"`
	Terminal         Terminal `json:"terminal"`
}

/* ------------------------------ Agents ----------------------------------- */

// AgentType names every model-backed component for per-agent configuration.
type AgentType string

const (
	AgentRouter         AgentType = "router"
	AgentIdentification AgentType = "identification"
	AgentSummary        AgentType = "summary"
	AgentGeneral        AgentType = AgentType(statex.HandlerGeneral)
	AgentEducation      AgentType = AgentType(statex.HandlerEducation)
	AgentLab            AgentType = AgentType(statex.HandlerLab)
	AgentIndustrial     AgentType = AgentType(statex.HandlerIndustrial)
)
