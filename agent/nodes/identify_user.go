package orchestratornode

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/fredie-agent/agent/contract"
	statex "github.com/tanpawarit/fredie-agent/agent/state"
	storex "github.com/tanpawarit/fredie-agent/agent/store"
	"github.com/tanpawarit/fredie-agent/agent/tool"
)

// IdentifyUser runs the identification gate. It either verifies the user and
// lets the turn continue to routing, or appends a single prompt and suspends
// the turn with AWAIT_USER.
//
// Flow: collect name+email -> checkIdentity -> (NOT_FOUND) collect profile
// -> registerIdentity -> verified.
func IdentifyUser(
	ctx context.Context,
	in *GraphState,
	extractor contractx.Extractor,
	gateway contractx.CapabilityGateway,
) (*GraphState, error) {
	if in == nil || in.Session == nil {
		return nil, fmt.Errorf("%w: graph session is nil", contractx.ErrValidation)
	}
	st := in.Session
	if st.Identity.Verified {
		return in, nil
	}
	if in.Anonymous && st.AwaitingInfo == statex.AwaitingNone && in.IdentityHint == "" {
		return in, nil
	}

	g := &gate{in: in, st: st, gateway: gateway}
	draft := st.EnsureDraft()

	byHint := false
	if hint := in.IdentityHint; hint != "" {
		if strings.Contains(hint, "@") {
			draft.Email = strings.ToLower(hint)
			byHint = true
		} else if draft.Name == "" {
			draft.Name = hint
		}
	}
	correctable := st.AwaitingInfo != statex.AwaitingNone && !byHint
	if mergeDraft(draft, g.extract(ctx, extractor), correctable) && st.AwaitingInfo == statex.AwaitingProfile {
		// A corrected email is a new key and must be looked up again.
		st.AwaitingInfo = statex.AwaitingNameEmail
	}

	if draft.Email == "" || (draft.Name == "" && !byHint) {
		reply := contractx.ReplyAskNameEmail
		if st.AwaitingInfo == statex.AwaitingNameEmail {
			reply = contractx.ReplyAskNameEmailOnly
		}
		st.AwaitingInfo = statex.AwaitingNameEmail
		return g.await(reply), nil
	}

	justNotFound := false
	if st.AwaitingInfo != statex.AwaitingProfile {
		res := g.call(ctx, tool.CapCheckIdentity, map[string]any{"key": draft.Email})
		switch res.Kind {
		case contractx.ResultFound:
			return g.verify(ctx, draft.Email, res.Text)
		case contractx.ResultEmpty:
			st.AwaitingInfo = statex.AwaitingProfile
			justNotFound = true
		default:
			return g.await(contractx.ReplyIdentifyRetry), nil
		}
	}

	if missing := tool.MissingRegistrationFields(draftStudent(draft)); len(missing) > 0 {
		if justNotFound && draft.Name != "" {
			return g.await(contractx.ReplyAskProfile), nil
		}
		return g.await(contractx.ReplyAskMissing(missing)), nil
	}

	res := g.call(ctx, tool.CapRegisterIdentity, draftArgs(draft))
	if res.Kind == contractx.ResultFound {
		return g.verify(ctx, draft.Email, res.Text)
	}
	if res.Reason == tool.ReasonDuplicate {
		if again := g.call(ctx, tool.CapCheckIdentity, map[string]any{"key": draft.Email}); again.Kind == contractx.ResultFound {
			return g.verify(ctx, draft.Email, again.Text)
		}
	}
	return g.await(contractx.ReplyIdentifyRetry), nil
}

type gate struct {
	in      *GraphState
	st      *statex.ConversationState
	gateway contractx.CapabilityGateway
}

func (g *gate) scope() contractx.Scope {
	return contractx.Scope{
		Caller:    tool.CallerIdentification,
		SessionID: g.st.SessionID,
		Timezone:  g.st.Time.Timezone,
	}
}

func (g *gate) extract(ctx context.Context, extractor contractx.Extractor) contractx.ExtractedProfile {
	if extractor == nil {
		return contractx.ExtractedProfile{}
	}
	var draft statex.ProfileDraft
	if g.st.Draft != nil {
		draft = *g.st.Draft
	}
	out, err := extractor.Extract(ctx, contractx.ExtractRequest{
		Awaiting: g.st.AwaitingInfo,
		Texts:    []string{g.in.Text},
		Draft:    draft,
	})
	if err != nil {
		log.Warn().Err(err).Str("session_id", g.st.SessionID).Msg("identity extraction degraded to fallback")
	}
	return out
}

// call executes one gate capability and logs the request/result pair.
func (g *gate) call(ctx context.Context, name string, args map[string]any) contractx.CapabilityResult {
	req := contractx.CapabilityRequest{ID: "call_" + uuid.NewString(), Name: name, Args: args}
	g.st.Append(statex.Entry{
		Role:    statex.RoleHandler,
		Speaker: statex.SpeakerIdentification,
		Call:    &statex.CapabilityCall{ID: req.ID, Name: name, Args: args},
		At:      g.in.Now,
	})

	res := contractx.Failed("no result")
	if results := g.gateway.Execute(ctx, g.scope(), []contractx.CapabilityRequest{req}); len(results) == 1 {
		res = results[0]
	}
	g.st.Append(statex.Entry{
		Role:       statex.RoleCapability,
		Speaker:    statex.SpeakerIdentification,
		RequestID:  req.ID,
		Capability: name,
		Content:    res.Render(),
		Outcome:    res.Kind.String(),
		At:         g.in.Now,
	})
	if res.Kind == contractx.ResultError {
		log.Warn().Str("session_id", g.st.SessionID).Str("capability", name).Str("reason", res.Reason).Msg("identification capability failed")
	}
	return res
}

func (g *gate) verify(ctx context.Context, key, name string) (*GraphState, error) {
	summary := contractx.DefaultProfileSummary
	results := g.gateway.Execute(ctx, g.scope(), []contractx.CapabilityRequest{{
		ID:   "call_" + uuid.NewString(),
		Name: tool.CapGetProfileSummary,
		Args: map[string]any{"key": key},
	}})
	if len(results) == 1 && results[0].Kind == contractx.ResultFound {
		summary = results[0].Text
	}
	if strings.TrimSpace(name) == "" && g.st.Draft != nil {
		name = g.st.Draft.Name
	}
	if err := g.st.MarkVerified(key, name, summary); err != nil {
		return nil, err
	}
	log.Info().Str("session_id", g.st.SessionID).Msg("identity verified")
	return g.in, nil
}

func (g *gate) await(reply string) *GraphState {
	g.st.Append(statex.Entry{
		Role:    statex.RoleHandler,
		Speaker: statex.SpeakerIdentification,
		Content: reply,
		At:      g.in.Now,
	})
	g.in.Reply = reply
	g.in.Terminal = contractx.TerminalAwaitUser
	return g.in
}

// mergeDraft fills draft fields from p without overwriting what the user
// already gave, except lists which grow. When emailCorrectable is set a new
// email replaces the draft one. It reports whether a set email was replaced.
func mergeDraft(draft *statex.ProfileDraft, p contractx.ExtractedProfile, emailCorrectable bool) bool {
	if draft.Name == "" {
		draft.Name = strings.TrimSpace(p.Name)
	}
	replaced := false
	switch email := strings.ToLower(strings.TrimSpace(p.Email)); {
	case email == "" || email == draft.Email:
	case draft.Email == "":
		draft.Email = email
	case emailCorrectable:
		draft.Email = email
		replaced = true
	}
	if draft.Career == "" {
		draft.Career = strings.TrimSpace(p.Career)
	}
	if draft.Semester <= 0 && p.Semester > 0 {
		draft.Semester = int(p.Semester)
	}
	draft.Skills = appendUnique(draft.Skills, p.Skills)
	draft.Goals = appendUnique(draft.Goals, p.Goals)
	draft.Interests = appendUnique(draft.Interests, p.Interests)
	return replaced
}

func appendUnique(dst []string, src []string) []string {
	for _, s := range contractx.CoerceList([]string(src)) {
		dup := false
		for _, d := range dst {
			if strings.EqualFold(d, s) {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, s)
		}
	}
	return dst
}

func draftStudent(d *statex.ProfileDraft) *storex.Student {
	return &storex.Student{
		FullName:  d.Name,
		Email:     d.Email,
		Career:    d.Career,
		Semester:  d.Semester,
		Skills:    d.Skills,
		Goals:     d.Goals,
		Interests: d.Interests,
	}
}

func draftArgs(d *statex.ProfileDraft) map[string]any {
	return map[string]any{
		"full_name": d.Name,
		"email":     d.Email,
		"career":    d.Career,
		"semester":  d.Semester,
		"skills":    d.Skills,
		"goals":     d.Goals,
		"interests": d.Interests,
	}
}
