package orchestratornode

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/fredie-agent/agent/contract"
	statex "github.com/tanpawarit/fredie-agent/agent/state"
	"github.com/tanpawarit/fredie-agent/agent/tool"
)

// RunAgent drives the active handler until it produces a reply:
//
//	HANDLE -> (route_to -> HANDLE | CAPABILITY* -> HANDLE)* -> reply
//
// Every handler step, control hop included, counts against MaxHops. Capability
// results always return to the handler that requested them.
func RunAgent(
	ctx context.Context,
	in *GraphState,
	models contractx.Registry,
	gateway contractx.CapabilityGateway,
	policy Policy,
) (*GraphState, error) {
	if in == nil || in.Session == nil {
		return nil, fmt.Errorf("%w: graph session is nil", contractx.ErrValidation)
	}
	st := in.Session
	stackBefore := append([]statex.HandlerID(nil), st.RoutingStack...)
	anonymous := in.Anonymous && !st.Identity.Verified

	for hop := 0; hop < policy.hops(); hop++ {
		if ctx.Err() != nil {
			in.Cancelled = true
			return in, nil
		}

		active := st.ActiveHandler()
		in.Handler = active
		logger := log.With().Str("session_id", in.SessionID).Str("handler", string(active)).Int("hop", hop).Logger()

		resp, err := respond(ctx, models, active, handlerRequest(st, active), policy.attempts())
		if err != nil {
			if ctx.Err() != nil {
				in.Cancelled = true
				return in, nil
			}
			logger.Error().Err(err).Msg("handler failed after retries")
			st.RoutingStack = stackBefore
			st.HandoffPending = false
			in.Handler = st.ActiveHandler()
			return reply(in, active, contractx.ReplyApology), nil
		}

		switch {
		case resp.Route != nil:
			op := resp.Route.StackOp()
			switch {
			case anonymous && (resp.Route.Back || resp.Route.Target != statex.HandlerGeneral):
				logger.Debug().Str("target", string(resp.Route.Target)).Msg("handoff refused for anonymous session")
				op = statex.NoOp()
			case !resp.Route.Back && resp.Route.Target == active:
				op = statex.NoOp()
			}
			if err := st.ApplyStackOp(op); err != nil {
				return nil, err
			}
			st.HandoffPending = true
			logger.Debug().Str("op", op.String()).Str("to", string(st.ActiveHandler())).Msg("handler handoff")

		case len(resp.CapabilityRequests) > 0:
			if ctx.Err() != nil {
				in.Cancelled = true
				return in, nil
			}
			results := runCapabilities(ctx, in, gateway, active, resp.CapabilityRequests)
			if (active == statex.HandlerLab || active == statex.HandlerIndustrial) && allRetrievalEmpty(results) {
				logger.Debug().Msg("no records for retrieval, answering without model")
				return reply(in, active, contractx.ReplyNoRecords), nil
			}

		default:
			return reply(in, active, resp.Message), nil
		}
	}

	log.Warn().Str("session_id", in.SessionID).Int("max_hops", policy.hops()).Msg("max hops exceeded")
	return reply(in, st.ActiveHandler(), contractx.ReplyTooManySteps), nil
}

func respond(
	ctx context.Context,
	models contractx.Registry,
	id statex.HandlerID,
	req contractx.HandlerRequest,
	attempts int,
) (contractx.HandlerResponse, error) {
	h, err := models.Handler(id)
	if err != nil {
		return contractx.HandlerResponse{}, err
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		resp, err := h.Respond(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil || errors.Is(err, contractx.ErrUnknownHandler) {
			break
		}
		log.Warn().Err(err).Str("handler", string(id)).Int("attempt", attempt).Msg("handler step failed")
	}
	return contractx.HandlerResponse{}, lastErr
}

func handlerRequest(st *statex.ConversationState, id statex.HandlerID) contractx.HandlerRequest {
	return contractx.HandlerRequest{
		Handler:        id,
		SessionID:      st.SessionID,
		Identity:       st.Identity,
		ProfileSummary: st.ProfileSummary,
		AvatarStyle:    st.AvatarStyle,
		Time:           st.Time,
		Task:           st.Task,
		Messages:       st.Messages,
	}
}

// runCapabilities logs each request, executes the batch and logs one result
// per request in order, then applies the results' side effects.
func runCapabilities(
	ctx context.Context,
	in *GraphState,
	gateway contractx.CapabilityGateway,
	caller statex.HandlerID,
	reqs []contractx.CapabilityRequest,
) []contractx.CapabilityResult {
	st := in.Session
	scope := contractx.Scope{
		Caller:      string(caller),
		SessionID:   st.SessionID,
		IdentityKey: st.Identity.Key,
		Timezone:    st.Time.Timezone,
		Task:        st.Task,
	}
	results := gateway.Execute(ctx, scope, reqs)

	profileChanged := false
	for i, req := range reqs {
		res := contractx.Failed("no result")
		if i < len(results) {
			res = results[i]
		}
		st.Append(
			statex.Entry{
				Role:    statex.RoleHandler,
				Speaker: string(caller),
				Call:    &statex.CapabilityCall{ID: req.ID, Name: req.Name, Args: req.Args},
				At:      in.Now,
			},
			statex.Entry{
				Role:       statex.RoleCapability,
				Speaker:    string(caller),
				RequestID:  req.ID,
				Capability: req.Name,
				Content:    res.Render(),
				Outcome:    res.Kind.String(),
				At:         in.Now,
			},
		)
		if res.Task != nil {
			task := *res.Task
			st.Task = &task
		}
		profileChanged = profileChanged || res.ProfileChanged
		if res.Kind == contractx.ResultError {
			log.Warn().
				Str("session_id", st.SessionID).
				Str("handler", string(caller)).
				Str("capability", req.Name).
				Str("reason", res.Reason).
				Msg("capability failed")
		}
	}

	if profileChanged && st.Identity.Verified {
		refreshProfile(ctx, st, gateway)
	}
	return results
}

func refreshProfile(ctx context.Context, st *statex.ConversationState, gateway contractx.CapabilityGateway) {
	results := gateway.Execute(ctx, contractx.Scope{
		Caller:      tool.CallerIdentification,
		SessionID:   st.SessionID,
		IdentityKey: st.Identity.Key,
	}, []contractx.CapabilityRequest{{ID: "profile_refresh", Name: tool.CapGetProfileSummary}})
	if len(results) == 1 && results[0].Kind == contractx.ResultFound {
		st.ProfileSummary = results[0].Text
	}
}

func allRetrievalEmpty(results []contractx.CapabilityResult) bool {
	if len(results) == 0 {
		return false
	}
	for _, r := range results {
		if !tool.RetrievalCapabilities[r.Name] || r.Kind != contractx.ResultEmpty {
			return false
		}
	}
	return true
}

func reply(in *GraphState, speaker statex.HandlerID, text string) *GraphState {
	in.Reply = text
	in.Terminal = contractx.TerminalEnd
	in.Session.Append(statex.Entry{
		Role:    statex.RoleHandler,
		Speaker: string(speaker),
		Content: text,
		At:      in.Now,
	})
	return in
}
