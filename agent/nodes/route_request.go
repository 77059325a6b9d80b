package orchestratornode

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/tanpawarit/fredie-agent/agent/agents/router"
	contractx "github.com/tanpawarit/fredie-agent/agent/contract"
)

// RouteRequest picks the handler for this turn and moves the routing stack so
// it is on top. A pending handoff is consumed here.
func RouteRequest(ctx context.Context, in *GraphState, classifier contractx.Classifier) (*GraphState, error) {
	if in == nil || in.Session == nil {
		return nil, fmt.Errorf("%w: graph session is nil", contractx.ErrValidation)
	}
	st := in.Session

	anonymous := in.Anonymous && !st.Identity.Verified
	decision := router.Route(ctx, classifier, st, anonymous)
	for _, op := range decision.Ops {
		if err := st.ApplyStackOp(op); err != nil {
			return nil, err
		}
	}
	st.HandoffPending = false
	in.Handler = st.ActiveHandler()

	log.Debug().
		Str("session_id", in.SessionID).
		Str("handler", string(in.Handler)).
		Str("source", string(decision.Source)).
		Msg("turn routed")
	return in, nil
}
