package orchestratornode

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/fredie-agent/agent/contract"
	statex "github.com/tanpawarit/fredie-agent/agent/state"
)

// ValidateAndSaveState commits the working copy. A cancelled turn is not
// committed so its stack mutations are dropped. Save failures are logged; the
// reply still goes out.
func ValidateAndSaveState(
	ctx context.Context,
	in *GraphState,
	store statex.Store,
	policy Policy,
) (*GraphState, error) {
	if in == nil || in.Session == nil {
		return nil, fmt.Errorf("%w: graph session is nil", contractx.ErrValidation)
	}
	if in.Cancelled || ctx.Err() != nil {
		in.Cancelled = true
		log.Info().Str("session_id", in.SessionID).Msg("turn cancelled, checkpoint not saved")
		return in, nil
	}

	in.Session.Touch(in.Now)
	if err := in.Session.Validate(); err != nil {
		return nil, fmt.Errorf("state validation failed: %w", err)
	}

	sctx, cancel := policy.persistCtx(ctx)
	defer cancel()
	if err := store.Save(sctx, in.Session); err != nil {
		log.Error().Err(err).Str("session_id", in.SessionID).Msg("save checkpoint failed")
	}
	return in, nil
}
