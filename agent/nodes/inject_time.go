package orchestratornode

import (
	"fmt"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/fredie-agent/agent/contract"
	"github.com/tanpawarit/fredie-agent/agent/tool"
)

// InjectTime sets the turn's time context once; handlers only read it.
func InjectTime(in *GraphState, policy Policy) (*GraphState, error) {
	if in == nil || in.Session == nil {
		return nil, fmt.Errorf("%w: graph session is nil", contractx.ErrValidation)
	}

	tz := in.TimeZone
	if tz == "" {
		tz = policy.DefaultTimezone
	}
	tc, err := tool.TimeIn(tz, in.Now)
	if err != nil {
		log.Warn().Err(err).Str("session_id", in.SessionID).Str("time_zone", tz).Msg("unknown time zone, using default")
		if tc, err = tool.TimeIn(policy.DefaultTimezone, in.Now); err != nil {
			tc, _ = tool.TimeIn("UTC", in.Now)
		}
	}
	in.Session.Time = tc
	return in, nil
}
