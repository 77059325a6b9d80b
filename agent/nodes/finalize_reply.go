package orchestratornode

import (
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/fredie-agent/agent/contract"
)

func FinalizeReply(in *GraphState) (GraphOutput, error) {
	if in == nil || in.Session == nil {
		return GraphOutput{}, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	if in.Cancelled {
		return GraphOutput{}, ErrTurnCancelled
	}

	reply := strings.TrimSpace(in.Reply)
	if reply == "" {
		reply = contractx.ReplyEmpty
	}
	return GraphOutput{
		Reply:            reply,
		SessionID:        in.SessionID,
		IdentityVerified: in.Session.Identity.Verified,
		SessionTitle:     in.Session.SessionTitle,
		Terminal:         in.Terminal,
	}, nil
}
