package orchestratornode

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/fredie-agent/agent/contract"
	statex "github.com/tanpawarit/fredie-agent/agent/state"
)

const maxTitleRunes = 60

// TitleRecorder is implemented by recorders that store session titles.
type TitleRecorder interface {
	RecordTitle(ctx context.Context, sessionID, title string) error
}

// RecordUserInput writes the user row. Failures are logged and swallowed.
func RecordUserInput(ctx context.Context, in *GraphState, recorder contractx.Recorder, policy Policy) (*GraphState, error) {
	if in == nil || in.Session == nil || recorder == nil {
		return in, nil
	}
	recordTurn(ctx, recorder, policy, contractx.TurnRecord{
		SessionID:   in.SessionID,
		Role:        statex.RoleUser,
		Content:     in.Text,
		IdentityKey: in.Session.Identity.Key,
		At:          in.Now,
	})
	return in, nil
}

// RecordAgentOutput writes the final reply, optionally the capability
// results of this turn, and the session title on first use.
func RecordAgentOutput(ctx context.Context, in *GraphState, recorder contractx.Recorder, policy Policy) (*GraphState, error) {
	if in == nil || in.Session == nil {
		return in, nil
	}
	st := in.Session

	newTitle := st.SessionTitle == ""
	if newTitle {
		st.SessionTitle = SessionTitle(st.FirstUserText())
	}
	if recorder == nil {
		return in, nil
	}

	if policy.RecordCapabilities && in.TurnStart < len(st.Messages) {
		for _, e := range st.Messages[in.TurnStart:] {
			if e.Role != statex.RoleCapability || e.Speaker == statex.SpeakerIdentification {
				continue
			}
			recordTurn(ctx, recorder, policy, contractx.TurnRecord{
				SessionID:   in.SessionID,
				Role:        statex.RoleCapability,
				Content:     e.Capability + ": " + e.Content,
				IdentityKey: st.Identity.Key,
				At:          e.At,
			})
		}
	}

	if !in.Cancelled && strings.TrimSpace(in.Reply) != "" {
		recordTurn(ctx, recorder, policy, contractx.TurnRecord{
			SessionID:   in.SessionID,
			Role:        statex.RoleHandler,
			Content:     in.Reply,
			IdentityKey: st.Identity.Key,
			At:          in.Now,
		})
	}

	if titles, ok := recorder.(TitleRecorder); ok && newTitle {
		pctx, cancel := policy.persistCtx(ctx)
		defer cancel()
		if err := titles.RecordTitle(pctx, in.SessionID, st.SessionTitle); err != nil {
			log.Warn().Err(err).Str("session_id", in.SessionID).Msg("record session title failed")
		}
	}
	return in, nil
}

func recordTurn(ctx context.Context, recorder contractx.Recorder, policy Policy, rec contractx.TurnRecord) {
	pctx, cancel := policy.persistCtx(ctx)
	defer cancel()
	if err := recorder.RecordTurn(pctx, rec); err != nil {
		log.Warn().Err(err).
			Str("session_id", rec.SessionID).
			Str("role", string(rec.Role)).
			Msg("record turn failed")
	}
}

// SessionTitle derives a short display title from the first user message.
func SessionTitle(first string) string {
	title := strings.Join(strings.Fields(first), " ")
	if title == "" {
		return contractx.UntitledSession
	}
	if utf8.RuneCountInString(title) <= maxTitleRunes {
		return title
	}
	runes := []rune(title)
	return strings.TrimSpace(string(runes[:maxTitleRunes])) + "…"
}
