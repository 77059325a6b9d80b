package orchestratornode

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/fredie-agent/agent/contract"
	promptx "github.com/tanpawarit/fredie-agent/agent/prompt"
	statex "github.com/tanpawarit/fredie-agent/agent/state"
)

// ChatTypePractice marks a session bound to a guided-practice project.
const ChatTypePractice = "practice"

// LoadOrCreateState rehydrates the checkpoint, applies session metadata and
// per-turn overrides, and appends the user message.
func LoadOrCreateState(
	ctx context.Context,
	in *GraphState,
	store statex.Store,
	recorder contractx.Recorder,
	policy Policy,
) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	st, err := store.Load(ctx, in.SessionID)
	switch {
	case errors.Is(err, statex.ErrStateNotFound):
		st = statex.NewConversationState(in.SessionID, in.Now)
	case err != nil:
		return nil, err
	}

	if st.Task == nil {
		st.Task = sessionTask(ctx, in.SessionID, recorder, policy)
	}
	applyOverrides(st, in.Overrides)

	if st.AvatarStyle == "" || in.Overrides.AvatarID != "" || in.Overrides.WidgetMode != "" {
		avatar := in.Overrides.AvatarID
		if avatar == "" {
			avatar = policy.DefaultAvatar
		}
		st.AvatarStyle = promptx.AvatarStyle(promptx.AvatarOptions{
			AvatarID:    avatar,
			Mode:        in.Overrides.WidgetMode,
			Personality: in.Overrides.Personality,
			Notes:       in.Overrides.Notes,
		})
	}

	in.Anonymous = !policy.RequireIdentity
	if in.Overrides.RequireIdentity != nil {
		in.Anonymous = !*in.Overrides.RequireIdentity
	}

	in.TurnStart = len(st.Messages)
	st.Append(statex.Entry{Role: statex.RoleUser, Content: in.Text, At: in.Now})
	in.Session = st
	return in, nil
}

// sessionTask seeds practice mode from the stored session metadata. Lookup
// failures leave the session without a task.
func sessionTask(ctx context.Context, sessionID string, recorder contractx.Recorder, policy Policy) *statex.TaskContext {
	if recorder == nil {
		return nil
	}
	lookupCtx, cancel := policy.persistCtx(ctx)
	defer cancel()

	meta, err := recorder.SessionMetadata(lookupCtx, sessionID)
	if err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("session metadata lookup failed")
		return nil
	}
	return taskFromMetadata(meta.ChatType, meta.ProjectID)
}

// applyOverrides lets the caller switch chat type or project. Progress on the
// same practice project is kept.
func applyOverrides(st *statex.ConversationState, o contractx.TurnOverrides) {
	chatType := strings.TrimSpace(o.ChatType)
	projectID := strings.TrimSpace(o.ProjectID)
	if chatType == "" && projectID == "" {
		return
	}
	if chatType == "" {
		if !st.Task.IsPractice() {
			return
		}
		chatType = ChatTypePractice
	}
	if projectID == "" && st.Task != nil {
		projectID = st.Task.ProjectID
	}
	if st.Task.IsPractice() && strings.EqualFold(chatType, ChatTypePractice) && st.Task.ProjectID == projectID {
		return
	}
	st.Task = taskFromMetadata(chatType, projectID)
}

func taskFromMetadata(chatType, projectID string) *statex.TaskContext {
	if !strings.EqualFold(strings.TrimSpace(chatType), ChatTypePractice) {
		return nil
	}
	return &statex.TaskContext{Mode: statex.TaskModePractice, ProjectID: strings.TrimSpace(projectID)}
}
