// Package summary condenses stored chat logs into per-session summaries that
// feed long-term retrieval.
package summary

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/rs/zerolog/log"
	"github.com/tanpawarit/fredie-agent/agent/agents/llmgraph"
	contractx "github.com/tanpawarit/fredie-agent/agent/contract"
	statex "github.com/tanpawarit/fredie-agent/agent/state"
	storex "github.com/tanpawarit/fredie-agent/agent/store"
)

// Summarizer turns one transcript into a short Markdown summary.
type Summarizer interface {
	Summarize(ctx context.Context, transcript string) (string, error)
}

// Indexer makes a document searchable.
type Indexer interface {
	Index(ctx context.Context, doc *storex.Document) error
}

type modelSummarizer struct {
	runner compose.Runnable[map[string]any, string]
}

func NewSummarizer(ctx context.Context, chatModel einomodel.BaseChatModel, systemPrompt string) (Summarizer, error) {
	if strings.TrimSpace(systemPrompt) == "" {
		return nil, fmt.Errorf("%w: summary", contractx.ErrPromptMissing)
	}
	runner, err := llmgraph.CompileText(ctx, chatModel, systemPrompt, "summary.session_graph")
	if err != nil {
		return nil, fmt.Errorf("%w: compile summary graph: %v", contractx.ErrModelInvoke, err)
	}
	return &modelSummarizer{runner: runner}, nil
}

func (s *modelSummarizer) Summarize(ctx context.Context, transcript string) (string, error) {
	out, err := s.runner.Invoke(ctx, map[string]any{llmgraph.InputKey: transcript})
	if err != nil {
		return "", fmt.Errorf("%w: summarize: %v", contractx.ErrModelInvoke, err)
	}
	if strings.TrimSpace(out) == "" {
		return "", fmt.Errorf("%w: empty summary", contractx.ErrSchemaViolation)
	}
	return out, nil
}

// Report counts what one job run did.
type Report struct {
	Sessions   int   `json:"sessions"`
	Summarized int   `json:"summarized"`
	Failed     int   `json:"failed"`
	Deleted    int64 `json:"deleted"`
}

// Job summarizes every session with stored messages, indexes the summary
// under the session owner and then clears the summarized messages. A session
// that fails keeps its messages for the next run.
type Job struct {
	chats      storex.ChatStore
	summarizer Summarizer
	index      Indexer
	now        func() time.Time
}

func NewJob(chats storex.ChatStore, summarizer Summarizer, index Indexer) (*Job, error) {
	if chats == nil || summarizer == nil {
		return nil, errors.New("summary job: chat store and summarizer are required")
	}
	return &Job{chats: chats, summarizer: summarizer, index: index, now: time.Now}, nil
}

func (j *Job) Run(ctx context.Context) (Report, error) {
	var report Report

	msgs, err := j.chats.ListMessages(ctx)
	if err != nil {
		return report, fmt.Errorf("summary job: list messages: %w", err)
	}
	groups := groupBySession(msgs)
	report.Sessions = len(groups)

	for _, g := range groups {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		deleted, err := j.summarizeSession(ctx, g)
		logger := log.With().Str("session_id", g.sessionID).Logger()
		if err != nil {
			report.Failed++
			logger.Warn().Err(err).Msg("session summary failed")
			continue
		}
		report.Summarized++
		report.Deleted += deleted
		logger.Debug().Int64("deleted", deleted).Msg("session summarized")
	}

	log.Info().
		Int("sessions", report.Sessions).
		Int("summarized", report.Summarized).
		Int("failed", report.Failed).
		Msg("summary job finished")
	return report, nil
}

func (j *Job) summarizeSession(ctx context.Context, g sessionGroup) (int64, error) {
	text, err := j.summarizer.Summarize(ctx, Transcript(g.messages))
	if err != nil {
		return 0, err
	}

	var owner string
	if sess, err := j.chats.GetSession(ctx, g.sessionID); err == nil {
		owner = strings.ToLower(strings.TrimSpace(sess.UserEmail))
	} else if !errors.Is(err, storex.ErrNotFound) {
		return 0, err
	}

	now := j.now().UTC()
	if err := j.chats.UpsertSummary(ctx, &storex.ChatSummary{
		SessionID: g.sessionID,
		UserEmail: owner,
		SummaryMD: text,
		UpdatedAt: now,
	}); err != nil {
		return 0, err
	}

	if j.index != nil && owner != "" {
		if err := j.index.Index(ctx, &storex.Document{
			Collection: storex.CollectionChatSummary,
			Ref:        g.sessionID,
			Owner:      owner,
			Content:    text,
			Metadata:   map[string]any{"session_id": g.sessionID},
			UpdatedAt:  now,
		}); err != nil {
			return 0, fmt.Errorf("index summary: %w", err)
		}
	}

	return j.chats.DeleteMessages(ctx, g.sessionID, g.lastID())
}

type sessionGroup struct {
	sessionID string
	messages  []storex.ChatMessage
}

// lastID is the newest message id that went into the summary.
func (g sessionGroup) lastID() int64 {
	var max int64
	for _, m := range g.messages {
		if m.ID > max {
			max = m.ID
		}
	}
	return max
}

// groupBySession keeps the store order, which is session then time.
func groupBySession(msgs []storex.ChatMessage) []sessionGroup {
	var out []sessionGroup
	index := make(map[string]int)
	for _, m := range msgs {
		i, ok := index[m.SessionID]
		if !ok {
			i = len(out)
			index[m.SessionID] = i
			out = append(out, sessionGroup{sessionID: m.SessionID})
		}
		out[i].messages = append(out[i].messages, m)
	}
	return out
}

// Transcript renders messages as "Estudiante:" and "Fredie:" lines.
func Transcript(msgs []storex.ChatMessage) string {
	var b strings.Builder
	for _, m := range msgs {
		content := strings.TrimSpace(m.Content)
		if content == "" {
			continue
		}
		speaker := "Fredie"
		if m.Role == string(statex.RoleUser) {
			speaker = "Estudiante"
		}
		fmt.Fprintf(&b, "%s: %s\n", speaker, content)
	}
	return strings.TrimSpace(b.String())
}
