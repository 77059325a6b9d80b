package tool

import (
	"context"
	"strings"

	contractx "github.com/tanpawarit/fredie-agent/agent/contract"
	qstashx "github.com/tanpawarit/fredie-agent/pkg/qstash"
)

// SummaryJobRequest is the body delivered to the summary job.
type SummaryJobRequest struct {
	RequestedBy string `json:"requested_by,omitempty"`
	SessionID   string `json:"session_id,omitempty"`
}

// summarizeAllChats enqueues the summary job. Requests on the same day share
// a deduplication id so repeated asks run the job once.
func (r *Registry) summarizeAllChats(ctx context.Context, scope contractx.Scope, _ map[string]any) contractx.CapabilityResult {
	if r.deps.Publisher == nil || strings.TrimSpace(r.deps.SummaryDestination) == "" {
		return contractx.Failed("summary job is not configured")
	}
	id, err := r.deps.Publisher.Publish(ctx, qstashx.PublishRequest{
		Destination:     r.deps.SummaryDestination,
		Body:            SummaryJobRequest{RequestedBy: scope.IdentityKey, SessionID: scope.SessionID},
		DeduplicationID: "summarize-all-" + r.deps.Now().UTC().Format("2006-01-02"),
	})
	if err != nil {
		return contractx.Failed(errorReason(err))
	}
	return contractx.Found("Resumen de chats programado (" + id + ").")
}
