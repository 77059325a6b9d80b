package tool

import (
	"context"
	"errors"
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/fredie-agent/agent/contract"
	storex "github.com/tanpawarit/fredie-agent/agent/store"
	tavilyx "github.com/tanpawarit/fredie-agent/pkg/tavily"
)

const (
	profileHits = 2
	summaryHits = 2
	robotHits   = 3

	snippetLimit = 350
)

// retrieveContext searches the caller's profile passage and past chat
// summaries. Empty means no passage matched.
func (r *Registry) retrieveContext(ctx context.Context, scope contractx.Scope, args map[string]any) contractx.CapabilityResult {
	if r.deps.Retriever == nil {
		return contractx.Failed("retrieval is not configured")
	}
	query := stringArg(args, "query")
	if query == "" {
		return contractx.Failed("query is required")
	}
	key := strings.ToLower(identityKey(scope, args, "key", "email"))
	if key == "" {
		return contractx.Failed("identity is required")
	}
	sessionRef := stringArg(args, "session_ref")
	if sessionRef == "" {
		sessionRef = scope.SessionID
	}

	var style string
	profile := ""
	if st, err := r.deps.Students.FindStudent(ctx, key); err == nil {
		profile = ProfileSummary(st)
		style = LearningStyleText(st.LearningStyle)
	} else if !errors.Is(err, storex.ErrNotFound) {
		return contractx.Failed(errorReason(err))
	}

	rewritten := r.deps.Retriever.Rewrite(ctx, query, profile)

	profileDocs, err := r.deps.Retriever.Search(ctx, storex.CollectionStudentInfo, key, rewritten, profileHits)
	if err != nil {
		return contractx.Failed(errorReason(err))
	}
	summaryDocs, err := r.deps.Retriever.Search(ctx, storex.CollectionChatSummary, key, rewritten, summaryHits)
	if err != nil {
		return contractx.Failed(errorReason(err))
	}
	if len(profileDocs) == 0 && len(summaryDocs) == 0 {
		return contractx.Empty("no context on record")
	}

	var b strings.Builder
	if style != "" {
		b.WriteString("[ESTILO_APRENDIZAJE] " + style + "\n")
	}
	for _, d := range profileDocs {
		b.WriteString("[PERFIL] " + strings.TrimSpace(d.Content) + "\n")
	}
	for _, d := range summaryDocs {
		label := "[HISTORIAL]"
		if d.Ref == sessionRef {
			label = "[SESION_ACTUAL]"
		}
		b.WriteString(label + " " + strings.TrimSpace(d.Content) + "\n")
	}
	return contractx.Found(strings.TrimRight(b.String(), "\n"))
}

func (r *Registry) retrieveRobotSupport(ctx context.Context, _ contractx.Scope, args map[string]any) contractx.CapabilityResult {
	if r.deps.Retriever == nil {
		return contractx.Failed("retrieval is not configured")
	}
	query := stringArg(args, "query")
	if query == "" {
		return contractx.Failed("query is required")
	}
	docs, err := r.deps.Retriever.Search(ctx, storex.CollectionRobotSupport, "", query, robotHits)
	if err != nil {
		return contractx.Failed(errorReason(err))
	}
	if len(docs) == 0 {
		return contractx.Empty("no robot cases on record")
	}
	cases := make([]string, 0, len(docs))
	for i, d := range docs {
		cases = append(cases, fmt.Sprintf("CASO_%d:: %s", i+1, strings.TrimSpace(d.Content)))
	}
	return contractx.Found(strings.Join(cases, "\n\n"))
}

func (r *Registry) webSearch(ctx context.Context, _ contractx.Scope, args map[string]any) contractx.CapabilityResult {
	if r.deps.Web == nil {
		return contractx.Failed("web search is not configured")
	}
	query := stringArg(args, "query")
	if query == "" {
		return contractx.Failed("query is required")
	}
	n, _ := intArg(args, "max_results")
	resp, err := r.deps.Web.Search(ctx, tavilyx.SearchRequest{
		Query:      query,
		Depth:      tavilyx.NormalizeDepth(stringArg(args, "depth")),
		MaxResults: tavilyx.ClampMaxResults(n),
		TimeRange:  stringArg(args, "time_filter", "time_range"),
	})
	if err != nil {
		return contractx.Failed(errorReason(err))
	}
	if strings.TrimSpace(resp.Answer) == "" && len(resp.Results) == 0 {
		return contractx.Empty("no web results")
	}
	return contractx.Found(renderWebResults(resp))
}

func renderWebResults(resp *tavilyx.SearchResponse) string {
	var b strings.Builder
	if answer := strings.TrimSpace(resp.Answer); answer != "" {
		b.WriteString("RESPUESTA_SINTESIS: " + answer + "\n")
	}
	if len(resp.Results) > 0 {
		b.WriteString("DETALLES:\n")
	}
	for _, res := range resp.Results {
		fmt.Fprintf(&b, "- %s: %s (fuente: %s)\n", strings.TrimSpace(res.Title), snippet(res.Content), res.URL)
	}
	return strings.TrimRight(b.String(), "\n")
}

func snippet(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= snippetLimit {
		return text
	}
	return string(runes[:snippetLimit-3]) + "..."
}
