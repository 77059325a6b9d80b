// Package router picks the handler that owns a turn.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/tanpawarit/fredie-agent/agent/agents/llmgraph"
	contractx "github.com/tanpawarit/fredie-agent/agent/contract"
	statex "github.com/tanpawarit/fredie-agent/agent/state"
)

const historyWindow = 6

type classifierOutput struct {
	Handler string `json:"handler"`
}

// Classifier is the model-backed half of the router.
type Classifier struct {
	runner compose.Runnable[map[string]any, classifierOutput]
}

var _ contractx.Classifier = (*Classifier)(nil)

func NewClassifier(ctx context.Context, chatModel einomodel.BaseChatModel, systemPrompt string) (*Classifier, error) {
	if strings.TrimSpace(systemPrompt) == "" {
		return nil, fmt.Errorf("%w: router", contractx.ErrPromptMissing)
	}
	runner, err := llmgraph.CompileStructured[classifierOutput](ctx, chatModel, systemPrompt, "router.classifier_graph")
	if err != nil {
		return nil, fmt.Errorf("%w: compile router graph: %v", contractx.ErrModelInvoke, err)
	}
	return &Classifier{runner: runner}, nil
}

// Classify returns the raw label; callers validate it.
func (c *Classifier) Classify(ctx context.Context, req contractx.ClassifyRequest) (string, error) {
	if strings.TrimSpace(req.LatestMessage) == "" {
		return "", fmt.Errorf("%w: latest message is required", contractx.ErrValidation)
	}

	history := make([]map[string]string, 0, historyWindow)
	for _, e := range tail(req.History, historyWindow) {
		if e.Call != nil || e.Role == statex.RoleCapability || strings.TrimSpace(e.Content) == "" {
			continue
		}
		history = append(history, map[string]string{"role": string(e.Role), "content": e.Content})
	}
	payload := map[string]any{
		"latest_message":  req.LatestMessage,
		"profile_summary": req.ProfileSummary,
		"current":         req.Current.Label(),
		"history":         history,
	}
	input, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("%w: marshal router payload: %v", contractx.ErrValidation, err)
	}

	out, err := c.runner.Invoke(ctx, map[string]any{llmgraph.InputKey: string(input)})
	if err != nil {
		return "", fmt.Errorf("%w: router invoke: %v", contractx.ErrModelInvoke, err)
	}
	return strings.TrimSpace(out.Handler), nil
}

func tail(entries []statex.Entry, n int) []statex.Entry {
	if len(entries) <= n {
		return entries
	}
	return entries[len(entries)-n:]
}

/* ------------------------------- Fallback -------------------------------- */

var fallbackRules = []struct {
	pattern *regexp.Regexp
	handler statex.HandlerID
}{
	{regexp.MustCompile(`(?i)\b(plc|plcs|robot|robots|scada|hmi|opc|modbus|profinet|variador|servomotor|automatizaci[oó]n)\b`), statex.HandlerIndustrial},
	{regexp.MustCompile(`(?i)\b(laboratorio|lab|muestra|muestras|sensor|sensores|instrumentaci[oó]n|seguridad|nda|confidencial|reactivo|reactivos|incidente)\b`), statex.HandlerLab},
	{regexp.MustCompile(`(?i)\b(estudio|estudiar|tarea|tareas|examen|ex[aá]menes|proyecto escolar|clase|materia|pr[aá]ctica guiada)\b`), statex.HandlerEducation},
}

// KeywordFallback classifies text by vocabulary. It is deterministic and
// defaults to the general handler.
func KeywordFallback(text string) statex.HandlerID {
	for _, rule := range fallbackRules {
		if rule.pattern.MatchString(text) {
			return rule.handler
		}
	}
	return statex.DefaultHandler
}

/* ------------------------------- Decision -------------------------------- */

// Source records how a route was decided.
type Source string

const (
	SourceHandoff    Source = "handoff"
	SourcePractice   Source = "practice"
	SourceAnonymous  Source = "anonymous"
	SourceClassifier Source = "classifier"
	SourceFallback   Source = "fallback"
)

type Decision struct {
	Handler statex.HandlerID
	Source  Source
	// Ops move the routing stack so that Handler ends on top.
	Ops []statex.StackOp
}

// Route decides who answers the latest user message. Anonymous users always
// get the general handler. Otherwise a pending handoff keeps the current top,
// guided practice forces education, and the classifier decides the rest with
// a keyword fallback. Route never fails.
func Route(ctx context.Context, classifier contractx.Classifier, st *statex.ConversationState, anonymous bool) Decision {
	var d Decision
	switch {
	case anonymous:
		d = Decision{Handler: statex.HandlerGeneral, Source: SourceAnonymous}
	case st.HandoffPending && len(st.RoutingStack) > 0:
		d = Decision{Handler: st.ActiveHandler(), Source: SourceHandoff}
	case st.Task.IsPractice():
		d = Decision{Handler: statex.HandlerEducation, Source: SourcePractice}
	default:
		d = classify(ctx, classifier, st)
	}
	d.Ops = stackOps(st, d.Handler)
	return d
}

func classify(ctx context.Context, classifier contractx.Classifier, st *statex.ConversationState) Decision {
	latest := st.LatestUserText()
	if classifier != nil {
		label, err := classifier.Classify(ctx, contractx.ClassifyRequest{
			LatestMessage:  latest,
			ProfileSummary: st.ProfileSummary,
			Current:        st.ActiveHandler(),
			History:        st.Messages,
		})
		if err == nil {
			if h, ok := statex.ParseHandlerID(label); ok {
				return Decision{Handler: h, Source: SourceClassifier}
			}
		}
	}
	return Decision{Handler: KeywordFallback(latest), Source: SourceFallback}
}

// stackOps replaces the top with h, or pushes h onto an empty stack.
func stackOps(st *statex.ConversationState, h statex.HandlerID) []statex.StackOp {
	top, ok := st.PeekHandler()
	switch {
	case !ok:
		return []statex.StackOp{statex.PushOp(h)}
	case top == h:
		return []statex.StackOp{statex.NoOp()}
	default:
		return []statex.StackOp{statex.PopOp(), statex.PushOp(h)}
	}
}
