package handler

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"
	contractx "github.com/tanpawarit/fredie-agent/agent/contract"
	statex "github.com/tanpawarit/fredie-agent/agent/state"
)

// historyWindow bounds how many log entries are replayed to the model.
const historyWindow = 40

// toMessages replays the conversation log as chat messages. Each capability
// request becomes an assistant tool call followed by its tool result. Identity
// lookups made by the gate are not replayed.
func toMessages(entries []statex.Entry) []*schema.Message {
	entries = window(entries, historyWindow)
	out := make([]*schema.Message, 0, len(entries))
	for _, e := range entries {
		if e.Speaker == statex.SpeakerIdentification && (e.IsRequest() || e.Role == statex.RoleCapability) {
			continue
		}
		switch {
		case e.Role == statex.RoleUser:
			out = append(out, schema.UserMessage(e.Content))
		case e.IsRequest():
			args, _ := json.Marshal(e.Call.Args)
			if e.Call.Args == nil {
				args = []byte("{}")
			}
			out = append(out, schema.AssistantMessage("", []schema.ToolCall{{
				ID:   e.Call.ID,
				Type: "function",
				Function: schema.FunctionCall{
					Name:      e.Call.Name,
					Arguments: string(args),
				},
			}}))
		case e.Role == statex.RoleCapability:
			out = append(out, schema.ToolMessage(e.Content, e.RequestID))
		case e.Role == statex.RoleHandler && strings.TrimSpace(e.Content) != "":
			out = append(out, schema.AssistantMessage(e.Content, nil))
		}
	}
	return out
}

// window keeps the last n entries without starting on an orphan result.
func window(entries []statex.Entry, n int) []statex.Entry {
	if len(entries) <= n {
		return entries
	}
	entries = entries[len(entries)-n:]
	for len(entries) > 0 && entries[0].Role == statex.RoleCapability {
		entries = entries[1:]
	}
	return entries
}

func timeText(tc statex.TimeContext) string {
	if tc.NowHuman == "" {
		return "desconocida"
	}
	return fmt.Sprintf("%s (%s)", tc.NowHuman, tc.Timezone)
}

func taskText(t *statex.TaskContext) string {
	if !t.IsPractice() {
		return "sin práctica activa"
	}
	if t.Completed {
		return fmt.Sprintf("proyecto %s completado", t.ProjectID)
	}
	parts := []string{"proyecto " + t.ProjectID}
	if t.TaskID != "" {
		parts = append(parts, "tarea "+t.TaskID)
	}
	if t.StepNumber > 0 {
		parts = append(parts, fmt.Sprintf("paso %d", t.StepNumber))
	}
	return strings.Join(parts, ", ")
}

func profileText(summary string) string {
	if strings.TrimSpace(summary) == "" {
		return contractx.DefaultProfileSummary
	}
	return summary
}
