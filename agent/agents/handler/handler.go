// Package handler implements the model-backed domain handlers.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	contractx "github.com/tanpawarit/fredie-agent/agent/contract"
	statex "github.com/tanpawarit/fredie-agent/agent/state"
	"github.com/tanpawarit/fredie-agent/agent/tool"
)

const historyKey = "history"

type handlerImpl struct {
	id     statex.HandlerID
	runner compose.Runnable[contractx.HandlerRequest, contractx.HandlerResponse]
}

var _ contractx.Handler = (*handlerImpl)(nil)

// New binds tools to chatModel and compiles the handler graph.
func New(
	ctx context.Context,
	id statex.HandlerID,
	chatModel einomodel.ToolCallingChatModel,
	systemPrompt string,
	tools []*schema.ToolInfo,
) (contractx.Handler, error) {
	if !id.Valid() {
		return nil, fmt.Errorf("%w: %q", contractx.ErrUnknownHandler, id)
	}
	if strings.TrimSpace(systemPrompt) == "" {
		return nil, fmt.Errorf("%w: handler=%s", contractx.ErrPromptMissing, id)
	}

	var bound einomodel.BaseChatModel = chatModel
	if len(tools) > 0 {
		withTools, err := chatModel.WithTools(tools)
		if err != nil {
			return nil, fmt.Errorf("%w: bind tools for handler=%s: %v", contractx.ErrModelInvoke, id, err)
		}
		bound = withTools
	}

	h := &handlerImpl{id: id}
	runner, err := compileRespondGraph(ctx, bound, systemPrompt, "handler."+string(id), h.prepare, h.decode)
	if err != nil {
		return nil, fmt.Errorf("%w: compile handler=%s: %v", contractx.ErrModelInvoke, id, err)
	}
	h.runner = runner
	return h, nil
}

func (h *handlerImpl) ID() statex.HandlerID {
	return h.id
}

func (h *handlerImpl) Respond(ctx context.Context, req contractx.HandlerRequest) (contractx.HandlerResponse, error) {
	return h.runner.Invoke(ctx, req)
}

func (h *handlerImpl) prepare(_ context.Context, req contractx.HandlerRequest) (map[string]any, error) {
	history := toMessages(req.Messages)
	if len(history) == 0 {
		return nil, fmt.Errorf("%w: handler=%s has no messages", contractx.ErrValidation, h.id)
	}
	return map[string]any{
		"avatar_style":    req.AvatarStyle,
		"profile_summary": profileText(req.ProfileSummary),
		"time_context":    timeText(req.Time),
		"task_context":    taskText(req.Task),
		historyKey:        history,
	}, nil
}

// decode maps the model message onto exactly one of: a route directive,
// capability requests, or a reply. A route_to call wins over other calls in
// the same message.
func (h *handlerImpl) decode(_ context.Context, msg *schema.Message) (contractx.HandlerResponse, error) {
	if msg == nil {
		return contractx.HandlerResponse{}, fmt.Errorf("%w: empty model response", contractx.ErrSchemaViolation)
	}

	if len(msg.ToolCalls) == 0 {
		content := strings.TrimSpace(msg.Content)
		if content == "" {
			return contractx.HandlerResponse{}, fmt.Errorf("%w: handler=%s returned no content", contractx.ErrSchemaViolation, h.id)
		}
		return contractx.HandlerResponse{Message: content}, nil
	}

	reqs := make([]contractx.CapabilityRequest, 0, len(msg.ToolCalls))
	for _, call := range msg.ToolCalls {
		name := strings.TrimSpace(call.Function.Name)
		if name == "" {
			return contractx.HandlerResponse{}, fmt.Errorf("%w: tool call name is empty", contractx.ErrSchemaViolation)
		}
		args := map[string]any{}
		if raw := strings.TrimSpace(call.Function.Arguments); raw != "" {
			if err := json.Unmarshal([]byte(raw), &args); err != nil {
				return contractx.HandlerResponse{}, fmt.Errorf("%w: invalid args for %s: %v", contractx.ErrSchemaViolation, name, err)
			}
		}
		if name == tool.CapRouteTo {
			route, err := parseRoute(args)
			if err != nil {
				return contractx.HandlerResponse{}, err
			}
			return contractx.HandlerResponse{Route: route}, nil
		}
		id := strings.TrimSpace(call.ID)
		if id == "" {
			id = "call_" + uuid.NewString()
		}
		reqs = append(reqs, contractx.CapabilityRequest{ID: id, Name: name, Args: args})
	}
	return contractx.HandlerResponse{CapabilityRequests: reqs}, nil
}

func parseRoute(args map[string]any) (*contractx.RouteDirective, error) {
	raw, _ := args["target"].(string)
	if strings.EqualFold(strings.TrimSpace(raw), tool.RouteBack) {
		return &contractx.RouteDirective{Back: true}, nil
	}
	target, ok := statex.ParseHandlerID(raw)
	if !ok {
		return nil, fmt.Errorf("%w: invalid route target %q", contractx.ErrSchemaViolation, raw)
	}
	return &contractx.RouteDirective{Target: target}, nil
}
