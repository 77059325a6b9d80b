package handler

import (
	"context"
	"fmt"

	einomodel "github.com/cloudwego/eino/components/model"
	einoprompt "github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	contractx "github.com/tanpawarit/fredie-agent/agent/contract"
)

// compileRespondGraph builds prepare -> prompt -> model -> decode. The prompt
// is the handler's system template followed by the conversation history.
func compileRespondGraph(
	ctx context.Context,
	chatModel einomodel.BaseChatModel,
	systemPrompt string,
	graphName string,
	prepare func(context.Context, contractx.HandlerRequest) (map[string]any, error),
	decode func(context.Context, *schema.Message) (contractx.HandlerResponse, error),
) (compose.Runnable[contractx.HandlerRequest, contractx.HandlerResponse], error) {
	template := einoprompt.FromMessages(
		schema.FString,
		schema.SystemMessage(systemPrompt),
		schema.MessagesPlaceholder(historyKey, false),
	)

	graph := compose.NewGraph[contractx.HandlerRequest, contractx.HandlerResponse]()
	if err := graph.AddLambdaNode("prepare", compose.InvokableLambda(prepare)); err != nil {
		return nil, fmt.Errorf("add handler prepare node: %w", err)
	}
	if err := graph.AddChatTemplateNode("prompt", template); err != nil {
		return nil, fmt.Errorf("add handler prompt node: %w", err)
	}
	if err := graph.AddChatModelNode("model", chatModel); err != nil {
		return nil, fmt.Errorf("add handler model node: %w", err)
	}
	if err := graph.AddLambdaNode("decode", compose.InvokableLambda(decode)); err != nil {
		return nil, fmt.Errorf("add handler decode node: %w", err)
	}

	edges := [][2]string{
		{compose.START, "prepare"},
		{"prepare", "prompt"},
		{"prompt", "model"},
		{"model", "decode"},
		{"decode", compose.END},
	}
	for _, edge := range edges {
		if err := graph.AddEdge(edge[0], edge[1]); err != nil {
			return nil, fmt.Errorf("add handler edge %s->%s: %w", edge[0], edge[1], err)
		}
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName(graphName))
	if err != nil {
		return nil, fmt.Errorf("compile handler graph: %w", err)
	}
	return runner, nil
}
