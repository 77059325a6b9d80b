// Package llmgraph compiles the small prompt -> model -> parse graphs shared by
// the model-backed agents.
package llmgraph

import (
	"context"
	"fmt"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	einoprompt "github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
)

// InputKey is the template variable carrying the user payload.
const InputKey = "input"

// CompileStructured builds prompt -> model -> parse_json, decoding the model
// content into T.
func CompileStructured[T any](
	ctx context.Context,
	chatModel einomodel.BaseChatModel,
	systemPrompt string,
	graphName string,
) (compose.Runnable[map[string]any, T], error) {
	parser := schema.NewMessageJSONParser[T](&schema.MessageJSONParseConfig{
		ParseFrom: schema.MessageParseFromContent,
	})

	graph := compose.NewGraph[map[string]any, T]()
	if err := addPromptAndModel(graph, chatModel, systemPrompt); err != nil {
		return nil, err
	}
	if err := graph.AddLambdaNode("parse_json", compose.MessageParser(parser)); err != nil {
		return nil, fmt.Errorf("add structured parser node: %w", err)
	}
	if err := graph.AddEdge("model", "parse_json"); err != nil {
		return nil, fmt.Errorf("add structured edge model->parse: %w", err)
	}
	if err := graph.AddEdge("parse_json", compose.END); err != nil {
		return nil, fmt.Errorf("add structured edge parse->end: %w", err)
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName(graphName))
	if err != nil {
		return nil, fmt.Errorf("compile structured graph: %w", err)
	}
	return runner, nil
}

// CompileText builds prompt -> model -> content and returns the trimmed text.
func CompileText(
	ctx context.Context,
	chatModel einomodel.BaseChatModel,
	systemPrompt string,
	graphName string,
) (compose.Runnable[map[string]any, string], error) {
	graph := compose.NewGraph[map[string]any, string]()
	if err := addPromptAndModel(graph, chatModel, systemPrompt); err != nil {
		return nil, err
	}
	if err := graph.AddLambdaNode("content",
		compose.InvokableLambda(func(ctx context.Context, msg *schema.Message) (string, error) {
			if msg == nil {
				return "", nil
			}
			return strings.TrimSpace(msg.Content), nil
		}),
	); err != nil {
		return nil, fmt.Errorf("add text content node: %w", err)
	}
	if err := graph.AddEdge("model", "content"); err != nil {
		return nil, fmt.Errorf("add text edge model->content: %w", err)
	}
	if err := graph.AddEdge("content", compose.END); err != nil {
		return nil, fmt.Errorf("add text edge content->end: %w", err)
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName(graphName))
	if err != nil {
		return nil, fmt.Errorf("compile text graph: %w", err)
	}
	return runner, nil
}

func addPromptAndModel[O any](graph *compose.Graph[map[string]any, O], chatModel einomodel.BaseChatModel, systemPrompt string) error {
	template := einoprompt.FromMessages(
		schema.FString,
		schema.SystemMessage(systemPrompt),
		schema.UserMessage("{"+InputKey+"}"),
	)
	if err := graph.AddChatTemplateNode("prompt", template); err != nil {
		return fmt.Errorf("add prompt node: %w", err)
	}
	if err := graph.AddChatModelNode("model", chatModel); err != nil {
		return fmt.Errorf("add model node: %w", err)
	}
	if err := graph.AddEdge(compose.START, "prompt"); err != nil {
		return fmt.Errorf("add edge start->prompt: %w", err)
	}
	if err := graph.AddEdge("prompt", "model"); err != nil {
		return fmt.Errorf("add edge prompt->model: %w", err)
	}
	return nil
}
