// Package registry wires the model-backed agents: the router classifier, the
// identification extractor and the four domain handlers.
package registry

import (
	"context"
	"fmt"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/tanpawarit/fredie-agent/agent/agents/handler"
	"github.com/tanpawarit/fredie-agent/agent/agents/identification"
	"github.com/tanpawarit/fredie-agent/agent/agents/router"
	contractx "github.com/tanpawarit/fredie-agent/agent/contract"
	llmx "github.com/tanpawarit/fredie-agent/agent/llm"
	promptx "github.com/tanpawarit/fredie-agent/agent/prompt"
	statex "github.com/tanpawarit/fredie-agent/agent/state"
)

// ModelFactory returns the chat model configured for one agent.
type ModelFactory func(ctx context.Context, agent contractx.AgentType) (einomodel.ToolCallingChatModel, error)

// Catalog lists the tools a caller may request.
type Catalog interface {
	Catalog(caller string) []*schema.ToolInfo
}

type registryImpl struct {
	classifier contractx.Classifier
	extractor  contractx.Extractor
	handlers   map[statex.HandlerID]contractx.Handler
}

var _ contractx.Registry = (*registryImpl)(nil)

func (r *registryImpl) Classifier() contractx.Classifier {
	return r.classifier
}

func (r *registryImpl) Extractor() contractx.Extractor {
	return r.extractor
}

func (r *registryImpl) Handler(id statex.HandlerID) (contractx.Handler, error) {
	h, ok := r.handlers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", contractx.ErrUnknownHandler, id)
	}
	return h, nil
}

// OpenRouterModels builds each agent's model from its resolved OpenRouter
// settings.
func OpenRouterModels(cfg llmx.Config) ModelFactory {
	return func(ctx context.Context, agent contractx.AgentType) (einomodel.ToolCallingChatModel, error) {
		modelCfg := cfg.OpenRouterFor(agent)
		return modelCfg.New(ctx)
	}
}

func NewRegistry(ctx context.Context, cfg llmx.Config, catalog Catalog) (contractx.Registry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return NewRegistryWithModels(ctx, OpenRouterModels(cfg), promptx.LoadPromptSet(), catalog)
}

// NewRegistryWithModels compiles every agent graph against models produced by
// newModel. Each handler is bound to the tools its catalog allows.
func NewRegistryWithModels(ctx context.Context, newModel ModelFactory, prompts promptx.PromptSet, catalog Catalog) (contractx.Registry, error) {
	if newModel == nil || catalog == nil {
		return nil, fmt.Errorf("%w: model factory and catalog are required", contractx.ErrValidation)
	}

	routerModel, err := newModel(ctx, contractx.AgentRouter)
	if err != nil {
		return nil, fmt.Errorf("%w: create router model: %v", contractx.ErrModelInvoke, err)
	}
	classifier, err := router.NewClassifier(ctx, routerModel, prompts.Router)
	if err != nil {
		return nil, err
	}

	identModel, err := newModel(ctx, contractx.AgentIdentification)
	if err != nil {
		return nil, fmt.Errorf("%w: create identification model: %v", contractx.ErrModelInvoke, err)
	}
	extractor, err := identification.NewExtractor(ctx, identModel, prompts.Identification)
	if err != nil {
		return nil, err
	}

	handlers := make(map[statex.HandlerID]contractx.Handler, len(statex.AllHandlers))
	for _, id := range statex.AllHandlers {
		chatModel, err := newModel(ctx, contractx.AgentType(id))
		if err != nil {
			return nil, fmt.Errorf("%w: create %s model: %v", contractx.ErrModelInvoke, id, err)
		}
		h, err := handler.New(ctx, id, chatModel, prompts.Handler(string(id)), catalog.Catalog(string(id)))
		if err != nil {
			return nil, err
		}
		handlers[id] = h
	}

	return &registryImpl{
		classifier: classifier,
		extractor:  extractor,
		handlers:   handlers,
	}, nil
}
