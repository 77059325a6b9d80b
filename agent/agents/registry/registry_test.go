package registry

import (
	"context"
	"errors"
	"testing"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/tanpawarit/fredie-agent/agent/agents/llmgraph"
	contractx "github.com/tanpawarit/fredie-agent/agent/contract"
	llmx "github.com/tanpawarit/fredie-agent/agent/llm"
	promptx "github.com/tanpawarit/fredie-agent/agent/prompt"
	statex "github.com/tanpawarit/fredie-agent/agent/state"
)

type stubCatalog struct{}

func (stubCatalog) Catalog(caller string) []*schema.ToolInfo {
	return []*schema.ToolInfo{{Name: "tool_for_" + caller}}
}

func fakeModels(models map[contractx.AgentType]*llmgraph.FakeModel) ModelFactory {
	return func(_ context.Context, agent contractx.AgentType) (einomodel.ToolCallingChatModel, error) {
		m := &llmgraph.FakeModel{}
		models[agent] = m
		return m, nil
	}
}

func TestNewRegistryWithModelsBindsCatalogPerHandler(t *testing.T) {
	t.Parallel()

	models := map[contractx.AgentType]*llmgraph.FakeModel{}
	reg, err := NewRegistryWithModels(context.Background(), fakeModels(models), promptx.LoadPromptSet(), stubCatalog{})
	if err != nil {
		t.Fatalf("NewRegistryWithModels() error = %v", err)
	}
	if reg.Classifier() == nil || reg.Extractor() == nil {
		t.Fatal("classifier and extractor must be set")
	}
	if len(models) != 6 {
		t.Fatalf("expected 6 models, got %d", len(models))
	}

	for _, id := range statex.AllHandlers {
		h, err := reg.Handler(id)
		if err != nil {
			t.Fatalf("Handler(%s) error = %v", id, err)
		}
		if h.ID() != id {
			t.Fatalf("Handler(%s).ID() = %s", id, h.ID())
		}
		tools := models[contractx.AgentType(id)].Tools
		if len(tools) != 1 || tools[0].Name != "tool_for_"+string(id) {
			t.Fatalf("handler %s tools = %v", id, tools)
		}
	}
	if len(models[contractx.AgentRouter].Tools) != 0 {
		t.Fatal("router model must not have tools bound")
	}

	if _, err := reg.Handler(statex.HandlerID("sales")); !errors.Is(err, contractx.ErrUnknownHandler) {
		t.Fatalf("Handler(sales) error = %v", err)
	}
}

func TestNewRegistryWithModelsPropagatesModelFailure(t *testing.T) {
	t.Parallel()

	boom := func(context.Context, contractx.AgentType) (einomodel.ToolCallingChatModel, error) {
		return nil, errors.New("no key")
	}
	_, err := NewRegistryWithModels(context.Background(), boom, promptx.LoadPromptSet(), stubCatalog{})
	if !errors.Is(err, contractx.ErrModelInvoke) {
		t.Fatalf("error = %v, want ErrModelInvoke", err)
	}
}

func TestNewRegistryWithModelsRequiresPrompts(t *testing.T) {
	t.Parallel()

	models := map[contractx.AgentType]*llmgraph.FakeModel{}
	prompts := promptx.LoadPromptSet()
	prompts.Lab = ""
	_, err := NewRegistryWithModels(context.Background(), fakeModels(models), prompts, stubCatalog{})
	if !errors.Is(err, contractx.ErrPromptMissing) {
		t.Fatalf("error = %v, want ErrPromptMissing", err)
	}
}

func TestNewRegistryValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := NewRegistry(context.Background(), llmx.Config{Model: "m"}, stubCatalog{})
	if !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("error = %v, want ErrValidation", err)
	}
}
