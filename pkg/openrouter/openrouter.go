// Package openrouter builds chat models and SDK clients against OpenRouter or
// any other OpenAI-compatible endpoint.
package openrouter

import (
	"context"
	"fmt"
	"strings"
	"time"

	openaimodel "github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

type LLMBuilder interface {
	New(ctx context.Context) (model.ToolCallingChatModel, error)
}

var _ LLMBuilder = (*Config)(nil)

// Config is the resolved setting of one agent's model.
type Config struct {
	BaseURL            string
	APIKey             string
	Model              string
	MaxCompletionToken *int
	Temperature        float32
	Timeout            time.Duration
	SiteURL            string
	SiteName           string

	// ExcludeReasoning asks OpenRouter to drop reasoning tokens. Structured
	// output from the router and extractor breaks when they leak into content.
	ExcludeReasoning bool
}

func (c *Config) endpoint() string {
	return strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
}

// extraFields returns the OpenRouter-specific request body additions.
func (c *Config) extraFields() map[string]any {
	if !c.ExcludeReasoning {
		return nil
	}
	return map[string]any{
		"reasoning": map[string]any{"exclude": true, "effort": "none"},
	}
}

// New builds the eino chat model used by one agent.
func (c *Config) New(ctx context.Context) (model.ToolCallingChatModel, error) {
	name := strings.TrimSpace(c.Model)
	if name == "" {
		return nil, fmt.Errorf("openrouter: model is required")
	}

	m, err := openaimodel.NewChatModel(ctx, &openaimodel.ChatModelConfig{
		BaseURL:     c.endpoint(),
		APIKey:      strings.TrimSpace(c.APIKey),
		Model:       name,
		MaxTokens:   c.MaxCompletionToken,
		Temperature: &c.Temperature,
		Timeout:     c.Timeout,
		ExtraFields: c.extraFields(),
	})
	if err != nil {
		return nil, fmt.Errorf("openrouter: create chat model %s: %w", name, err)
	}
	return m, nil
}

func requestOptions(c *Config) []option.RequestOption {
	opts := []option.RequestOption{option.WithAPIKey(strings.TrimSpace(c.APIKey))}
	if base := c.endpoint(); base != "" {
		opts = append(opts, option.WithBaseURL(base+"/"))
	}
	if c.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(c.Timeout))
	}
	if c.SiteURL != "" {
		opts = append(opts, option.WithHeader("HTTP-Referer", c.SiteURL))
	}
	if c.SiteName != "" {
		opts = append(opts, option.WithHeader("X-Title", c.SiteName))
	}
	return opts
}

// NewClient creates an OpenAI SDK client for cfg. It returns nil when no API
// key is configured.
func NewClient(cfg Config) *openaisdk.Client {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil
	}
	client := openaisdk.NewClient(requestOptions(&cfg)...)
	return &client
}

// EmbeddingConfig points at an OpenAI-compatible endpoint that serves
// embeddings and the retrieval query rewriter.
type EmbeddingConfig struct {
	BaseURL      string        `split_words:"true" default:"https://api.openai.com/v1"`
	APIKey       string        `split_words:"true" required:"true"`
	Model        string        `split_words:"true" default:"text-embedding-3-small"`
	RewriteModel string        `split_words:"true" default:"gpt-4o-mini"`
	Timeout      time.Duration `split_words:"true" default:"30s"`
}

func NewEmbeddingClient(cfg EmbeddingConfig) *openaisdk.Client {
	return NewClient(Config{
		BaseURL: cfg.BaseURL,
		APIKey:  cfg.APIKey,
		Timeout: cfg.Timeout,
	})
}
