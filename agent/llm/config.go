package llm

import (
	"fmt"
	"slices"
	"strings"
	"time"

	contractx "github.com/tanpawarit/fredie-agent/agent/contract"
	openrouterx "github.com/tanpawarit/fredie-agent/pkg/openrouter"
)

type Config struct {
	BaseURL            string        `envconfig:"BASE_URL" split_words:"true" default:"https://openrouter.ai/api/v1"`
	APIKey             string        `envconfig:"API_KEY" split_words:"true" required:"true"`
	Model              string        `envconfig:"MODEL" split_words:"true" required:"true"`
	MaxCompletionToken int           `envconfig:"MAX_COMPLETION_TOKEN" split_words:"true" default:"2000"`
	Temperature        float32       `envconfig:"TEMPERATURE" split_words:"true" default:"0.5"`
	Timeout            time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"30s"`
	SiteURL            string        `envconfig:"SITE_URL" split_words:"true"`
	SiteName           string        `envconfig:"SITE_NAME" split_words:"true"`

	// NoReasoningModels lists models whose reasoning output is excluded.
	NoReasoningModels []string `envconfig:"NO_REASONING_MODELS" split_words:"true" default:"x-ai/grok-4.1-fast"`

	RouterModel         string `envconfig:"ROUTER_MODEL" split_words:"true"`
	IdentificationModel string `envconfig:"IDENTIFICATION_MODEL" split_words:"true"`
	SummaryModel        string `envconfig:"SUMMARY_MODEL" split_words:"true"`
	GeneralModel        string `envconfig:"GENERAL_MODEL" split_words:"true"`
	EducationModel      string `envconfig:"EDUCATION_MODEL" split_words:"true"`
	LabModel            string `envconfig:"LAB_MODEL" split_words:"true"`
	IndustrialModel     string `envconfig:"INDUSTRIAL_MODEL" split_words:"true"`

	// Negative means "use Temperature".
	RouterTemperature         float32 `envconfig:"ROUTER_TEMPERATURE" split_words:"true" default:"0"`
	IdentificationTemperature float32 `envconfig:"IDENTIFICATION_TEMPERATURE" split_words:"true" default:"0"`
	SummaryTemperature        float32 `envconfig:"SUMMARY_TEMPERATURE" split_words:"true" default:"-1"`
	GeneralTemperature        float32 `envconfig:"GENERAL_TEMPERATURE" split_words:"true" default:"-1"`
	EducationTemperature      float32 `envconfig:"EDUCATION_TEMPERATURE" split_words:"true" default:"-1"`
	LabTemperature            float32 `envconfig:"LAB_TEMPERATURE" split_words:"true" default:"-1"`
	IndustrialTemperature     float32 `envconfig:"INDUSTRIAL_TEMPERATURE" split_words:"true" default:"-1"`
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("%w: openrouter api key is required", contractx.ErrValidation)
	}
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("%w: default model is required", contractx.ErrValidation)
	}
	return nil
}

func (c Config) override(agent contractx.AgentType) (string, float32) {
	switch agent {
	case contractx.AgentRouter:
		return c.RouterModel, c.RouterTemperature
	case contractx.AgentIdentification:
		return c.IdentificationModel, c.IdentificationTemperature
	case contractx.AgentSummary:
		return c.SummaryModel, c.SummaryTemperature
	case contractx.AgentGeneral:
		return c.GeneralModel, c.GeneralTemperature
	case contractx.AgentEducation:
		return c.EducationModel, c.EducationTemperature
	case contractx.AgentLab:
		return c.LabModel, c.LabTemperature
	case contractx.AgentIndustrial:
		return c.IndustrialModel, c.IndustrialTemperature
	default:
		return "", -1
	}
}

// OpenRouterFor resolves the model settings of one agent, falling back to the
// defaults for anything the agent does not override.
func (c Config) OpenRouterFor(agent contractx.AgentType) openrouterx.Config {
	modelName := strings.TrimSpace(c.Model)
	temp := c.Temperature

	m, t := c.override(agent)
	if v := strings.TrimSpace(m); v != "" {
		modelName = v
	}
	if t >= 0 {
		temp = t
	}

	maxCompletionToken := c.MaxCompletionToken
	return openrouterx.Config{
		BaseURL:            strings.TrimSpace(c.BaseURL),
		APIKey:             strings.TrimSpace(c.APIKey),
		Model:              modelName,
		MaxCompletionToken: &maxCompletionToken,
		Temperature:        temp,
		Timeout:            c.Timeout,
		SiteURL:            strings.TrimSpace(c.SiteURL),
		SiteName:           strings.TrimSpace(c.SiteName),
		ExcludeReasoning:   slices.Contains(c.NoReasoningModels, modelName),
	}
}
