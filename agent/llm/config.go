package llm

import (
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/relay-agents/agent/contract"
	openrouterx "github.com/tanpawarit/relay-agents/pkg/openrouter"
)

// RoleSelector is the pseudo-role used for the speaker selection oracle.
const RoleSelector = "selector"

type Config struct {
	BaseURL            string        `envconfig:"BASE_URL" split_words:"true" default:"https://openrouter.ai/api/v1"`
	APIKey             string        `envconfig:"API_KEY" split_words:"true" required:"true"`
	Model              string        `envconfig:"MODEL" split_words:"true" default:"google/gemini-2.0-flash-001"`
	MaxCompletionToken int           `envconfig:"MAX_COMPLETION_TOKEN" split_words:"true" default:"2000"`
	Temperature        float32       `envconfig:"TEMPERATURE" split_words:"true" default:"0.3"`
	Timeout            time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"60s"`
	SiteURL            string        `envconfig:"SITE_URL" split_words:"true"`
	SiteName           string        `envconfig:"SITE_NAME" split_words:"true"`

	CoderModel            string  `envconfig:"CODER_MODEL" split_words:"true"`
	DebuggerModel         string  `envconfig:"DEBUGGER_MODEL" split_words:"true"`
	SelectorModel         string  `envconfig:"SELECTOR_MODEL" split_words:"true"`
	SummarizerModel       string  `envconfig:"SUMMARIZER_MODEL" split_words:"true"`
	CoderTemperature      float32 `envconfig:"CODER_TEMPERATURE" split_words:"true" default:"-1"`
	DebuggerTemperature   float32 `envconfig:"DEBUGGER_TEMPERATURE" split_words:"true" default:"-1"`
	SelectorTemperature   float32 `envconfig:"SELECTOR_TEMPERATURE" split_words:"true" default:"0"`
	SummarizerTemperature float32 `envconfig:"SUMMARIZER_TEMPERATURE" split_words:"true" default:"-1"`
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("%w: openrouter api key is required", contractx.ErrConfiguration)
	}
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("%w: default model is required", contractx.ErrConfiguration)
	}
	return nil
}

// OpenRouterFor resolves the model settings for one role, falling back to
// the defaults when no override is configured.
func (c Config) OpenRouterFor(role string) openrouterx.Config {
	modelName := strings.TrimSpace(c.Model)
	temp := c.Temperature

	override := func(model string, temperature float32) {
		if v := strings.TrimSpace(model); v != "" {
			modelName = v
		}
		if temperature >= 0 {
			temp = temperature
		}
	}

	switch role {
	case contractx.AgentCoder:
		override(c.CoderModel, c.CoderTemperature)
	case contractx.AgentDebugger:
		override(c.DebuggerModel, c.DebuggerTemperature)
	case contractx.AgentSummarizer:
		override(c.SummarizerModel, c.SummarizerTemperature)
	case RoleSelector:
		override(c.SelectorModel, c.SelectorTemperature)
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
	}
}
