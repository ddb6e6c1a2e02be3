package models

// Provider names accepted in ModelConfig.Provider.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// ModelConfig configures the LLM model parameters of an agent.
type ModelConfig struct {
	Provider    string  `json:"provider" yaml:"provider" bson:"provider"` // "openai" (default) or "anthropic"
	Model       string  `json:"model" yaml:"model" bson:"model"`
	Temperature float64 `json:"temperature" yaml:"temperature" bson:"temperature"` // 0.0 to 2.0
	MaxTokens   int     `json:"max_tokens" yaml:"max_tokens" bson:"max_tokens"`
}

// DefaultModelConfig returns a sensible default configuration
func DefaultModelConfig() ModelConfig {
	return ModelConfig{
		Provider:    ProviderOpenAI,
		Model:       "gpt-4o-mini",
		Temperature: 0.7,
		MaxTokens:   4096,
	}
}

// WithDefaults fills zero-valued fields from DefaultModelConfig.
func (c ModelConfig) WithDefaults() ModelConfig {
	d := DefaultModelConfig()
	if c.Provider == "" {
		c.Provider = d.Provider
	}
	if c.Model == "" {
		if c.Provider == ProviderAnthropic {
			c.Model = "claude-sonnet-4.5"
		} else {
			c.Model = d.Model
		}
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = d.MaxTokens
	}
	return c
}
