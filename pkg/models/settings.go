package models

import "fmt"

// ModelProvider identifies which LLM backend serves a request.
type ModelProvider string

const (
	ProviderAnthropic ModelProvider = "anthropic"
	ProviderOpenAI    ModelProvider = "openai"
	ProviderGemini    ModelProvider = "gemini"
)

// DefaultModel returns the model used when a request omits one.
func (p ModelProvider) DefaultModel() string {
	switch p {
	case ProviderAnthropic:
		return "claude-3-7-sonnet-latest"
	case ProviderOpenAI:
		return "gpt-4o"
	case ProviderGemini:
		return "gemini-2.0-flash"
	default:
		return ""
	}
}

// ModelConfig carries per-request model parameters.
type ModelConfig struct {
	Provider    ModelProvider `json:"provider"`
	Model       string        `json:"model"`
	APIKey      string        `json:"api_key,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
	TopP        float64       `json:"top_p,omitempty"`
}

// Validate checks bounds mirroring the settings schema served to clients.
func (c *ModelConfig) Validate() error {
	switch c.Provider {
	case ProviderAnthropic, ProviderOpenAI, ProviderGemini:
	default:
		return fmt.Errorf("unsupported provider: %q", c.Provider)
	}
	if c.Model == "" {
		c.Model = c.Provider.DefaultModel()
	}
	if c.MaxTokens < 0 || c.MaxTokens > 4096 {
		return fmt.Errorf("max_tokens %d out of range [0,4096]", c.MaxTokens)
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 1024
	}
	if c.Temperature < 0 || c.Temperature > 1 {
		return fmt.Errorf("temperature %v out of range [0,1]", c.Temperature)
	}
	if c.TopP < 0 || c.TopP > 1 {
		return fmt.Errorf("top_p %v out of range [0,1]", c.TopP)
	}
	return nil
}

// AgentSettings carries per-request agent behavior knobs.
type AgentSettings struct {
	// MaxSteps bounds the number of model round trips. 0 means the
	// server default.
	MaxSteps int `json:"max_steps,omitempty"`

	// SystemPrompt overrides the agent's default system prompt.
	SystemPrompt string `json:"system_prompt,omitempty"`

	// NumImagesToKeep bounds how many screenshot-bearing tool results
	// retain their full payload in the conversation.
	NumImagesToKeep int `json:"num_images_to_keep,omitempty"`

	// WaitBetweenSteps is the delay in seconds before each browser action.
	WaitBetweenSteps int `json:"wait_time_between_steps,omitempty"`
}

// Validate checks bounds mirroring the settings schema served to clients.
func (s *AgentSettings) Validate() error {
	if s.MaxSteps < 0 || s.MaxSteps > 125 {
		return fmt.Errorf("max_steps %d out of range [0,125]", s.MaxSteps)
	}
	if s.NumImagesToKeep < 0 || s.NumImagesToKeep > 50 {
		return fmt.Errorf("num_images_to_keep %d out of range [0,50]", s.NumImagesToKeep)
	}
	if s.WaitBetweenSteps < 0 || s.WaitBetweenSteps > 10 {
		return fmt.Errorf("wait_time_between_steps %d out of range [0,10]", s.WaitBetweenSteps)
	}
	return nil
}
