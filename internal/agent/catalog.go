package agent

import "github.com/skipperhq/skipper/pkg/models"

// Type names an agent variant exposed through the catalog.
type Type string

const (
	TypeBrowser           Type = "browser_use_agent"
	TypeClaudeComputerUse Type = "claude_computer_use"
	TypeOpenAIComputerUse Type = "openai_computer_use_agent"
)

// SettingKind tells the frontend how to render a setting control.
type SettingKind string

const (
	SettingInteger  SettingKind = "integer"
	SettingFloat    SettingKind = "float"
	SettingTextArea SettingKind = "textarea"
)

// Setting describes one tunable exposed in the catalog, with the bounds the
// gateway enforces at request time.
type Setting struct {
	Kind        SettingKind `json:"type"`
	Default     any         `json:"default"`
	Min         *float64    `json:"min,omitempty"`
	Max         *float64    `json:"max,omitempty"`
	Step        *float64    `json:"step,omitempty"`
	MaxLength   int         `json:"maxLength,omitempty"`
	Description string      `json:"description,omitempty"`
}

// SupportedModels lists the model ids one provider offers for an agent.
type SupportedModels struct {
	Provider models.ModelProvider `json:"provider"`
	Models   []string             `json:"models"`
}

// Info is one catalog entry.
type Info struct {
	Type            Type               `json:"type"`
	Name            string             `json:"name"`
	Description     string             `json:"description"`
	SupportedModels []SupportedModels  `json:"supported_models"`
	ModelSettings   map[string]Setting `json:"model_settings"`
	AgentSettings   map[string]Setting `json:"agent_settings"`
}

func f(v float64) *float64 { return &v }

// Catalog returns the agent variants this gateway can run, in stable order.
func Catalog() []Info {
	return []Info{
		{
			Type:        TypeBrowser,
			Name:        "Browser Agent",
			Description: "Agent with web browsing capabilities",
			SupportedModels: []SupportedModels{
				{Provider: models.ProviderOpenAI, Models: []string{"gpt-4o", "gpt-4o-mini", "o1"}},
				{Provider: models.ProviderAnthropic, Models: []string{"claude-3-7-sonnet-latest", "claude-3-5-sonnet-20241022", "claude-3-opus-20240229", "claude-3-haiku-20240307"}},
				{Provider: models.ProviderGemini, Models: []string{"gemini-2.0-flash", "gemini-1.5-pro"}},
			},
			ModelSettings: map[string]Setting{
				"max_tokens":  {Kind: SettingInteger, Default: 1000, Min: f(1), Max: f(4096), Description: "Maximum number of tokens to generate"},
				"temperature": {Kind: SettingFloat, Default: 0.7, Min: f(0), Max: f(1), Step: f(0.05), Description: "Controls randomness in the output"},
			},
			AgentSettings: map[string]Setting{
				"steps": {Kind: SettingInteger, Default: 100, Min: f(10), Max: f(125), Description: "Max number of steps to take"},
			},
		},
		{
			Type:        TypeClaudeComputerUse,
			Name:        "Claude Computer Use",
			Description: "Advanced agent with Claude-specific capabilities",
			SupportedModels: []SupportedModels{
				{Provider: models.ProviderAnthropic, Models: []string{"claude-3-7-sonnet-latest", "claude-3-5-sonnet-20241022"}},
			},
			ModelSettings: map[string]Setting{
				"max_tokens":  {Kind: SettingInteger, Default: 4090, Min: f(1), Max: f(4096), Description: "Maximum number of tokens to generate"},
				"temperature": {Kind: SettingFloat, Default: 0.6, Min: f(0), Max: f(1), Step: f(0.05), Description: "Controls randomness in the output"},
			},
			AgentSettings: map[string]Setting{
				"system_prompt":           {Kind: SettingTextArea, Default: ClaudeSystemPrompt, MaxLength: 4000, Description: "System prompt for the agent"},
				"num_images_to_keep":      {Kind: SettingInteger, Default: 10, Min: f(1), Max: f(50), Description: "Number of images to keep in memory"},
				"wait_time_between_steps": {Kind: SettingInteger, Default: 1, Min: f(0), Max: f(10), Description: "Wait time between steps in seconds"},
			},
		},
		{
			Type:        TypeOpenAIComputerUse,
			Name:        "OpenAI Computer Use",
			Description: "Computer-use agent driving the browser through OpenAI vision models",
			SupportedModels: []SupportedModels{
				{Provider: models.ProviderOpenAI, Models: []string{"gpt-4o", "gpt-4o-mini"}},
			},
			ModelSettings: map[string]Setting{
				"max_tokens":  {Kind: SettingInteger, Default: 4090, Min: f(1), Max: f(4096), Description: "Maximum number of tokens to generate"},
				"temperature": {Kind: SettingFloat, Default: 0.6, Min: f(0), Max: f(1), Step: f(0.05), Description: "Controls randomness in the output"},
			},
			AgentSettings: map[string]Setting{
				"system_prompt":           {Kind: SettingTextArea, Default: OpenAISystemPrompt, MaxLength: 4000, Description: "System prompt for the agent"},
				"num_images_to_keep":      {Kind: SettingInteger, Default: 10, Min: f(1), Max: f(50), Description: "Number of images to keep in memory"},
				"wait_time_between_steps": {Kind: SettingInteger, Default: 1, Min: f(0), Max: f(10), Description: "Wait time between steps in seconds"},
			},
		},
	}
}

// LookupAgent returns the catalog entry for an agent type.
func LookupAgent(t Type) (Info, bool) {
	for _, info := range Catalog() {
		if info.Type == t {
			return info, true
		}
	}
	return Info{}, false
}
