package models

import "testing"

func TestModelConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ModelConfig
		wantErr bool
	}{
		{"valid anthropic", ModelConfig{Provider: ProviderAnthropic, Model: "claude-3-7-sonnet-latest"}, false},
		{"valid gemini zero knobs", ModelConfig{Provider: ProviderGemini}, false},
		{"unsupported provider", ModelConfig{Provider: "bedrock"}, true},
		{"empty provider", ModelConfig{}, true},
		{"max tokens too large", ModelConfig{Provider: ProviderOpenAI, MaxTokens: 5000}, true},
		{"negative temperature", ModelConfig{Provider: ProviderOpenAI, Temperature: -0.1}, true},
		{"top_p above one", ModelConfig{Provider: ProviderOpenAI, TopP: 1.5}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestModelConfigValidateAppliesDefaults(t *testing.T) {
	cfg := ModelConfig{Provider: ProviderOpenAI}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if cfg.Model != "gpt-4o" {
		t.Errorf("Model = %q, want provider default", cfg.Model)
	}
	if cfg.MaxTokens != 1024 {
		t.Errorf("MaxTokens = %d, want 1024", cfg.MaxTokens)
	}
}

func TestDefaultModel(t *testing.T) {
	tests := []struct {
		provider ModelProvider
		want     string
	}{
		{ProviderAnthropic, "claude-3-7-sonnet-latest"},
		{ProviderOpenAI, "gpt-4o"},
		{ProviderGemini, "gemini-2.0-flash"},
		{ModelProvider("other"), ""},
	}
	for _, tt := range tests {
		if got := tt.provider.DefaultModel(); got != tt.want {
			t.Errorf("DefaultModel(%q) = %q, want %q", tt.provider, got, tt.want)
		}
	}
}

func TestAgentSettingsValidate(t *testing.T) {
	tests := []struct {
		name     string
		settings AgentSettings
		wantErr  bool
	}{
		{"zero values defer to server defaults", AgentSettings{}, false},
		{"all knobs at max", AgentSettings{MaxSteps: 125, NumImagesToKeep: 50, WaitBetweenSteps: 10}, false},
		{"max_steps over limit", AgentSettings{MaxSteps: 126}, true},
		{"negative images", AgentSettings{NumImagesToKeep: -1}, true},
		{"wait over limit", AgentSettings{WaitBetweenSteps: 11}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.settings.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
