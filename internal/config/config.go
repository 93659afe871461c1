// Package config loads and validates the skipper gateway configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration structure for skipper.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Steel   SteelConfig   `yaml:"steel"`
	LLM     LLMConfig     `yaml:"llm"`
	Agent   AgentConfig   `yaml:"agent"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// AllowedOrigins lists origins permitted by the CORS layer.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// SteelConfig configures the remote browser session provider.
type SteelConfig struct {
	// APIURL is the base URL of the session provider's REST API.
	APIURL string `yaml:"api_url"`

	// ConnectURL is the CDP websocket endpoint browsers attach to.
	ConnectURL string `yaml:"connect_url"`

	APIKey string `yaml:"api_key"`

	// SessionTTL is how long an idle session may live before the
	// sweeper releases it. Zero disables sweeping.
	SessionTTL time.Duration `yaml:"session_ttl"`

	// SweepSchedule is a cron expression for the idle-session sweeper.
	SweepSchedule string `yaml:"sweep_schedule"`
}

// LLMConfig holds provider credentials used when a request carries none.
type LLMConfig struct {
	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	OpenAIAPIKey    string `yaml:"openai_api_key"`
	GeminiAPIKey    string `yaml:"gemini_api_key"`
}

// AgentConfig holds server-side defaults for agent behavior.
type AgentConfig struct {
	MaxSteps         int `yaml:"max_steps"`
	NumImagesToKeep  int `yaml:"num_images_to_keep"`
	WaitBetweenSteps int `yaml:"wait_time_between_steps"`
}

// LoggingConfig configures structured logging output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "127.0.0.1",
			Port:           8000,
			AllowedOrigins: []string{"http://localhost", "http://localhost:8080"},
		},
		Steel: SteelConfig{
			APIURL:        "https://api.steel.dev",
			ConnectURL:    "wss://connect.steel.dev",
			SessionTTL:    30 * time.Minute,
			SweepSchedule: "@every 5m",
		},
		Agent: AgentConfig{
			MaxSteps:         30,
			NumImagesToKeep:  10,
			WaitBetweenSteps: 1,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads the config file at path, applies environment overrides, and
// validates the result. A missing file is not an error; defaults apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides file values with environment variables. Environment
// wins so deployments can keep secrets out of the config file.
func (c *Config) applyEnv() {
	if v := os.Getenv("STEEL_API_KEY"); v != "" {
		c.Steel.APIKey = v
	}
	if v := os.Getenv("STEEL_API_URL"); v != "" {
		c.Steel.APIURL = v
	}
	if v := os.Getenv("STEEL_CONNECT_URL"); v != "" {
		c.Steel.ConnectURL = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		c.LLM.AnthropicAPIKey = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.LLM.OpenAIAPIKey = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		c.LLM.GeminiAPIKey = v
	}
	if v := os.Getenv("SKIPPER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("SKIPPER_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate checks the configuration for obvious mistakes.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Agent.MaxSteps <= 0 {
		return fmt.Errorf("agent max_steps must be positive, got %d", c.Agent.MaxSteps)
	}
	if c.Agent.NumImagesToKeep <= 0 {
		return fmt.Errorf("agent num_images_to_keep must be positive, got %d", c.Agent.NumImagesToKeep)
	}
	switch c.Logging.Format {
	case "", "json", "text":
	default:
		return fmt.Errorf("unknown logging format %q", c.Logging.Format)
	}
	return nil
}
