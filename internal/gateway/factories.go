package gateway

import (
	"context"
	"fmt"

	"github.com/skipperhq/skipper/internal/agent"
	"github.com/skipperhq/skipper/internal/agent/providers"
	"github.com/skipperhq/skipper/internal/browser"
	"github.com/skipperhq/skipper/internal/config"
	"github.com/skipperhq/skipper/internal/observability"
	"github.com/skipperhq/skipper/internal/tools"
	"github.com/skipperhq/skipper/pkg/models"
)

// NewClientFactory builds model clients per request, falling back to the
// server-side credentials when the request carries none. A missing key is a
// configuration error and fails before any stream is opened.
func NewClientFactory(llm config.LLMConfig, logger *observability.Logger) ClientFactory {
	return func(ctx context.Context, cfg models.ModelConfig) (agent.ModelClient, error) {
		switch cfg.Provider {
		case models.ProviderAnthropic:
			key := firstNonEmpty(cfg.APIKey, llm.AnthropicAPIKey)
			if key == "" {
				return nil, fmt.Errorf("no API key configured for provider %s", cfg.Provider)
			}
			return providers.NewAnthropic(providers.AnthropicConfig{APIKey: key}, logger), nil

		case models.ProviderOpenAI:
			key := firstNonEmpty(cfg.APIKey, llm.OpenAIAPIKey)
			if key == "" {
				return nil, fmt.Errorf("no API key configured for provider %s", cfg.Provider)
			}
			return providers.NewOpenAI(providers.OpenAIConfig{APIKey: key}, logger), nil

		case models.ProviderGemini:
			key := firstNonEmpty(cfg.APIKey, llm.GeminiAPIKey)
			if key == "" {
				return nil, fmt.Errorf("no API key configured for provider %s", cfg.Provider)
			}
			return providers.NewGemini(ctx, providers.GeminiConfig{APIKey: key}, logger)

		default:
			return nil, fmt.Errorf("unsupported provider %q", cfg.Provider)
		}
	}
}

// Executor constructors, indirected so tests can observe path selection
// without starting a browser.
var (
	connectRemoteBrowser = func(connectURL string, cfg browser.ExecutorConfig, logger *observability.Logger) (browser.Executor, error) {
		return browser.ConnectPlaywright(connectURL, cfg, logger)
	}
	launchLocalBrowser = func(ctx context.Context, cfg browser.ExecutorConfig, logger *observability.Logger) (browser.Executor, error) {
		return browser.NewChromedpExecutor(ctx, "", cfg, logger)
	}
)

// NewRunnerFactory connects a browser executor to the remote session over
// CDP and wraps it in the tool runner. With no remote connect URL configured
// it launches a local headless Chrome instead.
func NewRunnerFactory(sessions SessionProvider, logger *observability.Logger) RunnerFactory {
	return func(ctx context.Context, sessionID string, agentType agent.Type) (agent.ToolRunner, func() error, error) {
		cfg := browser.ExecutorConfig{}
		if agentType == agent.TypeClaudeComputerUse {
			cfg.ViewportWidth = 1280
			cfg.ViewportHeight = 800
			cfg.MaxImageWidth = 1280
			cfg.MaxImageHeight = 800
		}

		connectURL := ""
		if sessions != nil {
			connectURL = sessions.ConnectURL(sessionID)
		}

		var executor browser.Executor
		var err error
		if connectURL == "" {
			executor, err = launchLocalBrowser(ctx, cfg, logger)
		} else {
			executor, err = connectRemoteBrowser(connectURL, cfg, logger)
		}
		if err != nil {
			return nil, nil, fmt.Errorf("connect browser: %w", err)
		}

		runner, err := tools.NewRunner(executor, logger)
		if err != nil {
			_ = executor.Close()
			return nil, nil, fmt.Errorf("build tool runner: %w", err)
		}
		return runner, executor.Close, nil
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
