package main

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/agentdeck/agentdeck/internal/agent/catalog"
	"github.com/agentdeck/agentdeck/internal/agent/domain"
	"github.com/agentdeck/agentdeck/internal/common/config"
	"github.com/agentdeck/agentdeck/internal/common/logger"
	"github.com/agentdeck/agentdeck/internal/runner"
	"github.com/agentdeck/agentdeck/internal/runner/proxy"
	"github.com/agentdeck/agentdeck/internal/runner/subprocess"
	"github.com/agentdeck/agentdeck/internal/runner/synthetic"
)

// provideRunnerFactory registers one runner builder per agent type. Builders
// run lazily on launch, so a missing CLI or proxy only fails the launches
// that need it.
func provideRunnerFactory(cfg *config.Config, log *logger.Logger) *runner.Factory {
	factory := runner.NewFactory()

	factory.Register(domain.AgentTypeClaudeCode, func() (runner.Runner, error) {
		switch cfg.Claude.Adapter {
		case "python-proxy", "":
			return proxy.New(cfg.Claude.ProxyURL, log), nil
		case "sdk":
			return subprocess.New(catalog.ClaudeCommand(cfg.Claude.APIKey), log), nil
		default:
			return nil, fmt.Errorf("unknown claude adapter %q (want python-proxy or sdk)", cfg.Claude.Adapter)
		}
	})

	factory.Register(domain.AgentTypeGeminiCLI, func() (runner.Runner, error) {
		return subprocess.New(catalog.GeminiCommand(cfg.Gemini.APIKey), log), nil
	})

	factory.Register(domain.AgentTypeSynthetic, func() (runner.Runner, error) {
		return synthetic.New(nil, log), nil
	})

	log.Info("Runner factory configured",
		zap.String("claude_adapter", cfg.Claude.Adapter),
		zap.Strings("agent_types", []string{
			string(domain.AgentTypeClaudeCode),
			string(domain.AgentTypeGeminiCLI),
			string(domain.AgentTypeSynthetic),
		}))
	return factory
}
