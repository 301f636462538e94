package catalog

import (
	"strings"

	"github.com/agentdeck/agentdeck/internal/agent/domain"
	"github.com/agentdeck/agentdeck/internal/runner"
)

// ClaudeCommand builds the claude CLI invocation for a session. The CLI runs
// in print mode with stream-json output so every message arrives as one
// parseable line. An API key, when configured, is injected into the child
// environment only.
func ClaudeCommand(apiKey string) runner.CommandBuilder {
	return func(session domain.Session) (*runner.CommandSpec, error) {
		cfg := session.Config

		format := cfg.OutputFormat
		if format == "" {
			format = "stream-json"
		}

		args := []string{"-p", session.Prompt, "--output-format", format, "--verbose"}
		if cfg.Model != "" {
			args = append(args, "--model", cfg.Model)
		}
		if cfg.SessionID != "" {
			args = append(args, "--resume", cfg.SessionID)
		}
		if len(cfg.AllowedTools) > 0 {
			args = append(args, "--allowedTools", strings.Join(cfg.AllowedTools, ","))
		}
		if len(cfg.DisallowedTools) > 0 {
			args = append(args, "--disallowedTools", strings.Join(cfg.DisallowedTools, ","))
		}
		if cfg.MCP != nil {
			mcpJSON, err := cfg.MCP.ToJSON()
			if err != nil {
				return nil, err
			}
			args = append(args, "--mcp-config", mcpJSON)
			if cfg.MCP.Strict {
				args = append(args, "--strict-mcp-config")
			}
		}
		args = append(args, cfg.CustomArgs...)

		spec := &runner.CommandSpec{
			Path: "claude",
			Args: args,
			Dir:  cfg.WorkingDirectory,
		}
		if apiKey != "" {
			spec.Env = []string{"ANTHROPIC_API_KEY=" + apiKey}
		}
		return spec, nil
	}
}

// GeminiCommand builds the gemini CLI invocation for a session.
func GeminiCommand(apiKey string) runner.CommandBuilder {
	return func(session domain.Session) (*runner.CommandSpec, error) {
		cfg := session.Config

		args := []string{"--prompt", session.Prompt}
		if cfg.Model != "" {
			args = append(args, "--model", cfg.Model)
		}
		args = append(args, cfg.CustomArgs...)

		spec := &runner.CommandSpec{
			Path: "gemini",
			Args: args,
			Dir:  cfg.WorkingDirectory,
		}
		if apiKey != "" {
			spec.Env = []string{"GEMINI_API_KEY=" + apiKey}
		}
		return spec, nil
	}
}
