// Package catalog describes the agent providers the engine can launch: their
// models, capabilities, and how to detect whether the backing CLI is usable
// on this machine. The catalog also owns each provider's CLI invocation,
// consumed by the subprocess runner.
package catalog

import (
	"context"
	"os"
	"os/exec"

	"github.com/agentdeck/agentdeck/internal/agent/domain"
)

// ModelInfo describes one selectable model of a provider.
type ModelInfo struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Description   string `json:"description,omitempty"`
	ContextWindow int    `json:"contextWindow"`
	IsDefault     bool   `json:"isDefault,omitempty"`
}

// Capabilities lists what a provider's backend supports.
type Capabilities struct {
	Streaming     bool `json:"streaming"`
	MCP           bool `json:"mcp"`
	SessionResume bool `json:"sessionResume"`
	ToolControl   bool `json:"toolControl"`
	Instructions  bool `json:"instructions"`
}

// ProviderInfo is the static description of a provider plus its resolved
// availability. This is the shape served by GET /api/providers.
type ProviderInfo struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Description  string       `json:"description,omitempty"`
	Models       []ModelInfo  `json:"models"`
	DefaultModel string       `json:"defaultModel,omitempty"`
	Capabilities Capabilities `json:"capabilities"`
	RequiredEnv  []string     `json:"requiredEnv,omitempty"`
	Available    bool         `json:"available"`
}

// DetectOption is one availability probe. Probes run in order; the first
// match marks the provider available.
type DetectOption func(ctx context.Context) bool

// WithEnvVar matches when the environment variable is set and non-empty.
func WithEnvVar(name string) DetectOption {
	return func(ctx context.Context) bool {
		return os.Getenv(name) != ""
	}
}

// WithCommand matches when the command resolves in PATH.
func WithCommand(name string) DetectOption {
	return func(ctx context.Context) bool {
		_, err := exec.LookPath(name)
		return err == nil
	}
}

// Always marks a provider available unconditionally.
func Always() DetectOption {
	return func(ctx context.Context) bool { return true }
}

func detect(ctx context.Context, opts ...DetectOption) bool {
	for _, opt := range opts {
		if opt(ctx) {
			return true
		}
	}
	return false
}

type provider struct {
	info   ProviderInfo
	detect []DetectOption
}

// Catalog holds the static provider set. Availability is probed per call so
// a CLI installed after startup shows up without a restart.
type Catalog struct {
	providers []provider
}

// New builds the catalog of supported providers.
func New() *Catalog {
	return &Catalog{providers: []provider{
		{
			info: ProviderInfo{
				ID:          string(domain.AgentTypeClaudeCode),
				Name:        "Claude Code",
				Description: "Anthropic Claude Code CLI, streamed via the stream-json protocol.",
				Models: []ModelInfo{
					{ID: "claude-sonnet-4-5", Name: "Sonnet 4.5", Description: "Latest Sonnet with improved reasoning", ContextWindow: 200000, IsDefault: true},
					{ID: "claude-opus-4-6", Name: "Opus 4.6", Description: "Latest and most capable model for complex tasks", ContextWindow: 200000},
					{ID: "claude-opus-4-5", Name: "Opus 4.5", Description: "Most capable model for complex tasks", ContextWindow: 200000},
					{ID: "claude-haiku-4-5", Name: "Haiku 4.5", Description: "Fast and affordable model for simple tasks", ContextWindow: 200000},
				},
				DefaultModel: "claude-sonnet-4-5",
				Capabilities: Capabilities{
					Streaming:     true,
					MCP:           true,
					SessionResume: true,
					ToolControl:   true,
					Instructions:  true,
				},
				RequiredEnv: []string{"ANTHROPIC_API_KEY"},
			},
			detect: []DetectOption{
				WithEnvVar("ANTHROPIC_API_KEY"),
				WithCommand("claude"),
			},
		},
		{
			info: ProviderInfo{
				ID:          string(domain.AgentTypeGeminiCLI),
				Name:        "Gemini CLI",
				Description: "Google Gemini CLI coding agent.",
				Models: []ModelInfo{
					{ID: "gemini-3-flash-preview", Name: "3 Flash", Description: "Fast and efficient model", ContextWindow: 1000000, IsDefault: true},
					{ID: "gemini-3-pro-preview", Name: "3 Pro", Description: "Most capable model with 2M context", ContextWindow: 2000000},
				},
				DefaultModel: "gemini-3-flash-preview",
				Capabilities: Capabilities{
					Streaming:    true,
					Instructions: true,
				},
				RequiredEnv: []string{"GEMINI_API_KEY"},
			},
			detect: []DetectOption{
				WithEnvVar("GEMINI_API_KEY"),
				WithCommand("gemini"),
			},
		},
		{
			info: ProviderInfo{
				ID:          string(domain.AgentTypeSynthetic),
				Name:        "Synthetic",
				Description: "Scripted in-process agent for development and tests.",
				Models:      []ModelInfo{},
				Capabilities: Capabilities{
					Streaming: true,
				},
			},
			detect: []DetectOption{Always()},
		},
	}}
}

// Providers returns every provider with availability resolved.
func (c *Catalog) Providers(ctx context.Context) []ProviderInfo {
	out := make([]ProviderInfo, 0, len(c.providers))
	for _, p := range c.providers {
		info := p.info
		info.Available = detect(ctx, p.detect...)
		out = append(out, info)
	}
	return out
}

// Provider returns one provider by id with availability resolved.
func (c *Catalog) Provider(ctx context.Context, id string) (ProviderInfo, bool) {
	for _, p := range c.providers {
		if p.info.ID == id {
			info := p.info
			info.Available = detect(ctx, p.detect...)
			return info, true
		}
	}
	return ProviderInfo{}, false
}

// DefaultModel returns the provider's default model id, or "" for unknown
// providers and providers without models.
func (c *Catalog) DefaultModel(id string) string {
	for _, p := range c.providers {
		if p.info.ID == id {
			return p.info.DefaultModel
		}
	}
	return ""
}
