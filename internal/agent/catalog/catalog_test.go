package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentdeck/agentdeck/internal/agent/domain"
)

func TestProvidersListsAllBackends(t *testing.T) {
	c := New()

	providers := c.Providers(context.Background())
	require.Len(t, providers, 3)

	ids := make([]string, 0, len(providers))
	for _, p := range providers {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []string{"claude-code", "gemini-cli", "synthetic"}, ids)
}

func TestSyntheticAlwaysAvailable(t *testing.T) {
	c := New()

	info, ok := c.Provider(context.Background(), "synthetic")
	require.True(t, ok)
	assert.True(t, info.Available)
	assert.Empty(t, info.RequiredEnv)
}

func TestClaudeAvailabilityFollowsEnv(t *testing.T) {
	c := New()
	ctx := context.Background()

	// No key and no CLI on a bare PATH.
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("PATH", t.TempDir())
	info, ok := c.Provider(ctx, "claude-code")
	require.True(t, ok)
	assert.False(t, info.Available)

	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	info, ok = c.Provider(ctx, "claude-code")
	require.True(t, ok)
	assert.True(t, info.Available)
}

func TestGeminiAvailabilityFollowsEnv(t *testing.T) {
	c := New()
	ctx := context.Background()

	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("PATH", t.TempDir())
	info, ok := c.Provider(ctx, "gemini-cli")
	require.True(t, ok)
	assert.False(t, info.Available)

	t.Setenv("GEMINI_API_KEY", "g-test")
	info, ok = c.Provider(ctx, "gemini-cli")
	require.True(t, ok)
	assert.True(t, info.Available)
}

func TestProviderUnknownID(t *testing.T) {
	c := New()

	_, ok := c.Provider(context.Background(), "cursor")
	assert.False(t, ok)
}

func TestDefaultModels(t *testing.T) {
	c := New()

	assert.Equal(t, "claude-sonnet-4-5", c.DefaultModel("claude-code"))
	assert.Equal(t, "gemini-3-flash-preview", c.DefaultModel("gemini-cli"))
	assert.Equal(t, "", c.DefaultModel("synthetic"))
	assert.Equal(t, "", c.DefaultModel("cursor"))
}

func TestModelCatalogShape(t *testing.T) {
	c := New()

	claude, ok := c.Provider(context.Background(), "claude-code")
	require.True(t, ok)
	require.Len(t, claude.Models, 4)
	assert.True(t, claude.Models[0].IsDefault)
	assert.Equal(t, claude.DefaultModel, claude.Models[0].ID)
	for _, m := range claude.Models {
		assert.Equal(t, 200000, m.ContextWindow)
	}

	gemini, ok := c.Provider(context.Background(), "gemini-cli")
	require.True(t, ok)
	require.Len(t, gemini.Models, 2)
	assert.Equal(t, 1000000, gemini.Models[0].ContextWindow)
	assert.Equal(t, 2000000, gemini.Models[1].ContextWindow)
}

func TestClaudeCommandFlags(t *testing.T) {
	build := ClaudeCommand("sk-test")

	session := domain.Session{
		Prompt: "fix the parser",
		Config: domain.AgentConfiguration{
			Model:            "claude-opus-4-6",
			SessionID:        "sess-1",
			AllowedTools:     []string{"Read", "Grep"},
			DisallowedTools:  []string{"Bash"},
			CustomArgs:       []string{"--max-turns", "3"},
			WorkingDirectory: "/tmp/work",
		},
	}

	spec, err := build(session)
	require.NoError(t, err)

	assert.Equal(t, "claude", spec.Path)
	assert.Equal(t, "/tmp/work", spec.Dir)
	assert.Equal(t, []string{"ANTHROPIC_API_KEY=sk-test"}, spec.Env)
	assert.Equal(t, []string{
		"-p", "fix the parser",
		"--output-format", "stream-json",
		"--verbose",
		"--model", "claude-opus-4-6",
		"--resume", "sess-1",
		"--allowedTools", "Read,Grep",
		"--disallowedTools", "Bash",
		"--max-turns", "3",
	}, spec.Args)
}

func TestClaudeCommandDefaults(t *testing.T) {
	build := ClaudeCommand("")

	spec, err := build(domain.Session{Prompt: "hello"})
	require.NoError(t, err)

	assert.Equal(t, []string{"-p", "hello", "--output-format", "stream-json", "--verbose"}, spec.Args)
	assert.Empty(t, spec.Env)
	assert.Empty(t, spec.Dir)
}

func TestClaudeCommandMCPConfig(t *testing.T) {
	build := ClaudeCommand("")

	session := domain.Session{
		Prompt: "use the fs server",
		Config: domain.AgentConfiguration{
			MCP: &domain.MCPConfig{
				Servers: map[string]domain.MCPServer{
					"fs": {Command: "mcp-fs", Args: []string{"--root", "/srv"}},
				},
				Strict: true,
			},
		},
	}

	spec, err := build(session)
	require.NoError(t, err)

	var mcpJSON string
	for i, arg := range spec.Args {
		if arg == "--mcp-config" {
			require.Greater(t, len(spec.Args), i+1)
			mcpJSON = spec.Args[i+1]
		}
	}
	require.NotEmpty(t, mcpJSON)
	assert.Contains(t, mcpJSON, `"mcpServers"`)
	assert.Contains(t, mcpJSON, `"mcp-fs"`)
	assert.Contains(t, spec.Args, "--strict-mcp-config")
}

func TestGeminiCommandFlags(t *testing.T) {
	build := GeminiCommand("g-test")

	session := domain.Session{
		Prompt: "summarize the repo",
		Config: domain.AgentConfiguration{
			Model:            "gemini-3-pro-preview",
			CustomArgs:       []string{"--sandbox"},
			WorkingDirectory: "/tmp/repo",
		},
	}

	spec, err := build(session)
	require.NoError(t, err)

	assert.Equal(t, "gemini", spec.Path)
	assert.Equal(t, "/tmp/repo", spec.Dir)
	assert.Equal(t, []string{"GEMINI_API_KEY=g-test"}, spec.Env)
	assert.Equal(t, []string{
		"--prompt", "summarize the repo",
		"--model", "gemini-3-pro-preview",
		"--sandbox",
	}, spec.Args)
}
