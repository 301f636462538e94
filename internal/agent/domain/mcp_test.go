package domain

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMCPToJSONOmitsStdioTransport(t *testing.T) {
	cfg := &MCPConfig{
		Servers: map[string]MCPServer{
			"files": {Command: "npx", Args: []string{"-y", "@mcp/files"}, Transport: MCPTransportStdio},
			"search": {
				Command:   "search-server",
				Env:       map[string]string{"API_KEY": "k"},
				Transport: MCPTransportHTTP,
			},
		},
	}

	out, err := cfg.ToJSON()
	require.NoError(t, err)

	var wire map[string]map[string]map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &wire))
	servers := wire["mcpServers"]
	require.Len(t, servers, 2)

	_, hasTransport := servers["files"]["transport"]
	assert.False(t, hasTransport, "stdio transport must be omitted")
	assert.Equal(t, "http", servers["search"]["transport"])
	assert.Equal(t, "npx", servers["files"]["command"])
}

func TestMCPJSONRoundTrip(t *testing.T) {
	cfg := &MCPConfig{
		Servers: map[string]MCPServer{
			"files":  {Command: "npx", Args: []string{"-y", "@mcp/files"}},
			"remote": {Command: "r", Transport: MCPTransportSSE},
		},
	}

	out, err := cfg.ToJSON()
	require.NoError(t, err)

	parsed, err := ParseMCPJSON(out)
	require.NoError(t, err)
	require.Len(t, parsed.Servers, 2)
	assert.Equal(t, MCPTransportStdio, parsed.Servers["files"].Transport)
	assert.Equal(t, MCPTransportSSE, parsed.Servers["remote"].Transport)
	assert.Equal(t, []string{"-y", "@mcp/files"}, parsed.Servers["files"].Args)
	assert.False(t, parsed.Strict)
	assert.NotContains(t, out, `"strict"`, "strict key is omitted when unset")
}

func TestMCPStrictRoundTrip(t *testing.T) {
	cfg := &MCPConfig{
		Servers: map[string]MCPServer{
			"files": {Command: "npx", Args: []string{"server"}, Env: map[string]string{"K": "v"}},
		},
		Strict: true,
	}

	out, err := cfg.ToJSON()
	require.NoError(t, err)

	var wire map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(out), &wire))
	assert.Equal(t, "true", string(wire["strict"]))

	parsed, err := ParseMCPJSON(out)
	require.NoError(t, err)
	assert.True(t, parsed.Strict)
	assert.Equal(t, []string{"server"}, parsed.Servers["files"].Args)
	assert.Equal(t, map[string]string{"K": "v"}, parsed.Servers["files"].Env)
}

func TestMCPValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  MCPConfig
	}{
		{"empty", MCPConfig{}},
		{"bad name", MCPConfig{Servers: map[string]MCPServer{"has space": {Command: "c"}}}},
		{"empty command", MCPConfig{Servers: map[string]MCPServer{"ok": {}}}},
		{"bad transport", MCPConfig{Servers: map[string]MCPServer{"ok": {Command: "c", Transport: "grpc"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.cfg.Validate())
		})
	}

	good := MCPConfig{Servers: map[string]MCPServer{"ok-server_1": {Command: "c"}}}
	assert.NoError(t, good.Validate())
}

func TestLaunchRequestValidate(t *testing.T) {
	valid := NewLaunchRequest(AgentTypeSynthetic, "  hello  ", AgentConfiguration{})
	require.NoError(t, valid.Validate())
	assert.Equal(t, "hello", valid.Prompt)
	assert.NotEmpty(t, valid.ID)

	t.Run("empty prompt", func(t *testing.T) {
		r := NewLaunchRequest(AgentTypeSynthetic, "   ", AgentConfiguration{})
		assert.Error(t, r.Validate())
	})

	t.Run("unknown type", func(t *testing.T) {
		r := NewLaunchRequest("cursor", "p", AgentConfiguration{})
		assert.Error(t, r.Validate())
	})

	t.Run("instructions at limit", func(t *testing.T) {
		r := NewLaunchRequest(AgentTypeSynthetic, "p", AgentConfiguration{
			Instructions: strings.Repeat("a", MaxInstructionsLength),
		})
		assert.NoError(t, r.Validate())
	})

	t.Run("instructions over limit", func(t *testing.T) {
		r := NewLaunchRequest(AgentTypeSynthetic, "p", AgentConfiguration{
			Instructions: strings.Repeat("a", MaxInstructionsLength+1),
		})
		assert.Error(t, r.Validate())
	})

	t.Run("invalid mcp", func(t *testing.T) {
		r := NewLaunchRequest(AgentTypeSynthetic, "p", AgentConfiguration{
			MCP: &MCPConfig{Servers: map[string]MCPServer{"bad name": {Command: "c"}}},
		})
		assert.Error(t, r.Validate())
	})
}

func TestMessageDecodedContent(t *testing.T) {
	structured := &Message{Content: `{"text":"hi","n":2}`}
	decoded, ok := structured.DecodedContent().(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "hi", decoded["text"])

	plain := &Message{Content: "just a string"}
	assert.Equal(t, "just a string", plain.DecodedContent())
}
