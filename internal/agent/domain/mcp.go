package domain

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/agentdeck/agentdeck/internal/common/errors"
)

// MCPTransport selects how a configured MCP server is reached.
type MCPTransport string

const (
	MCPTransportStdio MCPTransport = "stdio"
	MCPTransportHTTP  MCPTransport = "http"
	MCPTransportSSE   MCPTransport = "sse"
)

var mcpNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// MCPServer describes one MCP server an agent may talk to.
type MCPServer struct {
	Command   string            `json:"command"`
	Args      []string          `json:"args,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	Transport MCPTransport      `json:"transport,omitempty"`
}

// MCPConfig maps server names to their definitions, plus the strict flag
// forwarded to backends that support strict MCP enforcement.
type MCPConfig struct {
	Servers map[string]MCPServer `json:"mcpServers"`
	Strict  bool                 `json:"strict,omitempty"`
}

// Validate checks server names and commands.
func (c *MCPConfig) Validate() error {
	if len(c.Servers) == 0 {
		return errors.ValidationError("mcp", "at least one server is required")
	}
	for name, srv := range c.Servers {
		if !mcpNamePattern.MatchString(name) {
			return errors.ValidationError("mcp",
				fmt.Sprintf("server name '%s' must match [A-Za-z0-9_-]+", name))
		}
		if srv.Command == "" {
			return errors.ValidationError("mcp",
				fmt.Sprintf("server '%s' has an empty command", name))
		}
		switch srv.Transport {
		case "", MCPTransportStdio, MCPTransportHTTP, MCPTransportSSE:
		default:
			return errors.ValidationError("mcp",
				fmt.Sprintf("server '%s' has unknown transport '%s'", name, srv.Transport))
		}
	}
	return nil
}

// mcpWireFormat is the serialization handed to backends. Strict rides along
// as a top-level key, emitted only when set; backends that take strictness as
// a command-line flag ignore it.
type mcpWireFormat struct {
	MCPServers map[string]MCPServer `json:"mcpServers"`
	Strict     bool                 `json:"strict,omitempty"`
}

// ToJSON renders the backend wire form
// {"mcpServers":{name:{command,args,env,transport?}}}. The transport field
// is omitted for stdio, the default.
func (c *MCPConfig) ToJSON() (string, error) {
	wire := mcpWireFormat{
		MCPServers: make(map[string]MCPServer, len(c.Servers)),
		Strict:     c.Strict,
	}
	for name, srv := range c.Servers {
		if srv.Transport == MCPTransportStdio {
			srv.Transport = ""
		}
		wire.MCPServers[name] = srv
	}
	data, err := json.Marshal(wire)
	if err != nil {
		return "", errors.InternalError("marshaling mcp config", err)
	}
	return string(data), nil
}

// ParseMCPJSON parses the wire form back into an MCPConfig. Servers without
// a transport are stdio.
func ParseMCPJSON(data string) (*MCPConfig, error) {
	var wire mcpWireFormat
	if err := json.Unmarshal([]byte(data), &wire); err != nil {
		return nil, errors.ValidationError("mcp", "invalid mcp config json: "+err.Error())
	}
	cfg := &MCPConfig{
		Servers: make(map[string]MCPServer, len(wire.MCPServers)),
		Strict:  wire.Strict,
	}
	for name, srv := range wire.MCPServers {
		if srv.Transport == "" {
			srv.Transport = MCPTransportStdio
		}
		cfg.Servers[name] = srv
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Clone returns a deep copy of the configuration.
func (c *MCPConfig) Clone() *MCPConfig {
	if c == nil {
		return nil
	}
	cp := &MCPConfig{Strict: c.Strict, Servers: make(map[string]MCPServer, len(c.Servers))}
	for name, srv := range c.Servers {
		s := srv
		if srv.Args != nil {
			s.Args = append([]string(nil), srv.Args...)
		}
		if srv.Env != nil {
			s.Env = make(map[string]string, len(srv.Env))
			for k, v := range srv.Env {
				s.Env[k] = v
			}
		}
		cp.Servers[name] = s
	}
	return cp
}
