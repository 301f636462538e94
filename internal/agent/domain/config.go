package domain

// MaxInstructionsLength bounds the instructions option on a launch request.
const MaxInstructionsLength = 100000

// AgentConfiguration carries the recognized launch options. Unrecognized
// client data travels in Metadata untouched.
type AgentConfiguration struct {
	// SessionID is an opaque client-supplied correlation id forwarded to
	// the backend (resume semantics are the backend's business).
	SessionID string `json:"sessionId,omitempty"`

	// OutputFormat selects the CLI output mode: stream-json or json.
	OutputFormat string `json:"outputFormat,omitempty"`

	// CustomArgs are appended to the provider CLI invocation in order.
	CustomArgs []string `json:"customArgs,omitempty"`

	// Timeout in milliseconds; zero means no limit.
	Timeout int64 `json:"timeout,omitempty"`

	AllowedTools    []string `json:"allowedTools,omitempty"`
	DisallowedTools []string `json:"disallowedTools,omitempty"`

	// Instructions are written to the project instruction file for the
	// duration of the launch (at most MaxInstructionsLength chars).
	Instructions string `json:"instructions,omitempty"`

	WorkingDirectory string `json:"workingDirectory,omitempty"`

	MCP *MCPConfig `json:"mcp,omitempty"`

	Model string `json:"model,omitempty"`

	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Clone returns a deep copy of the configuration.
func (c AgentConfiguration) Clone() AgentConfiguration {
	cp := c
	if c.CustomArgs != nil {
		cp.CustomArgs = append([]string(nil), c.CustomArgs...)
	}
	if c.AllowedTools != nil {
		cp.AllowedTools = append([]string(nil), c.AllowedTools...)
	}
	if c.DisallowedTools != nil {
		cp.DisallowedTools = append([]string(nil), c.DisallowedTools...)
	}
	if c.MCP != nil {
		cp.MCP = c.MCP.Clone()
	}
	if c.Metadata != nil {
		cp.Metadata = make(map[string]interface{}, len(c.Metadata))
		for k, v := range c.Metadata {
			cp.Metadata[k] = v
		}
	}
	return cp
}

// Session is the unit of work handed to a runner: the prompt plus its
// configuration. The agent id travels separately as an explicit Start
// parameter.
type Session struct {
	Prompt string             `json:"prompt"`
	Config AgentConfiguration `json:"configuration"`
}
