// Package claudecode provides types and a line parser for the Claude Code CLI
// stream-json protocol. The CLI emits one JSON object per stdout line; the
// same shape travels as the data payload of `message` events on the HTTP-SSE
// proxy stream.
package claudecode

import "encoding/json"

// Message types from Claude Code CLI
const (
	// MessageTypeSystem is the initial system message with session info
	MessageTypeSystem = "system"
	// MessageTypeAssistant contains text or thinking from the assistant
	MessageTypeAssistant = "assistant"
	// MessageTypeUser is a user message (prompt echo or tool results)
	MessageTypeUser = "user"
	// MessageTypeResult is the final result message
	MessageTypeResult = "result"
	// MessageTypeStreamEvent is a partial content update
	MessageTypeStreamEvent = "stream_event"
	// MessageTypeControlRequest is a control request (permission, hook)
	MessageTypeControlRequest = "control_request"
	// MessageTypeControlResponse is a response to a control request
	MessageTypeControlResponse = "control_response"
)

// CLIMessage represents messages from Claude Code CLI stdout.
// The message type determines which fields are populated.
type CLIMessage struct {
	// Type is the message type (system, assistant, user, result)
	Type string `json:"type"`

	// For system messages
	SessionID string `json:"session_id,omitempty"`
	Model     string `json:"model,omitempty"`

	// For assistant and user messages
	Message *AssistantMessage `json:"message,omitempty"`

	// For result messages
	// Result can be either a string (error message) or an object (ResultData)
	Result            json.RawMessage            `json:"result,omitempty"`
	Subtype           string                     `json:"subtype,omitempty"`
	CostUSD           float64                    `json:"cost_usd,omitempty"`
	DurationMS        int64                      `json:"duration_ms,omitempty"`
	DurationAPIMS     int64                      `json:"duration_api_ms,omitempty"`
	IsError           bool                       `json:"is_error,omitempty"`
	NumTurns          int                        `json:"num_turns,omitempty"`
	TotalInputTokens  int64                      `json:"total_input_tokens,omitempty"`
	TotalOutputTokens int64                      `json:"total_output_tokens,omitempty"`
	Usage             *Usage                     `json:"usage,omitempty"`
	ModelUsage        map[string]ModelUsageStats `json:"model_usage,omitempty"`

	// RawContent carries the original line for persistence
	RawContent json.RawMessage `json:"-"`
}

// AssistantMessage contains the assistant's response content.
type AssistantMessage struct {
	Role       string         `json:"role"`
	Content    []ContentBlock `json:"content,omitempty"`
	Model      string         `json:"model,omitempty"`
	StopReason string         `json:"stop_reason,omitempty"`
	Usage      *Usage         `json:"usage,omitempty"`
}

// ContentBlock represents a block of content in an assistant message.
type ContentBlock struct {
	Type string `json:"type"`

	// For text blocks
	Text string `json:"text,omitempty"`

	// For thinking blocks
	Thinking string `json:"thinking,omitempty"`

	// For tool_use blocks
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`

	// For tool_result blocks
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

// Usage contains token usage information.
type Usage struct {
	InputTokens              int64 `json:"input_tokens"`
	OutputTokens             int64 `json:"output_tokens"`
	CacheCreationInputTokens int64 `json:"cache_creation_input_tokens,omitempty"`
	CacheReadInputTokens     int64 `json:"cache_read_input_tokens,omitempty"`
}

// ModelUsageStats contains per-model usage statistics from the result message.
type ModelUsageStats struct {
	ContextWindow *int64 `json:"context_window,omitempty"`
}

// ResultData contains the final result information when the result field is
// an object rather than a plain string.
type ResultData struct {
	Text      string `json:"text,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// GetResultData attempts to parse the Result field as a ResultData object.
// Returns nil if Result is empty, a string, or cannot be parsed as ResultData.
func (m *CLIMessage) GetResultData() *ResultData {
	if len(m.Result) == 0 {
		return nil
	}
	var data ResultData
	if err := json.Unmarshal(m.Result, &data); err != nil {
		return nil
	}
	return &data
}

// GetResultString returns the Result field as a string.
// This is used when the result is a plain text summary or error message.
func (m *CLIMessage) GetResultString() string {
	if len(m.Result) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(m.Result, &s); err != nil {
		// Not a string, return empty
		return ""
	}
	return s
}

// Text concatenates the text blocks of an assistant or user message.
// Thinking, tool_use and tool_result blocks are excluded.
func (m *CLIMessage) Text() string {
	if m.Message == nil {
		return ""
	}
	var out string
	for _, block := range m.Message.Content {
		if block.Type == "text" {
			out += block.Text
		}
	}
	return out
}

// ToolUses returns the tool_use blocks of an assistant message.
func (m *CLIMessage) ToolUses() []ContentBlock {
	if m.Message == nil {
		return nil
	}
	var uses []ContentBlock
	for _, block := range m.Message.Content {
		if block.Type == "tool_use" {
			uses = append(uses, block)
		}
	}
	return uses
}

// Stats flattens the execution statistics carried on a result message.
// Returns nil for non-result messages.
func (m *CLIMessage) Stats() map[string]any {
	if m.Type != MessageTypeResult {
		return nil
	}
	stats := map[string]any{
		"costUsd":    m.CostUSD,
		"durationMs": m.DurationMS,
		"numTurns":   m.NumTurns,
	}
	if m.DurationAPIMS > 0 {
		stats["durationApiMs"] = m.DurationAPIMS
	}
	if m.TotalInputTokens > 0 {
		stats["totalInputTokens"] = m.TotalInputTokens
	}
	if m.TotalOutputTokens > 0 {
		stats["totalOutputTokens"] = m.TotalOutputTokens
	}
	if m.Usage != nil {
		stats["inputTokens"] = m.Usage.InputTokens
		stats["outputTokens"] = m.Usage.OutputTokens
	}
	return stats
}
