package runner

import (
	"encoding/json"

	"github.com/agentdeck/agentdeck/internal/agent/domain"
	"github.com/agentdeck/agentdeck/pkg/claudecode"
)

// OutputsFromCLI maps one parsed stream-json message to persistable outputs.
// An assistant line can yield several: its text plus one per tool_use block.
// The mapping is shared by the subprocess and proxy runners.
func OutputsFromCLI(msg *claudecode.CLIMessage) []Output {
	if msg == nil {
		return nil
	}

	raw := string(msg.RawContent)

	switch msg.Type {
	case claudecode.MessageTypeSystem:
		return []Output{{
			Type:    domain.MessageTypeSystem,
			Role:    "system",
			Content: decodeRaw(msg.RawContent),
			Raw:     raw,
		}}

	case claudecode.MessageTypeAssistant:
		var outputs []Output
		if text := msg.Text(); text != "" {
			outputs = append(outputs, Output{
				Type:    domain.MessageTypeAssistant,
				Role:    "assistant",
				Content: text,
				Raw:     raw,
			})
		}
		for _, use := range msg.ToolUses() {
			outputs = append(outputs, Output{
				Type: domain.MessageTypeTool,
				Role: "assistant",
				Content: map[string]any{
					"id":    use.ID,
					"name":  use.Name,
					"input": use.Input,
				},
				Raw: raw,
			})
		}
		return outputs

	case claudecode.MessageTypeUser:
		var outputs []Output
		if text := msg.Text(); text != "" {
			outputs = append(outputs, Output{
				Type:    domain.MessageTypeUser,
				Role:    "user",
				Content: text,
				Raw:     raw,
			})
		}
		for _, block := range toolResults(msg) {
			outputs = append(outputs, Output{
				Type: domain.MessageTypeTool,
				Role: "user",
				Content: map[string]any{
					"toolUseId": block.ToolUseID,
					"content":   block.Content,
					"isError":   block.IsError,
				},
				Raw: raw,
			})
		}
		return outputs

	case claudecode.MessageTypeResult:
		return []Output{{
			Type:     domain.MessageTypeResponse,
			Role:     "assistant",
			Content:  resultContent(msg),
			Raw:      raw,
			Metadata: msg.Stats(),
		}}
	}

	return nil
}

func toolResults(msg *claudecode.CLIMessage) []claudecode.ContentBlock {
	if msg.Message == nil {
		return nil
	}
	var blocks []claudecode.ContentBlock
	for _, block := range msg.Message.Content {
		if block.Type == "tool_result" {
			blocks = append(blocks, block)
		}
	}
	return blocks
}

func resultContent(msg *claudecode.CLIMessage) any {
	if s := msg.GetResultString(); s != "" {
		return s
	}
	if data := msg.GetResultData(); data != nil && data.Text != "" {
		return data.Text
	}
	return decodeRaw(msg.RawContent)
}

func decodeRaw(raw json.RawMessage) any {
	if len(raw) == 0 {
		return ""
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return string(raw)
	}
	return decoded
}
