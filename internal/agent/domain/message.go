package domain

import (
	"encoding/json"
	"time"
)

// MessageType classifies a persisted agent message.
type MessageType string

const (
	MessageTypeAssistant MessageType = "assistant"
	MessageTypeUser      MessageType = "user"
	MessageTypeSystem    MessageType = "system"
	MessageTypeError     MessageType = "error"
	MessageTypeTool      MessageType = "tool"
	MessageTypeResponse  MessageType = "response"
)

// Valid reports whether the message type is one of the known kinds.
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeAssistant, MessageTypeUser, MessageTypeSystem,
		MessageTypeError, MessageTypeTool, MessageTypeResponse:
		return true
	}
	return false
}

// Message is one persisted unit of agent output. Messages are append-only
// and densely numbered per agent starting at 1.
type Message struct {
	ID             string                 `json:"id"`
	AgentID        string                 `json:"agentId"`
	SequenceNumber int64                  `json:"sequenceNumber"`
	Type           MessageType            `json:"type"`
	Role           string                 `json:"role,omitempty"`
	Content        string                 `json:"content"`
	Raw            string                 `json:"raw,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt      time.Time              `json:"createdAt"`
}

// DecodedContent attempts to parse Content as JSON, returning the parsed
// value on success and the raw string otherwise.
func (m *Message) DecodedContent() interface{} {
	var decoded interface{}
	if err := json.Unmarshal([]byte(m.Content), &decoded); err != nil {
		return m.Content
	}
	return decoded
}

// Clone returns a copy whose metadata map is independent of the original.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	cp := *m
	if m.Metadata != nil {
		cp.Metadata = make(map[string]interface{}, len(m.Metadata))
		for k, v := range m.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}
