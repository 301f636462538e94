// Package wsproto defines the realtime event protocol spoken on /ws.
// Every frame in both directions is an Envelope; the event name selects
// the data payload shape.
package wsproto

import (
	"encoding/json"
	"time"
)

// Client -> server events
const (
	EventSubscribe   = "subscribe"
	EventUnsubscribe = "unsubscribe"
)

// Server -> client events
const (
	// EventConnected is sent once after the handshake
	EventConnected = "connected"
	// EventSubscribed / EventUnsubscribed acknowledge room changes
	EventSubscribed   = "subscribed"
	EventUnsubscribed = "unsubscribed"

	// Broadcast to every connected client
	EventAgentCreated = "agent:created"
	EventAgentUpdated = "agent:updated"
	EventAgentDeleted = "agent:deleted"

	// Delivered to the agent's room only
	EventAgentMessage  = "agent:message"
	EventAgentStatus   = "agent:status"
	EventAgentError    = "agent:error"
	EventAgentComplete = "agent:complete"

	// EventError reports a failed client request (bad subscribe etc.)
	EventError = "error"
)

// RoomPrefix namespaces per-agent rooms.
const RoomPrefix = "agent:"

// RoomForAgent returns the room name that carries one agent's stream.
func RoomForAgent(agentID string) string {
	return RoomPrefix + agentID
}

// Envelope is the frame for all realtime messages.
type Envelope struct {
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEnvelope creates an envelope with the payload marshaled in place.
func NewEnvelope(event string, data interface{}) (*Envelope, error) {
	var raw json.RawMessage
	if data != nil {
		encoded, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		raw = encoded
	}
	return &Envelope{
		Event:     event,
		Data:      raw,
		Timestamp: time.Now().UTC(),
	}, nil
}

// ParseData parses the payload into the given struct.
func (e *Envelope) ParseData(v interface{}) error {
	if e.Data == nil {
		return nil
	}
	return json.Unmarshal(e.Data, v)
}

// SubscriptionPayload is the payload of subscribe/unsubscribe requests and
// their subscribed/unsubscribed acknowledgements.
type SubscriptionPayload struct {
	AgentID string `json:"agentId"`
}

// ConnectedPayload is sent once per connection.
type ConnectedPayload struct {
	ClientID string `json:"clientId"`
}

// AgentCreatedPayload carries the full agent snapshot.
type AgentCreatedPayload struct {
	Agent interface{} `json:"agent"`
}

// AgentUpdatedPayload announces a lifecycle change to all clients.
type AgentUpdatedPayload struct {
	AgentID string `json:"agentId"`
	Status  string `json:"status"`
}

// AgentDeletedPayload announces a removal to all clients.
type AgentDeletedPayload struct {
	AgentID string `json:"agentId"`
}

// AgentMessagePayload carries one persisted message to the agent's room.
type AgentMessagePayload struct {
	AgentID string      `json:"agentId"`
	Message interface{} `json:"message"`
}

// AgentStatusPayload carries a status change to the agent's room.
type AgentStatusPayload struct {
	AgentID string `json:"agentId"`
	Status  string `json:"status"`
}

// AgentErrorPayload carries a runner error to the agent's room.
type AgentErrorPayload struct {
	AgentID string       `json:"agentId"`
	Error   ErrorDetails `json:"error"`
}

// ErrorDetails names a runner-side failure.
type ErrorDetails struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// AgentCompletePayload carries the final result to the agent's room.
type AgentCompletePayload struct {
	AgentID string        `json:"agentId"`
	Result  ResultSummary `json:"result"`
}

// ResultSummary summarizes a finished run. Duration is in milliseconds.
type ResultSummary struct {
	Status       string         `json:"status"`
	Duration     int64          `json:"duration"`
	MessageCount int            `json:"messageCount"`
	Stats        map[string]any `json:"stats,omitempty"`
}

// ErrorPayload reports a failed client request.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
