// Package events provides event types and utilities for the AgentDeck event system.
package events

import "encoding/json"

// Event types for agent lifecycle changes. The subject an event is published
// on is the event type itself, so subscribers can use NATS-style wildcards.
const (
	AgentCreated = "agent.created"
	AgentUpdated = "agent.updated"
	AgentDeleted = "agent.deleted"
)

// SubjectAgentAll matches every agent lifecycle subject.
const SubjectAgentAll = "agent.>"

// SourceEngine identifies events produced by the orchestration engine.
const SourceEngine = "engine"

// ToEventData converts any JSON-serializable value into the generic payload
// map carried on the bus. Returns an empty map if the value cannot be
// round-tripped through JSON.
func ToEventData(v interface{}) map[string]interface{} {
	raw, err := json.Marshal(v)
	if err != nil {
		return map[string]interface{}{}
	}
	data := make(map[string]interface{})
	if err := json.Unmarshal(raw, &data); err != nil {
		return map[string]interface{}{}
	}
	return data
}
