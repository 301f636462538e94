// Package repository defines the persistence contracts for agents and their
// messages, shared by the sqlite/postgres and in-memory backends.
package repository

import (
	"context"
	"encoding/json"

	"github.com/agentdeck/agentdeck/internal/agent/domain"
	"github.com/agentdeck/agentdeck/internal/common/errors"
)

// MaxSequenceRetries bounds transparent retries of the sequence allocation
// when concurrent appends collide on (agent_id, sequence_number).
const MaxSequenceRetries = 5

// MessageInput carries the caller-supplied fields of a message append. The
// store assigns id, sequence number, and creation time.
type MessageInput struct {
	AgentID  string
	Type     domain.MessageType
	Role     string
	Content  interface{}
	Raw      string
	Metadata map[string]interface{}
}

// MessageStore persists agent messages with dense per-agent sequencing.
type MessageStore interface {
	// Append persists one message, allocating the next sequence number
	// atomically inside the write. Appending to an unknown agent fails
	// with AgentNotFound.
	Append(ctx context.Context, input MessageInput) (*domain.Message, error)

	// ListByAgent returns all messages for the agent in ascending
	// sequence order.
	ListByAgent(ctx context.Context, agentID string) ([]*domain.Message, error)

	// ListSince returns messages with sequence number greater than
	// sinceSeq, ascending.
	ListSince(ctx context.Context, agentID string, sinceSeq int64) ([]*domain.Message, error)

	// CountByAgent returns the number of stored messages for the agent.
	CountByAgent(ctx context.Context, agentID string) (int, error)
}

// AgentRepository persists agent entities.
type AgentRepository interface {
	// Save upserts the agent. Existing rows are updated in place so
	// message children survive status transitions.
	Save(ctx context.Context, agent *domain.Agent) error

	FindByID(ctx context.Context, id string) (*domain.Agent, error)

	// FindAll returns every agent ordered by creation time descending.
	FindAll(ctx context.Context) ([]*domain.Agent, error)

	FindByStatus(ctx context.Context, status domain.AgentStatus) ([]*domain.Agent, error)
	FindByType(ctx context.Context, agentType domain.AgentType) ([]*domain.Agent, error)

	// Delete removes the agent; its messages cascade.
	Delete(ctx context.Context, id string) error

	Exists(ctx context.Context, id string) (bool, error)
}

// Store is the combined persistence surface a backend provides.
type Store interface {
	AgentRepository
	MessageStore
	Close() error
}

// EncodeContent renders message content to its canonical stored form:
// strings verbatim, anything else as JSON.
func EncodeContent(content interface{}) (string, error) {
	switch v := content.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return "", errors.InternalError("encoding message content", err)
		}
		return string(data), nil
	}
}
