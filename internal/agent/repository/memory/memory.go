// Package memory provides an in-memory repository implementation. It mirrors
// the SQL backend's observable behavior: dense sequence allocation, foreign
// key enforcement on append, and cascade on delete.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentdeck/agentdeck/internal/agent/domain"
	"github.com/agentdeck/agentdeck/internal/agent/repository"
	"github.com/agentdeck/agentdeck/internal/common/errors"
)

// Store keeps agents and messages in mutex-guarded maps. All reads return
// clones so callers can never mutate stored state.
type Store struct {
	mu       sync.RWMutex
	agents   map[string]*domain.Agent
	messages map[string][]*domain.Message // per agent, index i holds sequence i+1
}

// New creates an empty store.
func New() *Store {
	return &Store{
		agents:   make(map[string]*domain.Agent),
		messages: make(map[string][]*domain.Message),
	}
}

// Save upserts a clone of the agent.
func (s *Store) Save(_ context.Context, agent *domain.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[agent.ID] = agent.Clone()
	return nil
}

// FindByID returns a clone of the stored agent.
func (s *Store) FindByID(_ context.Context, id string) (*domain.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	agent, ok := s.agents[id]
	if !ok {
		return nil, errors.AgentNotFound(id)
	}
	return agent.Clone(), nil
}

// FindAll returns every agent, newest first.
func (s *Store) FindAll(_ context.Context) ([]*domain.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(func(*domain.Agent) bool { return true }), nil
}

// FindByStatus returns agents in the given lifecycle state, newest first.
func (s *Store) FindByStatus(_ context.Context, status domain.AgentStatus) ([]*domain.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(func(a *domain.Agent) bool { return a.Status == status }), nil
}

// FindByType returns agents of the given provider type, newest first.
func (s *Store) FindByType(_ context.Context, agentType domain.AgentType) ([]*domain.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(func(a *domain.Agent) bool { return a.Type == agentType }), nil
}

// collect must be called with the lock held.
func (s *Store) collect(keep func(*domain.Agent) bool) []*domain.Agent {
	var result []*domain.Agent
	for _, agent := range s.agents {
		if keep(agent) {
			result = append(result, agent.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result
}

// Delete removes the agent and cascades its messages.
func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agents[id]; !ok {
		return errors.AgentNotFound(id)
	}
	delete(s.agents, id)
	delete(s.messages, id)
	return nil
}

// Exists reports whether the agent is stored.
func (s *Store) Exists(_ context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.agents[id]
	return ok, nil
}

// Append assigns the next dense sequence number under the write lock, which
// is this backend's equivalent of allocation inside the INSERT.
func (s *Store) Append(_ context.Context, input repository.MessageInput) (*domain.Message, error) {
	content, err := repository.EncodeContent(input.Content)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.agents[input.AgentID]; !ok {
		return nil, errors.AgentNotFound(input.AgentID)
	}

	msg := &domain.Message{
		ID:             uuid.New().String(),
		AgentID:        input.AgentID,
		SequenceNumber: int64(len(s.messages[input.AgentID]) + 1),
		Type:           input.Type,
		Role:           input.Role,
		Content:        content,
		Raw:            input.Raw,
		CreatedAt:      time.Now().UTC(),
	}
	if input.Metadata != nil {
		msg.Metadata = make(map[string]interface{}, len(input.Metadata))
		for k, v := range input.Metadata {
			msg.Metadata[k] = v
		}
	}

	s.messages[input.AgentID] = append(s.messages[input.AgentID], msg)
	return msg.Clone(), nil
}

// ListByAgent returns the agent's messages in ascending sequence order.
func (s *Store) ListByAgent(_ context.Context, agentID string) ([]*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored := s.messages[agentID]
	result := make([]*domain.Message, 0, len(stored))
	for _, msg := range stored {
		result = append(result, msg.Clone())
	}
	return result, nil
}

// ListSince returns messages with sequence number greater than sinceSeq.
func (s *Store) ListSince(_ context.Context, agentID string, sinceSeq int64) ([]*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored := s.messages[agentID]
	var result []*domain.Message
	for _, msg := range stored {
		if msg.SequenceNumber > sinceSeq {
			result = append(result, msg.Clone())
		}
	}
	return result, nil
}

// CountByAgent returns the number of stored messages for the agent.
func (s *Store) CountByAgent(_ context.Context, agentID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages[agentID]), nil
}

// Close is a no-op for the in-memory backend.
func (s *Store) Close() error {
	return nil
}
