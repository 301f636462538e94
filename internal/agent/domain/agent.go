// Package domain holds the core entities of the agent runtime: agents,
// their lifecycle, messages, launch requests, and MCP configuration.
package domain

import (
	"time"

	"github.com/google/uuid"

	"github.com/agentdeck/agentdeck/internal/common/errors"
)

// AgentType identifies the provider backend an agent runs on.
type AgentType string

const (
	AgentTypeClaudeCode AgentType = "claude-code"
	AgentTypeGeminiCLI  AgentType = "gemini-cli"
	AgentTypeSynthetic  AgentType = "synthetic"
)

// Valid reports whether the type is one of the known providers.
func (t AgentType) Valid() bool {
	switch t {
	case AgentTypeClaudeCode, AgentTypeGeminiCLI, AgentTypeSynthetic:
		return true
	}
	return false
}

// AgentStatus is the lifecycle state of an agent.
type AgentStatus string

const (
	StatusInitializing AgentStatus = "INITIALIZING"
	StatusRunning      AgentStatus = "RUNNING"
	StatusCompleted    AgentStatus = "COMPLETED"
	StatusFailed       AgentStatus = "FAILED"
	StatusTerminated   AgentStatus = "TERMINATED"
)

// Valid reports whether the status is a known lifecycle state.
func (s AgentStatus) Valid() bool {
	switch s {
	case StatusInitializing, StatusRunning, StatusCompleted, StatusFailed, StatusTerminated:
		return true
	}
	return false
}

// IsTerminal reports whether the status admits no further transitions.
func (s AgentStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTerminated:
		return true
	}
	return false
}

// CanTransitionTo reports whether next is reachable from s. The legal set
// is INITIALIZING→RUNNING and RUNNING→{COMPLETED, FAILED, TERMINATED}.
func (s AgentStatus) CanTransitionTo(next AgentStatus) bool {
	switch s {
	case StatusInitializing:
		return next == StatusRunning
	case StatusRunning:
		return next == StatusCompleted || next == StatusFailed || next == StatusTerminated
	}
	return false
}

// AgentError captures why an agent transitioned to FAILED.
type AgentError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// Agent is a single launched agent process and its lifecycle state.
// Readers hold cloned snapshots; the orchestrator and broadcaster are the
// only mutators.
type Agent struct {
	ID          string             `json:"id"`
	Type        AgentType          `json:"type"`
	Status      AgentStatus        `json:"status"`
	Prompt      string             `json:"prompt"`
	Config      AgentConfiguration `json:"configuration"`
	CreatedAt   time.Time          `json:"createdAt"`
	StartedAt   *time.Time         `json:"startedAt,omitempty"`
	CompletedAt *time.Time         `json:"completedAt,omitempty"`
	Error       *AgentError        `json:"error,omitempty"`
}

// NewAgent constructs an INITIALIZING agent with a freshly minted id.
func NewAgent(agentType AgentType, prompt string, cfg AgentConfiguration) *Agent {
	return &Agent{
		ID:        uuid.New().String(),
		Type:      agentType,
		Status:    StatusInitializing,
		Prompt:    prompt,
		Config:    cfg,
		CreatedAt: time.Now().UTC(),
	}
}

// IsActive reports whether the agent is still doing work.
func (a *Agent) IsActive() bool {
	return a.Status == StatusInitializing || a.Status == StatusRunning
}

func (a *Agent) transitionTo(next AgentStatus) error {
	if !a.Status.CanTransitionTo(next) {
		return errors.Conflict(
			"illegal status transition from " + string(a.Status) + " to " + string(next))
	}
	a.Status = next
	return nil
}

// MarkRunning transitions INITIALIZING → RUNNING and records startedAt.
func (a *Agent) MarkRunning() error {
	if err := a.transitionTo(StatusRunning); err != nil {
		return err
	}
	now := time.Now().UTC()
	a.StartedAt = &now
	return nil
}

// MarkCompleted transitions RUNNING → COMPLETED and records completedAt.
func (a *Agent) MarkCompleted() error {
	if err := a.transitionTo(StatusCompleted); err != nil {
		return err
	}
	now := time.Now().UTC()
	a.CompletedAt = &now
	return nil
}

// MarkFailed transitions RUNNING → FAILED, recording completedAt and the
// failure name + message.
func (a *Agent) MarkFailed(name, message string) error {
	if err := a.transitionTo(StatusFailed); err != nil {
		return err
	}
	now := time.Now().UTC()
	a.CompletedAt = &now
	a.Error = &AgentError{Name: name, Message: message}
	return nil
}

// MarkTerminated transitions RUNNING → TERMINATED and records completedAt.
func (a *Agent) MarkTerminated() error {
	if err := a.transitionTo(StatusTerminated); err != nil {
		return err
	}
	now := time.Now().UTC()
	a.CompletedAt = &now
	return nil
}

// Clone returns a deep copy safe to hand to readers.
func (a *Agent) Clone() *Agent {
	if a == nil {
		return nil
	}
	cp := *a
	cp.Config = a.Config.Clone()
	if a.StartedAt != nil {
		t := *a.StartedAt
		cp.StartedAt = &t
	}
	if a.CompletedAt != nil {
		t := *a.CompletedAt
		cp.CompletedAt = &t
	}
	if a.Error != nil {
		e := *a.Error
		cp.Error = &e
	}
	return &cp
}
