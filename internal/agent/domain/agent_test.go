package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentdeck/agentdeck/internal/common/errors"
)

func TestNewAgent(t *testing.T) {
	agent := NewAgent(AgentTypeSynthetic, "do the thing", AgentConfiguration{})

	assert.NotEmpty(t, agent.ID)
	assert.Equal(t, StatusInitializing, agent.Status)
	assert.Equal(t, "do the thing", agent.Prompt)
	assert.False(t, agent.CreatedAt.IsZero())
	assert.Nil(t, agent.StartedAt)
	assert.Nil(t, agent.CompletedAt)
	assert.True(t, agent.IsActive())
}

func TestLifecycleHappyPath(t *testing.T) {
	agent := NewAgent(AgentTypeClaudeCode, "p", AgentConfiguration{})

	require.NoError(t, agent.MarkRunning())
	assert.Equal(t, StatusRunning, agent.Status)
	require.NotNil(t, agent.StartedAt)
	assert.True(t, agent.IsActive())

	require.NoError(t, agent.MarkCompleted())
	assert.Equal(t, StatusCompleted, agent.Status)
	require.NotNil(t, agent.CompletedAt)
	assert.False(t, agent.IsActive())
	assert.True(t, agent.Status.IsTerminal())
}

func TestMarkFailedRecordsError(t *testing.T) {
	agent := NewAgent(AgentTypeClaudeCode, "p", AgentConfiguration{})
	require.NoError(t, agent.MarkRunning())
	require.NoError(t, agent.MarkFailed("BackendError", "process exited with code 1"))

	assert.Equal(t, StatusFailed, agent.Status)
	require.NotNil(t, agent.Error)
	assert.Equal(t, "BackendError", agent.Error.Name)
	assert.Equal(t, "process exited with code 1", agent.Error.Message)
	assert.NotNil(t, agent.CompletedAt)
}

func TestIllegalTransitions(t *testing.T) {
	tests := []struct {
		name string
		run  func(a *Agent) error
	}{
		{"initializing to completed", func(a *Agent) error { return a.MarkCompleted() }},
		{"initializing to failed", func(a *Agent) error { return a.MarkFailed("x", "y") }},
		{"initializing to terminated", func(a *Agent) error { return a.MarkTerminated() }},
		{"completed to running", func(a *Agent) error {
			_ = a.MarkRunning()
			_ = a.MarkCompleted()
			return a.MarkRunning()
		}},
		{"terminated to completed", func(a *Agent) error {
			_ = a.MarkRunning()
			_ = a.MarkTerminated()
			return a.MarkCompleted()
		}},
		{"failed to terminated", func(a *Agent) error {
			_ = a.MarkRunning()
			_ = a.MarkFailed("x", "y")
			return a.MarkTerminated()
		}},
		{"double complete", func(a *Agent) error {
			_ = a.MarkRunning()
			_ = a.MarkCompleted()
			return a.MarkCompleted()
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agent := NewAgent(AgentTypeSynthetic, "p", AgentConfiguration{})
			err := tt.run(agent)
			require.Error(t, err)
			assert.True(t, errors.IsConflict(err), "expected conflict, got %v", err)
		})
	}
}

func TestCanTransitionTo(t *testing.T) {
	assert.True(t, StatusInitializing.CanTransitionTo(StatusRunning))
	assert.True(t, StatusRunning.CanTransitionTo(StatusCompleted))
	assert.True(t, StatusRunning.CanTransitionTo(StatusFailed))
	assert.True(t, StatusRunning.CanTransitionTo(StatusTerminated))

	assert.False(t, StatusInitializing.CanTransitionTo(StatusCompleted))
	assert.False(t, StatusInitializing.CanTransitionTo(StatusTerminated))
	assert.False(t, StatusCompleted.CanTransitionTo(StatusRunning))
	assert.False(t, StatusTerminated.CanTransitionTo(StatusFailed))
}

func TestCloneIsIndependent(t *testing.T) {
	agent := NewAgent(AgentTypeClaudeCode, "p", AgentConfiguration{
		CustomArgs: []string{"--verbose"},
		Metadata:   map[string]interface{}{"k": "v"},
	})
	require.NoError(t, agent.MarkRunning())

	cp := agent.Clone()
	cp.Status = StatusFailed
	cp.Config.CustomArgs[0] = "--quiet"
	cp.Config.Metadata["k"] = "mutated"
	*cp.StartedAt = cp.StartedAt.AddDate(1, 0, 0)

	assert.Equal(t, StatusRunning, agent.Status)
	assert.Equal(t, "--verbose", agent.Config.CustomArgs[0])
	assert.Equal(t, "v", agent.Config.Metadata["k"])
	assert.NotEqual(t, *agent.StartedAt, *cp.StartedAt)
}

func TestAgentTypeValid(t *testing.T) {
	assert.True(t, AgentTypeClaudeCode.Valid())
	assert.True(t, AgentTypeGeminiCLI.Valid())
	assert.True(t, AgentTypeSynthetic.Valid())
	assert.False(t, AgentType("cursor").Valid())
}
