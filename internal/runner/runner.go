// Package runner defines the execution backends that drive agent processes
// and stream their output to observers. A runner owns backend resources
// (subprocess, upstream HTTP stream, scripted schedule) and event emission;
// lifecycle persistence stays with the orchestrator.
package runner

import (
	"context"
	"time"

	"github.com/agentdeck/agentdeck/internal/agent/domain"
)

// Result statuses reported by OnComplete.
const (
	ResultSuccess = "success"
	ResultFailed  = "failed"
)

// Output is one piece of agent output, ready for persistence.
type Output struct {
	Type     domain.MessageType
	Role     string
	Content  any
	Raw      string
	Metadata map[string]any
}

// ErrorEvent describes a backend failure surfaced to observers.
type ErrorEvent struct {
	Kind    string
	Message string
}

// Result summarizes a finished run.
type Result struct {
	Status       string
	Duration     time.Duration
	MessageCount int
	Stats        map[string]any
}

// Observer receives runner events for one agent. Callbacks return an error
// as the completion signal; runners invoke them synchronously per agent so
// persist-then-emit ordering holds.
type Observer interface {
	OnMessage(ctx context.Context, output Output) error
	OnStatusChange(ctx context.Context, status domain.AgentStatus) error
	OnError(ctx context.Context, event ErrorEvent) error
	OnComplete(ctx context.Context, result Result) error
}

// Runner starts and stops agent executions and fans their events out to
// subscribed observers. The agent id is minted by the orchestrator and
// passed explicitly; it never travels inside the session configuration.
type Runner interface {
	Start(ctx context.Context, agentID string, session domain.Session) error
	Stop(ctx context.Context, agentID string) error
	Status(agentID string) (domain.AgentStatus, error)
	Subscribe(agentID string, obs Observer)
	Unsubscribe(agentID string, obs Observer)
}

// CommandSpec describes the process a subprocess runner spawns.
type CommandSpec struct {
	Path string
	Args []string
	// Env entries are appended to the parent environment
	Env []string
	Dir string
}

// CommandBuilder translates a session into the provider CLI invocation.
type CommandBuilder func(session domain.Session) (*CommandSpec, error)
