package runner

import (
	"fmt"
	"sync"

	"github.com/agentdeck/agentdeck/internal/agent/domain"
	"github.com/agentdeck/agentdeck/internal/common/errors"
)

// Builder constructs a runner on first use.
type Builder func() (Runner, error)

// Factory resolves agent types to runner singletons. Builders are registered
// by the composition root; the first RunnerFor call per type constructs and
// caches the runner.
type Factory struct {
	mu       sync.Mutex
	builders map[domain.AgentType]Builder
	runners  map[domain.AgentType]Runner
}

// NewFactory creates an empty factory.
func NewFactory() *Factory {
	return &Factory{
		builders: make(map[domain.AgentType]Builder),
		runners:  make(map[domain.AgentType]Runner),
	}
}

// Register binds an agent type to a runner builder. Later registrations
// replace earlier ones and drop any cached instance.
func (f *Factory) Register(agentType domain.AgentType, build Builder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.builders[agentType] = build
	delete(f.runners, agentType)
}

// RunnerFor returns the singleton runner for an agent type.
func (f *Factory) RunnerFor(agentType domain.AgentType) (Runner, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if r, ok := f.runners[agentType]; ok {
		return r, nil
	}

	build, ok := f.builders[agentType]
	if !ok {
		return nil, errors.ValidationError("type", fmt.Sprintf("no runner registered for agent type %q", agentType))
	}

	r, err := build()
	if err != nil {
		return nil, fmt.Errorf("failed to build runner for %s: %w", agentType, err)
	}
	f.runners[agentType] = r
	return r, nil
}

// Types lists the registered agent types.
func (f *Factory) Types() []domain.AgentType {
	f.mu.Lock()
	defer f.mu.Unlock()

	types := make([]domain.AgentType, 0, len(f.builders))
	for t := range f.builders {
		types = append(types, t)
	}
	return types
}
