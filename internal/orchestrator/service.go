// Package orchestrator coordinates the agent lifecycle: launch requests run
// through the FIFO queue and the instruction handler, agents are persisted
// before their runner starts, and a system observer keeps every message
// persisted whether or not a client is connected. Terminate and delete tear
// the runner, subscriptions, and rooms down in that order.
package orchestrator

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/agentdeck/agentdeck/internal/agent/domain"
	"github.com/agentdeck/agentdeck/internal/agent/repository"
	"github.com/agentdeck/agentdeck/internal/common/errors"
	"github.com/agentdeck/agentdeck/internal/common/logger"
	"github.com/agentdeck/agentdeck/internal/events"
	"github.com/agentdeck/agentdeck/internal/events/bus"
	"github.com/agentdeck/agentdeck/internal/gateway"
	"github.com/agentdeck/agentdeck/internal/orchestrator/instructions"
	"github.com/agentdeck/agentdeck/internal/orchestrator/queue"
	"github.com/agentdeck/agentdeck/internal/runner"
)

// Subscriptions is the slice of the streaming registry the coordinator
// drives: the system observer attached on launch, and teardown on terminate
// and delete. The registry itself resolves runners back through
// RunnerForAgent, so it is wired in after construction.
type Subscriptions interface {
	Subscribe(agentID, clientID string) error
	UnsubscribeAllForAgent(agentID string)
}

// Service is the orchestration coordinator.
type Service struct {
	store   repository.Store
	factory *runner.Factory
	instr   *instructions.Handler
	queue   *queue.Queue
	bus     bus.EventBus
	gateway gateway.Port
	logger  *logger.Logger

	subs Subscriptions

	mu      sync.RWMutex
	runners map[string]runner.Runner
}

// NewService wires the coordinator. The launch queue is created here with
// the coordinator's own launch executor; the composition root drives it via
// RunQueue.
func NewService(
	store repository.Store,
	factory *runner.Factory,
	instr *instructions.Handler,
	gw gateway.Port,
	eventBus bus.EventBus,
	queueCapacity int,
	log *logger.Logger,
) *Service {
	s := &Service{
		store:   store,
		factory: factory,
		instr:   instr,
		bus:     eventBus,
		gateway: gw,
		logger:  log.WithFields(zap.String("component", "orchestrator")),
		runners: make(map[string]runner.Runner),
	}
	s.queue = queue.New(queueCapacity, s.executeLaunch, log)
	return s
}

// SetSubscriptions attaches the streaming registry. Called once during
// startup, after the registry has been built around RunnerForAgent.
func (s *Service) SetSubscriptions(subs Subscriptions) {
	s.subs = subs
}

// RunQueue runs the launch queue worker until ctx is cancelled.
func (s *Service) RunQueue(ctx context.Context) error {
	return s.queue.Run(ctx)
}

// QueueLength reports the number of pending launch requests.
func (s *Service) QueueLength() int {
	return s.queue.Len()
}

// CancelQueued cancels a pending launch request. In-flight launches are left
// to finish; unknown ids fail with NotFound.
func (s *Service) CancelQueued(requestID string) error {
	return s.queue.Cancel(requestID)
}

// GetAgentByID returns the stored agent.
func (s *Service) GetAgentByID(ctx context.Context, id string) (*domain.Agent, error) {
	return s.store.FindByID(ctx, id)
}

// GetAgentStatus returns the stored lifecycle status. Storage is the
// authority: a runner that died without reporting does not change what the
// caller sees here until terminate records it.
func (s *Service) GetAgentStatus(ctx context.Context, id string) (domain.AgentStatus, error) {
	agent, err := s.store.FindByID(ctx, id)
	if err != nil {
		return "", err
	}
	return agent.Status, nil
}

// ListAll returns every agent, newest first.
func (s *Service) ListAll(ctx context.Context) ([]*domain.Agent, error) {
	return s.store.FindAll(ctx)
}

// ListActive returns agents still initializing or running, newest first.
func (s *Service) ListActive(ctx context.Context) ([]*domain.Agent, error) {
	initializing, err := s.store.FindByStatus(ctx, domain.StatusInitializing)
	if err != nil {
		return nil, err
	}
	running, err := s.store.FindByStatus(ctx, domain.StatusRunning)
	if err != nil {
		return nil, err
	}
	active := append(initializing, running...)
	sort.Slice(active, func(i, j int) bool {
		return active[i].CreatedAt.After(active[j].CreatedAt)
	})
	return active, nil
}

// RunnerForAgent returns the runner the agent was launched on, or nil when
// the agent is not tracked. Handed to the streaming registry as its runner
// resolver.
func (s *Service) RunnerForAgent(id string) runner.Runner {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.runners[id]
}

// RegisterRunner tracks an externally created agent (synthetic agents built
// outside the launch path) so subscriptions can resolve it.
func (s *Service) RegisterRunner(id string, r runner.Runner) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runners[id] = r
}

func (s *Service) removeRunner(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.runners, id)
}

// stopRunner asks the agent's runner to stop, tolerating agents the runner
// no longer knows about.
func (s *Service) stopRunner(ctx context.Context, id string) {
	r := s.RunnerForAgent(id)
	if r == nil {
		return
	}
	if err := r.Stop(ctx, id); err != nil {
		if errors.IsNotFound(err) || errors.IsAgentNotFound(err) {
			return
		}
		s.logger.Warn("runner stop failed",
			zap.String("agent_id", id),
			zap.Error(err))
	}
}

func (s *Service) publish(ctx context.Context, subject string, data map[string]interface{}) {
	if err := s.bus.Publish(ctx, subject, bus.NewEvent(subject, events.SourceEngine, data)); err != nil {
		s.logger.Warn("failed to publish event",
			zap.String("subject", subject),
			zap.Error(err))
	}
}

func (s *Service) emitToRoom(room, event string, data any) {
	if err := s.gateway.EmitToRoom(room, event, data); err != nil {
		s.logger.Warn("failed to emit to room",
			zap.String("room", room),
			zap.String("event", event),
			zap.Error(err))
	}
}
