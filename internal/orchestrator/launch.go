package orchestrator

import (
	"context"

	"go.uber.org/zap"

	"github.com/agentdeck/agentdeck/internal/agent/domain"
	"github.com/agentdeck/agentdeck/internal/common/errors"
	"github.com/agentdeck/agentdeck/internal/events"
	"github.com/agentdeck/agentdeck/internal/streaming"
)

// LaunchAgent validates the request and hands it to the launch queue. The
// call blocks until the queued launch ran (or the request was cancelled, the
// queue was full, or ctx expired).
func (s *Service) LaunchAgent(ctx context.Context, req *domain.LaunchRequest) (*domain.Agent, error) {
	if req == nil {
		return nil, errors.BadRequest("missing launch request")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return s.queue.Enqueue(ctx, req)
}

// executeLaunch runs one launch. Only the queue worker calls it, which is
// what keeps the instruction file swap race-free.
func (s *Service) executeLaunch(ctx context.Context, req *domain.LaunchRequest) (*domain.Agent, error) {
	if s.subs == nil {
		return nil, errors.InternalError("streaming registry not attached", nil)
	}

	backup, err := s.instr.Prepare(req.Config.Instructions)
	if err != nil {
		return nil, err
	}
	// The CLI reads the instruction files at startup and caches them, so
	// restoring right after the start call is safe. Restore runs on every
	// exit path, success or not.
	defer func() {
		if rerr := s.instr.Restore(backup); rerr != nil {
			s.logger.Error("failed to restore instruction files", zap.Error(rerr))
		}
	}()

	agent := domain.NewAgent(req.AgentType, req.Prompt, req.Config)
	log := s.logger.WithFields(
		zap.String("agent_id", agent.ID),
		zap.String("agent_type", string(req.AgentType)))

	// The agent row must exist before the runner emits anything: message
	// persistence holds a foreign key on it.
	if err := s.store.Save(ctx, agent); err != nil {
		return nil, err
	}

	r, err := s.factory.RunnerFor(req.AgentType)
	if err != nil {
		return nil, err
	}

	session := domain.Session{Prompt: req.Prompt, Config: req.Config}
	if err := r.Start(ctx, agent.ID, session); err != nil {
		return nil, err
	}

	if err := agent.MarkRunning(); err != nil {
		return nil, err
	}
	if err := s.store.Save(ctx, agent); err != nil {
		return nil, err
	}

	s.RegisterRunner(agent.ID, r)

	// The system observer persists output even with zero clients connected.
	if err := s.subs.Subscribe(agent.ID, streaming.SystemClientID); err != nil {
		return nil, err
	}

	s.publish(ctx, events.AgentCreated, map[string]interface{}{
		"agent": events.ToEventData(agent),
	})
	log.Info("agent launched")
	return agent.Clone(), nil
}
