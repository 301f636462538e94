package orchestrator

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/agentdeck/agentdeck/internal/common/errors"
	"github.com/agentdeck/agentdeck/internal/events"
	"github.com/agentdeck/agentdeck/pkg/wsproto"
)

// TerminateAgent stops the agent's backend and records TERMINATED. The stop
// is advisory; the storage transition is what counts, so a dead backend does
// not block termination. Without force only active agents can be terminated;
// with force an already-terminal agent just gets its cleanup re-run.
func (s *Service) TerminateAgent(ctx context.Context, id string, force bool) error {
	agent, err := s.store.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if !force && !agent.IsActive() {
		return errors.Conflict(fmt.Sprintf("agent %s is not active (status %s)", id, agent.Status))
	}

	s.stopRunner(ctx, id)
	s.removeRunner(id)

	// The transition applies to the snapshot loaded before the stop:
	// terminate outranks whatever the backend reported while winding down,
	// so a failed complete persisted in the meantime gets overwritten.
	if agent.IsActive() {
		if err := agent.MarkTerminated(); err != nil {
			return err
		}
		if err := s.store.Save(ctx, agent); err != nil {
			return err
		}
	}

	// Room subscribers hear the terminal status before their subscriptions
	// are torn down.
	s.emitToRoom(wsproto.RoomForAgent(id), wsproto.EventAgentStatus, wsproto.AgentStatusPayload{
		AgentID: id,
		Status:  string(agent.Status),
	})

	if s.subs != nil {
		s.subs.UnsubscribeAllForAgent(id)
	}
	s.gateway.CleanupAgentRooms(id)

	s.publish(ctx, events.AgentUpdated, map[string]interface{}{
		"agentId": id,
		"status":  string(agent.Status),
	})
	s.logger.Info("agent terminated",
		zap.String("agent_id", id),
		zap.Bool("force", force))
	return nil
}

// DeleteAgent removes the agent and its messages. Active agents require
// force, which stops the backend first.
func (s *Service) DeleteAgent(ctx context.Context, id string, force bool) error {
	agent, err := s.store.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if agent.IsActive() {
		if !force {
			return errors.Conflict(fmt.Sprintf("agent %s is running; terminate it first or pass force", id))
		}
		s.stopRunner(ctx, id)
	}
	s.removeRunner(id)

	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}

	if s.subs != nil {
		s.subs.UnsubscribeAllForAgent(id)
	}
	s.gateway.CleanupAgentRooms(id)

	s.publish(ctx, events.AgentDeleted, map[string]interface{}{
		"agentId": id,
	})
	s.logger.Info("agent deleted",
		zap.String("agent_id", id),
		zap.Bool("force", force))
	return nil
}

// TerminateAllActive force-terminates every active agent. Used on shutdown:
// stopping a backend can block for its whole grace period, so terminations
// run concurrently to keep a fleet of slow stops inside the shutdown budget.
// Each failure is logged and the sweep continues.
func (s *Service) TerminateAllActive(ctx context.Context) {
	agents, err := s.ListActive(ctx)
	if err != nil {
		s.logger.Error("failed to list active agents for shutdown", zap.Error(err))
		return
	}
	if len(agents) == 0 {
		return
	}

	g := new(errgroup.Group)
	g.SetLimit(8)
	for _, a := range agents {
		g.Go(func() error {
			if err := s.TerminateAgent(ctx, a.ID, true); err != nil {
				s.logger.Warn("failed to terminate agent during shutdown",
					zap.String("agent_id", a.ID),
					zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
	s.logger.Info("terminated active agents", zap.Int("count", len(agents)))
}
