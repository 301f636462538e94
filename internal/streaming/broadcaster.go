package streaming

import (
	"context"

	"go.uber.org/zap"

	"github.com/agentdeck/agentdeck/internal/agent/domain"
	"github.com/agentdeck/agentdeck/internal/agent/repository"
	"github.com/agentdeck/agentdeck/internal/common/errors"
	"github.com/agentdeck/agentdeck/internal/common/logger"
	"github.com/agentdeck/agentdeck/internal/gateway"
	"github.com/agentdeck/agentdeck/internal/runner"
	"github.com/agentdeck/agentdeck/pkg/wsproto"
)

// Broadcaster turns runner events into persisted rows and room emissions.
// The rule for every event kind: persist first, emit second. A message that
// cannot be stored is never shown to a client as if it were.
type Broadcaster struct {
	store   repository.Store
	gateway gateway.Port
	logger  *logger.Logger
}

// NewBroadcaster wires the broadcaster to storage and the realtime gateway.
func NewBroadcaster(store repository.Store, gw gateway.Port, log *logger.Logger) *Broadcaster {
	return &Broadcaster{
		store:   store,
		gateway: gw,
		logger:  log.WithFields(zap.String("component", "broadcaster")),
	}
}

// ObserverFor returns the observer the registry attaches to the agent's
// runner. One observer per agent, shared by all of its subscribers.
func (b *Broadcaster) ObserverFor(agentID string) runner.Observer {
	return &agentObserver{b: b, agentID: agentID}
}

type agentObserver struct {
	b       *Broadcaster
	agentID string
}

func (o *agentObserver) OnMessage(ctx context.Context, out runner.Output) error {
	return o.b.persistAndEmitMessage(ctx, o.agentID, out)
}

func (o *agentObserver) OnStatusChange(ctx context.Context, status domain.AgentStatus) error {
	return o.b.recordStatus(ctx, o.agentID, status)
}

func (o *agentObserver) OnError(ctx context.Context, ev runner.ErrorEvent) error {
	return o.b.recordError(ctx, o.agentID, ev)
}

func (o *agentObserver) OnComplete(ctx context.Context, res runner.Result) error {
	return o.b.recordCompletion(ctx, o.agentID, res)
}

// persistAndEmitMessage appends the message and emits the saved row (with
// its allocated sequence number) to the agent's room. Append failures are
// returned to the runner; a missing agent row is additionally surfaced to
// the room as agent:error.
func (b *Broadcaster) persistAndEmitMessage(ctx context.Context, agentID string, out runner.Output) error {
	saved, err := b.store.Append(ctx, repository.MessageInput{
		AgentID:  agentID,
		Type:     out.Type,
		Role:     out.Role,
		Content:  out.Content,
		Raw:      out.Raw,
		Metadata: out.Metadata,
	})
	if err != nil {
		if errors.IsAgentNotFound(err) {
			b.emitToRoom(agentID, wsproto.EventAgentError, wsproto.AgentErrorPayload{
				AgentID: agentID,
				Error: wsproto.ErrorDetails{
					Name:    "AgentNotFoundError",
					Message: err.Error(),
				},
			})
		}
		return err
	}

	b.emitToRoom(agentID, wsproto.EventAgentMessage, wsproto.AgentMessagePayload{
		AgentID: agentID,
		Message: saved,
	})
	return nil
}

// recordStatus persists a legal, changed status and emits it either way.
// Statuses are never stored as messages.
func (b *Broadcaster) recordStatus(ctx context.Context, agentID string, status domain.AgentStatus) error {
	agent, err := b.store.FindByID(ctx, agentID)
	if err != nil {
		b.logger.Warn("status change for unknown agent",
			zap.String("agent_id", agentID),
			zap.String("status", string(status)),
			zap.Error(err))
	} else if agent.Status != status && agent.Status.CanTransitionTo(status) {
		if terr := applyStatus(agent, status); terr != nil {
			b.logger.Warn("status transition rejected",
				zap.String("agent_id", agentID),
				zap.String("status", string(status)),
				zap.Error(terr))
		} else if serr := b.store.Save(ctx, agent); serr != nil {
			b.logger.Warn("failed to persist status change",
				zap.String("agent_id", agentID),
				zap.Error(serr))
		}
	}

	b.emitToRoom(agentID, wsproto.EventAgentStatus, wsproto.AgentStatusPayload{
		AgentID: agentID,
		Status:  string(status),
	})
	b.emitToAll(wsproto.EventAgentUpdated, wsproto.AgentUpdatedPayload{
		AgentID: agentID,
		Status:  string(status),
	})
	return nil
}

// recordError marks the agent FAILED with the backend's error while it is
// still active, then emits the error to the room.
func (b *Broadcaster) recordError(ctx context.Context, agentID string, ev runner.ErrorEvent) error {
	agent, err := b.store.FindByID(ctx, agentID)
	if err != nil {
		b.logger.Warn("error event for unknown agent",
			zap.String("agent_id", agentID),
			zap.Error(err))
	} else if agent.IsActive() {
		if terr := agent.MarkFailed(ev.Kind, ev.Message); terr != nil {
			b.logger.Warn("failed to record agent failure",
				zap.String("agent_id", agentID),
				zap.Error(terr))
		} else if serr := b.store.Save(ctx, agent); serr != nil {
			b.logger.Warn("failed to persist agent failure",
				zap.String("agent_id", agentID),
				zap.Error(serr))
		}
	}

	b.emitToRoom(agentID, wsproto.EventAgentError, wsproto.AgentErrorPayload{
		AgentID: agentID,
		Error: wsproto.ErrorDetails{
			Name:    ev.Kind,
			Message: ev.Message,
		},
	})
	if agent != nil {
		b.emitToAll(wsproto.EventAgentUpdated, wsproto.AgentUpdatedPayload{
			AgentID: agentID,
			Status:  string(agent.Status),
		})
	}
	return nil
}

// recordCompletion records the terminal transition before the completion is
// emitted, so a client that sees agent:complete can immediately re-read the
// agent and find the terminal status. Persistence failures are logged; the
// emission happens regardless.
func (b *Broadcaster) recordCompletion(ctx context.Context, agentID string, res runner.Result) error {
	agent, err := b.store.FindByID(ctx, agentID)
	if err != nil {
		b.logger.Warn("completion for unknown agent",
			zap.String("agent_id", agentID),
			zap.Error(err))
	} else if agent.IsActive() {
		var terr error
		if res.Status == runner.ResultSuccess {
			terr = agent.MarkCompleted()
		} else {
			terr = agent.MarkFailed(errors.ErrCodeBackendError, "agent run failed")
		}
		if terr != nil {
			b.logger.Warn("failed to record completion",
				zap.String("agent_id", agentID),
				zap.String("result", res.Status),
				zap.Error(terr))
		} else if serr := b.store.Save(ctx, agent); serr != nil {
			b.logger.Warn("failed to persist completion",
				zap.String("agent_id", agentID),
				zap.Error(serr))
		}
	}

	b.emitToRoom(agentID, wsproto.EventAgentComplete, wsproto.AgentCompletePayload{
		AgentID: agentID,
		Result: wsproto.ResultSummary{
			Status:       res.Status,
			Duration:     res.Duration.Milliseconds(),
			MessageCount: res.MessageCount,
			Stats:        res.Stats,
		},
	})
	if agent != nil {
		b.emitToAll(wsproto.EventAgentUpdated, wsproto.AgentUpdatedPayload{
			AgentID: agentID,
			Status:  string(agent.Status),
		})
	}
	return nil
}

// applyStatus maps a notified status onto the matching domain transition.
func applyStatus(agent *domain.Agent, status domain.AgentStatus) error {
	switch status {
	case domain.StatusRunning:
		return agent.MarkRunning()
	case domain.StatusCompleted:
		return agent.MarkCompleted()
	case domain.StatusFailed:
		return agent.MarkFailed(errors.ErrCodeBackendError, "agent reported failure")
	case domain.StatusTerminated:
		return agent.MarkTerminated()
	default:
		return errors.BadRequest("unknown status " + string(status))
	}
}

func (b *Broadcaster) emitToRoom(agentID, event string, data any) {
	room := wsproto.RoomForAgent(agentID)
	if err := b.gateway.EmitToRoom(room, event, data); err != nil {
		b.logger.Warn("failed to emit to room",
			zap.String("room", room),
			zap.String("event", event),
			zap.Error(err))
	}
}

func (b *Broadcaster) emitToAll(event string, data any) {
	if err := b.gateway.EmitToAll(event, data); err != nil {
		b.logger.Warn("failed to broadcast",
			zap.String("event", event),
			zap.Error(err))
	}
}
