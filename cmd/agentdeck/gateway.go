package main

import (
	"context"

	"github.com/agentdeck/agentdeck/internal/common/logger"
	"github.com/agentdeck/agentdeck/internal/events"
	"github.com/agentdeck/agentdeck/internal/events/bus"
	"github.com/agentdeck/agentdeck/internal/gateway"
	"github.com/agentdeck/agentdeck/pkg/wsproto"
)

// bridgeAgentEvents rebroadcasts agent lifecycle events from the bus to every
// connected websocket client. Going through the bus instead of calling the
// hub directly means a NATS deployment fans lifecycle changes out to clients
// of every engine process, not just the one that ran the launch.
func bridgeAgentEvents(eventBus bus.EventBus, gw gateway.Port, log *logger.Logger) error {
	_, err := eventBus.Subscribe(events.SubjectAgentAll, func(ctx context.Context, event *bus.Event) error {
		switch event.Type {
		case events.AgentCreated:
			return gw.EmitToAll(wsproto.EventAgentCreated, wsproto.AgentCreatedPayload{
				Agent: event.Data["agent"],
			})
		case events.AgentUpdated:
			agentID, _ := event.Data["agentId"].(string)
			status, _ := event.Data["status"].(string)
			return gw.EmitToAll(wsproto.EventAgentUpdated, wsproto.AgentUpdatedPayload{
				AgentID: agentID,
				Status:  status,
			})
		case events.AgentDeleted:
			agentID, _ := event.Data["agentId"].(string)
			return gw.EmitToAll(wsproto.EventAgentDeleted, wsproto.AgentDeletedPayload{
				AgentID: agentID,
			})
		}
		return nil
	})
	if err != nil {
		return err
	}
	log.Info("Agent lifecycle events bridged to websocket clients")
	return nil
}
