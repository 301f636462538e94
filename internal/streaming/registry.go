// Package streaming connects runners to websocket clients: the registry
// tracks which client watches which agent and owns the one observer per
// agent-runner pair, and the broadcaster persists every runner event before
// emitting it to the agent's room.
package streaming

import (
	"sync"

	"go.uber.org/zap"

	"github.com/agentdeck/agentdeck/internal/common/errors"
	"github.com/agentdeck/agentdeck/internal/common/logger"
	"github.com/agentdeck/agentdeck/internal/gateway"
	"github.com/agentdeck/agentdeck/internal/runner"
	"github.com/agentdeck/agentdeck/pkg/wsproto"
)

// SystemClientID is the registry-internal client the orchestrator subscribes
// on every launch, so output is persisted with zero connected clients. It
// never joins gateway rooms.
const SystemClientID = "system-orchestrator"

// RunnerResolver finds the runner an agent was launched on. A nil result
// means the agent is not tracked.
type RunnerResolver func(agentID string) runner.Runner

type entry struct {
	runner   runner.Runner
	observer runner.Observer
	clients  map[string]bool
}

// Registry tracks agent subscriptions in both directions. The first
// subscriber of an agent creates the singleton observer and attaches it to
// the runner; the last one out detaches it.
type Registry struct {
	resolve     RunnerResolver
	broadcaster *Broadcaster
	gateway     gateway.Port
	logger      *logger.Logger

	mu       sync.Mutex
	byAgent  map[string]*entry
	byClient map[string]map[string]bool
}

// NewRegistry builds a registry around the runner resolver (the
// orchestrator's RunnerForAgent).
func NewRegistry(resolve RunnerResolver, b *Broadcaster, gw gateway.Port, log *logger.Logger) *Registry {
	return &Registry{
		resolve:     resolve,
		broadcaster: b,
		gateway:     gw,
		logger:      log.WithFields(zap.String("component", "streaming_registry")),
		byAgent:     make(map[string]*entry),
		byClient:    make(map[string]map[string]bool),
	}
}

// Subscribe attaches the client to the agent's stream. The first subscriber
// wires the observer into the runner; every real client additionally joins
// the agent's room. Unknown agents fail with AgentNotFound. Re-subscribing
// is a no-op.
func (r *Registry) Subscribe(agentID, clientID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byAgent[agentID]
	if !ok {
		rn := r.resolve(agentID)
		if rn == nil {
			return errors.AgentNotFound(agentID)
		}
		e = &entry{
			runner:   rn,
			observer: r.broadcaster.ObserverFor(agentID),
			clients:  make(map[string]bool),
		}
		rn.Subscribe(agentID, e.observer)
		r.byAgent[agentID] = e
	}

	if e.clients[clientID] {
		return nil
	}
	e.clients[clientID] = true
	if r.byClient[clientID] == nil {
		r.byClient[clientID] = make(map[string]bool)
	}
	r.byClient[clientID][agentID] = true

	if clientID != SystemClientID {
		if err := r.gateway.JoinRoom(clientID, wsproto.RoomForAgent(agentID)); err != nil {
			r.logger.Warn("failed to join agent room",
				zap.String("agent_id", agentID),
				zap.String("client_id", clientID),
				zap.Error(err))
		}
	}

	r.logger.Debug("client subscribed",
		zap.String("agent_id", agentID),
		zap.String("client_id", clientID),
		zap.Int("subscribers", len(e.clients)))
	return nil
}

// UnsubscribeFromAgent detaches one client from one agent. Idempotent.
func (r *Registry) UnsubscribeFromAgent(agentID, clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.detachLocked(agentID, clientID)
}

// UnsubscribeClient detaches the client from every agent it watches. Called
// by the gateway on disconnect.
func (r *Registry) UnsubscribeClient(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set := r.byClient[clientID]
	agentIDs := make([]string, 0, len(set))
	for agentID := range set {
		agentIDs = append(agentIDs, agentID)
	}
	for _, agentID := range agentIDs {
		r.detachLocked(agentID, clientID)
	}
}

// UnsubscribeAllForAgent drops every subscription of an agent. Called by
// terminate and delete.
func (r *Registry) UnsubscribeAllForAgent(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byAgent[agentID]
	if !ok {
		return
	}
	clientIDs := make([]string, 0, len(e.clients))
	for clientID := range e.clients {
		clientIDs = append(clientIDs, clientID)
	}
	for _, clientID := range clientIDs {
		r.detachLocked(agentID, clientID)
	}
}

// detachLocked removes one (agent, client) edge and keeps both maps
// symmetric. The last client out detaches the observer from the runner.
func (r *Registry) detachLocked(agentID, clientID string) {
	e, ok := r.byAgent[agentID]
	if !ok || !e.clients[clientID] {
		return
	}

	delete(e.clients, clientID)
	if set := r.byClient[clientID]; set != nil {
		delete(set, agentID)
		if len(set) == 0 {
			delete(r.byClient, clientID)
		}
	}

	if clientID != SystemClientID {
		if err := r.gateway.LeaveRoom(clientID, wsproto.RoomForAgent(agentID)); err != nil {
			r.logger.Debug("failed to leave agent room",
				zap.String("agent_id", agentID),
				zap.String("client_id", clientID),
				zap.Error(err))
		}
	}

	if len(e.clients) == 0 {
		e.runner.Unsubscribe(agentID, e.observer)
		delete(r.byAgent, agentID)
		r.logger.Debug("agent stream released", zap.String("agent_id", agentID))
	}
}
