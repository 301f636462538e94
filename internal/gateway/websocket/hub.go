// Package websocket is the gorilla-backed implementation of the gateway
// port. The hub tracks connections and named rooms; clients join the room
// "agent:<id>" to receive that agent's stream.
package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/agentdeck/agentdeck/internal/common/errors"
	"github.com/agentdeck/agentdeck/internal/common/logger"
	"github.com/agentdeck/agentdeck/pkg/wsproto"
)

// Subscriptions is the slice of the streaming registry the gateway drives:
// subscribe/unsubscribe frames from clients, and full teardown when a
// connection drops. Wired in after construction because the registry is
// built around the hub.
type Subscriptions interface {
	Subscribe(agentID, clientID string) error
	UnsubscribeFromAgent(agentID, clientID string)
	UnsubscribeClient(clientID string)
}

// Hub owns every websocket connection and the room membership maps.
type Hub struct {
	register   chan *Client
	unregister chan *Client

	mu          sync.RWMutex
	clients     map[*Client]bool
	clientsByID map[string]*Client
	rooms       map[string]map[*Client]bool

	subs   Subscriptions
	logger *logger.Logger
}

// NewHub creates an empty hub. Run must be started for clients to connect.
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		clients:     make(map[*Client]bool),
		clientsByID: make(map[string]*Client),
		rooms:       make(map[string]map[*Client]bool),
		logger:      log.WithFields(zap.String("component", "ws_hub")),
	}
}

// SetSubscriptions attaches the streaming registry. Called once during
// startup, before the first connection is accepted.
func (h *Hub) SetSubscriptions(subs Subscriptions) {
	h.subs = subs
}

// Run processes client registration until ctx is cancelled, then closes
// every connection.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("websocket hub started")
	defer h.logger.Info("websocket hub stopped")

	for {
		select {
		case <-ctx.Done():
			h.closeAllClients()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.clientsByID[client.ID] = client
			h.mu.Unlock()
			h.logger.Debug("client registered", zap.String("client_id", client.ID))

		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub and tears its subscriptions down.
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		client.closeSend()
		delete(h.clients, client)
	}
	h.clientsByID = make(map[string]*Client)
	h.rooms = make(map[string]map[*Client]bool)
}

// removeClient drops the client from every map. The registry callback runs
// after the lock is released: it calls back into LeaveRoom, which must not
// find the hub mutex held.
func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	_, known := h.clients[client]
	if known {
		delete(h.clients, client)
		delete(h.clientsByID, client.ID)
		client.closeSend()

		for room := range client.rooms {
			if members, ok := h.rooms[room]; ok {
				delete(members, client)
				if len(members) == 0 {
					delete(h.rooms, room)
				}
			}
		}
	}
	h.mu.Unlock()

	if !known {
		return
	}
	if h.subs != nil {
		h.subs.UnsubscribeClient(client.ID)
	}
	h.logger.Debug("client unregistered", zap.String("client_id", client.ID))
}

// EmitToClient sends one event to a single connection.
func (h *Hub) EmitToClient(clientID, event string, data any) error {
	frame, err := encodeFrame(event, data)
	if err != nil {
		return err
	}

	h.mu.RLock()
	client, ok := h.clientsByID[clientID]
	h.mu.RUnlock()
	if !ok {
		return errors.NotFound("client", clientID)
	}

	h.send(client, event, frame)
	return nil
}

// EmitToAll broadcasts one event to every connected client.
func (h *Hub) EmitToAll(event string, data any) error {
	frame, err := encodeFrame(event, data)
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		h.send(client, event, frame)
	}
	return nil
}

// EmitToRoom sends one event to every member of a room. An absent or empty
// room is a no-op.
func (h *Hub) EmitToRoom(room, event string, data any) error {
	frame, err := encodeFrame(event, data)
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	members := h.rooms[room]
	if len(members) == 0 {
		h.logger.Debug("no subscribers in room",
			zap.String("room", room),
			zap.String("event", event))
		return nil
	}
	for client := range members {
		h.send(client, event, frame)
	}
	return nil
}

// JoinRoom adds a connected client to a room, creating the room on first
// join.
func (h *Hub) JoinRoom(clientID, room string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	client, ok := h.clientsByID[clientID]
	if !ok {
		return errors.NotFound("client", clientID)
	}
	if _, ok := h.rooms[room]; !ok {
		h.rooms[room] = make(map[*Client]bool)
	}
	h.rooms[room][client] = true
	client.rooms[room] = true

	h.logger.Debug("client joined room",
		zap.String("client_id", clientID),
		zap.String("room", room))
	return nil
}

// LeaveRoom removes a client from a room. Leaving a room the client is not
// in is tolerated.
func (h *Hub) LeaveRoom(clientID, room string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	client, ok := h.clientsByID[clientID]
	if !ok {
		return errors.NotFound("client", clientID)
	}
	delete(client.rooms, room)
	if members, ok := h.rooms[room]; ok {
		delete(members, client)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	return nil
}

// CleanupAgentRooms drops the agent's room and every membership in it. Used
// on terminate and delete, after the registry has been torn down.
func (h *Hub) CleanupAgentRooms(agentID string) {
	room := wsproto.RoomForAgent(agentID)

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.rooms[room] {
		delete(client.rooms, room)
	}
	delete(h.rooms, room)
}

// ConnectedClients lists the ids of every open connection.
func (h *Hub) ConnectedClients() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ids := make([]string, 0, len(h.clientsByID))
	for id := range h.clientsByID {
		ids = append(ids, id)
	}
	return ids
}

// IsClientConnected reports whether a connection with this id is open.
func (h *Hub) IsClientConnected(clientID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clientsByID[clientID]
	return ok
}

// ClientCount reports the number of open connections.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// send enqueues a pre-marshaled frame without blocking. A client that is
// closed or whose buffer is full loses this event; the write pump will drop
// a connection that stays stuck.
func (h *Hub) send(client *Client, event string, frame []byte) {
	if !client.enqueue(frame) {
		h.logger.Warn("dropping event for closed or slow client",
			zap.String("client_id", client.ID),
			zap.String("event", event))
	}
}

// encodeFrame marshals the envelope once so fan-out reuses the bytes.
func encodeFrame(event string, data any) ([]byte, error) {
	env, err := wsproto.NewEnvelope(event, data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}
