// Package gateway defines the realtime transport port the engine emits
// through. Components depend on this interface only; the websocket
// implementation lives in gateway/websocket.
package gateway

// Port is the outbound realtime surface: targeted emission, broadcasts,
// and room membership. Implementations must be safe for concurrent use.
type Port interface {
	// EmitToClient sends one event to a single connected client.
	EmitToClient(clientID, event string, data any) error

	// EmitToAll broadcasts an event to every connected client.
	EmitToAll(event string, data any) error

	// EmitToRoom sends an event to every client in the room. Emitting to
	// an absent or empty room is a no-op.
	EmitToRoom(room, event string, data any) error

	JoinRoom(clientID, room string) error
	LeaveRoom(clientID, room string) error

	// CleanupAgentRooms tears down the agent's room after terminate or
	// delete, dropping all memberships.
	CleanupAgentRooms(agentID string)

	ConnectedClients() []string
	IsClientConnected(clientID string) bool
}
