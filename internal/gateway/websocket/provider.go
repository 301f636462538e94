package websocket

import "github.com/agentdeck/agentdeck/internal/common/logger"

// Provide creates the websocket gateway.
func Provide(log *logger.Logger) (*Gateway, error) {
	gateway := NewGateway(log)
	return gateway, nil
}
