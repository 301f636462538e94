package websocket

import (
	"github.com/gin-gonic/gin"

	"github.com/agentdeck/agentdeck/internal/common/logger"
)

// Gateway bundles the hub and its upgrade handler.
type Gateway struct {
	Hub     *Hub
	Handler *Handler
	logger  *logger.Logger
}

// NewGateway creates the websocket gateway. The streaming registry is
// attached afterwards via Hub.SetSubscriptions.
func NewGateway(log *logger.Logger) *Gateway {
	hub := NewHub(log)
	return &Gateway{
		Hub:     hub,
		Handler: NewHandler(hub, log),
		logger:  log,
	}
}

// SetupRoutes adds the websocket route to the gin engine.
func (g *Gateway) SetupRoutes(router *gin.Engine) {
	router.GET("/ws", g.Handler.HandleConnection)
}
