package websocket

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	gorillaws "github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/agentdeck/agentdeck/internal/common/logger"
	"github.com/agentdeck/agentdeck/pkg/wsproto"
)

var upgrader = gorillaws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Cross-origin policy is enforced by the HTTP CORS middleware.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler upgrades HTTP requests on /ws into hub-managed connections.
type Handler struct {
	hub    *Hub
	logger *logger.Logger
}

// NewHandler creates the upgrade handler.
func NewHandler(hub *Hub, log *logger.Logger) *Handler {
	return &Handler{
		hub:    hub,
		logger: log.WithFields(zap.String("component", "ws_handler")),
	}
}

// HandleConnection upgrades the request, registers the client, and runs the
// pumps until the connection drops.
func (h *Handler) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", zap.Error(err))
		return
	}

	clientID := uuid.New().String()
	h.logger.Debug("websocket connection established",
		zap.String("client_id", clientID),
		zap.String("remote_addr", c.Request.RemoteAddr))

	client := NewClient(clientID, conn, h.hub, h.logger)
	h.hub.Register(client)

	// The handshake acknowledgment tells the client its id, which it needs
	// to correlate later errors.
	client.sendEvent(wsproto.EventConnected, wsproto.ConnectedPayload{ClientID: clientID})

	go client.WritePump()
	client.ReadPump(c.Request.Context())
}
