package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	apperrors "github.com/agentdeck/agentdeck/internal/common/errors"
	"github.com/agentdeck/agentdeck/internal/common/logger"
	"github.com/agentdeck/agentdeck/pkg/wsproto"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512 * 1024 // 512KB
)

// Client is a single websocket connection.
type Client struct {
	ID   string
	conn *websocket.Conn
	hub  *Hub
	send chan []byte

	// rooms this client has joined; guarded by the hub mutex.
	rooms map[string]bool

	// guards send against enqueue-after-close during teardown
	mu     sync.Mutex
	closed bool

	logger *logger.Logger
}

// NewClient wraps an upgraded connection.
func NewClient(id string, conn *websocket.Conn, hub *Hub, log *logger.Logger) *Client {
	return &Client{
		ID:     id,
		conn:   conn,
		hub:    hub,
		send:   make(chan []byte, 256),
		rooms:  make(map[string]bool),
		logger: log.WithFields(zap.String("client_id", id)),
	}
}

// ReadPump reads frames from the connection until it drops, dispatching
// subscribe/unsubscribe into the registry. Runs on the connection's
// goroutine; unregisters the client on exit.
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("websocket read error", zap.Error(err))
			}
			break
		}

		var env wsproto.Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			c.logger.Debug("failed to parse frame", zap.Error(err))
			c.sendError(apperrors.ErrCodeBadRequest, "invalid message format")
			continue
		}

		c.handleEnvelope(ctx, &env)
	}
}

func (c *Client) handleEnvelope(_ context.Context, env *wsproto.Envelope) {
	c.logger.Debug("received frame", zap.String("event", env.Event))

	switch env.Event {
	case wsproto.EventSubscribe:
		c.handleSubscribe(env)
	case wsproto.EventUnsubscribe:
		c.handleUnsubscribe(env)
	default:
		c.sendError(apperrors.ErrCodeBadRequest, "unknown event: "+env.Event)
	}
}

func (c *Client) handleSubscribe(env *wsproto.Envelope) {
	var req wsproto.SubscriptionPayload
	if err := env.ParseData(&req); err != nil {
		c.sendError(apperrors.ErrCodeBadRequest, "invalid payload: "+err.Error())
		return
	}
	if req.AgentID == "" {
		c.sendError(apperrors.ErrCodeValidationError, "agentId is required")
		return
	}
	if c.hub.subs == nil {
		c.sendError(apperrors.ErrCodeInternalError, "subscriptions unavailable")
		return
	}

	if err := c.hub.subs.Subscribe(req.AgentID, c.ID); err != nil {
		c.sendError(apperrors.GetCode(err), err.Error())
		return
	}

	c.sendEvent(wsproto.EventSubscribed, wsproto.SubscriptionPayload{AgentID: req.AgentID})
}

func (c *Client) handleUnsubscribe(env *wsproto.Envelope) {
	var req wsproto.SubscriptionPayload
	if err := env.ParseData(&req); err != nil {
		c.sendError(apperrors.ErrCodeBadRequest, "invalid payload: "+err.Error())
		return
	}
	if req.AgentID == "" {
		c.sendError(apperrors.ErrCodeValidationError, "agentId is required")
		return
	}
	if c.hub.subs != nil {
		c.hub.subs.UnsubscribeFromAgent(req.AgentID, c.ID)
	}

	c.sendEvent(wsproto.EventUnsubscribed, wsproto.SubscriptionPayload{AgentID: req.AgentID})
}

// enqueue queues a frame unless the client has been torn down or its buffer
// is full. Reports whether the frame was accepted.
func (c *Client) enqueue(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// closeSend marks the client torn down and closes the send channel exactly
// once. The mutex excludes in-flight enqueues, so no send can race the close.
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// sendEvent marshals and enqueues one event for this client.
func (c *Client) sendEvent(event string, data any) {
	frame, err := encodeFrame(event, data)
	if err != nil {
		c.logger.Error("failed to encode frame", zap.Error(err))
		return
	}
	if !c.enqueue(frame) {
		c.logger.Warn("dropping frame for closed or slow client", zap.String("event", event))
	}
}

func (c *Client) sendError(code, message string) {
	c.sendEvent(wsproto.EventError, wsproto.ErrorPayload{Code: code, Message: message})
}

// WritePump writes queued frames and pings until the connection drops. One
// ws frame may carry several newline-separated envelopes when the queue has
// backed up.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(frame)

			// Batch additional queued frames
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
