package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agentdeck/agentdeck/internal/common/httpmw"
	"github.com/agentdeck/agentdeck/internal/common/logger"
	"github.com/agentdeck/agentdeck/pkg/claudecode"
)

const (
	agentIDHeader = "X-Agent-Id"

	eventMessage  = "message"
	eventComplete = "complete"
	eventError    = "error"
)

// streamRequest mirrors the launch body the engine's proxy runner sends.
type streamRequest struct {
	Prompt           string `json:"prompt"`
	SessionID        string `json:"session_id"`
	WorkingDirectory string `json:"working_directory"`
	Model            string `json:"model"`
	MCPConfig        string `json:"mcp_config"`
	MCPStrict        bool   `json:"mcp_strict"`
}

// server tracks open streams so the stop endpoint and shutdown can abort them.
type server struct {
	log       *logger.Logger
	stepDelay time.Duration

	mu      sync.Mutex
	streams map[string]context.CancelFunc
}

func newServer(stepDelay time.Duration, log *logger.Logger) *server {
	return &server{
		log:       log.WithFields(zap.String("component", "mockproxy")),
		stepDelay: stepDelay,
		streams:   make(map[string]context.CancelFunc),
	}
}

func buildRouter(s *server, log *logger.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(httpmw.RequestLogger(log, "mockproxy"))

	router.POST("/agent/stream", s.handleStream)
	router.POST("/agent/stop/:id", s.handleStop)
	router.GET("/health", s.handleHealth)
	return router
}

// handleStream opens the SSE stream for one agent run and plays the selected
// scenario over it.
func (s *server) handleStream(c *gin.Context) {
	var req streamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.String(http.StatusBadRequest, "invalid stream request: %v", err)
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		c.String(http.StatusBadRequest, "prompt cannot be empty")
		return
	}

	name, script, ok := pickScenario(c.Query("scenario"), req.Prompt)
	if !ok {
		c.String(http.StatusBadRequest, "unknown scenario %q (available: %s)",
			name, strings.Join(scenarioNames(), ", "))
		return
	}

	id := uuid.NewString()
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	s.track(id, cancel)
	defer s.untrack(id)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Header(agentIDHeader, id)
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	s.log.Info("stream opened",
		zap.String("agent_id", id),
		zap.String("scenario", name),
		zap.String("model", req.Model),
		zap.Int("prompt_len", len(req.Prompt)))

	e := &emitter{ctx: ctx, w: c.Writer, stepDelay: s.stepDelay}
	out := script(e, req)

	// A stopped or disconnected stream ends abruptly, the way a killed
	// upstream would. The engine decides what that means.
	if e.interrupted() {
		s.log.Info("stream stopped",
			zap.String("agent_id", id),
			zap.String("scenario", name))
		return
	}

	switch out {
	case outcomeSuccess:
		e.complete(true)
	case outcomeFailure:
		e.complete(false)
	case outcomeErrored, outcomeCrash:
		// Errored streams already carried their error event; crashed
		// streams end without a terminal event on purpose.
	}

	s.log.Info("stream finished",
		zap.String("agent_id", id),
		zap.String("scenario", name))
}

// handleStop cancels a running stream by its upstream agent id.
func (s *server) handleStop(c *gin.Context) {
	id := c.Param("id")

	s.mu.Lock()
	cancel, ok := s.streams[id]
	s.mu.Unlock()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown agent stream: " + id})
		return
	}

	cancel()
	s.log.Info("stream stop requested", zap.String("agent_id", id))
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *server) handleHealth(c *gin.Context) {
	s.mu.Lock()
	active := len(s.streams)
	s.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{
		"status":        "ok",
		"activeStreams": active,
		"scenarios":     scenarioNames(),
	})
}

func (s *server) track(id string, cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streams[id] = cancel
}

func (s *server) untrack(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.streams, id)
}

// cancelAll aborts every open stream.
func (s *server) cancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cancel := range s.streams {
		cancel()
	}
}

// emitter writes the SSE frames of one stream with a fixed cadence. The step
// delay runs before each frame, so cancellation between events is prompt and
// terminal frames add no trailing sleep. One goroutine owns an emitter.
type emitter struct {
	ctx       context.Context
	w         gin.ResponseWriter
	stepDelay time.Duration
	stopped   bool
}

// interrupted reports whether the stream was cancelled mid scenario.
func (e *emitter) interrupted() bool {
	return e.stopped
}

// pause sleeps for d unless the stream is cancelled first.
func (e *emitter) pause(d time.Duration) {
	if e.stopped {
		return
	}
	if d <= 0 {
		e.stopped = e.ctx.Err() != nil
		return
	}
	select {
	case <-e.ctx.Done():
		e.stopped = true
	case <-time.After(d):
	}
}

func (e *emitter) frame(name, data string) {
	e.pause(e.stepDelay)
	if e.stopped {
		return
	}
	fmt.Fprintf(e.w, "event: %s\ndata: %s\n\n", name, data)
	e.w.Flush()
}

// message emits one stream-json line as a message event.
func (e *emitter) message(msg *claudecode.CLIMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	e.frame(eventMessage, string(data))
}

func (e *emitter) complete(success bool) {
	e.frame(eventComplete, fmt.Sprintf(`{"success": %t}`, success))
}

func (e *emitter) errorEvent(message string) {
	data, err := json.Marshal(map[string]string{"error": message})
	if err != nil {
		return
	}
	e.frame(eventError, string(data))
}
