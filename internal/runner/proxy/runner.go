// Package proxy runs claude-code agents through the HTTP-SSE sidecar. The
// engine opens one streaming request per agent and consumes server-sent
// events until the upstream reports completion.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agentdeck/agentdeck/internal/agent/domain"
	"github.com/agentdeck/agentdeck/internal/common/errors"
	"github.com/agentdeck/agentdeck/internal/common/logger"
	"github.com/agentdeck/agentdeck/internal/runner"
	"github.com/agentdeck/agentdeck/pkg/claudecode"
)

const (
	streamPath    = "/agent/stream"
	stopPath      = "/agent/stop/"
	agentIDHeader = "X-Agent-Id"

	// Events on the upstream stream
	eventMessage  = "message"
	eventComplete = "complete"
	eventError    = "error"

	stopRequestTimeout = 5 * time.Second
)

// streamRequest is the upstream launch body.
type streamRequest struct {
	Prompt           string `json:"prompt"`
	SessionID        string `json:"session_id,omitempty"`
	WorkingDirectory string `json:"working_directory,omitempty"`
	Model            string `json:"model,omitempty"`
	MCPConfig        string `json:"mcp_config,omitempty"`
	MCPStrict        bool   `json:"mcp_strict,omitempty"`
}

// Runner streams agent output from the HTTP-SSE proxy.
type Runner struct {
	*runner.Notifier
	baseURL string
	client  *http.Client
	logger  *logger.Logger

	mu      sync.Mutex
	streams map[string]*upstream
}

type upstream struct {
	id        string
	cancel    context.CancelFunc
	startedAt time.Time
	done      chan struct{}

	mu           sync.Mutex
	status       domain.AgentStatus
	stopping     bool
	messageCount int
	stats        map[string]any
}

// New creates a proxy runner against the given base URL.
func New(baseURL string, log *logger.Logger) *Runner {
	return &Runner{
		Notifier: runner.NewNotifier(log),
		baseURL:  strings.TrimRight(baseURL, "/"),
		// No client timeout: the stream stays open for the agent's lifetime.
		client:  &http.Client{},
		logger:  log.WithFields(zap.String("component", "proxy-runner")),
		streams: make(map[string]*upstream),
	}
}

// Start opens the upstream stream for the agent and begins consuming events.
func (r *Runner) Start(ctx context.Context, agentID string, session domain.Session) error {
	r.mu.Lock()
	if existing, ok := r.streams[agentID]; ok && existing.currentStatus() == domain.StatusRunning {
		r.mu.Unlock()
		return errors.Conflict("agent stream already open: " + agentID)
	}
	r.mu.Unlock()

	body := streamRequest{
		Prompt:           session.Prompt,
		SessionID:        session.Config.SessionID,
		WorkingDirectory: session.Config.WorkingDirectory,
		Model:            session.Config.Model,
	}
	if session.Config.MCP != nil {
		mcpJSON, err := session.Config.MCP.ToJSON()
		if err != nil {
			return err
		}
		body.MCPConfig = mcpJSON
		body.MCPStrict = session.Config.MCP.Strict
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return errors.InternalError("failed to encode stream request", err)
	}

	// The stream outlives the launch call, so it gets its own context.
	streamCtx, cancel := context.WithCancel(context.Background())

	req, err := http.NewRequestWithContext(streamCtx, http.MethodPost, r.baseURL+streamPath, bytes.NewReader(payload))
	if err != nil {
		cancel()
		return errors.InternalError("failed to build stream request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := r.client.Do(req)
	if err != nil {
		cancel()
		return errors.Backend("proxy stream request failed", err)
	}
	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		cancel()
		return errors.Backend(
			fmt.Sprintf("proxy returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail))),
			nil,
		)
	}

	up := &upstream{
		id:        resp.Header.Get(agentIDHeader),
		cancel:    cancel,
		startedAt: time.Now().UTC(),
		done:      make(chan struct{}),
		status:    domain.StatusRunning,
	}

	r.mu.Lock()
	r.streams[agentID] = up
	r.mu.Unlock()

	r.logger.Info("agent stream opened",
		zap.String("agent_id", agentID),
		zap.String("upstream_id", up.id))

	go r.consume(agentID, up, resp.Body)
	return nil
}

// consume drives the SSE iterator until completion, error or cancellation.
func (r *Runner) consume(agentID string, up *upstream, body io.ReadCloser) {
	defer func() {
		_ = body.Close()
		close(up.done)
	}()

	ctx := context.Background()
	stream := newSSEStream(body)

	for {
		ev, err := stream.Next()
		if err != nil {
			r.finishOnStreamEnd(ctx, agentID, up, err)
			return
		}

		switch ev.Name {
		case eventMessage:
			msg, perr := claudecode.ParseLine([]byte(ev.Data))
			if perr != nil {
				r.logger.Warn("skipping unparseable stream message",
					zap.String("agent_id", agentID),
					zap.Error(perr))
				continue
			}
			if msg == nil {
				continue
			}
			if msg.Type == claudecode.MessageTypeResult {
				up.recordStats(msg.Stats())
			}
			for _, output := range runner.OutputsFromCLI(msg) {
				up.countMessage()
				r.NotifyMessage(ctx, agentID, output)
			}

		case eventComplete:
			var payload struct {
				Success bool `json:"success"`
			}
			if err := json.Unmarshal([]byte(ev.Data), &payload); err != nil {
				r.logger.Warn("malformed complete event, assuming failure",
					zap.String("agent_id", agentID),
					zap.Error(err))
			}
			result := up.result()
			if payload.Success {
				up.setStatus(domain.StatusCompleted)
				result.Status = runner.ResultSuccess
			} else {
				up.setStatus(domain.StatusFailed)
				result.Status = runner.ResultFailed
			}
			r.NotifyComplete(ctx, agentID, result)
			return

		case eventError:
			var payload struct {
				Error string `json:"error"`
			}
			if err := json.Unmarshal([]byte(ev.Data), &payload); err != nil || payload.Error == "" {
				payload.Error = ev.Data
			}
			up.setStatus(domain.StatusFailed)
			r.NotifyError(ctx, agentID, runner.ErrorEvent{
				Kind:    errors.ErrCodeBackendError,
				Message: payload.Error,
			})
			result := up.result()
			result.Status = runner.ResultFailed
			r.NotifyComplete(ctx, agentID, result)
			return
		}
	}
}

// finishOnStreamEnd reports the terminal result when the stream dies without
// a complete event.
func (r *Runner) finishOnStreamEnd(ctx context.Context, agentID string, up *upstream, err error) {
	result := up.result()
	result.Status = runner.ResultFailed

	if up.isStopping() {
		up.setStatus(domain.StatusTerminated)
		r.logger.Info("agent stream cancelled",
			zap.String("agent_id", agentID))
		r.NotifyComplete(ctx, agentID, result)
		return
	}

	up.setStatus(domain.StatusFailed)
	message := "stream ended before completion"
	if err != nil && err != io.EOF {
		message = fmt.Sprintf("stream read failed: %v", err)
	}
	r.NotifyError(ctx, agentID, runner.ErrorEvent{
		Kind:    errors.ErrCodeBackendError,
		Message: message,
	})
	r.NotifyComplete(ctx, agentID, result)
}

// Stop cancels the stream and tells the upstream to stop the agent.
// Idempotent once the stream has closed.
func (r *Runner) Stop(ctx context.Context, agentID string) error {
	r.mu.Lock()
	up, ok := r.streams[agentID]
	r.mu.Unlock()
	if !ok {
		return errors.NotFound("agent stream", agentID)
	}

	select {
	case <-up.done:
		return nil
	default:
	}

	up.markStopping()

	if up.id != "" {
		stopCtx, cancel := context.WithTimeout(ctx, stopRequestTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(stopCtx, http.MethodPost, r.baseURL+stopPath+up.id, nil)
		if err == nil {
			resp, doErr := r.client.Do(req)
			if doErr != nil {
				r.logger.Warn("upstream stop request failed",
					zap.String("agent_id", agentID),
					zap.String("upstream_id", up.id),
					zap.Error(doErr))
			} else {
				_ = resp.Body.Close()
			}
		}
	}

	up.cancel()

	select {
	case <-up.done:
	case <-time.After(stopRequestTimeout):
		r.logger.Warn("agent stream did not close after cancel",
			zap.String("agent_id", agentID))
	}
	return nil
}

// Status reports the tracked lifecycle state of an agent's stream.
func (r *Runner) Status(agentID string) (domain.AgentStatus, error) {
	r.mu.Lock()
	up, ok := r.streams[agentID]
	r.mu.Unlock()
	if !ok {
		return "", errors.NotFound("agent stream", agentID)
	}
	return up.currentStatus(), nil
}

func (u *upstream) currentStatus() domain.AgentStatus {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.status
}

func (u *upstream) setStatus(status domain.AgentStatus) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.status = status
}

func (u *upstream) markStopping() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.stopping = true
}

func (u *upstream) isStopping() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.stopping
}

func (u *upstream) countMessage() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.messageCount++
}

func (u *upstream) recordStats(stats map[string]any) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.stats = stats
}

func (u *upstream) result() runner.Result {
	u.mu.Lock()
	defer u.mu.Unlock()
	return runner.Result{
		Duration:     time.Since(u.startedAt),
		MessageCount: u.messageCount,
		Stats:        u.stats,
	}
}
