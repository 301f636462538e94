// Package synthetic runs scripted agents entirely in-process. A script
// fires message, complete and error events at fixed offsets from launch,
// which makes agent behavior deterministic for tests and demos.
package synthetic

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agentdeck/agentdeck/internal/agent/domain"
	"github.com/agentdeck/agentdeck/internal/common/errors"
	"github.com/agentdeck/agentdeck/internal/common/logger"
	"github.com/agentdeck/agentdeck/internal/runner"
)

// Step types.
const (
	StepMessage  = "message"
	StepComplete = "complete"
	StepError    = "error"
)

const stopWait = 2 * time.Second

// Step is one scheduled script event. DelayMS is the offset from launch,
// not from the previous step.
type Step struct {
	DelayMS int64           `json:"delay_ms"`
	Type    string          `json:"type"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Script is an ordered event schedule. A script normally ends with a
// complete step; when it does not, a terminal completion is emitted after
// the last step (failed if any error step fired, successful otherwise).
type Script []Step

// Validate rejects steps with unknown types or negative offsets.
func (s Script) Validate() error {
	for i, step := range s {
		switch step.Type {
		case StepMessage, StepComplete, StepError:
		default:
			return errors.ValidationError("script",
				fmt.Sprintf("step %d has unknown type %q", i, step.Type))
		}
		if step.DelayMS < 0 {
			return errors.ValidationError("script",
				fmt.Sprintf("step %d has negative delay", i))
		}
	}
	return nil
}

// DefaultScript is the canned run used when a launch supplies no script.
func DefaultScript() Script {
	return Script{
		{DelayMS: 10, Type: StepMessage, Data: json.RawMessage(`"Synthetic agent starting up."`)},
		{DelayMS: 30, Type: StepMessage, Data: json.RawMessage(`"Work complete."`)},
		{DelayMS: 50, Type: StepComplete},
	}
}

// Runner plays scripts against the observer contract.
type Runner struct {
	*runner.Notifier
	logger        *logger.Logger
	defaultScript Script

	mu   sync.Mutex
	runs map[string]*run
}

type run struct {
	cancel    context.CancelFunc
	startedAt time.Time
	done      chan struct{}

	mu           sync.Mutex
	status       domain.AgentStatus
	messageCount int
}

// New creates a synthetic runner. A nil defaultScript falls back to
// DefaultScript.
func New(defaultScript Script, log *logger.Logger) *Runner {
	if defaultScript == nil {
		defaultScript = DefaultScript()
	}
	return &Runner{
		Notifier:      runner.NewNotifier(log),
		logger:        log.WithFields(zap.String("component", "synthetic-runner")),
		defaultScript: defaultScript,
		runs:          make(map[string]*run),
	}
}

// Start schedules the agent's script. The script comes from
// config.Metadata["script"] when present, otherwise the registered default.
func (r *Runner) Start(ctx context.Context, agentID string, session domain.Session) error {
	script, err := r.scriptFor(session)
	if err != nil {
		return err
	}
	if err := script.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	if existing, ok := r.runs[agentID]; ok && existing.currentStatus() == domain.StatusRunning {
		r.mu.Unlock()
		return errors.Conflict("agent script already running: " + agentID)
	}

	playCtx, cancel := context.WithCancel(context.Background())
	rn := &run{
		cancel:    cancel,
		startedAt: time.Now(),
		done:      make(chan struct{}),
		status:    domain.StatusRunning,
	}
	r.runs[agentID] = rn
	r.mu.Unlock()

	r.logger.Info("script started",
		zap.String("agent_id", agentID),
		zap.Int("steps", len(script)))

	go r.play(playCtx, agentID, rn, script)
	return nil
}

// scriptFor extracts the script from the launch metadata or falls back to
// the default. Metadata values arrive as decoded JSON, so the script is
// re-marshaled into its typed form; a string value is parsed as JSON text.
func (r *Runner) scriptFor(session domain.Session) (Script, error) {
	raw, ok := session.Config.Metadata["script"]
	if !ok || raw == nil {
		return r.defaultScript, nil
	}

	var data []byte
	switch v := raw.(type) {
	case string:
		data = []byte(v)
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, errors.ValidationError("script", "script metadata is not encodable: "+err.Error())
		}
		data = encoded
	}

	var script Script
	if err := json.Unmarshal(data, &script); err != nil {
		return nil, errors.ValidationError("script", "invalid script: "+err.Error())
	}
	return script, nil
}

func (r *Runner) play(ctx context.Context, agentID string, rn *run, script Script) {
	defer close(rn.done)
	notifyCtx := context.Background()
	sawError := false

	for _, step := range script {
		if !waitUntil(ctx, rn.startedAt, step.DelayMS) {
			rn.setStatus(domain.StatusTerminated)
			r.logger.Info("script cancelled", zap.String("agent_id", agentID))
			r.NotifyComplete(notifyCtx, agentID, rn.result(runner.ResultFailed))
			return
		}

		switch step.Type {
		case StepMessage:
			output, err := decodeMessageStep(step.Data)
			if err != nil {
				r.logger.Warn("skipping malformed message step",
					zap.String("agent_id", agentID),
					zap.Error(err))
				continue
			}
			rn.countMessage()
			r.NotifyMessage(notifyCtx, agentID, output)

		case StepComplete:
			success := decodeCompleteStep(step.Data)
			result := rn.result(runner.ResultSuccess)
			if success {
				rn.setStatus(domain.StatusCompleted)
			} else {
				rn.setStatus(domain.StatusFailed)
				result.Status = runner.ResultFailed
			}
			r.NotifyComplete(notifyCtx, agentID, result)
			return

		case StepError:
			sawError = true
			r.NotifyError(notifyCtx, agentID, decodeErrorStep(step.Data))
		}
	}

	// Script ran out without a complete step.
	if sawError {
		rn.setStatus(domain.StatusFailed)
		r.NotifyComplete(notifyCtx, agentID, rn.result(runner.ResultFailed))
		return
	}
	rn.setStatus(domain.StatusCompleted)
	r.NotifyComplete(notifyCtx, agentID, rn.result(runner.ResultSuccess))
}

// waitUntil sleeps until the step's offset from start, honoring
// cancellation. Returns false when cancelled.
func waitUntil(ctx context.Context, start time.Time, offsetMS int64) bool {
	remaining := time.Duration(offsetMS)*time.Millisecond - time.Since(start)
	if remaining <= 0 {
		select {
		case <-ctx.Done():
			return false
		default:
			return true
		}
	}
	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Stop cancels the script. Idempotent once the run has finished.
func (r *Runner) Stop(ctx context.Context, agentID string) error {
	r.mu.Lock()
	rn, ok := r.runs[agentID]
	r.mu.Unlock()
	if !ok {
		return errors.NotFound("agent script", agentID)
	}

	select {
	case <-rn.done:
		return nil
	default:
	}

	rn.cancel()

	select {
	case <-rn.done:
	case <-ctx.Done():
	case <-time.After(stopWait):
		r.logger.Warn("script did not stop", zap.String("agent_id", agentID))
	}
	return nil
}

// Status reports the tracked lifecycle state of an agent's script.
func (r *Runner) Status(agentID string) (domain.AgentStatus, error) {
	r.mu.Lock()
	rn, ok := r.runs[agentID]
	r.mu.Unlock()
	if !ok {
		return "", errors.NotFound("agent script", agentID)
	}
	return rn.currentStatus(), nil
}

// messagePayload is the structured form of a message step's data. A bare
// JSON string is accepted as shorthand for assistant text.
type messagePayload struct {
	Type    domain.MessageType `json:"type,omitempty"`
	Role    string             `json:"role,omitempty"`
	Content json.RawMessage    `json:"content,omitempty"`
}

func decodeMessageStep(data json.RawMessage) (runner.Output, error) {
	out := runner.Output{Type: domain.MessageTypeAssistant, Role: "assistant", Content: ""}
	if len(data) == 0 {
		return out, nil
	}

	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		out.Content = text
		out.Raw = text
		return out, nil
	}

	var payload messagePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return runner.Output{}, err
	}
	if payload.Type != "" {
		out.Type = payload.Type
	}
	if payload.Role != "" {
		out.Role = payload.Role
	}
	if len(payload.Content) > 0 {
		var content any
		if err := json.Unmarshal(payload.Content, &content); err != nil {
			content = string(payload.Content)
		}
		out.Content = content
	}
	out.Raw = string(data)
	return out, nil
}

func decodeCompleteStep(data json.RawMessage) bool {
	if len(data) == 0 {
		return true
	}
	var payload struct {
		Success *bool `json:"success"`
	}
	if err := json.Unmarshal(data, &payload); err != nil || payload.Success == nil {
		return true
	}
	return *payload.Success
}

func decodeErrorStep(data json.RawMessage) runner.ErrorEvent {
	ev := runner.ErrorEvent{Kind: errors.ErrCodeBackendError, Message: "scripted error"}
	if len(data) == 0 {
		return ev
	}

	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		ev.Message = text
		return ev
	}

	var payload struct {
		Name    string `json:"name,omitempty"`
		Message string `json:"message,omitempty"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return ev
	}
	if payload.Name != "" {
		ev.Kind = payload.Name
	}
	if payload.Message != "" {
		ev.Message = payload.Message
	}
	return ev
}

func (rn *run) currentStatus() domain.AgentStatus {
	rn.mu.Lock()
	defer rn.mu.Unlock()
	return rn.status
}

func (rn *run) setStatus(status domain.AgentStatus) {
	rn.mu.Lock()
	defer rn.mu.Unlock()
	rn.status = status
}

func (rn *run) countMessage() {
	rn.mu.Lock()
	defer rn.mu.Unlock()
	rn.messageCount++
}

func (rn *run) result(status string) runner.Result {
	rn.mu.Lock()
	defer rn.mu.Unlock()
	return runner.Result{
		Status:       status,
		Duration:     time.Since(rn.startedAt),
		MessageCount: rn.messageCount,
	}
}
