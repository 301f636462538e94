package synthetic

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentdeck/agentdeck/internal/agent/domain"
	apperrors "github.com/agentdeck/agentdeck/internal/common/errors"
	"github.com/agentdeck/agentdeck/internal/common/logger"
	"github.com/agentdeck/agentdeck/internal/runner"
)

func newTestRunner(t *testing.T, script Script) *Runner {
	t.Helper()
	log, err := logger.New("error", "console", "stdout")
	require.NoError(t, err)
	return New(script, log)
}

// captureObserver records events and signals completion.
type captureObserver struct {
	mu        sync.Mutex
	messages  []runner.Output
	errs      []runner.ErrorEvent
	result    *runner.Result
	completed chan struct{}
}

func newCaptureObserver() *captureObserver {
	return &captureObserver{completed: make(chan struct{})}
}

func (o *captureObserver) OnMessage(_ context.Context, output runner.Output) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.messages = append(o.messages, output)
	return nil
}

func (o *captureObserver) OnStatusChange(context.Context, domain.AgentStatus) error { return nil }

func (o *captureObserver) OnError(_ context.Context, event runner.ErrorEvent) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.errs = append(o.errs, event)
	return nil
}

func (o *captureObserver) OnComplete(_ context.Context, result runner.Result) error {
	o.mu.Lock()
	o.result = &result
	o.mu.Unlock()
	close(o.completed)
	return nil
}

func (o *captureObserver) waitComplete(t *testing.T) runner.Result {
	t.Helper()
	select {
	case <-o.completed:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for completion")
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return *o.result
}

func (o *captureObserver) messageContents() []any {
	o.mu.Lock()
	defer o.mu.Unlock()
	contents := make([]any, len(o.messages))
	for i, m := range o.messages {
		contents[i] = m.Content
	}
	return contents
}

func TestRunnerPlaysDefaultScript(t *testing.T) {
	r := newTestRunner(t, nil)
	obs := newCaptureObserver()
	r.Subscribe("agent-1", obs)

	require.NoError(t, r.Start(context.Background(), "agent-1", domain.Session{Prompt: "hi"}))

	result := obs.waitComplete(t)
	assert.Equal(t, runner.ResultSuccess, result.Status)
	assert.Equal(t, 2, result.MessageCount)
	assert.Empty(t, obs.errs)

	status, err := r.Status("agent-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, status)
}

func TestRunnerRapidFireMessages(t *testing.T) {
	script := Script{
		{DelayMS: 0, Type: StepMessage, Data: json.RawMessage(`"m1"`)},
		{DelayMS: 10, Type: StepMessage, Data: json.RawMessage(`"m2"`)},
		{DelayMS: 20, Type: StepMessage, Data: json.RawMessage(`"m3"`)},
		{DelayMS: 30, Type: StepMessage, Data: json.RawMessage(`"m4"`)},
		{DelayMS: 40, Type: StepMessage, Data: json.RawMessage(`"m5"`)},
		{DelayMS: 100, Type: StepComplete},
	}
	r := newTestRunner(t, script)
	obs := newCaptureObserver()
	r.Subscribe("agent-1", obs)

	require.NoError(t, r.Start(context.Background(), "agent-1", domain.Session{Prompt: "go"}))

	result := obs.waitComplete(t)
	assert.Equal(t, runner.ResultSuccess, result.Status)
	assert.Equal(t, 5, result.MessageCount)
	assert.Equal(t, []any{"m1", "m2", "m3", "m4", "m5"}, obs.messageContents(),
		"messages must arrive in script order")
}

func TestRunnerScriptFromMetadata(t *testing.T) {
	r := newTestRunner(t, nil)
	obs := newCaptureObserver()
	r.Subscribe("agent-1", obs)

	// Metadata arrives as decoded JSON, not as typed steps.
	session := domain.Session{
		Prompt: "scripted",
		Config: domain.AgentConfiguration{
			Metadata: map[string]interface{}{
				"script": []any{
					map[string]any{"delay_ms": 0, "type": "message", "data": "from metadata"},
					map[string]any{"delay_ms": 10, "type": "complete"},
				},
			},
		},
	}

	require.NoError(t, r.Start(context.Background(), "agent-1", session))

	result := obs.waitComplete(t)
	assert.Equal(t, 1, result.MessageCount)
	assert.Equal(t, []any{"from metadata"}, obs.messageContents())
}

func TestRunnerStructuredMessageStep(t *testing.T) {
	script := Script{
		{DelayMS: 0, Type: StepMessage, Data: json.RawMessage(`{"type":"system","role":"system","content":{"note":"boot"}}`)},
		{DelayMS: 5, Type: StepComplete},
	}
	r := newTestRunner(t, script)
	obs := newCaptureObserver()
	r.Subscribe("agent-1", obs)

	require.NoError(t, r.Start(context.Background(), "agent-1", domain.Session{}))
	obs.waitComplete(t)

	require.Len(t, obs.messages, 1)
	assert.Equal(t, domain.MessageTypeSystem, obs.messages[0].Type)
	assert.Equal(t, "system", obs.messages[0].Role)
	content, ok := obs.messages[0].Content.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "boot", content["note"])
}

func TestRunnerFailedCompletion(t *testing.T) {
	script := Script{
		{DelayMS: 0, Type: StepMessage, Data: json.RawMessage(`"trying"`)},
		{DelayMS: 10, Type: StepComplete, Data: json.RawMessage(`{"success":false}`)},
	}
	r := newTestRunner(t, script)
	obs := newCaptureObserver()
	r.Subscribe("agent-1", obs)

	require.NoError(t, r.Start(context.Background(), "agent-1", domain.Session{}))

	result := obs.waitComplete(t)
	assert.Equal(t, runner.ResultFailed, result.Status)

	status, err := r.Status("agent-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, status)
}

func TestRunnerErrorStepThenImplicitFailure(t *testing.T) {
	script := Script{
		{DelayMS: 0, Type: StepError, Data: json.RawMessage(`{"name":"BACKEND_ERROR","message":"synthetic crash"}`)},
	}
	r := newTestRunner(t, script)
	obs := newCaptureObserver()
	r.Subscribe("agent-1", obs)

	require.NoError(t, r.Start(context.Background(), "agent-1", domain.Session{}))

	result := obs.waitComplete(t)
	assert.Equal(t, runner.ResultFailed, result.Status)
	require.Len(t, obs.errs, 1)
	assert.Equal(t, "BACKEND_ERROR", obs.errs[0].Kind)
	assert.Equal(t, "synthetic crash", obs.errs[0].Message)

	status, err := r.Status("agent-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, status)
}

func TestRunnerStopCancelsScript(t *testing.T) {
	script := Script{
		{DelayMS: 10, Type: StepMessage, Data: json.RawMessage(`"first"`)},
		{DelayMS: 5000, Type: StepMessage, Data: json.RawMessage(`"never"`)},
		{DelayMS: 6000, Type: StepComplete},
	}
	r := newTestRunner(t, script)
	obs := newCaptureObserver()
	r.Subscribe("agent-1", obs)

	require.NoError(t, r.Start(context.Background(), "agent-1", domain.Session{}))
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, r.Stop(context.Background(), "agent-1"))

	result := obs.waitComplete(t)
	assert.Equal(t, runner.ResultFailed, result.Status)
	assert.Equal(t, []any{"first"}, obs.messageContents())
	assert.Empty(t, obs.errs, "a requested stop is not a backend error")

	status, err := r.Status("agent-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusTerminated, status)

	// Stop after exit is a no-op.
	assert.NoError(t, r.Stop(context.Background(), "agent-1"))
}

func TestRunnerRejectsInvalidScript(t *testing.T) {
	t.Run("unknown step type", func(t *testing.T) {
		r := newTestRunner(t, nil)
		session := domain.Session{
			Config: domain.AgentConfiguration{
				Metadata: map[string]interface{}{
					"script": []any{map[string]any{"delay_ms": 0, "type": "explode"}},
				},
			},
		}
		err := r.Start(context.Background(), "agent-1", session)
		require.Error(t, err)
		assert.True(t, apperrors.IsValidation(err))
	})

	t.Run("negative delay", func(t *testing.T) {
		r := newTestRunner(t, Script{{DelayMS: -1, Type: StepMessage}})
		err := r.Start(context.Background(), "agent-1", domain.Session{})
		require.Error(t, err)
		assert.True(t, apperrors.IsValidation(err))
	})

	t.Run("unparseable metadata script", func(t *testing.T) {
		r := newTestRunner(t, nil)
		session := domain.Session{
			Config: domain.AgentConfiguration{
				Metadata: map[string]interface{}{"script": "not json"},
			},
		}
		err := r.Start(context.Background(), "agent-1", session)
		require.Error(t, err)
		assert.True(t, apperrors.IsValidation(err))
	})
}

func TestRunnerConflictOnDoubleStart(t *testing.T) {
	script := Script{{DelayMS: 500, Type: StepComplete}}
	r := newTestRunner(t, script)

	require.NoError(t, r.Start(context.Background(), "agent-1", domain.Session{}))
	err := r.Start(context.Background(), "agent-1", domain.Session{})
	require.Error(t, err)
	assert.True(t, apperrors.IsConflict(err))

	require.NoError(t, r.Stop(context.Background(), "agent-1"))
}

func TestRunnerStatusUnknownAgent(t *testing.T) {
	r := newTestRunner(t, nil)
	_, err := r.Status("nobody")
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))

	err = r.Stop(context.Background(), "nobody")
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}
