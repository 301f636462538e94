package mcpserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentdeck/agentdeck/internal/common/logger"
)

type engineCall struct {
	Method string
	Path   string
	Query  string
	Body   map[string]any
}

// engineStub stands in for the engine API and records every request.
type engineStub struct {
	t      *testing.T
	srv    *httptest.Server
	mu     sync.Mutex
	calls  []engineCall
	status int
	body   string
}

func newEngineStub(t *testing.T) *engineStub {
	t.Helper()
	s := &engineStub{t: t, status: http.StatusOK, body: "{}"}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		call := engineCall{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery}
		data, _ := io.ReadAll(r.Body)
		if len(data) > 0 {
			_ = json.Unmarshal(data, &call.Body)
		}
		s.mu.Lock()
		s.calls = append(s.calls, call)
		status, body := s.status, s.body
		s.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusNoContent {
			_, _ = w.Write([]byte(body))
		}
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *engineStub) respond(status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
	s.body = body
}

func (s *engineStub) config() Config {
	return Config{EngineURL: s.srv.URL}
}

func (s *engineStub) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *engineStub) lastCall() engineCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(s.t, s.calls, "no engine calls recorded")
	return s.calls[len(s.calls)-1]
}

func toolRequest(args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content, got %T", res.Content[0])
	return text.Text
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("error", "console", "stdout")
	require.NoError(t, err)
	return log
}

func TestLaunchAgentToolProxiesLaunch(t *testing.T) {
	stub := newEngineStub(t)
	stub.respond(http.StatusCreated, `{"agentId":"agent-1","status":"RUNNING"}`)
	handler := launchAgentHandler(stub.config(), testLogger(t))

	res, err := handler(context.Background(), toolRequest(map[string]any{
		"agent_type":   "synthetic",
		"prompt":       "write a haiku",
		"model":        "claude-opus-4-6",
		"instructions": "be brief",
	}))
	require.NoError(t, err)
	require.False(t, res.IsError)
	assert.Contains(t, resultText(t, res), "agent-1")

	call := stub.lastCall()
	assert.Equal(t, http.MethodPost, call.Method)
	assert.Equal(t, "/api/agents", call.Path)
	assert.Equal(t, "synthetic", call.Body["agentType"])
	assert.Equal(t, "write a haiku", call.Body["prompt"])

	configuration, ok := call.Body["configuration"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "claude-opus-4-6", configuration["model"])
	assert.Equal(t, "be brief", configuration["instructions"])
}

func TestLaunchAgentToolOmitsEmptyConfiguration(t *testing.T) {
	stub := newEngineStub(t)
	handler := launchAgentHandler(stub.config(), testLogger(t))

	_, err := handler(context.Background(), toolRequest(map[string]any{
		"agent_type": "synthetic",
		"prompt":     "go",
	}))
	require.NoError(t, err)

	call := stub.lastCall()
	_, present := call.Body["configuration"]
	assert.False(t, present)
}

func TestLaunchAgentToolRequiresPrompt(t *testing.T) {
	stub := newEngineStub(t)
	handler := launchAgentHandler(stub.config(), testLogger(t))

	res, err := handler(context.Background(), toolRequest(map[string]any{
		"agent_type": "synthetic",
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Equal(t, 0, stub.callCount(), "no engine call for an invalid request")
}

func TestListAgentsToolActiveFilter(t *testing.T) {
	stub := newEngineStub(t)
	stub.respond(http.StatusOK, `[]`)
	handler := listAgentsHandler(stub.config(), testLogger(t))

	_, err := handler(context.Background(), toolRequest(map[string]any{}))
	require.NoError(t, err)
	assert.Equal(t, "/api/agents", stub.lastCall().Path)

	_, err = handler(context.Background(), toolRequest(map[string]any{"active": true}))
	require.NoError(t, err)
	assert.Equal(t, "/api/agents/active", stub.lastCall().Path)
}

func TestGetAgentTool(t *testing.T) {
	stub := newEngineStub(t)
	stub.respond(http.StatusOK, `{"id":"a-1","status":"RUNNING"}`)
	handler := getAgentHandler(stub.config(), testLogger(t))

	res, err := handler(context.Background(), toolRequest(map[string]any{"agent_id": "a-1"}))
	require.NoError(t, err)
	require.False(t, res.IsError)

	call := stub.lastCall()
	assert.Equal(t, http.MethodGet, call.Method)
	assert.Equal(t, "/api/agents/a-1", call.Path)
	assert.Contains(t, resultText(t, res), "RUNNING")
}

func TestGetAgentMessagesToolSince(t *testing.T) {
	stub := newEngineStub(t)
	stub.respond(http.StatusOK, `[]`)
	handler := getAgentMessagesHandler(stub.config(), testLogger(t))

	_, err := handler(context.Background(), toolRequest(map[string]any{"agent_id": "a-1"}))
	require.NoError(t, err)
	call := stub.lastCall()
	assert.Equal(t, "/api/agents/a-1/messages", call.Path)
	assert.Empty(t, call.Query)

	// JSON numbers arrive as float64; the tool turns them back into an
	// integer query value.
	_, err = handler(context.Background(), toolRequest(map[string]any{
		"agent_id": "a-1",
		"since":    float64(4),
	}))
	require.NoError(t, err)
	assert.Equal(t, "since=4", stub.lastCall().Query)
}

func TestTerminateAgentToolForce(t *testing.T) {
	stub := newEngineStub(t)
	stub.respond(http.StatusNoContent, "")
	handler := terminateAgentHandler(stub.config(), testLogger(t))

	res, err := handler(context.Background(), toolRequest(map[string]any{
		"agent_id": "a-1",
		"force":    true,
	}))
	require.NoError(t, err)
	require.False(t, res.IsError)

	call := stub.lastCall()
	assert.Equal(t, http.MethodDelete, call.Method)
	assert.Equal(t, "/api/agents/a-1", call.Path)
	assert.Equal(t, "force=true", call.Query)
	assert.JSONEq(t, `{"success": true}`, resultText(t, res))
}

func TestGetQueueStatusTool(t *testing.T) {
	stub := newEngineStub(t)
	stub.respond(http.StatusOK, `{"queueLength":2}`)
	handler := getQueueStatusHandler(stub.config(), testLogger(t))

	res, err := handler(context.Background(), toolRequest(map[string]any{}))
	require.NoError(t, err)

	assert.Equal(t, "/api/agents/queue", stub.lastCall().Path)
	assert.Contains(t, resultText(t, res), "queueLength")
}

func TestEngineErrorBecomesToolError(t *testing.T) {
	stub := newEngineStub(t)
	stub.respond(http.StatusNotFound, `{"code":"AGENT_NOT_FOUND","message":"agent not found"}`)
	handler := getAgentHandler(stub.config(), testLogger(t))

	res, err := handler(context.Background(), toolRequest(map[string]any{"agent_id": "ghost"}))
	require.NoError(t, err, "engine errors surface as tool errors, not protocol errors")
	assert.True(t, res.IsError)

	text := resultText(t, res)
	assert.Contains(t, text, "404")
	assert.Contains(t, text, "AGENT_NOT_FOUND")
}

func TestUnreachableEngineBecomesToolError(t *testing.T) {
	handler := getQueueStatusHandler(Config{EngineURL: "http://127.0.0.1:1"}, testLogger(t))

	res, err := handler(context.Background(), toolRequest(map[string]any{}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "Engine request failed")
}
