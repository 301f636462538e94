package main

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/agentdeck/agentdeck/pkg/claudecode"
)

// A scenarioFunc scripts the stream-json messages of one agent run and
// reports how the stream should terminate.
type scenarioFunc func(e *emitter, req streamRequest) outcome

type outcome int

const (
	// outcomeSuccess ends the stream with complete {"success": true}.
	outcomeSuccess outcome = iota
	// outcomeFailure ends the stream with complete {"success": false}.
	outcomeFailure
	// outcomeErrored means the scenario already emitted its error event.
	outcomeErrored
	// outcomeCrash drops the stream with no terminal event at all.
	outcomeCrash
)

const defaultScenario = "default"

var scenarios = map[string]scenarioFunc{
	"default": scenarioDefault,
	"tools":   scenarioTools,
	"error":   scenarioError,
	"failure": scenarioFailure,
	"slow":    scenarioSlow,
	"crash":   scenarioCrash,
}

// pickScenario resolves the scenario for a stream request. An explicit
// ?scenario= query wins; otherwise a /<name> prompt prefix selects one, which
// is how engine-launched runs pick scenarios without touching the URL. An
// unrecognized prompt prefix falls through to the default so real prompts
// that happen to start with a slash still stream.
func pickScenario(query, prompt string) (string, scenarioFunc, bool) {
	if query != "" {
		fn, ok := scenarios[query]
		return query, fn, ok
	}
	if fields := strings.Fields(prompt); len(fields) > 0 && strings.HasPrefix(fields[0], "/") {
		name := strings.TrimPrefix(fields[0], "/")
		if fn, ok := scenarios[name]; ok {
			return name, fn, true
		}
	}
	return defaultScenario, scenarios[defaultScenario], true
}

func scenarioNames() []string {
	names := make([]string, 0, len(scenarios))
	for name := range scenarios {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// scenarioDefault plays a short thinking/answer exchange and succeeds.
func scenarioDefault(e *emitter, req streamRequest) outcome {
	run := newRun(req)
	e.message(run.systemInit())
	e.message(run.thinking("Reading the prompt and planning a short answer..."))
	e.message(run.text("Mock response to: " + firstLine(req.Prompt)))
	e.message(run.result("Mock run complete.", 1))
	return outcomeSuccess
}

// scenarioTools runs a read/exec tool exchange before answering.
func scenarioTools(e *emitter, req streamRequest) outcome {
	run := newRun(req)
	e.message(run.systemInit())
	e.message(run.thinking("Inspecting the workspace before answering..."))

	readPath := "README.md"
	if req.WorkingDirectory != "" {
		readPath = filepath.Join(req.WorkingDirectory, "README.md")
	}
	readID := nextToolID()
	e.message(run.toolUse(readID, "Read", map[string]any{"file_path": readPath}))
	e.message(run.toolResult(readID, "# Mock project\n\nNothing to see here."))

	bashID := nextToolID()
	e.message(run.toolUse(bashID, "Bash", map[string]any{
		"command":     "go test ./...",
		"description": "Run the test suite",
	}))
	e.message(run.toolResult(bashID, "ok  mockproject  0.412s"))

	e.message(run.text("Checked the workspace and ran the tests; everything passes."))
	e.message(run.result("Tool scenario complete.", 3))
	return outcomeSuccess
}

// scenarioError fails the stream with an upstream error event.
func scenarioError(e *emitter, req streamRequest) outcome {
	run := newRun(req)
	e.message(run.systemInit())
	e.message(run.text("About to hit a simulated backend failure."))
	e.errorEvent("mock upstream failure: simulated provider outage")
	return outcomeErrored
}

// scenarioFailure finishes the run but reports it unsuccessful.
func scenarioFailure(e *emitter, req streamRequest) outcome {
	run := newRun(req)
	e.message(run.systemInit())
	e.message(run.text("The mock run did not reach a useful answer."))
	e.message(run.errorResult("Mock run failed: turn limit exceeded."))
	return outcomeFailure
}

// scenarioSlow drips progress updates with a second between them. Long
// enough to exercise the stop endpoint by hand.
func scenarioSlow(e *emitter, req streamRequest) outcome {
	run := newRun(req)
	e.message(run.systemInit())
	for i := 1; i <= 20 && !e.interrupted(); i++ {
		e.pause(time.Second)
		e.message(run.text(fmt.Sprintf("Still working (%d/20)...", i)))
	}
	e.message(run.result("Slow scenario complete.", 20))
	return outcomeSuccess
}

// scenarioCrash drops the stream mid run the way a killed sidecar would.
// The engine treats the missing terminal event as a failed run.
func scenarioCrash(e *emitter, req streamRequest) outcome {
	run := newRun(req)
	e.message(run.systemInit())
	e.message(run.text("This stream is about to drop without completing."))
	return outcomeCrash
}

// toolCallCounter is shared across concurrent streams.
var toolCallCounter atomic.Int64

func nextToolID() string {
	return fmt.Sprintf("mock_tool_%04d", toolCallCounter.Add(1))
}

// run carries the per-stream identifiers stamped on every scripted message.
type run struct {
	sessionID string
	model     string
}

func newRun(req streamRequest) *run {
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = "mock-session-" + uuid.NewString()[:8]
	}
	model := req.Model
	if model == "" {
		model = "mock-default"
	}
	return &run{sessionID: sessionID, model: model}
}

func (r *run) systemInit() *claudecode.CLIMessage {
	return &claudecode.CLIMessage{
		Type:      claudecode.MessageTypeSystem,
		Subtype:   "init",
		SessionID: r.sessionID,
		Model:     r.model,
	}
}

func (r *run) thinking(thought string) *claudecode.CLIMessage {
	return r.assistant(claudecode.ContentBlock{Type: "thinking", Thinking: thought}, "")
}

func (r *run) text(text string) *claudecode.CLIMessage {
	return r.assistant(claudecode.ContentBlock{Type: "text", Text: text}, "end_turn")
}

func (r *run) toolUse(id, name string, input map[string]any) *claudecode.CLIMessage {
	return r.assistant(claudecode.ContentBlock{Type: "tool_use", ID: id, Name: name, Input: input}, "tool_use")
}

func (r *run) assistant(block claudecode.ContentBlock, stopReason string) *claudecode.CLIMessage {
	return &claudecode.CLIMessage{
		Type:      claudecode.MessageTypeAssistant,
		SessionID: r.sessionID,
		Message: &claudecode.AssistantMessage{
			Role:       "assistant",
			Content:    []claudecode.ContentBlock{block},
			Model:      r.model,
			StopReason: stopReason,
			Usage:      mockUsage(),
		},
	}
}

func (r *run) toolResult(toolUseID, content string) *claudecode.CLIMessage {
	return &claudecode.CLIMessage{
		Type:      claudecode.MessageTypeUser,
		SessionID: r.sessionID,
		Message: &claudecode.AssistantMessage{
			Role: "user",
			Content: []claudecode.ContentBlock{
				{Type: "tool_result", ToolUseID: toolUseID, Content: content},
			},
		},
	}
}

func (r *run) result(text string, numTurns int) *claudecode.CLIMessage {
	return &claudecode.CLIMessage{
		Type:       claudecode.MessageTypeResult,
		Subtype:    "success",
		SessionID:  r.sessionID,
		Result:     json.RawMessage(strconv.Quote(text)),
		CostUSD:    0.0042,
		DurationMS: 1200,
		NumTurns:   numTurns,
		Usage:      mockUsage(),
	}
}

func (r *run) errorResult(text string) *claudecode.CLIMessage {
	return &claudecode.CLIMessage{
		Type:       claudecode.MessageTypeResult,
		Subtype:    "error_during_execution",
		SessionID:  r.sessionID,
		Result:     json.RawMessage(strconv.Quote(text)),
		IsError:    true,
		DurationMS: 800,
		NumTurns:   1,
	}
}

func mockUsage() *claudecode.Usage {
	return &claudecode.Usage{InputTokens: 1200, OutputTokens: 350}
}

// firstLine truncates a prompt to its first line for echoing back.
func firstLine(prompt string) string {
	if i := strings.IndexByte(prompt, '\n'); i >= 0 {
		return strings.TrimSpace(prompt[:i])
	}
	return strings.TrimSpace(prompt)
}
