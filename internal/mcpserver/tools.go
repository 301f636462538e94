package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/agentdeck/agentdeck/internal/common/logger"
)

func registerTools(s *server.MCPServer, cfg Config, log *logger.Logger) {
	s.AddTool(
		mcp.NewTool("launch_agent",
			mcp.WithDescription(
				"Launch a coding agent and return its id once the agent process is running. "+
					"The id works with the other tools; message history streams to the engine as the agent works."),
			mcp.WithString("agent_type",
				mcp.Required(),
				mcp.Description("Backend to launch: claude-code, gemini-cli, or synthetic"),
			),
			mcp.WithString("prompt",
				mcp.Required(),
				mcp.Description("The task prompt handed to the agent"),
			),
			mcp.WithString("model",
				mcp.Description("Model override; the provider default is used when omitted"),
			),
			mcp.WithString("session_id",
				mcp.Description("Provider session to resume (claude-code only)"),
			),
			mcp.WithString("instructions",
				mcp.Description("Project instructions injected for the duration of the launch"),
			),
			mcp.WithString("working_directory",
				mcp.Description("Directory the agent process runs in"),
			),
		),
		launchAgentHandler(cfg, log),
	)

	s.AddTool(
		mcp.NewTool("list_agents",
			mcp.WithDescription("List agents known to the engine, newest first."),
			mcp.WithBoolean("active",
				mcp.Description("Only list agents still initializing or running"),
			),
		),
		listAgentsHandler(cfg, log),
	)

	s.AddTool(
		mcp.NewTool("get_agent",
			mcp.WithDescription("Fetch one agent's full record: status, configuration, and timestamps."),
			mcp.WithString("agent_id",
				mcp.Required(),
				mcp.Description("The agent ID returned by launch_agent"),
			),
		),
		getAgentHandler(cfg, log),
	)

	s.AddTool(
		mcp.NewTool("get_agent_messages",
			mcp.WithDescription(
				"Fetch an agent's message history in sequence order. "+
					"Pass since to resume from the last sequence number you have seen."),
			mcp.WithString("agent_id",
				mcp.Required(),
				mcp.Description("The agent ID to fetch messages for"),
			),
			mcp.WithNumber("since",
				mcp.Description("Only return messages with a sequence number greater than this"),
			),
		),
		getAgentMessagesHandler(cfg, log),
	)

	s.AddTool(
		mcp.NewTool("terminate_agent",
			mcp.WithDescription("Stop a running agent. The agent record and its messages are kept."),
			mcp.WithString("agent_id",
				mcp.Required(),
				mcp.Description("The agent ID to terminate"),
			),
			mcp.WithBoolean("force",
				mcp.Description("Also re-run cleanup on an agent that already finished"),
			),
		),
		terminateAgentHandler(cfg, log),
	)

	s.AddTool(
		mcp.NewTool("get_queue_status",
			mcp.WithDescription("Report how many launches are waiting in the engine's launch queue."),
		),
		getQueueStatusHandler(cfg, log),
	)

	log.Info("registered MCP tools", zap.Int("count", 6))
}

// callEngine proxies one tool invocation onto the engine API and formats the
// JSON response for the client. Engine errors come back as tool errors, not
// protocol errors, so the client model can read and react to them.
func callEngine(ctx context.Context, log *logger.Logger, method, url string, payload interface{}) (*mcp.CallToolResult, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to encode request: %v", err)), nil
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to create request: %v", err)), nil
	}
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		log.Error("engine request failed",
			zap.String("method", method),
			zap.String("url", url),
			zap.Error(err))
		return mcp.NewToolResultError(fmt.Sprintf("Engine request failed: %v", err)), nil
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNoContent {
		return mcp.NewToolResultText(`{"success": true}`), nil
	}

	var result json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse response: %v", err)), nil
	}

	if resp.StatusCode >= 400 {
		return mcp.NewToolResultError(fmt.Sprintf("Engine error (%d): %s", resp.StatusCode, string(result))), nil
	}

	formatted, _ := json.MarshalIndent(result, "", "  ")
	return mcp.NewToolResultText(string(formatted)), nil
}

func launchAgentHandler(cfg Config, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		agentType, err := req.RequireString("agent_type")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		prompt, err := req.RequireString("prompt")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		configuration := make(map[string]interface{})
		if model := req.GetString("model", ""); model != "" {
			configuration["model"] = model
		}
		if sessionID := req.GetString("session_id", ""); sessionID != "" {
			configuration["sessionId"] = sessionID
		}
		if instructions := req.GetString("instructions", ""); instructions != "" {
			configuration["instructions"] = instructions
		}
		if dir := req.GetString("working_directory", ""); dir != "" {
			configuration["workingDirectory"] = dir
		}

		payload := map[string]interface{}{
			"agentType": agentType,
			"prompt":    prompt,
		}
		if len(configuration) > 0 {
			payload["configuration"] = configuration
		}

		log.Debug("launching agent via MCP", zap.String("agent_type", agentType))
		return callEngine(ctx, log, http.MethodPost, cfg.EngineURL+"/api/agents", payload)
	}
}

func listAgentsHandler(cfg Config, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		url := cfg.EngineURL + "/api/agents"
		if active, _ := req.GetArguments()["active"].(bool); active {
			url += "/active"
		}
		return callEngine(ctx, log, http.MethodGet, url, nil)
	}
}

func getAgentHandler(cfg Config, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		agentID, err := req.RequireString("agent_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		url := fmt.Sprintf("%s/api/agents/%s", cfg.EngineURL, agentID)
		return callEngine(ctx, log, http.MethodGet, url, nil)
	}
}

func getAgentMessagesHandler(cfg Config, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		agentID, err := req.RequireString("agent_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		url := fmt.Sprintf("%s/api/agents/%s/messages", cfg.EngineURL, agentID)
		if since, ok := req.GetArguments()["since"].(float64); ok {
			url = fmt.Sprintf("%s?since=%d", url, int64(since))
		}
		return callEngine(ctx, log, http.MethodGet, url, nil)
	}
}

func terminateAgentHandler(cfg Config, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		agentID, err := req.RequireString("agent_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		url := fmt.Sprintf("%s/api/agents/%s", cfg.EngineURL, agentID)
		if force, _ := req.GetArguments()["force"].(bool); force {
			url += "?force=true"
		}
		return callEngine(ctx, log, http.MethodDelete, url, nil)
	}
}

func getQueueStatusHandler(cfg Config, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return callEngine(ctx, log, http.MethodGet, cfg.EngineURL+"/api/agents/queue", nil)
	}
}
