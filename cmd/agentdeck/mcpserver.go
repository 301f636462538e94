package main

import (
	"context"
	"fmt"

	"github.com/agentdeck/agentdeck/internal/common/config"
	"github.com/agentdeck/agentdeck/internal/common/logger"
	"github.com/agentdeck/agentdeck/internal/mcpserver"
)

// provideMcpServer starts the embedded MCP facade if enabled.
// Returns the SSE endpoint URL and a cleanup function.
func provideMcpServer(ctx context.Context, cfg *config.Config, log *logger.Logger) (string, func() error, error) {
	if !cfg.MCP.ServerEnabled {
		return "", nil, nil
	}

	mcpCfg := mcpserver.Config{
		Port:      cfg.MCP.ServerPort,
		EngineURL: fmt.Sprintf("http://localhost:%d", cfg.Server.Port),
	}

	srv, cleanup, err := mcpserver.Provide(ctx, mcpCfg, log)
	if err != nil {
		return "", nil, fmt.Errorf("failed to start MCP server: %w", err)
	}

	return srv.SSEEndpoint(), cleanup, nil
}
