// Package main is the entry point for the standalone MCP server binary.
// agentdeck-mcp exposes the engine's agent operations to MCP-compatible
// clients (Claude Desktop, Cursor, Codex, etc.) without embedding the
// facade in the engine process.
//
// The server supports two transports:
//   - SSE (Server-Sent Events) at /sse for Claude Desktop, Cursor
//   - Streamable HTTP at /mcp for Codex
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/agentdeck/agentdeck/internal/common/logger"
	"github.com/agentdeck/agentdeck/internal/mcpserver"
)

// Command-line flags
var (
	portFlag      = flag.Int("port", 9090, "MCP server port")
	engineURLFlag = flag.String("engine-url", "http://localhost:3000", "Engine API URL")
	logLevelFlag  = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	logFormatFlag = flag.String("log-format", "console", "Log format (console, json)")
)

func main() {
	flag.Parse()

	// Environment variables win over flags so container deployments can
	// configure the server without changing the command line.
	cfg := mcpserver.Config{
		Port:      getEnvIntOrFlag("MCP_PORT", *portFlag),
		EngineURL: getEnvOrFlag("AGENTDECK_ENGINE_URL", *engineURLFlag),
	}

	log, err := logger.New(
		getEnvOrFlag("MCP_LOG_LEVEL", *logLevelFlag),
		getEnvOrFlag("MCP_LOG_FORMAT", *logFormatFlag),
		"stdout")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting agentdeck-mcp",
		zap.Int("port", cfg.Port),
		zap.String("engine_url", cfg.EngineURL))

	run(cfg, log)
}

// run starts the MCP server and waits for shutdown.
func run(cfg mcpserver.Config, log *logger.Logger) {
	ctx := context.Background()
	srv, cleanup, err := mcpserver.Provide(ctx, cfg, log)
	if err != nil {
		log.Error("failed to start MCP server", zap.Error(err))
		os.Exit(1)
	}

	log.Info("MCP server started",
		zap.String("sse_endpoint", srv.SSEEndpoint()),
		zap.String("streamable_http_endpoint", srv.StreamableHTTPEndpoint()))

	fmt.Printf("AgentDeck MCP server running on :%d\n", srv.Port())
	fmt.Printf("Engine API URL: %s\n", cfg.EngineURL)
	fmt.Printf("SSE endpoint: %s (for Claude Desktop, Cursor)\n", srv.SSEEndpoint())
	fmt.Printf("Streamable HTTP endpoint: %s (for Codex)\n", srv.StreamableHTTPEndpoint())

	waitForShutdown(log, func(ctx context.Context) {
		if err := cleanup(); err != nil {
			log.Error("error during shutdown", zap.Error(err))
		}
	})
}

// waitForShutdown waits for a shutdown signal and calls cleanup.
func waitForShutdown(log *logger.Logger, cleanup func(ctx context.Context)) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down agentdeck-mcp...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cleanup(ctx)

	log.Info("agentdeck-mcp stopped")
}

// getEnvOrFlag returns the environment variable value if set, otherwise the flag value.
func getEnvOrFlag(envKey, flagValue string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	return flagValue
}

// getEnvIntOrFlag returns the environment variable value as int if set, otherwise the flag value.
func getEnvIntOrFlag(envKey string, flagValue int) int {
	if v := os.Getenv(envKey); v != "" {
		var i int
		if _, err := fmt.Sscanf(v, "%d", &i); err == nil {
			return i
		}
	}
	return flagValue
}
