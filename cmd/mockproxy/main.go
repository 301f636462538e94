// Package main implements mockproxy, a development stand-in for the HTTP-SSE
// sidecar that fronts the claude-code CLI. It speaks the wire protocol the
// engine's proxy runner consumes: POST /agent/stream answers with a
// server-sent event stream of scripted stream-json messages followed by a
// terminal complete event, and POST /agent/stop/:id aborts a running stream.
//
// Scenarios select what a stream plays. A ?scenario= query parameter or a
// /<name> prompt prefix picks one, so engine-launched agents can drive the
// error and cancellation paths without a real backend. Point the engine at
// it with claude.proxyUrl (default http://localhost:8000).
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/agentdeck/agentdeck/internal/common/logger"
)

// Command-line flags
var (
	portFlag      = flag.Int("port", 8000, "Listen port")
	stepDelayFlag = flag.Duration("step-delay", 150*time.Millisecond, "Pause before each scripted stream event")
	logLevelFlag  = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	logFormatFlag = flag.String("log-format", "console", "Log format (console, json)")
)

func main() {
	flag.Parse()

	// Environment variables win over flags so container deployments can
	// configure the server without changing the command line.
	port := getEnvIntOrFlag("MOCKPROXY_PORT", *portFlag)
	stepDelay := getEnvDurationOrFlag("MOCKPROXY_STEP_DELAY", *stepDelayFlag)

	log, err := logger.New(
		getEnvOrFlag("MOCKPROXY_LOG_LEVEL", *logLevelFlag),
		getEnvOrFlag("MOCKPROXY_LOG_FORMAT", *logFormatFlag),
		"stdout")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	srv := newServer(stepDelay, log)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: buildRouter(srv, log),
	}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("mockproxy server failed", zap.Error(err))
			os.Exit(1)
		}
	}()

	log.Info("mockproxy started",
		zap.Int("port", port),
		zap.Duration("step_delay", stepDelay))

	fmt.Printf("mockproxy running on :%d (step delay %s)\n", port, stepDelay)
	fmt.Printf("Scenarios: %s\n", strings.Join(scenarioNames(), ", "))
	fmt.Printf("Select with POST /agent/stream?scenario=<name> or a /<name> prompt prefix\n")

	waitForShutdown(log, srv, httpServer)
}

// waitForShutdown blocks until a signal arrives, then aborts open streams
// and drains the HTTP server.
func waitForShutdown(log *logger.Logger, srv *server, httpServer *http.Server) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down mockproxy...")

	// Cancel streams first so Shutdown does not wait out scenarios that
	// would otherwise run for minutes.
	srv.cancelAll()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error("error during shutdown", zap.Error(err))
	}

	log.Info("mockproxy stopped")
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

// getEnvDurationOrFlag returns the environment variable value as a duration if set, otherwise the flag value.
func getEnvDurationOrFlag(envKey string, flagValue time.Duration) time.Duration {
	if v := os.Getenv(envKey); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return flagValue
}
