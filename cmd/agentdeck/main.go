// Package main is the entry point for the AgentDeck engine. One process runs
// the launch orchestrator, the websocket gateway, and the HTTP API with
// shared infrastructure.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/agentdeck/agentdeck/internal/agent/catalog"
	"github.com/agentdeck/agentdeck/internal/api"
	"github.com/agentdeck/agentdeck/internal/common/config"
	"github.com/agentdeck/agentdeck/internal/common/httpmw"
	"github.com/agentdeck/agentdeck/internal/common/logger"
	"github.com/agentdeck/agentdeck/internal/gateway/websocket"
	"github.com/agentdeck/agentdeck/internal/instance"
	"github.com/agentdeck/agentdeck/internal/orchestrator"
	"github.com/agentdeck/agentdeck/internal/orchestrator/instructions"
	"github.com/agentdeck/agentdeck/internal/streaming"
	"github.com/agentdeck/agentdeck/internal/tracing"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	log, err := logger.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	logger.SetDefault(log)

	log.Info("Starting AgentDeck engine...", zap.String("version", version))

	// 3. Single-instance lock. A second engine on the same pidfile exits
	// here, before it can touch storage or the instruction files.
	lock := instance.New(cfg.Instance.LockPath, log)
	if err := lock.Acquire(cfg.Server.Port); err != nil {
		log.Error("Another engine instance is already running", zap.Error(err))
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. Event bus (in-memory, or NATS when configured)
	eventBus, busCleanup, err := provideEventBus(cfg, log)
	if err != nil {
		failStartup(lock, log, "Failed to initialize event bus", err)
	}

	// 5. Storage
	store, storeCleanup, err := provideStore(cfg, log)
	if err != nil {
		failStartup(lock, log, "Failed to initialize storage", err)
	}

	// 6. Instruction file handler
	instr, err := instructions.NewHandler(cfg.Instructions.UserPath, cfg.Instructions.ProjectPath, log)
	if err != nil {
		failStartup(lock, log, "Failed to initialize instruction handler", err)
	}

	// 7. Runner factory with one builder per agent type
	factory := provideRunnerFactory(cfg, log)

	// 8. WebSocket gateway
	gw, err := websocket.Provide(log)
	if err != nil {
		failStartup(lock, log, "Failed to initialize websocket gateway", err)
	}
	go gw.Hub.Run(ctx)

	// 9. Orchestrator wired to the streaming registry. The registry is both
	// the hub's subscription sink and the orchestrator's system observer
	// attachment point, so output persists with zero clients connected.
	svc := orchestrator.NewService(store, factory, instr, gw.Hub, eventBus, cfg.Queue.Capacity, log)
	broadcaster := streaming.NewBroadcaster(store, gw.Hub, log)
	registry := streaming.NewRegistry(svc.RunnerForAgent, broadcaster, gw.Hub, log)
	svc.SetSubscriptions(registry)
	gw.Hub.SetSubscriptions(registry)

	go func() {
		if err := svc.RunQueue(ctx); err != nil && ctx.Err() == nil {
			log.Error("launch queue stopped", zap.Error(err))
		}
	}()

	// 10. Lifecycle events reach every connected client, whichever process
	// in the cluster produced them.
	if err := bridgeAgentEvents(eventBus, gw.Hub, log); err != nil {
		log.Error("Failed to subscribe to agent lifecycle events", zap.Error(err))
	}

	// 11. HTTP server: REST API plus the websocket endpoint
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(httpmw.CORS(cfg.Server.CORSOrigins))
	router.Use(httpmw.RequestLogger(log, "agentdeck"))
	router.Use(httpmw.OtelTracing("agentdeck"))

	gw.SetupRoutes(router)
	api.SetupRoutes(router, api.NewHandler(svc, store, catalog.New(), gw.Hub, cfg.Storage.Type, version, log))

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	go func() {
		log.Info("HTTP server listening",
			zap.String("host", cfg.Server.Host),
			zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server failed", zap.Error(err))
			_ = lock.Release()
			os.Exit(1)
		}
	}()

	// 12. Embedded MCP facade (optional). A facade failure does not take
	// the engine down; the HTTP API is the primary surface.
	mcpEndpoint, mcpCleanup, err := provideMcpServer(ctx, cfg, log)
	if err != nil {
		log.Error("Failed to start MCP server", zap.Error(err))
	} else if mcpEndpoint != "" {
		log.Info("MCP facade ready", zap.String("sse_endpoint", mcpEndpoint))
	}

	log.Info("API configured",
		zap.String("websocket", "/ws"),
		zap.String("http", "/api"),
		zap.String("health", "/api/health"))

	// ============================================
	// GRACEFUL SHUTDOWN
	// ============================================
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down AgentDeck engine...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// New launches stop first, then agents still running are terminated so
	// their terminal status is persisted before storage closes.
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}
	svc.TerminateAllActive(shutdownCtx)

	if mcpCleanup != nil {
		if err := mcpCleanup(); err != nil {
			log.Error("MCP server stop error", zap.Error(err))
		}
	}
	if err := storeCleanup(); err != nil {
		log.Error("Storage close error", zap.Error(err))
	}
	if err := busCleanup(); err != nil {
		log.Error("Event bus close error", zap.Error(err))
	}
	if err := tracing.Shutdown(shutdownCtx); err != nil {
		log.Error("Tracing shutdown error", zap.Error(err))
	}

	// The lock goes last: anything that crashes above leaves a pidfile that
	// truthfully names a dead process for the next start to sweep.
	if err := lock.Release(); err != nil {
		log.Warn("Failed to release instance lock", zap.Error(err))
	}

	log.Info("AgentDeck engine stopped")
}

// failStartup releases the instance lock before exiting so the next start
// does not need the stale-lock sweep.
func failStartup(lock *instance.Lock, log *logger.Logger, msg string, err error) {
	log.Error(msg, zap.Error(err))
	_ = lock.Release()
	os.Exit(1)
}
