package main

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/agentdeck/agentdeck/internal/agent/repository"
	"github.com/agentdeck/agentdeck/internal/agent/repository/memory"
	"github.com/agentdeck/agentdeck/internal/agent/repository/sqlite"
	"github.com/agentdeck/agentdeck/internal/common/config"
	"github.com/agentdeck/agentdeck/internal/common/logger"
)

// provideStore builds the configured persistence backend. Agents and their
// message history share one store so sequence numbers and agent rows live in
// the same transaction domain.
func provideStore(cfg *config.Config, log *logger.Logger) (repository.Store, func() error, error) {
	switch cfg.Storage.Type {
	case "memory":
		store := memory.New()
		log.Info("Using in-memory storage (state is lost on restart)")
		return store, store.Close, nil

	case "sqlite", "":
		store, err := sqlite.Open(cfg.Storage.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite database: %w", err)
		}
		log.Info("SQLite storage initialized", zap.String("path", cfg.Storage.Path))
		return store, store.Close, nil

	case "postgres":
		store, err := sqlite.OpenPostgres(cfg.Storage.DSN, cfg.Storage.MaxConns, cfg.Storage.MinConns)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		log.Info("PostgreSQL storage initialized",
			zap.Int("max_conns", cfg.Storage.MaxConns),
			zap.Int("min_conns", cfg.Storage.MinConns))
		return store, store.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown storage type %q (want memory, sqlite, or postgres)", cfg.Storage.Type)
	}
}
