package main

import (
	"github.com/agentdeck/agentdeck/internal/common/config"
	"github.com/agentdeck/agentdeck/internal/common/logger"
	"github.com/agentdeck/agentdeck/internal/events"
	"github.com/agentdeck/agentdeck/internal/events/bus"
)

func provideEventBus(cfg *config.Config, log *logger.Logger) (bus.EventBus, func() error, error) {
	provider, cleanup, err := events.Provide(cfg, log)
	if err != nil {
		return nil, nil, err
	}
	return provider.Bus, cleanup, nil
}
