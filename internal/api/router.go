package api

import (
	"github.com/gin-gonic/gin"
)

// SetupRoutes mounts the engine API under /api.
func SetupRoutes(router *gin.Engine, h *Handler) {
	root := router.Group("/api")

	agents := root.Group("/agents")
	{
		agents.POST("", h.LaunchAgent)
		agents.GET("", h.ListAgents)
		agents.GET("/active", h.ListActiveAgents)
		agents.GET("/queue", h.GetQueueStatus)
		agents.DELETE("/queue/:requestId", h.CancelQueuedLaunch)
		agents.GET("/:id", h.GetAgent)
		agents.GET("/:id/status", h.GetAgentStatus)
		agents.GET("/:id/messages", h.GetAgentMessages)
		agents.DELETE("/:id", h.TerminateAgent)
		agents.DELETE("/:id/delete", h.DeleteAgent)
	}

	root.GET("/providers", h.ListProviders)
	root.GET("/health", h.GetHealth)
}
