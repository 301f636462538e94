// Package api serves the engine's HTTP control surface: launching and
// managing agents, reading back persisted messages, the provider catalog,
// and a health snapshot. Realtime streaming is not here; that is the
// websocket gateway's job.
package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agentdeck/agentdeck/internal/agent/catalog"
	"github.com/agentdeck/agentdeck/internal/agent/domain"
	"github.com/agentdeck/agentdeck/internal/agent/repository"
	apperrors "github.com/agentdeck/agentdeck/internal/common/errors"
	"github.com/agentdeck/agentdeck/internal/common/logger"
	"github.com/agentdeck/agentdeck/internal/gateway"
	"github.com/agentdeck/agentdeck/internal/orchestrator"
)

// Handler contains the HTTP handlers for the engine API.
type Handler struct {
	service     *orchestrator.Service
	messages    repository.MessageStore
	catalog     *catalog.Catalog
	gateway     gateway.Port
	storageType string
	version     string
	startedAt   time.Time
	logger      *logger.Logger
}

// NewHandler creates the API handler. storageType and version only feed the
// health snapshot.
func NewHandler(
	service *orchestrator.Service,
	messages repository.MessageStore,
	cat *catalog.Catalog,
	gw gateway.Port,
	storageType, version string,
	log *logger.Logger,
) *Handler {
	if version == "" {
		version = "dev"
	}
	return &Handler{
		service:     service,
		messages:    messages,
		catalog:     cat,
		gateway:     gw,
		storageType: storageType,
		version:     version,
		startedAt:   time.Now().UTC(),
		logger:      log.WithFields(zap.String("component", "api")),
	}
}

// respondError serializes the error as {code, message} at its HTTP status.
func (h *Handler) respondError(c *gin.Context, err error) {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		appErr = apperrors.InternalError("unexpected error", err)
	}
	c.JSON(appErr.HTTPStatus, appErr)
}

// agentID validates the :id path parameter as a uuid.
func agentID(c *gin.Context) (string, error) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		return "", apperrors.BadRequest("invalid agent id format")
	}
	return id, nil
}

func forceFlag(c *gin.Context) bool {
	return c.Query("force") == "true"
}

// LaunchAgent starts a new agent. The call returns once the launch actually
// ran, since launches are serialized through the queue.
// POST /api/agents
func (h *Handler) LaunchAgent(c *gin.Context) {
	var req LaunchAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, apperrors.ValidationError("request", err.Error()))
		return
	}

	agent, err := h.service.LaunchAgent(c.Request.Context(), req.toDomain())
	if err != nil {
		h.logger.Warn("launch rejected",
			zap.String("agent_type", req.AgentType),
			zap.Error(err))
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, LaunchAcceptedResponse{
		AgentID:   agent.ID,
		Status:    string(agent.Status),
		CreatedAt: agent.CreatedAt,
	})
}

// ListAgents returns every agent, newest first.
// GET /api/agents
func (h *Handler) ListAgents(c *gin.Context) {
	agents, err := h.service.ListAll(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, agentResponses(agents))
}

// ListActiveAgents returns agents that are initializing or running.
// GET /api/agents/active
func (h *Handler) ListActiveAgents(c *gin.Context) {
	agents, err := h.service.ListActive(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, agentResponses(agents))
}

// GetAgent returns one agent by id.
// GET /api/agents/:id
func (h *Handler) GetAgent(c *gin.Context) {
	id, err := agentID(c)
	if err != nil {
		h.respondError(c, err)
		return
	}

	agent, err := h.service.GetAgentByID(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, agentResponse(agent))
}

// GetAgentStatus returns just the lifecycle status.
// GET /api/agents/:id/status
func (h *Handler) GetAgentStatus(c *gin.Context) {
	id, err := agentID(c)
	if err != nil {
		h.respondError(c, err)
		return
	}

	status, err := h.service.GetAgentStatus(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, StatusResponse{AgentID: id, Status: string(status)})
}

// GetAgentMessages returns the agent's persisted messages in sequence order.
// ?since=N skips everything with a sequence number at or below N, which is
// how reconnecting clients fill their gap.
// GET /api/agents/:id/messages?since=N
func (h *Handler) GetAgentMessages(c *gin.Context) {
	id, err := agentID(c)
	if err != nil {
		h.respondError(c, err)
		return
	}

	// 404 for unknown agents rather than an empty list.
	if _, err := h.service.GetAgentByID(c.Request.Context(), id); err != nil {
		h.respondError(c, err)
		return
	}

	var messages []*domain.Message
	if raw := c.Query("since"); raw != "" {
		since, perr := strconv.ParseInt(raw, 10, 64)
		if perr != nil {
			h.respondError(c, apperrors.ValidationError("since", "must be an integer"))
			return
		}
		messages, err = h.messages.ListSince(c.Request.Context(), id, since)
	} else {
		messages, err = h.messages.ListByAgent(c.Request.Context(), id)
	}
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, messageResponses(messages))
}

// TerminateAgent stops a running agent.
// DELETE /api/agents/:id?force=true
func (h *Handler) TerminateAgent(c *gin.Context) {
	id, err := agentID(c)
	if err != nil {
		h.respondError(c, err)
		return
	}

	if err := h.service.TerminateAgent(c.Request.Context(), id, forceFlag(c)); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// DeleteAgent removes an agent and its messages. Active agents require
// force=true, which stops them first.
// DELETE /api/agents/:id/delete?force=true
func (h *Handler) DeleteAgent(c *gin.Context) {
	id, err := agentID(c)
	if err != nil {
		h.respondError(c, err)
		return
	}

	if err := h.service.DeleteAgent(c.Request.Context(), id, forceFlag(c)); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, DeleteAgentResponse{Success: true})
}

// GetQueueStatus reports how many launches are waiting.
// GET /api/agents/queue
func (h *Handler) GetQueueStatus(c *gin.Context) {
	c.JSON(http.StatusOK, QueueStatusResponse{QueueLength: h.service.QueueLength()})
}

// CancelQueuedLaunch withdraws a pending launch request. In-flight requests
// are left to finish.
// DELETE /api/agents/queue/:requestId
func (h *Handler) CancelQueuedLaunch(c *gin.Context) {
	if err := h.service.CancelQueued(c.Param("requestId")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListProviders returns the provider catalog with availability resolved.
// GET /api/providers
func (h *Handler) ListProviders(c *gin.Context) {
	providers := h.catalog.Providers(c.Request.Context())
	c.JSON(http.StatusOK, ProvidersResponse{
		TotalCount: len(providers),
		Providers:  providers,
	})
}

// GetHealth returns the engine health snapshot.
// GET /api/health
func (h *Handler) GetHealth(c *gin.Context) {
	active, err := h.service.ListActive(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, HealthResponse{
		Status:        "ok",
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
		Storage:       HealthStorage{Type: h.storageType},
		Queue:         HealthQueue{Length: h.service.QueueLength()},
		Gateway:       HealthGateway{ConnectedClients: len(h.gateway.ConnectedClients())},
		Agents:        HealthAgents{Active: len(active)},
	})
}
