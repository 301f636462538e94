package api

import (
	"time"

	"github.com/agentdeck/agentdeck/internal/agent/catalog"
	"github.com/agentdeck/agentdeck/internal/agent/domain"
)

// LaunchAgentRequest is the POST /agents body.
type LaunchAgentRequest struct {
	AgentType     string                    `json:"agentType"`
	Prompt        string                    `json:"prompt"`
	Configuration domain.AgentConfiguration `json:"configuration"`
}

func (r *LaunchAgentRequest) toDomain() *domain.LaunchRequest {
	return domain.NewLaunchRequest(domain.AgentType(r.AgentType), r.Prompt, r.Configuration)
}

// LaunchAcceptedResponse acknowledges a launched agent.
type LaunchAcceptedResponse struct {
	AgentID   string    `json:"agentId"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// AgentResponse is the wire form of an agent.
type AgentResponse struct {
	ID            string                    `json:"id"`
	Type          string                    `json:"type"`
	Status        string                    `json:"status"`
	Prompt        string                    `json:"prompt"`
	Configuration domain.AgentConfiguration `json:"configuration"`
	CreatedAt     time.Time                 `json:"createdAt"`
	StartedAt     *time.Time                `json:"startedAt,omitempty"`
	CompletedAt   *time.Time                `json:"completedAt,omitempty"`
	Error         *domain.AgentError        `json:"error,omitempty"`
}

func agentResponse(a *domain.Agent) AgentResponse {
	return AgentResponse{
		ID:            a.ID,
		Type:          string(a.Type),
		Status:        string(a.Status),
		Prompt:        a.Prompt,
		Configuration: a.Config,
		CreatedAt:     a.CreatedAt,
		StartedAt:     a.StartedAt,
		CompletedAt:   a.CompletedAt,
		Error:         a.Error,
	}
}

func agentResponses(agents []*domain.Agent) []AgentResponse {
	out := make([]AgentResponse, 0, len(agents))
	for _, a := range agents {
		out = append(out, agentResponse(a))
	}
	return out
}

// MessageResponse is the wire form of a persisted message. Content is
// decoded back to structured form when it parses as JSON; otherwise the raw
// string is kept.
type MessageResponse struct {
	ID             string                 `json:"id"`
	AgentID        string                 `json:"agentId"`
	SequenceNumber int64                  `json:"sequenceNumber"`
	Type           string                 `json:"type"`
	Role           string                 `json:"role,omitempty"`
	Content        interface{}            `json:"content"`
	Raw            string                 `json:"raw,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt      time.Time              `json:"createdAt"`
}

func messageResponse(m *domain.Message) MessageResponse {
	return MessageResponse{
		ID:             m.ID,
		AgentID:        m.AgentID,
		SequenceNumber: m.SequenceNumber,
		Type:           string(m.Type),
		Role:           m.Role,
		Content:        m.DecodedContent(),
		Raw:            m.Raw,
		Metadata:       m.Metadata,
		CreatedAt:      m.CreatedAt,
	}
}

func messageResponses(messages []*domain.Message) []MessageResponse {
	out := make([]MessageResponse, 0, len(messages))
	for _, m := range messages {
		out = append(out, messageResponse(m))
	}
	return out
}

// StatusResponse answers GET /agents/:id/status.
type StatusResponse struct {
	AgentID string `json:"agentId"`
	Status  string `json:"status"`
}

// QueueStatusResponse answers GET /agents/queue.
type QueueStatusResponse struct {
	QueueLength int `json:"queueLength"`
}

// DeleteAgentResponse answers DELETE /agents/:id/delete.
type DeleteAgentResponse struct {
	Success bool `json:"success"`
}

// ProvidersResponse answers GET /providers.
type ProvidersResponse struct {
	TotalCount int                    `json:"totalCount"`
	Providers  []catalog.ProviderInfo `json:"providers"`
}

// HealthResponse is the GET /health snapshot.
type HealthResponse struct {
	Status        string        `json:"status"`
	Version       string        `json:"version"`
	UptimeSeconds int64         `json:"uptime_seconds"`
	Storage       HealthStorage `json:"storage"`
	Queue         HealthQueue   `json:"queue"`
	Gateway       HealthGateway `json:"gateway"`
	Agents        HealthAgents  `json:"agents"`
}

// HealthStorage reports the configured persistence backend.
type HealthStorage struct {
	Type string `json:"type"`
}

// HealthQueue reports the pending launch queue depth.
type HealthQueue struct {
	Length int `json:"length"`
}

// HealthGateway reports realtime connection counts.
type HealthGateway struct {
	ConnectedClients int `json:"connectedClients"`
}

// HealthAgents reports how many agents are initializing or running.
type HealthAgents struct {
	Active int `json:"active"`
}
