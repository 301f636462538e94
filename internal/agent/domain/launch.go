package domain

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/agentdeck/agentdeck/internal/common/errors"
)

// LaunchRequest is the ephemeral unit handed to the launch queue. It exists
// until its launch completes or it is cancelled while pending.
type LaunchRequest struct {
	ID        string             `json:"id"`
	AgentType AgentType          `json:"agentType"`
	Prompt    string             `json:"prompt"`
	Config    AgentConfiguration `json:"configuration"`
}

// NewLaunchRequest mints a request id and trims the prompt.
func NewLaunchRequest(agentType AgentType, prompt string, cfg AgentConfiguration) *LaunchRequest {
	return &LaunchRequest{
		ID:        uuid.New().String(),
		AgentType: agentType,
		Prompt:    strings.TrimSpace(prompt),
		Config:    cfg,
	}
}

// Validate enforces the launch constraints: non-empty prompt, bounded
// instructions, a known agent type, and a well-formed MCP config when
// present.
func (r *LaunchRequest) Validate() error {
	if strings.TrimSpace(r.Prompt) == "" {
		return errors.ValidationError("prompt", "cannot be empty")
	}
	if !r.AgentType.Valid() {
		return errors.ValidationError("agentType",
			fmt.Sprintf("unknown agent type '%s'", r.AgentType))
	}
	if len(r.Config.Instructions) > MaxInstructionsLength {
		return errors.ValidationError("instructions",
			fmt.Sprintf("exceeds maximum length of %d characters", MaxInstructionsLength))
	}
	if r.Config.MCP != nil {
		if err := r.Config.MCP.Validate(); err != nil {
			return err
		}
	}
	return nil
}
