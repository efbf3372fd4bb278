package coordinator

import (
	"context"

	"supplyintel/internal/domain"
)

type routedPayload struct {
	Intent     domain.IntentKey   `json:"intent"`
	Primary    domain.AgentRole   `json:"primary"`
	Supporting []domain.AgentRole `json:"supporting,omitempty"`
}

type agentPayload struct {
	Role         domain.AgentRole `json:"role"`
	Agent        string           `json:"agent"`
	Confidence   float64          `json:"confidence"`
	Degraded     bool             `json:"degraded,omitempty"`
	ProcessingMs int64            `json:"processing_ms"`
	Error        string           `json:"error,omitempty"`
}

type synthesizedPayload struct {
	Source domain.ResponseSource `json:"source"`
	Chars  int                   `json:"chars"`
}

type completedPayload struct {
	Intent    domain.IntentKey `json:"intent"`
	Success   bool             `json:"success"`
	TotalMs   int64            `json:"total_ms"`
	Supported int              `json:"supporting_ok"`
}

func (c *Coordinator) publish(ctx context.Context, t domain.EventType, corrID string, payload any) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(ctx, domain.NewEvent(t, corrID, payload))
}

func (c *Coordinator) publishAgent(ctx context.Context, corrID string, out domain.AgentOutput) {
	t := domain.EventAgentCompleted
	if !out.Success {
		t = domain.EventAgentFailed
	}
	c.publish(ctx, t, corrID, agentPayload{
		Role:         out.Role,
		Agent:        out.AgentName,
		Confidence:   out.Confidence,
		Degraded:     out.Degraded,
		ProcessingMs: out.ProcessingTimeMs,
		Error:        out.Error,
	})
}
