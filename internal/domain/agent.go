package domain

import (
	"context"
	"encoding/json"
	"time"
)

// AgentRole identifies one of the specialized reasoning units.
type AgentRole string

const (
	RoleRiskAnalysis       AgentRole = "risk_analysis"
	RoleScenarioSimulation AgentRole = "scenario_simulation"
	RoleStrategicAdvisor   AgentRole = "strategic_advisor"
	RoleWebIntelligence    AgentRole = "web_intelligence"
)

// AllRoles lists the agent roles in their canonical order.
var AllRoles = []AgentRole{
	RoleRiskAnalysis,
	RoleScenarioSimulation,
	RoleStrategicAdvisor,
	RoleWebIntelligence,
}

// Valid reports whether r is a known agent role.
func (r AgentRole) Valid() bool {
	for _, known := range AllRoles {
		if r == known {
			return true
		}
	}
	return false
}

// MaxQueryLength is the longest query an agent accepts.
const MaxQueryLength = 10000

// MaxHistoryTurns is how many conversation turns an AgentContext retains.
const MaxHistoryTurns = 10

// Turn is a single conversation exchange.
type Turn struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at,omitempty"`
}

// AgentContext carries everything an agent may read besides the query.
// Agents never mutate it; the coordinator derives new contexts with the With* helpers.
type AgentContext struct {
	History         []Turn         `json:"history,omitempty"`
	DomainState     map[string]any `json:"domain_state,omitempty"`
	PreviousOutputs []AgentOutput  `json:"previous_outputs,omitempty"`
	Preferences     map[string]any `json:"preferences,omitempty"`
	CorrelationID   string         `json:"correlation_id,omitempty"`
}

// NewAgentContext builds a context keeping only the most recent MaxHistoryTurns turns.
func NewAgentContext(correlationID string, history []Turn, state, prefs map[string]any) AgentContext {
	if len(history) > MaxHistoryTurns {
		history = history[len(history)-MaxHistoryTurns:]
	}
	return AgentContext{
		History:       append([]Turn(nil), history...),
		DomainState:   state,
		Preferences:   prefs,
		CorrelationID: correlationID,
	}
}

// WithPreviousOutput returns a copy of c with out appended to PreviousOutputs.
func (c AgentContext) WithPreviousOutput(out AgentOutput) AgentContext {
	prev := make([]AgentOutput, 0, len(c.PreviousOutputs)+1)
	prev = append(prev, c.PreviousOutputs...)
	c.PreviousOutputs = append(prev, out)
	return c
}

// RecentHistory returns at most n trailing turns.
func (c AgentContext) RecentHistory(n int) []Turn {
	if len(c.History) <= n {
		return c.History
	}
	return c.History[len(c.History)-n:]
}

// AgentRequest is the input of a single agent invocation.
type AgentRequest struct {
	Query      string         `json:"query" validate:"required,nonblank,max=10000"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Context    AgentContext   `json:"context"`
}

// WithContext returns a copy of r carrying ctx.
func (r AgentRequest) WithContext(ctx AgentContext) AgentRequest {
	r.Context = ctx
	return r
}

// AgentOutput is produced exactly once per agent invocation.
type AgentOutput struct {
	AgentName         string    `json:"agent_name"`
	Role              AgentRole `json:"role"`
	Success           bool      `json:"success"`
	Data              AgentData `json:"data,omitempty"`
	Confidence        float64   `json:"confidence"`
	Reasoning         string    `json:"reasoning,omitempty"`
	SuggestedFollowUp []string  `json:"suggested_follow_up,omitempty"`
	ProcessingTimeMs  int64     `json:"processing_time_ms"`
	Error             string    `json:"error,omitempty"`
	Degraded          bool      `json:"degraded,omitempty"`
}

// NewAgentOutput builds a successful output with confidence clamped to [0,100].
func NewAgentOutput(name string, role AgentRole, data AgentData, confidence float64, reasoning string, followUp []string, elapsed time.Duration) AgentOutput {
	return AgentOutput{
		AgentName:         name,
		Role:              role,
		Success:           true,
		Data:              data,
		Confidence:        ClampConfidence(confidence),
		Reasoning:         reasoning,
		SuggestedFollowUp: followUp,
		ProcessingTimeMs:  nonNegativeMs(elapsed),
	}
}

// FailedOutput builds a non-success output. Partial data may be nil.
func FailedOutput(name string, role AgentRole, err error, partial AgentData, elapsed time.Duration) AgentOutput {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return AgentOutput{
		AgentName:        name,
		Role:             role,
		Success:          false,
		Data:             partial,
		Confidence:       0,
		ProcessingTimeMs: nonNegativeMs(elapsed),
		Error:            msg,
	}
}

// ClampConfidence bounds c to [0,100].
func ClampConfidence(c float64) float64 {
	switch {
	case c != c: // NaN
		return 0
	case c < 0:
		return 0
	case c > 100:
		return 100
	default:
		return c
	}
}

func nonNegativeMs(d time.Duration) int64 {
	if d < 0 {
		return 0
	}
	return d.Milliseconds()
}

// UnmarshalJSON decodes the tagged Data union.
func (o *AgentOutput) UnmarshalJSON(b []byte) error {
	type alias AgentOutput
	aux := struct {
		*alias
		Data json.RawMessage `json:"data,omitempty"`
	}{alias: (*alias)(o)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	if len(aux.Data) == 0 || string(aux.Data) == "null" {
		o.Data = nil
		return nil
	}
	data, err := DecodeAgentData(aux.Data)
	if err != nil {
		return err
	}
	o.Data = data
	return nil
}

// AgentMetadata describes an agent for introspection and routing.
type AgentMetadata struct {
	Name         string          `json:"name"`
	Role         AgentRole       `json:"role"`
	Description  string          `json:"description"`
	Capabilities []string        `json:"capabilities"`
	InputSchema  json.RawMessage `json:"input_schema,omitempty"`
	OutputSchema json.RawMessage `json:"output_schema,omitempty"`
}

// Agent is a specialized reasoning unit. Process must never panic or return
// an error past its boundary; failures are reported through AgentOutput.
type Agent interface {
	Process(ctx context.Context, req AgentRequest) AgentOutput
	Metadata() AgentMetadata
}
