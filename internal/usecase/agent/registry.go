package agent

import (
	"encoding/json"
	"log/slog"

	"supplyintel/internal/domain"
	"supplyintel/internal/infra/config"
	"supplyintel/internal/infra/schema"
)

// agentInput documents the request body every agent accepts.
type agentInput struct {
	Query      string         `json:"query" jsonschema:"required,minLength=1,maxLength=10000,description=Natural-language request"`
	Parameters map[string]any `json:"parameters,omitempty" jsonschema:"description=Role-specific structured parameters"`
}

var inputSchema = mustReflect(&agentInput{})

func mustReflect(v any) json.RawMessage {
	raw, err := schema.Reflect(v)
	if err != nil {
		panic(err)
	}
	return raw
}

// Registry holds one agent per role.
type Registry struct {
	agents map[domain.AgentRole]domain.Agent
}

// NewRegistry indexes agents by their metadata role. A later agent replaces
// an earlier one with the same role.
func NewRegistry(agents ...domain.Agent) *Registry {
	r := &Registry{agents: make(map[domain.AgentRole]domain.Agent, len(agents))}
	for _, a := range agents {
		r.agents[a.Metadata().Role] = a
	}
	return r
}

// NewDefaultRegistry wires the four standard agents.
func NewDefaultRegistry(c domain.ResilientCompleter, s domain.ResilientSearcher, cfg config.AgentsConfig, logger *slog.Logger) *Registry {
	prompts := PromptBuilder{HistoryTurns: cfg.HistoryTurns, DigestMaxChars: cfg.DigestMaxChars}
	return NewRegistry(
		NewRiskAnalysis(c, prompts, logger),
		NewScenarioSimulation(c, prompts, logger),
		NewStrategicAdvisor(c, prompts, logger),
		NewWebIntelligence(s, logger),
	)
}

// Get returns the agent for role.
func (r *Registry) Get(role domain.AgentRole) (domain.Agent, error) {
	a, ok := r.agents[role]
	if !ok {
		return nil, domain.NewDomainError("Registry.Get", domain.ErrAgentNotFound, string(role))
	}
	return a, nil
}

// Roles returns the registered roles in canonical order.
func (r *Registry) Roles() []domain.AgentRole {
	roles := make([]domain.AgentRole, 0, len(r.agents))
	for _, role := range domain.AllRoles {
		if _, ok := r.agents[role]; ok {
			roles = append(roles, role)
		}
	}
	return roles
}

// Metadata returns every registered agent's metadata in canonical order.
func (r *Registry) Metadata() []domain.AgentMetadata {
	roles := r.Roles()
	out := make([]domain.AgentMetadata, 0, len(roles))
	for _, role := range roles {
		out = append(out, r.agents[role].Metadata())
	}
	return out
}
