package coordinator

import (
	"fmt"
	"regexp"

	"supplyintel/internal/domain"
)

// intentTable maps every known intent to the agents that serve it.
var intentTable = map[domain.IntentKey]domain.IntentMapping{
	domain.IntentAnalyzeRisks: {
		PrimaryAgent:      domain.RoleRiskAnalysis,
		SupportingAgents:  []domain.AgentRole{domain.RoleWebIntelligence},
		RequiresSynthesis: true,
	},
	domain.IntentSimulateScenario: {
		PrimaryAgent:      domain.RoleScenarioSimulation,
		SupportingAgents:  []domain.AgentRole{domain.RoleRiskAnalysis},
		RequiresSynthesis: true,
	},
	domain.IntentMonitorAlerts: {
		PrimaryAgent:      domain.RoleWebIntelligence,
		SupportingAgents:  []domain.AgentRole{domain.RoleRiskAnalysis},
		RequiresSynthesis: true,
	},
	domain.IntentStrategicAdvice: {
		PrimaryAgent:      domain.RoleStrategicAdvisor,
		SupportingAgents:  []domain.AgentRole{domain.RoleRiskAnalysis, domain.RoleScenarioSimulation},
		RequiresSynthesis: true,
	},
	domain.IntentResearchIntelligence: {
		PrimaryAgent: domain.RoleWebIntelligence,
	},
	domain.IntentComprehensiveAnalysis: {
		PrimaryAgent: domain.RoleRiskAnalysis,
		SupportingAgents: []domain.AgentRole{
			domain.RoleScenarioSimulation,
			domain.RoleStrategicAdvisor,
			domain.RoleWebIntelligence,
		},
		RequiresSynthesis: true,
	},
	domain.IntentDefault: {
		PrimaryAgent: domain.RoleRiskAnalysis,
	},
}

// intentRule infers an intent when its pattern matches the query.
type intentRule struct {
	intent  domain.IntentKey
	pattern *regexp.Regexp
}

// inferenceRules are evaluated top to bottom; the first match wins.
var inferenceRules = []intentRule{
	{domain.IntentAnalyzeRisks, regexp.MustCompile(`(?i)\b(?:risk|threat)`)},
	{domain.IntentSimulateScenario, regexp.MustCompile(`(?i)\b(?:scenario|what[\s-]+if|simulat)`)},
	{domain.IntentMonitorAlerts, regexp.MustCompile(`(?i)\b(?:alert|urgent|critical)`)},
	{domain.IntentStrategicAdvice, regexp.MustCompile(`(?i)\b(?:strateg|recommend|mitigat)`)},
	{domain.IntentResearchIntelligence, regexp.MustCompile(`(?i)\b(?:news|research)`)},
}

// Route is the outcome of intent resolution.
type Route struct {
	Intent  domain.IntentKey
	Mapping domain.IntentMapping
}

// Resolve picks the mapping for req: explicit intent, then agent hints, then
// keyword inference, then the default.
func Resolve(req domain.CoordinatorRequest) (Route, error) {
	if req.Intent != "" {
		m, ok := intentTable[req.Intent]
		if !ok {
			return Route{}, domain.NewDomainError("coordinator.Resolve", domain.ErrInvalidInput,
				fmt.Sprintf("unknown intent %q", req.Intent))
		}
		return Route{Intent: req.Intent, Mapping: m}, nil
	}

	if len(req.AgentHints) > 0 {
		return routeFromHints(req.AgentHints)
	}

	intent := InferIntent(req.Query)
	return Route{Intent: intent, Mapping: intentTable[intent]}, nil
}

// InferIntent applies the keyword rules to query.
func InferIntent(query string) domain.IntentKey {
	for _, r := range inferenceRules {
		if r.pattern.MatchString(query) {
			return r.intent
		}
	}
	return domain.IntentDefault
}

// MappingFor returns the table entry for intent.
func MappingFor(intent domain.IntentKey) (domain.IntentMapping, bool) {
	m, ok := intentTable[intent]
	return m, ok
}

func routeFromHints(hints []domain.AgentRole) (Route, error) {
	seen := make(map[domain.AgentRole]bool, len(hints))
	roles := make([]domain.AgentRole, 0, len(hints))
	for _, h := range hints {
		if !h.Valid() {
			return Route{}, domain.NewDomainError("coordinator.Resolve", domain.ErrInvalidInput,
				fmt.Sprintf("unknown agent hint %q", h))
		}
		if seen[h] {
			continue
		}
		seen[h] = true
		roles = append(roles, h)
	}
	return Route{
		Intent: domain.IntentHinted,
		Mapping: domain.IntentMapping{
			PrimaryAgent:      roles[0],
			SupportingAgents:  roles[1:],
			RequiresSynthesis: len(roles) > 1,
		},
	}, nil
}
