package agent

import (
	"context"
	"fmt"
	"log/slog"

	"supplyintel/internal/domain"
	"supplyintel/internal/infra/schema"
)

const scenarioSystemContext = `You are a supply chain scenario planner. Simulate the scenario the
user describes: estimate its probability (0 to 1), list its impacts by area with magnitude, cost
delta, and delay in days, outline a timeline of how it unfolds, and suggest mitigations.`

var scenarioSchema = schema.Must(&domain.ScenarioData{})

// NewScenarioSimulation creates the scenario_simulation agent.
func NewScenarioSimulation(c domain.ResilientCompleter, prompts PromptBuilder, logger *slog.Logger) *Base {
	meta := domain.AgentMetadata{
		Name:         "ScenarioSimulationAgent",
		Role:         domain.RoleScenarioSimulation,
		Description:  "Simulates what-if disruptions and estimates their impact, timeline, and probability.",
		Capabilities: []string{"scenario_simulation", "impact_estimation", "timeline_projection"},
		InputSchema:  inputSchema,
		OutputSchema: scenarioSchema.Raw(),
	}
	return NewBase(meta, func(ctx context.Context, req domain.AgentRequest) (Result, error) {
		instruction := "Return the scenario simulation as JSON."
		if s, ok := req.Parameters["scenario"].(string); ok && s != "" {
			instruction = fmt.Sprintf("Simulate the scenario %q. Return the simulation as JSON.", s)
		}
		data, res, err := generateInto(ctx, c, domain.StructuredRequest{
			Prompt:        prompts.Build(req, instruction),
			SystemContext: scenarioSystemContext,
			Options:       structuredOptions(),
			Schema:        scenarioSchema,
		}, scenarioFallback(req.Query))
		if err != nil {
			return Result{}, err
		}

		if data.Probability < 0 || data.Probability > 1 {
			data.Probability = 0
		}
		return Result{
			Data:       data,
			Confidence: scoreConfidence(70, len(data.Impacts)+len(data.Timeline), res.Source, res.Attempts),
			Reasoning:  scenarioReasoning(data, res),
			FollowUp:   scenarioFollowUps(data),
			Degraded:   res.Degraded(),
		}, nil
	}, logger)
}

func scenarioFallback(query string) domain.ScenarioData {
	return domain.ScenarioData{
		Scenario: truncateRunes(query, 200),
		Impacts:  []domain.ScenarioImpact{},
	}
}

func scenarioReasoning(d domain.ScenarioData, res domain.StructuredResult) string {
	if res.Source == domain.SourceFallback {
		return "No provider simulation was available (" + res.Reason + "); impacts could not be estimated."
	}
	var cost float64
	var delay int
	for _, im := range d.Impacts {
		cost += im.CostDelta
		if im.DelayDays > delay {
			delay = im.DelayDays
		}
	}
	return fmt.Sprintf("Simulated %q with %d impacts at probability %.2f; worst delay %d days, total cost delta %.0f.",
		d.Scenario, len(d.Impacts), d.Probability, delay, cost)
}

func scenarioFollowUps(d domain.ScenarioData) []string {
	if len(d.Impacts) == 0 {
		return nil
	}
	return []string{
		"Recommend a strategy to mitigate this scenario",
		"Which suppliers are most exposed to this scenario?",
	}
}
