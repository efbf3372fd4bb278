package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"supplyintel/internal/domain"
	"supplyintel/internal/infra/schema"
)

const strategySystemContext = `You are a supply chain strategy advisor. Using the query and any
findings from other agents, recommend concrete actions. Give each a priority (low, medium, high,
critical), a timeframe, an indicative cost, and a one-sentence rationale. State the objective and
the expected outcome.`

var strategySchema = schema.Must(&domain.StrategyData{})

// NewStrategicAdvisor creates the strategic_advisor agent. It reads the
// outputs of agents that ran before it from the request context.
func NewStrategicAdvisor(c domain.ResilientCompleter, prompts PromptBuilder, logger *slog.Logger) *Base {
	meta := domain.AgentMetadata{
		Name:         "StrategicAdvisorAgent",
		Role:         domain.RoleStrategicAdvisor,
		Description:  "Recommends prioritized mitigation and optimization actions built on other agents' findings.",
		Capabilities: []string{"strategic_planning", "mitigation_recommendation", "prioritization"},
		InputSchema:  inputSchema,
		OutputSchema: strategySchema.Raw(),
	}
	return NewBase(meta, func(ctx context.Context, req domain.AgentRequest) (Result, error) {
		instruction := "Return the recommendations as JSON."
		if n := len(req.Context.PreviousOutputs); n > 0 {
			instruction = fmt.Sprintf("Build on the %d findings above. Return the recommendations as JSON.", n)
		}
		data, res, err := generateInto(ctx, c, domain.StructuredRequest{
			Prompt:        prompts.Build(req, instruction),
			SystemContext: strategySystemContext,
			Options:       structuredOptions(),
			Schema:        strategySchema,
		}, strategyFallback())
		if err != nil {
			return Result{}, err
		}

		sortRecommendations(data.Recommendations)
		base := 70.0
		if len(req.Context.PreviousOutputs) > 0 {
			base = 75
		}
		return Result{
			Data:       data,
			Confidence: scoreConfidence(base, len(data.Recommendations), res.Source, res.Attempts),
			Reasoning:  strategyReasoning(data, res, len(req.Context.PreviousOutputs)),
			FollowUp:   strategyFollowUps(data),
			Degraded:   res.Degraded(),
		}, nil
	}, logger)
}

func strategyFallback() domain.StrategyData {
	return domain.StrategyData{
		Recommendations: []domain.Recommendation{{
			Action:    "Review supplier and logistics exposure manually until the advisory service recovers",
			Priority:  SeverityMedium,
			Timeframe: "immediate",
		}},
		Objective: "Maintain continuity while automated analysis is unavailable",
	}
}

func sortRecommendations(recs []domain.Recommendation) {
	sort.SliceStable(recs, func(i, j int) bool {
		return severityRank[recs[i].Priority] < severityRank[recs[j].Priority]
	})
}

func strategyReasoning(d domain.StrategyData, res domain.StructuredResult, findings int) string {
	if res.Source == domain.SourceFallback {
		return "No provider advice was available (" + res.Reason + "); a generic continuity action is suggested."
	}
	if len(d.Recommendations) == 0 {
		return "No recommendations were produced."
	}
	return fmt.Sprintf("Produced %d recommendations from %d agent findings; top priority: %s (%s).",
		len(d.Recommendations), findings, d.Recommendations[0].Action, d.Recommendations[0].Priority)
}

func strategyFollowUps(d domain.StrategyData) []string {
	var out []string
	for _, r := range d.Recommendations {
		if len(out) == 3 {
			break
		}
		out = append(out, r.Action)
	}
	return out
}
