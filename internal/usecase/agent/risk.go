package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"supplyintel/internal/domain"
	"supplyintel/internal/infra/schema"
)

const riskSystemContext = `You are a supply chain risk analyst. Identify concrete risks to the
supply chain described by the user, rate each by severity (low, medium, high, critical) and
probability (0 to 1), and give an overall risk score from 0 to 100. Be specific about regions
and categories. Keep key insights short and actionable.`

var riskSchema = schema.Must(&domain.RiskAnalysisData{})

// NewRiskAnalysis creates the risk_analysis agent.
func NewRiskAnalysis(c domain.ResilientCompleter, prompts PromptBuilder, logger *slog.Logger) *Base {
	meta := domain.AgentMetadata{
		Name:         "RiskAnalysisAgent",
		Role:         domain.RoleRiskAnalysis,
		Description:  "Identifies and scores supply chain risks by category, severity, and probability.",
		Capabilities: []string{"risk_identification", "risk_scoring", "severity_assessment"},
		InputSchema:  inputSchema,
		OutputSchema: riskSchema.Raw(),
	}
	return NewBase(meta, func(ctx context.Context, req domain.AgentRequest) (Result, error) {
		data, res, err := generateInto(ctx, c, domain.StructuredRequest{
			Prompt:        prompts.Build(req, "Return the risk analysis as JSON."),
			SystemContext: riskSystemContext,
			Options:       structuredOptions(),
			Schema:        riskSchema,
		}, riskFallback())
		if err != nil {
			return Result{}, err
		}

		data.OverallRiskScore = clampScore(data.OverallRiskScore)
		sortRisks(data.Risks)
		return Result{
			Data:       data,
			Confidence: scoreConfidence(75, len(data.Risks), res.Source, res.Attempts),
			Reasoning:  riskReasoning(data, res),
			FollowUp:   riskFollowUps(data),
			Degraded:   res.Degraded(),
		}, nil
	}, logger)
}

func riskFallback() domain.RiskAnalysisData {
	return domain.RiskAnalysisData{
		Risks:            []domain.Risk{},
		OverallRiskScore: 50,
		KeyInsights:      []string{"Risk analysis is temporarily unavailable; a neutral baseline score is shown."},
		Narrative:        "Risk analysis unavailable, showing a neutral baseline.",
	}
}

var severityRank = map[string]int{
	SeverityCritical: 0,
	SeverityHigh:     1,
	SeverityMedium:   2,
	SeverityLow:      3,
}

func sortRisks(risks []domain.Risk) {
	sort.SliceStable(risks, func(i, j int) bool {
		ri, rj := severityRank[risks[i].Severity], severityRank[risks[j].Severity]
		if ri != rj {
			return ri < rj
		}
		return risks[i].Probability > risks[j].Probability
	})
}

func riskReasoning(d domain.RiskAnalysisData, res domain.StructuredResult) string {
	if res.Source == domain.SourceFallback {
		return "No provider analysis was available (" + res.Reason + "); the baseline score stands in for a full assessment."
	}
	if len(d.Risks) == 0 {
		return fmt.Sprintf("No specific risks identified; overall risk score %.0f.", d.OverallRiskScore)
	}
	return fmt.Sprintf("Identified %d risks; the most severe is %q (%s). Overall risk score %.0f.",
		len(d.Risks), d.Risks[0].Title, d.Risks[0].Severity, d.OverallRiskScore)
}

func riskFollowUps(d domain.RiskAnalysisData) []string {
	var out []string
	for _, r := range d.Risks {
		if len(out) == 2 {
			break
		}
		out = append(out, fmt.Sprintf("What if %s escalates?", r.Title))
	}
	if len(d.Risks) > 0 {
		out = append(out, "Recommend mitigations for the top risks")
	}
	return out
}

func clampScore(s float64) float64 {
	switch {
	case s != s:
		return 0
	case s < 0:
		return 0
	case s > 100:
		return 100
	}
	return s
}
