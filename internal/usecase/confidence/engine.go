// Package confidence scores how much an analysis can be trusted from agent
// signals, data quality, and situational context.
package confidence

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"supplyintel/internal/domain"
	"supplyintel/internal/infra/schema"
)

// Analysis types with their own weight tables.
const (
	AnalysisRiskAssessment     = "risk_assessment"
	AnalysisScenarioPlanning   = "scenario_planning"
	AnalysisStrategicPlanning  = "strategic_planning"
	AnalysisMarketIntelligence = "market_intelligence"
	AnalysisComprehensive      = "comprehensive"
)

type weights map[domain.AgentRole]float64

// weightTables each sum to 1.0. Unknown analysis types use comprehensive.
var weightTables = map[string]weights{
	AnalysisRiskAssessment: {
		domain.RoleRiskAnalysis:       0.40,
		domain.RoleScenarioSimulation: 0.20,
		domain.RoleStrategicAdvisor:   0.15,
		domain.RoleWebIntelligence:    0.25,
	},
	AnalysisScenarioPlanning: {
		domain.RoleRiskAnalysis:       0.20,
		domain.RoleScenarioSimulation: 0.45,
		domain.RoleStrategicAdvisor:   0.20,
		domain.RoleWebIntelligence:    0.15,
	},
	AnalysisStrategicPlanning: {
		domain.RoleRiskAnalysis:       0.20,
		domain.RoleScenarioSimulation: 0.20,
		domain.RoleStrategicAdvisor:   0.45,
		domain.RoleWebIntelligence:    0.15,
	},
	AnalysisMarketIntelligence: {
		domain.RoleRiskAnalysis:       0.15,
		domain.RoleScenarioSimulation: 0.10,
		domain.RoleStrategicAdvisor:   0.15,
		domain.RoleWebIntelligence:    0.60,
	},
	AnalysisComprehensive: {
		domain.RoleRiskAnalysis:       0.25,
		domain.RoleScenarioSimulation: 0.25,
		domain.RoleStrategicAdvisor:   0.25,
		domain.RoleWebIntelligence:    0.25,
	},
}

// Contextual deltas applied to the base of contextBase. Keys are lower case.
var (
	regionDeltas = map[string]float64{
		"global":           -10,
		"multi_region":     -8,
		"emerging_markets": -7,
		"asia_pacific":     -5,
		"latin_america":    -5,
		"middle_east":      -5,
		"europe":           0,
		"north_america":    3,
		"domestic":         5,
	}
	severityDeltas = map[string]float64{
		"low":          5,
		"medium":       0,
		"high":         -5,
		"critical":     -10,
		"catastrophic": -15,
	}
	scenarioDeltas = map[string]float64{
		"baseline":          5,
		"routine":           5,
		"demand_shock":      -5,
		"supply_disruption": -5,
		"geopolitical":      -7,
		"natural_disaster":  -8,
		"pandemic":          -10,
	}
	analysisDeltas = map[string]float64{
		AnalysisMarketIntelligence: 2,
		AnalysisRiskAssessment:     0,
		AnalysisStrategicPlanning:  -2,
		AnalysisScenarioPlanning:   -3,
		AnalysisComprehensive:      -5,
	}
)

// Data-quality dimension weights and the thresholds below which a
// dimension is reported as an uncertainty factor.
var dimensions = []struct {
	name      string
	weight    float64
	threshold float64
	value     func(domain.DataQualityRecord) float64
}{
	{"completeness", 0.3, 80, func(r domain.DataQualityRecord) float64 { return r.Completeness }},
	{"accuracy", 0.3, 85, func(r domain.DataQualityRecord) float64 { return r.Accuracy }},
	{"timeliness", 0.2, 70, func(r domain.DataQualityRecord) float64 { return r.Timeliness }},
	{"consistency", 0.2, 75, func(r domain.DataQualityRecord) float64 { return r.Consistency }},
}

const (
	contextBase        = 80.0
	defaultDataQuality = 75.0
	lowAgentConfidence = 70.0
	slowAgentMs        = 30_000
	verySlowAgentMs    = 60_000
	adjustSlowMs       = 45_000
)

// Engine computes confidence results. The zero value is not usable; call New.
type Engine struct {
	tables map[string]weights
}

// New returns an engine with the built-in weight tables.
func New() *Engine {
	return &Engine{tables: weightTables}
}

// Weights returns the weight table used for analysisType.
func (e *Engine) Weights(analysisType string) map[domain.AgentRole]float64 {
	t := e.table(analysisType)
	out := make(map[domain.AgentRole]float64, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

func (e *Engine) table(analysisType string) weights {
	if t, ok := e.tables[strings.ToLower(analysisType)]; ok {
		return t
	}
	return e.tables[AnalysisComprehensive]
}

// Score computes the overall confidence and its breakdown.
func (e *Engine) Score(in domain.ConfidenceInput) (domain.ConfidenceResult, error) {
	if err := schema.ValidateStruct("confidence.Score", in); err != nil {
		return domain.ConfidenceResult{}, err
	}
	for role := range in.Agents {
		if !role.Valid() {
			return domain.ConfidenceResult{}, domain.NewDomainError("confidence.Score", domain.ErrInvalidInput,
				fmt.Sprintf("unknown agent role %q", role))
		}
	}

	table := e.table(in.AnalysisType)
	contribs, agentPerf := agentPerformance(table, in.Agents)
	dq := dataQualityScore(in.DataQuality)
	cf, highComplexity := contextualFactors(in.AnalysisType, in.Context)
	catastrophic := in.Context != nil && strings.EqualFold(in.Context.Severity, "catastrophic")
	ua := uncertaintyAdjustment(agentPerf, dq, cf, highComplexity, catastrophic)

	overall := clamp(dq*0.25+agentPerf*0.40+cf*0.25+ua, 50, 95)

	return domain.ConfidenceResult{
		OverallConfidence: round2(overall),
		Breakdown: domain.ConfidenceBreakdown{
			DataQuality:           round2(dq),
			AgentPerformance:      round2(agentPerf),
			ContextualFactors:     round2(cf),
			UncertaintyAdjustment: round2(ua),
		},
		Contributions:      contribs,
		UncertaintyFactors: uncertaintyFactors(contribs, in),
	}, nil
}

// AdjustConfidence applies the error-rate, data-point, and latency penalties
// to a raw agent confidence and clamps the result to [30,95].
func AdjustConfidence(s domain.AgentSignal) float64 {
	c := s.Confidence
	switch {
	case s.ErrorRate > 0.1:
		c -= 10
	case s.ErrorRate > 0.05:
		c -= 5
	}
	switch {
	case s.DataPoints < 5:
		c -= 15
	case s.DataPoints < 10:
		c -= 5
	}
	if s.ProcessingTimeMs > adjustSlowMs {
		c -= 5
	}
	return clamp(c, 30, 95)
}

// AgentDataQuality scores one agent's own data: error-free share blended
// 50/50 with data-point sufficiency, less a latency penalty.
func AgentDataQuality(s domain.AgentSignal) float64 {
	base := 100 - s.ErrorRate*100
	sufficiency := math.Min(100, float64(s.DataPoints)/10*100)
	q := 0.5*base + 0.5*sufficiency
	switch {
	case s.ProcessingTimeMs > verySlowAgentMs:
		q -= 20
	case s.ProcessingTimeMs > slowAgentMs:
		q -= 10
	}
	return clamp(q, 0, 100)
}

// agentPerformance is Σ(adjusted×weight) divided by the sum of the weights of
// the roles present, so a partial agent set still scores on the 0-100 scale.
// Contributions are returned in canonical role order.
func agentPerformance(table weights, agents map[domain.AgentRole]domain.AgentSignal) ([]domain.AgentContribution, float64) {
	var (
		contribs []domain.AgentContribution
		sum      float64
		wsum     float64
	)
	for _, role := range domain.AllRoles {
		s, ok := agents[role]
		if !ok {
			continue
		}
		w := table[role]
		adj := AdjustConfidence(s)
		sum += adj * w
		wsum += w
		contribs = append(contribs, domain.AgentContribution{
			Role:               role,
			Weight:             w,
			RawConfidence:      s.Confidence,
			AdjustedConfidence: adj,
			DataQuality:        round2(AgentDataQuality(s)),
			Contribution:       round2(adj * w),
			KeyInsights:        s.KeyInsights,
		})
	}
	if wsum == 0 {
		return contribs, 0
	}
	return contribs, sum / wsum
}

func dataQualityScore(r *domain.DataQualityRecord) float64 {
	if r == nil {
		return defaultDataQuality
	}
	var q float64
	for _, d := range dimensions {
		q += d.value(*r) * d.weight
	}
	return q
}

// contextualFactors returns the context score and whether the declared
// situation counts as highly complex.
func contextualFactors(analysisType string, c *domain.ContextRecord) (float64, bool) {
	score := contextBase
	analysisDelta := analysisDeltas[strings.ToLower(analysisType)]
	score += analysisDelta

	regionDelta := 0.0
	if c != nil {
		regionDelta = regionDeltas[normalizeKey(c.Region)]
		score += regionDelta
		score += severityDeltas[normalizeKey(c.Severity)]
		score += scenarioDeltas[normalizeKey(c.ScenarioType)]
	}
	return clamp(score, 30, 95), analysisDelta <= -5 || regionDelta <= -8
}

// uncertaintyAdjustment sums the penalties; with none and strong agent and
// data-quality scores it grants +5.
func uncertaintyAdjustment(agentPerf, dq, cf float64, highComplexity, catastrophic bool) float64 {
	var ua float64
	if agentPerf < 60 {
		ua -= 10
	}
	if dq < 60 {
		ua -= 8
	}
	if cf < 60 {
		ua -= 5
	}
	if highComplexity {
		ua -= 5
	}
	if catastrophic {
		ua -= 8
	}
	if ua == 0 && agentPerf >= 85 && dq >= 85 {
		ua = 5
	}
	return clamp(ua, -20, 10)
}

// uncertaintyFactors lists advisory reasons for lower trust, largest impact first.
func uncertaintyFactors(contribs []domain.AgentContribution, in domain.ConfidenceInput) []domain.UncertaintyFactor {
	factors := []domain.UncertaintyFactor{}

	for _, c := range contribs {
		if c.AdjustedConfidence < lowAgentConfidence {
			factors = append(factors, domain.UncertaintyFactor{
				Source:      "agent:" + string(c.Role),
				Description: fmt.Sprintf("%s confidence is %.0f, below %.0f", c.Role, c.AdjustedConfidence, lowAgentConfidence),
				Impact:      round2((lowAgentConfidence - c.AdjustedConfidence) * c.Weight),
			})
		}
	}

	if in.DataQuality != nil {
		for _, d := range dimensions {
			v := d.value(*in.DataQuality)
			if v < d.threshold {
				factors = append(factors, domain.UncertaintyFactor{
					Source:      "data_quality:" + d.name,
					Description: fmt.Sprintf("data %s is %.0f, below %.0f", d.name, v, d.threshold),
					Impact:      round2((d.threshold - v) * d.weight),
				})
			}
		}
	}

	if in.Context != nil {
		if normalizeKey(in.Context.Severity) == "catastrophic" {
			factors = append(factors, domain.UncertaintyFactor{
				Source:      "context:severity",
				Description: "catastrophic severity makes outcomes hard to predict",
				Impact:      8,
			})
		}
		if normalizeKey(in.Context.Region) == "global" {
			factors = append(factors, domain.UncertaintyFactor{
				Source:      "context:region",
				Description: "global scope spans many independent supply networks",
				Impact:      5,
			})
		}
	}

	for _, role := range domain.AllRoles {
		s, ok := in.Agents[role]
		if !ok || s.ProcessingTimeMs <= slowAgentMs {
			continue
		}
		impact := 3.0
		if s.ProcessingTimeMs > verySlowAgentMs {
			impact = 5
		}
		factors = append(factors, domain.UncertaintyFactor{
			Source:      "latency:" + string(role),
			Description: fmt.Sprintf("%s took %.1fs to respond", role, float64(s.ProcessingTimeMs)/1000),
			Impact:      impact,
		})
	}

	sort.SliceStable(factors, func(i, j int) bool { return factors[i].Impact > factors[j].Impact })
	return factors
}

func normalizeKey(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(s)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
