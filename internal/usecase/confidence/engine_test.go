package confidence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"supplyintel/internal/domain"
)

func TestWeightTablesSumToOne(t *testing.T) {
	e := New()
	for name := range weightTables {
		var sum float64
		for _, w := range e.Weights(name) {
			sum += w
		}
		assert.InDelta(t, 1.0, sum, 1e-9, name)
		assert.Len(t, e.Weights(name), len(domain.AllRoles), name)
	}
	assert.Equal(t, e.Weights(AnalysisComprehensive), e.Weights("unheard_of"))
}

func TestAdjustConfidence(t *testing.T) {
	tests := []struct {
		name string
		in   domain.AgentSignal
		want float64
	}{
		{"clean", domain.AgentSignal{Confidence: 85, DataPoints: 12, ProcessingTimeMs: 1000}, 85},
		{"moderate error rate", domain.AgentSignal{Confidence: 85, ErrorRate: 0.06, DataPoints: 12}, 80},
		{"high error rate", domain.AgentSignal{Confidence: 85, ErrorRate: 0.2, DataPoints: 12}, 75},
		{"few data points", domain.AgentSignal{Confidence: 85, DataPoints: 4}, 70},
		{"some data points", domain.AgentSignal{Confidence: 85, DataPoints: 9}, 80},
		{"slow", domain.AgentSignal{Confidence: 85, DataPoints: 12, ProcessingTimeMs: 46_000}, 80},
		{"floor", domain.AgentSignal{Confidence: 20, ErrorRate: 0.5}, 30},
		{"ceiling", domain.AgentSignal{Confidence: 100, DataPoints: 50}, 95},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AdjustConfidence(tt.in))
		})
	}
}

func TestAgentDataQuality(t *testing.T) {
	assert.InDelta(t, 100.0, AgentDataQuality(domain.AgentSignal{DataPoints: 10}), 1e-9)
	assert.InDelta(t, 60.0, AgentDataQuality(domain.AgentSignal{ErrorRate: 0.1, DataPoints: 5, ProcessingTimeMs: 35_000}), 1e-9)
	assert.InDelta(t, 50.0, AgentDataQuality(domain.AgentSignal{DataPoints: 10, ErrorRate: 0.6, ProcessingTimeMs: 61_000}), 1e-9)
	assert.InDelta(t, 0.0, AgentDataQuality(domain.AgentSignal{ErrorRate: 1, ProcessingTimeMs: 90_000}), 1e-9)
}

func TestScoreWorkedExample(t *testing.T) {
	res, err := New().Score(domain.ConfidenceInput{
		AnalysisType: AnalysisRiskAssessment,
		Agents: map[domain.AgentRole]domain.AgentSignal{
			domain.RoleRiskAnalysis:    {Confidence: 85, ProcessingTimeMs: 2000, ErrorRate: 0.02, DataPoints: 12},
			domain.RoleWebIntelligence: {Confidence: 80, ProcessingTimeMs: 1000, DataPoints: 20},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 75.0, res.Breakdown.DataQuality)
	assert.Equal(t, 83.08, res.Breakdown.AgentPerformance)
	assert.Equal(t, 80.0, res.Breakdown.ContextualFactors)
	assert.Equal(t, 0.0, res.Breakdown.UncertaintyAdjustment)
	assert.Equal(t, 71.98, res.OverallConfidence)

	require.Len(t, res.Contributions, 2)
	assert.Equal(t, domain.RoleRiskAnalysis, res.Contributions[0].Role)
	assert.Equal(t, 34.0, res.Contributions[0].Contribution)
	assert.Equal(t, domain.RoleWebIntelligence, res.Contributions[1].Role)
	assert.Equal(t, 20.0, res.Contributions[1].Contribution)
	assert.Empty(t, res.UncertaintyFactors)
}

func TestScoreNormalizesOverPresentAgents(t *testing.T) {
	clean := domain.AgentSignal{Confidence: 85, DataPoints: 12, ProcessingTimeMs: 1000}
	for _, analysis := range []string{AnalysisRiskAssessment, AnalysisComprehensive} {
		res, err := New().Score(domain.ConfidenceInput{
			AnalysisType: analysis,
			Agents:       map[domain.AgentRole]domain.AgentSignal{domain.RoleScenarioSimulation: clean},
		})
		require.NoError(t, err)
		assert.Equal(t, 85.0, res.Breakdown.AgentPerformance, analysis)
	}
}

func TestScoreClampsToFloor(t *testing.T) {
	bad := domain.AgentSignal{Confidence: 0, ErrorRate: 0.5}
	res, err := New().Score(domain.ConfidenceInput{
		AnalysisType: AnalysisComprehensive,
		Agents: map[domain.AgentRole]domain.AgentSignal{
			domain.RoleRiskAnalysis:       bad,
			domain.RoleScenarioSimulation: bad,
		},
		DataQuality: &domain.DataQualityRecord{},
		Context:     &domain.ContextRecord{Region: "Global", Severity: "catastrophic", ScenarioType: "pandemic"},
	})
	require.NoError(t, err)

	assert.Equal(t, 30.0, res.Breakdown.AgentPerformance)
	assert.Equal(t, 0.0, res.Breakdown.DataQuality)
	assert.Equal(t, 40.0, res.Breakdown.ContextualFactors)
	assert.Equal(t, -20.0, res.Breakdown.UncertaintyAdjustment)
	assert.Equal(t, 50.0, res.OverallConfidence)
}

func TestScoreFavourableContext(t *testing.T) {
	strong := domain.AgentSignal{Confidence: 100, DataPoints: 40, ProcessingTimeMs: 500}
	dq := domain.DataQualityRecord{Completeness: 100, Accuracy: 100, Timeliness: 100, Consistency: 100}
	res, err := New().Score(domain.ConfidenceInput{
		AnalysisType: AnalysisMarketIntelligence,
		Agents:       map[domain.AgentRole]domain.AgentSignal{domain.RoleWebIntelligence: strong},
		DataQuality:  &dq,
		Context:      &domain.ContextRecord{Region: "domestic", Severity: "low", ScenarioType: "baseline"},
	})
	require.NoError(t, err)

	assert.Equal(t, 95.0, res.Breakdown.AgentPerformance)
	assert.Equal(t, 95.0, res.Breakdown.ContextualFactors)
	assert.Equal(t, 5.0, res.Breakdown.UncertaintyAdjustment)
	assert.Equal(t, 91.75, res.OverallConfidence)
}

func TestScoreOverallWithinBounds(t *testing.T) {
	e := New()
	for _, conf := range []float64{0, 25, 50, 75, 100} {
		for _, er := range []float64{0, 0.07, 0.3, 1} {
			res, err := e.Score(domain.ConfidenceInput{
				Agents: map[domain.AgentRole]domain.AgentSignal{
					domain.RoleStrategicAdvisor: {Confidence: conf, ErrorRate: er, DataPoints: 6},
				},
			})
			require.NoError(t, err)
			assert.GreaterOrEqual(t, res.OverallConfidence, 50.0)
			assert.LessOrEqual(t, res.OverallConfidence, 95.0)
			assert.GreaterOrEqual(t, res.Breakdown.UncertaintyAdjustment, -20.0)
			assert.LessOrEqual(t, res.Breakdown.UncertaintyAdjustment, 10.0)
		}
	}
}

func TestScoreErrorRateMonotonic(t *testing.T) {
	e := New()
	bases := []domain.ConfidenceInput{
		{AnalysisType: AnalysisRiskAssessment},
		{AnalysisType: AnalysisComprehensive, Context: &domain.ContextRecord{Region: "global"}},
		{AnalysisType: AnalysisScenarioPlanning, DataQuality: &domain.DataQualityRecord{Completeness: 95, Accuracy: 95, Timeliness: 95, Consistency: 95}},
	}
	for _, base := range bases {
		for _, raw := range []float64{40, 70, 90, 100} {
			prev := 101.0
			for step := 0; step <= 100; step++ {
				in := base
				in.Agents = map[domain.AgentRole]domain.AgentSignal{
					domain.RoleRiskAnalysis:       {Confidence: raw, ErrorRate: float64(step) / 100, DataPoints: 12},
					domain.RoleScenarioSimulation: {Confidence: 88, ErrorRate: 0.01, DataPoints: 15},
				}
				res, err := e.Score(in)
				require.NoError(t, err)
				assert.LessOrEqual(t, res.OverallConfidence, prev,
					"analysis=%s raw=%v errorRate=%v", base.AnalysisType, raw, float64(step)/100)
				prev = res.OverallConfidence
			}
		}
	}
}

func TestUncertaintyFactorsRanked(t *testing.T) {
	res, err := New().Score(domain.ConfidenceInput{
		AnalysisType: AnalysisComprehensive,
		Agents: map[domain.AgentRole]domain.AgentSignal{
			domain.RoleRiskAnalysis:    {Confidence: 60, DataPoints: 20, ProcessingTimeMs: 1000},
			domain.RoleWebIntelligence: {Confidence: 90, DataPoints: 20, ProcessingTimeMs: 70_000},
		},
		DataQuality: &domain.DataQualityRecord{Completeness: 50, Accuracy: 90, Timeliness: 80, Consistency: 80},
		Context:     &domain.ContextRecord{Region: "global", Severity: "catastrophic"},
	})
	require.NoError(t, err)

	var sources []string
	for _, f := range res.UncertaintyFactors {
		sources = append(sources, f.Source)
		assert.NotEmpty(t, f.Description)
	}
	assert.Equal(t, []string{
		"data_quality:completeness",
		"context:severity",
		"context:region",
		"latency:web_intelligence",
		"agent:risk_analysis",
	}, sources)
	assert.Equal(t, 9.0, res.UncertaintyFactors[0].Impact)
	assert.Equal(t, 2.5, res.UncertaintyFactors[4].Impact)
}

func TestScoreRejectsBadInput(t *testing.T) {
	e := New()

	_, err := e.Score(domain.ConfidenceInput{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = e.Score(domain.ConfidenceInput{
		Agents: map[domain.AgentRole]domain.AgentSignal{"oracle": {Confidence: 80}},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = e.Score(domain.ConfidenceInput{
		Agents: map[domain.AgentRole]domain.AgentSignal{domain.RoleRiskAnalysis: {Confidence: 180}},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
