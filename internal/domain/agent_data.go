package domain

import (
	"encoding/json"
	"fmt"
)

// DataKind tags an AgentData variant. Agent variants use their role as the kind.
type DataKind string

const (
	KindRiskAnalysis  DataKind = DataKind(RoleRiskAnalysis)
	KindScenario      DataKind = DataKind(RoleScenarioSimulation)
	KindStrategy      DataKind = DataKind(RoleStrategicAdvisor)
	KindIntelligence  DataKind = DataKind(RoleWebIntelligence)
	KindSynthesisText DataKind = "synthesis"
)

// AgentData is the tagged union carried by AgentOutput.Data.
// Callers switch on the concrete type (or Kind) instead of casting maps.
type AgentData interface {
	Kind() DataKind
	// Summary is a short plain-text digest used in prompts and synthesis.
	Summary() string
}

// Risk is one identified supply-chain risk.
type Risk struct {
	Title       string  `json:"title" jsonschema:"required"`
	Category    string  `json:"category" jsonschema:"required"`
	Severity    string  `json:"severity" jsonschema:"required,enum=low,enum=medium,enum=high,enum=critical"`
	Probability float64 `json:"probability" jsonschema:"minimum=0,maximum=1"`
	Impact      string  `json:"impact,omitempty"`
	Region      string  `json:"region,omitempty"`
}

// RiskAnalysisData is the risk_analysis variant.
type RiskAnalysisData struct {
	Risks            []Risk   `json:"risks" jsonschema:"required"`
	OverallRiskScore float64  `json:"overall_risk_score" jsonschema:"required,minimum=0,maximum=100"`
	KeyInsights      []string `json:"key_insights,omitempty"`
	Narrative        string   `json:"summary,omitempty"`
}

func (RiskAnalysisData) Kind() DataKind { return KindRiskAnalysis }

func (d RiskAnalysisData) Summary() string {
	if d.Narrative != "" {
		return d.Narrative
	}
	return fmt.Sprintf("%d risks identified, overall risk score %.0f", len(d.Risks), d.OverallRiskScore)
}

// ScenarioImpact is one effect of a simulated scenario.
type ScenarioImpact struct {
	Area      string  `json:"area" jsonschema:"required"`
	Magnitude string  `json:"magnitude" jsonschema:"required"`
	CostDelta float64 `json:"cost_delta,omitempty"`
	DelayDays int     `json:"delay_days,omitempty"`
}

// ScenarioData is the scenario_simulation variant.
type ScenarioData struct {
	Scenario    string           `json:"scenario" jsonschema:"required"`
	Probability float64          `json:"probability" jsonschema:"minimum=0,maximum=1"`
	Impacts     []ScenarioImpact `json:"impacts" jsonschema:"required"`
	Timeline    []string         `json:"timeline,omitempty"`
	Mitigations []string         `json:"mitigations,omitempty"`
}

func (ScenarioData) Kind() DataKind { return KindScenario }

func (d ScenarioData) Summary() string {
	return fmt.Sprintf("scenario %q with %d impacts (p=%.2f)", d.Scenario, len(d.Impacts), d.Probability)
}

// Recommendation is one strategic action.
type Recommendation struct {
	Action    string `json:"action" jsonschema:"required"`
	Priority  string `json:"priority" jsonschema:"required,enum=low,enum=medium,enum=high,enum=critical"`
	Timeframe string `json:"timeframe,omitempty"`
	Cost      string `json:"cost,omitempty"`
	Rationale string `json:"rationale,omitempty"`
}

// StrategyData is the strategic_advisor variant.
type StrategyData struct {
	Recommendations []Recommendation `json:"recommendations" jsonschema:"required"`
	Objective       string           `json:"objective,omitempty"`
	ExpectedOutcome string           `json:"expected_outcome,omitempty"`
}

func (StrategyData) Kind() DataKind { return KindStrategy }

func (d StrategyData) Summary() string {
	if len(d.Recommendations) == 0 {
		return "no recommendations"
	}
	return fmt.Sprintf("%d recommendations, top: %s", len(d.Recommendations), d.Recommendations[0].Action)
}

// IntelligenceItem is a classified search result.
type IntelligenceItem struct {
	Title         string  `json:"title"`
	URL           string  `json:"url"`
	Content       string  `json:"content"`
	Score         float64 `json:"score"`
	PublishedDate string  `json:"published_date,omitempty"`
	Category      string  `json:"category"`
	Severity      string  `json:"severity"`
}

// IntelligenceData is the web_intelligence variant.
type IntelligenceData struct {
	Query  string             `json:"query"`
	Answer string             `json:"answer,omitempty"`
	Items  []IntelligenceItem `json:"items"`
	Alerts int                `json:"alerts"`
}

func (IntelligenceData) Kind() DataKind { return KindIntelligence }

func (d IntelligenceData) Summary() string {
	if d.Answer != "" {
		return d.Answer
	}
	return fmt.Sprintf("%d intelligence items, %d alerts", len(d.Items), d.Alerts)
}

// SynthesisData carries free text, used for degraded agent output and synthesis.
type SynthesisData struct {
	Text string `json:"text"`
}

func (SynthesisData) Kind() DataKind { return KindSynthesisText }

func (d SynthesisData) Summary() string { return d.Text }

type taggedData struct {
	Kind DataKind `json:"kind"`
}

func marshalTagged(kind DataKind, v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	tag, _ := json.Marshal(taggedData{Kind: kind})
	if string(body) == "{}" {
		return tag, nil
	}
	// Splice {"kind":...} and the variant fields into one object.
	out := make([]byte, 0, len(tag)+len(body))
	out = append(out, tag[:len(tag)-1]...)
	out = append(out, ',')
	out = append(out, body[1:]...)
	return out, nil
}

func (d RiskAnalysisData) MarshalJSON() ([]byte, error) {
	type plain RiskAnalysisData
	return marshalTagged(d.Kind(), plain(d))
}

func (d ScenarioData) MarshalJSON() ([]byte, error) {
	type plain ScenarioData
	return marshalTagged(d.Kind(), plain(d))
}

func (d StrategyData) MarshalJSON() ([]byte, error) {
	type plain StrategyData
	return marshalTagged(d.Kind(), plain(d))
}

func (d IntelligenceData) MarshalJSON() ([]byte, error) {
	type plain IntelligenceData
	return marshalTagged(d.Kind(), plain(d))
}

func (d SynthesisData) MarshalJSON() ([]byte, error) {
	type plain SynthesisData
	return marshalTagged(d.Kind(), plain(d))
}

// DecodeAgentData decodes a {"kind": ...} tagged object into its variant.
func DecodeAgentData(b []byte) (AgentData, error) {
	var tag taggedData
	if err := json.Unmarshal(b, &tag); err != nil {
		return nil, fmt.Errorf("decode agent data tag: %w", err)
	}
	switch tag.Kind {
	case KindRiskAnalysis:
		var d RiskAnalysisData
		err := json.Unmarshal(b, &d)
		return d, err
	case KindScenario:
		var d ScenarioData
		err := json.Unmarshal(b, &d)
		return d, err
	case KindStrategy:
		var d StrategyData
		err := json.Unmarshal(b, &d)
		return d, err
	case KindIntelligence:
		var d IntelligenceData
		err := json.Unmarshal(b, &d)
		return d, err
	case KindSynthesisText:
		var d SynthesisData
		err := json.Unmarshal(b, &d)
		return d, err
	default:
		return nil, NewDomainError("DecodeAgentData", ErrInvalidInput, fmt.Sprintf("unknown data kind %q", tag.Kind))
	}
}
