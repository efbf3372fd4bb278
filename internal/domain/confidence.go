package domain

// AgentSignal is the raw performance record of one agent role.
type AgentSignal struct {
	Confidence       float64  `json:"confidence" validate:"gte=0,lte=100"`
	ProcessingTimeMs int64    `json:"processing_time_ms" validate:"gte=0"`
	ErrorRate        float64  `json:"error_rate" validate:"gte=0,lte=1"`
	DataPoints       int      `json:"data_points" validate:"gte=0"`
	KeyInsights      []string `json:"key_insights,omitempty"`
}

// DataQualityRecord scores the input data on four dimensions, each 0..100.
type DataQualityRecord struct {
	Completeness float64 `json:"completeness" validate:"gte=0,lte=100"`
	Accuracy     float64 `json:"accuracy" validate:"gte=0,lte=100"`
	Timeliness   float64 `json:"timeliness" validate:"gte=0,lte=100"`
	Consistency  float64 `json:"consistency" validate:"gte=0,lte=100"`
}

// ContextRecord describes the situation under analysis.
type ContextRecord struct {
	Region       string `json:"region,omitempty"`
	Severity     string `json:"severity,omitempty"`
	ScenarioType string `json:"scenario_type,omitempty"`
}

// ConfidenceInput is everything the scoring engine consumes.
type ConfidenceInput struct {
	AnalysisType string                    `json:"analysis_type"`
	Agents       map[AgentRole]AgentSignal `json:"agents" validate:"required,min=1,max=4,dive"`
	DataQuality  *DataQualityRecord        `json:"data_quality,omitempty"`
	Context      *ContextRecord            `json:"context,omitempty"`
}

// ConfidenceBreakdown holds the four component scores.
type ConfidenceBreakdown struct {
	DataQuality           float64 `json:"data_quality"`
	AgentPerformance      float64 `json:"agent_performance"`
	ContextualFactors     float64 `json:"contextual_factors"`
	UncertaintyAdjustment float64 `json:"uncertainty_adjustment"`
}

// AgentContribution reports how one agent fed into agent performance.
type AgentContribution struct {
	Role               AgentRole `json:"role"`
	Weight             float64   `json:"weight"`
	RawConfidence      float64   `json:"raw_confidence"`
	AdjustedConfidence float64   `json:"adjusted_confidence"`
	DataQuality        float64   `json:"data_quality"`
	Contribution       float64   `json:"contribution"`
	KeyInsights        []string  `json:"key_insights,omitempty"`
}

// UncertaintyFactor is an advisory reason for lower trust.
type UncertaintyFactor struct {
	Source      string  `json:"source"`
	Description string  `json:"description"`
	Impact      float64 `json:"impact"`
}

// ConfidenceResult is the output of the scoring engine.
type ConfidenceResult struct {
	OverallConfidence  float64             `json:"overall_confidence"`
	Breakdown          ConfidenceBreakdown `json:"breakdown"`
	Contributions      []AgentContribution `json:"contributions"`
	UncertaintyFactors []UncertaintyFactor `json:"uncertainty_factors"`
}
