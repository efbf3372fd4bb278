package domain

// IntentKey names an entry of the intent table.
type IntentKey string

const (
	IntentAnalyzeRisks          IntentKey = "analyze_risks"
	IntentSimulateScenario      IntentKey = "simulate_scenario"
	IntentMonitorAlerts         IntentKey = "monitor_alerts"
	IntentStrategicAdvice       IntentKey = "strategic_advice"
	IntentResearchIntelligence  IntentKey = "research_intelligence"
	IntentComprehensiveAnalysis IntentKey = "comprehensive_analysis"
	IntentDefault               IntentKey = "default"
	IntentHinted                IntentKey = "hinted"
)

// IntentMapping describes which agents serve an intent.
type IntentMapping struct {
	PrimaryAgent      AgentRole   `json:"primary_agent"`
	SupportingAgents  []AgentRole `json:"supporting_agents,omitempty"`
	RequiresSynthesis bool        `json:"requires_synthesis"`
}

// CoordinatorRequest is what a caller hands to the coordinator.
type CoordinatorRequest struct {
	Query       string         `json:"query" validate:"required,nonblank,max=10000"`
	Intent      IntentKey      `json:"intent,omitempty"`
	AgentHints  []AgentRole    `json:"agent_hints,omitempty" validate:"omitempty,max=4,dive,required"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	History     []Turn         `json:"history,omitempty"`
	DomainState map[string]any `json:"domain_state,omitempty"`
	Preferences map[string]any `json:"preferences,omitempty"`

	// Origin labels the caller in history records: "api", "cli" or "watch:<name>".
	Origin string `json:"-"`
}

// CoordinatorResponse is the result of one coordinator run. It is always
// well-formed; Success mirrors the primary agent's outcome only.
type CoordinatorResponse struct {
	Success               bool          `json:"success"`
	Intent                IntentKey     `json:"intent"`
	CorrelationID         string        `json:"correlation_id"`
	PrimaryResult         AgentOutput   `json:"primary_result"`
	SupportingResults     []AgentOutput `json:"supporting_results,omitempty"`
	SynthesizedResponse   string        `json:"synthesized_response,omitempty"`
	SuggestedActions      []string      `json:"suggested_actions,omitempty"`
	TotalProcessingTimeMs int64         `json:"total_processing_time_ms"`
}
