package domain

// NodeType classifies a decision tree node.
type NodeType string

const (
	NodeCondition NodeType = "condition"
	NodeAction    NodeType = "action"
	NodeOutcome   NodeType = "outcome"
)

// DecisionNode is a vertex of the reasoning tree.
type DecisionNode struct {
	ID         string         `json:"id"`
	Label      string         `json:"label"`
	Type       NodeType       `json:"type"`
	Confidence float64        `json:"confidence"`
	ParentID   string         `json:"parent_id,omitempty"`
	ChildIDs   []string       `json:"child_ids"`
	Data       map[string]any `json:"data,omitempty"`
	// ParentIDs is set only on a node with more than one parent.
	ParentIDs []string `json:"parent_ids,omitempty"`
}

// DecisionEdge is derived from a parent/child link.
type DecisionEdge struct {
	From       string  `json:"from"`
	To         string  `json:"to"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// DecisionPath is an ordered walk through the tree.
type DecisionPath struct {
	NodeIDs        []string `json:"node_ids"`
	MeanConfidence float64  `json:"mean_confidence"`
}

// Length is the number of edges traversed.
func (p DecisionPath) Length() int {
	if len(p.NodeIDs) == 0 {
		return 0
	}
	return len(p.NodeIDs) - 1
}

// ReasoningStep is one entry of an agent's reasoning chain.
type ReasoningStep struct {
	Step        string  `json:"step" validate:"required"`
	Description string  `json:"description"`
	Confidence  float64 `json:"confidence" validate:"gte=0,lte=100"`
}

// AnalysisRecord is the decision tree input besides the reasoning steps.
type AnalysisRecord struct {
	InputParameters     map[string]any `json:"input_parameters"`
	Context             map[string]any `json:"context,omitempty"`
	IntermediateResults map[string]any `json:"intermediate_results,omitempty"`
	FinalRecommendation string         `json:"final_recommendation"`
	Confidence          float64        `json:"confidence" validate:"gte=0,lte=100"`
}

// DecisionTree is the built graph.
type DecisionTree struct {
	AnalysisType     string         `json:"analysis_type"`
	RootID           string         `json:"root_id"`
	Nodes            []DecisionNode `json:"nodes"`
	Edges            []DecisionEdge `json:"edges"`
	CriticalPath     DecisionPath   `json:"critical_path"`
	AlternativePaths []DecisionPath `json:"alternative_paths"`
}

// Node returns the node with the given id.
func (t *DecisionTree) Node(id string) (DecisionNode, bool) {
	for _, n := range t.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return DecisionNode{}, false
}
