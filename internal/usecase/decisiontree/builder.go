// Package decisiontree derives an explainable graph of how an analysis moved
// from its inputs through reasoning steps to a recommendation.
package decisiontree

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"

	"supplyintel/internal/domain"
	"supplyintel/internal/infra/schema"
)

// Fixed node confidences.
const (
	inputConfidence   = 95.0
	contextConfidence = 90.0
	maxAlternatives   = 3
)

// Edge labels by (from, to) node type.
const (
	LabelAnalyzes  = "analyzes"
	LabelProduces  = "produces"
	LabelLeadsTo   = "leads to"
	LabelResultsIn = "results in"
)

type buildInput struct {
	AnalysisType string `validate:"required,nonblank"`
	Record       domain.AnalysisRecord
	Steps        []domain.ReasoningStep `validate:"dive"`
}

// builder accumulates nodes in creation order.
type builder struct {
	nodes []domain.DecisionNode
	index map[string]int
}

// Build constructs the decision tree for one analysis.
func Build(analysisType string, rec domain.AnalysisRecord, steps []domain.ReasoningStep) (*domain.DecisionTree, error) {
	if err := schema.ValidateStruct("decisiontree.Build", buildInput{
		AnalysisType: analysisType,
		Record:       rec,
		Steps:        steps,
	}); err != nil {
		return nil, err
	}

	b := &builder{index: make(map[string]int)}
	root := b.add(domain.DecisionNode{
		Label:      analysisType,
		Type:       domain.NodeCondition,
		Confidence: rec.Confidence,
		Data:       map[string]any{"analysis_type": analysisType},
	}, "")

	anchor := root
	first := ""
	for _, k := range sortedKeys(rec.InputParameters) {
		id := b.add(domain.DecisionNode{
			Label:      fmt.Sprintf("%s = %v", k, rec.InputParameters[k]),
			Type:       domain.NodeCondition,
			Confidence: inputConfidence,
			Data:       map[string]any{"parameter": k, "value": rec.InputParameters[k]},
		}, root)
		if first == "" {
			first = id
		}
	}
	for _, k := range sortedKeys(rec.Context) {
		id := b.add(domain.DecisionNode{
			Label:      fmt.Sprintf("%s: %v", k, rec.Context[k]),
			Type:       domain.NodeCondition,
			Confidence: contextConfidence,
			Data:       map[string]any{"context": k, "value": rec.Context[k]},
		}, root)
		if first == "" {
			first = id
		}
	}
	if first != "" {
		anchor = first
	}

	last := anchor
	for i, s := range steps {
		last = b.add(domain.DecisionNode{
			Label:      s.Step,
			Type:       domain.NodeAction,
			Confidence: s.Confidence,
			Data:       map[string]any{"index": i, "description": s.Description},
		}, last)
	}

	var outcomes []string
	for _, k := range sortedKeys(rec.IntermediateResults) {
		v := rec.IntermediateResults[k]
		outcomes = append(outcomes, b.add(domain.DecisionNode{
			Label:      k,
			Type:       domain.NodeOutcome,
			Confidence: OutcomeConfidence(v),
			Data:       map[string]any{"result": k, "value": v},
		}, last))
	}

	label := strings.TrimSpace(rec.FinalRecommendation)
	if label == "" {
		label = "Final recommendation"
	}
	terminal := domain.DecisionNode{
		Label:      label,
		Type:       domain.NodeOutcome,
		Confidence: rec.Confidence,
		Data:       map[string]any{"terminal": true},
	}
	if len(outcomes) == 0 {
		b.add(terminal, last)
	} else {
		id := b.add(terminal, outcomes[0])
		for _, o := range outcomes[1:] {
			b.link(o, id)
		}
		if len(outcomes) > 1 {
			b.nodes[b.index[id]].ParentIDs = outcomes
		}
	}

	tree := &domain.DecisionTree{
		AnalysisType: analysisType,
		RootID:       root,
		Nodes:        b.nodes,
		Edges:        b.edges(),
	}
	tree.CriticalPath = b.criticalPath(root)
	tree.AlternativePaths = b.alternatives(tree.CriticalPath)
	return tree, nil
}

// add appends n under parent and returns its id. An empty parent makes a root.
func (b *builder) add(n domain.DecisionNode, parent string) string {
	n.ID = fmt.Sprintf("node_%d", len(b.nodes))
	n.ParentID = parent
	n.ChildIDs = []string{}
	b.index[n.ID] = len(b.nodes)
	b.nodes = append(b.nodes, n)
	if parent != "" {
		b.link(parent, n.ID)
	}
	return n.ID
}

func (b *builder) link(parent, child string) {
	p := &b.nodes[b.index[parent]]
	p.ChildIDs = append(p.ChildIDs, child)
}

func (b *builder) node(id string) domain.DecisionNode {
	return b.nodes[b.index[id]]
}

func (b *builder) edges() []domain.DecisionEdge {
	var edges []domain.DecisionEdge
	for _, from := range b.nodes {
		for _, cid := range from.ChildIDs {
			to := b.node(cid)
			edges = append(edges, domain.DecisionEdge{
				From:       from.ID,
				To:         to.ID,
				Label:      EdgeLabel(from.Type, to.Type),
				Confidence: math.Min(from.Confidence, to.Confidence),
			})
		}
	}
	return edges
}

// criticalPath descends greedily by highest child confidence; the first
// child wins a tie.
func (b *builder) criticalPath(root string) domain.DecisionPath {
	ids := []string{root}
	cur := b.node(root)
	for len(cur.ChildIDs) > 0 {
		best := b.node(cur.ChildIDs[0])
		for _, cid := range cur.ChildIDs[1:] {
			if c := b.node(cid); c.Confidence > best.Confidence {
				best = c
			}
		}
		ids = append(ids, best.ID)
		cur = best
	}
	return b.path(ids)
}

// alternatives branches off the critical path at each node with more than
// one child, following first children from the first non-critical child down
// to a leaf.
func (b *builder) alternatives(critical domain.DecisionPath) []domain.DecisionPath {
	alts := []domain.DecisionPath{}
	for i := 0; i < len(critical.NodeIDs)-1 && len(alts) < maxAlternatives; i++ {
		n := b.node(critical.NodeIDs[i])
		if len(n.ChildIDs) < 2 {
			continue
		}
		next := critical.NodeIDs[i+1]
		for _, cid := range n.ChildIDs {
			if cid == next {
				continue
			}
			ids := append(append([]string{}, critical.NodeIDs[:i+1]...), cid)
			for cur := b.node(cid); len(cur.ChildIDs) > 0; {
				cur = b.node(cur.ChildIDs[0])
				ids = append(ids, cur.ID)
			}
			alts = append(alts, b.path(ids))
			break
		}
	}
	return alts
}

func (b *builder) path(ids []string) domain.DecisionPath {
	var sum float64
	for _, id := range ids {
		sum += b.node(id).Confidence
	}
	mean := 0.0
	if len(ids) > 0 {
		mean = math.Round(sum/float64(len(ids))*100) / 100
	}
	return domain.DecisionPath{NodeIDs: ids, MeanConfidence: mean}
}

// EdgeLabel names the relation between two node types.
func EdgeLabel(from, to domain.NodeType) string {
	switch {
	case from == domain.NodeCondition && to == domain.NodeAction:
		return LabelAnalyzes
	case from == domain.NodeAction && to == domain.NodeOutcome:
		return LabelProduces
	case from == domain.NodeAction && to == domain.NodeAction:
		return LabelLeadsTo
	default:
		return LabelResultsIn
	}
}

// OutcomeConfidence estimates how much an intermediate value can be trusted
// from its shape alone.
func OutcomeConfidence(v any) float64 {
	if v == nil {
		return 60
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if rv.Int() > 0 {
			return 85
		}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if rv.Uint() > 0 {
			return 85
		}
	case reflect.Float32, reflect.Float64:
		if rv.Float() > 0 {
			return 85
		}
	case reflect.String:
		if rv.Len() > 0 {
			return 80
		}
	case reflect.Slice, reflect.Array:
		if rv.Len() > 0 {
			return 90
		}
	case reflect.Map, reflect.Struct:
		if rv.Kind() == reflect.Struct || rv.Len() > 0 {
			return 85
		}
	}
	return 60
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
