package agent

import (
	"context"
	"fmt"
	"log/slog"

	"supplyintel/internal/domain"
	"supplyintel/internal/infra/schema"
)

const defaultIntelResults = 10

var intelligenceSchema, _ = schema.Reflect(&domain.IntelligenceData{})

// NewWebIntelligence creates the web_intelligence agent. Search results are
// classified with keyword heuristics; no completion call is made.
func NewWebIntelligence(s domain.ResilientSearcher, logger *slog.Logger) *Base {
	meta := domain.AgentMetadata{
		Name:         "WebIntelligenceAgent",
		Role:         domain.RoleWebIntelligence,
		Description:  "Searches news and the web for supply chain events and classifies them by category and severity.",
		Capabilities: []string{"web_search", "news_monitoring", "event_classification"},
		InputSchema:  inputSchema,
		OutputSchema: intelligenceSchema,
	}
	return NewBase(meta, func(ctx context.Context, req domain.AgentRequest) (Result, error) {
		opts := intelSearchOptions(req.Parameters)
		resp, err := s.Search(ctx, req.Query, opts)
		if err != nil {
			return Result{}, err
		}

		data := domain.IntelligenceData{
			Query:  resp.Query,
			Answer: resp.Answer,
			Items:  make([]domain.IntelligenceItem, 0, len(resp.Results)),
		}
		for _, r := range resp.Results {
			text := r.Title + " " + r.Content
			item := domain.IntelligenceItem{
				Title:         r.Title,
				URL:           r.URL,
				Content:       r.Content,
				Score:         r.Score,
				PublishedDate: r.PublishedDate,
				Category:      ClassifyCategory(text),
				Severity:      ClassifySeverity(text, r.Score),
			}
			if item.Severity == SeverityHigh || item.Severity == SeverityCritical {
				data.Alerts++
			}
			data.Items = append(data.Items, item)
		}

		source := domain.SourceProvider
		if resp.Degraded {
			source = domain.SourceFallback
			if len(data.Items) > 0 {
				source = domain.SourceStale
			}
		}
		return Result{
			Data:       data,
			Confidence: scoreConfidence(65, len(data.Items), source, 1),
			Reasoning:  intelReasoning(data, resp.Degraded),
			FollowUp:   intelFollowUps(data),
			Degraded:   resp.Degraded,
		}, nil
	}, logger)
}

func intelSearchOptions(params map[string]any) domain.SearchOptions {
	opts := domain.SearchOptions{
		SearchDepth:   "advanced",
		Topic:         "news",
		MaxResults:    defaultIntelResults,
		IncludeAnswer: true,
	}
	if v, ok := params["topic"].(string); ok && (v == "news" || v == "general") {
		opts.Topic = v
	}
	if v, ok := params["search_depth"].(string); ok && (v == "basic" || v == "advanced") {
		opts.SearchDepth = v
	}
	switch v := params["max_results"].(type) {
	case float64:
		if v >= 1 && v <= 20 {
			opts.MaxResults = int(v)
		}
	case int:
		if v >= 1 && v <= 20 {
			opts.MaxResults = v
		}
	}
	return opts
}

func intelReasoning(d domain.IntelligenceData, degraded bool) string {
	if degraded && len(d.Items) == 0 {
		return "Search was unavailable; no intelligence items could be gathered."
	}
	counts := make(map[string]int)
	for _, it := range d.Items {
		counts[it.Category]++
	}
	top, topN := CategoryGeneral, 0
	for _, c := range []string{CategoryLogistics, CategorySupplier, CategoryGeopolitical, CategoryWeather, CategoryDemand, CategoryGeneral} {
		if counts[c] > topN {
			top, topN = c, counts[c]
		}
	}
	return fmt.Sprintf("Found %d items with %d alerts; most frequent category is %s.", len(d.Items), d.Alerts, top)
}

func intelFollowUps(d domain.IntelligenceData) []string {
	if d.Alerts == 0 {
		return nil
	}
	return []string{"Analyze the risks behind the latest alerts"}
}
