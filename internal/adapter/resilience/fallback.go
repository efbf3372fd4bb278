package resilience

import (
	"encoding/json"

	"supplyintel/internal/domain"
)

const fallbackText = "The analysis service is temporarily unavailable. This response was produced from a " +
	"template without provider input, so treat it as low confidence and retry shortly for a full analysis."

// FallbackText is the templated completion returned when no provider text is available.
func FallbackText() string { return fallbackText }

// FallbackSearch is the empty, degraded search response.
func FallbackSearch(query string) *domain.SearchResponse {
	return &domain.SearchResponse{
		Query:    query,
		Results:  []domain.SearchResult{},
		Degraded: true,
	}
}

func marshalFallback(v any) json.RawMessage {
	if v == nil {
		return json.RawMessage("{}")
	}
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("{}")
	}
	return b
}
