package domain

import "context"

// GenerationOptions tunes one completion call.
type GenerationOptions struct {
	Temperature      float32 `json:"temperature"`
	MaxOutputTokens  int32   `json:"max_output_tokens"`
	TopP             float32 `json:"top_p,omitempty"`
	TopK             float32 `json:"top_k,omitempty"`
	ResponseMIMEType string  `json:"response_mime_type,omitempty"`
}

// DefaultGenerationOptions mirrors the defaults the agents were tuned against.
func DefaultGenerationOptions() GenerationOptions {
	return GenerationOptions{
		Temperature:     0.7,
		MaxOutputTokens: 2048,
		TopP:            0.95,
		TopK:            40,
	}
}

// CompletionProvider generates text from a prompt and a system context.
type CompletionProvider interface {
	Generate(ctx context.Context, prompt, systemContext string, opts GenerationOptions) (string, error)
	Name() string
}

// SearchOptions tunes one search call.
type SearchOptions struct {
	SearchDepth   string `json:"search_depth,omitempty"` // "basic" or "advanced"
	Topic         string `json:"topic,omitempty"`        // "general" or "news"
	MaxResults    int    `json:"max_results,omitempty"`
	IncludeAnswer bool   `json:"include_answer,omitempty"`
}

// SearchResult is a single web/news hit.
type SearchResult struct {
	Title         string  `json:"title"`
	URL           string  `json:"url"`
	Content       string  `json:"content"`
	Score         float64 `json:"score"`
	PublishedDate string  `json:"published_date,omitempty"`
}

// SearchResponse is the outcome of a search call. Degraded is set when the
// results came from a fallback instead of the provider.
type SearchResponse struct {
	Query    string         `json:"query"`
	Answer   string         `json:"answer,omitempty"`
	Results  []SearchResult `json:"results"`
	Degraded bool           `json:"degraded,omitempty"`
}

// SearchProvider executes a free-text web or news search.
type SearchProvider interface {
	Search(ctx context.Context, query string, opts SearchOptions) (*SearchResponse, error)
	Name() string
}
