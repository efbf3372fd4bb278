package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"supplyintel/internal/domain"
	"supplyintel/internal/infra/config"
	"supplyintel/internal/infra/tracer"
)

type tavilyRequest struct {
	Query         string `json:"query"`
	SearchDepth   string `json:"search_depth,omitempty"`
	Topic         string `json:"topic,omitempty"`
	MaxResults    int    `json:"max_results,omitempty"`
	IncludeAnswer bool   `json:"include_answer"`
}

type tavilyResponse struct {
	Query   string `json:"query"`
	Answer  string `json:"answer"`
	Results []struct {
		Title         string  `json:"title"`
		URL           string  `json:"url"`
		Content       string  `json:"content"`
		Score         float64 `json:"score"`
		PublishedDate string  `json:"published_date"`
	} `json:"results"`
}

// Tavily implements domain.SearchProvider against the Tavily search API.
type Tavily struct {
	client   *http.Client
	baseURL  string
	apiKey   string
	defaults domain.SearchOptions
	logger   *slog.Logger
}

// NewTavily creates a Tavily search provider. The API key is required.
func NewTavily(cfg config.SearchConfig, logger *slog.Logger) (*Tavily, error) {
	if cfg.APIKey == "" {
		return nil, domain.NewSubSystemError("search", "provider.NewTavily", domain.ErrMissingConfig, "set TAVILY_API_KEY")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.tavily.com"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Tavily{
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  cfg.APIKey,
		defaults: domain.SearchOptions{
			SearchDepth: cfg.SearchDepth,
			Topic:       cfg.Topic,
			MaxResults:  cfg.MaxResults,
		},
		logger: logger,
	}, nil
}

// Name implements domain.SearchProvider.
func (p *Tavily) Name() string { return "tavily" }

// Search implements domain.SearchProvider.
func (p *Tavily) Search(ctx context.Context, query string, opts domain.SearchOptions) (*domain.SearchResponse, error) {
	ctx, span := tracer.StartSpan(ctx, "provider.search",
		trace.WithAttributes(tracer.StringAttr("provider", p.Name())),
	)
	defer span.End()

	opts = mergeSearchOptions(opts, p.defaults)
	body, err := json.Marshal(tavilyRequest{
		Query:         query,
		SearchDepth:   opts.SearchDepth,
		Topic:         opts.Topic,
		MaxResults:    opts.MaxResults,
		IncludeAnswer: opts.IncludeAnswer,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	respBody, err := doJSONRequest(ctx, p.client, p.baseURL+"/search", body, map[string]string{
		"Authorization": "Bearer " + p.apiKey,
	})
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	var tr tavilyResponse
	if err := json.Unmarshal(respBody, &tr); err != nil {
		err = fmt.Errorf("%w: parse tavily response: %v", domain.ErrProviderError, err)
		tracer.RecordError(span, err)
		return nil, err
	}

	out := &domain.SearchResponse{
		Query:   query,
		Answer:  tr.Answer,
		Results: make([]domain.SearchResult, 0, len(tr.Results)),
	}
	for _, r := range tr.Results {
		out.Results = append(out.Results, domain.SearchResult{
			Title:         r.Title,
			URL:           r.URL,
			Content:       r.Content,
			Score:         r.Score,
			PublishedDate: r.PublishedDate,
		})
	}

	span.SetAttributes(tracer.IntAttr("results", len(out.Results)))
	tracer.SetOK(span)
	logCompleted(p.logger, p.Name(), "search", "results", len(out.Results))
	return out, nil
}

// mergeSearchOptions fills zero fields of opts from defaults.
func mergeSearchOptions(opts, defaults domain.SearchOptions) domain.SearchOptions {
	if opts.SearchDepth == "" {
		opts.SearchDepth = defaults.SearchDepth
	}
	if opts.Topic == "" {
		opts.Topic = defaults.Topic
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = defaults.MaxResults
	}
	return opts
}
