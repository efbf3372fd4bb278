package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"supplyintel/internal/domain"
	"supplyintel/internal/infra/config"
	"supplyintel/internal/infra/tracer"
)

// searxngResponse models the relevant portion of the SearXNG JSON response.
type searxngResponse struct {
	Results []struct {
		Title         string  `json:"title"`
		URL           string  `json:"url"`
		Content       string  `json:"content"`
		Score         float64 `json:"score"`
		PublishedDate string  `json:"publishedDate"`
	} `json:"results"`
	Answers []string `json:"answers"`
}

// SearXNG implements domain.SearchProvider on a self-hosted SearXNG instance.
type SearXNG struct {
	client      *http.Client
	instanceURL string
	defaults    domain.SearchOptions
	logger      *slog.Logger
}

// NewSearXNG creates a search provider backed by a SearXNG instance. The
// instance URL is required.
func NewSearXNG(cfg config.SearchConfig, logger *slog.Logger) (*SearXNG, error) {
	if cfg.BaseURL == "" {
		return nil, domain.NewSubSystemError("search", "provider.NewSearXNG", domain.ErrMissingConfig, "set SEARXNG_URL or search.base_url")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, domain.NewSubSystemError("search", "provider.NewSearXNG", domain.ErrMissingConfig, "invalid search.base_url")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &SearXNG{
		client:      &http.Client{Timeout: timeout},
		instanceURL: strings.TrimRight(cfg.BaseURL, "/"),
		defaults:    domain.SearchOptions{Topic: cfg.Topic, MaxResults: cfg.MaxResults},
		logger:      logger,
	}, nil
}

// Name implements domain.SearchProvider.
func (p *SearXNG) Name() string { return "searxng" }

// Search implements domain.SearchProvider.
func (p *SearXNG) Search(ctx context.Context, query string, opts domain.SearchOptions) (*domain.SearchResponse, error) {
	ctx, span := tracer.StartSpan(ctx, "provider.search",
		trace.WithAttributes(tracer.StringAttr("provider", p.Name())),
	)
	defer span.End()

	opts = mergeSearchOptions(opts, p.defaults)

	q := url.Values{}
	q.Set("q", query)
	q.Set("format", "json")
	q.Set("pageno", "1")
	if opts.Topic == "news" {
		q.Set("categories", "news")
		q.Set("time_range", "week")
	}

	respBody, err := doGetJSON(ctx, p.client, p.instanceURL+"/search?"+q.Encode(), nil)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	var sr searxngResponse
	if err := json.Unmarshal(respBody, &sr); err != nil {
		err = fmt.Errorf("%w: parse searxng response: %v", domain.ErrProviderError, err)
		tracer.RecordError(span, err)
		return nil, err
	}

	out := &domain.SearchResponse{Query: query, Results: make([]domain.SearchResult, 0, len(sr.Results))}
	if opts.IncludeAnswer && len(sr.Answers) > 0 {
		out.Answer = sr.Answers[0]
	}
	for _, r := range sr.Results {
		if opts.MaxResults > 0 && len(out.Results) >= opts.MaxResults {
			break
		}
		out.Results = append(out.Results, domain.SearchResult{
			Title:         r.Title,
			URL:           r.URL,
			Content:       r.Content,
			Score:         normalizeScore(r.Score),
			PublishedDate: r.PublishedDate,
		})
	}

	tracer.SetOK(span)
	logCompleted(p.logger, p.Name(), "search", "results", len(out.Results))
	return out, nil
}

// normalizeScore squashes SearXNG's unbounded engine score into [0,1).
func normalizeScore(s float64) float64 {
	if s <= 0 {
		return 0
	}
	return s / (s + 1)
}
