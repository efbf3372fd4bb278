package provider

import (
	"fmt"
	"log/slog"

	"supplyintel/internal/domain"
	"supplyintel/internal/infra/config"
)

// NewCompletion builds the completion provider named by cfg.Backend.
func NewCompletion(cfg config.CompletionConfig, logger *slog.Logger) (domain.CompletionProvider, error) {
	switch cfg.Backend {
	case "gemini", "":
		return NewGemini(cfg, logger)
	case "bedrock":
		return NewBedrock(cfg, logger)
	default:
		return nil, domain.NewSubSystemError("completion", "provider.NewCompletion", domain.ErrInvalidInput,
			fmt.Sprintf("unknown backend %q", cfg.Backend))
	}
}

// NewSearch builds the search provider named by cfg.Backend.
func NewSearch(cfg config.SearchConfig, logger *slog.Logger) (domain.SearchProvider, error) {
	switch cfg.Backend {
	case "tavily", "":
		return NewTavily(cfg, logger)
	case "searxng":
		return NewSearXNG(cfg, logger)
	default:
		return nil, domain.NewSubSystemError("search", "provider.NewSearch", domain.ErrInvalidInput,
			fmt.Sprintf("unknown backend %q", cfg.Backend))
	}
}
