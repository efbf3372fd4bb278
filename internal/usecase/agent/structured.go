package agent

import (
	"context"
	"encoding/json"

	"supplyintel/internal/domain"
)

// Confidence inputs for agent results.
const (
	fallbackConfidence = 25
	stalePenalty       = 15
	retryPenalty       = 5
)

// generateInto runs a structured completion and decodes it into T. A result
// that does not decode is replaced by fallback and reported as degraded.
func generateInto[T any](ctx context.Context, c domain.ResilientCompleter, req domain.StructuredRequest, fallback T) (T, domain.StructuredResult, error) {
	req.Fallback = fallback
	res, err := c.GenerateStructured(ctx, req)
	if err != nil {
		return fallback, res, err
	}
	if res.Source == domain.SourceFallback {
		return fallback, res, nil
	}
	var out T
	if err := json.Unmarshal(res.JSON, &out); err != nil {
		res.Source = domain.SourceFallback
		res.Reason = "decode_failed"
		return fallback, res, nil
	}
	return out, res, nil
}

// scoreConfidence adjusts a role's base confidence by how many data points
// the response carried and how it was obtained.
func scoreConfidence(base float64, dataPoints int, source domain.ResponseSource, attempts int) float64 {
	if source == domain.SourceFallback {
		return fallbackConfidence
	}
	c := base
	switch {
	case dataPoints == 0:
		c -= 20
	case dataPoints < 3:
		c -= 10
	case dataPoints >= 5:
		c += 10
	}
	if source == domain.SourceStale {
		c -= stalePenalty
	}
	if attempts > 1 {
		c -= float64(attempts-1) * retryPenalty
	}
	return domain.ClampConfidence(c)
}

// structuredOptions are the generation options for schema-bound calls.
func structuredOptions() domain.GenerationOptions {
	opts := domain.DefaultGenerationOptions()
	opts.Temperature = 0.4
	opts.ResponseMIMEType = "application/json"
	return opts
}
