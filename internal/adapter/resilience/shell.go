package resilience

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"supplyintel/internal/domain"
	"supplyintel/internal/infra/metrics"
	"supplyintel/internal/infra/tracer"
)

// Degrade reasons reported on fallback paths.
const (
	ReasonCircuitOpen      = "circuit_open"
	ReasonRetriesExhausted = "retries_exhausted"
	ReasonPermanentError   = "permanent_error"
	ReasonQualityRejected  = "quality_rejected"
	ReasonParseFailed      = "parse_failed"
	ReasonCancelled        = "cancelled"
)

// flightTimeout bounds a shared provider call once it is detached from its
// callers' contexts.
const flightTimeout = 2 * time.Minute

// outcome is the result of one pass through the shell core.
// body is nil when the caller must substitute its fallback.
type outcome struct {
	body   []byte
	source domain.ResponseSource
	reason string
}

// core is the cache, breaker, retry, and pacing pipeline shared by the
// completion and search shells.
type core struct {
	name    string
	cache   *Cache
	breaker *Breaker
	retry   *Retryer
	pacer   *rate.Limiter
	logger  *slog.Logger
	group   singleflight.Group
}

func newCore(name string, cache *Cache, breaker *Breaker, retry *Retryer, pacer *rate.Limiter, logger *slog.Logger) *core {
	c := &core{
		name:    name,
		cache:   cache,
		breaker: breaker,
		retry:   retry,
		pacer:   pacer,
		logger:  logger,
	}
	retry.OnRetry = func(attempt int, err error, delay time.Duration) {
		metrics.RecordRetry(name)
		logger.Debug("retrying provider call",
			"provider", name,
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)
	}
	return c
}

// do serves key from the cache, or runs call through the breaker and retry
// loop. call returns the accepted bytes to cache; an accept failure must be
// returned as an error so nothing invalid is cached.
func (c *core) do(ctx context.Context, key string, call func(ctx context.Context) ([]byte, error)) outcome {
	if body, ok := c.cache.Get(ctx, key); ok {
		metrics.RecordProviderCall(c.name, "cache_hit", 0)
		return outcome{body: body, source: domain.SourceCache}
	}

	// The flight is shared, so it must not die with the caller that started it.
	ch := c.group.DoChan(key, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flightTimeout)
		defer cancel()
		return c.fetch(fctx, key, call), nil
	})
	select {
	case res := <-ch:
		return res.Val.(outcome)
	case <-ctx.Done():
		return c.degrade(key, ReasonCancelled, ctx.Err())
	}
}

func (c *core) fetch(ctx context.Context, key string, call func(ctx context.Context) ([]byte, error)) outcome {
	if !c.breaker.Allowing() {
		return c.degrade(key, ReasonCircuitOpen, domain.ErrCircuitOpen)
	}

	body, err := Execute(c.breaker, func() ([]byte, error) {
		return Retry(ctx, c.retry, func(ctx context.Context) ([]byte, error) {
			if c.pacer != nil {
				if err := c.pacer.Wait(ctx); err != nil {
					return nil, err
				}
			}
			start := time.Now()
			out, err := call(ctx)
			status := "success"
			if err != nil {
				status = "error"
			}
			metrics.RecordProviderCall(c.name, status, time.Since(start))
			return out, err
		})
	})
	if err != nil {
		return c.degrade(key, degradeReason(err), err)
	}

	c.cache.Set(ctx, key, body)
	metrics.SetCacheSize(c.name, c.cache.Len())
	return outcome{body: body, source: domain.SourceProvider}
}

// degrade returns a stale copy when one exists, or an empty outcome for the
// caller's template fallback.
func (c *core) degrade(key, reason string, err error) outcome {
	metrics.RecordDegraded(c.name, reason)
	if body, ok := c.cache.GetStale(key); ok {
		c.logger.Warn("serving stale response",
			"provider", c.name,
			"mode", "degraded",
			"reason", reason,
			"error", err,
		)
		return outcome{body: body, source: domain.SourceStale, reason: reason}
	}
	c.logger.Warn("serving fallback response",
		"provider", c.name,
		"mode", "degraded",
		"reason", reason,
		"error", err,
	)
	return outcome{source: domain.SourceFallback, reason: reason}
}

func degradeReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrCircuitOpen):
		return ReasonCircuitOpen
	case errors.Is(err, domain.ErrQualityRejected):
		return ReasonQualityRejected
	case errors.Is(err, domain.ErrParse):
		return ReasonParseFailed
	case errors.Is(err, ErrRetriesExhausted):
		return ReasonRetriesExhausted
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ReasonCancelled
	default:
		return ReasonPermanentError
	}
}

var (
	_ domain.ResilientCompleter = (*CompletionShell)(nil)
	_ domain.ResilientSearcher  = (*SearchShell)(nil)
)

// CompletionShell wraps a completion provider with the resilience pipeline.
type CompletionShell struct {
	provider          domain.CompletionProvider
	core              *core
	gate              QualityGate
	structuredRetries int
}

// Name returns the wrapped provider's name.
func (s *CompletionShell) Name() string { return s.provider.Name() }

// Generate returns provider text that passed the quality gate, a cached or
// stale copy, or templated fallback text. The error is non-nil only for an
// empty prompt.
func (s *CompletionShell) Generate(ctx context.Context, prompt, systemContext string, opts domain.GenerationOptions) (domain.Completion, error) {
	if strings.TrimSpace(prompt) == "" {
		return domain.Completion{}, domain.NewDomainError("CompletionShell.Generate", domain.ErrInvalidInput, "empty prompt")
	}
	ctx, span := tracer.StartSpan(ctx, "shell.generate",
		trace.WithAttributes(tracer.StringAttr("provider", s.provider.Name())),
	)
	defer span.End()

	key := CacheKey("text", s.provider.Name(), prompt, systemContext, optionsKey(opts))
	out := s.core.do(ctx, key, func(ctx context.Context) ([]byte, error) {
		text, err := s.provider.Generate(ctx, prompt, systemContext, opts)
		if err != nil {
			return nil, err
		}
		if err := s.gate.Check(text); err != nil {
			return nil, err
		}
		return []byte(strings.TrimSpace(text)), nil
	})

	span.SetAttributes(tracer.StringAttr("source", string(out.source)))
	if out.body == nil {
		return domain.Completion{Text: FallbackText(), Source: domain.SourceFallback, Reason: out.reason}, nil
	}
	return domain.Completion{Text: string(out.body), Source: out.source, Reason: out.reason}, nil
}

// correctiveNotes are appended to the prompt when a structured round trip
// is rejected for a reason the model can fix.
var correctiveNotes = map[string]string{
	ReasonParseFailed:     "Your previous answer was not a valid JSON document for the required schema. Reply with the JSON object only.",
	ReasonQualityRejected: "Your previous answer contained placeholder or filler text. Reply with a complete JSON object using real values.",
}

// GenerateStructured asks for a JSON document matching req.Schema. The raw
// reply goes through the quality gate before extraction and validation. A
// round trip rejected by either step is retried with a corrective note; any
// other failure stops at once. When no valid document is obtained the
// marshaled req.Fallback is returned.
func (s *CompletionShell) GenerateStructured(ctx context.Context, req domain.StructuredRequest) (domain.StructuredResult, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return domain.StructuredResult{}, domain.NewDomainError("CompletionShell.GenerateStructured", domain.ErrInvalidInput, "empty prompt")
	}
	ctx, span := tracer.StartSpan(ctx, "shell.generate_structured",
		trace.WithAttributes(tracer.StringAttr("provider", s.provider.Name())),
	)
	defer span.End()

	opts := req.Options
	if opts.ResponseMIMEType == "" {
		opts.ResponseMIMEType = "application/json"
	}
	system := strings.TrimSpace(req.SystemContext + "\n\n" + schemaInstruction(req.Schema))
	accept := structuredAccept(req.Schema)
	schemaKey := ""
	if req.Schema != nil {
		schemaKey = string(req.Schema.Raw())
	}

	var last outcome
	attempts := 0
	prompt := req.Prompt
	for attempt := 0; attempt <= s.structuredRetries; attempt++ {
		attempts++
		key := CacheKey("json", s.provider.Name(), prompt, system, optionsKey(opts), schemaKey)
		p := prompt
		last = s.core.do(ctx, key, func(ctx context.Context) ([]byte, error) {
			text, err := s.provider.Generate(ctx, p, system, opts)
			if err != nil {
				return nil, err
			}
			if err := s.gate.Check(text); err != nil {
				return nil, err
			}
			return accept(text)
		})
		if last.body != nil {
			break
		}
		note, ok := correctiveNotes[last.reason]
		if !ok {
			break
		}
		prompt = req.Prompt + "\n\n" + note
	}

	span.SetAttributes(
		tracer.StringAttr("source", string(last.source)),
		tracer.IntAttr("attempts", attempts),
	)
	if last.body != nil {
		return domain.StructuredResult{JSON: last.body, Source: last.source, Reason: last.reason, Attempts: attempts}, nil
	}
	return domain.StructuredResult{JSON: marshalFallback(req.Fallback), Source: domain.SourceFallback, Reason: last.reason, Attempts: attempts}, nil
}

// Breaker exposes the shell's breaker for health reporting.
func (s *CompletionShell) Breaker() *Breaker { return s.core.breaker }

// SearchShell wraps a search provider with the resilience pipeline.
type SearchShell struct {
	provider domain.SearchProvider
	core     *core
}

// Name returns the wrapped provider's name.
func (s *SearchShell) Name() string { return s.provider.Name() }

// Search returns provider results, a cached or stale copy, or an empty
// response marked Degraded. The error is non-nil only for an empty query.
func (s *SearchShell) Search(ctx context.Context, query string, opts domain.SearchOptions) (*domain.SearchResponse, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, domain.NewDomainError("SearchShell.Search", domain.ErrInvalidInput, "empty query")
	}
	ctx, span := tracer.StartSpan(ctx, "shell.search",
		trace.WithAttributes(tracer.StringAttr("provider", s.provider.Name())),
	)
	defer span.End()

	key := CacheKey("search", s.provider.Name(), query, opts.SearchDepth, opts.Topic,
		fmt.Sprint(opts.MaxResults), fmt.Sprint(opts.IncludeAnswer))
	out := s.core.do(ctx, key, func(ctx context.Context) ([]byte, error) {
		resp, err := s.provider.Search(ctx, query, opts)
		if err != nil {
			return nil, err
		}
		if resp == nil {
			return nil, fmt.Errorf("%w: empty search response", domain.ErrProviderError)
		}
		return json.Marshal(resp)
	})

	span.SetAttributes(tracer.StringAttr("source", string(out.source)))
	if out.body == nil {
		return FallbackSearch(query), nil
	}
	var resp domain.SearchResponse
	if err := json.Unmarshal(out.body, &resp); err != nil {
		return FallbackSearch(query), nil
	}
	if out.source == domain.SourceStale {
		resp.Degraded = true
	}
	return &resp, nil
}

// Breaker exposes the shell's breaker for health reporting.
func (s *SearchShell) Breaker() *Breaker { return s.core.breaker }

func optionsKey(o domain.GenerationOptions) string {
	return fmt.Sprintf("t=%.3f|m=%d|p=%.3f|k=%.1f|mime=%s", o.Temperature, o.MaxOutputTokens, o.TopP, o.TopK, o.ResponseMIMEType)
}
