package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"supplyintel/internal/domain"
	"supplyintel/internal/infra/config"
	"supplyintel/internal/infra/schema"
)

type testDoc struct {
	Name  string   `json:"name" jsonschema:"required"`
	Score float64  `json:"score" jsonschema:"minimum=0,maximum=100"`
	Tags  []string `json:"tags,omitempty"`
}

type fakeCompletion struct {
	name  string
	calls atomic.Int32
	fn    func(ctx context.Context, prompt, system string, opts domain.GenerationOptions) (string, error)
}

func (f *fakeCompletion) Name() string { return f.name }

func (f *fakeCompletion) Generate(ctx context.Context, prompt, system string, opts domain.GenerationOptions) (string, error) {
	f.calls.Add(1)
	return f.fn(ctx, prompt, system, opts)
}

type fakeSearch struct {
	name  string
	calls atomic.Int32
	fn    func(ctx context.Context, query string, opts domain.SearchOptions) (*domain.SearchResponse, error)
}

func (f *fakeSearch) Name() string { return f.name }

func (f *fakeSearch) Search(ctx context.Context, query string, opts domain.SearchOptions) (*domain.SearchResponse, error) {
	f.calls.Add(1)
	return f.fn(ctx, query, opts)
}

func testResilienceConfig() config.ResilienceConfig {
	return config.ResilienceConfig{
		Cache:      config.CacheConfig{TTL: time.Minute, MaxEntries: 10},
		Retry:      config.RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
		Breaker:    config.BreakerConfig{FailureThreshold: 2, ResetTimeout: time.Minute},
		Structured: config.StructuredConfig{MaxRetries: 2},
	}
}

func noSleep(s *core) {
	s.retry.sleep = func(context.Context, time.Duration) error { return nil }
}

const goodText = "Port congestion in Rotterdam raises lead times by four days."

func TestCompletionShellCachesIdenticalCalls(t *testing.T) {
	p := &fakeCompletion{name: "cache-test", fn: func(context.Context, string, string, domain.GenerationOptions) (string, error) {
		return goodText, nil
	}}
	shell := NewFactory(testResilienceConfig(), nil, discardLogger()).Completion(p)
	ctx := context.Background()
	opts := domain.DefaultGenerationOptions()

	first, err := shell.Generate(ctx, "assess risk", "sys", opts)
	require.NoError(t, err)
	assert.Equal(t, domain.SourceProvider, first.Source)
	assert.Equal(t, goodText, first.Text)

	second, err := shell.Generate(ctx, "assess risk", "sys", opts)
	require.NoError(t, err)
	assert.Equal(t, domain.SourceCache, second.Source)
	assert.Equal(t, first.Text, second.Text)
	assert.Equal(t, int32(1), p.calls.Load())

	opts.Temperature = 0.1
	_, err = shell.Generate(ctx, "assess risk", "sys", opts)
	require.NoError(t, err)
	assert.Equal(t, int32(2), p.calls.Load(), "different options are a different key")
}

func TestCompletionShellSingleflight(t *testing.T) {
	release := make(chan struct{})
	p := &fakeCompletion{name: "sf-test", fn: func(context.Context, string, string, domain.GenerationOptions) (string, error) {
		<-release
		return goodText, nil
	}}
	shell := NewFactory(testResilienceConfig(), nil, discardLogger()).Completion(p)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := shell.Generate(context.Background(), "same", "", domain.GenerationOptions{})
			assert.NoError(t, err)
			assert.Equal(t, goodText, c.Text)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), p.calls.Load())
}

func TestCompletionShellSharedCallOutlivesCancelledCaller(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	p := &fakeCompletion{name: "sf-cancel", fn: func(ctx context.Context, _, _ string, _ domain.GenerationOptions) (string, error) {
		once.Do(func() { close(started) })
		select {
		case <-release:
			return goodText, nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}}
	shell := NewFactory(testResilienceConfig(), nil, discardLogger()).Completion(p)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	first := make(chan domain.Completion, 1)
	go func() {
		c, _ := shell.Generate(firstCtx, "same", "", domain.GenerationOptions{})
		first <- c
	}()
	<-started

	second := make(chan domain.Completion, 1)
	go func() {
		c, _ := shell.Generate(context.Background(), "same", "", domain.GenerationOptions{})
		second <- c
	}()
	time.Sleep(50 * time.Millisecond)

	cancelFirst()
	got := <-first
	assert.Equal(t, domain.SourceFallback, got.Source)
	assert.Equal(t, ReasonCancelled, got.Reason)

	close(release)
	got = <-second
	assert.Equal(t, domain.SourceProvider, got.Source)
	assert.Equal(t, goodText, got.Text)
	assert.Equal(t, int32(1), p.calls.Load())

	cached, err := shell.Generate(context.Background(), "same", "", domain.GenerationOptions{})
	require.NoError(t, err)
	assert.Equal(t, domain.SourceCache, cached.Source)
}

func TestCompletionShellRetriesTransient(t *testing.T) {
	p := &fakeCompletion{name: "retry-test"}
	p.fn = func(context.Context, string, string, domain.GenerationOptions) (string, error) {
		if p.calls.Load() < 3 {
			return "", fmt.Errorf("%w: API error 429: slow down", domain.ErrRateLimit)
		}
		return goodText, nil
	}
	shell := NewFactory(testResilienceConfig(), nil, discardLogger()).Completion(p)
	noSleep(shell.core)

	c, err := shell.Generate(context.Background(), "q", "", domain.GenerationOptions{})
	require.NoError(t, err)
	assert.Equal(t, domain.SourceProvider, c.Source)
	assert.False(t, c.Degraded())
	assert.Equal(t, int32(3), p.calls.Load())
	assert.Equal(t, StateClosed, shell.Breaker().State())
}

func TestCompletionShellPermanentErrorFallsBack(t *testing.T) {
	p := &fakeCompletion{name: "perm-test", fn: func(context.Context, string, string, domain.GenerationOptions) (string, error) {
		return "", fmt.Errorf("%w: bad key", domain.ErrAuthInvalid)
	}}
	shell := NewFactory(testResilienceConfig(), nil, discardLogger()).Completion(p)
	noSleep(shell.core)

	c, err := shell.Generate(context.Background(), "q", "", domain.GenerationOptions{})
	require.NoError(t, err)
	assert.Equal(t, domain.SourceFallback, c.Source)
	assert.Equal(t, ReasonPermanentError, c.Reason)
	assert.Equal(t, FallbackText(), c.Text)
	assert.True(t, c.Degraded())
	assert.Equal(t, int32(1), p.calls.Load(), "permanent errors are not retried")
}

func TestCompletionShellCircuitOpenSkipsProvider(t *testing.T) {
	p := &fakeCompletion{name: "open-test", fn: func(context.Context, string, string, domain.GenerationOptions) (string, error) {
		return "", errors.New("API error 500: internal")
	}}
	shell := NewFactory(testResilienceConfig(), nil, discardLogger()).Completion(p)
	noSleep(shell.core)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		c, err := shell.Generate(ctx, "q", "", domain.GenerationOptions{})
		require.NoError(t, err)
		assert.Equal(t, ReasonPermanentError, c.Reason)
	}
	require.Equal(t, StateOpen, shell.Breaker().State())

	c, err := shell.Generate(ctx, "q", "", domain.GenerationOptions{})
	require.NoError(t, err)
	assert.Equal(t, domain.SourceFallback, c.Source)
	assert.Equal(t, ReasonCircuitOpen, c.Reason)
	assert.Equal(t, int32(2), p.calls.Load())
}

func TestCompletionShellExhaustedRetriesServeStale(t *testing.T) {
	var fail atomic.Bool
	p := &fakeCompletion{name: "stale-test", fn: func(context.Context, string, string, domain.GenerationOptions) (string, error) {
		if fail.Load() {
			return "", domain.ErrTimeout
		}
		return goodText, nil
	}}
	shell := NewFactory(testResilienceConfig(), nil, discardLogger()).Completion(p)
	noSleep(shell.core)
	clock := newFakeClock()
	shell.core.cache.now = clock.Now
	ctx := context.Background()

	_, err := shell.Generate(ctx, "q", "", domain.GenerationOptions{})
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	fail.Store(true)

	c, err := shell.Generate(ctx, "q", "", domain.GenerationOptions{})
	require.NoError(t, err)
	assert.Equal(t, domain.SourceStale, c.Source)
	assert.Equal(t, ReasonRetriesExhausted, c.Reason)
	assert.Equal(t, goodText, c.Text)
	assert.Equal(t, int32(4), p.calls.Load(), "one success then three failed attempts")
	assert.Equal(t, uint32(1), shell.Breaker().Snapshot().Failures, "one exhausted loop is one breaker failure")
}

func TestCompletionShellQualityRejectionIsNotCached(t *testing.T) {
	p := &fakeCompletion{name: "quality-test", fn: func(context.Context, string, string, domain.GenerationOptions) (string, error) {
		return "Lorem ipsum dolor sit amet, consectetur adipiscing.", nil
	}}
	shell := NewFactory(testResilienceConfig(), nil, discardLogger()).Completion(p)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		c, err := shell.Generate(ctx, "q", "", domain.GenerationOptions{})
		require.NoError(t, err)
		assert.Equal(t, domain.SourceFallback, c.Source)
		assert.Equal(t, ReasonQualityRejected, c.Reason)
	}
	assert.Equal(t, int32(2), p.calls.Load())
	assert.Equal(t, StateClosed, shell.Breaker().State())
	assert.Zero(t, shell.Breaker().Snapshot().Failures)
}

func TestCompletionShellRejectsEmptyPrompt(t *testing.T) {
	p := &fakeCompletion{name: "empty-test"}
	shell := NewFactory(testResilienceConfig(), nil, discardLogger()).Completion(p)

	_, err := shell.Generate(context.Background(), "   ", "", domain.GenerationOptions{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = shell.GenerateStructured(context.Background(), domain.StructuredRequest{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Zero(t, p.calls.Load())
}

func TestGenerateStructuredRetriesParseFailures(t *testing.T) {
	p := &fakeCompletion{name: "structured-retry"}
	var seenMIME string
	p.fn = func(_ context.Context, prompt, system string, opts domain.GenerationOptions) (string, error) {
		seenMIME = opts.ResponseMIMEType
		if p.calls.Load() == 1 {
			return "I think the risk is moderate.", nil
		}
		return "```json\n{\"name\": \"port\", \"score\": 55}\n```", nil
	}
	shell := NewFactory(testResilienceConfig(), nil, discardLogger()).Completion(p)

	res, err := shell.GenerateStructured(context.Background(), domain.StructuredRequest{
		Prompt:   "rate the port",
		Schema:   schema.Must(&testDoc{}),
		Fallback: testDoc{Name: "unknown"},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.SourceProvider, res.Source)
	assert.Equal(t, 2, res.Attempts)
	assert.JSONEq(t, `{"name":"port","score":55}`, string(res.JSON))
	assert.Equal(t, "application/json", seenMIME)
	assert.False(t, res.Degraded())
}

func TestGenerateStructuredFallsBackAfterRetries(t *testing.T) {
	p := &fakeCompletion{name: "structured-fallback", fn: func(context.Context, string, string, domain.GenerationOptions) (string, error) {
		return `{"score": 500}`, nil
	}}
	shell := NewFactory(testResilienceConfig(), nil, discardLogger()).Completion(p)

	res, err := shell.GenerateStructured(context.Background(), domain.StructuredRequest{
		Prompt:   "rate the port",
		Schema:   schema.Must(&testDoc{}),
		Fallback: testDoc{Name: "unknown"},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.SourceFallback, res.Source)
	assert.Equal(t, ReasonParseFailed, res.Reason)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, int32(3), p.calls.Load())
	assert.JSONEq(t, `{"name":"unknown","score":0}`, string(res.JSON))
}

func TestGenerateStructuredRejectsPlaceholderJSON(t *testing.T) {
	p := &fakeCompletion{name: "structured-placeholder", fn: func(context.Context, string, string, domain.GenerationOptions) (string, error) {
		return `{"name": "[insert port name here]", "score": 40}`, nil
	}}
	shell := NewFactory(testResilienceConfig(), nil, discardLogger()).Completion(p)
	req := domain.StructuredRequest{
		Prompt:   "rate the port",
		Schema:   schema.Must(&testDoc{}),
		Fallback: testDoc{Name: "unknown"},
	}

	res, err := shell.GenerateStructured(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, domain.SourceFallback, res.Source)
	assert.Equal(t, ReasonQualityRejected, res.Reason)
	assert.Equal(t, 3, res.Attempts)
	assert.JSONEq(t, `{"name":"unknown","score":0}`, string(res.JSON))

	// Nothing was cached, so the next call reaches the provider again.
	_, err = shell.GenerateStructured(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int32(6), p.calls.Load())
}

func TestGenerateStructuredRetriesAfterPlaceholder(t *testing.T) {
	p := &fakeCompletion{name: "structured-placeholder-retry"}
	var lastPrompt string
	p.fn = func(_ context.Context, prompt, _ string, _ domain.GenerationOptions) (string, error) {
		lastPrompt = prompt
		if p.calls.Load() == 1 {
			return `{"name": "lorem ipsum dolor", "score": 10}`, nil
		}
		return `{"name": "rotterdam", "score": 62}`, nil
	}
	shell := NewFactory(testResilienceConfig(), nil, discardLogger()).Completion(p)

	res, err := shell.GenerateStructured(context.Background(), domain.StructuredRequest{
		Prompt: "rate the port",
		Schema: schema.Must(&testDoc{}),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.SourceProvider, res.Source)
	assert.Equal(t, 2, res.Attempts)
	assert.JSONEq(t, `{"name":"rotterdam","score":62}`, string(res.JSON))
	assert.Contains(t, lastPrompt, "placeholder or filler text")
}

func TestGenerateStructuredStopsOnProviderFailure(t *testing.T) {
	p := &fakeCompletion{name: "structured-down", fn: func(context.Context, string, string, domain.GenerationOptions) (string, error) {
		return "", domain.ErrAuthInvalid
	}}
	shell := NewFactory(testResilienceConfig(), nil, discardLogger()).Completion(p)

	res, err := shell.GenerateStructured(context.Background(), domain.StructuredRequest{
		Prompt: "rate the port",
		Schema: schema.Must(&testDoc{}),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.SourceFallback, res.Source)
	assert.Equal(t, 1, res.Attempts)
	assert.JSONEq(t, `{}`, string(res.JSON))
}

func TestSearchShell(t *testing.T) {
	p := &fakeSearch{name: "search-test", fn: func(_ context.Context, q string, _ domain.SearchOptions) (*domain.SearchResponse, error) {
		return &domain.SearchResponse{Query: q, Results: []domain.SearchResult{{Title: "Port strike", Score: 0.9}}}, nil
	}}
	shell := NewFactory(testResilienceConfig(), nil, discardLogger()).Search(p)
	ctx := context.Background()

	resp, err := shell.Search(ctx, "port strike", domain.SearchOptions{MaxResults: 5})
	require.NoError(t, err)
	assert.False(t, resp.Degraded)
	require.Len(t, resp.Results, 1)

	_, err = shell.Search(ctx, "port strike", domain.SearchOptions{MaxResults: 5})
	require.NoError(t, err)
	assert.Equal(t, int32(1), p.calls.Load())

	_, err = shell.Search(ctx, "", domain.SearchOptions{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestSearchShellFallback(t *testing.T) {
	p := &fakeSearch{name: "search-down", fn: func(context.Context, string, domain.SearchOptions) (*domain.SearchResponse, error) {
		return nil, fmt.Errorf("%w: API error 401: bad key", domain.ErrAuthInvalid)
	}}
	shell := NewFactory(testResilienceConfig(), nil, discardLogger()).Search(p)

	resp, err := shell.Search(context.Background(), "port strike", domain.SearchOptions{})
	require.NoError(t, err)
	assert.True(t, resp.Degraded)
	assert.Empty(t, resp.Results)
	assert.Equal(t, "port strike", resp.Query)
}

func TestFactoryMemoizesShells(t *testing.T) {
	f := NewFactory(testResilienceConfig(), nil, discardLogger())
	p := &fakeCompletion{name: "memo", fn: func(context.Context, string, string, domain.GenerationOptions) (string, error) {
		return goodText, nil
	}}
	s := &fakeSearch{name: "memo-search", fn: func(context.Context, string, domain.SearchOptions) (*domain.SearchResponse, error) {
		return &domain.SearchResponse{}, nil
	}}

	assert.Same(t, f.Completion(p), f.Completion(p))
	assert.Same(t, f.Search(s), f.Search(s))

	snaps := f.Breakers()
	require.Len(t, snaps, 2)
	assert.Equal(t, "memo", snaps[0].Provider)
	assert.Equal(t, "memo-search", snaps[1].Provider)

	_, err := f.Completion(p).Generate(context.Background(), "q", "", domain.GenerationOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, f.CacheSizes()["memo"])
	assert.Zero(t, f.PruneCaches())
}

func TestFactoryBreakerCallback(t *testing.T) {
	f := NewFactory(testResilienceConfig(), nil, discardLogger())
	var changes atomic.Int32
	f.OnBreakerChange(func(string, string, string) { changes.Add(1) })

	p := &fakeCompletion{name: "cb-test", fn: func(context.Context, string, string, domain.GenerationOptions) (string, error) {
		return "", domain.ErrAuthInvalid
	}}
	shell := f.Completion(p)
	for i := 0; i < 2; i++ {
		_, _ = shell.Generate(context.Background(), "q", "", domain.GenerationOptions{})
	}
	assert.Equal(t, int32(1), changes.Load())
}
