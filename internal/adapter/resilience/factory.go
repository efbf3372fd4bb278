package resilience

import (
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/time/rate"

	"supplyintel/internal/domain"
	"supplyintel/internal/infra/config"
	"supplyintel/internal/infra/metrics"
)

// Factory builds one shell per provider name and owns their caches and
// breakers. Construct it once and share it.
type Factory struct {
	cfg    config.ResilienceConfig
	l2     Store
	logger *slog.Logger

	mu          sync.Mutex
	completions map[string]*CompletionShell
	searches    map[string]*SearchShell
	breakers    map[string]*Breaker
	caches      map[string]*Cache
	onChange    StateChangeFunc
}

// NewFactory creates a factory. l2 may be nil.
func NewFactory(cfg config.ResilienceConfig, l2 Store, logger *slog.Logger) *Factory {
	return &Factory{
		cfg:         cfg,
		l2:          l2,
		logger:      logger,
		completions: make(map[string]*CompletionShell),
		searches:    make(map[string]*SearchShell),
		breakers:    make(map[string]*Breaker),
		caches:      make(map[string]*Cache),
	}
}

// OnBreakerChange registers fn on every current and future breaker.
func (f *Factory) OnBreakerChange(fn StateChangeFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onChange = fn
	for _, b := range f.breakers {
		b.OnStateChange(fn)
	}
}

// Completion returns the shell for p, creating it on first use.
func (f *Factory) Completion(p domain.CompletionProvider) *CompletionShell {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.completions[p.Name()]; ok {
		return s
	}
	retries := f.cfg.Structured.MaxRetries
	if retries < 0 {
		retries = 0
	}
	s := &CompletionShell{
		provider:          p,
		core:              f.newCoreLocked(p.Name()),
		gate:              DefaultQualityGate(),
		structuredRetries: retries,
	}
	f.completions[p.Name()] = s
	return s
}

// Search returns the shell for p, creating it on first use.
func (f *Factory) Search(p domain.SearchProvider) *SearchShell {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.searches[p.Name()]; ok {
		return s
	}
	s := &SearchShell{provider: p, core: f.newCoreLocked(p.Name())}
	f.searches[p.Name()] = s
	return s
}

func (f *Factory) newCoreLocked(name string) *core {
	log := f.logger.With("component", "resilience", "provider", name)

	b, ok := f.breakers[name]
	if !ok {
		b = NewBreaker(name, f.cfg.Breaker, log)
		if f.onChange != nil {
			b.OnStateChange(f.onChange)
		}
		f.breakers[name] = b
	}
	c, ok := f.caches[name]
	if !ok {
		c = NewCache(name, f.cfg.Cache, f.l2, log)
		f.caches[name] = c
	}

	var pacer *rate.Limiter
	if f.cfg.Pacing.RequestsPerSecond > 0 {
		burst := f.cfg.Pacing.Burst
		if burst <= 0 {
			burst = 1
		}
		pacer = rate.NewLimiter(rate.Limit(f.cfg.Pacing.RequestsPerSecond), burst)
	}
	return newCore(name, c, b, NewRetryer(f.cfg.Retry), pacer, log)
}

// Breakers returns a snapshot of every breaker, sorted by provider.
func (f *Factory) Breakers() []BreakerSnapshot {
	f.mu.Lock()
	snaps := make([]BreakerSnapshot, 0, len(f.breakers))
	for _, b := range f.breakers {
		snaps = append(snaps, b.Snapshot())
	}
	f.mu.Unlock()
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Provider < snaps[j].Provider })
	return snaps
}

// CacheSizes returns the fresh-entry count per provider cache.
func (f *Factory) CacheSizes() map[string]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	sizes := make(map[string]int, len(f.caches))
	for name, c := range f.caches {
		sizes[name] = c.Len()
	}
	return sizes
}

// PruneCaches evicts expired entries from every cache and returns the total evicted.
func (f *Factory) PruneCaches() int {
	f.mu.Lock()
	caches := make(map[string]*Cache, len(f.caches))
	for name, c := range f.caches {
		caches[name] = c
	}
	f.mu.Unlock()

	total := 0
	for name, c := range caches {
		total += c.Prune()
		metrics.SetCacheSize(name, c.Len())
	}
	return total
}
