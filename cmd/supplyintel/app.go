package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"supplyintel/internal/adapter/gateway"
	"supplyintel/internal/adapter/history"
	"supplyintel/internal/adapter/provider"
	"supplyintel/internal/adapter/resilience"
	"supplyintel/internal/domain"
	"supplyintel/internal/infra/config"
	"supplyintel/internal/usecase/agent"
	"supplyintel/internal/usecase/confidence"
	"supplyintel/internal/usecase/coordinator"
	"supplyintel/internal/usecase/eventbus"
	"supplyintel/internal/usecase/scheduling"
)

// app holds the wired components and their shutdown order.
type app struct {
	completion  domain.CompletionProvider
	search      domain.SearchProvider
	redis       *resilience.RedisStore // nil when disabled
	factory     *resilience.Factory
	bus         *eventbus.Bus
	history     *history.SQLiteStore // nil when disabled
	coordinator *coordinator.Coordinator
	scheduler   *scheduling.Scheduler // nil when watch is disabled
	gateway     *gateway.Server
}

func buildApp(ctx context.Context, cfg *config.Config, log *slog.Logger) (*app, error) {
	a := &app{}

	// 1. Providers. Missing credentials fail here.
	var err error
	a.completion, err = provider.NewCompletion(cfg.Completion, log)
	if err != nil {
		return nil, fmt.Errorf("completion provider: %w", err)
	}
	a.search, err = provider.NewSearch(cfg.Search, log)
	if err != nil {
		return nil, fmt.Errorf("search provider: %w", err)
	}

	// 2. Event bus
	a.bus = eventbus.New(log)

	// 3. Resilience shell, with an optional shared L2 cache.
	var l2 resilience.Store
	if cfg.Resilience.Redis.Enabled {
		store, err := resilience.NewRedisStore(ctx, cfg.Resilience.Redis)
		if err != nil {
			log.Warn("redis cache unavailable, using in-process cache only", "addr", cfg.Resilience.Redis.Addr, "error", err)
		} else {
			a.redis = store
			l2 = store
		}
	}
	a.factory = resilience.NewFactory(cfg.Resilience, l2, log)
	// The breaker updates its own gauge; this only forwards the transition.
	a.factory.OnBreakerChange(func(name, from, to string) {
		a.bus.Publish(context.Background(), domain.NewEvent(domain.EventBreakerStateChanged, "", map[string]string{
			"provider": name,
			"from":     from,
			"to":       to,
		}))
	})
	completer := a.factory.Completion(a.completion)
	searcher := a.factory.Search(a.search)

	// 4. Agents
	registry := agent.NewDefaultRegistry(completer, searcher, cfg.Agents, log)

	// 5. History
	opts := []coordinator.Option{coordinator.WithEventBus(a.bus)}
	if cfg.History.Enabled {
		store, err := history.Open(cfg.History.Path)
		if err != nil {
			a.Close(ctx)
			return nil, fmt.Errorf("history: %w", err)
		}
		a.history = store
		opts = append(opts, coordinator.WithHistory(a.history))
	}

	// 6. Coordinator
	a.coordinator = coordinator.New(registry, completer, cfg.Agents, log, opts...)

	// 7. Watch scheduler
	if cfg.Watch.Enabled {
		a.scheduler = scheduling.NewScheduler(a.bus, log)
		a.scheduler.RegisterAction(scheduling.ActionWatchQuery, scheduling.WatchQuery(a.coordinator))
		a.scheduler.RegisterAction(scheduling.ActionCachePrune, scheduling.CachePrune(a.factory))
		if a.history != nil {
			a.scheduler.RegisterAction(scheduling.ActionHistoryPrune,
				scheduling.HistoryPrune(a.history, cfg.History.Retention, nil))
		}
		if err := a.scheduler.LoadConfig(cfg.Watch); err != nil {
			a.Close(ctx)
			return nil, fmt.Errorf("watch: %w", err)
		}
	}

	// 8. Gateway
	deps := gateway.HandlerDeps{
		Coordinator: a.coordinator,
		Scorer:      confidence.New(),
		Shells:      a.factory,
		Feeds:       a.bus,
		Version:     version,
	}
	if a.history != nil {
		deps.History = a.history
	}
	if a.scheduler != nil {
		deps.Scheduler = a.scheduler
	}
	a.gateway = gateway.NewServer(cfg.Gateway, deps, log)
	return a, nil
}

// Close stops components in reverse start order and joins their errors.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.gateway != nil {
		errs = append(errs, a.gateway.Stop(ctx))
	}
	if a.scheduler != nil {
		errs = append(errs, a.scheduler.Stop())
	}
	if a.bus != nil {
		a.bus.Close()
	}
	if a.history != nil {
		errs = append(errs, a.history.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	return errors.Join(errs...)
}
