package config

import (
	"fmt"
	"net"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
//
// Credentials are not checked here; provider constructors fail fast on them so
// commands that never touch a provider (encrypt, version) still run.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateCompletion(cfg, ve)
	validateSearch(cfg, ve)
	validateResilience(cfg, ve)
	validateAgents(cfg, ve)
	validateGateway(cfg, ve)
	validateHistory(cfg, ve)
	validateWatch(cfg, ve)
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

var (
	validCompletionBackends = map[string]bool{"gemini": true, "bedrock": true}
	validSearchBackends     = map[string]bool{"tavily": true, "searxng": true}
	validWatchActions       = map[string]bool{"watch_query": true, "history_prune": true, "cache_prune": true}
	validLogLevels          = map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}
)

func validateCompletion(cfg *Config, ve *ValidationError) {
	c := cfg.Completion
	if !validCompletionBackends[c.Backend] {
		ve.Add("completion.backend %q is invalid (want: gemini, bedrock)", c.Backend)
	}
	if c.Model == "" {
		ve.Add("completion.model must not be empty")
	}
	if c.Timeout <= 0 {
		ve.Add("completion.timeout must be > 0")
	}
}

func validateSearch(cfg *Config, ve *ValidationError) {
	s := cfg.Search
	if !validSearchBackends[s.Backend] {
		ve.Add("search.backend %q is invalid (want: tavily, searxng)", s.Backend)
	}
	if s.MaxResults <= 0 || s.MaxResults > 50 {
		ve.Add("search.max_results must be in 1..50")
	}
	if s.SearchDepth != "basic" && s.SearchDepth != "advanced" {
		ve.Add("search.search_depth %q is invalid (want: basic, advanced)", s.SearchDepth)
	}
	if s.Timeout <= 0 {
		ve.Add("search.timeout must be > 0")
	}
}

func validateResilience(cfg *Config, ve *ValidationError) {
	r := cfg.Resilience
	if r.Cache.TTL <= 0 {
		ve.Add("resilience.cache.ttl must be > 0")
	}
	if r.Cache.MaxEntries <= 0 {
		ve.Add("resilience.cache.max_entries must be > 0")
	}
	if r.Retry.MaxAttempts < 1 {
		ve.Add("resilience.retry.max_attempts must be >= 1")
	}
	if r.Retry.BaseDelay < 0 {
		ve.Add("resilience.retry.base_delay must be >= 0")
	}
	if r.Breaker.FailureThreshold == 0 {
		ve.Add("resilience.breaker.failure_threshold must be > 0")
	}
	if r.Breaker.ResetTimeout <= 0 {
		ve.Add("resilience.breaker.reset_timeout must be > 0")
	}
	if r.Pacing.RequestsPerSecond < 0 {
		ve.Add("resilience.pacing.requests_per_second must be >= 0")
	}
	if r.Redis.Enabled && r.Redis.Addr == "" {
		ve.Add("resilience.redis.addr is required when redis is enabled")
	}
	if r.Structured.MaxRetries < 0 {
		ve.Add("resilience.structured.max_retries must be >= 0")
	}
}

func validateAgents(cfg *Config, ve *ValidationError) {
	a := cfg.Agents
	if a.HistoryTurns < 0 {
		ve.Add("agents.history_turns must be >= 0")
	}
	if a.DigestMaxChars <= 0 {
		ve.Add("agents.digest_max_chars must be > 0")
	}
	if a.SynthesisMaxChars <= 0 {
		ve.Add("agents.synthesis_max_chars must be > 0")
	}
	if a.MaxActions <= 0 {
		ve.Add("agents.max_actions must be > 0")
	}
}

func validateGateway(cfg *Config, ve *ValidationError) {
	g := cfg.Gateway
	if _, _, err := net.SplitHostPort(g.Addr); err != nil {
		ve.Add("gateway.addr %q is invalid: %v", g.Addr, err)
	}
	if g.RequestTimeout <= 0 {
		ve.Add("gateway.request_timeout must be > 0")
	}
	if g.RateLimit.Requests <= 0 {
		ve.Add("gateway.rate_limit.requests must be > 0")
	}
	if g.RateLimit.Window <= 0 {
		ve.Add("gateway.rate_limit.window must be > 0")
	}
	for i, p := range g.RateLimit.TrustedProxies {
		if net.ParseIP(p) == nil {
			ve.Add("gateway.rate_limit.trusted_proxies[%d] %q is not an IP address", i, p)
		}
	}
}

func validateHistory(cfg *Config, ve *ValidationError) {
	if !cfg.History.Enabled {
		return
	}
	if cfg.History.Path == "" {
		ve.Add("history.path must not be empty when history is enabled")
	}
	if cfg.History.Retention < 0 {
		ve.Add("history.retention must be >= 0")
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	t := cfg.Tracer
	if !t.Enabled {
		return
	}
	switch t.Exporter {
	case "", "noop", "stdout":
	default:
		ve.Add("tracer.exporter %q is invalid (want: noop, stdout)", t.Exporter)
	}
	if t.SampleRatio < 0 || t.SampleRatio > 1 {
		ve.Add("tracer.sample_ratio must be in 0..1")
	}
}

func validateWatch(cfg *Config, ve *ValidationError) {
	if !cfg.Watch.Enabled {
		return
	}
	seen := make(map[string]bool)
	for i, t := range cfg.Watch.Tasks {
		if t.Name == "" {
			ve.Add("watch.tasks[%d].name must not be empty", i)
			continue
		}
		if seen[t.Name] {
			ve.Add("watch.tasks[%d]: duplicate task name %q", i, t.Name)
		}
		seen[t.Name] = true
		if t.Schedule == "" {
			ve.Add("watch.tasks[%d] (%s): schedule must not be empty", i, t.Name)
		}
		if !validWatchActions[t.Action] {
			ve.Add("watch.tasks[%d] (%s): action %q is invalid (want: watch_query, history_prune, cache_prune)", i, t.Name, t.Action)
		}
		if t.Action == "watch_query" && strings.TrimSpace(t.Query) == "" {
			ve.Add("watch.tasks[%d] (%s): query is required for watch_query", i, t.Name)
		}
	}
}

func validateLogger(cfg *Config, ve *ValidationError) {
	if !validLogLevels[strings.ToLower(cfg.Logger.Level)] {
		ve.Add("logger.level %q is invalid", cfg.Logger.Level)
	}
	switch strings.ToLower(cfg.Logger.Format) {
	case "text", "json":
	default:
		ve.Add("logger.format %q is invalid (want: text, json)", cfg.Logger.Format)
	}
}
