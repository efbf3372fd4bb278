package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"supplyintel/internal/domain"
	"supplyintel/internal/infra/config"
	"supplyintel/internal/infra/metrics"
)

// Default circuit breaker settings.
const (
	defaultFailureThreshold uint32        = 5
	defaultResetTimeout     time.Duration = 60 * time.Second
)

// Breaker states as reported by Snapshot.
const (
	StateClosed   = "CLOSED"
	StateOpen     = "OPEN"
	StateHalfOpen = "HALF_OPEN"
)

// BreakerSnapshot is a point-in-time view of a breaker.
type BreakerSnapshot struct {
	Provider    string    `json:"provider"`
	State       string    `json:"state"`
	Failures    uint32    `json:"failure_count"`
	LastFailure time.Time `json:"last_failure_time,omitempty"`
}

// StateChangeFunc is notified on every breaker transition.
type StateChangeFunc func(provider, from, to string)

// Breaker is a per-provider circuit breaker. It opens after N consecutive
// failures, half-opens after the reset timeout, and lets a single probe
// through; a failed probe reopens it.
type Breaker struct {
	provider string
	cb       *gobreaker.CircuitBreaker[any]
	logger   *slog.Logger

	mu          sync.Mutex
	failures    uint32
	lastFailure time.Time
	onChange    StateChangeFunc
}

// NewBreaker creates a breaker for provider. Zero config values use the
// defaults (5 failures, 60s reset).
func NewBreaker(provider string, cfg config.BreakerConfig, logger *slog.Logger) *Breaker {
	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = defaultFailureThreshold
	}
	timeout := cfg.ResetTimeout
	if timeout == 0 {
		timeout = defaultResetTimeout
	}

	b := &Breaker{provider: provider, logger: logger}
	b.cb = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "provider:" + provider,
		MaxRequests: 1, // allow 1 probe in half-open state
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", stateName(from),
				"to", stateName(to),
			)
			metrics.SetBreakerState(provider, stateGauge(to))
			b.mu.Lock()
			fn := b.onChange
			b.mu.Unlock()
			if fn != nil {
				fn(provider, stateName(from), stateName(to))
			}
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !countsAsFailure(err)
		},
	})
	metrics.SetBreakerState(provider, 0)
	return b
}

// OnStateChange registers fn to be called on every transition.
func (b *Breaker) OnStateChange(fn StateChangeFunc) {
	b.mu.Lock()
	b.onChange = fn
	b.mu.Unlock()
}

// Execute runs fn through the breaker. When the breaker refuses the call the
// returned error wraps domain.ErrCircuitOpen.
func Execute[T any](b *Breaker, fn func() (T, error)) (T, error) {
	var zero T
	res, err := b.cb.Execute(func() (any, error) {
		return fn()
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, fmt.Errorf("provider %q: %w: %v", b.provider, domain.ErrCircuitOpen, err)
		}
		b.recordFailure(err)
		return zero, err
	}
	b.recordSuccess()
	if res == nil {
		return zero, nil
	}
	return res.(T), nil
}

// countsAsFailure reports whether err says something about provider health.
// Caller-side errors and responses rejected after a successful round trip do not.
func countsAsFailure(err error) bool {
	switch {
	case errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, context.Canceled),
		errors.Is(err, domain.ErrQualityRejected),
		errors.Is(err, domain.ErrParse):
		return false
	}
	return true
}

// recordFailure mirrors gobreaker's counts: an error that does not count as
// a failure is a success to the breaker and clears the streak.
func (b *Breaker) recordFailure(err error) {
	if !countsAsFailure(err) {
		b.recordSuccess()
		return
	}
	b.mu.Lock()
	b.failures++
	b.lastFailure = time.Now()
	b.mu.Unlock()
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	b.failures = 0
	b.mu.Unlock()
}

// Allowing reports whether a call would currently be let through.
func (b *Breaker) Allowing() bool {
	return b.cb.State() != gobreaker.StateOpen
}

// State returns the current state name.
func (b *Breaker) State() string { return stateName(b.cb.State()) }

// Snapshot returns the breaker state, consecutive failure count, and last failure time.
func (b *Breaker) Snapshot() BreakerSnapshot {
	state := b.State()
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerSnapshot{
		Provider:    b.provider,
		State:       state,
		Failures:    b.failures,
		LastFailure: b.lastFailure,
	}
}

func stateName(s gobreaker.State) string {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

func stateGauge(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
