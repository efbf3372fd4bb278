package middleware

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// SlidingWindow is a sliding-window rate limiter keyed by client.
// It keeps the timestamps of admitted requests per key and rejects a request
// once the window already holds limit entries.
type SlidingWindow struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	clients map[string][]time.Time
	now     func() time.Time // for testing
}

// NewSlidingWindow creates a limiter admitting limit requests per window per key.
func NewSlidingWindow(limit int, window time.Duration) *SlidingWindow {
	return &SlidingWindow{
		limit:   limit,
		window:  window,
		clients: make(map[string][]time.Time),
		now:     time.Now,
	}
}

// Allow records a request for key if admitted. When rejected it returns the
// time until the oldest entry leaves the window.
func (s *SlidingWindow) Allow(key string) (bool, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	calls := trim(s.clients[key], now.Add(-s.window))

	if len(calls) >= s.limit {
		s.clients[key] = calls
		return false, calls[0].Add(s.window).Sub(now)
	}
	s.clients[key] = append(calls, now)
	return true, 0
}

// Remaining reports how many requests key may still make in the current window.
func (s *SlidingWindow) Remaining(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	calls := trim(s.clients[key], s.now().Add(-s.window))
	s.clients[key] = calls
	if n := s.limit - len(calls); n > 0 {
		return n
	}
	return 0
}

// Sweep drops keys whose every entry has left the window.
func (s *SlidingWindow) Sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-s.window)
	for k, calls := range s.clients {
		if calls = trim(calls, cutoff); len(calls) == 0 {
			delete(s.clients, k)
		} else {
			s.clients[k] = calls
		}
	}
}

// trim removes entries at or before cutoff in place.
func trim(calls []time.Time, cutoff time.Time) []time.Time {
	n := 0
	for _, t := range calls {
		if t.After(cutoff) {
			calls[n] = t
			n++
		}
	}
	return calls[:n]
}

// RateLimitConfig holds configuration for the per-IP rate limiter.
type RateLimitConfig struct {
	Requests       int           // Maximum requests per window
	Window         time.Duration // Sliding window length
	TrustedProxies []string      // Proxy IPs whose X-Forwarded-For is trusted
	// OnLimited writes the rejection. Defaults to a plain 429.
	OnLimited func(w http.ResponseWriter, r *http.Request, retryAfter time.Duration)
}

// RateLimit limits requests per client IP with a sliding window.
// A background sweep tied to ctx drops idle clients.
//
// X-Forwarded-For and X-Real-IP are only honored when the direct peer is in
// TrustedProxies; otherwise the TCP peer address is used.
func RateLimit(ctx context.Context, cfg RateLimitConfig) func(http.Handler) http.Handler {
	limiter := NewSlidingWindow(cfg.Requests, cfg.Window)
	onLimited := cfg.OnLimited
	if onLimited == nil {
		onLimited = func(w http.ResponseWriter, _ *http.Request, _ time.Duration) {
			http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
		}
	}

	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				limiter.Sweep()
			case <-ctx.Done():
				return
			}
		}
	}()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := getClientIP(r, cfg.TrustedProxies)
			ok, retryAfter := limiter.Allow(ip)
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.Requests))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(limiter.Remaining(ip)))
			if !ok {
				secs := int(retryAfter.Seconds())
				if retryAfter > time.Duration(secs)*time.Second {
					secs++
				}
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				onLimited(w, r, retryAfter)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// getClientIP extracts the client IP from the request. Proxy headers are only
// trusted when the direct connection comes from one of trustedProxies.
func getClientIP(r *http.Request, trustedProxies []string) string {
	directIP := r.RemoteAddr
	if idx := strings.LastIndex(directIP, ":"); idx > 0 {
		directIP = directIP[:idx]
	}
	directIP = strings.Trim(directIP, "[]")

	if len(trustedProxies) == 0 {
		return directIP
	}

	trusted := false
	for _, p := range trustedProxies {
		if directIP == p {
			trusted = true
			break
		}
	}
	if !trusted {
		return directIP
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	return directIP
}
