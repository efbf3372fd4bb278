package gateway

import (
	"net/http"
	"time"

	"supplyintel/internal/adapter/resilience"
	"supplyintel/internal/usecase/scheduling"
)

// HealthResponse is the data of GET /api/health.
type HealthResponse struct {
	Status        string                       `json:"status"` // "ok" or "degraded"
	Version       string                       `json:"version,omitempty"`
	UptimeSeconds int64                        `json:"uptime_seconds"`
	Breakers      []resilience.BreakerSnapshot `json:"breakers"`
	Caches        map[string]int               `json:"caches"`
	History       bool                         `json:"history_enabled"`
	Tasks         []scheduling.TaskInfo        `json:"tasks,omitempty"`
}

// healthHandler reports degraded while any breaker is not closed.
func healthHandler(deps HandlerDeps, startTime time.Time) apiFunc {
	return func(*http.Request) (any, error) {
		resp := HealthResponse{
			Status:        "ok",
			Version:       deps.Version,
			UptimeSeconds: int64(time.Since(startTime).Seconds()),
			Breakers:      []resilience.BreakerSnapshot{},
			Caches:        map[string]int{},
			History:       deps.History != nil,
		}
		if deps.Shells != nil {
			resp.Breakers = deps.Shells.Breakers()
			resp.Caches = deps.Shells.CacheSizes()
		}
		for _, b := range resp.Breakers {
			if b.State != resilience.StateClosed {
				resp.Status = "degraded"
			}
		}
		if deps.Scheduler != nil {
			resp.Tasks = deps.Scheduler.Tasks()
		}
		return resp, nil
	}
}
