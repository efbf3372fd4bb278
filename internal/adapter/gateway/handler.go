package gateway

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"supplyintel/internal/adapter/resilience"
	"supplyintel/internal/domain"
	"supplyintel/internal/usecase/decisiontree"
	"supplyintel/internal/usecase/eventbus"
	"supplyintel/internal/usecase/scheduling"
)

// Coordinator is the orchestration surface the gateway drives.
type Coordinator interface {
	Process(ctx context.Context, req domain.CoordinatorRequest) (*domain.CoordinatorResponse, error)
	RouteDirect(ctx context.Context, role domain.AgentRole, req domain.CoordinatorRequest) (domain.AgentOutput, error)
	Agents() []domain.AgentMetadata
	AgentMetadata(role domain.AgentRole) (domain.AgentMetadata, error)
}

// Scorer computes confidence scores.
type Scorer interface {
	Score(in domain.ConfidenceInput) (domain.ConfidenceResult, error)
}

// ShellStats exposes breaker and cache state for health reporting.
type ShellStats interface {
	Breakers() []resilience.BreakerSnapshot
	CacheSizes() map[string]int
}

// TaskLister reports scheduled tasks.
type TaskLister interface {
	Tasks() []scheduling.TaskInfo
}

// FeedSource opens bounded event feeds for WebSocket clients.
type FeedSource interface {
	Feed(buffer int, types ...domain.EventType) *eventbus.Feed
}

// HandlerDeps holds dependencies needed by the HTTP handlers.
type HandlerDeps struct {
	Coordinator Coordinator
	Scorer      Scorer
	History     domain.HistoryStore // can be nil
	Shells      ShellStats          // can be nil
	Scheduler   TaskLister          // can be nil
	Feeds       FeedSource          // can be nil (no /ws)
	Version     string
}

func queryHandler(deps HandlerDeps) apiFunc {
	return func(r *http.Request) (any, error) {
		var req domain.CoordinatorRequest
		if err := decodeBody(r, &req); err != nil {
			return nil, err
		}
		req.Origin = "api"
		return deps.Coordinator.Process(r.Context(), req)
	}
}

func directHandler(deps HandlerDeps) apiFunc {
	return func(r *http.Request) (any, error) {
		role := domain.AgentRole(chi.URLParam(r, "role"))
		if !role.Valid() {
			return nil, domain.NewDomainError("gateway.direct", domain.ErrAgentNotFound, string(role))
		}
		var req domain.CoordinatorRequest
		if err := decodeBody(r, &req); err != nil {
			return nil, err
		}
		return deps.Coordinator.RouteDirect(r.Context(), role, req)
	}
}

func agentListHandler(deps HandlerDeps) apiFunc {
	return func(*http.Request) (any, error) {
		return deps.Coordinator.Agents(), nil
	}
}

func agentGetHandler(deps HandlerDeps) apiFunc {
	return func(r *http.Request) (any, error) {
		return deps.Coordinator.AgentMetadata(domain.AgentRole(chi.URLParam(r, "role")))
	}
}

func confidenceHandler(deps HandlerDeps) apiFunc {
	return func(r *http.Request) (any, error) {
		var in domain.ConfidenceInput
		if err := decodeBody(r, &in); err != nil {
			return nil, err
		}
		return deps.Scorer.Score(in)
	}
}

type decisionTreeRequest struct {
	AnalysisType string                 `json:"analysis_type"`
	Record       domain.AnalysisRecord  `json:"record"`
	Steps        []domain.ReasoningStep `json:"steps"`
}

func decisionTreeHandler(r *http.Request) (any, error) {
	var req decisionTreeRequest
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	return decisiontree.Build(req.AnalysisType, req.Record, req.Steps)
}

func historyListHandler(deps HandlerDeps) apiFunc {
	return func(r *http.Request) (any, error) {
		limit := 0
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return nil, domain.NewDomainError("gateway.history", domain.ErrInvalidInput, "limit must be a non-negative integer")
			}
			limit = n
		}
		return deps.History.List(r.Context(), limit)
	}
}

func historyGetHandler(deps HandlerDeps) apiFunc {
	return func(r *http.Request) (any, error) {
		return deps.History.Get(r.Context(), chi.URLParam(r, "id"))
	}
}
