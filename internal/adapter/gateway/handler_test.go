package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"supplyintel/internal/adapter/resilience"
	"supplyintel/internal/domain"
	"supplyintel/internal/infra/config"
	"supplyintel/internal/usecase/confidence"
	"supplyintel/internal/usecase/scheduling"
)

// --- test doubles ---

type stubCoordinator struct {
	processFn func(ctx context.Context, req domain.CoordinatorRequest) (*domain.CoordinatorResponse, error)
	lastReq   domain.CoordinatorRequest
	lastRole  domain.AgentRole
}

func (c *stubCoordinator) Process(ctx context.Context, req domain.CoordinatorRequest) (*domain.CoordinatorResponse, error) {
	c.lastReq = req
	if c.processFn != nil {
		return c.processFn(ctx, req)
	}
	return &domain.CoordinatorResponse{
		Success:       true,
		Intent:        domain.IntentAnalyzeRisks,
		CorrelationID: "01JTEST",
		PrimaryResult: domain.AgentOutput{AgentName: "RiskAnalysisAgent", Role: domain.RoleRiskAnalysis, Success: true, Confidence: 70},
	}, nil
}

func (c *stubCoordinator) RouteDirect(_ context.Context, role domain.AgentRole, req domain.CoordinatorRequest) (domain.AgentOutput, error) {
	c.lastReq = req
	c.lastRole = role
	if strings.TrimSpace(req.Query) == "" {
		return domain.AgentOutput{}, domain.NewDomainError("coordinator.RouteDirect", domain.ErrInvalidInput, "query is required")
	}
	return domain.AgentOutput{AgentName: "direct", Role: role, Success: true, Confidence: 55}, nil
}

func (c *stubCoordinator) Agents() []domain.AgentMetadata {
	return []domain.AgentMetadata{{Name: "RiskAnalysisAgent", Role: domain.RoleRiskAnalysis}}
}

func (c *stubCoordinator) AgentMetadata(role domain.AgentRole) (domain.AgentMetadata, error) {
	if role != domain.RoleRiskAnalysis {
		return domain.AgentMetadata{}, domain.NewDomainError("Registry.Get", domain.ErrAgentNotFound, string(role))
	}
	return domain.AgentMetadata{Name: "RiskAnalysisAgent", Role: role}, nil
}

type stubHistory struct {
	domain.HistoryStore
	records map[string]*domain.HistoryRecord
	limit   int
}

func (h *stubHistory) Get(_ context.Context, id string) (*domain.HistoryRecord, error) {
	if rec, ok := h.records[id]; ok {
		return rec, nil
	}
	return nil, domain.NewSubSystemError("history", "history.Get", domain.ErrNotFound, id)
}

func (h *stubHistory) List(_ context.Context, limit int) ([]*domain.HistoryRecord, error) {
	h.limit = limit
	out := []*domain.HistoryRecord{}
	for _, r := range h.records {
		out = append(out, r)
	}
	return out, nil
}

type stubShells struct {
	breakers []resilience.BreakerSnapshot
}

func (s stubShells) Breakers() []resilience.BreakerSnapshot { return s.breakers }
func (s stubShells) CacheSizes() map[string]int             { return map[string]int{"gemini": 3} }

type stubTasks []scheduling.TaskInfo

func (s stubTasks) Tasks() []scheduling.TaskInfo { return s }

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *APIError       `json:"error"`
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testDeps() (HandlerDeps, *stubCoordinator, *stubHistory) {
	coord := &stubCoordinator{}
	hist := &stubHistory{records: map[string]*domain.HistoryRecord{
		"run-1": {ID: "run-1", Intent: domain.IntentAnalyzeRisks, Query: "q", Success: true},
	}}
	return HandlerDeps{
		Coordinator: coord,
		Scorer:      confidence.New(),
		History:     hist,
		Shells:      stubShells{breakers: []resilience.BreakerSnapshot{{Provider: "gemini", State: resilience.StateClosed}}},
		Scheduler:   stubTasks{{Name: "ports", Action: scheduling.ActionWatchQuery}},
		Version:     "test",
	}, coord, hist
}

func newTestServer(t *testing.T, cfg config.GatewayConfig, deps HandlerDeps) *Server {
	t.Helper()
	srv := NewServer(cfg, deps, newTestLogger())
	t.Cleanup(func() { srv.Stop(context.Background()) })
	return srv
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.RemoteAddr = "192.0.2.1:1234"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var env envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return w, env
}

func TestQueryHandler(t *testing.T) {
	deps, coord, _ := testDeps()
	srv := newTestServer(t, config.GatewayConfig{}, deps)

	w, env := do(t, srv.Handler(), http.MethodPost, "/api/agents/query",
		`{"query":"Assess port risks","agent_hints":["risk_analysis"]}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, env.Success)
	assert.Nil(t, env.Error)
	assert.Equal(t, "Assess port risks", coord.lastReq.Query)
	assert.Equal(t, "api", coord.lastReq.Origin)
	assert.Equal(t, []domain.AgentRole{domain.RoleRiskAnalysis}, coord.lastReq.AgentHints)

	var resp domain.CoordinatorResponse
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	assert.Equal(t, "01JTEST", resp.CorrelationID)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", domain.NewDomainError("op", domain.ErrInvalidInput, "query is required"), http.StatusBadRequest, CodeInvalidInput},
		{"rate limit", fmt.Errorf("wrapped: %w", domain.ErrRateLimit), http.StatusTooManyRequests, CodeRateLimit},
		{"circuit open", domain.NewDomainError("op", domain.ErrCircuitOpen, "gemini"), http.StatusServiceUnavailable, CodeServiceUnavailable},
		{"quota", domain.ErrQuotaExceeded, http.StatusServiceUnavailable, CodeServiceUnavailable},
		{"timeout", domain.ErrTimeout, http.StatusRequestTimeout, CodeTimeout},
		{"not found", domain.ErrNotFound, http.StatusNotFound, CodeNotFound},
		{"other", fmt.Errorf("boom"), http.StatusInternalServerError, CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps, coord, _ := testDeps()
			coord.processFn = func(context.Context, domain.CoordinatorRequest) (*domain.CoordinatorResponse, error) {
				return nil, tt.err
			}
			srv := newTestServer(t, config.GatewayConfig{}, deps)

			w, env := do(t, srv.Handler(), http.MethodPost, "/api/agents/query", `{"query":"x"}`)
			assert.Equal(t, tt.status, w.Code)
			assert.False(t, env.Success)
			require.NotNil(t, env.Error)
			assert.Equal(t, tt.code, env.Error.Code)
			if tt.status == http.StatusInternalServerError {
				assert.Equal(t, "internal error", env.Error.Message)
			}
		})
	}
}

func TestMalformedBody(t *testing.T) {
	deps, _, _ := testDeps()
	srv := newTestServer(t, config.GatewayConfig{}, deps)

	for _, body := range []string{"", "{not json"} {
		w, env := do(t, srv.Handler(), http.MethodPost, "/api/agents/query", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, "body %q", body)
		require.NotNil(t, env.Error)
		assert.Equal(t, CodeInvalidInput, env.Error.Code)
	}
}

func TestRequestTimeout(t *testing.T) {
	deps, coord, _ := testDeps()
	coord.processFn = func(ctx context.Context, _ domain.CoordinatorRequest) (*domain.CoordinatorResponse, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	srv := newTestServer(t, config.GatewayConfig{RequestTimeout: 50 * time.Millisecond}, deps)

	start := time.Now()
	w, env := do(t, srv.Handler(), http.MethodPost, "/api/agents/query", `{"query":"slow"}`)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, http.StatusRequestTimeout, w.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, CodeTimeout, env.Error.Code)
}

func TestDirectHandler(t *testing.T) {
	deps, coord, _ := testDeps()
	srv := newTestServer(t, config.GatewayConfig{}, deps)

	w, env := do(t, srv.Handler(), http.MethodPost, "/api/agents/scenario_simulation", `{"query":"What if Suez closes?"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, domain.RoleScenarioSimulation, coord.lastRole)

	var out domain.AgentOutput
	require.NoError(t, json.Unmarshal(env.Data, &out))
	assert.Equal(t, 55.0, out.Confidence)

	w, env = do(t, srv.Handler(), http.MethodPost, "/api/agents/forecasting", `{"query":"q"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, CodeNotFound, env.Error.Code)

	w, _ = do(t, srv.Handler(), http.MethodPost, "/api/agents/risk_analysis", `{"query":"  "}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAgentIntrospection(t *testing.T) {
	deps, _, _ := testDeps()
	srv := newTestServer(t, config.GatewayConfig{}, deps)

	w, env := do(t, srv.Handler(), http.MethodGet, "/api/agents", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list []domain.AgentMetadata
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Len(t, list, 1)

	w, _ = do(t, srv.Handler(), http.MethodGet, "/api/agents/risk_analysis", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w, env = do(t, srv.Handler(), http.MethodGet, "/api/agents/web_intelligence", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "AGENT_NOT_FOUND", env.Error.Details["cause"])
}

func TestConfidenceHandler(t *testing.T) {
	deps, _, _ := testDeps()
	srv := newTestServer(t, config.GatewayConfig{}, deps)

	w, env := do(t, srv.Handler(), http.MethodPost, "/api/confidence", `{
		"analysis_type": "risk_assessment",
		"agents": {"risk_analysis": {"confidence": 80, "processing_time_ms": 2000, "error_rate": 0, "data_points": 20}}
	}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res domain.ConfidenceResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.GreaterOrEqual(t, res.OverallConfidence, 50.0)
	assert.LessOrEqual(t, res.OverallConfidence, 95.0)

	w, env = do(t, srv.Handler(), http.MethodPost, "/api/confidence", `{"analysis_type":"risk_assessment","agents":{}}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, CodeInvalidInput, env.Error.Code)
}

func TestDecisionTreeHandler(t *testing.T) {
	deps, _, _ := testDeps()
	srv := newTestServer(t, config.GatewayConfig{}, deps)

	w, env := do(t, srv.Handler(), http.MethodPost, "/api/decision-tree", `{
		"analysis_type": "risk_assessment",
		"record": {"input_parameters": {"region": "APAC"}, "final_recommendation": "Dual source", "confidence": 80},
		"steps": [{"step": "Map suppliers", "confidence": 90}]
	}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var tree domain.DecisionTree
	require.NoError(t, json.Unmarshal(env.Data, &tree))
	assert.Equal(t, "node_0", tree.RootID)
	assert.Equal(t, 3, tree.CriticalPath.Length())

	w, _ = do(t, srv.Handler(), http.MethodPost, "/api/decision-tree", `{"record":{}}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHistoryHandlers(t *testing.T) {
	deps, _, hist := testDeps()
	srv := newTestServer(t, config.GatewayConfig{}, deps)

	w, env := do(t, srv.Handler(), http.MethodGet, "/api/history?limit=5", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 5, hist.limit)
	var recs []domain.HistoryRecord
	require.NoError(t, json.Unmarshal(env.Data, &recs))
	assert.Len(t, recs, 1)

	w, _ = do(t, srv.Handler(), http.MethodGet, "/api/history?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = do(t, srv.Handler(), http.MethodGet, "/api/history/run-1", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w, env = do(t, srv.Handler(), http.MethodGet, "/api/history/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "HISTORY_NOT_FOUND", env.Error.Details["cause"])
}

func TestHistoryRoutesAbsentWithoutStore(t *testing.T) {
	deps, _, _ := testDeps()
	deps.History = nil
	srv := newTestServer(t, config.GatewayConfig{}, deps)

	w, env := do(t, srv.Handler(), http.MethodGet, "/api/history", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, CodeNotFound, env.Error.Code)
}

func TestHealthHandler(t *testing.T) {
	deps, _, _ := testDeps()
	srv := newTestServer(t, config.GatewayConfig{}, deps)

	w, env := do(t, srv.Handler(), http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	var health HealthResponse
	require.NoError(t, json.Unmarshal(env.Data, &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "test", health.Version)
	assert.Equal(t, 3, health.Caches["gemini"])
	assert.True(t, health.History)
	require.Len(t, health.Tasks, 1)
	assert.Equal(t, "ports", health.Tasks[0].Name)

	deps.Shells = stubShells{breakers: []resilience.BreakerSnapshot{{Provider: "tavily", State: resilience.StateOpen, Failures: 5}}}
	srv = newTestServer(t, config.GatewayConfig{}, deps)
	_, env = do(t, srv.Handler(), http.MethodGet, "/api/health", "")
	require.NoError(t, json.Unmarshal(env.Data, &health))
	assert.Equal(t, "degraded", health.Status)
	assert.Equal(t, uint32(5), health.Breakers[0].Failures)
}

func TestUnknownRouteAndMethod(t *testing.T) {
	deps, _, _ := testDeps()
	srv := newTestServer(t, config.GatewayConfig{}, deps)

	w, env := do(t, srv.Handler(), http.MethodGet, "/api/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, CodeNotFound, env.Error.Code)

	w, env = do(t, srv.Handler(), http.MethodDelete, "/api/agents", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Equal(t, CodeMethodNotAllowed, env.Error.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	deps, _, _ := testDeps()
	srv := newTestServer(t, config.GatewayConfig{}, deps)

	do(t, srv.Handler(), http.MethodGet, "/api/agents", "")
	w, _ := do(t, srv.Handler(), http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `supplyintel_http_requests_total{code="200",route="/api/agents"}`)
}
