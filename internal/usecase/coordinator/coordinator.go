// Package coordinator routes requests to agents, fans out supporting work,
// and synthesizes the results into one response.
package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"supplyintel/internal/domain"
	"supplyintel/internal/infra/config"
	"supplyintel/internal/infra/metrics"
	"supplyintel/internal/infra/schema"
	"supplyintel/internal/infra/tracer"
)

// GenericSynthesisNotice is used when synthesis fails and the primary gave no reasoning.
const GenericSynthesisNotice = "Analysis complete. Review the individual agent results for details."

const synthesisSystem = "You are a supply chain intelligence coordinator. Combine the findings of " +
	"several specialist analyses into one coherent brief for an operations leader."

// AgentSource is the subset of agent.Registry the coordinator needs.
type AgentSource interface {
	Get(role domain.AgentRole) (domain.Agent, error)
	Metadata() []domain.AgentMetadata
}

// Coordinator runs the route, primary, supporting, synthesize, respond pipeline.
type Coordinator struct {
	agents    AgentSource
	completer domain.ResilientCompleter
	bus       domain.EventBus
	history   domain.HistoryStore
	cfg       config.AgentsConfig
	logger    *slog.Logger
}

// Option configures optional collaborators.
type Option func(*Coordinator)

// WithEventBus publishes lifecycle events on bus.
func WithEventBus(bus domain.EventBus) Option {
	return func(c *Coordinator) { c.bus = bus }
}

// WithHistory records every completed run in store.
func WithHistory(store domain.HistoryStore) Option {
	return func(c *Coordinator) { c.history = store }
}

// New creates a coordinator. completer is used for synthesis only.
func New(agents AgentSource, completer domain.ResilientCompleter, cfg config.AgentsConfig, logger *slog.Logger, opts ...Option) *Coordinator {
	if cfg.SynthesisMaxChars <= 0 {
		cfg.SynthesisMaxChars = 1500
	}
	if cfg.MaxActions <= 0 {
		cfg.MaxActions = 5
	}
	c := &Coordinator{
		agents:    agents,
		completer: completer,
		cfg:       cfg,
		logger:    logger.With("component", "coordinator"),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Process handles one request. The returned error is non-nil only when the
// request is rejected before routing; every other failure is reported inside
// the response.
func (c *Coordinator) Process(ctx context.Context, req domain.CoordinatorRequest) (*domain.CoordinatorResponse, error) {
	if err := schema.ValidateStruct("coordinator.Process", req); err != nil {
		return nil, err
	}
	route, err := Resolve(req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	corrID := newID()
	ctx, span := tracer.StartSpan(ctx, "coordinator.process",
		trace.WithAttributes(
			tracer.StringAttr("intent", string(route.Intent)),
			tracer.StringAttr("correlation_id", corrID),
		),
	)
	defer span.End()

	log := c.logger.With("correlation_id", corrID, "intent", string(route.Intent))
	log.Info("request routed",
		"primary", string(route.Mapping.PrimaryAgent),
		"supporting", len(route.Mapping.SupportingAgents),
	)
	c.publish(ctx, domain.EventCoordinatorRouted, corrID, routedPayload{
		Intent:     route.Intent,
		Primary:    route.Mapping.PrimaryAgent,
		Supporting: route.Mapping.SupportingAgents,
	})

	areq := domain.AgentRequest{
		Query:      req.Query,
		Parameters: req.Parameters,
		Context:    domain.NewAgentContext(corrID, req.History, req.DomainState, req.Preferences),
	}

	resp := &domain.CoordinatorResponse{Intent: route.Intent, CorrelationID: corrID}
	resp.PrimaryResult = c.runAgent(ctx, route.Mapping.PrimaryAgent, areq)
	resp.Success = resp.PrimaryResult.Success

	if !resp.Success {
		log.Warn("primary agent failed", "error", resp.PrimaryResult.Error)
	} else {
		if len(route.Mapping.SupportingAgents) > 0 {
			resp.SupportingResults = c.runSupporting(ctx, route.Mapping.SupportingAgents, areq, resp.PrimaryResult)
		}
		if route.Mapping.RequiresSynthesis && len(resp.SupportingResults) > 0 {
			resp.SynthesizedResponse = c.synthesize(ctx, corrID, req.Query, resp.PrimaryResult, resp.SupportingResults)
		}
		resp.SuggestedActions = collectActions(c.cfg.MaxActions, resp.PrimaryResult, resp.SupportingResults)
	}

	resp.TotalProcessingTimeMs = time.Since(start).Milliseconds()
	span.SetAttributes(tracer.BoolAttr("success", resp.Success))
	metrics.RecordCoordinatorRequest(string(route.Intent), resp.Success)
	log.Info("request completed",
		"success", resp.Success,
		"supporting_ok", len(resp.SupportingResults),
		"duration_ms", resp.TotalProcessingTimeMs,
	)
	c.publish(ctx, domain.EventCoordinatorCompleted, corrID, completedPayload{
		Intent:    route.Intent,
		Success:   resp.Success,
		TotalMs:   resp.TotalProcessingTimeMs,
		Supported: len(resp.SupportingResults),
	})
	c.record(ctx, req, resp)
	return resp, nil
}

// RouteDirect runs a single agent, bypassing intent resolution.
func (c *Coordinator) RouteDirect(ctx context.Context, role domain.AgentRole, req domain.CoordinatorRequest) (domain.AgentOutput, error) {
	if err := schema.ValidateStruct("coordinator.RouteDirect", req); err != nil {
		return domain.AgentOutput{}, err
	}
	a, err := c.agents.Get(role)
	if err != nil {
		return domain.AgentOutput{}, err
	}
	corrID := newID()
	areq := domain.AgentRequest{
		Query:      req.Query,
		Parameters: req.Parameters,
		Context:    domain.NewAgentContext(corrID, req.History, req.DomainState, req.Preferences),
	}
	out := a.Process(ctx, areq)
	c.publishAgent(ctx, corrID, out)
	return out, nil
}

// Agents lists metadata for every registered agent.
func (c *Coordinator) Agents() []domain.AgentMetadata {
	return c.agents.Metadata()
}

// AgentMetadata returns metadata for one role.
func (c *Coordinator) AgentMetadata(role domain.AgentRole) (domain.AgentMetadata, error) {
	a, err := c.agents.Get(role)
	if err != nil {
		return domain.AgentMetadata{}, err
	}
	return a.Metadata(), nil
}

func (c *Coordinator) runAgent(ctx context.Context, role domain.AgentRole, req domain.AgentRequest) domain.AgentOutput {
	a, err := c.agents.Get(role)
	if err != nil {
		out := domain.FailedOutput(string(role), role, err, nil, 0)
		c.publishAgent(ctx, req.Context.CorrelationID, out)
		return out
	}
	out := a.Process(ctx, req)
	c.publishAgent(ctx, req.Context.CorrelationID, out)
	return out
}

// runSupporting fans out to roles and waits for all of them. Failed outputs
// are logged and dropped; the rest keep the mapping's order.
func (c *Coordinator) runSupporting(ctx context.Context, roles []domain.AgentRole, req domain.AgentRequest, primary domain.AgentOutput) []domain.AgentOutput {
	sreq := req.WithContext(req.Context.WithPreviousOutput(primary))
	results := make([]*domain.AgentOutput, len(roles))

	var g errgroup.Group
	for i, role := range roles {
		g.Go(func() error {
			out := c.runAgent(ctx, role, sreq)
			if !out.Success {
				c.logger.Warn("supporting agent failed",
					"correlation_id", req.Context.CorrelationID,
					"role", string(role),
					"error", out.Error,
				)
				return nil
			}
			results[i] = &out
			return nil
		})
	}
	_ = g.Wait()

	kept := make([]domain.AgentOutput, 0, len(results))
	for _, r := range results {
		if r != nil {
			kept = append(kept, *r)
		}
	}
	return kept
}

func (c *Coordinator) synthesize(ctx context.Context, corrID, query string, primary domain.AgentOutput, supporting []domain.AgentOutput) string {
	comp, err := c.generateSynthesis(ctx, c.synthesisPrompt(query, primary, supporting))
	text := strings.TrimSpace(comp.Text)
	if err != nil || comp.Source == domain.SourceFallback || text == "" {
		if err == nil {
			err = fmt.Errorf("%w: %s", domain.ErrSynthesis, comp.Reason)
		}
		c.logger.Warn("synthesis unavailable",
			"correlation_id", corrID,
			"mode", "degraded",
			"error", err,
		)
		text = strings.TrimSpace(primary.Reasoning)
		if text == "" {
			text = GenericSynthesisNotice
		}
		comp.Source = domain.SourceFallback
	}
	c.publish(ctx, domain.EventCoordinatorSynthesized, corrID, synthesizedPayload{
		Source: comp.Source,
		Chars:  len(text),
	})
	return text
}

func (c *Coordinator) generateSynthesis(ctx context.Context, prompt string) (domain.Completion, error) {
	if c.completer == nil {
		return domain.Completion{Source: domain.SourceFallback, Reason: "no completer"}, nil
	}
	comp, err := c.completer.Generate(ctx, prompt, synthesisSystem, domain.GenerationOptions{
		Temperature:     0.3,
		MaxOutputTokens: 512,
	})
	if err != nil {
		return domain.Completion{}, fmt.Errorf("%w: %w", domain.ErrSynthesis, err)
	}
	return comp, nil
}

func (c *Coordinator) synthesisPrompt(query string, primary domain.AgentOutput, supporting []domain.AgentOutput) string {
	var b strings.Builder
	b.WriteString("Original query: ")
	b.WriteString(query)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Primary analysis (%s):\n%s\n\n", primary.Role, c.dataSection(primary))
	for _, s := range supporting {
		fmt.Fprintf(&b, "Supporting analysis (%s):\n%s\n\n", s.Role, c.dataSection(s))
	}
	b.WriteString("Write a unified, actionable summary of 3-4 sentences that reconciles these findings. " +
		"Lead with the most important risk or decision and end with a concrete next step.")
	return b.String()
}

func (c *Coordinator) dataSection(o domain.AgentOutput) string {
	if o.Data == nil {
		return truncate(o.Reasoning, c.cfg.SynthesisMaxChars)
	}
	raw, err := json.Marshal(o.Data)
	if err != nil {
		return truncate(o.Data.Summary(), c.cfg.SynthesisMaxChars)
	}
	return truncate(string(raw), c.cfg.SynthesisMaxChars)
}

// collectActions merges follow-ups in first-seen order, case-sensitively,
// stopping at limit.
func collectActions(limit int, primary domain.AgentOutput, supporting []domain.AgentOutput) []string {
	seen := make(map[string]bool)
	var actions []string
	add := func(items []string) {
		for _, a := range items {
			if len(actions) >= limit {
				return
			}
			if a == "" || seen[a] {
				continue
			}
			seen[a] = true
			actions = append(actions, a)
		}
	}
	add(primary.SuggestedFollowUp)
	for _, s := range supporting {
		add(s.SuggestedFollowUp)
	}
	return actions
}

func (c *Coordinator) record(ctx context.Context, req domain.CoordinatorRequest, resp *domain.CoordinatorResponse) {
	if c.history == nil {
		return
	}
	origin := req.Origin
	if origin == "" {
		origin = "api"
	}
	rec := &domain.HistoryRecord{
		ID:            newID(),
		CorrelationID: resp.CorrelationID,
		Source:        origin,
		Intent:        resp.Intent,
		Query:         req.Query,
		Success:       resp.Success,
		TotalMs:       resp.TotalProcessingTimeMs,
		Response:      *resp,
		CreatedAt:     time.Now().UTC(),
	}
	if err := c.history.Save(ctx, rec); err != nil {
		c.logger.Warn("history save failed",
			"correlation_id", resp.CorrelationID,
			"error", err,
		)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}

func newID() string {
	t := time.Now()
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}
