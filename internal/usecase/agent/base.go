// Package agent implements the specialized reasoning units the coordinator
// routes requests to.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/trace"

	"supplyintel/internal/domain"
	"supplyintel/internal/infra/metrics"
	"supplyintel/internal/infra/schema"
	"supplyintel/internal/infra/tracer"
)

// fallbackConfidenceCap bounds the confidence of any degraded result.
const fallbackConfidenceCap = 30

// Result is what a role handler produces before it is wrapped in an AgentOutput.
type Result struct {
	Data       domain.AgentData
	Confidence float64
	Reasoning  string
	FollowUp   []string
	// Degraded is set when the data came from a stale copy or a template.
	Degraded bool
}

// Handler runs one role's work. A returned error becomes a failed output
// carrying res.Data as partial data.
type Handler func(ctx context.Context, req domain.AgentRequest) (Result, error)

// Base wraps a Handler with input validation, panic recovery, timing,
// tracing, and metrics. It implements domain.Agent.
type Base struct {
	meta   domain.AgentMetadata
	handle Handler
	logger *slog.Logger
}

// NewBase creates an agent from metadata and a handler.
func NewBase(meta domain.AgentMetadata, handle Handler, logger *slog.Logger) *Base {
	return &Base{
		meta:   meta,
		handle: handle,
		logger: logger.With("agent", meta.Name, "role", string(meta.Role)),
	}
}

// Metadata implements domain.Agent.
func (b *Base) Metadata() domain.AgentMetadata { return b.meta }

// Process implements domain.Agent. It always returns exactly one output.
func (b *Base) Process(ctx context.Context, req domain.AgentRequest) (out domain.AgentOutput) {
	if err := schema.ValidateStruct("agent."+string(b.meta.Role), req); err != nil {
		b.logger.Warn("agent input rejected", "error", err)
		return domain.FailedOutput(b.meta.Name, b.meta.Role, err, nil, 0)
	}

	start := time.Now()
	ctx, span := tracer.StartSpan(ctx, "agent.process",
		trace.WithAttributes(
			tracer.StringAttr("agent.role", string(b.meta.Role)),
			tracer.StringAttr("correlation_id", req.Context.CorrelationID),
		),
	)
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("agent panic recovered",
				"panic", r,
				"stack", string(debug.Stack()),
			)
			out = domain.FailedOutput(b.meta.Name, b.meta.Role,
				fmt.Errorf("%w: panic: %v", domain.ErrAgentFailed, r), nil, time.Since(start))
		}
		if !out.Success {
			tracer.RecordError(span, fmt.Errorf("%s", out.Error))
		}
		metrics.RecordAgentRun(string(b.meta.Role), out.Success, out.Degraded, time.Since(start))
	}()

	res, err := b.handle(ctx, req)
	if err != nil {
		b.logger.Warn("agent failed",
			"correlation_id", req.Context.CorrelationID,
			"error", err,
		)
		return domain.FailedOutput(b.meta.Name, b.meta.Role, err, res.Data, time.Since(start))
	}

	confidence := res.Confidence
	if res.Degraded && confidence > fallbackConfidenceCap {
		confidence = fallbackConfidenceCap
	}
	out = domain.NewAgentOutput(b.meta.Name, b.meta.Role, res.Data, confidence, res.Reasoning, res.FollowUp, time.Since(start))
	out.Degraded = res.Degraded

	b.logger.Debug("agent completed",
		"correlation_id", req.Context.CorrelationID,
		"confidence", out.Confidence,
		"degraded", out.Degraded,
		"duration_ms", out.ProcessingTimeMs,
	)
	tracer.SetOK(span)
	return out
}
