package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
	"google.golang.org/genai"

	"supplyintel/internal/domain"
	"supplyintel/internal/infra/config"
	"supplyintel/internal/infra/tracer"
)

// geminiModelsAPI abstracts the genai Models service for testability.
type geminiModelsAPI interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Gemini implements domain.CompletionProvider on the Google Gen AI SDK.
// It talks to the Gemini API with an API key, or to Vertex AI when a
// project is configured.
type Gemini struct {
	name    string
	model   string
	timeout time.Duration
	models  geminiModelsAPI
	logger  *slog.Logger
}

// NewGemini creates a Gemini provider. It fails when neither an API key nor a
// Vertex project is configured.
func NewGemini(cfg config.CompletionConfig, logger *slog.Logger) (*Gemini, error) {
	if cfg.APIKey == "" && cfg.Project == "" {
		return nil, domain.NewSubSystemError("completion", "provider.NewGemini", domain.ErrMissingConfig,
			"set GEMINI_API_KEY (or GOOGLE_API_KEY) or GOOGLE_CLOUD_PROJECT")
	}
	if cfg.Model == "" {
		return nil, domain.NewSubSystemError("completion", "provider.NewGemini", domain.ErrMissingConfig, "completion.model is empty")
	}

	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.Project != "" {
		cc = &genai.ClientConfig{
			Project:  cfg.Project,
			Location: cfg.Location,
			Backend:  genai.BackendVertexAI,
		}
	}

	client, err := genai.NewClient(context.Background(), cc)
	if err != nil {
		return nil, domain.NewSubSystemError("completion", "provider.NewGemini", domain.ErrMissingConfig, err.Error())
	}

	return newGeminiWithModels(cfg.Model, cfg.Timeout, client.Models, logger), nil
}

// newGeminiWithModels creates a Gemini provider with an injected models client (for testing).
func newGeminiWithModels(model string, timeout time.Duration, models geminiModelsAPI, logger *slog.Logger) *Gemini {
	return &Gemini{
		name:    "gemini",
		model:   model,
		timeout: timeout,
		models:  models,
		logger:  logger,
	}
}

// Name implements domain.CompletionProvider.
func (p *Gemini) Name() string { return p.name }

// Generate implements domain.CompletionProvider.
func (p *Gemini) Generate(ctx context.Context, prompt, systemContext string, opts domain.GenerationOptions) (string, error) {
	ctx, span := tracer.StartSpan(ctx, "provider.generate",
		trace.WithAttributes(
			tracer.StringAttr("provider", p.name),
			tracer.StringAttr("model", p.model),
		),
	)
	defer span.End()

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	gcfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(opts.Temperature),
		MaxOutputTokens: opts.MaxOutputTokens,
	}
	if systemContext != "" {
		gcfg.SystemInstruction = genai.NewContentFromText(systemContext, genai.RoleUser)
	}
	if opts.TopP > 0 {
		gcfg.TopP = genai.Ptr(opts.TopP)
	}
	if opts.TopK > 0 {
		gcfg.TopK = genai.Ptr(opts.TopK)
	}
	if opts.ResponseMIMEType != "" {
		gcfg.ResponseMIMEType = opts.ResponseMIMEType
	}

	resp, err := p.models.GenerateContent(ctx, p.model, genai.Text(prompt), gcfg)
	if err != nil {
		err = mapGeminiError(err)
		tracer.RecordError(span, err)
		return "", err
	}

	text := geminiText(resp)
	if text == "" {
		err := fmt.Errorf("%w: empty candidate from %s", domain.ErrProviderError, p.model)
		tracer.RecordError(span, err)
		return "", err
	}

	tracer.SetOK(span)
	logCompleted(p.logger, p.name, "generate", "model", p.model, "chars", len(text))
	return text, nil
}

// geminiText concatenates the text parts of the first candidate.
func geminiText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	c := resp.Candidates[0]
	if c.Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range c.Content.Parts {
		if part != nil {
			b.WriteString(part.Text)
		}
	}
	return b.String()
}

func mapGeminiError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", domain.ErrTimeout, err)
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return mapHTTPError(apiErr.Code, []byte(apiErr.Status+" "+apiErr.Message))
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return mapHTTPError(apiErrPtr.Code, []byte(apiErrPtr.Status+" "+apiErrPtr.Message))
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "resource_exhausted") || strings.Contains(msg, "quota"):
		return fmt.Errorf("%w: %v", domain.ErrQuotaExceeded, err)
	case strings.Contains(msg, "connection") || strings.Contains(msg, "no such host"):
		return fmt.Errorf("%w: %v", domain.ErrNetwork, err)
	}
	return mapHTTPError(http.StatusInternalServerError, []byte(err.Error()))
}
