package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"
	"go.opentelemetry.io/otel/trace"

	"supplyintel/internal/domain"
	"supplyintel/internal/infra/config"
	"supplyintel/internal/infra/tracer"
)

// bedrockConverseAPI abstracts the Bedrock runtime Converse call for testability.
type bedrockConverseAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Bedrock implements domain.CompletionProvider via the AWS Bedrock Converse API.
type Bedrock struct {
	name    string
	model   string
	timeout time.Duration
	client  bedrockConverseAPI
	logger  *slog.Logger
}

// NewBedrock creates a Bedrock provider using the default AWS credential chain.
func NewBedrock(cfg config.CompletionConfig, logger *slog.Logger) (*Bedrock, error) {
	if cfg.Region == "" {
		return nil, domain.NewSubSystemError("completion", "provider.NewBedrock", domain.ErrMissingConfig,
			"set AWS_REGION or completion.region")
	}
	if cfg.Model == "" {
		return nil, domain.NewSubSystemError("completion", "provider.NewBedrock", domain.ErrMissingConfig, "completion.model is empty")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(cfg.Region),
	)
	if err != nil {
		return nil, domain.NewSubSystemError("completion", "provider.NewBedrock", domain.ErrMissingConfig,
			fmt.Sprintf("load aws config: %v", err))
	}

	return newBedrockWithClient(cfg.Model, cfg.Timeout, bedrockruntime.NewFromConfig(awsCfg), logger), nil
}

// newBedrockWithClient creates a Bedrock provider with an injected client (for testing).
func newBedrockWithClient(model string, timeout time.Duration, client bedrockConverseAPI, logger *slog.Logger) *Bedrock {
	return &Bedrock{
		name:    "bedrock",
		model:   model,
		timeout: timeout,
		client:  client,
		logger:  logger,
	}
}

// Name implements domain.CompletionProvider.
func (p *Bedrock) Name() string { return p.name }

// Generate implements domain.CompletionProvider.
func (p *Bedrock) Generate(ctx context.Context, prompt, systemContext string, opts domain.GenerationOptions) (string, error) {
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

	output, err := p.client.Converse(ctx, toConverseInput(p.model, prompt, systemContext, opts))
	if err != nil {
		err = mapBedrockError(err)
		tracer.RecordError(span, err)
		return "", err
	}

	text := converseText(output)
	if text == "" {
		err := fmt.Errorf("%w: empty message from %s", domain.ErrProviderError, p.model)
		tracer.RecordError(span, err)
		return "", err
	}

	if output.Usage != nil {
		span.SetAttributes(
			tracer.IntAttr("tokens.input", int(aws.ToInt32(output.Usage.InputTokens))),
			tracer.IntAttr("tokens.output", int(aws.ToInt32(output.Usage.OutputTokens))),
		)
	}
	tracer.SetOK(span)
	logCompleted(p.logger, p.name, "generate", "model", p.model, "chars", len(text))
	return text, nil
}

func toConverseInput(model, prompt, systemContext string, opts domain.GenerationOptions) *bedrockruntime.ConverseInput {
	maxTokens := opts.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = domain.DefaultGenerationOptions().MaxOutputTokens
	}

	input := &bedrockruntime.ConverseInput{
		ModelId: aws.String(model),
		Messages: []types.Message{{
			Role:    types.ConversationRoleUser,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: prompt}},
		}},
		InferenceConfig: &types.InferenceConfiguration{
			MaxTokens:   aws.Int32(maxTokens),
			Temperature: aws.Float32(opts.Temperature),
		},
	}
	if opts.TopP > 0 {
		input.InferenceConfig.TopP = aws.Float32(opts.TopP)
	}
	if systemContext != "" {
		input.System = []types.SystemContentBlock{
			&types.SystemContentBlockMemberText{Value: systemContext},
		}
	}
	return input
}

func converseText(output *bedrockruntime.ConverseOutput) string {
	if output == nil {
		return ""
	}
	msg, ok := output.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return ""
	}
	var b strings.Builder
	for _, block := range msg.Value.Content {
		if t, ok := block.(*types.ContentBlockMemberText); ok {
			b.WriteString(t.Value)
		}
	}
	return b.String()
}

// --- Error mapping ---

func mapBedrockError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", domain.ErrTimeout, err)
	}

	msg := err.Error()

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException":
			return fmt.Errorf("%w: %s", domain.ErrRateLimit, msg)
		case "ServiceQuotaExceededException":
			return fmt.Errorf("%w: %s", domain.ErrQuotaExceeded, msg)
		case "AccessDeniedException", "UnrecognizedClientException":
			return fmt.Errorf("%w: %s", domain.ErrAuthInvalid, msg)
		case "ModelTimeoutException":
			return fmt.Errorf("%w: %s", domain.ErrTimeout, msg)
		case "ModelNotReadyException", "ServiceUnavailableException":
			return fmt.Errorf("%w: API error 503: %s", domain.ErrProviderError, msg)
		}
	}

	return fmt.Errorf("%w: %s", domain.ErrProviderError, msg)
}
