//go:build bedrock

package provider

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"

	"modelrelay/internal/domain"
	"modelrelay/internal/infra/config"
)

const defaultBedrockMaxTokens = 4096

// bedrockStreamAPI abstracts the Bedrock runtime streaming call for testability.
type bedrockStreamAPI interface {
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
}

// Bedrock streams text through the AWS Bedrock Converse API. Credentials come from
// the default AWS chain, so the adapter never needs a request credential.
type Bedrock struct {
	domain.Descriptor
	client bedrockStreamAPI
	logger *slog.Logger
}

// NewBedrock creates a Bedrock adapter using the default AWS credential chain.
func NewBedrock(cfg config.AdapterConfig, logger *slog.Logger) (*Bedrock, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return newBedrockWithClient(cfg, bedrockruntime.NewFromConfig(awsCfg), logger), nil
}

func newBedrockWithClient(cfg config.AdapterConfig, client bedrockStreamAPI, logger *slog.Logger) *Bedrock {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bedrock{
		Descriptor: domain.Descriptor{
			AdapterName:  cfg.Name,
			IsWorking:    cfg.IsWorking(),
			AuthRequired: boolOr(cfg.NeedsAuth, false),
			Streaming:    true,
			DefaultModel: cfg.Model,
			Models:       cfg.Models,
			Aliases:      cfg.Aliases,
		},
		client: client,
		logger: logger,
	}
}

// ListModels returns the configured model ids.
func (p *Bedrock) ListModels(context.Context) ([]string, error) {
	return p.StaticModels(), nil
}

// Shape implements domain.Adapter.
func (p *Bedrock) Shape(string) domain.Shape { return domain.ShapeText }

// Generate implements domain.Adapter. The event stream is closed when iteration ends.
func (p *Bedrock) Generate(ctx context.Context, req domain.Request) iter.Seq2[domain.RawOutput, error] {
	return func(yield func(domain.RawOutput, error) bool) {
		output, err := p.client.ConverseStream(ctx, toBedrockStreamInput(req))
		if err != nil {
			yield(domain.RawOutput{}, mapBedrockError(err))
			return
		}
		stream := output.GetStream()
		defer stream.Close()

		for evt := range stream.Events() {
			text, ok := bedrockEventText(evt)
			if !ok {
				continue
			}
			if !yield(domain.RawOutput{Data: []byte(text)}, nil) {
				return
			}
		}
		if err := stream.Err(); err != nil {
			yield(domain.RawOutput{}, mapBedrockError(err))
		}
	}
}

func toBedrockStreamInput(req domain.Request) *bedrockruntime.ConverseStreamInput {
	input := &bedrockruntime.ConverseStreamInput{
		ModelId: aws.String(req.Model),
		InferenceConfig: &types.InferenceConfiguration{
			MaxTokens: aws.Int32(int32(req.IntOption("max_tokens", defaultBedrockMaxTokens))),
		},
	}
	if v, ok := req.Option("temperature"); ok {
		if f, ok := v.(float64); ok {
			input.InferenceConfig.Temperature = aws.Float32(float32(f))
		}
	}

	for _, m := range req.Messages {
		switch m.Role {
		case domain.RoleSystem:
			input.System = append(input.System, &types.SystemContentBlockMemberText{Value: m.Content})
		case domain.RoleAssistant:
			input.Messages = append(input.Messages, types.Message{
				Role:    types.ConversationRoleAssistant,
				Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: m.Content}},
			})
		default:
			input.Messages = append(input.Messages, types.Message{
				Role:    types.ConversationRoleUser,
				Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: m.Content}},
			})
		}
	}
	return input
}

// bedrockEventText extracts text from a content block delta.
func bedrockEventText(evt types.ConverseStreamOutput) (string, bool) {
	e, ok := evt.(*types.ConverseStreamOutputMemberContentBlockDelta)
	if !ok {
		return "", false
	}
	d, ok := e.Value.Delta.(*types.ContentBlockDeltaMemberText)
	if !ok || d.Value == "" {
		return "", false
	}
	return d.Value, true
}

// mapBedrockError maps AWS API error codes to failure kinds.
func mapBedrockError(err error) *domain.Error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException":
			return domain.NewError(domain.KindRateLimited, "", err)
		case "AccessDeniedException", "UnrecognizedClientException":
			return domain.NewError(domain.KindMissingAuth, "", err)
		case "ResourceNotFoundException", "ModelNotReadyException", "ServiceUnavailableException":
			return domain.NewError(domain.KindUpstreamUnavailable, "", err)
		case "InternalServerException", "ModelStreamErrorException":
			return domain.NewError(domain.KindUpstreamIOError, "", err)
		}
	}
	return transportError(err)
}

var _ domain.Adapter = (*Bedrock)(nil)
