package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"iter"
	"log/slog"
	"net/http"
	"strings"

	"modelrelay/internal/domain"
	"modelrelay/internal/infra/config"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAI implements domain.Adapter for any OpenAI-compatible chat completions API.
type OpenAI struct {
	domain.Descriptor
	apiKey  string
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewOpenAI creates an OpenAI-compatible adapter. A configured key makes the adapter
// self-credentialed unless needs_auth says otherwise.
func NewOpenAI(cfg config.AdapterConfig, logger *slog.Logger) *OpenAI {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAI{
		Descriptor: domain.Descriptor{
			AdapterName:  cfg.Name,
			IsWorking:    cfg.IsWorking(),
			AuthRequired: boolOr(cfg.NeedsAuth, cfg.APIKey == ""),
			Streaming:    true,
			DefaultModel: cfg.Model,
			Models:       cfg.Models,
			Aliases:      cfg.Aliases,
		},
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		client:  NewHTTPClient(cfg),
		logger:  logger,
	}
}

// ListModels fetches GET /models.
func (p *OpenAI) ListModels(ctx context.Context) ([]string, error) {
	var resp struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := doJSON(ctx, p.client, http.MethodGet, p.baseURL+"/models", nil, bearer(p.apiKey), &resp); err != nil {
		return nil, domain.NewError(domain.KindUpstreamUnavailable, p.Name(), err)
	}
	models := make([]string, 0, len(resp.Data))
	for _, m := range resp.Data {
		models = append(models, m.ID)
	}
	return models, nil
}

// Shape implements domain.Adapter. Every model streams text.
func (p *OpenAI) Shape(string) domain.Shape { return domain.ShapeText }

// Generate streams chat completion deltas as text fragments.
func (p *OpenAI) Generate(ctx context.Context, req domain.Request) iter.Seq2[domain.RawOutput, error] {
	return streamChat(ctx, p.client, p.baseURL+"/chat/completions", credentialKey(req, p.apiKey), req, p.logger)
}

// --- OpenAI API wire types ---

type openaiRequest struct {
	Model       string          `json:"model"`
	Messages    []openaiMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	Stream      bool            `json:"stream"`
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func toOpenAIRequest(req domain.Request) openaiRequest {
	out := openaiRequest{
		Model:     req.Model,
		Messages:  make([]openaiMessage, 0, len(req.Messages)),
		MaxTokens: req.IntOption("max_tokens", 0),
		Stream:    true,
	}
	for _, m := range req.Messages {
		out.Messages = append(out.Messages, openaiMessage{Role: m.Role, Content: m.Content})
	}
	if v, ok := req.Option("temperature"); ok {
		if f, ok := v.(float64); ok {
			out.Temperature = &f
		}
	}
	return out
}

// streamChat posts a streaming chat completion and yields each content delta. The
// response body is closed when iteration ends.
func streamChat(ctx context.Context, client *http.Client, url, key string, req domain.Request, logger *slog.Logger) iter.Seq2[domain.RawOutput, error] {
	return func(yield func(domain.RawOutput, error) bool) {
		body, err := json.Marshal(toOpenAIRequest(req))
		if err != nil {
			yield(domain.RawOutput{}, err)
			return
		}
		headers := bearer(key)
		headers["Accept"] = "text/event-stream"

		resp, err := doStreamRequest(ctx, client, http.MethodPost, url, body, headers)
		if err != nil {
			yield(domain.RawOutput{}, err)
			return
		}
		defer resp.Body.Close()

		for line, err := range scanLines(resp.Body) {
			if err != nil {
				yield(domain.RawOutput{}, err)
				return
			}
			data, ok := sseData(line)
			if !ok {
				continue
			}
			if bytes.Equal(data, []byte("[DONE]")) {
				return
			}

			var chunk openaiStreamChunk
			if err := json.Unmarshal(data, &chunk); err != nil {
				logger.Debug("skip undecodable stream payload", "error", err)
				continue
			}
			if chunk.Error != nil {
				yield(domain.RawOutput{}, domain.Errorf(domain.KindUpstreamIOError, "", "upstream error: %s", chunk.Error.Message))
				return
			}
			for _, c := range chunk.Choices {
				if c.Delta.Content == "" {
					continue
				}
				if !yield(domain.RawOutput{Data: []byte(c.Delta.Content)}, nil) {
					return
				}
			}
		}
	}
}

var _ domain.Adapter = (*OpenAI)(nil)
