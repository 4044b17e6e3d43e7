package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"modelrelay/internal/domain"
	"modelrelay/internal/infra/config"
)

const defaultReplicateBaseURL = "https://api.replicate.com/v1"

var (
	replicateModels = []string{
		"meta/meta-llama-3-70b-instruct",
		"meta/meta-llama-3-8b-instruct",
		"mistralai/mixtral-8x7b-instruct-v0.1",
		"yorickvp/llava-v1.6-34b",
		"daanelson/minigpt-4",
	}
	replicateAliases = map[string]string{
		"meta-llama/Meta-Llama-3-70B-Instruct": "meta/meta-llama-3-70b-instruct",
		"meta-llama/Meta-Llama-3-8B-Instruct":  "meta/meta-llama-3-8b-instruct",
		"mistralai/Mixtral-8x7B-Instruct-v0.1": "mistralai/mixtral-8x7b-instruct-v0.1",
	}
	// Models pinned to a version are posted to /predictions with that version.
	replicateVersions = map[string]string{
		"yorickvp/llava-v1.6-34b": "41ecfbfb261e6c1adf3ad896c9066ca98346996d7c4045c5bc944a79d430f174",
		"daanelson/minigpt-4":     "b96a2f33cc8e4b0aa23eacfce731b9c41a7d9466d9ed4e167375587b54db9423",
	}
	// Models that cannot stream.
	replicateNoStream = map[string]bool{"daanelson/minigpt-4": true}
)

// Replicate runs predictions. Streaming predictions are read from the prediction's
// event stream; the rest are polled until they finish.
type Replicate struct {
	domain.Descriptor
	apiKey  string
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewReplicate creates the adapter. It always needs a credential unless a key is
// configured.
func NewReplicate(cfg config.AdapterConfig, logger *slog.Logger) *Replicate {
	if logger == nil {
		logger = slog.Default()
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultReplicateBaseURL
	}
	models := cfg.Models
	if len(models) == 0 {
		models = slices.Clone(replicateModels)
	}
	aliases := cfg.Aliases
	if aliases == nil {
		aliases = replicateAliases
	}
	defaultModel := cfg.Model
	if defaultModel == "" {
		defaultModel = replicateModels[0]
	}
	return &Replicate{
		Descriptor: domain.Descriptor{
			AdapterName:  cfg.Name,
			IsWorking:    cfg.IsWorking(),
			AuthRequired: boolOr(cfg.NeedsAuth, cfg.APIKey == ""),
			Streaming:    true,
			DefaultModel: defaultModel,
			Models:       models,
			Aliases:      aliases,
		},
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		client:  NewHTTPClient(cfg),
		logger:  logger,
	}
}

// ListModels returns the declared models. The upstream catalog is not enumerable.
func (p *Replicate) ListModels(context.Context) ([]string, error) {
	return p.StaticModels(), nil
}

// Shape reports ShapeEventStream for streamable models and ShapePoll otherwise.
// It depends on the model only.
func (p *Replicate) Shape(model string) domain.Shape {
	if replicateNoStream[model] {
		return domain.ShapePoll
	}
	return domain.ShapeEventStream
}

type replicateInput struct {
	Prompt        string   `json:"prompt"`
	SystemPrompt  string   `json:"system_prompt,omitempty"`
	MaxNewTokens  int      `json:"max_new_tokens,omitempty"`
	Temperature   *float64 `json:"temperature,omitempty"`
	StopSequences string   `json:"stop_sequences,omitempty"`
}

type replicateRequest struct {
	Stream  bool           `json:"stream"`
	Version string         `json:"version,omitempty"`
	Input   replicateInput `json:"input"`
}

type replicatePrediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  any             `json:"error"`
	URLs   struct {
		Get    string `json:"get"`
		Stream string `json:"stream"`
	} `json:"urls"`
}

// Generate implements domain.Adapter. The output element type follows Shape: event
// stream lines, or a single Job when the prediction must be polled.
func (p *Replicate) Generate(ctx context.Context, req domain.Request) iter.Seq2[domain.RawOutput, error] {
	return func(yield func(domain.RawOutput, error) bool) {
		key := credentialKey(req, p.apiKey)
		if key == "" {
			yield(domain.RawOutput{}, domain.Errorf(domain.KindMissingAuth, p.Name(), `add an "api_key"`))
			return
		}
		headers := bearer(key)
		stream := p.Shape(req.Model) == domain.ShapeEventStream

		pred, err := p.create(ctx, req, stream, headers)
		if err != nil {
			yield(domain.RawOutput{}, err)
			return
		}

		if !stream {
			yield(domain.RawOutput{Job: p.job(pred.URLs.Get, headers)}, nil)
			return
		}

		sh := bearer(key)
		sh["Accept"] = "text/event-stream"
		resp, err := doStreamRequest(ctx, p.client, http.MethodGet, pred.URLs.Stream, nil, sh)
		if err != nil {
			yield(domain.RawOutput{}, err)
			return
		}
		defer resp.Body.Close()

		for line, err := range scanLines(resp.Body) {
			if !yield(domain.RawOutput{Data: line}, err) || err != nil {
				return
			}
		}
	}
}

// create posts the prediction.
func (p *Replicate) create(ctx context.Context, req domain.Request, stream bool, headers map[string]string) (*replicatePrediction, error) {
	body := replicateRequest{
		Stream: stream,
		Input: replicateInput{
			Prompt:       formatPrompt(req.Messages),
			SystemPrompt: req.StringOption("system_prompt", ""),
			MaxNewTokens: req.IntOption("max_new_tokens", 0),
		},
	}
	if v, ok := req.Option("temperature"); ok {
		if f, ok := v.(float64); ok {
			body.Input.Temperature = &f
		}
	}
	if stop, ok := req.Option("stop"); ok {
		if list, ok := stop.([]string); ok {
			body.Input.StopSequences = strings.Join(list, ",")
		}
	}

	url := p.baseURL + "/models/" + req.Model + "/predictions"
	if version, ok := replicateVersions[req.Model]; ok {
		body.Version = version
		url = p.baseURL + "/predictions"
	} else if version := req.StringOption("version", ""); version != "" {
		body.Version = version
		url = p.baseURL + "/models/" + req.Model + "/versions/" + version + "/predictions"
	}

	var pred replicatePrediction
	if err := doJSON(ctx, p.client, http.MethodPost, url, body, headers, &pred); err != nil {
		return nil, err
	}
	if pred.ID == "" {
		return nil, domain.Errorf(domain.KindAdapterProtocolViolation, p.Name(), "invalid prediction response")
	}
	return &pred, nil
}

// job polls the prediction's get URL.
func (p *Replicate) job(getURL string, headers map[string]string) domain.Job {
	return domain.JobFunc(func(ctx context.Context) (domain.JobStatus, error) {
		var pred replicatePrediction
		if err := doJSON(ctx, p.client, http.MethodGet, getURL, nil, headers, &pred); err != nil {
			return domain.JobStatus{}, err
		}
		st := domain.JobStatus{State: domain.JobState(pred.Status)}
		if pred.Error != nil {
			st.Error = fmt.Sprint(pred.Error)
		}
		if st.State == domain.JobSucceeded {
			st.Text = predictionText(pred.Output)
		}
		return st, nil
	})
}

// predictionText flattens an output that is either a string or a list of tokens.
func predictionText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var parts []string
	if err := json.Unmarshal(raw, &parts); err == nil {
		return strings.Join(parts, "")
	}
	return string(raw)
}

var _ domain.Adapter = (*Replicate)(nil)
