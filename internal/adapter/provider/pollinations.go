package provider

import (
	"context"
	"iter"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"

	"modelrelay/internal/domain"
	"modelrelay/internal/infra/config"
)

const (
	defaultPollinationsText  = "https://text.pollinations.ai"
	defaultPollinationsImage = "https://image.pollinations.ai"
	defaultImageSize         = 1024
	maxRandomSeed            = 100000
)

var (
	pollinationsImageExtra = []string{"unity", "midijourney", "rtist"}
	pollinationsTextExtra  = []string{"sur", "sur-mistral", "claude"}

	pollinationsTextModels  = []string{"openai", "mistral", "llama", "searchgpt", "qwen-coder"}
	pollinationsImageModels = []string{"flux", "turbo"}

	pollinationsAliases = map[string]string{
		"gpt-4o":             "openai",
		"mistral-nemo":       "mistral",
		"llama-3.1-70b":      "llama",
		"gpt-3.5-turbo":      "claude",
		"gpt-4":              "claude",
		"qwen-2.5-coder-32b": "qwen-coder",
		"claude-3.5-sonnet":  "sur",
	}
)

// Pollinations serves free text and image models. Image models produce a URL
// without any network call; text models stream the raw response body. With a
// credential, text goes through the OpenAI-compatible endpoint instead.
type Pollinations struct {
	domain.Descriptor
	textBase  string
	imageBase string
	client    *http.Client
	logger    *slog.Logger

	mu     sync.RWMutex
	images map[string]bool
	known  map[string]bool
}

// NewPollinations creates the adapter. base_url overrides the text host and
// image_base_url the image host.
func NewPollinations(cfg config.AdapterConfig, logger *slog.Logger) *Pollinations {
	if logger == nil {
		logger = slog.Default()
	}
	textBase := strings.TrimRight(cfg.BaseURL, "/")
	if textBase == "" {
		textBase = defaultPollinationsText
	}
	imageBase := strings.TrimRight(cfg.ImageBaseURL, "/")
	if imageBase == "" {
		imageBase = defaultPollinationsImage
	}

	imageModels := cfg.ImageModels
	if len(imageModels) == 0 {
		imageModels = slices.Concat(pollinationsImageModels, pollinationsImageExtra)
	}
	models := cfg.Models
	if len(models) == 0 {
		models = slices.Concat(pollinationsTextModels, imageModels, pollinationsTextExtra)
	}
	aliases := cfg.Aliases
	if aliases == nil {
		aliases = pollinationsAliases
	}
	defaultModel := cfg.Model
	if defaultModel == "" {
		defaultModel = "openai"
	}

	p := &Pollinations{
		Descriptor: domain.Descriptor{
			AdapterName:  cfg.Name,
			IsWorking:    cfg.IsWorking(),
			AuthRequired: boolOr(cfg.NeedsAuth, false),
			Streaming:    true,
			DefaultModel: defaultModel,
			Models:       models,
			Aliases:      aliases,
		},
		textBase:  textBase,
		imageBase: imageBase,
		client:    NewHTTPClient(cfg),
		logger:    logger,
	}
	p.setModels(models, imageModels)
	return p
}

// setModels replaces the accepted model set and the image subset.
func (p *Pollinations) setModels(models, images []string) {
	known := make(map[string]bool, len(models)+len(images))
	imageSet := make(map[string]bool, len(images))
	for _, m := range models {
		known[m] = true
	}
	for _, m := range images {
		known[m] = true
		imageSet[m] = true
	}
	p.mu.Lock()
	p.known, p.images = known, imageSet
	p.mu.Unlock()
}

func (p *Pollinations) accepts(model string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.known[model]
}

// ListModels fetches the image and text model lists and appends the extra models
// the service accepts but does not advertise. The result replaces the accepted
// model set and the image subset.
func (p *Pollinations) ListModels(ctx context.Context) ([]string, error) {
	var images []string
	if err := doJSON(ctx, p.client, http.MethodGet, p.imageBase+"/models", nil, nil, &images); err != nil {
		return nil, domain.NewError(domain.KindUpstreamUnavailable, p.Name(), err)
	}
	images = append(images, pollinationsImageExtra...)

	var texts []struct {
		Name string `json:"name"`
	}
	if err := doJSON(ctx, p.client, http.MethodGet, p.textBase+"/models", nil, nil, &texts); err != nil {
		return nil, domain.NewError(domain.KindUpstreamUnavailable, p.Name(), err)
	}

	models := make([]string, 0, len(texts)+len(images)+len(pollinationsTextExtra))
	for _, t := range texts {
		if t.Name != "" {
			models = append(models, t.Name)
		}
	}
	models = append(models, images...)
	models = append(models, pollinationsTextExtra...)

	p.setModels(models, images)
	return models, nil
}

// Shape reports ShapeImage for image models and ShapeText otherwise.
func (p *Pollinations) Shape(model string) domain.Shape {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.images[model] {
		return domain.ShapeImage
	}
	return domain.ShapeText
}

// Generate implements domain.Adapter. A model outside the accepted set fails with
// UpstreamUnavailable without a network call.
func (p *Pollinations) Generate(ctx context.Context, req domain.Request) iter.Seq2[domain.RawOutput, error] {
	if !p.accepts(req.Model) {
		return func(yield func(domain.RawOutput, error) bool) {
			yield(domain.RawOutput{}, domain.Errorf(domain.KindUpstreamUnavailable, p.Name(), "unknown model %q", req.Model))
		}
	}
	if p.Shape(req.Model) == domain.ShapeImage {
		return func(yield func(domain.RawOutput, error) bool) {
			img := p.imageURL(req)
			yield(domain.RawOutput{Image: &img}, nil)
		}
	}
	if req.HaveCredential() {
		return streamChat(ctx, p.client, p.textBase+"/openai/chat/completions", req.Credential.APIKey, req, p.logger)
	}
	return func(yield func(domain.RawOutput, error) bool) {
		u := p.textBase + "/" + url.PathEscape(formatPrompt(req.Messages)) + "?model=" + url.QueryEscape(req.Model)
		resp, err := doStreamRequest(ctx, p.client, http.MethodGet, u, nil, nil)
		if err != nil {
			yield(domain.RawOutput{}, err)
			return
		}
		defer resp.Body.Close()

		for frag, err := range readFragments(resp.Body) {
			if !yield(domain.RawOutput{Data: frag}, err) || err != nil {
				return
			}
		}
	}
}

// imageURL builds the image location from the prompt, seed and size options.
func (p *Pollinations) imageURL(req domain.Request) domain.Image {
	prompt := req.StringOption("prompt", req.LastUserContent())
	seed := req.IntOption("seed", rand.IntN(maxRandomSeed+1))
	q := url.Values{}
	q.Set("width", strconv.Itoa(req.IntOption("width", defaultImageSize)))
	q.Set("height", strconv.Itoa(req.IntOption("height", defaultImageSize)))
	q.Set("seed", strconv.Itoa(seed))
	q.Set("nofeed", "true")
	q.Set("nologo", "true")
	q.Set("model", req.Model)
	return domain.Image{
		URL:    p.imageBase + "/prompt/" + url.PathEscape(prompt) + "?" + q.Encode(),
		Prompt: prompt,
	}
}

var _ domain.Adapter = (*Pollinations)(nil)
