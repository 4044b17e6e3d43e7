//go:build integration

package integration

import (
	"log/slog"
	"os"
	"strings"
	"testing"

	"modelrelay/internal/adapter/provider"
	"modelrelay/internal/domain"
	"modelrelay/internal/infra/config"
	"modelrelay/internal/usecase/catalog"
	"modelrelay/internal/usecase/normalize"
	"modelrelay/internal/usecase/orchestrator"
)

func newLiveOrchestrator(t *testing.T, adapters ...domain.Adapter) *orchestrator.Orchestrator {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	reg := catalog.NewRegistry(logger)
	for _, a := range adapters {
		if err := reg.Register(a); err != nil {
			t.Fatalf("register %s: %v", a.Name(), err)
		}
	}
	return orchestrator.New(reg, logger, orchestrator.WithNormalizer(normalize.New(normalize.WithLogger(logger))))
}

func askPong() domain.Request {
	return domain.Request{
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "Reply with the single word: pong"}},
	}
}

func TestE2E_CompleteWithOpenAI(t *testing.T) {
	SkipIfShort(t)
	cfg := LoadConfig()
	SkipIfNoAPIKey(t, cfg.OpenAIKey, "OPENAI")

	ctx := NewTestContext(t, cfg.TestTimeout)
	openai := provider.NewOpenAI(config.AdapterConfig{
		Name:    "openai",
		Type:    "openai",
		BaseURL: cfg.OpenAIURL,
		APIKey:  cfg.OpenAIKey,
		Model:   "gpt-4o-mini",
	}, nil)

	res, err := newLiveOrchestrator(t, openai).Complete(ctx, askPong())
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	t.Logf("response from %s/%s: %q", res.Adapter, res.Model, res.Text)

	if res.Adapter != "openai" {
		t.Errorf("served by %q, want openai", res.Adapter)
	}
	if !strings.Contains(strings.ToLower(res.Text), "pong") {
		t.Errorf("expected pong in %q", res.Text)
	}
}

func TestE2E_FallsBackPastDeadEndpoint(t *testing.T) {
	SkipIfShort(t)
	cfg := LoadConfig()
	SkipIfNoAPIKey(t, cfg.OpenAIKey, "OPENAI")

	ctx := NewTestContext(t, cfg.TestTimeout)
	dead := provider.NewOpenAI(config.AdapterConfig{
		Name:    "dead",
		Type:    "openai",
		BaseURL: "http://127.0.0.1:1",
		APIKey:  "unused",
		Model:   "gpt-4o-mini",
	}, nil)
	live := provider.NewOpenAI(config.AdapterConfig{
		Name:    "openai",
		Type:    "openai",
		BaseURL: cfg.OpenAIURL,
		APIKey:  cfg.OpenAIKey,
		Model:   "gpt-4o-mini",
	}, nil)

	res, err := newLiveOrchestrator(t, dead, live).Complete(ctx, askPong())
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if res.Adapter != "openai" {
		t.Errorf("served by %q, want openai after fallback", res.Adapter)
	}
}

func TestE2E_StreamWithReplicate(t *testing.T) {
	SkipIfShort(t)
	cfg := LoadConfig()
	SkipIfNoAPIKey(t, cfg.ReplicateKey, "REPLICATE")
	if cfg.SkipSlow {
		t.Skip("Skipping slow Replicate prediction")
	}

	ctx := NewTestContext(t, cfg.TestTimeout)
	replicate := provider.NewReplicate(config.AdapterConfig{
		Name:   "replicate",
		Type:   "replicate",
		APIKey: cfg.ReplicateKey,
	}, nil)

	var text strings.Builder
	var last domain.Chunk
	for c := range newLiveOrchestrator(t, replicate).Stream(ctx, askPong()) {
		if c.Kind == domain.ChunkText {
			text.WriteString(c.Text)
		}
		last = c
	}

	if last.Kind != domain.ChunkDone {
		t.Fatalf("stream ended with %s: %v", last.Kind, last.Err)
	}
	if text.Len() == 0 {
		t.Error("expected streamed text")
	}
	t.Logf("replicate response: %q", text.String())
}
