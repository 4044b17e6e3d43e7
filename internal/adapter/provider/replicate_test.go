package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modelrelay/internal/domain"
	"modelrelay/internal/infra/config"
	"modelrelay/internal/usecase/normalize"
)

func newReplicateServer(t *testing.T, polls *atomic.Int32) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer r8-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/models/meta/meta-llama-3-70b-instruct/predictions":
			var body replicateRequest
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil || !body.Stream {
				t.Errorf("expected a streaming prediction, got %+v (%v)", body, err)
			}
			json.NewEncoder(w).Encode(map[string]any{
				"id": "p1", "status": "starting",
				"urls": map[string]string{"stream": srv.URL + "/stream/p1", "get": srv.URL + "/get/p1"},
			})
		case "/predictions":
			var body replicateRequest
			json.NewDecoder(r.Body).Decode(&body)
			if body.Version != replicateVersions["daanelson/minigpt-4"] {
				t.Errorf("version = %q", body.Version)
			}
			json.NewEncoder(w).Encode(map[string]any{
				"id": "p2", "status": "starting",
				"urls": map[string]string{"get": srv.URL + "/get/p2"},
			})
		case "/stream/p1":
			if r.Header.Get("Accept") != "text/event-stream" {
				t.Errorf("accept = %q", r.Header.Get("Accept"))
			}
			w.Write([]byte("event: output\ndata: Hello\n\nevent: output\ndata:\n\nevent: output\ndata: world\n\nevent: done\ndata: {}\n\n"))
		case "/get/p2":
			if polls.Add(1) < 2 {
				json.NewEncoder(w).Encode(map[string]any{"id": "p2", "status": "processing"})
				return
			}
			json.NewEncoder(w).Encode(map[string]any{"id": "p2", "status": "succeeded", "output": []string{"a ", "cat"}})
		default:
			http.NotFound(w, r)
		}
	}))
	return srv
}

func TestReplicateMissingCredential(t *testing.T) {
	p := NewReplicate(config.AdapterConfig{Name: "replicate"}, newTestLogger())
	assert.True(t, p.NeedsAuth())

	_, err := collectRaw(p.Generate(context.Background(), domain.Request{Model: "meta/meta-llama-3-70b-instruct"}))
	assert.ErrorIs(t, err, domain.ErrMissingAuth)
}

func TestReplicateStreamNormalized(t *testing.T) {
	var polls atomic.Int32
	srv := newReplicateServer(t, &polls)
	defer srv.Close()

	p := NewReplicate(config.AdapterConfig{Name: "replicate", BaseURL: srv.URL}, newTestLogger())
	model := p.ResolveModel("meta-llama/Meta-Llama-3-70B-Instruct")
	require.Equal(t, domain.ShapeEventStream, p.Shape(model))

	req := domain.Request{
		Model:      model,
		Messages:   []domain.Message{{Role: domain.RoleUser, Content: "hi"}},
		Credential: &domain.Credential{APIKey: "r8-key"},
	}
	chunks := slices.Collect(normalize.New().Normalize(context.Background(), p.Shape(model), p.Generate(context.Background(), req)))

	var texts []string
	for _, c := range chunks[:len(chunks)-1] {
		require.Equal(t, domain.ChunkText, c.Kind)
		texts = append(texts, c.Text)
	}
	assert.Equal(t, []string{"Hello", "\n", "world"}, texts)
	assert.Equal(t, domain.ChunkDone, chunks[len(chunks)-1].Kind)
}

func TestReplicatePollJob(t *testing.T) {
	var polls atomic.Int32
	srv := newReplicateServer(t, &polls)
	defer srv.Close()

	p := NewReplicate(config.AdapterConfig{Name: "replicate", BaseURL: srv.URL, APIKey: "r8-key"}, newTestLogger())
	assert.False(t, p.NeedsAuth())
	model := "daanelson/minigpt-4"
	require.Equal(t, domain.ShapePoll, p.Shape(model))

	norm := normalize.New(normalize.WithPollInterval(time.Millisecond))
	chunks := slices.Collect(norm.Normalize(context.Background(), p.Shape(model),
		p.Generate(context.Background(), domain.Request{Model: model})))

	require.Len(t, chunks, 2)
	assert.Equal(t, "a cat", chunks[0].Text)
	assert.Equal(t, domain.ChunkDone, chunks[1].Kind)
	assert.EqualValues(t, 2, polls.Load())
}

func TestReplicateModelNotFound(t *testing.T) {
	var polls atomic.Int32
	srv := newReplicateServer(t, &polls)
	defer srv.Close()

	p := NewReplicate(config.AdapterConfig{Name: "replicate", BaseURL: srv.URL, APIKey: "r8-key"}, newTestLogger())
	_, err := collectRaw(p.Generate(context.Background(), domain.Request{Model: "nobody/nothing"}))

	var re *domain.Error
	require.ErrorAs(t, err, &re)
	assert.Equal(t, domain.KindUpstreamUnavailable, re.Kind)
	assert.Equal(t, "model not found", re.Message)
}

func TestPredictionText(t *testing.T) {
	assert.Equal(t, "abc", predictionText(json.RawMessage(`"abc"`)))
	assert.Equal(t, "ab", predictionText(json.RawMessage(`["a","b"]`)))
	assert.Equal(t, "", predictionText(json.RawMessage(`null`)))
}
