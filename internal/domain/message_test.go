package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRequestWithModelClonesOptions(t *testing.T) {
	req := Request{Model: "gpt-4o", Options: map[string]any{"seed": 1}}
	cp := req.WithModel("openai")
	cp.Options["seed"] = 2

	assert.Equal(t, "gpt-4o", req.Model)
	assert.Equal(t, "openai", cp.Model)
	assert.Equal(t, 1, req.Options["seed"])
}

func TestRequestOptions(t *testing.T) {
	req := Request{Options: map[string]any{
		"width":   float64(512),
		"height":  "768",
		"prompt":  "a cat",
		"seed":    42,
		"timeout": "2s",
		"budget":  float64(3),
	}}
	assert.Equal(t, 512, req.IntOption("width", 1024))
	assert.Equal(t, 768, req.IntOption("height", 1024))
	assert.Equal(t, 1024, req.IntOption("missing", 1024))
	assert.Equal(t, "a cat", req.StringOption("prompt", ""))
	assert.Equal(t, "42", req.StringOption("seed", ""))
	assert.Equal(t, 2*time.Second, req.DurationOption("timeout", 0))
	assert.Equal(t, 3*time.Second, req.DurationOption("budget", 0))
	assert.Equal(t, time.Minute, req.DurationOption("missing", time.Minute))
}

func TestRequestHaveCredential(t *testing.T) {
	if (Request{}).HaveCredential() {
		t.Error("nil credential should not count")
	}
	if (Request{Credential: &Credential{}}).HaveCredential() {
		t.Error("empty key should not count")
	}
	if !(Request{Credential: &Credential{APIKey: "k"}}).HaveCredential() {
		t.Error("key should count")
	}
}

func TestLastUserContent(t *testing.T) {
	req := Request{Messages: []Message{
		{Role: RoleUser, Content: "first"},
		{Role: RoleAssistant, Content: "reply"},
		{Role: RoleUser, Content: "second"},
		{Role: RoleAssistant, Content: "pending"},
	}}
	assert.Equal(t, "second", req.LastUserContent())
	assert.Empty(t, Request{}.LastUserContent())
}
