package domain

import (
	"fmt"
	"maps"
	"strconv"
	"time"
)

// Role constants for message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry of the conversation history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Credential is an opaque caller-supplied secret. Adapters decide how to present it.
type Credential struct {
	APIKey string
}

// Request is a generation request. The orchestrator hands each adapter a copy whose
// Model holds the adapter-local identifier.
type Request struct {
	ID       string         `json:"id,omitempty"`
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Adapter  string         `json:"adapter,omitempty"` // explicit pin, disables fallback
	Stream   bool           `json:"stream,omitempty"`
	Options  map[string]any `json:"options,omitempty"`

	Credential *Credential   `json:"-"`
	Shuffle    *bool         `json:"-"` // nil means use the orchestrator default
	Seed       *uint64       `json:"-"`
	Timeout    time.Duration `json:"-"` // overall budget, zero means orchestrator default
}

// HaveCredential reports whether the caller supplied a usable credential.
func (r Request) HaveCredential() bool {
	return r.Credential != nil && r.Credential.APIKey != ""
}

// WithModel returns a shallow copy of r bound to an adapter-local model. The option
// bag is cloned so adapters cannot leak writes across attempts.
func (r Request) WithModel(model string) Request {
	cp := r
	cp.Model = model
	cp.Options = maps.Clone(r.Options)
	return cp
}

// Option returns a raw option value.
func (r Request) Option(key string) (any, bool) {
	v, ok := r.Options[key]
	return v, ok
}

// StringOption returns the option as a string, or def when absent.
func (r Request) StringOption(key, def string) string {
	v, ok := r.Options[key]
	if !ok || v == nil {
		return def
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// IntOption returns the option as an int, or def when absent or not numeric.
// JSON decoding yields float64, so numeric kinds are all accepted.
func (r Request) IntOption(key string, def int) int {
	v, ok := r.Options[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case string:
		if i, err := strconv.Atoi(n); err == nil {
			return i
		}
	}
	return def
}

// DurationOption returns the option as a duration. Strings are parsed with
// time.ParseDuration and numbers are taken as seconds.
func (r Request) DurationOption(key string, def time.Duration) time.Duration {
	v, ok := r.Options[key]
	if !ok {
		return def
	}
	switch d := v.(type) {
	case time.Duration:
		return d
	case int:
		return time.Duration(d) * time.Second
	case float64:
		return time.Duration(d * float64(time.Second))
	case string:
		if p, err := time.ParseDuration(d); err == nil {
			return p
		}
	}
	return def
}

// LastUserContent returns the content of the most recent user message.
func (r Request) LastUserContent() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == RoleUser {
			return r.Messages[i].Content
		}
	}
	return ""
}
