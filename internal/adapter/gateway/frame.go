package gateway

import (
	"encoding/json"
	"net/http"
	"strings"

	"modelrelay/internal/domain"
)

// autoProvider leaves adapter selection to the relay.
const autoProvider = "Auto"

// conversationRequest is the body of POST /conversation and the first websocket frame.
type conversationRequest struct {
	Model    string         `json:"model"`
	Provider string         `json:"provider"`
	APIKey   string         `json:"api_key,omitempty"`
	Stream   *bool          `json:"stream,omitempty"`
	Options  map[string]any `json:"options,omitempty"`
	Meta     struct {
		Content struct {
			Parts []domain.Message `json:"parts"`
		} `json:"content"`
	} `json:"meta"`
}

// errorResponse is the JSON error envelope.
type errorResponse struct {
	Code    string `json:"code"`
	Action  string `json:"_action,omitempty"`
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// toRequest builds the relay request. An empty model falls back to defaultModel, and
// a bearer token is accepted as the credential when the body carries none.
func (c conversationRequest) toRequest(r *http.Request, defaultModel string) domain.Request {
	req := domain.Request{
		Model:    c.Model,
		Messages: c.Meta.Content.Parts,
		Stream:   c.Stream == nil || *c.Stream,
		Options:  c.Options,
	}
	if req.Model == "" {
		req.Model = defaultModel
	}
	if p := strings.TrimSpace(c.Provider); p != "" && p != autoProvider {
		req.Adapter = p
	}

	key := c.APIKey
	if key == "" && r != nil {
		if v, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
			key = strings.TrimSpace(v)
		}
	}
	if key != "" {
		req.Credential = &domain.Credential{APIKey: key}
	}
	return req
}

func (c conversationRequest) validate() string {
	if len(c.Meta.Content.Parts) == 0 {
		return "meta.content.parts must not be empty"
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
