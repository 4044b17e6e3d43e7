// Package provider holds the concrete backend adapters and the plumbing they share.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"modelrelay/internal/domain"
	"modelrelay/internal/infra/config"
)

// maxResponseBody is the maximum non-streaming response body read from upstreams.
const maxResponseBody = 10 * 1024 * 1024 // 10 MB

// Default connection pool settings: few hosts, long-lived connections.
const (
	defaultMaxIdleConns        = 20
	defaultMaxIdleConnsPerHost = 10
	defaultMaxConnsPerHost     = 20
	defaultIdleConnTimeout     = 120 * time.Second

	defaultConnTimeout = 30 * time.Second
	defaultRespTimeout = 120 * time.Second
)

// NewPooledTransport creates an http.Transport with connection pooling. respTimeout
// bounds the wait for response headers only, so long streams are not cut.
func NewPooledTransport(connTimeout, respTimeout time.Duration, pool config.PoolConfig) *http.Transport {
	if connTimeout <= 0 {
		connTimeout = defaultConnTimeout
	}
	if respTimeout <= 0 {
		respTimeout = defaultRespTimeout
	}
	maxIdle := pool.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = defaultMaxIdleConns
	}
	maxIdlePerHost := pool.MaxIdleConnsPerHost
	if maxIdlePerHost <= 0 {
		maxIdlePerHost = defaultMaxIdleConnsPerHost
	}
	maxConnsPerHost := pool.MaxConnsPerHost
	if maxConnsPerHost <= 0 {
		maxConnsPerHost = defaultMaxConnsPerHost
	}
	idleTimeout := pool.IdleConnTimeout
	if idleTimeout <= 0 {
		idleTimeout = defaultIdleConnTimeout
	}

	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   connTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: respTimeout,
		MaxIdleConns:          maxIdle,
		MaxIdleConnsPerHost:   maxIdlePerHost,
		MaxConnsPerHost:       maxConnsPerHost,
		IdleConnTimeout:       idleTimeout,
		ForceAttemptHTTP2:     true,
	}
}

// NewHTTPClient creates the pooled client shared by the HTTP adapters. It sets no
// Client.Timeout: streaming bodies are bounded by the request context instead.
func NewHTTPClient(cfg config.AdapterConfig) *http.Client {
	return &http.Client{
		Transport: NewPooledTransport(cfg.ConnTimeout, cfg.RespTimeout, cfg.Pool),
	}
}

// doStreamRequest sends a request and returns the open response. The caller closes
// the body. Non-2xx statuses are mapped to typed errors.
func doStreamRequest(ctx context.Context, client *http.Client, method, url string, body []byte, headers map[string]string) (*http.Response, error) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, url, rdr)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := client.Do(httpReq)
	if err != nil {
		return nil, transportError(err)
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		defer httpResp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		return nil, mapHTTPError(httpResp.StatusCode, respBody)
	}
	return httpResp, nil
}

// doJSON performs a request and decodes a JSON response into out.
func doJSON(ctx context.Context, client *http.Client, method, url string, in any, headers map[string]string, out any) error {
	var body []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = b
	}
	if headers == nil {
		headers = map[string]string{}
	}
	headers["Accept"] = "application/json"

	resp, err := doStreamRequest(ctx, client, method, url, body, headers)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return transportError(err)
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return domain.Errorf(domain.KindUpstreamIOError, "", "decode response: %v", err)
	}
	return nil
}

// mapHTTPError maps an HTTP status and body to a typed error.
func mapHTTPError(statusCode int, body []byte) *domain.Error {
	detail := strings.TrimSpace(string(body))
	if detail == "" {
		detail = http.StatusText(statusCode)
	}

	switch {
	case statusCode == http.StatusTooManyRequests:
		return domain.Errorf(domain.KindRateLimited, "", "status %d: %s", statusCode, detail)
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return domain.Errorf(domain.KindMissingAuth, "", "status %d: %s", statusCode, detail)
	case statusCode == http.StatusNotFound:
		return domain.Errorf(domain.KindUpstreamUnavailable, "", "model not found")
	case statusCode >= 500:
		return domain.Errorf(domain.KindUpstreamIOError, "", "status %d: %s", statusCode, detail)
	default:
		return domain.Errorf(domain.KindUpstreamUnavailable, "", "status %d: %s", statusCode, detail)
	}
}

// transportError classifies a client-side failure. A deadline reads as Timeout,
// anything else as an I/O failure.
func transportError(err error) *domain.Error {
	return domain.AsError(err, "", domain.KindUpstreamIOError)
}

// formatPrompt renders a conversation as "role: content" lines followed by an open
// assistant turn. A lone user message is sent as is.
func formatPrompt(msgs []domain.Message) string {
	if len(msgs) == 1 && msgs[0].Role == domain.RoleUser {
		return msgs[0].Content
	}
	var b strings.Builder
	for _, m := range msgs {
		b.WriteString(string(m.Role))
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteByte('\n')
	}
	b.WriteString("assistant:")
	return b.String()
}

// bearer returns the Authorization header for key, or none.
func bearer(key string) map[string]string {
	if key == "" {
		return map[string]string{}
	}
	return map[string]string{"Authorization": "Bearer " + key}
}

// credentialKey prefers the request credential over the configured key.
func credentialKey(req domain.Request, configured string) string {
	if req.Credential != nil && req.Credential.APIKey != "" {
		return req.Credential.APIKey
	}
	return configured
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}
