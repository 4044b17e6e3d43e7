package config

import (
	"fmt"
	"net"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// listing every problem found.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateServer(cfg, ve)
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	validateOrchestrator(cfg, ve)
	validateStore(cfg, ve)
	validateAdapters(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateServer(cfg *Config, ve *ValidationError) {
	if cfg.Server.Addr == "" {
		ve.Add("server.addr must not be empty")
	}
	if cfg.Server.RateLimit.RequestsPerMin < 0 {
		ve.Add("server.rate_limit.requests_per_min must be >= 0")
	}
	if cfg.Server.RateLimit.RequestsPerMin > 0 && cfg.Server.RateLimit.Burst <= 0 {
		ve.Add("server.rate_limit.burst must be > 0 when rate limiting is enabled")
	}
	for i, p := range cfg.Server.TrustedProxies {
		if _, _, err := net.ParseCIDR(p); err != nil && net.ParseIP(p) == nil {
			ve.Add("server.trusted_proxies[%d] %q is not an IP or CIDR", i, p)
		}
	}
}

var (
	validLevels  = map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true, "": true}
	validFormats = map[string]bool{"text": true, "json": true, "": true}
)

func validateLogger(cfg *Config, ve *ValidationError) {
	if !validLevels[strings.ToLower(cfg.Logger.Level)] {
		ve.Add("logger.level %q is invalid (want: debug, info, warn, error)", cfg.Logger.Level)
	}
	if !validFormats[strings.ToLower(cfg.Logger.Format)] {
		ve.Add("logger.format %q is invalid (want: text, json)", cfg.Logger.Format)
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	switch cfg.Tracer.Exporter {
	case "", "noop", "stdout":
	default:
		ve.Add("tracer.exporter %q is invalid (want: noop, stdout)", cfg.Tracer.Exporter)
	}
}

func validateOrchestrator(cfg *Config, ve *ValidationError) {
	o := cfg.Orchestrator
	if o.PollInterval <= 0 {
		ve.Add("orchestrator.poll_interval must be > 0")
	}
	if o.PollTimeout <= 0 {
		ve.Add("orchestrator.poll_timeout must be > 0")
	}
	if o.RequestTimeout < 0 {
		ve.Add("orchestrator.request_timeout must be >= 0")
	}
}

func validateStore(cfg *Config, ve *ValidationError) {
	if cfg.Store.Enabled && cfg.Store.Path == "" {
		ve.Add("store.path must not be empty when the store is enabled")
	}
}

// ValidAdapterTypes lists the adapter types the binary knows how to build.
var ValidAdapterTypes = map[string]bool{
	"pollinations": true,
	"replicate":    true,
	"openai":       true,
	"bedrock":      true,
}

func validateAdapters(cfg *Config, ve *ValidationError) {
	if len(cfg.Adapters) == 0 {
		ve.Add("adapters must declare at least one adapter")
		return
	}

	seen := make(map[string]bool)
	for i, a := range cfg.Adapters {
		if a.Name == "" {
			ve.Add("adapters[%d].name must not be empty", i)
			continue
		}
		if seen[a.Name] {
			ve.Add("adapters[%d]: duplicate adapter name %q", i, a.Name)
		}
		seen[a.Name] = true

		if !ValidAdapterTypes[a.Type] {
			ve.Add("adapters[%d].type %q is invalid (want: pollinations, replicate, openai, bedrock)", i, a.Type)
		}
		if a.Type == "openai" && a.BaseURL == "" {
			ve.Add("adapters[%d] (%s): base_url is required for openai adapters", i, a.Name)
		}
		if a.Type == "bedrock" && a.Region == "" {
			ve.Add("adapters[%d] (%s): region is required for bedrock adapters", i, a.Name)
		}
		for logical, target := range a.Aliases {
			if logical == "" || target == "" {
				ve.Add("adapters[%d] (%s): aliases must map non-empty names", i, a.Name)
				break
			}
		}
	}
}
