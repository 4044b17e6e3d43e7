package main

import (
	"fmt"
	"log/slog"

	"modelrelay/internal/adapter/provider"
	"modelrelay/internal/domain"
	"modelrelay/internal/infra/config"
)

// createAdapter builds one adapter from its config and wraps it with the circuit
// breaker when enabled.
func createAdapter(ac config.AdapterConfig, cb config.CircuitBreakerConfig, log *slog.Logger) (domain.Adapter, error) {
	var (
		a   domain.Adapter
		err error
	)
	switch ac.Type {
	case "pollinations":
		a = provider.NewPollinations(ac, log)
	case "replicate":
		a = provider.NewReplicate(ac, log)
	case "openai":
		a = provider.NewOpenAI(ac, log)
	case "bedrock":
		a, err = createBedrockAdapter(ac, log)
	default:
		err = fmt.Errorf("unknown adapter type %q", ac.Type)
	}
	if err != nil {
		return nil, err
	}

	if cb.Enabled {
		a = provider.WithCircuitBreaker(a, cb, log)
	}
	return a, nil
}
