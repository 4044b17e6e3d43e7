//go:build bedrock

package main

import (
	"log/slog"

	"modelrelay/internal/adapter/provider"
	"modelrelay/internal/domain"
	"modelrelay/internal/infra/config"
)

func createBedrockAdapter(ac config.AdapterConfig, log *slog.Logger) (domain.Adapter, error) {
	return provider.NewBedrock(ac, log)
}
