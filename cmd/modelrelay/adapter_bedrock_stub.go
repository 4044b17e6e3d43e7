//go:build !bedrock

package main

import (
	"fmt"
	"log/slog"

	"modelrelay/internal/domain"
	"modelrelay/internal/infra/config"
)

func createBedrockAdapter(_ config.AdapterConfig, _ *slog.Logger) (domain.Adapter, error) {
	return nil, fmt.Errorf("bedrock adapter requires build with -tags bedrock")
}
