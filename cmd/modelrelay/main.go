package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"modelrelay/internal/adapter/gateway"
	"modelrelay/internal/adapter/store"
	"modelrelay/internal/infra/config"
	"modelrelay/internal/infra/logger"
	"modelrelay/internal/infra/middleware"
	"modelrelay/internal/infra/tracer"
	"modelrelay/internal/usecase/catalog"
	"modelrelay/internal/usecase/normalize"
	"modelrelay/internal/usecase/orchestrator"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "--help", "-h", "help":
			showUsage()
			return
		}
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`modelrelay - one endpoint in front of many model backends

USAGE:
    modelrelay [FLAGS]

FLAGS:
    -h, --help         Show this help message
    --config PATH      Config file path (default: ./config.yaml)

CONFIGURATION:
    Config file: ./config.yaml (optional, defaults apply when missing)
    Environment: MODELRELAY_* variables override config; a .env file is loaded first
    Secrets:     values prefixed "enc:" are decrypted with MODELRELAY_CONFIG_KEY`)
}

func run() error {
	// 1. Environment and config
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	cfg, err := config.Load(configPath(os.Args[1:]))
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	// 2. Logger & Tracer
	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer tracerShutdown(context.Background())

	// 3. Adapters
	registry, err := initAdapters(cfg, log)
	if err != nil {
		return fmt.Errorf("adapters: %w", err)
	}

	// 4. Attempt store
	var attempts gateway.AttemptLister
	opts := []orchestrator.Option{
		orchestrator.WithConfig(orchestrator.Config{
			Shuffle:        cfg.Orchestrator.Shuffle,
			Seed:           cfg.Orchestrator.Seed,
			RequestTimeout: cfg.Orchestrator.RequestTimeout,
		}),
		orchestrator.WithNormalizer(normalize.New(
			normalize.WithPollInterval(cfg.Orchestrator.PollInterval),
			normalize.WithPollTimeout(cfg.Orchestrator.PollTimeout),
			normalize.WithLogger(log),
		)),
	}
	if cfg.Store.Enabled {
		st, err := store.NewAttemptStore(cfg.Store.Path)
		if err != nil {
			return fmt.Errorf("attempt store: %w", err)
		}
		defer st.Close()
		attempts = st
		opts = append(opts, orchestrator.WithRecorder(st))
		log.Info("attempt store enabled", "path", cfg.Store.Path)
	}

	// 5. Orchestrator
	relay := orchestrator.New(registry, log, opts...)

	// 6. Front end
	srv := gateway.NewServer(gateway.Deps{
		Relay:        relay,
		Catalog:      registry,
		Attempts:     attempts,
		DefaultModel: cfg.DefaultModel,
	}, gateway.Options{
		Addr: cfg.Server.Addr,
		RateLimit: middleware.RateLimitConfig{
			RequestsPerMin: cfg.Server.RateLimit.RequestsPerMin,
			BurstSize:      cfg.Server.RateLimit.Burst,
			TrustedProxies: cfg.Server.TrustedProxies,
		},
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, log)

	log.Info("modelrelay starting",
		"addr", cfg.Server.Addr,
		"adapters", registry.Working(),
		"shuffle", cfg.Orchestrator.Shuffle,
	)
	if err := srv.Start(ctx); err != nil {
		return err
	}
	log.Info("modelrelay stopped")
	return nil
}

// configPath reads --config from args, then MODELRELAY_CONFIG, then ./config.yaml.
func configPath(args []string) string {
	for i, arg := range args {
		if arg == "--config" && i+1 < len(args) {
			return args[i+1]
		}
		if v, ok := strings.CutPrefix(arg, "--config="); ok {
			return v
		}
	}
	if p := os.Getenv("MODELRELAY_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}

// initAdapters builds every configured adapter and registers it in declaration order.
func initAdapters(cfg *config.Config, log *slog.Logger) (*catalog.Registry, error) {
	registry := catalog.NewRegistry(log)
	for _, ac := range cfg.Adapters {
		a, err := createAdapter(ac, cfg.CircuitBreaker, log)
		if err != nil {
			return nil, fmt.Errorf("adapter %s: %w", ac.Name, err)
		}
		if err := registry.Register(a); err != nil {
			return nil, fmt.Errorf("adapter %s: %w", ac.Name, err)
		}
		log.Debug("adapter registered", "adapter", ac.Name, "type", ac.Type, "working", a.Working())
	}
	if cfg.CircuitBreaker.Enabled {
		log.Info("adapter circuit breaker enabled",
			"max_failures", cfg.CircuitBreaker.MaxFailures,
			"timeout", cfg.CircuitBreaker.Timeout,
			"interval", cfg.CircuitBreaker.Interval,
		)
	}
	return registry, nil
}
