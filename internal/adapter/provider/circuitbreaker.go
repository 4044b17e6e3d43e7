package provider

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"modelrelay/internal/domain"
	"modelrelay/internal/infra/config"
)

// Default circuit breaker settings.
const (
	defaultCBMaxFailures uint32        = 5
	defaultCBTimeout     time.Duration = 30 * time.Second
	defaultCBInterval    time.Duration = 60 * time.Second
)

// Breaker wraps an adapter with a circuit breaker. A generation is settled by its
// first raw element: an output counts as success, an error as failure. While the
// circuit is open, Generate fails fast with UpstreamUnavailable so the orchestrator
// moves on to the next candidate.
type Breaker struct {
	domain.Adapter
	breaker *gobreaker.TwoStepCircuitBreaker[struct{}]
	logger  *slog.Logger
}

// WithCircuitBreaker wraps inner. Zero-valued settings fall back to defaults.
func WithCircuitBreaker(inner domain.Adapter, cfg config.CircuitBreakerConfig, logger *slog.Logger) *Breaker {
	if logger == nil {
		logger = slog.Default()
	}
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultCBMaxFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultCBTimeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultCBInterval
	}

	cb := gobreaker.NewTwoStepCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "adapter:" + inner.Name(),
		MaxRequests: 1, // one probe while half-open
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		// Caller-side failures say nothing about upstream health.
		IsExcluded: func(err error) bool {
			return errors.Is(err, context.Canceled) || errors.Is(err, domain.ErrMissingAuth)
		},
	})

	return &Breaker{Adapter: inner, breaker: cb, logger: logger}
}

// Generate implements domain.Adapter.
func (b *Breaker) Generate(ctx context.Context, req domain.Request) iter.Seq2[domain.RawOutput, error] {
	return func(yield func(domain.RawOutput, error) bool) {
		done, err := b.breaker.Allow()
		if err != nil {
			yield(domain.RawOutput{}, domain.NewError(domain.KindUpstreamUnavailable, b.Name(), err))
			return
		}
		settled := false
		settle := func(err error) {
			if !settled {
				settled = true
				done(err)
			}
		}
		defer settle(context.Canceled)

		for out, err := range b.Adapter.Generate(ctx, req) {
			settle(err)
			if !yield(out, err) {
				return
			}
		}
		settle(domain.Errorf(domain.KindAdapterProtocolViolation, b.Name(), "empty output sequence"))
	}
}

// StaticModels forwards to the wrapped adapter when it has static declarations.
func (b *Breaker) StaticModels() []string {
	if sc, ok := b.Adapter.(domain.StaticCatalog); ok {
		return sc.StaticModels()
	}
	return nil
}

// AliasNames forwards to the wrapped adapter.
func (b *Breaker) AliasNames() []string {
	if sc, ok := b.Adapter.(domain.StaticCatalog); ok {
		return sc.AliasNames()
	}
	return nil
}

// State returns the current circuit state.
func (b *Breaker) State() gobreaker.State { return b.breaker.State() }

// Counts returns the current failure and success counts.
func (b *Breaker) Counts() gobreaker.Counts { return b.breaker.Counts() }

// Unwrap returns the wrapped adapter.
func (b *Breaker) Unwrap() domain.Adapter { return b.Adapter }

var (
	_ domain.Adapter       = (*Breaker)(nil)
	_ domain.StaticCatalog = (*Breaker)(nil)
)
