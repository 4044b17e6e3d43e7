package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modelrelay/internal/domain"
	"modelrelay/internal/infra/config"
	"modelrelay/internal/integration"
)

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	inner := integration.NewFake("flaky", "m1").Failing(errors.New("connection refused"))
	b := WithCircuitBreaker(inner, config.CircuitBreakerConfig{MaxFailures: 2, Timeout: time.Minute}, newTestLogger())

	for range 2 {
		_, err := collectRaw(b.Generate(context.Background(), domain.Request{}))
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, b.State())

	_, err := collectRaw(b.Generate(context.Background(), domain.Request{}))
	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
	assert.Equal(t, 2, inner.Calls(), "an open circuit must not reach the adapter")
}

func TestBreakerSuccessKeepsClosed(t *testing.T) {
	inner := integration.NewFake("ok").Texts("a", "b")
	b := WithCircuitBreaker(inner, config.CircuitBreakerConfig{MaxFailures: 1}, newTestLogger())

	for range 3 {
		parts, err := collectRaw(b.Generate(context.Background(), domain.Request{}))
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, parts)
	}
	assert.Equal(t, gobreaker.StateClosed, b.State())
	assert.EqualValues(t, 3, b.Counts().TotalSuccesses)
}

func TestBreakerIgnoresMissingAuth(t *testing.T) {
	inner := integration.NewFake("paid").Failing(domain.Errorf(domain.KindMissingAuth, "", "no key"))
	b := WithCircuitBreaker(inner, config.CircuitBreakerConfig{MaxFailures: 1}, newTestLogger())

	for range 3 {
		_, err := collectRaw(b.Generate(context.Background(), domain.Request{}))
		assert.ErrorIs(t, err, domain.ErrMissingAuth)
	}
	assert.Equal(t, gobreaker.StateClosed, b.State())
}

func TestBreakerMidStreamErrorDoesNotTrip(t *testing.T) {
	inner := integration.NewFake("partial").Texts("x")
	inner.Err = errors.New("reset")
	b := WithCircuitBreaker(inner, config.CircuitBreakerConfig{MaxFailures: 1}, newTestLogger())

	_, err := collectRaw(b.Generate(context.Background(), domain.Request{}))
	require.Error(t, err)
	assert.Equal(t, gobreaker.StateClosed, b.State())
}

func TestBreakerForwardsCatalog(t *testing.T) {
	inner := integration.NewFake("fwd", "m1", "m2")
	inner.Aliases = map[string]string{"alias": "m1"}
	b := WithCircuitBreaker(inner, config.CircuitBreakerConfig{}, newTestLogger())

	assert.Equal(t, "fwd", b.Name())
	assert.Equal(t, []string{"m1", "m2"}, b.StaticModels())
	assert.Equal(t, []string{"alias"}, b.AliasNames())
	assert.Equal(t, "m1", b.ResolveModel("alias"))
	assert.Same(t, inner, b.Unwrap())
}
