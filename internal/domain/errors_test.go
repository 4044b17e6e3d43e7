package domain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFormat(t *testing.T) {
	err := Errorf(KindUpstreamJobFailed, "replicate", "status %s", "failed")
	want := "replicate: UpstreamJobFailed: status failed"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestErrorFormatNoAdapter(t *testing.T) {
	err := &Error{Kind: KindNoEligibleAdapter}
	if err.Error() != "NoEligibleAdapter" {
		t.Errorf("got %q", err.Error())
	}
}

func TestErrorIsKindSentinel(t *testing.T) {
	err := NewError(KindTimeout, "x", context.DeadlineExceeded)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, ErrUpstreamIO)
}

func TestErrorAsThroughWrap(t *testing.T) {
	wrapped := fmt.Errorf("attempt: %w", Errorf(KindMissingAuth, "replicate", "api key required"))
	var re *Error
	require.ErrorAs(t, wrapped, &re)
	assert.Equal(t, KindMissingAuth, re.Kind)
	assert.Equal(t, "replicate", re.Adapter)
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, KindUnknown},
		{"typed", Errorf(KindRateLimited, "a", "slow down"), KindRateLimited},
		{"sentinel", ErrUpstreamUnavailable, KindUpstreamUnavailable},
		{"wrapped sentinel", fmt.Errorf("fetch: %w", ErrMissingAuth), KindMissingAuth},
		{"deadline", fmt.Errorf("poll: %w", context.DeadlineExceeded), KindTimeout},
		{"url error", &url.Error{Op: "Get", URL: "http://x", Err: errors.New("connection refused")}, KindUpstreamIOError},
		{"unexpected eof", io.ErrUnexpectedEOF, KindUpstreamIOError},
		{"aggregate", &AggregateError{}, KindAllAdaptersFailed},
		{"plain", errors.New("boom"), KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestAsErrorKeepsKindAndStampsAdapter(t *testing.T) {
	orig := Errorf(KindUpstreamJobFailed, "", "job failed")
	got := AsError(orig, "replicate", KindUpstreamIOError)
	assert.Equal(t, KindUpstreamJobFailed, got.Kind)
	assert.Equal(t, "replicate", got.Adapter)
	assert.Empty(t, orig.Adapter, "original must not be mutated")
}

func TestAsErrorFallback(t *testing.T) {
	got := AsError(errors.New("reset by peer"), "openai", KindUpstreamIOError)
	assert.Equal(t, KindUpstreamIOError, got.Kind)
	assert.Equal(t, "reset by peer", got.Message)
	assert.Nil(t, AsError(nil, "x", KindUnknown))
}

func TestAggregateError(t *testing.T) {
	agg := &AggregateError{Attempts: []*Error{
		Errorf(KindUpstreamIOError, "a", "eof"),
		Errorf(KindTimeout, "b", "slow"),
	}}
	assert.ErrorIs(t, agg, ErrAllAdaptersFailed)
	assert.Equal(t, []ErrorKind{KindUpstreamIOError, KindTimeout}, agg.Kinds())
	assert.Equal(t, "all adapters failed: [a: UpstreamIOError: eof; b: Timeout: slow]", agg.Error())

	outer := NewError(KindAllAdaptersFailed, "", agg)
	var got *AggregateError
	require.ErrorAs(t, outer, &got)
	assert.Len(t, got.Attempts, 2)
	assert.Equal(t, KindAllAdaptersFailed, KindOf(outer))
}

func TestAggregateErrorUnwrapsAttempts(t *testing.T) {
	agg := &AggregateError{Attempts: []*Error{
		Errorf(KindUpstreamIOError, "a", "eof"),
		Errorf(KindTimeout, "b", "slow"),
	}}
	outer := NewError(KindAllAdaptersFailed, "", agg)

	assert.ErrorIs(t, outer, ErrTimeout)
	assert.ErrorIs(t, outer, ErrUpstreamIO)
	assert.NotErrorIs(t, outer, ErrRateLimit)

	var first *Error
	require.ErrorAs(t, agg, &first)
	assert.Equal(t, "a", first.Adapter)

	// Classification stays with the aggregate, not its first attempt.
	assert.Equal(t, KindAllAdaptersFailed, KindOf(agg))
	assert.Equal(t, KindAllAdaptersFailed, KindOf(fmt.Errorf("relay: %w", agg)))
	got := AsError(agg, "", KindUnknown)
	if got.Kind != KindAllAdaptersFailed {
		t.Errorf("AsError(agg).Kind = %s, want %s", got.Kind, KindAllAdaptersFailed)
	}
}
