// Package normalize collapses the heterogeneous output shapes of adapters into one
// ordered sequence of typed chunks.
package normalize

import (
	"context"
	"iter"
	"log/slog"
	"time"

	"modelrelay/internal/domain"
)

// Poll defaults.
const (
	DefaultPollInterval = time.Second
	DefaultPollTimeout  = 180 * time.Second
)

// Normalizer turns raw adapter output into chunks. It is immutable and safe for
// concurrent use.
type Normalizer struct {
	pollInterval time.Duration
	pollTimeout  time.Duration
	logger       *slog.Logger
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithPollInterval sets the delay between job polls.
func WithPollInterval(d time.Duration) Option {
	return func(n *Normalizer) {
		if d > 0 {
			n.pollInterval = d
		}
	}
}

// WithPollTimeout sets the overall budget of one poll loop.
func WithPollTimeout(d time.Duration) Option {
	return func(n *Normalizer) {
		if d > 0 {
			n.pollTimeout = d
		}
	}
}

// WithLogger sets the logger used for skipped fragments.
func WithLogger(l *slog.Logger) Option {
	return func(n *Normalizer) {
		if l != nil {
			n.logger = l
		}
	}
}

// New creates a Normalizer.
func New(opts ...Option) *Normalizer {
	n := &Normalizer{
		pollInterval: DefaultPollInterval,
		pollTimeout:  DefaultPollTimeout,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// PollTimeout returns the configured poll budget.
func (n *Normalizer) PollTimeout() time.Duration { return n.pollTimeout }

// WithPollTimeout returns a copy with a different poll budget. Non-positive values
// keep the current budget.
func (n *Normalizer) WithPollTimeout(d time.Duration) *Normalizer {
	if d <= 0 || d == n.pollTimeout {
		return n
	}
	cp := *n
	cp.pollTimeout = d
	return &cp
}

// Normalize consumes raw according to shape. The returned sequence always ends in
// exactly one Done or Error chunk unless the consumer stops first, in which case raw
// is abandoned and its resources are released.
func (n *Normalizer) Normalize(ctx context.Context, shape domain.Shape, raw iter.Seq2[domain.RawOutput, error]) iter.Seq[domain.Chunk] {
	switch shape {
	case domain.ShapeText:
		return n.text(raw)
	case domain.ShapeImage:
		return n.image(raw)
	case domain.ShapePoll:
		return n.poll(ctx, raw)
	case domain.ShapeEventStream:
		return n.events(raw)
	default:
		return func(yield func(domain.Chunk) bool) {
			yield(domain.ErrorChunk(domain.Errorf(domain.KindAdapterProtocolViolation, "", "unknown output shape %d", shape)))
		}
	}
}

// image emits the first image result and Done, then stops consuming.
func (n *Normalizer) image(raw iter.Seq2[domain.RawOutput, error]) iter.Seq[domain.Chunk] {
	return func(yield func(domain.Chunk) bool) {
		for out, err := range raw {
			if err != nil {
				yield(domain.ErrorChunk(upstreamError(err)))
				return
			}
			if out.Image == nil {
				yield(domain.ErrorChunk(violation(domain.ShapeImage, out)))
				return
			}
			if yield(domain.ImageChunk(*out.Image)) {
				yield(domain.DoneChunk())
			}
			return
		}
		yield(domain.ErrorChunk(domain.Errorf(domain.KindAdapterProtocolViolation, "", "image adapter produced no image")))
	}
}

// upstreamError keeps typed errors and classifies the rest, defaulting to an I/O failure.
func upstreamError(err error) *domain.Error {
	return domain.AsError(err, "", domain.KindUpstreamIOError)
}

func violation(shape domain.Shape, out domain.RawOutput) *domain.Error {
	got := "empty"
	switch {
	case out.Image != nil:
		got = "image"
	case out.Job != nil:
		got = "job"
	case out.Data != nil:
		got = "data"
	}
	return domain.Errorf(domain.KindAdapterProtocolViolation, "", "%s adapter produced %s output", shape, got)
}
