// Package orchestrator drives one request across candidate adapters with a
// first-chunk commitment gate and exposes the result as a stream or a single value.
package orchestrator

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"

	"modelrelay/internal/domain"
	"modelrelay/internal/infra/tracer"
	"modelrelay/internal/usecase/catalog"
	"modelrelay/internal/usecase/normalize"
)

// Catalog builds candidate lists.
type Catalog interface {
	Eligible(ctx context.Context, sel catalog.Selection) ([]domain.Adapter, error)
}

// Config holds orchestration defaults. Requests may override them.
type Config struct {
	Shuffle        bool
	Seed           uint64 // zero with Shuffle draws a fresh seed per request
	RequestTimeout time.Duration
}

// Orchestrator tries candidates in order until one commits.
type Orchestrator struct {
	catalog    Catalog
	normalizer *normalize.Normalizer
	recorder   AttemptRecorder
	cfg        Config
	logger     *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRecorder stores every attempt outcome.
func WithRecorder(r AttemptRecorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithConfig sets orchestration defaults.
func WithConfig(cfg Config) Option {
	return func(o *Orchestrator) { o.cfg = cfg }
}

// WithNormalizer replaces the default normalizer.
func WithNormalizer(n *normalize.Normalizer) Option {
	return func(o *Orchestrator) {
		if n != nil {
			o.normalizer = n
		}
	}
}

// New creates an Orchestrator.
func New(cat Catalog, logger *slog.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		catalog:    cat,
		normalizer: normalize.New(normalize.WithLogger(logger)),
		logger:     logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Stream runs the request and yields its chunks. The sequence ends in exactly one
// Done or Error chunk. Failures before the first chunk of a candidate advance to the
// next candidate; once a candidate has produced a chunk every later chunk comes from
// it. A pinned adapter is never replaced and its error is surfaced as is. A request
// whose time budget runs out before any candidate commits ends in Timeout. Breaking
// out of the loop cancels the in-flight attempt.
func (o *Orchestrator) Stream(ctx context.Context, req domain.Request) iter.Seq[domain.Chunk] {
	return func(yield func(domain.Chunk) bool) {
		ctx, req := ctx, req
		if req.ID == "" {
			req.ID = NewRequestID()
		}
		timeout := req.Timeout
		if timeout <= 0 {
			timeout = o.cfg.RequestTimeout
		}
		var cancel context.CancelFunc
		if timeout > 0 {
			ctx, cancel = context.WithTimeout(ctx, timeout)
		} else {
			ctx, cancel = context.WithCancel(ctx)
		}
		defer cancel()

		ctx, span := tracer.StartSpan(ctx, "relay.stream",
			trace.WithAttributes(
				tracer.StringAttr("relay.request_id", req.ID),
				tracer.StringAttr("relay.model", req.Model),
			))
		defer span.End()

		candidates, err := o.catalog.Eligible(ctx, o.selection(req))
		if err != nil {
			e := domain.AsError(err, "", domain.KindNoEligibleAdapter)
			o.logger.Warn("no eligible adapter", "request_id", req.ID, "model", req.Model, "error", e)
			tracer.RecordError(span, e)
			yield(domain.ErrorChunk(e))
			return
		}
		span.SetAttributes(tracer.IntAttr("relay.candidates", len(candidates)))
		o.logger.Debug("relay request",
			"request_id", req.ID, "model", req.Model, "candidates", len(candidates))

		var failures []*domain.Error
		for _, a := range candidates {
			committed, failure := o.attempt(ctx, req, a, yield)
			if committed {
				span.SetAttributes(tracer.StringAttr("relay.adapter", a.Name()))
				tracer.SetOK(span)
				return
			}
			if req.Adapter != "" {
				tracer.RecordError(span, failure)
				yield(domain.ErrorChunk(failure))
				return
			}
			failures = append(failures, failure)
			if ctx.Err() != nil {
				break
			}
		}

		agg := &domain.AggregateError{Attempts: failures}
		e := domain.NewError(domain.KindAllAdaptersFailed, "", agg)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			e = &domain.Error{Kind: domain.KindTimeout, Message: "request exceeded its time budget", Err: agg}
		}
		tracer.RecordError(span, e)
		yield(domain.ErrorChunk(e))
	}
}

func (o *Orchestrator) selection(req domain.Request) catalog.Selection {
	shuffle := o.cfg.Shuffle
	if req.Shuffle != nil {
		shuffle = *req.Shuffle
	}
	seed := o.cfg.Seed
	if req.Seed != nil {
		seed = *req.Seed
	} else if shuffle && seed == 0 {
		seed = rand.Uint64()
	}
	return catalog.Selection{
		Model:          req.Model,
		Adapter:        req.Adapter,
		HaveCredential: req.HaveCredential(),
		Shuffle:        shuffle,
		Seed:           seed,
	}
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
)

// NewRequestID returns a monotonic ULID.
func NewRequestID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	t := time.Now()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}
