package orchestrator

import (
	"context"
	"iter"
	"time"

	"go.opentelemetry.io/otel/trace"

	"modelrelay/internal/domain"
	"modelrelay/internal/infra/tracer"
)

// Outcome is the final state of one attempt.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"    // failed before or after commitment
	OutcomeAbandoned Outcome = "abandoned" // consumer stopped after commitment
)

// Attempt is the record of one (adapter, request) pair.
type Attempt struct {
	RequestID string           `json:"request_id"`
	Adapter   string           `json:"adapter"`
	Model     string           `json:"model"`
	Committed bool             `json:"committed"`
	Outcome   Outcome          `json:"outcome"`
	Kind      domain.ErrorKind `json:"kind,omitempty"`
	Message   string           `json:"message,omitempty"`
	StartedAt time.Time        `json:"started_at"`
	Duration  time.Duration    `json:"duration"`
}

// AttemptRecorder persists attempt records. Errors are logged, never surfaced.
type AttemptRecorder interface {
	RecordAttempt(ctx context.Context, a Attempt) error
}

// attempt runs one candidate. It reports committed when the candidate produced its
// first chunk, in which case every chunk including the terminal one has already
// been forwarded. Otherwise failure holds the attributed error.
func (o *Orchestrator) attempt(ctx context.Context, req domain.Request, a domain.Adapter, yield func(domain.Chunk) bool) (committed bool, failure *domain.Error) {
	name := a.Name()
	model := a.ResolveModel(req.Model)
	rec := Attempt{RequestID: req.ID, Adapter: name, Model: model, StartedAt: time.Now()}

	actx, cancel := context.WithCancel(ctx)
	defer cancel()
	actx, span := tracer.StartSpan(actx, "relay.attempt",
		trace.WithAttributes(
			tracer.StringAttr("relay.adapter", name),
			tracer.StringAttr("relay.adapter_model", model),
		))
	defer span.End()

	norm := o.normalizer.WithPollTimeout(req.DurationOption("poll_timeout", 0))
	chunks := norm.Normalize(actx, a.Shape(model), a.Generate(actx, req.WithModel(model)))
	next, stop := iter.Pull(chunks)
	defer stop()

	first, ok := next()
	if !ok {
		first = domain.ErrorChunk(domain.Errorf(domain.KindAdapterProtocolViolation, name, "empty output sequence"))
	}
	if first.Kind == domain.ChunkError {
		stop()
		failure = attributed(first.Err, name)
		o.logger.Warn("adapter attempt failed",
			"request_id", req.ID, "adapter", name, "model", model,
			"kind", failure.Kind, "error", failure.Message)
		tracer.RecordError(span, failure)
		rec.Outcome, rec.Kind, rec.Message = OutcomeFailed, failure.Kind, failure.Message
		o.record(ctx, rec)
		return false, failure
	}

	o.logger.Info("adapter committed", "request_id", req.ID, "adapter", name, "model", model)
	rec.Committed = true
	rec.Outcome = OutcomeAbandoned
	defer func() { o.record(ctx, rec) }()

	c := first
	for {
		c.Adapter, c.Model = name, model
		if c.Kind == domain.ChunkError {
			c.Err = attributed(c.Err, name)
			rec.Outcome, rec.Kind, rec.Message = OutcomeFailed, c.Err.Kind, c.Err.Message
			tracer.RecordError(span, c.Err)
		} else if c.Kind == domain.ChunkDone {
			rec.Outcome = OutcomeSucceeded
			tracer.SetOK(span)
		}
		if !yield(c) || c.Terminal() {
			if !c.Terminal() {
				rec.Outcome = OutcomeAbandoned
			}
			return true, nil
		}
		if c, ok = next(); !ok {
			c = domain.ErrorChunk(domain.Errorf(domain.KindAdapterProtocolViolation, name, "output ended without a terminal chunk"))
		}
	}
}

func (o *Orchestrator) record(ctx context.Context, rec Attempt) {
	rec.Duration = time.Since(rec.StartedAt)
	if o.recorder == nil {
		return
	}
	if err := o.recorder.RecordAttempt(context.WithoutCancel(ctx), rec); err != nil {
		o.logger.Warn("record attempt failed", "request_id", rec.RequestID, "adapter", rec.Adapter, "error", err)
	}
}

func attributed(e *domain.Error, adapter string) *domain.Error {
	if e == nil {
		return domain.Errorf(domain.KindAdapterProtocolViolation, adapter, "error chunk without error")
	}
	return domain.AsError(e, adapter, e.Kind)
}
