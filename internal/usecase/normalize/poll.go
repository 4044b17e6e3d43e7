package normalize

import (
	"context"
	"errors"
	"iter"
	"time"

	"modelrelay/internal/domain"
)

func (n *Normalizer) poll(ctx context.Context, raw iter.Seq2[domain.RawOutput, error]) iter.Seq[domain.Chunk] {
	return func(yield func(domain.Chunk) bool) {
		var job domain.Job
		for out, err := range raw {
			if err != nil {
				yield(domain.ErrorChunk(upstreamError(err)))
				return
			}
			if out.Job == nil {
				yield(domain.ErrorChunk(violation(domain.ShapePoll, out)))
				return
			}
			job = out.Job
			break
		}
		if job == nil {
			yield(domain.ErrorChunk(domain.Errorf(domain.KindAdapterProtocolViolation, "", "poll adapter produced no job")))
			return
		}
		n.drive(ctx, job, yield)
	}
}

// drive polls job until it leaves the pending states or the poll budget runs out.
func (n *Normalizer) drive(ctx context.Context, job domain.Job, yield func(domain.Chunk) bool) {
	pctx, cancel := context.WithTimeout(ctx, n.pollTimeout)
	defer cancel()

	timer := time.NewTimer(n.pollInterval)
	timer.Stop()
	defer timer.Stop()

	for {
		st, err := job.Poll(pctx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(pctx.Err(), context.DeadlineExceeded) {
				yield(domain.ErrorChunk(n.timeout()))
				return
			}
			yield(domain.ErrorChunk(upstreamError(err)))
			return
		}

		switch {
		case st.State == domain.JobSucceeded:
			if st.Image != nil {
				if !yield(domain.ImageChunk(*st.Image)) {
					return
				}
			} else if st.Text != "" {
				if !yield(domain.TextChunk(st.Text)) {
					return
				}
			}
			yield(domain.DoneChunk())
			return
		case st.State.Pending():
		default:
			msg := st.Error
			if msg == "" {
				msg = "job ended with status " + string(st.State)
			}
			yield(domain.ErrorChunk(domain.Errorf(domain.KindUpstreamJobFailed, "", "%s", msg)))
			return
		}

		timer.Reset(n.pollInterval)
		select {
		case <-pctx.Done():
			if errors.Is(pctx.Err(), context.DeadlineExceeded) {
				yield(domain.ErrorChunk(n.timeout()))
			} else {
				yield(domain.ErrorChunk(domain.NewError(domain.KindUpstreamIOError, "", pctx.Err())))
			}
			return
		case <-timer.C:
		}
	}
}

func (n *Normalizer) timeout() *domain.Error {
	return domain.Errorf(domain.KindTimeout, "", "job did not complete within %s", n.pollTimeout)
}
