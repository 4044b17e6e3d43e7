package orchestrator

import (
	"context"
	"iter"
	"strings"

	"modelrelay/internal/domain"
)

// Complete runs the request to completion. It is Collect applied to Stream.
func (o *Orchestrator) Complete(ctx context.Context, req domain.Request) (*domain.Result, error) {
	return Collect(o.Stream(ctx, req))
}

// Collect drains seq into one result: text deltas are concatenated in order and the
// first image is kept. A terminal error chunk is returned as a *domain.Error.
func Collect(seq iter.Seq[domain.Chunk]) (*domain.Result, error) {
	var (
		b   strings.Builder
		res domain.Result
	)
	for c := range seq {
		if res.Adapter == "" && c.Adapter != "" {
			res.Adapter, res.Model = c.Adapter, c.Model
		}
		switch c.Kind {
		case domain.ChunkText:
			b.WriteString(c.Text)
		case domain.ChunkImage:
			if res.Image == nil && c.Image != nil {
				img := *c.Image
				res.Image = &img
			}
		case domain.ChunkError:
			if c.Err == nil {
				return nil, domain.Errorf(domain.KindUnknown, c.Adapter, "error chunk without error")
			}
			return nil, c.Err
		case domain.ChunkDone:
			res.Text = b.String()
			return &res, nil
		}
	}
	return nil, domain.Errorf(domain.KindAdapterProtocolViolation, res.Adapter, "output ended without a terminal chunk")
}
