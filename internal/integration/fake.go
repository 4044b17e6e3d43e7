package integration

import (
	"context"
	"iter"
	"sync"
	"sync/atomic"

	"modelrelay/internal/domain"
)

// FakeAdapter is a scriptable adapter for tests. Outputs are yielded in order; when
// Err is set it is yielded after the outputs.
type FakeAdapter struct {
	domain.Descriptor

	OutShape domain.Shape
	Outputs  []domain.RawOutput
	Err      error
	Block    bool // wait for ctx to end before yielding its error

	ListErr    error
	Discovered []string // returned by ListModels; nil falls back to Descriptor.Models

	calls    atomic.Int32
	lists    atomic.Int32
	released atomic.Int32

	mu       sync.Mutex
	requests []domain.Request
}

// NewFake creates a working, streaming fake with the given models.
func NewFake(name string, models ...string) *FakeAdapter {
	return &FakeAdapter{Descriptor: domain.Descriptor{
		AdapterName: name,
		IsWorking:   true,
		Streaming:   true,
		Models:      models,
	}}
}

// Texts scripts the fake to yield text fragments.
func (f *FakeAdapter) Texts(parts ...string) *FakeAdapter {
	for _, p := range parts {
		f.Outputs = append(f.Outputs, domain.RawOutput{Data: []byte(p)})
	}
	return f
}

// Failing scripts the fake to fail before producing anything.
func (f *FakeAdapter) Failing(err error) *FakeAdapter {
	f.Outputs = nil
	f.Err = err
	return f
}

// Blocking scripts the fake to produce nothing until its context ends.
func (f *FakeAdapter) Blocking() *FakeAdapter {
	f.Outputs = nil
	f.Block = true
	return f
}

func (f *FakeAdapter) ListModels(context.Context) ([]string, error) {
	f.lists.Add(1)
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	if f.Discovered != nil {
		return f.Discovered, nil
	}
	return f.Models, nil
}

func (f *FakeAdapter) Shape(string) domain.Shape { return f.OutShape }

func (f *FakeAdapter) Generate(ctx context.Context, req domain.Request) iter.Seq2[domain.RawOutput, error] {
	return func(yield func(domain.RawOutput, error) bool) {
		f.calls.Add(1)
		f.mu.Lock()
		f.requests = append(f.requests, req)
		f.mu.Unlock()
		defer f.released.Add(1)

		if f.Block {
			<-ctx.Done()
			yield(domain.RawOutput{}, ctx.Err())
			return
		}
		for _, out := range f.Outputs {
			if ctx.Err() != nil {
				yield(domain.RawOutput{}, ctx.Err())
				return
			}
			if !yield(out, nil) {
				return
			}
		}
		if f.Err != nil {
			yield(domain.RawOutput{}, f.Err)
		}
	}
}

// Calls returns how many times Generate was ranged over.
func (f *FakeAdapter) Calls() int { return int(f.calls.Load()) }

// ListCalls returns how many times ListModels ran.
func (f *FakeAdapter) ListCalls() int { return int(f.lists.Load()) }

// Released returns how many Generate iterations ran their cleanup.
func (f *FakeAdapter) Released() int { return int(f.released.Load()) }

// Requests returns the requests seen by Generate.
func (f *FakeAdapter) Requests() []domain.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Request, len(f.requests))
	copy(out, f.requests)
	return out
}
