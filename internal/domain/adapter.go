package domain

import (
	"context"
	"iter"
	"maps"
	"slices"
)

// Shape is the static output shape an adapter declares for a resolved model.
// The normalizer decides how to consume Generate from it.
type Shape int

const (
	ShapeText        Shape = iota // RawOutput.Data fragments
	ShapeImage                    // one RawOutput.Image
	ShapePoll                     // one RawOutput.Job
	ShapeEventStream              // RawOutput.Data, one protocol line each
)

func (s Shape) String() string {
	switch s {
	case ShapeText:
		return "text"
	case ShapeImage:
		return "image"
	case ShapePoll:
		return "poll"
	case ShapeEventStream:
		return "event_stream"
	default:
		return "unknown"
	}
}

// RawOutput is one element of an adapter's production. Exactly one field is set.
type RawOutput struct {
	Data  []byte
	Image *Image
	Job   Job
}

// JobState is the lifecycle state reported by a polled job.
type JobState string

const (
	JobStarting   JobState = "starting"
	JobProcessing JobState = "processing"
	JobSucceeded  JobState = "succeeded"
	JobFailed     JobState = "failed"
	JobCanceled   JobState = "canceled"
)

// Pending reports whether the job should be polled again.
func (s JobState) Pending() bool {
	return s == JobStarting || s == JobProcessing
}

// JobStatus is one poll result. Text or Image is set once the job succeeds.
type JobStatus struct {
	State JobState
	Text  string
	Image *Image
	Error string
}

// Job is a submitted upstream job that must be polled until it completes.
type Job interface {
	Poll(ctx context.Context) (JobStatus, error)
}

// JobFunc adapts a function to the Job interface.
type JobFunc func(ctx context.Context) (JobStatus, error)

func (f JobFunc) Poll(ctx context.Context) (JobStatus, error) { return f(ctx) }

// Adapter is the capability surface every backend implementation exposes.
type Adapter interface {
	Name() string
	Working() bool
	NeedsAuth() bool
	SupportsStream() bool

	// ListModels may hit the network. Failures are UpstreamUnavailable.
	ListModels(ctx context.Context) ([]string, error)
	// ResolveModel maps a logical name to the adapter-local identifier.
	ResolveModel(name string) string
	// Shape reports the output shape for a resolved model.
	Shape(model string) Shape
	// Generate is lazy: nothing happens until the sequence is ranged over, and every
	// resource it opens is released when iteration ends for any reason.
	Generate(ctx context.Context, req Request) iter.Seq2[RawOutput, error]
}

// StaticCatalog is implemented by adapters that expose their static declarations.
// The registry uses it when discovery fails and to list logical model names.
type StaticCatalog interface {
	StaticModels() []string
	AliasNames() []string
}

// Descriptor holds the static facts of an adapter. Adapters embed it.
type Descriptor struct {
	AdapterName  string
	IsWorking    bool
	AuthRequired bool
	Streaming    bool
	DefaultModel string
	Models       []string
	Aliases      map[string]string
}

func (d *Descriptor) Name() string         { return d.AdapterName }
func (d *Descriptor) Working() bool        { return d.IsWorking }
func (d *Descriptor) NeedsAuth() bool      { return d.AuthRequired }
func (d *Descriptor) SupportsStream() bool { return d.Streaming }

// ResolveModel applies the descriptor's alias table and default model.
func (d *Descriptor) ResolveModel(name string) string {
	return ResolveModel(name, d.Aliases, d.DefaultModel)
}

// StaticModels returns a copy of the declared model list.
func (d *Descriptor) StaticModels() []string {
	return slices.Clone(d.Models)
}

// AliasNames returns the logical names of the alias table in sorted order.
func (d *Descriptor) AliasNames() []string {
	return slices.Sorted(maps.Keys(d.Aliases))
}

// ResolveModel maps a logical model name to an adapter-local one. An alias hit wins,
// an empty name yields defaultModel, anything else passes through.
func ResolveModel(name string, aliases map[string]string, defaultModel string) string {
	if target, ok := aliases[name]; ok && name != "" {
		return target
	}
	if name == "" {
		return defaultModel
	}
	return name
}
