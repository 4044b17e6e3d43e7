package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"golang.org/x/sync/singleflight"

	"modelrelay/internal/domain"
)

// Registry is the process-wide catalog of adapters. It is read-mostly: adapters are
// registered at startup and model lists are discovered lazily and cached.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]domain.Adapter
	order    []string

	cacheMu sync.RWMutex
	models  map[string][]string
	fetch   singleflight.Group

	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		adapters: make(map[string]domain.Adapter),
		models:   make(map[string][]string),
		logger:   logger,
	}
}

// Register adds an adapter. Declaration order is kept for candidate ordering.
func (r *Registry) Register(a domain.Adapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := a.Name()
	if name == "" {
		return fmt.Errorf("register adapter: empty name")
	}
	if _, exists := r.adapters[name]; exists {
		return fmt.Errorf("register adapter %q: %w", name, domain.ErrAdapterDuplicate)
	}
	r.adapters[name] = a
	r.order = append(r.order, name)
	return nil
}

// Get retrieves an adapter by name.
func (r *Registry) Get(name string) (domain.Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("adapter %q: %w", name, domain.ErrAdapterNotFound)
	}
	return a, nil
}

// List returns all adapters in declaration order.
func (r *Registry) List() []domain.Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Adapter, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.adapters[name])
	}
	return out
}

// Working returns the names of working adapters in declaration order.
func (r *Registry) Working() []string {
	var names []string
	for _, a := range r.List() {
		if a.Working() {
			names = append(names, a.Name())
		}
	}
	return names
}

// Models returns the adapter's model list. The first successful discovery is cached
// for the process lifetime and concurrent first calls share one fetch. A failed
// fetch is logged, not cached, and answered with the adapter's static list.
func (r *Registry) Models(ctx context.Context, a domain.Adapter) []string {
	name := a.Name()

	r.cacheMu.RLock()
	cached, ok := r.models[name]
	r.cacheMu.RUnlock()
	if ok {
		return cached
	}

	v, err, _ := r.fetch.Do(name, func() (any, error) {
		models, err := a.ListModels(ctx)
		if err != nil {
			return nil, domain.AsError(err, name, domain.KindUpstreamUnavailable)
		}
		r.cacheMu.Lock()
		r.models[name] = models
		r.cacheMu.Unlock()
		return models, nil
	})
	if err != nil {
		r.logger.Warn("model discovery failed, using static list",
			"adapter", name, "kind", domain.KindOf(err), "error", err)
		if sc, ok := a.(domain.StaticCatalog); ok {
			return sc.StaticModels()
		}
		return nil
	}
	return v.([]string)
}

// AllModels returns the union of logical model names across working adapters,
// in first-seen order.
func (r *Registry) AllModels(ctx context.Context) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(names []string) {
		for _, n := range names {
			if n == "" {
				continue
			}
			if _, dup := seen[n]; dup {
				continue
			}
			seen[n] = struct{}{}
			out = append(out, n)
		}
	}
	for _, a := range r.List() {
		if !a.Working() {
			continue
		}
		add(r.Models(ctx, a))
		if sc, ok := a.(domain.StaticCatalog); ok {
			add(sc.AliasNames())
		}
	}
	return out
}

// supports reports whether a declared list admits the resolved model. An empty list
// cannot be verified and is admitted. Lists that declare the logical name directly
// are admitted too.
func supports(models []string, resolved, logical string) bool {
	if len(models) == 0 {
		return true
	}
	return slices.Contains(models, resolved) || (logical != "" && slices.Contains(models, logical))
}
