package catalog

import (
	"context"
	"math/rand/v2"

	"modelrelay/internal/domain"
)

// Selection is the input to Eligible.
type Selection struct {
	Model          string // logical model name
	Adapter        string // explicit pin
	HaveCredential bool
	Shuffle        bool
	Seed           uint64
}

// Eligible builds the candidate list for one request. A pin yields exactly that
// adapter with no working or auth filtering. Otherwise working adapters are kept,
// auth-requiring adapters are dropped when no credential is present, and adapters
// whose non-empty model list lacks the resolved model are dropped. Order is
// declaration order or a shuffle that is deterministic for a given seed.
func (r *Registry) Eligible(ctx context.Context, sel Selection) ([]domain.Adapter, error) {
	if sel.Adapter != "" {
		a, err := r.Get(sel.Adapter)
		if err != nil {
			return nil, domain.NewError(domain.KindNoEligibleAdapter, sel.Adapter, err)
		}
		return []domain.Adapter{a}, nil
	}

	var out []domain.Adapter
	for _, a := range r.List() {
		if !a.Working() {
			continue
		}
		if a.NeedsAuth() && !sel.HaveCredential {
			continue
		}
		if !supports(r.Models(ctx, a), a.ResolveModel(sel.Model), sel.Model) {
			continue
		}
		out = append(out, a)
	}
	if len(out) == 0 {
		return nil, domain.Errorf(domain.KindNoEligibleAdapter, "", "no working adapter serves model %q", sel.Model)
	}

	if sel.Shuffle && len(out) > 1 {
		rng := rand.New(rand.NewPCG(sel.Seed, sel.Seed^0x9e3779b97f4a7c15))
		rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	}
	return out, nil
}
