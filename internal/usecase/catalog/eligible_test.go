package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modelrelay/internal/domain"
	"modelrelay/internal/integration"
)

func TestEligibleDropsNotWorkingAndNonDeclaring(t *testing.T) {
	x := integration.NewFake("X", "m1")
	x.IsWorking = false
	y := integration.NewFake("Y", "m1")
	r := newTestRegistry(t, x, y)

	got, err := r.Eligible(context.Background(), Selection{Model: "m1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Y"}, names(got))
}

func TestEligibleModelFiltering(t *testing.T) {
	declares := integration.NewFake("declares", "m1")
	viaAlias := integration.NewFake("alias", "vendor-m1")
	viaAlias.Aliases = map[string]string{"m1": "vendor-m1"}
	lacks := integration.NewFake("lacks", "other")
	open := integration.NewFake("open")
	r := newTestRegistry(t, lacks, declares, open, viaAlias)

	got, err := r.Eligible(context.Background(), Selection{Model: "m1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"declares", "open", "alias"}, names(got))
}

func TestEligibleWithoutCredentialDropsAuthAdapters(t *testing.T) {
	free := integration.NewFake("free")
	paid := integration.NewFake("paid")
	paid.AuthRequired = true
	r := newTestRegistry(t, paid, free)

	got, err := r.Eligible(context.Background(), Selection{})
	require.NoError(t, err)
	for _, a := range got {
		if a.NeedsAuth() {
			t.Errorf("adapter %q needs auth but no credential was given", a.Name())
		}
	}

	got, err = r.Eligible(context.Background(), Selection{HaveCredential: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"paid", "free"}, names(got))
}

func TestEligiblePinBypassesFilters(t *testing.T) {
	off := integration.NewFake("off", "nope")
	off.IsWorking = false
	off.AuthRequired = true
	r := newTestRegistry(t, off, integration.NewFake("other"))

	got, err := r.Eligible(context.Background(), Selection{Model: "m1", Adapter: "off"})
	require.NoError(t, err)
	assert.Equal(t, []string{"off"}, names(got))
}

func TestEligibleUnknownPin(t *testing.T) {
	r := newTestRegistry(t, integration.NewFake("a"))
	_, err := r.Eligible(context.Background(), Selection{Adapter: "ghost"})
	assert.ErrorIs(t, err, domain.ErrNoEligibleAdapter)
	assert.Equal(t, domain.KindNoEligibleAdapter, domain.KindOf(err))
}

func TestEligibleEmpty(t *testing.T) {
	r := newTestRegistry(t, integration.NewFake("a", "m2"))
	_, err := r.Eligible(context.Background(), Selection{Model: "m1"})
	assert.Equal(t, domain.KindNoEligibleAdapter, domain.KindOf(err))
}

func TestEligibleShuffleDeterministic(t *testing.T) {
	var adapters []domain.Adapter
	for _, n := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		adapters = append(adapters, integration.NewFake(n))
	}
	r := newTestRegistry(t, adapters...)

	first, err := r.Eligible(context.Background(), Selection{Shuffle: true, Seed: 7})
	require.NoError(t, err)
	second, err := r.Eligible(context.Background(), Selection{Shuffle: true, Seed: 7})
	require.NoError(t, err)
	assert.Equal(t, names(first), names(second))
	assert.ElementsMatch(t, names(adapters), names(first))

	ordered, err := r.Eligible(context.Background(), Selection{})
	require.NoError(t, err)
	assert.Equal(t, names(adapters), names(ordered))
}
