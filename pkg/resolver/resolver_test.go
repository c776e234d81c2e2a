package resolver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charlesnicholson/envy/pkg/envyerrors"
	"github.com/charlesnicholson/envy/pkg/graph"
	"github.com/charlesnicholson/envy/pkg/identity"
	"github.com/charlesnicholson/envy/pkg/product"
	"github.com/charlesnicholson/envy/pkg/recipespec"
)

// fakeRunner drives every node straight to completion with no actual
// work, recording the phases it was asked to run. It wires no
// dependencies or products of its own; tests set those up directly on
// the node before seeding it.
type fakeRunner struct {
	install map[string]func(n *graph.Node)
}

func (f *fakeRunner) RunPhase(ctx context.Context, n *graph.Node, phase recipespec.Phase) error {
	if phase == recipespec.PhaseRecipeFetch && f.install != nil {
		if fn, ok := f.install[n.CanonicalKey]; ok {
			fn(n)
		}
	}
	return nil
}

func specFor(pool *recipespec.Pool, name string) *recipespec.Spec {
	return pool.New(recipespec.Spec{ID: identity.Identity{Namespace: "envy", Name: name, Revision: "1"}})
}

func TestResolver_StrongChainConverges(t *testing.T) {
	pool := recipespec.NewPool()
	root := specFor(pool, "app")

	registry := graph.NewRegistry()
	products := product.NewRegistry()
	r := New(registry, products, &fakeRunner{})

	bundle := r.Resolve(context.Background(), []*recipespec.Spec{root})
	require.Nil(t, bundle)

	n, ok := registry.Lookup(root.CanonicalKey())
	require.True(t, ok)
	assert.True(t, n.HasReached(recipespec.PhaseCompletion))
}

// TestResolver_WeakRefConvergesAgainstExistingRoot covers Scenario C's
// second case: a weak reference whose target is also declared as a
// manifest root resolves to that root in the first pass, with no
// fallback spawned.
func TestResolver_WeakRefConvergesAgainstExistingRoot(t *testing.T) {
	pool := recipespec.NewPool()
	root := specFor(pool, "app")
	helperRoot := specFor(pool, "helper")

	registry := graph.NewRegistry()
	products := product.NewRegistry()
	runner := &fakeRunner{install: map[string]func(n *graph.Node){
		root.CanonicalKey(): func(n *graph.Node) {
			n.AddWeakRefs([]*graph.WeakReference{{
				Query:    identity.Query{Name: "helper"},
				NeededBy: recipespec.PhaseFetch,
			}})
		},
	}}
	r := New(registry, products, runner)

	bundle := r.Resolve(context.Background(), []*recipespec.Spec{root, helperRoot})
	require.Nil(t, bundle)

	n, _ := registry.Lookup(root.CanonicalKey())
	helper, _ := registry.Lookup(helperRoot.CanonicalKey())
	edge, ok := n.Dependencies[helper.CanonicalKey]
	require.True(t, ok)
	assert.Equal(t, helper, edge.Node)
}

// TestResolver_WeakRefSpawnsFallback covers Scenario C's first case: no
// existing node provides the query, so the resolver spawns the
// fallback spec and wires the edge to it.
func TestResolver_WeakRefSpawnsFallback(t *testing.T) {
	pool := recipespec.NewPool()
	root := specFor(pool, "app")
	fallback := specFor(pool, "helper")

	registry := graph.NewRegistry()
	products := product.NewRegistry()
	runner := &fakeRunner{install: map[string]func(n *graph.Node){
		root.CanonicalKey(): func(n *graph.Node) {
			n.AddWeakRefs([]*graph.WeakReference{{
				Query:    identity.Query{Name: "helper"},
				Fallback: fallback,
				NeededBy: recipespec.PhaseFetch,
			}})
		},
	}}
	r := New(registry, products, runner)

	bundle := r.Resolve(context.Background(), []*recipespec.Spec{root})
	require.Nil(t, bundle)

	n, _ := registry.Lookup(root.CanonicalKey())
	fallbackNode, ok := registry.Lookup(fallback.CanonicalKey())
	require.True(t, ok)
	edge, ok := n.Dependencies[fallbackNode.CanonicalKey]
	require.True(t, ok)
	assert.Equal(t, fallbackNode, edge.Node)
	assert.True(t, fallbackNode.HasReached(recipespec.PhaseCompletion))
}

// TestResolver_ReferenceOnlyWithNoMatchFails covers a reference-only
// dependency (no fallback) that never finds a match: resolution must
// fail with missing_reference rather than hang.
func TestResolver_ReferenceOnlyWithNoMatchFails(t *testing.T) {
	pool := recipespec.NewPool()
	root := specFor(pool, "app")

	registry := graph.NewRegistry()
	products := product.NewRegistry()
	runner := &fakeRunner{install: map[string]func(n *graph.Node){
		root.CanonicalKey(): func(n *graph.Node) {
			n.AddWeakRefs([]*graph.WeakReference{{
				Query:    identity.Query{Name: "ghost"},
				NeededBy: recipespec.PhaseFetch,
			}})
		},
	}}
	r := New(registry, products, runner)

	bundle := r.Resolve(context.Background(), []*recipespec.Spec{root})
	require.NotNil(t, bundle)
	assert.Len(t, bundle.ByKind(envyerrors.KindMissingReference), 1)
}

// TestResolver_ProductCollisionFails covers Scenario D: two roots
// advertising the same product name must fail with product_collision.
func TestResolver_ProductCollisionFails(t *testing.T) {
	pool := recipespec.NewPool()
	a := specFor(pool, "gcc")
	b := specFor(pool, "clang")

	registry := graph.NewRegistry()
	products := product.NewRegistry()
	runner := &fakeRunner{install: map[string]func(n *graph.Node){
		a.CanonicalKey(): func(n *graph.Node) { n.SetProducts(map[string]string{"compiler": "/a/bin/cc"}) },
		b.CanonicalKey(): func(n *graph.Node) { n.SetProducts(map[string]string{"compiler": "/b/bin/cc"}) },
	}}
	r := New(registry, products, runner)

	bundle := r.Resolve(context.Background(), []*recipespec.Spec{a, b})
	require.NotNil(t, bundle)
	assert.Len(t, bundle.ByKind(envyerrors.KindProductCollision), 1)
}

// TestResolver_ProductRefResolvesToSoleProvider exercises a product
// dependency resolving against another root's advertised product, with
// no fallback ever spawned.
func TestResolver_ProductRefResolvesToSoleProvider(t *testing.T) {
	pool := recipespec.NewPool()
	consumer := specFor(pool, "app")
	provider := specFor(pool, "gcc")

	registry := graph.NewRegistry()
	products := product.NewRegistry()
	runner := &fakeRunner{install: map[string]func(n *graph.Node){
		consumer.CanonicalKey(): func(n *graph.Node) {
			n.AddWeakRefs([]*graph.WeakReference{{
				ProductName: "compiler",
				NeededBy:    recipespec.PhaseFetch,
			}})
		},
		provider.CanonicalKey(): func(n *graph.Node) {
			n.SetProducts(map[string]string{"compiler": "/gcc/bin/cc"})
		},
	}}
	r := New(registry, products, runner)

	bundle := r.Resolve(context.Background(), []*recipespec.Spec{consumer, provider})
	require.Nil(t, bundle)

	consumerNode, _ := registry.Lookup(consumer.CanonicalKey())
	providerNode, _ := registry.Lookup(provider.CanonicalKey())
	edge, ok := consumerNode.Dependencies[providerNode.CanonicalKey]
	require.True(t, ok)
	assert.Equal(t, providerNode, edge.Node)
}

// TestResolver_ProductFallbackMustProvideProduct covers §4.8 transitive
// fallback validation: a product reference's fallback spec is spawned
// because nothing else provides the product, but the fallback itself
// never advertises it, so resolution fails with
// product_fallback_invalid rather than silently leaving the reference
// resolved against a bogus provider.
func TestResolver_ProductFallbackMustProvideProduct(t *testing.T) {
	pool := recipespec.NewPool()
	consumer := specFor(pool, "app")
	fallback := specFor(pool, "helper")

	registry := graph.NewRegistry()
	products := product.NewRegistry()
	runner := &fakeRunner{install: map[string]func(n *graph.Node){
		consumer.CanonicalKey(): func(n *graph.Node) {
			n.AddWeakRefs([]*graph.WeakReference{{
				ProductName: "compiler",
				Fallback:    fallback,
				NeededBy:    recipespec.PhaseFetch,
			}})
		},
	}}
	r := New(registry, products, runner)

	bundle := r.Resolve(context.Background(), []*recipespec.Spec{consumer})
	require.NotNil(t, bundle)
	assert.Len(t, bundle.ByKind(envyerrors.KindProductFallbackBad), 1)
}

func TestFindCandidates_MatchesByPartialIdentity(t *testing.T) {
	pool := recipespec.NewPool()
	a := specFor(pool, "gcc")
	registry := graph.NewRegistry()
	n := registry.EnsureNode(a)

	candidates := findCandidates(identity.Query{Name: "gcc"}, []*graph.Node{n})
	require.Len(t, candidates, 1)
	assert.Equal(t, n, candidates[0])

	none := findCandidates(identity.Query{Name: "nope"}, []*graph.Node{n})
	assert.Empty(t, none)
}
