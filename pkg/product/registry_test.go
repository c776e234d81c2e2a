package product

import (
	"context"
	"testing"

	"github.com/charlesnicholson/envy/pkg/graph"
	"github.com/charlesnicholson/envy/pkg/identity"
	"github.com/charlesnicholson/envy/pkg/recipespec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noopRunner struct{}

func (noopRunner) RunPhase(ctx context.Context, node *graph.Node, phase recipespec.Phase) error {
	return nil
}

func nodeWithProducts(t *testing.T, r *graph.Registry, name string, products map[string]string) *graph.Node {
	t.Helper()
	pool := recipespec.NewPool()
	spec := pool.New(recipespec.Spec{ID: identity.Identity{Namespace: "envy", Name: name, Revision: "1"}})
	n := r.EnsureNode(spec)
	n.StartTo(context.Background(), noopRunner{}, recipespec.PhaseRecipeFetch)
	require.NoError(t, n.EnsureAt(recipespec.PhaseRecipeFetch))
	n.SetProducts(products)
	return n
}

func TestRegistry_Rebuild_NoCollision(t *testing.T) {
	gr := graph.NewRegistry()
	a := nodeWithProducts(t, gr, "gcc", map[string]string{"compiler": "/asset/gcc/bin/gcc"})
	_ = a

	reg := NewRegistry()
	bundle := reg.Rebuild(gr.All())
	assert.True(t, bundle.Empty())

	provider, ok := reg.FindProvider("compiler")
	require.True(t, ok)
	assert.Equal(t, a, provider)
}

func TestRegistry_Rebuild_CollisionOnMultipleProviders(t *testing.T) {
	gr := graph.NewRegistry()
	nodeWithProducts(t, gr, "gcc", map[string]string{"compiler": "/asset/gcc/bin/gcc"})
	nodeWithProducts(t, gr, "clang", map[string]string{"compiler": "/asset/clang/bin/clang"})

	reg := NewRegistry()
	bundle := reg.Rebuild(gr.All())
	require.False(t, bundle.Empty())
	assert.Len(t, bundle.ByKind("product_collision"), 1)

	_, ok := reg.FindProvider("compiler")
	assert.False(t, ok)
}
