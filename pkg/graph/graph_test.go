package graph

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/charlesnicholson/envy/pkg/identity"
	"github.com/charlesnicholson/envy/pkg/recipespec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingRunner struct {
	mu  sync.Mutex
	ran []string
}

func (r *recordingRunner) RunPhase(ctx context.Context, node *Node, phase recipespec.Phase) error {
	r.mu.Lock()
	r.ran = append(r.ran, node.CanonicalKey+"/"+string(phase))
	r.mu.Unlock()
	return nil
}

func specFor(name string) *recipespec.Spec {
	pool := recipespec.NewPool()
	return pool.New(recipespec.Spec{ID: identity.Identity{Namespace: "envy", Name: name, Revision: "1"}})
}

func TestRegistry_EnsureNode_IsIdempotent(t *testing.T) {
	r := NewRegistry()
	spec := specFor("cmake")
	n1 := r.EnsureNode(spec)
	n2 := r.EnsureNode(spec)
	assert.Same(t, n1, n2)
}

func TestRegistry_EnsureNode_ConcurrentCallsShareOneNode(t *testing.T) {
	r := NewRegistry()
	spec := specFor("ninja")
	var wg sync.WaitGroup
	nodes := make([]*Node, 32)
	for i := range nodes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			nodes[i] = r.EnsureNode(spec)
		}(i)
	}
	wg.Wait()
	for _, n := range nodes {
		assert.Same(t, nodes[0], n)
	}
}

func TestNode_StartTo_RunsPhasesInOrderToCompletion(t *testing.T) {
	r := NewRegistry()
	runner := &recordingRunner{}
	n := r.EnsureNode(specFor("zlib"))

	n.StartTo(context.Background(), runner, recipespec.PhaseCompletion)
	require.NoError(t, n.EnsureAt(recipespec.PhaseCompletion))

	runner.mu.Lock()
	defer runner.mu.Unlock()
	want := []string{
		n.CanonicalKey + "/recipe_fetch",
		n.CanonicalKey + "/check",
		n.CanonicalKey + "/fetch",
		n.CanonicalKey + "/stage",
		n.CanonicalKey + "/build",
		n.CanonicalKey + "/install",
		n.CanonicalKey + "/deploy",
	}
	assert.Equal(t, want, runner.ran)
}

func TestNode_StartTo_TargetExtension(t *testing.T) {
	r := NewRegistry()
	runner := &recordingRunner{}
	n := r.EnsureNode(specFor("openssl"))

	n.StartTo(context.Background(), runner, recipespec.PhaseFetch)
	require.NoError(t, n.EnsureAt(recipespec.PhaseFetch))
	assert.False(t, n.HasReached(recipespec.PhaseStage))

	n.StartTo(context.Background(), runner, recipespec.PhaseCompletion)
	require.NoError(t, n.EnsureAt(recipespec.PhaseCompletion))
}

func TestNode_EnsureAt_BlocksUntilDependencyCompletes(t *testing.T) {
	r := NewRegistry()
	runner := &recordingRunner{}
	dep := r.EnsureNode(specFor("dep"))
	dependent := r.EnsureNode(specFor("dependent"))

	require.NoError(t, r.AttachDependency(dependent, dep, recipespec.PhaseFetch, DeclaredDep{}, nil))

	dependent.StartTo(context.Background(), runner, recipespec.PhaseCompletion)

	// Dependent must not pass fetch before dep starts; give the
	// scheduler a moment, then release the dependency.
	time.Sleep(20 * time.Millisecond)
	assert.False(t, dependent.HasReached(recipespec.PhaseFetch))

	dep.StartTo(context.Background(), runner, recipespec.PhaseCompletion)
	require.NoError(t, dependent.EnsureAt(recipespec.PhaseCompletion))
	require.NoError(t, dep.EnsureAt(recipespec.PhaseCompletion))
}

func TestRegistry_AttachDependency_DetectsCycle(t *testing.T) {
	r := NewRegistry()
	a := r.EnsureNode(specFor("a"))
	b := r.EnsureNode(specFor("b"))

	require.NoError(t, r.AttachDependency(a, b, recipespec.PhaseFetch, DeclaredDep{}, []string{a.CanonicalKey}))
	err := r.AttachDependency(b, a, recipespec.PhaseFetch, DeclaredDep{}, []string{b.CanonicalKey, a.CanonicalKey})
	require.Error(t, err)
}
