package recipespec

import (
	"sync"
	"testing"

	"github.com/charlesnicholson/envy/pkg/identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_New_ReturnsStablePointers(t *testing.T) {
	p := NewPool()
	first := p.New(Spec{ID: identity.Identity{Namespace: "envy", Name: "a", Revision: "1"}})
	for i := 0; i < 256; i++ {
		p.New(Spec{ID: identity.Identity{Namespace: "envy", Name: "filler", Revision: "1"}})
	}
	assert.Equal(t, "envy.a@1", first.ID.String())
	assert.Equal(t, 257, p.Len())
}

func TestPool_New_ConcurrentEmplaceIsSafe(t *testing.T) {
	p := NewPool()
	const n = 200
	var wg sync.WaitGroup
	ptrs := make([]*Spec, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ptrs[i] = p.New(Spec{ID: identity.Identity{Namespace: "envy", Name: "x", Revision: "1"}})
		}(i)
	}
	wg.Wait()
	require.Equal(t, n, p.Len())
	seen := make(map[*Spec]bool, n)
	for _, ptr := range ptrs {
		require.NotNil(t, ptr)
		seen[ptr] = true
	}
	assert.Len(t, seen, n, "every allocation must get a distinct stable pointer")
}

func TestPool_All_IsSnapshot(t *testing.T) {
	p := NewPool()
	p.New(Spec{ID: identity.Identity{Namespace: "envy", Name: "a", Revision: "1"}})
	snap := p.All()
	p.New(Spec{ID: identity.Identity{Namespace: "envy", Name: "b", Revision: "1"}})
	assert.Len(t, snap, 1)
	assert.Len(t, p.All(), 2)
}
