// Package product implements the product & alias registry (§4.8): a
// process-local, rebuild-each-pass map from product name to provider
// node, with collision detection and transitive fallback validation.
//
// Grounded on the teacher's pkg/recipe registry pattern (a
// mutex-guarded map rebuilt from source-of-truth state) generalized
// from a static embedded catalog to a live, per-resolver-pass rebuild
// driven by pkg/graph nodes.
package product

import (
	"sort"
	"sync"

	"github.com/charlesnicholson/envy/pkg/envyerrors"
	"github.com/charlesnicholson/envy/pkg/graph"
	"github.com/charlesnicholson/envy/pkg/recipespec"
)

// Registry is the process-local product name → provider map, rebuilt
// under its own mutex on every resolver pass (§4.8, §5).
type Registry struct {
	mu        sync.Mutex
	providers map[string][]*graph.Node
}

// NewRegistry returns an empty product registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string][]*graph.Node)}
}

// Rebuild discards the previous mapping and re-aggregates every
// provider from nodes that have passed recipe_fetch (§4.6
// rebuild_product_registry). It returns a collision error per product
// name with more than one provider; "no priority rules" (§4.8).
func (r *Registry) Rebuild(nodes []*graph.Node) *envyerrors.Bundle {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.providers = make(map[string][]*graph.Node)
	for _, n := range nodes {
		if !n.HasReached(recipespec.PhaseRecipeFetch) {
			continue
		}
		for _, name := range n.ProductNames() {
			r.providers[name] = append(r.providers[name], n)
		}
	}

	bundle := &envyerrors.Bundle{}
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		providers := r.providers[name]
		if len(providers) > 1 {
			keys := make([]string, len(providers))
			for i, p := range providers {
				keys[i] = p.CanonicalKey
			}
			bundle.Add(envyerrors.New(envyerrors.KindProductCollision, name,
				"product has multiple providers").WithCandidates(keys))
		}
	}
	return bundle
}

// FindProvider returns the sole provider for name, if exactly one is
// registered.
func (r *Registry) FindProvider(name string) (*graph.Node, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	providers, ok := r.providers[name]
	if !ok || len(providers) != 1 {
		return nil, false
	}
	return providers[0], true
}

// Names returns every currently registered product name, sorted, for
// "did you mean" suggestions on a missing product reference.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.providers))
	for name := range r.providers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
