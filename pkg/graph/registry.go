package graph

import (
	"sync"

	"github.com/charlesnicholson/envy/pkg/envyerrors"
	"github.com/charlesnicholson/envy/pkg/recipespec"
	"golang.org/x/sync/singleflight"
)

// Registry is the engine-wide canonical-key → node map (§4.4). EnsureNode
// is idempotent and safe for concurrent callers across every node's
// own executor goroutine.
type Registry struct {
	mu    sync.RWMutex
	nodes map[string]*Node
	sf    singleflight.Group
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{nodes: make(map[string]*Node)}
}

// EnsureNode implements §4.4 ensure_node: the canonical key selects an
// existing node if present, otherwise allocates and registers a new
// one. Concurrent calls for the same key are collapsed by
// singleflight so exactly one node is ever created per key.
func (r *Registry) EnsureNode(spec *recipespec.Spec) *Node {
	key := spec.CanonicalKey()

	r.mu.RLock()
	if n, ok := r.nodes[key]; ok {
		r.mu.RUnlock()
		return n
	}
	r.mu.RUnlock()

	v, _, _ := r.sf.Do(key, func() (any, error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		if n, ok := r.nodes[key]; ok {
			return n, nil
		}
		n := newNode(key, spec)
		r.nodes[key] = n
		nodeCount.Set(float64(len(r.nodes)))
		return n, nil
	})
	return v.(*Node)
}

// Lookup returns the node for key, if one has been created.
func (r *Registry) Lookup(key string) (*Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.nodes[key]
	return n, ok
}

// All returns a snapshot of every node currently registered.
func (r *Registry) All() []*Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Node, 0, len(r.nodes))
	for _, n := range r.nodes {
		out = append(out, n)
	}
	return out
}

// AttachDependency wires a resolved strong/weak-satisfied edge from
// dependent to dep at neededBy, after checking that dep cannot already
// reach dependent through existing edges (§4.5 cycle detection). The
// reachability walk follows every edge whatever its needed_by phase;
// it does not distinguish levels. ancestorChain is the canonical-key
// invocation stack, reported verbatim on a cycle error.
func (r *Registry) AttachDependency(dependent, dep *Node, neededBy recipespec.Phase, declared DeclaredDep, ancestorChain []string) error {
	if dep.reachableLocked(dependent.CanonicalKey, map[string]bool{}) {
		return envyerrors.New(envyerrors.KindCycle, dependent.CanonicalKey,
			"dependency cycle detected: "+cycleTrace(ancestorChain, dep.CanonicalKey))
	}
	dependent.addDependency(dep.CanonicalKey, DepEdge{Node: dep, NeededBy: neededBy}, declared)
	return nil
}

func cycleTrace(chain []string, closing string) string {
	out := ""
	for i, k := range chain {
		if i > 0 {
			out += " -> "
		}
		out += k
	}
	if out != "" {
		out += " -> "
	}
	return out + closing
}
