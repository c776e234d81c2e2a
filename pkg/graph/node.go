package graph

import (
	"sync"

	"github.com/charlesnicholson/envy/pkg/envyerrors"
	"github.com/charlesnicholson/envy/pkg/identity"
	"github.com/charlesnicholson/envy/pkg/recipespec"
	"github.com/charlesnicholson/envy/pkg/scriptengine"
)

// notStarted is the current/target phase sentinel for a node that has
// not yet begun recipe_fetch.
const notStarted = -1

// DepEdge records one resolved dependency: the node providing it and
// the phase at which the dependent must see it completed.
type DepEdge struct {
	Node     *Node
	NeededBy recipespec.Phase
}

// DeclaredDep is the ordered, as-declared record of a dependency row,
// kept for provenance and diagnostics even after resolution rewires it
// into Dependencies (§3 "declared_dependencies").
type DeclaredDep struct {
	Query       identity.Query
	NeededBy    recipespec.Phase
	ProductName string
}

// WeakReference is one entry of a node's weak_references list (§3): a
// partial-identity or product query, optionally backed by a fallback
// spec, resolved in place by the resolver loop.
type WeakReference struct {
	Query        identity.Query
	Fallback     *recipespec.Spec
	NeededBy     recipespec.Phase
	ProductName  string
	ConstraintID *identity.Identity
	Resolved     bool

	// ViaFallback and FallbackNode are set when this reference was
	// satisfied by spawning its own fallback spec rather than matching
	// an existing node (§4.6); validate_product_fallbacks (§4.8) walks
	// FallbackNode's transitive dependency closure for product refs.
	ViaFallback bool
	FallbackNode *Node
}

// Node is one recipe node, keyed by the canonical form of
// (identity, options) (§3, §4.4).
type Node struct {
	CanonicalKey string
	Spec         *recipespec.Spec

	mu           sync.Mutex
	cond         *sync.Cond
	current      int // phase ordinal, notStarted before recipe_fetch begins
	target       int
	started      bool
	shutdown     bool
	err          *envyerrors.Error

	Dependencies map[string]DepEdge
	Declared     []DeclaredDep
	WeakRefs     []*WeakReference
	Products     map[string]string

	ScriptState scriptengine.State
}

func newNode(key string, spec *recipespec.Spec) *Node {
	n := &Node{
		CanonicalKey: key,
		Spec:         spec,
		current:      notStarted,
		target:       notStarted,
		Dependencies: make(map[string]DepEdge),
		Products:     make(map[string]string),
	}
	n.cond = sync.NewCond(&n.mu)
	return n
}

// CurrentPhase returns the node's current phase ordinal under lock.
func (n *Node) CurrentPhase() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.current
}

// TargetPhase returns the node's target phase ordinal under lock.
func (n *Node) TargetPhase() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.target
}

// Err returns the node's terminal error, if execution failed.
func (n *Node) Err() *envyerrors.Error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.err
}

// HasReached reports whether the node's current phase is at or past
// phase, without blocking.
func (n *Node) HasReached(phase recipespec.Phase) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.current >= phase.Ordinal()
}

// EnsureAt blocks until the node's current phase reaches phase, the
// node fails, or shutdown is requested (§4.5 ensure_at).
func (n *Node) EnsureAt(phase recipespec.Phase) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	for n.current < phase.Ordinal() && n.err == nil && !n.shutdown {
		n.cond.Wait()
	}
	if n.err != nil {
		return n.err
	}
	return nil
}

// DependencySnapshot returns a copy of the node's current dependency
// edges, safe to range over without racing the executor's own reads.
func (n *Node) DependencySnapshot() map[string]DepEdge {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make(map[string]DepEdge, len(n.Dependencies))
	for k, v := range n.Dependencies {
		out[k] = v
	}
	return out
}

// ProductValue returns the value registered under name in this node's
// PRODUCTS table, and whether it was present.
func (n *Node) ProductValue(name string) (string, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	v, ok := n.Products[name]
	return v, ok
}

// SetProducts records the node's PRODUCTS table, read by the recipe_fetch
// handler once the script has been loaded.
func (n *Node) SetProducts(products map[string]string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Products = products
}

// SetWeakRefs records the node's weak/reference-only/product dependency
// entries, consumed by the resolver loop.
func (n *Node) SetWeakRefs(refs []*WeakReference) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.WeakRefs = refs
}

// AddWeakRefs appends to the node's weak-reference list under lock,
// for callers that build the list incrementally rather than assembling
// it all at once before calling SetWeakRefs.
func (n *Node) AddWeakRefs(refs []*WeakReference) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.WeakRefs = append(n.WeakRefs, refs...)
}

// RecordDeclared appends a provenance row to the node's as-declared
// dependency list under lock (§3 "declared_dependencies").
func (n *Node) RecordDeclared(d DeclaredDep) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Declared = append(n.Declared, d)
}

// WeakRefsSnapshot returns the node's weak references. The returned
// slice shares WeakReference pointers with the node so the resolver
// can mutate Resolved in place.
func (n *Node) WeakRefsSnapshot() []*WeakReference {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]*WeakReference, len(n.WeakRefs))
	copy(out, n.WeakRefs)
	return out
}

// ProductNames returns the node's PRODUCTS keys.
func (n *Node) ProductNames() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.Products))
	for k := range n.Products {
		out = append(out, k)
	}
	return out
}

// addDependency attaches a resolved edge, recording both the live
// dependency map and the provenance entry (§4.5).
func (n *Node) addDependency(key string, edge DepEdge, declared DeclaredDep) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Dependencies[key] = edge
	n.Declared = append(n.Declared, declared)
}

// reachableLocked reports whether target is reachable from n by
// following resolved dependency edges, used for cycle detection before
// a new edge is attached (§4.5).
func (n *Node) reachableLocked(target string, visited map[string]bool) bool {
	if visited[n.CanonicalKey] {
		return false
	}
	visited[n.CanonicalKey] = true
	n.mu.Lock()
	edges := make([]*Node, 0, len(n.Dependencies))
	for _, e := range n.Dependencies {
		edges = append(edges, e.Node)
	}
	n.mu.Unlock()
	for _, dep := range edges {
		if dep.CanonicalKey == target {
			return true
		}
		if dep.reachableLocked(target, visited) {
			return true
		}
	}
	return false
}
