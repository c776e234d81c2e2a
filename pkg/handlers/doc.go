// Package handlers implements the seven phase handlers that back
// pkg/graph's PhaseRunner interface (§4.7): recipe_fetch, check, fetch,
// stage, build, install, and deploy (completion is a no-op sentinel
// pkg/graph itself never calls out for).
//
// Grounded on the teacher's pkg/recipe and pkg/deployer packages, which
// pair a declarative descriptor with a handler that materializes it to
// disk; generalized here from a fixed install-script pipeline to the
// eight-phase, script-driven state machine the recipe-script adapter
// drives.
package handlers

import (
	"sync"

	"github.com/charlesnicholson/envy/pkg/bundle"
	"github.com/charlesnicholson/envy/pkg/cachestore"
	"github.com/charlesnicholson/envy/pkg/fetchhttp"
	"github.com/charlesnicholson/envy/pkg/graph"
	"github.com/charlesnicholson/envy/pkg/product"
	"github.com/charlesnicholson/envy/pkg/recipespec"
	"github.com/charlesnicholson/envy/pkg/scriptengine"
)

// Deps collects every collaborator a phase handler calls into.
type Deps struct {
	Store      *cachestore.Store
	Engine     scriptengine.Engine
	Registry   *graph.Registry
	Pool       *recipespec.Pool
	Products   *product.Registry
	Bundles    *bundle.Registry
	Downloader *fetchhttp.Downloader
	Platform   string
	Arch       string
}

// nodeState is the handlers package's own per-node bookkeeping,
// supplementing pkg/graph.Node with facts only the phase handlers need
// (declared verbs, user-managed status, the CHECK short-circuit flag,
// and the lazily-acquired asset cache lock shared across fetch/stage/
// build/install).
type nodeState struct {
	mu sync.Mutex

	verbs        map[recipespec.Phase]bool
	userManaged  bool
	shortCircuit bool

	host *nodeHost

	assetKey     string
	assetResult  cachestore.Result
	haveAsset    bool
}

// Handlers implements graph.PhaseRunner.
type Handlers struct {
	deps Deps

	mu    sync.Mutex
	state map[string]*nodeState
}

// New returns a Handlers backed by deps.
func New(deps Deps) *Handlers {
	return &Handlers{deps: deps, state: make(map[string]*nodeState)}
}

var _ graph.PhaseRunner = (*Handlers)(nil)

func (h *Handlers) stateFor(n *graph.Node) *nodeState {
	h.mu.Lock()
	defer h.mu.Unlock()
	ns, ok := h.state[n.CanonicalKey]
	if !ok {
		ns = &nodeState{verbs: make(map[recipespec.Phase]bool)}
		h.state[n.CanonicalKey] = ns
	}
	return ns
}

// peekState returns the node's state without creating an entry,
// nil if the node's recipe_fetch has never run. Used by nodeHost when
// resolving another node's product/asset value.
func (h *Handlers) peekState(n *graph.Node) *nodeState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state[n.CanonicalKey]
}

// NodeSummary is what pkg/engine reads back out of a completed node to
// assemble the per-node row of resolve_and_install's result summary
// (§6): the asset path for a cache-managed node, or a sentinel marking
// a user-managed one whose presence the CHECK verb alone vouches for.
type NodeSummary struct {
	UserManaged bool
	AssetPath   string // empty for a user-managed node or a bundle root
}

// Summary reports the install-phase outcome pkg/engine needs for n's
// row in the final result (§6 "asset path or \"user-managed\"").
func (h *Handlers) Summary(n *graph.Node) NodeSummary {
	ns := h.peekState(n)
	if ns == nil {
		return NodeSummary{}
	}
	ns.mu.Lock()
	defer ns.mu.Unlock()
	if ns.userManaged {
		return NodeSummary{UserManaged: true}
	}
	if ns.haveAsset {
		return NodeSummary{AssetPath: h.deps.Store.AssetPath(cachestore.EntryAsset, ns.assetKey)}
	}
	return NodeSummary{}
}
