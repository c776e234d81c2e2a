package handlers

import (
	"path/filepath"

	digest "github.com/opencontainers/go-digest"

	"github.com/charlesnicholson/envy/pkg/cachestore"
	"github.com/charlesnicholson/envy/pkg/graph"
)

// recipeKey is the cache key for a node's recipe script entry: the
// identity alone, deliberately excluding options, since the same
// script content serves every options variant (§3 recipe entry).
func recipeKey(n *graph.Node) string {
	return n.Spec.ID.String()
}

// assetKey is the cache key for a node's asset entry. §6's literal
// directory name is "{ns.name@rev}/{plat}-{arch}-sha256-{hash16}"; this
// folds the same components into the single opaque string
// cachestore.Store hashes into a directory name, trading the literal
// path layout for content-addressing through one digest.
func assetKey(n *graph.Node, platform, arch string) string {
	dgst := digest.FromString(n.CanonicalKey + "|" + platform + "-" + arch)
	return n.CanonicalKey + "|" + platform + "-" + arch + "-sha256-" + dgst.Encoded()[:16]
}

// manifestDir is the declaring recipe/manifest file's directory, the
// default cwd for CHECK and the base for resolving local sources.
func manifestDir(n *graph.Node) string {
	return filepath.Dir(n.Spec.DeclaringFile)
}

// ensureAsset lazily acquires the node's asset cache entry, memoizing
// the result for the rest of the node's phases (§4.2 ensure). Safe to
// call more than once; subsequent calls are no-ops.
func (h *Handlers) ensureAsset(n *graph.Node) (cachestore.Result, error) {
	ns := h.stateFor(n)
	ns.mu.Lock()
	defer ns.mu.Unlock()
	if ns.haveAsset {
		return ns.assetResult, nil
	}
	key := assetKey(n, h.deps.Platform, h.deps.Arch)
	res, err := h.deps.Store.Ensure(cachestore.EntryAsset, key)
	if err != nil {
		return cachestore.Result{}, err
	}
	ns.assetKey = key
	ns.assetResult = res
	ns.haveAsset = true
	return res, nil
}
