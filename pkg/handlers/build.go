package handlers

import (
	"context"
	"os"
	"path/filepath"

	"github.com/charlesnicholson/envy/pkg/cachestore"
	"github.com/charlesnicholson/envy/pkg/envyerrors"
	"github.com/charlesnicholson/envy/pkg/graph"
	"github.com/charlesnicholson/envy/pkg/recipespec"
	"github.com/charlesnicholson/envy/pkg/scriptengine"
)

// build implements the build handler: runs BUILD's literal command or
// callable with the node's work/stage/ directory as cwd/argument
// (§4.7 build). A short-circuited CHECK, a bundle root, or an
// undeclared BUILD verb all no-op.
func (h *Handlers) build(ctx context.Context, n *graph.Node) error {
	ns := h.stateFor(n)
	ns.mu.Lock()
	shortCircuit := ns.shortCircuit
	declared := ns.verbs[recipespec.PhaseBuild]
	haveAsset := ns.haveAsset
	ns.mu.Unlock()
	if shortCircuit || n.Spec.IsBundleRoot || (!declared && !haveAsset) {
		return nil
	}

	res, err := h.ensureAsset(n)
	if err != nil {
		return err
	}
	if res.Lock == nil || !declared {
		return nil
	}
	stageDir := filepath.Join(h.deps.Store.WorkDir(cachestore.EntryAsset, ns.assetKey), "stage")
	fetchDir := h.deps.Store.FetchDir(cachestore.EntryAsset, ns.assetKey)

	cmd, callable, err := h.deps.Engine.ExtractCommandVerb(n.ScriptState, recipespec.PhaseBuild)
	if err != nil {
		return err
	}
	if callable {
		tmpDir := h.deps.Store.TmpDir(cachestore.EntryAsset, ns.assetKey)
		if err := os.MkdirAll(tmpDir, 0o755); err != nil {
			return envyerrors.Wrap(envyerrors.KindIOError, n.CanonicalKey, "create build tmp dir", err)
		}
		// install_dir is deliberately not passed to BUILD (§4.7 build).
		_, err := h.deps.Engine.InvokePhase(ctx, n.ScriptState, recipespec.PhaseBuild,
			stageDir, fetchDir, tmpDir, scriptengine.OptionsArg{Options: n.Spec.Options})
		return err
	}
	if len(cmd) > 0 {
		host := newNodeHost(h, n)
		_, _, err := host.RunCommand(ctx, stageDir, cmd)
		return err
	}
	return nil
}
