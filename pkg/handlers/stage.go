package handlers

import (
	"context"
	"os"
	"path/filepath"

	"github.com/charlesnicholson/envy/pkg/archive"
	"github.com/charlesnicholson/envy/pkg/cachestore"
	"github.com/charlesnicholson/envy/pkg/envyerrors"
	"github.com/charlesnicholson/envy/pkg/graph"
	"github.com/charlesnicholson/envy/pkg/recipespec"
	"github.com/charlesnicholson/envy/pkg/scriptengine"
)

// stage implements the stage handler: the declarative {strip=N} shape
// extracts every file in the asset entry's fetch/ sub-cache into its
// work/stage/ directory, stripping N leading path components (§4.7
// stage). A callable or literal-command STAGE runs with that directory
// as its argument/cwd instead.
func (h *Handlers) stage(ctx context.Context, n *graph.Node) error {
	ns := h.stateFor(n)
	ns.mu.Lock()
	shortCircuit := ns.shortCircuit
	declared := ns.verbs[recipespec.PhaseStage]
	ns.mu.Unlock()
	if shortCircuit || n.Spec.IsBundleRoot || !declared {
		return nil
	}

	res, err := h.ensureAsset(n)
	if err != nil {
		return err
	}
	if res.Lock == nil {
		return nil
	}
	fc := cachestore.NewFetchCache(h.deps.Store, cachestore.EntryAsset, ns.assetKey)
	stageDir := filepath.Join(h.deps.Store.WorkDir(cachestore.EntryAsset, ns.assetKey), "stage")

	desc, ok, err := h.deps.Engine.ExtractStageDescriptor(n.ScriptState)
	if err != nil {
		return err
	}
	if ok {
		names, err := fc.Entries()
		if err != nil {
			return err
		}
		for _, name := range names {
			if err := archive.Extract(ctx, fc.Path(name), stageDir, desc.Strip); err != nil {
				return err
			}
		}
		return nil
	}

	cmd, callable, err := h.deps.Engine.ExtractCommandVerb(n.ScriptState, recipespec.PhaseStage)
	if err != nil {
		return err
	}
	if callable {
		tmpDir := h.deps.Store.TmpDir(cachestore.EntryAsset, ns.assetKey)
		if err := os.MkdirAll(tmpDir, 0o755); err != nil {
			return envyerrors.Wrap(envyerrors.KindIOError, n.CanonicalKey, "create stage tmp dir", err)
		}
		_, err := h.deps.Engine.InvokePhase(ctx, n.ScriptState, recipespec.PhaseStage,
			fc.Dir(), stageDir, tmpDir, scriptengine.OptionsArg{Options: n.Spec.Options})
		return err
	}
	if len(cmd) > 0 {
		host := newNodeHost(h, n)
		_, _, err := host.RunCommand(ctx, stageDir, cmd)
		return err
	}
	return nil
}
