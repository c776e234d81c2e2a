package handlers

import (
	"context"
	"os"
	"path/filepath"

	"github.com/charlesnicholson/envy/pkg/cachestore"
	"github.com/charlesnicholson/envy/pkg/graph"
	"github.com/charlesnicholson/envy/pkg/recipespec"
	"github.com/charlesnicholson/envy/pkg/scriptengine"
)

// install implements the install handler: the terminal commit point
// for a node's asset cache entry. A node whose CHECK declared it
// user-managed commits MarkUserManaged instead of MarkInstallComplete
// (§4.2 three-way commit), discarding whatever the entry held rather
// than caching it — the CHECK script, not the cache, owns presence for
// that recipe. A short-circuited CHECK or a bundle root both no-op.
func (h *Handlers) install(ctx context.Context, n *graph.Node) error {
	ns := h.stateFor(n)
	ns.mu.Lock()
	shortCircuit := ns.shortCircuit
	declared := ns.verbs[recipespec.PhaseInstall]
	userManaged := ns.userManaged
	haveAsset := ns.haveAsset
	ns.mu.Unlock()
	if shortCircuit || n.Spec.IsBundleRoot {
		return nil
	}
	if !declared && !haveAsset {
		return nil
	}

	res, err := h.ensureAsset(n)
	if err != nil {
		return err
	}
	if res.Lock == nil {
		return nil
	}

	if userManaged {
		res.Lock.MarkUserManaged()
		return res.Lock.Release()
	}

	if declared {
		stageDir := filepath.Join(h.deps.Store.WorkDir(cachestore.EntryAsset, ns.assetKey), "stage")
		fetchDir := h.deps.Store.FetchDir(cachestore.EntryAsset, ns.assetKey)
		cmd, callable, err := h.deps.Engine.ExtractCommandVerb(n.ScriptState, recipespec.PhaseInstall)
		if err != nil {
			res.Lock.Release()
			return err
		}
		if callable {
			tmpDir := h.deps.Store.TmpDir(cachestore.EntryAsset, ns.assetKey)
			if err := os.MkdirAll(tmpDir, 0o755); err != nil {
				res.Lock.Release()
				return err
			}
			// install_dir, stage_dir, fetch_dir, tmp_dir, options (§4.7 install).
			if _, err := h.deps.Engine.InvokePhase(ctx, n.ScriptState, recipespec.PhaseInstall,
				res.Path, stageDir, fetchDir, tmpDir, scriptengine.OptionsArg{Options: n.Spec.Options}); err != nil {
				res.Lock.Release()
				return err
			}
		} else if len(cmd) > 0 {
			host := newNodeHost(h, n)
			if _, _, err := host.RunCommand(ctx, stageDir, cmd); err != nil {
				res.Lock.Release()
				return err
			}
		}
	}

	res.Lock.MarkInstallComplete()
	return res.Lock.Release()
}
