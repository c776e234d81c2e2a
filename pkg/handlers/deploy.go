package handlers

import (
	"context"

	"github.com/charlesnicholson/envy/pkg/cachestore"
	"github.com/charlesnicholson/envy/pkg/graph"
	"github.com/charlesnicholson/envy/pkg/recipespec"
	"github.com/charlesnicholson/envy/pkg/scriptengine"
)

// deploy implements the optional deploy handler: a post-install step
// with no cache semantics of its own, run every time the node reaches
// this phase regardless of whether install actually did work (§4.7
// deploy). A short-circuited CHECK, a bundle root, or an undeclared
// DEPLOY verb all no-op.
func (h *Handlers) deploy(ctx context.Context, n *graph.Node) error {
	ns := h.stateFor(n)
	ns.mu.Lock()
	shortCircuit := ns.shortCircuit
	declared := ns.verbs[recipespec.PhaseDeploy]
	ns.mu.Unlock()
	if shortCircuit || n.Spec.IsBundleRoot || !declared {
		return nil
	}

	asset := h.deps.Store.AssetPath(cachestore.EntryAsset, assetKey(n, h.deps.Platform, h.deps.Arch))
	cmd, callable, err := h.deps.Engine.ExtractCommandVerb(n.ScriptState, recipespec.PhaseDeploy)
	if err != nil {
		return err
	}
	if callable {
		_, err := h.deps.Engine.InvokePhase(ctx, n.ScriptState, recipespec.PhaseDeploy,
			asset, scriptengine.OptionsArg{Options: n.Spec.Options})
		return err
	}
	if len(cmd) > 0 {
		host := newNodeHost(h, n)
		_, _, err := host.RunCommand(ctx, asset, cmd)
		return err
	}
	return nil
}
