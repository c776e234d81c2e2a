package handlers

import (
	"context"

	"github.com/charlesnicholson/envy/pkg/graph"
	"github.com/charlesnicholson/envy/pkg/recipespec"
)

// check implements the check handler: a recipe that declares CHECK
// owns its own presence detection, and a true/zero-exit result
// short-circuits the rest of the node's phases entirely (§4.7 check:
// "a true/zero-exit result short-circuits"). A node that never
// declared CHECK always proceeds.
func (h *Handlers) check(ctx context.Context, n *graph.Node) error {
	ns := h.stateFor(n)
	ns.mu.Lock()
	declared := ns.verbs[recipespec.PhaseCheck]
	ns.mu.Unlock()
	if !declared {
		return nil
	}

	cmd, callable, err := h.deps.Engine.ExtractCheckVerb(n.ScriptState)
	if err != nil {
		return err
	}

	var ok bool
	if callable {
		result, err := h.deps.Engine.InvokePhase(ctx, n.ScriptState, recipespec.PhaseCheck, manifestDir(n))
		if err != nil {
			return err
		}
		ok = result.CheckOK
	} else {
		host := newNodeHost(h, n)
		_, _, runErr := host.RunCommand(ctx, manifestDir(n), cmd)
		ok = runErr == nil
	}

	ns.mu.Lock()
	ns.shortCircuit = ok
	ns.mu.Unlock()
	if ok {
		checkOutcomes.WithLabelValues("short_circuit").Inc()
	} else {
		checkOutcomes.WithLabelValues("proceed").Inc()
	}
	return nil
}
