package handlers

import (
	"context"
	"time"

	"github.com/charlesnicholson/envy/pkg/envyerrors"
	"github.com/charlesnicholson/envy/pkg/graph"
	"github.com/charlesnicholson/envy/pkg/recipespec"
)

// RunPhase dispatches phase to the matching handler (§4.7). A bundle
// root's only real verb is recipe_fetch (§9 "bundles as packages"), and
// a user-managed node whose CHECK short-circuited never reaches
// fetch/stage/build/install/deploy with any work to do; both cases are
// handled by each phase's own no-op guard rather than a separate
// dispatch path.
func (h *Handlers) RunPhase(ctx context.Context, n *graph.Node, phase recipespec.Phase) error {
	start := time.Now()
	defer func() { phaseDuration.WithLabelValues(string(phase)).Observe(time.Since(start).Seconds()) }()

	switch phase {
	case recipespec.PhaseRecipeFetch:
		return h.recipeFetch(ctx, n)
	case recipespec.PhaseCheck:
		return h.check(ctx, n)
	case recipespec.PhaseFetch:
		return h.fetch(ctx, n)
	case recipespec.PhaseStage:
		return h.stage(ctx, n)
	case recipespec.PhaseBuild:
		return h.build(ctx, n)
	case recipespec.PhaseInstall:
		return h.install(ctx, n)
	case recipespec.PhaseDeploy:
		return h.deploy(ctx, n)
	default:
		return envyerrors.New(envyerrors.KindPhaseFailure, n.CanonicalKey, "no handler for phase "+string(phase))
	}
}
