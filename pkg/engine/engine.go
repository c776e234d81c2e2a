// Package engine wires every component (§2) behind the single
// "Invocation contract of the engine" entry point §6 specifies:
// ResolveAndInstall(manifest_roots, cache_root, platform, arch) →
// result<summary, error_bundle>. It owns no logic of its own beyond
// construction and the per-run log envelope; the DAG, phase
// state machine, resolver loop, and phase handlers live in their own
// packages.
//
// Grounded on the teacher's pkg/server package, which is the single
// place that constructs every collector/serializer/deployer and wires
// them behind one request-handling entry point; generalized here from
// an HTTP handler wiring collectors to a library entry point wiring
// the resolution engine.
package engine

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"github.com/google/uuid"

	"github.com/charlesnicholson/envy/pkg/bundle"
	"github.com/charlesnicholson/envy/pkg/cachestore"
	"github.com/charlesnicholson/envy/pkg/envyerrors"
	"github.com/charlesnicholson/envy/pkg/fetchhttp"
	"github.com/charlesnicholson/envy/pkg/graph"
	"github.com/charlesnicholson/envy/pkg/handlers"
	"github.com/charlesnicholson/envy/pkg/product"
	"github.com/charlesnicholson/envy/pkg/recipespec"
	"github.com/charlesnicholson/envy/pkg/resolver"
	"github.com/charlesnicholson/envy/pkg/scriptengine"
)

// NodeResult is one row of Summary.Nodes (§6 "one record per node:
// identity, canonical key, asset path or \"user-managed\", product
// values").
type NodeResult struct {
	Identity     string
	CanonicalKey string
	AssetPath    string // empty when UserManaged is true
	UserManaged  bool
	Products     map[string]string
}

// Summary is the success half of resolve_and_install's result (§6).
type Summary struct {
	RunID string
	Nodes []NodeResult
}

// Options configures a run. Platform and Arch default to the host's
// GOOS/GOARCH when empty; CacheRoot is required.
type Options struct {
	CacheRoot string
	Platform  string
	Arch      string
	Logger    *slog.Logger
}

// ResolveAndInstall implements §6's single entry point: it seeds the
// DAG with roots, drives the resolver to convergence, installs every
// reachable node, and returns either a Summary or an
// *envyerrors.Bundle — never a partial mix of the two, though the
// cache itself retains whatever individual entries did complete
// (§7 propagation policy).
func ResolveAndInstall(ctx context.Context, roots []*recipespec.Spec, opts Options) (*Summary, *envyerrors.Bundle) {
	runID := uuid.NewString()
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("run_id", runID)

	platform := opts.Platform
	if platform == "" {
		platform = runtime.GOOS
	}
	arch := opts.Arch
	if arch == "" {
		arch = runtime.GOARCH
	}

	start := time.Now()
	logger.Info("resolve_and_install starting", "roots", len(roots), "platform", platform, "arch", arch, "cache_root", opts.CacheRoot)

	store := cachestore.New(opts.CacheRoot)
	pool := recipespec.NewPool()
	registry := graph.NewRegistry()
	products := product.NewRegistry()
	bundles := bundle.NewRegistry()
	downloader := fetchhttp.New()
	scriptEngine := scriptengine.NewLuaEngine()

	h := handlers.New(handlers.Deps{
		Store:      store,
		Engine:     scriptEngine,
		Registry:   registry,
		Pool:       pool,
		Products:   products,
		Bundles:    bundles,
		Downloader: downloader,
		Platform:   platform,
		Arch:       arch,
	})

	r := resolver.New(registry, products, h)
	bundleErrs := r.Resolve(ctx, roots)

	elapsed := time.Since(start)
	if bundleErrs != nil {
		logger.Error("resolve_and_install failed", "errors", len(bundleErrs.Errors), "elapsed", elapsed, "summary", envyerrors.Summarize(len(bundleErrs.Errors)))
		return nil, bundleErrs
	}

	summary := &Summary{RunID: runID}
	for _, n := range registry.All() {
		nodeSummary := h.Summary(n)
		productValues := make(map[string]string)
		for _, name := range n.ProductNames() {
			if v, ok := n.ProductValue(name); ok {
				productValues[name] = v
			}
		}
		summary.Nodes = append(summary.Nodes, NodeResult{
			Identity:     n.Spec.ID.String(),
			CanonicalKey: n.CanonicalKey,
			AssetPath:    nodeSummary.AssetPath,
			UserManaged:  nodeSummary.UserManaged,
			Products:     productValues,
		})
	}

	logger.Info("resolve_and_install complete", "nodes", len(summary.Nodes), "elapsed", elapsed)
	return summary, nil
}
