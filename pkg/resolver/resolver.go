// Package resolver implements the §4.6 convergence loop: drive every
// seeded root to recipe_fetch, rebuild the product registry, resolve
// weak/reference-only/product dependencies against the current node
// set (spawning fallbacks when nothing matches), and repeat until a
// pass makes no progress. Once converged, every remaining unresolved
// reference is an error and every node is driven to completion.
//
// Grounded on the teacher's pkg/scheduler convergence loop (a
// fixed-point pass over a worklist with an explicit progress counter),
// generalized from GPU-job readiness to Envy's weak-dependency
// resolution.
package resolver

import (
	"context"
	"sort"
	"sync"

	"github.com/charlesnicholson/envy/pkg/envyerrors"
	"github.com/charlesnicholson/envy/pkg/graph"
	"github.com/charlesnicholson/envy/pkg/identity"
	"github.com/charlesnicholson/envy/pkg/product"
	"github.com/charlesnicholson/envy/pkg/recipespec"
)

// Resolver drives the coordinator-thread side of resolution: the
// phase handlers themselves run on each node's own executor goroutine
// (§4.5); the Resolver only seeds targets, waits for quiescence, and
// wires weak/product edges (§4.6).
type Resolver struct {
	registry *graph.Registry
	products *product.Registry
	runner   graph.PhaseRunner
}

// New returns a Resolver over registry, wiring resolved product
// dependencies through products and driving phases through runner.
func New(registry *graph.Registry, products *product.Registry, runner graph.PhaseRunner) *Resolver {
	return &Resolver{registry: registry, products: products, runner: runner}
}

// Resolve seeds roots, converges the graph per §4.6, and drives every
// node to completion. It returns a non-nil *envyerrors.Bundle (never
// a single error) once the graph reaches quiescence, or nil if nothing
// failed.
func (r *Resolver) Resolve(ctx context.Context, roots []*recipespec.Spec) *envyerrors.Bundle {
	bundle := &envyerrors.Bundle{}

	var rootNodes []*graph.Node
	for _, spec := range roots {
		n := r.registry.EnsureNode(spec)
		n.StartTo(ctx, r.runner, recipespec.PhaseRecipeFetch)
		rootNodes = append(rootNodes, n)
	}

	reportedCollisions := map[string]bool{}
	for {
		r.waitForResolutionPhase()

		collisions := r.products.Rebuild(r.registry.All())
		for _, e := range collisions.Errors {
			if reportedCollisions[e.Identity] {
				continue
			}
			reportedCollisions[e.Identity] = true
			bundle.Add(e)
		}

		resolved, spawned, ambiguous := r.resolvePendingWeakRefs(ctx)
		for _, e := range ambiguous {
			bundle.Add(e)
		}
		if resolved == 0 && spawned == 0 {
			break
		}
	}

	r.validateRemaining(bundle)
	r.validateProductFallbacks(bundle)

	for _, n := range r.registry.All() {
		n.StartTo(ctx, r.runner, recipespec.PhaseCompletion)
	}
	for _, n := range r.registry.All() {
		if err := n.EnsureAt(recipespec.PhaseCompletion); err != nil {
			bundle.Add(err)
		}
	}

	if bundle.Empty() {
		return nil
	}
	return bundle
}

// waitForResolutionPhase blocks until every node with a non-negative
// target phase has reached at least recipe_fetch (§4.6
// wait_for_resolution_phase). Nodes are snapshotted before waiting so
// a fallback spawned mid-wait by another goroutine is picked up on the
// next pass rather than racing this one.
func (r *Resolver) waitForResolutionPhase() {
	var wg sync.WaitGroup
	for _, n := range r.registry.All() {
		if n.TargetPhase() < recipespec.PhaseRecipeFetch.Ordinal() {
			continue
		}
		wg.Add(1)
		go func(n *graph.Node) {
			defer wg.Done()
			n.EnsureAt(recipespec.PhaseRecipeFetch)
		}(n)
	}
	wg.Wait()
}

// resolvePendingWeakRefs implements one pass of §4.6
// resolve_pending_weak_refs: walk every node's weak_references,
// matching non-product refs against the current node set by identity
// and product refs against the product registry, spawning each ref's
// own fallback when nothing matches. It returns counts of newly
// resolved refs and newly spawned fallbacks (the resolver's progress
// measure) plus any ambiguity errors accumulated this pass.
func (r *Resolver) resolvePendingWeakRefs(ctx context.Context) (resolved, spawned int, errs []*envyerrors.Error) {
	nodes := r.registry.All()

	for _, n := range nodes {
		chain := []string{n.CanonicalKey}
		for _, ref := range n.WeakRefsSnapshot() {
			if ref.Resolved {
				continue
			}

			if ref.ProductName != "" {
				ok, err := r.resolveProductRef(ctx, n, ref, chain)
				if err != nil {
					errs = append(errs, err)
					continue
				}
				if !ok {
					continue
				}
				if ref.ViaFallback {
					spawned++
				} else {
					resolved++
				}
				continue
			}

			candidates := findCandidates(ref.Query, nodes)
			switch {
			case len(candidates) == 1:
				declared := graph.DeclaredDep{Query: ref.Query, NeededBy: ref.NeededBy}
				if err := r.registry.AttachDependency(n, candidates[0], ref.NeededBy, declared, chain); err != nil {
					errs = append(errs, err.(*envyerrors.Error))
					continue
				}
				ref.Resolved = true
				resolved++

			case len(candidates) > 1:
				errs = append(errs, envyerrors.New(envyerrors.KindAmbiguousReference, n.CanonicalKey,
					"weak reference "+queryString(ref.Query)+" matches multiple candidates").
					WithCandidates(canonicalKeys(candidates)))

			case ref.Fallback != nil:
				dep := r.registry.EnsureNode(ref.Fallback)
				dep.StartTo(ctx, r.runner, recipespec.PhaseRecipeFetch)
				declared := graph.DeclaredDep{Query: ref.Query, NeededBy: ref.NeededBy}
				if err := r.registry.AttachDependency(n, dep, ref.NeededBy, declared, chain); err != nil {
					errs = append(errs, err.(*envyerrors.Error))
					continue
				}
				ref.Resolved = true
				ref.ViaFallback = true
				ref.FallbackNode = dep
				spawned++

			default:
				// Left unresolved for the next pass, or reported as a
				// missing_reference by validateRemaining once the
				// graph converges.
			}
		}
	}
	return resolved, spawned, errs
}

// resolveProductRef attempts to resolve a single product dependency
// against the current product registry, spawning its fallback if the
// product has no provider yet. ok is false when the ref is still
// unresolved (left for the next pass).
func (r *Resolver) resolveProductRef(ctx context.Context, n *graph.Node, ref *graph.WeakReference, chain []string) (ok bool, err *envyerrors.Error) {
	provider, found := r.products.FindProvider(ref.ProductName)
	if found {
		if ref.ConstraintID != nil && provider.Spec.ID != *ref.ConstraintID {
			return false, envyerrors.New(envyerrors.KindMissingReference, n.CanonicalKey,
				"product "+ref.ProductName+" provider "+provider.CanonicalKey+" does not match required identity "+ref.ConstraintID.String())
		}
		declared := graph.DeclaredDep{NeededBy: ref.NeededBy, ProductName: ref.ProductName}
		if aerr := r.registry.AttachDependency(n, provider, ref.NeededBy, declared, chain); aerr != nil {
			return false, aerr.(*envyerrors.Error)
		}
		ref.Resolved = true
		return true, nil
	}

	if ref.Fallback == nil {
		return false, nil
	}
	dep := r.registry.EnsureNode(ref.Fallback)
	dep.StartTo(ctx, r.runner, recipespec.PhaseRecipeFetch)
	declared := graph.DeclaredDep{NeededBy: ref.NeededBy, ProductName: ref.ProductName}
	if aerr := r.registry.AttachDependency(n, dep, ref.NeededBy, declared, chain); aerr != nil {
		return false, aerr.(*envyerrors.Error)
	}
	ref.Resolved = true
	ref.ViaFallback = true
	ref.FallbackNode = dep
	return true, nil
}

// validateRemaining implements §4.6 validate_remaining: every weak
// reference without a fallback, and every product reference, that is
// still unresolved once the convergence loop exits is an error.
func (r *Resolver) validateRemaining(bundle *envyerrors.Bundle) {
	for _, n := range r.registry.All() {
		for _, ref := range n.WeakRefsSnapshot() {
			if ref.Resolved {
				continue
			}
			if ref.ProductName != "" {
				bundle.Add(envyerrors.New(envyerrors.KindMissingReference, n.CanonicalKey,
					"product reference "+ref.ProductName+" has no provider").
					WithCandidates(envyerrors.Suggest(ref.ProductName, r.products.Names())))
				continue
			}
			bundle.Add(envyerrors.New(envyerrors.KindMissingReference, n.CanonicalKey,
				"reference "+queryString(ref.Query)+" has no match").
				WithCandidates(envyerrors.Suggest(queryString(ref.Query), canonicalKeys(r.registry.All()))))
		}
	}
}

// validateProductFallbacks implements §4.8 transitive fallback
// validation: for every product reference satisfied by spawning its
// own fallback, the fallback's transitive dependency closure must
// include a node advertising the required product.
func (r *Resolver) validateProductFallbacks(bundle *envyerrors.Bundle) {
	for _, n := range r.registry.All() {
		for _, ref := range n.WeakRefsSnapshot() {
			if !ref.Resolved || ref.ProductName == "" || !ref.ViaFallback || ref.FallbackNode == nil {
				continue
			}
			if !product.FallbackProvides(ref.FallbackNode, ref.ProductName) {
				bundle.Add(envyerrors.New(envyerrors.KindProductFallbackBad, n.CanonicalKey,
					"fallback "+ref.FallbackNode.CanonicalKey+" does not transitively provide product "+ref.ProductName))
			}
		}
	}
}

// findCandidates implements §4.1 find_candidates: every registered
// node whose identity matches query, engine-wide.
func findCandidates(query identity.Query, nodes []*graph.Node) []*graph.Node {
	var out []*graph.Node
	for _, n := range nodes {
		if identity.Matches(query, n.Spec.ID) {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CanonicalKey < out[j].CanonicalKey })
	return out
}

func canonicalKeys(nodes []*graph.Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.CanonicalKey
	}
	return out
}

// queryString renders a partial identity.Query for diagnostics,
// omitting wildcard segments.
func queryString(q identity.Query) string {
	s := ""
	if q.Namespace != "" {
		s += q.Namespace + "."
	}
	s += q.Name
	if q.Revision != "" {
		s += "@" + q.Revision
	}
	if s == "" {
		s = "<empty query>"
	}
	return s
}
