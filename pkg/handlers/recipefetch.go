package handlers

import (
	"context"
	"path/filepath"

	"github.com/charlesnicholson/envy/pkg/archive"
	"github.com/charlesnicholson/envy/pkg/bundle"
	"github.com/charlesnicholson/envy/pkg/cachestore"
	"github.com/charlesnicholson/envy/pkg/envyerrors"
	"github.com/charlesnicholson/envy/pkg/fetchgit"
	"github.com/charlesnicholson/envy/pkg/fetchoci"
	"github.com/charlesnicholson/envy/pkg/graph"
	"github.com/charlesnicholson/envy/pkg/identity"
	"github.com/charlesnicholson/envy/pkg/recipespec"
	"github.com/charlesnicholson/envy/pkg/scriptengine"
)

// recipeFetch implements the recipe_fetch handler: acquire the recipe
// script (per source kind), load it in an isolated interpreter,
// validate its declared identity, and wire strong/weak/product
// dependencies onto the node. A spec marked IsBundleRoot instead
// fetches its content as a directory and parses envy-bundle.lua; it
// never becomes a recipe script node.
func (h *Handlers) recipeFetch(ctx context.Context, n *graph.Node) error {
	if n.Spec.IsBundleRoot {
		dir, err := h.acquireBundleContent(ctx, n)
		if err != nil {
			return err
		}
		return h.fetchBundleManifest(n, dir)
	}

	scriptPath, err := h.acquireScript(ctx, n)
	if err != nil {
		return err
	}

	host := newNodeHost(h, n)
	ns := h.stateFor(n)
	ns.mu.Lock()
	ns.host = host
	ns.mu.Unlock()

	state, err := h.deps.Engine.Load(ctx, scriptPath, scriptengine.Sandbox{
		Platform:        h.deps.Platform,
		Arch:            h.deps.Arch,
		PlatformArch:    h.deps.Platform + "-" + h.deps.Arch,
		ShellCommand:    "/bin/sh",
		ShellCommandArg: "-c",
		Host:            host,
	})
	if err != nil {
		return envyerrors.Wrap(envyerrors.KindPhaseFailure, n.CanonicalKey, "load recipe script", err).WithPhase(string(recipespec.PhaseRecipeFetch))
	}
	n.ScriptState = state

	declared, err := h.deps.Engine.ExtractIdentity(state)
	if err != nil {
		return err
	}
	if declared != n.Spec.ID.String() {
		return envyerrors.New(envyerrors.KindIdentityMismatch, n.CanonicalKey,
			"script declares "+declared+", expected "+n.Spec.ID.String()).WithLocation(scriptPath)
	}

	hasValidate, err := h.deps.Engine.ExtractValidate(state)
	if err != nil {
		return err
	}
	if hasValidate {
		if msg, err := h.deps.Engine.InvokeValidate(state, n.Spec.Options); err != nil {
			return err
		} else if msg != "" {
			return envyerrors.New(envyerrors.KindParseError, n.CanonicalKey, "VALIDATE rejected options: "+msg).WithLocation(scriptPath)
		}
	}

	verbs, err := h.deps.Engine.ExtractPhaseVerbs(state)
	if err != nil {
		return err
	}
	userManaged := verbs[recipespec.PhaseCheck]
	if userManaged && (verbs[recipespec.PhaseFetch] || verbs[recipespec.PhaseStage] || verbs[recipespec.PhaseBuild]) {
		return envyerrors.New(envyerrors.KindUserManagedViolation, n.CanonicalKey,
			"a recipe declaring CHECK must not also declare FETCH, STAGE, or BUILD").WithLocation(scriptPath)
	}
	ns.mu.Lock()
	ns.verbs = verbs
	ns.userManaged = userManaged
	ns.mu.Unlock()

	products, err := h.deps.Engine.ExtractProducts(state)
	if err != nil {
		return err
	}
	n.SetProducts(products)

	entries, err := h.deps.Engine.ExtractDependencies(state, n.Spec.Options, h.deps.Pool)
	if err != nil {
		return err
	}
	return h.wireDependencies(ctx, n, entries)
}

// wireDependencies turns the script's parsed DEPENDENCIES rows into
// either resolved strong edges (a plain identity query with no weak
// flag) or entries on the node's weak-reference list the resolver
// loop picks up later (§4.5, §4.6).
func (h *Handlers) wireDependencies(ctx context.Context, n *graph.Node, entries []scriptengine.DepEntry) error {
	var weak []*graph.WeakReference
	chain := []string{n.CanonicalKey}

	for _, e := range entries {
		declared := graph.DeclaredDep{Query: e.Query, NeededBy: e.NeededBy, ProductName: e.ProductName}

		if e.Weak || e.ReferenceOnly || e.ProductName != "" {
			weak = append(weak, &graph.WeakReference{
				Query:       e.Query,
				Fallback:    e.Fallback,
				NeededBy:    e.NeededBy,
				ProductName: e.ProductName,
			})
			n.RecordDeclared(declared)
			continue
		}

		depSpec, err := h.specFromQuery(e.Query, n)
		if err != nil {
			return err
		}
		dep := h.deps.Registry.EnsureNode(depSpec)
		if err := h.deps.Registry.AttachDependency(n, dep, e.NeededBy, declared, chain); err != nil {
			return err
		}
	}
	if len(weak) > 0 {
		n.AddWeakRefs(weak)
	}
	return nil
}

// specFromQuery builds a strong dependency's spec from a fully
// qualified DEPENDENCIES row. A strong (non-weak, non-product,
// non-reference-only) dependency must name a complete identity; a
// partial query here is a script authoring error (§4.1, §4.5).
func (h *Handlers) specFromQuery(q identity.Query, dependent *graph.Node) (*recipespec.Spec, error) {
	if q.Namespace == "" || q.Name == "" || q.Revision == "" {
		return nil, envyerrors.New(envyerrors.KindParseError, dependent.CanonicalKey,
			"strong dependency query must be fully qualified: "+q.Namespace+"."+q.Name+"@"+q.Revision)
	}
	id := identity.Identity{Namespace: q.Namespace, Name: q.Name, Revision: q.Revision}
	return h.deps.Pool.New(recipespec.Spec{
		ID:            id,
		DeclaringFile: dependent.Spec.DeclaringFile,
	}), nil
}

// acquireScript fetches the recipe script per the node's source kind
// and returns the on-disk path to load (§4.7).
func (h *Handlers) acquireScript(ctx context.Context, n *graph.Node) (string, error) {
	src := n.Spec.Source
	switch src.Kind {
	case recipespec.SourceLocal:
		if filepath.IsAbs(src.Local.Path) {
			return src.Local.Path, nil
		}
		return filepath.Join(manifestDir(n), src.Local.Path), nil

	case recipespec.SourceRemote:
		key := recipeKey(n)
		res, err := h.deps.Store.Ensure(cachestore.EntryRecipe, key)
		if err != nil {
			return "", err
		}
		dst := filepath.Join(h.deps.Store.AssetPath(cachestore.EntryRecipe, key), "recipe.lua")
		if res.Lock == nil {
			return dst, nil
		}
		installed := filepath.Join(res.Path, "recipe.lua")
		if err := h.deps.Downloader.Download(ctx, src.Remote.URL, installed, src.Remote.SHA256); err != nil {
			res.Lock.Release()
			return "", err
		}
		res.Lock.MarkInstallComplete()
		if err := res.Lock.Release(); err != nil {
			return "", err
		}
		return dst, nil

	case recipespec.SourceGit:
		key := recipeKey(n)
		res, err := h.deps.Store.Ensure(cachestore.EntryRecipe, key)
		if err != nil {
			return "", err
		}
		dst := filepath.Join(h.deps.Store.AssetPath(cachestore.EntryRecipe, key), "recipe.lua")
		if res.Lock == nil {
			return dst, nil
		}
		if err := fetchgit.ShallowClone(ctx, src.Git.URL, src.Git.Ref, res.Path); err != nil {
			res.Lock.Release()
			return "", err
		}
		res.Lock.MarkInstallComplete()
		if err := res.Lock.Release(); err != nil {
			return "", err
		}
		return dst, nil

	case recipespec.SourceOCI:
		key := recipeKey(n)
		res, err := h.deps.Store.Ensure(cachestore.EntryRecipe, key)
		if err != nil {
			return "", err
		}
		dst := filepath.Join(h.deps.Store.AssetPath(cachestore.EntryRecipe, key), "recipe.lua")
		if res.Lock == nil {
			return dst, nil
		}
		if _, err := fetchoci.Pull(ctx, src.OCI.Reference, res.Path); err != nil {
			res.Lock.Release()
			return "", err
		}
		res.Lock.MarkInstallComplete()
		if err := res.Lock.Release(); err != nil {
			return "", err
		}
		return dst, nil

	case recipespec.SourceCustomFetch:
		return h.acquireViaCustomFetch(ctx, n)

	case recipespec.SourceBundle:
		return h.acquireFromBundle(ctx, n)

	default:
		return "", envyerrors.New(envyerrors.KindParseError, n.CanonicalKey, "recipe spec has no usable source")
	}
}

// acquireBundleContent fetches a bundle root's content into a cache
// directory and returns it. A remote bundle source is an archive
// extracted into the entry; git and OCI sources already produce a
// directory (a shallow clone, or oras's file-store destination).
func (h *Handlers) acquireBundleContent(ctx context.Context, n *graph.Node) (string, error) {
	src := n.Spec.Source
	if src.Kind == recipespec.SourceLocal {
		if filepath.IsAbs(src.Local.Path) {
			return src.Local.Path, nil
		}
		return filepath.Join(manifestDir(n), src.Local.Path), nil
	}

	key := recipeKey(n)
	res, err := h.deps.Store.Ensure(cachestore.EntryRecipe, key)
	if err != nil {
		return "", err
	}
	dst := h.deps.Store.AssetPath(cachestore.EntryRecipe, key)
	if res.Lock == nil {
		return dst, nil
	}

	switch src.Kind {
	case recipespec.SourceRemote:
		archivePath := filepath.Join(h.deps.Store.FetchDir(cachestore.EntryRecipe, key), filepath.Base(src.Remote.URL))
		if err := h.deps.Downloader.Download(ctx, src.Remote.URL, archivePath, src.Remote.SHA256); err != nil {
			res.Lock.Release()
			return "", err
		}
		if err := archive.Extract(ctx, archivePath, res.Path, 0); err != nil {
			res.Lock.Release()
			return "", err
		}
	case recipespec.SourceGit:
		if err := fetchgit.ShallowClone(ctx, src.Git.URL, src.Git.Ref, res.Path); err != nil {
			res.Lock.Release()
			return "", err
		}
	case recipespec.SourceOCI:
		if _, err := fetchoci.Pull(ctx, src.OCI.Reference, res.Path); err != nil {
			res.Lock.Release()
			return "", err
		}
	default:
		res.Lock.Release()
		return "", envyerrors.New(envyerrors.KindParseError, n.CanonicalKey, "bundle root has no usable source")
	}

	res.Lock.MarkInstallComplete()
	if err := res.Lock.Release(); err != nil {
		return "", err
	}
	return dst, nil
}

// acquireViaCustomFetch blocks on the node's declared source
// prerequisites, then runs the fetch through whichever prerequisite
// exposes a product named FunctionName. The subject script cannot
// supply its own fetch function before it exists on disk, so the
// function is resolved from an already-loaded collaborator script
// instead, and its product value is run as a command with the recipe
// entry's install directory as its one argument.
func (h *Handlers) acquireViaCustomFetch(ctx context.Context, n *graph.Node) (string, error) {
	custom := n.Spec.Source.Custom
	chain := []string{n.CanonicalKey}
	var fnNode *graph.Node
	for _, prereqSpec := range custom.SourceDependencies {
		prereq := h.deps.Registry.EnsureNode(prereqSpec)
		q := identity.Query{Namespace: prereq.Spec.ID.Namespace, Name: prereq.Spec.ID.Name, Revision: prereq.Spec.ID.Revision}
		if err := h.deps.Registry.AttachDependency(n, prereq, recipespec.PhaseRecipeFetch,
			graph.DeclaredDep{Query: q, NeededBy: recipespec.PhaseRecipeFetch}, chain); err != nil {
			return "", err
		}
		prereq.StartTo(ctx, h, recipespec.PhaseCompletion)
		if err := prereq.EnsureAt(recipespec.PhaseCompletion); err != nil {
			return "", envyerrors.Wrap(envyerrors.KindPhaseFailure, n.CanonicalKey, "source prerequisite failed", err)
		}
		if _, ok := prereq.ProductValue(custom.FunctionName); ok {
			fnNode = prereq
		}
	}
	if fnNode == nil {
		return "", envyerrors.New(envyerrors.KindMissingReference, n.CanonicalKey,
			"custom-fetch function "+custom.FunctionName+" not advertised by any source prerequisite")
	}
	fnPath, _ := fnNode.ProductValue(custom.FunctionName)

	key := recipeKey(n)
	res, err := h.deps.Store.Ensure(cachestore.EntryRecipe, key)
	if err != nil {
		return "", err
	}
	dst := filepath.Join(h.deps.Store.AssetPath(cachestore.EntryRecipe, key), "recipe.lua")
	if res.Lock == nil {
		return dst, nil
	}
	host := newNodeHost(h, n)
	if _, _, err := host.RunCommand(ctx, manifestDir(n), []string{fnPath, res.Path}); err != nil {
		res.Lock.Release()
		return "", err
	}
	res.Lock.MarkInstallComplete()
	if err := res.Lock.Release(); err != nil {
		return "", err
	}
	return dst, nil
}

// acquireFromBundle resolves this node's script path inside an
// already-fetched bundle (§9 "bundles as packages"). The bundle root
// node must already be registered under its bare identity key by
// whoever discovered this spec (the manifest loader or the script that
// declared the BundleSource dependency).
func (h *Handlers) acquireFromBundle(ctx context.Context, n *graph.Node) (string, error) {
	bsrc := n.Spec.Source.Bundle
	bundleNode, ok := h.deps.Registry.Lookup(bsrc.BundleIdentity)
	if !ok {
		return "", envyerrors.New(envyerrors.KindMissingReference, n.CanonicalKey,
			"bundle "+bsrc.BundleIdentity+" was never registered")
	}
	bundleNode.StartTo(ctx, h, recipespec.PhaseCompletion)
	if err := bundleNode.EnsureAt(recipespec.PhaseCompletion); err != nil {
		return "", envyerrors.Wrap(envyerrors.KindPhaseFailure, n.CanonicalKey, "bundle fetch failed", err)
	}
	b, ok := h.deps.Bundles.Lookup(bsrc.BundleIdentity)
	if !ok {
		return "", envyerrors.New(envyerrors.KindParseError, n.CanonicalKey, "bundle "+bsrc.BundleIdentity+" never registered its manifest")
	}
	return b.ScriptPath(n.Spec.ID.String())
}

// fetchBundleManifest is invoked by recipeFetch for a node whose spec
// is itself a bundle root: the fetched content's root directory holds
// envy-bundle.lua rather than a recipe script.
func (h *Handlers) fetchBundleManifest(n *graph.Node, dir string) error {
	b, err := bundle.LoadManifest(dir, n.Spec.ID.String())
	if err != nil {
		return err
	}
	h.deps.Bundles.Register(b)
	return nil
}
