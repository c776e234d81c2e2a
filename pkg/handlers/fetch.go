package handlers

import (
	"context"
	"net/url"
	"os"
	"path"

	"golang.org/x/sync/errgroup"

	"github.com/charlesnicholson/envy/pkg/cachestore"
	"github.com/charlesnicholson/envy/pkg/defaults"
	"github.com/charlesnicholson/envy/pkg/envyerrors"
	"github.com/charlesnicholson/envy/pkg/graph"
	"github.com/charlesnicholson/envy/pkg/recipespec"
	"github.com/charlesnicholson/envy/pkg/scriptengine"
)

// fetch implements the fetch handler: download every declared source
// into the node's asset entry's fetch/ sub-cache, reusing any file
// whose recorded sha256 already matches what's on disk (§4.2, §4.7
// fetch). A short-circuited CHECK, a bundle root, or a node that never
// declared FETCH all no-op here.
func (h *Handlers) fetch(ctx context.Context, n *graph.Node) error {
	ns := h.stateFor(n)
	ns.mu.Lock()
	shortCircuit := ns.shortCircuit
	declared := ns.verbs[recipespec.PhaseFetch]
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

	items, ok, err := h.deps.Engine.ExtractFetchDescriptor(n.ScriptState)
	if err != nil {
		return err
	}
	if ok {
		return h.fetchDeclarative(ctx, n, fc, items)
	}

	cmd, callable, err := h.deps.Engine.ExtractCommandVerb(n.ScriptState, recipespec.PhaseFetch)
	if err != nil {
		return err
	}
	if callable {
		tmpDir := h.deps.Store.TmpDir(cachestore.EntryAsset, ns.assetKey)
		if err := os.MkdirAll(tmpDir, 0o755); err != nil {
			return envyerrors.Wrap(envyerrors.KindIOError, n.CanonicalKey, "create fetch tmp dir", err)
		}
		_, err := h.deps.Engine.InvokePhase(ctx, n.ScriptState, recipespec.PhaseFetch, tmpDir, scriptengine.OptionsArg{Options: n.Spec.Options})
		if err != nil {
			return err
		}
		return fc.MarkFetchComplete()
	}
	if len(cmd) > 0 {
		host := newNodeHost(h, n)
		if _, _, err := host.RunCommand(ctx, fc.Dir(), cmd); err != nil {
			return err
		}
	}
	return fc.MarkFetchComplete()
}

// fetchDeclarative downloads every FETCH item concurrently, at most
// defaults.DownloadConcurrency at a time, skipping
// files the fetch cache already has a verified copy of.
func (h *Handlers) fetchDeclarative(ctx context.Context, n *graph.Node, fc *cachestore.FetchCache, items []scriptengine.FetchItem) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(defaults.DownloadConcurrency())
	for _, item := range items {
		item := item
		g.Go(func() error {
			name := fetchItemName(item.URL)
			verified, err := fc.Verified(name, item.SHA256)
			if err != nil {
				return err
			}
			if verified {
				return nil
			}
			return h.deps.Downloader.Download(gctx, item.URL, fc.Path(name), item.SHA256)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return fc.MarkFetchComplete()
}

func fetchItemName(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return path.Base(rawURL)
	}
	return path.Base(u.Path)
}
