package handlers

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/charlesnicholson/envy/pkg/archive"
	"github.com/charlesnicholson/envy/pkg/cachestore"
	"github.com/charlesnicholson/envy/pkg/envyerrors"
	"github.com/charlesnicholson/envy/pkg/graph"
	"github.com/charlesnicholson/envy/pkg/identity"
)

// nodeHost implements scriptengine.Host for one node, bridging the
// isolated interpreter's `envy.*` namespace to real collaborators
// (§4.3, §6).
type nodeHost struct {
	h    *Handlers
	node *graph.Node
	log  *slog.Logger
}

func newNodeHost(h *Handlers, n *graph.Node) *nodeHost {
	return &nodeHost{h: h, node: n, log: slog.With("identity", n.Spec.ID.String(), "canonical_key", n.CanonicalKey)}
}

func (nh *nodeHost) Log(level, msg string) {
	switch level {
	case "debug":
		nh.log.Debug(msg)
	case "warn", "warning":
		nh.log.Warn(msg)
	case "error":
		nh.log.Error(msg)
	default:
		nh.log.Info(msg)
	}
}

func (nh *nodeHost) PathJoin(parts ...string) string { return filepath.Join(parts...) }

// RunCommand executes command in dir. A single-element command is run
// through the shell (recipes write "make install" as one string); a
// multi-element command is exec'd directly as argv.
func (nh *nodeHost) RunCommand(ctx context.Context, dir string, command []string) (string, string, error) {
	if len(command) == 0 {
		return "", "", envyerrors.New(envyerrors.KindPhaseFailure, nh.node.CanonicalKey, "empty command")
	}
	var cmd *exec.Cmd
	if len(command) == 1 {
		cmd = exec.CommandContext(ctx, "/bin/sh", "-c", command[0])
	} else {
		cmd = exec.CommandContext(ctx, command[0], command[1:]...)
	}
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	if err != nil {
		return stdout.String(), stderr.String(), envyerrors.Wrap(envyerrors.KindPhaseFailure, nh.node.CanonicalKey,
			fmt.Sprintf("command %v failed", command), err)
	}
	return stdout.String(), stderr.String(), nil
}

func (nh *nodeHost) ExtractArchive(ctx context.Context, archivePath, destDir string, strip int) error {
	return archive.Extract(ctx, archivePath, destDir, strip)
}

func (nh *nodeHost) Download(ctx context.Context, url, dest, sha256 string) error {
	return nh.h.deps.Downloader.Download(ctx, url, dest, sha256)
}

func (nh *nodeHost) VerifySHA256(path, want string) error {
	f, err := os.Open(path)
	if err != nil {
		return envyerrors.Wrap(envyerrors.KindIOError, path, "open file for verification", err)
	}
	defer f.Close()
	hsh := sha256.New()
	if _, err := io.Copy(hsh, f); err != nil {
		return envyerrors.Wrap(envyerrors.KindIOError, path, "hash file", err)
	}
	got := hex.EncodeToString(hsh.Sum(nil))
	if got != want {
		return envyerrors.New(envyerrors.KindHashMismatch, path, fmt.Sprintf("sha256 mismatch: want %s got %s", want, got))
	}
	return nil
}

// Asset resolves a dependency-access query (identity) to the
// dependency's installed path (§6 "asset(identity) -> path").
func (nh *nodeHost) Asset(id string) (string, error) {
	q, err := identity.ParseIdentity(id, true)
	if err != nil {
		return "", err
	}
	for _, edge := range nh.node.DependencySnapshot() {
		if !identity.Matches(q, edge.Node.Spec.ID) {
			continue
		}
		depState := nh.h.peekState(edge.Node)
		if depState != nil && depState.userManaged {
			return "", envyerrors.New(envyerrors.KindMissingReference, id, "dependency is user-managed; it has no cache asset path")
		}
		return nh.h.deps.Store.AssetPath(cachestore.EntryAsset, assetKey(edge.Node, nh.h.deps.Platform, nh.h.deps.Arch)), nil
	}
	return "", envyerrors.New(envyerrors.KindMissingReference, id, "no dependency matches asset query")
}

// Product resolves a product name to its registered value (§4.8,
// §6 "product(name) -> path_or_value").
func (nh *nodeHost) Product(name string) (string, error) {
	provider, ok := nh.h.deps.Products.FindProvider(name)
	if !ok {
		return "", envyerrors.New(envyerrors.KindMissingReference, name, "no product provider registered").
			WithCandidates(envyerrors.Suggest(name, nh.h.deps.Products.Names()))
	}
	raw, ok := provider.ProductValue(name)
	if !ok {
		return "", envyerrors.New(envyerrors.KindMissingReference, name, "provider does not advertise this product")
	}
	providerState := nh.h.peekState(provider)
	if providerState != nil && providerState.userManaged {
		return raw, nil
	}
	return filepath.Join(nh.h.deps.Store.AssetPath(cachestore.EntryAsset, assetKey(provider, nh.h.deps.Platform, nh.h.deps.Arch)), raw), nil
}
