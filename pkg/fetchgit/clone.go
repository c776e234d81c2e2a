// Package fetchgit implements the git source kind's shallow clone
// (§3 GitSource, §4.7 recipe_fetch: "If only a git source is given,
// shallow-clone at the declared ref into the recipe entry"). Git
// itself is an external collaborator (§1); this package shells out to
// the system git binary rather than embedding a pure-Go client, the
// same way the core spec treats HTTP and archive primitives as thin
// wrappers over OS/ecosystem tools.
package fetchgit

import (
	"context"
	"os/exec"

	"github.com/charlesnicholson/envy/pkg/defaults"
	"github.com/charlesnicholson/envy/pkg/envyerrors"
)

// ShallowClone clones url at ref into destDir with depth 1, giving up
// after defaults.GitCloneTimeout.
func ShallowClone(ctx context.Context, url, ref, destDir string) error {
	ctx, cancel := context.WithTimeout(ctx, defaults.GitCloneTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, "git", "clone", "--quiet", "--depth", "1", "--branch", ref, url, destDir)
	if out, err := cmd.CombinedOutput(); err != nil {
		return envyerrors.Wrap(envyerrors.KindIOError, url, "git clone: "+string(out), err)
	}
	return nil
}
