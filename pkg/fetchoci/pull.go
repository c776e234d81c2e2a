package fetchoci

import (
	"context"
	"fmt"
	"os"

	"github.com/charlesnicholson/envy/pkg/envyerrors"
	"github.com/distribution/reference"
	"oras.land/oras-go/v2"
	"oras.land/oras-go/v2/content/file"
	"oras.land/oras-go/v2/registry/remote"
)

// Pull validates ref and copies the referenced artifact's file layers
// directly onto disk under destDir (via an oras file-store target,
// rather than an OCI blob layout), returning the resolved manifest
// digest. Recipe scripts and asset payloads are addressed by the
// filenames recorded in the artifact's layer annotations, so callers
// read them straight out of destDir once Pull returns.
func Pull(ctx context.Context, ref, destDir string) (string, error) {
	named, err := reference.ParseDockerRef(ref)
	if err != nil {
		return "", envyerrors.Wrap(envyerrors.KindParseError, ref, "parse OCI reference", err)
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", envyerrors.Wrap(envyerrors.KindIOError, destDir, "create OCI pull destination", err)
	}

	src, err := remote.NewRepository(named.String())
	if err != nil {
		return "", envyerrors.Wrap(envyerrors.KindIOError, ref, "open OCI repository", err)
	}

	dst, err := file.New(destDir)
	if err != nil {
		return "", envyerrors.Wrap(envyerrors.KindIOError, destDir, "create OCI file store", err)
	}
	defer dst.Close()

	tag := "latest"
	if tagged, ok := named.(reference.Tagged); ok {
		tag = tagged.Tag()
	}

	desc, err := oras.Copy(ctx, src, tag, dst, tag, oras.DefaultCopyOptions)
	if err != nil {
		return "", envyerrors.Wrap(envyerrors.KindIOError, ref, fmt.Sprintf("copy OCI artifact %s", tag), err)
	}
	return desc.Digest.String(), nil
}
