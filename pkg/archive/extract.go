package archive

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charlesnicholson/envy/pkg/envyerrors"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// Extract decompresses archivePath into destDir, stripping strip
// leading path components from every entry (§4.7 stage: "extract every
// archive in fetch/ into work/stage/ stripping N leading components").
// The format is chosen from archivePath's extension.
func Extract(ctx context.Context, archivePath, destDir string, strip int) error {
	switch {
	case strings.HasSuffix(archivePath, ".zip"):
		return extractZip(archivePath, destDir, strip)
	case strings.HasSuffix(archivePath, ".tar.gz"), strings.HasSuffix(archivePath, ".tgz"):
		return extractTarWith(archivePath, destDir, strip, gzip.NewReader)
	case strings.HasSuffix(archivePath, ".tar.zst"):
		return extractTarWith(archivePath, destDir, strip, func(r io.Reader) (io.ReadCloser, error) {
			dec, err := zstd.NewReader(r)
			if err != nil {
				return nil, err
			}
			return dec.IOReadCloser(), nil
		})
	case strings.HasSuffix(archivePath, ".tar.xz"):
		return extractTarWith(archivePath, destDir, strip, func(r io.Reader) (io.ReadCloser, error) {
			xr, err := xz.NewReader(r)
			if err != nil {
				return nil, err
			}
			return io.NopCloser(xr), nil
		})
	case strings.HasSuffix(archivePath, ".tar"):
		return extractTarWith(archivePath, destDir, strip, func(r io.Reader) (io.ReadCloser, error) {
			return io.NopCloser(r), nil
		})
	default:
		return envyerrors.New(envyerrors.KindIOError, archivePath, "unrecognized archive extension")
	}
}

func extractTarWith(archivePath, destDir string, strip int, decompress func(io.Reader) (io.ReadCloser, error)) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return envyerrors.Wrap(envyerrors.KindIOError, archivePath, "open archive", err)
	}
	defer f.Close()

	rc, err := decompress(f)
	if err != nil {
		return envyerrors.Wrap(envyerrors.KindIOError, archivePath, "open decompressor", err)
	}
	defer rc.Close()

	tr := tar.NewReader(rc)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return envyerrors.Wrap(envyerrors.KindIOError, archivePath, "read tar entry", err)
		}
		rel, ok := stripPrefix(hdr.Name, strip)
		if !ok {
			continue
		}
		dest, err := safeJoin(destDir, rel)
		if err != nil {
			return envyerrors.Wrap(envyerrors.KindIOError, archivePath, "resolve entry path", err)
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(dest, 0o755); err != nil {
				return envyerrors.Wrap(envyerrors.KindIOError, archivePath, "create directory entry", err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
				return envyerrors.Wrap(envyerrors.KindIOError, archivePath, "create parent directory", err)
			}
			out, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(hdr.Mode&0o777))
			if err != nil {
				return envyerrors.Wrap(envyerrors.KindIOError, archivePath, "create file entry", err)
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return envyerrors.Wrap(envyerrors.KindIOError, archivePath, "write file entry", err)
			}
			out.Close()
		}
	}
}

func extractZip(archivePath, destDir string, strip int) error {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return envyerrors.Wrap(envyerrors.KindIOError, archivePath, "open zip archive", err)
	}
	defer r.Close()

	for _, f := range r.File {
		rel, ok := stripPrefix(f.Name, strip)
		if !ok {
			continue
		}
		dest, err := safeJoin(destDir, rel)
		if err != nil {
			return envyerrors.Wrap(envyerrors.KindIOError, archivePath, "resolve entry path", err)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(dest, 0o755); err != nil {
				return envyerrors.Wrap(envyerrors.KindIOError, archivePath, "create directory entry", err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return envyerrors.Wrap(envyerrors.KindIOError, archivePath, "create parent directory", err)
		}
		rc, err := f.Open()
		if err != nil {
			return envyerrors.Wrap(envyerrors.KindIOError, archivePath, "open zip entry", err)
		}
		out, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, f.Mode().Perm())
		if err != nil {
			rc.Close()
			return envyerrors.Wrap(envyerrors.KindIOError, archivePath, "create file entry", err)
		}
		_, copyErr := io.Copy(out, rc)
		rc.Close()
		out.Close()
		if copyErr != nil {
			return envyerrors.Wrap(envyerrors.KindIOError, archivePath, "write zip entry", copyErr)
		}
	}
	return nil
}

// stripPrefix removes the first n path components from name, reporting
// false when nothing remains (the entry is fully consumed by the
// strip, e.g. the archive's single top-level directory).
func stripPrefix(name string, n int) (string, bool) {
	parts := strings.Split(filepath.ToSlash(name), "/")
	if n >= len(parts) {
		return "", false
	}
	rest := parts[n:]
	if len(rest) == 0 || (len(rest) == 1 && rest[0] == "") {
		return "", false
	}
	return filepath.Join(rest...), true
}

// safeJoin joins rel onto root, rejecting any entry that would escape
// root (zip-slip protection).
func safeJoin(root, rel string) (string, error) {
	dest := filepath.Join(root, rel)
	if !strings.HasPrefix(dest, filepath.Clean(root)+string(os.PathSeparator)) && dest != filepath.Clean(root) {
		return "", fmt.Errorf("archive entry %q escapes destination", rel)
	}
	return dest, nil
}
