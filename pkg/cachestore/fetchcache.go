package cachestore

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"

	"github.com/charlesnicholson/envy/pkg/envyerrors"
)

// FetchCache addresses the per-file sub-cache inside an entry's fetch/
// directory (§4.2). Fetch handlers use it to skip re-downloading files
// whose declared sha256 still matches what's on disk.
type FetchCache struct {
	dir string
}

// NewFetchCache returns a FetchCache rooted at the fetch/ directory for
// (kind, key), which must already exist (Ensure creates it).
func NewFetchCache(s *Store, kind EntryKind, key string) *FetchCache {
	return &FetchCache{dir: s.fetchDir(kind, key)}
}

// Verified reports whether name is already cached and, when
// wantSHA256 is non-empty, matches it. A file with no declared sha256
// is never considered verified and must always be re-downloaded.
func (c *FetchCache) Verified(name, wantSHA256 string) (bool, error) {
	if wantSHA256 == "" {
		return false, nil
	}
	path := filepath.Join(c.dir, name)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, envyerrors.Wrap(envyerrors.KindIOError, name, "open cached fetch file", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return false, envyerrors.Wrap(envyerrors.KindIOError, name, "hash cached fetch file", err)
	}
	got := hex.EncodeToString(h.Sum(nil))
	if got != wantSHA256 {
		return false, nil
	}
	return true, nil
}

// Path returns the destination path a download of name should land at.
func (c *FetchCache) Path(name string) string { return filepath.Join(c.dir, name) }

// Dir returns the fetch sub-cache's root directory: the working
// directory of a command-form FETCH verb. A callable FETCH receives
// Store.TmpDir instead.
func (c *FetchCache) Dir() string { return c.dir }

// Entries lists the names currently cached in the fetch sub-cache.
func (c *FetchCache) Entries() ([]string, error) {
	ents, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, envyerrors.Wrap(envyerrors.KindIOError, c.dir, "list fetch cache entries", err)
	}
	var names []string
	for _, e := range ents {
		if !e.IsDir() && e.Name() != "envy-complete" {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// MarkFetchComplete writes the diagnostic envy-complete marker inside
// fetch/ (§4.2: "diagnostic only; verification is still per-file").
func (c *FetchCache) MarkFetchComplete() error {
	if err := os.WriteFile(filepath.Join(c.dir, "envy-complete"), nil, 0o644); err != nil {
		return envyerrors.Wrap(envyerrors.KindIOError, c.dir, "write fetch completion marker", err)
	}
	return nil
}
