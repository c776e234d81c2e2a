package cachestore

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
)

// EntryKind distinguishes the two top-level cache trees (§4.2).
type EntryKind string

const (
	EntryRecipe EntryKind = "recipes"
	EntryAsset  EntryKind = "assets"
)

// Store roots all cache entries under Root. Root must live on a single
// filesystem so that mark_install_complete's rename is atomic.
type Store struct {
	Root string
}

// New returns a Store rooted at root. root is created lazily on first
// Ensure call.
func New(root string) *Store {
	return &Store{Root: root}
}

// entryDigest derives a filesystem-safe directory name from a
// canonical key. Canonical keys contain '@', '.', '{', '}', '=', ',',
// '[', ']', all of which are awkward or illegal on common filesystems,
// so entries are addressed by the key's sha256 rather than the literal
// string; the key itself is recorded in envy-key for debugging.
func entryDigest(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func (s *Store) entryDir(kind EntryKind, key string) string {
	return filepath.Join(s.Root, string(kind), entryDigest(key))
}

func (s *Store) lockPath(kind EntryKind, key string) string {
	return filepath.Join(s.Root, "locks", string(kind)+"-"+entryDigest(key)+".lock")
}

// AssetPath returns the final, immutable payload directory for (kind,
// key). Callers must only treat the result as valid once the entry's
// envy-complete marker is present (§4.2: "readers of a completed entry
// do not take locks").
func (s *Store) AssetPath(kind EntryKind, key string) string { return s.assetDir(kind, key) }

// WorkDir returns the entry's ephemeral build workspace, valid only
// while a ScopedLock for (kind, key) is held.
func (s *Store) WorkDir(kind EntryKind, key string) string { return s.workDir(kind, key) }

// FetchDir returns the entry's per-file fetch sub-cache directory
// (§4.2), valid only while a ScopedLock for (kind, key) is held.
func (s *Store) FetchDir(kind EntryKind, key string) string { return s.fetchDir(kind, key) }

// TmpDir returns the entry's scratch directory, the `tmp_dir` phase
// verbs receive (§4.7 stage/build/install). It lives under the work
// tree alongside stage/ and is created on demand by the handler that
// needs it, not by Ensure.
func (s *Store) TmpDir(kind EntryKind, key string) string { return s.tmpDir(kind, key) }

func (s *Store) assetDir(kind EntryKind, key string) string  { return filepath.Join(s.entryDir(kind, key), "asset") }
func (s *Store) installDir(kind EntryKind, key string) string { return filepath.Join(s.entryDir(kind, key), "install") }
func (s *Store) workDir(kind EntryKind, key string) string    { return filepath.Join(s.entryDir(kind, key), "work") }
func (s *Store) fetchDir(kind EntryKind, key string) string   { return filepath.Join(s.entryDir(kind, key), "fetch") }
func (s *Store) tmpDir(kind EntryKind, key string) string     { return filepath.Join(s.workDir(kind, key), "tmp") }
func (s *Store) completeMarker(kind EntryKind, key string) string {
	return filepath.Join(s.entryDir(kind, key), "envy-complete")
}
func (s *Store) fingerprintPath(kind EntryKind, key string) string {
	return filepath.Join(s.entryDir(kind, key), "envy-fingerprint.blake3")
}
func (s *Store) keyMarker(kind EntryKind, key string) string {
	return filepath.Join(s.entryDir(kind, key), "envy-key")
}
