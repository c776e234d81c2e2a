package cachestore

import (
	"os"

	"github.com/charlesnicholson/envy/pkg/envyerrors"
)

// Result is what Ensure returns: a stable path the caller may read (and,
// while Lock is non-nil, write) from, plus the scoped lock guarding it.
type Result struct {
	Path string
	Lock *ScopedLock // nil on the lock-free fast path
}

// Ensure implements the §4.2 contract. It takes no user-managed flag;
// callers decide the lock's disposition via ScopedLock.MarkUserManaged
// once they know whether the recipe declared a check verb.
func (s *Store) Ensure(kind EntryKind, key string) (Result, error) {
	complete := s.completeMarker(kind, key)
	if fileExists(complete) {
		ensureHits.WithLabelValues("fast_path").Inc()
		return Result{Path: s.assetDir(kind, key)}, nil
	}

	fl, err := acquireLock(s.lockPath(kind, key))
	if err != nil {
		return Result{}, err
	}

	// Double-checked: another process may have completed the install
	// while we waited for the lock.
	if fileExists(complete) {
		fl.Unlock()
		os.Remove(s.lockPath(kind, key))
		ensureHits.WithLabelValues("fast_path_after_wait").Inc()
		return Result{Path: s.assetDir(kind, key)}, nil
	}

	entry := s.entryDir(kind, key)
	if err := os.RemoveAll(s.installDir(kind, key)); err != nil {
		fl.Unlock()
		return Result{}, envyerrors.Wrap(envyerrors.KindIOError, key, "clear stale install dir", err)
	}
	if err := os.RemoveAll(s.workDir(kind, key)); err != nil {
		fl.Unlock()
		return Result{}, envyerrors.Wrap(envyerrors.KindIOError, key, "clear stale work dir", err)
	}
	for _, dir := range []string{entry, s.installDir(kind, key), s.workDir(kind, key), s.fetchDir(kind, key)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			fl.Unlock()
			return Result{}, envyerrors.Wrap(envyerrors.KindIOError, key, "create entry directories", err)
		}
	}
	if err := os.WriteFile(s.keyMarker(kind, key), []byte(key), 0o644); err != nil {
		fl.Unlock()
		return Result{}, envyerrors.Wrap(envyerrors.KindIOError, key, "write key marker", err)
	}

	ensureHits.WithLabelValues("install_path").Inc()
	return Result{
		Path: s.installDir(kind, key),
		Lock: &ScopedLock{store: s, kind: kind, key: key, fl: fl, lockPath: s.lockPath(kind, key)},
	}, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
