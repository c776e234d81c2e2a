package cachestore

import (
	"os"
	"path/filepath"

	"github.com/charlesnicholson/envy/pkg/envyerrors"
	"github.com/gofrs/flock"
)

// ScopedLock guards one in-progress install attempt. Its destructor
// (Release) runs the three-way branch described in §4.2: exactly one
// of MarkInstallComplete / MarkUserManaged may be called before
// Release; calling neither takes the failure path.
type ScopedLock struct {
	store           *Store
	kind            EntryKind
	key             string
	fl              *flock.Flock
	lockPath        string
	installComplete bool
	userManaged     bool
}

// MarkInstallComplete records that the install succeeded. Release will
// promote install/ to asset/, fingerprint it, and write envy-complete.
func (l *ScopedLock) MarkInstallComplete() { l.installComplete = true }

// MarkUserManaged records that the recipe owns its own presence check
// (it declared a check verb). Release will discard the entry entirely
// rather than caching it.
func (l *ScopedLock) MarkUserManaged() { l.userManaged = true }

// Release runs the three-way destruction branch and drops the
// underlying OS lock. It is safe to call at most once.
func (l *ScopedLock) Release() error {
	defer func() {
		l.fl.Unlock()
		os.Remove(l.lockPath)
	}()

	entry := l.store.entryDir(l.kind, l.key)
	switch {
	case l.installComplete:
		asset := l.store.assetDir(l.kind, l.key)
		install := l.store.installDir(l.kind, l.key)
		if err := os.Rename(install, asset); err != nil {
			return envyerrors.Wrap(envyerrors.KindIOError, l.key, "promote install to asset", err)
		}
		if err := writeFingerprint(asset, l.store.fingerprintPath(l.kind, l.key)); err != nil {
			return err
		}
		if err := os.RemoveAll(l.store.workDir(l.kind, l.key)); err != nil {
			return envyerrors.Wrap(envyerrors.KindIOError, l.key, "remove work dir", err)
		}
		if err := os.RemoveAll(l.store.fetchDir(l.kind, l.key)); err != nil {
			return envyerrors.Wrap(envyerrors.KindIOError, l.key, "remove fetch dir", err)
		}
		if err := os.WriteFile(l.store.completeMarker(l.kind, l.key), nil, 0o644); err != nil {
			return envyerrors.Wrap(envyerrors.KindIOError, l.key, "write completion marker", err)
		}
		return nil

	case l.userManaged:
		if err := os.RemoveAll(entry); err != nil {
			return envyerrors.Wrap(envyerrors.KindIOError, l.key, "remove user-managed entry", err)
		}
		return nil

	default:
		installEmpty, _ := dirEmpty(l.store.installDir(l.kind, l.key))
		fetchEmpty, _ := dirEmpty(l.store.fetchDir(l.kind, l.key))
		if installEmpty && fetchEmpty {
			if err := os.RemoveAll(entry); err != nil {
				return envyerrors.Wrap(envyerrors.KindIOError, l.key, "remove failed entry", err)
			}
		}
		return nil
	}
}

func dirEmpty(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return true, nil
		}
		return false, err
	}
	defer f.Close()
	_, err = f.Readdirnames(1)
	return err != nil, nil
}

// acquireLock blocks until the exclusive OS lock for (kind, key) is
// held, creating the locks/ directory on demand.
func acquireLock(lockPath string) (*flock.Flock, error) {
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, envyerrors.Wrap(envyerrors.KindIOError, "", "create locks directory", err)
	}
	fl := flock.New(lockPath)
	if err := fl.Lock(); err != nil {
		return nil, envyerrors.Wrap(envyerrors.KindIOError, "", "acquire exclusive cache lock", err)
	}
	return fl, nil
}
