package cachestore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsure_InstallThenFastPath(t *testing.T) {
	root := t.TempDir()
	s := New(root)

	res, err := s.Ensure(EntryAsset, "envy.cmake@3.28.0")
	require.NoError(t, err)
	require.NotNil(t, res.Lock)
	assert.DirExists(t, res.Path)

	require.NoError(t, os.WriteFile(filepath.Join(res.Path, "bin.sh"), []byte("#!/bin/sh\n"), 0o755))
	res.Lock.MarkInstallComplete()
	require.NoError(t, res.Lock.Release())

	again, err := s.Ensure(EntryAsset, "envy.cmake@3.28.0")
	require.NoError(t, err)
	assert.Nil(t, again.Lock)
	assert.FileExists(t, filepath.Join(again.Path, "bin.sh"))
	assert.FileExists(t, s.fingerprintPath(EntryAsset, "envy.cmake@3.28.0"))
}

func TestEnsure_UserManagedDiscardsEntry(t *testing.T) {
	root := t.TempDir()
	s := New(root)

	res, err := s.Ensure(EntryAsset, "envy.system-python@2")
	require.NoError(t, err)
	require.NotNil(t, res.Lock)
	res.Lock.MarkUserManaged()
	require.NoError(t, res.Lock.Release())

	assert.NoDirExists(t, s.entryDir(EntryAsset, "envy.system-python@2"))
}

func TestEnsure_FailurePreservesFetchWhenNonEmpty(t *testing.T) {
	root := t.TempDir()
	s := New(root)

	res, err := s.Ensure(EntryAsset, "envy.openssl@3.0")
	require.NoError(t, err)
	require.NotNil(t, res.Lock)

	fetchDir := s.fetchDir(EntryAsset, "envy.openssl@3.0")
	require.NoError(t, os.WriteFile(filepath.Join(fetchDir, "openssl.tar.gz"), []byte("data"), 0o644))

	require.NoError(t, res.Lock.Release()) // neither mark called: failure path

	assert.DirExists(t, s.entryDir(EntryAsset, "envy.openssl@3.0"))
	assert.FileExists(t, filepath.Join(fetchDir, "openssl.tar.gz"))
	assert.NoFileExists(t, s.completeMarker(EntryAsset, "envy.openssl@3.0"))
}

func TestEnsure_FailureDiscardsEmptyEntry(t *testing.T) {
	root := t.TempDir()
	s := New(root)

	res, err := s.Ensure(EntryAsset, "envy.curl@8.0")
	require.NoError(t, err)
	require.NoError(t, res.Lock.Release())

	assert.NoDirExists(t, s.entryDir(EntryAsset, "envy.curl@8.0"))
}

func TestFetchCache_VerifiedRequiresMatchingSHA(t *testing.T) {
	root := t.TempDir()
	s := New(root)
	res, err := s.Ensure(EntryAsset, "envy.ninja@1.11")
	require.NoError(t, err)
	defer res.Lock.Release()

	fc := NewFetchCache(s, EntryAsset, "envy.ninja@1.11")
	require.NoError(t, os.WriteFile(fc.Path("ninja.zip"), []byte("payload"), 0o644))

	// sha256("payload")
	const want = "239f59ed55e737c77147cf55ad0c1b030b6d7ee748a7426952f9b852d5a935e5"
	ok, err := fc.Verified("ninja.zip", want)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = fc.Verified("ninja.zip", "0000000000000000000000000000000000000000000000000000000000000000"[:64])
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = fc.Verified("ninja.zip", "")
	require.NoError(t, err)
	assert.False(t, ok)
}
