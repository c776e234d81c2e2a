package cachestore

import (
	"bytes"
	"encoding/binary"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/charlesnicholson/envy/pkg/defaults"
	"github.com/charlesnicholson/envy/pkg/envyerrors"
	"lukechampine.com/blake3"
)

// fingerprintEntry is one record of the bit-exact on-disk format (§4.2):
// (path_offset:u32, path_length:u32, blake3:[32]byte, size:u64, mtime_ns:i64).
type fingerprintEntry struct {
	pathOffset uint32
	pathLength uint32
	sum        [32]byte
	size       uint64
	mtimeNs    int64
}

// writeFingerprint walks assetDir and writes the blake3 fingerprint
// file at dst: fixed header (magic, version, entry count, entry-array
// offset, string-table offset), entry array, then a flat string table
// of NUL-free UTF-8 paths referenced by offset/length.
func writeFingerprint(assetDir, dst string) error {
	var paths []string
	err := filepath.WalkDir(assetDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(assetDir, path)
		if relErr != nil {
			return relErr
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return envyerrors.Wrap(envyerrors.KindIOError, "", "walk asset tree for fingerprint", err)
	}
	sort.Strings(paths)

	var strTable bytes.Buffer
	entries := make([]fingerprintEntry, 0, len(paths))
	for _, rel := range paths {
		full := filepath.Join(assetDir, filepath.FromSlash(rel))
		info, statErr := os.Stat(full)
		if statErr != nil {
			return envyerrors.Wrap(envyerrors.KindIOError, rel, "stat asset file", statErr)
		}
		data, readErr := os.ReadFile(full)
		if readErr != nil {
			return envyerrors.Wrap(envyerrors.KindIOError, rel, "read asset file", readErr)
		}
		sum := blake3.Sum256(data)
		e := fingerprintEntry{
			pathOffset: uint32(strTable.Len()),
			pathLength: uint32(len(rel)),
			sum:        sum,
			size:       uint64(info.Size()),
			mtimeNs:    info.ModTime().UnixNano(),
		}
		strTable.WriteString(rel)
		entries = append(entries, e)
	}

	const headerSize = 4 + 4 + 4 + 4 + 4 // magic + version + count + entryOff + stringOff
	const recordSize = 4 + 4 + 32 + 8 + 8
	entryArrayOffset := uint32(headerSize)
	stringTableOffset := entryArrayOffset + uint32(len(entries))*recordSize

	var buf bytes.Buffer
	buf.WriteString(defaults.FingerprintMagic)
	binary.Write(&buf, binary.LittleEndian, defaults.FingerprintVersion)
	binary.Write(&buf, binary.LittleEndian, uint32(len(entries)))
	binary.Write(&buf, binary.LittleEndian, entryArrayOffset)
	binary.Write(&buf, binary.LittleEndian, stringTableOffset)
	for _, e := range entries {
		binary.Write(&buf, binary.LittleEndian, e.pathOffset)
		binary.Write(&buf, binary.LittleEndian, e.pathLength)
		buf.Write(e.sum[:])
		binary.Write(&buf, binary.LittleEndian, e.size)
		binary.Write(&buf, binary.LittleEndian, e.mtimeNs)
	}
	buf.Write(strTable.Bytes())

	if err := os.WriteFile(dst, buf.Bytes(), 0o644); err != nil {
		return envyerrors.Wrap(envyerrors.KindIOError, dst, "write fingerprint file", err)
	}
	return nil
}
