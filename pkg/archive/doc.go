// Package archive extracts the formats the stage phase declarative
// `{strip = N}` descriptor supports (§4.7 stage): tar, tar.gz, tar.zst,
// tar.xz, and zip, all with leading-path-component stripping.
//
// No example repo extracts archives, so each codec follows the
// ecosystem library named in the pack's manifests: compress/gzip and
// archive/zip from the standard library, github.com/klauspost/compress
// for zstd, and github.com/ulikunitz/xz
// for .tar.xz (both named in the tsukumogami-tsuku manifest).
package archive
