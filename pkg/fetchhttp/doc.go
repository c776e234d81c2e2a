// Package fetchhttp implements the HTTP download primitive phase
// handlers use for remote recipe scripts and remote-source assets
// (§4.7 recipe_fetch, fetch). Grounded directly on the teacher's
// pkg/serializer/http.go HttpReader (functional-options *http.Client
// wrapper with pooled, timeout-bounded transport); generalized from a
// byte-slice Read/Download pair to a context-aware, per-host
// rate-limited Downloader that streams straight to disk and verifies
// sha256 as it writes. Per-host throttling uses
// golang.org/x/time/rate (teacher's go.mod), which the original file
// has no equivalent of.
package fetchhttp
