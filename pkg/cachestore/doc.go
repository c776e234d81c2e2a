// Package cachestore implements the on-disk recipe/asset cache (§4.2):
// a stable install path per canonical key, cross-process exclusive
// locking around the install attempt, and crash recovery via a
// three-way scoped-lock release.
//
// Grounded on the teacher's pkg/recipe/store.go for the
// once-initialized, mutex-free-after-warm-up store shape, generalized
// from a single embedded YAML blob to a live, per-entry filesystem
// cache. Locking is grounded on github.com/gofrs/flock (named in the
// pack's Azure-dalec manifest) since no example repo exercises file
// locking directly.
package cachestore
