// Package graph implements the recipe node & graph registry and the
// per-node phase state machine and scheduler (§4.4, §4.5): a memoized
// canonical-key → node map, one executor goroutine per node, and the
// needed_by cross-node blocking protocol that lets a dependent suspend
// at its needed_by phase until the dependency reaches completion.
//
// Grounded structurally on the teacher's pkg/recipe registry (a
// mutex-guarded map keyed by a derived string, populated lazily) and
// on golang.org/x/sync/singleflight (teacher's go.mod) to collapse
// concurrent ensure_node calls for the same canonical key into one
// allocation. Phase execution itself is supplied by an injected
// PhaseRunner so this package never imports pkg/handlers; pkg/engine
// wires the two together, avoiding an import cycle.
package graph
