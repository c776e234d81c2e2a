// Package envyerrors defines the closed set of error kinds the engine can
// return and the aggregate bundle the resolver assembles once the graph
// reaches quiescence. An *Error keeps its underlying cause in Cause and
// exposes it through Unwrap, so callers can still unwrap to OS- or
// script-level causes while switching on Kind for dispatch.
package envyerrors

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/charlesnicholson/envy/pkg/defaults"
)

// Kind identifies one of the closed set of error categories callers can
// distinguish (§7).
type Kind string

const (
	KindIdentityMismatch     Kind = "identity_mismatch"
	KindHashMismatch         Kind = "hash_mismatch"
	KindParseError           Kind = "parse_error"
	KindCycle                Kind = "cycle"
	KindMissingReference     Kind = "missing_reference"
	KindAmbiguousReference   Kind = "ambiguous_reference"
	KindProductCollision     Kind = "product_collision"
	KindProductFallbackBad   Kind = "product_fallback_invalid"
	KindNeededByInvalid      Kind = "needed_by_invalid"
	KindUserManagedViolation Kind = "user_managed_violation"
	KindIOError              Kind = "io_error"
	KindPhaseFailure         Kind = "phase_failure"
)

// Error is a single diagnostic of a known Kind, optionally wrapping an
// underlying cause and carrying the declaring-file/line provenance a
// script error surfaces.
type Error struct {
	Kind       Kind
	Identity   string // canonical key or best-effort identity, when known
	Phase      string // phase name, when the error occurred during one
	Message    string
	Location   string // declaring-file path, and line info when available
	Candidates []string
	Cause      error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Identity != "" {
		b.WriteString(" ")
		b.WriteString(e.Identity)
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Location != "" {
		fmt.Fprintf(&b, " (%s)", e.Location)
	}
	if len(e.Candidates) > 0 {
		fmt.Fprintf(&b, " [candidates: %s]", strings.Join(e.Candidates, ", "))
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error of the given kind.
func New(kind Kind, identity, message string) *Error {
	return &Error{Kind: kind, Identity: identity, Message: message}
}

// Wrap builds an *Error of the given kind around an existing cause.
func Wrap(kind Kind, identity, message string, cause error) *Error {
	return &Error{Kind: kind, Identity: identity, Message: message, Cause: cause}
}

// WithPhase returns a shallow copy of e with Phase set, for chaining at
// the phase-handler call site.
func (e *Error) WithPhase(phase string) *Error {
	c := *e
	c.Phase = phase
	return &c
}

// WithLocation returns a shallow copy of e with Location set.
func (e *Error) WithLocation(loc string) *Error {
	c := *e
	c.Location = loc
	return &c
}

// WithCandidates returns a shallow copy of e with Candidates set,
// truncated to defaults.MaxCandidateSuggestions.
func (e *Error) WithCandidates(candidates []string) *Error {
	c := *e
	if len(candidates) > defaults.MaxCandidateSuggestions {
		candidates = candidates[:defaults.MaxCandidateSuggestions]
	}
	c.Candidates = candidates
	return &c
}

// Suggest returns up to defaults.MaxCandidateSuggestions entries from
// known that are within defaults.SuggestionMaxDistance edits of query,
// ordered by increasing distance then lexicographically. It backs the
// "did you mean ...?" hints on missing_reference and
// ambiguous_reference diagnostics (§7 "user-visible failure").
func Suggest(query string, known []string) []string {
	type scored struct {
		name string
		dist int
	}
	var candidates []scored
	for _, k := range known {
		d := levenshtein.ComputeDistance(query, k)
		if d <= defaults.SuggestionMaxDistance {
			candidates = append(candidates, scored{k, d})
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].dist != candidates[j].dist {
			return candidates[i].dist < candidates[j].dist
		}
		return candidates[i].name < candidates[j].name
	})
	if len(candidates) > defaults.MaxCandidateSuggestions {
		candidates = candidates[:defaults.MaxCandidateSuggestions]
	}
	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.name
	}
	return out
}

// Bundle aggregates every error observed during a resolution run. The
// resolver returns one of these, never a single error, once it has
// waited for quiescence (§7 propagation policy).
type Bundle struct {
	Errors []*Error
}

// Add appends err to the bundle. Add is not safe for concurrent use;
// pkg/resolver appends only from the goroutine running Resolve.
func (b *Bundle) Add(err *Error) {
	b.Errors = append(b.Errors, err)
}

// Empty reports whether the bundle has no errors.
func (b *Bundle) Empty() bool { return len(b.Errors) == 0 }

// Error implements the error interface so a *Bundle can be returned
// directly as an error from resolve_and_install.
func (b *Bundle) Error() string {
	if len(b.Errors) == 0 {
		return "no errors"
	}
	lines := make([]string, len(b.Errors))
	for i, e := range b.Errors {
		lines[i] = e.Error()
	}
	return fmt.Sprintf("%s:\n  %s", Summarize(len(b.Errors)), strings.Join(lines, "\n  "))
}

// ByKind returns every error in the bundle matching kind.
func (b *Bundle) ByKind(kind Kind) []*Error {
	var out []*Error
	for _, e := range b.Errors {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// As reports whether err can be unwrapped to an *Error, mirroring
// errors.As for callers that only have the error interface.
func As(err error, kind Kind) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) && e.Kind == kind {
		return e, true
	}
	return nil, false
}
