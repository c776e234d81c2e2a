// Package identity implements Envy's canonical recipe identity, option
// canonicalization, and partial-identity matching (§4.1). Every other
// package treats canonical keys produced here as the sole memoization,
// filesystem, and trace key.
package identity

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/charlesnicholson/envy/pkg/envyerrors"
)

// Identity is the triple (namespace, name, revision), serialized as
// "namespace.name@revision". Revisions are opaque and ordered only by
// equality (§3).
type Identity struct {
	Namespace string
	Name      string
	Revision  string
}

// String renders the canonical "namespace.name@revision" form.
func (id Identity) String() string {
	return fmt.Sprintf("%s.%s@%s", id.Namespace, id.Name, id.Revision)
}

// Query is a partial identity used for weak/reference-only matching.
// A zero-value field is a wildcard in Matches (§4.1).
type Query struct {
	Namespace string
	Name      string
	Revision  string
}

var identitySegment = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.\-]*$`)

// ParseIdentity parses the partial forms "name", "ns.name", "name@rev",
// and "ns.name@rev". Missing parts are wildcards in the returned Query.
// allowPartial controls whether missing name/revision segments are
// tolerated (true for query contexts, false for contexts requiring a
// fully-qualified identity).
func ParseIdentity(s string, allowPartial bool) (Query, error) {
	var q Query
	s = strings.TrimSpace(s)
	if s == "" {
		return q, envyerrors.New(envyerrors.KindParseError, s, "empty identity")
	}

	rest := s
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		q.Revision = rest[at+1:]
		rest = rest[:at]
		if q.Revision == "" {
			return q, envyerrors.New(envyerrors.KindParseError, s, "empty revision after '@'")
		}
	}

	if dot := strings.Index(rest, "."); dot >= 0 {
		q.Namespace = rest[:dot]
		q.Name = rest[dot+1:]
		if strings.Contains(q.Name, ".") {
			return q, envyerrors.New(envyerrors.KindParseError, s, "identity name must not contain '.'")
		}
	} else {
		q.Name = rest
	}

	if q.Name == "" {
		return q, envyerrors.New(envyerrors.KindParseError, s, "missing name segment")
	}
	if !allowPartial && (q.Namespace == "" || q.Revision == "") {
		return q, envyerrors.New(envyerrors.KindParseError, s, "missing namespace or revision segment in non-query identity")
	}
	for _, seg := range []string{q.Namespace, q.Name, q.Revision} {
		if seg != "" && !identitySegment.MatchString(seg) {
			return q, envyerrors.New(envyerrors.KindParseError, s, fmt.Sprintf("invalid identity segment %q", seg))
		}
	}
	return q, nil
}

// ParseFullIdentity parses a fully-qualified "ns.name@rev" string into
// an Identity, rejecting any missing segment.
func ParseFullIdentity(s string) (Identity, error) {
	q, err := ParseIdentity(s, false)
	if err != nil {
		return Identity{}, err
	}
	return Identity{Namespace: q.Namespace, Name: q.Name, Revision: q.Revision}, nil
}

// Matches reports whether candidate satisfies query: every non-empty
// query component must equal the corresponding candidate component.
// Options are never considered (§4.1).
func Matches(query Query, candidate Identity) bool {
	if query.Namespace != "" && query.Namespace != candidate.Namespace {
		return false
	}
	if query.Name != "" && query.Name != candidate.Name {
		return false
	}
	if query.Revision != "" && query.Revision != candidate.Revision {
		return false
	}
	return true
}
