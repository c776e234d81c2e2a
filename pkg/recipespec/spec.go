// Package recipespec holds the immutable recipe spec model and the
// process-wide, pointer-stable pool every spec is allocated from (§3).
// Grounded on the teacher's pkg/recipe/types.go and pkg/recipe/store.go
// (a pool/registry pair), generalized from GPU-recipe measurement
// records to Envy's identity+source+dependency model.
package recipespec

import (
	"github.com/charlesnicholson/envy/pkg/identity"
)

// Phase names a point in the eight-phase progression a dependency's
// needed_by can reference (§4.5). pkg/graph tracks phases by the int
// Ordinal of this type, so this package has no dependency on the
// scheduler.
type Phase string

const (
	PhaseRecipeFetch Phase = "recipe_fetch"
	PhaseCheck       Phase = "check"
	PhaseFetch       Phase = "fetch"
	PhaseStage       Phase = "stage"
	PhaseBuild       Phase = "build"
	PhaseInstall     Phase = "install"
	PhaseDeploy      Phase = "deploy"
	PhaseCompletion  Phase = "completion"
)

// phaseOrder fixes the linear ordering §4.5 defines.
var phaseOrder = map[Phase]int{
	PhaseRecipeFetch: 0,
	PhaseCheck:       1,
	PhaseFetch:       2,
	PhaseStage:       3,
	PhaseBuild:       4,
	PhaseInstall:     5,
	PhaseDeploy:      6,
	PhaseCompletion:  7,
}

// Ordinal returns p's position in the linear phase progression, or -1
// if p is not one of the eight known phases.
func (p Phase) Ordinal() int {
	if o, ok := phaseOrder[p]; ok {
		return o
	}
	return -1
}

// Valid reports whether p is one of the eight known phases.
func (p Phase) Valid() bool { return p.Ordinal() >= 0 }

// DefaultNeededBy is the phase a dependency declaration blocks on when
// it does not specify needed_by explicitly. §9's open question fixes
// this to fetch (phase 2): "fully installed before I begin fetching
// sources."
const DefaultNeededBy = PhaseFetch

// SourceKind discriminates the tagged union of source descriptors
// (§3).
type SourceKind int

const (
	SourceNone SourceKind = iota
	SourceRemote
	SourceLocal
	SourceGit
	SourceOCI
	SourceCustomFetch
	SourceWeak
	SourceBundle
)

// RemoteSource is {remote url + optional sha256}.
type RemoteSource struct {
	URL    string
	SHA256 string // empty means unverified
}

// LocalSource is {local file path}, relative to the declaring
// manifest/recipe directory.
type LocalSource struct {
	Path string
}

// GitSource is {git url + ref}.
type GitSource struct {
	URL string
	Ref string
}

// OCISource is the domain-stack addition (SPEC_FULL §B.9): a recipe or
// asset fetched from an OCI registry by reference.
type OCISource struct {
	Reference string // e.g. "registry.example.com/envy/tool:1.2.3"
}

// CustomFetchSource is {custom-fetch-function with nested source
// dependencies}: SourceDependencies must complete before recipe_fetch
// runs (§4.5). The fetch is not a function of the recipe script itself:
// recipe_fetch runs the product named FunctionName, advertised by one of
// SourceDependencies, as a command; no tmp_dir or fetch/commit_fetch
// surface is provided to it.
type CustomFetchSource struct {
	FunctionName       string // product name whose value is the fetch command
	SourceDependencies []*Spec
}

// BundleSource names a spec resolved from inside a bundle (§3 "bundle
// alias", §4.4, §9 "bundles as packages"): once the bundle node
// (identified by BundleIdentity) has completed, its script path is
// looked up in the bundle manifest's SPECS table under this spec's
// identity. recipe_fetch does not read RelPath.
type BundleSource struct {
	BundleIdentity string
	RelPath        string
}

// Source is the tagged union described in §3. Exactly one of the
// pointer fields is non-nil when Kind names it; SourceWeak and
// SourceNone carry no payload.
type Source struct {
	Kind   SourceKind
	Remote *RemoteSource
	Local  *LocalSource
	Git    *GitSource
	OCI    *OCISource
	Custom *CustomFetchSource
	Bundle *BundleSource
}

// WeakRef describes a partial-identity query with an optional fallback
// spec, as carried by a node's weak_references list (§3).
type WeakRef struct {
	Query        identity.Query
	Fallback     *Spec // nil for a reference-only dependency
	NeededBy     Phase
	Resolved     bool
	ProductName  string // non-empty for a product dependency
	ConstraintID *identity.Identity
}

// Spec is the immutable (after parse) recipe spec described in §3.
// Specs are uncopyable and owned by Pool; all creation goes through
// Pool.New so pointers stay stable for the run.
type Spec struct {
	ID identity.Identity
	Options *identity.Options

	Source Source

	// DeclaringFile is the provenance path: the manifest or recipe
	// file that declared this spec.
	DeclaringFile string

	// NeededBy is set when this spec is a dependency of another node;
	// it is the phase at which the dependent blocks on this spec's
	// completion (§4.5). Zero value means "this is a manifest root."
	NeededBy Phase

	// ProductName is set when this spec was declared as a product
	// dependency rather than an identity dependency.
	ProductName string

	// Weak is set when this spec itself is the fallback payload of a
	// WeakRef; such specs must not carry an inner NeededBy (§4.5).
	Weak *WeakRef

	// IsBundleRoot marks a spec whose fetched content is a bundle (§4.4,
	// §9 "bundles as packages"): its node's only real verb is
	// recipe_fetch, which loads envy-bundle.lua from the fetched
	// content instead of a recipe script.
	IsBundleRoot bool
}

// Spec is always handled by pointer once allocated from a Pool; callers
// must never dereference-copy a *Spec.

// CanonicalKey returns the canonical memoization key for s.
func (s *Spec) CanonicalKey() string {
	return identity.CanonicalKey(s.ID, s.Options)
}
