package scriptengine

import (
	"context"

	"github.com/charlesnicholson/envy/pkg/identity"
	"github.com/charlesnicholson/envy/pkg/recipespec"
)

// Sandbox is the fixed set of globals injected into a script before it
// runs (§4.3): platform identifiers plus a host namespace of utility
// operations the script can call during any phase verb.
type Sandbox struct {
	Platform        string // e.g. "linux", "darwin", "windows"
	Arch            string // e.g. "amd64", "arm64"
	PlatformArch    string // "{Platform}-{Arch}"
	ExeExtension    string // "" or ".exe"
	ShellCommand    string // e.g. "/bin/sh" or "cmd.exe"
	ShellCommandArg string // e.g. "-c" or "/C"
	Host            Host
}

// Host is the collaborator surface §6 describes as "logging sinks,
// platform constants, path join helpers, process runner, archive
// extractor, download primitives, hash verifier, and dependency-access
// helpers" — out of scope for the core engine, implemented elsewhere
// and injected here so phase verbs can call into it.
type Host interface {
	Log(level, msg string)
	PathJoin(parts ...string) string
	RunCommand(ctx context.Context, dir string, command []string) (stdout, stderr string, err error)
	ExtractArchive(ctx context.Context, archivePath, destDir string, stripComponents int) error
	Download(ctx context.Context, url, destPath, sha256 string) error
	VerifySHA256(path, want string) error
	Asset(id string) (string, error)
	Product(name string) (string, error)
}

// DepEntry is one parsed row of a script's DEPENDENCIES table (§6): a
// strong reference, a weak/fallback reference, a product dependency, or
// a reference-only dependency, depending on which optional fields are
// set.
type DepEntry struct {
	Query       identity.Query
	NeededBy    recipespec.Phase
	Weak        bool
	Fallback    *recipespec.Spec
	ProductName string
	ReferenceOnly bool
}

// PhaseResult is what InvokePhase returns: the phase verb's outcome,
// normalized across the four declaration shapes (command string,
// command list, declarative descriptor, or callable).
type PhaseResult struct {
	Stdout string
	Stderr string

	// CheckOK is meaningful only when phase is PhaseCheck: the
	// callable's boolean result (§4.7 check: "a true/zero-exit result
	// short-circuits").
	CheckOK bool
}

// State is an opaque handle to one loaded script's isolated
// interpreter state. A State must only ever be touched by the node's
// single executor goroutine (§3 invariant: "a node's interpreter state
// is single-threaded").
type State interface {
	Close()
}

// FetchItem is one {source, sha256?} row of a declarative FETCH
// descriptor (§6).
type FetchItem struct {
	URL    string
	SHA256 string // empty means unverified
}

// StageDescriptor is the declarative STAGE shape (§6): "extract every
// archive in fetch/ into work/stage/ stripping N leading components".
type StageDescriptor struct {
	Strip int
}

// OptionsArg wraps a node's canonicalized options for an InvokePhase
// call so the engine can marshal them into a real table argument
// rather than a stringified value (§3 Options, §4.7 stage/build/
// install/deploy: each callback's trailing `options` argument is the
// same read-only table ExtractDependencies's callable already
// receives).
type OptionsArg struct {
	Options *identity.Options
}

// Engine is the recipe-script adapter contract (§4.3).
type Engine interface {
	Load(ctx context.Context, scriptPath string, sandbox Sandbox) (State, error)
	ExtractIdentity(state State) (string, error)
	ExtractPhaseVerbs(state State) (map[recipespec.Phase]bool, error)

	// ExtractDependencies reads the DEPENDENCIES table or callable. pool
	// is the process-wide spec pool; a weak dependency's nested
	// fallback table is allocated through it so the resulting DepEntry
	// Fallback pointer is stable for the run (§3).
	ExtractDependencies(state State, options *identity.Options, pool *recipespec.Pool) ([]DepEntry, error)
	ExtractProducts(state State) (map[string]string, error)
	InvokePhase(ctx context.Context, state State, phase recipespec.Phase, args ...any) (PhaseResult, error)

	// ExtractFetchDescriptor reports the declarative FETCH shape, if
	// FETCH is a literal table rather than a command string or
	// callable (§6 "{source=url, sha256=hex} for FETCH").
	ExtractFetchDescriptor(state State) ([]FetchItem, bool, error)

	// ExtractStageDescriptor reports the declarative STAGE shape, if
	// STAGE is a literal {strip=N} table rather than a callable (§6
	// "{strip=N} for STAGE").
	ExtractStageDescriptor(state State) (StageDescriptor, bool, error)

	// ExtractCheckVerb reports CHECK's declared shape: a literal
	// command (string or list) to run with the project root as cwd, or
	// whether CHECK is a callable InvokePhase should invoke directly
	// (§4.7 check: "either a literal command string or a callable").
	ExtractCheckVerb(state State) (command []string, callable bool, err error)

	// InvokeNamed calls an arbitrary script global by name, used for a
	// custom-fetch source's declared fetch function (§3
	// CustomFetchSource, §4.7 recipe_fetch "invoke the fetch function
	// with a phase context").
	InvokeNamed(ctx context.Context, state State, name string, args ...any) (PhaseResult, error)

	// ExtractCommandVerb reports phase's literal command shape (a
	// single shell string or an argv list), if any, or whether the verb
	// is a callable InvokePhase should invoke directly. BUILD, INSTALL
	// and DEPLOY share CHECK's three-shape dispatch (§4.7).
	ExtractCommandVerb(state State, phase recipespec.Phase) (command []string, callable bool, err error)

	// ExtractValidate reports whether the script declares the optional
	// VALIDATE global (§6 "VALIDATE(options) -> nil | string").
	ExtractValidate(state State) (declared bool, err error)

	// InvokeValidate calls VALIDATE with the node's options, returning
	// the non-empty failure message if validation rejected them (§6:
	// "non-nil fails early").
	InvokeValidate(state State, options *identity.Options) (message string, err error)
}
