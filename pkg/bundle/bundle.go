// Package bundle implements the bundle/helper-script registry (§4.4,
// §9 "bundles as packages"): a bundle is a multi-spec container with
// its own declared identity; resolving a spec inside a bundle reads
// from the bundle's cache directory rather than an independent cache
// entry.
//
// Grounded on the teacher's pkg/bundler/registry.go (a name-keyed
// registry of declarative bundle metadata), generalized from a static
// catalog of Kubernetes bundlers to a live, cache-backed registry
// populated as bundle nodes complete their recipe_fetch phase.
package bundle

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/charlesnicholson/envy/pkg/envyerrors"
	lua "github.com/yuin/gopher-lua"
)

// Bundle is one loaded envy-bundle.lua manifest: a declared identity
// plus the relative path of every spec it contains (§6 "Bundle
// metadata").
type Bundle struct {
	Identity string
	Dir      string // the bundle's cache directory, once fetched
	Specs    map[string]string
}

// ScriptPath resolves the on-disk path of the spec named specIdentity
// inside the bundle, failing if the manifest never declared it.
func (b *Bundle) ScriptPath(specIdentity string) (string, error) {
	rel, ok := b.Specs[specIdentity]
	if !ok {
		return "", envyerrors.New(envyerrors.KindParseError, specIdentity,
			"bundle "+b.Identity+" does not declare this spec")
	}
	return filepath.Join(b.Dir, rel), nil
}

// Registry is the process-local identity → Bundle map (§4.4).
type Registry struct {
	mu      sync.Mutex
	bundles map[string]*Bundle
}

// NewRegistry returns an empty bundle registry.
func NewRegistry() *Registry {
	return &Registry{bundles: make(map[string]*Bundle)}
}

// Register records b under its identity, overwriting any prior entry.
func (r *Registry) Register(b *Bundle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bundles[b.Identity] = b
}

// Lookup returns the bundle registered under identity, if any.
func (r *Registry) Lookup(identity string) (*Bundle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bundles[identity]
	return b, ok
}

// LoadManifest parses envy-bundle.lua at the root of dir: BUNDLE must
// equal expectedIdentity and every path in SPECS must exist on disk
// (§4.7 recipe_fetch: "validate its manifest"). The IDENTITY declared
// inside each spec file is not read here; recipe_fetch compares it with
// the node's identity only when that spec is itself loaded.
func LoadManifest(dir, expectedIdentity string) (*Bundle, error) {
	manifestPath := filepath.Join(dir, "envy-bundle.lua")
	L := lua.NewState(lua.Options{SkipOpenLibs: false})
	defer L.Close()

	if err := L.DoFile(manifestPath); err != nil {
		return nil, envyerrors.Wrap(envyerrors.KindParseError, expectedIdentity, "load bundle manifest", err)
	}

	idVal, ok := L.GetGlobal("BUNDLE").(lua.LString)
	if !ok || string(idVal) == "" {
		return nil, envyerrors.New(envyerrors.KindParseError, expectedIdentity, "bundle manifest must set a non-empty string BUNDLE")
	}
	if string(idVal) != expectedIdentity {
		return nil, envyerrors.New(envyerrors.KindIdentityMismatch, expectedIdentity,
			"bundle manifest declares "+string(idVal))
	}

	specsTbl, ok := L.GetGlobal("SPECS").(*lua.LTable)
	if !ok {
		return nil, envyerrors.New(envyerrors.KindParseError, expectedIdentity, "bundle manifest must set a SPECS table")
	}

	specs := make(map[string]string)
	var rangeErr error
	specsTbl.ForEach(func(k, v lua.LValue) {
		if rangeErr != nil {
			return
		}
		ks, ok := k.(lua.LString)
		if !ok || string(ks) == "" {
			rangeErr = envyerrors.New(envyerrors.KindParseError, expectedIdentity, "SPECS keys must be non-empty strings")
			return
		}
		vs, ok := v.(lua.LString)
		if !ok || string(vs) == "" {
			rangeErr = envyerrors.New(envyerrors.KindParseError, expectedIdentity, "SPECS values must be non-empty strings")
			return
		}
		full := filepath.Join(dir, string(vs))
		if _, err := os.Stat(full); err != nil {
			rangeErr = envyerrors.Wrap(envyerrors.KindParseError, expectedIdentity, "SPECS entry "+string(ks)+" does not exist", err)
			return
		}
		specs[string(ks)] = string(vs)
	})
	if rangeErr != nil {
		return nil, rangeErr
	}

	return &Bundle{Identity: string(idVal), Dir: dir, Specs: specs}, nil
}
