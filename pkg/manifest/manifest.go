// Package manifest parses the on-disk project manifest into the
// manifest_roots argument resolve_and_install expects (§6): a list of
// top-level specs, any manifest-level bundle aliases, and per-package
// option overrides. §6 only specifies the in-memory shape; this
// package fixes a concrete YAML schema for it (SPEC_FULL.md §C).
//
// Grounded on the teacher's pkg/serializer (buffer-then-decode,
// structured config) and pkg/component's declarative-then-validate
// load pattern, generalized from a Kubernetes component list to
// Envy's recipe-spec manifest.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/charlesnicholson/envy/pkg/envyerrors"
	"github.com/charlesnicholson/envy/pkg/identity"
	"github.com/charlesnicholson/envy/pkg/recipespec"
)

// sourceDoc is the on-disk tagged union mirroring recipespec.Source:
// exactly one field should be set.
type sourceDoc struct {
	Remote *remoteDoc `yaml:"remote,omitempty"`
	Local  *localDoc  `yaml:"local,omitempty"`
	Git    *gitDoc    `yaml:"git,omitempty"`
	OCI    *ociDoc    `yaml:"oci,omitempty"`
}

type remoteDoc struct {
	URL    string `yaml:"url"`
	SHA256 string `yaml:"sha256,omitempty"`
}

type localDoc struct {
	Path string `yaml:"path"`
}

type gitDoc struct {
	URL string `yaml:"url"`
	Ref string `yaml:"ref"`
}

type ociDoc struct {
	Reference string `yaml:"reference"`
}

// packageDoc is one entry of the manifest's packages or bundles list.
type packageDoc struct {
	Identity string         `yaml:"identity"`
	Source   *sourceDoc     `yaml:"source,omitempty"`
	Options  map[string]any `yaml:"options,omitempty"`
}

// overrideDoc overrides a declared package's options, matched by its
// exact identity string: each listed option replaces the package's value
// for that key and the package's other options are kept. It is the
// minimal form of "manifest-level... overrides" §9 leaves unfinalized
// but SPEC_FULL.md's expansion fixes as options-only (no version
// ranges; §9 explicitly defers those).
type overrideDoc struct {
	Identity string         `yaml:"identity"`
	Options  map[string]any `yaml:"options,omitempty"`
}

// doc is the root of the YAML manifest schema.
type doc struct {
	Packages  []packageDoc  `yaml:"packages,omitempty"`
	Bundles   []packageDoc  `yaml:"bundles,omitempty"`
	Overrides []overrideDoc `yaml:"overrides,omitempty"`
}

// Load reads and parses the manifest at path, returning the root specs
// resolve_and_install should seed (§6 manifest_roots). Every returned
// spec is allocated through pool so its pointer is stable for the run.
func Load(path string, pool *recipespec.Pool) ([]*recipespec.Spec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, envyerrors.Wrap(envyerrors.KindIOError, path, "read manifest", err)
	}
	return Parse(raw, filepath.Dir(path), pool)
}

// Parse decodes raw YAML manifest content declared in dir (used to
// resolve relative local-source paths) into root specs.
func Parse(raw []byte, dir string, pool *recipespec.Pool) ([]*recipespec.Spec, error) {
	var d doc
	if err := yaml.Unmarshal(raw, &d); err != nil {
		return nil, envyerrors.Wrap(envyerrors.KindParseError, dir, "parse manifest YAML", err)
	}

	overrides := make(map[string]map[string]any, len(d.Overrides))
	for _, o := range d.Overrides {
		overrides[o.Identity] = o.Options
	}

	declaringFile := filepath.Join(dir, "envy.yaml")

	var roots []*recipespec.Spec
	for _, p := range d.Packages {
		spec, err := buildSpec(p, dir, declaringFile, overrides, false, pool)
		if err != nil {
			return nil, err
		}
		roots = append(roots, spec)
	}
	for _, b := range d.Bundles {
		spec, err := buildSpec(b, dir, declaringFile, overrides, true, pool)
		if err != nil {
			return nil, err
		}
		roots = append(roots, spec)
	}
	return roots, nil
}

func buildSpec(p packageDoc, dir, declaringFile string, overrides map[string]map[string]any, isBundle bool, pool *recipespec.Pool) (*recipespec.Spec, error) {
	id, err := identity.ParseFullIdentity(p.Identity)
	if err != nil {
		return nil, err
	}

	opts := p.Options
	if ov, ok := overrides[p.Identity]; ok {
		merged := make(map[string]any, len(opts)+len(ov))
		for k, v := range opts {
			merged[k] = v
		}
		for k, v := range ov {
			merged[k] = v
		}
		opts = merged
	}
	optVal, err := convertOptions(opts)
	if err != nil {
		return nil, envyerrors.Wrap(envyerrors.KindParseError, p.Identity, "convert options", err)
	}

	src, err := convertSource(p.Source, p.Identity)
	if err != nil {
		return nil, err
	}

	return pool.New(recipespec.Spec{
		ID:            id,
		Options:       optVal,
		Source:        src,
		DeclaringFile: declaringFile,
		IsBundleRoot:  isBundle,
	}), nil
}

func convertSource(s *sourceDoc, identityStr string) (recipespec.Source, error) {
	if s == nil {
		return recipespec.Source{Kind: recipespec.SourceNone}, nil
	}
	switch {
	case s.Remote != nil:
		return recipespec.Source{Kind: recipespec.SourceRemote, Remote: &recipespec.RemoteSource{URL: s.Remote.URL, SHA256: s.Remote.SHA256}}, nil
	case s.Local != nil:
		return recipespec.Source{Kind: recipespec.SourceLocal, Local: &recipespec.LocalSource{Path: s.Local.Path}}, nil
	case s.Git != nil:
		return recipespec.Source{Kind: recipespec.SourceGit, Git: &recipespec.GitSource{URL: s.Git.URL, Ref: s.Git.Ref}}, nil
	case s.OCI != nil:
		return recipespec.Source{Kind: recipespec.SourceOCI, OCI: &recipespec.OCISource{Reference: s.OCI.Reference}}, nil
	default:
		return recipespec.Source{}, envyerrors.New(envyerrors.KindParseError, identityStr, "source entry has no recognized kind")
	}
}

// convertOptions converts a decoded YAML mapping into an
// *identity.Options, recursing through nested maps and lists per §3's
// scripted-value union.
func convertOptions(m map[string]any) (*identity.Options, error) {
	if len(m) == 0 {
		return identity.NewOptions(nil), nil
	}
	entries := make(map[string]identity.Value, len(m))
	for k, raw := range m {
		v, err := convertValue(raw)
		if err != nil {
			return nil, fmt.Errorf("option %q: %w", k, err)
		}
		entries[k] = v
	}
	return identity.NewOptions(entries), nil
}

func convertValue(raw any) (identity.Value, error) {
	switch v := raw.(type) {
	case string:
		return identity.StringValue(v), nil
	case bool:
		return identity.BoolValue(v), nil
	case int:
		return identity.IntValue(int64(v)), nil
	case int64:
		return identity.IntValue(v), nil
	case float64:
		// yaml.v3 decodes unsuffixed integers as int, but some numeric
		// literals (scientific notation, etc.) land as float64; treat
		// whole-valued floats as integers rather than rejecting them.
		if v == float64(int64(v)) {
			return identity.IntValue(int64(v)), nil
		}
		return identity.Value{}, fmt.Errorf("non-integer numeric option %v not supported", v)
	case []any:
		out := make([]identity.Value, len(v))
		for i, e := range v {
			cv, err := convertValue(e)
			if err != nil {
				return identity.Value{}, err
			}
			out[i] = cv
		}
		return identity.ListValue(out), nil
	case map[string]any:
		nested, err := convertOptions(v)
		if err != nil {
			return identity.Value{}, err
		}
		return identity.MapValue(nested), nil
	default:
		return identity.Value{}, fmt.Errorf("unsupported option value type %T", raw)
	}
}
