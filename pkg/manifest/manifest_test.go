package manifest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charlesnicholson/envy/pkg/recipespec"
)

func TestParse_PackagesAndBundles(t *testing.T) {
	src := []byte(`
packages:
  - identity: local.tool@r1
    source:
      local:
        path: ./tool.lua
    options:
      prefix: /usr/local
      parallel: true
      jobs: 8

bundles:
  - identity: envy.helm-bundle@r1
    source:
      remote:
        url: https://example.com/bundle.tar.gz
        sha256: "aa00aa00aa00aa00aa00aa00aa00aa00aa00aa00aa00aa00aa00aa00aa00aa00"

overrides:
  - identity: local.tool@r1
    options:
      jobs: 16
`)
	pool := recipespec.NewPool()
	roots, err := Parse(src, "/proj", pool)
	require.NoError(t, err)
	require.Len(t, roots, 2)

	tool := roots[0]
	assert.Equal(t, "local.tool@r1", tool.ID.String())
	assert.False(t, tool.IsBundleRoot)
	assert.Equal(t, recipespec.SourceLocal, tool.Source.Kind)
	assert.Equal(t, "./tool.lua", tool.Source.Local.Path)

	jobs, ok := tool.Options.Get("jobs")
	require.True(t, ok)
	assert.Equal(t, "16", jobs.Canonical()) // override replaced 8 with 16

	prefix, ok := tool.Options.Get("prefix")
	require.True(t, ok)
	assert.Equal(t, "/usr/local", prefix.Canonical())

	bundleSpec := roots[1]
	assert.True(t, bundleSpec.IsBundleRoot)
	assert.Equal(t, recipespec.SourceRemote, bundleSpec.Source.Kind)
	assert.Equal(t, "https://example.com/bundle.tar.gz", bundleSpec.Source.Remote.URL)
}

func TestParse_RejectsUnknownSourceKind(t *testing.T) {
	src := []byte(`
packages:
  - identity: local.tool@r1
    source: {}
`)
	pool := recipespec.NewPool()
	_, err := Parse(src, "/proj", pool)
	require.Error(t, err)
}

func TestParse_RejectsMalformedIdentity(t *testing.T) {
	src := []byte(`
packages:
  - identity: tool-without-namespace-or-revision
`)
	pool := recipespec.NewPool()
	_, err := Parse(src, "/proj", pool)
	require.Error(t, err)
}

func TestParse_NestedOptionsAndLists(t *testing.T) {
	src := []byte(`
packages:
  - identity: ns.thing@r2
    options:
      flags:
        - "-O2"
        - "-g"
      nested:
        enable: true
        depth: 3
`)
	pool := recipespec.NewPool()
	roots, err := Parse(src, "/proj", pool)
	require.NoError(t, err)
	require.Len(t, roots, 1)

	flags, ok := roots[0].Options.Get("flags")
	require.True(t, ok)
	assert.Equal(t, "[-O2,-g]", flags.Canonical())

	nested, ok := roots[0].Options.Get("nested")
	require.True(t, ok)
	assert.Equal(t, "{depth=3,enable=true}", nested.Canonical())
}
