package scriptengine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/charlesnicholson/envy/pkg/identity"
	"github.com/charlesnicholson/envy/pkg/recipespec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHost struct {
	logs []string
}

func (h *fakeHost) Log(level, msg string) { h.logs = append(h.logs, level+": "+msg) }
func (h *fakeHost) PathJoin(parts ...string) string { return filepath.Join(parts...) }
func (h *fakeHost) RunCommand(ctx context.Context, dir string, command []string) (string, string, error) {
	return "ok", "", nil
}
func (h *fakeHost) ExtractArchive(ctx context.Context, archivePath, destDir string, strip int) error {
	return nil
}
func (h *fakeHost) Download(ctx context.Context, url, dest, sha256 string) error { return nil }
func (h *fakeHost) VerifySHA256(path, want string) error                        { return nil }
func (h *fakeHost) Asset(id string) (string, error)                             { return "/cache/assets/" + id, nil }
func (h *fakeHost) Product(name string) (string, error)                         { return "/cache/product/" + name, nil }

func writeScript(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "recipe.lua")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLuaEngine_ExtractIdentity(t *testing.T) {
	path := writeScript(t, `IDENTITY = "envy.cmake@3.28.0"`)
	e := NewLuaEngine()
	state, err := e.Load(context.Background(), path, Sandbox{Platform: "linux", Arch: "amd64", Host: &fakeHost{}})
	require.NoError(t, err)
	defer state.Close()

	id, err := e.ExtractIdentity(state)
	require.NoError(t, err)
	assert.Equal(t, "envy.cmake@3.28.0", id)
}

func TestLuaEngine_ExtractIdentity_MissingIsError(t *testing.T) {
	path := writeScript(t, `-- no IDENTITY set`)
	e := NewLuaEngine()
	state, err := e.Load(context.Background(), path, Sandbox{Host: &fakeHost{}})
	require.NoError(t, err)
	defer state.Close()

	_, err = e.ExtractIdentity(state)
	assert.Error(t, err)
}

func TestLuaEngine_ExtractPhaseVerbs(t *testing.T) {
	path := writeScript(t, `
IDENTITY = "envy.cmake@3.28.0"
FETCH = { source = "https://example.com/cmake.tar.gz", sha256 = "abc" }
function BUILD(project_root)
  return "ok", ""
end
`)
	e := NewLuaEngine()
	state, err := e.Load(context.Background(), path, Sandbox{Host: &fakeHost{}})
	require.NoError(t, err)
	defer state.Close()

	verbs, err := e.ExtractPhaseVerbs(state)
	require.NoError(t, err)
	assert.True(t, verbs[recipespec.PhaseFetch])
	assert.True(t, verbs[recipespec.PhaseBuild])
	assert.False(t, verbs[recipespec.PhaseDeploy])
}

func TestLuaEngine_ExtractDependencies_StaticTable(t *testing.T) {
	path := writeScript(t, `
IDENTITY = "envy.app@1.0"
DEPENDENCIES = {
  { query = "envy.cmake@3.28.0", needed_by = "fetch" },
  { product = "compiler" },
}
`)
	e := NewLuaEngine()
	state, err := e.Load(context.Background(), path, Sandbox{Host: &fakeHost{}})
	require.NoError(t, err)
	defer state.Close()

	deps, err := e.ExtractDependencies(state, identity.NewOptions(nil), recipespec.NewPool())
	require.NoError(t, err)
	require.Len(t, deps, 2)
	assert.Equal(t, "cmake", deps[0].Query.Name)
	assert.Equal(t, recipespec.PhaseFetch, deps[0].NeededBy)
	assert.Equal(t, "compiler", deps[1].ProductName)
}

func TestLuaEngine_ExtractDependencies_Callable(t *testing.T) {
	path := writeScript(t, `
IDENTITY = "envy.app@1.0"
function DEPENDENCIES(options)
  if options.flavor == "static" then
    return { { query = "envy.zlib-static@1.3" } }
  end
  return { { query = "envy.zlib@1.3" } }
end
`)
	e := NewLuaEngine()
	state, err := e.Load(context.Background(), path, Sandbox{Host: &fakeHost{}})
	require.NoError(t, err)
	defer state.Close()

	opts := identity.NewOptions(map[string]identity.Value{"flavor": identity.StringValue("static")})
	deps, err := e.ExtractDependencies(state, opts, recipespec.NewPool())
	require.NoError(t, err)
	require.Len(t, deps, 1)
	assert.Equal(t, "zlib-static", deps[0].Query.Name)
}

func TestLuaEngine_ExtractProducts(t *testing.T) {
	path := writeScript(t, `
IDENTITY = "envy.cmake@3.28.0"
PRODUCTS = { compiler = "cmake-bin" }
`)
	e := NewLuaEngine()
	state, err := e.Load(context.Background(), path, Sandbox{Host: &fakeHost{}})
	require.NoError(t, err)
	defer state.Close()

	products, err := e.ExtractProducts(state)
	require.NoError(t, err)
	assert.Equal(t, "cmake-bin", products["compiler"])
}

func TestLuaEngine_InvokePhase_Callable(t *testing.T) {
	path := writeScript(t, `
IDENTITY = "envy.cmake@3.28.0"
function BUILD(project_root)
  return "built " .. project_root, ""
end
`)
	e := NewLuaEngine()
	state, err := e.Load(context.Background(), path, Sandbox{Host: &fakeHost{}})
	require.NoError(t, err)
	defer state.Close()

	res, err := e.InvokePhase(context.Background(), state, recipespec.PhaseBuild, "/work/root")
	require.NoError(t, err)
	assert.Equal(t, "built /work/root", res.Stdout)
}

func TestLuaEngine_InvokePhase_OptionsArgArrivesAsTable(t *testing.T) {
	path := writeScript(t, `
IDENTITY = "envy.cmake@3.28.0"
function BUILD(stage_dir, fetch_dir, tmp_dir, options)
  return stage_dir .. "|" .. fetch_dir .. "|" .. tmp_dir .. "|" .. options.flavor, ""
end
`)
	e := NewLuaEngine()
	state, err := e.Load(context.Background(), path, Sandbox{Host: &fakeHost{}})
	require.NoError(t, err)
	defer state.Close()

	opts := identity.NewOptions(map[string]identity.Value{"flavor": identity.StringValue("static")})
	res, err := e.InvokePhase(context.Background(), state, recipespec.PhaseBuild,
		"/work/stage", "/work/fetch", "/work/tmp", OptionsArg{Options: opts})
	require.NoError(t, err)
	assert.Equal(t, "/work/stage|/work/fetch|/work/tmp|static", res.Stdout)
}

func TestLuaEngine_ExtractValidate(t *testing.T) {
	path := writeScript(t, `
IDENTITY = "envy.cmake@3.28.0"
function VALIDATE(options)
  if options.flavor == "bogus" then
    return "flavor must not be bogus"
  end
  return nil
end
`)
	e := NewLuaEngine()
	state, err := e.Load(context.Background(), path, Sandbox{Host: &fakeHost{}})
	require.NoError(t, err)
	defer state.Close()

	declared, err := e.ExtractValidate(state)
	require.NoError(t, err)
	assert.True(t, declared)

	msg, err := e.InvokeValidate(state, identity.NewOptions(map[string]identity.Value{"flavor": identity.StringValue("bogus")}))
	require.NoError(t, err)
	assert.Equal(t, "flavor must not be bogus", msg)

	msg, err = e.InvokeValidate(state, identity.NewOptions(map[string]identity.Value{"flavor": identity.StringValue("ok")}))
	require.NoError(t, err)
	assert.Empty(t, msg)
}

func TestLuaEngine_ExtractValidate_Undeclared(t *testing.T) {
	path := writeScript(t, `IDENTITY = "envy.cmake@3.28.0"`)
	e := NewLuaEngine()
	state, err := e.Load(context.Background(), path, Sandbox{Host: &fakeHost{}})
	require.NoError(t, err)
	defer state.Close()

	declared, err := e.ExtractValidate(state)
	require.NoError(t, err)
	assert.False(t, declared)
}

func TestLuaEngine_HostNamespaceReachableFromScript(t *testing.T) {
	path := writeScript(t, `
IDENTITY = "envy.cmake@3.28.0"
function BUILD(project_root)
  envy.log("info", "building")
  local out, err = envy.run(project_root, {"make"})
  return out, err
end
`)
	host := &fakeHost{}
	e := NewLuaEngine()
	state, err := e.Load(context.Background(), path, Sandbox{Host: host})
	require.NoError(t, err)
	defer state.Close()

	res, err := e.InvokePhase(context.Background(), state, recipespec.PhaseBuild, "/work/root")
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Stdout)
	assert.Contains(t, host.logs, "info: building")
}
