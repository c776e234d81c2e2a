package scriptengine

import (
	"context"
	"fmt"

	"github.com/charlesnicholson/envy/pkg/envyerrors"
	"github.com/charlesnicholson/envy/pkg/identity"
	"github.com/charlesnicholson/envy/pkg/recipespec"
	lua "github.com/yuin/gopher-lua"
)

// LuaEngine is the default Engine, backed by an isolated gopher-lua
// interpreter per script (§4.3: "the adapter must isolate state per
// node: no global mutable state leaks across nodes").
type LuaEngine struct{}

// NewLuaEngine returns the default script engine.
func NewLuaEngine() *LuaEngine { return &LuaEngine{} }

var _ Engine = (*LuaEngine)(nil)

// luaState wraps one *lua.LState, one per recipe node.
type luaState struct {
	L *lua.LState
}

func (s *luaState) Close() { s.L.Close() }

// Load runs scriptPath in a fresh interpreter with sandbox's globals
// installed first.
func (e *LuaEngine) Load(ctx context.Context, scriptPath string, sandbox Sandbox) (State, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: false})
	L.SetContext(ctx)

	L.SetGlobal("PLATFORM", lua.LString(sandbox.Platform))
	L.SetGlobal("ARCH", lua.LString(sandbox.Arch))
	L.SetGlobal("PLATFORM_ARCH", lua.LString(sandbox.PlatformArch))
	L.SetGlobal("EXE_EXT", lua.LString(sandbox.ExeExtension))
	L.SetGlobal("SHELL_COMMAND", lua.LString(sandbox.ShellCommand))
	L.SetGlobal("SHELL_COMMAND_ARG", lua.LString(sandbox.ShellCommandArg))
	L.SetGlobal("envy", buildHostTable(L, sandbox.Host))

	if err := L.DoFile(scriptPath); err != nil {
		L.Close()
		return nil, envyerrors.Wrap(envyerrors.KindParseError, "", fmt.Sprintf("load recipe script %s", scriptPath), err)
	}
	return &luaState{L: L}, nil
}

func buildHostTable(L *lua.LState, host Host) *lua.LTable {
	t := L.NewTable()
	if host == nil {
		return t
	}
	t.RawSetString("log", L.NewFunction(func(ls *lua.LState) int {
		level := ls.CheckString(1)
		msg := ls.CheckString(2)
		host.Log(level, msg)
		return 0
	}))
	t.RawSetString("path_join", L.NewFunction(func(ls *lua.LState) int {
		n := ls.GetTop()
		parts := make([]string, n)
		for i := 1; i <= n; i++ {
			parts[i-1] = ls.CheckString(i)
		}
		ls.Push(lua.LString(host.PathJoin(parts...)))
		return 1
	}))
	t.RawSetString("run", L.NewFunction(func(ls *lua.LState) int {
		dir := ls.CheckString(1)
		cmdTable := ls.CheckTable(2)
		var cmd []string
		cmdTable.ForEach(func(_, v lua.LValue) { cmd = append(cmd, v.String()) })
		stdout, stderr, err := host.RunCommand(ls.Context(), dir, cmd)
		if err != nil {
			ls.RaiseError("run command failed: %v", err)
			return 0
		}
		ls.Push(lua.LString(stdout))
		ls.Push(lua.LString(stderr))
		return 2
	}))
	t.RawSetString("extract", L.NewFunction(func(ls *lua.LState) int {
		archivePath := ls.CheckString(1)
		destDir := ls.CheckString(2)
		strip := ls.OptInt(3, 0)
		if err := host.ExtractArchive(ls.Context(), archivePath, destDir, strip); err != nil {
			ls.RaiseError("extract archive failed: %v", err)
		}
		return 0
	}))
	t.RawSetString("download", L.NewFunction(func(ls *lua.LState) int {
		url := ls.CheckString(1)
		dest := ls.CheckString(2)
		sha256 := ls.OptString(3, "")
		if err := host.Download(ls.Context(), url, dest, sha256); err != nil {
			ls.RaiseError("download failed: %v", err)
		}
		return 0
	}))
	t.RawSetString("verify_sha256", L.NewFunction(func(ls *lua.LState) int {
		path := ls.CheckString(1)
		want := ls.CheckString(2)
		if err := host.VerifySHA256(path, want); err != nil {
			ls.RaiseError("sha256 verification failed: %v", err)
		}
		return 0
	}))
	t.RawSetString("asset", L.NewFunction(func(ls *lua.LState) int {
		id := ls.CheckString(1)
		path, err := host.Asset(id)
		if err != nil {
			ls.RaiseError("asset lookup failed: %v", err)
			return 0
		}
		ls.Push(lua.LString(path))
		return 1
	}))
	t.RawSetString("product", L.NewFunction(func(ls *lua.LState) int {
		name := ls.CheckString(1)
		val, err := host.Product(name)
		if err != nil {
			ls.RaiseError("product lookup failed: %v", err)
			return 0
		}
		ls.Push(lua.LString(val))
		return 1
	}))
	return t
}

// ExtractIdentity reads the required IDENTITY global.
func (e *LuaEngine) ExtractIdentity(state State) (string, error) {
	L := state.(*luaState).L
	v := L.GetGlobal("IDENTITY")
	s, ok := v.(lua.LString)
	if !ok || string(s) == "" {
		return "", envyerrors.New(envyerrors.KindParseError, "", "recipe script must set a non-empty string IDENTITY")
	}
	return string(s), nil
}

var phaseVerbGlobals = map[recipespec.Phase]string{
	recipespec.PhaseCheck:   "CHECK",
	recipespec.PhaseFetch:   "FETCH",
	recipespec.PhaseStage:   "STAGE",
	recipespec.PhaseBuild:   "BUILD",
	recipespec.PhaseInstall: "INSTALL",
	recipespec.PhaseDeploy:  "DEPLOY",
}

// ExtractPhaseVerbs reports which of CHECK/FETCH/STAGE/BUILD/INSTALL/
// DEPLOY are declared, as a literal string/array or a callable (§4.3).
func (e *LuaEngine) ExtractPhaseVerbs(state State) (map[recipespec.Phase]bool, error) {
	L := state.(*luaState).L
	out := make(map[recipespec.Phase]bool, len(phaseVerbGlobals))
	for phase, global := range phaseVerbGlobals {
		v := L.GetGlobal(global)
		switch v.Type() {
		case lua.LTFunction, lua.LTString, lua.LTTable:
			out[phase] = true
		default:
			out[phase] = false
		}
	}
	return out, nil
}

// ExtractDependencies reads the DEPENDENCIES global, calling it with
// options when it is a function, otherwise reading it as a static
// table (§4.3).
func (e *LuaEngine) ExtractDependencies(state State, options *identity.Options, pool *recipespec.Pool) ([]DepEntry, error) {
	L := state.(*luaState).L
	v := L.GetGlobal("DEPENDENCIES")
	switch deps := v.(type) {
	case *lua.LNilType:
		return nil, nil
	case *lua.LFunction:
		optTable := optionsToLua(L, options)
		if err := L.CallByParam(lua.P{Fn: deps, NRet: 1, Protect: true}, optTable); err != nil {
			return nil, envyerrors.Wrap(envyerrors.KindParseError, "", "invoke DEPENDENCIES callable", err)
		}
		ret := L.Get(-1)
		L.Pop(1)
		tbl, ok := ret.(*lua.LTable)
		if !ok {
			return nil, envyerrors.New(envyerrors.KindParseError, "", "DEPENDENCIES callable must return a table")
		}
		return tableToDepEntries(tbl, pool)
	case *lua.LTable:
		return tableToDepEntries(deps, pool)
	default:
		return nil, envyerrors.New(envyerrors.KindParseError, "", "DEPENDENCIES must be a table or callable")
	}
}

func tableToDepEntries(tbl *lua.LTable, pool *recipespec.Pool) ([]DepEntry, error) {
	var entries []DepEntry
	var rangeErr error
	tbl.ForEach(func(_, v lua.LValue) {
		if rangeErr != nil {
			return
		}
		row, ok := v.(*lua.LTable)
		if !ok {
			rangeErr = envyerrors.New(envyerrors.KindParseError, "", "each DEPENDENCIES entry must be a table")
			return
		}
		entry := DepEntry{NeededBy: recipespec.DefaultNeededBy}
		if q, ok := row.RawGetString("query").(lua.LString); ok {
			query, err := identity.ParseIdentity(string(q), true)
			if err != nil {
				rangeErr = err
				return
			}
			entry.Query = query
		}
		if nb, ok := row.RawGetString("needed_by").(lua.LString); ok {
			entry.NeededBy = recipespec.Phase(nb)
		}
		if p, ok := row.RawGetString("product").(lua.LString); ok {
			entry.ProductName = string(p)
		}
		if weakTbl, ok := row.RawGetString("weak").(*lua.LTable); ok {
			entry.Weak = true
			fallback, err := fallbackSpecFromTable(weakTbl, pool)
			if err != nil {
				rangeErr = err
				return
			}
			entry.Fallback = fallback
		}
		if b, ok := row.RawGetString("reference_only").(lua.LBool); ok {
			entry.ReferenceOnly = bool(b)
		}
		entries = append(entries, entry)
	})
	return entries, rangeErr
}

// fallbackSpecFromTable parses a weak dependency's nested fallback
// table: { identity = "ns.name@rev", source = { url = ..., sha256 = ...
// } | { path = ... } | { git = ..., ref = ... } }. The fallback itself
// must not carry an inner needed_by (§4.5).
func fallbackSpecFromTable(weakTbl *lua.LTable, pool *recipespec.Pool) (*recipespec.Spec, error) {
	idStr, ok := weakTbl.RawGetString("identity").(lua.LString)
	if !ok || string(idStr) == "" {
		return nil, envyerrors.New(envyerrors.KindParseError, "", "weak fallback missing identity")
	}
	id, err := identity.ParseFullIdentity(string(idStr))
	if err != nil {
		return nil, err
	}
	srcTbl, ok := weakTbl.RawGetString("source").(*lua.LTable)
	if !ok {
		return nil, envyerrors.New(envyerrors.KindParseError, string(idStr), "weak fallback missing source")
	}
	source, err := sourceFromTable(srcTbl)
	if err != nil {
		return nil, err
	}
	return pool.New(recipespec.Spec{ID: id, Options: identity.NewOptions(nil), Source: source}), nil
}

func sourceFromTable(t *lua.LTable) (recipespec.Source, error) {
	if u, ok := t.RawGetString("url").(lua.LString); ok {
		sha, _ := t.RawGetString("sha256").(lua.LString)
		return recipespec.Source{Kind: recipespec.SourceRemote, Remote: &recipespec.RemoteSource{URL: string(u), SHA256: string(sha)}}, nil
	}
	if p, ok := t.RawGetString("path").(lua.LString); ok {
		return recipespec.Source{Kind: recipespec.SourceLocal, Local: &recipespec.LocalSource{Path: string(p)}}, nil
	}
	if g, ok := t.RawGetString("git").(lua.LString); ok {
		ref, _ := t.RawGetString("ref").(lua.LString)
		return recipespec.Source{Kind: recipespec.SourceGit, Git: &recipespec.GitSource{URL: string(g), Ref: string(ref)}}, nil
	}
	if oci, ok := t.RawGetString("oci").(lua.LString); ok {
		return recipespec.Source{Kind: recipespec.SourceOCI, OCI: &recipespec.OCISource{Reference: string(oci)}}, nil
	}
	return recipespec.Source{}, envyerrors.New(envyerrors.KindParseError, "", "source table has no recognized kind")
}

// ExtractProducts reads the PRODUCTS mapping (§4.3).
func (e *LuaEngine) ExtractProducts(state State) (map[string]string, error) {
	L := state.(*luaState).L
	v := L.GetGlobal("PRODUCTS")
	tbl, ok := v.(*lua.LTable)
	if !ok {
		return nil, nil
	}
	out := make(map[string]string)
	var rangeErr error
	tbl.ForEach(func(k, v lua.LValue) {
		if rangeErr != nil {
			return
		}
		ks, ok := k.(lua.LString)
		if !ok || string(ks) == "" {
			rangeErr = envyerrors.New(envyerrors.KindParseError, "", "PRODUCTS keys must be non-empty strings")
			return
		}
		vs, ok := v.(lua.LString)
		if !ok || string(vs) == "" {
			rangeErr = envyerrors.New(envyerrors.KindParseError, "", "PRODUCTS values must be non-empty strings")
			return
		}
		out[string(ks)] = string(vs)
	})
	return out, rangeErr
}

// InvokePhase dispatches the phase verb by the three declaration
// shapes: literal command string, command list, or callable (§4.7
// passes the phase-specific argument list straight through).
func (e *LuaEngine) InvokePhase(ctx context.Context, state State, phase recipespec.Phase, args ...any) (PhaseResult, error) {
	L := state.(*luaState).L
	global, ok := phaseVerbGlobals[phase]
	if !ok {
		return PhaseResult{}, envyerrors.New(envyerrors.KindPhaseFailure, "", fmt.Sprintf("phase %s has no script verb", phase))
	}
	v := L.GetGlobal(global)
	switch verb := v.(type) {
	case *lua.LFunction:
		luaArgs := argsToLua(L, args)
		if phase == recipespec.PhaseCheck {
			if err := L.CallByParam(lua.P{Fn: verb, NRet: 2, Protect: true}, luaArgs...); err != nil {
				return PhaseResult{}, envyerrors.Wrap(envyerrors.KindPhaseFailure, "", fmt.Sprintf("invoke %s", global), err).WithPhase(string(phase))
			}
			msg := L.ToString(-1)
			ok := lua.LVAsBool(L.Get(-2))
			L.Pop(2)
			return PhaseResult{CheckOK: ok, Stderr: msg}, nil
		}
		if err := L.CallByParam(lua.P{Fn: verb, NRet: 2, Protect: true}, luaArgs...); err != nil {
			return PhaseResult{}, envyerrors.Wrap(envyerrors.KindPhaseFailure, "", fmt.Sprintf("invoke %s", global), err).WithPhase(string(phase))
		}
		stderr := L.ToString(-1)
		stdout := L.ToString(-2)
		L.Pop(2)
		return PhaseResult{Stdout: stdout, Stderr: stderr}, nil
	case lua.LString:
		return PhaseResult{Stdout: string(verb)}, nil
	case *lua.LTable:
		return PhaseResult{}, nil
	default:
		return PhaseResult{}, envyerrors.New(envyerrors.KindPhaseFailure, "", fmt.Sprintf("%s is not callable or declarative", global)).WithPhase(string(phase))
	}
}

// ExtractFetchDescriptor reads FETCH as a literal table: either a
// single {source, sha256?} row or an array of such rows (§6).
func (e *LuaEngine) ExtractFetchDescriptor(state State) ([]FetchItem, bool, error) {
	L := state.(*luaState).L
	tbl, ok := L.GetGlobal("FETCH").(*lua.LTable)
	if !ok {
		return nil, false, nil
	}
	if _, ok := tbl.RawGetString("source").(lua.LString); ok {
		item, err := fetchItemFromTable(tbl)
		if err != nil {
			return nil, false, err
		}
		return []FetchItem{item}, true, nil
	}
	var items []FetchItem
	var rangeErr error
	tbl.ForEach(func(_, v lua.LValue) {
		if rangeErr != nil {
			return
		}
		row, ok := v.(*lua.LTable)
		if !ok {
			rangeErr = envyerrors.New(envyerrors.KindParseError, "", "each FETCH entry must be a table")
			return
		}
		item, err := fetchItemFromTable(row)
		if err != nil {
			rangeErr = err
			return
		}
		items = append(items, item)
	})
	return items, true, rangeErr
}

func fetchItemFromTable(row *lua.LTable) (FetchItem, error) {
	src, ok := row.RawGetString("source").(lua.LString)
	if !ok || string(src) == "" {
		return FetchItem{}, envyerrors.New(envyerrors.KindParseError, "", "FETCH entry missing source")
	}
	sha, _ := row.RawGetString("sha256").(lua.LString)
	return FetchItem{URL: string(src), SHA256: string(sha)}, nil
}

// ExtractStageDescriptor reads STAGE as a literal {strip=N} table
// (§6).
func (e *LuaEngine) ExtractStageDescriptor(state State) (StageDescriptor, bool, error) {
	L := state.(*luaState).L
	tbl, ok := L.GetGlobal("STAGE").(*lua.LTable)
	if !ok {
		return StageDescriptor{}, false, nil
	}
	n, ok := tbl.RawGetString("strip").(lua.LNumber)
	if !ok {
		return StageDescriptor{}, false, nil
	}
	return StageDescriptor{Strip: int(n)}, true, nil
}

// ExtractCheckVerb reads CHECK's literal-command shape, if any (§4.7).
func (e *LuaEngine) ExtractCheckVerb(state State) ([]string, bool, error) {
	return e.ExtractCommandVerb(state, recipespec.PhaseCheck)
}

// ExtractCommandVerb reads phase's global as a literal command string,
// an argv table, or reports it as callable (§4.7: BUILD/INSTALL/DEPLOY
// share CHECK's three-shape dispatch).
func (e *LuaEngine) ExtractCommandVerb(state State, phase recipespec.Phase) ([]string, bool, error) {
	L := state.(*luaState).L
	global, ok := phaseVerbGlobals[phase]
	if !ok {
		return nil, false, envyerrors.New(envyerrors.KindPhaseFailure, "", fmt.Sprintf("phase %s has no script verb", phase))
	}
	switch v := L.GetGlobal(global).(type) {
	case lua.LString:
		return []string{string(v)}, false, nil
	case *lua.LTable:
		var cmd []string
		v.ForEach(func(_, e lua.LValue) { cmd = append(cmd, e.String()) })
		return cmd, false, nil
	case *lua.LFunction:
		return nil, true, nil
	default:
		return nil, false, nil
	}
}

// InvokeNamed calls an arbitrary script global by name with string
// arguments, used for custom-fetch source functions (§3, §4.7).
func (e *LuaEngine) InvokeNamed(ctx context.Context, state State, name string, args ...any) (PhaseResult, error) {
	L := state.(*luaState).L
	fn, ok := L.GetGlobal(name).(*lua.LFunction)
	if !ok {
		return PhaseResult{}, envyerrors.New(envyerrors.KindParseError, "", fmt.Sprintf("%s is not a function", name))
	}
	luaArgs := make([]lua.LValue, len(args))
	for i, a := range args {
		luaArgs[i] = lua.LString(fmt.Sprint(a))
	}
	if err := L.CallByParam(lua.P{Fn: fn, NRet: 2, Protect: true}, luaArgs...); err != nil {
		return PhaseResult{}, envyerrors.Wrap(envyerrors.KindPhaseFailure, "", fmt.Sprintf("invoke %s", name), err)
	}
	stderr := L.ToString(-1)
	stdout := L.ToString(-2)
	L.Pop(2)
	return PhaseResult{Stdout: stdout, Stderr: stderr}, nil
}

// argsToLua converts an InvokePhase argument list, marshaling any
// OptionsArg into a real table via optionsToLua and every other value
// through its string form (§4.7: "options" arrives as a table, paths
// and directories arrive as strings).
func argsToLua(L *lua.LState, args []any) []lua.LValue {
	luaArgs := make([]lua.LValue, len(args))
	for i, a := range args {
		if oa, ok := a.(OptionsArg); ok {
			luaArgs[i] = optionsToLua(L, oa.Options)
			continue
		}
		luaArgs[i] = lua.LString(fmt.Sprint(a))
	}
	return luaArgs
}

// ExtractValidate reports whether the script declares VALIDATE (§6).
func (e *LuaEngine) ExtractValidate(state State) (bool, error) {
	L := state.(*luaState).L
	_, ok := L.GetGlobal("VALIDATE").(*lua.LFunction)
	return ok, nil
}

// InvokeValidate calls VALIDATE(options), returning its non-nil string
// result as message (§6 "VALIDATE(options) -> nil | string").
func (e *LuaEngine) InvokeValidate(state State, options *identity.Options) (string, error) {
	L := state.(*luaState).L
	fn, ok := L.GetGlobal("VALIDATE").(*lua.LFunction)
	if !ok {
		return "", nil
	}
	optTable := optionsToLua(L, options)
	if err := L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, optTable); err != nil {
		return "", envyerrors.Wrap(envyerrors.KindParseError, "", "invoke VALIDATE", err)
	}
	ret := L.Get(-1)
	L.Pop(1)
	switch v := ret.(type) {
	case lua.LString:
		return string(v), nil
	case *lua.LNilType:
		return "", nil
	default:
		return "", envyerrors.New(envyerrors.KindParseError, "", "VALIDATE must return nil or a string")
	}
}

// optionsToLua marshals options into a fresh table for the DEPENDENCIES
// and VALIDATE callables and for an OptionsArg phase argument. Writes
// by the script change only that copy, never the node's options. Values
// round-trip through their canonical string form rather than a typed
// conversion, since Value's union is closed to this package.
func optionsToLua(L *lua.LState, opts *identity.Options) *lua.LTable {
	t := L.NewTable()
	if opts == nil {
		return t
	}
	for _, k := range opts.Keys() {
		v, _ := opts.Get(k)
		t.RawSetString(k, lua.LString(v.Canonical()))
	}
	return t
}
