// Package scriptengine implements the recipe-script adapter (§4.3): it
// loads a recipe script in an isolated interpreter, extracts the
// declared globals (identity, phase verbs, dependency table, product
// table, validation hook), and invokes phase callbacks with typed
// arguments.
//
// The default Engine embeds github.com/yuin/gopher-lua (named,
// ungrounded: no example repo embeds a scripting runtime, but the
// specification requires Lua recipe scripts specifically). The
// Engine interface itself follows the adapter-interface pattern
// the teacher uses for RecipeInput in pkg/recipe/adapter.go, so a
// second implementation (or a test fake) can stand in for the
// interpreter without touching callers.
package scriptengine
