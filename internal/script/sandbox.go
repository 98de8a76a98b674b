package script

import (
	"strings"

	"github.com/rs/zerolog"
	lua "github.com/yuin/gopher-lua"
)

// Sandbox restricts what scripts can reach.
type Sandbox struct {
	L      *lua.LState
	logger zerolog.Logger

	// modules scripts may require besides the safe builtins
	allowed map[string]bool
}

// NewSandbox creates a sandbox for the Lua state.
func NewSandbox(L *lua.LState, logger zerolog.Logger) *Sandbox {
	return &Sandbox{
		L:       L,
		logger:  logger,
		allowed: make(map[string]bool),
	}
}

// Install removes loaders that bypass the sandbox, routes print to the
// logger and replaces require with a whitelist.
func (s *Sandbox) Install() {
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring"} {
		s.L.SetGlobal(name, lua.LNil)
	}
	s.installPrint()
	s.installRequire()
}

// Allow permits require(name) for a module preloaded with PreloadModule.
func (s *Sandbox) Allow(name string) {
	s.allowed[name] = true
}

func (s *Sandbox) installPrint() {
	s.L.SetGlobal("print", s.L.NewFunction(func(L *lua.LState) int {
		n := L.GetTop()
		parts := make([]string, n)
		for i := 1; i <= n; i++ {
			parts[i-1] = L.ToStringMeta(L.Get(i)).String()
		}
		s.logger.Info().Str("source", "lua").Msg(strings.Join(parts, "\t"))
		return 0
	}))
}

// installRequire replaces require with one that only resolves safe builtins
// and allowed preloads. It never consults package.path, package.cpath or the
// package loaders, so a script rewriting them cannot reach the disk.
func (s *Sandbox) installRequire() {
	loaded := s.L.NewTable()
	preload := s.L.NewTable()
	if pkg, ok := s.L.GetGlobal("package").(*lua.LTable); ok {
		if t, ok := s.L.GetField(pkg, "loaded").(*lua.LTable); ok {
			loaded = t
		}
		if t, ok := s.L.GetField(pkg, "preload").(*lua.LTable); ok {
			preload = t
		}
		s.L.SetField(pkg, "path", lua.LString(""))
		s.L.SetField(pkg, "cpath", lua.LString(""))
		s.L.SetField(pkg, "loaders", s.L.NewTable())
		s.L.SetField(pkg, "loadlib", lua.LNil)
	}

	safe := map[string]bool{
		"string": true,
		"table":  true,
		"math":   true,
	}

	s.L.SetGlobal("require", s.L.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(1)
		if !safe[name] && !s.allowed[name] {
			L.RaiseError("module %q is not available", name)
			return 0
		}

		if mod := L.GetField(loaded, name); mod != lua.LNil {
			L.Push(mod)
			return 1
		}
		open, ok := L.GetField(preload, name).(*lua.LFunction)
		if !ok {
			L.RaiseError("module %q is not available", name)
			return 0
		}

		L.Push(open)
		L.Push(lua.LString(name))
		L.Call(1, 1)
		mod := L.Get(-1)
		L.Pop(1)
		if mod == lua.LNil {
			mod = lua.LTrue
		}
		L.SetField(loaded, name, mod)
		L.Push(mod)
		return 1
	}))
}
