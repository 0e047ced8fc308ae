package scripts

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"

	"github.com/watzon/anvil/internal/hooks"
	"github.com/watzon/anvil/internal/objgraph"
	"github.com/watzon/anvil/internal/plugin"
)

// definer is implemented by graphs that can create intermediate objects.
type definer interface {
	Define(path string, value any) error
}

func (l *Loader) installAPI() {
	api := l.L.SetFuncs(l.L.NewTable(), map[string]lua.LGFunction{
		"register":   l.luaRegister,
		"hook":       l.luaHook,
		"hook_async": l.luaHookAsync,
		"unhook":     l.luaUnhook,
		"call":       l.luaCall,
		"get":        l.luaGet,
		"define":     l.luaDefine,
		"targets":    l.luaTargets,
		"params":     l.luaParams,
		"log":        l.luaLog,
	})
	l.L.SetGlobal("anvil", api)
}

// anvil.register{id=, name=, dependencies={...}, globals={...}, params={...}, initializer=function(mod, done) end}
func (l *Loader) luaRegister(L *lua.LState) int {
	t := L.CheckTable(1)

	spec := plugin.Spec{
		ID:   lua.LVAsString(t.RawGetString("id")),
		Name: lua.LVAsString(t.RawGetString("name")),
	}

	if deps, ok := t.RawGetString("dependencies").(*lua.LTable); ok {
		deps.ForEach(func(_, v lua.LValue) {
			switch d := v.(type) {
			case lua.LString:
				spec.Dependencies = append(spec.Dependencies, plugin.ParseDependency(string(d)))
			case *lua.LTable:
				spec.Dependencies = append(spec.Dependencies, plugin.Dependency{
					Name: lua.LVAsString(d.RawGetString("name")),
					URL:  lua.LVAsString(d.RawGetString("url")),
				})
			}
		})
	}

	if globals, ok := t.RawGetString("globals").(*lua.LTable); ok {
		globals.ForEach(func(_, v lua.LValue) {
			spec.Globals = append(spec.Globals, v.String())
		})
	}

	if params, ok := t.RawGetString("params").(*lua.LTable); ok {
		if m, ok := l.toGo(params).(map[string]any); ok {
			spec.Params = m
		}
	}

	if fn, ok := t.RawGetString("initializer").(*lua.LFunction); ok {
		spec.Initializer = l.initializer(fn)
	}

	m, err := l.rt.Plugins.Register(spec)
	if err != nil {
		L.RaiseError("%s", err.Error())
		return 0
	}

	L.Push(l.moduleTable(m))
	return 1
}

func (l *Loader) initializer(fn *lua.LFunction) plugin.Initializer {
	return func(m *plugin.Module, done plugin.Done) {
		doneFn := l.L.NewFunction(func(L *lua.LState) int {
			errValue := L.Get(1)
			message := L.OptString(2, "")
			if lua.LVIsFalse(errValue) {
				done(nil, message)
			} else {
				done(errors.New(errValue.String()), message)
			}
			return 0
		})

		if _, err := l.call(fn, l.moduleTable(m), doneFn); err != nil {
			done(err, "initializer raised an error")
		}
	}
}

// moduleTable exposes m to Lua. Methods accept both mod.f(x) and mod:f(x).
func (l *Loader) moduleTable(m *plugin.Module) *lua.LTable {
	t := l.L.NewTable()
	t.RawSetString("id", lua.LString(m.ID()))
	t.RawSetString("name", lua.LString(m.Name()))

	arg := func(L *lua.LState, n int) lua.LValue {
		if L.Get(1) == t {
			n++
		}
		return L.Get(n)
	}

	t.RawSetString("global", l.L.NewFunction(func(L *lua.LState) int {
		name := lua.LVAsString(arg(L, 1))
		if value := arg(L, 2); value != lua.LNil {
			if err := m.SetGlobal(name, l.toGo(value)); err != nil {
				L.RaiseError("%s", err.Error())
				return 0
			}
		}
		L.Push(l.toLua(m.Global(name)))
		return 1
	}))

	t.RawSetString("param", l.L.NewFunction(func(L *lua.LState) int {
		res := m.Param(lua.LVAsString(arg(L, 1)))
		if !res.Exists() {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(l.toLua(res.Value()))
		return 1
	}))

	return t
}

// anvil.hook(path, function(call) end, order) returns the registration id.
// call has path, phase, args and (after phase) result. Returning a table
// from a before hook replaces the arguments; returning a value from an
// after hook replaces the result.
//
// A path keeps the kind it was first hooked with. The boot entry point is
// always asynchronous, so scripts wrapping it must use anvil.hook_async.
func (l *Loader) luaHook(L *lua.LState) int {
	path := L.CheckString(1)
	fn := L.CheckFunction(2)
	order := L.OptInt(3, 0)
	phase := hooks.PhaseOf(order)

	reg, err := l.rt.Hooks.Register(path, func(c *hooks.Call) (any, bool) {
		call := l.L.NewTable()
		call.RawSetString("path", lua.LString(c.Path))
		call.RawSetString("phase", lua.LString(phase))
		call.RawSetString("args", l.listToLua(c.Args))
		if phase == hooks.PhaseAfter {
			call.RawSetString("result", l.toLua(c.Result))
		}

		ret, err := l.call(fn, call)
		if err != nil {
			log.Error().Err(err).Str("path", c.Path).Msg("Lua hook failed")
			return hooks.Keep()
		}
		if ret == nil {
			return hooks.Keep()
		}
		if phase == hooks.PhaseBefore {
			if m, ok := ret.(map[string]any); ok && len(m) == 0 {
				ret = []any{}
			}
		}
		return hooks.Replace(ret)
	}, order)
	if err != nil {
		raiseHookError(L, path, err, "anvil.hook_async")
		return 0
	}

	L.Push(lua.LString(reg.ID))
	return 1
}

// anvil.hook_async(path, function(call, next) end, callback_position, order)
// callback_position is 1-based; nil means the target takes no callback.
func (l *Loader) luaHookAsync(L *lua.LState) int {
	path := L.CheckString(1)
	fn := L.CheckFunction(2)
	index := hooks.NoCallback
	if pos, ok := L.Get(3).(lua.LNumber); ok {
		index = int(pos) - 1
	}
	order := L.OptInt(4, 0)

	reg, err := l.rt.Hooks.RegisterAsync(path, func(c *hooks.AsyncCall, next hooks.Next) {
		call := l.L.NewTable()
		call.RawSetString("path", lua.LString(c.Path))
		call.RawSetString("args", l.listToLua(c.Args))
		call.RawSetString("callback", l.toLua(c.Callback))

		nextFn := l.L.NewFunction(func(L *lua.LState) int {
			if t, ok := L.Get(1).(*lua.LTable); ok {
				args, _ := l.toGo(t).([]any)
				if args == nil {
					args = []any{}
				}
				next(args)
				return 0
			}
			next(nil)
			return 0
		})

		if _, err := l.call(fn, call, nextFn); err != nil {
			log.Error().Err(err).Str("path", c.Path).Msg("Lua async hook failed, chain halted")
		}
	}, index, order)
	if err != nil {
		raiseHookError(L, path, err, "anvil.hook")
		return 0
	}

	L.Push(lua.LString(reg.ID))
	return 1
}

// raiseHookError points scripts at the other hook function when path is
// already hooked with a different kind.
func raiseHookError(L *lua.LState, path string, err error, other string) {
	if errors.Is(err, hooks.ErrMixedKinds) {
		L.RaiseError("%s is already hooked with a different kind, use %s: %s", path, other, err.Error())
		return
	}
	L.RaiseError("%s", err.Error())
}

func (l *Loader) luaUnhook(L *lua.LState) int {
	L.Push(lua.LBool(l.rt.Hooks.Unregister(L.CheckString(1))))
	return 1
}

// anvil.call(path, ...) calls a host function through its hooks.
func (l *Loader) luaCall(L *lua.LState) int {
	path := L.CheckString(1)
	args := make([]any, 0, L.GetTop()-1)
	for i := 2; i <= L.GetTop(); i++ {
		args = append(args, l.toGo(L.Get(i)))
	}

	ret, err := safeCall(l.rt.Graph, path, args)
	if err != nil {
		L.RaiseError("%s", err.Error())
		return 0
	}
	L.Push(l.toLua(ret))
	return 1
}

func safeCall(g objgraph.Graph, path string, args []any) (ret any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("calling %s: %v", path, r)
		}
	}()
	return objgraph.Call(g, path, args...)
}

func (l *Loader) luaGet(L *lua.LState) int {
	v, err := l.rt.Graph.Get(L.CheckString(1))
	if err != nil {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(l.toLua(v))
	return 1
}

// anvil.define(path, value) assigns a value in the host graph, creating
// intermediate objects when the graph supports it.
func (l *Loader) luaDefine(L *lua.LState) int {
	path := L.CheckString(1)
	value := l.toGo(L.Get(2))

	var err error
	if d, ok := l.rt.Graph.(definer); ok {
		err = d.Define(path, value)
	} else {
		err = l.rt.Graph.Set(path, value)
	}
	if err != nil {
		L.RaiseError("%s", err.Error())
	}
	return 0
}

func (l *Loader) luaTargets(L *lua.LState) int {
	paths, err := l.rt.Hooks.Targets(L.OptString(1, "**"))
	if err != nil {
		L.RaiseError("%s", err.Error())
		return 0
	}
	L.Push(l.toLua(paths))
	return 1
}

func (l *Loader) luaParams(L *lua.LState) int {
	m, ok := l.rt.Plugins.Module(L.CheckString(1))
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(l.mapToLua(m.Params()))
	return 1
}

// anvil.log(message, level)
func (l *Loader) luaLog(L *lua.LState) int {
	msg := L.CheckString(1)
	level, err := zerolog.ParseLevel(L.OptString(2, "info"))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	event := log.WithLevel(level).Str("source", "lua")
	if where := L.Where(1); where != "" {
		event = event.Str("where", where)
	}
	event.Msg(msg)
	return 0
}
