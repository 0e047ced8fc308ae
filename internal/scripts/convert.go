package scripts

import (
	"fmt"
	"sort"

	lua "github.com/yuin/gopher-lua"

	"github.com/watzon/anvil/internal/hooks"
	"github.com/watzon/anvil/internal/objgraph"
)

// toGo converts a Lua value for the host. Integral numbers become int so
// host functions can type-assert them; Lua functions become objgraph.Func.
func (l *Loader) toGo(lv lua.LValue) any {
	return l.toGoVisited(lv, make(map[*lua.LTable]bool))
}

func (l *Loader) toGoVisited(lv lua.LValue, visited map[*lua.LTable]bool) any {
	switch v := lv.(type) {
	case nil, *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(v)
	case lua.LNumber:
		f := float64(v)
		if f == float64(int(f)) {
			return int(f)
		}
		return f
	case lua.LString:
		return string(v)
	case *lua.LFunction:
		return l.goFunc(v)
	case *lua.LUserData:
		return v.Value
	case *lua.LTable:
		if visited[v] {
			return nil
		}
		visited[v] = true
		return l.tableToGo(v, visited)
	default:
		return nil
	}
}

// tableToGo returns []any for sequences and map[string]any otherwise.
func (l *Loader) tableToGo(t *lua.LTable, visited map[*lua.LTable]bool) any {
	n := t.Len()
	count := 0
	t.ForEach(func(_, _ lua.LValue) { count++ })

	if n > 0 && count == n {
		out := make([]any, n)
		for i := 1; i <= n; i++ {
			out[i-1] = l.toGoVisited(t.RawGetInt(i), visited)
		}
		return out
	}

	out := make(map[string]any, count)
	t.ForEach(func(k, v lua.LValue) {
		out[k.String()] = l.toGoVisited(v, visited)
	})
	return out
}

// toLua converts a host value for Lua. Functions are wrapped so Lua can call
// them; other unknown values travel as userdata.
func (l *Loader) toLua(v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case lua.LValue:
		return val
	case bool:
		return lua.LBool(val)
	case int:
		return lua.LNumber(val)
	case int32:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case float32:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case string:
		return lua.LString(val)
	case []byte:
		return lua.LString(val)
	case []any:
		return l.listToLua(val)
	case []string:
		t := l.L.NewTable()
		for _, s := range val {
			t.Append(lua.LString(s))
		}
		return t
	case map[string]any:
		return l.mapToLua(val)
	case objgraph.Object:
		return l.mapToLua(val)
	case objgraph.Func:
		return l.luaFunc(val)
	case func(this any, args ...any) any:
		return l.luaFunc(val)
	case hooks.Callback:
		return l.luaFunc(func(_ any, args ...any) any {
			val(args...)
			return nil
		})
	case func(results ...any):
		return l.luaFunc(func(_ any, args ...any) any {
			val(args...)
			return nil
		})
	default:
		ud := l.L.NewUserData()
		ud.Value = v
		return ud
	}
}

func (l *Loader) listToLua(items []any) *lua.LTable {
	t := l.L.NewTable()
	for i, item := range items {
		t.RawSetInt(i+1, l.toLua(item))
	}
	return t
}

func (l *Loader) mapToLua(m map[string]any) *lua.LTable {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	t := l.L.NewTable()
	for _, k := range keys {
		t.RawSetString(k, l.toLua(m[k]))
	}
	return t
}

// luaFunc exposes a host function to Lua.
func (l *Loader) luaFunc(fn objgraph.Func) *lua.LFunction {
	return l.L.NewFunction(func(L *lua.LState) int {
		args := make([]any, 0, L.GetTop())
		for i := 1; i <= L.GetTop(); i++ {
			args = append(args, l.toGo(L.Get(i)))
		}
		L.Push(l.toLua(fn(nil, args...)))
		return 1
	})
}

// goFunc exposes a Lua function to the host. A Lua error inside the call is
// raised as a Go panic, since Func has no error return.
func (l *Loader) goFunc(fn *lua.LFunction) objgraph.Func {
	return func(this any, args ...any) any {
		ret, err := l.call(fn, args...)
		if err != nil {
			panic(fmt.Errorf("lua function: %w", err))
		}
		return ret
	}
}

// call invokes fn with host arguments and returns its first result.
func (l *Loader) call(fn *lua.LFunction, args ...any) (any, error) {
	largs := make([]lua.LValue, len(args))
	for i, a := range args {
		largs[i] = l.toLua(a)
	}

	if err := l.L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, largs...); err != nil {
		return nil, err
	}
	ret := l.L.Get(-1)
	l.L.Pop(1)
	return l.toGo(ret), nil
}
