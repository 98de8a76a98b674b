package script

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/boardlink/internal/event"
)

// Channels is the set of channels scripts can subscribe to.
type Channels interface {
	Channel(name string) *event.Channel
	ChannelNames() []string
}

// Install exposes chs to scripts as the global table name, also loadable
// with require(name). For every channel it defines name.<channel>_receive,
// plus name.on(channel, consumer) and name.channels().
//
// A consumer is a function, or a table
// {handler = fn, async = bool, defaults = {param = value}, name = string}.
// Registration returns the handler so it can be used inline.
func Install(vm *VM, name string, chs Channels) error {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	if vm.closed {
		return ErrVMClosed
	}

	funcs := map[string]lua.LGFunction{
		"on": func(L *lua.LState) int {
			channel := L.CheckString(1)
			return subscribe(L, vm, chs, channel, 2)
		},
		"channels": func(L *lua.LState) int {
			t := L.NewTable()
			for _, n := range chs.ChannelNames() {
				t.Append(lua.LString(n))
			}
			L.Push(t)
			return 1
		},
	}
	for _, channel := range chs.ChannelNames() {
		channel := channel
		funcs[channel+"_receive"] = func(L *lua.LState) int {
			return subscribe(L, vm, chs, channel, 1)
		}
	}

	mod := vm.L.SetFuncs(vm.L.NewTable(), funcs)
	vm.L.SetGlobal(name, mod)
	vm.L.PreloadModule(name, func(L *lua.LState) int {
		L.Push(mod)
		return 1
	})
	vm.sandbox.Allow(name)
	return nil
}

func subscribe(L *lua.LState, vm *VM, chs Channels, channel string, idx int) int {
	ch := chs.Channel(channel)
	if ch == nil {
		L.RaiseError("%v: %s", ErrUnknownChannel, channel)
		return 0
	}

	handler, opts, err := parseConsumer(L.Get(idx))
	if err != nil {
		L.ArgError(idx, err.Error())
		return 0
	}

	f, err := vm.NewFunction(handler, opts...)
	if err != nil {
		L.ArgError(idx, err.Error())
		return 0
	}
	if _, err := ch.Register(f); err != nil {
		L.RaiseError("%s", err.Error())
		return 0
	}

	L.Push(handler)
	return 1
}

func parseConsumer(v lua.LValue) (*lua.LFunction, []FunctionOption, error) {
	switch val := v.(type) {
	case *lua.LFunction:
		return val, nil, nil
	case *lua.LTable:
		handler, ok := val.RawGetString("handler").(*lua.LFunction)
		if !ok {
			return nil, nil, fmt.Errorf("consumer table needs a handler function")
		}
		opts := []FunctionOption{AsAsync(lua.LVAsBool(val.RawGetString("async")))}
		if name, ok := val.RawGetString("name").(lua.LString); ok {
			opts = append(opts, WithName(string(name)))
		}
		if defaults, ok := val.RawGetString("defaults").(*lua.LTable); ok {
			m := make(map[string]lua.LValue)
			defaults.ForEach(func(k, dv lua.LValue) {
				if ks, ok := k.(lua.LString); ok {
					m[string(ks)] = dv
				}
			})
			opts = append(opts, WithDefaults(m))
		}
		return handler, opts, nil
	default:
		return nil, nil, fmt.Errorf("function or consumer table expected, got %s", v.Type())
	}
}
