package script

import (
	"context"
	"fmt"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/boardlink/internal/event"
)

// Function is a Lua function registered as a consumer.
//
// Declared parameters are the function's named parameters. Values come from
// the event by name, then from the defaults table, else nil. Async functions
// run as coroutines and may call sleep(seconds).
type Function struct {
	vm       *VM
	fn       *lua.LFunction
	name     string
	params   []string
	async    bool
	defaults map[string]lua.LValue
}

var (
	_ event.Callable  = (*Function)(nil)
	_ event.Resumable = (*Function)(nil)
)

// FunctionOption configures a Function.
type FunctionOption func(*Function)

// AsAsync marks the function to run as a coroutine on the scheduler.
func AsAsync(async bool) FunctionOption {
	return func(f *Function) {
		f.async = async
	}
}

// WithDefaults gives parameters default values.
func WithDefaults(defaults map[string]lua.LValue) FunctionOption {
	return func(f *Function) {
		for k, v := range defaults {
			f.defaults[k] = v
		}
	}
}

// WithName overrides the display name.
func WithName(name string) FunctionOption {
	return func(f *Function) {
		if name != "" {
			f.name = name
		}
	}
}

// NewFunction wraps a Lua-defined function. Go functions exposed to Lua
// carry no parameter names and are rejected.
func (vm *VM) NewFunction(fn *lua.LFunction, opts ...FunctionOption) (*Function, error) {
	if fn == nil {
		return nil, event.ErrNilCallable
	}
	if fn.IsG || fn.Proto == nil {
		return nil, ErrNotLuaFunction
	}

	proto := fn.Proto
	n := int(proto.NumParameters)
	params := make([]string, 0, n)
	for i := 0; i < n && i < len(proto.DbgLocals); i++ {
		params = append(params, proto.DbgLocals[i].Name)
	}

	f := &Function{
		vm:       vm,
		fn:       fn,
		name:     functionName(proto),
		params:   params,
		defaults: make(map[string]lua.LValue),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

func functionName(p *lua.FunctionProto) string {
	if p.LineDefined > 0 {
		return fmt.Sprintf("%s:%d", p.SourceName, p.LineDefined)
	}
	return p.SourceName
}

// Name returns the display name.
func (f *Function) Name() string {
	return f.name
}

// Params returns the declared parameter names.
func (f *Function) Params() []string {
	return append([]string(nil), f.params...)
}

// Signature reports the function's parameters and the VM exclusion.
func (f *Function) Signature() event.Signature {
	params := make([]event.Parameter, len(f.params))
	for i, name := range f.params {
		_, ok := f.defaults[name]
		params[i] = event.Parameter{Name: name, HasDefault: ok}
	}
	return event.Signature{
		Name:      f.name,
		Params:    params,
		Async:     f.async,
		Exclusion: f.vm.Exclusion(),
	}
}

func (f *Function) bind(args event.Args) []lua.LValue {
	values := make([]lua.LValue, len(f.params))
	for i, name := range f.params {
		if v, ok := args.Get(name); ok {
			values[i] = toLua(f.vm.L, v)
		} else if d, ok := f.defaults[name]; ok {
			values[i] = d
		} else {
			values[i] = lua.LNil
		}
	}
	return values
}

// Call runs the function to completion on the calling goroutine. The caller
// holds the VM exclusion.
func (f *Function) Call(ctx context.Context, args event.Args) error {
	if f.vm.closed {
		return ErrVMClosed
	}
	return f.vm.withTimeout(ctx, func() error {
		return f.vm.L.CallByParam(lua.P{
			Fn:      f.fn,
			NRet:    0,
			Protect: true,
		}, f.bind(args)...)
	})
}

// Start creates a coroutine for the function. Called with the VM exclusion
// held.
func (f *Function) Start(_ context.Context, args event.Args) (event.Task, error) {
	if f.vm.closed {
		return nil, ErrVMClosed
	}
	th, cancel := f.vm.L.NewThread()
	return &coroutine{
		f:      f,
		th:     th,
		cancel: cancel,
		args:   f.bind(args),
	}, nil
}

// coroutine is one running async invocation.
type coroutine struct {
	f       *Function
	th      *lua.LState
	cancel  context.CancelFunc
	args    []lua.LValue
	started bool
}

// Step resumes the coroutine until it yields or returns. A yielded number
// is the requested sleep in seconds.
func (c *coroutine) Step(context.Context) (time.Duration, bool, error) {
	if c.f.vm.closed {
		return 0, true, ErrVMClosed
	}

	var args []lua.LValue
	if !c.started {
		args = c.args
		c.started = true
	}

	state, err, values := c.f.vm.L.Resume(c.th, c.f.fn, args...)
	switch state {
	case lua.ResumeError:
		c.release()
		return 0, true, err
	case lua.ResumeOK:
		c.release()
		return 0, true, nil
	}

	var wait time.Duration
	if len(values) > 0 {
		if sec, ok := values[0].(lua.LNumber); ok && sec > 0 {
			wait = time.Duration(float64(sec) * float64(time.Second))
		}
	}
	return wait, false, nil
}

// Abort drops a suspended coroutine.
func (c *coroutine) Abort() {
	c.release()
}

func (c *coroutine) release() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

// Inspector returns an event.Inspector for Functions created by this VM.
func (vm *VM) Inspector() event.Inspector {
	return event.InspectorFunc(func(c event.Callable) (event.Signature, error) {
		f, ok := c.(*Function)
		if !ok || f.vm != vm {
			return event.Signature{}, fmt.Errorf("%w: %T", event.ErrUnsupportedCallable, c)
		}
		return f.Signature(), nil
	})
}
