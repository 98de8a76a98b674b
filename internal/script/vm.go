package script

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	lua "github.com/yuin/gopher-lua"
)

// DefaultExecutionTimeout bounds script loading and each synchronous consumer call.
const DefaultExecutionTimeout = 5 * time.Second

// VM is a sandboxed Lua runtime hosting consumer functions.
//
// gopher-lua's LState is not goroutine-safe. The VM mutex is the exclusion
// every Lua consumer reports, so channels and the loop hold it around each
// call or coroutine step; VM methods that touch the state take it themselves.
type VM struct {
	L *lua.LState

	mu sync.Mutex

	timeout time.Duration
	logger  zerolog.Logger
	sandbox *Sandbox

	closed bool
}

// VMOption configures a VM.
type VMOption func(*VM)

// WithExecutionTimeout sets the timeout for loading scripts and for each
// synchronous consumer call. Zero disables it.
func WithExecutionTimeout(d time.Duration) VMOption {
	return func(vm *VM) {
		vm.timeout = d
	}
}

// WithLogger sets the logger that receives script print output.
func WithLogger(logger zerolog.Logger) VMOption {
	return func(vm *VM) {
		vm.logger = logger
	}
}

// NewVM creates a sandboxed VM.
func NewVM(opts ...VMOption) *VM {
	vm := &VM{
		timeout: DefaultExecutionTimeout,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(vm)
	}

	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	openSafeLibraries(L)
	vm.L = L

	vm.sandbox = NewSandbox(L, vm.logger)
	vm.sandbox.Install()
	L.SetGlobal("sleep", L.NewFunction(luaSleep))

	return vm
}

// openSafeLibraries opens only the Lua libraries scripts may use.
func openSafeLibraries(L *lua.LState) {
	lua.OpenBase(L)
	lua.OpenPackage(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)
	lua.OpenCoroutine(L)
	// io, os and debug stay closed
}

// Exclusion returns the lock that serializes access to the Lua state.
func (vm *VM) Exclusion() sync.Locker {
	return &vm.mu
}

// DoFile loads and runs a script file.
func (vm *VM) DoFile(path string) error {
	return vm.do(func(L *lua.LState) error { return L.DoFile(path) })
}

// DoString loads and runs a script.
func (vm *VM) DoString(code string) error {
	return vm.do(func(L *lua.LState) error { return L.DoString(code) })
}

func (vm *VM) do(fn func(L *lua.LState) error) error {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	if vm.closed {
		return ErrVMClosed
	}
	return vm.withTimeout(context.Background(), func() error { return fn(vm.L) })
}

// withTimeout runs fn with the VM context bound. Callers hold vm.mu.
func (vm *VM) withTimeout(parent context.Context, fn func() error) (err error) {
	if parent == nil {
		parent = context.Background()
	}
	ctx := parent
	if vm.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, vm.timeout)
		defer cancel()
	}

	vm.L.SetContext(ctx)
	defer vm.L.RemoveContext()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
	}()

	err = fn()
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrExecutionTimeout, err)
	}
	return err
}

// Global returns a global variable value.
func (vm *VM) Global(name string) lua.LValue {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	if vm.closed {
		return lua.LNil
	}
	return vm.L.GetGlobal(name)
}

// Sandbox returns the sandbox installed in the VM.
func (vm *VM) Sandbox() *Sandbox {
	return vm.sandbox
}

// IsClosed returns true if the VM has been closed.
func (vm *VM) IsClosed() bool {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.closed
}

// Close releases the Lua state. Boards feeding Lua consumers must be closed
// first.
func (vm *VM) Close() error {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	if vm.closed {
		return nil
	}
	vm.L.Close()
	vm.closed = true
	return nil
}

// luaSleep suspends the calling coroutine for the given number of seconds.
// Only async consumers run as coroutines; elsewhere it raises an error.
func luaSleep(L *lua.LState) int {
	sec := L.OptNumber(1, 0)
	if sec < 0 {
		sec = 0
	}
	return L.Yield(sec)
}

// Value returns a global converted to a Go value.
func (vm *VM) Value(name string) any {
	return toGo(vm.Global(name))
}
