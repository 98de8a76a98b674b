package dispatch

import (
	"context"
	"time"

	"github.com/sourcegraph/conc/panics"

	"github.com/dshills/boardlink/internal/event"
)

// Executor runs a single invocation with panic recovery and timing.
// It never acquires the invocation's exclusion.
type Executor struct {
	panicHandler PanicHandler
}

// NewExecutor creates a new executor with the given options.
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{
		panicHandler: defaultPanicHandler,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithExecutorPanicHandler sets the panic handler for the executor.
func WithExecutorPanicHandler(h PanicHandler) ExecutorOption {
	return func(e *Executor) {
		if h != nil {
			e.panicHandler = h
		}
	}
}

// Execute calls the invocation's consumer and returns the result.
func (e *Executor) Execute(inv event.Invocation) Result {
	ctx := inv.Ctx
	if ctx == nil {
		ctx = context.Background()
	}

	select {
	case <-ctx.Done():
		return Result{Error: ctx.Err(), Skipped: true}
	default:
	}

	start := time.Now()

	var err error
	var pc panics.Catcher
	pc.Try(func() {
		err = inv.Callable.Call(ctx, inv.Args)
	})

	result := Result{Duration: time.Since(start)}
	if r := pc.Recovered(); r != nil {
		result.Panicked = true
		result.PanicValue = r.Value
		result.PanicStack = r.Stack
		e.reportPanic(inv, r.Value, r.Stack)
		return result
	}

	result.Error = err
	result.Success = err == nil
	return result
}

// ExecuteWithTimeout runs the invocation with a deadline on its context.
// The consumer must respect cancellation for this to be effective.
func (e *Executor) ExecuteWithTimeout(inv event.Invocation, timeout time.Duration) Result {
	if timeout <= 0 {
		return e.Execute(inv)
	}

	parent := inv.Ctx
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	inv.Ctx = ctx
	return e.Execute(inv)
}

func (e *Executor) reportPanic(inv event.Invocation, value any, stack []byte) {
	// a panicking panic handler must not take the process down
	var pc panics.Catcher
	pc.Try(func() { e.panicHandler(inv, value, stack) })
}
