package event

import (
	"context"
	"sync"
	"time"
)

// Callable is a registered consumer. It receives only the arguments its
// signature asked for, by name.
//
// Call must not acquire the exclusion its signature reports; the caller
// already holds it.
type Callable interface {
	Call(ctx context.Context, args Args) error
}

// CallableFunc adapts a plain function to Callable.
type CallableFunc func(ctx context.Context, args Args) error

// Call implements Callable.
func (f CallableFunc) Call(ctx context.Context, args Args) error {
	return f(ctx, args)
}

// Parameter is one declared parameter of a callable.
type Parameter struct {
	Name       string
	HasDefault bool
}

// Signature describes how a callable wants to be invoked.
type Signature struct {
	// Name is a display name used in errors and logs.
	Name string

	// Params are the declared parameters in declaration order.
	Params []Parameter

	// Async marks a callable that must be scheduled rather than called inline.
	Async bool

	// Exclusion is held around each invocation or hand-off. May be nil.
	Exclusion sync.Locker
}

// Inspector reports the signature of callables it understands.
type Inspector interface {
	Inspect(c Callable) (Signature, error)
}

// InspectorFunc adapts a function to Inspector.
type InspectorFunc func(c Callable) (Signature, error)

// Inspect implements Inspector.
func (f InspectorFunc) Inspect(c Callable) (Signature, error) {
	return f(c)
}

// Invocation is one pending asynchronous delivery.
type Invocation struct {
	Ctx       context.Context
	Callable  Callable
	Args      Args
	Name      string
	Channel   string
	Exclusion sync.Locker
}

// Scheduler runs invocations on a separate cooperative runtime.
// Schedule must not block the caller.
type Scheduler interface {
	Schedule(inv Invocation) error
}

// Runner executes synchronous invocations inline. Run returns after the
// consumer finished and must turn panics into errors.
type Runner interface {
	Run(inv Invocation) error
}

// Resumable is implemented by async callables that can suspend. A
// scheduler starts a Task and steps it until it reports done.
type Resumable interface {
	Callable
	Start(ctx context.Context, args Args) (Task, error)
}

// Task is a started resumable invocation.
type Task interface {
	// Step runs the task until it suspends or finishes. When done is false,
	// the task wants to be stepped again after wait has elapsed.
	Step(ctx context.Context) (wait time.Duration, done bool, err error)

	// Abort releases the task without finishing it.
	Abort()
}
