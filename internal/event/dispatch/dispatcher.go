package dispatch

import (
	"time"

	"github.com/dshills/boardlink/internal/event"
)

// Result represents the outcome of one consumer execution.
type Result struct {
	// Success is true if the consumer completed without error or panic.
	Success bool

	// Error is the error returned by the consumer, if any.
	Error error

	// Panicked is true if the consumer panicked.
	Panicked bool

	// PanicValue is the value passed to panic(), if Panicked is true.
	PanicValue any

	// PanicStack is the stack trace at the point of panic.
	PanicStack []byte

	// Duration is how long the consumer took to execute.
	Duration time.Duration

	// Skipped is true if the consumer was not executed (context cancelled).
	Skipped bool
}

// Err converts the result to the error a channel reports for it.
func (r Result) Err(inv event.Invocation) error {
	switch {
	case r.Panicked:
		return &event.InvocationError{
			Channel:  inv.Channel,
			Callable: inv.Name,
			Err:      event.ErrConsumerPanic,
			Panicked: true,
			Value:    r.PanicValue,
			Stack:    r.PanicStack,
		}
	case r.Error != nil:
		return &event.InvocationError{Channel: inv.Channel, Callable: inv.Name, Err: r.Error}
	}
	return nil
}

// PanicHandler is called when a consumer panics during execution.
// It receives the invocation, the panic value, and the stack trace.
type PanicHandler func(inv event.Invocation, panicValue any, stack []byte)

func defaultPanicHandler(event.Invocation, any, []byte) {}
