package event

import (
	"errors"
	"fmt"
)

// Sentinel errors for event channels.
var (
	// ErrInvalidSubscription is returned when a callable cannot be bound to a channel shape.
	ErrInvalidSubscription = errors.New("invalid subscription")

	// ErrUnsupportedCallable is returned by inspectors for callables they do not understand.
	ErrUnsupportedCallable = errors.New("unsupported callable")

	// ErrNilCallable is returned when a nil callable is registered.
	ErrNilCallable = errors.New("callable cannot be nil")

	// ErrInvalidShape is returned when a shape has empty or duplicate names.
	ErrInvalidShape = errors.New("invalid shape")

	// ErrArity is returned when a publish carries the wrong number of values.
	ErrArity = errors.New("argument count does not match shape")

	// ErrConsumerInvocation is matched by every failed synchronous delivery.
	ErrConsumerInvocation = errors.New("consumer invocation failed")

	// ErrConsumerPanic is matched by deliveries whose consumer panicked.
	ErrConsumerPanic = errors.New("consumer panicked")

	// ErrScheduling is matched by every refused asynchronous hand-off.
	ErrScheduling = errors.New("scheduling failed")

	// ErrNoScheduler is returned when an async consumer is published on a
	// channel without a scheduler.
	ErrNoScheduler = errors.New("no scheduler configured")
)

// SubscriptionError explains why a callable was rejected.
type SubscriptionError struct {
	// Channel is the channel name.
	Channel string

	// Callable is the display name of the rejected callable.
	Callable string

	// Param is the offending declared parameter, if any.
	Param string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *SubscriptionError) Error() string {
	if e.Param != "" {
		return fmt.Sprintf("%s() has an unexpected argument '%s'", e.Callable, e.Param)
	}
	if e.Err != nil {
		return fmt.Sprintf("cannot subscribe %s to %s: %v", e.Callable, e.Channel, e.Err)
	}
	return fmt.Sprintf("cannot subscribe %s to %s", e.Callable, e.Channel)
}

// Unwrap returns the underlying error.
func (e *SubscriptionError) Unwrap() error {
	return e.Err
}

// Is allows errors.Is to match SubscriptionError with ErrInvalidSubscription.
func (e *SubscriptionError) Is(target error) bool {
	return target == ErrInvalidSubscription
}

// InvocationError wraps a failure of one synchronous consumer.
type InvocationError struct {
	// Channel is the channel that was published.
	Channel string

	// Callable is the consumer display name.
	Callable string

	// Err is the error returned by the consumer.
	Err error

	// Panicked is true if the consumer panicked.
	Panicked bool

	// Value is the value passed to panic(), if Panicked.
	Value any

	// Stack is the stack trace at the time of the panic.
	Stack []byte
}

// Error implements the error interface.
func (e *InvocationError) Error() string {
	if e.Panicked {
		return fmt.Sprintf("consumer %s on %s panicked: %v", e.Callable, e.Channel, e.Value)
	}
	return fmt.Sprintf("consumer %s on %s: %v", e.Callable, e.Channel, e.Err)
}

// Unwrap returns the underlying error.
func (e *InvocationError) Unwrap() error {
	return e.Err
}

// Is matches ErrConsumerInvocation, and ErrConsumerPanic for panics.
func (e *InvocationError) Is(target error) bool {
	if target == ErrConsumerInvocation {
		return true
	}
	return e.Panicked && target == ErrConsumerPanic
}

// SchedulingError wraps a refused asynchronous hand-off.
type SchedulingError struct {
	Channel  string
	Callable string
	Err      error
}

// Error implements the error interface.
func (e *SchedulingError) Error() string {
	return fmt.Sprintf("schedule %s on %s: %v", e.Callable, e.Channel, e.Err)
}

// Unwrap returns the underlying error.
func (e *SchedulingError) Unwrap() error {
	return e.Err
}

// Is allows errors.Is to match SchedulingError with ErrScheduling.
func (e *SchedulingError) Is(target error) bool {
	return target == ErrScheduling
}
