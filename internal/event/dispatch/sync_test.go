package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dshills/boardlink/internal/event"
)

func newInvocation(fn func(ctx context.Context, args event.Args) error) event.Invocation {
	return event.Invocation{
		Ctx:      context.Background(),
		Callable: event.CallableFunc(fn),
		Args:     event.Args{{Name: "can_id", Value: uint32(7)}},
		Name:     "counter",
		Channel:  "can1",
	}
}

func TestResult_Err(t *testing.T) {
	inv := newInvocation(nil)

	if err := (Result{Success: true}).Err(inv); err != nil {
		t.Errorf("Err() = %v, want nil", err)
	}

	boom := errors.New("boom")
	err := Result{Error: boom}.Err(inv)
	if !errors.Is(err, boom) || !errors.Is(err, event.ErrConsumerInvocation) {
		t.Errorf("Err() = %v, want invocation error wrapping boom", err)
	}
	if errors.Is(err, event.ErrConsumerPanic) {
		t.Error("plain error must not match ErrConsumerPanic")
	}

	err = Result{Panicked: true, PanicValue: "x"}.Err(inv)
	if !errors.Is(err, event.ErrConsumerPanic) {
		t.Errorf("Err() = %v, want panic error", err)
	}
}

func TestExecutor_Execute_Success(t *testing.T) {
	executor := NewExecutor()

	var received event.Args
	result := executor.Execute(newInvocation(func(ctx context.Context, args event.Args) error {
		received = args
		return nil
	}))

	if !result.Success || result.Error != nil {
		t.Errorf("expected success, got %+v", result)
	}
	if v, _ := received.Get("can_id"); v != uint32(7) {
		t.Errorf("expected can_id 7, got %v", v)
	}
}

func TestExecutor_Execute_Error(t *testing.T) {
	executor := NewExecutor()
	expectedErr := errors.New("consumer error")

	result := executor.Execute(newInvocation(func(context.Context, event.Args) error {
		return expectedErr
	}))

	if result.Success || result.Panicked {
		t.Errorf("expected a plain failure, got %+v", result)
	}
	if result.Error != expectedErr {
		t.Errorf("expected error %v, got %v", expectedErr, result.Error)
	}
}

func TestExecutor_Execute_Panic(t *testing.T) {
	var panicHandlerCalled bool
	var capturedPanicValue any

	executor := NewExecutor(
		WithExecutorPanicHandler(func(inv event.Invocation, panicValue any, stack []byte) {
			panicHandlerCalled = true
			capturedPanicValue = panicValue
		}),
	)

	result := executor.Execute(newInvocation(func(context.Context, event.Args) error {
		panic("test panic")
	}))

	if !result.Panicked || result.Success {
		t.Errorf("expected a panic, got %+v", result)
	}
	if result.PanicValue != "test panic" {
		t.Errorf("expected panic value 'test panic', got %v", result.PanicValue)
	}
	if len(result.PanicStack) == 0 {
		t.Error("expected non-empty stack trace")
	}
	if !panicHandlerCalled {
		t.Error("panic handler was not called")
	}
	if capturedPanicValue != "test panic" {
		t.Errorf("panic handler received wrong value: %v", capturedPanicValue)
	}
}

func TestExecutor_PanickingPanicHandler(t *testing.T) {
	executor := NewExecutor(
		WithExecutorPanicHandler(func(event.Invocation, any, []byte) {
			panic("handler panic")
		}),
	)

	result := executor.Execute(newInvocation(func(context.Context, event.Args) error {
		panic("consumer panic")
	}))

	if !result.Panicked || result.Success {
		t.Errorf("expected a panic, got %+v", result)
	}
}

func TestExecutor_Execute_ContextCancelled(t *testing.T) {
	executor := NewExecutor()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	inv := newInvocation(func(context.Context, event.Args) error {
		t.Error("consumer should not be called")
		return nil
	})
	inv.Ctx = ctx

	result := executor.Execute(inv)

	if !result.Skipped {
		t.Error("expected Skipped to be true")
	}
	if !errors.Is(result.Error, context.Canceled) {
		t.Errorf("expected context.Canceled error, got %v", result.Error)
	}
}

func TestExecutor_ExecuteWithTimeout_Slow(t *testing.T) {
	executor := NewExecutor()

	result := executor.ExecuteWithTimeout(newInvocation(func(ctx context.Context, _ event.Args) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
			return nil
		}
	}), 50*time.Millisecond)

	if !errors.Is(result.Error, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded error, got %v", result.Error)
	}
}

func TestSyncDispatcher_Run(t *testing.T) {
	dispatcher := NewSyncDispatcher()

	if err := dispatcher.Run(newInvocation(func(context.Context, event.Args) error { return nil })); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	expectedErr := errors.New("test error")
	err := dispatcher.Run(newInvocation(func(context.Context, event.Args) error { return expectedErr }))
	if !errors.Is(err, expectedErr) {
		t.Errorf("Run() error = %v, want %v", err, expectedErr)
	}

	var ie *event.InvocationError
	if !errors.As(err, &ie) || ie.Channel != "can1" || ie.Callable != "counter" {
		t.Errorf("Run() error = %#v, want InvocationError for counter on can1", err)
	}

	stats := dispatcher.Stats()
	if stats.Dispatched != 2 {
		t.Errorf("expected 2 dispatched, got %d", stats.Dispatched)
	}
	if stats.Succeeded != 1 || stats.Failed != 1 {
		t.Errorf("expected 1 succeeded and 1 failed, got %+v", stats)
	}
}

func TestSyncDispatcher_Run_Panic(t *testing.T) {
	var panicHandlerCalled bool
	dispatcher := NewSyncDispatcher(
		WithPanicHandler(func(event.Invocation, any, []byte) {
			panicHandlerCalled = true
		}),
	)

	err := dispatcher.Run(newInvocation(func(context.Context, event.Args) error {
		panic("boom")
	}))

	if !errors.Is(err, event.ErrConsumerPanic) {
		t.Errorf("Run() error = %v, want ErrConsumerPanic", err)
	}
	if !panicHandlerCalled {
		t.Error("panic handler was not called")
	}
	if got := dispatcher.Stats().Panicked; got != 1 {
		t.Errorf("expected 1 panicked, got %d", got)
	}
}

func TestSyncDispatcher_WithTimeout(t *testing.T) {
	dispatcher := NewSyncDispatcher(WithTimeout(50 * time.Millisecond))

	result := dispatcher.Dispatch(newInvocation(func(ctx context.Context, _ event.Args) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
			return nil
		}
	}))

	if !errors.Is(result.Error, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded, got %v", result.Error)
	}
}

func TestSyncDispatcher_AsChannelRunner(t *testing.T) {
	dispatcher := NewSyncDispatcher()
	shape := event.MustShape(event.Param{Name: "uart_data", Kind: event.KindBytes})
	ch := event.NewChannel("uart1", shape, event.WithRunner(dispatcher))

	var got []byte
	_, err := ch.Register(event.Describe(func(_ context.Context, args event.Args) error {
		v, _ := args.Get("uart_data")
		got = v.([]byte)
		return nil
	}, event.Signature{Name: "reader", Params: []event.Parameter{{Name: "uart_data"}}}))
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if err := ch.Publish(context.Background(), []byte("hi")); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if string(got) != "hi" {
		t.Errorf("got %q, want %q", got, "hi")
	}
	if dispatcher.Stats().Succeeded != 1 {
		t.Errorf("expected dispatcher to count the delivery")
	}
}
