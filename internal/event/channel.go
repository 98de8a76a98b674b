package event

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// subscription is one registered consumer. Immutable after construction
// except for next, which is written once when the following node is appended.
type subscription struct {
	callable  Callable
	name      string
	async     bool
	exclusion sync.Locker
	wants     []bool
	wanted    int

	next atomic.Pointer[subscription]
}

// bind selects the values this subscription asked for, in shape order.
func (s *subscription) bind(shape Shape, values []any) Args {
	args := make(Args, 0, s.wanted)
	for i, want := range s.wants {
		if want {
			args = append(args, Arg{Name: shape[i].Name, Value: values[i]})
		}
	}
	return args
}

// Channel is a multicast delegate for one fixed event shape.
//
// Subscriptions form an append-only singly linked list. Publish walks it
// without locking; Register serializes appends with a writer-only mutex, so a
// reader always sees a consistent prefix of every appended subscription in
// registration order. Subscriptions are never removed.
type Channel struct {
	name  string
	shape Shape
	cfg   channelConfig

	head  atomic.Pointer[subscription]
	count atomic.Int64

	mu   sync.Mutex // guards tail and appends
	tail *subscription
}

// NewChannel creates an empty channel.
func NewChannel(name string, shape Shape, opts ...ChannelOption) *Channel {
	cfg := defaultChannelConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Channel{
		name:  name,
		shape: shape,
		cfg:   cfg,
	}
}

// Name returns the channel name.
func (c *Channel) Name() string {
	return c.name
}

// Shape returns the channel shape.
func (c *Channel) Shape() Shape {
	return c.shape
}

// Empty reports whether no subscription was ever registered.
func (c *Channel) Empty() bool {
	return c.head.Load() == nil
}

// Len returns the number of subscriptions.
func (c *Channel) Len() int {
	return int(c.count.Load())
}

// Register binds fn to the channel and returns it unchanged so it can be
// used as a decorator.
//
// Every declared parameter of fn must either name a shape parameter or carry
// a default; otherwise Register fails with an error matching
// ErrInvalidSubscription and the channel is left untouched.
func (c *Channel) Register(fn Callable) (Callable, error) {
	if fn == nil {
		return nil, &SubscriptionError{Channel: c.name, Callable: "<nil>", Err: ErrNilCallable}
	}

	sig, err := c.cfg.inspector.Inspect(fn)
	if err != nil {
		return nil, &SubscriptionError{Channel: c.name, Callable: displayName(sig, fn), Err: err}
	}
	name := displayName(sig, fn)

	sub := &subscription{
		callable:  fn,
		name:      name,
		async:     sig.Async,
		exclusion: sig.Exclusion,
		wants:     make([]bool, c.shape.Arity()),
	}
	for _, p := range sig.Params {
		if i := c.shape.Index(p.Name); i >= 0 {
			if !sub.wants[i] {
				sub.wants[i] = true
				sub.wanted++
			}
			continue
		}
		if !p.HasDefault {
			return nil, &SubscriptionError{Channel: c.name, Callable: name, Param: p.Name}
		}
	}
	if sub.async && c.cfg.scheduler == nil {
		return nil, &SubscriptionError{Channel: c.name, Callable: name, Err: ErrNoScheduler}
	}

	c.append(sub)
	return fn, nil
}

func (c *Channel) append(sub *subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tail == nil {
		c.head.Store(sub)
	} else {
		c.tail.next.Store(sub)
	}
	c.tail = sub
	c.count.Add(1)
}

// Publish delivers values to every subscription in registration order.
//
// Synchronous consumers run on the calling goroutine; async consumers are
// handed to the scheduler. A failing consumer never prevents delivery to the
// ones after it: all failures are joined into the returned error.
func (c *Channel) Publish(ctx context.Context, values ...any) error {
	if len(values) != c.shape.Arity() {
		return fmt.Errorf("%w: %s expects %d, got %d", ErrArity, c.name, c.shape.Arity(), len(values))
	}

	var errs []error
	for sub := c.head.Load(); sub != nil; sub = sub.next.Load() {
		if err := c.deliver(ctx, sub, sub.bind(c.shape, values)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PublishFunc is like Publish but calls build only when the channel has at
// least one subscription.
func (c *Channel) PublishFunc(ctx context.Context, build func() []any) error {
	if c.Empty() {
		return nil
	}
	return c.Publish(ctx, build()...)
}

func (c *Channel) deliver(ctx context.Context, sub *subscription, args Args) error {
	inv := Invocation{
		Ctx:       ctx,
		Callable:  sub.callable,
		Args:      args,
		Name:      sub.name,
		Channel:   c.name,
		Exclusion: sub.exclusion,
	}

	if sub.exclusion != nil {
		sub.exclusion.Lock()
		defer sub.exclusion.Unlock()
	}

	if sub.async {
		if err := c.cfg.scheduler.Schedule(inv); err != nil {
			return &SchedulingError{Channel: c.name, Callable: sub.name, Err: err}
		}
		return nil
	}

	err := c.cfg.runner.Run(inv)
	if err == nil {
		return nil
	}
	var ie *InvocationError
	if errors.As(err, &ie) {
		return err
	}
	return &InvocationError{Channel: c.name, Callable: sub.name, Err: err}
}

func displayName(sig Signature, fn Callable) string {
	if sig.Name != "" {
		return sig.Name
	}
	return fmt.Sprintf("%T", fn)
}
