package event

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var canShape = MustShape(
	Param{Name: "can_id", Kind: KindUint32},
	Param{Name: "can_data", Kind: KindBytes},
	Param{Name: "is_extended_can_id", Kind: KindBool},
	Param{Name: "is_remote_transmission", Kind: KindBool},
)

func params(names ...string) []Parameter {
	ps := make([]Parameter, len(names))
	for i, n := range names {
		ps[i] = Parameter{Name: n}
	}
	return ps
}

// recorder collects every Args it receives.
type recorder struct {
	mu   sync.Mutex
	seen []Args
}

func (r *recorder) callable(name string, ps ...Parameter) Described {
	return Describe(func(_ context.Context, args Args) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.seen = append(r.seen, args)
		return nil
	}, Signature{Name: name, Params: ps})
}

func (r *recorder) calls() []Args {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Args, len(r.seen))
	copy(out, r.seen)
	return out
}

// fakeScheduler records hand-offs instead of running them.
type fakeScheduler struct {
	mu   sync.Mutex
	invs []Invocation
	err  error
}

func (s *fakeScheduler) Schedule(inv Invocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.invs = append(s.invs, inv)
	return nil
}

// countingLocker tracks whether it is held.
type countingLocker struct {
	mu     sync.Mutex
	held   atomic.Bool
	locked atomic.Int32
}

func (l *countingLocker) Lock() {
	l.mu.Lock()
	l.held.Store(true)
	l.locked.Add(1)
}

func (l *countingLocker) Unlock() {
	l.held.Store(false)
	l.mu.Unlock()
}

func TestChannel_PartialParameters(t *testing.T) {
	ch := NewChannel("can1", canShape)
	rec := &recorder{}

	fn := rec.callable("f", params("can_id", "is_remote_transmission")...)
	got, err := ch.Register(fn)
	require.NoError(t, err)
	assert.Same(t, fn, got)

	require.NoError(t, ch.Publish(context.Background(), uint32(7), []byte{0x01, 0x02}, false, true))

	calls := rec.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, Args{
		{Name: "can_id", Value: uint32(7)},
		{Name: "is_remote_transmission", Value: true},
	}, calls[0])
}

func TestChannel_ShapeOrderNotDeclarationOrder(t *testing.T) {
	ch := NewChannel("can1", canShape)
	rec := &recorder{}

	_, err := ch.Register(rec.callable("g", params("can_data", "can_id")...))
	require.NoError(t, err)
	require.NoError(t, ch.Publish(context.Background(), uint32(1), []byte{0xAA}, true, false))

	calls := rec.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"can_id", "can_data"}, calls[0].Names())
}

func TestChannel_NoParameters(t *testing.T) {
	ch := NewChannel("can1", canShape)
	rec := &recorder{}

	_, err := ch.Register(rec.callable("tick"))
	require.NoError(t, err)
	require.NoError(t, ch.Publish(context.Background(), uint32(1), []byte{}, false, false))

	calls := rec.calls()
	require.Len(t, calls, 1)
	assert.Empty(t, calls[0])
}

func TestChannel_RejectsUnknownParameter(t *testing.T) {
	ch := NewChannel("can1", canShape)
	rec := &recorder{}

	_, err := ch.Register(rec.callable("f", params("x")...))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidSubscription)
	assert.Equal(t, "f() has an unexpected argument 'x'", err.Error())

	var se *SubscriptionError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "x", se.Param)
	assert.Equal(t, "can1", se.Channel)

	assert.True(t, ch.Empty())
	assert.Equal(t, 0, ch.Len())
}

func TestChannel_UnknownParameterWithDefault(t *testing.T) {
	ch := NewChannel("can1", canShape)
	rec := &recorder{}

	fn := rec.callable("f",
		Parameter{Name: "can_id"},
		Parameter{Name: "x", HasDefault: true},
	)
	_, err := ch.Register(fn)
	require.NoError(t, err)

	require.NoError(t, ch.Publish(context.Background(), uint32(9), []byte{}, false, false))
	calls := rec.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"can_id"}, calls[0].Names())
	assert.False(t, calls[0].Has("x"))
}

func TestChannel_FailedRegistrationKeepsExisting(t *testing.T) {
	ch := NewChannel("can1", canShape)
	rec := &recorder{}

	_, err := ch.Register(rec.callable("ok", params("can_id")...))
	require.NoError(t, err)
	_, err = ch.Register(rec.callable("bad", params("nope")...))
	require.ErrorIs(t, err, ErrInvalidSubscription)

	require.NoError(t, ch.Publish(context.Background(), uint32(3), []byte{}, false, false))
	assert.Len(t, rec.calls(), 1)
	assert.Equal(t, 1, ch.Len())
}

func TestChannel_RejectsNilAndUnsupported(t *testing.T) {
	ch := NewChannel("can1", canShape)

	_, err := ch.Register(nil)
	assert.ErrorIs(t, err, ErrInvalidSubscription)
	assert.ErrorIs(t, err, ErrNilCallable)

	plain := CallableFunc(func(context.Context, Args) error { return nil })
	_, err = ch.Register(plain)
	assert.ErrorIs(t, err, ErrInvalidSubscription)
	assert.ErrorIs(t, err, ErrUnsupportedCallable)
	assert.True(t, ch.Empty())
}

func TestChannel_RegistrationOrder(t *testing.T) {
	ch := NewChannel("uart1", MustShape(Param{Name: "uart_data", Kind: KindBytes}))

	const n = 16
	var (
		mu    sync.Mutex
		order []int
	)
	for i := 0; i < n; i++ {
		id := i
		_, err := ch.Register(Describe(func(context.Context, Args) error {
			mu.Lock()
			order = append(order, id)
			mu.Unlock()
			return nil
		}, Signature{Name: "counter"}))
		require.NoError(t, err)
	}

	require.NoError(t, ch.Publish(context.Background(), []byte("x")))

	want := make([]int, n)
	for i := range want {
		want[i] = i
	}
	assert.Equal(t, want, order)
}

func TestChannel_PublishFuncSkipsBuildWhenEmpty(t *testing.T) {
	ch := NewChannel("can1", canShape)

	built := false
	err := ch.PublishFunc(context.Background(), func() []any {
		built = true
		return []any{uint32(1), []byte{}, false, false}
	})
	require.NoError(t, err)
	assert.False(t, built)

	rec := &recorder{}
	_, err = ch.Register(rec.callable("f", params("can_id")...))
	require.NoError(t, err)

	err = ch.PublishFunc(context.Background(), func() []any {
		built = true
		return []any{uint32(1), []byte{}, false, false}
	})
	require.NoError(t, err)
	assert.True(t, built)
	assert.Len(t, rec.calls(), 1)
}

func TestChannel_PublishTwiceDeliversTwice(t *testing.T) {
	ch := NewChannel("can1", canShape)
	rec := &recorder{}
	_, err := ch.Register(rec.callable("f", params("can_id")...))
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		require.NoError(t, ch.Publish(context.Background(), uint32(5), []byte{}, false, false))
	}
	assert.Len(t, rec.calls(), 2)
}

func TestChannel_ArityMismatch(t *testing.T) {
	ch := NewChannel("can1", canShape)
	err := ch.Publish(context.Background(), uint32(1))
	assert.ErrorIs(t, err, ErrArity)
}

func TestChannel_FailingConsumerDoesNotStopDelivery(t *testing.T) {
	ch := NewChannel("can1", canShape)
	rec := &recorder{}
	boom := errors.New("boom")

	_, err := ch.Register(Describe(func(context.Context, Args) error {
		panic("kaboom")
	}, Signature{Name: "panicky"}))
	require.NoError(t, err)
	_, err = ch.Register(Describe(func(context.Context, Args) error {
		return boom
	}, Signature{Name: "failing"}))
	require.NoError(t, err)
	_, err = ch.Register(rec.callable("after", params("can_id")...))
	require.NoError(t, err)

	err = ch.Publish(context.Background(), uint32(1), []byte{}, false, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConsumerInvocation)
	assert.ErrorIs(t, err, ErrConsumerPanic)
	assert.ErrorIs(t, err, boom)

	assert.Len(t, rec.calls(), 1)
}

func TestChannel_AsyncHandedToScheduler(t *testing.T) {
	sched := &fakeScheduler{}
	ch := NewChannel("can1", canShape, WithScheduler(sched))
	lock := &countingLocker{}

	ran := false
	_, err := ch.Register(Describe(func(context.Context, Args) error {
		ran = true
		return nil
	}, Signature{Name: "co", Params: params("can_id"), Async: true, Exclusion: lock}))
	require.NoError(t, err)

	require.NoError(t, ch.Publish(context.Background(), uint32(42), []byte{}, false, false))

	assert.False(t, ran)
	require.Len(t, sched.invs, 1)
	inv := sched.invs[0]
	assert.Equal(t, "can1", inv.Channel)
	assert.Equal(t, "co", inv.Name)
	assert.Equal(t, Args{{Name: "can_id", Value: uint32(42)}}, inv.Args)
	assert.Same(t, lock, inv.Exclusion)
	assert.Equal(t, int32(1), lock.locked.Load())
	assert.False(t, lock.held.Load())
}

func TestChannel_AsyncWithoutScheduler(t *testing.T) {
	ch := NewChannel("can1", canShape)
	_, err := ch.Register(Describe(func(context.Context, Args) error { return nil },
		Signature{Name: "co", Async: true}))
	assert.ErrorIs(t, err, ErrInvalidSubscription)
	assert.ErrorIs(t, err, ErrNoScheduler)
}

func TestChannel_SchedulingFailure(t *testing.T) {
	full := errors.New("full")
	sched := &fakeScheduler{err: full}
	ch := NewChannel("can1", canShape, WithScheduler(sched))
	rec := &recorder{}

	_, err := ch.Register(Describe(func(context.Context, Args) error { return nil },
		Signature{Name: "co", Async: true}))
	require.NoError(t, err)
	_, err = ch.Register(rec.callable("sync", params("can_id")...))
	require.NoError(t, err)

	err = ch.Publish(context.Background(), uint32(1), []byte{}, false, false)
	assert.ErrorIs(t, err, ErrScheduling)
	assert.ErrorIs(t, err, full)
	assert.NotErrorIs(t, err, ErrConsumerInvocation)
	assert.Len(t, rec.calls(), 1)
}

func TestChannel_ExclusionHeldDuringSyncCall(t *testing.T) {
	ch := NewChannel("can1", canShape)
	lock := &countingLocker{}

	var heldInside bool
	_, err := ch.Register(Describe(func(context.Context, Args) error {
		heldInside = lock.held.Load()
		return nil
	}, Signature{Name: "f", Exclusion: lock}))
	require.NoError(t, err)

	require.NoError(t, ch.Publish(context.Background(), uint32(1), []byte{}, false, false))
	assert.True(t, heldInside)
	assert.False(t, lock.held.Load())
}

func TestChannel_ConcurrentRegisterAndPublish(t *testing.T) {
	ch := NewChannel("uart1", MustShape(Param{Name: "uart_data", Kind: KindBytes}))

	const writers, perWriter = 4, 50
	var seq atomic.Int64
	var wg sync.WaitGroup

	stop := make(chan struct{})
	publishErr := make(chan error, 1)
	go func() {
		for {
			select {
			case <-stop:
				publishErr <- nil
				return
			default:
			}
			if err := ch.Publish(context.Background(), []byte{1}); err != nil {
				publishErr <- err
				return
			}
		}
	}()

	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				_, err := ch.Register(Describe(func(context.Context, Args) error {
					seq.Add(1)
					return nil
				}, Signature{Name: "counter"}))
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()
	close(stop)
	require.NoError(t, <-publishErr)

	assert.Equal(t, writers*perWriter, ch.Len())

	before := seq.Load()
	require.NoError(t, ch.Publish(context.Background(), []byte{2}))
	assert.Equal(t, int64(writers*perWriter), seq.Load()-before)
}
