// Package board implements the device event hub of a C-board.
//
// A Board owns seven event channels and one worker goroutine. The worker
// receives packets from a transport and publishes each on its channel:
//
//	can1, can2          (can_id, can_data, is_extended_can_id, is_remote_transmission)
//	uart1, uart2, dbus  (uart_data)
//	accelerometer,      (x, y, z)
//	gyroscope
//
// Consumers register with the On*Receive methods at any time, from any
// goroutine. Close stops the worker, waits for it and then releases the
// channels; a transport failure stops the board on its own.
package board

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"

	"github.com/dshills/boardlink/internal/event"
	"github.com/dshills/boardlink/internal/event/dispatch"
	"github.com/dshills/boardlink/internal/event/signature"
	"github.com/dshills/boardlink/internal/logging"
	"github.com/dshills/boardlink/internal/transport"
)

// State is the lifecycle state of a board.
type State int32

// Board states.
const (
	StateConstructed State = iota
	StateRunning
	StateStopRequested
	StateStopped
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateConstructed:
		return "constructed"
	case StateRunning:
		return "running"
	case StateStopRequested:
		return "stop-requested"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Board is a device event hub.
type Board struct {
	name      string
	transport transport.Transport
	logger    zerolog.Logger
	runner    *dispatch.SyncDispatcher

	channels []*event.Channel
	byName   map[string]*event.Channel
	byKind   map[transport.Kind]*event.Channel
	released atomic.Bool

	state  atomic.Int32
	cancel context.CancelFunc
	wg     conc.WaitGroup
	done   chan struct{}

	errMu sync.Mutex
	err   error

	closeOnce sync.Once
	closeErr  error
}

type config struct {
	name       string
	logger     zerolog.Logger
	inspectors []event.Inspector
	scheduler  event.Scheduler
	timeout    time.Duration
}

// Option configures a Board.
type Option func(*config)

// WithName sets the board name used in logs and errors.
func WithName(name string) Option {
	return func(c *config) {
		if name != "" {
			c.name = name
		}
	}
}

// WithLogger sets the board logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithInspector adds an inspector for callables beyond Go functions wrapped
// with package signature.
func WithInspector(i event.Inspector) Option {
	return func(c *config) {
		if i != nil {
			c.inspectors = append(c.inspectors, i)
		}
	}
}

// WithScheduler sets the scheduler async consumers are handed to.
func WithScheduler(s event.Scheduler) Option {
	return func(c *config) {
		c.scheduler = s
	}
}

// WithConsumerTimeout sets a deadline on the context each synchronous
// consumer receives. Zero, the default, disables it.
func WithConsumerTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New creates the channels and starts the worker. Channels exist before the
// worker can publish.
func New(t transport.Transport, opts ...Option) (*Board, error) {
	if t == nil {
		return nil, ErrNilTransport
	}

	cfg := config{
		name:   "board",
		logger: logging.Nop(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	b := &Board{
		name:      cfg.name,
		transport: t,
		logger:    cfg.logger.With().Str("board", cfg.name).Logger(),
		byName:    make(map[string]*event.Channel, len(channelSpecs)),
		byKind:    make(map[transport.Kind]*event.Channel, len(channelSpecs)),
		done:      make(chan struct{}),
	}
	b.runner = dispatch.NewSyncDispatcher(
		dispatch.WithPanicHandler(b.logPanic),
		dispatch.WithTimeout(cfg.timeout),
	)

	inspectors := append([]event.Inspector{signature.Inspector(), event.SelfInspector()}, cfg.inspectors...)
	chOpts := []event.ChannelOption{
		event.WithInspector(event.Inspectors(inspectors...)),
		event.WithRunner(b.runner),
	}
	if cfg.scheduler != nil {
		chOpts = append(chOpts, event.WithScheduler(cfg.scheduler))
	}

	for _, spec := range channelSpecs {
		ch := event.NewChannel(spec.name, spec.shape, chOpts...)
		b.channels = append(b.channels, ch)
		b.byName[spec.name] = ch
		b.byKind[spec.kind] = ch
	}
	b.state.Store(int32(StateConstructed))

	b.start()
	return b, nil
}

func (b *Board) start() {
	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.state.Store(int32(StateRunning))

	b.wg.Go(func() {
		if err := b.work(ctx); err != nil {
			b.fail(err)
		}
	})

	go func() {
		if r := b.wg.WaitAndRecover(); r != nil {
			b.logger.Error().Interface("panic", r.Value).Bytes("stack", r.Stack).Msg("worker panicked")
			b.fail(r.AsError())
		}
		b.state.Store(int32(StateStopped))
		close(b.done)
	}()

	b.logger.Debug().Msg("worker started")
}

func (b *Board) fail(err error) {
	terr := &TransportError{Board: b.name, Err: err}
	b.logger.Error().Err(err).Msg("transport failed, board stopping")

	b.errMu.Lock()
	if b.err == nil {
		b.err = terr
	}
	b.errMu.Unlock()
}

// work pumps the transport until ctx is cancelled or Receive fails.
func (b *Board) work(ctx context.Context) error {
	for {
		p, err := b.transport.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		b.publish(ctx, p)
	}
}

func (b *Board) publish(ctx context.Context, p transport.Packet) {
	ch, ok := b.byKind[p.Kind]
	if !ok {
		b.logger.Warn().Uint8("kind", uint8(p.Kind)).Msg("dropping packet of unknown kind")
		return
	}

	var err error
	switch p.Kind {
	case transport.KindCAN1, transport.KindCAN2:
		err = ch.PublishFunc(ctx, func() []any {
			return []any{p.CAN.ID, p.CAN.Bytes(), p.CAN.Extended, p.CAN.Remote}
		})
	case transport.KindUART1, transport.KindUART2, transport.KindDBUS:
		err = ch.PublishFunc(ctx, func() []any {
			return []any{bytes.Clone(p.Data)}
		})
	case transport.KindAccelerometer, transport.KindGyroscope:
		err = ch.PublishFunc(ctx, func() []any {
			return []any{p.IMU.X, p.IMU.Y, p.IMU.Z}
		})
	}
	if err != nil {
		b.report(ch.Name(), err)
	}
}

// report logs each failure of one publish at the level its kind deserves.
func (b *Board) report(channel string, err error) {
	errs := []error{err}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		errs = joined.Unwrap()
	}

	for _, e := range errs {
		switch {
		case errors.Is(e, context.Canceled):
			b.logger.Debug().Err(e).Str("channel", channel).Msg("delivery cancelled")
		case errors.Is(e, event.ErrScheduling):
			b.logger.Warn().Err(e).Str("channel", channel).Msg("async delivery dropped")
		case errors.Is(e, event.ErrConsumerPanic):
			// already logged with its stack by logPanic
		default:
			b.logger.Error().Err(e).Str("channel", channel).Msg("consumer failed")
		}
	}
}

func (b *Board) logPanic(inv event.Invocation, value any, stack []byte) {
	b.logger.Error().
		Str("channel", inv.Channel).
		Str("consumer", inv.Name).
		Interface("panic", value).
		Bytes("stack", stack).
		Msg("consumer panicked")
}

// Name returns the board name.
func (b *Board) Name() string {
	return b.name
}

// State returns the lifecycle state.
func (b *Board) State() State {
	return State(b.state.Load())
}

// Done returns a channel closed once the worker has stopped.
func (b *Board) Done() <-chan struct{} {
	return b.done
}

// Err returns the transport failure that stopped the board, if any.
func (b *Board) Err() error {
	b.errMu.Lock()
	defer b.errMu.Unlock()
	return b.err
}

// DispatchStats returns counters for synchronous consumers.
func (b *Board) DispatchStats() dispatch.SyncDispatcherStats {
	return b.runner.Stats()
}

// Channel returns the channel with the given name, or nil if unknown or the
// board is closed.
func (b *Board) Channel(name string) *event.Channel {
	if b.released.Load() {
		return nil
	}
	return b.byName[name]
}

// ChannelNames returns every channel name in fixed order.
func (b *Board) ChannelNames() []string {
	return ChannelNames()
}

// Channels returns the channels in fixed order, or nil once closed.
func (b *Board) Channels() []*event.Channel {
	if b.released.Load() {
		return nil
	}
	return append([]*event.Channel(nil), b.channels...)
}

func (b *Board) register(name string, fn event.Callable) (event.Callable, error) {
	ch := b.Channel(name)
	if ch == nil {
		return nil, ErrClosed
	}
	return ch.Register(fn)
}

// OnCAN1Receive registers fn on can1 and returns it.
func (b *Board) OnCAN1Receive(fn event.Callable) (event.Callable, error) {
	return b.register(CAN1, fn)
}

// OnCAN2Receive registers fn on can2 and returns it.
func (b *Board) OnCAN2Receive(fn event.Callable) (event.Callable, error) {
	return b.register(CAN2, fn)
}

// OnUART1Receive registers fn on uart1 and returns it.
func (b *Board) OnUART1Receive(fn event.Callable) (event.Callable, error) {
	return b.register(UART1, fn)
}

// OnUART2Receive registers fn on uart2 and returns it.
func (b *Board) OnUART2Receive(fn event.Callable) (event.Callable, error) {
	return b.register(UART2, fn)
}

// OnDBUSReceive registers fn on dbus and returns it.
func (b *Board) OnDBUSReceive(fn event.Callable) (event.Callable, error) {
	return b.register(DBUS, fn)
}

// OnAccelerometerReceive registers fn on accelerometer and returns it.
func (b *Board) OnAccelerometerReceive(fn event.Callable) (event.Callable, error) {
	return b.register(Accelerometer, fn)
}

// OnGyroscopeReceive registers fn on gyroscope and returns it.
func (b *Board) OnGyroscopeReceive(fn event.Callable) (event.Callable, error) {
	return b.register(Gyroscope, fn)
}

// Close stops the board: it cancels the pending receive, waits for the
// worker, releases the channels and closes the transport. Safe to call more
// than once and after the board stopped on a transport failure.
func (b *Board) Close() error {
	b.closeOnce.Do(func() {
		b.state.CompareAndSwap(int32(StateRunning), int32(StateStopRequested))
		b.cancel()
		<-b.done

		b.released.Store(true)
		b.closeErr = b.transport.Close()
		b.logger.Debug().Msg("board closed")
	})
	return b.closeErr
}
