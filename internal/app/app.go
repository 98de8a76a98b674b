// Package app wires the boardlink host together: configuration, logging,
// the host event loop, the Lua script host, the transport, the board and the
// optional capture recorder. It owns their lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/dshills/boardlink/internal/board"
	"github.com/dshills/boardlink/internal/config"
	"github.com/dshills/boardlink/internal/event/dispatch"
	"github.com/dshills/boardlink/internal/logging"
	"github.com/dshills/boardlink/internal/script"
	"github.com/dshills/boardlink/internal/transport"
	"github.com/dshills/boardlink/internal/transport/replay"
	"github.com/dshills/boardlink/internal/transport/sim"
)

// ScriptModule is the name scripts require to reach the board.
const ScriptModule = "board"

// Application is the central coordinator for all boardlink components.
type Application struct {
	opts   Options
	config *config.Config

	logger    zerolog.Logger
	logCloser io.Closer

	loop      *dispatch.Loop
	vm        *script.VM
	transport transport.Transport
	gate      *gate
	board     *board.Board

	recorder   *replay.Recorder
	recordFile io.Closer

	running      atomic.Bool
	shutdownOnce sync.Once
	shutdownErr  error
}

// Options configures the application. Non-empty fields override the
// configuration file.
type Options struct {
	// ConfigPath is the path to the configuration file.
	ConfigPath string

	// ReplayPath plays back a capture instead of a live transport.
	ReplayPath string

	// Pacing replays with the recorded timing.
	Pacing bool

	// Scripts are run after the configured scripts, in order.
	Scripts []string

	// RecordPath captures every event to a JSON Lines file.
	RecordPath string

	// LogLevel sets the logging verbosity.
	LogLevel string

	// Transport replaces the configured transport.
	Transport transport.Transport

	// LogWriter replaces the configured log output.
	LogWriter io.Writer

	// ConfigOptions are passed to config.Load after the file option.
	ConfigOptions []config.Option
}

// New loads the configuration and builds every component. The transport is
// held back until Run, so consumers registered by scripts see every packet.
func New(opts Options) (*Application, error) {
	cfgOpts := append([]config.Option{config.WithFile(opts.ConfigPath)}, opts.ConfigOptions...)
	cfg, err := config.Load(cfgOpts...)
	if err != nil {
		return nil, NewComponentError("config", "load", err)
	}
	if err := applyOverrides(cfg, opts); err != nil {
		return nil, NewComponentError("config", "override", err)
	}

	app := &Application{opts: opts, config: cfg}
	if err := newBootstrapper(app).bootstrap(); err != nil {
		return nil, err
	}
	return app, nil
}

func applyOverrides(cfg *config.Config, opts Options) error {
	if opts.LogLevel != "" {
		cfg.Logging.Level = opts.LogLevel
	}
	if opts.ReplayPath != "" {
		cfg.Replay.Path = opts.ReplayPath
	}
	if opts.Pacing {
		cfg.Replay.Pacing = true
	}
	if opts.RecordPath != "" {
		cfg.Record.Path = opts.RecordPath
	}
	cfg.Script.Paths = append(cfg.Script.Paths, opts.Scripts...)
	return cfg.Validate()
}

// Config returns the effective configuration.
func (app *Application) Config() *config.Config {
	return app.config
}

// Logger returns the application logger.
func (app *Application) Logger() zerolog.Logger {
	return app.logger
}

// Board returns the device event hub.
func (app *Application) Board() *board.Board {
	return app.board
}

// Loop returns the host event loop.
func (app *Application) Loop() *dispatch.Loop {
	return app.loop
}

// VM returns the script host.
func (app *Application) VM() *script.VM {
	return app.vm
}

// Recorder returns the capture recorder, or nil when recording is off.
func (app *Application) Recorder() *replay.Recorder {
	return app.recorder
}

// Run drives the host event loop on the calling goroutine until ctx is
// cancelled or the board stops. When the board stops on its own, the async
// consumers it already handed off run before the loop returns. It then shuts
// everything down, closing the board before the loop stops.
//
// Reaching the end of a replay is a normal exit. Any other transport
// failure is returned.
func (app *Application) Run(ctx context.Context) error {
	if !app.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	app.logger.Info().
		Str("board", app.board.Name()).
		Strs("channels", app.board.ChannelNames()).
		Msg("host running")

	app.gate.open()

	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		select {
		case <-ctx.Done():
			app.logger.Info().Msg("shutdown requested")
			_ = app.board.Close()
			app.loop.Stop()
			return
		case <-app.board.Done():
		}

		// the board published its last event; let accepted async
		// consumers finish unless shutdown is requested meanwhile
		app.loop.Drain()
		select {
		case <-ctx.Done():
			app.logger.Info().Msg("shutdown requested")
			app.loop.Stop()
		case <-app.loop.Done():
		}
	}()

	if err := app.loop.Run(context.Background()); err != nil {
		app.logger.Error().Err(err).Msg("event loop")
	}
	<-watchDone

	boardErr := app.board.Err()
	if err := app.Shutdown(); err != nil {
		return err
	}
	if boardErr != nil && !errors.Is(boardErr, io.EOF) {
		return boardErr
	}
	return nil
}

// Shutdown releases every component in reverse initialization order. It is
// safe to call more than once and without Run.
func (app *Application) Shutdown() error {
	app.shutdownOnce.Do(func() {
		app.shutdownErr = app.shutdown()
	})
	return app.shutdownErr
}

func (app *Application) shutdown() error {
	var errs []error

	if app.board != nil {
		if err := app.board.Close(); err != nil {
			errs = append(errs, NewComponentError("board", "close", err))
		}
	}
	if app.loop != nil {
		app.loop.Stop()
	}
	if app.recorder != nil {
		if err := app.recorder.Flush(); err != nil {
			errs = append(errs, NewComponentError("recorder", "flush", err))
		}
		app.logger.Info().
			Str("path", app.config.Record.Path).
			Uint64("events", app.recorder.Count()).
			Msg("capture written")
	}
	if app.recordFile != nil {
		if err := app.recordFile.Close(); err != nil {
			errs = append(errs, NewComponentError("recorder", "close", err))
		}
	}
	if app.vm != nil {
		_ = app.vm.Close()
	}

	stats := app.loop.Stats()
	app.logger.Debug().
		Uint64("processed", stats.Processed).
		Uint64("failed", stats.Failed).
		Uint64("panicked", stats.Panicked).
		Uint64("discarded", stats.Discarded).
		Msg("host stopped")

	if app.logCloser != nil {
		_ = app.logCloser.Close()
	}
	return errors.Join(errs...)
}

// bootstrapper initializes components with cleanup on failure.
type bootstrapper struct {
	app       *Application
	initOrder []string
}

func newBootstrapper(app *Application) *bootstrapper {
	return &bootstrapper{app: app, initOrder: make([]string, 0, 6)}
}

// bootstrap initializes all components in dependency order. On failure it
// releases the components already initialized.
func (b *bootstrapper) bootstrap() error {
	steps := []struct {
		name string
		init func() error
	}{
		{"logger", b.initLogger},
		{"loop", b.initLoop},
		{"script", b.initVM},
		{"transport", b.initTransport},
		{"board", b.initBoard},
		{"recorder", b.initRecorder},
		{"scripts", b.runScripts},
	}

	for _, step := range steps {
		if err := step.init(); err != nil {
			b.cleanup()
			var ce *ComponentError
			if errors.As(err, &ce) {
				return err
			}
			return NewComponentError(step.name, "init", err)
		}
		b.initOrder = append(b.initOrder, step.name)
	}
	return nil
}

func (b *bootstrapper) initLogger() error {
	cfg := b.app.config.Logging
	if w := b.app.opts.LogWriter; w != nil {
		b.app.logger = logging.NewWithWriter(cfg, w)
		return nil
	}
	logger, closer, err := logging.New(cfg)
	if err != nil {
		return err
	}
	b.app.logger = logger
	b.app.logCloser = closer
	return nil
}

func (b *bootstrapper) initLoop() error {
	b.app.loop = dispatch.NewLoop(
		dispatch.WithQueueSize(b.app.config.Loop.QueueSize),
		dispatch.WithLogger(logging.WithComponent(b.app.logger, "loop")),
	)
	return nil
}

func (b *bootstrapper) initVM() error {
	cfg := b.app.config.Script
	vm := script.NewVM(
		script.WithExecutionTimeout(cfg.Timeout.Std()),
		script.WithLogger(logging.WithComponent(b.app.logger, "script")),
	)
	for _, name := range cfg.Allow {
		vm.Sandbox().Allow(name)
	}
	b.app.vm = vm
	return nil
}

func (b *bootstrapper) initTransport() error {
	if t := b.app.opts.Transport; t != nil {
		b.app.transport = t
		return nil
	}

	cfg := b.app.config.Replay
	if cfg.Path != "" {
		r, err := replay.Open(cfg.Path, replay.WithPacing(cfg.Pacing))
		if err != nil {
			return err
		}
		b.app.logger.Info().Str("path", cfg.Path).Bool("pacing", cfg.Pacing).Msg("replaying capture")
		b.app.transport = r
		return nil
	}

	b.app.logger.Warn().Msg("no transport configured, board is idle")
	b.app.transport = sim.New(0)
	return nil
}

func (b *bootstrapper) initBoard() error {
	b.app.gate = newGate(b.app.transport)
	brd, err := board.New(b.app.gate,
		board.WithName(b.app.config.Board.Name),
		board.WithConsumerTimeout(b.app.config.Board.ConsumerTimeout.Std()),
		board.WithLogger(logging.WithComponent(b.app.logger, "board")),
		board.WithScheduler(b.app.loop),
		board.WithInspector(b.app.vm.Inspector()),
	)
	if err != nil {
		return err
	}
	b.app.board = brd
	if err := script.Install(b.app.vm, ScriptModule, brd); err != nil {
		_ = brd.Close()
		return err
	}
	return nil
}

func (b *bootstrapper) initRecorder() error {
	cfg := b.app.config.Record
	if cfg.Path == "" {
		return nil
	}

	f, err := os.Create(cfg.Path)
	if err != nil {
		return fmt.Errorf("create capture: %w", err)
	}
	rec := replay.NewRecorder(f,
		replay.WithSession(cfg.Session),
		replay.WithRecorderLogger(logging.WithComponent(b.app.logger, "recorder")),
	)
	if err := rec.Attach(b.app.board); err != nil {
		_ = f.Close()
		return err
	}

	b.app.recorder = rec
	b.app.recordFile = f
	b.app.logger.Info().Str("path", cfg.Path).Str("session", rec.Session()).Msg("capturing events")
	return nil
}

func (b *bootstrapper) runScripts() error {
	for _, path := range b.app.config.Script.Paths {
		if err := b.app.vm.DoFile(path); err != nil {
			return NewComponentError("scripts", path, err)
		}
		b.app.logger.Debug().Str("script", path).Msg("script loaded")
	}
	return nil
}

// cleanup releases initialized components in reverse order.
func (b *bootstrapper) cleanup() {
	for i := len(b.initOrder) - 1; i >= 0; i-- {
		b.cleanupComponent(b.initOrder[i])
	}
}

func (b *bootstrapper) cleanupComponent(component string) {
	switch component {
	case "logger":
		if b.app.logCloser != nil {
			_ = b.app.logCloser.Close()
		}
	case "loop":
		b.app.loop.Stop()
	case "script":
		_ = b.app.vm.Close()
	case "transport":
		// board.Close releases the transport once the board exists
		if b.app.board == nil {
			_ = b.app.transport.Close()
		}
	case "board":
		_ = b.app.board.Close()
	case "recorder":
		if b.app.recordFile != nil {
			_ = b.app.recordFile.Close()
		}
	}
}
