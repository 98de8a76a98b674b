package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/gdamore/tcell/v2"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/dshills/boardlink/internal/app"
	"github.com/dshills/boardlink/internal/config"
	"github.com/dshills/boardlink/internal/monitor"
)

// errNotTerminal is returned by monitor when stdout is redirected.
var errNotTerminal = errors.New("monitor needs a terminal on stdout")

func newRootCommand() *cobra.Command {
	var opts app.Options

	root := &cobra.Command{
		Use:   "boardlink",
		Short: "Event hub for C-board peripherals",
		Long: `boardlink receives CAN, UART, DBUS and IMU traffic from a C-board and
delivers every packet to the consumers registered on its channel. Consumers
are Lua scripts or Go code.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetVersionTemplate("boardlink {{.Version}}\n")

	root.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "configuration file, - for standard input (default ./boardlink.toml when present)")
	root.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&opts.ReplayPath, "replay", "", "replay a capture instead of a live transport")
	root.PersistentFlags().BoolVar(&opts.Pacing, "pacing", false, "replay with the recorded timing")

	root.AddCommand(
		newRunCommand(&opts),
		newMonitorCommand(&opts),
		newVersionCommand(),
	)
	return root
}

func newRunCommand(opts *app.Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the host with scripts until interrupted",
		Example: `  boardlink run --script filter.lua
  boardlink run --replay bench.jsonl --pacing --record copy.jsonl`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			application, err := app.New(withStdin(cmd, *opts))
			if err != nil {
				return err
			}
			return application.Run(cmd.Context())
		},
	}
	cmd.Flags().StringArrayVarP(&opts.Scripts, "script", "s", nil, "Lua script to load (repeatable)")
	cmd.Flags().StringVar(&opts.RecordPath, "record", "", "capture every event to a JSON Lines file")
	return cmd
}

func newMonitorCommand(opts *app.Options) *cobra.Command {
	var logFile string

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Show live per-channel traffic",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !term.IsTerminal(int(os.Stdout.Fd())) {
				return errNotTerminal
			}
			return runMonitor(cmd.Context(), withStdin(cmd, *opts), logFile)
		},
	}
	cmd.Flags().StringArrayVarP(&opts.Scripts, "script", "s", nil, "Lua script to load (repeatable)")
	cmd.Flags().StringVar(&logFile, "log-file", "", "write logs to a file; they are discarded otherwise")
	return cmd
}

// withStdin lets --config - read the command's input.
func withStdin(cmd *cobra.Command, opts app.Options) app.Options {
	opts.ConfigOptions = append(slices.Clone(opts.ConfigOptions), config.WithStdin(cmd.InOrStdin()))
	return opts
}

func runMonitor(ctx context.Context, opts app.Options, logFile string) error {
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer f.Close()
		opts.LogWriter = f
	} else {
		opts.LogWriter = io.Discard
	}

	application, err := app.New(opts)
	if err != nil {
		return err
	}

	screen, err := tcell.NewScreen()
	if err != nil {
		_ = application.Shutdown()
		return fmt.Errorf("create screen: %w", err)
	}

	brd := application.Board()
	mon := monitor.New(screen,
		monitor.WithRefresh(application.Config().Monitor.Refresh.Std()),
		monitor.WithTitle("boardlink "+brd.Name()),
		monitor.WithStatus(func() string { return brd.State().String() }),
	)
	if err := mon.Attach(brd); err != nil {
		_ = application.Shutdown()
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	hostErr := make(chan error, 1)
	go func() { hostErr <- application.Run(ctx) }()

	monErr := mon.Run(ctx)
	cancel()
	return errors.Join(monErr, <-hostErr)
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "boardlink %s\n", version)
			fmt.Fprintf(out, "Commit: %s\n", commit)
			fmt.Fprintf(out, "Built: %s\n", date)
		},
	}
}
