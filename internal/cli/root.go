// Package cli wires the megadl command-line interface: flag parsing,
// structured logging, and dispatch into the mega/engine packages.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// rootOpts holds global CLI flags.
type rootOpts struct {
	verbose bool
	quiet   bool
	jsonLog bool
}

// Execute builds and runs the root command.
func Execute(version string) error {
	ro := &rootOpts{}
	ctx, cancel := signalContext(context.Background())
	defer cancel()

	root := &cobra.Command{
		Use:           "megadl",
		Short:         "Concurrent, resumable downloader for public MEGA links",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}

	root.PersistentFlags().BoolVarP(&ro.verbose, "verbose", "v", false, "Verbose (debug) logs")
	root.PersistentFlags().BoolVarP(&ro.quiet, "quiet", "q", false, "Only log warnings and errors")
	root.PersistentFlags().BoolVar(&ro.jsonLog, "json-log", false, "Emit logs as JSON instead of console format")

	getCmd := newGetCmd(ctx, ro)
	root.AddCommand(getCmd)

	// A bare "megadl <url>" is shorthand for "megadl get <url>".
	root.RunE = getCmd.RunE
	root.Args = getCmd.Args

	return root.ExecuteContext(ctx)
}

// signalContext cancels when the process receives SIGINT/SIGTERM, so an
// in-flight pool can unwind its Downloads cleanly instead of being killed.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-ch:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// newLogger builds a zerolog.Logger honoring the root command's verbosity
// flags, the way rescale-labs-Rescale_Interlink's logging package configures
// a console writer for CLI mode.
func newLogger(ro *rootOpts) zerolog.Logger {
	var out zerolog.ConsoleWriter
	if !ro.jsonLog {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	}

	level := zerolog.InfoLevel
	switch {
	case ro.verbose:
		level = zerolog.DebugLevel
	case ro.quiet:
		level = zerolog.WarnLevel
	}

	var logger zerolog.Logger
	if ro.jsonLog {
		logger = zerolog.New(os.Stderr)
	} else {
		logger = zerolog.New(out)
	}
	return logger.Level(level).With().Timestamp().Logger()
}
