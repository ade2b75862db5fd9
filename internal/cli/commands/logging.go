package commands

import (
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// newLogger returns the process logger. JSON lines by default; pretty output
// is meant for interactive use only.
func newLogger(out io.Writer, verbose, pretty bool) zerolog.Logger {
	if pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	}
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// verboseFlag reads the global --verbose flag. Commands executed on their
// own in tests do not carry it.
func verboseFlag(cmd *cobra.Command) bool {
	v, err := cmd.Flags().GetBool("verbose")
	return err == nil && v
}
