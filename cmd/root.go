package cmd

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "stocktag",
	Short: "Instance-level stock tracking: receive units, tag them, fulfill or cancel tags",
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newLogger builds the process logger. JSON by default, console when the
// output is a terminal-friendly setting.
func newLogger() zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	if os.Getenv("LOG_PRETTY") == "true" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}
