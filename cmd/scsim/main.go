// Command scsim runs supply-chain pricing experiments and measures the
// learning retailer's regret against the best static policy.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type rootOptions struct {
	logLevel  string
	logFormat string
	logger    *slog.Logger
}

func newRootCmd() *cobra.Command {
	ro := &rootOptions{}

	root := &cobra.Command{
		Use:           "scsim",
		Short:         "Supply-chain regret minimisation simulator",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(cmd.ErrOrStderr(), ro.logLevel, ro.logFormat)
			if err != nil {
				return err
			}
			ro.logger = logger
			slog.SetDefault(logger)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&ro.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&ro.logFormat, "log-format", "text", "log format: text or json")

	root.AddCommand(
		newRunCmd(ro),
		newBenchmarkCmd(ro),
		newRunsCmd(ro),
	)
	return root
}

func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q", level)
	}
	handlerOpts := &slog.HandlerOptions{Level: lvl}

	switch strings.ToLower(format) {
	case "text":
		return slog.New(slog.NewTextHandler(w, handlerOpts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, handlerOpts)), nil
	}
	return nil, fmt.Errorf("invalid --log-format %q", format)
}
