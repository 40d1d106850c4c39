package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vincentbai/browsetrace-replay/internal/config"
	"github.com/vincentbai/browsetrace-replay/internal/logging"
)

type globalFlags struct {
	logLevel string
	logDev   bool
}

func newRootCommand() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "browsetrace-replay",
		Short:         "Record browser sessions and replay them later",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&flags.logDev, "log-dev", false, "human-readable log output")

	root.AddCommand(
		newServeCommand(flags),
		newReplayCommand(flags),
		newInspectCommand(),
		newArchiveCommand(flags),
	)
	return root
}

// setup loads configuration and builds the logger, letting flags override
// the environment.
func setup(cmd *cobra.Command, flags *globalFlags) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = flags.logLevel
	}
	if cmd.Flags().Changed("log-dev") {
		cfg.LogDev = flags.logDev
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.LogLevel
	logCfg.Development = logCfg.Development || cfg.LogDev
	logger, err := logging.New(logCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return cfg, logger, nil
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
