package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vincentbai/browsetrace-replay/internal/browser"
	"github.com/vincentbai/browsetrace-replay/internal/config"
	"github.com/vincentbai/browsetrace-replay/internal/database"
	"github.com/vincentbai/browsetrace-replay/internal/recorder"
	"github.com/vincentbai/browsetrace-replay/internal/replayer"
	"github.com/vincentbai/browsetrace-replay/internal/server"
	"github.com/vincentbai/browsetrace-replay/internal/shell"
)

type browserFlags struct {
	headless   bool
	chromePath string
	speed      float64
}

func (f *browserFlags) register(cmd *cobra.Command, headlessDefault bool) {
	cmd.Flags().BoolVar(&f.headless, "headless", headlessDefault, "run the browser without a window")
	cmd.Flags().StringVar(&f.chromePath, "chrome-path", "", "Chrome/Chromium executable")
	cmd.Flags().Float64Var(&f.speed, "speed", 0, "replay speed multiplier")
}

// apply lets explicitly set flags override the environment.
func (f *browserFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("headless") {
		cfg.Headless = f.headless
	}
	if cmd.Flags().Changed("chrome-path") {
		cfg.ChromePath = f.chromePath
	}
	if cmd.Flags().Changed("speed") && f.speed > 0 {
		cfg.ReplaySpeed = f.speed
	}
}

// newShell launches the browser and wires it to a fresh recorder and shell.
func newShell(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*shell.Shell, *browser.Page, error) {
	page, err := browser.Launch(ctx, browser.Options{
		Headless: cfg.Headless,
		ExecPath: cfg.ChromePath,
		Width:    1200,
		Height:   800,
	}, logger.Named("browser"))
	if err != nil {
		return nil, nil, err
	}

	replay := replayer.New(page, replayer.WithSpeed(cfg.ReplaySpeed), replayer.WithLogger(logger.Named("replay")))
	sh := shell.New(page, recorder.New(), shell.WithLogger(logger.Named("shell")), shell.WithReplayer(replay))
	page.SetHandler(sh.Bridge())
	return sh, page, nil
}

func newServeCommand(global *globalFlags) *cobra.Command {
	var (
		flags    browserFlags
		address  string
		startURL string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Open the browser and serve the recording control API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup(cmd, global)
			if err != nil {
				return err
			}
			defer logger.Sync()
			flags.apply(cmd, cfg)
			if cmd.Flags().Changed("address") {
				cfg.Address = address
			}
			if cmd.Flags().Changed("start-url") {
				cfg.StartURL = startURL
			}
			if err := cfg.EnsureDataDir(); err != nil {
				return err
			}

			db, err := database.NewDatabase(cfg.ArchivePath())
			if err != nil {
				return err
			}
			defer db.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			sh, page, err := newShell(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer page.Close()

			if cfg.StartURL != "" {
				if _, err := sh.NavigateTo(ctx, cfg.StartURL); err != nil {
					logger.Warn("Failed to open start page", zap.Error(err))
				}
			}

			return server.NewServer(sh, db, cfg.Address, logger.Named("server")).Start(ctx)
		},
	}
	flags.register(cmd, false)
	cmd.Flags().StringVar(&address, "address", "", "listen address (default $BROWSETRACE_ADDRESS or 127.0.0.1:8123)")
	cmd.Flags().StringVar(&startURL, "start-url", "", "page to open on start")
	return cmd
}
