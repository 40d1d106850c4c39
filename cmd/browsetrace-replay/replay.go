package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vincentbai/browsetrace-replay/internal/replayer"
	"github.com/vincentbai/browsetrace-replay/internal/shell"
)

func newReplayCommand(global *globalFlags) *cobra.Command {
	var flags browserFlags
	cmd := &cobra.Command{
		Use:   "replay FILE",
		Short: "Replay a saved session file in a fresh browser",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(cmd, global)
			if err != nil {
				return err
			}
			defer logger.Sync()
			cfg.Headless = true
			flags.apply(cmd, cfg)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			sh, page, err := newShell(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer page.Close()

			if _, err := sh.LoadSession(args[0]); err != nil {
				return err
			}
			result, err := replayWithProgress(ctx, sh, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			if result.Canceled {
				return fmt.Errorf("replay canceled after %d/%d events", result.Replayed, result.Total)
			}
			return nil
		},
	}
	flags.register(cmd, true)
	return cmd
}

// replayWithProgress runs the loaded session and prints every notification.
func replayWithProgress(ctx context.Context, sh *shell.Shell, out io.Writer) (replayer.Result, error) {
	notifications, unsubscribe := sh.Subscribe()
	defer unsubscribe()

	replay, err := sh.StartReplay(ctx)
	if err != nil {
		return replayer.Result{}, err
	}

	for {
		select {
		case n := <-notifications:
			printNotification(out, n)
			if n.Kind != replayer.KindProgress {
				return replay.Wait(), nil
			}
		case <-replay.Done():
			// drain what the relay published before finishing
			for {
				select {
				case n := <-notifications:
					printNotification(out, n)
				default:
					return replay.Wait(), nil
				}
			}
		}
	}
}

func printNotification(w io.Writer, n replayer.Notification) {
	switch n.Kind {
	case replayer.KindProgress:
		fmt.Fprintf(w, "Replaying event %d/%d: %s\n", n.Index, n.Total, n.Type)
	case replayer.KindCompleted:
		fmt.Fprintln(w, "Replay finished")
	case replayer.KindCanceled:
		fmt.Fprintf(w, "Replay canceled after %d/%d events\n", n.Index, n.Total)
	}
}
