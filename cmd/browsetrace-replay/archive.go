package main

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/vincentbai/browsetrace-replay/internal/database"
	"github.com/vincentbai/browsetrace-replay/internal/recorder"
)

func newArchiveCommand(global *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Manage the session archive",
	}

	// each subcommand opens the archive from the configured data directory
	withArchive := func(run func(cmd *cobra.Command, db *database.Database, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(cmd, global)
			if err != nil {
				return err
			}
			defer logger.Sync()
			if err := cfg.EnsureDataDir(); err != nil {
				return err
			}
			db, err := database.NewDatabase(cfg.ArchivePath())
			if err != nil {
				return err
			}
			defer db.Close()
			return run(cmd, db, args)
		}
	}

	var name string
	importCmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Store a session file in the archive",
		Args:  cobra.ExactArgs(1),
		RunE: withArchive(func(cmd *cobra.Command, db *database.Database, args []string) error {
			id, err := importSession(db, args[0], name)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		}),
	}
	importCmd.Flags().StringVar(&name, "name", "", "archive name (default file name)")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List archived sessions",
			Args:  cobra.NoArgs,
			RunE: withArchive(func(cmd *cobra.Command, db *database.Database, _ []string) error {
				summaries, err := db.ListSessions()
				if err != nil {
					return err
				}
				writeArchiveList(cmd.OutOrStdout(), summaries, time.Now())
				return nil
			}),
		},
		importCmd,
		&cobra.Command{
			Use:   "export ID FILE",
			Short: "Write an archived session to a session file",
			Args:  cobra.ExactArgs(2),
			RunE: withArchive(func(_ *cobra.Command, db *database.Database, args []string) error {
				return exportSession(db, args[0], args[1])
			}),
		},
		&cobra.Command{
			Use:   "delete ID",
			Short: "Remove a session from the archive",
			Args:  cobra.ExactArgs(1),
			RunE: withArchive(func(_ *cobra.Command, db *database.Database, args []string) error {
				return db.DeleteSession(args[0])
			}),
		},
	)
	return cmd
}

func importSession(db *database.Database, path, name string) (string, error) {
	session, err := recorder.ReadFile(path)
	if err != nil {
		return "", err
	}
	if session.StartTime.IsZero() {
		return "", fmt.Errorf("%s: session has no start_time", path)
	}
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return db.SaveSession(name, session)
}

func exportSession(db *database.Database, id, path string) error {
	session, err := db.LoadSession(id)
	if err != nil {
		return err
	}
	rec := recorder.New()
	rec.Replace(session)
	return rec.Save(path)
}

func writeArchiveList(w io.Writer, summaries []database.SessionSummary, now time.Time) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tEVENTS\tDURATION\tARCHIVED")
	for _, s := range summaries {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", s.ID, s.Name, s.EventCount, s.Duration.Round(time.Millisecond), humanize.RelTime(s.CreatedAt, now, "ago", "from now"))
	}
	tw.Flush()
}
