package main

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/vincentbai/browsetrace-replay/internal/models"
	"github.com/vincentbai/browsetrace-replay/internal/recorder"
)

func newInspectCommand() *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "inspect FILE",
		Short: "Summarize a saved session file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := recorder.ReadFile(args[0])
			if err != nil {
				return err
			}
			writeSummary(cmd.OutOrStdout(), session, time.Now(), verbose)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "list every event")
	return cmd
}

func writeSummary(w io.Writer, session models.Session, now time.Time, verbose bool) {
	if session.StartTime.IsZero() {
		fmt.Fprintln(w, "Recorded:  unknown")
	} else {
		fmt.Fprintf(w, "Recorded:  %s (%s)\n", session.StartTime.Format(time.RFC3339), humanize.RelTime(session.StartTime, now, "ago", "from now"))
	}
	fmt.Fprintf(w, "Events:    %s\n", humanize.Comma(int64(len(session.Events))))
	fmt.Fprintf(w, "Duration:  %s\n", session.Duration().Round(time.Millisecond))

	var replay time.Duration
	counts := make(map[models.EventType]int)
	for _, event := range session.Events {
		counts[event.Type]++
		replay += event.ReplayDelay()
	}
	fmt.Fprintf(w, "Replay:    %s\n", replay.Round(time.Millisecond))
	for _, eventType := range models.EventTypes() {
		if counts[eventType] > 0 {
			fmt.Fprintf(w, "  %-20s %d\n", eventType, counts[eventType])
		}
	}

	if !verbose {
		return
	}
	for i, event := range session.Events {
		fmt.Fprintf(w, "%4d  %8.3fs  %-20s %v\n", i+1, event.Timestamp, event.Type, event.Data)
	}
}
