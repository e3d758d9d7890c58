package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mindforge/kernel"
)

// NewReplayCommand creates the replay command
func NewReplayCommand() *cobra.Command {
	var (
		logPath string
		pattern string
		since   string
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Read events back from a file mirror log",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd, logPath, pattern, since, asJSON)
		},
	}

	cmd.Flags().StringVarP(&logPath, "log", "l", "kernel-events.log", "Mirror log file")
	cmd.Flags().StringVarP(&pattern, "pattern", "p", "", "Channel pattern filter (empty for all)")
	cmd.Flags().StringVar(&since, "since", "", "Only events after this RFC 3339 timestamp")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit events as JSON lines")
	return cmd
}

func runReplay(cmd *cobra.Command, logPath, pattern, since string, asJSON bool) error {
	var from time.Time
	if since != "" {
		parsed, err := time.Parse(time.RFC3339, since)
		if err != nil {
			return fmt.Errorf("parsing --since: %w", err)
		}
		from = parsed
	}

	if _, err := os.Stat(logPath); err != nil {
		return fmt.Errorf("mirror log: %w", err)
	}
	sink, err := kernel.NewFileMirror(logPath)
	if err != nil {
		return err
	}
	defer sink.Close()

	events, err := sink.Replay(cmd.Context(), pattern, from, time.Now())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, event := range events {
		if asJSON {
			line, err := json.Marshal(event)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, string(line))
			continue
		}
		fmt.Fprintf(out, "%s  %-40s  %s\n", event.Timestamp.Format(time.RFC3339), event.Channel, event.Source)
	}
	fmt.Fprintf(out, "%d event(s)\n", len(events))
	return nil
}
