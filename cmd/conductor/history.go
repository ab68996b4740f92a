package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/aristath/conductor/internal/config"
	"github.com/aristath/conductor/internal/history"
)

func newHistoryCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List archived runs, or show one run's record",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadDefault()
			if err != nil {
				return err
			}
			repo, err := os.Getwd()
			if err != nil {
				return err
			}

			dbPath := filepath.Join(repo, cfg.Run.HistoryPath)
			if _, err := os.Stat(dbPath); err != nil {
				return fmt.Errorf("no run history at %s", dbPath)
			}
			hs, err := history.NewStore(cmd.Context(), dbPath)
			if err != nil {
				return err
			}
			defer hs.Close()

			out := cmd.OutOrStdout()
			if len(args) == 1 {
				return showRun(cmd, hs, args[0])
			}

			runs, err := hs.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(out, "no archived runs")
				return nil
			}
			for _, r := range runs {
				outcome := r.Outcome
				if outcome == "" {
					outcome = "interrupted"
				}
				fmt.Fprintf(out, "%s  %-10s  %-14s  waves=%d spawns=%d  %s\n",
					r.ID, r.Mode, outcome, r.Waves, r.Spawns, r.StartedAt.Format(time.RFC3339))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs to list")
	return cmd
}

func showRun(cmd *cobra.Command, hs *history.Store, runID string) error {
	out := cmd.OutOrStdout()

	progress, err := hs.RunProgress(cmd.Context(), runID)
	if err != nil {
		return err
	}
	failures, err := hs.RunFailures(cmd.Context(), runID)
	if err != nil {
		return err
	}
	if len(progress) == 0 && len(failures) == 0 {
		fmt.Fprintf(out, "no records for run %s\n", runID)
		return nil
	}

	for _, p := range progress {
		fmt.Fprintf(out, "wave %d  %-20s %s\n", p.Wave, p.TaskID, p.Outcome)
	}
	for _, f := range failures {
		fmt.Fprintf(out, "failure %-20s [%s] %s\n", f.TaskID, f.Phase, f.Message)
	}
	return nil
}
