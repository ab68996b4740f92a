package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/aristath/conductor/internal/config"
	"github.com/aristath/conductor/internal/graph"
	"github.com/aristath/conductor/internal/orchestrator"
	"github.com/aristath/conductor/internal/state"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current state of every task",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadDefault()
			if err != nil {
				return err
			}
			repo, err := os.Getwd()
			if err != nil {
				return err
			}

			store, err := state.Open(filepath.Join(repo, cfg.Run.StatePath))
			if err != nil {
				return err
			}
			if !store.Exists() {
				return fmt.Errorf("no state document at %s; run `conductor run` first", store.Path())
			}
			doc, err := store.Read()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprint(out, orchestrator.TaskTable(doc.Tasks))

			if rs, stuck := graph.Terminal(doc); rs == graph.RunBlocked {
				fmt.Fprintln(out)
				for _, s := range stuck {
					fmt.Fprintf(out, "stuck: %s: %s\n", s.ID, s.Reason)
				}
			}
			if doc.Execution != nil && len(doc.Execution.ActiveWorkspaces) > 0 {
				fmt.Fprintf(out, "\nactive workspaces (will be recovered on next run): %v\n", doc.Execution.ActiveWorkspaces)
			}
			return nil
		},
	}
}
