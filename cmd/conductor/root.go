package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conductor",
		Short: "Autonomous task orchestration over a dependency graph",
		Long: `Conductor executes a plan of dependent tasks by spawning worker
processes, either one at a time in the repository or in parallel across
isolated git worktrees that are merged back serially. Progress is
persisted atomically so an interrupted run can always resume.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newValidateCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newHistoryCmd())
	cmd.AddCommand(newInitCmd())

	return cmd
}
