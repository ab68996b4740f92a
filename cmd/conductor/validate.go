package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aristath/conductor/internal/config"
	"github.com/aristath/conductor/internal/graph"
	"github.com/aristath/conductor/internal/plan"
	"github.com/aristath/conductor/internal/state"
)

func newValidateCmd() *cobra.Command {
	var planPath string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the plan file for structural errors",
		Long: `Validate parses the plan, checks task ids and dependency references,
and rejects dependency cycles, without touching any state.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if planPath == "" {
				cfg, err := config.LoadDefault()
				if err != nil {
					return err
				}
				planPath = cfg.Run.PlanPath
			}

			p, err := plan.Load(planPath)
			if err != nil {
				return err
			}
			doc := &state.Document{Tasks: p.Seed()}
			if err := graph.Validate(doc); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "plan ok: %d task(s)\n", len(p.Tasks))
			return nil
		},
	}

	cmd.Flags().StringVar(&planPath, "plan", "", "plan file to validate (defaults to the configured plan path)")
	return cmd
}
