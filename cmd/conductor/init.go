package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/aristath/conductor/internal/config"
)

const starterPlan = `# Conductor plan. Each task runs as one worker; dependsOn gates
# scheduling on the listed tasks having passed.
tasks:
  - id: example-task
    title: Replace me with a real task
    prompt: |
      Describe the work for the worker here.
`

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Interactively create the project configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.DefaultConfig()

			executorType := cfg.Executor.Type
			model := cfg.Executor.Model
			command := cfg.Executor.Command
			baseBranch := cfg.Run.BaseBranch
			maxParallel := strconv.Itoa(cfg.Run.MaxParallel)

			form := huh.NewForm(
				huh.NewGroup(
					huh.NewSelect[string]().
						Title("Worker executor").
						Options(
							huh.NewOption("Claude CLI", "claude"),
							huh.NewOption("Codex CLI", "codex"),
							huh.NewOption("Custom command", "command"),
						).
						Value(&executorType),
					huh.NewInput().
						Title("Model (optional, CLI executors only)").
						Value(&model),
					huh.NewInput().
						Title("Command (custom executor only)").
						Value(&command),
				),
				huh.NewGroup(
					huh.NewInput().
						Title("Base branch").
						Value(&baseBranch),
					huh.NewInput().
						Title("Max parallel workers").
						Value(&maxParallel).
						Validate(func(s string) error {
							n, err := strconv.Atoi(s)
							if err != nil || n < 1 {
								return fmt.Errorf("enter a positive number")
							}
							return nil
						}),
				),
			)
			if err := form.Run(); err != nil {
				return err
			}

			cfg.Executor.Type = executorType
			cfg.Executor.Model = model
			cfg.Executor.Command = command
			cfg.Run.BaseBranch = baseBranch
			cfg.Run.MaxParallel, _ = strconv.Atoi(maxParallel)

			path := filepath.Join(".conductor", "config.json")
			if err := config.Save(cfg, path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)

			if _, err := os.Stat(cfg.Run.PlanPath); os.IsNotExist(err) {
				if err := os.WriteFile(cfg.Run.PlanPath, []byte(starterPlan), 0o644); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote starter plan %s\n", cfg.Run.PlanPath)
			}
			return nil
		},
	}
}
