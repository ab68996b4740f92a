package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/aristath/conductor/internal/config"
	"github.com/aristath/conductor/internal/events"
	"github.com/aristath/conductor/internal/history"
	"github.com/aristath/conductor/internal/merge"
	"github.com/aristath/conductor/internal/orchestrator"
	"github.com/aristath/conductor/internal/plan"
	"github.com/aristath/conductor/internal/state"
	"github.com/aristath/conductor/internal/tui"
	"github.com/aristath/conductor/internal/worker"
	"github.com/aristath/conductor/internal/workspace"
)

type runFlags struct {
	parallel      bool
	maxParallel   int
	maxIterations int
	timeout       int
	pollInterval  int
	dryRun        bool
	story         string
	showTUI       bool
}

func newRunCmd() *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute the plan to a terminal outcome",
		Long: `Run executes tasks until every task has passed (exit 0), no further
progress is possible (exit 1), or the spawn budget is exhausted (exit 2).
With --parallel, independent tasks run concurrently in isolated
worktrees and are merged back one at a time.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, flags)
		},
	}

	cmd.Flags().BoolVar(&flags.parallel, "parallel", false, "run independent tasks concurrently in isolated workspaces")
	cmd.Flags().IntVar(&flags.maxParallel, "max-parallel", 0, "concurrent worker slots (overrides config)")
	cmd.Flags().IntVar(&flags.maxIterations, "max-iterations", 0, "spawn budget for the run (overrides config)")
	cmd.Flags().IntVar(&flags.timeout, "timeout", 0, "per-task timeout in seconds (overrides config)")
	cmd.Flags().IntVar(&flags.pollInterval, "poll-interval", 0, "worker poll interval in seconds (overrides config)")
	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "print the wave plan without spawning workers")
	cmd.Flags().StringVar(&flags.story, "story", "", "restrict the run to one task and its dependency lineage")
	cmd.Flags().BoolVar(&flags.showTUI, "tui", false, "show the live dashboard while running")

	return cmd
}

func runRun(cmd *cobra.Command, flags runFlags) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadDefault()
	if err != nil {
		return err
	}
	applyRunFlags(cfg, cmd, flags)

	repo, err := os.Getwd()
	if err != nil {
		return err
	}

	store, err := state.Open(filepath.Join(repo, cfg.Run.StatePath))
	if err != nil {
		return err
	}
	if err := seedFromPlan(store, filepath.Join(repo, cfg.Run.PlanPath)); err != nil {
		return err
	}

	executor, err := worker.New(executorConfig(cfg.Executor))
	if err != nil {
		return err
	}
	pm := worker.NewProcessManager()
	spawner := worker.NewSpawner(executor, pm)

	var review orchestrator.Spawner
	if cfg.Review != nil {
		reviewExec, err := worker.New(executorConfig(*cfg.Review))
		if err != nil {
			return fmt.Errorf("review executor: %w", err)
		}
		review = worker.NewSpawner(reviewExec, pm)
	}

	workspaces := workspace.NewManager(workspace.Config{
		RepoPath:     repo,
		BaseBranch:   cfg.Run.BaseBranch,
		WorkspaceDir: filepath.Join(repo, cfg.Run.WorkspaceDir),
	})
	merger := merge.NewCoordinator(repo, cfg.Run.BaseBranch)

	var archive orchestrator.Archive
	if cfg.Run.HistoryPath != "" && !flags.dryRun {
		hs, err := history.NewStore(ctx, filepath.Join(repo, cfg.Run.HistoryPath))
		if err != nil {
			return fmt.Errorf("history archive: %w", err)
		}
		defer hs.Close()
		archive = hs
	}

	var bus *events.Bus
	if flags.showTUI {
		bus = events.NewBus()
	}

	runner := orchestrator.NewRunner(store, workspaces, merger, spawner, review, cfg, bus, archive, orchestrator.Options{
		RepoPath: repo,
		Parallel: flags.parallel,
		DryRun:   flags.dryRun,
		Story:    flags.story,
		RunID:    uuid.NewString(),
	})

	var result *orchestrator.Result
	if flags.showTUI {
		result, err = runWithDashboard(ctx, runner, bus)
	} else {
		result, err = runner.Run(ctx)
	}
	if err != nil {
		if kerr := pm.KillAll(); kerr != nil {
			log.Printf("WARNING: failed to kill workers on shutdown: %v", kerr)
		}
		return err
	}

	fmt.Fprint(cmd.OutOrStdout(), orchestrator.Summary(result))
	exitCode = orchestrator.ExitCode(result.Outcome)
	return nil
}

// runWithDashboard runs the engine and the live dashboard concurrently.
// The dashboard exits when the bus closes after the run finishes, or
// earlier if the user quits it.
func runWithDashboard(ctx context.Context, runner *orchestrator.Runner, bus *events.Bus) (*orchestrator.Result, error) {
	p := tea.NewProgram(tui.New(bus), tea.WithAltScreen(), tea.WithContext(ctx))

	var result *orchestrator.Result
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		result, err = runner.Run(ctx)
		// Give the dashboard a beat to drain the final events.
		time.Sleep(100 * time.Millisecond)
		bus.Close()
		p.Quit()
		return err
	})

	g.Go(func() error {
		_, err := p.Run()
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

// applyRunFlags overlays explicitly-set flags on top of the config.
func applyRunFlags(cfg *config.Config, cmd *cobra.Command, flags runFlags) {
	if cmd.Flags().Changed("max-parallel") {
		cfg.Run.MaxParallel = flags.maxParallel
	}
	if cmd.Flags().Changed("max-iterations") {
		cfg.Run.MaxIterations = flags.maxIterations
	}
	if cmd.Flags().Changed("timeout") {
		cfg.Run.TimeoutSeconds = flags.timeout
	}
	if cmd.Flags().Changed("poll-interval") {
		cfg.Run.PollIntervalSeconds = flags.pollInterval
	}
}

// seedFromPlan populates a fresh state document from the plan file.
// An existing document wins so interrupted runs resume where they left
// off.
func seedFromPlan(store *state.Store, planPath string) error {
	if store.Exists() {
		return nil
	}
	p, err := plan.Load(planPath)
	if err != nil {
		return fmt.Errorf("no state document and no usable plan: %w", err)
	}
	_, err = store.Write(func(doc *state.Document) error {
		doc.Tasks = p.Seed()
		return nil
	})
	return err
}

// executorConfig maps the config section onto the worker package.
func executorConfig(ec config.ExecutorConfig) worker.Config {
	return worker.Config{
		Type:    ec.Type,
		Command: ec.Command,
		Args:    ec.Args,
		Model:   ec.Model,
	}
}
