package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"overseer/internal/backend"
	"overseer/internal/config"
	"overseer/internal/mission"
	"overseer/internal/orchestrator"
	"overseer/internal/state"
	"overseer/internal/store"
	"overseer/internal/telemetry"
)

func newRunCmd() *cobra.Command {
	var (
		flagManagerURL    string
		flagManagerModel  string
		flagExecutorBin   string
		flagMaxIterations int
		flagCheckpoint    int
	)

	cmd := &cobra.Command{
		Use:   "run <mission.yaml> [mission.yaml...]",
		Short: "Run one or more missions from mission files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if flagManagerURL != "" {
				cfg.Manager.BaseURL = flagManagerURL
			}
			if flagManagerModel != "" {
				cfg.Manager.Model = flagManagerModel
			}
			if flagExecutorBin != "" {
				cfg.Executor.Binary = flagExecutorBin
			}
			if flagMaxIterations > 0 {
				cfg.MaxIterations = flagMaxIterations
			}
			if flagCheckpoint > 0 {
				cfg.CheckpointInterval = flagCheckpoint
			}

			missions := make([]*mission.Mission, 0, len(args))
			seen := make(map[string]string, len(args))
			for _, path := range args {
				m, err := mission.Load(path)
				if err != nil {
					return err
				}
				if prev, dup := seen[m.ID]; dup {
					return fmt.Errorf("mission files %s and %s share id %s", prev, path, m.ID)
				}
				seen[m.ID] = path
				missions = append(missions, m)
			}
			return runMissions(cmd.Context(), cfg, missions)
		},
	}

	cmd.Flags().StringVar(&flagManagerURL, "manager-url", "", "planning backend base URL")
	cmd.Flags().StringVar(&flagManagerModel, "manager-model", "", "planning backend model")
	cmd.Flags().StringVar(&flagExecutorBin, "executor", "", "coding backend CLI binary")
	cmd.Flags().IntVar(&flagMaxIterations, "max-iterations", 0, "iteration budget")
	cmd.Flags().IntVar(&flagCheckpoint, "checkpoint-interval", 0, "iterations between checkpoints")
	return cmd
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	if flagStateDir != "" {
		cfg.StateDir = flagStateDir
	}
	return cfg, nil
}

func openStore(cfg *config.Config) (store.Store, error) {
	return store.NewFileStore(cfg.StateDir)
}

// processEnv converts os.Environ into the injected environment map.
func processEnv() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i > 0 {
			env[kv[:i]] = kv[i+1:]
		}
	}
	return env
}

// runMissions orchestrates the missions concurrently against one shared
// store. Isolation is per mission id; the loops themselves stay
// single-writer.
func runMissions(ctx context.Context, cfg *config.Config, missions []*mission.Mission) error {
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	// Persist each mission document so `resume <mission-id>` can rebuild
	// it without the original file.
	for _, m := range missions {
		if err := saveMissionRecord(cfg.StateDir, m); err != nil {
			return err
		}
	}

	sink := telemetry.NewPromSink(nil)
	env := processEnv()

	// Ctrl-C cancels cooperatively: every run checkpoints and returns.
	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(runCtx)
	results := make([]*orchestrator.Result, len(missions))
	for i, m := range missions {
		i, m := i, m
		g.Go(func() error {
			mgr := backend.NewHTTPManager(backend.HTTPManagerConfig{
				APIKey:  cfg.Manager.APIKey,
				BaseURL: cfg.Manager.BaseURL,
				Model:   cfg.Manager.Model,
			})
			exec := backend.NewCLIExecutor(backend.CLIExecutorConfig{
				Binary:  cfg.Executor.Binary,
				Model:   cfg.Executor.Model,
				Timeout: cfg.Executor.Timeout,
			})

			orch, err := orchestrator.New(orchestrator.Config{
				Mission:            m,
				Manager:            mgr,
				Executor:           exec,
				Store:              st,
				Sink:               sink,
				CheckpointInterval: cfg.CheckpointInterval,
				MaxIterations:      cfg.MaxIterations,
				Retry:              cfg.Retry,
				Environment:        env,
				OnProgress: func(ev orchestrator.ProgressEvent) {
					fmt.Printf("[%d] %s: %d/%d criteria (%d%%, %s)\n",
						ev.Session.Iterations, m.Title,
						ev.Progress.Completed, ev.Progress.Total,
						ev.Progress.Percent, ev.Progress.PhaseLabel)
				},
			})
			if err != nil {
				return err
			}

			result, err := orch.Orchestrate(gctx)
			if err != nil {
				return err
			}
			results[i] = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	failed := false
	for _, result := range results {
		printResult(result)
		if !result.Success {
			failed = true
		}
	}
	if failed {
		os.Exit(1)
	}
	return nil
}

func printResult(result *orchestrator.Result) {
	status := "INCOMPLETE"
	if result.Success {
		status = "SUCCESS"
	}
	fmt.Printf("\n%s: %s\n", status, result.Mission.Title)
	fmt.Printf("  iterations: %d\n", result.Metrics.Iterations)
	fmt.Printf("  criteria:   %d/%d (%d%%)\n",
		result.Metrics.CriteriaCompleted, result.Metrics.CriteriaTotal, result.Metrics.Percent)
	fmt.Printf("  tokens:     %d (est. $%.4f)\n",
		result.Metrics.TokenUsage.Total, result.Metrics.TokenUsage.EstimatedCost)
	fmt.Printf("  artifacts:  %d code, %d test\n",
		result.Metrics.CodeArtifacts, result.Metrics.TestArtifacts)
	if result.Metrics.ErrorsUnresolved > 0 {
		fmt.Printf("  errors:     %d unresolved\n", result.Metrics.ErrorsUnresolved)
	}
	fmt.Printf("  session:    %s\n", result.FinalState.SessionID)
}

// sessionSummary renders one line for session listings.
func sessionSummary(s *state.SessionState) string {
	return fmt.Sprintf("%s  mission=%s  phase=%s  iterations=%d",
		s.SessionID, s.MissionID, s.CurrentPhase, s.Iterations)
}
