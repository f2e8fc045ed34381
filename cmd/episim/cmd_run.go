package main

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nvandessel/episim/internal/scenario"
	"github.com/nvandessel/episim/internal/simulation"
	"github.com/nvandessel/episim/internal/store"
)

// scenarioReport is the JSON form of one scenario outcome.
type scenarioReport struct {
	scenario.Result
	Status string `json:"status"`
	Phase  string `json:"phase,omitempty"`
	Error  string `json:"error,omitempty"`
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [scenario-id...]",
		Short: "Run epidemic scenarios",
		Long: `Run all configured scenarios, or the ones named.

Each scenario writes scenario<ID>.csv and scenario<ID>.png to the output
directory. The run is recorded in the results store unless --no-persist is
given. A failing scenario does not stop the others; the command exits
non-zero after reporting every outcome.

Examples:
  episim run                       # Run every scenario
  episim run 1 4 --cycles 120      # Run two scenarios for 120 days
  episim run --concurrency 4       # Run up to four scenarios at once
  episim run --metrics-file run.prom`,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, _ := cmd.Flags().GetString("root")
			jsonOut, _ := cmd.Flags().GetBool("json")
			noPersist, _ := cmd.Flags().GetBool("no-persist")
			metricsFile, _ := cmd.Flags().GetString("metrics-file")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("cycles") {
				cfg.Simulation.Cycles, _ = cmd.Flags().GetInt("cycles")
			}
			if cmd.Flags().Changed("concurrency") {
				cfg.Simulation.Concurrency, _ = cmd.Flags().GetInt("concurrency")
			}
			if cmd.Flags().Changed("output") {
				cfg.Simulation.OutputDir, _ = cmd.Flags().GetString("output")
			}
			if cmd.Flags().Changed("seed") {
				cfg.Simulation.Seed, _ = cmd.Flags().GetUint64("seed")
			}
			if noPersist {
				cfg.Simulation.Persist = false
			}

			opts := simulation.Options{
				Root:        root,
				Config:      cfg,
				ScenarioIDs: args,
				Logger:      newLogger(cmd, cfg),
				MetricsFile: metricsFile,
			}
			if cfg.Simulation.Persist {
				st, err := store.Open(root)
				if err != nil {
					return fmt.Errorf("failed to open results store: %w", err)
				}
				defer st.Close()
				opts.Store = st
			}

			outcome, runErr := simulation.Execute(cmd.Context(), opts)
			if outcome == nil {
				return runErr
			}

			if jsonOut {
				reports := make([]scenarioReport, 0, len(outcome.Results))
				for _, r := range outcome.Results {
					reports = append(reports, newScenarioReport(r))
				}
				if err := writeJSON(cmd, map[string]any{
					"run_id":     outcome.RunID,
					"status":     outcome.Status,
					"persisted":  outcome.Persisted,
					"output_dir": outcome.OutputDir,
					"scenarios":  reports,
				}); err != nil {
					return err
				}
			} else {
				printOutcome(cmd.OutOrStdout(), root, outcome)
			}

			if failed := len(outcome.Failed()); failed > 0 {
				return fmt.Errorf("%d of %d scenarios failed: %w", failed, len(outcome.Results), runErr)
			}
			return runErr
		},
	}

	cmd.Flags().Int("cycles", 0, "Days to simulate per scenario (overrides config)")
	cmd.Flags().Int("concurrency", 0, "Scenarios to run at once (overrides config)")
	cmd.Flags().String("output", "", "Directory for CSV and PNG files (overrides config)")
	cmd.Flags().Uint64("seed", 0, "Base seed (overrides config)")
	cmd.Flags().Bool("no-persist", false, "Do not record the run in the results store")
	cmd.Flags().String("metrics-file", "", "Write run metrics in Prometheus text format to this file")

	return cmd
}

func newScenarioReport(r scenario.Result) scenarioReport {
	rep := scenarioReport{Result: r, Status: store.ScenarioCompleted}
	if r.Err == nil {
		return rep
	}
	rep.Status = store.ScenarioFailed
	rep.Error = r.Err.Error()
	var f *scenario.Failure
	if errors.As(r.Err, &f) {
		rep.Phase = f.Phase
		if f.Phase == scenario.PhaseSkipped {
			rep.Status = store.ScenarioSkipped
		}
	}
	return rep
}

func printOutcome(w io.Writer, root string, outcome *simulation.Outcome) {
	fmt.Fprintf(w, "Run %s (%s)\n\n", outcome.RunID, outcome.Status)
	fmt.Fprintf(w, "%-6s %-24s %-10s %10s %9s %7s  %s\n", "ID", "NAME", "STATUS", "PEAK INF", "PEAK DAY", "DEAD", "POLICY")
	for _, r := range outcome.Results {
		rep := newScenarioReport(r)
		if r.Failed() {
			fmt.Fprintf(w, "%-6s %-24s %-10s %s\n", r.ScenarioID, truncate(r.Name, 24), rep.Status, rep.Error)
			continue
		}
		policy := r.PolicyState()
		if policy == "" {
			policy = "-"
		}
		fmt.Fprintf(w, "%-6s %-24s %-10s %10d %9d %7d  %s\n", r.ScenarioID, truncate(r.Name, 24), rep.Status,
			r.Summary.PeakInfected, r.Summary.PeakCycle, r.Summary.Final.Dead, policy)
	}
	if outcome.OutputDir != "" {
		dir := outcome.OutputDir
		if rel, err := filepath.Rel(root, dir); err == nil && !filepath.IsAbs(rel) && rel[0] != '.' {
			dir = rel
		}
		fmt.Fprintf(w, "\nArtifacts: %s\n", dir)
	}
	if outcome.Persisted {
		fmt.Fprintf(w, "Recorded as run %s\n", outcome.RunID)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
