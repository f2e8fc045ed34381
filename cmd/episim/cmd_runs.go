package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nvandessel/episim/internal/store"
)

func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect recorded runs",
		Long: `List, show and export runs recorded in <root>/.episim/episim.db.

Run IDs may be abbreviated to any unique prefix.

Examples:
  episim runs list
  episim runs show 3f2a
  episim runs export 3f2a --archive run.json
  episim runs export 3f2a --scenario 4 --csv scenario4.csv`,
	}
	cmd.AddCommand(
		newRunsListCmd(),
		newRunsShowCmd(),
		newRunsExportCmd(),
	)
	return cmd
}

func openStore(cmd *cobra.Command) (*store.SQLiteStore, error) {
	root, _ := cmd.Flags().GetString("root")
	st, err := store.Open(root)
	if err != nil {
		return nil, fmt.Errorf("failed to open results store: %w", err)
	}
	return st, nil
}

func newRunsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			limit, _ := cmd.Flags().GetInt("limit")

			st, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			runs, err := st.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if jsonOut {
				if runs == nil {
					runs = []store.Run{}
				}
				return writeJSON(cmd, map[string]any{"runs": runs, "count": len(runs)})
			}

			w := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(w, "No runs recorded yet. Start one with 'episim run'.")
				return nil
			}
			fmt.Fprintf(w, "%-36s  %-11s  %-20s  %6s  %s\n", "ID", "STATUS", "STARTED", "CYCLES", "SCENARIOS")
			for _, r := range runs {
				fmt.Fprintf(w, "%-36s  %-11s  %-20s  %6d  %d\n", r.ID, r.Status,
					r.StartedAt.Local().Format(time.DateTime), r.Cycles, len(r.Planned))
			}
			return nil
		},
	}
	cmd.Flags().Int("limit", 20, "Maximum runs to list (0 for all)")
	return cmd
}

func newRunsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run and its scenario outcomes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			st, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			run, err := st.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, run)
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Run:         %s\n", run.ID)
			fmt.Fprintf(w, "Status:      %s\n", run.Status)
			fmt.Fprintf(w, "Started:     %s\n", run.StartedAt.Local().Format(time.DateTime))
			if run.FinishedAt != nil {
				fmt.Fprintf(w, "Duration:    %s\n", run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond))
			}
			fmt.Fprintf(w, "Seed:        %d\n", run.Seed)
			fmt.Fprintf(w, "Cycles:      %d\n", run.Cycles)
			fmt.Fprintf(w, "Concurrency: %d\n\n", run.Concurrency)

			fmt.Fprintf(w, "%-6s %-24s %-10s %10s %9s %7s  %s\n", "ID", "NAME", "STATUS", "PEAK INF", "PEAK DAY", "DEAD", "POLICY")
			for _, rec := range run.Scenarios {
				if rec.Status != store.ScenarioCompleted {
					fmt.Fprintf(w, "%-6s %-24s %-10s %s\n", rec.ScenarioID, truncate(rec.Name, 24), rec.Status, rec.Error)
					continue
				}
				policy := rec.PolicyState()
				if policy == "" {
					policy = "-"
				}
				fmt.Fprintf(w, "%-6s %-24s %-10s %10d %9d %7d  %s\n", rec.ScenarioID, truncate(rec.Name, 24), rec.Status,
					rec.Summary.PeakInfected, rec.Summary.PeakCycle, rec.Summary.Final.Dead, policy)
			}
			return nil
		},
	}
}

func newRunsExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <run-id>",
		Short: "Export a recorded run as a JSON archive or one scenario as CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			archivePath, _ := cmd.Flags().GetString("archive")
			csvPath, _ := cmd.Flags().GetString("csv")
			scenarioID, _ := cmd.Flags().GetString("scenario")

			if archivePath == "" && csvPath == "" {
				return fmt.Errorf("nothing to export: pass --archive and/or --csv")
			}
			if csvPath != "" && scenarioID == "" {
				return fmt.Errorf("--csv requires --scenario")
			}

			st, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			ctx := cmd.Context()
			runID, err := st.ResolveRunID(ctx, args[0])
			if err != nil {
				return err
			}

			written := []string{}
			if archivePath != "" {
				if err := st.ExportRunJSON(ctx, runID, archivePath); err != nil {
					return fmt.Errorf("failed to export run: %w", err)
				}
				written = append(written, archivePath)
			}
			if csvPath != "" {
				if err := st.ExportScenarioCSV(ctx, runID, scenarioID, csvPath); err != nil {
					return fmt.Errorf("failed to export scenario %s: %w", scenarioID, err)
				}
				written = append(written, csvPath)
			}

			if jsonOut {
				return writeJSON(cmd, map[string]any{"run_id": runID, "written": written})
			}
			for _, p := range written {
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", p)
			}
			return nil
		},
	}
	cmd.Flags().String("archive", "", "Write the run and all completed series as a JSON archive to this path")
	cmd.Flags().String("csv", "", "Write one scenario's series as CSV to this path")
	cmd.Flags().String("scenario", "", "Scenario to export with --csv")
	return cmd
}
