// Package simulation runs a configured set of scenarios end to end: it
// builds them, records the run in the results store, executes the runner
// and publishes metrics.
package simulation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nvandessel/episim/internal/config"
	"github.com/nvandessel/episim/internal/logging"
	"github.com/nvandessel/episim/internal/metrics"
	"github.com/nvandessel/episim/internal/pathutil"
	"github.com/nvandessel/episim/internal/scenario"
	"github.com/nvandessel/episim/internal/store"
)

// Options configures one run.
type Options struct {
	// Root is the project root; a relative output directory resolves
	// against it.
	Root   string
	Config *config.Config
	// ScenarioIDs selects scenarios. Empty runs all of them.
	ScenarioIDs []string

	Logger *slog.Logger
	// Events overrides the event trace. When nil one is opened in the
	// output directory at debug and trace levels.
	Events *logging.EventLogger
	// Store persists the run. Nil disables persistence.
	Store *store.SQLiteStore
	// MetricsFile, when set, receives the run's metrics in the Prometheus
	// text format.
	MetricsFile string
	// ConfineOutput rejects output directories outside Root.
	ConfineOutput bool
}

// Outcome describes a finished run.
type Outcome struct {
	RunID     string            `json:"run_id"`
	Status    string            `json:"status"`
	Persisted bool              `json:"persisted"`
	OutputDir string            `json:"output_dir"`
	Results   []scenario.Result `json:"results"`
}

// Failed returns the results that did not complete.
func (o *Outcome) Failed() []scenario.Result {
	var out []scenario.Result
	for _, r := range o.Results {
		if r.Failed() {
			out = append(out, r)
		}
	}
	return out
}

// OutputDir resolves the configured output directory against root. An
// empty directory disables artifact export and stays empty.
func OutputDir(root string, cfg *config.Config, confine bool) (string, error) {
	dir := cfg.Simulation.OutputDir
	if dir == "" {
		return "", nil
	}
	if confine {
		return pathutil.Within(root, dir)
	}
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(root, dir)
	}
	return filepath.Clean(dir), nil
}

// Execute runs the selected scenarios. Configuration errors are returned
// before anything is recorded. Otherwise the outcome is always returned,
// together with the joined scenario failures.
func Execute(ctx context.Context, opts Options) (*Outcome, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("simulation: no configuration")
	}
	cfg := opts.Config
	logger := logging.OrDiscard(opts.Logger)

	outDir, err := OutputDir(opts.Root, cfg, opts.ConfineOutput)
	if err != nil {
		return nil, err
	}

	events := opts.Events
	if events == nil {
		events = logging.NewEventLogger(outDir, cfg.Logging.Level)
		defer events.Close()
	}

	scenarios, err := config.Build(cfg, opts.ScenarioIDs, config.BuildOptions{Logger: logger, Events: events})
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(scenarios))
	for i, sc := range scenarios {
		ids[i] = sc.ID
	}

	reg := prometheus.NewRegistry()
	collectors, err := metrics.New(reg)
	if err != nil {
		return nil, err
	}

	out := &Outcome{OutputDir: outDir}
	var recorder scenario.Recorder
	if opts.Store != nil {
		out.RunID, err = opts.Store.CreateRun(context.WithoutCancel(ctx), store.RunMeta{
			Seed:        cfg.Simulation.Seed,
			Cycles:      cfg.Simulation.Cycles,
			Concurrency: cfg.Simulation.Concurrency,
			Scenarios:   ids,
			Config:      cfg,
		})
		if err != nil {
			return nil, err
		}
		out.Persisted = true
		recorder = opts.Store
	} else {
		out.RunID = uuid.NewString()
	}

	logger.Info("run started", "run", out.RunID, "scenarios", len(scenarios), "output", outDir)
	events.Log("run_started", map[string]any{"run": out.RunID, "scenarios": ids})

	runner := scenario.NewRunner(scenario.Options{
		OutputDir:   outDir,
		Concurrency: cfg.Simulation.Concurrency,
		Logger:      logger,
		Events:      events,
		Metrics:     collectors,
		Recorder:    recorder,
		RunID:       out.RunID,
	})
	results, runErr := runner.Run(ctx, scenarios)
	out.Results = results
	out.Status = status(ctx, runErr)

	var errs []error
	if runErr != nil {
		errs = append(errs, runErr)
	}
	if opts.Store != nil {
		if err := opts.Store.FinishRun(context.WithoutCancel(ctx), out.RunID, out.Status); err != nil {
			errs = append(errs, err)
		}
	}
	if opts.MetricsFile != "" {
		if err := metrics.WriteTextfile(reg, opts.MetricsFile); err != nil {
			errs = append(errs, fmt.Errorf("writing metrics: %w", err))
		}
	}

	logger.Info("run finished", "run", out.RunID, "status", out.Status, "failed", len(out.Failed()))
	events.Log("run_finished", map[string]any{"run": out.RunID, "status": out.Status})
	return out, errors.Join(errs...)
}

func status(ctx context.Context, runErr error) string {
	switch {
	case runErr == nil:
		return store.RunCompleted
	case ctx.Err() != nil:
		return store.RunInterrupted
	default:
		return store.RunFailed
	}
}
