package scenario

import (
	"context"
	stderrors "errors"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"

	"golang.org/x/sync/errgroup"

	"github.com/nvandessel/episim/internal/constants"
	"github.com/nvandessel/episim/internal/epidemic"
	simerr "github.com/nvandessel/episim/internal/errors"
	"github.com/nvandessel/episim/internal/logging"
	"github.com/nvandessel/episim/internal/metrics"
	"github.com/nvandessel/episim/internal/policy"
	"github.com/nvandessel/episim/internal/stats"
)

// Recorder persists scenario results. It is called once per scenario, for
// failed scenarios too, and may be called from several goroutines.
type Recorder interface {
	RecordResult(ctx context.Context, runID string, res Result) error
}

// Options configures a Runner.
type Options struct {
	// OutputDir receives scenario<ID>.csv and scenario<ID>.png. Empty
	// disables file export.
	OutputDir string
	// Concurrency bounds how many scenarios run at once. Values below 1
	// mean 1.
	Concurrency int

	Logger   *slog.Logger
	Events   *logging.EventLogger
	Metrics  *metrics.Collectors
	Recorder Recorder
	RunID    string
}

// Runner executes scenarios.
type Runner struct {
	opts   Options
	logger *slog.Logger
}

// NewRunner creates a runner.
func NewRunner(opts Options) *Runner {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &Runner{opts: opts, logger: logging.OrDiscard(opts.Logger)}
}

// Run validates every scenario, then runs them on a bounded pool. Results
// are returned in input order. A failed scenario never affects the others;
// the returned error joins every scenario's failure.
//
// ctx is only checked before a scenario starts. Scenarios that have not
// started when ctx is done are reported as skipped.
func (r *Runner) Run(ctx context.Context, scenarios []Scenario) ([]Result, error) {
	if err := validateAll(scenarios); err != nil {
		return nil, err
	}

	results := make([]Result, len(scenarios))
	var eg errgroup.Group
	eg.SetLimit(r.opts.Concurrency)
	for i := range scenarios {
		sc := scenarios[i]
		eg.Go(func() error {
			res := r.runOne(ctx, sc)
			r.record(ctx, &res)
			results[i] = res
			return nil
		})
	}
	_ = eg.Wait()

	var errs []error
	for _, res := range results {
		if res.Err != nil {
			errs = append(errs, res.Err)
		}
	}
	return results, stderrors.Join(errs...)
}

func validateAll(scenarios []Scenario) error {
	ids := make(map[string]bool, len(scenarios))
	models := make(map[*epidemic.Model]string, len(scenarios))
	listeners := make(map[epidemic.Listener]string)
	for _, sc := range scenarios {
		if err := sc.Validate(); err != nil {
			return err
		}
		if ids[sc.ID] {
			return simerr.Configf("duplicate scenario id %s", sc.ID)
		}
		ids[sc.ID] = true
		if other, shared := models[sc.Model]; shared {
			return simerr.Configf("scenarios %s and %s share a model", other, sc.ID)
		}
		models[sc.Model] = sc.ID
		for _, l := range sc.Listeners {
			// Only pointers carry state across scenarios, and value types
			// such as ListenerFuncs are not comparable.
			if l == nil || reflect.TypeOf(l).Kind() != reflect.Pointer {
				continue
			}
			if other, shared := listeners[l]; shared {
				return simerr.Configf("scenarios %s and %s share a listener", other, sc.ID)
			}
			listeners[l] = sc.ID
		}
	}
	return nil
}

func (r *Runner) runOne(ctx context.Context, sc Scenario) Result {
	res := Result{ScenarioID: sc.ID, Name: sc.Name}
	if err := ctx.Err(); err != nil {
		res.Err = &Failure{ScenarioID: sc.ID, Phase: PhaseSkipped, Err: err}
		return res
	}

	log := r.logger.With("scenario", sc.ID)
	log.Debug("scenario starting", "name", sc.Name, "cycles", sc.Cycles)
	r.opts.Events.Log("scenario_started", map[string]any{"scenario": sc.ID, "cycles": sc.Cycles})

	collector, err := r.attach(sc)
	if err != nil {
		return r.fail(res, &Failure{ScenarioID: sc.ID, Phase: PhaseSetup, Err: err})
	}

	m := sc.Model
	for range sc.Cycles {
		day := m.Cycle() + 1
		if err := m.Step(); err != nil {
			return r.fail(res, &Failure{ScenarioID: sc.ID, Phase: PhaseCycle, Cycle: day, Err: err})
		}
		log.Log(ctx, logging.LevelTrace, "cycle finished",
			"cycle", m.Cycle(),
			"infected", m.Counts().Infected(),
		)
	}
	collector.Seal()

	res.Cycles = m.Cycle()
	res.Series = collector.Series()
	res.Summary = collector.Summary()
	res.Policies = policyOutcomes(sc.Listeners)

	if r.opts.OutputDir != "" {
		csvPath, chartPath := ArtifactPaths(r.opts.OutputDir, sc.ID)
		if err := export(collector, csvPath, chartPath); err != nil {
			return r.fail(res, &Failure{ScenarioID: sc.ID, Phase: PhaseExport, Err: err})
		}
		res.CSVPath, res.ChartPath = csvPath, chartPath
	}

	log.Info("scenario finished",
		"peak_infected", res.Summary.PeakInfected,
		"peak_cycle", res.Summary.PeakCycle,
		"dead", res.Summary.Final.Dead,
	)
	r.opts.Events.Log("scenario_finished", map[string]any{
		"scenario":      sc.ID,
		"peak_infected": res.Summary.PeakInfected,
		"peak_cycle":    res.Summary.PeakCycle,
	})
	return res
}

// attach adds the group and registers the collector, the metrics listener
// and then the scenario's own listeners.
func (r *Runner) attach(sc Scenario) (*stats.Collector, error) {
	m := sc.Model
	if err := m.AddGroup(sc.Group); err != nil {
		return nil, err
	}
	collector, err := stats.NewCollector(m)
	if err != nil {
		return nil, err
	}
	m.AddListener(collector)
	if r.opts.Metrics != nil {
		m.AddListener(r.opts.Metrics.Listener(sc.ID))
	}
	for _, l := range sc.Listeners {
		m.AddListener(l)
	}
	return collector, nil
}

func (r *Runner) fail(res Result, f *Failure) Result {
	res.Err = f
	r.logger.Error("scenario failed", "scenario", f.ScenarioID, "phase", f.Phase, "cycle", f.Cycle, "error", f.Err)
	r.opts.Events.Log("scenario_failed", map[string]any{
		"scenario": f.ScenarioID,
		"phase":    f.Phase,
		"cycle":    f.Cycle,
		"error":    f.Err.Error(),
	})
	if r.opts.Metrics != nil {
		r.opts.Metrics.ScenarioFailed(f.ScenarioID)
	}
	return res
}

func (r *Runner) record(ctx context.Context, res *Result) {
	if r.opts.Recorder == nil || r.opts.RunID == "" {
		return
	}
	// Recording must not be cut short by a cancelled run.
	if err := r.opts.Recorder.RecordResult(context.WithoutCancel(ctx), r.opts.RunID, *res); err != nil {
		r.logger.Warn("failed to record scenario result", "scenario", res.ScenarioID, "error", err)
		if res.Err == nil {
			res.Err = &Failure{ScenarioID: res.ScenarioID, Phase: PhaseRecord, Err: err}
			removeArtifacts(res)
		}
	}
}

// ArtifactPaths returns the CSV and chart paths for a scenario in dir.
func ArtifactPaths(dir, id string) (csvPath, chartPath string) {
	base := filepath.Join(dir, constants.ArtifactPrefix+id)
	return base + constants.CSVExt, base + constants.ChartExt
}

// export writes both artifacts or neither.
func export(c *stats.Collector, csvPath, chartPath string) error {
	if err := c.ExportCSV(csvPath); err != nil {
		return err
	}
	if err := c.ExportChart(chartPath); err != nil {
		os.Remove(csvPath)
		return err
	}
	return nil
}

// removeArtifacts deletes the exported files of a result that could not be
// recorded, so a failed scenario leaves no artifacts behind.
func removeArtifacts(res *Result) {
	for _, p := range []string{res.CSVPath, res.ChartPath} {
		if p != "" {
			os.Remove(p)
		}
	}
	res.CSVPath, res.ChartPath = "", ""
}

func policyOutcomes(listeners []epidemic.Listener) []PolicyOutcome {
	var out []PolicyOutcome
	for _, l := range listeners {
		p, ok := l.(*policy.Isolation)
		if !ok {
			continue
		}
		out = append(out, PolicyOutcome{
			GroupID: p.GroupID(),
			State:   p.State().String(),
			History: p.History(),
		})
	}
	return out
}
