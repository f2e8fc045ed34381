package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nvandessel/episim/internal/pathutil"
	"github.com/nvandessel/episim/internal/ratelimit"
	"github.com/nvandessel/episim/internal/scenario"
	"github.com/nvandessel/episim/internal/simulation"
	"github.com/nvandessel/episim/internal/stats"
	"github.com/nvandessel/episim/internal/store"
)

const (
	scenariosURI   = "episim://scenarios"
	runURIPrefix   = "episim://runs/"
	defaultRunsMax = 20
)

// registerTools registers all episim MCP tools with the server.
func (s *Server) registerTools() {
	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "episim_scenarios",
		Description: "List the configured epidemic scenarios and what each one changes",
	}, s.handleScenarios)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "episim_run",
		Description: "Run epidemic scenarios, record the run, and summarize each outcome",
	}, s.handleRun)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "episim_runs",
		Description: "List recorded runs, or show one run with its scenario outcomes",
	}, s.handleRuns)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "episim_series",
		Description: "Get the day-by-day census of one scenario in a recorded run",
	}, s.handleSeries)
}

// registerResources registers MCP resources for loading into context.
func (s *Server) registerResources() {
	s.server.AddResource(&sdk.Resource{
		URI:         scenariosURI,
		Name:        "episim-scenarios",
		Description: "The configured scenarios and simulation settings.",
		MIMEType:    "text/markdown",
	}, s.handleScenariosResource)

	s.server.AddResourceTemplate(&sdk.ResourceTemplate{
		URITemplate: runURIPrefix + "{id}",
		Name:        "episim-run",
		Description: "Outcome of a recorded run as a markdown table.",
		MIMEType:    "text/markdown",
	}, s.handleRunResource)
}

func (s *Server) handleScenarios(ctx context.Context, req *sdk.CallToolRequest, args ScenariosInput) (_ *sdk.CallToolResult, _ ScenariosOutput, retErr error) {
	start := time.Now()
	defer func() { s.auditTool("episim_scenarios", start, retErr, nil) }()

	if err := ratelimit.CheckLimit(s.toolLimiters, "episim_scenarios"); err != nil {
		return nil, ScenariosOutput{}, err
	}

	cfg, err := s.loadConfig()
	if err != nil {
		return nil, ScenariosOutput{}, err
	}
	out := ScenariosOutput{
		Scenarios: make([]ScenarioItem, 0, len(cfg.Scenarios)),
		Cycles:    cfg.Simulation.Cycles,
		Seed:      cfg.Simulation.Seed,
	}
	for _, sc := range cfg.Scenarios {
		out.Scenarios = append(out.Scenarios, ScenarioItem{ID: sc.ID, Name: sc.Name, Description: sc.Describe()})
	}
	return nil, out, nil
}

func (s *Server) handleRun(ctx context.Context, req *sdk.CallToolRequest, args RunInput) (_ *sdk.CallToolResult, _ RunOutput, retErr error) {
	start := time.Now()
	defer func() {
		params := map[string]any{"scenarios": strings.Join(args.Scenarios, ","), "cycles": args.Cycles}
		if args.Seed != nil {
			params["seed"] = *args.Seed
		}
		s.auditTool("episim_run", start, retErr, auditParams(params))
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, "episim_run"); err != nil {
		return nil, RunOutput{}, err
	}
	if args.Cycles < 0 {
		return nil, RunOutput{}, fmt.Errorf("cycles must be positive, got %d", args.Cycles)
	}

	cfg, err := s.loadConfig()
	if err != nil {
		return nil, RunOutput{}, err
	}
	if args.Cycles > 0 {
		cfg.Simulation.Cycles = args.Cycles
	}
	if args.Seed != nil {
		cfg.Simulation.Seed = *args.Seed
	}

	s.runMu.Lock()
	defer s.runMu.Unlock()

	outcome, runErr := simulation.Execute(ctx, simulation.Options{
		Root:          s.root,
		Config:        cfg,
		ScenarioIDs:   args.Scenarios,
		Logger:        s.logger,
		Store:         s.store,
		ConfineOutput: true,
	})
	if outcome == nil {
		return nil, RunOutput{}, runErr
	}

	out := RunOutput{
		RunID:     outcome.RunID,
		Status:    outcome.Status,
		Persisted: outcome.Persisted,
		Results:   make([]ScenarioResult, 0, len(outcome.Results)),
	}
	for _, r := range outcome.Results {
		out.Results = append(out.Results, resultItem(r))
	}
	failed := len(outcome.Failed())
	out.Message = fmt.Sprintf("Run %s %s: %d scenario(s), %d failed", shortID(out.RunID), out.Status,
		len(out.Results), failed)

	// Scenario failures are reported per result, not as a tool error.
	return nil, out, nil
}

func (s *Server) handleRuns(ctx context.Context, req *sdk.CallToolRequest, args RunsInput) (_ *sdk.CallToolResult, _ RunsOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("episim_runs", start, retErr, auditParams(map[string]any{"run_id": args.RunID, "limit": args.Limit}))
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, "episim_runs"); err != nil {
		return nil, RunsOutput{}, err
	}

	if args.RunID != "" {
		run, err := s.store.GetRun(ctx, args.RunID)
		if err != nil {
			return nil, RunsOutput{}, err
		}
		item := runItem(*run)
		for _, rec := range run.Scenarios {
			item.Scenarios = append(item.Scenarios, recordItem(rec))
		}
		return nil, RunsOutput{Runs: []RunItem{item}, Count: 1}, nil
	}

	limit := args.Limit
	if limit <= 0 {
		limit = defaultRunsMax
	}
	runs, err := s.store.ListRuns(ctx, limit)
	if err != nil {
		return nil, RunsOutput{}, err
	}
	out := RunsOutput{Runs: make([]RunItem, 0, len(runs))}
	for _, r := range runs {
		out.Runs = append(out.Runs, runItem(r))
	}
	out.Count = len(out.Runs)
	return nil, out, nil
}

func (s *Server) handleSeries(ctx context.Context, req *sdk.CallToolRequest, args SeriesInput) (_ *sdk.CallToolResult, _ SeriesOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("episim_series", start, retErr, auditParams(map[string]any{
			"run_id": args.RunID, "scenario": args.ScenarioID, "every": args.Every, "output_path": args.OutputPath,
		}))
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, "episim_series"); err != nil {
		return nil, SeriesOutput{}, err
	}
	if args.RunID == "" || args.ScenarioID == "" {
		return nil, SeriesOutput{}, fmt.Errorf("run_id and scenario are required")
	}

	runID, err := s.store.ResolveRunID(ctx, args.RunID)
	if err != nil {
		return nil, SeriesOutput{}, err
	}
	series, err := s.store.CycleStats(ctx, runID, args.ScenarioID)
	if err != nil {
		return nil, SeriesOutput{}, err
	}

	out := SeriesOutput{
		RunID:      runID,
		ScenarioID: args.ScenarioID,
		Summary:    stats.Summarize(series),
		Series:     downsample(series, args.Every),
	}
	if args.OutputPath != "" {
		path, err := pathutil.Within(s.root, args.OutputPath)
		if err != nil {
			return nil, SeriesOutput{}, fmt.Errorf("invalid output_path: %w", err)
		}
		if err := s.store.ExportScenarioCSV(ctx, runID, args.ScenarioID, path); err != nil {
			return nil, SeriesOutput{}, err
		}
		out.Written = path
	}
	return nil, out, nil
}

// downsample keeps every nth snapshot plus the last one.
func downsample(series []stats.Snapshot, every int) []stats.Snapshot {
	if every <= 1 || len(series) == 0 {
		return series
	}
	out := make([]stats.Snapshot, 0, len(series)/every+2)
	for i := 0; i < len(series); i += every {
		out = append(out, series[i])
	}
	if last := series[len(series)-1]; out[len(out)-1].Cycle != last.Cycle {
		out = append(out, last)
	}
	return out
}

func (s *Server) handleScenariosResource(ctx context.Context, req *sdk.ReadResourceRequest) (*sdk.ReadResourceResult, error) {
	cfg, err := s.loadConfig()
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	sb.WriteString("# Epidemic scenarios\n\n")
	fmt.Fprintf(&sb, "%d people, %d days per scenario, base seed %d.\n\n",
		cfg.Group.Size, cfg.Simulation.Cycles, cfg.Simulation.Seed)
	sb.WriteString("| ID | Name | Intervention |\n|---|---|---|\n")
	for _, sc := range cfg.Scenarios {
		fmt.Fprintf(&sb, "| %s | %s | %s |\n", sc.ID, sc.Name, sc.Describe())
	}
	return markdown(scenariosURI, sb.String()), nil
}

func (s *Server) handleRunResource(ctx context.Context, req *sdk.ReadResourceRequest) (*sdk.ReadResourceResult, error) {
	uri := req.Params.URI
	id, ok := strings.CutPrefix(uri, runURIPrefix)
	if !ok || id == "" {
		return nil, fmt.Errorf("invalid URI format: %s", uri)
	}
	run, err := s.store.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "# Run %s\n\n", run.ID)
	fmt.Fprintf(&sb, "**Status:** %s\n**Started:** %s\n**Seed:** %d\n**Cycles:** %d\n\n",
		run.Status, run.StartedAt.Format(time.RFC3339), run.Seed, run.Cycles)
	sb.WriteString("| Scenario | Status | Peak infected | Peak day | Dead | Policy |\n|---|---|---|---|---|---|\n")
	for _, rec := range run.Scenarios {
		fmt.Fprintf(&sb, "| %s | %s | %d | %d | %d | %s |\n", rec.ScenarioID, rec.Status,
			rec.Summary.PeakInfected, rec.Summary.PeakCycle, rec.Summary.Final.Dead, rec.PolicyState())
	}
	return markdown(uri, sb.String()), nil
}

func markdown(uri, text string) *sdk.ReadResourceResult {
	return &sdk.ReadResourceResult{
		Contents: []*sdk.ResourceContents{{URI: uri, MIMEType: "text/markdown", Text: text}},
	}
}

func resultItem(r scenario.Result) ScenarioResult {
	item := ScenarioResult{ID: r.ScenarioID, Name: r.Name, Status: store.ScenarioCompleted}
	if r.Failed() {
		item.Status = store.ScenarioFailed
		var f *scenario.Failure
		if errors.As(r.Err, &f) && f.Phase == scenario.PhaseSkipped {
			item.Status = store.ScenarioSkipped
		}
		item.Error = r.Err.Error()
		return item
	}
	item.PeakInfected = r.Summary.PeakInfected
	item.PeakCycle = r.Summary.PeakCycle
	item.Dead = r.Summary.Final.Dead
	item.Recovered = r.Summary.Final.Recovered
	item.Policy = r.PolicyState()
	item.CSV, item.Chart = r.CSVPath, r.ChartPath
	return item
}

func recordItem(rec store.ScenarioRecord) ScenarioResult {
	return ScenarioResult{
		ID:           rec.ScenarioID,
		Name:         rec.Name,
		Status:       rec.Status,
		Error:        rec.Error,
		PeakInfected: rec.Summary.PeakInfected,
		PeakCycle:    rec.Summary.PeakCycle,
		Dead:         rec.Summary.Final.Dead,
		Recovered:    rec.Summary.Final.Recovered,
		Policy:       rec.PolicyState(),
		CSV:          rec.CSVPath,
		Chart:        rec.ChartPath,
	}
}

func runItem(r store.Run) RunItem {
	return RunItem{
		ID:         r.ID,
		Status:     r.Status,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Seed:       r.Seed,
		Cycles:     r.Cycles,
		Planned:    r.Planned,
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
