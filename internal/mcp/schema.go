package mcp

import (
	"time"

	"github.com/nvandessel/episim/internal/stats"
)

// ScenariosInput defines the input for the episim_scenarios tool.
type ScenariosInput struct{}

// ScenariosOutput defines the output for the episim_scenarios tool.
type ScenariosOutput struct {
	Scenarios []ScenarioItem `json:"scenarios" jsonschema:"Configured scenarios in run order"`
	Cycles    int            `json:"cycles" jsonschema:"Days simulated per scenario"`
	Seed      uint64         `json:"seed" jsonschema:"Base seed scenario seeds derive from"`
}

// ScenarioItem summarizes one configured scenario.
type ScenarioItem struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// RunInput defines the input for the episim_run tool.
type RunInput struct {
	Scenarios []string `json:"scenarios,omitempty" jsonschema:"Scenario IDs to run (default: all)"`
	Cycles    int      `json:"cycles,omitempty" jsonschema:"Override the number of simulated days"`
	Seed      *uint64  `json:"seed,omitempty" jsonschema:"Override the base seed"`
}

// RunOutput defines the output for the episim_run tool.
type RunOutput struct {
	RunID     string           `json:"run_id" jsonschema:"ID of the run in the results store"`
	Status    string           `json:"status" jsonschema:"completed, failed or interrupted"`
	Persisted bool             `json:"persisted" jsonschema:"Whether the run was recorded in the results store"`
	Results   []ScenarioResult `json:"results" jsonschema:"One entry per scenario, in request order"`
	Message   string           `json:"message" jsonschema:"Human-readable summary"`
}

// ScenarioResult is the outcome of one scenario as reported to clients.
type ScenarioResult struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Status       string `json:"status"`
	Error        string `json:"error,omitempty"`
	PeakInfected int    `json:"peak_infected"`
	PeakCycle    int    `json:"peak_cycle"`
	Dead         int    `json:"dead"`
	Recovered    int    `json:"recovered"`
	Policy       string `json:"policy,omitempty"`
	CSV          string `json:"csv,omitempty"`
	Chart        string `json:"chart,omitempty"`
}

// RunsInput defines the input for the episim_runs tool.
type RunsInput struct {
	RunID string `json:"run_id,omitempty" jsonschema:"Show one run (full ID or unique prefix) instead of listing"`
	Limit int    `json:"limit,omitempty" jsonschema:"Maximum runs to list (default: 20)"`
}

// RunsOutput defines the output for the episim_runs tool.
type RunsOutput struct {
	Runs  []RunItem `json:"runs" jsonschema:"Stored runs, newest first"`
	Count int       `json:"count" jsonschema:"Number of runs returned"`
}

// RunItem summarizes a stored run.
type RunItem struct {
	ID         string           `json:"id"`
	Status     string           `json:"status"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt *time.Time       `json:"finished_at,omitempty"`
	Seed       uint64           `json:"seed"`
	Cycles     int              `json:"cycles"`
	Planned    []string         `json:"planned"`
	Scenarios  []ScenarioResult `json:"scenarios,omitempty"`
}

// SeriesInput defines the input for the episim_series tool.
type SeriesInput struct {
	RunID      string `json:"run_id" jsonschema:"Run ID or unique prefix"`
	ScenarioID string `json:"scenario" jsonschema:"Scenario ID within the run"`
	Every      int    `json:"every,omitempty" jsonschema:"Return every Nth cycle; the last cycle is always included (default: 1)"`
	OutputPath string `json:"output_path,omitempty" jsonschema:"Also write the full series as CSV to this path under the project root"`
}

// SeriesOutput defines the output for the episim_series tool.
type SeriesOutput struct {
	RunID      string           `json:"run_id"`
	ScenarioID string           `json:"scenario"`
	Summary    stats.Summary    `json:"summary"`
	Series     []stats.Snapshot `json:"series"`
	Written    string           `json:"written,omitempty" jsonschema:"Path of the CSV file, when requested"`
}
