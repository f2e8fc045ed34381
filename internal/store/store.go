// Package store persists simulation runs and their per-cycle statistics.
package store

import (
	"time"

	"github.com/nvandessel/episim/internal/scenario"
	"github.com/nvandessel/episim/internal/stats"
)

// Run statuses.
const (
	RunRunning     = "running"
	RunCompleted   = "completed"
	RunFailed      = "failed"
	RunInterrupted = "interrupted"
)

// Scenario statuses.
const (
	ScenarioCompleted = "completed"
	ScenarioFailed    = "failed"
	ScenarioSkipped   = "skipped"
)

// RunMeta describes a run when it is created.
type RunMeta struct {
	Seed        uint64
	Cycles      int
	Concurrency int
	Scenarios   []string
	// Config is an optional snapshot of the effective configuration,
	// stored as JSON.
	Config any
}

// Run is a stored run. Scenarios is only filled by GetRun.
type Run struct {
	ID          string           `json:"id"`
	StartedAt   time.Time        `json:"started_at"`
	FinishedAt  *time.Time       `json:"finished_at,omitempty"`
	Status      string           `json:"status"`
	Seed        uint64           `json:"seed"`
	Cycles      int              `json:"cycles"`
	Concurrency int              `json:"concurrency"`
	Planned     []string         `json:"planned"`
	Config      string           `json:"config,omitempty"`
	Scenarios   []ScenarioRecord `json:"scenarios,omitempty"`
}

// ScenarioRecord is the stored outcome of one scenario in a run.
type ScenarioRecord struct {
	ScenarioID  string                   `json:"scenario"`
	Name        string                   `json:"name"`
	Status      string                   `json:"status"`
	Phase       string                   `json:"phase,omitempty"`
	FailedCycle int                      `json:"failed_cycle,omitempty"`
	Error       string                   `json:"error,omitempty"`
	Summary     stats.Summary            `json:"summary"`
	Policies    []scenario.PolicyOutcome `json:"policies,omitempty"`
	CSVPath     string                   `json:"csv,omitempty"`
	ChartPath   string                   `json:"chart,omitempty"`
	RecordedAt  time.Time                `json:"recorded_at"`
}

// PolicyState returns the state of the first policy, or "".
func (r ScenarioRecord) PolicyState() string {
	if len(r.Policies) == 0 {
		return ""
	}
	return r.Policies[0].State
}

// RunArchive is the JSON document written by ExportRunJSON.
type RunArchive struct {
	Version    int                         `json:"version"`
	ExportedAt time.Time                   `json:"exported_at"`
	Run        Run                         `json:"run"`
	Series     map[string][]stats.Snapshot `json:"series"`
}

// ArchiveVersion is the RunArchive format version.
const ArchiveVersion = 1
