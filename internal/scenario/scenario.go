// Package scenario runs configured simulations to completion and exports
// their statistics. Each scenario owns its model, group, and listeners, so
// scenarios can run in any order or concurrently with identical results.
package scenario

import (
	"fmt"
	"strings"

	"github.com/pingcap/errors"

	"github.com/nvandessel/episim/internal/epidemic"
	simerr "github.com/nvandessel/episim/internal/errors"
	"github.com/nvandessel/episim/internal/policy"
	"github.com/nvandessel/episim/internal/stats"
)

// Scenario is one fully configured, independently executed run.
type Scenario struct {
	ID   string
	Name string

	// Model must not be shared with another scenario. Group is added to it
	// by the runner.
	Model *epidemic.Model
	Group *epidemic.Group

	Cycles int

	// Listeners are attached after the statistics collector, in order.
	Listeners []epidemic.Listener
}

// Validate checks a single scenario.
func (s Scenario) Validate() error {
	if s.ID == "" {
		return simerr.Configf("scenario id is required")
	}
	if strings.ContainsAny(s.ID, `/\`) || s.ID == "." || s.ID == ".." {
		return simerr.Configf("scenario id %q is not usable in a file name", s.ID)
	}
	if s.Model == nil || s.Group == nil {
		return simerr.Configf("scenario %s has no model or group", s.ID)
	}
	if s.Cycles <= 0 {
		return simerr.Configf("scenario %s: cycles must be positive, got %d", s.ID, s.Cycles)
	}
	return nil
}

// Phases at which a scenario can fail.
const (
	PhaseSetup   = "setup"
	PhaseCycle   = "cycle"
	PhaseExport  = "export"
	PhaseRecord  = "record"
	PhaseSkipped = "skipped"
)

// Failure attaches a scenario's identity to the error that aborted it.
// A failed scenario has no artifacts on disk, including one that failed at
// PhaseRecord after exporting.
type Failure struct {
	ScenarioID string
	Phase      string
	// Cycle is the day that failed. Zero outside PhaseCycle.
	Cycle int
	Err   error
}

func (f *Failure) where() string {
	if f.Phase == PhaseCycle {
		return fmt.Sprintf("cycle %d", f.Cycle)
	}
	return f.Phase
}

func (f *Failure) Error() string {
	return fmt.Sprintf("[%s]scenario %s failed at %s: %v",
		simerr.ErrScenarioFailed.RFCCode(), f.ScenarioID, f.where(), f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// RFCCode classifies every Failure as ErrScenarioFailed.
func (f *Failure) RFCCode() errors.RFCErrorCode {
	return simerr.ErrScenarioFailed.RFCCode()
}

// PolicyOutcome is the final state of one isolation policy.
type PolicyOutcome struct {
	GroupID string              `json:"group"`
	State   string              `json:"state"`
	History []policy.Transition `json:"history,omitempty"`
}

// Result is the outcome of one scenario. On failure only ScenarioID, Name
// and Err are meaningful.
type Result struct {
	ScenarioID string           `json:"scenario"`
	Name       string           `json:"name"`
	Cycles     int              `json:"cycles"`
	Summary    stats.Summary    `json:"summary"`
	Series     []stats.Snapshot `json:"-"`
	Policies   []PolicyOutcome  `json:"policies,omitempty"`
	CSVPath    string           `json:"csv,omitempty"`
	ChartPath  string           `json:"chart,omitempty"`
	Err        error            `json:"-"`
}

// Failed reports whether the scenario did not complete.
func (r Result) Failed() bool { return r.Err != nil }

// PolicyState returns the state of the first policy, or "" when the
// scenario has none.
func (r Result) PolicyState() string {
	if len(r.Policies) == 0 {
		return ""
	}
	return r.Policies[0].State
}
