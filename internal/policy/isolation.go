// Package policy provides listeners that change a group's mobility
// restrictions while a simulation runs.
package policy

import (
	"fmt"
	"log/slog"

	"github.com/nvandessel/episim/internal/constants"
	"github.com/nvandessel/episim/internal/epidemic"
	simerr "github.com/nvandessel/episim/internal/errors"
	"github.com/nvandessel/episim/internal/logging"
)

// State is the phase of an isolation policy. It only ever moves forward.
type State int

const (
	// Inactive means no restriction has been applied yet.
	Inactive State = iota
	// Restricting means isolation rates have been raised.
	Restricting
	// Released means restrictions were lifted. Terminal.
	Released
)

func (s State) String() string {
	switch s {
	case Inactive:
		return "inactive"
	case Restricting:
		return "restricting"
	case Released:
		return "released"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText encodes a state by name.
func (s State) MarshalText() ([]byte, error) {
	if s < Inactive || s > Released {
		return nil, fmt.Errorf("unknown policy state %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(text []byte) error {
	for _, c := range []State{Inactive, Restricting, Released} {
		if c.String() == string(text) {
			*s = c
			return nil
		}
	}
	return fmt.Errorf("unknown policy state %q", text)
}

// Target is the part of a group the policy reads and writes.
type Target interface {
	Size() int
	InfectedCount() int
	SetSymptomaticIsolationRate(rate float64)
	SetAsymptomaticIsolationRate(rate float64)
}

// Transition records one state change.
type Transition struct {
	Cycle    int     `json:"cycle"`
	From     State   `json:"from"`
	To       State   `json:"to"`
	Fraction float64 `json:"fraction"`
}

// IsolationConfig configures NewIsolation.
type IsolationConfig struct {
	// GroupID is the group the policy governs. It is looked up on the model
	// passed to each hook.
	GroupID string
	// Perc1 is the infected fraction at or above which restrictions start.
	Perc1 float64
	// Perc2 is the safe fraction; restrictions lift once the infected
	// fraction drops to 1-Perc2 or below.
	Perc2 float64

	// Scenario labels log records and trace events. Optional.
	Scenario string
	Logger   *slog.Logger
	Events   *logging.EventLogger
}

// Isolation restricts mobility once the infected fraction of its group
// reaches Perc1 and releases it once the fraction falls to 1-Perc2. It fires
// each transition at most once per run.
//
// At most one transition happens per EndCycle, so a cycle that satisfies both
// thresholds only starts restricting; release is evaluated on later cycles.
type Isolation struct {
	groupID string
	perc1   float64
	perc2   float64
	state   State
	history []Transition

	scenario string
	logger   *slog.Logger
	events   *logging.EventLogger
}

// NewIsolation validates cfg and returns an Inactive policy.
func NewIsolation(cfg IsolationConfig) (*Isolation, error) {
	if cfg.GroupID == "" {
		return nil, simerr.Configf("isolation policy: group id is required")
	}
	if !(cfg.Perc1 >= 0 && cfg.Perc1 <= 1) {
		return nil, simerr.Configf("isolation policy: perc1 must be between 0 and 1, got %v", cfg.Perc1)
	}
	if !(cfg.Perc2 >= 0 && cfg.Perc2 <= 1) {
		return nil, simerr.Configf("isolation policy: perc2 must be between 0 and 1, got %v", cfg.Perc2)
	}
	return &Isolation{
		groupID:  cfg.GroupID,
		perc1:    cfg.Perc1,
		perc2:    cfg.Perc2,
		scenario: cfg.Scenario,
		logger:   logging.OrDiscard(cfg.Logger),
		events:   cfg.Events,
	}, nil
}

// State returns the current phase.
func (p *Isolation) State() State { return p.state }

// GroupID returns the governed group's ID.
func (p *Isolation) GroupID() string { return p.groupID }

// History returns the transitions taken so far, oldest first.
func (p *Isolation) History() []Transition {
	out := make([]Transition, len(p.history))
	copy(out, p.history)
	return out
}

// StartCycle does nothing.
func (p *Isolation) StartCycle(*epidemic.Model) error { return nil }

// EndCycle resolves the governed group on m and evaluates the thresholds.
func (p *Isolation) EndCycle(m *epidemic.Model) error {
	g, ok := m.Group(p.groupID)
	if !ok {
		return fmt.Errorf("isolation policy: group %q is not registered on the model", p.groupID)
	}
	p.evaluate(g, m.Cycle())
	return nil
}

// evaluate applies at most one transition for the target's current fraction.
func (p *Isolation) evaluate(t Target, cycle int) {
	if p.state == Released {
		return
	}
	frac := float64(t.InfectedCount()) / float64(t.Size())

	switch p.state {
	case Inactive:
		if frac >= p.perc1 {
			t.SetSymptomaticIsolationRate(constants.RestrictedSymptomaticIsolationRate)
			t.SetAsymptomaticIsolationRate(constants.RestrictedAsymptomaticIsolationRate)
			p.advance(Restricting, cycle, frac)
		}
	case Restricting:
		if frac <= 1-p.perc2 {
			t.SetSymptomaticIsolationRate(constants.ReleasedIsolationRate)
			t.SetAsymptomaticIsolationRate(constants.ReleasedIsolationRate)
			p.advance(Released, cycle, frac)
		}
	}
}

func (p *Isolation) advance(to State, cycle int, frac float64) {
	tr := Transition{Cycle: cycle, From: p.state, To: to, Fraction: frac}
	p.state = to
	p.history = append(p.history, tr)

	p.logger.Debug("isolation policy transition",
		"scenario", p.scenario,
		"group", p.groupID,
		"cycle", cycle,
		"from", tr.From.String(),
		"to", tr.To.String(),
		"fraction", frac,
	)
	p.events.Log("policy_transition", map[string]any{
		"scenario": p.scenario,
		"group":    p.groupID,
		"cycle":    cycle,
		"from":     tr.From.String(),
		"to":       tr.To.String(),
		"fraction": frac,
	})
}
