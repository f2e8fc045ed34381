// Package stats records a per-cycle census of a model and exports it as CSV
// and as a PNG chart once the run is complete.
package stats

import (
	"github.com/nvandessel/episim/internal/epidemic"
	simerr "github.com/nvandessel/episim/internal/errors"
)

// Snapshot is the model-wide census at the end of one cycle. Isolation rates
// are averaged over groups, weighted by group size, and are the rates that
// governed that cycle's contacts.
type Snapshot struct {
	Cycle                 int             `json:"cycle"`
	Counts                epidemic.Counts `json:"counts"`
	SymptomaticIsolation  float64         `json:"symptomatic_isolation"`
	AsymptomaticIsolation float64         `json:"asymptomatic_isolation"`
}

// Isolating reports whether any isolation rate was in force.
func (s Snapshot) Isolating() bool {
	return s.SymptomaticIsolation > 0 || s.AsymptomaticIsolation > 0
}

// Summary condenses a series.
type Summary struct {
	Cycles       int             `json:"cycles"`
	PeakInfected int             `json:"peak_infected"`
	PeakCycle    int             `json:"peak_cycle"`
	Final        epidemic.Counts `json:"final"`
}

// Collector is a Listener that snapshots its model. The first StartCycle
// records a baseline for the state before any day ran; each EndCycle records
// the day that just finished.
type Collector struct {
	model   *epidemic.Model
	series  []Snapshot
	started bool
	sealed  bool
}

// NewCollector returns a collector bound to m. It must still be registered
// with m.AddListener.
func NewCollector(m *epidemic.Model) (*Collector, error) {
	if m == nil {
		return nil, simerr.Configf("statistics collector needs a model")
	}
	return &Collector{model: m}, nil
}

// StartCycle records the baseline on the first call.
func (c *Collector) StartCycle(m *epidemic.Model) error {
	if err := c.check(m); err != nil {
		return err
	}
	if !c.started {
		c.started = true
		c.series = append(c.series, snapshot(m))
	}
	return nil
}

// EndCycle records the finished day.
func (c *Collector) EndCycle(m *epidemic.Model) error {
	if err := c.check(m); err != nil {
		return err
	}
	c.series = append(c.series, snapshot(m))
	return nil
}

func (c *Collector) check(m *epidemic.Model) error {
	if c.sealed {
		return simerr.ErrState.GenWithStackByArgs("collector is sealed")
	}
	if m != c.model {
		return simerr.ErrState.GenWithStackByArgs("collector called with a foreign model")
	}
	return nil
}

func snapshot(m *epidemic.Model) Snapshot {
	s := Snapshot{Cycle: m.Cycle(), Counts: m.Counts()}
	pop := 0
	for _, g := range m.Groups() {
		n := float64(g.Size())
		s.SymptomaticIsolation += g.SymptomaticIsolationRate() * n
		s.AsymptomaticIsolation += g.AsymptomaticIsolationRate() * n
		pop += g.Size()
	}
	if pop > 0 {
		s.SymptomaticIsolation /= float64(pop)
		s.AsymptomaticIsolation /= float64(pop)
	}
	return s
}

// Seal marks the run complete. Later hook calls fail with ErrState.
func (c *Collector) Seal() { c.sealed = true }

// Sealed reports whether Seal was called.
func (c *Collector) Sealed() bool { return c.sealed }

// Series returns a copy of the recorded snapshots, oldest first.
func (c *Collector) Series() []Snapshot {
	out := make([]Snapshot, len(c.series))
	copy(out, c.series)
	return out
}

// Summary computes the peak and final census of the recorded series.
func (c *Collector) Summary() Summary {
	return Summarize(c.series)
}

// Summarize computes a Summary for any series, such as one read back from
// the results store.
func Summarize(series []Snapshot) Summary {
	var sum Summary
	if len(series) == 0 {
		return sum
	}
	for _, s := range series {
		if inf := s.Counts.Infected(); inf > sum.PeakInfected {
			sum.PeakInfected = inf
			sum.PeakCycle = s.Cycle
		}
	}
	last := series[len(series)-1]
	sum.Cycles = last.Cycle
	sum.Final = last.Counts
	return sum
}
