// Package epidemic implements the day-by-day epidemic engine: a Model owns
// population groups and an ordered list of listeners, and Step advances the
// whole model by one simulated day.
//
// A day runs in a fixed order:
//
//	all StartCycle hooks (registration order)
//	contagion for every group
//	disease progression for every group
//	all EndCycle hooks (registration order)
//
// Step returns only after the whole day has run. A Model and its groups are
// not safe for concurrent use; run separate scenarios on separate models.
package epidemic

import (
	"math/rand/v2"

	simerr "github.com/nvandessel/episim/internal/errors"
)

// Model is one simulated world.
type Model struct {
	params    Params
	rng       *rand.Rand
	groups    []*Group
	byID      map[string]*Group
	listeners []Listener
	cycle     int
	beds      int
	bedsUsed  int
}

// NewModel validates p and returns an empty model.
func NewModel(p Params) (*Model, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Model{
		params: p,
		rng:    rand.New(rand.NewPCG(p.Seed, p.Seed^0x9e3779b97f4a7c15)),
		byID:   make(map[string]*Group),
	}, nil
}

// Params returns the model's epidemic parameters.
func (m *Model) Params() Params { return m.params }

// Cycle returns the number of completed days. Inside EndCycle it is the
// number of the day that just ran, counting from 1.
func (m *Model) Cycle() int { return m.cycle }

// AddGroup registers g and seeds its initial immune and infected members.
// Hospital capacity is recomputed over the model's whole population.
func (m *Model) AddGroup(g *Group) error {
	if g == nil {
		return simerr.Configf("cannot add a nil group")
	}
	if g.model != m {
		return simerr.Configf("group %s belongs to a different model", g.id)
	}
	if _, dup := m.byID[g.id]; dup {
		return simerr.Configf("group %s is already registered", g.id)
	}
	m.groups = append(m.groups, g)
	m.byID[g.id] = g
	m.seed(g)

	pop := 0
	for _, gr := range m.groups {
		pop += gr.Size()
	}
	m.beds = int(m.params.HospitalizationCapacity * float64(pop))
	return nil
}

// AddListener appends l to the listener list.
func (m *Model) AddListener(l Listener) {
	m.listeners = append(m.listeners, l)
}

// Listeners returns a copy of the registered listeners in call order.
func (m *Model) Listeners() []Listener {
	out := make([]Listener, len(m.listeners))
	copy(out, m.listeners)
	return out
}

// Group looks up a registered group by ID.
func (m *Model) Group(id string) (*Group, bool) {
	g, ok := m.byID[id]
	return g, ok
}

// Groups returns the registered groups in registration order.
func (m *Model) Groups() []*Group {
	out := make([]*Group, len(m.groups))
	copy(out, m.groups)
	return out
}

// Population returns the total size of all registered groups.
func (m *Model) Population() int {
	n := 0
	for _, g := range m.groups {
		n += g.Size()
	}
	return n
}

// Counts returns the census summed over every group.
func (m *Model) Counts() Counts {
	var c Counts
	for _, g := range m.groups {
		c = c.Add(g.Counts())
	}
	return c
}

// HospitalBeds returns the bed capacity and the number of beds in use.
func (m *Model) HospitalBeds() (capacity, used int) {
	return m.beds, m.bedsUsed
}

// Step advances the model by one day. A listener error aborts the day
// immediately and is returned as a runtime failure; the model must not be
// stepped again after that.
func (m *Model) Step() error {
	day := m.cycle + 1

	for _, l := range m.listeners {
		if err := l.StartCycle(m); err != nil {
			return simerr.WrapError(simerr.ErrRuntimeFailure, err, day, "start")
		}
	}

	for _, g := range m.groups {
		m.spread(g, day)
	}
	for _, g := range m.groups {
		m.progress(g, day)
	}
	m.cycle = day

	for _, l := range m.listeners {
		if err := l.EndCycle(m); err != nil {
			return simerr.WrapError(simerr.ErrRuntimeFailure, err, day, "end")
		}
	}
	return nil
}
