package epidemic

import (
	simerr "github.com/nvandessel/episim/internal/errors"
)

// InteractionConfig describes how members of a group meet each other.
type InteractionConfig struct {
	// DailyInteractionCount is the number of contacts a contagious person
	// attempts per day.
	DailyInteractionCount int `json:"daily_interaction_count" yaml:"daily_interaction_count" toml:"daily_interaction_count"`
	// ContagionProbability is the chance a contact transmits the disease
	// before masks are taken into account.
	ContagionProbability float64 `json:"contagion_probability" yaml:"contagion_probability" toml:"contagion_probability"`
	// SymptomaticIsolationRate is the chance a symptomatic member stays home.
	SymptomaticIsolationRate float64 `json:"symptomatic_isolation_rate" yaml:"symptomatic_isolation_rate" toml:"symptomatic_isolation_rate"`
	// AsymptomaticIsolationRate is the chance any other member stays home.
	AsymptomaticIsolationRate float64 `json:"asymptomatic_isolation_rate" yaml:"asymptomatic_isolation_rate" toml:"asymptomatic_isolation_rate"`
}

// Validate checks the contact count and that every rate is in [0,1].
func (c InteractionConfig) Validate() error {
	if c.DailyInteractionCount < 0 {
		return simerr.Configf("daily_interaction_count must be non-negative, got %d", c.DailyInteractionCount)
	}
	if !validRate(c.ContagionProbability) {
		return simerr.Configf("contagion_probability must be between 0 and 1, got %v", c.ContagionProbability)
	}
	if !validRate(c.SymptomaticIsolationRate) {
		return simerr.Configf("symptomatic_isolation_rate must be between 0 and 1, got %v", c.SymptomaticIsolationRate)
	}
	if !validRate(c.AsymptomaticIsolationRate) {
		return simerr.Configf("asymptomatic_isolation_rate must be between 0 and 1, got %v", c.AsymptomaticIsolationRate)
	}
	return nil
}

// person is one member of a group. Timeline fields are only meaningful once
// the person has been infected.
type person struct {
	state        State
	infectedOn   int
	latency      int
	incubation   int
	duration     int
	symptomatic  bool
	severe       bool
	hospitalized bool
}

// Group is a population segment advanced by its Model. Size is fixed at
// construction; isolation rates may be changed between cycles by listeners.
type Group struct {
	id     string
	model  *Model
	cfg    InteractionConfig
	people []person
	counts [numStates]int
	inBeds int
	seeded bool
}

// NewGroup creates a group of size people bound to model. The group takes
// part in the simulation only after model.AddGroup.
func NewGroup(id string, model *Model, size int, cfg InteractionConfig) (*Group, error) {
	if id == "" {
		return nil, simerr.Configf("group id is required")
	}
	if model == nil {
		return nil, simerr.Configf("group %s: model is required", id)
	}
	if size <= 0 {
		return nil, simerr.Configf("group %s: size must be positive, got %d", id, size)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	g := &Group{
		id:     id,
		model:  model,
		cfg:    cfg,
		people: make([]person, size),
	}
	g.counts[Susceptible] = size
	return g, nil
}

// ID returns the group identifier.
func (g *Group) ID() string { return g.id }

// Size returns the fixed number of members.
func (g *Group) Size() int { return len(g.people) }

// InfectedCount returns the number of members currently infected.
func (g *Group) InfectedCount() int {
	return g.counts[Latent] + g.counts[Contagious] + g.counts[Symptomatic]
}

// InfectedFraction returns InfectedCount divided by Size.
func (g *Group) InfectedFraction() float64 {
	return float64(g.InfectedCount()) / float64(len(g.people))
}

// Counts returns the group's census.
func (g *Group) Counts() Counts {
	return Counts{
		Susceptible:  g.counts[Susceptible],
		Latent:       g.counts[Latent],
		Contagious:   g.counts[Contagious],
		Symptomatic:  g.counts[Symptomatic],
		Recovered:    g.counts[Recovered],
		Dead:         g.counts[Dead],
		Hospitalized: g.inBeds,
	}
}

// Interaction returns the group's current interaction settings.
func (g *Group) Interaction() InteractionConfig { return g.cfg }

// SymptomaticIsolationRate returns the chance a symptomatic member stays home.
func (g *Group) SymptomaticIsolationRate() float64 { return g.cfg.SymptomaticIsolationRate }

// AsymptomaticIsolationRate returns the chance any other member stays home.
func (g *Group) AsymptomaticIsolationRate() float64 { return g.cfg.AsymptomaticIsolationRate }

// SetSymptomaticIsolationRate clamps rate into [0,1].
func (g *Group) SetSymptomaticIsolationRate(rate float64) {
	g.cfg.SymptomaticIsolationRate = clampRate(rate)
}

// SetAsymptomaticIsolationRate clamps rate into [0,1].
func (g *Group) SetAsymptomaticIsolationRate(rate float64) {
	g.cfg.AsymptomaticIsolationRate = clampRate(rate)
}

func clampRate(v float64) float64 {
	switch {
	case v > 1:
		return 1
	case v >= 0:
		return v
	default:
		// negative or NaN
		return 0
	}
}

func (g *Group) setState(p *person, s State) {
	g.counts[p.state]--
	g.counts[s]++
	p.state = s
}
