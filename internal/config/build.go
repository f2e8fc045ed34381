package config

import (
	"log/slog"

	"github.com/cespare/xxhash/v2"

	"github.com/nvandessel/episim/internal/epidemic"
	simerr "github.com/nvandessel/episim/internal/errors"
	"github.com/nvandessel/episim/internal/logging"
	"github.com/nvandessel/episim/internal/policy"
	"github.com/nvandessel/episim/internal/scenario"
)

// BuildOptions carries the loggers handed to built policies.
type BuildOptions struct {
	Logger *slog.Logger
	Events *logging.EventLogger
}

// SeedFor derives a scenario's model seed from the base seed and its ID, so
// a scenario's run does not depend on which other scenarios are selected.
func SeedFor(base uint64, id string) uint64 {
	return base + xxhash.Sum64String(id)
}

// Build validates c and constructs a fresh model, group, and listener set for
// each selected scenario. An empty ids selects every scenario in config
// order; otherwise scenarios are returned in the order of ids.
func Build(c *Config, ids []string, opts BuildOptions) ([]scenario.Scenario, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	selected := c.Scenarios
	if len(ids) > 0 {
		selected = make([]ScenarioConfig, 0, len(ids))
		for _, id := range ids {
			s, ok := c.Scenario(id)
			if !ok {
				return nil, simerr.Configf("unknown scenario %s", id)
			}
			selected = append(selected, s)
		}
	}

	out := make([]scenario.Scenario, 0, len(selected))
	for _, s := range selected {
		sc, err := c.buildScenario(s, opts)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, nil
}

func (c *Config) buildScenario(s ScenarioConfig, opts BuildOptions) (scenario.Scenario, error) {
	params := c.Model
	params.Seed = SeedFor(c.Simulation.Seed, s.ID)
	m, err := epidemic.NewModel(params)
	if err != nil {
		return scenario.Scenario{}, err
	}

	interaction := c.Group.Interaction()
	if s.SymptomaticIsolationRate != nil {
		interaction.SymptomaticIsolationRate = *s.SymptomaticIsolationRate
	}
	if s.AsymptomaticIsolationRate != nil {
		interaction.AsymptomaticIsolationRate = *s.AsymptomaticIsolationRate
	}
	g, err := epidemic.NewGroup(c.Group.ID, m, c.Group.Size, interaction)
	if err != nil {
		return scenario.Scenario{}, err
	}

	sc := scenario.Scenario{
		ID:     s.ID,
		Name:   s.Name,
		Model:  m,
		Group:  g,
		Cycles: c.Simulation.Cycles,
	}
	if p := s.Policy; p != nil {
		iso, err := policy.NewIsolation(policy.IsolationConfig{
			GroupID:  c.Group.ID,
			Perc1:    p.Perc1,
			Perc2:    p.Perc2,
			Scenario: s.ID,
			Logger:   opts.Logger,
			Events:   opts.Events,
		})
		if err != nil {
			return scenario.Scenario{}, err
		}
		sc.Listeners = append(sc.Listeners, iso)
	}
	return sc, nil
}
