package epidemic

// seed applies the initial immune and infected fractions to a newly added group.
func (m *Model) seed(g *Group) {
	if g.seeded {
		return
	}
	g.seeded = true
	for i := range g.people {
		p := &g.people[i]
		if m.rng.Float64() < m.params.ImmuneRate {
			g.setState(p, Recovered)
			continue
		}
		if m.rng.Float64() < m.params.InitialInfectionRate {
			m.infect(g, p, m.cycle)
		}
	}
}

// infect samples the person's disease timeline and marks them latent.
func (m *Model) infect(g *Group, p *person, day int) {
	p.infectedOn = day
	p.latency = m.params.LatencyPeriod.sample(m.rng)
	p.incubation = m.params.IncubationPeriod.sample(m.rng)
	p.duration = m.params.DiseasePeriod.sample(m.rng)
	if p.duration <= p.latency {
		p.duration = p.latency + 1
	}
	p.symptomatic = m.rng.Float64() < m.params.SymptomaticRate
	p.severe = p.symptomatic && m.rng.Float64() < m.params.SevereRate
	g.setState(p, Latent)
}

// isolates draws whether p stays home today under the group's current rates.
func (m *Model) isolates(g *Group, p *person) bool {
	rate := g.cfg.AsymptomaticIsolationRate
	if p.state == Symptomatic {
		rate = g.cfg.SymptomaticIsolationRate
	}
	return m.rng.Float64() < rate
}

// transmits draws whether one contact passes the disease on, with each party
// independently wearing a mask.
func (m *Model) transmits(g *Group) bool {
	prob := g.cfg.ContagionProbability
	for range 2 {
		if m.rng.Float64() < m.params.MaskUserRate {
			prob *= 1 - m.params.MaskEfficacy
		}
	}
	return m.rng.Float64() < prob
}

// spread runs one day of contacts. The set of spreaders is fixed from the
// state at the start of the day, so people infected today do not spread today.
func (m *Model) spread(g *Group, day int) {
	n := len(g.people)
	if n < 2 || g.cfg.DailyInteractionCount == 0 {
		return
	}

	spreaders := make([]int, 0, g.counts[Contagious]+g.counts[Symptomatic])
	for i := range g.people {
		p := &g.people[i]
		if (p.state == Contagious || p.state == Symptomatic) && !p.hospitalized {
			spreaders = append(spreaders, i)
		}
	}

	for _, i := range spreaders {
		if m.isolates(g, &g.people[i]) {
			continue
		}
		for range g.cfg.DailyInteractionCount {
			j := m.rng.IntN(n)
			if j == i {
				continue
			}
			target := &g.people[j]
			if target.state == Dead || target.hospitalized {
				continue
			}
			if m.isolates(g, target) {
				continue
			}
			if target.state == Susceptible && m.transmits(g) {
				m.infect(g, target, day)
			}
		}
	}
}

// progress advances every infection that started before today.
func (m *Model) progress(g *Group, day int) {
	for i := range g.people {
		p := &g.people[i]
		if !p.state.Infected() || p.infectedOn >= day {
			continue
		}

		elapsed := day - p.infectedOn
		if elapsed >= p.duration {
			m.resolve(g, p)
			continue
		}

		next := Latent
		if elapsed >= p.latency {
			next = Contagious
			if p.symptomatic && elapsed >= p.incubation {
				next = Symptomatic
			}
		}
		if next != p.state {
			g.setState(p, next)
		}
		if p.state == Symptomatic && p.severe && !p.hospitalized && m.bedsUsed < m.beds {
			p.hospitalized = true
			g.inBeds++
			m.bedsUsed++
		}
	}
}

// resolve ends an infection in recovery or death.
func (m *Model) resolve(g *Group, p *person) {
	fatality := 0.0
	switch {
	case p.hospitalized:
		p.hospitalized = false
		g.inBeds--
		m.bedsUsed--
		fatality = m.params.FatalityRate
	case p.severe:
		fatality = m.params.UntreatedFatalityRate
	}
	if fatality > 0 && m.rng.Float64() < fatality {
		g.setState(p, Dead)
		return
	}
	g.setState(p, Recovered)
}
