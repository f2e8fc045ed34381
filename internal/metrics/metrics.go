// Package metrics exposes per-scenario simulation gauges through Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nvandessel/episim/internal/epidemic"
)

// Collectors holds the episim metric vectors registered on one registry.
type Collectors struct {
	// Population is the census by scenario and disease state.
	Population *prometheus.GaugeVec
	// Isolation is the size-weighted isolation rate by scenario and kind.
	Isolation *prometheus.GaugeVec
	// Cycles counts finished cycles per scenario.
	Cycles *prometheus.CounterVec
	// Failures counts failed scenarios.
	Failures *prometheus.CounterVec
}

// New creates the metric vectors and registers them on reg.
func New(reg prometheus.Registerer) (*Collectors, error) {
	c := &Collectors{
		Population: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "episim",
				Subsystem: "scenario",
				Name:      "population",
				Help:      "Number of people in each disease state",
			}, []string{"scenario", "state"}),
		Isolation: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "episim",
				Subsystem: "scenario",
				Name:      "isolation_rate",
				Help:      "Isolation rate in force, weighted by group size",
			}, []string{"scenario", "kind"}),
		Cycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "episim",
				Subsystem: "scenario",
				Name:      "cycles_total",
				Help:      "Number of simulated cycles completed",
			}, []string{"scenario"}),
		Failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "episim",
				Subsystem: "scenario",
				Name:      "failures_total",
				Help:      "Number of scenarios aborted by a failure",
			}, []string{"scenario"}),
	}
	for _, col := range []prometheus.Collector{c.Population, c.Isolation, c.Cycles, c.Failures} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Listener returns a listener that publishes the model's census for
// scenarioID at the end of every cycle.
func (c *Collectors) Listener(scenarioID string) epidemic.Listener {
	return &listener{
		scenario:     scenarioID,
		susceptible:  c.Population.WithLabelValues(scenarioID, "susceptible"),
		latent:       c.Population.WithLabelValues(scenarioID, "latent"),
		contagious:   c.Population.WithLabelValues(scenarioID, "contagious"),
		symptomatic:  c.Population.WithLabelValues(scenarioID, "symptomatic"),
		recovered:    c.Population.WithLabelValues(scenarioID, "recovered"),
		dead:         c.Population.WithLabelValues(scenarioID, "dead"),
		hospitalized: c.Population.WithLabelValues(scenarioID, "hospitalized"),
		infected:     c.Population.WithLabelValues(scenarioID, "infected"),
		isoSymp:      c.Isolation.WithLabelValues(scenarioID, "symptomatic"),
		isoAsymp:     c.Isolation.WithLabelValues(scenarioID, "asymptomatic"),
		cycles:       c.Cycles.WithLabelValues(scenarioID),
	}
}

// ScenarioFailed increments the failure counter for scenarioID.
func (c *Collectors) ScenarioFailed(scenarioID string) {
	c.Failures.WithLabelValues(scenarioID).Inc()
}

type listener struct {
	scenario string

	susceptible  prometheus.Gauge
	latent       prometheus.Gauge
	contagious   prometheus.Gauge
	symptomatic  prometheus.Gauge
	recovered    prometheus.Gauge
	dead         prometheus.Gauge
	hospitalized prometheus.Gauge
	infected     prometheus.Gauge
	isoSymp      prometheus.Gauge
	isoAsymp     prometheus.Gauge
	cycles       prometheus.Counter
}

func (l *listener) StartCycle(*epidemic.Model) error { return nil }

func (l *listener) EndCycle(m *epidemic.Model) error {
	c := m.Counts()
	l.susceptible.Set(float64(c.Susceptible))
	l.latent.Set(float64(c.Latent))
	l.contagious.Set(float64(c.Contagious))
	l.symptomatic.Set(float64(c.Symptomatic))
	l.recovered.Set(float64(c.Recovered))
	l.dead.Set(float64(c.Dead))
	l.hospitalized.Set(float64(c.Hospitalized))
	l.infected.Set(float64(c.Infected()))

	var symp, asymp float64
	pop := 0
	for _, g := range m.Groups() {
		symp += g.SymptomaticIsolationRate() * float64(g.Size())
		asymp += g.AsymptomaticIsolationRate() * float64(g.Size())
		pop += g.Size()
	}
	if pop > 0 {
		l.isoSymp.Set(symp / float64(pop))
		l.isoAsymp.Set(asymp / float64(pop))
	}
	l.cycles.Inc()
	return nil
}

// WriteTextfile gathers g and writes it in the text exposition format.
func WriteTextfile(g prometheus.Gatherer, path string) error {
	return prometheus.WriteToTextfile(path, g)
}
