package epidemic

import (
	"math"
	"math/rand/v2"

	simerr "github.com/nvandessel/episim/internal/errors"
)

// Distribution is a normal distribution of a duration in days.
type Distribution struct {
	Mean  float64 `json:"mean" yaml:"mean" toml:"mean"`
	Stdev float64 `json:"stdev" yaml:"stdev" toml:"stdev"`
}

// sample draws a whole number of days, never less than one.
func (d Distribution) sample(r *rand.Rand) int {
	v := math.Round(d.Mean + r.NormFloat64()*d.Stdev)
	if v < 1 {
		return 1
	}
	return int(v)
}

// Params holds the global epidemic parameters of a Model. All rates are
// probabilities in [0,1]; all period means and stdevs are positive.
type Params struct {
	// MaskUserRate is the probability that a party to a contact wears a mask.
	MaskUserRate float64 `json:"mask_user_rate" yaml:"mask_user_rate" toml:"mask_user_rate"`
	// MaskEfficacy is the transmission reduction of one worn mask.
	MaskEfficacy float64 `json:"mask_efficacy" yaml:"mask_efficacy" toml:"mask_efficacy"`
	// ImmuneRate is the fraction of each group that starts recovered.
	ImmuneRate float64 `json:"immune_rate" yaml:"immune_rate" toml:"immune_rate"`
	// InitialInfectionRate is the fraction of each group infected on day 0.
	InitialInfectionRate float64 `json:"initial_infection_rate" yaml:"initial_infection_rate" toml:"initial_infection_rate"`
	// HospitalizationCapacity is the number of hospital beds as a fraction
	// of the model's total population.
	HospitalizationCapacity float64 `json:"hospitalization_capacity" yaml:"hospitalization_capacity" toml:"hospitalization_capacity"`

	LatencyPeriod    Distribution `json:"latency_period" yaml:"latency_period" toml:"latency_period"`
	IncubationPeriod Distribution `json:"incubation_period" yaml:"incubation_period" toml:"incubation_period"`
	DiseasePeriod    Distribution `json:"disease_period" yaml:"disease_period" toml:"disease_period"`

	// SymptomaticRate is the probability that an infection develops symptoms.
	SymptomaticRate float64 `json:"symptomatic_rate" yaml:"symptomatic_rate" toml:"symptomatic_rate"`
	// SevereRate is the probability that a symptomatic case needs a hospital bed.
	SevereRate float64 `json:"severe_rate" yaml:"severe_rate" toml:"severe_rate"`
	// FatalityRate applies to severe cases that got a bed.
	FatalityRate float64 `json:"fatality_rate" yaml:"fatality_rate" toml:"fatality_rate"`
	// UntreatedFatalityRate applies to severe cases that found no free bed.
	UntreatedFatalityRate float64 `json:"untreated_fatality_rate" yaml:"untreated_fatality_rate" toml:"untreated_fatality_rate"`

	// Seed seeds the model's random source. Equal seeds and equal inputs
	// produce equal runs.
	Seed uint64 `json:"seed" yaml:"seed" toml:"seed"`
}

// DefaultParams returns the reference parameter set.
func DefaultParams() Params {
	return Params{
		MaskUserRate:            0.0,
		MaskEfficacy:            0.0,
		ImmuneRate:              0.01,
		InitialInfectionRate:    0.01,
		HospitalizationCapacity: 0.02,
		LatencyPeriod:           Distribution{Mean: 3, Stdev: 1},
		IncubationPeriod:        Distribution{Mean: 7, Stdev: 4},
		DiseasePeriod:           Distribution{Mean: 20, Stdev: 5},
		SymptomaticRate:         0.5,
		SevereRate:              0.2,
		FatalityRate:            0.05,
		UntreatedFatalityRate:   0.5,
		Seed:                    1,
	}
}

// Validate returns a configuration error for the first out-of-range field.
func (p Params) Validate() error {
	rates := []struct {
		name string
		v    float64
	}{
		{"mask_user_rate", p.MaskUserRate},
		{"mask_efficacy", p.MaskEfficacy},
		{"immune_rate", p.ImmuneRate},
		{"initial_infection_rate", p.InitialInfectionRate},
		{"hospitalization_capacity", p.HospitalizationCapacity},
		{"symptomatic_rate", p.SymptomaticRate},
		{"severe_rate", p.SevereRate},
		{"fatality_rate", p.FatalityRate},
		{"untreated_fatality_rate", p.UntreatedFatalityRate},
	}
	for _, r := range rates {
		if !validRate(r.v) {
			return simerr.Configf("%s must be between 0 and 1, got %v", r.name, r.v)
		}
	}

	periods := []struct {
		name string
		d    Distribution
	}{
		{"latency_period", p.LatencyPeriod},
		{"incubation_period", p.IncubationPeriod},
		{"disease_period", p.DiseasePeriod},
	}
	for _, pd := range periods {
		if !positiveFinite(pd.d.Mean) {
			return simerr.Configf("%s mean must be positive and finite, got %v", pd.name, pd.d.Mean)
		}
		if !positiveFinite(pd.d.Stdev) {
			return simerr.Configf("%s stdev must be positive and finite, got %v", pd.name, pd.d.Stdev)
		}
	}
	return nil
}

// positiveFinite rejects NaN and both infinities.
func positiveFinite(v float64) bool {
	return v > 0 && !math.IsInf(v, 1)
}

// validRate also rejects NaN.
func validRate(v float64) bool {
	return v >= 0 && v <= 1
}
