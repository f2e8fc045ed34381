// Package config provides unified configuration loading for episim.
// It supports loading from YAML or TOML files and environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/nvandessel/episim/internal/constants"
	"github.com/nvandessel/episim/internal/epidemic"
	simerr "github.com/nvandessel/episim/internal/errors"
)

// Config contains all episim configuration settings.
type Config struct {
	// Model holds the epidemic parameters shared by every scenario. Its seed
	// is ignored; scenario seeds derive from Simulation.Seed.
	Model epidemic.Params `json:"model" yaml:"model" toml:"model"`

	// Group is the population group every scenario starts from.
	Group GroupConfig `json:"group" yaml:"group" toml:"group"`

	// Simulation controls how scenarios are run.
	Simulation SimulationConfig `json:"simulation" yaml:"simulation" toml:"simulation"`

	// Logging contains settings for operational and event logging.
	Logging LoggingConfig `json:"logging" yaml:"logging" toml:"logging"`

	// Scenarios lists the runs to execute. A file that sets scenarios
	// replaces the built-in list.
	Scenarios []ScenarioConfig `json:"scenarios" yaml:"scenarios" toml:"scenarios"`
}

// GroupConfig describes a scenario's population group.
type GroupConfig struct {
	ID   string `json:"id" yaml:"id" toml:"id"`
	Size int    `json:"size" yaml:"size" toml:"size"`

	DailyInteractionCount     int     `json:"daily_interaction_count" yaml:"daily_interaction_count" toml:"daily_interaction_count"`
	ContagionProbability      float64 `json:"contagion_probability" yaml:"contagion_probability" toml:"contagion_probability"`
	SymptomaticIsolationRate  float64 `json:"symptomatic_isolation_rate" yaml:"symptomatic_isolation_rate" toml:"symptomatic_isolation_rate"`
	AsymptomaticIsolationRate float64 `json:"asymptomatic_isolation_rate" yaml:"asymptomatic_isolation_rate" toml:"asymptomatic_isolation_rate"`
}

// Interaction returns the group's interaction settings.
func (g GroupConfig) Interaction() epidemic.InteractionConfig {
	return epidemic.InteractionConfig{
		DailyInteractionCount:     g.DailyInteractionCount,
		ContagionProbability:      g.ContagionProbability,
		SymptomaticIsolationRate:  g.SymptomaticIsolationRate,
		AsymptomaticIsolationRate: g.AsymptomaticIsolationRate,
	}
}

// SimulationConfig controls scenario execution.
type SimulationConfig struct {
	// Cycles is the number of simulated days per scenario.
	Cycles int `json:"cycles" yaml:"cycles" toml:"cycles"`
	// Seed is the base seed; each scenario's model seed derives from it
	// and the scenario ID.
	Seed uint64 `json:"seed" yaml:"seed" toml:"seed"`
	// Concurrency bounds how many scenarios run at once.
	Concurrency int `json:"concurrency" yaml:"concurrency" toml:"concurrency"`
	// OutputDir receives CSV and chart artifacts, relative to the project root.
	OutputDir string `json:"output_dir" yaml:"output_dir" toml:"output_dir"`
	// Persist records runs in the results store.
	Persist bool `json:"persist" yaml:"persist" toml:"persist"`
}

// LoggingConfig configures episim's logging behavior.
type LoggingConfig struct {
	// Level sets the log verbosity: "info" (default), "debug", or "trace".
	// "debug" enables the JSONL event trace in the output directory.
	// "trace" additionally logs every simulated cycle.
	Level string `json:"level" yaml:"level" toml:"level"`
}

// ScenarioConfig configures one scenario. Unset overrides inherit from
// the group settings.
type ScenarioConfig struct {
	ID   string `json:"id" yaml:"id" toml:"id"`
	Name string `json:"name" yaml:"name" toml:"name"`

	SymptomaticIsolationRate  *float64 `json:"symptomatic_isolation_rate,omitempty" yaml:"symptomatic_isolation_rate,omitempty" toml:"symptomatic_isolation_rate,omitempty"`
	AsymptomaticIsolationRate *float64 `json:"asymptomatic_isolation_rate,omitempty" yaml:"asymptomatic_isolation_rate,omitempty" toml:"asymptomatic_isolation_rate,omitempty"`

	Policy *PolicyConfig `json:"policy,omitempty" yaml:"policy,omitempty" toml:"policy,omitempty"`
}

// PolicyConfig configures an isolation policy.
type PolicyConfig struct {
	// Kind selects the policy. Only "threshold" is supported.
	Kind  string  `json:"kind" yaml:"kind" toml:"kind"`
	Perc1 float64 `json:"perc1" yaml:"perc1" toml:"perc1"`
	Perc2 float64 `json:"perc2" yaml:"perc2" toml:"perc2"`
	// Group names the governed group. Empty means the scenario's group.
	Group string `json:"group,omitempty" yaml:"group,omitempty" toml:"group,omitempty"`
}

func rate(v float64) *float64 { return &v }

// Default returns a Config reproducing the four reference scenarios.
func Default() *Config {
	return &Config{
		Model: epidemic.DefaultParams(),
		Group: GroupConfig{
			ID:                    constants.DefaultGroupID,
			Size:                  constants.DefaultPopulationSize,
			DailyInteractionCount: constants.DefaultDailyInteractionCount,
			ContagionProbability:  constants.DefaultContagionProbability,
		},
		Simulation: SimulationConfig{
			Cycles:      constants.DefaultCycles,
			Seed:        constants.DefaultSeed,
			Concurrency: 1,
			OutputDir:   constants.DefaultOutputDir,
			Persist:     true,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Scenarios: []ScenarioConfig{
			{ID: "1", Name: "Do nothing"},
			{ID: "2", Name: "Isolate symptomatic", SymptomaticIsolationRate: rate(0.9)},
			{ID: "3", Name: "Isolate everybody", SymptomaticIsolationRate: rate(0.9), AsymptomaticIsolationRate: rate(0.8)},
			{ID: "4", Name: "Threshold isolation", Policy: &PolicyConfig{Kind: constants.PolicyThreshold, Perc1: 0.1, Perc2: 0.95}},
		},
	}
}

// Load loads configuration from the project root and environment variables.
// Order: defaults -> path (or <root>/episim.{yaml,yml,toml}) -> environment.
// An explicit path must exist; the project files are optional.
func Load(root, path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = findConfigFile(root)
	}
	if path != "" {
		fileCfg, err := LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		cfg = fileCfg
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func findConfigFile(root string) string {
	for _, ext := range []string{".yaml", ".yml", ".toml"} {
		p := filepath.Join(root, constants.ConfigBaseName+ext)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// LoadFromFile loads configuration from a YAML or TOML file, chosen by
// extension, on top of the defaults. Unknown keys are rejected.
func LoadFromFile(path string) (*Config, error) {
	cfg := Default()
	// Decoders may reuse existing slice elements, so scenarios start empty
	// and fall back to the defaults only when the file sets none.
	cfg.Scenarios = nil

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, simerr.WrapError(simerr.ErrConfiguration, err, "reading "+path)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, simerr.WrapError(simerr.ErrConfiguration, err, "parsing "+path)
		}
	case ".toml":
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, simerr.WrapError(simerr.ErrConfiguration, err, "parsing "+path)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, simerr.Configf("unknown keys in %s: %v", path, undecoded)
		}
	default:
		return nil, simerr.Configf("config file must be .yaml, .yml or .toml: %s", path)
	}
	if cfg.Scenarios == nil {
		cfg.Scenarios = Default().Scenarios
	}
	return cfg, nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if err := c.Model.Validate(); err != nil {
		return err
	}
	if c.Group.ID == "" {
		return simerr.Configf("group.id is required")
	}
	if c.Group.Size <= 0 {
		return simerr.Configf("group.size must be positive, got %d", c.Group.Size)
	}
	if err := c.Group.Interaction().Validate(); err != nil {
		return err
	}
	if c.Simulation.Cycles <= 0 {
		return simerr.Configf("simulation.cycles must be positive, got %d", c.Simulation.Cycles)
	}
	if c.Simulation.Concurrency < 0 {
		return simerr.Configf("simulation.concurrency must be non-negative, got %d", c.Simulation.Concurrency)
	}

	validLevels := map[string]bool{"info": true, "debug": true, "trace": true}
	if c.Logging.Level != "" && !validLevels[c.Logging.Level] {
		return simerr.Configf("invalid log level: %s (valid: info, debug, trace, or empty for default)", c.Logging.Level)
	}

	if len(c.Scenarios) == 0 {
		return simerr.Configf("no scenarios configured")
	}
	seen := make(map[string]bool, len(c.Scenarios))
	for _, s := range c.Scenarios {
		if err := s.validate(c.Group.ID); err != nil {
			return err
		}
		if seen[s.ID] {
			return simerr.Configf("duplicate scenario id %s", s.ID)
		}
		seen[s.ID] = true
	}
	return nil
}

func (s ScenarioConfig) validate(groupID string) error {
	if s.ID == "" {
		return simerr.Configf("scenario id is required")
	}
	if strings.ContainsAny(s.ID, `/\`) || s.ID == "." || s.ID == ".." {
		return simerr.Configf("scenario id %q is not usable in a file name", s.ID)
	}
	for name, v := range map[string]*float64{
		"symptomatic_isolation_rate":  s.SymptomaticIsolationRate,
		"asymptomatic_isolation_rate": s.AsymptomaticIsolationRate,
	} {
		if v != nil && !(*v >= 0 && *v <= 1) {
			return simerr.Configf("scenario %s: %s must be between 0 and 1, got %v", s.ID, name, *v)
		}
	}
	if p := s.Policy; p != nil {
		if p.Kind != constants.PolicyThreshold {
			return simerr.Configf("scenario %s: unknown policy kind %q (valid: %s)", s.ID, p.Kind, constants.PolicyThreshold)
		}
		if !(p.Perc1 >= 0 && p.Perc1 <= 1) || !(p.Perc2 >= 0 && p.Perc2 <= 1) {
			return simerr.Configf("scenario %s: policy perc1 and perc2 must be between 0 and 1", s.ID)
		}
		if p.Group != "" && p.Group != groupID {
			return simerr.Configf("scenario %s: policy governs unknown group %s", s.ID, p.Group)
		}
	}
	return nil
}

// Scenario returns the scenario with the given ID.
func (c *Config) Scenario(id string) (ScenarioConfig, bool) {
	for _, s := range c.Scenarios {
		if s.ID == id {
			return s, true
		}
	}
	return ScenarioConfig{}, false
}

// applyEnvOverrides applies environment variable overrides to the config.
// Unparsable numbers are ignored.
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("EPISIM_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}

	if v := os.Getenv("EPISIM_OUTPUT_DIR"); v != "" {
		config.Simulation.OutputDir = v
	}

	if v := os.Getenv("EPISIM_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Simulation.Concurrency = n
		}
	}

	if v := os.Getenv("EPISIM_CYCLES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Simulation.Cycles = n
		}
	}

	if v := os.Getenv("EPISIM_SEED"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			config.Simulation.Seed = n
		}
	}
}

// Values returns every scalar setting keyed by dot notation, e.g.
// "model.latency_period.mean". Scenarios are listed as
// "scenarios.<id>.<field>".
func (c *Config) Values() map[string]any {
	out := map[string]any{
		"logging.level":                     c.Logging.Level,
		"group.id":                          c.Group.ID,
		"group.size":                        c.Group.Size,
		"group.daily_interaction_count":     c.Group.DailyInteractionCount,
		"group.contagion_probability":       c.Group.ContagionProbability,
		"group.symptomatic_isolation_rate":  c.Group.SymptomaticIsolationRate,
		"group.asymptomatic_isolation_rate": c.Group.AsymptomaticIsolationRate,
		"simulation.cycles":                 c.Simulation.Cycles,
		"simulation.seed":                   c.Simulation.Seed,
		"simulation.concurrency":            c.Simulation.Concurrency,
		"simulation.output_dir":             c.Simulation.OutputDir,
		"simulation.persist":                c.Simulation.Persist,
	}

	m := c.Model
	for k, v := range map[string]any{
		"mask_user_rate":           m.MaskUserRate,
		"mask_efficacy":            m.MaskEfficacy,
		"immune_rate":              m.ImmuneRate,
		"initial_infection_rate":   m.InitialInfectionRate,
		"hospitalization_capacity": m.HospitalizationCapacity,
		"latency_period.mean":      m.LatencyPeriod.Mean,
		"latency_period.stdev":     m.LatencyPeriod.Stdev,
		"incubation_period.mean":   m.IncubationPeriod.Mean,
		"incubation_period.stdev":  m.IncubationPeriod.Stdev,
		"disease_period.mean":      m.DiseasePeriod.Mean,
		"disease_period.stdev":     m.DiseasePeriod.Stdev,
		"symptomatic_rate":         m.SymptomaticRate,
		"severe_rate":              m.SevereRate,
		"fatality_rate":            m.FatalityRate,
		"untreated_fatality_rate":  m.UntreatedFatalityRate,
	} {
		out["model."+k] = v
	}

	for _, s := range c.Scenarios {
		prefix := "scenarios." + s.ID + "."
		out[prefix+"name"] = s.Name
		if s.SymptomaticIsolationRate != nil {
			out[prefix+"symptomatic_isolation_rate"] = *s.SymptomaticIsolationRate
		}
		if s.AsymptomaticIsolationRate != nil {
			out[prefix+"asymptomatic_isolation_rate"] = *s.AsymptomaticIsolationRate
		}
		if p := s.Policy; p != nil {
			out[prefix+"policy.kind"] = p.Kind
			out[prefix+"policy.perc1"] = p.Perc1
			out[prefix+"policy.perc2"] = p.Perc2
		}
	}
	return out
}

// Get retrieves a configuration value by dot-notation key.
func (c *Config) Get(key string) (any, bool) {
	v, ok := c.Values()[key]
	return v, ok
}

// Describe returns a one-line description of a scenario's interventions.
func (s ScenarioConfig) Describe() string {
	var parts []string
	if s.SymptomaticIsolationRate != nil {
		parts = append(parts, fmt.Sprintf("symptomatic isolation %.2f", *s.SymptomaticIsolationRate))
	}
	if s.AsymptomaticIsolationRate != nil {
		parts = append(parts, fmt.Sprintf("asymptomatic isolation %.2f", *s.AsymptomaticIsolationRate))
	}
	if p := s.Policy; p != nil {
		parts = append(parts, fmt.Sprintf("%s policy (perc1 %.2f, perc2 %.2f)", p.Kind, p.Perc1, p.Perc2))
	}
	if len(parts) == 0 {
		return "no intervention"
	}
	return strings.Join(parts, ", ")
}
