package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	simerr "github.com/nvandessel/episim/internal/errors"
	"github.com/nvandessel/episim/internal/policy"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"EPISIM_LOG_LEVEL", "EPISIM_OUTPUT_DIR", "EPISIM_CONCURRENCY", "EPISIM_CYCLES", "EPISIM_SEED"} {
		t.Setenv(k, "")
	}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	config := Default()

	if err := config.Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
	if config.Simulation.Cycles != 90 {
		t.Errorf("expected 90 cycles, got %d", config.Simulation.Cycles)
	}
	if config.Group.Size != 1000 {
		t.Errorf("expected population 1000, got %d", config.Group.Size)
	}
	if config.Logging.Level != "info" {
		t.Errorf("expected Logging.Level 'info', got '%s'", config.Logging.Level)
	}

	if len(config.Scenarios) != 4 {
		t.Fatalf("expected 4 reference scenarios, got %d", len(config.Scenarios))
	}
	s1, s2, s3, s4 := config.Scenarios[0], config.Scenarios[1], config.Scenarios[2], config.Scenarios[3]
	if s1.SymptomaticIsolationRate != nil || s1.AsymptomaticIsolationRate != nil || s1.Policy != nil {
		t.Errorf("scenario 1 should do nothing: %+v", s1)
	}
	if s2.SymptomaticIsolationRate == nil || *s2.SymptomaticIsolationRate != 0.9 || s2.AsymptomaticIsolationRate != nil {
		t.Errorf("scenario 2 should isolate symptomatic at 0.9: %+v", s2)
	}
	if *s3.SymptomaticIsolationRate != 0.9 || *s3.AsymptomaticIsolationRate != 0.8 {
		t.Errorf("scenario 3 should isolate everybody at 0.9/0.8: %+v", s3)
	}
	if s4.Policy == nil || s4.Policy.Kind != "threshold" || s4.Policy.Perc1 != 0.1 || s4.Policy.Perc2 != 0.95 {
		t.Errorf("scenario 4 should use the threshold policy 0.1/0.95: %+v", s4.Policy)
	}
}

func TestLoadFromFileYAML(t *testing.T) {
	path := writeFile(t, t.TempDir(), "episim.yaml", `
model:
  immune_rate: 0.05
  latency_period:
    mean: 2
    stdev: 0.5
group:
  size: 500
simulation:
  cycles: 30
  concurrency: 4
logging:
  level: debug
scenarios:
  - id: base
    name: Baseline
  - id: lockdown
    name: Lockdown
    policy:
      kind: threshold
      perc1: 0.2
      perc2: 0.9
`)

	config, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if config.Model.ImmuneRate != 0.05 {
		t.Errorf("expected ImmuneRate 0.05, got %v", config.Model.ImmuneRate)
	}
	if config.Model.LatencyPeriod.Mean != 2 || config.Model.LatencyPeriod.Stdev != 0.5 {
		t.Errorf("expected latency 2/0.5, got %+v", config.Model.LatencyPeriod)
	}
	// Unset keys keep their defaults.
	if config.Model.DiseasePeriod.Mean != 20 {
		t.Errorf("expected default disease period, got %+v", config.Model.DiseasePeriod)
	}
	if config.Group.Size != 500 || config.Group.DailyInteractionCount != 4 {
		t.Errorf("unexpected group %+v", config.Group)
	}
	if config.Simulation.Cycles != 30 || config.Simulation.Concurrency != 4 {
		t.Errorf("unexpected simulation %+v", config.Simulation)
	}
	if len(config.Scenarios) != 2 || config.Scenarios[1].Policy == nil {
		t.Fatalf("expected 2 scenarios with a policy on the second, got %+v", config.Scenarios)
	}
	if err := config.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestLoadFromFileTOML(t *testing.T) {
	path := writeFile(t, t.TempDir(), "episim.toml", `
[simulation]
cycles = 12
seed = 99

[[scenarios]]
id = "only"
name = "Only scenario"
symptomatic_isolation_rate = 0.5
`)

	config, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if config.Simulation.Cycles != 12 || config.Simulation.Seed != 99 {
		t.Errorf("unexpected simulation %+v", config.Simulation)
	}
	if len(config.Scenarios) != 1 {
		t.Fatalf("expected 1 scenario, got %d", len(config.Scenarios))
	}
	s := config.Scenarios[0]
	if s.Policy != nil || s.AsymptomaticIsolationRate != nil {
		t.Errorf("scenario inherited fields from the defaults: %+v", s)
	}
	if s.SymptomaticIsolationRate == nil || *s.SymptomaticIsolationRate != 0.5 {
		t.Errorf("expected symptomatic rate 0.5, got %v", s.SymptomaticIsolationRate)
	}
}

func TestLoadFromFileRejects(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"unknown yaml key", "a.yaml", "simulation:\n  cylces: 3\n"},
		{"unknown toml key", "b.toml", "[simulation]\ncylces = 3\n"},
		{"malformed yaml", "c.yaml", "model: [unterminated\n"},
		{"malformed toml", "d.toml", "[simulation\n"},
		{"unsupported extension", "e.json", "{}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, dir, tt.file, tt.content)
			_, err := LoadFromFile(path)
			if !simerr.Is(err, simerr.ErrConfiguration) {
				t.Errorf("LoadFromFile() error = %v, want ErrConfiguration", err)
			}
		})
	}

	if _, err := LoadFromFile(filepath.Join(dir, "missing.yaml")); !simerr.Is(err, simerr.ErrConfiguration) {
		t.Errorf("missing file error = %v, want ErrConfiguration", err)
	}
}

func TestLoadFromFileEmpty(t *testing.T) {
	path := writeFile(t, t.TempDir(), "episim.yaml", "")
	config, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile(empty) = %v", err)
	}
	if len(config.Scenarios) != 4 {
		t.Errorf("empty file should keep the default scenarios, got %d", len(config.Scenarios))
	}
}

func TestLoad(t *testing.T) {
	clearEnv(t)

	t.Run("no project file", func(t *testing.T) {
		config, err := Load(t.TempDir(), "")
		if err != nil {
			t.Fatalf("Load() = %v", err)
		}
		if config.Simulation.Cycles != 90 {
			t.Errorf("expected defaults, got %+v", config.Simulation)
		}
	})

	t.Run("project yaml", func(t *testing.T) {
		root := t.TempDir()
		writeFile(t, root, "episim.yml", "simulation:\n  cycles: 7\n")
		config, err := Load(root, "")
		if err != nil {
			t.Fatalf("Load() = %v", err)
		}
		if config.Simulation.Cycles != 7 {
			t.Errorf("expected cycles 7, got %d", config.Simulation.Cycles)
		}
	})

	t.Run("explicit path must exist", func(t *testing.T) {
		if _, err := Load(t.TempDir(), "/nonexistent/episim.yaml"); err == nil {
			t.Error("expected error for missing explicit config")
		}
	})
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("EPISIM_LOG_LEVEL", "trace")
	t.Setenv("EPISIM_OUTPUT_DIR", "results")
	t.Setenv("EPISIM_CONCURRENCY", "8")
	t.Setenv("EPISIM_CYCLES", "45")
	t.Setenv("EPISIM_SEED", "1234")

	config, err := Load(t.TempDir(), "")
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}
	if config.Logging.Level != "trace" {
		t.Errorf("expected level trace, got %s", config.Logging.Level)
	}
	if config.Simulation.OutputDir != "results" {
		t.Errorf("expected output dir results, got %s", config.Simulation.OutputDir)
	}
	if config.Simulation.Concurrency != 8 || config.Simulation.Cycles != 45 || config.Simulation.Seed != 1234 {
		t.Errorf("unexpected simulation %+v", config.Simulation)
	}

	t.Setenv("EPISIM_CYCLES", "many")
	config, _ = Load(t.TempDir(), "")
	if config.Simulation.Cycles != 90 {
		t.Errorf("unparsable EPISIM_CYCLES should be ignored, got %d", config.Simulation.Cycles)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"rate out of range", func(c *Config) { c.Model.FatalityRate = 1.5 }},
		{"zero period", func(c *Config) { c.Model.DiseasePeriod.Mean = 0 }},
		{"zero population", func(c *Config) { c.Group.Size = 0 }},
		{"empty group id", func(c *Config) { c.Group.ID = "" }},
		{"bad contagion", func(c *Config) { c.Group.ContagionProbability = -1 }},
		{"zero cycles", func(c *Config) { c.Simulation.Cycles = 0 }},
		{"negative concurrency", func(c *Config) { c.Simulation.Concurrency = -1 }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"no scenarios", func(c *Config) { c.Scenarios = nil }},
		{"duplicate id", func(c *Config) { c.Scenarios[1].ID = "1" }},
		{"empty id", func(c *Config) { c.Scenarios[0].ID = "" }},
		{"path id", func(c *Config) { c.Scenarios[0].ID = "a/b" }},
		{"override out of range", func(c *Config) { c.Scenarios[1].SymptomaticIsolationRate = rate(2) }},
		{"unknown policy", func(c *Config) { c.Scenarios[3].Policy.Kind = "lockdown" }},
		{"policy perc out of range", func(c *Config) { c.Scenarios[3].Policy.Perc2 = 1.1 }},
		{"policy unknown group", func(c *Config) { c.Scenarios[3].Policy.Group = "elsewhere" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			err := c.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !simerr.Is(err, simerr.ErrConfiguration) {
				t.Errorf("Validate() error = %v, want ErrConfiguration", err)
			}
		})
	}
}

func TestGet(t *testing.T) {
	c := Default()
	tests := []struct {
		key  string
		want any
	}{
		{"simulation.cycles", 90},
		{"group.size", 1000},
		{"model.fatality_rate", 0.05},
		{"model.latency_period.mean", 3.0},
		{"scenarios.4.policy.perc1", 0.1},
		{"scenarios.2.symptomatic_isolation_rate", 0.9},
	}
	for _, tt := range tests {
		got, ok := c.Get(tt.key)
		if !ok {
			t.Errorf("Get(%q) not found", tt.key)
			continue
		}
		if got != tt.want {
			t.Errorf("Get(%q) = %v (%T), want %v (%T)", tt.key, got, got, tt.want, tt.want)
		}
	}
	if _, ok := c.Get("llm.provider"); ok {
		t.Error("Get(llm.provider) should not be found")
	}
}

func TestDescribe(t *testing.T) {
	c := Default()
	if got := c.Scenarios[0].Describe(); got != "no intervention" {
		t.Errorf("Describe() = %q", got)
	}
	if got := c.Scenarios[3].Describe(); !strings.Contains(got, "threshold policy") {
		t.Errorf("Describe() = %q", got)
	}
}

func TestBuild(t *testing.T) {
	c := Default()
	c.Group.Size = 200

	scenarios, err := Build(c, nil, BuildOptions{})
	if err != nil {
		t.Fatalf("Build() = %v", err)
	}
	if len(scenarios) != 4 {
		t.Fatalf("expected 4 scenarios, got %d", len(scenarios))
	}
	for i, sc := range scenarios {
		if sc.ID != c.Scenarios[i].ID || sc.Cycles != 90 || sc.Group.Size() != 200 {
			t.Errorf("scenario %d = %+v", i, sc)
		}
		if sc.Model.Params().Seed != SeedFor(c.Simulation.Seed, sc.ID) {
			t.Errorf("scenario %s has seed %d", sc.ID, sc.Model.Params().Seed)
		}
	}
	if scenarios[0].Model == scenarios[1].Model {
		t.Error("scenarios share a model")
	}
	if scenarios[2].Group.AsymptomaticIsolationRate() != 0.8 {
		t.Errorf("scenario 3 asymptomatic rate = %v", scenarios[2].Group.AsymptomaticIsolationRate())
	}
	if len(scenarios[3].Listeners) != 1 {
		t.Fatalf("scenario 4 should carry one policy, got %d", len(scenarios[3].Listeners))
	}
	if p, ok := scenarios[3].Listeners[0].(*policy.Isolation); !ok || p.GroupID() != c.Group.ID {
		t.Errorf("scenario 4 listener = %#v", scenarios[3].Listeners[0])
	}

	picked, err := Build(c, []string{"4", "2"}, BuildOptions{})
	if err != nil {
		t.Fatalf("Build(4, 2) = %v", err)
	}
	if len(picked) != 2 || picked[0].ID != "4" || picked[1].ID != "2" {
		t.Errorf("Build(4, 2) picked %v, %v", picked[0].ID, picked[1].ID)
	}
	if picked[0].Model.Params().Seed != scenarios[3].Model.Params().Seed {
		t.Error("seed depends on which scenarios were selected")
	}

	if _, err := Build(c, []string{"9"}, BuildOptions{}); !simerr.Is(err, simerr.ErrConfiguration) {
		t.Errorf("Build(unknown) error = %v, want ErrConfiguration", err)
	}
}
