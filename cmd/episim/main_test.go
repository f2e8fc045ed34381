package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testConfig = `group:
  size: 150
simulation:
  cycles: 6
  seed: 11
  concurrency: 2
  output_dir: out
`

// setupRoot creates a project root holding a small config and clears the
// environment overrides.
func setupRoot(t *testing.T) string {
	t.Helper()
	for _, k := range []string{"EPISIM_LOG_LEVEL", "EPISIM_OUTPUT_DIR", "EPISIM_CONCURRENCY", "EPISIM_CYCLES", "EPISIM_SEED"} {
		t.Setenv(k, "")
	}
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "episim.yaml"), []byte(testConfig), 0600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return root
}

// execute runs the root command with args and returns its stdout.
func execute(t *testing.T, root string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--root", root}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func decode(t *testing.T, out string, v any) {
	t.Helper()
	if err := json.Unmarshal([]byte(out), v); err != nil {
		t.Fatalf("invalid JSON output: %v\n%s", err, out)
	}
}

func TestNewRootCmd(t *testing.T) {
	cmd := newRootCmd()
	want := []string{"config", "mcp-server", "run", "runs", "scenarios", "version"}
	var got []string
	for _, c := range cmd.Commands() {
		if c.Name() == "help" || c.Name() == "completion" {
			continue
		}
		got = append(got, c.Name())
	}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("subcommands = %v, want %v", got, want)
	}
	for _, flag := range []string{"json", "root", "config", "log-level"} {
		if cmd.PersistentFlags().Lookup(flag) == nil {
			t.Errorf("missing persistent flag --%s", flag)
		}
	}
}

func TestVersionCmd(t *testing.T) {
	root := setupRoot(t)

	out, err := execute(t, root, "version")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if !strings.HasPrefix(out, "episim version "+version) {
		t.Errorf("unexpected output: %q", out)
	}

	out, err = execute(t, root, "version", "--json")
	if err != nil {
		t.Fatalf("version --json failed: %v", err)
	}
	var v map[string]string
	decode(t, out, &v)
	if v["version"] != version || v["commit"] != commit {
		t.Errorf("version JSON = %v", v)
	}
}

func TestScenariosCmd(t *testing.T) {
	root := setupRoot(t)

	out, err := execute(t, root, "scenarios", "--json")
	if err != nil {
		t.Fatalf("scenarios failed: %v", err)
	}
	var res struct {
		Count     int `json:"count"`
		Scenarios []struct {
			ID          string `json:"id"`
			Name        string `json:"name"`
			Seed        uint64 `json:"seed"`
			Description string `json:"description"`
		} `json:"scenarios"`
	}
	decode(t, out, &res)
	if res.Count != 4 || len(res.Scenarios) != 4 {
		t.Fatalf("count = %d, want 4", res.Count)
	}
	if res.Scenarios[0].Description != "no intervention" {
		t.Errorf("scenario 1 description = %q", res.Scenarios[0].Description)
	}
	if !strings.Contains(res.Scenarios[3].Description, "threshold policy") {
		t.Errorf("scenario 4 description = %q", res.Scenarios[3].Description)
	}
	if res.Scenarios[0].Seed == res.Scenarios[1].Seed {
		t.Error("scenarios share a seed")
	}

	out, err = execute(t, root, "scenarios")
	if err != nil {
		t.Fatalf("scenarios failed: %v", err)
	}
	if !strings.Contains(out, "4 scenarios, 6 days each, population 150") {
		t.Errorf("unexpected header: %q", out)
	}
}

func TestConfigCmd(t *testing.T) {
	root := setupRoot(t)

	t.Run("get", func(t *testing.T) {
		out, err := execute(t, root, "config", "get", "simulation.cycles")
		if err != nil {
			t.Fatalf("config get failed: %v", err)
		}
		if strings.TrimSpace(out) != "simulation.cycles = 6" {
			t.Errorf("output = %q", out)
		}
	})

	t.Run("get json", func(t *testing.T) {
		out, err := execute(t, root, "config", "get", "scenarios.4.policy.perc1", "--json")
		if err != nil {
			t.Fatalf("config get failed: %v", err)
		}
		var res struct {
			Key   string  `json:"key"`
			Value float64 `json:"value"`
		}
		decode(t, out, &res)
		if res.Value != 0.1 {
			t.Errorf("perc1 = %v, want 0.1", res.Value)
		}
	})

	t.Run("get unknown", func(t *testing.T) {
		if _, err := execute(t, root, "config", "get", "no.such.key"); err == nil {
			t.Error("expected error for unknown key")
		}
	})

	t.Run("list", func(t *testing.T) {
		out, err := execute(t, root, "config", "list")
		if err != nil {
			t.Fatalf("config list failed: %v", err)
		}
		lines := strings.Split(strings.TrimSpace(out), "\n")
		if !strings.HasPrefix(lines[0], "group.") {
			t.Errorf("first line = %q, want sorted keys", lines[0])
		}
		if !strings.Contains(out, "simulation.seed:") {
			t.Error("list is missing simulation.seed")
		}
	})

	t.Run("validate", func(t *testing.T) {
		out, err := execute(t, root, "config", "validate")
		if err != nil {
			t.Fatalf("config validate failed: %v", err)
		}
		if !strings.Contains(out, "valid (4 scenarios)") {
			t.Errorf("output = %q", out)
		}
	})

	t.Run("show", func(t *testing.T) {
		out, err := execute(t, root, "config", "show")
		if err != nil {
			t.Fatalf("config show failed: %v", err)
		}
		if !strings.Contains(out, "cycles: 6") {
			t.Errorf("YAML output missing cycles:\n%s", out)
		}
	})
}

func TestConfigValidate_Invalid(t *testing.T) {
	root := setupRoot(t)
	t.Setenv("EPISIM_CYCLES", "0")

	out, err := execute(t, root, "config", "validate", "--json")
	if err == nil {
		t.Fatal("expected validation error")
	}
	var res struct {
		Valid bool   `json:"valid"`
		Error string `json:"error"`
	}
	decode(t, out, &res)
	if res.Valid || res.Error == "" {
		t.Errorf("validate JSON = %+v", res)
	}
}

func TestRunAndRunsCmd(t *testing.T) {
	root := setupRoot(t)

	out, err := execute(t, root, "run", "2", "4", "--json")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	var run struct {
		RunID     string `json:"run_id"`
		Status    string `json:"status"`
		Persisted bool   `json:"persisted"`
		Scenarios []struct {
			ScenarioID string `json:"scenario"`
			Status     string `json:"status"`
		} `json:"scenarios"`
	}
	decode(t, out, &run)
	if run.Status != "completed" || !run.Persisted {
		t.Errorf("run status = %q persisted = %v", run.Status, run.Persisted)
	}
	if len(run.Scenarios) != 2 {
		t.Fatalf("got %d scenarios, want 2", len(run.Scenarios))
	}
	for _, s := range run.Scenarios {
		if s.Status != "completed" {
			t.Errorf("scenario %s status = %q", s.ScenarioID, s.Status)
		}
	}
	for _, name := range []string{"scenario2.csv", "scenario2.png", "scenario4.csv", "scenario4.png"} {
		if _, err := os.Stat(filepath.Join(root, "out", name)); err != nil {
			t.Errorf("missing artifact %s: %v", name, err)
		}
	}

	out, err = execute(t, root, "runs", "list", "--json")
	if err != nil {
		t.Fatalf("runs list failed: %v", err)
	}
	var list struct {
		Count int `json:"count"`
		Runs  []struct {
			ID string `json:"id"`
		} `json:"runs"`
	}
	decode(t, out, &list)
	if list.Count != 1 || list.Runs[0].ID != run.RunID {
		t.Fatalf("runs list = %+v, want run %s", list, run.RunID)
	}

	out, err = execute(t, root, "runs", "show", run.RunID[:8])
	if err != nil {
		t.Fatalf("runs show failed: %v", err)
	}
	if !strings.Contains(out, "Run:         "+run.RunID) {
		t.Errorf("runs show output:\n%s", out)
	}

	archive := filepath.Join(root, "run.json")
	csvPath := filepath.Join(root, "s4.csv")
	if _, err := execute(t, root, "runs", "export", run.RunID[:8], "--archive", archive, "--scenario", "4", "--csv", csvPath); err != nil {
		t.Fatalf("runs export failed: %v", err)
	}
	data, err := os.ReadFile(csvPath)
	if err != nil {
		t.Fatalf("csv not written: %v", err)
	}
	// Header plus cycles 0..6.
	if n := strings.Count(string(data), "\n"); n != 8 {
		t.Errorf("csv has %d lines, want 8", n)
	}
	if _, err := os.Stat(archive); err != nil {
		t.Errorf("archive not written: %v", err)
	}
}

func TestRunCmd_NoPersist(t *testing.T) {
	root := setupRoot(t)

	out, err := execute(t, root, "run", "1", "--no-persist", "--output", "", "--cycles", "3")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !strings.Contains(out, "(completed)") {
		t.Errorf("output:\n%s", out)
	}
	if strings.Contains(out, "Recorded as run") || strings.Contains(out, "Artifacts:") {
		t.Errorf("unexpected persistence or artifacts:\n%s", out)
	}
	if _, err := os.Stat(filepath.Join(root, ".episim")); !os.IsNotExist(err) {
		t.Errorf("results store created with --no-persist: %v", err)
	}
}

func TestRunCmd_UnknownScenario(t *testing.T) {
	root := setupRoot(t)

	if _, err := execute(t, root, "run", "9", "--no-persist"); err == nil {
		t.Fatal("expected error for unknown scenario")
	}
}

func TestRunsExport_RequiresTarget(t *testing.T) {
	root := setupRoot(t)

	if _, err := execute(t, root, "runs", "export", "abc"); err == nil {
		t.Error("expected error with no export target")
	}
	if _, err := execute(t, root, "runs", "export", "abc", "--csv", "x.csv"); err == nil {
		t.Error("expected error for --csv without --scenario")
	}
}
