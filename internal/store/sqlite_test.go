package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nvandessel/episim/internal/epidemic"
	simerr "github.com/nvandessel/episim/internal/errors"
	"github.com/nvandessel/episim/internal/policy"
	"github.com/nvandessel/episim/internal/scenario"
	"github.com/nvandessel/episim/internal/stats"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testSeries(cycles int) []stats.Snapshot {
	series := make([]stats.Snapshot, 0, cycles+1)
	for c := range cycles + 1 {
		snap := stats.Snapshot{
			Cycle: c,
			Counts: epidemic.Counts{
				Susceptible: 100 - 2*c,
				Contagious:  c,
				Recovered:   c,
			},
		}
		if c >= 2 {
			snap.SymptomaticIsolation = 0.9
			snap.AsymptomaticIsolation = 0.8
		}
		series = append(series, snap)
	}
	return series
}

func completedResult(id string, cycles int) scenario.Result {
	series := testSeries(cycles)
	return scenario.Result{
		ScenarioID: id,
		Name:       "scenario " + id,
		Cycles:     cycles,
		Summary:    stats.Summarize(series),
		Series:     series,
		Policies: []scenario.PolicyOutcome{{
			GroupID: "population",
			State:   policy.Restricting.String(),
			History: []policy.Transition{{Cycle: 1, From: policy.Inactive, To: policy.Restricting, Fraction: 0.12}},
		}},
		CSVPath:   "out/scenario" + id + ".csv",
		ChartPath: "out/scenario" + id + ".png",
	}
}

func TestOpen_CreatesDatabase(t *testing.T) {
	root := t.TempDir()
	s, err := Open(root)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Close()

	if s.Path() != filepath.Join(root, ".episim", "episim.db") {
		t.Errorf("Path() = %q", s.Path())
	}
	if _, err := os.Stat(s.Path()); err != nil {
		t.Errorf("database file not created: %v", err)
	}
}

func TestOpen_ReopenKeepsRuns(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()

	s, err := Open(root)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	id, err := s.CreateRun(ctx, RunMeta{Seed: 1, Cycles: 10, Concurrency: 1, Scenarios: []string{"1"}})
	if err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}
	s.Close()

	s, err = Open(root)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer s.Close()
	if _, err := s.GetRun(ctx, id); err != nil {
		t.Errorf("GetRun() after reopen error = %v", err)
	}
}

func TestRunLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	const seed = math.MaxUint64 - 7
	id, err := s.CreateRun(ctx, RunMeta{
		Seed:        seed,
		Cycles:      5,
		Concurrency: 2,
		Scenarios:   []string{"1", "2"},
		Config:      map[string]any{"simulation": map[string]any{"cycles": 5}},
	})
	if err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}

	if err := s.RecordResult(ctx, id, completedResult("1", 5)); err != nil {
		t.Fatalf("RecordResult(1) error = %v", err)
	}
	failed := scenario.Result{
		ScenarioID: "2",
		Name:       "scenario 2",
		Err:        &scenario.Failure{ScenarioID: "2", Phase: scenario.PhaseCycle, Cycle: 3, Err: errors.New("boom")},
	}
	if err := s.RecordResult(ctx, id, failed); err != nil {
		t.Fatalf("RecordResult(2) error = %v", err)
	}
	if err := s.FinishRun(ctx, id, RunFailed); err != nil {
		t.Fatalf("FinishRun() error = %v", err)
	}

	run, err := s.GetRun(ctx, id)
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if run.Seed != seed {
		t.Errorf("Seed = %d, want %d", run.Seed, uint64(seed))
	}
	if run.Status != RunFailed || run.FinishedAt == nil {
		t.Errorf("Status = %q, FinishedAt = %v", run.Status, run.FinishedAt)
	}
	if strings.Join(run.Planned, ",") != "1,2" {
		t.Errorf("Planned = %v", run.Planned)
	}
	if !strings.Contains(run.Config, `"cycles":5`) {
		t.Errorf("Config = %q", run.Config)
	}
	if len(run.Scenarios) != 2 {
		t.Fatalf("len(Scenarios) = %d, want 2", len(run.Scenarios))
	}

	byID := map[string]ScenarioRecord{}
	for _, rec := range run.Scenarios {
		byID[rec.ScenarioID] = rec
	}
	ok := byID["1"]
	if ok.Status != ScenarioCompleted || ok.Summary.Cycles != 5 || ok.Summary.Final.Recovered != 5 {
		t.Errorf("completed record = %+v", ok)
	}
	if ok.PolicyState() != "restricting" || len(ok.Policies[0].History) != 1 {
		t.Errorf("Policies = %+v", ok.Policies)
	}
	if ok.CSVPath != "out/scenario1.csv" {
		t.Errorf("CSVPath = %q", ok.CSVPath)
	}

	bad := byID["2"]
	if bad.Status != ScenarioFailed || bad.Phase != scenario.PhaseCycle || bad.FailedCycle != 3 {
		t.Errorf("failed record = %+v", bad)
	}
	if !strings.Contains(bad.Error, "boom") {
		t.Errorf("Error = %q", bad.Error)
	}

	if _, err := s.CycleStats(ctx, id, "2"); !simerr.Is(err, simerr.ErrStore) {
		t.Errorf("CycleStats(failed) error = %v, want ErrStore", err)
	}
}

func TestRecordResult_SkippedScenario(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id, err := s.CreateRun(ctx, RunMeta{Cycles: 5, Concurrency: 1, Scenarios: []string{"1"}})
	if err != nil {
		t.Fatal(err)
	}

	skipped := scenario.Result{
		ScenarioID: "1",
		Err:        &scenario.Failure{ScenarioID: "1", Phase: scenario.PhaseSkipped, Err: context.Canceled},
	}
	if err := s.RecordResult(ctx, id, skipped); err != nil {
		t.Fatalf("RecordResult() error = %v", err)
	}
	run, err := s.GetRun(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if got := run.Scenarios[0].Status; got != ScenarioSkipped {
		t.Errorf("Status = %q, want %q", got, ScenarioSkipped)
	}
}

func TestRecordResult_Replaces(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id, err := s.CreateRun(ctx, RunMeta{Cycles: 5, Concurrency: 1, Scenarios: []string{"1"}})
	if err != nil {
		t.Fatal(err)
	}

	if err := s.RecordResult(ctx, id, completedResult("1", 5)); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordResult(ctx, id, completedResult("1", 3)); err != nil {
		t.Fatalf("second RecordResult() error = %v", err)
	}
	series, err := s.CycleStats(ctx, id, "1")
	if err != nil {
		t.Fatal(err)
	}
	if len(series) != 4 {
		t.Errorf("len(series) = %d, want 4", len(series))
	}
}

func TestRecordResult_UnknownRun(t *testing.T) {
	s := openTestStore(t)
	err := s.RecordResult(context.Background(), "missing", completedResult("1", 2))
	if !simerr.Is(err, simerr.ErrStore) {
		t.Errorf("RecordResult() error = %v, want ErrStore", err)
	}
}

func TestCycleStats_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id, err := s.CreateRun(ctx, RunMeta{Cycles: 4, Concurrency: 1, Scenarios: []string{"1"}})
	if err != nil {
		t.Fatal(err)
	}
	res := completedResult("1", 4)
	if err := s.RecordResult(ctx, id, res); err != nil {
		t.Fatal(err)
	}

	got, err := s.CycleStats(ctx, id[:8], "1")
	if err != nil {
		t.Fatalf("CycleStats() error = %v", err)
	}
	if len(got) != len(res.Series) {
		t.Fatalf("len = %d, want %d", len(got), len(res.Series))
	}
	for i := range got {
		if got[i] != res.Series[i] {
			t.Errorf("snapshot %d = %+v, want %+v", i, got[i], res.Series[i])
		}
	}
}

func TestListRuns(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var ids []string
	for i := range 3 {
		s.now = func() time.Time { return base.Add(time.Duration(i) * time.Hour) }
		id, err := s.CreateRun(ctx, RunMeta{Seed: uint64(i), Cycles: 1, Concurrency: 1})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
	}

	runs, err := s.ListRuns(ctx, 0)
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("len(runs) = %d, want 3", len(runs))
	}
	if runs[0].ID != ids[2] || runs[2].ID != ids[0] {
		t.Errorf("runs not newest first: %v", []string{runs[0].ID, runs[1].ID, runs[2].ID})
	}
	if runs[0].Status != RunRunning || runs[0].Planned == nil {
		t.Errorf("run = %+v", runs[0])
	}

	limited, err := s.ListRuns(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 2 {
		t.Errorf("len(limited) = %d, want 2", len(limited))
	}
}

func TestGetRun_NotFound(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.GetRun(ctx, "nope"); !simerr.Is(err, simerr.ErrStore) {
		t.Errorf("GetRun() error = %v, want ErrStore", err)
	}
	if err := s.FinishRun(ctx, "nope", RunCompleted); !simerr.Is(err, simerr.ErrStore) {
		t.Errorf("FinishRun() error = %v, want ErrStore", err)
	}
}

func TestResolveRunID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id, err := s.CreateRun(ctx, RunMeta{Cycles: 1, Concurrency: 1})
	if err != nil {
		t.Fatal(err)
	}

	got, err := s.ResolveRunID(ctx, id[:6])
	if err != nil {
		t.Fatalf("ResolveRunID() error = %v", err)
	}
	if got != id {
		t.Errorf("ResolveRunID() = %q, want %q", got, id)
	}
	if _, err := s.ResolveRunID(ctx, ""); err == nil {
		t.Error("expected error for empty prefix")
	}
}

func TestExportRunJSON(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id, err := s.CreateRun(ctx, RunMeta{Seed: 42, Cycles: 3, Concurrency: 1, Scenarios: []string{"1", "2"}})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.RecordResult(ctx, id, completedResult("1", 3)); err != nil {
		t.Fatal(err)
	}
	failed := scenario.Result{ScenarioID: "2", Err: &scenario.Failure{ScenarioID: "2", Phase: scenario.PhaseExport, Err: fmt.Errorf("disk full")}}
	if err := s.RecordResult(ctx, id, failed); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "exports", "run.json")
	if err := s.ExportRunJSON(ctx, id, path); err != nil {
		t.Fatalf("ExportRunJSON() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var archive RunArchive
	if err := json.Unmarshal(data, &archive); err != nil {
		t.Fatalf("archive is not valid JSON: %v", err)
	}
	if archive.Version != ArchiveVersion || archive.Run.ID != id || archive.Run.Seed != 42 {
		t.Errorf("archive header = %+v", archive)
	}
	if len(archive.Series["1"]) != 4 {
		t.Errorf("len(Series[1]) = %d, want 4", len(archive.Series["1"]))
	}
	if _, ok := archive.Series["2"]; ok {
		t.Error("failed scenario should have no series")
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("export left %d files, want 1", len(entries))
	}
}

func TestExportScenarioCSV(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id, err := s.CreateRun(ctx, RunMeta{Cycles: 2, Concurrency: 1, Scenarios: []string{"1"}})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.RecordResult(ctx, id, completedResult("1", 2)); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "scenario1.csv")
	if err := s.ExportScenarioCSV(ctx, id, "1", path); err != nil {
		t.Fatalf("ExportScenarioCSV() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 4 {
		t.Errorf("got %d lines, want header + 3 rows", len(lines))
	}
	if !strings.HasPrefix(lines[0], "cycle,") {
		t.Errorf("header = %q", lines[0])
	}
}
