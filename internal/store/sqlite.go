package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	simerr "github.com/nvandessel/episim/internal/errors"
	"github.com/nvandessel/episim/internal/scenario"
	"github.com/nvandessel/episim/internal/stats"
)

// SQLiteStore stores runs in a SQLite database. It is safe for concurrent
// use; writes are serialized.
type SQLiteStore struct {
	mu     sync.Mutex
	db     *sql.DB
	dbPath string
	now    func() time.Time
}

// Open opens or creates the results store at <projectRoot>/.episim/episim.db.
func Open(projectRoot string) (*SQLiteStore, error) {
	dir := LocalPath(projectRoot)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create %s directory: %w", filepath.Base(dir), err)
	}
	return OpenPath(DatabasePath(projectRoot))
}

// OpenPath opens or creates a results store at dbPath.
func OpenPath(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite works best with single writer
	db.SetMaxOpenConns(1)

	if err := InitSchema(context.Background(), db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &SQLiteStore{db: db, dbPath: dbPath, now: time.Now}, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.dbPath }

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// timeLayout has fixed-width fractions so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func (s *SQLiteStore) timestamp() string {
	return s.now().UTC().Format(timeLayout)
}

// CreateRun inserts a new run in the running state and returns its ID.
func (s *SQLiteStore) CreateRun(ctx context.Context, meta RunMeta) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	planned, err := json.Marshal(nonNil(meta.Scenarios))
	if err != nil {
		return "", err
	}
	var cfg sql.NullString
	if meta.Config != nil {
		data, err := json.Marshal(meta.Config)
		if err != nil {
			return "", fmt.Errorf("failed to encode config snapshot: %w", err)
		}
		cfg = sql.NullString{String: string(data), Valid: true}
	}

	id := uuid.NewString()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, status, seed, cycles, concurrency, planned, config)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, s.timestamp(), RunRunning, strconv.FormatUint(meta.Seed, 10),
		meta.Cycles, meta.Concurrency, string(planned), cfg)
	if err != nil {
		return "", simerr.WrapError(simerr.ErrStore, err, "create run")
	}
	return id, nil
}

// FinishRun sets a run's final status and finish time.
func (s *SQLiteStore) FinishRun(ctx context.Context, runID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `UPDATE runs SET status = ?, finished_at = ? WHERE id = ?`,
		status, s.timestamp(), runID)
	if err != nil {
		return simerr.WrapError(simerr.ErrStore, err, "finish run")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound(runID)
	}
	return nil
}

// RecordResult stores one scenario outcome and, for completed scenarios,
// its cycle series, in a single transaction. Recording the same scenario
// twice replaces the earlier record.
func (s *SQLiteStore) RecordResult(ctx context.Context, runID string, res scenario.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := recordFromResult(res)
	final, err := json.Marshal(rec.Summary.Final)
	if err != nil {
		return err
	}
	policies, err := json.Marshal(nonNil(rec.Policies))
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return simerr.WrapError(simerr.ErrStore, err, "begin transaction")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM scenario_results WHERE run_id = ? AND scenario_id = ?`,
		runID, rec.ScenarioID); err != nil {
		return simerr.WrapError(simerr.ErrStore, err, "replace scenario result")
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO scenario_results (
			run_id, scenario_id, name, status, phase, failed_cycle, error,
			cycles, peak_infected, peak_cycle, final_counts, policies,
			csv_path, chart_path, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, rec.ScenarioID, rec.Name, rec.Status,
		nullString(rec.Phase), nullInt(rec.FailedCycle), nullString(rec.Error),
		rec.Summary.Cycles, rec.Summary.PeakInfected, rec.Summary.PeakCycle,
		string(final), string(policies),
		nullString(rec.CSVPath), nullString(rec.ChartPath), s.timestamp())
	if err != nil {
		return simerr.WrapError(simerr.ErrStore, err, "insert scenario result")
	}

	if res.Err == nil {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO cycle_stats (
				run_id, scenario_id, cycle, susceptible, latent, contagious,
				symptomatic, recovered, dead, hospitalized,
				symptomatic_isolation, asymptomatic_isolation
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return simerr.WrapError(simerr.ErrStore, err, "prepare cycle insert")
		}
		defer stmt.Close()
		for _, snap := range res.Series {
			c := snap.Counts
			if _, err := stmt.ExecContext(ctx, runID, rec.ScenarioID, snap.Cycle,
				c.Susceptible, c.Latent, c.Contagious, c.Symptomatic, c.Recovered, c.Dead, c.Hospitalized,
				snap.SymptomaticIsolation, snap.AsymptomaticIsolation); err != nil {
				return simerr.WrapError(simerr.ErrStore, err, fmt.Sprintf("insert cycle %d", snap.Cycle))
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return simerr.WrapError(simerr.ErrStore, err, "commit scenario result")
	}
	return nil
}

func recordFromResult(res scenario.Result) ScenarioRecord {
	rec := ScenarioRecord{
		ScenarioID: res.ScenarioID,
		Name:       res.Name,
		Status:     ScenarioCompleted,
		Summary:    res.Summary,
		Policies:   res.Policies,
		CSVPath:    res.CSVPath,
		ChartPath:  res.ChartPath,
	}
	if res.Err == nil {
		return rec
	}

	rec.Status = ScenarioFailed
	rec.Error = res.Err.Error()
	var f *scenario.Failure
	if errors.As(res.Err, &f) {
		rec.Phase = f.Phase
		rec.FailedCycle = f.Cycle
		if f.Phase == scenario.PhaseSkipped {
			rec.Status = ScenarioSkipped
		}
	}
	// A failed scenario keeps no partial statistics.
	rec.Summary = stats.Summary{}
	rec.Policies = nil
	rec.CSVPath, rec.ChartPath = "", ""
	return rec
}

const runColumns = `id, started_at, finished_at, status, seed, cycles, concurrency, planned, config`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var (
		r                   Run
		started, seed, plan string
		finished, cfg       sql.NullString
	)
	if err := row.Scan(&r.ID, &started, &finished, &r.Status, &seed, &r.Cycles, &r.Concurrency, &plan, &cfg); err != nil {
		return Run{}, err
	}
	r.StartedAt, _ = time.Parse(timeLayout, started)
	if finished.Valid {
		t, err := time.Parse(timeLayout, finished.String)
		if err == nil {
			r.FinishedAt = &t
		}
	}
	r.Seed, _ = strconv.ParseUint(seed, 10, 64)
	if err := json.Unmarshal([]byte(plan), &r.Planned); err != nil {
		return Run{}, fmt.Errorf("failed to decode planned scenarios: %w", err)
	}
	r.Config = cfg.String
	return r, nil
}

// ListRuns returns runs, newest first. A limit of zero or less means all.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC, id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, simerr.WrapError(simerr.ErrStore, err, "list runs")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, simerr.WrapError(simerr.ErrStore, err, "scan run")
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// ResolveRunID expands a unique ID prefix to the full run ID.
func (s *SQLiteStore) ResolveRunID(ctx context.Context, prefix string) (string, error) {
	if prefix == "" {
		return "", notFound(prefix)
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM runs WHERE substr(id, 1, ?) = ? LIMIT 2`, len(prefix), prefix)
	if err != nil {
		return "", simerr.WrapError(simerr.ErrStore, err, "resolve run id")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return "", err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	switch len(ids) {
	case 0:
		return "", notFound(prefix)
	case 1:
		return ids[0], nil
	default:
		return "", simerr.ErrStore.GenWithStackByArgs(fmt.Sprintf("run id prefix %s is ambiguous", prefix))
	}
}

// GetRun returns a run and its scenario records. id may be a unique prefix.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	full, err := s.ResolveRunID(ctx, id)
	if err != nil {
		return nil, err
	}

	r, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, full))
	if err != nil {
		return nil, simerr.WrapError(simerr.ErrStore, err, "get run")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT scenario_id, name, status, phase, failed_cycle, error,
		       cycles, peak_infected, peak_cycle, final_counts, policies,
		       csv_path, chart_path, recorded_at
		FROM scenario_results WHERE run_id = ? ORDER BY recorded_at, scenario_id`, full)
	if err != nil {
		return nil, simerr.WrapError(simerr.ErrStore, err, "list scenario results")
	}
	defer rows.Close()

	for rows.Next() {
		var (
			rec                          ScenarioRecord
			phase, errText, csvP, chartP sql.NullString
			final, policies              sql.NullString
			failedCycle                  sql.NullInt64
			recorded                     string
		)
		if err := rows.Scan(&rec.ScenarioID, &rec.Name, &rec.Status, &phase, &failedCycle, &errText,
			&rec.Summary.Cycles, &rec.Summary.PeakInfected, &rec.Summary.PeakCycle, &final, &policies,
			&csvP, &chartP, &recorded); err != nil {
			return nil, simerr.WrapError(simerr.ErrStore, err, "scan scenario result")
		}
		rec.Phase, rec.Error = phase.String, errText.String
		rec.FailedCycle = int(failedCycle.Int64)
		rec.CSVPath, rec.ChartPath = csvP.String, chartP.String
		rec.RecordedAt, _ = time.Parse(timeLayout, recorded)
		if final.Valid {
			if err := json.Unmarshal([]byte(final.String), &rec.Summary.Final); err != nil {
				return nil, fmt.Errorf("failed to decode final counts: %w", err)
			}
		}
		if policies.Valid {
			if err := json.Unmarshal([]byte(policies.String), &rec.Policies); err != nil {
				return nil, fmt.Errorf("failed to decode policies: %w", err)
			}
			if len(rec.Policies) == 0 {
				rec.Policies = nil
			}
		}
		r.Scenarios = append(r.Scenarios, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &r, nil
}

// CycleStats returns the stored series of one scenario, oldest first.
func (s *SQLiteStore) CycleStats(ctx context.Context, runID, scenarioID string) ([]stats.Snapshot, error) {
	full, err := s.ResolveRunID(ctx, runID)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT cycle, susceptible, latent, contagious, symptomatic, recovered, dead,
		       hospitalized, symptomatic_isolation, asymptomatic_isolation
		FROM cycle_stats WHERE run_id = ? AND scenario_id = ? ORDER BY cycle`, full, scenarioID)
	if err != nil {
		return nil, simerr.WrapError(simerr.ErrStore, err, "query cycle stats")
	}
	defer rows.Close()

	var series []stats.Snapshot
	for rows.Next() {
		var snap stats.Snapshot
		c := &snap.Counts
		if err := rows.Scan(&snap.Cycle, &c.Susceptible, &c.Latent, &c.Contagious, &c.Symptomatic,
			&c.Recovered, &c.Dead, &c.Hospitalized, &snap.SymptomaticIsolation, &snap.AsymptomaticIsolation); err != nil {
			return nil, simerr.WrapError(simerr.ErrStore, err, "scan cycle stats")
		}
		series = append(series, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(series) == 0 {
		return nil, simerr.ErrStore.GenWithStackByArgs(fmt.Sprintf("no statistics for scenario %s in run %s", scenarioID, full))
	}
	return series, nil
}

func notFound(id string) error {
	return simerr.ErrStore.GenWithStackByArgs(fmt.Sprintf("run %s not found", id))
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(n int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(n), Valid: n != 0}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
