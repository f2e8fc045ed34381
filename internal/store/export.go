package store

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/nvandessel/episim/internal/stats"
)

// Archive assembles a run and the series of each of its completed
// scenarios.
func (s *SQLiteStore) Archive(ctx context.Context, runID string) (*RunArchive, error) {
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	archive := &RunArchive{
		Version:    ArchiveVersion,
		ExportedAt: s.now().UTC(),
		Run:        *run,
		Series:     make(map[string][]stats.Snapshot),
	}
	for _, rec := range run.Scenarios {
		if rec.Status != ScenarioCompleted {
			continue
		}
		series, err := s.CycleStats(ctx, run.ID, rec.ScenarioID)
		if err != nil {
			return nil, err
		}
		archive.Series[rec.ScenarioID] = series
	}
	return archive, nil
}

// ExportRunJSON writes the archive of a run to path as indented JSON.
func (s *SQLiteStore) ExportRunJSON(ctx context.Context, runID, path string) error {
	archive, err := s.Archive(ctx, runID)
	if err != nil {
		return err
	}
	return writeAtomic(path, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(archive)
	})
}

// ExportScenarioCSV rewrites the stored series of one scenario as CSV.
func (s *SQLiteStore) ExportScenarioCSV(ctx context.Context, runID, scenarioID, path string) error {
	series, err := s.CycleStats(ctx, runID, scenarioID)
	if err != nil {
		return err
	}
	return writeAtomic(path, func(w io.Writer) error {
		return stats.WriteCSV(w, series)
	})
}

func writeAtomic(path string, write func(io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create export directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := write(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
