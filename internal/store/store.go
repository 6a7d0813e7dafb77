// Package store persists analysis runs in SQLite so results can be listed
// and compared across samples and reruns.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/flywind2/t-cell-data/internal/domain"
)

// ErrNotFound is returned when a run ID does not exist.
var ErrNotFound = errors.New("store: run not found")

// Store is a SQLite-backed run archive.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		sample_id TEXT NOT NULL,
		source TEXT NOT NULL DEFAULT '',
		events INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		config_hash TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS populations (
		run_id TEXT NOT NULL,
		path TEXT NOT NULL,
		parent TEXT NOT NULL DEFAULT '',
		count INTEGER NOT NULL,
		freq_total REAL NOT NULL,
		freq_parent REAL NOT NULL,
		PRIMARY KEY (run_id, path),
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_runs_sample ON runs(sample_id);
	CREATE INDEX IF NOT EXISTS idx_populations_path ON populations(path);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// Run is one archived analysis.
type Run struct {
	ID         string
	SampleID   string
	Source     string
	Events     int
	CreatedAt  time.Time
	ConfigHash string
}

// SaveRun archives a run and its population table in one transaction. A
// missing ID gets a fresh UUID and a zero CreatedAt is stamped now; the
// stored run is returned.
func (s *Store) SaveRun(ctx context.Context, run Run, table *domain.PopulationTable) (Run, error) {
	if table == nil {
		return Run{}, fmt.Errorf("store: nil table")
	}
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = domain.Now()
	}
	if run.SampleID == "" {
		run.SampleID = table.SampleID
	}
	if run.Events == 0 {
		run.Events = table.Events
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Run{}, fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, sample_id, source, events, created_at, config_hash)
		VALUES (?, ?, ?, ?, ?, ?)
	`, run.ID, run.SampleID, run.Source, run.Events, run.CreatedAt.UTC(), run.ConfigHash)
	if err != nil {
		return Run{}, fmt.Errorf("store: insert run: %w", err)
	}

	for _, row := range table.Rows {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO populations (run_id, path, parent, count, freq_total, freq_parent)
			VALUES (?, ?, ?, ?, ?, ?)
		`, run.ID, row.Path, parentPath(row.Path), row.Count, row.Frequency, row.ParentFreq)
		if err != nil {
			return Run{}, fmt.Errorf("store: insert population %s: %w", row.Path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Run{}, fmt.Errorf("store: commit: %w", err)
	}
	return run, nil
}

// GetRun loads one run and rebuilds its population table. Medians are not
// archived, so returned rows carry counts and frequencies only.
func (s *Store) GetRun(ctx context.Context, id string) (Run, *domain.PopulationTable, error) {
	var run Run
	err := s.db.QueryRowContext(ctx, `
		SELECT id, sample_id, source, events, created_at, config_hash
		FROM runs WHERE id = ?
	`, id).Scan(&run.ID, &run.SampleID, &run.Source, &run.Events, &run.CreatedAt, &run.ConfigHash)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Run{}, nil, fmt.Errorf("store: query run: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT path, count, freq_total, freq_parent
		FROM populations WHERE run_id = ? ORDER BY rowid
	`, id)
	if err != nil {
		return Run{}, nil, fmt.Errorf("store: query populations: %w", err)
	}
	defer rows.Close()

	table := &domain.PopulationTable{SampleID: run.SampleID, Events: run.Events}
	for rows.Next() {
		var stat domain.PopulationStat
		if err := rows.Scan(&stat.Path, &stat.Count, &stat.Frequency, &stat.ParentFreq); err != nil {
			return Run{}, nil, fmt.Errorf("store: scan population: %w", err)
		}
		stat.Name = stat.Path[strings.LastIndex(stat.Path, "/")+1:]
		table.Rows = append(table.Rows, stat)
	}
	if err := rows.Err(); err != nil {
		return Run{}, nil, fmt.Errorf("store: populations: %w", err)
	}
	return run, table, nil
}

// ListRuns returns the most recent runs, newest first. limit <= 0 lists
// everything.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	q := `
		SELECT id, sample_id, source, events, created_at, config_hash
		FROM runs ORDER BY created_at DESC, id
	`
	args := []any{}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		if err := rows.Scan(&run.ID, &run.SampleID, &run.Source, &run.Events, &run.CreatedAt, &run.ConfigHash); err != nil {
			return nil, fmt.Errorf("store: scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// HistoryPoint is one run's measurement of a population.
type HistoryPoint struct {
	RunID      string
	SampleID   string
	CreatedAt  time.Time
	Count      int
	FreqTotal  float64
	FreqParent float64
}

// PopulationHistory returns every archived measurement of one population
// path across runs, oldest first, for longitudinal comparison.
func (s *Store) PopulationHistory(ctx context.Context, path string) ([]HistoryPoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.run_id, r.sample_id, r.created_at, p.count, p.freq_total, p.freq_parent
		FROM populations p JOIN runs r ON r.id = p.run_id
		WHERE p.path = ?
		ORDER BY r.created_at, r.id
	`, domain.NormalizePath(path))
	if err != nil {
		return nil, fmt.Errorf("store: history: %w", err)
	}
	defer rows.Close()

	var points []HistoryPoint
	for rows.Next() {
		var p HistoryPoint
		if err := rows.Scan(&p.RunID, &p.SampleID, &p.CreatedAt, &p.Count, &p.FreqTotal, &p.FreqParent); err != nil {
			return nil, fmt.Errorf("store: scan history: %w", err)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

func parentPath(path string) string {
	i := strings.LastIndex(path, "/")
	if i <= 0 {
		return ""
	}
	return path[:i]
}
