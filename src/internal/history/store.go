// Package history persists what happened during experiment runs: one row
// per run and one row per model update, in a SQLite database shared by all
// experiments under the same output root.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mohammadijoo/Online_Modeling_GO/src/internal/modeling"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	plant       TEXT NOT NULL,
	controller  TEXT NOT NULL,
	config      TEXT NOT NULL,
	started_at  INTEGER NOT NULL,
	finished_at INTEGER
);
CREATE TABLE IF NOT EXISTS updates (
	run_id   TEXT NOT NULL REFERENCES runs(id),
	seq      INTEGER NOT NULL,
	episode  INTEGER NOT NULL,
	step     INTEGER NOT NULL,
	loss     REAL NOT NULL,
	val_loss REAL NOT NULL,
	at       INTEGER NOT NULL,
	PRIMARY KEY (run_id, seq)
);
CREATE INDEX IF NOT EXISTS idx_runs_name ON runs(name);
`

// ErrNoRun is returned when an update is recorded before BeginRun.
var ErrNoRun = errors.New("history: no active run")

// Run is one experiment execution.
type Run struct {
	ID         string
	Name       string
	Plant      string
	Controller string
	Config     string // YAML
	StartedAt  time.Time
	FinishedAt time.Time // zero while running
}

// Store is the run history database. It records the updates of one active
// run at a time.
type Store struct {
	db    *sql.DB
	runID string
	seq   int
}

// Open opens (and creates if needed) the database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("history: cannot create directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: cannot open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: cannot create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// BeginRun inserts r and makes it the run that updates are recorded for.
func (s *Store) BeginRun(ctx context.Context, r Run) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, name, plant, controller, config, started_at) VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.Name, r.Plant, r.Controller, r.Config, r.StartedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("history: cannot insert run: %w", err)
	}
	s.runID = r.ID
	s.seq = 0
	return nil
}

// RecordUpdate implements modeling.UpdateSink.
func (s *Store) RecordUpdate(ctx context.Context, u modeling.Update) error {
	if s.runID == "" {
		return ErrNoRun
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO updates (run_id, seq, episode, step, loss, val_loss, at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.runID, s.seq, u.Episode, u.Step, u.Loss, u.ValLoss, u.At.UnixNano())
	if err != nil {
		return fmt.Errorf("history: cannot insert update: %w", err)
	}
	s.seq++
	return nil
}

// FinishRun stamps the active run as finished.
func (s *Store) FinishRun(ctx context.Context, at time.Time) error {
	if s.runID == "" {
		return ErrNoRun
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE runs SET finished_at = ? WHERE id = ?`, at.UnixNano(), s.runID); err != nil {
		return fmt.Errorf("history: cannot finish run: %w", err)
	}
	s.runID = ""
	return nil
}

// Runs lists the runs of the named experiment, oldest first. An empty name
// lists every run.
func (s *Store) Runs(ctx context.Context, name string) ([]Run, error) {
	q := `SELECT id, name, plant, controller, config, started_at, finished_at FROM runs`
	var args []any
	if name != "" {
		q += ` WHERE name = ?`
		args = append(args, name)
	}
	q += ` ORDER BY started_at`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("history: cannot query runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			r        Run
			started  int64
			finished sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &r.Name, &r.Plant, &r.Controller, &r.Config, &started, &finished); err != nil {
			return nil, fmt.Errorf("history: cannot scan run: %w", err)
		}
		r.StartedAt = time.Unix(0, started)
		if finished.Valid {
			r.FinishedAt = time.Unix(0, finished.Int64)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Updates returns the updates of a run in the order they happened.
func (s *Store) Updates(ctx context.Context, runID string) ([]modeling.Update, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT episode, step, loss, val_loss, at FROM updates WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("history: cannot query updates: %w", err)
	}
	defer rows.Close()

	var out []modeling.Update
	for rows.Next() {
		var (
			u  modeling.Update
			at int64
		)
		if err := rows.Scan(&u.Episode, &u.Step, &u.Loss, &u.ValLoss, &at); err != nil {
			return nil, fmt.Errorf("history: cannot scan update: %w", err)
		}
		u.At = time.Unix(0, at)
		out = append(out, u)
	}
	return out, rows.Err()
}
