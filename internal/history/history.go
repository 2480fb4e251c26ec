// Package history keeps a SQLite catalog of completed reflow sessions.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/shaunagostinho/reflow-dash/internal/session"
)

const sqliteDriverName = "sqlite"

const schemaSessions = `
CREATE TABLE IF NOT EXISTS sessions (
    id          TEXT PRIMARY KEY,
    profile     TEXT NOT NULL,
    started_at  TEXT NOT NULL,
    ended_at    TEXT NOT NULL,
    samples     INTEGER NOT NULL,
    peak_actual REAL NOT NULL
);`

const schemaSamples = `
CREATE TABLE IF NOT EXISTS samples (
    session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
    seq        INTEGER NOT NULL,
    time_s     REAL NOT NULL,
    temp0      REAL NOT NULL,
    temp1      REAL NOT NULL,
    temp2      REAL NOT NULL,
    temp3      REAL NOT NULL,
    setpoint   REAL NOT NULL,
    actual     REAL NOT NULL,
    heat       INTEGER NOT NULL,
    fan        INTEGER NOT NULL,
    coldj      REAL NOT NULL,
    mode       TEXT NOT NULL,
    PRIMARY KEY (session_id, seq)
);`

const (
	insertSession = `INSERT INTO sessions (id, profile, started_at, ended_at, samples, peak_actual) VALUES (?, ?, ?, ?, ?, ?)`
	insertSample  = `INSERT INTO samples (session_id, seq, time_s, temp0, temp1, temp2, temp3, setpoint, actual, heat, fan, coldj, mode) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	selectRecent  = `SELECT id, profile, started_at, ended_at, samples, peak_actual FROM sessions ORDER BY ended_at DESC LIMIT ?`
)

// Summary describes one stored session.
type Summary struct {
	ID         string    `json:"id"`
	Profile    string    `json:"profile"`
	Started    time.Time `json:"started"`
	Ended      time.Time `json:"ended"`
	Samples    int       `json:"samples"`
	PeakActual float64   `json:"peakActual"`
}

// Store persists sessions to SQLite.
type Store struct {
	db *sql.DB
}

// Config holds history configuration.
type Config struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

// Open opens or creates the database at path and ensures the schema.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create dir for %q: %w", path, err)
	}
	db, err := sql.Open(sqliteDriverName, path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite at %q: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA foreign_keys = ON;",
		"PRAGMA busy_timeout = 5000;",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set %s: %w", pragma, err)
		}
	}
	for _, stmt := range []string{schemaSessions, schemaSamples} {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
	}
	return New(db), nil
}

// New wraps an already opened database.
func New(db *sql.DB) *Store { return &Store{db: db} }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Persist implements session.PersistenceWriter.
func (s *Store) Persist(sess *session.Session) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.Save(ctx, sess)
}

// Save stores a session and all of its samples in one transaction.
func (s *Store) Save(ctx context.Context, sess *session.Session) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("history: begin: %w", err)
	}
	defer tx.Rollback()

	peak := 0.0
	for i, smp := range sess.Samples {
		if i == 0 || smp.Actual > peak {
			peak = smp.Actual
		}
	}

	if _, err := tx.ExecContext(ctx, insertSession,
		sess.ID, sess.Profile,
		sess.Started.UTC().Format(time.RFC3339Nano), sess.Ended.UTC().Format(time.RFC3339Nano),
		len(sess.Samples), peak,
	); err != nil {
		return fmt.Errorf("history: insert session %s: %w", sess.ID, err)
	}

	if len(sess.Samples) > 0 {
		stmt, err := tx.PrepareContext(ctx, insertSample)
		if err != nil {
			return fmt.Errorf("history: prepare: %w", err)
		}
		defer stmt.Close()

		for i, smp := range sess.Samples {
			if _, err := stmt.ExecContext(ctx,
				sess.ID, i, smp.Time, smp.Temp0, smp.Temp1, smp.Temp2, smp.Temp3,
				smp.Set, smp.Actual, smp.Heat, smp.Fan, smp.ColdJ, string(smp.Mode),
			); err != nil {
				return fmt.Errorf("history: insert sample %d of %s: %w", i, sess.ID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("history: commit: %w", err)
	}
	return nil
}

// Recent returns up to limit sessions, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx, selectRecent, limit)
	if err != nil {
		return nil, fmt.Errorf("history: query: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			sum            Summary
			started, ended string
		)
		if err := rows.Scan(&sum.ID, &sum.Profile, &started, &ended, &sum.Samples, &sum.PeakActual); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		sum.Started, _ = time.Parse(time.RFC3339Nano, started)
		sum.Ended, _ = time.Parse(time.RFC3339Nano, ended)
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: rows: %w", err)
	}
	return out, nil
}
