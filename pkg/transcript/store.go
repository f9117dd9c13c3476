// Package transcript persists finished agent runs and their turns in SQLite.
package transcript

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-go-golems/marionette/pkg/inference/agentloop"
	"github.com/go-go-golems/marionette/pkg/turns"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// ErrNotFound is returned by Get for unknown run ids.
var ErrNotFound = errors.New("transcript not found")

// Record is one persisted run.
type Record struct {
	RunID      string
	Variant    string
	Task       string
	Outcome    string
	StopReason string
	Answer     string
	Iterations int
	Plan       []string
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
	// Turns is only filled by Get.
	Turns []turns.Turn
}

// FromResult builds a record from a loop result. runErr is the error Run returned, if any.
func FromResult(res *agentloop.Result, startedAt, finishedAt time.Time, runErr error) Record {
	r := Record{
		RunID:      res.RunID,
		Variant:    string(res.Variant),
		Task:       res.Task,
		Outcome:    string(res.Outcome),
		StopReason: string(res.StopReason),
		Answer:     res.Answer,
		Iterations: res.Iterations,
		Plan:       res.Plan,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
		Turns:      res.Turns,
	}
	if runErr != nil {
		r.Error = runErr.Error()
	}
	return r
}

type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path. ":memory:" is accepted for tests.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("transcript: db path is empty")
	}
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, errors.Wrapf(err, "create directory %s", dir)
			}
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	// an in-memory database only lives as long as its single connection
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "migrate transcript schema")
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
CREATE TABLE IF NOT EXISTS runs (
  id             TEXT PRIMARY KEY,
  variant        TEXT NOT NULL,
  task           TEXT NOT NULL,
  outcome        TEXT NOT NULL,
  stop_reason    TEXT NOT NULL,
  answer         TEXT,
  iterations     INTEGER NOT NULL,
  plan_json      TEXT,
  error          TEXT,
  started_at_ms  INTEGER NOT NULL,
  finished_at_ms INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS run_turns (
  run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
  seq    INTEGER NOT NULL,
  kind   TEXT NOT NULL,
  text   TEXT NOT NULL,
  PRIMARY KEY (run_id, seq)
);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at_ms);`)
	return err
}

// Save writes the record and its turns in one transaction, replacing an earlier record with the
// same id.
func (s *Store) Save(ctx context.Context, r Record) error {
	if r.RunID == "" {
		return errors.New("transcript: record has no run id")
	}
	var planJSON sql.NullString
	if r.Plan != nil {
		b, err := json.Marshal(r.Plan)
		if err != nil {
			return errors.Wrap(err, "encode plan")
		}
		planJSON = sql.NullString{String: string(b), Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM run_turns WHERE run_id = ?`, r.RunID); err != nil {
		return errors.Wrap(err, "delete previous turns")
	}
	if _, err := tx.ExecContext(ctx, `
INSERT OR REPLACE INTO runs (
  id, variant, task, outcome, stop_reason, answer, iterations, plan_json, error, started_at_ms, finished_at_ms
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID,
		r.Variant,
		r.Task,
		r.Outcome,
		r.StopReason,
		nullableString(r.Answer),
		r.Iterations,
		planJSON,
		nullableString(r.Error),
		r.StartedAt.UnixMilli(),
		r.FinishedAt.UnixMilli(),
	); err != nil {
		return errors.Wrap(err, "insert run")
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO run_turns (run_id, seq, kind, text) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return errors.Wrap(err, "prepare turn insert")
	}
	defer func() {
		_ = stmt.Close()
	}()
	for _, t := range r.Turns {
		if _, err := stmt.ExecContext(ctx, r.RunID, t.Sequence, string(t.Kind), t.Text); err != nil {
			return errors.Wrapf(err, "insert turn %d", t.Sequence)
		}
	}

	return errors.Wrap(tx.Commit(), "commit transcript")
}

const selectRun = `SELECT id, variant, task, outcome, stop_reason, answer, iterations, plan_json, error,
  started_at_ms, finished_at_ms FROM runs`

// List returns the most recent runs first, without their turns. limit <= 0 means no limit.
func (s *Store) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, selectRun+` ORDER BY started_at_ms DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list runs")
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []Record
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, errors.Wrap(rows.Err(), "list runs")
}

// Get returns a run together with its turns in sequence order.
func (s *Store) Get(ctx context.Context, runID string) (Record, error) {
	r, err := scanRun(s.db.QueryRowContext(ctx, selectRun+` WHERE id = ?`, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, errors.Wrapf(ErrNotFound, "run %s", runID)
	}
	if err != nil {
		return Record{}, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT seq, kind, text FROM run_turns WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return Record{}, errors.Wrap(err, "load turns")
	}
	defer func() {
		_ = rows.Close()
	}()
	for rows.Next() {
		var t turns.Turn
		var kind string
		if err := rows.Scan(&t.Sequence, &kind, &t.Text); err != nil {
			return Record{}, errors.Wrap(err, "scan turn")
		}
		t.Kind = turns.Kind(kind)
		r.Turns = append(r.Turns, t)
	}
	return r, errors.Wrap(rows.Err(), "load turns")
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (Record, error) {
	var r Record
	var answer, planJSON, errMsg sql.NullString
	var started, finished int64
	if err := row.Scan(&r.RunID, &r.Variant, &r.Task, &r.Outcome, &r.StopReason, &answer, &r.Iterations,
		&planJSON, &errMsg, &started, &finished); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, err
		}
		return Record{}, errors.Wrap(err, "scan run")
	}
	r.Answer = answer.String
	r.Error = errMsg.String
	r.StartedAt = time.UnixMilli(started)
	r.FinishedAt = time.UnixMilli(finished)
	if planJSON.Valid {
		if err := json.Unmarshal([]byte(planJSON.String), &r.Plan); err != nil {
			return Record{}, errors.Wrap(err, "decode plan")
		}
	}
	return r, nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
