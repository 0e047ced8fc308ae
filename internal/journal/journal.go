// Package journal persists boot runs and module state transitions to SQLite
// so `anvil status` can report on the last boot after the process exits.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/watzon/anvil/internal/config"
	"github.com/watzon/anvil/internal/journal/migrations"
	"github.com/watzon/anvil/internal/plugin"
)

var ErrNoRuns = errors.New("no boot runs recorded")

// Run is one recorded boot.
type Run struct {
	ID         string     `json:"id" yaml:"id"`
	Entry      string     `json:"entry" yaml:"entry"`
	StartedAt  time.Time  `json:"started_at" yaml:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
	Outcome    string     `json:"outcome" yaml:"outcome"`
	Error      string     `json:"error,omitempty" yaml:"error,omitempty"`
}

// Transition is one module state change within a run.
type Transition struct {
	Module string    `json:"module" yaml:"module"`
	From   string    `json:"from" yaml:"from"`
	To     string    `json:"to" yaml:"to"`
	Error  string    `json:"error,omitempty" yaml:"error,omitempty"`
	At     time.Time `json:"at" yaml:"at"`
}

const outcomeRunning = "running"

// Fixed-width so timestamps sort lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

// Journal records boot runs and module transitions in a SQLite database.
type Journal struct {
	db     *sql.DB
	mu     sync.Mutex
	closed bool
}

// Open opens the journal database at cfg.Path and applies pending migrations.
func Open(cfg config.JournalConfig) (*Journal, error) {
	if err := ensureDir(cfg.Path); err != nil {
		return nil, fmt.Errorf("creating journal directory: %w", err)
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := configure(db, cfg); err != nil {
		db.Close()
		return nil, fmt.Errorf("configuring journal: %w", err)
	}

	if err := migrations.Run(context.Background(), db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Journal{db: db}, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func configure(db *sql.DB, cfg config.JournalConfig) error {
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("executing %q: %w", pragma, err)
		}
	}
	return nil
}

// Close closes the database. Calling Close again is a no-op.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}
	j.closed = true

	_, _ = j.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return j.db.Close()
}

// Begin records the start of a boot through entry and returns a Recorder
// to attach to the sequencer.
func (j *Journal) Begin(ctx context.Context, entry string) (*Recorder, error) {
	id := uuid.New().String()
	if _, err := j.db.ExecContext(ctx, `
		INSERT INTO boot_runs (id, entry, started_at, outcome) VALUES (?, ?, ?, ?)
	`, id, entry, now(), outcomeRunning); err != nil {
		return nil, fmt.Errorf("recording boot run: %w", err)
	}

	log.Debug().Str("run", id).Str("entry", entry).Msg("Boot run started")
	return &Recorder{journal: j, id: id}, nil
}

// Runs returns up to limit runs, newest first. A limit of zero or less
// returns every run.
func (j *Journal) Runs(ctx context.Context, limit int) ([]Run, error) {
	query := `SELECT id, entry, started_at, finished_at, outcome, error FROM boot_runs ORDER BY started_at DESC, rowid DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Last returns the most recent run, or ErrNoRuns.
func (j *Journal) Last(ctx context.Context) (Run, error) {
	runs, err := j.Runs(ctx, 1)
	if err != nil {
		return Run{}, err
	}
	if len(runs) == 0 {
		return Run{}, ErrNoRuns
	}
	return runs[0], nil
}

// Transitions returns the transitions recorded for runID in order.
func (j *Journal) Transitions(ctx context.Context, runID string) ([]Transition, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT module, from_state, to_state, error, at
		FROM module_transitions WHERE run_id = ? ORDER BY id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("querying transitions: %w", err)
	}
	defer rows.Close()

	var out []Transition
	for rows.Next() {
		var (
			t      Transition
			errMsg sql.NullString
			at     string
		)
		if err := rows.Scan(&t.Module, &t.From, &t.To, &errMsg, &at); err != nil {
			return nil, fmt.Errorf("scanning transition: %w", err)
		}
		t.Error = errMsg.String
		t.At = parseTime(at)
		out = append(out, t)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var (
		run      Run
		started  string
		finished sql.NullString
		errMsg   sql.NullString
	)
	if err := row.Scan(&run.ID, &run.Entry, &started, &finished, &run.Outcome, &errMsg); err != nil {
		return Run{}, fmt.Errorf("scanning run: %w", err)
	}
	run.StartedAt = parseTime(started)
	if finished.Valid {
		t := parseTime(finished.String)
		run.FinishedAt = &t
	}
	run.Error = errMsg.String
	return run, nil
}

func now() string {
	return time.Now().UTC().Format(timeFormat)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeFormat, s)
	return t
}

func nullable(err error) sql.NullString {
	if err == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: err.Error(), Valid: true}
}

// Recorder writes the transitions of a single run. It implements
// plugin.Observer.
type Recorder struct {
	journal *Journal
	id      string
}

var _ plugin.Observer = (*Recorder)(nil)

func (r *Recorder) ID() string { return r.id }

func (r *Recorder) ModuleTransition(m *plugin.Module, from, to plugin.State, err error) {
	if _, dbErr := r.journal.db.Exec(`
		INSERT INTO module_transitions (run_id, module, from_state, to_state, error, at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, r.id, m.ID(), from.String(), to.String(), nullable(err), now()); dbErr != nil {
		log.Warn().Err(dbErr).Str("run", r.id).Str("module", m.ID()).Msg("Failed to journal transition")
	}
}

// Finish records the outcome of the run.
func (r *Recorder) Finish(ctx context.Context, outcome string, err error) error {
	if _, dbErr := r.journal.db.ExecContext(ctx, `
		UPDATE boot_runs SET finished_at = ?, outcome = ?, error = ? WHERE id = ?
	`, now(), outcome, nullable(err), r.id); dbErr != nil {
		return fmt.Errorf("finishing boot run: %w", dbErr)
	}
	log.Debug().Str("run", r.id).Str("outcome", outcome).Msg("Boot run finished")
	return nil
}
