package runlog

// Package runlog keeps a small sqlite ledger of detectability runs so the web
// viewer can list them and find their prediction files.

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"dmsp/internal/stats"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Run states.
const (
	StateQueued  = "queued"
	StateRunning = "running"
	StateDone    = "done"
	StateFailed  = "failed"
)

// ErrNotFound is returned by Get for an unknown run id.
var ErrNotFound = errors.New("run not found")

// Run is one ledger row.
type Run struct {
	ID        string       `json:"id"`
	Input     string       `json:"input"`
	Output    string       `json:"output"`
	Model     string       `json:"model"`
	ChunkSize int          `json:"chunk_size"`
	MaxLength int          `json:"max_length"`
	State     string       `json:"state"`
	Message   string       `json:"message,omitempty"`
	Lines     int          `json:"lines"`
	Chunks    int          `json:"chunks"`
	Totals    stats.Counts `json:"totals"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

const schema = `CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	input TEXT,
	output TEXT,
	model TEXT,
	chunk_size INTEGER,
	max_length INTEGER,
	state TEXT,
	message TEXT,
	lines INTEGER,
	chunks INTEGER,
	processed INTEGER,
	too_long INTEGER,
	invalid INTEGER,
	malformed INTEGER,
	created_at TEXT,
	updated_at TEXT
)`

// Store is a ledger backed by one sqlite file.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the ledger at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open runs db %s: %w", path, err)
	}
	// sqlite serialises writers anyway
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create runs schema: %w", err)
	}
	return &Store{db: db, now: func() time.Time { return time.Now().UTC().Truncate(time.Second) }}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Create records a new queued run and returns it with a fresh id.
func (s *Store) Create(ctx context.Context, r Run) (Run, error) {
	r.ID = uuid.NewString()
	r.State = StateQueued
	r.CreatedAt = s.now()
	r.UpdatedAt = r.CreatedAt
	_, err := s.db.ExecContext(ctx, `INSERT INTO runs
		(id, input, output, model, chunk_size, max_length, state, message, lines, chunks, processed, too_long, invalid, malformed, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, '', 0, 0, 0, 0, 0, 0, ?, ?)`,
		r.ID, r.Input, r.Output, r.Model, r.ChunkSize, r.MaxLength, r.State,
		r.CreatedAt.Format(time.RFC3339), r.UpdatedAt.Format(time.RFC3339))
	if err != nil {
		return Run{}, fmt.Errorf("insert run: %w", err)
	}
	return r, nil
}

// Start marks a run as running once the input has been counted.
func (s *Store) Start(ctx context.Context, id string, lines, chunks int) error {
	return s.update(ctx, id, `state = ?, lines = ?, chunks = ?`, StateRunning, lines, chunks)
}

// Progress stores the running totals after a chunk.
func (s *Store) Progress(ctx context.Context, id string, totals stats.Counts) error {
	return s.update(ctx, id, `processed = ?, too_long = ?, invalid = ?, malformed = ?`,
		totals.Processed, totals.TooLong, totals.Invalid, totals.Malformed)
}

// Finish closes a run as done, or failed with runErr as the message.
func (s *Store) Finish(ctx context.Context, id string, totals stats.Counts, runErr error) error {
	state, msg := StateDone, ""
	if runErr != nil {
		state, msg = StateFailed, runErr.Error()
	}
	return s.update(ctx, id, `state = ?, message = ?, processed = ?, too_long = ?, invalid = ?, malformed = ?`,
		state, msg, totals.Processed, totals.TooLong, totals.Invalid, totals.Malformed)
}

func (s *Store) update(ctx context.Context, id, set string, args ...any) error {
	args = append(args, s.now().Format(time.RFC3339), id)
	res, err := s.db.ExecContext(ctx, `UPDATE runs SET `+set+`, updated_at = ? WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("update run %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update run %s: %w", id, ErrNotFound)
	}
	return nil
}

const columns = `id, input, output, model, chunk_size, max_length, state, message, lines, chunks,
	processed, too_long, invalid, malformed, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (Run, error) {
	var r Run
	var created, updated string
	err := sc.Scan(&r.ID, &r.Input, &r.Output, &r.Model, &r.ChunkSize, &r.MaxLength, &r.State, &r.Message,
		&r.Lines, &r.Chunks, &r.Totals.Processed, &r.Totals.TooLong, &r.Totals.Invalid, &r.Totals.Malformed,
		&created, &updated)
	if err != nil {
		return Run{}, err
	}
	r.CreatedAt, _ = time.Parse(time.RFC3339, created)
	r.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
	return r, nil
}

// Get returns one run.
func (s *Store) Get(ctx context.Context, id string) (Run, error) {
	r, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+columns+` FROM runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Run{}, fmt.Errorf("get run %s: %w", id, err)
	}
	return r, nil
}

// List returns all runs, newest first.
func (s *Store) List(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+columns+` FROM runs ORDER BY created_at DESC, rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("list runs: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
