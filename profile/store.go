// Package profile keeps engine statistics from past runs in a SQLite
// database so runs of the same program can be compared.
package profile

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
	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/chazu/rvm/vm"
)

// ErrRunNotFound indicates the requested run doesn't exist
var ErrRunNotFound = errors.New("run not found")

var log = commonlog.GetLogger("rvm.profile")

// Run is one recorded execution.
type Run struct {
	ID        uuid.UUID
	Program   string // file the code was loaded from
	Mode      string // "stack" or "register"
	StartedAt time.Time
	Duration  time.Duration
	Error     string // exception text, empty on success
	Stats     vm.StatsSnapshot
}

// Summary aggregates the runs of one program.
type Summary struct {
	Program         string
	Runs            int
	Failures        int
	AvgDuration     time.Duration
	AvgInstructions float64
	MaxDepth        int64
}

// Store handles SQLite storage for runs
type Store struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

const schema = `CREATE TABLE IF NOT EXISTS runs (
	id            TEXT PRIMARY KEY,
	program       TEXT NOT NULL,
	mode          TEXT NOT NULL,
	started_at    INTEGER NOT NULL,
	duration_ns   INTEGER NOT NULL,
	error         TEXT NOT NULL,
	instructions  INTEGER NOT NULL,
	calls         INTEGER NOT NULL,
	max_depth     INTEGER NOT NULL,
	global_hits   INTEGER NOT NULL,
	global_misses INTEGER NOT NULL,
	global_first  INTEGER NOT NULL,
	slow_lookups  INTEGER NOT NULL,
	raised        INTEGER NOT NULL,
	handled       INTEGER NOT NULL,
	suspensions   INTEGER NOT NULL
)`

const runColumns = `id, program, mode, started_at, duration_ns, error,
	instructions, calls, max_depth, global_hits, global_misses, global_first,
	slow_lookups, raised, handled, suspensions`

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}
	if _, err := db.Exec("CREATE INDEX IF NOT EXISTS runs_program ON runs (program, started_at)"); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating index: %w", err)
	}

	log.Debugf("opened profile store %s", path)
	return &Store{db: db, path: path}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Record stores r, assigning it an ID when it has none, and returns the ID.
func (s *Store) Record(ctx context.Context, r *Run) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	st := r.Stats
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO runs ("+runColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		r.ID.String(), r.Program, r.Mode, r.StartedAt.UnixNano(), int64(r.Duration), r.Error,
		int64(st.Instructions), int64(st.Calls), st.MaxDepth, int64(st.GlobalHits),
		int64(st.GlobalMisses), int64(st.GlobalFirst), int64(st.SlowLookups),
		int64(st.Raised), int64(st.Handled), int64(st.Suspensions),
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("saving run: %w", err)
	}
	log.Debugf("recorded run %s of %s", r.ID, r.Program)
	return r.ID, nil
}

// Get retrieves one run by ID.
func (s *Store) Get(ctx context.Context, id string) (*Run, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid run id %q: %w", id, err)
	}
	row := s.db.QueryRowContext(ctx, "SELECT "+runColumns+" FROM runs WHERE id = ?", parsed.String())
	r, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("querying run: %w", err)
	}
	return r, nil
}

// List returns the most recent runs, newest first. An empty program lists
// runs of every program; limit <= 0 means no limit.
func (s *Store) List(ctx context.Context, program string, limit int) ([]*Run, error) {
	q := "SELECT " + runColumns + " FROM runs"
	var args []interface{}
	if program != "" {
		q += " WHERE program = ?"
		args = append(args, program)
	}
	q += " ORDER BY started_at DESC"
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("reading run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Summarize aggregates the runs recorded for each program.
func (s *Store) Summarize(ctx context.Context) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT program, COUNT(*),
		SUM(CASE WHEN error != '' THEN 1 ELSE 0 END),
		AVG(duration_ns), AVG(instructions), MAX(max_depth)
		FROM runs GROUP BY program ORDER BY program`)
	if err != nil {
		return nil, fmt.Errorf("summarizing runs: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var sum Summary
		var avgDur float64
		if err := rows.Scan(&sum.Program, &sum.Runs, &sum.Failures, &avgDur, &sum.AvgInstructions, &sum.MaxDepth); err != nil {
			return nil, fmt.Errorf("reading summary: %w", err)
		}
		sum.AvgDuration = time.Duration(avgDur)
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Delete removes one run.
func (s *Store) Delete(ctx context.Context, id string) error {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("invalid run id %q: %w", id, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM runs WHERE id = ?", parsed.String())
	if err != nil {
		return fmt.Errorf("deleting run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRunNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (*Run, error) {
	var (
		r                                               Run
		id                                              string
		started, dur                                    int64
		instrs, calls, hits, misses, first, slow, raise int64
		handled, susp                                   int64
	)
	err := row.Scan(&id, &r.Program, &r.Mode, &started, &dur, &r.Error,
		&instrs, &calls, &r.Stats.MaxDepth, &hits, &misses, &first, &slow,
		&raise, &handled, &susp)
	if err != nil {
		return nil, err
	}
	if r.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("stored run id %q: %w", id, err)
	}
	r.StartedAt = time.Unix(0, started)
	r.Duration = time.Duration(dur)
	r.Stats.Instructions = uint64(instrs)
	r.Stats.Calls = uint64(calls)
	r.Stats.GlobalHits = uint64(hits)
	r.Stats.GlobalMisses = uint64(misses)
	r.Stats.GlobalFirst = uint64(first)
	r.Stats.SlowLookups = uint64(slow)
	r.Stats.Raised = uint64(raise)
	r.Stats.Handled = uint64(handled)
	r.Stats.Suspensions = uint64(susp)
	return &r, nil
}
