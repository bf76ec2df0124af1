// Package persistence archives terminal workflow runs to SQLite so finished
// work survives process restarts and can be inspected later. Live run state
// never touches the store; the engine hands over a run exactly once, after
// its terminal event.
package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/agentmux/agentmux/internal/stream"
)

// ErrRunNotFound is returned by GetRun for unknown run IDs.
var ErrRunNotFound = errors.New("run not found")

// ArchivedRun is the durable record of one finished workflow run: its final
// status, per-task outcomes, published artifacts, and the full event history.
type ArchivedRun struct {
	ID          string
	Workflow    string
	Fingerprint uint64
	Status      string
	CreatedAt   time.Time
	CompletedAt time.Time
	Tasks       []ArchivedTask
	Artifacts   map[string]string
	Events      []stream.Event
}

// ArchivedTask is one task's final state within an archived run.
type ArchivedTask struct {
	ID         string
	Capability string
	Gate       string
	Status     string
	Attempts   int
	Summary    string
}

// Store is the archive interface for terminal runs.
type Store interface {
	// SaveRun writes a finished run. Run IDs are unique; saving the same ID
	// twice is an error.
	SaveRun(ctx context.Context, run *ArchivedRun) error

	// GetRun loads a full archived run, including tasks, artifacts, and
	// events. Returns ErrRunNotFound for unknown IDs.
	GetRun(ctx context.Context, runID string) (*ArchivedRun, error)

	// ListRuns returns run summaries (no tasks, artifacts, or events),
	// newest first.
	ListRuns(ctx context.Context) ([]*ArchivedRun, error)

	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite archive at the given path.
// Creates parent directories if needed. Enables WAL mode, foreign keys, and
// a busy timeout.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent directories: %w", err)
	}

	// modernc.org/sqlite doesn't support _foreign_keys in the connection
	// string, so foreign keys are enabled via PRAGMA below.
	connStr := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", dbPath)
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return initStore(ctx, db)
}

// NewMemoryStore creates an in-memory SQLite store for testing. Uses a shared
// cache so multiple connections see the same database.
func NewMemoryStore(ctx context.Context) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", "file::memory:?mode=memory&cache=shared")
	if err != nil {
		return nil, fmt.Errorf("failed to open memory database: %w", err)
	}

	return initStore(ctx, db)
}

func initStore(ctx context.Context, db *sql.DB) (*SQLiteStore, error) {
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	// One connection for the primary query, one for subqueries.
	db.SetMaxOpenConns(2)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
