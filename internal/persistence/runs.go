package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/agentmux/agentmux/internal/stream"
)

// SaveRun writes a finished run and all its children in one transaction.
func (s *SQLiteStore) SaveRun(ctx context.Context, run *ArchivedRun) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, workflow, fingerprint, status, created_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.Workflow, int64(run.Fingerprint), run.Status,
		run.CreatedAt.UnixNano(), run.CompletedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", run.ID, err)
	}

	for _, task := range run.Tasks {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO run_tasks (run_id, id, capability, gate, status, attempts, summary)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			run.ID, task.ID, task.Capability, task.Gate, task.Status, task.Attempts, task.Summary)
		if err != nil {
			return fmt.Errorf("failed to insert task %s: %w", task.ID, err)
		}
	}

	for name, value := range run.Artifacts {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO run_artifacts (run_id, name, value) VALUES (?, ?, ?)`,
			run.ID, name, value)
		if err != nil {
			return fmt.Errorf("failed to insert artifact %s: %w", name, err)
		}
	}

	for _, ev := range run.Events {
		payload, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("failed to marshal event %d: %w", ev.Seq, err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO run_events (run_id, seq, payload) VALUES (?, ?, ?)`,
			run.ID, int64(ev.Seq), string(payload))
		if err != nil {
			return fmt.Errorf("failed to insert event %d: %w", ev.Seq, err)
		}
	}

	return tx.Commit()
}

// GetRun loads a full archived run.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*ArchivedRun, error) {
	run := &ArchivedRun{ID: runID, Artifacts: make(map[string]string)}

	var fingerprint, createdAt, completedAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT workflow, fingerprint, status, created_at, completed_at FROM runs WHERE id = ?`,
		runID).Scan(&run.Workflow, &fingerprint, &run.Status, &createdAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query run %s: %w", runID, err)
	}
	run.Fingerprint = uint64(fingerprint)
	run.CreatedAt = time.Unix(0, createdAt)
	run.CompletedAt = time.Unix(0, completedAt)

	if err := s.loadTasks(ctx, run); err != nil {
		return nil, err
	}
	if err := s.loadArtifacts(ctx, run); err != nil {
		return nil, err
	}
	if err := s.loadEvents(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

// ListRuns returns run summaries, newest first. Tasks, artifacts, and events
// are left empty; use GetRun for the full record.
func (s *SQLiteStore) ListRuns(ctx context.Context) ([]*ArchivedRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, workflow, fingerprint, status, created_at, completed_at
		 FROM runs ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*ArchivedRun
	for rows.Next() {
		run := &ArchivedRun{}
		var fingerprint, createdAt, completedAt int64
		if err := rows.Scan(&run.ID, &run.Workflow, &fingerprint, &run.Status, &createdAt, &completedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		run.Fingerprint = uint64(fingerprint)
		run.CreatedAt = time.Unix(0, createdAt)
		run.CompletedAt = time.Unix(0, completedAt)
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (s *SQLiteStore) loadTasks(ctx context.Context, run *ArchivedRun) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, capability, gate, status, attempts, summary
		 FROM run_tasks WHERE run_id = ? ORDER BY id`, run.ID)
	if err != nil {
		return fmt.Errorf("failed to query tasks for run %s: %w", run.ID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var task ArchivedTask
		if err := rows.Scan(&task.ID, &task.Capability, &task.Gate, &task.Status, &task.Attempts, &task.Summary); err != nil {
			return fmt.Errorf("failed to scan task row: %w", err)
		}
		run.Tasks = append(run.Tasks, task)
	}
	return rows.Err()
}

func (s *SQLiteStore) loadArtifacts(ctx context.Context, run *ArchivedRun) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, value FROM run_artifacts WHERE run_id = ?`, run.ID)
	if err != nil {
		return fmt.Errorf("failed to query artifacts for run %s: %w", run.ID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return fmt.Errorf("failed to scan artifact row: %w", err)
		}
		run.Artifacts[name] = value
	}
	return rows.Err()
}

func (s *SQLiteStore) loadEvents(ctx context.Context, run *ArchivedRun) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM run_events WHERE run_id = ? ORDER BY seq`, run.ID)
	if err != nil {
		return fmt.Errorf("failed to query events for run %s: %w", run.ID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return fmt.Errorf("failed to scan event row: %w", err)
		}
		var ev stream.Event
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return fmt.Errorf("failed to unmarshal event for run %s: %w", run.ID, err)
		}
		run.Events = append(run.Events, ev)
	}
	return rows.Err()
}
