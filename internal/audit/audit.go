// Package audit maintains a secondary, queryable event ledger: every task
// status transition and every completed run's metrics, indexed in sqlite
// so the HTTP surface can answer a paginated "what happened" query without
// scanning the JSON store. The JSON store (internal/store) stays the one
// authoritative place task/sprint state lives; this ledger is a derived,
// rebuildable index fed by the same transitions the board bus carries.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/basket/sprintd/internal/bus"
	"github.com/basket/sprintd/internal/shared"
)

// TaskEvent is one row of the task_events ledger: a single recorded
// transition of a task's lifecycle.
type TaskEvent struct {
	EventID    int64     `json:"event_id"`
	TaskID     string    `json:"task_id"`
	SprintID   string    `json:"sprint_id,omitempty"`
	RunID      string    `json:"run_id,omitempty"`
	TraceID    string    `json:"trace_id,omitempty"`
	EventType  string    `json:"event_type"`
	StateFrom  string    `json:"state_from,omitempty"`
	StateTo    string    `json:"state_to"`
	PayloadRaw string    `json:"payload_json"`
	CreatedAt  time.Time `json:"created_at"`
}

// TaskMetric is one row of the task_metrics ledger, written once a task
// attempt reaches a terminal outcome.
type TaskMetric struct {
	TaskID       string     `json:"task_id"`
	AgentID      string     `json:"agent_id"`
	Attempts     int        `json:"attempts"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	DurationMS   int64      `json:"duration_ms"`
	Status       string     `json:"status"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// Ledger is the sqlite-backed event ledger.
type Ledger struct {
	db *sql.DB
}

// Open creates (if needed) <homeDir>/audit.db and runs its schema.
func Open(homeDir string) (*Ledger, error) {
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		return nil, err
	}
	dbPath := filepath.Join(homeDir, "audit.db")
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	l := &Ledger{db: db}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

func (l *Ledger) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS task_events (
			event_id INTEGER PRIMARY KEY AUTOINCREMENT,
			task_id TEXT NOT NULL,
			sprint_id TEXT,
			run_id TEXT,
			trace_id TEXT,
			event_type TEXT NOT NULL,
			state_from TEXT,
			state_to TEXT NOT NULL,
			payload_json TEXT NOT NULL DEFAULT '{}',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE INDEX IF NOT EXISTS idx_task_events_task_event_id ON task_events(task_id, event_id);`,
		`CREATE TABLE IF NOT EXISTS task_metrics (
			task_id TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			started_at DATETIME NOT NULL,
			completed_at DATETIME,
			duration_ms INTEGER,
			status TEXT NOT NULL,
			error_message TEXT,
			PRIMARY KEY (task_id, started_at)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_task_metrics_agent ON task_metrics(agent_id, completed_at DESC);`,
	}
	for _, s := range stmts {
		if _, err := l.db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying database handle.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// RecordTransition appends one task_events row. payload is marshaled to
// JSON and redacted the same way log lines are, since it may carry an
// error message that echoed untrusted agent output.
func (l *Ledger) RecordTransition(ctx context.Context, ev TaskEvent, payload any) error {
	raw := "{}"
	if payload != nil {
		if b, err := json.Marshal(payload); err == nil {
			raw = shared.Redact(string(b))
		}
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO task_events (task_id, sprint_id, run_id, trace_id, event_type, state_from, state_to, payload_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?);
	`, ev.TaskID, ev.SprintID, ev.RunID, ev.TraceID, ev.EventType, ev.StateFrom, ev.StateTo, raw)
	return err
}

// RecordMetric upserts the terminal outcome of one task attempt.
func (l *Ledger) RecordMetric(ctx context.Context, m TaskMetric) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO task_metrics (task_id, agent_id, attempts, started_at, completed_at, duration_ms, status, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?);
	`, m.TaskID, m.AgentID, m.Attempts, m.StartedAt, m.CompletedAt, m.DurationMS, m.Status, shared.Redact(m.ErrorMessage))
	return err
}

// Events returns up to limit task_events rows with event_id > fromEventID,
// optionally filtered to one task, ordered oldest-first — the shape the
// HTTP surface's paginated replay endpoint needs.
func (l *Ledger) Events(ctx context.Context, taskID string, fromEventID int64, limit int) ([]TaskEvent, error) {
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	query := `SELECT event_id, task_id, sprint_id, run_id, trace_id, event_type, state_from, state_to, payload_json, created_at
		FROM task_events WHERE event_id > ?`
	args := []any{fromEventID}
	if taskID != "" {
		query += ` AND task_id = ?`
		args = append(args, taskID)
	}
	query += ` ORDER BY event_id ASC LIMIT ?`
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TaskEvent
	for rows.Next() {
		var ev TaskEvent
		var sprintID, runID, traceID, stateFrom sql.NullString
		if err := rows.Scan(&ev.EventID, &ev.TaskID, &sprintID, &runID, &traceID, &ev.EventType, &stateFrom, &ev.StateTo, &ev.PayloadRaw, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.SprintID = sprintID.String
		ev.RunID = runID.String
		ev.TraceID = traceID.String
		ev.StateFrom = stateFrom.String
		out = append(out, ev)
	}
	return out, rows.Err()
}

// SubscribeBoardChanges records a coarse task_events row for every
// board_changed event published on the bus, so a ledger reader can see
// "something happened, refetch" entries alongside the richer
// RecordTransition rows scheduler.Trigger writes at each status change.
func (l *Ledger) SubscribeBoardChanges(ctx context.Context, b *bus.Bus) {
	sub := b.Subscribe(bus.TopicBoardChanged)
	go func() {
		defer b.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub.Ch():
				if !ok {
					return
				}
				bc, ok := ev.Payload.(bus.BoardChangedEvent)
				if !ok {
					continue
				}
				_ = l.RecordTransition(ctx, TaskEvent{
					TaskID:    "-",
					EventType: "board_changed",
					StateTo:   bc.Type,
				}, map[string]any{"ts": bc.TS})
			}
		}
	}()
}
