package sink

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/awmpietro/golang-hierarchical-execution-engine/internal/engine"
)

const schema = `
CREATE TABLE IF NOT EXISTS run_events (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id      TEXT NOT NULL,
	ts          TEXT NOT NULL,
	path        TEXT NOT NULL,
	node        TEXT NOT NULL,
	type        TEXT NOT NULL,
	event       TEXT NOT NULL,
	impact      REAL NOT NULL,
	threshold   REAL NOT NULL,
	cum         REAL NOT NULL,
	duration_ms REAL NOT NULL,
	layer       INTEGER,
	cause       TEXT,
	note        TEXT
);
CREATE INDEX IF NOT EXISTS idx_run_events_run ON run_events (run_id, id);
`

// SQLite appends events to the run_events table.
type SQLite struct {
	db     *sql.DB
	logger *zap.Logger
	failed atomic.Uint64
}

// OpenSQLite opens (or creates) the database at path. ":memory:" is accepted.
func OpenSQLite(ctx context.Context, path string, logger *zap.Logger) (*SQLite, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open event db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL; PRAGMA busy_timeout=5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure event db: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create event schema: %w", err)
	}
	return &SQLite{db: db, logger: logger}, nil
}

func (s *SQLite) Emit(ev engine.LogEvent) {
	if err := s.Insert(context.Background(), ev); err != nil {
		s.failed.Add(1)
		s.logger.Warn("event db write failed", zap.String("run_id", ev.RunID), zap.Error(err))
	}
}

func (s *SQLite) Insert(ctx context.Context, ev engine.LogEvent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_events (run_id, ts, path, node, type, event, impact, threshold, cum, duration_ms, layer, cause, note)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.RunID,
		ev.Timestamp.UTC().Format(time.RFC3339Nano),
		ev.Path,
		ev.Node,
		string(ev.Type),
		string(ev.Event),
		ev.Impact,
		ev.Threshold,
		ev.Cumulative,
		ev.DurationMS,
		nullIfZero(int(ev.Layer)),
		nullIfEmpty(string(ev.Cause)),
		nullIfEmpty(ev.Note),
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// Events returns the stored events of one run in append order.
func (s *SQLite) Events(ctx context.Context, runID string) ([]engine.LogEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, ts, path, node, type, event, impact, threshold, cum, duration_ms, layer, cause, note
		 FROM run_events WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []engine.LogEvent
	for rows.Next() {
		var (
			ev          engine.LogEvent
			ts          string
			typ, event  string
			layer       sql.NullInt64
			cause, note sql.NullString
		)
		if err := rows.Scan(&ev.RunID, &ts, &ev.Path, &ev.Node, &typ, &event,
			&ev.Impact, &ev.Threshold, &ev.Cumulative, &ev.DurationMS, &layer, &cause, &note); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		ev.Type = engine.NodeKind(typ)
		ev.Event = engine.EventKind(event)
		ev.Layer = engine.Layer(layer.Int64)
		ev.Cause = engine.BlockCause(cause.String)
		ev.Note = note.String
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Runs lists run ids, most recent first.
func (s *SQLite) Runs(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id FROM run_events GROUP BY run_id ORDER BY MAX(id) DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *SQLite) Failed() uint64 { return s.failed.Load() }

func (s *SQLite) Close() error { return s.db.Close() }

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullIfZero(n int) any {
	if n == 0 {
		return nil
	}
	return n
}
