// Package journal implements the search session journal, a supplemented
// feature: a sqlite-backed audit log of node counts and PV changes the
// search state machine writes as it runs, for postmortem debugging of a
// search session after the fact (SPEC_FULL.md supplemented feature 4).
// Nothing else in the engine reads the journal back; it exists purely as
// an append-only record, the same relationship the teacher's own
// heatmap/SimStats readers have to the plain-text logs montecarlo.Simmer
// writes during a sim (montecarlo/stats/heatmap.go's ReadHeatmap).
package journal

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Journal owns one sqlite database file recording every search session's
// PV changes and final result. A nil *Journal is valid and every method on
// it is a no-op, so callers can leave journaling disabled by construction
// rather than branching on a separate enabled flag.
type Journal struct {
	db *sql.DB
}

// Open creates (or reopens) the sqlite database at path and ensures its
// schema exists.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: create schema: %w", err)
	}
	return &Journal{db: db}, nil
}

func createSchema(db *sql.DB) error {
	const schema = `
CREATE TABLE IF NOT EXISTS search_sessions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	root_fen TEXT NOT NULL,
	started_unix_nanos INTEGER NOT NULL,
	ended_unix_nanos INTEGER,
	best_move TEXT,
	iterations INTEGER,
	stop_reason TEXT
);
CREATE TABLE IF NOT EXISTS pv_updates (
	session_id INTEGER NOT NULL REFERENCES search_sessions(id),
	iterations INTEGER NOT NULL,
	move TEXT NOT NULL,
	value REAL NOT NULL,
	visits INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS pv_updates_session_idx ON pv_updates(session_id);
`
	_, err := db.Exec(schema)
	return err
}

// Close closes the underlying database handle. Safe to call on a nil
// Journal.
func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	return j.db.Close()
}

// StartSession records a new session's root position and start time,
// returning the session id later calls reference. Safe to call on a nil
// Journal, returning sessionID 0.
func (j *Journal) StartSession(ctx context.Context, rootFEN string, startedUnixNanos int64) (int64, error) {
	if j == nil {
		return 0, nil
	}
	res, err := j.db.ExecContext(ctx,
		`INSERT INTO search_sessions (root_fen, started_unix_nanos) VALUES (?, ?)`,
		rootFEN, startedUnixNanos)
	if err != nil {
		return 0, fmt.Errorf("journal: start session: %w", err)
	}
	return res.LastInsertId()
}

// RecordPVUpdate appends one principal-variation change to sessionID's log.
// Safe to call on a nil Journal or with sessionID 0 (both no-ops).
func (j *Journal) RecordPVUpdate(ctx context.Context, sessionID int64, iterations uint64, move string, value float32, visits uint32) error {
	if j == nil || sessionID == 0 {
		return nil
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO pv_updates (session_id, iterations, move, value, visits) VALUES (?, ?, ?, ?, ?)`,
		sessionID, iterations, move, value, visits)
	if err != nil {
		return fmt.Errorf("journal: record pv update: %w", err)
	}
	return nil
}

// EndSession records a session's final result. Safe to call on a nil
// Journal or with sessionID 0.
func (j *Journal) EndSession(ctx context.Context, sessionID int64, endedUnixNanos int64, bestMove string, iterations uint64, stopReason string) error {
	if j == nil || sessionID == 0 {
		return nil
	}
	_, err := j.db.ExecContext(ctx,
		`UPDATE search_sessions SET ended_unix_nanos = ?, best_move = ?, iterations = ?, stop_reason = ? WHERE id = ?`,
		endedUnixNanos, bestMove, iterations, stopReason, sessionID)
	if err != nil {
		return fmt.Errorf("journal: end session: %w", err)
	}
	return nil
}

// SessionSummary is one row of ListSessions' result.
type SessionSummary struct {
	ID         int64
	RootFEN    string
	BestMove   string
	Iterations uint64
	StopReason string
}

// ListSessions returns the most recent limit sessions, newest first, for a
// debug shell or postmortem tool to browse.
func (j *Journal) ListSessions(ctx context.Context, limit int) ([]SessionSummary, error) {
	if j == nil {
		return nil, nil
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, root_fen, COALESCE(best_move, ''), COALESCE(iterations, 0), COALESCE(stop_reason, '')
		 FROM search_sessions ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: list sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionSummary
	for rows.Next() {
		var s SessionSummary
		if err := rows.Scan(&s.ID, &s.RootFEN, &s.BestMove, &s.Iterations, &s.StopReason); err != nil {
			return nil, fmt.Errorf("journal: scan session: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
