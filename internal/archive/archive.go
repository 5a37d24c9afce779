// Package archive persists conversation history to Postgres for audit and
// replay: final transcript lines, tool invocations, and handoff transitions,
// keyed by session id.
//
// Archival is best-effort from the fabric's point of view: callers log and
// continue when a write fails, so a database outage never interrupts a live
// conversation.
package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the Postgres archive. Create one with [New].
type Store struct {
	pool *pgxpool.Pool
}

// New connects to Postgres and ensures the archive tables exist.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("archive: connect: %w", err)
	}
	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	const q = `
		CREATE TABLE IF NOT EXISTS session_transcripts (
		    id         TEXT PRIMARY KEY,
		    session_id TEXT NOT NULL,
		    agent_id   TEXT NOT NULL,
		    role       TEXT NOT NULL,
		    text       TEXT NOT NULL,
		    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS idx_transcripts_session
		    ON session_transcripts (session_id, created_at);

		CREATE TABLE IF NOT EXISTS session_tool_events (
		    id          TEXT PRIMARY KEY,
		    session_id  TEXT NOT NULL,
		    agent_id    TEXT NOT NULL,
		    tool        TEXT NOT NULL,
		    tool_use_id TEXT NOT NULL,
		    success     BOOLEAN NOT NULL,
		    error       TEXT NOT NULL DEFAULT '',
		    created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS idx_tool_events_session
		    ON session_tool_events (session_id, created_at);

		CREATE TABLE IF NOT EXISTS session_handoffs (
		    id         TEXT PRIMARY KEY,
		    session_id TEXT NOT NULL,
		    from_agent TEXT NOT NULL,
		    to_agent   TEXT NOT NULL,
		    reason     TEXT NOT NULL DEFAULT '',
		    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`
	if _, err := s.pool.Exec(ctx, q); err != nil {
		return fmt.Errorf("archive: ensure schema: %w", err)
	}
	return nil
}

// RecordTranscript stores one final transcript line.
func (s *Store) RecordTranscript(ctx context.Context, sessionID, agentID, role, text string) error {
	const q = `
		INSERT INTO session_transcripts (id, session_id, agent_id, role, text)
		VALUES ($1, $2, $3, $4, $5)`
	_, err := s.pool.Exec(ctx, q, uuid.NewString(), sessionID, agentID, role, text)
	if err != nil {
		return fmt.Errorf("archive: record transcript: %w", err)
	}
	return nil
}

// RecordToolEvent stores one tool invocation outcome.
func (s *Store) RecordToolEvent(ctx context.Context, sessionID, agentID, tool, toolUseID string, success bool, errMsg string) error {
	const q = `
		INSERT INTO session_tool_events (id, session_id, agent_id, tool, tool_use_id, success, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := s.pool.Exec(ctx, q, uuid.NewString(), sessionID, agentID, tool, toolUseID, success, errMsg)
	if err != nil {
		return fmt.Errorf("archive: record tool event: %w", err)
	}
	return nil
}

// RecordHandoff stores one completed agent transition.
func (s *Store) RecordHandoff(ctx context.Context, sessionID, from, to, reason string) error {
	const q = `
		INSERT INTO session_handoffs (id, session_id, from_agent, to_agent, reason)
		VALUES ($1, $2, $3, $4, $5)`
	_, err := s.pool.Exec(ctx, q, uuid.NewString(), sessionID, from, to, reason)
	if err != nil {
		return fmt.Errorf("archive: record handoff: %w", err)
	}
	return nil
}

// TranscriptEntry is one archived transcript line.
type TranscriptEntry struct {
	AgentID   string
	Role      string
	Text      string
	CreatedAt time.Time
}

// SessionTranscript returns a session's transcript in chronological order.
func (s *Store) SessionTranscript(ctx context.Context, sessionID string) ([]TranscriptEntry, error) {
	const q = `
		SELECT agent_id, role, text, created_at
		FROM   session_transcripts
		WHERE  session_id = $1
		ORDER  BY created_at`
	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("archive: session transcript: %w", err)
	}
	defer rows.Close()

	var out []TranscriptEntry
	for rows.Next() {
		var e TranscriptEntry
		if err := rows.Scan(&e.AgentID, &e.Role, &e.Text, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("archive: scan transcript: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("archive: transcript rows: %w", err)
	}
	return out, nil
}

// Ping reports backend reachability for health checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}
