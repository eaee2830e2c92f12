// ABOUTME: SQLite-backed audit trail of every executed step across sessions.
// ABOUTME: Append-only; the session history in memory stays the source of truth.

package audit

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/oklog/ulid/v2"

	"github.com/porterhq/porter/transcript"
)

// Record is one audited step as stored.
type Record struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Step      int       `json:"step"`
	Command   string    `json:"command"`
	Status    string    `json:"status"`
	Entry     string    `json:"entry"`
	ElapsedMS int64     `json:"elapsed_ms"`
	CreatedAt time.Time `json:"created_at"`
}

// Trail writes step records to a SQLite database.
type Trail struct {
	db     *sql.DB
	logger *log.Logger
}

// Open opens or creates the audit database at path and ensures the schema.
func Open(path string, logger *log.Logger) (*Trail, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS steps (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			step INTEGER NOT NULL,
			command TEXT NOT NULL,
			status TEXT NOT NULL,
			entry TEXT NOT NULL,
			elapsed_ms INTEGER NOT NULL,
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_steps_session ON steps(session_id, step);`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	if logger == nil {
		logger = log.Default()
	}
	return &Trail{db: db, logger: logger}, nil
}

// Close closes the database connection.
func (t *Trail) Close() error {
	return t.db.Close()
}

// Record appends one step. Failures are logged, never propagated: the audit
// trail must not break a running loop.
func (t *Trail) Record(sessionID string, step int, entry transcript.Entry, elapsed time.Duration) {
	encoded, err := json.Marshal(entry)
	if err != nil {
		t.logger.Printf("component=audit action=encode_failed session=%s err=%v", sessionID, err)
		return
	}

	_, err = t.db.Exec(
		`INSERT INTO steps (id, session_id, step, command, status, entry, elapsed_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ulid.Make().String(),
		sessionID,
		step,
		entry.Label(),
		string(entry.Result.Status),
		string(encoded),
		elapsed.Milliseconds(),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		t.logger.Printf("component=audit action=insert_failed session=%s err=%v", sessionID, err)
	}
}

// BySession returns all records for a session ordered by step.
func (t *Trail) BySession(sessionID string) ([]Record, error) {
	rows, err := t.db.Query(
		`SELECT id, session_id, step, command, status, entry, elapsed_ms, created_at
		 FROM steps WHERE session_id = ? ORDER BY step, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query steps: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var created string
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Step, &r.Command, &r.Status, &r.Entry, &r.ElapsedMS, &created); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		r.CreatedAt, _ = time.Parse(time.RFC3339, created)
		out = append(out, r)
	}
	return out, rows.Err()
}
