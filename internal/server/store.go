package server

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned for an unknown approval request id.
var ErrNotFound = errors.New("approval request not found")

// ErrAlreadyDecided is returned when a decision targets a request that has
// already reached a terminal status.
var ErrAlreadyDecided = errors.New("approval request already decided")

// ApprovalRow is one persisted approval request.
type ApprovalRow struct {
	ID        string            `json:"request_id"`
	CallID    string            `json:"call_id"`
	Tool      string            `json:"tool"`
	Args      map[string]string `json:"args"` // redacted by the SDK before registration
	Target    string            `json:"target"`
	Message   string            `json:"message"`
	AgentID   string            `json:"agent_id"`
	Framework string            `json:"framework"`
	Status    string            `json:"status"`
	DecidedBy string            `json:"decided_by,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	DecidedAt *time.Time        `json:"decided_at,omitempty"`
}

// EventRow is one persisted telemetry event.
type EventRow struct {
	Kind       string
	CallID     string
	Tool       string
	Payload    []byte
	ReceivedAt time.Time
}

// Store persists approval requests and telemetry events in SQLite.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS approvals (
	id         TEXT PRIMARY KEY,
	call_id    TEXT NOT NULL,
	tool       TEXT NOT NULL,
	args       TEXT NOT NULL,
	target     TEXT NOT NULL,
	message    TEXT NOT NULL,
	agent_id   TEXT NOT NULL,
	framework  TEXT NOT NULL,
	status     TEXT NOT NULL,
	decided_by TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL,
	decided_at TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_approvals_status ON approvals(status);

CREATE TABLE IF NOT EXISTS events (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	kind        TEXT NOT NULL,
	call_id     TEXT NOT NULL,
	tool        TEXT NOT NULL,
	payload     TEXT NOT NULL,
	received_at TIMESTAMP NOT NULL
);
`

// OpenStore opens (and if needed creates) the SQLite database at path.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %q: %w", path, err)
	}
	// SQLite has a single writer; serializing connections avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateApproval inserts a pending request. Re-registering an existing id is
// a no-op so SDK registration retries stay idempotent.
func (s *Store) CreateApproval(row ApprovalRow) error {
	args, err := json.Marshal(row.Args)
	if err != nil {
		return fmt.Errorf("failed to encode args: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO approvals (id, call_id, tool, args, target, message, agent_id, framework, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 'pending', ?)
		ON CONFLICT(id) DO NOTHING`,
		row.ID, row.CallID, row.Tool, string(args), row.Target, row.Message,
		row.AgentID, row.Framework, row.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert approval: %w", err)
	}
	return nil
}

// GetApproval fetches one request by id.
func (s *Store) GetApproval(id string) (ApprovalRow, error) {
	row := s.db.QueryRow(`
		SELECT id, call_id, tool, args, target, message, agent_id, framework, status, decided_by, created_at, decided_at
		FROM approvals WHERE id = ?`, id)
	return scanApproval(row)
}

// Decide moves a pending request to a terminal status. The transition is
// guarded in SQL so it happens at most once.
func (s *Store) Decide(id, status, decidedBy string, at time.Time) error {
	res, err := s.db.Exec(`
		UPDATE approvals SET status = ?, decided_by = ?, decided_at = ?
		WHERE id = ? AND status = 'pending'`,
		status, decidedBy, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update approval: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, getErr := s.GetApproval(id); getErr != nil {
			return ErrNotFound
		}
		return ErrAlreadyDecided
	}
	return nil
}

// ListApprovals returns requests filtered by status, newest first. Empty
// status lists everything.
func (s *Store) ListApprovals(status string) ([]ApprovalRow, error) {
	query := `
		SELECT id, call_id, tool, args, target, message, agent_id, framework, status, decided_by, created_at, decided_at
		FROM approvals`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list approvals: %w", err)
	}
	defer rows.Close()

	var out []ApprovalRow
	for rows.Next() {
		row, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// ExpirePending marks pending requests created before the cutoff as expired
// and returns how many it touched.
func (s *Store) ExpirePending(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(`
		UPDATE approvals SET status = 'expired', decided_at = ?
		WHERE status = 'pending' AND created_at < ?`,
		time.Now().UTC(), cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to expire approvals: %w", err)
	}
	return res.RowsAffected()
}

// InsertEvents appends telemetry events in one transaction.
func (s *Store) InsertEvents(rows []EventRow) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	for _, ev := range rows {
		if _, err := tx.Exec(`
			INSERT INTO events (kind, call_id, tool, payload, received_at)
			VALUES (?, ?, ?, ?, ?)`,
			ev.Kind, ev.CallID, ev.Tool, string(ev.Payload), ev.ReceivedAt.UTC()); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to insert event: %w", err)
		}
	}
	return tx.Commit()
}

// CountEvents returns the number of stored telemetry events.
func (s *Store) CountEvents() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM events`).Scan(&n)
	return n, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanApproval(r rowScanner) (ApprovalRow, error) {
	var row ApprovalRow
	var args string
	var decidedAt sql.NullTime
	err := r.Scan(&row.ID, &row.CallID, &row.Tool, &args, &row.Target, &row.Message,
		&row.AgentID, &row.Framework, &row.Status, &row.DecidedBy, &row.CreatedAt, &decidedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ApprovalRow{}, ErrNotFound
	}
	if err != nil {
		return ApprovalRow{}, fmt.Errorf("failed to scan approval: %w", err)
	}
	if decidedAt.Valid {
		t := decidedAt.Time
		row.DecidedAt = &t
	}
	if err := json.Unmarshal([]byte(args), &row.Args); err != nil {
		return ApprovalRow{}, fmt.Errorf("failed to decode args: %w", err)
	}
	return row, nil
}
