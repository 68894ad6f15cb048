package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrSessionNotFound is returned for unknown or already ended sessions.
var ErrSessionNotFound = errors.New("session not found")

// Session is one subscription served by the daemon.
type Session struct {
	ID         string     `json:"id"`
	Server     string     `json:"server"`
	RemoteAddr string     `json:"remote_addr"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	RowsSent   int64      `json:"rows_sent"`
	EndReason  string     `json:"end_reason,omitempty"`
}

// Active reports whether the session has not ended yet.
func (s Session) Active() bool {
	return s.EndedAt == nil
}

const sessionColumns = `id, server, remote_addr, started_at, ended_at, rows_sent, end_reason`

// StartSession records a new session and returns its id.
func (d *Database) StartSession(server, remoteAddr string) (string, error) {
	query := d.qb.Build(`INSERT INTO sessions (id, server, remote_addr, started_at) VALUES (?, ?, ?, ?)`)

	for attempt := 0; attempt < 2; attempt++ {
		id := uuid.NewString()
		_, err := d.db.Exec(query, id, server, remoteAddr, time.Now().UTC())
		if err == nil {
			return id, nil
		}
		if !d.dialect.IsDuplicateKeyError(err) {
			return "", fmt.Errorf("failed to start session: %w", err)
		}
	}
	return "", fmt.Errorf("failed to start session: id collision")
}

// EndSession closes a session with its final row count.
func (d *Database) EndSession(id string, rowsSent int64, reason string) error {
	query := d.qb.Build(`UPDATE sessions SET ended_at = ?, rows_sent = ?, end_reason = ?
		WHERE id = ? AND ended_at IS NULL`)

	res, err := d.db.Exec(query, time.Now().UTC(), rowsSent, reason, id)
	if err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	if n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// GetSession returns one session by id.
func (d *Database) GetSession(id string) (*Session, error) {
	row := d.db.QueryRow(d.qb.Build(`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`), id)

	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return s, nil
}

// ListSessions returns up to limit sessions, most recent first.
func (d *Database) ListSessions(limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.db.Query(d.qb.Build(`SELECT `+sessionColumns+` FROM sessions
		ORDER BY started_at DESC LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]Session, 0)
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(sc scanner) (*Session, error) {
	var (
		s     Session
		ended sql.NullTime
	)
	if err := sc.Scan(&s.ID, &s.Server, &s.RemoteAddr, &s.StartedAt, &ended, &s.RowsSent, &s.EndReason); err != nil {
		return nil, err
	}
	if ended.Valid {
		t := ended.Time
		s.EndedAt = &t
	}
	return &s, nil
}
