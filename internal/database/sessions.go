package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// StartSession records a new connection and returns its id. An empty id is
// replaced with a fresh UUID.
func (db *DB) StartSession(id, targetID, title string, handle int64) (string, error) {
	if id == "" {
		id = uuid.NewString()
	}
	_, err := db.conn.Exec(`
		INSERT INTO sessions (id, target_id, title, handle, started_at)
		VALUES (?, ?, ?, ?, ?)
	`, id, targetID, title, handle, time.Now())
	if err != nil {
		return "", fmt.Errorf("failed to insert session: %w", err)
	}
	return id, nil
}

// EndSession stamps the session's end time once.
func (db *DB) EndSession(id string) error {
	_, err := db.conn.Exec(`
		UPDATE sessions SET ended_at = ? WHERE id = ? AND ended_at IS NULL
	`, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	return nil
}

// GetSession returns one session.
func (db *DB) GetSession(id string) (*Session, error) {
	s := &Session{}
	var title sql.NullString
	var ended sql.NullTime
	err := db.conn.QueryRow(`
		SELECT id, target_id, title, handle, started_at, ended_at
		FROM sessions WHERE id = ?
	`, id).Scan(&s.ID, &s.TargetID, &title, &s.Handle, &s.StartedAt, &ended)
	if err != nil {
		return nil, fmt.Errorf("failed to get session %s: %w", id, err)
	}
	s.Title = title.String
	if ended.Valid {
		s.EndedAt = &ended.Time
	}
	return s, nil
}

// ListSessions returns the most recent sessions first.
func (db *DB) ListSessions(limit int) ([]*Session, error) {
	rows, err := db.conn.Query(`
		SELECT id, target_id, title, handle, started_at, ended_at
		FROM sessions
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		s := &Session{}
		var title sql.NullString
		var ended sql.NullTime
		if err := rows.Scan(&s.ID, &s.TargetID, &title, &s.Handle, &s.StartedAt, &ended); err != nil {
			return nil, err
		}
		s.Title = title.String
		if ended.Valid {
			s.EndedAt = &ended.Time
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
