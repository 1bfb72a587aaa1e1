package database

import (
	"database/sql"
	"fmt"
	"time"
)

// RecordCycleError stores a failed cycle.
func (db *DB) RecordCycleError(sessionID, stage, kind, message string) (int64, error) {
	res, err := db.conn.Exec(`
		INSERT INTO cycle_errors (session_id, stage, kind, message, occurred_at)
		VALUES (?, ?, ?, ?, ?)
	`, nullString(sessionID), stage, kind, message, time.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to insert cycle error: %w", err)
	}
	return res.LastInsertId()
}

// GetRecentErrors returns the newest cycle errors first.
func (db *DB) GetRecentErrors(limit int) ([]*CycleError, error) {
	rows, err := db.conn.Query(`
		SELECT id, session_id, stage, kind, message, occurred_at
		FROM cycle_errors
		ORDER BY occurred_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query cycle errors: %w", err)
	}
	defer rows.Close()

	var out []*CycleError
	for rows.Next() {
		e := &CycleError{}
		var session, msg sql.NullString
		if err := rows.Scan(&e.ID, &session, &e.Stage, &e.Kind, &msg, &e.OccurredAt); err != nil {
			return nil, err
		}
		e.SessionID = stringPtr(session)
		e.Message = msg.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetErrorCountsByStage counts errors per loop stage since the given time.
func (db *DB) GetErrorCountsByStage(since time.Time) (map[string]int, error) {
	counts, err := db.countBy(`
		SELECT stage, COUNT(*)
		FROM cycle_errors
		WHERE occurred_at >= ?
		GROUP BY stage
	`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to count errors: %w", err)
	}
	return counts, nil
}
