package database

import (
	"database/sql"
	"fmt"
	"time"
)

// RecordAction stores an action. An empty session id is stored as NULL.
func (db *DB) RecordAction(sessionID string, a Action) (int64, error) {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	res, err := db.conn.Exec(`
		INSERT INTO actions (session_id, kind, x, y, key, detector, score, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, nullString(sessionID), a.Kind, a.X, a.Y, a.Key, a.Detector, a.Score, nullString(a.Error), a.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to insert action: %w", err)
	}
	return res.LastInsertId()
}

// RecentActions returns the newest actions first.
func (db *DB) RecentActions(limit int) ([]*Action, error) {
	rows, err := db.conn.Query(`
		SELECT id, session_id, kind, x, y, key, detector, score, error, created_at
		FROM actions
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query actions: %w", err)
	}
	defer rows.Close()

	var out []*Action
	for rows.Next() {
		a := &Action{}
		var session, key, detector, errText sql.NullString
		if err := rows.Scan(&a.ID, &session, &a.Kind, &a.X, &a.Y, &key, &detector, &a.Score, &errText, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.SessionID = stringPtr(session)
		a.Key, a.Detector, a.Error = key.String, detector.String, errText.String
		out = append(out, a)
	}
	return out, rows.Err()
}

// ActionCountsByKind counts actions per kind for a session, or for all
// sessions when sessionID is empty.
func (db *DB) ActionCountsByKind(sessionID string) (map[string]int, error) {
	query := `SELECT kind, COUNT(*) FROM actions GROUP BY kind`
	args := []interface{}{}
	if sessionID != "" {
		query = `SELECT kind, COUNT(*) FROM actions WHERE session_id = ? GROUP BY kind`
		args = append(args, sessionID)
	}
	return db.countBy(query, args...)
}

func (db *DB) countBy(query string, args ...interface{}) (map[string]int, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var k string
		var n int
		if err := rows.Scan(&k, &n); err != nil {
			return nil, err
		}
		out[k] = n
	}
	return out, rows.Err()
}
