package database

import (
	"database/sql"
	"time"
)

// Session is one connection to a target window.
type Session struct {
	ID        string     `db:"id" json:"id"`
	TargetID  string     `db:"target_id" json:"target_id"`
	Title     string     `db:"title" json:"title"`
	Handle    int64      `db:"handle" json:"handle"`
	StartedAt time.Time  `db:"started_at" json:"started_at"`
	EndedAt   *time.Time `db:"ended_at" json:"ended_at,omitempty"`
}

// Action is one executed intent or simulated miss.
type Action struct {
	ID        int64     `db:"id" json:"id"`
	SessionID *string   `db:"session_id" json:"session_id,omitempty"`
	Kind      string    `db:"kind" json:"kind"`
	X         int       `db:"x" json:"x"`
	Y         int       `db:"y" json:"y"`
	Key       string    `db:"key" json:"key,omitempty"`
	Detector  string    `db:"detector" json:"detector,omitempty"`
	Score     float64   `db:"score" json:"score"`
	Error     string    `db:"error" json:"error,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// CycleError is one failed loop cycle.
type CycleError struct {
	ID         int64     `db:"id" json:"id"`
	SessionID  *string   `db:"session_id" json:"session_id,omitempty"`
	Stage      string    `db:"stage" json:"stage"`
	Kind       string    `db:"kind" json:"kind"`
	Message    string    `db:"message" json:"message"`
	OccurredAt time.Time `db:"occurred_at" json:"occurred_at"`
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}
