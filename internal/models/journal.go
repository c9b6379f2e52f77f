package models

import "time"

// JournalEntry is one finished session as kept in the local journal. Local
// sessions appear here only.
type JournalEntry struct {
	SessionID   string    `json:"session_id"`
	Technique   string    `json:"technique"`
	Remote      bool      `json:"remote"`
	Login       string    `json:"login,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	TotalReps   int       `json:"total_reps"`
	DurationSec int       `json:"duration_sec"`
}
