package models

import (
	"time"

	"github.com/google/uuid"
)

// SessionRow is a row of the sessions table.
type SessionRow struct {
	ID          uuid.UUID  `json:"id"`
	UserID      int        `json:"user_id"`
	Technique   string     `json:"technique"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	TotalReps   int        `json:"total_reps"`
	DurationSec *int       `json:"duration_sec,omitempty"`
}

// RepEventRow is a row of the rep_events table.
type RepEventRow struct {
	ID               int64     `json:"id"`
	SessionID        uuid.UUID `json:"session_id"`
	Technique        string    `json:"technique"`
	RepAt            time.Time `json:"rep_at"`
	FeaturePeakAngle *float64  `json:"feature_peak_angle,omitempty"`
}

// SessionDetail is a session with its individual reps.
type SessionDetail struct {
	SessionRow
	Reps []RepEventRow `json:"reps"`
}

// TechniqueSummary aggregates finished sessions of one technique.
type TechniqueSummary struct {
	Technique         string   `json:"technique"`
	Sessions          int      `json:"sessions"`
	TotalReps         int      `json:"total_reps"`
	TotalDurationSec  int      `json:"total_duration_sec"`
	AvgRepsPerSession float64  `json:"avg_reps_per_session"`
	BestSessionReps   int      `json:"best_session_reps"`
	AvgPeakAngle      *float64 `json:"avg_peak_angle,omitempty"`
}
