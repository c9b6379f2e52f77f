package models

import "time"

// LiveStatus is a point-in-time snapshot of the capture loop.
type LiveStatus struct {
	State             string       `json:"state"`
	Technique         string       `json:"technique,omitempty"`
	SessionID         string       `json:"session_id,omitempty"`
	Local             bool         `json:"local"`
	Reps              int          `json:"reps"`
	DetectorState     string       `json:"detector_state,omitempty"`
	Ticks             uint64       `json:"ticks"`
	FramesWithoutPose uint64       `json:"frames_without_pose"`
	EstimationErrors  uint64       `json:"estimation_errors"`
	RenderErrors      uint64       `json:"render_errors"`
	FramesCaptured    uint64       `json:"frames_captured"`
	FramesDropped     uint64       `json:"frames_dropped"`
	Telemetry         *Telemetry   `json:"telemetry,omitempty"`
	StartedAt         *time.Time   `json:"started_at,omitempty"`
	Last              *LastSession `json:"last,omitempty"`
}

// LastSession describes the most recently finished session.
type LastSession struct {
	SessionID  string    `json:"session_id"`
	Technique  string    `json:"technique"`
	Local      bool      `json:"local"`
	Reps       int       `json:"reps"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Telemetry reports the live publisher since process start.
type Telemetry struct {
	Connected bool   `json:"connected"`
	Published uint64 `json:"published"`
	Errors    uint64 `json:"errors"`
}
