// Package detector turns per-tick arm positions into discrete rep counts.
package detector

import (
	"time"

	"github.com/claude/repcam/internal/features"
	"github.com/claude/repcam/internal/pose"
)

// State is the arm position tracked by a RepDetector.
type State int

const (
	Resting State = iota
	Extended
)

func (s State) String() string {
	switch s {
	case Resting:
		return "resting"
	case Extended:
		return "extended"
	default:
		return "unknown"
	}
}

// RepEvent records one completed rep. It is never modified after creation.
type RepEvent struct {
	SessionID  string    `json:"session_id"`
	Technique  string    `json:"technique"`
	OccurredAt time.Time `json:"occurred_at"`
	PeakAngle  *float64  `json:"peak_angle,omitempty"`
}

// RepDetector is a hysteresis state machine for one technique in one session.
// It is not safe for concurrent use; the capture loop's tick goroutine owns it.
type RepDetector struct {
	sessionID string
	technique Technique

	state State
	count int

	peak    float64
	hasPeak bool
}

// New creates a detector in the Resting state with a zero count.
func New(sessionID string, technique Technique) *RepDetector {
	if technique.Margin <= 0 {
		technique.Margin = DefaultMargin
	}
	return &RepDetector{sessionID: sessionID, technique: technique}
}

// Update feeds one tick. It returns the RepEvent completed on this tick, if any.
// A nil pose or an invisible shoulder/wrist leaves state and count untouched.
func (d *RepDetector) Update(p *pose.Pose, at time.Time) (RepEvent, bool) {
	if p == nil {
		return RepEvent{}, false
	}
	shoulder := p.Get(d.technique.Shoulder)
	wrist := p.Get(d.technique.Wrist)
	if !features.IsVisible(shoulder) || !features.IsVisible(wrist) {
		return RepEvent{}, false
	}

	forward := wrist.X < shoulder.X-d.technique.Margin

	switch d.state {
	case Resting:
		if forward {
			d.state = Extended
			d.hasPeak = false
			d.trackPeak(p)
		}
	case Extended:
		if forward {
			d.trackPeak(p)
			return RepEvent{}, false
		}
		d.state = Resting
		d.count++
		ev := RepEvent{
			SessionID:  d.sessionID,
			Technique:  d.technique.Name,
			OccurredAt: at,
		}
		if d.hasPeak {
			peak := d.peak
			ev.PeakAngle = &peak
		}
		return ev, true
	}
	return RepEvent{}, false
}

func (d *RepDetector) trackPeak(p *pose.Pose) {
	angle, ok := features.JointAngle(p, d.technique.Shoulder, d.technique.Elbow, d.technique.Wrist)
	if !ok {
		return
	}
	if !d.hasPeak || angle > d.peak {
		d.peak = angle
		d.hasPeak = true
	}
}

// State returns the current arm position.
func (d *RepDetector) State() State { return d.state }

// Count returns the number of completed reps.
func (d *RepDetector) Count() int { return d.count }

// Technique returns the technique being tracked.
func (d *RepDetector) Technique() Technique { return d.technique }
