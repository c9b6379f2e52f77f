// Package session opens, feeds and closes training sessions against the
// persistence boundary. Without an identity, or when persistence fails at
// start, a session runs locally and nothing is written remotely.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/claude/repcam/internal/detector"
	"github.com/claude/repcam/internal/models"
)

// ErrPersistence wraps every failed remote write. It is logged, never retried.
var ErrPersistence = errors.New("session persistence failed")

// LocalPrefix marks session IDs that never reach the remote store.
const LocalPrefix = "local-"

const defaultWriteTimeout = 5 * time.Second

// IsLocalID reports whether id belongs to a local session.
func IsLocalID(id string) bool {
	return strings.HasPrefix(id, LocalPrefix)
}

// Identity is an already authenticated user.
type Identity struct {
	Login       string `json:"login"`
	DisplayName string `json:"display_name"`
}

// Session is an open session handle.
type Session struct {
	ID        string    `json:"id"`
	Technique string    `json:"technique"`
	StartedAt time.Time `json:"started_at"`
	Remote    bool      `json:"remote"`
	UserID    int       `json:"-"`
	Login     string    `json:"login,omitempty"`
}

// Store is the remote persistence boundary.
type Store interface {
	GetOrCreateUser(ctx context.Context, login, displayName string) (int, error)
	CreateSession(ctx context.Context, userID int, technique string, startedAt time.Time) (uuid.UUID, error)
	InsertRepEvent(ctx context.Context, row models.RepEventRow) error
	FinishSession(ctx context.Context, id uuid.UUID, finishedAt time.Time, totalReps, durationSec int) error
}

// Journal keeps a local record of finished sessions.
type Journal interface {
	Append(ctx context.Context, entry models.JournalEntry) error
}

// Recorder implements the session lifecycle. A nil Store makes every session local.
type Recorder struct {
	store        Store
	journal      Journal
	log          *slog.Logger
	now          func() time.Time
	writeTimeout time.Duration

	reps sync.WaitGroup
}

// NewRecorder creates a recorder. store and journal may be nil.
func NewRecorder(store Store, journal Journal, logger *slog.Logger) *Recorder {
	return &Recorder{
		store:        store,
		journal:      journal,
		log:          logger,
		now:          time.Now,
		writeTimeout: defaultWriteTimeout,
	}
}

// Start opens a session. It never fails: any problem resolving the user or
// creating the row yields a local session instead.
func (r *Recorder) Start(ctx context.Context, technique string, identity *Identity) Session {
	startedAt := r.now()
	local := Session{
		ID:        LocalPrefix + uuid.NewString(),
		Technique: technique,
		StartedAt: startedAt,
	}
	if identity != nil {
		local.Login = identity.Login
	}

	if identity == nil || identity.Login == "" || r.store == nil {
		r.log.Info("local session started", "session_id", local.ID, "technique", technique)
		return local
	}

	userID, err := r.store.GetOrCreateUser(ctx, identity.Login, identity.DisplayName)
	if err != nil {
		r.log.Warn("falling back to local session",
			"login", identity.Login,
			"error", fmt.Errorf("%w: %w", ErrPersistence, err),
		)
		return local
	}

	id, err := r.store.CreateSession(ctx, userID, technique, startedAt)
	if err != nil {
		r.log.Warn("falling back to local session",
			"login", identity.Login,
			"error", fmt.Errorf("%w: %w", ErrPersistence, err),
		)
		return local
	}

	s := Session{
		ID:        id.String(),
		Technique: technique,
		StartedAt: startedAt,
		Remote:    true,
		UserID:    userID,
		Login:     identity.Login,
	}
	r.log.Info("remote session started", "session_id", s.ID, "technique", technique, "user_id", userID)
	return s
}

// RecordRep persists ev in the background. It returns immediately; failures
// are logged.
func (r *Recorder) RecordRep(ev detector.RepEvent) {
	if IsLocalID(ev.SessionID) || r.store == nil {
		return
	}

	id, err := uuid.Parse(ev.SessionID)
	if err != nil {
		r.log.Warn("rep for malformed session id dropped", "session_id", ev.SessionID, "error", err)
		return
	}

	row := models.RepEventRow{
		SessionID:        id,
		Technique:        ev.Technique,
		RepAt:            ev.OccurredAt,
		FeaturePeakAngle: ev.PeakAngle,
	}

	r.reps.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.writeTimeout)
		defer cancel()

		if err := r.store.InsertRepEvent(ctx, row); err != nil {
			r.log.Warn("rep not persisted",
				"session_id", ev.SessionID,
				"error", fmt.Errorf("%w: %w", ErrPersistence, err),
			)
		}
	})
}

// Finish waits for in-flight rep writes, then finalizes the session remotely
// (remote sessions only) and in the journal.
func (r *Recorder) Finish(ctx context.Context, s Session, totalReps int) error {
	r.waitReps(ctx)

	finishedAt := r.now()
	duration := DurationSeconds(s.StartedAt, finishedAt)

	var result error
	if s.Remote && !IsLocalID(s.ID) && r.store != nil {
		id, err := uuid.Parse(s.ID)
		if err == nil {
			err = r.store.FinishSession(ctx, id, finishedAt, totalReps, duration)
		}
		if err != nil {
			result = fmt.Errorf("%w: finishing session %s: %w", ErrPersistence, s.ID, err)
		}
	}

	if r.journal != nil {
		entry := models.JournalEntry{
			SessionID:   s.ID,
			Technique:   s.Technique,
			Remote:      s.Remote,
			Login:       s.Login,
			StartedAt:   s.StartedAt,
			FinishedAt:  finishedAt,
			TotalReps:   totalReps,
			DurationSec: duration,
		}
		if err := r.journal.Append(ctx, entry); err != nil {
			r.log.Warn("journal append failed", "session_id", s.ID, "error", err)
		}
	}

	r.log.Info("session finished",
		"session_id", s.ID,
		"remote", s.Remote,
		"total_reps", totalReps,
		"duration_sec", duration,
	)
	return result
}

func (r *Recorder) waitReps(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		r.reps.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		r.log.Warn("finishing session with rep writes still in flight", "error", ctx.Err())
	}
}

// DurationSeconds is the elapsed time from start to end rounded to whole
// seconds, never negative.
func DurationSeconds(start, end time.Time) int {
	ms := end.Sub(start).Milliseconds()
	return max(0, int(math.Round(float64(ms)/1000)))
}
