package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/claude/repcam/internal/models"
)

// CreateSession inserts an open session and returns its ID.
func (db *DB) CreateSession(ctx context.Context, userID int, technique string, startedAt time.Time) (uuid.UUID, error) {
	id := uuid.New()
	_, err := db.Pool.Exec(ctx,
		`INSERT INTO sessions (id, user_id, technique, started_at) VALUES ($1, $2, $3, $4)`,
		id, userID, technique, startedAt)
	if err != nil {
		return uuid.Nil, fmt.Errorf("inserting session: %w", err)
	}
	return id, nil
}

// FinishSession finalizes an open session. A session that is already finished
// or does not exist yields ErrNotFound.
func (db *DB) FinishSession(ctx context.Context, id uuid.UUID, finishedAt time.Time, totalReps, durationSec int) error {
	tag, err := db.Pool.Exec(ctx,
		`UPDATE sessions
		 SET finished_at = $2, total_reps = $3, duration_sec = $4
		 WHERE id = $1 AND finished_at IS NULL`,
		id, finishedAt, totalReps, durationSec)
	if err != nil {
		return fmt.Errorf("finishing session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("finishing session %s: %w", id, ErrNotFound)
	}
	return nil
}

// QuerySessions retrieves sessions started in [start, end), newest first. An
// empty technique matches all techniques.
func (db *DB) QuerySessions(ctx context.Context, start, end time.Time, technique string, userID int) ([]models.SessionRow, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT id, user_id, technique, started_at, finished_at, total_reps, duration_sec
		 FROM sessions
		 WHERE started_at >= $1 AND started_at < $2 AND user_id = $3
		   AND ($4 = '' OR technique = $4)
		 ORDER BY started_at DESC`,
		start, end, userID, technique)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var result []models.SessionRow
	for rows.Next() {
		var s models.SessionRow
		if err := rows.Scan(&s.ID, &s.UserID, &s.Technique, &s.StartedAt, &s.FinishedAt, &s.TotalReps, &s.DurationSec); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

// GetSession retrieves one session with its reps.
func (db *DB) GetSession(ctx context.Context, id uuid.UUID, userID int) (*models.SessionDetail, error) {
	var s models.SessionRow
	err := db.Pool.QueryRow(ctx,
		`SELECT id, user_id, technique, started_at, finished_at, total_reps, duration_sec
		 FROM sessions
		 WHERE id = $1 AND user_id = $2`,
		id, userID).Scan(&s.ID, &s.UserID, &s.Technique, &s.StartedAt, &s.FinishedAt, &s.TotalReps, &s.DurationSec)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("querying session: %w", err)
	}

	detail := &models.SessionDetail{SessionRow: s}

	rows, err := db.Pool.Query(ctx,
		`SELECT id, session_id, technique, rep_at, feature_peak_angle
		 FROM rep_events
		 WHERE session_id = $1
		 ORDER BY rep_at ASC`,
		id)
	if err != nil {
		return nil, fmt.Errorf("querying session reps: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r models.RepEventRow
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Technique, &r.RepAt, &r.FeaturePeakAngle); err != nil {
			return nil, fmt.Errorf("scanning rep: %w", err)
		}
		detail.Reps = append(detail.Reps, r)
	}
	return detail, rows.Err()
}
