package storage

import (
	"context"
	"fmt"

	"github.com/claude/repcam/internal/models"
)

// InsertRepEvent records one rep of a remote session.
func (db *DB) InsertRepEvent(ctx context.Context, row models.RepEventRow) error {
	_, err := db.Pool.Exec(ctx,
		`INSERT INTO rep_events (session_id, technique, rep_at, feature_peak_angle)
		 VALUES ($1, $2, $3, $4)`,
		row.SessionID, row.Technique, row.RepAt, row.FeaturePeakAngle)
	if err != nil {
		return fmt.Errorf("inserting rep event: %w", err)
	}
	return nil
}
