package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/claude/repcam/internal/models"
)

// GetTechniqueSummary aggregates finished sessions in [start, end) per technique.
func (db *DB) GetTechniqueSummary(ctx context.Context, start, end time.Time, userID int) ([]models.TechniqueSummary, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT s.technique,
		        COUNT(*)::int,
		        COALESCE(SUM(s.total_reps), 0)::int,
		        COALESCE(SUM(s.duration_sec), 0)::int,
		        COALESCE(MAX(s.total_reps), 0)::int,
		        (SELECT AVG(r.feature_peak_angle)
		           FROM rep_events r
		           JOIN sessions s2 ON s2.id = r.session_id
		          WHERE s2.technique = s.technique AND s2.user_id = $3
		            AND s2.started_at >= $1 AND s2.started_at < $2
		            AND s2.finished_at IS NOT NULL)
		 FROM sessions s
		 WHERE s.started_at >= $1 AND s.started_at < $2 AND s.user_id = $3
		   AND s.finished_at IS NOT NULL
		 GROUP BY s.technique
		 ORDER BY s.technique`,
		start, end, userID)
	if err != nil {
		return nil, fmt.Errorf("querying technique summary: %w", err)
	}
	defer rows.Close()

	var result []models.TechniqueSummary
	for rows.Next() {
		var ts models.TechniqueSummary
		if err := rows.Scan(&ts.Technique, &ts.Sessions, &ts.TotalReps, &ts.TotalDurationSec, &ts.BestSessionReps, &ts.AvgPeakAngle); err != nil {
			return nil, fmt.Errorf("scanning technique summary: %w", err)
		}
		if ts.Sessions > 0 {
			ts.AvgRepsPerSession = float64(ts.TotalReps) / float64(ts.Sessions)
		}
		result = append(result, ts)
	}
	return result, rows.Err()
}
