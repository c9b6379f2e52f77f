// Package journal keeps a local SQLite log of finished sessions, including
// local sessions that never reach the database.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/claude/repcam/internal/models"
)

// Journal is a session log backed by dir/journal.db.
type Journal struct {
	db *sql.DB
}

// Open opens (or creates) the journal database at dir/journal.db.
func Open(dir string) (*Journal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating journal dir %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", filepath.Join(dir, "journal.db"))
	if err != nil {
		return nil, fmt.Errorf("opening journal db: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS sessions (
		session_id   TEXT PRIMARY KEY,
		technique    TEXT NOT NULL,
		remote       INTEGER NOT NULL,
		login        TEXT NOT NULL DEFAULT '',
		started_at   TEXT NOT NULL,
		finished_at  TEXT NOT NULL,
		total_reps   INTEGER NOT NULL,
		duration_sec INTEGER NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating journal table: %w", err)
	}

	return &Journal{db: db}, nil
}

// Append records a finished session. Appending the same session twice keeps
// the latest values.
func (j *Journal) Append(ctx context.Context, e models.JournalEntry) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO sessions
		 (session_id, technique, remote, login, started_at, finished_at, total_reps, duration_sec)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.SessionID, e.Technique, e.Remote, e.Login,
		e.StartedAt.UTC().Format(time.RFC3339Nano), e.FinishedAt.UTC().Format(time.RFC3339Nano),
		e.TotalReps, e.DurationSec,
	)
	if err != nil {
		return fmt.Errorf("appending journal entry %s: %w", e.SessionID, err)
	}
	return nil
}

// Recent returns up to limit entries, most recently started first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]models.JournalEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := j.db.QueryContext(ctx,
		`SELECT session_id, technique, remote, login, started_at, finished_at, total_reps, duration_sec
		 FROM sessions
		 ORDER BY started_at DESC
		 LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying journal: %w", err)
	}
	defer rows.Close()

	var result []models.JournalEntry
	for rows.Next() {
		var e models.JournalEntry
		var started, finished string
		if err := rows.Scan(&e.SessionID, &e.Technique, &e.Remote, &e.Login, &started, &finished, &e.TotalReps, &e.DurationSec); err != nil {
			return nil, fmt.Errorf("scanning journal entry: %w", err)
		}
		if e.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
			return nil, fmt.Errorf("parsing started_at of %s: %w", e.SessionID, err)
		}
		if e.FinishedAt, err = time.Parse(time.RFC3339Nano, finished); err != nil {
			return nil, fmt.Errorf("parsing finished_at of %s: %w", e.SessionID, err)
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

// Close closes the journal database.
func (j *Journal) Close() error {
	return j.db.Close()
}
