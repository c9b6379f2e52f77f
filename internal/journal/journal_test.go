package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/claude/repcam/internal/models"
)

func openTemp(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "state"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestAppendAndRecent(t *testing.T) {
	j := openTemp(t)
	ctx := context.Background()
	t0 := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

	entries := []models.JournalEntry{
		{SessionID: "local-a", Technique: "jab", StartedAt: t0, FinishedAt: t0.Add(time.Minute), TotalReps: 12, DurationSec: 60},
		{SessionID: "0b7c", Technique: "cross", Remote: true, Login: "alice@example.com", StartedAt: t0.Add(time.Hour), FinishedAt: t0.Add(61 * time.Minute), TotalReps: 30, DurationSec: 60},
	}
	for _, e := range entries {
		if err := j.Append(ctx, e); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, err := j.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].SessionID != "0b7c" || !got[0].Remote || got[0].Login != "alice@example.com" {
		t.Errorf("first = %+v", got[0])
	}
	if !got[1].StartedAt.Equal(t0) || got[1].TotalReps != 12 {
		t.Errorf("second = %+v", got[1])
	}
}

// TestAppendReplaces verifies a session appended twice appears once with the
// latest values.
func TestAppendReplaces(t *testing.T) {
	j := openTemp(t)
	ctx := context.Background()
	now := time.Now()

	e := models.JournalEntry{SessionID: "local-x", Technique: "jab", StartedAt: now, FinishedAt: now, TotalReps: 1}
	j.Append(ctx, e)
	e.TotalReps = 5
	j.Append(ctx, e)

	got, err := j.Recent(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].TotalReps != 5 {
		t.Errorf("got %+v", got)
	}
}

// TestReopen verifies entries survive closing the database.
func TestReopen(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now()
	j.Append(context.Background(), models.JournalEntry{SessionID: "local-y", Technique: "cross", StartedAt: now, FinishedAt: now})
	j.Close()

	j, err = Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer j.Close()

	got, _ := j.Recent(context.Background(), 5)
	if len(got) != 1 {
		t.Errorf("len = %d after reopen, want 1", len(got))
	}
}
