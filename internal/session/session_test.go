package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/claude/repcam/internal/detector"
	"github.com/claude/repcam/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type finishCall struct {
	id          uuid.UUID
	totalReps   int
	durationSec int
}

type fakeStore struct {
	mu        sync.Mutex
	userErr   error
	createErr error
	repErr    error
	repDelay  time.Duration

	users    int
	sessions int
	reps     []models.RepEventRow
	finishes []finishCall
}

func (f *fakeStore) GetOrCreateUser(ctx context.Context, login, displayName string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users++
	return 42, f.userErr
}

func (f *fakeStore) CreateSession(ctx context.Context, userID int, technique string, startedAt time.Time) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return uuid.Nil, f.createErr
	}
	f.sessions++
	return uuid.New(), nil
}

func (f *fakeStore) InsertRepEvent(ctx context.Context, row models.RepEventRow) error {
	if f.repDelay > 0 {
		time.Sleep(f.repDelay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.repErr != nil {
		return f.repErr
	}
	f.reps = append(f.reps, row)
	return nil
}

func (f *fakeStore) FinishSession(ctx context.Context, id uuid.UUID, finishedAt time.Time, totalReps, durationSec int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finishes = append(f.finishes, finishCall{id, totalReps, durationSec})
	return nil
}

func (f *fakeStore) writes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions + len(f.reps) + len(f.finishes)
}

type fakeJournal struct {
	entries []models.JournalEntry
}

func (j *fakeJournal) Append(ctx context.Context, e models.JournalEntry) error {
	j.entries = append(j.entries, e)
	return nil
}

// fixedClock returns a clock that yields each time in turn, repeating the last.
func fixedClock(times ...time.Time) func() time.Time {
	var mu sync.Mutex
	i := 0
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := times[min(i, len(times)-1)]
		i++
		return t
	}
}

var alice = &Identity{Login: "alice@example.com", DisplayName: "Alice"}

// TestLocalSessionWritesNothing verifies that without an identity the session is
// local and no remote call is made at start, per rep or at finish.
func TestLocalSessionWritesNothing(t *testing.T) {
	store := &fakeStore{}
	r := NewRecorder(store, nil, testLogger())

	s := r.Start(context.Background(), "jab", nil)
	if !IsLocalID(s.ID) || s.Remote {
		t.Fatalf("session = %+v, want local", s)
	}

	for i := 0; i < 3; i++ {
		r.RecordRep(detector.RepEvent{SessionID: s.ID, Technique: "jab", OccurredAt: time.Now()})
	}
	if err := r.Finish(context.Background(), s, 3); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	if store.users != 0 || store.writes() != 0 {
		t.Errorf("remote calls on a local session: users=%d writes=%d", store.users, store.writes())
	}
}

// TestRemoteSessionLifecycle verifies rows are written and duration rounds
// 12.5 s up to 13.
func TestRemoteSessionLifecycle(t *testing.T) {
	store := &fakeStore{}
	journal := &fakeJournal{}
	r := NewRecorder(store, journal, testLogger())

	t0 := time.Date(2026, 5, 10, 7, 30, 0, 0, time.UTC)
	r.now = fixedClock(t0, t0.Add(12500*time.Millisecond))

	s := r.Start(context.Background(), "cross", alice)
	if !s.Remote || IsLocalID(s.ID) {
		t.Fatalf("session = %+v, want remote", s)
	}
	if s.UserID != 42 {
		t.Errorf("user id = %d, want 42", s.UserID)
	}

	peak := 170.0
	r.RecordRep(detector.RepEvent{SessionID: s.ID, Technique: "cross", OccurredAt: t0.Add(time.Second), PeakAngle: &peak})
	r.RecordRep(detector.RepEvent{SessionID: s.ID, Technique: "cross", OccurredAt: t0.Add(2 * time.Second)})

	if err := r.Finish(context.Background(), s, 2); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	if len(store.reps) != 2 {
		t.Errorf("reps = %d, want 2", len(store.reps))
	}
	if len(store.finishes) != 1 {
		t.Fatalf("finishes = %d, want 1", len(store.finishes))
	}
	f := store.finishes[0]
	if f.id.String() != s.ID || f.totalReps != 2 || f.durationSec != 13 {
		t.Errorf("finish = %+v, want id=%s reps=2 duration=13", f, s.ID)
	}

	if len(journal.entries) != 1 {
		t.Fatalf("journal entries = %d, want 1", len(journal.entries))
	}
	if e := journal.entries[0]; !e.Remote || e.DurationSec != 13 || e.Login != "alice@example.com" {
		t.Errorf("journal entry = %+v", e)
	}
}

// TestStartFallsBackToLocal verifies persistence failures at start yield a
// local session rather than an error.
func TestStartFallsBackToLocal(t *testing.T) {
	tests := []struct {
		name  string
		store *fakeStore
	}{
		{"user lookup fails", &fakeStore{userErr: errors.New("db down")}},
		{"session insert fails", &fakeStore{createErr: errors.New("db down")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRecorder(tt.store, nil, testLogger())
			s := r.Start(context.Background(), "jab", alice)
			if s.Remote || !strings.HasPrefix(s.ID, LocalPrefix) {
				t.Errorf("session = %+v, want local", s)
			}
		})
	}
}

// TestNilStoreIsLocal verifies a recorder without a database is local-only.
func TestNilStoreIsLocal(t *testing.T) {
	r := NewRecorder(nil, nil, testLogger())
	s := r.Start(context.Background(), "jab", alice)
	if s.Remote {
		t.Fatal("expected local session")
	}
	r.RecordRep(detector.RepEvent{SessionID: s.ID})
	if err := r.Finish(context.Background(), s, 0); err != nil {
		t.Errorf("Finish: %v", err)
	}
}

// TestRepFailureNotSurfaced verifies failing rep writes do not fail Finish.
func TestRepFailureNotSurfaced(t *testing.T) {
	store := &fakeStore{repErr: errors.New("constraint violation")}
	r := NewRecorder(store, nil, testLogger())

	s := r.Start(context.Background(), "jab", alice)
	r.RecordRep(detector.RepEvent{SessionID: s.ID, Technique: "jab", OccurredAt: time.Now()})

	if err := r.Finish(context.Background(), s, 1); err != nil {
		t.Errorf("Finish: %v", err)
	}
	if len(store.finishes) != 1 {
		t.Errorf("finishes = %d, want 1", len(store.finishes))
	}
}

// TestRecordRepDoesNotBlock verifies slow writes happen off the caller's path
// and Finish waits for them.
func TestRecordRepDoesNotBlock(t *testing.T) {
	store := &fakeStore{repDelay: 50 * time.Millisecond}
	r := NewRecorder(store, nil, testLogger())
	s := r.Start(context.Background(), "jab", alice)

	begin := time.Now()
	for i := 0; i < 5; i++ {
		r.RecordRep(detector.RepEvent{SessionID: s.ID, Technique: "jab", OccurredAt: time.Now()})
	}
	if elapsed := time.Since(begin); elapsed > 25*time.Millisecond {
		t.Errorf("RecordRep blocked for %s", elapsed)
	}

	if err := r.Finish(context.Background(), s, 5); err != nil {
		t.Fatal(err)
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.reps) != 5 {
		t.Errorf("reps = %d after Finish, want 5", len(store.reps))
	}
}

func TestDurationSeconds(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		elapsed time.Duration
		want    int
	}{
		{12500 * time.Millisecond, 13},
		{12499 * time.Millisecond, 12},
		{0, 0},
		{-3 * time.Second, 0},
		{90 * time.Minute, 5400},
	}
	for _, tt := range tests {
		if got := DurationSeconds(t0, t0.Add(tt.elapsed)); got != tt.want {
			t.Errorf("DurationSeconds(%s) = %d, want %d", tt.elapsed, got, tt.want)
		}
	}
}
