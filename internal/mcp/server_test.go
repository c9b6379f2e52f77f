package mcp

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/claude/repcam/internal/models"
	"github.com/claude/repcam/internal/storage"
)

type fakeHistory struct {
	sessions  []models.SessionRow
	detail    *models.SessionDetail
	summary   []models.TechniqueSummary
	err       error
	gotUserID int
	gotTech   string
}

func (f *fakeHistory) QuerySessions(_ context.Context, _, _ time.Time, technique string, userID int) ([]models.SessionRow, error) {
	f.gotUserID, f.gotTech = userID, technique
	return f.sessions, f.err
}

func (f *fakeHistory) GetSession(_ context.Context, _ uuid.UUID, userID int) (*models.SessionDetail, error) {
	f.gotUserID = userID
	if f.detail == nil {
		return nil, storage.ErrNotFound
	}
	return f.detail, f.err
}

func (f *fakeHistory) GetTechniqueSummary(_ context.Context, _, _ time.Time, userID int) ([]models.TechniqueSummary, error) {
	f.gotUserID = userID
	return f.summary, f.err
}

func newHandlers(h History, status models.LiveStatus) *handlers {
	return &handlers{
		ds:  NewLocal(h, func() models.LiveStatus { return status }),
		log: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func callRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) == 0 {
		t.Fatal("empty tool result")
	}
	tc, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content type = %T, want TextContent", res.Content[0])
	}
	return tc.Text
}

// TestUserIDFromContextDefault verifies that no user is assumed when the
// transport did not authenticate one.
func TestUserIDFromContextDefault(t *testing.T) {
	ctx := context.Background()
	if id := UserIDFromContext(ctx); id != 0 {
		t.Errorf("UserIDFromContext(empty) = %d, want 0", id)
	}
}

// TestUserIDFromContextSet verifies the user ID is extracted from context
// after being set by WithUserID.
func TestUserIDFromContextSet(t *testing.T) {
	ctx := WithUserID(context.Background(), 42)
	if id := UserIDFromContext(ctx); id != 42 {
		t.Errorf("UserIDFromContext = %d, want 42", id)
	}
}

// TestDefaultTimeRange verifies time range defaults and parsing.
func TestDefaultTimeRange(t *testing.T) {
	// Both empty → defaults to the last 7 days
	start, end, err := defaultTimeRange("", "", 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	diff := end.Sub(start)
	if diff.Hours() < 167 || diff.Hours() > 169 { // ~168 hours = 7 days
		t.Errorf("default range = %.0f hours, want ~168", diff.Hours())
	}

	// Explicit dates
	start, end, err = defaultTimeRange("2024-01-01", "2024-01-31", 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if start.Year() != 2024 || start.Month() != 1 || start.Day() != 1 {
		t.Errorf("start = %v, want 2024-01-01", start)
	}
	if end.Day() != 31 {
		t.Errorf("end = %v, want 2024-01-31", end)
	}

	// RFC3339
	start, _, err = defaultTimeRange("2024-06-15T10:30:00Z", "", 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if start.Hour() != 10 || start.Minute() != 30 {
		t.Errorf("start = %v, want 10:30", start)
	}

	// Invalid
	if _, _, err = defaultTimeRange("not-a-date", "", 7); err == nil {
		t.Error("expected error for invalid date")
	}
}

// TestGetSessionsTool verifies the tool passes the filter and the caller's
// user ID through to the data source.
func TestGetSessionsTool(t *testing.T) {
	hist := &fakeHistory{sessions: []models.SessionRow{{ID: uuid.New(), Technique: "jab", TotalReps: 12}}}
	h := newHandlers(hist, models.LiveStatus{})

	ctx := WithUserID(context.Background(), 7)
	res, err := h.getSessions(ctx, callRequest(map[string]any{"technique": "jab"}))
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatalf("tool error: %s", resultText(t, res))
	}
	if hist.gotUserID != 7 || hist.gotTech != "jab" {
		t.Errorf("user = %d, technique = %q", hist.gotUserID, hist.gotTech)
	}
	if !strings.Contains(resultText(t, res), `"total_reps":12`) {
		t.Errorf("result = %s", resultText(t, res))
	}
}

// TestGetSessionTool verifies ID validation and not-found handling.
func TestGetSessionTool(t *testing.T) {
	h := newHandlers(&fakeHistory{}, models.LiveStatus{})

	res, err := h.getSession(context.Background(), callRequest(map[string]any{"id": "nope"}))
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError {
		t.Error("expected error for invalid ID")
	}

	res, err = h.getSession(context.Background(), callRequest(map[string]any{"id": uuid.NewString()}))
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError || !strings.Contains(resultText(t, res), "not found") {
		t.Errorf("expected not found error, got %s", resultText(t, res))
	}
}

// TestHistoryNotConfigured verifies history tools report a tool error when
// no database is configured.
func TestHistoryNotConfigured(t *testing.T) {
	h := newHandlers(nil, models.LiveStatus{})

	res, err := h.getTechniqueSummary(context.Background(), callRequest(nil))
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError {
		t.Fatal("expected tool error without history")
	}

	if _, err := NewLocal(nil, nil).QuerySessions(context.Background(), time.Time{}, time.Time{}, "", 1); !errors.Is(err, ErrNoHistory) {
		t.Errorf("err = %v, want ErrNoHistory", err)
	}
}

// TestGetLiveStatusTool verifies the live status is returned as JSON.
func TestGetLiveStatusTool(t *testing.T) {
	h := newHandlers(nil, models.LiveStatus{State: "running", Technique: "cross", Reps: 3})

	res, err := h.getLiveStatus(context.Background(), callRequest(nil))
	if err != nil {
		t.Fatal(err)
	}
	text := resultText(t, res)
	if !strings.Contains(text, `"state":"running"`) || !strings.Contains(text, `"reps":3`) {
		t.Errorf("result = %s", text)
	}
}

// TestRecentSessionsResource verifies the resource returns JSON for the
// requested URI.
func TestRecentSessionsResource(t *testing.T) {
	hist := &fakeHistory{sessions: []models.SessionRow{{ID: uuid.New(), Technique: "jab"}}}
	h := newHandlers(hist, models.LiveStatus{})

	var req mcp.ReadResourceRequest
	req.Params.URI = "repcam://recent_sessions"
	contents, err := h.recentSessions(WithUserID(context.Background(), 3), req)
	if err != nil {
		t.Fatal(err)
	}
	if len(contents) != 1 {
		t.Fatalf("got %d contents, want 1", len(contents))
	}
	text, ok := contents[0].(mcp.TextResourceContents)
	if !ok || text.URI != "repcam://recent_sessions" || !strings.Contains(text.Text, `"technique":"jab"`) {
		t.Errorf("contents = %+v", contents[0])
	}
	if hist.gotUserID != 3 {
		t.Errorf("user = %d, want 3", hist.gotUserID)
	}
}
