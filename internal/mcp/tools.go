package mcp

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/claude/repcam/internal/storage"
)

// defaultTimeRange returns start/end, defaulting to the last days days.
func defaultTimeRange(startStr, endStr string, days int) (time.Time, time.Time, error) {
	var start, end time.Time
	var err error

	if endStr != "" {
		end, err = parseFlexTime(endStr)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
	} else {
		end = time.Now()
	}

	if startStr != "" {
		start, err = parseFlexTime(startStr)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
	} else {
		start = end.AddDate(0, 0, -days)
	}

	return start, end, nil
}

func parseFlexTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err == nil {
		return t, nil
	}
	t, err = time.Parse("2006-01-02", s)
	if err == nil {
		return t, nil
	}
	return time.Time{}, err
}

// --- Tool definitions ---

var toolGetSessions = mcp.NewTool("get_sessions",
	mcp.WithDescription("List recorded training sessions with technique, start/finish time, total reps, and duration."),
	mcp.WithString("start", mcp.Description("Start date (ISO 8601 or YYYY-MM-DD). Defaults to 7 days ago.")),
	mcp.WithString("end", mcp.Description("End date (ISO 8601 or YYYY-MM-DD). Defaults to now.")),
	mcp.WithString("technique", mcp.Description("Filter by technique (e.g. 'jab', 'cross')")),
)

var toolGetSession = mcp.NewTool("get_session",
	mcp.WithDescription("Get one session with every recorded rep and its peak elbow angle."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Session ID (UUID)")),
)

var toolGetTechniqueSummary = mcp.NewTool("get_technique_summary",
	mcp.WithDescription("Per-technique totals: session count, total reps, total duration, average and best reps per session, average peak elbow angle."),
	mcp.WithString("start", mcp.Description("Start date. Defaults to 30 days ago.")),
	mcp.WithString("end", mcp.Description("End date. Defaults to now.")),
)

var toolGetLiveStatus = mcp.NewTool("get_live_status",
	mcp.WithDescription("Current capture loop state: running technique, live rep count, arm state, frame and error counters, and the last finished session."),
)

// --- Tool handlers ---

func (h *handlers) getSessions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	start, end, err := defaultTimeRange(req.GetString("start", ""), req.GetString("end", ""), 7)
	if err != nil {
		return mcp.NewToolResultError("invalid date format: " + err.Error()), nil
	}

	technique := req.GetString("technique", "")
	uid := UserIDFromContext(ctx)

	sessions, err := h.ds.QuerySessions(ctx, start, end, technique, uid)
	if err != nil {
		h.log.Error("mcp get_sessions", "error", err)
		return mcp.NewToolResultError("query failed: " + err.Error()), nil
	}

	result, err := mcp.NewToolResultJSON(sessions)
	if err != nil {
		return mcp.NewToolResultError("serialization failed"), nil
	}
	return result, nil
}

func (h *handlers) getSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	idStr, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError("id parameter is required"), nil
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return mcp.NewToolResultError("invalid session ID"), nil
	}

	detail, err := h.ds.GetSession(ctx, id, UserIDFromContext(ctx))
	if errors.Is(err, storage.ErrNotFound) {
		return mcp.NewToolResultError("session not found"), nil
	}
	if err != nil {
		h.log.Error("mcp get_session", "error", err)
		return mcp.NewToolResultError("query failed: " + err.Error()), nil
	}

	result, err := mcp.NewToolResultJSON(detail)
	if err != nil {
		return mcp.NewToolResultError("serialization failed"), nil
	}
	return result, nil
}

func (h *handlers) getTechniqueSummary(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	start, end, err := defaultTimeRange(req.GetString("start", ""), req.GetString("end", ""), 30)
	if err != nil {
		return mcp.NewToolResultError("invalid date format: " + err.Error()), nil
	}

	summary, err := h.ds.GetTechniqueSummary(ctx, start, end, UserIDFromContext(ctx))
	if err != nil {
		h.log.Error("mcp get_technique_summary", "error", err)
		return mcp.NewToolResultError("query failed: " + err.Error()), nil
	}

	result, err := mcp.NewToolResultJSON(summary)
	if err != nil {
		return mcp.NewToolResultError("serialization failed"), nil
	}
	return result, nil
}

func (h *handlers) getLiveStatus(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status, err := h.ds.LiveStatus(ctx)
	if err != nil {
		h.log.Error("mcp get_live_status", "error", err)
		return mcp.NewToolResultError("status failed: " + err.Error()), nil
	}

	result, err := mcp.NewToolResultJSON(status)
	if err != nil {
		return mcp.NewToolResultError("serialization failed"), nil
	}
	return result, nil
}
