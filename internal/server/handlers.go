package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/claude/repcam/internal/capture"
	"github.com/claude/repcam/internal/detector"
	"github.com/claude/repcam/internal/estimator"
	"github.com/claude/repcam/internal/loop"
	"github.com/claude/repcam/internal/storage"
)

type startRequest struct {
	Technique string `json:"technique"`
}

type meResponse struct {
	Authenticated bool   `json:"authenticated"`
	Login         string `json:"login,omitempty"`
	DisplayName   string `json:"display_name,omitempty"`
	History       bool   `json:"history"`
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}
	if req.Technique == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "technique is required"})
		return
	}

	if err := s.ctrl.Start(r.Context(), req.Technique, identityFromContext(r.Context())); err != nil {
		status := startErrorStatus(err)
		if status >= http.StatusInternalServerError {
			s.log.Error("session start failed", "technique", req.Technique, "error", err)
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

func startErrorStatus(err error) int {
	switch {
	case errors.Is(err, detector.ErrUnknownTechnique):
		return http.StatusBadRequest
	case errors.Is(err, loop.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, capture.ErrAcquisition):
		return http.StatusServiceUnavailable
	case errors.Is(err, estimator.ErrModelLoad):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleStopSession(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.Stop(r.Context()); err != nil {
		s.log.Error("session stop failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

func (s *Server) handleTechniques(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, detector.Techniques())
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	resp := meResponse{History: s.history != nil}
	if id := identityFromContext(r.Context()); id != nil {
		resp.Authenticated = true
		resp.Login = id.Login
		resp.DisplayName = id.DisplayName
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleQuerySessions(w http.ResponseWriter, r *http.Request) {
	start, end, err := parseTimeRange(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	uid, ok := s.mustUserID(w, r)
	if !ok {
		return
	}

	technique := r.URL.Query().Get("technique")
	sessions, err := s.history.QuerySessions(r.Context(), start, end, technique, uid)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	idStr := chi.URLParam(r, "id")
	sessionID, err := uuid.Parse(idStr)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid session ID"})
		return
	}

	uid, ok := s.mustUserID(w, r)
	if !ok {
		return
	}

	detail, err := s.history.GetSession(r.Context(), sessionID, uid)
	if errors.Is(err, storage.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	start, end, err := parseTimeRange(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	uid, ok := s.mustUserID(w, r)
	if !ok {
		return
	}

	summary, err := s.history.GetTechniqueSummary(r.Context(), start, end, uid)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "journal not configured"})
		return
	}
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	entries, err := s.journal.Recent(r.Context(), limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleOverlay(w http.ResponseWriter, _ *http.Request) {
	if s.snapshot == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "overlay not available"})
		return
	}
	jpeg, takenAt, ok := s.snapshot.Latest()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no overlay frame yet"})
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Last-Modified", takenAt.UTC().Format(http.TimeFormat))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(jpeg)
}

// mustUserID maps the caller to a database user, writing the error response
// when history is unavailable or the caller is unidentified.
func (s *Server) mustUserID(w http.ResponseWriter, r *http.Request) (int, bool) {
	if s.history == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "session history not configured"})
		return 0, false
	}
	id := identityFromContext(r.Context())
	if id == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "no authenticated user"})
		return 0, false
	}
	uid, err := s.history.GetOrCreateUser(r.Context(), id.Login, id.DisplayName)
	if err != nil {
		s.log.Error("resolving user", "login", id.Login, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "resolving user failed"})
		return 0, false
	}
	return uid, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func parseTimeRange(r *http.Request) (start, end time.Time, err error) {
	startStr := r.URL.Query().Get("start")
	endStr := r.URL.Query().Get("end")

	if startStr == "" {
		// Default: last 7 days
		end = time.Now()
		start = end.AddDate(0, 0, -7)
		return
	}

	start, err = time.Parse(time.RFC3339, startStr)
	if err != nil {
		start, err = time.Parse("2006-01-02", startStr)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
	}

	if endStr == "" {
		end = time.Now()
	} else {
		end, err = time.Parse(time.RFC3339, endStr)
		if err != nil {
			end, err = time.Parse("2006-01-02", endStr)
			if err != nil {
				return time.Time{}, time.Time{}, err
			}
			// End of day for date-only
			end = end.Add(24 * time.Hour)
		}
	}
	return
}
