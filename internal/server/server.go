package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mcpserver "github.com/mark3labs/mcp-go/server"

	repmcp "github.com/claude/repcam/internal/mcp"
	"github.com/claude/repcam/internal/models"
	"github.com/claude/repcam/internal/session"
)

// Controller runs capture sessions.
type Controller interface {
	Start(ctx context.Context, technique string, identity *session.Identity) error
	Stop(ctx context.Context) error
	Status() models.LiveStatus
}

// History is the persisted session store.
type History interface {
	GetOrCreateUser(ctx context.Context, login, displayName string) (int, error)
	QuerySessions(ctx context.Context, start, end time.Time, technique string, userID int) ([]models.SessionRow, error)
	GetSession(ctx context.Context, id uuid.UUID, userID int) (*models.SessionDetail, error)
	GetTechniqueSummary(ctx context.Context, start, end time.Time, userID int) ([]models.TechniqueSummary, error)
}

// JournalReader lists locally journaled sessions.
type JournalReader interface {
	Recent(ctx context.Context, limit int) ([]models.JournalEntry, error)
}

// Snapshotter holds the latest encoded overlay frame.
type Snapshotter interface {
	Latest() (jpeg []byte, takenAt time.Time, ok bool)
}

// Server holds dependencies for HTTP handlers.
type Server struct {
	ctrl     Controller
	history  History
	journal  JournalReader
	snapshot Snapshotter
	who      WhoIser
	devLogin string
	log      *slog.Logger
	apiKey   string
	router   chi.Router
}

// New creates a new Server with all routes configured. history may be nil
// when no database is configured.
func New(ctrl Controller, history History, apiKey string, log *slog.Logger) *Server {
	s := &Server{
		ctrl:    ctrl,
		history: history,
		log:     log,
		apiKey:  apiKey,
		router:  chi.NewRouter(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.router.Use(RequestLogging(s.log))
	s.router.Use(CORS)
	s.router.Use(s.identify)

	// Control endpoints (API key required)
	s.router.Route("/api/v1/session", func(r chi.Router) {
		r.Use(APIKeyAuth(s.apiKey))
		r.Post("/start", s.handleStartSession)
		r.Post("/stop", s.handleStopSession)
	})

	// Read endpoints (no auth, tsnet handles access)
	s.router.Get("/api/v1/status", s.handleStatus)
	s.router.Get("/api/v1/techniques", s.handleTechniques)
	s.router.Get("/api/v1/me", s.handleMe)
	s.router.Get("/api/v1/sessions", s.handleQuerySessions)
	s.router.Get("/api/v1/sessions/{id}", s.handleGetSession)
	s.router.Get("/api/v1/summary", s.handleSummary)
	s.router.Get("/api/v1/journal", s.handleJournal)
	s.router.Get("/api/v1/overlay.jpg", s.handleOverlay)
}

// SetJournal enables the /api/v1/journal endpoint.
func (s *Server) SetJournal(j JournalReader) {
	s.journal = j
}

// SetSnapshot enables the /api/v1/overlay.jpg endpoint.
func (s *Server) SetSnapshot(sn Snapshotter) {
	s.snapshot = sn
}

// SetMCP mounts the MCP server at /mcp using the streamable HTTP transport.
// Tool calls are scoped to the caller's user.
func (s *Server) SetMCP(m *mcpserver.MCPServer) {
	h := mcpserver.NewStreamableHTTPServer(m,
		mcpserver.WithHTTPContextFunc(func(ctx context.Context, r *http.Request) context.Context {
			return repmcp.WithUserID(ctx, repmcp.UserIDFromContext(r.Context()))
		}),
	)
	s.router.With(s.mcpUser).Handle("/mcp", h)
}

// mcpUser resolves the caller to a user ID for MCP tools. Unidentified
// callers keep user 0 and see no history.
func (s *Server) mcpUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := identityFromContext(r.Context())
		if id != nil && s.history != nil {
			uid, err := s.history.GetOrCreateUser(r.Context(), id.Login, id.DisplayName)
			if err != nil {
				s.log.Error("resolving mcp user", "login", id.Login, "error", err)
			} else {
				r = r.WithContext(repmcp.WithUserID(r.Context(), uid))
			}
		}
		next.ServeHTTP(w, r)
	})
}
