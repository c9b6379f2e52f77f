package mcp

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/claude/repcam/internal/models"
	"github.com/claude/repcam/internal/storage"
)

// ErrNoHistory is returned by history queries when no database is configured.
var ErrNoHistory = errors.New("session history not configured")

// DataSource abstracts the data layer for MCP tools. Both Local (in-process)
// and HTTPClient (remote via REST API) satisfy this interface.
type DataSource interface {
	QuerySessions(ctx context.Context, start, end time.Time, technique string, userID int) ([]models.SessionRow, error)
	GetSession(ctx context.Context, id uuid.UUID, userID int) (*models.SessionDetail, error)
	GetTechniqueSummary(ctx context.Context, start, end time.Time, userID int) ([]models.TechniqueSummary, error)
	LiveStatus(ctx context.Context) (*models.LiveStatus, error)
}

// History is the persisted session store.
type History interface {
	QuerySessions(ctx context.Context, start, end time.Time, technique string, userID int) ([]models.SessionRow, error)
	GetSession(ctx context.Context, id uuid.UUID, userID int) (*models.SessionDetail, error)
	GetTechniqueSummary(ctx context.Context, start, end time.Time, userID int) ([]models.TechniqueSummary, error)
}

// Compile-time check: *storage.DB satisfies History.
var _ History = (*storage.DB)(nil)

// Local serves MCP tools from the running process.
type Local struct {
	history History
	status  func() models.LiveStatus
}

// Compile-time check: Local satisfies DataSource.
var _ DataSource = (*Local)(nil)

// NewLocal creates a data source over history (nil when no database is
// configured) and the capture loop status.
func NewLocal(history History, status func() models.LiveStatus) *Local {
	return &Local{history: history, status: status}
}

func (l *Local) QuerySessions(ctx context.Context, start, end time.Time, technique string, userID int) ([]models.SessionRow, error) {
	if l.history == nil {
		return nil, ErrNoHistory
	}
	return l.history.QuerySessions(ctx, start, end, technique, userID)
}

func (l *Local) GetSession(ctx context.Context, id uuid.UUID, userID int) (*models.SessionDetail, error) {
	if l.history == nil {
		return nil, ErrNoHistory
	}
	return l.history.GetSession(ctx, id, userID)
}

func (l *Local) GetTechniqueSummary(ctx context.Context, start, end time.Time, userID int) ([]models.TechniqueSummary, error) {
	if l.history == nil {
		return nil, ErrNoHistory
	}
	return l.history.GetTechniqueSummary(ctx, start, end, userID)
}

func (l *Local) LiveStatus(context.Context) (*models.LiveStatus, error) {
	st := l.status()
	return &st, nil
}
