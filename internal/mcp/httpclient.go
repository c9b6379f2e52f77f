package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/claude/repcam/internal/models"
	"github.com/claude/repcam/internal/storage"
)

// HTTPClient implements DataSource by calling the repcam REST API.
// Used for remote MCP mode where the binary runs locally (stdio) but
// the camera and data live on the remote host (accessed over Tailscale).
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

// Compile-time check: HTTPClient satisfies DataSource.
var _ DataSource = (*HTTPClient)(nil)

// NewHTTPClient creates an HTTPClient targeting the given base URL.
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *HTTPClient) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("httpclient: create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("httpclient: %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("httpclient: read body: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("httpclient: %s: %w", path, storage.ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("httpclient: %s returned %d: %s", path, resp.StatusCode, body)
	}

	return body, nil
}

func timeParams(start, end time.Time) url.Values {
	v := url.Values{}
	v.Set("start", start.Format(time.RFC3339))
	v.Set("end", end.Format(time.RFC3339))
	return v
}

func (c *HTTPClient) QuerySessions(ctx context.Context, start, end time.Time, technique string, _ int) ([]models.SessionRow, error) {
	params := timeParams(start, end)
	if technique != "" {
		params.Set("technique", technique)
	}

	body, err := c.get(ctx, "/api/v1/sessions", params)
	if err != nil {
		return nil, err
	}

	var sessions []models.SessionRow
	if err := json.Unmarshal(body, &sessions); err != nil {
		return nil, fmt.Errorf("httpclient: decode sessions: %w", err)
	}
	return sessions, nil
}

func (c *HTTPClient) GetSession(ctx context.Context, id uuid.UUID, _ int) (*models.SessionDetail, error) {
	body, err := c.get(ctx, "/api/v1/sessions/"+id.String(), nil)
	if err != nil {
		return nil, err
	}

	var detail models.SessionDetail
	if err := json.Unmarshal(body, &detail); err != nil {
		return nil, fmt.Errorf("httpclient: decode session: %w", err)
	}
	return &detail, nil
}

func (c *HTTPClient) GetTechniqueSummary(ctx context.Context, start, end time.Time, _ int) ([]models.TechniqueSummary, error) {
	body, err := c.get(ctx, "/api/v1/summary", timeParams(start, end))
	if err != nil {
		return nil, err
	}

	var summary []models.TechniqueSummary
	if err := json.Unmarshal(body, &summary); err != nil {
		return nil, fmt.Errorf("httpclient: decode summary: %w", err)
	}
	return summary, nil
}

func (c *HTTPClient) LiveStatus(ctx context.Context) (*models.LiveStatus, error) {
	body, err := c.get(ctx, "/api/v1/status", nil)
	if err != nil {
		return nil, err
	}

	var status models.LiveStatus
	if err := json.Unmarshal(body, &status); err != nil {
		return nil, fmt.Errorf("httpclient: decode status: %w", err)
	}
	return &status, nil
}
