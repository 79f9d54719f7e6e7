// Package redash is a minimal client for the parts of the Redash REST API
// the sync tool needs: listing data sources, paging through queries and
// dashboards, and creating or updating queries, visualizations, dashboards
// and widgets.
package redash

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/starford/raido/internal/apperr"
	"github.com/starford/raido/internal/models"
)

const defaultPageSize = 100

// Client talks to one Redash instance. Authentication uses a user API key
// sent as "Authorization: Key <key>" on every request.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient creates a client for the Redash instance at baseURL. A trailing
// slash on baseURL is tolerated.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// GetDataSources returns all configured data sources.
func (c *Client) GetDataSources(ctx context.Context) ([]models.DataSource, error) {
	var out []models.DataSource
	if err := c.do(ctx, http.MethodGet, "/api/data_sources", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// queryPage is one page of GET /api/queries.
type queryPage struct {
	Count    int            `json:"count"`
	Page     int            `json:"page"`
	PageSize int            `json:"page_size"`
	Results  []models.Query `json:"results"`
}

// ListQueries pages through every query and fetches each one individually,
// because the list endpoint omits visualizations and full option payloads.
func (c *Client) ListQueries(ctx context.Context) ([]models.Query, error) {
	var summaries []models.Query
	for page := 1; ; page++ {
		var pg queryPage
		path := fmt.Sprintf("/api/queries?page=%d&page_size=%d", page, defaultPageSize)
		if err := c.do(ctx, http.MethodGet, path, nil, &pg); err != nil {
			return nil, err
		}
		summaries = append(summaries, pg.Results...)
		if len(summaries) >= pg.Count || len(pg.Results) == 0 {
			break
		}
	}

	out := make([]models.Query, 0, len(summaries))
	for _, s := range summaries {
		q, err := c.GetQuery(ctx, s.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, *q)
	}
	return out, nil
}

// GetQuery returns the full representation of one query.
func (c *Client) GetQuery(ctx context.Context, id int) (*models.Query, error) {
	var out models.Query
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/queries/%d", id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateQuery creates a query from the given field payload.
func (c *Client) CreateQuery(ctx context.Context, fields map[string]any) (*models.Query, error) {
	var out models.Query
	if err := c.do(ctx, http.MethodPost, "/api/queries", fields, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateQuery updates an existing query.
func (c *Client) UpdateQuery(ctx context.Context, id int, fields map[string]any) (*models.Query, error) {
	var out models.Query
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/queries/%d", id), fields, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// dashboardPage is one page of GET /api/dashboards.
type dashboardPage struct {
	Count    int                `json:"count"`
	Page     int                `json:"page"`
	PageSize int                `json:"page_size"`
	Results  []models.Dashboard `json:"results"`
}

// ListDashboards pages through every dashboard and fetches each one
// individually, because the list endpoint omits widgets.
func (c *Client) ListDashboards(ctx context.Context) ([]models.Dashboard, error) {
	var summaries []models.Dashboard
	for page := 1; ; page++ {
		var pg dashboardPage
		path := fmt.Sprintf("/api/dashboards?page=%d&page_size=%d", page, defaultPageSize)
		if err := c.do(ctx, http.MethodGet, path, nil, &pg); err != nil {
			return nil, err
		}
		summaries = append(summaries, pg.Results...)
		if len(summaries) >= pg.Count || len(pg.Results) == 0 {
			break
		}
	}

	out := make([]models.Dashboard, 0, len(summaries))
	for _, s := range summaries {
		d, err := c.GetDashboard(ctx, s.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, nil
}

// GetDashboard returns the full representation of one dashboard, widgets
// included.
func (c *Client) GetDashboard(ctx context.Context, id int) (*models.Dashboard, error) {
	var out models.Dashboard
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/dashboards/%d", id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateDashboard creates an empty dashboard with the given name.
func (c *Client) CreateDashboard(ctx context.Context, name string) (*models.Dashboard, error) {
	var out models.Dashboard
	if err := c.do(ctx, http.MethodPost, "/api/dashboards", map[string]any{"name": name}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateDashboard updates an existing dashboard's properties.
func (c *Client) UpdateDashboard(ctx context.Context, id int, fields map[string]any) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/dashboards/%d", id), fields, nil)
}

// CreateWidget adds a widget to a dashboard; fields must include
// "dashboard_id" and either a "visualization_id" or "text".
func (c *Client) CreateWidget(ctx context.Context, fields map[string]any) error {
	return c.do(ctx, http.MethodPost, "/api/widgets", fields, nil)
}

// DeleteWidget removes a widget from its dashboard.
func (c *Client) DeleteWidget(ctx context.Context, id int) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/widgets/%d", id), nil, nil)
}

// CreateVisualization attaches a new visualization to a query; fields must
// include "query_id".
func (c *Client) CreateVisualization(ctx context.Context, fields map[string]any) (map[string]any, error) {
	var out map[string]any
	if err := c.do(ctx, http.MethodPost, "/api/visualizations", fields, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateVisualization updates an existing visualization.
func (c *Client) UpdateVisualization(ctx context.Context, id int, fields map[string]any) (map[string]any, error) {
	var out map[string]any
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/visualizations/%d", id), fields, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// do performs one request. Any transport error or non-2xx response becomes a
// *apperr.RemoteError naming the call.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	op := method + " " + strings.SplitN(path, "?", 2)[0]

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return &apperr.RemoteError{Op: op, Err: fmt.Errorf("encode request: %w", err)}
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return &apperr.RemoteError{Op: op, Err: err}
	}
	req.Header.Set("Authorization", "Key "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &apperr.RemoteError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &apperr.RemoteError{
			Op:     op,
			Status: resp.StatusCode,
			Err:    fmt.Errorf("%s", strings.TrimSpace(string(snippet))),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &apperr.RemoteError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
