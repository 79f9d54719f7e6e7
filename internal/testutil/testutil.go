// Package testutil provides shared test helpers: temporary sync trees and a
// fake in-memory Redash server.
package testutil

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/starford/raido/internal/models"
	"github.com/starford/raido/internal/storage"
)

// DiscardLogger returns a logger that swallows everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestTree creates a temporary sync root with a storage.Provider.
func TestTree(t *testing.T) (string, storage.Provider) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	return dir, store
}

// FakeRedash is an in-memory Redash instance behind an httptest server. It
// implements enough of the REST API for the client and orchestrators:
// data source listing, paged query and dashboard listing, query and
// dashboard get/create/update, visualization create/update, and widget
// create/delete.
type FakeRedash struct {
	Server *httptest.Server
	APIKey string

	// PageSize overrides the page size the client asked for, letting tests
	// force multi-page listings with a handful of queries.
	PageSize int

	mu           sync.Mutex
	dataSources  []models.DataSource
	queries      map[int]*models.Query
	dashboards   map[int]*models.Dashboard
	nextID       int
	nextVizID    int
	nextDashID   int
	nextWidgetID int
	writes       int // create/update/delete calls, to assert zero-write guarantees
}

// NewFakeRedash starts a fake server; it is shut down via t.Cleanup.
func NewFakeRedash(t *testing.T, apiKey string) *FakeRedash {
	t.Helper()
	f := &FakeRedash{
		APIKey:       apiKey,
		queries:      map[int]*models.Query{},
		dashboards:   map[int]*models.Dashboard{},
		nextID:       1,
		nextVizID:    1,
		nextDashID:   1,
		nextWidgetID: 1,
	}

	r := chi.NewRouter()
	r.Use(f.auth)
	r.Get("/api/data_sources", f.handleDataSources)
	r.Get("/api/queries", f.handleListQueries)
	r.Get("/api/queries/{id}", f.handleGetQuery)
	r.Post("/api/queries", f.handleCreateQuery)
	r.Post("/api/queries/{id}", f.handleUpdateQuery)
	r.Post("/api/visualizations", f.handleCreateViz)
	r.Post("/api/visualizations/{id}", f.handleUpdateViz)
	r.Get("/api/dashboards", f.handleListDashboards)
	r.Get("/api/dashboards/{id}", f.handleGetDashboard)
	r.Post("/api/dashboards", f.handleCreateDashboard)
	r.Post("/api/dashboards/{id}", f.handleUpdateDashboard)
	r.Post("/api/widgets", f.handleCreateWidget)
	r.Delete("/api/widgets/{id}", f.handleDeleteWidget)

	f.Server = httptest.NewServer(r)
	t.Cleanup(f.Server.Close)
	return f
}

// URL returns the fake instance's base URL.
func (f *FakeRedash) URL() string { return f.Server.URL }

// AddDataSource registers a data source.
func (f *FakeRedash) AddDataSource(ds models.DataSource) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dataSources = append(f.dataSources, ds)
}

// AddQuery stores a query, assigning an ID when it has none, and returns it.
func (f *FakeRedash) AddQuery(q models.Query) models.Query {
	f.mu.Lock()
	defer f.mu.Unlock()
	if q.ID == 0 {
		q.ID = f.nextID
		f.nextID++
	} else if q.ID >= f.nextID {
		f.nextID = q.ID + 1
	}
	cp := q
	f.queries[q.ID] = &cp
	return q
}

// Query returns the stored query with the given ID.
func (f *FakeRedash) Query(id int) (models.Query, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q, ok := f.queries[id]
	if !ok {
		return models.Query{}, false
	}
	return *q, true
}

// QueryByName returns the stored query with the given name.
func (f *FakeRedash) QueryByName(name string) (models.Query, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, q := range f.queries {
		if q.Name == name {
			return *q, true
		}
	}
	return models.Query{}, false
}

// AddDashboard stores a dashboard, assigning an ID and slug when missing,
// and returns it.
func (f *FakeRedash) AddDashboard(d models.Dashboard) models.Dashboard {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d.ID == 0 {
		d.ID = f.nextDashID
		f.nextDashID++
	} else if d.ID >= f.nextDashID {
		f.nextDashID = d.ID + 1
	}
	if d.Slug == "" {
		d.Slug = slugify(d.Name)
	}
	cp := d
	f.dashboards[d.ID] = &cp
	return d
}

// DashboardByName returns the stored dashboard with the given name.
func (f *FakeRedash) DashboardByName(name string) (models.Dashboard, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.dashboards {
		if d.Name == name {
			return *d, true
		}
	}
	return models.Dashboard{}, false
}

// Writes returns how many create/update calls the server has seen.
func (f *FakeRedash) Writes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}

func (f *FakeRedash) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Key "+f.APIKey {
			http.Error(w, `{"message": "unauthorized"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (f *FakeRedash) handleDataSources(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.dataSources
	if list == nil {
		list = []models.DataSource{}
	}
	writeJSON(w, list)
}

func (f *FakeRedash) handleListQueries(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	all := make([]models.Query, 0, len(f.queries))
	for id := 1; id < f.nextID; id++ {
		if q, ok := f.queries[id]; ok {
			all = append(all, *q)
		}
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	size, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	if f.PageSize > 0 {
		size = f.PageSize
	}
	if size < 1 {
		size = len(all)
	}

	start := (page - 1) * size
	if start > len(all) {
		start = len(all)
	}
	end := start + size
	if end > len(all) {
		end = len(all)
	}

	writeJSON(w, map[string]any{
		"count":     len(all),
		"page":      page,
		"page_size": size,
		"results":   all[start:end],
	})
}

func (f *FakeRedash) handleGetQuery(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, _ := strconv.Atoi(chi.URLParam(r, "id"))
	q, ok := f.queries[id]
	if !ok {
		http.Error(w, `{"message": "not found"}`, http.StatusNotFound)
		return
	}
	writeJSON(w, q)
}

func (f *FakeRedash) handleCreateQuery(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	var q models.Query
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		http.Error(w, `{"message": "bad request"}`, http.StatusBadRequest)
		return
	}
	q.ID = f.nextID
	f.nextID++
	f.queries[q.ID] = &q
	writeJSON(w, q)
}

func (f *FakeRedash) handleUpdateQuery(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	id, _ := strconv.Atoi(chi.URLParam(r, "id"))
	existing, ok := f.queries[id]
	if !ok {
		http.Error(w, `{"message": "not found"}`, http.StatusNotFound)
		return
	}
	var q models.Query
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		http.Error(w, `{"message": "bad request"}`, http.StatusBadRequest)
		return
	}
	q.ID = id
	q.Visualizations = existing.Visualizations
	f.queries[id] = &q
	writeJSON(w, q)
}

func (f *FakeRedash) handleCreateViz(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	var viz map[string]any
	if err := json.NewDecoder(r.Body).Decode(&viz); err != nil {
		http.Error(w, `{"message": "bad request"}`, http.StatusBadRequest)
		return
	}
	queryID, _ := viz["query_id"].(float64)
	q, ok := f.queries[int(queryID)]
	if !ok {
		http.Error(w, `{"message": "query not found"}`, http.StatusBadRequest)
		return
	}
	viz["id"] = float64(f.nextVizID)
	f.nextVizID++
	q.Visualizations = append(q.Visualizations, viz)
	writeJSON(w, viz)
}

func (f *FakeRedash) handleUpdateViz(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	id, _ := strconv.Atoi(chi.URLParam(r, "id"))
	var viz map[string]any
	if err := json.NewDecoder(r.Body).Decode(&viz); err != nil {
		http.Error(w, `{"message": "bad request"}`, http.StatusBadRequest)
		return
	}
	viz["id"] = float64(id)
	for _, q := range f.queries {
		for i, existing := range q.Visualizations {
			if vid, ok := existing["id"].(float64); ok && int(vid) == id {
				q.Visualizations[i] = viz
				writeJSON(w, viz)
				return
			}
		}
	}
	http.Error(w, `{"message": "not found"}`, http.StatusNotFound)
}

func (f *FakeRedash) handleListDashboards(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	all := make([]models.Dashboard, 0, len(f.dashboards))
	for id := 1; id < f.nextDashID; id++ {
		if d, ok := f.dashboards[id]; ok {
			all = append(all, *d)
		}
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	size, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	if f.PageSize > 0 {
		size = f.PageSize
	}
	if size < 1 {
		size = len(all)
	}

	start := (page - 1) * size
	if start > len(all) {
		start = len(all)
	}
	end := start + size
	if end > len(all) {
		end = len(all)
	}

	writeJSON(w, map[string]any{
		"count":     len(all),
		"page":      page,
		"page_size": size,
		"results":   all[start:end],
	})
}

func (f *FakeRedash) handleGetDashboard(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, _ := strconv.Atoi(chi.URLParam(r, "id"))
	d, ok := f.dashboards[id]
	if !ok {
		http.Error(w, `{"message": "not found"}`, http.StatusNotFound)
		return
	}
	writeJSON(w, d)
}

func (f *FakeRedash) handleCreateDashboard(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Name == "" {
		http.Error(w, `{"message": "bad request"}`, http.StatusBadRequest)
		return
	}
	d := &models.Dashboard{
		ID:      f.nextDashID,
		Name:    body.Name,
		Slug:    slugify(body.Name),
		IsDraft: true,
	}
	f.nextDashID++
	f.dashboards[d.ID] = d
	writeJSON(w, d)
}

func (f *FakeRedash) handleUpdateDashboard(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	id, _ := strconv.Atoi(chi.URLParam(r, "id"))
	d, ok := f.dashboards[id]
	if !ok {
		http.Error(w, `{"message": "not found"}`, http.StatusNotFound)
		return
	}
	var fields map[string]any
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		http.Error(w, `{"message": "bad request"}`, http.StatusBadRequest)
		return
	}
	if v, ok := fields["is_draft"].(bool); ok {
		d.IsDraft = v
	}
	if v, ok := fields["dashboard_filters_enabled"].(bool); ok {
		d.DashboardFiltersEnabled = v
	}
	if tags, ok := fields["tags"].([]any); ok {
		d.Tags = d.Tags[:0]
		for _, t := range tags {
			if s, ok := t.(string); ok {
				d.Tags = append(d.Tags, s)
			}
		}
	}
	writeJSON(w, d)
}

// handleCreateWidget stores the widget with its visualization embedded the
// way the real API returns it on a dashboard get, query name included.
func (f *FakeRedash) handleCreateWidget(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	var fields map[string]any
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		http.Error(w, `{"message": "bad request"}`, http.StatusBadRequest)
		return
	}
	dashID, _ := fields["dashboard_id"].(float64)
	d, ok := f.dashboards[int(dashID)]
	if !ok {
		http.Error(w, `{"message": "dashboard not found"}`, http.StatusBadRequest)
		return
	}

	widget := map[string]any{
		"id":      float64(f.nextWidgetID),
		"text":    fields["text"],
		"width":   fields["width"],
		"options": fields["options"],
	}
	f.nextWidgetID++

	if vizID, ok := fields["visualization_id"].(float64); ok {
		viz, qName := f.findVisualization(int(vizID))
		if viz == nil {
			http.Error(w, `{"message": "visualization not found"}`, http.StatusBadRequest)
			return
		}
		embedded := make(map[string]any, len(viz)+1)
		for k, v := range viz {
			embedded[k] = v
		}
		embedded["query"] = map[string]any{"name": qName}
		widget["visualization"] = embedded
	}

	d.Widgets = append(d.Widgets, widget)
	writeJSON(w, widget)
}

func (f *FakeRedash) handleDeleteWidget(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	id, _ := strconv.Atoi(chi.URLParam(r, "id"))
	for _, d := range f.dashboards {
		for i, widget := range d.Widgets {
			if wid, ok := widget["id"].(float64); ok && int(wid) == id {
				d.Widgets = append(d.Widgets[:i], d.Widgets[i+1:]...)
				writeJSON(w, map[string]any{"message": "deleted"})
				return
			}
		}
	}
	http.Error(w, `{"message": "not found"}`, http.StatusNotFound)
}

// findVisualization locates a visualization by ID across all queries and
// returns it with the owning query's name.
func (f *FakeRedash) findVisualization(id int) (map[string]any, string) {
	for _, q := range f.queries {
		for _, viz := range q.Visualizations {
			if vid, ok := viz["id"].(float64); ok && int(vid) == id {
				return viz, q.Name
			}
		}
	}
	return nil, ""
}

func slugify(name string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), " ", "-"))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(v)
}
