package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/starford/raido/internal/apperr"
	"github.com/starford/raido/internal/layout"
	"github.com/starford/raido/internal/models"
	"github.com/starford/raido/internal/storage"
)

// Pusher uploads local query files of one data source's type, plus all local
// dashboards, to the remote instance. Local files are never mutated by a
// push.
type Pusher struct {
	remote         RemoteAPI
	store          storage.Provider
	logger         *slog.Logger
	dataSourceName string // explicit target, empty to auto-select a sole source
}

// NewPusher creates a push orchestrator.
func NewPusher(remote RemoteAPI, store storage.Provider, logger *slog.Logger, dataSourceName string) *Pusher {
	return &Pusher{remote: remote, store: store, logger: logger, dataSourceName: dataSourceName}
}

// savedQuery is one local query loaded from disk, plus upload bookkeeping.
type savedQuery struct {
	path     string
	fields   map[string]any
	content  string
	id       int            // remote ID once pushed
	vizIDs   map[string]int // remote visualization IDs by name, once pushed
	visiting bool
}

// savedDashboard is one local dashboard file loaded from disk.
type savedDashboard struct {
	path   string
	name   string
	fields map[string]any
	failed bool // a create/update failure skips the widget phase
}

// dashboardSet indexes the remote dashboards by name and slug.
type dashboardSet struct {
	byName   map[string]*models.Dashboard
	slugToID map[string]int
}

func newDashboardSet(dashboards []models.Dashboard) *dashboardSet {
	s := &dashboardSet{
		byName:   make(map[string]*models.Dashboard, len(dashboards)),
		slugToID: make(map[string]int, len(dashboards)),
	}
	for i := range dashboards {
		s.add(&dashboards[i])
	}
	return s
}

func (s *dashboardSet) add(d *models.Dashboard) {
	s.byName[d.Name] = d
	s.slugToID[d.Slug] = d.ID
}

// Run pushes every local query whose type matches the resolved data source,
// then rebuilds the widgets of every local dashboard. Resolution failures
// abort before any remote write; per-item failures are collected and the
// batch continues.
func (p *Pusher) Run(ctx context.Context) (*Report, error) {
	sources, err := p.remote.GetDataSources(ctx)
	if err != nil {
		return nil, fmt.Errorf("list data sources: %w", err)
	}
	target, err := resolveDataSource(sources, p.dataSourceName)
	if err != nil {
		return nil, err
	}
	p.logger.Info("push: target data source",
		slog.String("name", target.Name),
		slog.String("type", target.Type))

	files, err := p.store.ListQueryFiles(layout.TypeDir(target.Type))
	if err != nil {
		return nil, fmt.Errorf("list local queries: %w", err)
	}

	remoteDashboards, err := p.remote.ListDashboards(ctx)
	if err != nil {
		return nil, fmt.Errorf("list remote dashboards: %w", err)
	}
	dashboards := newDashboardSet(remoteDashboards)

	remoteQueries, err := p.remote.ListQueries(ctx)
	if err != nil {
		return nil, fmt.Errorf("list remote queries: %w", err)
	}
	existing := make(map[string]*models.Query, len(remoteQueries))
	for i := range remoteQueries {
		existing[remoteQueries[i].Name] = &remoteQueries[i]
	}

	rep := &Report{}

	// Dashboards are created (empty) before queries so that dashboard links
	// inside visualizations can resolve to their remote IDs.
	savedDashboards := p.loadSavedDashboards(rep)
	p.ensureDashboards(ctx, savedDashboards, dashboards, rep)

	saved := map[string]*savedQuery{}
	for _, qf := range files {
		sq, err := p.loadSaved(qf)
		if err != nil {
			p.logger.Warn("push: load failed",
				slog.String("path", qf.ContentPath),
				slog.String("error", err.Error()))
			rep.fail(qf.ContentPath, err)
			continue
		}
		saved[sq.fields["name"].(string)] = sq
	}

	names := make([]string, 0, len(saved))
	for name := range saved {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if _, err := p.upload(ctx, name, target.ID, saved, existing, dashboards); err != nil {
			p.logger.Warn("push: query failed",
				slog.String("query", name),
				slog.String("error", err.Error()))
			rep.fail(name, err)
			continue
		}
		rep.Synced++
		p.logger.Debug("push: query uploaded", slog.String("query", name))
	}

	for _, sd := range savedDashboards {
		if sd.failed {
			continue
		}
		if err := p.rebuildWidgets(ctx, sd, dashboards.byName[sd.name], saved); err != nil {
			p.logger.Warn("push: dashboard failed",
				slog.String("dashboard", sd.name),
				slog.String("error", err.Error()))
			rep.fail(sd.name, err)
			continue
		}
		rep.Synced++
		p.logger.Debug("push: dashboard updated", slog.String("dashboard", sd.name))
	}
	return rep, nil
}

// loadSavedDashboards reads every local dashboard file, recording unreadable
// ones as failures, and returns the rest sorted by name.
func (p *Pusher) loadSavedDashboards(rep *Report) []*savedDashboard {
	paths, err := p.store.List(layout.DashboardsDir)
	if err != nil {
		rep.fail(layout.DashboardsDir, err)
		return nil
	}

	var out []*savedDashboard
	for _, path := range paths {
		data, err := p.store.Read(path)
		if err != nil {
			rep.fail(path, err)
			continue
		}
		var fields map[string]any
		if err := yaml.Unmarshal(data, &fields); err != nil {
			rep.fail(path, &apperr.CorruptLocalFileError{Path: path, Err: err})
			continue
		}
		name, ok := fields["name"].(string)
		if !ok {
			rep.fail(path, fmt.Errorf("%s: dashboard has no name", path))
			continue
		}
		out = append(out, &savedDashboard{path: path, name: name, fields: fields})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// ensureDashboards creates every dashboard missing from the remote instance
// and updates the mutable properties of all of them. Failed dashboards are
// marked so the widget phase skips them.
func (p *Pusher) ensureDashboards(ctx context.Context, saved []*savedDashboard, dashboards *dashboardSet, rep *Report) {
	for _, sd := range saved {
		ex := dashboards.byName[sd.name]
		if ex == nil {
			created, err := p.remote.CreateDashboard(ctx, sd.name)
			if err != nil {
				sd.failed = true
				rep.fail(sd.name, err)
				continue
			}
			dashboards.add(created)
			ex = created
		}
		err := p.remote.UpdateDashboard(ctx, ex.ID, map[string]any{
			"is_draft":                  sd.fields["is_draft"],
			"tags":                      sd.fields["tags"],
			"dashboard_filters_enabled": sd.fields["dashboard_filters_enabled"],
		})
		if err != nil {
			sd.failed = true
			rep.fail(sd.name, err)
		}
	}
}

// rebuildWidgets removes every widget the remote dashboard currently has and
// re-adds them from the local file, resolving each widget's visualization
// through the queries uploaded this run.
func (p *Pusher) rebuildWidgets(ctx context.Context, sd *savedDashboard, ex *models.Dashboard, saved map[string]*savedQuery) error {
	for _, w := range ex.Widgets {
		id, ok := asInt(w["id"])
		if !ok {
			return fmt.Errorf("remote widget on dashboard %q has no id", sd.name)
		}
		if err := p.remote.DeleteWidget(ctx, id); err != nil {
			return err
		}
	}

	widgets, _ := sd.fields["widgets"].([]any)
	for _, raw := range widgets {
		w, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		payload := map[string]any{
			"dashboard_id": ex.ID,
			"text":         w["text"],
			"options":      w["options"],
			"width":        1,
		}
		if width, ok := asInt(w["width"]); ok {
			payload["width"] = width
		}
		if viz, ok := w["visualization"].(map[string]any); ok {
			vizName, _ := viz["name"].(string)
			queryName, _ := viz["queryName"].(string)
			sq := saved[queryName]
			if sq == nil {
				return fmt.Errorf("widget visualization %q: query %q: %w", vizName, queryName, apperr.ErrNotFound)
			}
			vizID, ok := sq.vizIDs[vizName]
			if !ok {
				return fmt.Errorf("query %q has no visualization %q: %w", queryName, vizName, apperr.ErrNotFound)
			}
			payload["visualization_id"] = vizID
		}
		if err := p.remote.CreateWidget(ctx, payload); err != nil {
			return err
		}
	}
	return nil
}

// loadSaved reads one content/meta pair from disk.
func (p *Pusher) loadSaved(qf models.QueryFile) (*savedQuery, error) {
	if qf.MetaPath == "" {
		return nil, fmt.Errorf("%s: %w", qf.ContentPath, apperr.ErrMissingMetadata)
	}
	metaData, err := p.store.Read(qf.MetaPath)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := yaml.Unmarshal(metaData, &fields); err != nil {
		return nil, &apperr.CorruptLocalFileError{Path: qf.MetaPath, Err: err}
	}
	if _, ok := fields["name"].(string); !ok {
		return nil, fmt.Errorf("%s: metadata has no name", qf.MetaPath)
	}
	content, err := p.store.Read(qf.ContentPath)
	if err != nil {
		return nil, err
	}
	return &savedQuery{path: qf.ContentPath, fields: fields, content: string(content)}, nil
}

// upload pushes one query, recursing first into any query its parameters
// reference so the dependency's remote ID can be substituted back. Uploads
// are memoized: a query reached both directly and as a dependency is pushed
// once.
func (p *Pusher) upload(ctx context.Context, name string, dsID int, saved map[string]*savedQuery, existing map[string]*models.Query, dashboards *dashboardSet) (int, error) {
	sq := saved[name]
	if sq == nil {
		return 0, fmt.Errorf("referenced query %q: %w", name, apperr.ErrNotFound)
	}
	if sq.id != 0 {
		return sq.id, nil
	}
	if sq.visiting {
		return 0, fmt.Errorf("parameter cycle involving query %q", name)
	}
	sq.visiting = true
	defer func() { sq.visiting = false }()

	options, err := p.parametersToIDs(ctx, sq.fields["options"], dsID, saved, existing, dashboards)
	if err != nil {
		return 0, err
	}

	payload := map[string]any{
		"data_source_id": dsID,
		"query":          sq.content,
	}
	for k, v := range sq.fields {
		if k == "visualizations" {
			continue
		}
		payload[k] = v
	}
	if options != nil {
		payload["options"] = options
	}

	ex := existing[name]
	if ex == nil {
		created, err := p.remote.CreateQuery(ctx, payload)
		if err != nil {
			return 0, err
		}
		existing[name] = created
		ex = created
	}
	// Update even when just created, so the published/draft state sticks.
	if _, err := p.remote.UpdateQuery(ctx, ex.ID, payload); err != nil {
		return 0, err
	}
	sq.id = ex.ID

	if err := p.pushVisualizations(ctx, sq, ex, dashboards); err != nil {
		return 0, err
	}
	return sq.id, nil
}

// parametersToIDs returns a copy of options where every parameter of type
// "query" carries the remote queryId of the query its queryName references,
// uploading that query first when needed.
func (p *Pusher) parametersToIDs(ctx context.Context, options any, dsID int, saved map[string]*savedQuery, existing map[string]*models.Query, dashboards *dashboardSet) (map[string]any, error) {
	opts, ok := options.(map[string]any)
	if !ok {
		return nil, nil
	}
	out := make(map[string]any, len(opts))
	for k, v := range opts {
		out[k] = v
	}
	params, ok := out["parameters"].([]any)
	if !ok {
		return out, nil
	}

	rewritten := make([]any, 0, len(params))
	for _, raw := range params {
		param, ok := raw.(map[string]any)
		if !ok || param["type"] != "query" {
			rewritten = append(rewritten, raw)
			continue
		}
		cp := make(map[string]any, len(param))
		for k, v := range param {
			cp[k] = v
		}
		if depName, ok := cp["queryName"].(string); ok {
			depID, err := p.upload(ctx, depName, dsID, saved, existing, dashboards)
			if err != nil {
				return nil, fmt.Errorf("parameter query %q: %w", depName, err)
			}
			cp["queryId"] = depID
			delete(cp, "queryName")
		}
		rewritten = append(rewritten, cp)
	}
	out["parameters"] = rewritten
	return out, nil
}

// pushVisualizations creates or updates the query's visualizations by name,
// resolving dashboard links in their columns back to remote dashboard IDs
// and recording the remote ID of every pushed visualization for the widget
// phase.
func (p *Pusher) pushVisualizations(ctx context.Context, sq *savedQuery, ex *models.Query, dashboards *dashboardSet) error {
	vizs, ok := sq.fields["visualizations"].([]any)
	if !ok {
		return nil
	}
	sq.vizIDs = make(map[string]int, len(vizs))

	byName := map[string]map[string]any{}
	for _, v := range ex.Visualizations {
		if n, ok := v["name"].(string); ok {
			byName[n] = v
		}
	}

	for _, raw := range vizs {
		viz, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		cp := make(map[string]any, len(viz)+1)
		for k, v := range viz {
			cp[k] = v
		}
		cp["query_id"] = ex.ID
		if opts, ok := cp["options"]; ok {
			cp["options"] = rewriteLinkColumns(opts, p.resolveDashboardLink(dashboards))
		}

		name, _ := cp["name"].(string)
		if existingViz, ok := byName[name]; ok {
			id, ok := asInt(existingViz["id"])
			if !ok {
				return fmt.Errorf("visualization %q: remote id missing", name)
			}
			if _, err := p.remote.UpdateVisualization(ctx, id, cp); err != nil {
				return err
			}
			sq.vizIDs[name] = id
		} else {
			created, err := p.remote.CreateVisualization(ctx, cp)
			if err != nil {
				return err
			}
			if id, ok := asInt(created["id"]); ok {
				sq.vizIDs[name] = id
			}
		}
	}
	return nil
}

// resolveDashboardLink returns the rewrite that turns a neutralized
// dashboard link back into one carrying the remote instance's dashboard ID,
// looked up by slug. Unknown slugs leave the link alone.
func (p *Pusher) resolveDashboardLink(dashboards *dashboardSet) func(string) string {
	return func(url string) string {
		m := dashboardLinkRe.FindStringSubmatch(url)
		if m == nil {
			return url
		}
		slug := strings.TrimPrefix(m[3], "-")
		id, ok := dashboards.slugToID[slug]
		if !ok {
			p.logger.Warn("push: dashboard link target not found", slog.String("slug", slug))
			return url
		}
		return fmt.Sprintf("%s%d%s%s", m[1], id, m[3], m[4])
	}
}

// resolveDataSource picks the push target: an explicit name must match, a
// sole configured source is used implicitly, anything else needs the user to
// disambiguate.
func resolveDataSource(sources []models.DataSource, name string) (*models.DataSource, error) {
	if name != "" {
		for i := range sources {
			if sources[i].Name == name {
				return &sources[i], nil
			}
		}
		return nil, fmt.Errorf("data source %q: %w", name, apperr.ErrNotFound)
	}
	switch len(sources) {
	case 1:
		return &sources[0], nil
	case 0:
		return nil, errors.New("no data sources configured on the remote instance")
	default:
		names := make([]string, len(sources))
		for i, s := range sources {
			names[i] = s.Name
		}
		sort.Strings(names)
		return nil, &apperr.AmbiguousDataSourceError{Names: names}
	}
}
