package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/starford/raido/internal/apperr"
	"github.com/starford/raido/internal/layout"
	"github.com/starford/raido/internal/merge"
	"github.com/starford/raido/internal/metadoc"
	"github.com/starford/raido/internal/models"
	"github.com/starford/raido/internal/storage"
)

// Fetcher downloads every remote query and dashboard into the local tree,
// merging metadata into existing files so that hand-made formatting
// survives.
type Fetcher struct {
	remote RemoteAPI
	store  storage.Provider
	logger *slog.Logger
}

// NewFetcher creates a fetch orchestrator.
func NewFetcher(remote RemoteAPI, store storage.Provider, logger *slog.Logger) *Fetcher {
	return &Fetcher{remote: remote, store: store, logger: logger}
}

// Run fetches all queries, then all dashboards. Failures on individual
// items are collected in the report and the batch continues; only
// setup-level failures (listing data sources, queries or dashboards) abort
// the run.
func (f *Fetcher) Run(ctx context.Context) (*Report, error) {
	sources, err := f.remote.GetDataSources(ctx)
	if err != nil {
		return nil, fmt.Errorf("list data sources: %w", err)
	}
	sourcesByID := make(map[int]models.DataSource, len(sources))
	for _, s := range sources {
		sourcesByID[s.ID] = s
	}

	queries, err := f.remote.ListQueries(ctx)
	if err != nil {
		return nil, fmt.Errorf("list queries: %w", err)
	}
	namesByID := make(map[int]string, len(queries))
	for _, q := range queries {
		namesByID[q.ID] = q.Name
	}

	rep := &Report{}
	for _, q := range queries {
		if err := f.fetchOne(q, sourcesByID, namesByID); err != nil {
			f.logger.Warn("fetch: query failed",
				slog.String("query", q.Name),
				slog.String("error", err.Error()))
			rep.fail(q.Name, err)
			continue
		}
		rep.Synced++
		f.logger.Debug("fetch: query synced", slog.String("query", q.Name))
	}

	dashboards, err := f.remote.ListDashboards(ctx)
	if err != nil {
		return nil, fmt.Errorf("list dashboards: %w", err)
	}
	for _, d := range dashboards {
		if err := f.fetchDashboard(d); err != nil {
			f.logger.Warn("fetch: dashboard failed",
				slog.String("dashboard", d.Name),
				slog.String("error", err.Error()))
			rep.fail(d.Name, err)
			continue
		}
		rep.Synced++
		f.logger.Debug("fetch: dashboard synced", slog.String("dashboard", d.Name))
	}
	return rep, nil
}

func (f *Fetcher) fetchOne(q models.Query, sourcesByID map[int]models.DataSource, namesByID map[int]string) error {
	ds, ok := sourcesByID[q.DataSourceID]
	if !ok {
		return fmt.Errorf("unknown data source id %d", q.DataSourceID)
	}

	contentPath, metaPath, err := layout.Derive(ds.Type, ds.Syntax, q.Name)
	if err != nil {
		return err
	}

	// Content is overwritten verbatim; there is no local formatting in it to
	// preserve. A missing trailing newline is the one normalisation applied.
	content := q.Query
	if !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	if err := f.store.Write(contentPath, []byte(content)); err != nil {
		return err
	}

	var existing *metadoc.Document
	exists, err := f.store.Exists(metaPath)
	if err != nil {
		return err
	}
	if exists {
		data, err := f.store.Read(metaPath)
		if err != nil {
			return err
		}
		existing, err = metadoc.Parse(data)
		if err != nil {
			return &apperr.CorruptLocalFileError{Path: metaPath, Err: err}
		}
	}

	merged, err := merge.Merge(existing, metaFields(q, namesByID))
	if err != nil {
		return err
	}
	return f.store.Write(metaPath, merged.Serialize())
}

// fetchDashboard writes one dashboard file, merging into any existing file
// the same way query metadata is merged.
func (f *Fetcher) fetchDashboard(d models.Dashboard) error {
	path := layout.DashboardPath(d.Name)

	var existing *metadoc.Document
	exists, err := f.store.Exists(path)
	if err != nil {
		return err
	}
	if exists {
		data, err := f.store.Read(path)
		if err != nil {
			return err
		}
		existing, err = metadoc.Parse(data)
		if err != nil {
			return &apperr.CorruptLocalFileError{Path: path, Err: err}
		}
	}

	merged, err := merge.Merge(existing, dashboardFields(d))
	if err != nil {
		return err
	}
	return f.store.Write(path, merged.Serialize())
}
