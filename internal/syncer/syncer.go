// Package syncer implements the fetch and push orchestrators that move query
// and dashboard definitions between a Redash instance and the local
// queries/ and dashboards/ trees.
package syncer

import (
	"context"

	"github.com/starford/raido/internal/models"
)

// RemoteAPI is the slice of the Redash API the orchestrators consume. The
// HTTP client satisfies it; tests substitute their own.
type RemoteAPI interface {
	GetDataSources(ctx context.Context) ([]models.DataSource, error)
	ListQueries(ctx context.Context) ([]models.Query, error)
	CreateQuery(ctx context.Context, fields map[string]any) (*models.Query, error)
	UpdateQuery(ctx context.Context, id int, fields map[string]any) (*models.Query, error)
	CreateVisualization(ctx context.Context, fields map[string]any) (map[string]any, error)
	UpdateVisualization(ctx context.Context, id int, fields map[string]any) (map[string]any, error)
	ListDashboards(ctx context.Context) ([]models.Dashboard, error)
	CreateDashboard(ctx context.Context, name string) (*models.Dashboard, error)
	UpdateDashboard(ctx context.Context, id int, fields map[string]any) error
	CreateWidget(ctx context.Context, fields map[string]any) error
	DeleteWidget(ctx context.Context, id int) error
}

// Failure records one item that could not be synced.
type Failure struct {
	Item string
	Err  error
}

// Report summarises a fetch or push run. Per-item failures never abort the
// batch; the caller inspects the report and sets the exit code.
type Report struct {
	Synced   int
	Failures []Failure
}

func (r *Report) fail(item string, err error) {
	r.Failures = append(r.Failures, Failure{Item: item, Err: err})
}

// Failed reports whether any item failed.
func (r *Report) Failed() bool {
	return len(r.Failures) > 0
}
