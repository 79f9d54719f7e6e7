// Package models defines the domain types for raido.
package models

// Query mirrors a Redash query as returned by its REST API. Options,
// Schedule and Description are kept loosely typed: their shape varies (the
// API sends null descriptions) and the tool round-trips them rather than
// interpreting them.
type Query struct {
	ID             int              `json:"id,omitempty"`
	Name           string           `json:"name"`
	Query          string           `json:"query"`
	DataSourceID   int              `json:"data_source_id"`
	Description    any              `json:"description"`
	IsArchived     bool             `json:"is_archived"`
	IsDraft        bool             `json:"is_draft"`
	IsFavorite     bool             `json:"is_favorite"`
	Options        map[string]any   `json:"options"`
	Schedule       any              `json:"schedule"`
	Tags           []string         `json:"tags"`
	Visualizations []map[string]any `json:"visualizations,omitempty"`
}

// DataSource is a configured connection on the Redash instance. Type decides
// which local directory its queries map to; Syntax, when the server reports
// it, decides their file extension.
type DataSource struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	Type   string `json:"type"`
	Syntax string `json:"syntax,omitempty"`
}

// Dashboard mirrors a Redash dashboard. Widgets are kept as raw maps: the
// tool filters and round-trips them rather than interpreting the layout.
type Dashboard struct {
	ID                      int              `json:"id,omitempty"`
	Slug                    string           `json:"slug"`
	Name                    string           `json:"name"`
	Layout                  any              `json:"layout"`
	DashboardFiltersEnabled bool             `json:"dashboard_filters_enabled"`
	Options                 map[string]any   `json:"options"`
	IsArchived              bool             `json:"is_archived"`
	IsDraft                 bool             `json:"is_draft"`
	Tags                    []string         `json:"tags"`
	Widgets                 []map[string]any `json:"widgets,omitempty"`
}

// QueryFile pairs the two on-disk paths of one local query, both relative to
// the sync root. MetaPath is empty when the content file has no companion
// metadata file.
type QueryFile struct {
	ContentPath string
	MetaPath    string
}
