package syncer

import (
	"regexp"
	"sort"

	"github.com/starford/raido/internal/merge"
	"github.com/starford/raido/internal/models"
)

// Canonical metadata field order. Kept fixed so that freshly created
// metadata files are deterministic and diffs stay minimal; the merge engine
// applies fields in exactly this order.
var metaFieldOrder = []string{
	"name",
	"description",
	"is_archived",
	"is_draft",
	"is_favorite",
	"options",
	"schedule",
	"tags",
	"visualizations",
}

// Canonical dashboard field order, same reasoning as metaFieldOrder.
var dashboardFieldOrder = []string{
	"slug",
	"name",
	"layout",
	"dashboard_filters_enabled",
	"options",
	"is_archived",
	"is_draft",
	"tags",
}

// vizVolatileFields are instance-specific and stripped before storing a
// visualization in metadata.
var vizVolatileFields = map[string]bool{
	"id":         true,
	"updated_at": true,
	"created_at": true,
}

// widgetVolatileFields are instance-specific or reconstructed on push and
// stripped before storing a widget in a dashboard file. The visualization
// itself is replaced by a (name, queryName) reference.
var widgetVolatileFields = map[string]bool{
	"dashboard_id":  true,
	"id":            true,
	"updated_at":    true,
	"created_at":    true,
	"query":         true,
	"visualization": true,
}

// dashboardLinkRe matches column link templates pointing at a dashboard,
// e.g. /dashboards/3-class-summary?p_class={{ id }}. The leading number is
// the dashboard ID, instance-specific; the slug after it is stable.
var dashboardLinkRe = regexp.MustCompile(`^(/dashboards/)([0-9]+)(-[a-z0-9-]+)((?:\?.+)?)$`)

// metaFields builds the canonical field list for one query. namesByID maps
// query IDs to names so query-based parameters can be stored by name, which
// is stable across Redash instances where IDs are not.
func metaFields(q models.Query, namesByID map[int]string) []merge.Field {
	values := map[string]any{
		"name":           q.Name,
		"description":    q.Description,
		"is_archived":    q.IsArchived,
		"is_draft":       q.IsDraft,
		"is_favorite":    q.IsFavorite,
		"options":        parametersToNames(q.Options, namesByID),
		"schedule":       q.Schedule,
		"tags":           q.Tags,
		"visualizations": filteredVisualizations(q.Visualizations),
	}

	fields := make([]merge.Field, 0, len(metaFieldOrder))
	for _, name := range metaFieldOrder {
		fields = append(fields, merge.Field{Name: name, Value: values[name]})
	}
	return fields
}

// parametersToNames returns a copy of options where every parameter of type
// "query" carries queryName instead of queryId.
func parametersToNames(options map[string]any, namesByID map[int]string) map[string]any {
	if options == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(options))
	for k, v := range options {
		out[k] = v
	}
	params, ok := out["parameters"].([]any)
	if !ok {
		return out
	}

	rewritten := make([]any, 0, len(params))
	for _, p := range params {
		param, ok := p.(map[string]any)
		if !ok {
			rewritten = append(rewritten, p)
			continue
		}
		if param["type"] == "query" {
			cp := make(map[string]any, len(param))
			for k, v := range param {
				cp[k] = v
			}
			if id, ok := asInt(cp["queryId"]); ok {
				if name, known := namesByID[id]; known {
					cp["queryName"] = name
					delete(cp, "queryId")
				}
			}
			param = cp
		}
		rewritten = append(rewritten, param)
	}
	out["parameters"] = rewritten
	return out
}

// filteredVisualizations strips volatile fields, neutralizes dashboard IDs
// in link columns, drops the untouched default table visualization, and
// sorts by name for deterministic output.
func filteredVisualizations(vizs []map[string]any) []any {
	out := make([]any, 0, len(vizs))
	for _, viz := range vizs {
		cp := make(map[string]any, len(viz))
		for k, v := range viz {
			if vizVolatileFields[k] {
				continue
			}
			cp[k] = v
		}
		if opts, ok := cp["options"]; ok {
			cp["options"] = rewriteLinkColumns(opts, func(url string) string {
				return dashboardLinkRe.ReplaceAllString(url, "${1}0${3}${4}")
			})
		}
		if isDefaultTable(cp) {
			continue
		}
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool {
		a, _ := out[i].(map[string]any)
		b, _ := out[j].(map[string]any)
		an, _ := a["name"].(string)
		bn, _ := b["name"].(string)
		return an < bn
	})
	return out
}

// isDefaultTable matches the default visualization Redash creates for every
// query; storing it would only add noise.
func isDefaultTable(viz map[string]any) bool {
	if len(viz) != 4 {
		return false
	}
	if viz["type"] != "TABLE" || viz["name"] != "Table" || viz["description"] != "" {
		return false
	}
	opts, ok := viz["options"].(map[string]any)
	return ok && len(opts) == 0
}

// rewriteLinkColumns returns options with fn applied to the linkUrlTemplate
// of every column displayed as a link. The input is never mutated; untouched
// columns are shared, rewritten ones are copied.
func rewriteLinkColumns(options any, fn func(string) string) any {
	opts, ok := options.(map[string]any)
	if !ok {
		return options
	}
	cols, ok := opts["columns"].([]any)
	if !ok {
		return options
	}

	changed := false
	outCols := make([]any, len(cols))
	for i, c := range cols {
		outCols[i] = c
		col, ok := c.(map[string]any)
		if !ok || col["displayAs"] != "link" {
			continue
		}
		url, ok := col["linkUrlTemplate"].(string)
		if !ok {
			continue
		}
		rewritten := fn(url)
		if rewritten == url {
			continue
		}
		cp := make(map[string]any, len(col))
		for k, v := range col {
			cp[k] = v
		}
		cp["linkUrlTemplate"] = rewritten
		outCols[i] = cp
		changed = true
	}
	if !changed {
		return options
	}
	out := make(map[string]any, len(opts))
	for k, v := range opts {
		out[k] = v
	}
	out["columns"] = outCols
	return out
}

// dashboardFields builds the canonical field list for one dashboard,
// widgets last.
func dashboardFields(d models.Dashboard) []merge.Field {
	values := map[string]any{
		"slug":                      d.Slug,
		"name":                      d.Name,
		"layout":                    d.Layout,
		"dashboard_filters_enabled": d.DashboardFiltersEnabled,
		"options":                   d.Options,
		"is_archived":               d.IsArchived,
		"is_draft":                  d.IsDraft,
		"tags":                      d.Tags,
	}

	fields := make([]merge.Field, 0, len(dashboardFieldOrder)+1)
	for _, name := range dashboardFieldOrder {
		fields = append(fields, merge.Field{Name: name, Value: values[name]})
	}
	fields = append(fields, merge.Field{Name: "widgets", Value: filteredWidgets(d.Widgets)})
	return fields
}

// filteredWidgets strips volatile widget fields, replaces the embedded
// visualization with a (name, queryName) reference, and sorts by grid
// position for deterministic output.
func filteredWidgets(widgets []map[string]any) []any {
	sorted := make([]map[string]any, len(widgets))
	copy(sorted, widgets)
	sort.SliceStable(sorted, func(i, j int) bool {
		ri, ci := widgetPosition(sorted[i])
		rj, cj := widgetPosition(sorted[j])
		if ri != rj {
			return ri < rj
		}
		return ci < cj
	})

	out := make([]any, 0, len(sorted))
	for _, w := range sorted {
		cp := make(map[string]any, len(w))
		for k, v := range w {
			if widgetVolatileFields[k] {
				continue
			}
			cp[k] = v
		}
		if viz, ok := w["visualization"].(map[string]any); ok {
			ref := map[string]any{"name": viz["name"]}
			if q, ok := viz["query"].(map[string]any); ok {
				ref["queryName"] = q["name"]
			}
			cp["visualization"] = ref
		}
		out = append(out, cp)
	}
	return out
}

// widgetPosition reads the grid row and column out of a widget's options.
func widgetPosition(w map[string]any) (row, col int) {
	opts, _ := w["options"].(map[string]any)
	pos, _ := opts["position"].(map[string]any)
	r, _ := asInt(pos["row"])
	c, _ := asInt(pos["col"])
	return r, c
}

// asInt converts the numeric types JSON and YAML decoding produce.
func asInt(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		return int(t), true
	default:
		return 0, false
	}
}
