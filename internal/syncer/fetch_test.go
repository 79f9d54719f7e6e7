package syncer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/starford/raido/internal/apperr"
	"github.com/starford/raido/internal/models"
	"github.com/starford/raido/internal/redash"
	"github.com/starford/raido/internal/storage"
	"github.com/starford/raido/internal/testutil"
)

func fetchFixture(t *testing.T) (*testutil.FakeRedash, storage.Provider, *Fetcher) {
	t.Helper()
	fake := testutil.NewFakeRedash(t, "secret")
	fake.AddDataSource(models.DataSource{ID: 1, Name: "warehouse", Type: "pg"})
	_, store := testutil.TestTree(t)
	client := redash.NewClient(fake.URL(), "secret")
	return fake, store, NewFetcher(client, store, testutil.DiscardLogger())
}

func readMeta(t *testing.T, store storage.Provider, path string) map[string]any {
	t.Helper()
	data, err := store.Read(path)
	if err != nil {
		t.Fatalf("Read(%s): %v", path, err)
	}
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		t.Fatalf("Unmarshal(%s): %v", path, err)
	}
	return m
}

func TestFetch_WritesContentAndMetadata(t *testing.T) {
	fake, store, f := fetchFixture(t)
	fake.AddQuery(models.Query{
		Name:         "Orders per Day",
		Query:        "SELECT count(*) FROM orders", // no trailing newline
		DataSourceID: 1,
		Description:  "daily order counts",
		Tags:         []string{"finance"},
	})

	rep, err := f.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Failed() || rep.Synced != 1 {
		t.Fatalf("report = %+v", rep)
	}

	content, err := store.Read("queries/pg/orders_per_day.sql")
	if err != nil {
		t.Fatalf("Read content: %v", err)
	}
	if string(content) != "SELECT count(*) FROM orders\n" {
		t.Errorf("content = %q", content)
	}

	meta := readMeta(t, store, "queries/pg/orders_per_day.sql.meta.yaml")
	if meta["name"] != "Orders per Day" || meta["description"] != "daily order counts" {
		t.Errorf("meta = %v", meta)
	}
}

func TestFetch_Idempotent(t *testing.T) {
	fake, store, f := fetchFixture(t)
	fake.AddQuery(models.Query{
		Name:         "Orders per Day",
		Query:        "SELECT 1\n",
		DataSourceID: 1,
		Tags:         []string{"finance"},
	})

	if _, err := f.Run(context.Background()); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	content1, _ := store.Read("queries/pg/orders_per_day.sql")
	meta1, _ := store.Read("queries/pg/orders_per_day.sql.meta.yaml")

	if _, err := f.Run(context.Background()); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	content2, _ := store.Read("queries/pg/orders_per_day.sql")
	meta2, _ := store.Read("queries/pg/orders_per_day.sql.meta.yaml")

	if string(content1) != string(content2) {
		t.Error("content changed between identical fetches")
	}
	if string(meta1) != string(meta2) {
		t.Errorf("metadata changed between identical fetches:\n%s\n---\n%s", meta1, meta2)
	}
}

func TestFetch_ManualFormattingSurvives(t *testing.T) {
	fake, store, f := fetchFixture(t)
	fake.AddQuery(models.Query{
		Name:         "Orders per Day",
		Query:        "SELECT 1\n",
		DataSourceID: 1,
		Description:  "old",
	})

	if _, err := f.Run(context.Background()); err != nil {
		t.Fatalf("first Run: %v", err)
	}

	// A human rearranges the file: comments, quoting, key order, extra key.
	manual := `# maintained by the data team
description: "old"  # do not touch the comment
name: Orders per Day
owner: alice
is_archived: false
is_draft: false
is_favorite: false
options: {}
schedule: null
tags: []
visualizations: []
`
	metaPath := "queries/pg/orders_per_day.sql.meta.yaml"
	if err := store.Write(metaPath, []byte(manual)); err != nil {
		t.Fatalf("Write manual meta: %v", err)
	}

	// Remote unchanged: the file must come back byte-identical.
	if _, err := f.Run(context.Background()); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	got, _ := store.Read(metaPath)
	if string(got) != manual {
		t.Errorf("manual formatting lost:\n%s\nwant:\n%s", got, manual)
	}

	// Remote description changes: only that value token may change.
	q, _ := fake.QueryByName("Orders per Day")
	q.Description = "new"
	fake.AddQuery(q)

	if _, err := f.Run(context.Background()); err != nil {
		t.Fatalf("third Run: %v", err)
	}
	got, _ = store.Read(metaPath)
	want := strings.Replace(manual,
		`description: "old"  # do not touch the comment`,
		`description: "new"  # do not touch the comment`, 1)
	if string(got) != want {
		t.Errorf("selective update failed:\n%s\nwant:\n%s", got, want)
	}
}

func TestFetch_CorruptMetadataReportedAndSkipped(t *testing.T) {
	fake, store, f := fetchFixture(t)
	fake.AddQuery(models.Query{Name: "Broken Meta", Query: "SELECT 1\n", DataSourceID: 1})
	fake.AddQuery(models.Query{Name: "Fine", Query: "SELECT 2\n", DataSourceID: 1})

	corrupt := "name: [unclosed\n"
	if err := store.Write("queries/pg/broken_meta.sql.meta.yaml", []byte(corrupt)); err != nil {
		t.Fatalf("Write: %v", err)
	}

	rep, err := f.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Synced != 1 || len(rep.Failures) != 1 {
		t.Fatalf("report = %+v", rep)
	}
	var cle *apperr.CorruptLocalFileError
	if !errors.As(rep.Failures[0].Err, &cle) {
		t.Errorf("failure = %v, want CorruptLocalFileError", rep.Failures[0].Err)
	}

	// The corrupt file is left alone, not overwritten.
	got, _ := store.Read("queries/pg/broken_meta.sql.meta.yaml")
	if string(got) != corrupt {
		t.Errorf("corrupt file was rewritten: %q", got)
	}
}

func TestFetch_UnsupportedTypeSkipped(t *testing.T) {
	fake, store, f := fetchFixture(t)
	fake.AddDataSource(models.DataSource{ID: 2, Name: "exotic", Type: "carrier-pigeon"})
	fake.AddQuery(models.Query{Name: "Fine", Query: "SELECT 1\n", DataSourceID: 1})
	fake.AddQuery(models.Query{Name: "Exotic", Query: "COO\n", DataSourceID: 2})

	rep, err := f.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Synced != 1 || len(rep.Failures) != 1 {
		t.Fatalf("report = %+v", rep)
	}
	if !errors.Is(rep.Failures[0].Err, apperr.ErrUnsupportedType) {
		t.Errorf("failure = %v", rep.Failures[0].Err)
	}
	if ok, _ := store.Exists("queries/pg/fine.sql"); !ok {
		t.Error("healthy query was not fetched")
	}
}

func TestFetch_QueryParametersStoredByName(t *testing.T) {
	fake, store, f := fetchFixture(t)
	dep := fake.AddQuery(models.Query{Name: "Class List", Query: "SELECT 1\n", DataSourceID: 1})
	fake.AddQuery(models.Query{
		Name:         "Class Summary",
		Query:        "SELECT 2\n",
		DataSourceID: 1,
		Options: map[string]any{
			"parameters": []any{
				map[string]any{"name": "class", "type": "query", "queryId": float64(dep.ID)},
			},
		},
	})

	if _, err := f.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	meta := readMeta(t, store, "queries/pg/class_summary.sql.meta.yaml")
	options, _ := meta["options"].(map[string]any)
	params, _ := options["parameters"].([]any)
	if len(params) != 1 {
		t.Fatalf("parameters = %v", options)
	}
	param, _ := params[0].(map[string]any)
	if param["queryName"] != "Class List" {
		t.Errorf("queryName = %v", param["queryName"])
	}
	if _, hasID := param["queryId"]; hasID {
		t.Error("queryId should be replaced by queryName")
	}
}

func TestFetch_NullDescriptionPreserved(t *testing.T) {
	fake, store, f := fetchFixture(t)
	fake.AddQuery(models.Query{Name: "Nullable", Query: "SELECT 1\n", DataSourceID: 1})

	if _, err := f.Run(context.Background()); err != nil {
		t.Fatalf("first Run: %v", err)
	}

	// A hand-formatted empty description is null, same as the remote value;
	// a refetch must not rewrite it to "".
	manual := `name: Nullable
description:
is_archived: false
is_draft: false
is_favorite: false
options: {}
schedule: null
tags: []
visualizations: []
`
	metaPath := "queries/pg/nullable.sql.meta.yaml"
	if err := store.Write(metaPath, []byte(manual)); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if _, err := f.Run(context.Background()); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	got, _ := store.Read(metaPath)
	if string(got) != manual {
		t.Errorf("null description rewritten:\n%s\nwant:\n%s", got, manual)
	}
}

func TestFetch_SyntaxDrivesExtension(t *testing.T) {
	fake, store, f := fetchFixture(t)
	fake.AddDataSource(models.DataSource{ID: 2, Name: "newdb", Type: "cockroach", Syntax: "sql"})
	fake.AddQuery(models.Query{Name: "Orders", Query: "SELECT 1\n", DataSourceID: 2})

	rep, err := f.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Failed() {
		t.Fatalf("report = %+v", rep)
	}
	if ok, _ := store.Exists("queries/cockroach/orders.sql"); !ok {
		t.Error("server-reported syntax should drive the file extension")
	}
}

func TestFetch_DefaultTableVisualizationDropped(t *testing.T) {
	fake, store, f := fetchFixture(t)
	fake.AddQuery(models.Query{
		Name:         "With Charts",
		Query:        "SELECT 1\n",
		DataSourceID: 1,
		Visualizations: []map[string]any{
			{"id": float64(7), "type": "TABLE", "name": "Table", "options": map[string]any{}, "description": "", "created_at": "x", "updated_at": "y"},
			{"id": float64(8), "type": "CHART", "name": "Trend", "options": map[string]any{"series": "a"}, "description": ""},
		},
	})

	if _, err := f.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	meta := readMeta(t, store, "queries/pg/with_charts.sql.meta.yaml")
	vizs, _ := meta["visualizations"].([]any)
	if len(vizs) != 1 {
		t.Fatalf("visualizations = %v", meta["visualizations"])
	}
	viz, _ := vizs[0].(map[string]any)
	if viz["name"] != "Trend" {
		t.Errorf("viz = %v", viz)
	}
	if _, hasID := viz["id"]; hasID {
		t.Error("volatile id field should be stripped")
	}
}

func TestFetch_DashboardLinkColumnsNeutralized(t *testing.T) {
	fake, store, f := fetchFixture(t)
	fake.AddQuery(models.Query{
		Name:         "Class List",
		Query:        "SELECT 1\n",
		DataSourceID: 1,
		Visualizations: []map[string]any{
			{
				"id": float64(8), "type": "TABLE", "name": "Linked", "description": "",
				"options": map[string]any{
					"columns": []any{
						map[string]any{
							"name":            "class",
							"displayAs":       "link",
							"linkUrlTemplate": "/dashboards/7-class-summary?p_class={{ id }}",
						},
						map[string]any{"name": "plain", "displayAs": "string"},
					},
				},
			},
		},
	})

	if _, err := f.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	meta := readMeta(t, store, "queries/pg/class_list.sql.meta.yaml")
	vizs, _ := meta["visualizations"].([]any)
	viz, _ := vizs[0].(map[string]any)
	options, _ := viz["options"].(map[string]any)
	cols, _ := options["columns"].([]any)
	link, _ := cols[0].(map[string]any)
	if link["linkUrlTemplate"] != "/dashboards/0-class-summary?p_class={{ id }}" {
		t.Errorf("linkUrlTemplate = %v, want instance ID zeroed", link["linkUrlTemplate"])
	}
	plain, _ := cols[1].(map[string]any)
	if _, has := plain["linkUrlTemplate"]; has {
		t.Errorf("non-link column grew a template: %v", plain)
	}
}

func TestFetch_DashboardWritten(t *testing.T) {
	fake, store, f := fetchFixture(t)
	fake.AddQuery(models.Query{Name: "Orders", Query: "SELECT 1\n", DataSourceID: 1})
	fake.AddDashboard(models.Dashboard{
		Name:    "Class Summary",
		Slug:    "class-summary",
		IsDraft: true,
		Tags:    []string{"ops"},
		Options: map[string]any{},
		Widgets: []map[string]any{
			{
				"id": float64(2), "width": float64(1), "text": "",
				"dashboard_id": float64(1), "created_at": "x", "updated_at": "y",
				"options": map[string]any{"position": map[string]any{"row": float64(1), "col": float64(0)}},
				"visualization": map[string]any{
					"id": float64(5), "name": "Trend",
					"query": map[string]any{"id": float64(1), "name": "Orders"},
				},
			},
			{
				"id": float64(3), "width": float64(1), "text": "a note",
				"options": map[string]any{"position": map[string]any{"row": float64(0), "col": float64(0)}},
			},
		},
	})

	rep, err := f.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Failed() || rep.Synced != 2 {
		t.Fatalf("report = %+v", rep)
	}

	data1, err := store.Read("dashboards/class_summary.yaml")
	if err != nil {
		t.Fatalf("Read dashboard: %v", err)
	}
	var d map[string]any
	if err := yaml.Unmarshal(data1, &d); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if d["name"] != "Class Summary" || d["slug"] != "class-summary" || d["is_draft"] != true {
		t.Errorf("dashboard = %v", d)
	}

	widgets, _ := d["widgets"].([]any)
	if len(widgets) != 2 {
		t.Fatalf("widgets = %v", d["widgets"])
	}
	// Sorted by grid position: the text widget at row 0 comes first.
	first, _ := widgets[0].(map[string]any)
	if first["text"] != "a note" {
		t.Errorf("widget order wrong: %v", widgets)
	}
	second, _ := widgets[1].(map[string]any)
	if _, has := second["id"]; has {
		t.Error("volatile widget id should be stripped")
	}
	if _, has := second["dashboard_id"]; has {
		t.Error("volatile dashboard_id should be stripped")
	}
	ref, _ := second["visualization"].(map[string]any)
	if ref["name"] != "Trend" || ref["queryName"] != "Orders" {
		t.Errorf("visualization reference = %v", ref)
	}

	// Unchanged remote: the file must come back byte-identical.
	if _, err := f.Run(context.Background()); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	data2, _ := store.Read("dashboards/class_summary.yaml")
	if string(data1) != string(data2) {
		t.Errorf("dashboard file changed between identical fetches:\n%s\n---\n%s", data1, data2)
	}
}
