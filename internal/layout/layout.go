// Package layout derives the on-disk locations of queries and dashboards
// from their data source and name.
package layout

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/starford/raido/internal/apperr"
)

// MetaSuffix is appended to a content path to form its metadata path.
const MetaSuffix = ".meta.yaml"

// QueriesDir is the top-level directory all query files live under.
const QueriesDir = "queries"

// DashboardsDir is the top-level directory all dashboard files live under.
const DashboardsDir = "dashboards"

// extByType maps Redash data source types to file extensions, used when the
// server does not report a syntax for the source. SQL-backed sources store
// their text as .sql, document/REST sources as .yaml.
var extByType = map[string]string{
	"pg":            "sql",
	"postgres":      "sql",
	"mysql":         "sql",
	"rds_mysql":     "sql",
	"sqlite":        "sql",
	"mssql":         "sql",
	"bigquery":      "sql",
	"redshift":      "sql",
	"athena":        "sql",
	"snowflake":     "sql",
	"clickhouse":    "sql",
	"presto":        "sql",
	"hive":          "sql",
	"url":           "yaml",
	"json":          "yaml",
	"rest":          "yaml",
	"elasticsearch": "yaml",
	"mongodb":       "yaml",
	"prometheus":    "yaml",
}

var unsafeRe = regexp.MustCompile(`[^A-Za-z0-9]+`)

// Ext returns the content file extension for a data source type.
func Ext(dsType string) (string, error) {
	ext, ok := extByType[dsType]
	if !ok {
		return "", fmt.Errorf("%w: %q", apperr.ErrUnsupportedType, dsType)
	}
	return ext, nil
}

// MakeFilename turns an arbitrary query name into a filename-safe stub:
// "My Life (And Hard Times)" -> "my_life_and_hard_times". Two names that
// sanitize to the same stub collide; that is accepted, last writer wins.
func MakeFilename(name string) string {
	return strings.ToLower(strings.Trim(unsafeRe.ReplaceAllString(name, "_"), "_"))
}

// Derive maps (type, syntax, name) to the relative content and metadata
// paths: queries/<type>/<stub>.<ext> and the same path + ".meta.yaml". The
// extension is the syntax the server reports for the source, falling back to
// the type table when the server omits it. Pure function; never touches the
// filesystem.
func Derive(dsType, syntax, name string) (contentPath, metaPath string, err error) {
	ext := syntax
	if ext == "" {
		ext, err = Ext(dsType)
		if err != nil {
			return "", "", err
		}
	}
	contentPath = path.Join(QueriesDir, dsType, MakeFilename(name)+"."+ext)
	return contentPath, contentPath + MetaSuffix, nil
}

// TypeDir returns the directory holding all queries of a data source type.
func TypeDir(dsType string) string {
	return path.Join(QueriesDir, dsType)
}

// DashboardPath returns the relative path of a dashboard's file.
func DashboardPath(name string) string {
	return path.Join(DashboardsDir, MakeFilename(name)+".yaml")
}
