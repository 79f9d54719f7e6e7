// Package apperr defines the error taxonomy shared across the sync pipeline.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnsupportedType means a data source type has no file extension
	// mapping; the query is skipped and reported.
	ErrUnsupportedType = errors.New("unsupported data source type")

	// ErrMissingMetadata means a content file has no companion .meta.yaml.
	ErrMissingMetadata = errors.New("missing metadata file")

	// ErrNotFound is returned for lookups that matched nothing.
	ErrNotFound = errors.New("not found")
)

// CorruptLocalFileError reports an existing metadata file that could not be
// parsed during a fetch merge. The file is left untouched rather than
// overwritten, so local formatting is never silently discarded.
type CorruptLocalFileError struct {
	Path string
	Err  error
}

func (e *CorruptLocalFileError) Error() string {
	return fmt.Sprintf("corrupt local file %s: %v", e.Path, e.Err)
}

func (e *CorruptLocalFileError) Unwrap() error { return e.Err }

// AmbiguousDataSourceError is returned when a push finds several data sources
// and no explicit --data-source-name was given. It is fatal: the user must
// disambiguate before any remote write happens.
type AmbiguousDataSourceError struct {
	Names []string
}

func (e *AmbiguousDataSourceError) Error() string {
	return fmt.Sprintf("multiple data sources configured, choose one with --data-source-name: %s",
		strings.Join(e.Names, ", "))
}

// RemoteError wraps a failed call against the Redash API.
type RemoteError struct {
	Op     string // e.g. "GET /api/queries"
	Status int    // HTTP status, 0 for transport failures
	Err    error
}

func (e *RemoteError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("redash: %s: status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("redash: %s: %v", e.Op, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }
