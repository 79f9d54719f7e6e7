// Package storage defines the sync-tree file-system abstraction.
package storage

import "github.com/starford/raido/internal/models"

// Provider is the interface for local query-tree file operations. This tool
// never deletes or renames files: a query renamed remotely simply leaves its
// old files behind (documented limitation, not cleaned up).
type Provider interface {
	// Read returns the raw bytes of the file at path (relative to the root).
	Read(path string) ([]byte, error)
	// Write atomically writes content to path (relative to the root),
	// skipping the write when the file already holds identical bytes.
	Write(path string, content []byte) error
	// Exists reports whether a regular file exists at path.
	Exists(path string) (bool, error)
	// ListQueryFiles returns the content/meta file pairs under dir (relative
	// to the root). A content file without a companion meta file is reported
	// with an empty MetaPath.
	ListQueryFiles(dir string) ([]models.QueryFile, error)
	// List returns the relative paths of all regular files under dir, sorted.
	// A missing dir is an empty listing, not an error.
	List(dir string) ([]string, error)
}
