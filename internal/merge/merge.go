// Package merge updates a query's metadata document from freshly fetched
// field values, touching only what actually changed.
package merge

import (
	"fmt"

	"github.com/starford/raido/internal/metadoc"
)

// Field is one metadata field in the order the caller wants it applied.
// Passing an explicit slice instead of a map keeps the apply order fixed and
// canonical, so output is deterministic across runs.
type Field struct {
	Name  string
	Value any
}

// Merge applies fields to an existing document, or builds a fresh one when
// existing is nil.
//
// The merge is additive and updating, never subtractive: a field whose value
// equals the document's current value leaves its bytes alone, a changed value
// replaces only that entry's value token, a new field is appended, and keys
// present in the document but absent from fields survive untouched.
func Merge(existing *metadoc.Document, fields []Field) (*metadoc.Document, error) {
	doc := existing
	if doc == nil {
		doc = metadoc.New()
	}
	for _, f := range fields {
		if err := doc.Set(f.Name, f.Value); err != nil {
			return nil, fmt.Errorf("merge field %q: %w", f.Name, err)
		}
	}
	return doc, nil
}
