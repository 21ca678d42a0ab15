// Package docstore is the generic document store behind twins and
// replicas.
//
// Documents are JSON objects addressed by (collection, id). Besides
// plain CRUD the Store exposes three single-document atomic operations
// so callers never read-modify-write shared arrays themselves:
//
//   - PushCapped appends to an array and trims it to the newest N entries.
//   - AddToSet adds a value to an array only if no equal value is present.
//   - Pull removes every array element matching a value or field subset.
//
// Backends: SQLite (default, shares the medtwin database file),
// PostgreSQL (JSONB), MongoDB (native update operators) and an in-memory
// store for tests.
package docstore

import "context"

// Filter selects documents in Query. All conditions must hold.
//
// Field names may be dotted paths into nested objects. Eq values and
// ElemMatch field values must be JSON scalars (string, number, bool).
type Filter struct {
	// Eq requires the field to equal the value.
	Eq map[string]any

	// ElemMatch requires the array field to contain at least one object
	// whose fields equal every entry of the map.
	ElemMatch map[string]map[string]any
}

// Store is the persistence boundary for JSON documents.
//
// Query results are ordered by id ascending.
type Store interface {
	// Get decodes the document into out. Returns ErrNotFound.
	Get(ctx context.Context, collection, id string, out any) error

	// Query decodes all matching documents into out, a pointer to a slice.
	Query(ctx context.Context, collection string, filter Filter, out any) error

	// Save inserts a new document. Returns ErrConflict if the id (or a
	// unique field such as a twin name) already exists.
	Save(ctx context.Context, collection, id string, doc any) error

	// Update applies an RFC 7396 JSON merge patch. Returns ErrNotFound.
	Update(ctx context.Context, collection, id string, patch map[string]any) error

	// Delete removes a document. Returns ErrNotFound.
	Delete(ctx context.Context, collection, id string) error

	// PushCapped appends value to the array field, keeping at most limit
	// newest elements. limit <= 0 means unbounded.
	PushCapped(ctx context.Context, collection, id, field string, value any, limit int) error

	// AddToSet appends value unless an equal element exists. It reports
	// whether the value was added.
	AddToSet(ctx context.Context, collection, id, field string, value any) (bool, error)

	// Pull removes elements equal to match, or, when match is an object,
	// elements whose fields include every field of match. It reports
	// whether anything was removed.
	Pull(ctx context.Context, collection, id, field string, match any) (bool, error)

	HealthCheck(ctx context.Context) error
	Close() error
}
