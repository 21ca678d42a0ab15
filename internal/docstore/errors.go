package docstore

import "errors"

var (
	// ErrNotFound is returned when no document has the requested id.
	ErrNotFound = errors.New("docstore: document not found")

	// ErrConflict is returned when an insert violates a unique key.
	ErrConflict = errors.New("docstore: document already exists")

	// ErrNotArray is returned when an array operation targets a non-array field.
	ErrNotArray = errors.New("docstore: field is not an array")

	// ErrInvalidOutput is returned when Query is given something other than a slice pointer.
	ErrInvalidOutput = errors.New("docstore: output must be a pointer to a slice")

	// ErrInvalidFilter is returned for non-scalar filter values.
	ErrInvalidFilter = errors.New("docstore: filter values must be scalars")
)
