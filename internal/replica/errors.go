package replica

import "errors"

// Domain errors for the replica package.
var (
	// ErrNotFound is returned when a replica ID does not exist.
	ErrNotFound = errors.New("replica: not found")

	// ErrExists is returned when creating a replica with an ID that already exists.
	ErrExists = errors.New("replica: already exists")

	// ErrInvalidID is returned when an ID cannot be used as an MQTT topic level.
	ErrInvalidID = errors.New("replica: invalid id")

	// ErrInvalidWindow is returned when a medication window is malformed
	// or does not start before it ends.
	ErrInvalidWindow = errors.New("replica: invalid medicine window")

	// ErrInvalidKind is returned for an unknown environmental reading kind.
	ErrInvalidKind = errors.New("replica: invalid reading kind")

	// ErrInvalidReplica is returned when required fields are missing.
	ErrInvalidReplica = errors.New("replica: invalid")
)
