package twin

import "errors"

var (
	// ErrTwinNotFound is returned when a twin does not exist.
	ErrTwinNotFound = errors.New("twin: not found")

	// ErrReplicaNotFound is returned when a replica does not exist, is not
	// owned by the twin owner, or is not linked to the twin.
	ErrReplicaNotFound = errors.New("twin: replica not found")

	// ErrNameConflict is returned when a twin name is already taken.
	ErrNameConflict = errors.New("twin: name already exists")

	// ErrUnauthorized is returned when a user acts on a twin they do not own.
	ErrUnauthorized = errors.New("twin: not owner")

	// ErrInvalidName is returned for an empty or oversized twin name.
	ErrInvalidName = errors.New("twin: invalid name")

	// ErrServiceNotFound is returned when a service is not attached to the twin.
	ErrServiceNotFound = errors.New("twin: service not attached")

	// ErrNotExecutable is returned when a service has no periodic behaviour.
	ErrNotExecutable = errors.New("twin: service not executable")
)
