package service

import "errors"

var (
	// ErrUnknownKind is returned when building a service of an unknown kind.
	ErrUnknownKind = errors.New("service: unknown kind")

	// ErrNotExecutable is returned by Execute on kinds without periodic behaviour.
	ErrNotExecutable = errors.New("service: not executable")

	// ErrInvalidLimits is returned when environmental limits are out of range.
	ErrInvalidLimits = errors.New("service: invalid limits")

	// ErrInvalidSettings is returned when Configure receives unusable settings.
	ErrInvalidSettings = errors.New("service: invalid settings")
)
