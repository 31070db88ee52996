package domain

import "errors"

var (
	// ErrNotFound is returned by stores when an entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition is returned when a status change is not allowed
	// from the entity's current status.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrInvalidTarget is returned for malformed recipient targeting.
	ErrInvalidTarget = errors.New("invalid target configuration")
)
