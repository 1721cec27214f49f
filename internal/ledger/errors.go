package ledger

import "errors"

var (
	// ErrNotFound is returned when an operation references an unknown
	// reservation id.
	ErrNotFound = errors.New("reservation not found")
	// ErrInvalidArgument is returned by CreateHold for an empty resource id.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrResourceUnavailable is returned by CreateHold when the configured
	// availability checker rejects the resource.
	ErrResourceUnavailable = errors.New("resource unavailable")
	// ErrConcurrentUpdate is returned by a store when a compare-and-swap
	// keeps losing to concurrent writers.
	ErrConcurrentUpdate = errors.New("concurrent update detected")
)
