package repository

import "errors"

var (
	// ErrNotFound marks an absent document. Point lookups through the feed
	// facade translate it into a nil result; it is never a store failure.
	ErrNotFound = errors.New("document not found")

	// ErrConflict is returned by RunTransaction when another commit modified
	// one of the documents read by this transaction before it committed. The
	// attempt can be retried with a fresh read set.
	ErrConflict = errors.New("transaction conflict: read set was modified by a concurrent commit")

	// ErrUnavailable covers connectivity and permission failures. Terminal;
	// not retried by this service.
	ErrUnavailable = errors.New("document store unavailable")
)
