package rating

import "errors"

var (
	// ErrConcurrentUpdate is returned when the compare-and-swap retry budget
	// runs out. Callers may retry later.
	ErrConcurrentUpdate = errors.New("concurrent rating update")
	// ErrInvalidOfficial is returned for an empty official id.
	ErrInvalidOfficial = errors.New("invalid official id")
)
