package store

import "errors"

// ErrNotFound is returned for lookups of unknown entities, chunks or
// skills. It is an expected result, not a failure.
var ErrNotFound = errors.New("not found")
