package store

import "errors"

// ErrNotFound is returned when a record does not exist or is not visible to
// the caller.
var ErrNotFound = errors.New("not found")
