package storage

import "errors"

// ErrNotFound is returned when a requested agent has no rows.
var ErrNotFound = errors.New("storage: not found")
