package errors

import "errors"

var (
	// ErrNotFound is a generic sentinel for missing artifacts, runs, or tasks.
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument is a generic sentinel for invalid input.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrLocked reports that another writer holds the key.
	ErrLocked = errors.New("key locked by another writer")
)
