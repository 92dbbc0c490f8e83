package storage

import "errors"

var (
	// ErrNotFound is returned when an alert does not exist or belongs to another owner
	ErrNotFound = errors.New("alert not found")
	// ErrPersistence is returned when a write could not be committed
	ErrPersistence = errors.New("persistence failure")
	// ErrInvalidAlert is returned when an alert definition fails validation
	ErrInvalidAlert = errors.New("invalid alert")
	// ErrInvalidQuery is returned for an unsupported filter or sort
	ErrInvalidQuery = errors.New("invalid query")
)
