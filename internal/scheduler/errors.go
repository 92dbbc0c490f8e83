package scheduler

import "errors"

var (
	// ErrMaxRetriesExceeded is returned when max retries are exceeded
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")

	// ErrInvalidInterval is returned when a job interval is not positive
	ErrInvalidInterval = errors.New("invalid interval")
)
