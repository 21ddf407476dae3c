package dlq

import "errors"

var (
	ErrHandlerNotFound    = errors.New("no retry handler registered")
	ErrEntryNotFound      = errors.New("dlq entry not found")
	ErrInvalidFailedWrite = errors.New("invalid failed write")

	ErrInvalidStalledThreshold = errors.New("invalid stalled threshold")
)
