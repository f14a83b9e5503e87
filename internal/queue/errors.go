package queue

import "errors"

// Queue error taxonomy. Callers can retry ErrValidation with corrected input
// and ErrCapacity later; ErrTimeout is recorded on items, never returned to
// submitters.
var (
	ErrValidation = errors.New("validation error")
	ErrCapacity   = errors.New("queue is at capacity")
	ErrNotFound   = errors.New("item not found")
	ErrTimeout    = errors.New("analysis timed out")
)
