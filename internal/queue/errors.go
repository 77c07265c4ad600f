package queue

import "errors"

var (
	// ErrDuplicateURL rejects an enqueue whose URL already has a live item.
	ErrDuplicateURL = errors.New("url already queued")
	// ErrNotFound reports an unknown item id.
	ErrNotFound = errors.New("queue item not found")
	// ErrInvalidTransition reports an operation applied in the wrong state.
	ErrInvalidTransition = errors.New("invalid status transition")
)
