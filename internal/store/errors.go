package store

import "errors"

var (
	// ErrOperationNotFound indicates the journal entry could not be found.
	ErrOperationNotFound = errors.New("operation not found")

	// ErrOperationFinished indicates the entry was already completed or failed.
	ErrOperationFinished = errors.New("operation already finished")
)
