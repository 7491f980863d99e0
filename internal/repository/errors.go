package repository

import "errors"

var (
	// ErrVersionConflict indicates an optimistic update lost a race with another writer.
	ErrVersionConflict = errors.New("row version changed")
	// ErrStatusChanged indicates a compare-and-set status transition found a different status.
	ErrStatusChanged = errors.New("status changed concurrently")
	// ErrPendingRegradeExists indicates the submission already has a pending regrade request.
	ErrPendingRegradeExists = errors.New("pending regrade request exists")
)
