package errors

import "errors"

var (
	ErrNotFound = errors.New("booking not found")

	ErrInvalidID = errors.New("invalid booking ID format")

	ErrResourceNotFound = errors.New("resource not found")

	ErrTimeConflict = errors.New("booking time conflicts with an active booking")

	ErrDuplicateID = errors.New("booking id already exists")

	ErrResourceExists = errors.New("resource already exists")

	// ErrLockTimeout means the store gave up waiting for a resource or row lock.
	ErrLockTimeout = errors.New("timed out waiting for lock")
)
