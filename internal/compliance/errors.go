package compliance

import "errors"

var (
	// ErrNotFound indicates the referenced task, series, or client does
	// not exist.
	ErrNotFound = errors.New("not found")

	// ErrForbidden indicates the caller's role or ownership does not
	// allow the operation.
	ErrForbidden = errors.New("not allowed")

	// ErrInvalidInput indicates a malformed or missing request field.
	ErrInvalidInput = errors.New("invalid input")

	// ErrTooManyTasks indicates a bulk request above the id cap.
	ErrTooManyTasks = errors.New("too many tasks (max 2000)")
)
