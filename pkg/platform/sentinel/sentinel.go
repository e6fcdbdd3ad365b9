// Package sentinel holds the storage facts stores report. Services translate
// them into domain errors; request validation uses pkg/domain-errors directly.
package sentinel

import "errors"

var (
	// ErrNotFound: the row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict: a concurrent writer won an optimistic update.
	ErrConflict = errors.New("conflict")
	// ErrAlreadyUsed: a unique value such as an index number, document number
	// or verification token is taken.
	ErrAlreadyUsed = errors.New("already used")
	// ErrInvalidState: the row is not in the state a guarded write expected.
	ErrInvalidState = errors.New("invalid state")
)
