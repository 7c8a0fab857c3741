package repositories

import "fmt"

// StoreError is the RepositoryError used by the in-process and Redis backends.
type StoreError struct {
	Op          string
	Err         error
	NotFound    bool
	Conflict    bool
	Unavailable bool
}

func (e *StoreError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Err.Error()
}

func (e *StoreError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsNotFound reports whether the record is missing.
func (e *StoreError) IsNotFound() bool { return e != nil && e.NotFound }

// IsConflict reports whether a precondition or uniqueness check failed.
func (e *StoreError) IsConflict() bool { return e != nil && e.Conflict }

// IsUnavailable reports whether the backend could not be reached.
func (e *StoreError) IsUnavailable() bool { return e != nil && e.Unavailable }

// NewNotFoundError builds a not-found StoreError.
func NewNotFoundError(op string, err error) *StoreError {
	return &StoreError{Op: op, Err: err, NotFound: true}
}

// NewConflictError builds a conflict StoreError.
func NewConflictError(op string, err error) *StoreError {
	return &StoreError{Op: op, Err: err, Conflict: true}
}

// NewUnavailableError builds an unavailable StoreError.
func NewUnavailableError(op string, err error) *StoreError {
	return &StoreError{Op: op, Err: err, Unavailable: true}
}

var (
	_ RepositoryError = (*StoreError)(nil)
)
