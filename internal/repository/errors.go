package repository

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates an entity was not located.
	ErrNotFound = errors.New("repository: not found")
	// ErrInvalidArgument indicates the store rejected a value.
	ErrInvalidArgument = errors.New("repository: invalid argument")
	// ErrConflict indicates a uniqueness constraint was violated.
	ErrConflict = errors.New("repository: conflict")
	// ErrInvalidReference indicates a referenced row does not exist.
	ErrInvalidReference = errors.New("repository: invalid reference")
	// ErrInUse indicates a row is still referenced and cannot be removed.
	ErrInUse = errors.New("repository: in use")
)

// InUseError reports how many rows still hold a reference.
type InUseError struct {
	Count int
}

func (e *InUseError) Error() string {
	return fmt.Sprintf("repository: in use by %d rows", e.Count)
}

// Is matches ErrInUse.
func (e *InUseError) Is(target error) bool {
	return target == ErrInUse
}
