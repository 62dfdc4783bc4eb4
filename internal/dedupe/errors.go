package dedupe

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by stores when a record does not exist or is
	// not visible to the requesting owner.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when a relationship for the same
	// (source, duplicate) pair is already recorded.
	ErrAlreadyExists = errors.New("already exists")
	// ErrInvalidInput rejects bad arguments before any write happens.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidTransition rejects status changes the lifecycle forbids.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrOwnerBusy is returned when the per-owner lock is held elsewhere.
	ErrOwnerBusy = errors.New("owner busy")
)

// StorageError wraps a failure reported by a durable store. Callers decide
// whether to retry.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// storageErr wraps err unless it is nil or already a domain sentinel the
// caller needs to match on.
func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrAlreadyExists) || errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrInvalidTransition) {
		return err
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
