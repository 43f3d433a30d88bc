package common

import (
	"errors"
	"fmt"
)

// Sentinel errors forming the storage error taxonomy. Backends wrap them with
// fmt.Errorf("...: %w", err); callers match with errors.Is.
var (
	// Lifecycle errors.
	ErrNotInitialized = errors.New("storage not initialized")

	// Session errors (no user, expired token, tenant not resolved).
	ErrNotAuthenticated = errors.New("not authenticated")

	// Repository-level errors.
	ErrNotFound            = errors.New("not found")
	ErrValidation          = errors.New("validation error")
	ErrConstraintViolation = errors.New("constraint violation")
	ErrPermissionDenied    = errors.New("permission denied")
	ErrHasDependents       = errors.New("record has dependents")

	// ErrMissingReference is the constraint violation of a write whose
	// reference points at a record the store does not hold (yet).
	ErrMissingReference = fmt.Errorf("%w: missing reference", ErrConstraintViolation)

	// ErrDestructiveOperationDisallowed is returned for unscoped wipes on
	// shared stores.
	ErrDestructiveOperationDisallowed = errors.New("destructive operation disallowed")

	// ErrStorage is the catch-all for backend failures; see StorageError.
	ErrStorage = errors.New("storage error")

	// Token lifecycle errors.
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// StorageError carries a backend failure that does not map onto a more
// specific sentinel. It matches ErrStorage via errors.Is and keeps the
// original error reachable via errors.Unwrap.
type StorageError struct {
	Op      string
	Message string
	Err     error
}

// NewStorageError wraps err as a StorageError for the given operation.
func NewStorageError(op string, err error) *StorageError {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return &StorageError{Op: op, Message: msg, Err: err}
}

func (e *StorageError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("storage error: %s", e.Message)
	}
	return fmt.Sprintf("storage error: %s: %s", e.Op, e.Message)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }
