package backend

import (
	"errors"
	"fmt"
	"net/http"

	"procodus.dev/gait-monitor/pkg/gait"
)

// Storage backends named in StorageError.
const (
	BackendObject   = "object"
	BackendMetadata = "metadata"
)

// ValidationError reports a malformed or missing request field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// NotFoundError reports that a referenced patient or reading does not exist.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// StorageError wraps a failure of the object store or the metadata store.
type StorageError struct {
	Err     error
	Backend string
	Op      string
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s storage failed during %s: %v", e.Backend, e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsValidation reports whether err is or wraps a *ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsNotFound reports whether err is or wraps a *NotFoundError.
func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

// IsStorage reports whether err is or wraps a *StorageError.
func IsStorage(err error) bool {
	var target *StorageError
	return errors.As(err, &target)
}

// IsDecodeDefect reports whether err is or wraps a *gait.DecodeDefect.
func IsDecodeDefect(err error) bool {
	var target *gait.DecodeDefect
	return errors.As(err, &target)
}

// HTTPStatus maps an error kind to the HTTP status returned to API clients.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case IsValidation(err):
		return http.StatusBadRequest
	case IsNotFound(err):
		return http.StatusNotFound
	case IsDecodeDefect(err):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// storageError wraps err unless it already carries a kind the transports map.
func storageError(backend, op string, err error) error {
	if err == nil || IsNotFound(err) || IsValidation(err) {
		return err
	}
	return &StorageError{Backend: backend, Op: op, Err: err}
}
