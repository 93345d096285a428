// Package objectstore stores immutable raw sample payloads by opaque path and issues
// fetchable URLs for them.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultContentType is recorded for payloads uploaded without a content type.
const DefaultContentType = "text/csv"

// MaxPathLength bounds the length of an object path.
const MaxPathLength = 512

var (
	// ErrObjectNotFound is returned when no payload exists at a path.
	ErrObjectNotFound = errors.New("object not found")
	// ErrObjectExists is returned when uploading to a path that is already written.
	ErrObjectExists = errors.New("object already exists")
	// ErrInvalidPath is returned for empty, absolute or traversing paths.
	ErrInvalidPath = errors.New("invalid object path")
	// ErrPayloadTooLarge is returned by fetchers when a payload exceeds the configured limit.
	ErrPayloadTooLarge = errors.New("payload exceeds size limit")
)

// Object is a stored payload together with its metadata.
type Object struct {
	CreatedAt   time.Time
	Path        string
	ContentType string
	SHA256      string
	Data        []byte
	Size        int64
}

// Store is a binary object store holding write-once payloads.
type Store interface {
	// Upload writes data under path and returns the stored path.
	// Writing to an existing path fails with ErrObjectExists.
	Upload(ctx context.Context, path string, data []byte, contentType string) (string, error)

	// PublicURL returns a fetchable URL for an existing object.
	PublicURL(ctx context.Context, path string) (string, error)

	// Remove deletes the objects at paths. Missing paths are ignored.
	Remove(ctx context.Context, paths []string) error

	// Get returns the object stored at path.
	Get(ctx context.Context, path string) (*Object, error)
}

// ValidatePath rejects paths that are empty, absolute, contain backslashes,
// empty segments or dot segments, or exceed MaxPathLength.
func ValidatePath(path string) error {
	if path == "" {
		return fmt.Errorf("%w: empty", ErrInvalidPath)
	}
	if len(path) > MaxPathLength {
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidPath, MaxPathLength)
	}
	if strings.HasPrefix(path, "/") || strings.Contains(path, `\`) {
		return fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	for _, segment := range strings.Split(path, "/") {
		if segment == "" || segment == "." || segment == ".." {
			return fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
	}
	return nil
}
