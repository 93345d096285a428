// Package mock provides an in-memory implementation of objectstore.Store for testing.
package mock

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"procodus.dev/gait-monitor/pkg/objectstore"
)

// MockStore is an in-memory objectstore.Store that tracks calls and allows
// injecting failures per operation.
type MockStore struct {
	mu sync.Mutex

	// BaseURL prefixes URLs returned by PublicURL.
	BaseURL string
	// Objects holds the stored payloads keyed by path.
	Objects map[string]*objectstore.Object

	// UploadError, if set, is returned by Upload without storing anything.
	UploadError error
	// PublicURLError, if set, is returned by PublicURL.
	PublicURLError error
	// RemoveError, if set, is returned by Remove without deleting anything.
	RemoveError error
	// GetError, if set, is returned by Get.
	GetError error

	// UploadCalls tracks the paths passed to Upload.
	UploadCalls []string
	// RemoveCalls tracks the path lists passed to Remove.
	RemoveCalls [][]string
	// PublicURLCalls tracks the number of times PublicURL was called.
	PublicURLCalls int
}

// NewMockStore creates an empty MockStore serving URLs under http://objects.test.
func NewMockStore() *MockStore {
	return &MockStore{
		BaseURL:     "http://objects.test",
		Objects:     make(map[string]*objectstore.Object),
		UploadCalls: make([]string, 0),
		RemoveCalls: make([][]string, 0),
	}
}

// Upload implements objectstore.Store.
func (m *MockStore) Upload(_ context.Context, path string, data []byte, contentType string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.UploadCalls = append(m.UploadCalls, path)

	if m.UploadError != nil {
		return "", m.UploadError
	}
	if err := objectstore.ValidatePath(path); err != nil {
		return "", err
	}
	if _, ok := m.Objects[path]; ok {
		return "", fmt.Errorf("%w: %s", objectstore.ErrObjectExists, path)
	}
	if contentType == "" {
		contentType = objectstore.DefaultContentType
	}

	sum := sha256.Sum256(data)
	m.Objects[path] = &objectstore.Object{
		CreatedAt:   time.Now().UTC(),
		Path:        path,
		ContentType: contentType,
		SHA256:      hex.EncodeToString(sum[:]),
		Data:        append([]byte(nil), data...),
		Size:        int64(len(data)),
	}
	return path, nil
}

// PublicURL implements objectstore.Store.
func (m *MockStore) PublicURL(_ context.Context, path string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.PublicURLCalls++

	if m.PublicURLError != nil {
		return "", m.PublicURLError
	}
	if _, ok := m.Objects[path]; !ok {
		return "", fmt.Errorf("%w: %s", objectstore.ErrObjectNotFound, path)
	}
	return m.BaseURL + "/objects/" + objectstore.EscapePath(path), nil
}

// Remove implements objectstore.Store.
func (m *MockStore) Remove(_ context.Context, paths []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.RemoveCalls = append(m.RemoveCalls, append([]string(nil), paths...))

	if m.RemoveError != nil {
		return m.RemoveError
	}
	for _, p := range paths {
		delete(m.Objects, p)
	}
	return nil
}

// Get implements objectstore.Store.
func (m *MockStore) Get(_ context.Context, path string) (*objectstore.Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.GetError != nil {
		return nil, m.GetError
	}
	obj, ok := m.Objects[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", objectstore.ErrObjectNotFound, path)
	}
	cp := *obj
	return &cp, nil
}

// Has reports whether an object is stored at path.
func (m *MockStore) Has(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.Objects[path]
	return ok
}

// Len returns the number of stored objects.
func (m *MockStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Objects)
}

// Ensure MockStore implements objectstore.Store.
var _ objectstore.Store = (*MockStore)(nil)
