// Package storage defines the uniform interface over physical blob storage.
// Two implementations exist, a rooted local filesystem and an S3-compatible
// object store; exactly one is constructed at startup from configuration and
// there is no per-call fallback between them.
package storage

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Get when no object exists at the given path.
var ErrNotFound = errors.New("object not found")

// PutResult describes where a stored object ended up.
type PutResult struct {
	// Path is the backend-relative object path the blob was stored under
	Path string `json:"path"`
	// URL is the externally reachable address of the blob
	URL string `json:"url"`
}

// Backend is the uniform contract every storage implementation satisfies.
// Paths always use forward slashes regardless of the underlying medium.
type Backend interface {
	// Put stores data under path. contentType and metadata are advisory;
	// backends without native object metadata ignore them.
	Put(ctx context.Context, path string, data []byte, contentType string, metadata map[string]string) (*PutResult, error)
	// Get returns the object bytes, or ErrNotFound when absent.
	Get(ctx context.Context, path string) ([]byte, error)
	// Delete removes the object. It reports true when an object was
	// actually removed and (false, nil) when nothing existed at path.
	Delete(ctx context.Context, path string) (bool, error)
	// Exists reports whether an object is present at path.
	Exists(ctx context.Context, path string) (bool, error)
	// List returns object paths under prefix. pattern, when non-empty,
	// is matched against each object's base name (shell glob syntax).
	List(ctx context.Context, prefix, pattern string) ([]string, error)
}

// StorageError wraps a backend failure with the operation and path that
// produced it. Pipeline callers treat it as fatal: nothing is persisted past
// a failed Put.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
