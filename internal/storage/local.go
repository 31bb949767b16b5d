package storage

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// LocalBackend stores blobs under a single uploads directory on the local
// filesystem. Directory creation is idempotent and race-tolerant, writes are
// atomic (temp file, fsync, rename), and any path that would escape the root
// is refused.
type LocalBackend struct {
	root    string
	baseURL string
}

// NewLocalBackend creates the uploads root if missing and returns a backend
// rooted there. baseURL is prepended to object paths to form public URLs.
func NewLocalBackend(uploadDir, baseURL string) (*LocalBackend, error) {
	root, err := filepath.Abs(uploadDir)
	if err != nil {
		return nil, &StorageError{Op: "init", Path: uploadDir, Err: err}
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, &StorageError{Op: "init", Path: root, Err: err}
	}
	return &LocalBackend{
		root:    root,
		baseURL: strings.TrimRight(baseURL, "/"),
	}, nil
}

// resolve maps an object path to an absolute filesystem path, refusing
// anything that would land outside the uploads root.
func (b *LocalBackend) resolve(objectPath string) (string, error) {
	cleaned := path.Clean(objectPath)
	if cleaned == "." || cleaned == ".." || path.IsAbs(cleaned) || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("path escapes storage root: %s", objectPath)
	}
	return filepath.Join(b.root, filepath.FromSlash(cleaned)), nil
}

// Put writes data atomically: temp file in the target directory, fsync, then
// rename. contentType and metadata have no filesystem representation and are
// ignored; the metadata sidecar carries them instead.
func (b *LocalBackend) Put(ctx context.Context, objectPath string, data []byte, contentType string, metadata map[string]string) (*PutResult, error) {
	full, err := b.resolve(objectPath)
	if err != nil {
		return nil, &StorageError{Op: "put", Path: objectPath, Err: err}
	}

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, &StorageError{Op: "put", Path: objectPath, Err: err}
	}

	tmp := full + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return nil, &StorageError{Op: "put", Path: objectPath, Err: err}
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return nil, &StorageError{Op: "put", Path: objectPath, Err: err}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return nil, &StorageError{Op: "put", Path: objectPath, Err: err}
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return nil, &StorageError{Op: "put", Path: objectPath, Err: err}
	}
	if err := os.Rename(tmp, full); err != nil {
		os.Remove(tmp)
		return nil, &StorageError{Op: "put", Path: objectPath, Err: err}
	}

	return &PutResult{
		Path: objectPath,
		URL:  b.baseURL + "/" + objectPath,
	}, nil
}

// Get reads the object bytes, mapping a missing file to ErrNotFound.
func (b *LocalBackend) Get(ctx context.Context, objectPath string) ([]byte, error) {
	full, err := b.resolve(objectPath)
	if err != nil {
		return nil, &StorageError{Op: "get", Path: objectPath, Err: err}
	}
	data, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, &StorageError{Op: "get", Path: objectPath, Err: err}
	}
	return data, nil
}

// Delete removes the object; an already-absent file is not an error.
func (b *LocalBackend) Delete(ctx context.Context, objectPath string) (bool, error) {
	full, err := b.resolve(objectPath)
	if err != nil {
		return false, &StorageError{Op: "delete", Path: objectPath, Err: err}
	}
	if err := os.Remove(full); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, &StorageError{Op: "delete", Path: objectPath, Err: err}
	}
	return true, nil
}

// Exists reports whether a regular file is present at the object path.
func (b *LocalBackend) Exists(ctx context.Context, objectPath string) (bool, error) {
	full, err := b.resolve(objectPath)
	if err != nil {
		return false, &StorageError{Op: "exists", Path: objectPath, Err: err}
	}
	info, err := os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, &StorageError{Op: "exists", Path: objectPath, Err: err}
	}
	return info.Mode().IsRegular(), nil
}

// List walks the tree under prefix and returns matching object paths. An
// empty prefix lists the whole root. In-flight temp files are skipped.
func (b *LocalBackend) List(ctx context.Context, prefix, pattern string) ([]string, error) {
	start := b.root
	if prefix != "" {
		var err error
		start, err = b.resolve(prefix)
		if err != nil {
			return nil, &StorageError{Op: "list", Path: prefix, Err: err}
		}
	}

	if _, err := os.Stat(start); os.IsNotExist(err) {
		return nil, nil
	}

	var result []string
	walkErr := filepath.WalkDir(start, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasSuffix(p, ".tmp") {
			return nil
		}
		rel, err := filepath.Rel(b.root, p)
		if err != nil {
			return err
		}
		objectPath := filepath.ToSlash(rel)
		if pattern != "" {
			matched, err := path.Match(pattern, path.Base(objectPath))
			if err != nil {
				return err
			}
			if !matched {
				return nil
			}
		}
		result = append(result, objectPath)
		return nil
	})
	if walkErr != nil {
		return nil, &StorageError{Op: "list", Path: prefix, Err: walkErr}
	}
	return result, nil
}
