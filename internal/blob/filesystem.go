package blob

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"docvault/internal/crypto"
)

// FileSystemStore is a filesystem-based implementation of the Store
// interface. Keys map directly to paths under the root:
//
//	<root>/
//	  content/
//	    <documentID>     (encrypted content)
//	  quarantine/
//	    <documentID>     (infected files, never servable)
//	  previews/
//	    <documentID>.png
type FileSystemStore struct {
	root string
}

var _ Store = (*FileSystemStore)(nil)

// NewFileSystemStore creates a filesystem store rooted at the given path.
func NewFileSystemStore(root string) (*FileSystemStore, error) {
	for _, dir := range []string{"content", "quarantine", "previews"} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0755); err != nil {
			return nil, fmt.Errorf("failed to create blob directory: %w", err)
		}
	}
	return &FileSystemStore{root: root}, nil
}

// path maps a key to a filesystem path, rejecting keys that would escape
// the root.
func (s *FileSystemStore) path(key string) (string, error) {
	clean := filepath.Clean(key)
	if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("invalid blob key: %q", key)
	}
	return filepath.Join(s.root, clean), nil
}

func (s *FileSystemStore) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	destPath, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("failed to create blob directory: %w", err)
	}
	return writeFile(destPath, r, size)
}

func (s *FileSystemStore) Get(ctx context.Context, key string, w io.Writer) error {
	srcPath, err := s.path(key)
	if err != nil {
		return err
	}

	f, err := os.Open(srcPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return fmt.Errorf("failed to open blob: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to read blob: %w", err)
	}
	return nil
}

func (s *FileSystemStore) Delete(ctx context.Context, key string) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	return nil
}

func (s *FileSystemStore) Move(ctx context.Context, fromKey, toKey string) error {
	fromPath, err := s.path(fromKey)
	if err != nil {
		return err
	}
	toPath, err := s.path(toKey)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(toPath), 0755); err != nil {
		return fmt.Errorf("failed to create blob directory: %w", err)
	}
	if err := os.Rename(fromPath, toPath); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, fromKey)
		}
		return fmt.Errorf("failed to move blob: %w", err)
	}
	return nil
}

// SecureDelete overwrites the file before removing it.
func (s *FileSystemStore) SecureDelete(ctx context.Context, key string) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	return crypto.SecureDelete(path)
}

// writeFile writes data from r to the specified path using atomic write (temp file + rename).
func writeFile(destPath string, r io.Reader, expectedSize int64) error {
	// Create temp file in the same directory to ensure atomic rename works
	dir := filepath.Dir(destPath)
	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	// Clean up temp file on failure
	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if written != expectedSize {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", expectedSize, written)
	}

	// Atomic rename
	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}
