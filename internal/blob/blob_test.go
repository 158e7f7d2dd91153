package blob

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"docvault/internal/config"
)

// stores returns each locally runnable Store implementation. The S3 store
// needs a live bucket and is exercised through the same interface in
// deployment.
func stores(t *testing.T) map[string]Store {
	t.Helper()

	fs, err := NewFileSystemStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileSystemStore() error = %v", err)
	}

	return map[string]Store{
		"memory":     NewMemoryStore(),
		"filesystem": fs,
	}
}

func TestStore_PutGet(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			content := []byte("encrypted document bytes")

			err := s.Put(ctx, ContentKey("doc-1"), bytes.NewReader(content), int64(len(content)))
			if err != nil {
				t.Fatalf("Put() error = %v", err)
			}

			var buf bytes.Buffer
			if err := s.Get(ctx, ContentKey("doc-1"), &buf); err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if !bytes.Equal(buf.Bytes(), content) {
				t.Errorf("Get() = %q, want %q", buf.Bytes(), content)
			}

			if err := s.Get(ctx, ContentKey("missing"), &buf); !errors.Is(err, ErrNotFound) {
				t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestStore_PutSizeMismatch(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			err := s.Put(context.Background(), "content/doc-1", strings.NewReader("short"), 100)
			if err == nil {
				t.Fatal("Put() expected size mismatch error")
			}
		})
	}
}

func TestStore_Delete(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			content := []byte("data")

			if err := s.Put(ctx, "content/doc-1", bytes.NewReader(content), 4); err != nil {
				t.Fatalf("Put() error = %v", err)
			}
			if err := s.Delete(ctx, "content/doc-1"); err != nil {
				t.Fatalf("Delete() error = %v", err)
			}

			var buf bytes.Buffer
			if err := s.Get(ctx, "content/doc-1", &buf); !errors.Is(err, ErrNotFound) {
				t.Errorf("Get() after delete error = %v, want ErrNotFound", err)
			}

			// Deleting an absent key is not an error.
			if err := s.Delete(ctx, "content/doc-1"); err != nil {
				t.Errorf("Delete(absent) error = %v", err)
			}
		})
	}
}

func TestStore_Move(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			content := []byte("infected payload")

			from := ContentKey("doc-1")
			to := QuarantineKey("doc-1")

			if err := s.Put(ctx, from, bytes.NewReader(content), int64(len(content))); err != nil {
				t.Fatalf("Put() error = %v", err)
			}
			if err := s.Move(ctx, from, to); err != nil {
				t.Fatalf("Move() error = %v", err)
			}

			var buf bytes.Buffer
			if err := s.Get(ctx, from, &buf); !errors.Is(err, ErrNotFound) {
				t.Errorf("Get(from) after move error = %v, want ErrNotFound", err)
			}
			if err := s.Get(ctx, to, &buf); err != nil {
				t.Fatalf("Get(to) after move error = %v", err)
			}
			if !bytes.Equal(buf.Bytes(), content) {
				t.Errorf("moved content = %q, want %q", buf.Bytes(), content)
			}

			if err := s.Move(ctx, "content/missing", "quarantine/missing"); !errors.Is(err, ErrNotFound) {
				t.Errorf("Move(missing) error = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestStore_SecureDelete(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			content := []byte("sensitive bytes scheduled for destruction")

			if err := s.Put(ctx, "quarantine/doc-1", bytes.NewReader(content), int64(len(content))); err != nil {
				t.Fatalf("Put() error = %v", err)
			}
			if err := s.SecureDelete(ctx, "quarantine/doc-1"); err != nil {
				t.Fatalf("SecureDelete() error = %v", err)
			}

			var buf bytes.Buffer
			if err := s.Get(ctx, "quarantine/doc-1", &buf); !errors.Is(err, ErrNotFound) {
				t.Errorf("Get() after secure delete error = %v, want ErrNotFound", err)
			}

			// Absent keys are fine.
			if err := s.SecureDelete(ctx, "quarantine/doc-1"); err != nil {
				t.Errorf("SecureDelete(absent) error = %v", err)
			}
		})
	}
}

func TestFileSystemStore_RejectsEscapingKeys(t *testing.T) {
	fs, err := NewFileSystemStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileSystemStore() error = %v", err)
	}

	for _, key := range []string{"../outside", "/etc/passwd", "content/../../up"} {
		if err := fs.Put(context.Background(), key, strings.NewReader("x"), 1); err == nil {
			t.Errorf("Put(%q) expected error", key)
		}
	}
}

func TestFileSystemStore_LayoutOnDisk(t *testing.T) {
	root := t.TempDir()
	fs, err := NewFileSystemStore(root)
	if err != nil {
		t.Fatalf("NewFileSystemStore() error = %v", err)
	}

	content := []byte("bytes")
	if err := fs.Put(context.Background(), ContentKey("doc-1"), bytes.NewReader(content), 5); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	if _, err := os.Stat(filepath.Join(root, "content", "doc-1")); err != nil {
		t.Errorf("expected blob at content/doc-1: %v", err)
	}
}

func TestNewStoreFromConfig(t *testing.T) {
	ctx := context.Background()

	t.Run("memory", func(t *testing.T) {
		s, err := NewStoreFromConfig(ctx, config.BlobStoreConfig{Type: "memory"})
		if err != nil {
			t.Fatalf("NewStoreFromConfig() error = %v", err)
		}
		if _, ok := s.(*MemoryStore); !ok {
			t.Errorf("NewStoreFromConfig() = %T, want *MemoryStore", s)
		}
	})

	t.Run("filesystem", func(t *testing.T) {
		s, err := NewStoreFromConfig(ctx, config.BlobStoreConfig{Type: "filesystem", FSRoot: t.TempDir()})
		if err != nil {
			t.Fatalf("NewStoreFromConfig() error = %v", err)
		}
		if _, ok := s.(*FileSystemStore); !ok {
			t.Errorf("NewStoreFromConfig() = %T, want *FileSystemStore", s)
		}
	})

	t.Run("filesystem requires fs_root", func(t *testing.T) {
		if _, err := NewStoreFromConfig(ctx, config.BlobStoreConfig{Type: "filesystem"}); err == nil {
			t.Fatal("NewStoreFromConfig() expected error for missing fs_root")
		}
	})

	t.Run("s3 requires bucket", func(t *testing.T) {
		if _, err := NewStoreFromConfig(ctx, config.BlobStoreConfig{Type: "s3"}); err == nil {
			t.Fatal("NewStoreFromConfig() expected error for missing bucket")
		}
	})

	t.Run("unknown type", func(t *testing.T) {
		if _, err := NewStoreFromConfig(ctx, config.BlobStoreConfig{Type: "tape"}); err == nil {
			t.Fatal("NewStoreFromConfig() expected error for unknown type")
		}
	})
}
