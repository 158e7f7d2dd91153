// Package blob stores encrypted document content. Keys are opaque slash
// separated paths; the pipeline keeps servable content under content/ and
// infected files under quarantine/.
package blob

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned when a key does not exist in the store.
var ErrNotFound = errors.New("blob not found")

// Store is the content persistence boundary. Implementations must be safe
// for concurrent use.
type Store interface {
	// Put stores the reader's content under key. size is the expected
	// number of bytes; a mismatch is an error.
	Put(ctx context.Context, key string, r io.Reader, size int64) error

	// Get streams the content stored under key to w.
	Get(ctx context.Context, key string, w io.Writer) error

	// Delete removes the content under key. Deleting an absent key is not
	// an error.
	Delete(ctx context.Context, key string) error

	// Move atomically relocates content from one key to another. Used to
	// take infected files out of the servable namespace.
	Move(ctx context.Context, fromKey, toKey string) error

	// SecureDelete removes the content under key, overwriting it in place
	// first where the backing medium allows. Backends that cannot
	// overwrite degrade to a plain delete.
	SecureDelete(ctx context.Context, key string) error
}

// ContentKey returns the servable storage key for a document.
func ContentKey(documentID string) string {
	return "content/" + documentID
}

// QuarantineKey returns the quarantine storage key for a document.
func QuarantineKey(documentID string) string {
	return "quarantine/" + documentID
}

// PreviewKey returns the storage key for a document's rendered preview.
func PreviewKey(documentID string) string {
	return "previews/" + documentID + ".png"
}

// ThumbnailKey returns the storage key for a document's thumbnail.
func ThumbnailKey(documentID string) string {
	return "previews/" + documentID + "-thumb.png"
}
