package model

import "time"

// Document is the metadata record for one stored case document. The content
// itself lives in the blob store under StorageKey, encrypted; Checksum is the
// SHA-256 of the plaintext, computed before encryption, and must match on
// every successful decrypt.
type Document struct {
	ID          string
	Title       string
	Description string
	MediaType   string
	Size        int64

	// StorageKey is an opaque reference into the blob store. For quarantined
	// documents it refers to the quarantine namespace and is not servable.
	StorageKey string

	// Checksum is the hex SHA-256 of the plaintext content.
	Checksum string

	Classification   Classification
	EncryptionKeyRef string

	// VersionNumber starts at 1; ParentDocumentID links version chains.
	VersionNumber    int
	ParentDocumentID string

	OwnerID     string
	Quarantined bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// QuarantineEntry is one immutable row in the quarantine log, written when a
// positive scan verdict moves a file out of the normal storage path.
type QuarantineEntry struct {
	ID         string
	DocumentID string

	// OriginalPath is where the infected bytes sat when the scan caught
	// them; they never reach the servable content namespace.
	OriginalPath      string
	QuarantineKey     string
	SignatureName     string
	QuarantinedAt     time.Time
	RetainUntil       time.Time
	SecurelyDeleted   bool
	SecurelyDeletedAt *time.Time
}
