// Package store persists the pipeline's metadata: documents, processing
// jobs, permission overrides, the quarantine log, and the access history.
package store

import (
	"context"
	"errors"
	"time"

	"docvault/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrJobInFlight is returned when a second active job is created for a
// document that already has one. At most one job per document may be
// in flight.
var ErrJobInFlight = errors.New("document already has an active processing job")

// Store is the metadata persistence boundary. All methods are safe for
// concurrent use.
type Store interface {
	// Document operations.

	CreateDocument(ctx context.Context, doc *model.Document) error
	GetDocument(ctx context.Context, id string) (*model.Document, error)
	UpdateDocument(ctx context.Context, doc *model.Document) error

	// ListDocuments returns all documents ordered by creation time. Used
	// by the CLI and by master key rotation.
	ListDocuments(ctx context.Context) ([]*model.Document, error)

	// LatestVersionNumber returns the highest version number among the
	// document and its version chain descendants, 0 when id is unknown.
	LatestVersionNumber(ctx context.Context, id string) (int, error)

	// Job operations. Jobs are never deleted; terminal jobs are retained
	// for audit.

	// CreateJob persists a new job. Returns ErrJobInFlight when the
	// document already has a non-terminal job.
	CreateJob(ctx context.Context, job *model.ProcessingJob) error
	UpdateJob(ctx context.Context, job *model.ProcessingJob) error
	GetJob(ctx context.Context, id string) (*model.ProcessingJob, error)
	ActiveJobForDocument(ctx context.Context, documentID string) (*model.ProcessingJob, error)

	// Permission overrides and access history (consumed by the access
	// engine).

	PermissionsForDocument(ctx context.Context, documentID string) ([]model.DocumentPermission, error)
	UpsertPermission(ctx context.Context, perm model.DocumentPermission) error
	DeletePermission(ctx context.Context, documentID, userID, role string) error
	HasRecentAccess(ctx context.Context, documentID, userID string, since time.Time) (bool, error)
	RecordAccess(ctx context.Context, documentID, userID, action string, at time.Time) error

	// Quarantine log. Entries are immutable once written except for the
	// secure-deletion marker set by the retention sweep.

	CreateQuarantineEntry(ctx context.Context, entry *model.QuarantineEntry) error
	ListQuarantineEntries(ctx context.Context) ([]*model.QuarantineEntry, error)
	MarkQuarantineSecurelyDeleted(ctx context.Context, id string, at time.Time) error

	Close() error
}
