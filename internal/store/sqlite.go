package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"docvault/internal/model"
	"docvault/internal/store/migrations"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLite implements Store over a SQLite database.
type SQLite struct {
	db *sql.DB
}

var _ Store = (*SQLite)(nil)

// NewSQLite opens (and migrates) a SQLite store. path can be a file path or
// ":memory:".
func NewSQLite(path string) (*SQLite, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.Up(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating store schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// OpenConnection opens and configures a SQLite connection with the PRAGMAs
// the store relies on.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// A single connection keeps :memory: databases coherent and avoids
	// SQLITE_BUSY from concurrent writers.
	db.SetMaxOpenConns(1)

	// Foreign keys default to OFF in SQLite for backward compatibility.
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	return db, nil
}

// Document operations

func (s *SQLite) CreateDocument(ctx context.Context, doc *model.Document) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, title, description, media_type, size, storage_key,
			checksum, classification, encryption_key_ref, version_number,
			parent_document_id, owner_id, quarantined, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.Title, doc.Description, doc.MediaType, doc.Size, doc.StorageKey,
		doc.Checksum, doc.Classification.String(), doc.EncryptionKeyRef, doc.VersionNumber,
		doc.ParentDocumentID, doc.OwnerID, doc.Quarantined, doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting document: %w", err)
	}
	return nil
}

func (s *SQLite) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, description, media_type, size, storage_key, checksum,
			classification, encryption_key_ref, version_number, parent_document_id,
			owner_id, quarantined, created_at, updated_at
		FROM documents WHERE id = ?`, id)
	return scanDocument(row)
}

func (s *SQLite) ListDocuments(ctx context.Context) ([]*model.Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, description, media_type, size, storage_key, checksum,
			classification, encryption_key_ref, version_number, parent_document_id,
			owner_id, quarantined, created_at, updated_at
		FROM documents ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("querying documents: %w", err)
	}
	defer rows.Close()

	var out []*model.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*model.Document, error) {
	var doc model.Document
	var classification string
	err := row.Scan(&doc.ID, &doc.Title, &doc.Description, &doc.MediaType, &doc.Size,
		&doc.StorageKey, &doc.Checksum, &classification, &doc.EncryptionKeyRef,
		&doc.VersionNumber, &doc.ParentDocumentID, &doc.OwnerID, &doc.Quarantined,
		&doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning document: %w", err)
	}
	doc.Classification, err = model.ParseClassification(classification)
	if err != nil {
		return nil, fmt.Errorf("stored document has %w", err)
	}
	return &doc, nil
}

func (s *SQLite) UpdateDocument(ctx context.Context, doc *model.Document) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET title = ?, description = ?, media_type = ?, size = ?,
			storage_key = ?, checksum = ?, classification = ?, encryption_key_ref = ?,
			version_number = ?, parent_document_id = ?, owner_id = ?, quarantined = ?,
			updated_at = ?
		WHERE id = ?`,
		doc.Title, doc.Description, doc.MediaType, doc.Size, doc.StorageKey,
		doc.Checksum, doc.Classification.String(), doc.EncryptionKeyRef,
		doc.VersionNumber, doc.ParentDocumentID, doc.OwnerID, doc.Quarantined,
		doc.UpdatedAt, doc.ID)
	if err != nil {
		return fmt.Errorf("updating document: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update result: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) LatestVersionNumber(ctx context.Context, id string) (int, error) {
	var max sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(version_number) FROM documents WHERE id = ? OR parent_document_id = ?`,
		id, id).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("querying version chain: %w", err)
	}
	return int(max.Int64), nil
}

// Job operations

func (s *SQLite) CreateJob(ctx context.Context, job *model.ProcessingJob) error {
	metadata, err := json.Marshal(job.Metadata)
	if err != nil {
		return fmt.Errorf("encoding job metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO processing_jobs (id, document_id, stage, status, progress,
			retry_count, max_retries, metadata, last_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.DocumentID, job.Stage.String(), string(job.Status), job.Progress,
		job.RetryCount, job.MaxRetries, string(metadata), job.LastError,
		job.CreatedAt, job.UpdatedAt)
	if err != nil {
		// The partial unique index on active jobs enforces the single
		// in-flight job per document.
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrJobInFlight
		}
		return fmt.Errorf("inserting job: %w", err)
	}
	return nil
}

func (s *SQLite) UpdateJob(ctx context.Context, job *model.ProcessingJob) error {
	metadata, err := json.Marshal(job.Metadata)
	if err != nil {
		return fmt.Errorf("encoding job metadata: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE processing_jobs SET stage = ?, status = ?, progress = ?, retry_count = ?,
			max_retries = ?, metadata = ?, last_error = ?, updated_at = ?
		WHERE id = ?`,
		job.Stage.String(), string(job.Status), job.Progress, job.RetryCount,
		job.MaxRetries, string(metadata), job.LastError, job.UpdatedAt, job.ID)
	if err != nil {
		return fmt.Errorf("updating job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update result: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) GetJob(ctx context.Context, id string) (*model.ProcessingJob, error) {
	job, err := s.scanJob(s.db.QueryRowContext(ctx, `
		SELECT id, document_id, stage, status, progress, retry_count, max_retries,
			metadata, last_error, created_at, updated_at
		FROM processing_jobs WHERE id = ?`, id))
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (s *SQLite) ActiveJobForDocument(ctx context.Context, documentID string) (*model.ProcessingJob, error) {
	job, err := s.scanJob(s.db.QueryRowContext(ctx, `
		SELECT id, document_id, stage, status, progress, retry_count, max_retries,
			metadata, last_error, created_at, updated_at
		FROM processing_jobs
		WHERE document_id = ? AND status IN ('pending', 'in_progress')`, documentID))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return job, err
}

func (s *SQLite) scanJob(row *sql.Row) (*model.ProcessingJob, error) {
	var job model.ProcessingJob
	var stage, status, metadata string
	err := row.Scan(&job.ID, &job.DocumentID, &stage, &status, &job.Progress,
		&job.RetryCount, &job.MaxRetries, &metadata, &job.LastError,
		&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning job: %w", err)
	}

	job.Stage, err = model.ParseStage(stage)
	if err != nil {
		return nil, fmt.Errorf("stored job has %w", err)
	}
	job.Status = model.JobStatus(status)
	if err := json.Unmarshal([]byte(metadata), &job.Metadata); err != nil {
		return nil, fmt.Errorf("decoding job metadata: %w", err)
	}
	return &job, nil
}

// Permission overrides and access history

func (s *SQLite) PermissionsForDocument(ctx context.Context, documentID string) ([]model.DocumentPermission, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, user_id, role, permissions, granted_by, granted_at, expires_at
		FROM document_permissions WHERE document_id = ?`, documentID)
	if err != nil {
		return nil, fmt.Errorf("querying permissions: %w", err)
	}
	defer rows.Close()

	var out []model.DocumentPermission
	for rows.Next() {
		var p model.DocumentPermission
		var perms string
		var expires sql.NullTime
		if err := rows.Scan(&p.ID, &p.DocumentID, &p.UserID, &p.Role, &perms,
			&p.GrantedBy, &p.GrantedAt, &expires); err != nil {
			return nil, fmt.Errorf("scanning permission: %w", err)
		}
		if err := json.Unmarshal([]byte(perms), &p.Permissions); err != nil {
			return nil, fmt.Errorf("decoding permission set: %w", err)
		}
		if expires.Valid {
			t := expires.Time
			p.ExpiresAt = &t
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLite) UpsertPermission(ctx context.Context, perm model.DocumentPermission) error {
	perms, err := json.Marshal(perm.Permissions)
	if err != nil {
		return fmt.Errorf("encoding permission set: %w", err)
	}

	var expires any
	if perm.ExpiresAt != nil {
		expires = *perm.ExpiresAt
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO document_permissions (id, document_id, user_id, role, permissions,
			granted_by, granted_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (document_id, user_id, role) DO UPDATE SET
			permissions = excluded.permissions,
			granted_by = excluded.granted_by,
			granted_at = excluded.granted_at,
			expires_at = excluded.expires_at`,
		perm.ID, perm.DocumentID, perm.UserID, perm.Role, string(perms),
		perm.GrantedBy, perm.GrantedAt, expires)
	if err != nil {
		return fmt.Errorf("upserting permission: %w", err)
	}
	return nil
}

func (s *SQLite) DeletePermission(ctx context.Context, documentID, userID, role string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM document_permissions
		WHERE document_id = ? AND user_id = ? AND role = ?`, documentID, userID, role)
	if err != nil {
		return fmt.Errorf("deleting permission: %w", err)
	}
	return nil
}

func (s *SQLite) HasRecentAccess(ctx context.Context, documentID, userID string, since time.Time) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM access_log
		WHERE document_id = ? AND user_id = ? AND accessed_at >= ?`,
		documentID, userID, since).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("querying access history: %w", err)
	}
	return count > 0, nil
}

func (s *SQLite) RecordAccess(ctx context.Context, documentID, userID, action string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO access_log (document_id, user_id, action, accessed_at)
		VALUES (?, ?, ?, ?)`, documentID, userID, action, at)
	if err != nil {
		return fmt.Errorf("recording access: %w", err)
	}
	return nil
}

// Quarantine log

func (s *SQLite) CreateQuarantineEntry(ctx context.Context, entry *model.QuarantineEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO quarantine_log (id, document_id, original_path, quarantine_key,
			signature_name, quarantined_at, retain_until, securely_deleted)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0)`,
		entry.ID, entry.DocumentID, entry.OriginalPath, entry.QuarantineKey,
		entry.SignatureName, entry.QuarantinedAt, entry.RetainUntil)
	if err != nil {
		return fmt.Errorf("inserting quarantine entry: %w", err)
	}
	return nil
}

func (s *SQLite) ListQuarantineEntries(ctx context.Context) ([]*model.QuarantineEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, original_path, quarantine_key, signature_name,
			quarantined_at, retain_until, securely_deleted, securely_deleted_at
		FROM quarantine_log ORDER BY quarantined_at`)
	if err != nil {
		return nil, fmt.Errorf("querying quarantine log: %w", err)
	}
	defer rows.Close()

	var out []*model.QuarantineEntry
	for rows.Next() {
		var e model.QuarantineEntry
		var deletedAt sql.NullTime
		if err := rows.Scan(&e.ID, &e.DocumentID, &e.OriginalPath, &e.QuarantineKey,
			&e.SignatureName, &e.QuarantinedAt, &e.RetainUntil, &e.SecurelyDeleted,
			&deletedAt); err != nil {
			return nil, fmt.Errorf("scanning quarantine entry: %w", err)
		}
		if deletedAt.Valid {
			t := deletedAt.Time
			e.SecurelyDeletedAt = &t
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (s *SQLite) MarkQuarantineSecurelyDeleted(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE quarantine_log SET securely_deleted = 1, securely_deleted_at = ?
		WHERE id = ?`, at, id)
	if err != nil {
		return fmt.Errorf("marking quarantine entry deleted: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update result: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
