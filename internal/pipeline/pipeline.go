// Package pipeline orchestrates document processing: virus scanning, DLP
// classification, encryption, OCR, preview rendering, and search indexing.
// Each document moves through the stages linearly; security stages fail
// closed, enrichment stages degrade gracefully.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"docvault/internal/audit"
	"docvault/internal/blob"
	"docvault/internal/crypto"
	"docvault/internal/dlp"
	"docvault/internal/extract"
	"docvault/internal/index"
	"docvault/internal/model"
	"docvault/internal/preview"
	"docvault/internal/scanner"
	"docvault/internal/store"
)

// Logger provides structured logging for the pipeline.
// The args follow slog conventions: alternating key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Clock abstracts time retrieval so stage logic is deterministic in tests.
type Clock interface {
	Now() time.Time
}

// RealClock returns the actual current time.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// IDGenerator abstracts unique ID generation so tests are deterministic.
type IDGenerator interface {
	New() string
}

// UUIDGenerator produces random UUIDs.
type UUIDGenerator struct{}

func (UUIDGenerator) New() string { return uuid.New().String() }

// Upload describes one file handed to the pipeline. Path is a plaintext
// temp file owned by the pipeline from this point on; it is securely
// deleted once processing ends, successful or not.
type Upload struct {
	Path string

	// DocumentID, when set, is the caller's idempotent identifier.
	// Resubmitting under the same ID reprocesses that document in place;
	// a submission while another job for the ID is in flight is rejected
	// with store.ErrJobInFlight.
	DocumentID string

	Title            string
	Description      string
	MediaType        string
	OwnerID          string
	Classification   model.Classification
	ParentDocumentID string

	// SHA256, when set, is the caller's expected checksum of the uploaded
	// bytes. A mismatch rejects the upload before any stage runs.
	SHA256 string
}

// Deps are the pipeline's collaborators. OCR, Renderer, and Retry are
// optional; their stages degrade to skipped when absent.
type Deps struct {
	Store     store.Store
	Blobs     blob.Store
	Scanner   scanner.Scanner
	Extractor extract.Extractor
	OCR       extract.OCREngine
	Renderer  preview.Renderer
	Indexer   index.Indexer
	Retry     *index.RetryQueue
	Master    *crypto.MasterKey
	Inspector *dlp.Inspector
	Audit     audit.Sink
	Logger    Logger
	Clock     Clock
	IDs       IDGenerator
}

// Options tune retry and retention behavior. Zero values take defaults.
type Options struct {
	MaxRetries          int           // transient-failure retries per stage, default 3
	StageTimeout        time.Duration // per-stage deadline, default 2m
	RetryDelay          time.Duration // base backoff delay, default 1s
	QuarantineRetention time.Duration // hold before secure delete, default 30d
	MaxUploadSize       int64         // upload size ceiling in bytes, default 100 MiB
}

func (o Options) withDefaults() Options {
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.MaxUploadSize <= 0 {
		o.MaxUploadSize = 100 << 20
	}
	if o.StageTimeout <= 0 {
		o.StageTimeout = 2 * time.Minute
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = time.Second
	}
	if o.QuarantineRetention <= 0 {
		o.QuarantineRetention = 30 * 24 * time.Hour
	}
	return o
}

// Pipeline runs documents through the processing stages. Safe for
// concurrent use; work on the same document is serialized.
type Pipeline struct {
	deps  Deps
	opts  Options
	locks *keyedMutex
}

// New creates a Pipeline.
func New(deps Deps, opts Options) *Pipeline {
	if deps.Inspector == nil {
		deps.Inspector = dlp.NewInspector()
	}
	return &Pipeline{
		deps:  deps,
		opts:  opts.withDefaults(),
		locks: newKeyedMutex(),
	}
}

// stageProgress is the job progress reached when each stage completes.
var stageProgress = map[model.Stage]int{
	model.StageUpload:         10,
	model.StageVirusScan:      25,
	model.StageClassification: 40,
	model.StageEncryption:     55,
	model.StageOCR:            70,
	model.StagePreview:        80,
	model.StageIndexing:       90,
	model.StageComplete:       100,
}

// Process runs one upload through every stage. On success the returned job
// is completed and the document's encrypted content is in the blob store.
// On failure the job is terminal with the failure recorded; the document
// record survives for audit either way.
func (p *Pipeline) Process(ctx context.Context, upload Upload) (*model.Document, *model.ProcessingJob, error) {
	if err := p.validateUpload(upload); err != nil {
		return nil, nil, err
	}

	docID := upload.DocumentID
	if docID == "" {
		docID = p.deps.IDs.New()
	}

	// Serialize per document before any record exists: a second submission
	// under the same identifier is rejected, not queued. The store's
	// active-job constraint enforces the same rule across processes.
	unlock, ok := p.locks.tryLock(docID)
	if !ok {
		return nil, nil, fmt.Errorf("%w: document %s", store.ErrJobInFlight, docID)
	}
	defer unlock()

	doc, job, err := p.admit(ctx, upload, docID)
	if err != nil {
		return nil, nil, err
	}
	defer p.cleanupUpload(upload.Path, doc.ID)

	run := &jobRun{p: p, doc: doc, job: job, upload: upload}
	if err := run.execute(ctx); err != nil {
		return doc, job, err
	}
	return doc, job, nil
}

// allowedMediaType is the declared-type allow-list for uploads.
func allowedMediaType(mt string) bool {
	return strings.HasPrefix(mt, "text/") ||
		strings.HasPrefix(mt, "image/") ||
		mt == "application/pdf" ||
		preview.IsOffice(mt)
}

func (p *Pipeline) validateUpload(upload Upload) error {
	switch {
	case upload.Title == "":
		return fmt.Errorf("%w: title is required", ErrInvalidInput)
	case upload.MediaType == "":
		return fmt.Errorf("%w: media type is required", ErrInvalidInput)
	case upload.OwnerID == "":
		return fmt.Errorf("%w: owner is required", ErrInvalidInput)
	case !upload.Classification.Valid():
		return fmt.Errorf("%w: unknown classification", ErrInvalidInput)
	case !allowedMediaType(upload.MediaType):
		return fmt.Errorf("%w: media type %s is not accepted", ErrInvalidInput, upload.MediaType)
	}

	info, err := os.Stat(upload.Path)
	if err != nil {
		return fmt.Errorf("%w: upload file not readable: %v", ErrInvalidInput, err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("%w: upload is empty", ErrInvalidInput)
	}
	if info.Size() > p.opts.MaxUploadSize {
		return fmt.Errorf("%w: upload of %d bytes exceeds the %d byte limit",
			ErrInvalidInput, info.Size(), p.opts.MaxUploadSize)
	}

	if upload.SHA256 != "" {
		f, err := os.Open(upload.Path)
		if err != nil {
			return fmt.Errorf("%w: upload file not readable: %v", ErrInvalidInput, err)
		}
		defer f.Close()
		sums, err := crypto.CalculateChecksums(f)
		if err != nil {
			return fmt.Errorf("checksumming upload: %w", err)
		}
		if !strings.EqualFold(sums.SHA256, upload.SHA256) {
			return fmt.Errorf("%w: upload checksum does not match the received bytes", ErrInvalidInput)
		}
	}
	return nil
}

// admit creates or reuses the document record and creates the job. A
// caller-supplied identifier naming an existing document reprocesses it in
// place; when the upload is a new version of an existing document, the
// version number continues the chain.
func (p *Pipeline) admit(ctx context.Context, upload Upload, docID string) (*model.Document, *model.ProcessingJob, error) {
	now := p.deps.Clock.Now()
	info, err := os.Stat(upload.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	var doc *model.Document
	if upload.DocumentID != "" {
		existing, err := p.deps.Store.GetDocument(ctx, docID)
		switch {
		case err == nil:
			if existing.Quarantined {
				return nil, nil, fmt.Errorf("%w: document %s is quarantined", ErrUnavailable, docID)
			}
			existing.Title = upload.Title
			existing.Description = upload.Description
			existing.MediaType = upload.MediaType
			existing.Size = info.Size()
			existing.Classification = upload.Classification
			existing.UpdatedAt = now
			if err := p.deps.Store.UpdateDocument(ctx, existing); err != nil {
				return nil, nil, fmt.Errorf("updating document: %w", err)
			}
			doc = existing
		case errors.Is(err, store.ErrNotFound):
			// First submission under this identifier.
		default:
			return nil, nil, fmt.Errorf("looking up document: %w", err)
		}
	}

	if doc == nil {
		doc = &model.Document{
			ID:             docID,
			Title:          upload.Title,
			Description:    upload.Description,
			MediaType:      upload.MediaType,
			Size:           info.Size(),
			Classification: upload.Classification,
			VersionNumber:  1,
			OwnerID:        upload.OwnerID,
			CreatedAt:      now,
			UpdatedAt:      now,
		}

		if upload.ParentDocumentID != "" {
			if _, err := p.deps.Store.GetDocument(ctx, upload.ParentDocumentID); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return nil, nil, fmt.Errorf("%w: parent document %s not found", ErrInvalidInput, upload.ParentDocumentID)
				}
				return nil, nil, fmt.Errorf("looking up parent document: %w", err)
			}
			latest, err := p.deps.Store.LatestVersionNumber(ctx, upload.ParentDocumentID)
			if err != nil {
				return nil, nil, fmt.Errorf("determining version number: %w", err)
			}
			doc.ParentDocumentID = upload.ParentDocumentID
			doc.VersionNumber = latest + 1
		}

		if err := p.deps.Store.CreateDocument(ctx, doc); err != nil {
			return nil, nil, fmt.Errorf("creating document: %w", err)
		}
	}

	job := &model.ProcessingJob{
		ID:         p.deps.IDs.New(),
		DocumentID: doc.ID,
		Stage:      model.StageUpload,
		Status:     model.JobPending,
		MaxRetries: p.opts.MaxRetries,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := p.deps.Store.CreateJob(ctx, job); err != nil {
		return nil, nil, fmt.Errorf("creating processing job: %w", err)
	}

	p.deps.Logger.Info("document admitted",
		"document_id", doc.ID, "job_id", job.ID,
		"media_type", doc.MediaType, "version", doc.VersionNumber)
	return doc, job, nil
}

// cleanupUpload securely deletes the plaintext temp file.
func (p *Pipeline) cleanupUpload(path, documentID string) {
	if err := crypto.SecureDelete(path); err != nil {
		p.deps.Logger.Error("failed to securely delete upload temp file",
			"document_id", documentID, "path", path, "error", err)
	}
}

// GetJob returns a processing job by ID for status reporting.
func (p *Pipeline) GetJob(ctx context.Context, jobID string) (*model.ProcessingJob, error) {
	return p.deps.Store.GetJob(ctx, jobID)
}
