// Package app is the application layer between the CLI and the core
// packages. It constructs every dependency from config and exposes
// high-level operations over raw string arguments.
package app

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"docvault/internal/access"
	"docvault/internal/audit"
	"docvault/internal/blob"
	"docvault/internal/config"
	"docvault/internal/crypto"
	"docvault/internal/dlp"
	"docvault/internal/extract"
	"docvault/internal/index"
	"docvault/internal/model"
	"docvault/internal/pipeline"
	"docvault/internal/preview"
	"docvault/internal/scanner"
	"docvault/internal/store"
)

// Retry queue tuning for the background index flusher.
const (
	indexRetryInterval = 30 * time.Second
	indexRetryMaxDelay = 10 * time.Minute
)

// App wires the processing pipeline and the access engine from config.
// The caller must call Close when done.
type App struct {
	cfg      *config.Config
	store    store.Store
	blobs    blob.Store
	master   *crypto.MasterKey
	indexer  *index.MemoryIndexer
	retry    *index.RetryQueue
	pipeline *pipeline.Pipeline
	engine   *access.Engine
	logFile  *os.File
}

// NewApp creates a fully wired App from the given config. operation
// identifies the CLI command being run (e.g. "Process", "Retrieve") and
// tags every log line the invocation writes.
func NewApp(ctx context.Context, cfg *config.Config, operation string) (*App, error) {
	opID := fmt.Sprintf("%s-%s", time.Now().UTC().Format("20060102T150405Z"), operation)
	logger, logFile, err := newLogger(cfg.LogDir, opID)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	log := &slogAdapter{l: logger}

	st, err := store.NewStoreFromConfig(cfg.Store)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("creating store: %w", err)
	}

	blobs, err := blob.NewStoreFromConfig(ctx, cfg.BlobStore)
	if err != nil {
		st.Close()
		logFile.Close()
		return nil, fmt.Errorf("creating blob store: %w", err)
	}

	master, err := crypto.LoadOrGenerateMasterKey(cfg.Encryption.MasterKeyPath)
	if err != nil {
		st.Close()
		logFile.Close()
		return nil, fmt.Errorf("loading master key: %w", err)
	}

	scn, err := newScanner(cfg.Scanner)
	if err != nil {
		st.Close()
		logFile.Close()
		return nil, err
	}

	extractTimeout := 60 * time.Second
	var ocr extract.OCREngine
	if cfg.Extract.OCRBinary != "" {
		ocr = extract.NewExecOCREngine(cfg.Extract.OCRBinary, extractTimeout)
	}
	extractor := extract.NewService(
		extract.NewExecPDFConverter(cfg.Extract.PDFToTextBinary, extractTimeout), ocr)

	var renderer preview.Renderer
	if cfg.Preview.ConvertBinary != "" {
		renderer = preview.NewExecRenderer(cfg.Preview.ConvertBinary, cfg.Preview.OfficeBinary, 0, 0)
	}

	indexer := index.NewMemoryIndexer()
	retry := index.NewRetryQueue(indexer, log, indexRetryInterval, indexRetryMaxDelay)
	sink := audit.NewLogSink(log)

	pl := pipeline.New(pipeline.Deps{
		Store:     st,
		Blobs:     blobs,
		Scanner:   scn,
		Extractor: extractor,
		OCR:       ocr,
		Renderer:  renderer,
		Indexer:   indexer,
		Retry:     retry,
		Master:    master,
		Inspector: dlp.NewInspector(),
		Audit:     sink,
		Logger:    log,
		Clock:     pipeline.RealClock{},
		IDs:       pipeline.UUIDGenerator{},
	}, pipeline.Options{
		MaxRetries:          cfg.Pipeline.MaxRetries,
		StageTimeout:        time.Duration(cfg.Pipeline.StageTimeoutSeconds) * time.Second,
		QuarantineRetention: time.Duration(cfg.Pipeline.QuarantineDays) * 24 * time.Hour,
		MaxUploadSize:       int64(cfg.Pipeline.MaxUploadMB) << 20,
	})

	policies, err := access.NewPolicyTable(access.DefaultPolicies())
	if err != nil {
		st.Close()
		logFile.Close()
		return nil, fmt.Errorf("building policy table: %w", err)
	}
	engine := access.NewEngine(policies, st, sink, pipeline.RealClock{})

	return &App{
		cfg:      cfg,
		store:    st,
		blobs:    blobs,
		master:   master,
		indexer:  indexer,
		retry:    retry,
		pipeline: pl,
		engine:   engine,
		logFile:  logFile,
	}, nil
}

func newScanner(cfg config.ScannerConfig) (scanner.Scanner, error) {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	switch cfg.Type {
	case "stub":
		return scanner.NewStubScanner(), nil
	case "exec", "":
		if cfg.Binary == "" {
			return nil, fmt.Errorf("scanner binary is required for type exec")
		}
		return scanner.NewExecScanner(cfg.Binary, nil, timeout), nil
	default:
		return nil, fmt.Errorf("unknown scanner type: %s", cfg.Type)
	}
}

// Process stages a copy of the upload and runs it through the full
// pipeline. The pipeline securely deletes its input after processing, so
// the caller's original file is left untouched.
func (a *App) Process(ctx context.Context, upload pipeline.Upload) (*model.Document, *model.ProcessingJob, error) {
	staged, err := stageCopy(upload.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("staging upload: %w", err)
	}
	upload.Path = staged
	return a.pipeline.Process(ctx, upload)
}

// stageCopy copies the file at path into a private temp file and returns
// the temp path.
func stageCopy(path string) (string, error) {
	src, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer src.Close()

	dst, err := os.CreateTemp("", "docvault-upload-*")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(dst.Name())
		return "", err
	}
	if err := dst.Close(); err != nil {
		os.Remove(dst.Name())
		return "", err
	}
	return dst.Name(), nil
}

// Retrieve decrypts the document's stored content into w after an access
// check for the given user context.
func (a *App) Retrieve(ctx context.Context, documentID string, actx model.AccessContext, w io.Writer) error {
	doc, err := a.store.GetDocument(ctx, documentID)
	if err != nil {
		return fmt.Errorf("loading document: %w", err)
	}
	if !a.engine.CheckPermission(ctx, doc, actx, model.PermDownload) {
		return fmt.Errorf("download of document %s denied", documentID)
	}
	return a.pipeline.Retrieve(ctx, documentID, w)
}

// GetDocument returns one document's metadata.
func (a *App) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	return a.store.GetDocument(ctx, id)
}

// ListDocuments returns all documents ordered by creation time.
func (a *App) ListDocuments(ctx context.Context) ([]*model.Document, error) {
	return a.store.ListDocuments(ctx)
}

// GetJob returns one processing job.
func (a *App) GetJob(ctx context.Context, id string) (*model.ProcessingJob, error) {
	return a.pipeline.GetJob(ctx, id)
}

// CheckAccess evaluates an access decision for the given document and user
// context.
func (a *App) CheckAccess(ctx context.Context, documentID string, actx model.AccessContext) (model.AccessDecision, error) {
	doc, err := a.store.GetDocument(ctx, documentID)
	if err != nil {
		return model.AccessDecision{}, fmt.Errorf("loading document: %w", err)
	}
	return a.engine.CheckAccess(ctx, doc, actx), nil
}

// GrantPermission creates or replaces a per-document permission override.
func (a *App) GrantPermission(ctx context.Context, perm model.DocumentPermission) error {
	return a.engine.GrantPermission(ctx, perm)
}

// RevokePermission removes a per-document permission override.
func (a *App) RevokePermission(ctx context.Context, documentID, userID, role, revokedBy string) error {
	return a.engine.RevokePermission(ctx, documentID, userID, role, revokedBy)
}

// QuarantineEntries returns the quarantine log.
func (a *App) QuarantineEntries(ctx context.Context) ([]*model.QuarantineEntry, error) {
	return a.store.ListQuarantineEntries(ctx)
}

// SweepQuarantine securely deletes quarantined content past its retention.
// Returns the number of entries swept.
func (a *App) SweepQuarantine(ctx context.Context) (int, error) {
	return a.pipeline.SweepQuarantine(ctx)
}

// Search returns document IDs whose indexed text matches the query.
func (a *App) Search(query string) []string {
	return a.indexer.Search(query)
}

// RotateMasterKey generates a fresh master key, re-wraps every document's
// data key under it, and replaces the key file on disk. The old key file is
// only replaced after every document has been re-wrapped.
func (a *App) RotateMasterKey(ctx context.Context) error {
	nextPath := a.cfg.Encryption.MasterKeyPath + ".next"
	next, err := crypto.LoadOrGenerateMasterKey(nextPath)
	if err != nil {
		return fmt.Errorf("generating next master key: %w", err)
	}
	if err := a.pipeline.RotateMasterKey(ctx, next); err != nil {
		return fmt.Errorf("rotating master key: %w", err)
	}
	if err := os.Rename(nextPath, a.cfg.Encryption.MasterKeyPath); err != nil {
		return fmt.Errorf("replacing master key file: %w", err)
	}
	a.master = next
	return nil
}

// Backup writes a passphrase-protected archive of one document's encrypted
// content and metadata to w.
func (a *App) Backup(ctx context.Context, documentID string, w io.Writer, passphrase string) error {
	doc, err := a.store.GetDocument(ctx, documentID)
	if err != nil {
		return fmt.Errorf("loading document: %w", err)
	}
	if doc.StorageKey == "" {
		return fmt.Errorf("document %s has no stored content", documentID)
	}
	var payload bytes.Buffer
	if err := a.blobs.Get(ctx, doc.StorageKey, &payload); err != nil {
		return fmt.Errorf("reading document content: %w", err)
	}

	snap := crypto.BackupSnapshot{
		DocumentID: doc.ID,
		Metadata: map[string]string{
			"title":          doc.Title,
			"media_type":     doc.MediaType,
			"classification": doc.Classification.String(),
			"owner_id":       doc.OwnerID,
			"key_ref":        doc.EncryptionKeyRef,
		},
		Payload:   payload.Bytes(),
		CreatedAt: time.Now().UTC(),
	}
	return crypto.WriteBackup(w, snap, passphrase)
}

// RestoreBackup reads a backup archive and writes its payload back into the
// blob store under the document's content key. The document record must
// already exist.
func (a *App) RestoreBackup(ctx context.Context, r io.Reader, passphrase string) (*crypto.BackupSnapshot, error) {
	snap, err := crypto.ReadBackup(r, passphrase)
	if err != nil {
		return nil, err
	}
	doc, err := a.store.GetDocument(ctx, snap.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("loading document %s: %w", snap.DocumentID, err)
	}
	key := doc.StorageKey
	if key == "" {
		key = blob.ContentKey(doc.ID)
	}
	if err := a.blobs.Put(ctx, key, bytes.NewReader(snap.Payload), int64(len(snap.Payload))); err != nil {
		return nil, fmt.Errorf("restoring document content: %w", err)
	}
	if doc.StorageKey == "" {
		doc.StorageKey = key
		if err := a.store.UpdateDocument(ctx, doc); err != nil {
			return nil, fmt.Errorf("updating document: %w", err)
		}
	}
	return snap, nil
}

// Close releases every resource: the index retry queue, the store, and the
// log file.
func (a *App) Close() error {
	var firstErr error

	a.retry.Close()

	if err := a.store.Close(); err != nil {
		firstErr = fmt.Errorf("closing store: %w", err)
	}
	if a.logFile != nil {
		if err := a.logFile.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing log file: %w", err)
		}
	}
	return firstErr
}
