package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"docvault/internal/audit"
	"docvault/internal/blob"
	"docvault/internal/crypto"
	"docvault/internal/dlp"
	"docvault/internal/extract"
	"docvault/internal/index"
	"docvault/internal/model"
	"docvault/internal/preview"
	"docvault/internal/scanner"
)

// jobRun carries the state of one document's trip through the stages.
type jobRun struct {
	p      *Pipeline
	doc    *model.Document
	job    *model.ProcessingJob
	upload Upload

	// text is the extracted document text, filled by classification (or
	// OCR for images) and consumed by indexing.
	text string
}

func (r *jobRun) execute(ctx context.Context) error {
	steps := []struct {
		stage model.Stage
		fn    func(context.Context) error
	}{
		{model.StageUpload, r.stageUpload},
		{model.StageVirusScan, r.stageVirusScan},
		{model.StageClassification, r.stageClassification},
		{model.StageEncryption, r.stageEncryption},
		{model.StageOCR, r.stageOCR},
		{model.StagePreview, r.stagePreview},
		{model.StageIndexing, r.stageIndexing},
	}

	for _, step := range steps {
		// Cancellation is cooperative: a stage in flight finishes (or
		// times out), then the job stops before the next one.
		if err := ctx.Err(); err != nil {
			return r.fail(fmt.Errorf("processing cancelled: %w", err))
		}
		if err := r.runStage(ctx, step.stage, step.fn); err != nil {
			return r.fail(err)
		}
	}

	r.job.Stage = model.StageComplete
	r.job.Status = model.JobCompleted
	r.job.Progress = stageProgress[model.StageComplete]
	r.touch(ctx)
	r.auditStage(model.StageComplete, nil)
	r.p.deps.Logger.Info("document processed",
		"document_id", r.doc.ID, "job_id", r.job.ID,
		"classification", r.doc.Classification.String())
	return nil
}

// runStage executes one stage with a deadline, retrying transient failures
// with exponential backoff up to the job's retry budget.
func (r *jobRun) runStage(ctx context.Context, stage model.Stage, fn func(context.Context) error) error {
	r.job.Stage = stage
	r.job.Status = model.JobInProgress
	r.touch(ctx)

	var err error
	for attempt := 0; ; attempt++ {
		stageCtx, cancel := context.WithTimeout(ctx, r.p.opts.StageTimeout)
		err = fn(stageCtx)
		cancel()

		if err == nil || ctx.Err() != nil {
			break
		}
		// A stage deadline is a transient condition as long as the job
		// itself was not cancelled.
		if errors.Is(err, context.DeadlineExceeded) {
			err = Transient(err)
		}
		if !IsTransient(err) || attempt >= r.job.MaxRetries {
			break
		}

		r.job.RetryCount++
		r.touch(ctx)
		delay := r.p.opts.RetryDelay << attempt
		r.p.deps.Logger.Warn("stage failed, retrying",
			"document_id", r.doc.ID, "stage", stage.String(),
			"attempt", attempt+1, "delay", delay.String(), "error", err)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
		}
	}

	r.auditStage(stage, err)
	if err != nil {
		return err
	}

	r.job.Progress = stageProgress[stage]
	r.touch(ctx)
	return nil
}

// fail moves the job to its terminal failed state.
func (r *jobRun) fail(err error) error {
	r.job.Stage = model.StageFailed
	r.job.Status = model.JobFailed
	r.job.LastError = err.Error()
	r.touch(context.Background())
	r.p.deps.Logger.Error("document processing failed",
		"document_id", r.doc.ID, "job_id", r.job.ID, "error", err)
	return err
}

// touch persists the job's current state. Persistence failures are logged
// but do not interrupt processing; the job state in memory stays canonical
// for this run.
func (r *jobRun) touch(ctx context.Context) {
	r.job.UpdatedAt = r.p.deps.Clock.Now()
	if err := r.p.deps.Store.UpdateJob(ctx, r.job); err != nil {
		r.p.deps.Logger.Error("failed to persist job state",
			"job_id", r.job.ID, "error", err)
	}
}

func (r *jobRun) auditStage(stage model.Stage, stageErr error) {
	event := audit.Event{
		Kind:           audit.KindPipelineStage,
		Timestamp:      r.p.deps.Clock.Now(),
		DocumentID:     r.doc.ID,
		Action:         stage.String(),
		Success:        stageErr == nil,
		Classification: r.doc.Classification,
		Context:        map[string]string{"job_id": r.job.ID},
	}
	if stageErr != nil {
		event.Reason = stageErr.Error()
	}
	r.p.deps.Audit.Record(event)
}

// stageUpload re-checks the staged file. Validation already ran before the
// job existed; this guards against the file vanishing in between.
func (r *jobRun) stageUpload(ctx context.Context) error {
	if _, err := os.Stat(r.upload.Path); err != nil {
		return fmt.Errorf("%w: staged file missing: %v", ErrInvalidInput, err)
	}
	return nil
}

func (r *jobRun) stageVirusScan(ctx context.Context) error {
	verdict, err := r.p.deps.Scanner.Scan(ctx, r.upload.Path)
	if err != nil {
		// Scanning fails closed: a broken scanner is retried, never
		// skipped.
		return Transientf("virus scan: %w", err)
	}

	r.job.Metadata.Scan = &model.ScanResult{
		Infected:      verdict.Infected,
		SignatureName: verdict.SignatureName,
		ScannedAt:     r.p.deps.Clock.Now(),
	}
	if verdict.Infected {
		return r.quarantine(ctx, verdict)
	}
	return nil
}

// quarantine moves an infected file out of the servable namespace and
// records the immutable quarantine log entry.
func (r *jobRun) quarantine(ctx context.Context, verdict scanner.Verdict) error {
	now := r.p.deps.Clock.Now()
	quarantineKey := blob.QuarantineKey(r.doc.ID)

	f, err := os.Open(r.upload.Path)
	if err != nil {
		return fmt.Errorf("opening infected file: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("checking infected file: %w", err)
	}
	if err := r.p.deps.Blobs.Put(ctx, quarantineKey, f, info.Size()); err != nil {
		return Transientf("storing quarantined content: %w", err)
	}

	r.doc.Quarantined = true
	r.doc.StorageKey = quarantineKey
	r.doc.UpdatedAt = now
	if err := r.p.deps.Store.UpdateDocument(ctx, r.doc); err != nil {
		return fmt.Errorf("marking document quarantined: %w", err)
	}

	entry := &model.QuarantineEntry{
		ID:            r.p.deps.IDs.New(),
		DocumentID:    r.doc.ID,
		OriginalPath:  r.upload.Path,
		QuarantineKey: quarantineKey,
		SignatureName: verdict.SignatureName,
		QuarantinedAt: now,
		RetainUntil:   now.Add(r.p.opts.QuarantineRetention),
	}
	if err := r.p.deps.Store.CreateQuarantineEntry(ctx, entry); err != nil {
		return fmt.Errorf("recording quarantine entry: %w", err)
	}

	r.p.deps.Audit.Record(audit.Event{
		Kind:       audit.KindQuarantine,
		Timestamp:  now,
		DocumentID: r.doc.ID,
		Action:     "quarantine",
		Success:    true,
		Reason:     verdict.SignatureName,
		Suspicious: true,
		Context:    map[string]string{"job_id": r.job.ID, "signature": verdict.SignatureName},
	})
	r.p.deps.Logger.Warn("document quarantined",
		"document_id", r.doc.ID, "signature", verdict.SignatureName)

	return fmt.Errorf("%w: %s", ErrSecurityBlocked, verdict.SignatureName)
}

func (r *jobRun) stageClassification(ctx context.Context) error {
	text, err := r.p.deps.Extractor.Extract(ctx, r.upload.Path, r.doc.MediaType)
	if err != nil {
		if errors.Is(err, extract.ErrUnsupportedType) {
			// Nothing to inspect; the requested classification stands.
			r.job.Metadata.DLP = &model.DLPResult{Recommended: r.doc.Classification}
			return nil
		}
		return Transientf("extracting text for inspection: %w", err)
	}
	r.text = text

	result := r.p.deps.Inspector.Inspect(text)
	r.job.Metadata.DLP = &result

	recommended := dlp.Recommend(r.doc.Classification, result)
	if recommended != r.doc.Classification {
		r.p.deps.Logger.Info("classification raised by content inspection",
			"document_id", r.doc.ID,
			"from", r.doc.Classification.String(), "to", recommended.String(),
			"findings", len(result.Findings))
		r.doc.Classification = recommended
		r.doc.UpdatedAt = r.p.deps.Clock.Now()
		if err := r.p.deps.Store.UpdateDocument(ctx, r.doc); err != nil {
			return fmt.Errorf("persisting raised classification: %w", err)
		}
	}
	return nil
}

func (r *jobRun) stageEncryption(ctx context.Context) error {
	// A retry after the content was already stored must not mint a second
	// key for the same bytes.
	if r.job.Metadata.Encryption != nil {
		return nil
	}

	data, err := os.ReadFile(r.upload.Path)
	if err != nil {
		return fmt.Errorf("reading upload for encryption: %w", err)
	}
	sums, err := crypto.CalculateChecksums(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("calculating checksums: %w", err)
	}

	env, err := crypto.Encrypt(data, nil)
	if err != nil {
		return fmt.Errorf("encrypting content: %w", err)
	}
	keyRef, err := r.p.deps.Master.WrapKey(env.Key)
	if err != nil {
		return fmt.Errorf("wrapping document key: %w", err)
	}

	stored := env.Marshal()
	contentKey := blob.ContentKey(r.doc.ID)
	if err := r.p.deps.Blobs.Put(ctx, contentKey, bytes.NewReader(stored), int64(len(stored))); err != nil {
		return Transientf("storing encrypted content: %w", err)
	}

	now := r.p.deps.Clock.Now()
	r.doc.StorageKey = contentKey
	r.doc.Checksum = sums.SHA256
	r.doc.EncryptionKeyRef = keyRef
	r.doc.UpdatedAt = now
	if err := r.p.deps.Store.UpdateDocument(ctx, r.doc); err != nil {
		return fmt.Errorf("persisting encryption metadata: %w", err)
	}

	r.job.Metadata.Encryption = &model.EncryptionResult{
		KeyRef:      keyRef,
		StorageKey:  contentKey,
		Checksum:    sums.SHA256,
		EncryptedAt: now,
	}
	return nil
}

func (r *jobRun) stageOCR(ctx context.Context) error {
	if r.p.deps.OCR == nil || !extract.SupportsOCR(r.doc.MediaType) {
		r.job.Metadata.OCR = &model.OCRResult{Skipped: true}
		return nil
	}

	text, words, err := r.p.deps.OCR.Recognize(ctx, r.upload.Path)
	if err != nil {
		// Recognition is enrichment; its failure degrades the document
		// rather than failing the job.
		r.job.Metadata.OCR = &model.OCRResult{Degraded: true, Error: err.Error()}
		r.p.deps.Logger.Warn("ocr failed, continuing degraded",
			"document_id", r.doc.ID, "error", err)
		return nil
	}

	r.job.Metadata.OCR = &model.OCRResult{Text: text, Words: words}
	if r.text == "" {
		r.text = text
	}
	return nil
}

func (r *jobRun) stagePreview(ctx context.Context) error {
	if r.p.deps.Renderer == nil || !preview.Supports(r.doc.MediaType) {
		r.job.Metadata.Preview = &model.PreviewResult{Skipped: true}
		return nil
	}

	outDir, err := os.MkdirTemp("", "docvault-preview-*")
	if err != nil {
		return fmt.Errorf("creating preview work dir: %w", err)
	}
	defer os.RemoveAll(outDir)

	artifacts, err := r.p.deps.Renderer.Render(ctx, r.upload.Path, r.doc.MediaType, outDir)
	if err != nil {
		r.job.Metadata.Preview = &model.PreviewResult{Degraded: true, Error: err.Error()}
		r.p.deps.Logger.Warn("preview rendering failed, continuing degraded",
			"document_id", r.doc.ID, "error", err)
		return nil
	}

	previewKey := blob.PreviewKey(r.doc.ID)
	thumbKey := blob.ThumbnailKey(r.doc.ID)
	if err := r.storeArtifact(ctx, artifacts.PreviewPath, previewKey); err == nil {
		err = r.storeArtifact(ctx, artifacts.ThumbnailPath, thumbKey)
	}
	if err != nil {
		r.job.Metadata.Preview = &model.PreviewResult{Degraded: true, Error: err.Error()}
		r.p.deps.Logger.Warn("storing preview artifacts failed, continuing degraded",
			"document_id", r.doc.ID, "error", err)
		return nil
	}

	r.job.Metadata.Preview = &model.PreviewResult{PreviewKey: previewKey, ThumbnailKey: thumbKey}
	return nil
}

func (r *jobRun) storeArtifact(ctx context.Context, path, key string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening artifact %s: %w", filepath.Base(path), err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("checking artifact: %w", err)
	}
	return r.p.deps.Blobs.Put(ctx, key, f, info.Size())
}

func (r *jobRun) stageIndexing(ctx context.Context) error {
	entry := index.Entry{
		DocumentID:     r.doc.ID,
		Title:          r.doc.Title,
		Text:           r.text,
		Classification: r.doc.Classification,
	}

	err := r.p.deps.Indexer.Index(ctx, entry)
	if err == nil {
		r.job.Metadata.Index = &model.IndexResult{Indexed: true}
		return nil
	}

	// Index failures never fail the job. The retry queue keeps working on
	// the entry after the job completes.
	if r.p.deps.Retry != nil {
		r.p.deps.Retry.Enqueue(entry)
		r.job.Metadata.Index = &model.IndexResult{Pending: true, Error: err.Error()}
		r.p.deps.Logger.Warn("index submit failed, queued for retry",
			"document_id", r.doc.ID, "error", err)
		return nil
	}

	r.job.Metadata.Index = &model.IndexResult{Error: err.Error()}
	r.p.deps.Logger.Warn("index submit failed, no retry queue configured",
		"document_id", r.doc.ID, "error", err)
	return nil
}
