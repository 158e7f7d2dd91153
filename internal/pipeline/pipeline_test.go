package pipeline

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"docvault/internal/audit"
	"docvault/internal/blob"
	"docvault/internal/crypto"
	"docvault/internal/extract"
	"docvault/internal/index"
	"docvault/internal/model"
	"docvault/internal/preview"
	"docvault/internal/scanner"
	"docvault/internal/store"
	"docvault/internal/testutil"
)

type testEnv struct {
	pipeline *Pipeline
	store    *store.Memory
	blobs    *blob.MemoryStore
	scanner  *scanner.StubScanner
	renderer *preview.StubRenderer
	indexer  *index.MemoryIndexer
	sink     *audit.MemorySink
	clock    *testutil.StubClock
	master   *crypto.MasterKey
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()

	key := bytes.Repeat([]byte{0x42}, crypto.KeySize)
	env := &testEnv{
		store:    store.NewMemory(),
		blobs:    blob.NewMemoryStore(),
		scanner:  scanner.NewStubScanner(),
		renderer: preview.NewStubRenderer(),
		indexer:  index.NewMemoryIndexer(),
		sink:     audit.NewMemorySink(),
		clock:    testutil.FixedClock(),
		master:   crypto.NewMasterKeyForTest(key),
	}

	if opts.RetryDelay == 0 {
		opts.RetryDelay = time.Millisecond
	}
	env.pipeline = New(Deps{
		Store:     env.store,
		Blobs:     env.blobs,
		Scanner:   env.scanner,
		Extractor: extract.NewService(nil, nil),
		Renderer:  env.renderer,
		Indexer:   env.indexer,
		Master:    env.master,
		Audit:     env.sink,
		Logger:    testutil.NewNopLogger(),
		Clock:     env.clock,
		IDs:       testutil.NewStubIDGenerator(),
	}, opts)
	return env
}

func writeUpload(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "upload.txt")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("writing upload file: %v", err)
	}
	return path
}

func textUpload(t *testing.T, content string) Upload {
	return Upload{
		Path:           writeUpload(t, content),
		Title:          "case file",
		MediaType:      "text/plain",
		OwnerID:        "user-1",
		Classification: model.Internal,
	}
}

func TestProcess_CleanDocument(t *testing.T) {
	env := newTestEnv(t, Options{})
	content := "meeting notes, nothing sensitive"

	doc, job, err := env.pipeline.Process(context.Background(), textUpload(t, content))
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	if job.Status != model.JobCompleted {
		t.Errorf("job status = %v, want completed", job.Status)
	}
	if job.Stage != model.StageComplete {
		t.Errorf("job stage = %v, want complete", job.Stage)
	}
	if job.Progress != 100 {
		t.Errorf("progress = %d, want 100", job.Progress)
	}
	if doc.Classification != model.Internal {
		t.Errorf("classification = %v, want internal (unchanged)", doc.Classification)
	}
	if doc.EncryptionKeyRef == "" || doc.StorageKey == "" || doc.Checksum == "" {
		t.Errorf("document missing encryption fields: %+v", doc)
	}
	if job.Metadata.Scan == nil || job.Metadata.Scan.Infected {
		t.Errorf("scan metadata = %+v, want clean verdict", job.Metadata.Scan)
	}
	if job.Metadata.Index == nil || !job.Metadata.Index.Indexed {
		t.Errorf("index metadata = %+v, want indexed", job.Metadata.Index)
	}

	// The stored blob must be ciphertext, not the plaintext.
	var stored bytes.Buffer
	if err := env.blobs.Get(context.Background(), doc.StorageKey, &stored); err != nil {
		t.Fatalf("fetching stored blob: %v", err)
	}
	if strings.Contains(stored.String(), content) {
		t.Error("stored blob contains plaintext")
	}

	// Round trip through retrieval.
	var out bytes.Buffer
	if err := env.pipeline.Retrieve(context.Background(), doc.ID, &out); err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if out.String() != content {
		t.Errorf("Retrieve() = %q, want %q", out.String(), content)
	}

	if _, ok := env.indexer.Get(doc.ID); !ok {
		t.Error("document not submitted to index")
	}
}

func TestProcess_SensitiveContentRaisesClassification(t *testing.T) {
	env := newTestEnv(t, Options{})
	upload := textUpload(t, "employee record, SSN 123-45-6789 on file")

	doc, job, err := env.pipeline.Process(context.Background(), upload)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	if doc.Classification != model.Secret {
		t.Errorf("classification = %v, want secret after critical finding", doc.Classification)
	}
	if job.Metadata.DLP == nil || !job.Metadata.DLP.HasFindings() {
		t.Fatalf("DLP metadata = %+v, want findings", job.Metadata.DLP)
	}
	if job.Metadata.DLP.Risk != model.SeverityCritical {
		t.Errorf("risk = %v, want critical", job.Metadata.DLP.Risk)
	}
	for _, finding := range job.Metadata.DLP.Findings {
		if strings.Contains(finding.Excerpt, "123-45-6789") {
			t.Errorf("finding excerpt %q leaks the matched value", finding.Excerpt)
		}
	}

	stored, err := env.store.GetDocument(context.Background(), doc.ID)
	if err != nil {
		t.Fatalf("GetDocument() error = %v", err)
	}
	if stored.Classification != model.Secret {
		t.Errorf("persisted classification = %v, want secret", stored.Classification)
	}
}

func TestProcess_NeverLowersClassification(t *testing.T) {
	env := newTestEnv(t, Options{})
	upload := textUpload(t, "contains an email someone@example.com only")
	upload.Classification = model.Secret

	doc, _, err := env.pipeline.Process(context.Background(), upload)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if doc.Classification != model.Secret {
		t.Errorf("classification = %v, want secret retained", doc.Classification)
	}
}

func TestProcess_InfectedDocumentQuarantined(t *testing.T) {
	env := newTestEnv(t, Options{})
	upload := textUpload(t, "X5O!P%@AP[4\\PZX54(P^)7CC)7}$EICAR-STANDARD-ANTIVIRUS-TEST-FILE!$H+H*")

	doc, job, err := env.pipeline.Process(context.Background(), upload)
	if !errors.Is(err, ErrSecurityBlocked) {
		t.Fatalf("Process() error = %v, want ErrSecurityBlocked", err)
	}

	if job.Status != model.JobFailed || job.Stage != model.StageFailed {
		t.Errorf("job = %v/%v, want failed/failed", job.Status, job.Stage)
	}
	if !doc.Quarantined {
		t.Error("document not marked quarantined")
	}

	// Content sits in the quarantine namespace, not the servable one.
	var buf bytes.Buffer
	if err := env.blobs.Get(context.Background(), blob.QuarantineKey(doc.ID), &buf); err != nil {
		t.Errorf("quarantined content missing: %v", err)
	}
	if err := env.blobs.Get(context.Background(), blob.ContentKey(doc.ID), &buf); !errors.Is(err, blob.ErrNotFound) {
		t.Errorf("servable content present for quarantined document: %v", err)
	}

	entries, err := env.store.ListQuarantineEntries(context.Background())
	if err != nil {
		t.Fatalf("ListQuarantineEntries() error = %v", err)
	}
	if len(entries) != 1 || entries[0].SignatureName != "EICAR-Test" {
		t.Fatalf("quarantine log = %+v, want one EICAR entry", entries)
	}
	// The infected bytes go from the staged file straight to quarantine;
	// the log records where they actually sat.
	if entries[0].OriginalPath != upload.Path {
		t.Errorf("original path = %q, want %q", entries[0].OriginalPath, upload.Path)
	}

	alerts := env.sink.Alerts()
	if len(alerts) == 0 {
		t.Fatal("no suspicious audit event for quarantine")
	}

	// Retrieval of a quarantined document is refused.
	if err := env.pipeline.Retrieve(context.Background(), doc.ID, &buf); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Retrieve() error = %v, want ErrUnavailable", err)
	}
}

// flakyScanner fails a fixed number of scans before recovering.
type flakyScanner struct {
	inner    scanner.Scanner
	failures int
}

func (f *flakyScanner) Scan(ctx context.Context, path string) (scanner.Verdict, error) {
	if f.failures > 0 {
		f.failures--
		return scanner.Verdict{}, errors.New("scanner daemon not responding")
	}
	return f.inner.Scan(ctx, path)
}

func TestProcess_TransientScanFailureRetried(t *testing.T) {
	env := newTestEnv(t, Options{MaxRetries: 3})
	env.pipeline.deps.Scanner = &flakyScanner{inner: env.scanner, failures: 2}

	_, job, err := env.pipeline.Process(context.Background(), textUpload(t, "fine content"))
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if job.Status != model.JobCompleted {
		t.Errorf("job status = %v, want completed", job.Status)
	}
	if job.RetryCount != 2 {
		t.Errorf("retry count = %d, want 2", job.RetryCount)
	}
}

func TestProcess_RetryBudgetExhausted(t *testing.T) {
	env := newTestEnv(t, Options{MaxRetries: 2})
	env.scanner.FailWith(errors.New("scanner daemon not responding"))

	_, job, err := env.pipeline.Process(context.Background(), textUpload(t, "content"))
	if err == nil {
		t.Fatal("Process() expected error after retry budget exhausted")
	}
	if job.Status != model.JobFailed {
		t.Errorf("job status = %v, want failed", job.Status)
	}
	if job.RetryCount != 2 {
		t.Errorf("retry count = %d, want 2", job.RetryCount)
	}
	if job.LastError == "" {
		t.Error("LastError not recorded")
	}
}

func TestProcess_IndexFailureHandedToRetryQueue(t *testing.T) {
	env := newTestEnv(t, Options{})
	queue := index.NewRetryQueue(env.indexer, testutil.NewNopLogger(), 5*time.Millisecond, 50*time.Millisecond)
	defer queue.Close()
	env.pipeline.deps.Retry = queue
	env.indexer.FailWith(errors.New("search cluster unavailable"))

	doc, job, err := env.pipeline.Process(context.Background(), textUpload(t, "indexable content"))
	if err != nil {
		t.Fatalf("Process() error = %v, index failures must not fail the job", err)
	}
	if job.Status != model.JobCompleted {
		t.Errorf("job status = %v, want completed", job.Status)
	}
	if job.Metadata.Index == nil || !job.Metadata.Index.Pending {
		t.Fatalf("index metadata = %+v, want pending", job.Metadata.Index)
	}

	// Heal the indexer; the queue finishes the submission on its own.
	env.indexer.FailWith(nil)
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := env.indexer.Get(doc.ID); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("retry queue never delivered the index entry")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestProcess_PreviewFailureDegrades(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.renderer.FailWith(errors.New("convert crashed"))

	upload := textUpload(t, "%PDF-1.4 fake content")
	upload.MediaType = "application/pdf"
	// PDF extraction is unsupported in this env (no converter), so DLP is
	// skipped; that is fine for this test.

	_, job, err := env.pipeline.Process(context.Background(), upload)
	if err != nil {
		t.Fatalf("Process() error = %v, preview failures must not fail the job", err)
	}
	if job.Metadata.Preview == nil || !job.Metadata.Preview.Degraded {
		t.Errorf("preview metadata = %+v, want degraded", job.Metadata.Preview)
	}
	if job.Status != model.JobCompleted {
		t.Errorf("job status = %v, want completed", job.Status)
	}
}

func TestProcess_InvalidUploads(t *testing.T) {
	env := newTestEnv(t, Options{})
	valid := textUpload(t, "content")

	tests := []struct {
		name   string
		modify func(u *Upload)
	}{
		{"missing title", func(u *Upload) { u.Title = "" }},
		{"missing media type", func(u *Upload) { u.MediaType = "" }},
		{"missing owner", func(u *Upload) { u.OwnerID = "" }},
		{"invalid classification", func(u *Upload) { u.Classification = model.Classification(99) }},
		{"missing file", func(u *Upload) { u.Path = "/nonexistent/file" }},
		{"empty file", func(u *Upload) { u.Path = writeUpload(t, "") }},
		{"disallowed media type", func(u *Upload) { u.MediaType = "application/x-msdownload" }},
		{"checksum mismatch", func(u *Upload) { u.SHA256 = strings.Repeat("0", 64) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			upload := valid
			tt.modify(&upload)
			_, _, err := env.pipeline.Process(context.Background(), upload)
			if !errors.Is(err, ErrInvalidInput) {
				t.Errorf("Process() error = %v, want ErrInvalidInput", err)
			}
		})
	}

	t.Run("unknown parent document", func(t *testing.T) {
		upload := textUpload(t, "content")
		upload.ParentDocumentID = "ghost"
		_, _, err := env.pipeline.Process(context.Background(), upload)
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("Process() error = %v, want ErrInvalidInput", err)
		}
	})

	t.Run("oversized upload", func(t *testing.T) {
		small := newTestEnv(t, Options{MaxUploadSize: 4})
		_, _, err := small.pipeline.Process(context.Background(), textUpload(t, "more than four bytes"))
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("Process() error = %v, want ErrInvalidInput", err)
		}
	})

	t.Run("matching caller checksum accepted", func(t *testing.T) {
		const content = "verified payload"
		upload := textUpload(t, content)
		upload.SHA256 = fmt.Sprintf("%x", sha256.Sum256([]byte(content)))
		_, job, err := env.pipeline.Process(context.Background(), upload)
		if err != nil {
			t.Fatalf("Process() error = %v", err)
		}
		if job.Status != model.JobCompleted {
			t.Errorf("job status = %s, want %s", job.Status, model.JobCompleted)
		}
	})
}

func TestProcess_VersionChain(t *testing.T) {
	env := newTestEnv(t, Options{})

	first, _, err := env.pipeline.Process(context.Background(), textUpload(t, "v1"))
	if err != nil {
		t.Fatalf("Process(v1) error = %v", err)
	}

	second := textUpload(t, "v2 revised")
	second.ParentDocumentID = first.ID
	doc2, _, err := env.pipeline.Process(context.Background(), second)
	if err != nil {
		t.Fatalf("Process(v2) error = %v", err)
	}
	if doc2.VersionNumber != 2 {
		t.Errorf("version = %d, want 2", doc2.VersionNumber)
	}

	third := textUpload(t, "v3 final")
	third.ParentDocumentID = first.ID
	doc3, _, err := env.pipeline.Process(context.Background(), third)
	if err != nil {
		t.Fatalf("Process(v3) error = %v", err)
	}
	if doc3.VersionNumber != 3 {
		t.Errorf("version = %d, want 3", doc3.VersionNumber)
	}
}

// gatedScanner blocks each scan until released, holding its job in flight.
type gatedScanner struct {
	inner   scanner.Scanner
	started chan struct{}
	release chan struct{}
}

func (g *gatedScanner) Scan(ctx context.Context, path string) (scanner.Verdict, error) {
	g.started <- struct{}{}
	<-g.release
	return g.inner.Scan(ctx, path)
}

func TestProcess_SecondSubmissionWhileInFlightRejected(t *testing.T) {
	env := newTestEnv(t, Options{})
	gate := &gatedScanner{inner: env.scanner, started: make(chan struct{}), release: make(chan struct{})}
	env.pipeline.deps.Scanner = gate

	first := textUpload(t, "first copy")
	first.DocumentID = "case-42"
	done := make(chan error, 1)
	go func() {
		_, _, err := env.pipeline.Process(context.Background(), first)
		done <- err
	}()
	// Wait until the first job is inside the scan stage.
	<-gate.started

	second := textUpload(t, "second copy")
	second.DocumentID = "case-42"
	if _, _, err := env.pipeline.Process(context.Background(), second); !errors.Is(err, store.ErrJobInFlight) {
		t.Errorf("Process() error = %v, want store.ErrJobInFlight", err)
	}

	close(gate.release)
	if err := <-done; err != nil {
		t.Fatalf("first Process() error = %v", err)
	}
}

func TestProcess_ReprocessesSameDocumentID(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	first := textUpload(t, "draft contents")
	first.DocumentID = "case-7"
	doc1, _, err := env.pipeline.Process(ctx, first)
	if err != nil {
		t.Fatalf("Process(first) error = %v", err)
	}
	if doc1.ID != "case-7" {
		t.Errorf("document ID = %q, want the caller-supplied case-7", doc1.ID)
	}

	second := textUpload(t, "final contents")
	second.DocumentID = "case-7"
	second.Title = "case file, final"
	doc2, job2, err := env.pipeline.Process(ctx, second)
	if err != nil {
		t.Fatalf("Process(second) error = %v", err)
	}
	if doc2.ID != doc1.ID {
		t.Errorf("resubmission minted a new document: %q", doc2.ID)
	}
	if job2.Status != model.JobCompleted {
		t.Errorf("job status = %v, want completed", job2.Status)
	}
	if doc2.Title != "case file, final" {
		t.Errorf("title = %q, not updated on resubmission", doc2.Title)
	}

	docs, err := env.store.ListDocuments(ctx)
	if err != nil {
		t.Fatalf("ListDocuments() error = %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("documents = %d, want 1", len(docs))
	}

	var out bytes.Buffer
	if err := env.pipeline.Retrieve(ctx, "case-7", &out); err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if out.String() != "final contents" {
		t.Errorf("Retrieve() = %q, want the resubmitted content", out.String())
	}
}

func TestProcess_Cancellation(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, job, err := env.pipeline.Process(ctx, textUpload(t, "content"))
	if err == nil {
		t.Fatal("Process() with cancelled context expected error")
	}
	if job == nil || job.Status != model.JobFailed {
		t.Errorf("job = %+v, want terminal failed state", job)
	}
}

func TestRetrieve_TamperedContentDetected(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	doc, _, err := env.pipeline.Process(ctx, textUpload(t, "authentic content"))
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	// Corrupt a ciphertext byte in place.
	var stored bytes.Buffer
	if err := env.blobs.Get(ctx, doc.StorageKey, &stored); err != nil {
		t.Fatalf("fetching blob: %v", err)
	}
	tampered := stored.Bytes()
	tampered[len(tampered)-1] ^= 0x01
	if err := env.blobs.Put(ctx, doc.StorageKey, bytes.NewReader(tampered), int64(len(tampered))); err != nil {
		t.Fatalf("storing tampered blob: %v", err)
	}

	var out bytes.Buffer
	err = env.pipeline.Retrieve(ctx, doc.ID, &out)
	if err == nil {
		t.Fatal("Retrieve() accepted tampered content")
	}
	if out.Len() != 0 {
		t.Error("Retrieve() wrote output despite integrity failure")
	}

	violations := env.sink.OfKind(audit.KindIntegrity)
	if len(violations) != 1 {
		t.Fatalf("integrity audit events = %d, want 1", len(violations))
	}
	if !violations[0].Suspicious {
		t.Error("integrity violation not flagged suspicious")
	}
}

func TestSweepQuarantine(t *testing.T) {
	env := newTestEnv(t, Options{QuarantineRetention: 30 * 24 * time.Hour})
	ctx := context.Background()

	upload := textUpload(t, "EICAR-STANDARD-ANTIVIRUS-TEST-FILE payload")
	doc, _, err := env.pipeline.Process(ctx, upload)
	if !errors.Is(err, ErrSecurityBlocked) {
		t.Fatalf("Process() error = %v, want ErrSecurityBlocked", err)
	}

	// Before retention expires, nothing is swept.
	swept, err := env.pipeline.SweepQuarantine(ctx)
	if err != nil {
		t.Fatalf("SweepQuarantine() error = %v", err)
	}
	if swept != 0 {
		t.Errorf("swept = %d before retention expiry, want 0", swept)
	}

	env.clock.Advance(31 * 24 * time.Hour)
	swept, err = env.pipeline.SweepQuarantine(ctx)
	if err != nil {
		t.Fatalf("SweepQuarantine() error = %v", err)
	}
	if swept != 1 {
		t.Fatalf("swept = %d, want 1", swept)
	}

	var buf bytes.Buffer
	if err := env.blobs.Get(ctx, blob.QuarantineKey(doc.ID), &buf); !errors.Is(err, blob.ErrNotFound) {
		t.Errorf("quarantined bytes still present after sweep: %v", err)
	}

	entries, err := env.store.ListQuarantineEntries(ctx)
	if err != nil {
		t.Fatalf("ListQuarantineEntries() error = %v", err)
	}
	if !entries[0].SecurelyDeleted {
		t.Error("entry not marked securely deleted")
	}

	// Sweeping again is a no-op.
	swept, err = env.pipeline.SweepQuarantine(ctx)
	if err != nil || swept != 0 {
		t.Errorf("second sweep = (%d, %v), want (0, nil)", swept, err)
	}
}

func TestRotateMasterKey(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	doc, _, err := env.pipeline.Process(ctx, textUpload(t, "long lived content"))
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	oldRef := doc.EncryptionKeyRef

	next := crypto.NewMasterKeyForTest(bytes.Repeat([]byte{0x77}, crypto.KeySize))
	if err := env.pipeline.RotateMasterKey(ctx, next); err != nil {
		t.Fatalf("RotateMasterKey() error = %v", err)
	}

	rotated, err := env.store.GetDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("GetDocument() error = %v", err)
	}
	if rotated.EncryptionKeyRef == oldRef {
		t.Error("key reference unchanged after rotation")
	}

	var out bytes.Buffer
	if err := env.pipeline.Retrieve(ctx, doc.ID, &out); err != nil {
		t.Fatalf("Retrieve() after rotation error = %v", err)
	}
	if out.String() != "long lived content" {
		t.Errorf("Retrieve() = %q, want original content", out.String())
	}
}

func TestProcess_UploadTempFileSecurelyDeleted(t *testing.T) {
	env := newTestEnv(t, Options{})
	upload := textUpload(t, "ephemeral plaintext")

	if _, _, err := env.pipeline.Process(context.Background(), upload); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if _, err := os.Stat(upload.Path); !os.IsNotExist(err) {
		t.Errorf("upload temp file still present: %v", err)
	}
}
