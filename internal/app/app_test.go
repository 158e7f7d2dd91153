package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"docvault/internal/config"
	"docvault/internal/model"
	"docvault/internal/pipeline"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	base := t.TempDir()
	cfg := config.NewConfig(base)
	cfg.Store.Type = "memory"
	cfg.BlobStore.Type = "memory"
	cfg.Scanner = config.ScannerConfig{Type: "stub"}
	return cfg
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "upload.txt")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("writing upload file: %v", err)
	}
	return path
}

func internalUser() model.AccessContext {
	return model.AccessContext{
		User: model.User{
			ID:        "user-1",
			Roles:     []string{"employee"},
			Clearance: model.Internal,
		},
		Timestamp: time.Now().UTC(),
	}
}

func TestApp_ProcessAndRetrieve(t *testing.T) {
	ctx := context.Background()

	a, err := NewApp(ctx, testConfig(t), "test")
	if err != nil {
		t.Fatalf("NewApp() error = %v", err)
	}
	defer a.Close()

	const content = "quarterly filing draft"
	doc, job, err := a.Process(ctx, pipeline.Upload{
		Path:           writeTempFile(t, content),
		Title:          "Filing",
		MediaType:      "text/plain",
		OwnerID:        "user-1",
		Classification: model.Internal,
	})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if job.Status != model.JobCompleted {
		t.Fatalf("job status = %s, want %s", job.Status, model.JobCompleted)
	}

	var out bytes.Buffer
	if err := a.Retrieve(ctx, doc.ID, internalUser(), &out); err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if out.String() != content {
		t.Errorf("retrieved content = %q, want %q", out.String(), content)
	}

	if ids := a.Search("quarterly"); len(ids) != 1 || ids[0] != doc.ID {
		t.Errorf("Search() = %v, want [%s]", ids, doc.ID)
	}
}

func TestApp_RetrieveDeniedWithoutClearance(t *testing.T) {
	ctx := context.Background()

	a, err := NewApp(ctx, testConfig(t), "test")
	if err != nil {
		t.Fatalf("NewApp() error = %v", err)
	}
	defer a.Close()

	doc, _, err := a.Process(ctx, pipeline.Upload{
		Path:           writeTempFile(t, "restricted notes"),
		Title:          "Notes",
		MediaType:      "text/plain",
		OwnerID:        "user-2",
		Classification: model.Internal,
	})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	actx := internalUser()
	actx.User.Clearance = model.Public

	var out bytes.Buffer
	if err := a.Retrieve(ctx, doc.ID, actx, &out); err == nil {
		t.Fatal("Retrieve() succeeded for a user without clearance")
	}
	if out.Len() != 0 {
		t.Errorf("content written despite denial: %q", out.String())
	}
}

func TestApp_BackupRestoreRoundTrip(t *testing.T) {
	ctx := context.Background()

	a, err := NewApp(ctx, testConfig(t), "test")
	if err != nil {
		t.Fatalf("NewApp() error = %v", err)
	}
	defer a.Close()

	const content = "contract addendum"
	doc, _, err := a.Process(ctx, pipeline.Upload{
		Path:           writeTempFile(t, content),
		Title:          "Addendum",
		MediaType:      "text/plain",
		OwnerID:        "user-1",
		Classification: model.Internal,
	})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	var archive bytes.Buffer
	if err := a.Backup(ctx, doc.ID, &archive, "hunter2"); err != nil {
		t.Fatalf("Backup() error = %v", err)
	}

	snap, err := a.RestoreBackup(ctx, bytes.NewReader(archive.Bytes()), "hunter2")
	if err != nil {
		t.Fatalf("RestoreBackup() error = %v", err)
	}
	if snap.DocumentID != doc.ID {
		t.Errorf("snapshot document = %s, want %s", snap.DocumentID, doc.ID)
	}

	// Restored bytes are the encrypted blob; retrieval must still work.
	var out bytes.Buffer
	if err := a.Retrieve(ctx, doc.ID, internalUser(), &out); err != nil {
		t.Fatalf("Retrieve() after restore error = %v", err)
	}
	if out.String() != content {
		t.Errorf("retrieved content = %q, want %q", out.String(), content)
	}

	if _, err := a.RestoreBackup(ctx, bytes.NewReader(archive.Bytes()), "wrong"); err == nil {
		t.Error("RestoreBackup() accepted a wrong passphrase")
	}
}

func TestApp_RotateMasterKey(t *testing.T) {
	ctx := context.Background()

	a, err := NewApp(ctx, testConfig(t), "test")
	if err != nil {
		t.Fatalf("NewApp() error = %v", err)
	}
	defer a.Close()

	const content = "deposition transcript"
	doc, _, err := a.Process(ctx, pipeline.Upload{
		Path:           writeTempFile(t, content),
		Title:          "Transcript",
		MediaType:      "text/plain",
		OwnerID:        "user-1",
		Classification: model.Internal,
	})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	before, err := a.GetDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("GetDocument() error = %v", err)
	}

	if err := a.RotateMasterKey(ctx); err != nil {
		t.Fatalf("RotateMasterKey() error = %v", err)
	}

	after, err := a.GetDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("GetDocument() error = %v", err)
	}
	if after.EncryptionKeyRef == before.EncryptionKeyRef {
		t.Error("key reference unchanged after rotation")
	}

	var out bytes.Buffer
	if err := a.Retrieve(ctx, doc.ID, internalUser(), &out); err != nil {
		t.Fatalf("Retrieve() after rotation error = %v", err)
	}
	if out.String() != content {
		t.Errorf("retrieved content = %q, want %q", out.String(), content)
	}
}
