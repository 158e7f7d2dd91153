package index

import (
	"context"
	"errors"
	"testing"
	"time"

	"docvault/internal/model"
)

func TestMemoryIndexer(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndexer()

	entry := Entry{
		DocumentID:     "doc-1",
		Title:          "Deposition transcript",
		Text:           "witness statement regarding the incident",
		Classification: model.Confidential,
		Tags:           []string{"deposition"},
	}
	if err := idx.Index(ctx, entry); err != nil {
		t.Fatalf("Index() error: %v", err)
	}

	t.Run("get", func(t *testing.T) {
		got, ok := idx.Get("doc-1")
		if !ok {
			t.Fatal("entry not stored")
		}
		if got.Title != entry.Title {
			t.Errorf("Title = %q, want %q", got.Title, entry.Title)
		}
	})

	t.Run("search text", func(t *testing.T) {
		ids := idx.Search("witness")
		if len(ids) != 1 || ids[0] != "doc-1" {
			t.Errorf("Search() = %v, want [doc-1]", ids)
		}
	})

	t.Run("search miss", func(t *testing.T) {
		if ids := idx.Search("absent"); len(ids) != 0 {
			t.Errorf("Search() = %v, want none", ids)
		}
	})
}

func TestRetryQueueRetriesUntilSuccess(t *testing.T) {
	idx := NewMemoryIndexer()
	idx.FailWith(errors.New("search cluster unavailable"))

	q := NewRetryQueue(idx, nil, 10*time.Millisecond, 100*time.Millisecond)
	defer q.Close()

	q.Enqueue(Entry{DocumentID: "doc-1", Text: "body"})

	// While the indexer fails, the entry stays pending.
	time.Sleep(50 * time.Millisecond)
	if q.PendingCount() != 1 {
		t.Fatalf("PendingCount() = %d while indexer failing, want 1", q.PendingCount())
	}

	// Heal the indexer and wait for the retry to land.
	idx.FailWith(nil)
	deadline := time.Now().Add(2 * time.Second)
	for q.PendingCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("entry never drained after indexer recovered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if _, ok := idx.Get("doc-1"); !ok {
		t.Error("entry missing from index after retry")
	}
}

func TestRetryQueueReplacesNewerEntry(t *testing.T) {
	idx := NewMemoryIndexer()
	idx.FailWith(errors.New("down"))

	q := NewRetryQueue(idx, nil, time.Hour, time.Hour)
	defer q.Close()

	q.Enqueue(Entry{DocumentID: "doc-1", Text: "old"})
	q.Enqueue(Entry{DocumentID: "doc-1", Text: "new"})

	if q.PendingCount() != 1 {
		t.Errorf("PendingCount() = %d, want 1 (replaced, not duplicated)", q.PendingCount())
	}
}

func TestRetryQueueCloseIsIdempotent(t *testing.T) {
	q := NewRetryQueue(NewMemoryIndexer(), nil, time.Hour, time.Hour)
	q.Close()
	q.Close()

	q.Enqueue(Entry{DocumentID: "doc-1"})
	if q.PendingCount() != 0 {
		t.Error("Enqueue() after Close() queued an entry")
	}
}
