// Package index is the search-index boundary of the pipeline. Submissions
// are fire-and-forget with independent retry: index staleness is acceptable,
// losing an entry is not.
package index

import (
	"context"
	"strings"
	"sync"

	"docvault/internal/model"
)

// Entry is one document's search-index submission.
type Entry struct {
	DocumentID     string
	Title          string
	Text           string
	Classification model.Classification
	Tags           []string
}

// Indexer submits entries to the external search index.
type Indexer interface {
	Index(ctx context.Context, entry Entry) error
}

// MemoryIndexer is an in-process index for tests and stub deployments. It
// supports naive substring search over submitted text.
type MemoryIndexer struct {
	mu       sync.Mutex
	entries  map[string]Entry
	failWith error
}

var _ Indexer = (*MemoryIndexer)(nil)

func NewMemoryIndexer() *MemoryIndexer {
	return &MemoryIndexer{entries: make(map[string]Entry)}
}

// FailWith makes every subsequent Index return err; pass nil to heal.
func (m *MemoryIndexer) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWith = err
}

func (m *MemoryIndexer) Index(ctx context.Context, entry Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	m.entries[entry.DocumentID] = entry
	return nil
}

// Get returns the stored entry for a document, if any.
func (m *MemoryIndexer) Get(documentID string) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[documentID]
	return e, ok
}

// Search returns document IDs whose text or title contains the query.
func (m *MemoryIndexer) Search(query string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	query = strings.ToLower(query)
	var ids []string
	for id, e := range m.entries {
		if strings.Contains(strings.ToLower(e.Text), query) ||
			strings.Contains(strings.ToLower(e.Title), query) {
			ids = append(ids, id)
		}
	}
	return ids
}
