package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"docvault/internal/model"
)

// Memory is an in-memory Store used by tests and stub deployments.
type Memory struct {
	mu          sync.Mutex
	documents   map[string]model.Document
	jobs        map[string]model.ProcessingJob
	permissions map[string]model.DocumentPermission
	quarantine  map[string]model.QuarantineEntry
	accesses    []accessRow
}

type accessRow struct {
	documentID string
	userID     string
	action     string
	at         time.Time
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		documents:   make(map[string]model.Document),
		jobs:        make(map[string]model.ProcessingJob),
		permissions: make(map[string]model.DocumentPermission),
		quarantine:  make(map[string]model.QuarantineEntry),
	}
}

func (m *Memory) CreateDocument(ctx context.Context, doc *model.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.documents[doc.ID] = *doc
	return nil
}

func (m *Memory) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.documents[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := doc
	return &out, nil
}

func (m *Memory) UpdateDocument(ctx context.Context, doc *model.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.documents[doc.ID]; !ok {
		return ErrNotFound
	}
	m.documents[doc.ID] = *doc
	return nil
}

func (m *Memory) ListDocuments(ctx context.Context) ([]*model.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.Document, 0, len(m.documents))
	for _, doc := range m.documents {
		copied := doc
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) LatestVersionNumber(ctx context.Context, id string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	max := 0
	for _, doc := range m.documents {
		if doc.ID == id || doc.ParentDocumentID == id {
			if doc.VersionNumber > max {
				max = doc.VersionNumber
			}
		}
	}
	return max, nil
}

func (m *Memory) CreateJob(ctx context.Context, job *model.ProcessingJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.jobs {
		if existing.DocumentID == job.DocumentID && !existing.Terminal() {
			return ErrJobInFlight
		}
	}
	m.jobs[job.ID] = *job
	return nil
}

func (m *Memory) UpdateJob(ctx context.Context, job *model.ProcessingJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; !ok {
		return ErrNotFound
	}
	m.jobs[job.ID] = *job
	return nil
}

func (m *Memory) GetJob(ctx context.Context, id string) (*model.ProcessingJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := job
	return &out, nil
}

func (m *Memory) ActiveJobForDocument(ctx context.Context, documentID string) (*model.ProcessingJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, job := range m.jobs {
		if job.DocumentID == documentID && !job.Terminal() {
			out := job
			return &out, nil
		}
	}
	return nil, nil
}

func permissionKey(documentID, userID, role string) string {
	return documentID + "\x00" + userID + "\x00" + role
}

func (m *Memory) PermissionsForDocument(ctx context.Context, documentID string) ([]model.DocumentPermission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.DocumentPermission
	for _, p := range m.permissions {
		if p.DocumentID == documentID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *Memory) UpsertPermission(ctx context.Context, perm model.DocumentPermission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.permissions[permissionKey(perm.DocumentID, perm.UserID, perm.Role)] = perm
	return nil
}

func (m *Memory) DeletePermission(ctx context.Context, documentID, userID, role string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.permissions, permissionKey(documentID, userID, role))
	return nil
}

func (m *Memory) HasRecentAccess(ctx context.Context, documentID, userID string, since time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.accesses {
		if row.documentID == documentID && row.userID == userID && !row.at.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) RecordAccess(ctx context.Context, documentID, userID, action string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accesses = append(m.accesses, accessRow{documentID: documentID, userID: userID, action: action, at: at})
	return nil
}

func (m *Memory) CreateQuarantineEntry(ctx context.Context, entry *model.QuarantineEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quarantine[entry.ID] = *entry
	return nil
}

func (m *Memory) ListQuarantineEntries(ctx context.Context) ([]*model.QuarantineEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.QuarantineEntry, 0, len(m.quarantine))
	for _, e := range m.quarantine {
		copied := e
		out = append(out, &copied)
	}
	return out, nil
}

func (m *Memory) MarkQuarantineSecurelyDeleted(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.quarantine[id]
	if !ok {
		return ErrNotFound
	}
	entry.SecurelyDeleted = true
	entry.SecurelyDeletedAt = &at
	m.quarantine[id] = entry
	return nil
}

func (m *Memory) Close() error { return nil }
