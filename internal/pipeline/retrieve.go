package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"docvault/internal/audit"
	"docvault/internal/crypto"
	"docvault/internal/model"
)

// Retrieve decrypts a document's content and streams the verified plaintext
// to w. Quarantined or still-processing documents are not served. Any
// integrity failure is audited and nothing is written.
func (p *Pipeline) Retrieve(ctx context.Context, documentID string, w io.Writer) error {
	doc, err := p.deps.Store.GetDocument(ctx, documentID)
	if err != nil {
		return fmt.Errorf("looking up document: %w", err)
	}
	if doc.Quarantined {
		return fmt.Errorf("%w: document is quarantined", ErrUnavailable)
	}
	if doc.StorageKey == "" || doc.EncryptionKeyRef == "" {
		return fmt.Errorf("%w: document has no stored content", ErrUnavailable)
	}

	var stored bytes.Buffer
	if err := p.deps.Blobs.Get(ctx, doc.StorageKey, &stored); err != nil {
		return fmt.Errorf("fetching content: %w", err)
	}

	key, err := p.deps.Master.UnwrapKey(doc.EncryptionKeyRef)
	if err != nil {
		return fmt.Errorf("unwrapping document key: %w", err)
	}
	env, err := crypto.ParseEnvelope(stored.Bytes(), key)
	if err != nil {
		return p.integrityViolation(doc, fmt.Errorf("malformed stored envelope: %w", err))
	}

	plaintext, err := crypto.Decrypt(env)
	if err != nil {
		if errors.Is(err, crypto.ErrAuthenticationFailed) {
			return p.integrityViolation(doc, err)
		}
		return fmt.Errorf("decrypting content: %w", err)
	}
	if err := crypto.VerifyBytes(plaintext, doc.Checksum); err != nil {
		return p.integrityViolation(doc, err)
	}

	if _, err := w.Write(plaintext); err != nil {
		return fmt.Errorf("writing content: %w", err)
	}
	return nil
}

func (p *Pipeline) integrityViolation(doc *model.Document, cause error) error {
	p.deps.Audit.Record(audit.Event{
		Kind:           audit.KindIntegrity,
		Timestamp:      p.deps.Clock.Now(),
		DocumentID:     doc.ID,
		Action:         "retrieve",
		Success:        false,
		Reason:         cause.Error(),
		Classification: doc.Classification,
		Suspicious:     true,
	})
	p.deps.Logger.Error("stored content failed integrity verification",
		"document_id", doc.ID, "error", cause)
	return fmt.Errorf("content integrity check failed for %s: %w", doc.ID, cause)
}

// SweepQuarantine securely deletes quarantined content whose retention
// period has passed. The log entries themselves are immutable and survive;
// only the bytes are destroyed. Returns the number of entries swept.
func (p *Pipeline) SweepQuarantine(ctx context.Context) (int, error) {
	entries, err := p.deps.Store.ListQuarantineEntries(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing quarantine entries: %w", err)
	}

	now := p.deps.Clock.Now()
	swept := 0
	for _, entry := range entries {
		if entry.SecurelyDeleted || now.Before(entry.RetainUntil) {
			continue
		}

		if err := p.deps.Blobs.SecureDelete(ctx, entry.QuarantineKey); err != nil {
			p.deps.Logger.Error("failed to securely delete quarantined content",
				"document_id", entry.DocumentID, "key", entry.QuarantineKey, "error", err)
			continue
		}
		if err := p.deps.Store.MarkQuarantineSecurelyDeleted(ctx, entry.ID, now); err != nil {
			return swept, fmt.Errorf("marking quarantine entry deleted: %w", err)
		}

		p.deps.Audit.Record(audit.Event{
			Kind:       audit.KindQuarantine,
			Timestamp:  now,
			DocumentID: entry.DocumentID,
			Action:     "secure_delete",
			Success:    true,
			Reason:     "retention period expired",
		})
		swept++
	}

	if swept > 0 {
		p.deps.Logger.Info("quarantine sweep finished", "swept", swept)
	}
	return swept, nil
}

// RotateMasterKey rewraps every document key under next and switches the
// pipeline to it. Content is never re-encrypted; only the wrapped key
// references change.
func (p *Pipeline) RotateMasterKey(ctx context.Context, next *crypto.MasterKey) error {
	docs, err := p.deps.Store.ListDocuments(ctx)
	if err != nil {
		return fmt.Errorf("listing documents: %w", err)
	}

	rotated := 0
	for _, doc := range docs {
		if doc.EncryptionKeyRef == "" {
			continue
		}
		ref, err := p.deps.Master.Rewrap(doc.EncryptionKeyRef, next)
		if err != nil {
			return fmt.Errorf("rewrapping key for document %s: %w", doc.ID, err)
		}
		doc.EncryptionKeyRef = ref
		doc.UpdatedAt = p.deps.Clock.Now()
		if err := p.deps.Store.UpdateDocument(ctx, doc); err != nil {
			return fmt.Errorf("persisting rotated key for document %s: %w", doc.ID, err)
		}
		rotated++
	}

	p.deps.Master = next
	p.deps.Logger.Info("master key rotated", "documents", rotated)
	return nil
}
