package crypto

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"filippo.io/age"
)

// BackupSnapshot is what a backup archive contains: the document payload
// (normally the already-encrypted blob), its metadata, and the checksums
// recorded at backup time. The whole snapshot is wrapped in one more layer
// of authenticated encryption before it leaves the system.
type BackupSnapshot struct {
	DocumentID string            `json:"document_id"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Payload    []byte            `json:"payload"`
	SHA256     string            `json:"sha256"`
	MD5        string            `json:"md5"`
	CreatedAt  time.Time         `json:"created_at"`
}

// WriteBackup serializes the snapshot, fills in its checksums, and writes an
// age passphrase-encrypted archive to w. The passphrase protection uses
// age's scrypt recipient, so archives are self-contained.
func WriteBackup(w io.Writer, snap BackupSnapshot, passphrase string) error {
	sums, err := CalculateChecksums(bytes.NewReader(snap.Payload))
	if err != nil {
		return fmt.Errorf("computing backup checksums: %w", err)
	}
	snap.SHA256 = sums.SHA256
	snap.MD5 = sums.MD5

	recipient, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return fmt.Errorf("creating scrypt recipient: %w", err)
	}

	encWriter, err := age.Encrypt(w, recipient)
	if err != nil {
		return fmt.Errorf("creating encrypted writer: %w", err)
	}

	if err := json.NewEncoder(encWriter).Encode(&snap); err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}

	if err := encWriter.Close(); err != nil {
		return fmt.Errorf("finalizing backup: %w", err)
	}
	return nil
}

// ReadBackup decrypts a backup archive and re-verifies the payload against
// the recorded checksums. A corrupted archive is never silently accepted:
// tampering fails age's authentication, and a checksum mismatch after
// decryption is ErrIntegrity.
func ReadBackup(r io.Reader, passphrase string) (*BackupSnapshot, error) {
	identity, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return nil, fmt.Errorf("creating scrypt identity: %w", err)
	}

	decReader, err := age.Decrypt(r, identity)
	if err != nil {
		return nil, fmt.Errorf("decrypting backup: %w", err)
	}

	var snap BackupSnapshot
	if err := json.NewDecoder(decReader).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}

	sums, err := CalculateChecksums(bytes.NewReader(snap.Payload))
	if err != nil {
		return nil, fmt.Errorf("verifying backup checksums: %w", err)
	}
	if sums.SHA256 != snap.SHA256 || sums.MD5 != snap.MD5 {
		return nil, fmt.Errorf("%w: restored payload does not match recorded checksums", ErrIntegrity)
	}

	return &snap, nil
}

