package crypto

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrIntegrity is returned when content does not match its expected checksum.
// Integrity failures are always hard failures: the content must not be served.
var ErrIntegrity = errors.New("integrity violation: checksum mismatch")

// Checksums holds the two digests tracked for every document.
type Checksums struct {
	SHA256 string
	MD5    string
}

// CalculateChecksums streams r once and returns its SHA-256 and MD5 digests
// in hex.
func CalculateChecksums(r io.Reader) (Checksums, error) {
	sh := sha256.New()
	mh := md5.New()
	if _, err := io.Copy(io.MultiWriter(sh, mh), r); err != nil {
		return Checksums{}, fmt.Errorf("reading content: %w", err)
	}
	return Checksums{
		SHA256: hex.EncodeToString(sh.Sum(nil)),
		MD5:    hex.EncodeToString(mh.Sum(nil)),
	}, nil
}

// CalculateFileChecksums computes checksums for a file on disk.
func CalculateFileChecksums(path string) (Checksums, error) {
	f, err := os.Open(path)
	if err != nil {
		return Checksums{}, fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()
	return CalculateChecksums(f)
}

// VerifyIntegrity checks content against an expected SHA-256. A mismatch is
// ErrIntegrity, never a silent pass. This is the gate between decryption and
// serving a download.
func VerifyIntegrity(r io.Reader, wantSHA256 string) error {
	sums, err := CalculateChecksums(r)
	if err != nil {
		return err
	}
	if sums.SHA256 != wantSHA256 {
		return fmt.Errorf("%w: got %s, want %s", ErrIntegrity, sums.SHA256, wantSHA256)
	}
	return nil
}

// VerifyBytes is VerifyIntegrity over an in-memory payload.
func VerifyBytes(data []byte, wantSHA256 string) error {
	sum := sha256.Sum256(data)
	if hex.EncodeToString(sum[:]) != wantSHA256 {
		return fmt.Errorf("%w: payload does not match expected sha256", ErrIntegrity)
	}
	return nil
}
