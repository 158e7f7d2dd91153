// Package crypto implements the encryption service for document content:
// authenticated symmetric encryption, key wrapping under a process master
// key, integrity checksums, secure deletion, and passphrase-protected
// backup archives.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
)

const (
	// KeySize is the AES-256 key length in bytes.
	KeySize = 32

	// IVSize is the GCM nonce length in bytes.
	IVSize = 16

	// TagSize is the GCM authentication tag length in bytes.
	TagSize = 16
)

// aadContext is the fixed associated-data string bound into every document
// encryption. Tampering with it (or with any ciphertext byte) fails
// authentication on decrypt.
var aadContext = []byte("docvault.document.v1")

// ErrAuthenticationFailed is returned when a ciphertext or its tag fails
// verification. It is the sole tamper-detection boundary for stored data.
var ErrAuthenticationFailed = errors.New("authentication failed: ciphertext or tag verification failed")

// Envelope is the output of one encryption operation. Key is returned so the
// caller can wrap and persist a reference; it must never be logged or stored
// raw.
type Envelope struct {
	Ciphertext []byte
	Key        []byte
	IV         []byte
	AuthTag    []byte
}

// Encrypt encrypts plaintext with AES-256-GCM. If key is nil a fresh random
// key is generated. The returned envelope keeps the tag split from the
// ciphertext so the two can be persisted independently.
func Encrypt(plaintext, key []byte) (Envelope, error) {
	if key == nil {
		k, err := GenerateKey()
		if err != nil {
			return Envelope{}, err
		}
		key = k
	}
	if len(key) != KeySize {
		return Envelope{}, fmt.Errorf("key must be %d bytes, got %d", KeySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return Envelope{}, fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, IVSize)
	if err != nil {
		return Envelope{}, fmt.Errorf("creating GCM: %w", err)
	}

	iv := make([]byte, IVSize)
	if _, err := rand.Read(iv); err != nil {
		return Envelope{}, fmt.Errorf("generating IV: %w", err)
	}

	sealed := gcm.Seal(nil, iv, plaintext, aadContext)
	split := len(sealed) - TagSize

	return Envelope{
		Ciphertext: sealed[:split],
		Key:        key,
		IV:         iv,
		AuthTag:    sealed[split:],
	}, nil
}

// Decrypt reverses Encrypt. Any modification to the ciphertext, IV, or tag
// yields ErrAuthenticationFailed; corrupted plaintext is never returned.
func Decrypt(env Envelope) ([]byte, error) {
	if len(env.Key) != KeySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d", KeySize, len(env.Key))
	}
	if len(env.IV) != IVSize {
		return nil, fmt.Errorf("IV must be %d bytes, got %d", IVSize, len(env.IV))
	}
	if len(env.AuthTag) != TagSize {
		return nil, fmt.Errorf("auth tag must be %d bytes, got %d", TagSize, len(env.AuthTag))
	}

	block, err := aes.NewCipher(env.Key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, IVSize)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}

	sealed := make([]byte, 0, len(env.Ciphertext)+TagSize)
	sealed = append(sealed, env.Ciphertext...)
	sealed = append(sealed, env.AuthTag...)

	plaintext, err := gcm.Open(nil, env.IV, sealed, aadContext)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}
	return plaintext, nil
}

// Marshal serializes the envelope for blob storage as IV || tag || ciphertext.
// The key is deliberately excluded; it travels separately, wrapped.
func (e Envelope) Marshal() []byte {
	out := make([]byte, 0, IVSize+TagSize+len(e.Ciphertext))
	out = append(out, e.IV...)
	out = append(out, e.AuthTag...)
	out = append(out, e.Ciphertext...)
	return out
}

// ParseEnvelope reverses Marshal. The caller supplies the unwrapped key.
func ParseEnvelope(data, key []byte) (Envelope, error) {
	if len(data) < IVSize+TagSize {
		return Envelope{}, fmt.Errorf("stored envelope too short: %d bytes", len(data))
	}
	return Envelope{
		IV:         data[:IVSize],
		AuthTag:    data[IVSize : IVSize+TagSize],
		Ciphertext: data[IVSize+TagSize:],
		Key:        key,
	}, nil
}
