package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// SaltSize is the random salt length for password-derived keys.
	SaltSize = 16

	// KDFIterations is the PBKDF2 iteration count for password-derived keys.
	// Deliberately slow.
	KDFIterations = 120_000
)

// GenerateKey returns a fresh random 256-bit key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generating key: %w", err)
	}
	return key, nil
}

// DeriveKey derives a 256-bit key from a password. When salt is nil a fresh
// random salt is generated; the salt used is returned alongside the key so
// the caller can persist it.
func DeriveKey(password string, salt []byte) (key, usedSalt []byte, err error) {
	if password == "" {
		return nil, nil, errors.New("password is required")
	}
	if salt == nil {
		salt = make([]byte, SaltSize)
		if _, err := rand.Read(salt); err != nil {
			return nil, nil, fmt.Errorf("generating salt: %w", err)
		}
	}
	key = pbkdf2.Key([]byte(password), salt, KDFIterations, KeySize, sha256.New)
	return key, salt, nil
}

// MasterKey is the process-wide key under which per-document data keys are
// wrapped. It is constructed once at startup and passed explicitly to the
// services that need it.
type MasterKey struct {
	key []byte
}

var loadOnce sync.Mutex

// LoadOrGenerateMasterKey loads the master key from path, or generates and
// writes one with restrictive permissions if absent. Generation uses an
// exclusive create so two processes (or two goroutines racing on first use)
// can never both generate: the loser of the race reads the winner's key.
func LoadOrGenerateMasterKey(path string) (*MasterKey, error) {
	loadOnce.Lock()
	defer loadOnce.Unlock()

	if data, err := os.ReadFile(path); err == nil {
		return masterKeyFromFile(path, data)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading master key: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("creating key directory: %w", err)
	}

	key, err := GenerateKey()
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		if os.IsExist(err) {
			// Lost the race to another process; use its key.
			data, rerr := os.ReadFile(path)
			if rerr != nil {
				return nil, fmt.Errorf("reading master key after race: %w", rerr)
			}
			return masterKeyFromFile(path, data)
		}
		return nil, fmt.Errorf("creating master key file: %w", err)
	}

	encoded := base64.StdEncoding.EncodeToString(key)
	if _, err := f.Write([]byte(encoded + "\n")); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("writing master key: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("closing master key file: %w", err)
	}

	return &MasterKey{key: key}, nil
}

func masterKeyFromFile(path string, data []byte) (*MasterKey, error) {
	trimmed := string(data)
	for len(trimmed) > 0 && (trimmed[len(trimmed)-1] == '\n' || trimmed[len(trimmed)-1] == '\r') {
		trimmed = trimmed[:len(trimmed)-1]
	}
	key, err := base64.StdEncoding.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("decoding master key %s: %w", path, err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("master key %s has wrong length %d", path, len(key))
	}
	return &MasterKey{key: key}, nil
}

// NewMasterKeyForTest wraps raw key bytes. Tests only.
func NewMasterKeyForTest(key []byte) *MasterKey {
	return &MasterKey{key: key}
}

// WrapKey encrypts a data key under the master key and returns an opaque
// reference suitable for persistence. The reference carries no raw key
// material.
func (m *MasterKey) WrapKey(dataKey []byte) (string, error) {
	env, err := Encrypt(dataKey, m.key)
	if err != nil {
		return "", fmt.Errorf("wrapping data key: %w", err)
	}
	packed := make([]byte, 0, IVSize+len(env.Ciphertext)+TagSize)
	packed = append(packed, env.IV...)
	packed = append(packed, env.Ciphertext...)
	packed = append(packed, env.AuthTag...)
	return base64.RawURLEncoding.EncodeToString(packed), nil
}

// UnwrapKey reverses WrapKey. A tampered reference fails with
// ErrAuthenticationFailed.
func (m *MasterKey) UnwrapKey(keyRef string) ([]byte, error) {
	packed, err := base64.RawURLEncoding.DecodeString(keyRef)
	if err != nil {
		return nil, fmt.Errorf("decoding key reference: %w", err)
	}
	if len(packed) < IVSize+TagSize {
		return nil, fmt.Errorf("key reference too short")
	}
	env := Envelope{
		Key:        m.key,
		IV:         packed[:IVSize],
		Ciphertext: packed[IVSize : len(packed)-TagSize],
		AuthTag:    packed[len(packed)-TagSize:],
	}
	return Decrypt(env)
}

// Rewrap unwraps a key reference under this master key and wraps it again
// under next. Used during master key rotation.
func (m *MasterKey) Rewrap(keyRef string, next *MasterKey) (string, error) {
	dataKey, err := m.UnwrapKey(keyRef)
	if err != nil {
		return "", fmt.Errorf("unwrapping under old master key: %w", err)
	}
	return next.WrapKey(dataKey)
}
